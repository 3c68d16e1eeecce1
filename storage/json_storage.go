package storage

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/pkg/errors"
)

// JSONStore is a KVStore persisted as a single JSON document. Every Write
// rewrites the file through a temp file and rename; if persisting fails the
// in-memory state is rolled back so the write is not visible.
type JSONStore struct {
	path string
	mu   sync.RWMutex
	data map[string][]byte
}

var _ KVStore = (*JSONStore)(nil)

type jsonDocument struct {
	Entries map[string][]byte `json:"entries"`
}

func NewJSONStore(basePath, fileName string) (*JSONStore, error) {
	// Create storage directory if it doesn't exist
	if err := os.MkdirAll(basePath, 0o750); err != nil {
		return nil, errors.Wrap(err, "failed to create directory")
	}

	store := &JSONStore{
		path: filepath.Join(basePath, fileName),
		data: make(map[string][]byte),
	}

	if err := store.load(); err != nil {
		return nil, err
	}
	return store, nil
}

func (s *JSONStore) load() error {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return errors.Wrapf(err, "failed to read %s", s.path)
	}

	var doc jsonDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return errors.Wrap(err, "failed to unmarshal store")
	}
	if doc.Entries != nil {
		s.data = doc.Entries
	}
	return nil
}

func (s *JSONStore) Get(key []byte) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	value, ok := s.data[string(key)]
	if !ok {
		return nil, nil
	}
	return cp(value), nil
}

func (s *JSONStore) Iterate(start, end []byte, fn func(key, value []byte) bool) error {
	s.mu.RLock()
	keys := make([]string, 0, len(s.data))
	for k := range s.data {
		kb := []byte(k)
		if start != nil && bytes.Compare(kb, start) < 0 {
			continue
		}
		if end != nil && bytes.Compare(kb, end) >= 0 {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)
	values := make([][]byte, len(keys))
	for i, k := range keys {
		values[i] = cp(s.data[k])
	}
	s.mu.RUnlock()

	for i, k := range keys {
		if !fn([]byte(k), values[i]) {
			break
		}
	}
	return nil
}

func (s *JSONStore) Write(writes []KV) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	type previous struct {
		value  []byte
		exists bool
	}
	undo := make(map[string]previous, len(writes))
	for _, w := range writes {
		k := string(w.Key)
		if _, seen := undo[k]; !seen {
			old, ok := s.data[k]
			undo[k] = previous{value: old, exists: ok}
		}
		s.data[k] = cp(w.Value)
	}

	if err := s.persist(); err != nil {
		for k, p := range undo {
			if p.exists {
				s.data[k] = p.value
			} else {
				delete(s.data, k)
			}
		}
		return err
	}
	return nil
}

func (s *JSONStore) persist() error {
	data, err := json.MarshalIndent(jsonDocument{Entries: s.data}, "", "  ")
	if err != nil {
		return errors.Wrap(err, "failed to marshal store")
	}

	// Write to temporary file first
	tempPath := s.path + ".tmp"
	if err := os.WriteFile(tempPath, data, 0o600); err != nil {
		return errors.Wrap(err, "failed to write store file")
	}

	// Atomic rename to ensure consistency
	if err := os.Rename(tempPath, s.path); err != nil {
		os.Remove(tempPath)
		return errors.Wrap(err, "failed to save store file")
	}
	return nil
}

func (s *JSONStore) Close() error {
	return nil
}
