// Package registry issues the stable voter keys the ledger is keyed by. A
// human-readable voter ID (as printed on the voter card) is mapped once to an
// opaque uuid; the mapping is persisted as JSON.
package registry

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	ledgererrors "voter-ledger/errors"
)

// EPICPattern matches the standard voter card number format
const EPICPattern = `^[A-Z]{3}[0-9]{7}$`

// Entry binds a voter ID to its ledger key
type Entry struct {
	VoterID    string    `json:"voter_id"`
	VoterKey   string    `json:"voter_uuid"`
	AssignedAt time.Time `json:"assigned_at"`
}

type DirectoryConfig struct {
	FilePath  string `json:"file_path"` // empty keeps the directory in memory
	AutoSave  bool   `json:"auto_save"`
	IDPattern string `json:"id_pattern"` // optional voter ID format
}

// Directory maps voter IDs to voter keys
type Directory struct {
	entries map[string]*Entry
	mu      sync.RWMutex
	config  DirectoryConfig
	pattern *regexp.Regexp
	newKey  func() string
	now     func() time.Time
}

// NewDirectory creates a directory, loading existing entries from the file
func NewDirectory(config DirectoryConfig) (*Directory, error) {
	d := &Directory{
		entries: make(map[string]*Entry),
		config:  config,
		newKey:  uuid.NewString,
		now:     func() time.Time { return time.Now().UTC() },
	}

	if config.IDPattern != "" {
		pattern, err := regexp.Compile(config.IDPattern)
		if err != nil {
			return nil, fmt.Errorf("invalid voter ID pattern: %v", err)
		}
		d.pattern = pattern
	}

	if config.FilePath == "" {
		return d, nil
	}

	// Create directory if it doesn't exist
	if err := os.MkdirAll(filepath.Dir(config.FilePath), 0o750); err != nil {
		return nil, fmt.Errorf("failed to create directory: %v", err)
	}
	if err := d.load(); err != nil {
		return nil, err
	}
	return d, nil
}

type directoryFile struct {
	Voters []*Entry `json:"voters"`
}

func (d *Directory) load() error {
	data, err := os.ReadFile(d.config.FilePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read voters file: %v", err)
	}

	var file directoryFile
	if err := json.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("failed to unmarshal voter data: %v", err)
	}

	for _, entry := range file.Voters {
		if entry.VoterID == "" || entry.VoterKey == "" {
			return fmt.Errorf("invalid voter entry %+v: voter ID and key are required", *entry)
		}
		d.entries[entry.VoterID] = entry
	}
	return nil
}

// Resolve returns the key of voterID, assigning a new one on first sight.
// created reports whether the key was just issued.
func (d *Directory) Resolve(voterID string) (key string, created bool, err error) {
	if err := d.validate(voterID); err != nil {
		return "", false, err
	}

	if key, ok := d.Lookup(voterID); ok {
		return key, false, nil
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	// another caller may have assigned it between the locks
	if entry, ok := d.entries[voterID]; ok {
		return entry.VoterKey, false, nil
	}

	entry := &Entry{VoterID: voterID, VoterKey: d.newKey(), AssignedAt: d.now()}
	d.entries[voterID] = entry

	if d.config.AutoSave && d.config.FilePath != "" {
		if err := d.saveLocked(); err != nil {
			delete(d.entries, voterID)
			return "", false, err
		}
	}
	return entry.VoterKey, true, nil
}

// Lookup returns the key of voterID without assigning one
func (d *Directory) Lookup(voterID string) (string, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	entry, ok := d.entries[voterID]
	if !ok {
		return "", false
	}
	return entry.VoterKey, true
}

// Entries returns a copy of every entry ordered by voter ID
func (d *Directory) Entries() []Entry {
	d.mu.RLock()
	defer d.mu.RUnlock()

	out := make([]Entry, 0, len(d.entries))
	for _, e := range d.entries {
		out = append(out, *e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].VoterID < out[j].VoterID })
	return out
}

// Save writes the directory to its file
func (d *Directory) Save() error {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.saveLocked()
}

func (d *Directory) saveLocked() error {
	if d.config.FilePath == "" {
		return nil
	}

	file := directoryFile{Voters: make([]*Entry, 0, len(d.entries))}
	for _, e := range d.entries {
		file.Voters = append(file.Voters, e)
	}
	sort.Slice(file.Voters, func(i, j int) bool { return file.Voters[i].VoterID < file.Voters[j].VoterID })

	data, err := json.MarshalIndent(file, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal voter data: %v", err)
	}

	tempPath := d.config.FilePath + ".tmp"
	if err := os.WriteFile(tempPath, data, 0o600); err != nil {
		return fmt.Errorf("failed to write voters file: %v", err)
	}
	if err := os.Rename(tempPath, d.config.FilePath); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("failed to save voters file: %v", err)
	}
	return nil
}

func (d *Directory) validate(voterID string) error {
	if voterID == "" {
		return ledgererrors.New(ledgererrors.KindInvalidArgument, "voter ID is required")
	}
	if d.pattern != nil && !d.pattern.MatchString(voterID) {
		return ledgererrors.Newf(ledgererrors.KindInvalidArgument, "voter ID %q does not match %s", voterID, d.pattern).
			WithContext("voter_id", voterID)
	}
	return nil
}
