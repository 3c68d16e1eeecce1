package storage

import (
	dbm "github.com/cosmos/cosmos-db"
	"github.com/pkg/errors"
)

// LevelStore is a KVStore backed by a cosmos-db database
type LevelStore struct {
	db dbm.DB
}

var _ KVStore = (*LevelStore)(nil)

// NewMemStore returns an ephemeral in-memory store
func NewMemStore() *LevelStore {
	return &LevelStore{db: dbm.NewMemDB()}
}

// NewLevelStore opens (or creates) a goleveldb database named name inside dir
func NewLevelStore(name, dir string) (*LevelStore, error) {
	db, err := dbm.NewDB(name, dbm.GoLevelDBBackend, dir)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open leveldb %s in %s", name, dir)
	}
	return &LevelStore{db: db}, nil
}

func (s *LevelStore) Get(key []byte) ([]byte, error) {
	value, err := s.db.Get(key)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read key")
	}
	return value, nil
}

func (s *LevelStore) Iterate(start, end []byte, fn func(key, value []byte) bool) error {
	it, err := s.db.Iterator(start, end)
	if err != nil {
		return errors.Wrap(err, "failed to open iterator")
	}
	defer it.Close()

	for ; it.Valid(); it.Next() {
		if !fn(cp(it.Key()), cp(it.Value())) {
			break
		}
	}
	return errors.Wrap(it.Error(), "iterator failed")
}

func (s *LevelStore) Write(writes []KV) error {
	batch := s.db.NewBatch()
	defer batch.Close()

	for _, w := range writes {
		if err := batch.Set(w.Key, w.Value); err != nil {
			return errors.Wrapf(err, "failed to stage key %q", w.Key)
		}
	}
	if err := batch.WriteSync(); err != nil {
		return errors.Wrap(err, "failed to write batch")
	}
	return nil
}

func (s *LevelStore) Close() error {
	return s.db.Close()
}

func cp(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
