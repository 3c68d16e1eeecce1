// File: storage/storage.go
package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"voter-ledger/models"
)

// KV is a single key/value pair of an atomic write
type KV struct {
	Key   []byte
	Value []byte
}

// KVStore is the byte-keyed state the ledger is built on.
//
// Get returns (nil, nil) for an absent key. Iterate visits keys in ascending
// byte order within [start, end); a nil bound is unbounded and fn returning
// false stops the scan. Write applies every pair atomically: readers observe
// either all of them or none.
type KVStore interface {
	Get(key []byte) ([]byte, error)
	Iterate(start, end []byte, fn func(key, value []byte) bool) error
	Write(writes []KV) error
	Close() error
}

// PrefixEnd returns the exclusive upper bound of all keys starting with prefix
func PrefixEnd(prefix []byte) []byte {
	end := make([]byte, len(prefix))
	copy(end, prefix)
	for i := len(end) - 1; i >= 0; i-- {
		if end[i] < 0xff {
			end[i]++
			return end[:i+1]
		}
	}
	return nil
}

const snapshotTimeFormat = "20060102150405.000000000"

// Add a struct to help with file sorting
type snapshotFile struct {
	path      string
	timestamp time.Time
}

type snapshotFiles []snapshotFile

func (f snapshotFiles) Len() int           { return len(f) }
func (f snapshotFiles) Less(i, j int) bool { return f[i].timestamp.Before(f[j].timestamp) }
func (f snapshotFiles) Swap(i, j int)      { f[i], f[j] = f[j], f[i] }

// SnapshotStore writes timestamped audit-trail snapshots and keeps the newest few
type SnapshotStore struct {
	dataDir string
	keep    int
	mutex   sync.RWMutex
	logger  zerolog.Logger
	now     func() time.Time
}

func NewSnapshotStore(dataDir string, keep int, logger zerolog.Logger) (*SnapshotStore, error) {
	absPath, err := filepath.Abs(dataDir)
	if err != nil {
		return nil, errors.Wrap(err, "failed to get absolute path")
	}

	if err := os.MkdirAll(absPath, 0o750); err != nil {
		return nil, errors.Wrap(err, "failed to create snapshot directory")
	}

	if keep < 1 {
		keep = 1
	}

	return &SnapshotStore{
		dataDir: absPath,
		keep:    keep,
		logger:  logger.With().Str("component", "snapshot_store").Logger(),
		now:     time.Now,
	}, nil
}

// listSnapshots returns the snapshot files sorted oldest first
func (s *SnapshotStore) listSnapshots() (snapshotFiles, error) {
	files, err := filepath.Glob(filepath.Join(s.dataDir, "audit_snapshot_*.json"))
	if err != nil {
		return nil, errors.Wrap(err, "failed to list files")
	}

	var snapshots snapshotFiles
	for _, file := range files {
		base := filepath.Base(file)
		stamp := strings.TrimSuffix(strings.TrimPrefix(base, "audit_snapshot_"), ".json")
		timestamp, err := time.Parse(snapshotTimeFormat, stamp)
		if err != nil {
			s.logger.Warn().Str("file", base).Err(err).Msg("invalid timestamp in snapshot filename")
			continue
		}
		snapshots = append(snapshots, snapshotFile{path: file, timestamp: timestamp})
	}

	sort.Sort(snapshots)
	return snapshots, nil
}

// SaveSnapshot writes trail to a new timestamped file and prunes old ones
func (s *SnapshotStore) SaveSnapshot(trail *models.AuditTrail) (string, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if trail == nil {
		return "", fmt.Errorf("cannot save empty snapshot")
	}

	filename := filepath.Join(s.dataDir,
		fmt.Sprintf("audit_snapshot_%s.json", s.now().UTC().Format(snapshotTimeFormat)))

	data, err := json.MarshalIndent(trail, "", "    ")
	if err != nil {
		return "", errors.Wrap(err, "failed to encode snapshot")
	}

	tempPath := filename + ".tmp"
	if err := os.WriteFile(tempPath, data, 0o600); err != nil {
		return "", errors.Wrap(err, "failed to write snapshot")
	}
	if err := os.Rename(tempPath, filename); err != nil {
		os.Remove(tempPath)
		return "", errors.Wrap(err, "failed to save snapshot")
	}

	if err := s.cleanupOldFiles(); err != nil {
		s.logger.Warn().Err(err).Msg("failed to cleanup old snapshots")
	}

	s.logger.Info().
		Str("file", filename).
		Int("records", len(trail.VoteRecords)).
		Msg("saved audit snapshot")
	return filename, nil
}

// LoadLatestSnapshot returns the newest snapshot, or nil when none exist
func (s *SnapshotStore) LoadLatestSnapshot() (*models.AuditTrail, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	snapshots, err := s.listSnapshots()
	if err != nil {
		return nil, err
	}
	if len(snapshots) == 0 {
		return nil, nil
	}

	latest := snapshots[len(snapshots)-1].path
	data, err := os.ReadFile(latest)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open file %s", latest)
	}

	var trail models.AuditTrail
	if err := json.Unmarshal(data, &trail); err != nil {
		return nil, errors.Wrapf(err, "failed to decode snapshot from %s", latest)
	}
	return &trail, nil
}

func (s *SnapshotStore) cleanupOldFiles() error {
	snapshots, err := s.listSnapshots()
	if err != nil {
		return err
	}

	if len(snapshots) <= s.keep {
		return nil
	}

	// Remove older files, keeping the most recent 'keep' files
	for i := 0; i < len(snapshots)-s.keep; i++ {
		if err := os.Remove(snapshots[i].path); err != nil {
			s.logger.Warn().Str("file", snapshots[i].path).Err(err).Msg("failed to remove old snapshot")
		} else {
			s.logger.Debug().Str("file", snapshots[i].path).Msg("removed old snapshot")
		}
	}

	return nil
}
