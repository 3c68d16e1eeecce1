// Package ledger implements the voter-verification ledger: an append/update-only
// state machine recording each identity check of a voter, enforcing one vote per
// voter and exposing tamper-evident audit queries.
//
// State lives in an injected storage.KVStore under four key spaces:
//
//	vote_<voterKey>                  VoteRecord
//	voter_<voterKey>                 VoterStatus
//	booth_stats_<boothID>            BoothStats
//	hist_<voterKey>\x00<seq>         RecordVersion
//
// Mutations for one voter are serialized by a striped per-voter lock; the booth
// counter is additionally guarded by a striped booth lock taken inside it.
package ledger

import (
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	ledgererrors "voter-ledger/errors"
	"voter-ledger/hashchain"
	"voter-ledger/storage"
)

const (
	voteRecordPrefix  = "vote_"
	voterStatusPrefix = "voter_"
	boothStatsPrefix  = "booth_stats_"
	historyPrefix     = "hist_"
	historySeparator  = "\x00"

	defaultLockStripes = 256
	defaultPageSize    = 128
)

// VoteLedger is the authoritative verification state machine
type VoteLedger struct {
	store    storage.KVStore
	hasher   *hashchain.Hasher
	logger   zerolog.Logger
	now      func() time.Time
	newTxID  func() string
	pageSize int

	voterLocks *stripedLock
	boothLocks *stripedLock
}

type options struct {
	alg      hashchain.Algorithm
	logger   zerolog.Logger
	now      func() time.Time
	newTxID  func() string
	stripes  int
	pageSize int
}

// Option configures a VoteLedger
type Option func(*options)

// WithClock overrides the wall clock used for timestamps
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// WithTxIDGenerator overrides how receipt transaction IDs are generated
func WithTxIDGenerator(gen func() string) Option {
	return func(o *options) { o.newTxID = gen }
}

// WithHashAlgorithm selects the fingerprint digest for new record versions
func WithHashAlgorithm(alg hashchain.Algorithm) Option {
	return func(o *options) { o.alg = alg }
}

// WithLogger sets the ledger logger
func WithLogger(logger zerolog.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithLockStripes sets how many per-voter and per-booth locks are allocated
func WithLockStripes(n int) Option {
	return func(o *options) { o.stripes = n }
}

// WithPageSize sets how many entries scans read from the store at a time
func WithPageSize(n int) Option {
	return func(o *options) { o.pageSize = n }
}

// New creates a ledger over store
func New(store storage.KVStore, opts ...Option) (*VoteLedger, error) {
	if store == nil {
		return nil, fmt.Errorf("ledger requires a store")
	}

	o := options{
		alg:      hashchain.DefaultAlgorithm,
		logger:   zerolog.Nop(),
		now:      func() time.Time { return time.Now().UTC() },
		newTxID:  uuid.NewString,
		stripes:  defaultLockStripes,
		pageSize: defaultPageSize,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.stripes < 1 {
		o.stripes = 1
	}
	if o.pageSize < 1 {
		o.pageSize = defaultPageSize
	}

	hasher, err := hashchain.NewHasher(o.alg)
	if err != nil {
		return nil, err
	}

	return &VoteLedger{
		store:      store,
		hasher:     hasher,
		logger:     o.logger.With().Str("component", "vote_ledger").Logger(),
		now:        o.now,
		newTxID:    o.newTxID,
		pageSize:   o.pageSize,
		voterLocks: newStripedLock(o.stripes),
		boothLocks: newStripedLock(o.stripes),
	}, nil
}

// HashAlgorithm returns the digest used for new record versions
func (l *VoteLedger) HashAlgorithm() hashchain.Algorithm {
	return l.hasher.Algorithm()
}

type stripedLock struct {
	locks []sync.Mutex
}

func newStripedLock(n int) *stripedLock {
	return &stripedLock{locks: make([]sync.Mutex, n)}
}

func (s *stripedLock) forKey(key string) *sync.Mutex {
	return &s.locks[xxhash.Sum64String(key)%uint64(len(s.locks))]
}

func voteRecordKey(voterKey string) []byte {
	return []byte(voteRecordPrefix + voterKey)
}

func voterStatusKey(voterKey string) []byte {
	return []byte(voterStatusPrefix + voterKey)
}

func boothStatsKey(boothID int64) []byte {
	return []byte(boothStatsPrefix + strconv.FormatInt(boothID, 10))
}

func historyKeyPrefix(voterKey string) []byte {
	return []byte(historyPrefix + voterKey + historySeparator)
}

func historyKey(voterKey string, seq uint64) []byte {
	return append(historyKeyPrefix(voterKey), []byte(fmt.Sprintf("%020d", seq))...)
}

// getJSON loads key into out, reporting whether it existed
func (l *VoteLedger) getJSON(key []byte, out any) (bool, error) {
	data, err := l.store.Get(key)
	if err != nil {
		return false, ledgererrors.NewStorageError("read "+string(key), err)
	}
	if data == nil {
		return false, nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return false, ledgererrors.Wrap(err, ledgererrors.KindInternal, "failed to unmarshal "+string(key))
	}
	return true, nil
}

func encodeKV(key []byte, value any) (storage.KV, error) {
	data, err := json.Marshal(value)
	if err != nil {
		return storage.KV{}, ledgererrors.Wrap(err, ledgererrors.KindInternal, "failed to marshal "+string(key))
	}
	return storage.KV{Key: key, Value: data}, nil
}

// scan visits every value under prefix in key order. Entries are read a page
// at a time and fn runs with no store iterator open, so fn may call back into
// the ledger.
func (l *VoteLedger) scan(prefix []byte, fn func(key, value []byte) bool) error {
	start := prefix
	end := storage.PrefixEnd(prefix)

	for {
		var keys, values [][]byte
		err := l.store.Iterate(start, end, func(k, v []byte) bool {
			keys = append(keys, k)
			values = append(values, v)
			return len(keys) < l.pageSize
		})
		if err != nil {
			return ledgererrors.NewStorageError("scan "+string(prefix), err)
		}

		for i := range keys {
			if !fn(keys[i], values[i]) {
				return nil
			}
		}

		if len(keys) < l.pageSize {
			return nil
		}
		last := keys[len(keys)-1]
		start = append(append([]byte{}, last...), 0x00)
	}
}
