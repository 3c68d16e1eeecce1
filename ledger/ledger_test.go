package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	ledgererrors "voter-ledger/errors"
	"voter-ledger/hashchain"
	"voter-ledger/models"
	"voter-ledger/storage"
)

var fixedTime = time.Date(2026, 10, 15, 9, 30, 0, 0, time.UTC)

func newTestLedger(t *testing.T, opts ...Option) (*VoteLedger, storage.KVStore) {
	t.Helper()
	store := storage.NewMemStore()
	t.Cleanup(func() { store.Close() })

	var seq atomic.Int64
	base := []Option{
		WithClock(func() time.Time { return fixedTime }),
		WithTxIDGenerator(func() string { return fmt.Sprintf("tx-%d", seq.Add(1)) }),
	}
	l, err := New(store, append(base, opts...)...)
	require.NoError(t, err)
	return l, store
}

func verifyAll(t *testing.T, l *VoteLedger, voterKey, voterID string, boothID int64) {
	t.Helper()
	for _, step := range models.AllSteps() {
		_, err := l.RecordVerificationStep(context.Background(), voterKey, voterID, boothID, step)
		require.NoError(t, err)
	}
}

// flakyStore fails the next failWrites calls to Write
type flakyStore struct {
	storage.KVStore
	failWrites atomic.Int32
	writes     atomic.Int32
}

func (s *flakyStore) Write(writes []storage.KV) error {
	s.writes.Add(1)
	if s.failWrites.Load() > 0 {
		s.failWrites.Add(-1)
		return errors.New("disk unavailable")
	}
	return s.KVStore.Write(writes)
}

func TestFullVotingFlow(t *testing.T) {
	l, _ := newTestLedger(t)
	ctx := context.Background()

	verifyAll(t, l, "V1", "ABC1234567", 7)
	receipt, err := l.RecordVerificationStep(ctx, "V1", "ABC1234567", 7, models.StepVoteCast)
	require.NoError(t, err)
	assert.True(t, receipt.Changed)
	assert.Equal(t, models.StepVoteCast, receipt.Step)
	assert.NotEmpty(t, receipt.PreviousHash)

	status, err := l.GetVoterStatus("V1")
	require.NoError(t, err)
	assert.True(t, status.HasVoted)
	assert.Equal(t, fixedTime, status.VotedAt)
	assert.Equal(t, int64(7), status.BoothID)

	stats, err := l.GetPollingBoothStats(7)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), stats.TotalVotes)
	assert.Equal(t, fixedTime, stats.LastUpdated)

	record, err := l.GetVoteRecord("V1")
	require.NoError(t, err)
	assert.True(t, record.VoteCast)
	assert.True(t, record.Verified())
	assert.Equal(t, uint64(4), record.Version)
	assert.Equal(t, receipt.RecordHash, record.RecordHash)
	assert.Equal(t, hashchain.DefaultAlgorithm, record.HashAlgorithm)

	ok, err := l.VerifyVoteIntegrity("V1")
	require.NoError(t, err)
	assert.True(t, ok)
	require.NoError(t, l.VerifyVoteChain("V1"))

	for _, step := range []models.Step{models.StepIDVerification, models.StepVoteCast} {
		_, err = l.RecordVerificationStep(ctx, "V1", "ABC1234567", 7, step)
		assert.ErrorIs(t, err, ledgererrors.ErrAlreadyVoted)
	}

	stats, err = l.GetPollingBoothStats(7)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), stats.TotalVotes)
}

func TestVoteCastRequiresAllChecks(t *testing.T) {
	l, _ := newTestLedger(t)
	ctx := context.Background()

	_, err := l.RecordVerificationStep(ctx, "V2", "XYZ7654321", 7, models.StepVoteCast)
	require.ErrorIs(t, err, ledgererrors.ErrIncompleteVerification)
	assert.Equal(t, []string{"id_verification", "face_verification", "iris_verification"}, ledgererrors.MissingSteps(err))

	_, err = l.GetVoteRecord("V2")
	assert.ErrorIs(t, err, ledgererrors.ErrNotFound)

	_, err = l.RecordVerificationStep(ctx, "V2", "XYZ7654321", 7, models.StepIrisVerification)
	require.NoError(t, err)
	_, err = l.RecordVerificationStep(ctx, "V2", "XYZ7654321", 7, models.StepVoteCast)
	require.ErrorIs(t, err, ledgererrors.ErrIncompleteVerification)
	assert.Equal(t, []string{"id_verification", "face_verification"}, ledgererrors.MissingSteps(err))
}

func TestVerificationOrderDoesNotMatter(t *testing.T) {
	l, _ := newTestLedger(t)
	ctx := context.Background()

	for _, step := range []models.Step{models.StepIrisVerification, models.StepIDVerification, models.StepFaceVerification} {
		_, err := l.RecordVerificationStep(ctx, "V3", "ID3", 2, step)
		require.NoError(t, err)
	}
	_, err := l.RecordVerificationStep(ctx, "V3", "ID3", 2, models.StepVoteCast)
	require.NoError(t, err)
}

func TestPreconditionOrder(t *testing.T) {
	l, _ := newTestLedger(t)
	ctx := context.Background()

	_, err := l.RecordVerificationStep(ctx, "V4", "ID4", 1, models.Step(99))
	assert.ErrorIs(t, err, ledgererrors.ErrInvalidStep)

	verifyAll(t, l, "V4", "ID4", 1)
	_, err = l.RecordVerificationStep(ctx, "V4", "ID4", 1, models.StepVoteCast)
	require.NoError(t, err)

	// terminal state wins over an unknown step
	_, err = l.RecordVerificationStep(ctx, "V4", "ID4", 1, models.Step(99))
	assert.ErrorIs(t, err, ledgererrors.ErrAlreadyVoted)
}

func TestRepeatedStepIsNoop(t *testing.T) {
	l, store := newTestLedger(t)
	ctx := context.Background()

	first, err := l.RecordVerificationStep(ctx, "V5", "ID5", 3, models.StepFaceVerification)
	require.NoError(t, err)
	before, err := store.Get(voteRecordKey("V5"))
	require.NoError(t, err)

	second, err := l.RecordVerificationStep(ctx, "V5", "ID5", 3, models.StepFaceVerification)
	require.NoError(t, err)
	assert.False(t, second.Changed)
	assert.Equal(t, first.RecordHash, second.RecordHash)

	after, err := store.Get(voteRecordKey("V5"))
	require.NoError(t, err)
	assert.Equal(t, before, after)

	versions, err := l.GetRecordVersions("V5")
	require.NoError(t, err)
	assert.Len(t, versions, 1)
}

func TestContradictoryIdentityRejected(t *testing.T) {
	l, _ := newTestLedger(t)
	ctx := context.Background()

	_, err := l.RecordVerificationStep(ctx, "V6", "ID6", 4, models.StepIDVerification)
	require.NoError(t, err)

	_, err = l.RecordVerificationStep(ctx, "V6", "ID6", 5, models.StepFaceVerification)
	assert.ErrorIs(t, err, ledgererrors.ErrBoothMismatch)

	_, err = l.RecordVerificationStep(ctx, "V6", "OTHER", 4, models.StepFaceVerification)
	assert.ErrorIs(t, err, ledgererrors.ErrVoterIDMismatch)

	record, err := l.GetVoteRecord("V6")
	require.NoError(t, err)
	assert.False(t, record.FaceVerified)
	assert.Equal(t, int64(4), record.BoothID)
}

func TestInvalidArguments(t *testing.T) {
	l, _ := newTestLedger(t)
	ctx := context.Background()

	tests := []struct {
		name     string
		voterKey string
		voterID  string
	}{
		{"empty key", "", "ID"},
		{"empty voter id", "K", ""},
		{"nul in key", "K\x00x", "ID"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := l.RecordVerificationStep(ctx, tt.voterKey, tt.voterID, 1, models.StepIDVerification)
			assert.ErrorIs(t, err, ledgererrors.ErrInvalidArgument)
		})
	}
}

func TestTamperingIsDetected(t *testing.T) {
	l, store := newTestLedger(t)
	verifyAll(t, l, "V7", "ID7", 9)

	raw, err := store.Get(voteRecordKey("V7"))
	require.NoError(t, err)
	var record models.VoteRecord
	require.NoError(t, json.Unmarshal(raw, &record))

	record.BoothID = 10
	tampered, err := json.Marshal(record)
	require.NoError(t, err)
	require.NoError(t, store.Write([]storage.KV{{Key: voteRecordKey("V7"), Value: tampered}}))

	ok, err := l.VerifyVoteIntegrity("V7")
	require.NoError(t, err)
	assert.False(t, ok)

	var violation *hashchain.ChainViolation
	require.ErrorAs(t, l.VerifyVoteChain("V7"), &violation)

	trail, err := l.ExportAuditTrail(context.Background())
	require.NoError(t, err)
	assert.False(t, trail.IntegrityVerified)
	assert.False(t, trail.Integrity["V7"])
}

func TestVerifyIntegrityNotFound(t *testing.T) {
	l, _ := newTestLedger(t)
	_, err := l.VerifyVoteIntegrity("nobody")
	assert.ErrorIs(t, err, ledgererrors.ErrNotFound)
	assert.ErrorIs(t, l.VerifyVoteChain("nobody"), ledgererrors.ErrNotFound)
}

func TestUnknownBoothIsZero(t *testing.T) {
	l, _ := newTestLedger(t)
	stats, err := l.GetPollingBoothStats(42)
	require.NoError(t, err)
	assert.Equal(t, int64(42), stats.BoothID)
	assert.Zero(t, stats.TotalVotes)
}

func TestFailedWriteLeavesNoPartialState(t *testing.T) {
	flaky := &flakyStore{KVStore: storage.NewMemStore()}
	l, err := New(flaky, WithClock(func() time.Time { return fixedTime }))
	require.NoError(t, err)
	ctx := context.Background()

	verifyAll(t, l, "V8", "ID8", 5)

	flaky.failWrites.Store(1)
	_, err = l.RecordVerificationStep(ctx, "V8", "ID8", 5, models.StepVoteCast)
	require.ErrorIs(t, err, ledgererrors.ErrStorage)
	assert.True(t, ledgererrors.IsRetryable(err))

	status, err := l.GetVoterStatus("V8")
	require.NoError(t, err)
	assert.False(t, status.HasVoted)
	stats, err := l.GetPollingBoothStats(5)
	require.NoError(t, err)
	assert.Zero(t, stats.TotalVotes)

	// a retried vote_cast lands exactly once
	flaky.failWrites.Store(1)
	retry := &ledgererrors.RetryConfig{MaxAttempts: 3, InitialDelay: time.Millisecond, Multiplier: 1}
	require.NoError(t, ledgererrors.Retry(ctx, retry, func() error {
		_, err := l.RecordVerificationStep(ctx, "V8", "ID8", 5, models.StepVoteCast)
		return err
	}))

	err = ledgererrors.Retry(ctx, retry, func() error {
		_, err := l.RecordVerificationStep(ctx, "V8", "ID8", 5, models.StepVoteCast)
		return err
	})
	assert.ErrorIs(t, err, ledgererrors.ErrAlreadyVoted)

	stats, err = l.GetPollingBoothStats(5)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), stats.TotalVotes)
}

func TestConcurrentVotersShareBoothCounter(t *testing.T) {
	l, _ := newTestLedger(t, WithLockStripes(8))
	ctx := context.Background()

	const voters = 40
	var wg sync.WaitGroup
	var successes atomic.Int32
	for i := 0; i < voters; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			key := fmt.Sprintf("voter-%02d", i)
			booth := int64(i % 3)
			for _, step := range models.AllSteps() {
				if _, err := l.RecordVerificationStep(ctx, key, "ID-"+key, booth, step); err != nil {
					t.Error(err)
					return
				}
			}
			// racing duplicate casts for the same voter
			var inner sync.WaitGroup
			for j := 0; j < 3; j++ {
				inner.Add(1)
				go func() {
					defer inner.Done()
					_, err := l.RecordVerificationStep(ctx, key, "ID-"+key, booth, models.StepVoteCast)
					if err == nil {
						successes.Add(1)
						return
					}
					if !errors.Is(err, ledgererrors.ErrAlreadyVoted) {
						t.Error(err)
					}
				}()
			}
			inner.Wait()
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(voters), successes.Load())

	votedPerBooth := map[int64]uint64{}
	for record, err := range l.GetAllVoteRecords(ctx) {
		require.NoError(t, err)
		if record.VoteCast {
			votedPerBooth[record.BoothID]++
		}
		ok, err := l.VerifyVoteIntegrity(record.VoterKey)
		require.NoError(t, err)
		assert.True(t, ok)
		require.NoError(t, l.VerifyVoteChain(record.VoterKey))
	}

	booths, err := l.GetAllBoothStats()
	require.NoError(t, err)
	require.Len(t, booths, 3)
	for _, b := range booths {
		assert.Equal(t, votedPerBooth[b.BoothID], b.TotalVotes, "booth %d", b.BoothID)
	}
}

func TestGetAllVoteRecordsIsLazyAndRestartable(t *testing.T) {
	l, _ := newTestLedger(t, WithPageSize(2))
	ctx := context.Background()

	for _, key := range []string{"e", "a", "d", "b", "c"} {
		_, err := l.RecordVerificationStep(ctx, key, "ID-"+key, 1, models.StepIDVerification)
		require.NoError(t, err)
	}

	collect := func() []string {
		var keys []string
		for record, err := range l.GetAllVoteRecords(ctx) {
			require.NoError(t, err)
			keys = append(keys, record.VoterKey)
		}
		return keys
	}
	assert.Equal(t, []string{"a", "b", "c", "d", "e"}, collect())
	assert.Equal(t, collect(), collect())

	var firstTwo []string
	for record, err := range l.GetAllVoteRecords(ctx) {
		require.NoError(t, err)
		firstTwo = append(firstTwo, record.VoterKey)
		if len(firstTwo) == 2 {
			break
		}
	}
	assert.Equal(t, []string{"a", "b"}, firstTwo)

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	for _, err := range l.GetAllVoteRecords(cancelled) {
		assert.ErrorIs(t, err, context.Canceled)
	}
}

func TestVoteHistoryAndVersions(t *testing.T) {
	l, _ := newTestLedger(t)
	ctx := context.Background()

	verifyAll(t, l, "V9", "SHARED", 1)
	_, err := l.RecordVerificationStep(ctx, "V9-dup", "SHARED", 1, models.StepIDVerification)
	require.NoError(t, err)
	_, err = l.RecordVerificationStep(ctx, "V10", "OTHER", 1, models.StepIDVerification)
	require.NoError(t, err)

	history, err := l.GetVoteHistory(ctx, "SHARED")
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, "V9", history[0].VoterKey)
	assert.Equal(t, "V9-dup", history[1].VoterKey)

	history, err = l.GetVoteHistory(ctx, "NOBODY")
	require.NoError(t, err)
	assert.Empty(t, history)

	versions, err := l.GetRecordVersions("V9")
	require.NoError(t, err)
	require.Len(t, versions, 3)
	assert.Empty(t, versions[0].Record.PreviousHash)
	for i, v := range versions {
		assert.Equal(t, uint64(i+1), v.Seq)
		assert.Equal(t, models.AllSteps()[i], v.Step)
		if i > 0 {
			assert.Equal(t, versions[i-1].Record.RecordHash, v.Record.PreviousHash)
		}
	}

	// "V9-dup" shares a textual prefix with "V9" but not its history
	versions, err = l.GetRecordVersions("V9-dup")
	require.NoError(t, err)
	assert.Len(t, versions, 1)
}

func TestSummaryAndExport(t *testing.T) {
	l, _ := newTestLedger(t, WithHashAlgorithm(hashchain.Keccak256))
	ctx := context.Background()

	verifyAll(t, l, "A", "IDA", 1)
	_, err := l.RecordVerificationStep(ctx, "A", "IDA", 1, models.StepVoteCast)
	require.NoError(t, err)
	verifyAll(t, l, "B", "IDB", 2)
	_, err = l.RecordVerificationStep(ctx, "B", "IDB", 2, models.StepVoteCast)
	require.NoError(t, err)
	_, err = l.RecordVerificationStep(ctx, "C", "IDC", 2, models.StepIDVerification)
	require.NoError(t, err)

	summary, err := l.Summary(ctx)
	require.NoError(t, err)
	assert.Equal(t, models.LedgerSummary{TotalRecords: 3, TotalVoted: 2, TotalBooths: 2, TotalVotes: 2}, *summary)

	trail, err := l.ExportAuditTrail(ctx)
	require.NoError(t, err)
	assert.True(t, trail.IntegrityVerified)
	assert.Len(t, trail.VoteRecords, 3)
	assert.Len(t, trail.VoterStatuses, 3)
	assert.Len(t, trail.BoothStats, 2)
	assert.Equal(t, hashchain.Keccak256, trail.VoteRecords[0].HashAlgorithm)
	assert.Equal(t, fixedTime, trail.ExportedAt)
}

func TestNewRejectsUnknownAlgorithm(t *testing.T) {
	_, err := New(storage.NewMemStore(), WithHashAlgorithm("md5"))
	assert.Error(t, err)

	_, err = New(nil)
	assert.Error(t, err)
}
