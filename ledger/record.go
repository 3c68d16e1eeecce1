package ledger

import (
	"context"
	"strconv"
	"strings"
	"time"

	ledgererrors "voter-ledger/errors"
	"voter-ledger/models"
	"voter-ledger/storage"
)

// RecordVerificationStep advances voterKey's verification state by one step.
//
// Preconditions are checked in order: a voter who has voted is rejected with
// ALREADY_VOTED for every step, vote_cast requires all three checks, and an
// unknown step is INVALID_STEP. An existing record may not be re-keyed to
// another voter ID or booth. Completing a step that is already set writes
// nothing and returns a receipt with Changed false.
//
// The record, its status, a history version and (for vote_cast) the booth
// counter are persisted in a single atomic write.
func (l *VoteLedger) RecordVerificationStep(ctx context.Context, voterKey, voterID string, boothID int64, step models.Step) (*models.Receipt, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := validateIdentity(voterKey, voterID); err != nil {
		return nil, err
	}

	lock := l.voterLocks.forKey(voterKey)
	lock.Lock()
	defer lock.Unlock()

	var status models.VoterStatus
	hasStatus, err := l.getJSON(voterStatusKey(voterKey), &status)
	if err != nil {
		return nil, err
	}
	var record models.VoteRecord
	hasRecord, err := l.getJSON(voteRecordKey(voterKey), &record)
	if err != nil {
		return nil, err
	}
	if hasStatus != hasRecord {
		return nil, ledgererrors.Newf(ledgererrors.KindInternal,
			"inconsistent state for %s: record=%t status=%t", voterKey, hasRecord, hasStatus)
	}

	if hasStatus && status.HasVoted {
		l.logger.Warn().Str("voter_key", voterKey).Str("voter_id", status.VoterID).Msg("rejected step after vote cast")
		return nil, ledgererrors.NewAlreadyVoted(status.VoterID)
	}

	now := l.now()
	if !hasRecord {
		record = models.VoteRecord{
			VoterKey:  voterKey,
			VoterID:   voterID,
			BoothID:   boothID,
			CreatedAt: now,
		}
		status = models.VoterStatus{
			VoterKey: voterKey,
			VoterID:  voterID,
			BoothID:  boothID,
		}
	}

	if step == models.StepVoteCast && !record.Verified() {
		return nil, ledgererrors.NewIncompleteVerification(models.StepNames(record.MissingChecks()))
	}
	if !step.Valid() {
		return nil, ledgererrors.NewInvalidStep(step.String())
	}

	if hasRecord {
		if record.VoterID != voterID {
			return nil, ledgererrors.Newf(ledgererrors.KindVoterIDMismatch,
				"voter key %s is bound to a different voter ID", voterKey).
				WithContext("voter_key", voterKey)
		}
		if record.BoothID != boothID {
			return nil, ledgererrors.Newf(ledgererrors.KindBoothMismatch,
				"voter %s is registered at booth %d, not %d", voterID, record.BoothID, boothID).
				WithContext("booth_id", record.BoothID)
		}
		if record.IsVerified(step) {
			return &models.Receipt{
				TxID:         l.newTxID(),
				VoterKey:     voterKey,
				Step:         step,
				RecordHash:   record.RecordHash,
				PreviousHash: record.PreviousHash,
				Changed:      false,
				RecordedAt:   now,
			}, nil
		}
	}

	updated := record
	updated.MarkVerified(step)
	updated.PreviousHash = record.RecordHash
	updated.HashAlgorithm = l.hasher.Algorithm()
	updated.RecordHash = l.hasher.Fingerprint(updated.Fields(), updated.PreviousHash)
	updated.Version = record.Version + 1

	txID := l.newTxID()
	writes, err := l.stageWrites(&updated, &status, step, txID, now)
	if err != nil {
		return nil, err
	}

	if step == models.StepVoteCast {
		// voter lock -> booth lock; the booth counter is shared across voters
		boothLock := l.boothLocks.forKey(strconv.FormatInt(boothID, 10))
		boothLock.Lock()
		defer boothLock.Unlock()

		stats, err := l.GetPollingBoothStats(boothID)
		if err != nil {
			return nil, err
		}
		stats.TotalVotes++
		stats.LastUpdated = now
		kv, err := encodeKV(boothStatsKey(boothID), stats)
		if err != nil {
			return nil, err
		}
		writes = append(writes, kv)
	}

	if err := l.store.Write(writes); err != nil {
		l.logger.Error().Err(err).Str("voter_key", voterKey).Str("step", step.String()).Msg("failed to persist verification step")
		return nil, ledgererrors.NewStorageError("persist verification step", err)
	}

	event := l.logger.Info()
	if step != models.StepVoteCast {
		event = l.logger.Debug()
	}
	event.
		Str("tx_id", txID).
		Str("voter_key", voterKey).
		Int64("booth_id", boothID).
		Str("step", step.String()).
		Uint64("version", updated.Version).
		Msg("recorded verification step")

	return &models.Receipt{
		TxID:         txID,
		VoterKey:     voterKey,
		Step:         step,
		RecordHash:   updated.RecordHash,
		PreviousHash: updated.PreviousHash,
		Changed:      true,
		RecordedAt:   now,
	}, nil
}

func (l *VoteLedger) stageWrites(record *models.VoteRecord, status *models.VoterStatus, step models.Step, txID string, now time.Time) ([]storage.KV, error) {
	if step == models.StepVoteCast {
		status.HasVoted = true
		status.VotedAt = now
	}

	version := models.RecordVersion{
		Seq:        record.Version,
		Step:       step,
		TxID:       txID,
		RecordedAt: now,
		Record:     *record,
	}

	writes := make([]storage.KV, 0, 4)
	for _, w := range []struct {
		key   []byte
		value any
	}{
		{voteRecordKey(record.VoterKey), record},
		{voterStatusKey(record.VoterKey), status},
		{historyKey(record.VoterKey, version.Seq), version},
	} {
		kv, err := encodeKV(w.key, w.value)
		if err != nil {
			return nil, err
		}
		writes = append(writes, kv)
	}
	return writes, nil
}

// validateIdentity rejects keys that cannot be stored unambiguously
func validateIdentity(voterKey, voterID string) error {
	switch {
	case voterKey == "":
		return ledgererrors.New(ledgererrors.KindInvalidArgument, "voter key is required")
	case voterID == "":
		return ledgererrors.New(ledgererrors.KindInvalidArgument, "voter ID is required")
	case strings.Contains(voterKey, historySeparator):
		return ledgererrors.New(ledgererrors.KindInvalidArgument, "voter key contains a NUL byte").
			WithContext("voter_key", voterKey)
	}
	return nil
}
