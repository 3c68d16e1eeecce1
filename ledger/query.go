package ledger

import (
	"context"
	"encoding/json"
	"iter"
	"sort"

	ledgererrors "voter-ledger/errors"
	"voter-ledger/hashchain"
	"voter-ledger/models"
)

// GetVoteRecord returns the verification record of voterKey
func (l *VoteLedger) GetVoteRecord(voterKey string) (*models.VoteRecord, error) {
	var record models.VoteRecord
	found, err := l.getJSON(voteRecordKey(voterKey), &record)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, ledgererrors.NewNotFound("vote record", voterKey)
	}
	return &record, nil
}

// GetVoterStatus returns whether voterKey has voted
func (l *VoteLedger) GetVoterStatus(voterKey string) (*models.VoterStatus, error) {
	var status models.VoterStatus
	found, err := l.getJSON(voterStatusKey(voterKey), &status)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, ledgererrors.NewNotFound("voter status", voterKey)
	}
	return &status, nil
}

// GetPollingBoothStats returns the vote counter of boothID. Booths are not
// registered up front, so an unknown booth yields zero votes.
func (l *VoteLedger) GetPollingBoothStats(boothID int64) (*models.BoothStats, error) {
	stats := models.BoothStats{BoothID: boothID}
	if _, err := l.getJSON(boothStatsKey(boothID), &stats); err != nil {
		return nil, err
	}
	return &stats, nil
}

// GetAllVoteRecords returns a lazy sequence over every record in key order.
// Each range over the sequence starts a fresh scan. A storage or decode
// failure is yielded once as the final element.
func (l *VoteLedger) GetAllVoteRecords(ctx context.Context) iter.Seq2[*models.VoteRecord, error] {
	return func(yield func(*models.VoteRecord, error) bool) {
		stopped := false
		err := l.scan([]byte(voteRecordPrefix), func(key, value []byte) bool {
			if err := ctx.Err(); err != nil {
				stopped = true
				yield(nil, err)
				return false
			}
			var record models.VoteRecord
			if err := json.Unmarshal(value, &record); err != nil {
				stopped = true
				yield(nil, ledgererrors.Wrap(err, ledgererrors.KindInternal, "failed to unmarshal "+string(key)))
				return false
			}
			if !yield(&record, nil) {
				stopped = true
				return false
			}
			return true
		})
		if err != nil && !stopped {
			yield(nil, err)
		}
	}
}

// VerifyVoteIntegrity recomputes the fingerprint of voterKey's record from its
// stored fields and previous hash. A mismatch is reported as false, not as an
// error.
func (l *VoteLedger) VerifyVoteIntegrity(voterKey string) (bool, error) {
	record, err := l.GetVoteRecord(voterKey)
	if err != nil {
		return false, err
	}
	return recordIntact(record), nil
}

func recordIntact(record *models.VoteRecord) bool {
	if record.VoteCast && !record.Verified() {
		return false
	}
	fp, err := hashchain.ComputeFingerprint(record.HashAlgorithm, record.Fields(), record.PreviousHash)
	if err != nil {
		// unknown algorithm tag is itself tampering
		return false
	}
	return fp == record.RecordHash
}

// GetVoteHistory returns every record carrying voterID. A well-behaved
// caller maps one voter ID to one key, so this is normally zero or one record.
func (l *VoteLedger) GetVoteHistory(ctx context.Context, voterID string) ([]*models.VoteRecord, error) {
	var history []*models.VoteRecord
	for record, err := range l.GetAllVoteRecords(ctx) {
		if err != nil {
			return nil, err
		}
		if record.VoterID == voterID {
			history = append(history, record)
		}
	}
	return history, nil
}

// GetRecordVersions returns every stored version of voterKey's record, oldest first
func (l *VoteLedger) GetRecordVersions(voterKey string) ([]*models.RecordVersion, error) {
	var (
		versions  []*models.RecordVersion
		decodeErr error
	)
	err := l.scan(historyKeyPrefix(voterKey), func(key, value []byte) bool {
		var v models.RecordVersion
		if err := json.Unmarshal(value, &v); err != nil {
			decodeErr = ledgererrors.Wrap(err, ledgererrors.KindInternal, "failed to unmarshal "+string(key))
			return false
		}
		versions = append(versions, &v)
		return true
	})
	if err != nil {
		return nil, err
	}
	if decodeErr != nil {
		return nil, decodeErr
	}
	return versions, nil
}

// VerifyVoteChain validates the full version chain of voterKey and that its
// head matches the current record. It returns a *hashchain.ChainViolation
// describing the first broken link.
func (l *VoteLedger) VerifyVoteChain(voterKey string) error {
	record, err := l.GetVoteRecord(voterKey)
	if err != nil {
		return err
	}
	versions, err := l.GetRecordVersions(voterKey)
	if err != nil {
		return err
	}

	links := make([]hashchain.Link, len(versions))
	for i, v := range versions {
		links[i] = v.Link()
	}
	if err := hashchain.ValidateChain(links); err != nil {
		return err
	}

	if len(versions) == 0 {
		return &hashchain.ChainViolation{Seq: record.Version, Reason: "record has no versions"}
	}
	head := versions[len(versions)-1]
	if head.Seq != record.Version || head.Record.RecordHash != record.RecordHash {
		return &hashchain.ChainViolation{
			Seq:      record.Version,
			Reason:   "record does not match chain head",
			Expected: head.Record.RecordHash,
			Actual:   record.RecordHash,
		}
	}
	if !recordIntact(record) {
		return &hashchain.ChainViolation{Seq: record.Version, Reason: "hash mismatch"}
	}
	return nil
}

// GetAllVoterStatuses returns every voter status in key order
func (l *VoteLedger) GetAllVoterStatuses() ([]*models.VoterStatus, error) {
	return scanAll[models.VoterStatus](l, voterStatusPrefix)
}

// GetAllBoothStats returns every booth counter ordered by booth ID
func (l *VoteLedger) GetAllBoothStats() ([]*models.BoothStats, error) {
	stats, err := scanAll[models.BoothStats](l, boothStatsPrefix)
	if err != nil {
		return nil, err
	}
	sort.Slice(stats, func(i, j int) bool { return stats[i].BoothID < stats[j].BoothID })
	return stats, nil
}

func scanAll[T any](l *VoteLedger, prefix string) ([]*T, error) {
	var (
		out       []*T
		decodeErr error
	)
	err := l.scan([]byte(prefix), func(key, value []byte) bool {
		item := new(T)
		if err := json.Unmarshal(value, item); err != nil {
			decodeErr = ledgererrors.Wrap(err, ledgererrors.KindInternal, "failed to unmarshal "+string(key))
			return false
		}
		out = append(out, item)
		return true
	})
	if err != nil {
		return nil, err
	}
	return out, decodeErr
}

// Summary returns ledger-wide totals
func (l *VoteLedger) Summary(ctx context.Context) (*models.LedgerSummary, error) {
	var summary models.LedgerSummary
	for record, err := range l.GetAllVoteRecords(ctx) {
		if err != nil {
			return nil, err
		}
		summary.TotalRecords++
		if record.VoteCast {
			summary.TotalVoted++
		}
	}

	booths, err := l.GetAllBoothStats()
	if err != nil {
		return nil, err
	}
	summary.TotalBooths = uint64(len(booths))
	for _, b := range booths {
		summary.TotalVotes += b.TotalVotes
	}
	return &summary, nil
}

// ExportAuditTrail collects every record, status and booth counter together
// with a per-record integrity verdict
func (l *VoteLedger) ExportAuditTrail(ctx context.Context) (*models.AuditTrail, error) {
	trail := &models.AuditTrail{
		ExportedAt:        l.now(),
		VoteRecords:       []*models.VoteRecord{},
		Integrity:         make(map[string]bool),
		IntegrityVerified: true,
	}

	for record, err := range l.GetAllVoteRecords(ctx) {
		if err != nil {
			return nil, err
		}
		intact := recordIntact(record)
		trail.VoteRecords = append(trail.VoteRecords, record)
		trail.Integrity[record.VoterKey] = intact
		if !intact {
			trail.IntegrityVerified = false
		}
	}

	var err error
	if trail.VoterStatuses, err = l.GetAllVoterStatuses(); err != nil {
		return nil, err
	}
	if trail.BoothStats, err = l.GetAllBoothStats(); err != nil {
		return nil, err
	}

	l.logger.Info().
		Int("records", len(trail.VoteRecords)).
		Bool("integrity_verified", trail.IntegrityVerified).
		Msg("exported audit trail")
	return trail, nil
}
