// Package service orchestrates the vote ledger for the API and CLI: it parses
// untrusted requests, resolves voter keys, retries transient storage failures
// and records every attempt in the audit log and metrics.
package service

import (
	"context"
	"math"
	"time"

	"github.com/rs/zerolog"

	"voter-ledger/anonymizer"
	"voter-ledger/audit"
	"voter-ledger/encryption"
	ledgererrors "voter-ledger/errors"
	"voter-ledger/hashchain"
	"voter-ledger/ledger"
	"voter-ledger/models"
	"voter-ledger/registry"
	"voter-ledger/storage"
)

// StepRequest is an untrusted request to record one verification step. When
// VoterKey is empty it is resolved from VoterID through the directory.
type StepRequest struct {
	VoterKey string `json:"voter_uuid"`
	VoterID  string `json:"voter_id"`
	BoothID  int64  `json:"polling_booth_id"`
	Step     string `json:"verification_step"`
}

// Config wires the service's collaborators. Only Ledger is required.
type Config struct {
	Ledger     *ledger.VoteLedger
	Directory  *registry.Directory
	Audit      *audit.Store
	Metrics    *Metrics
	Session    *VotingSession
	Snapshots  *storage.SnapshotStore
	Anonymizer *anonymizer.Anonymizer
	Signer     *encryption.Signer
	Retry      *ledgererrors.RetryConfig
	Logger     zerolog.Logger
}

type VerificationService struct {
	ledger     *ledger.VoteLedger
	directory  *registry.Directory
	audit      *audit.Store
	metrics    *Metrics
	session    *VotingSession
	snapshots  *storage.SnapshotStore
	anonymizer *anonymizer.Anonymizer
	signer     *encryption.Signer
	retry      *ledgererrors.RetryConfig
	logger     zerolog.Logger
	now        func() time.Time
}

// ChainReport is the result of validating one voter's version chain
type ChainReport struct {
	VoterKey  string `json:"voter_uuid"`
	Valid     bool   `json:"valid"`
	Versions  int    `json:"versions"`
	Violation string `json:"violation,omitempty"`
}

// DashboardStats summarizes the ledger and attempt log for monitoring
type DashboardStats struct {
	TotalRecords  uint64               `json:"total_records"`
	TotalVoted    uint64               `json:"total_votes_cast"`
	TotalBooths   uint64               `json:"total_booths"`
	Turnout       float64              `json:"overall_turnout"`
	FraudAttempts int64                `json:"fraud_attempts"`
	FraudByType   map[string]int64     `json:"fraud_by_type"`
	Attempts      map[string]int64     `json:"attempts_by_outcome"`
	Booths        []*models.BoothStats `json:"booth_stats"`
	SessionActive bool                 `json:"session_active"`
	SessionEndsAt time.Time            `json:"session_ends_at,omitempty"`
	LastUpdated   time.Time            `json:"last_updated"`
}

func NewVerificationService(cfg Config) (*VerificationService, error) {
	if cfg.Ledger == nil {
		return nil, ledgererrors.New(ledgererrors.KindInvalidArgument, "ledger is required")
	}
	s := &VerificationService{
		ledger:     cfg.Ledger,
		directory:  cfg.Directory,
		audit:      cfg.Audit,
		metrics:    cfg.Metrics,
		session:    cfg.Session,
		snapshots:  cfg.Snapshots,
		anonymizer: cfg.Anonymizer,
		signer:     cfg.Signer,
		retry:      cfg.Retry,
		logger:     cfg.Logger.With().Str("component", "verification_service").Logger(),
		now:        func() time.Time { return time.Now().UTC() },
	}
	if s.metrics == nil {
		s.metrics = NewMetrics()
	}
	if s.retry == nil {
		s.retry = ledgererrors.DefaultRetryConfig()
	}
	return s, nil
}

func (s *VerificationService) Metrics() *Metrics {
	return s.metrics
}

func (s *VerificationService) Session() *VotingSession {
	return s.session
}

// RecordStep validates req and records it on the ledger. Every call, accepted
// or not, is written to the audit log.
func (s *VerificationService) RecordStep(ctx context.Context, req StepRequest) (*models.Receipt, error) {
	start := time.Now()
	stepLabel := "invalid"

	receipt, err := s.recordStep(ctx, &req, &stepLabel)

	changed := receipt != nil && receipt.Changed
	outcome, kind, fraudType := audit.Classify(changed, err)

	attempt := &audit.Attempt{
		VoterKey:  req.VoterKey,
		VoterID:   req.VoterID,
		BoothID:   req.BoothID,
		Step:      req.Step,
		Outcome:   outcome,
		ErrorKind: kind,
		FraudType: fraudType,
	}
	if receipt != nil {
		attempt.TxID = receipt.TxID
	}
	if err != nil {
		attempt.Message = err.Error()
	}
	if s.audit != nil {
		if auditErr := s.audit.Record(attempt); auditErr != nil {
			s.logger.Error().Err(auditErr).Str("voter_key", req.VoterKey).Msg("failed to record attempt")
		}
	}

	s.metrics.ObserveStep(stepLabel, outcome, kind, req.BoothID,
		changed && receipt.Step == models.StepVoteCast, time.Since(start))

	if err != nil {
		s.logger.Warn().
			Err(err).
			Str("voter_key", req.VoterKey).
			Str("voter_id", req.VoterID).
			Int64("booth_id", req.BoothID).
			Str("step", req.Step).
			Msg("verification step rejected")
		return nil, err
	}
	return receipt, nil
}

func (s *VerificationService) recordStep(ctx context.Context, req *StepRequest, stepLabel *string) (*models.Receipt, error) {
	if s.session != nil && !s.session.IsActive() {
		return nil, ledgererrors.New(ledgererrors.KindSessionClosed, "polling session is closed")
	}

	step, err := models.ParseStep(req.Step)
	if err != nil {
		return nil, err
	}
	*stepLabel = step.String()

	if req.VoterKey == "" && s.directory != nil {
		key, created, err := s.directory.Resolve(req.VoterID)
		if err != nil {
			return nil, err
		}
		if created {
			s.logger.Info().Str("voter_id", req.VoterID).Str("voter_key", key).Msg("assigned voter key")
		}
		req.VoterKey = key
	}

	var receipt *models.Receipt
	err = ledgererrors.Retry(ctx, s.retry, func() error {
		var recordErr error
		receipt, recordErr = s.ledger.RecordVerificationStep(ctx, req.VoterKey, req.VoterID, req.BoothID, step)
		return recordErr
	})
	if err != nil {
		return nil, err
	}
	return receipt, nil
}

func (s *VerificationService) GetVoteRecord(voterKey string) (*models.VoteRecord, error) {
	return s.ledger.GetVoteRecord(voterKey)
}

func (s *VerificationService) GetVoterStatus(voterKey string) (*models.VoterStatus, error) {
	return s.ledger.GetVoterStatus(voterKey)
}

func (s *VerificationService) GetPollingBoothStats(boothID int64) (*models.BoothStats, error) {
	return s.ledger.GetPollingBoothStats(boothID)
}

func (s *VerificationService) GetAllBoothStats() ([]*models.BoothStats, error) {
	return s.ledger.GetAllBoothStats()
}

// ListVoteRecords collects every vote record in key order
func (s *VerificationService) ListVoteRecords(ctx context.Context) ([]*models.VoteRecord, error) {
	records := []*models.VoteRecord{}
	for record, err := range s.ledger.GetAllVoteRecords(ctx) {
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}
	return records, nil
}

func (s *VerificationService) VerifyVoteIntegrity(voterKey string) (bool, error) {
	return s.ledger.VerifyVoteIntegrity(voterKey)
}

func (s *VerificationService) GetRecordVersions(voterKey string) ([]*models.RecordVersion, error) {
	return s.ledger.GetRecordVersions(voterKey)
}

// VerifyVoteChain validates the version chain of voterKey. A broken chain is
// reported in the result, not as an error.
func (s *VerificationService) VerifyVoteChain(voterKey string) (*ChainReport, error) {
	versions, err := s.ledger.GetRecordVersions(voterKey)
	if err != nil {
		return nil, err
	}
	report := &ChainReport{VoterKey: voterKey, Valid: true, Versions: len(versions)}

	err = s.ledger.VerifyVoteChain(voterKey)
	var violation *hashchain.ChainViolation
	switch {
	case err == nil:
	case ledgererrors.As(err, &violation):
		report.Valid = false
		report.Violation = violation.Error()
		s.logger.Error().Str("voter_key", voterKey).Str("violation", report.Violation).Msg("vote chain broken")
	default:
		return nil, err
	}
	return report, nil
}

// GetVoteHistory returns the records carrying voterID
func (s *VerificationService) GetVoteHistory(ctx context.Context, voterID string) ([]*models.VoteRecord, error) {
	history, err := s.ledger.GetVoteHistory(ctx, voterID)
	if err != nil {
		return nil, err
	}
	if history == nil {
		history = []*models.VoteRecord{}
	}
	return history, nil
}

// ExportAuditTrail exports the ledger, pseudonymizing voter IDs when redact is set
func (s *VerificationService) ExportAuditTrail(ctx context.Context, redact bool) (*models.AuditTrail, error) {
	trail, err := s.ledger.ExportAuditTrail(ctx)
	if err != nil {
		return nil, err
	}
	if !trail.IntegrityVerified {
		s.logger.Error().Msg("audit export contains records failing integrity checks")
	}
	if redact {
		if s.anonymizer == nil {
			return nil, ledgererrors.New(ledgererrors.KindInvalidArgument, "redacted export is not configured")
		}
		trail = s.anonymizer.RedactTrail(trail)
	}
	return trail, nil
}

// SignedAuditTrail exports the ledger and signs it with the operator key
func (s *VerificationService) SignedAuditTrail(ctx context.Context, redact bool) (*encryption.SignedExport, error) {
	if s.signer == nil {
		return nil, ledgererrors.New(ledgererrors.KindInvalidArgument, "export signing is not configured")
	}
	trail, err := s.ExportAuditTrail(ctx, redact)
	if err != nil {
		return nil, err
	}
	return s.signer.SignTrail(trail)
}

// FraudAttempts returns the most recent attempts flagged as fraud
func (s *VerificationService) FraudAttempts(limit int) ([]audit.Attempt, error) {
	if s.audit == nil {
		return []audit.Attempt{}, nil
	}
	attempts, err := s.audit.FraudAttempts(limit)
	if err != nil {
		return nil, err
	}
	if attempts == nil {
		attempts = []audit.Attempt{}
	}
	return attempts, nil
}

// DashboardStats gathers ledger totals, booth counters and attempt counts
func (s *VerificationService) DashboardStats(ctx context.Context) (*DashboardStats, error) {
	summary, err := s.ledger.Summary(ctx)
	if err != nil {
		return nil, err
	}
	booths, err := s.ledger.GetAllBoothStats()
	if err != nil {
		return nil, err
	}
	if booths == nil {
		booths = []*models.BoothStats{}
	}

	stats := &DashboardStats{
		TotalRecords: summary.TotalRecords,
		TotalVoted:   summary.TotalVoted,
		TotalBooths:  summary.TotalBooths,
		FraudByType:  map[string]int64{},
		Attempts:     map[string]int64{},
		Booths:       booths,
		LastUpdated:  s.now(),
	}
	if summary.TotalRecords > 0 {
		stats.Turnout = math.Round(float64(summary.TotalVoted)/float64(summary.TotalRecords)*10000) / 100
	}

	if s.audit != nil {
		if stats.FraudByType, err = s.audit.CountFraudAttempts(); err != nil {
			return nil, err
		}
		if stats.Attempts, err = s.audit.CountByOutcome(); err != nil {
			return nil, err
		}
		for _, n := range stats.FraudByType {
			stats.FraudAttempts += n
		}
	}

	if s.session != nil {
		stats.SessionActive = s.session.IsActive()
		_, stats.SessionEndsAt = s.session.Window()
	}
	return stats, nil
}
