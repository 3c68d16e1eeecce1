package audit

import (
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	ledgererrors "voter-ledger/errors"
)

// Attempt outcomes
const (
	OutcomeAccepted = "accepted"
	OutcomeNoop     = "noop"
	OutcomeRejected = "rejected"
)

// Fraud classifications
const (
	FraudDuplicateVote    = "duplicate_vote"
	FraudIdentityMismatch = "identity_mismatch"
)

// Attempt is one verification step submitted to the ledger
type Attempt struct {
	ID        uint      `gorm:"primaryKey" json:"-"`
	EventID   string    `gorm:"uniqueIndex;not null" json:"event_id"`
	TxID      string    `json:"tx_id,omitempty"`
	VoterKey  string    `gorm:"index" json:"voter_uuid"`
	VoterID   string    `gorm:"index" json:"voter_id"`
	BoothID   int64     `gorm:"index" json:"booth_id"`
	Step      string    `json:"step"`
	Outcome   string    `gorm:"index;not null" json:"outcome"`
	ErrorKind string    `json:"error_kind,omitempty"`
	FraudType string    `gorm:"index" json:"fraud_type,omitempty"`
	Message   string    `gorm:"type:text" json:"message,omitempty"`
	CreatedAt time.Time `gorm:"index" json:"created_at"`
}

// TableName specifies the table name for Attempt.
func (Attempt) TableName() string {
	return "verification_attempts"
}

// Classify derives the outcome, error kind and fraud type of a ledger call
func Classify(changed bool, err error) (outcome, errorKind, fraudType string) {
	if err == nil {
		if changed {
			return OutcomeAccepted, "", ""
		}
		return OutcomeNoop, "", ""
	}

	kind := ledgererrors.KindOf(err)
	if kind == "" {
		kind = ledgererrors.KindInternal
	}
	switch kind {
	case ledgererrors.KindAlreadyVoted:
		fraudType = FraudDuplicateVote
	case ledgererrors.KindBoothMismatch, ledgererrors.KindVoterIDMismatch:
		fraudType = FraudIdentityMismatch
	}
	return OutcomeRejected, string(kind), fraudType
}

// Store provides database access for verification attempts.
type Store struct {
	db     *gorm.DB
	logger zerolog.Logger
	now    func() time.Time
}

// NewStore creates a new attempt store.
func NewStore(db *gorm.DB, logger zerolog.Logger) *Store {
	return &Store{
		db:     db,
		logger: logger.With().Str("component", "audit_store").Logger(),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Record inserts an attempt, assigning its event ID and timestamp when unset
func (s *Store) Record(attempt *Attempt) error {
	if attempt.EventID == "" {
		attempt.EventID = uuid.NewString()
	}
	if attempt.CreatedAt.IsZero() {
		attempt.CreatedAt = s.now()
	}

	if err := s.db.Create(attempt).Error; err != nil {
		return errors.Wrapf(err, "failed to record attempt %s", attempt.EventID)
	}

	if attempt.FraudType != "" {
		s.logger.Warn().
			Str("event_id", attempt.EventID).
			Str("voter_key", attempt.VoterKey).
			Str("voter_id", attempt.VoterID).
			Int64("booth_id", attempt.BoothID).
			Str("fraud_type", attempt.FraudType).
			Msg("fraud attempt recorded")
	}
	return nil
}

// FraudAttempts returns the most recent attempts classified as fraud
func (s *Store) FraudAttempts(limit int) ([]Attempt, error) {
	var attempts []Attempt
	query := s.db.Where("fraud_type <> ''").Order("created_at DESC, id DESC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Find(&attempts).Error; err != nil {
		return nil, errors.Wrap(err, "failed to query fraud attempts")
	}
	return attempts, nil
}

// AttemptsByVoter returns every attempt for voterKey, oldest first
func (s *Store) AttemptsByVoter(voterKey string) ([]Attempt, error) {
	var attempts []Attempt
	if err := s.db.Where("voter_key = ?", voterKey).
		Order("created_at ASC, id ASC").
		Find(&attempts).Error; err != nil {
		return nil, errors.Wrapf(err, "failed to query attempts for %s", voterKey)
	}
	return attempts, nil
}

// CountFraudAttempts returns the number of fraud attempts by type
func (s *Store) CountFraudAttempts() (map[string]int64, error) {
	var rows []struct {
		FraudType string
		Count     int64
	}
	if err := s.db.Model(&Attempt{}).
		Select("fraud_type, COUNT(*) AS count").
		Where("fraud_type <> ''").
		Group("fraud_type").
		Scan(&rows).Error; err != nil {
		return nil, errors.Wrap(err, "failed to count fraud attempts")
	}

	counts := make(map[string]int64, len(rows))
	for _, r := range rows {
		counts[r.FraudType] = r.Count
	}
	return counts, nil
}

// CountByOutcome returns the number of attempts per outcome
func (s *Store) CountByOutcome() (map[string]int64, error) {
	var rows []struct {
		Outcome string
		Count   int64
	}
	if err := s.db.Model(&Attempt{}).
		Select("outcome, COUNT(*) AS count").
		Group("outcome").
		Scan(&rows).Error; err != nil {
		return nil, errors.Wrap(err, "failed to count attempts")
	}

	counts := make(map[string]int64, len(rows))
	for _, r := range rows {
		counts[r.Outcome] = r.Count
	}
	return counts, nil
}

// PurgeBefore deletes attempts created before cutoff
func (s *Store) PurgeBefore(cutoff time.Time) (int64, error) {
	result := s.db.Where("created_at < ?", cutoff).Delete(&Attempt{})
	if result.Error != nil {
		return 0, errors.Wrap(result.Error, "failed to purge attempts")
	}
	if result.RowsAffected > 0 {
		s.logger.Info().Int64("purged", result.RowsAffected).Time("cutoff", cutoff).Msg("purged old attempts")
	}
	return result.RowsAffected, nil
}
