// Package errors defines the failure kinds reported by the vote ledger and the
// services around it. Every failure carries a Kind so callers can choose their
// user-facing message ("already voted" vs. "try again") without string matching.
package errors

import (
	stderrors "errors"
	"fmt"
	"strings"
)

// Kind represents a category of ledger failure
type Kind string

const (
	// KindNotFound is returned when a voter, record or status does not exist
	KindNotFound Kind = "NOT_FOUND"

	// KindAlreadyVoted is returned for any step submitted after a successful vote cast
	KindAlreadyVoted Kind = "ALREADY_VOTED"

	// KindIncompleteVerification is returned when a vote is cast before all checks passed
	KindIncompleteVerification Kind = "INCOMPLETE_VERIFICATION"

	// KindInvalidStep is returned for an unrecognised verification step
	KindInvalidStep Kind = "INVALID_STEP"

	// KindBoothMismatch is returned when a later step names a different booth
	KindBoothMismatch Kind = "BOOTH_MISMATCH"

	// KindVoterIDMismatch is returned when a voter key is reused with another voter ID
	KindVoterIDMismatch Kind = "VOTER_ID_MISMATCH"

	// KindInvalidArgument indicates malformed caller input
	KindInvalidArgument Kind = "INVALID_ARGUMENT"

	// KindStorage indicates a transient failure of the underlying store
	KindStorage Kind = "STORAGE"

	// KindSessionClosed is returned when the polling session is not accepting steps
	KindSessionClosed Kind = "SESSION_CLOSED"

	// KindQueueFull is returned when the step queue cannot accept more work
	KindQueueFull Kind = "QUEUE_FULL"

	// KindInternal indicates corrupted state or a programming error
	KindInternal Kind = "INTERNAL"
)

// Sentinels for errors.Is matching. Comparison is by Kind only.
var (
	ErrNotFound               = &LedgerError{Kind: KindNotFound}
	ErrAlreadyVoted           = &LedgerError{Kind: KindAlreadyVoted}
	ErrIncompleteVerification = &LedgerError{Kind: KindIncompleteVerification}
	ErrInvalidStep            = &LedgerError{Kind: KindInvalidStep}
	ErrBoothMismatch          = &LedgerError{Kind: KindBoothMismatch}
	ErrVoterIDMismatch        = &LedgerError{Kind: KindVoterIDMismatch}
	ErrInvalidArgument        = &LedgerError{Kind: KindInvalidArgument}
	ErrStorage                = &LedgerError{Kind: KindStorage}
	ErrSessionClosed          = &LedgerError{Kind: KindSessionClosed}
	ErrQueueFull              = &LedgerError{Kind: KindQueueFull}
	ErrInternal               = &LedgerError{Kind: KindInternal}
)

// LedgerError is the single error type surfaced by the ledger
type LedgerError struct {
	Kind    Kind           `json:"kind"`
	Message string         `json:"message"`
	Cause   error          `json:"-"`
	Context map[string]any `json:"context,omitempty"`
}

// New creates a LedgerError of the given kind
func New(kind Kind, message string) *LedgerError {
	return &LedgerError{Kind: kind, Message: message}
}

// Newf creates a LedgerError with a formatted message
func Newf(kind Kind, format string, args ...any) *LedgerError {
	return New(kind, fmt.Sprintf(format, args...))
}

// Wrap attaches a kind and message to an underlying cause
func Wrap(cause error, kind Kind, message string) *LedgerError {
	return &LedgerError{Kind: kind, Message: message, Cause: cause}
}

// Error implements the error interface
func (e *LedgerError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = strings.ToLower(strings.ReplaceAll(string(e.Kind), "_", " "))
	}
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Kind, msg, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Kind, msg)
}

// Unwrap returns the underlying cause
func (e *LedgerError) Unwrap() error {
	return e.Cause
}

// Is matches another LedgerError of the same kind
func (e *LedgerError) Is(target error) bool {
	t, ok := target.(*LedgerError)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// WithContext adds context to the error
func (e *LedgerError) WithContext(key string, value any) *LedgerError {
	if e.Context == nil {
		e.Context = make(map[string]any)
	}
	e.Context[key] = value
	return e
}

// IsRetryable reports whether re-issuing the same call may succeed.
// Only storage failures qualify; every other kind is deterministic.
func (e *LedgerError) IsRetryable() bool {
	return e.Kind == KindStorage
}

// KindOf extracts the kind of err, or "" when err is not a LedgerError
func KindOf(err error) Kind {
	var le *LedgerError
	if As(err, &le) {
		return le.Kind
	}
	return ""
}

// IsRetryable reports whether err is a retryable LedgerError
func IsRetryable(err error) bool {
	var le *LedgerError
	if As(err, &le) {
		return le.IsRetryable()
	}
	return false
}

// MissingSteps returns the verification steps listed on an IncompleteVerification error
func MissingSteps(err error) []string {
	var le *LedgerError
	if !As(err, &le) || le.Kind != KindIncompleteVerification {
		return nil
	}
	missing, _ := le.Context["missing"].([]string)
	return missing
}

// Common constructors

// NewNotFound creates a NOT_FOUND error for the named entity
func NewNotFound(entity, key string) *LedgerError {
	return Newf(KindNotFound, "%s for %s does not exist", entity, key).WithContext("key", key)
}

// NewAlreadyVoted creates an ALREADY_VOTED error
func NewAlreadyVoted(voterID string) *LedgerError {
	return Newf(KindAlreadyVoted, "voter %s has already voted", voterID).WithContext("voter_id", voterID)
}

// NewIncompleteVerification lists the checks still outstanding
func NewIncompleteVerification(missing []string) *LedgerError {
	return Newf(KindIncompleteVerification,
		"all verification steps must be completed before casting vote (missing: %s)",
		strings.Join(missing, ", ")).WithContext("missing", missing)
}

// NewInvalidStep creates an INVALID_STEP error
func NewInvalidStep(step string) *LedgerError {
	return Newf(KindInvalidStep, "invalid verification step: %s", step).WithContext("step", step)
}

// NewStorageError wraps a store failure
func NewStorageError(op string, cause error) *LedgerError {
	return Wrap(cause, KindStorage, "failed to "+op).WithContext("op", op)
}

// Re-exported standard helpers so callers need a single errors import.
var (
	As     = stderrors.As
	Is     = stderrors.Is
	Unwrap = stderrors.Unwrap
	Join   = stderrors.Join
)
