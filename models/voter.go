package models

import "time"

// VoterStatus tracks whether a voter has voted. HasVoted always equals the
// VoteCast flag of the voter's VoteRecord.
type VoterStatus struct {
	VoterKey string    `json:"voter_uuid"`
	VoterID  string    `json:"voter_id"`
	HasVoted bool      `json:"has_voted"`
	VotedAt  time.Time `json:"voted_at"`
	BoothID  int64     `json:"polling_booth_id"`
}

// BoothStats aggregates votes cast at one polling booth
type BoothStats struct {
	BoothID     int64     `json:"booth_id"`
	TotalVotes  uint64    `json:"total_votes"`
	LastUpdated time.Time `json:"last_updated"`
}

// AuditTrail is a full export of ledger state for compliance review
type AuditTrail struct {
	ExportedAt        time.Time       `json:"export_timestamp"`
	VoteRecords       []*VoteRecord   `json:"vote_records"`
	VoterStatuses     []*VoterStatus  `json:"voter_statuses"`
	BoothStats        []*BoothStats   `json:"booth_statistics"`
	Integrity         map[string]bool `json:"integrity"`
	IntegrityVerified bool            `json:"integrity_verified"`
}

// LedgerSummary holds totals for dashboards
type LedgerSummary struct {
	TotalRecords uint64 `json:"total_records"`
	TotalVoted   uint64 `json:"total_voted"`
	TotalBooths  uint64 `json:"total_booths"`
	TotalVotes   uint64 `json:"total_votes"`
}
