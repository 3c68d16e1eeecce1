package models

import (
	"time"

	"voter-ledger/hashchain"
)

// VoteRecord is the per-voter verification record. One exists per voter key.
type VoteRecord struct {
	VoterKey      string              `json:"voter_uuid"`
	VoterID       string              `json:"voter_id"`
	BoothID       int64               `json:"polling_booth_id"`
	CreatedAt     time.Time           `json:"timestamp"`
	IDVerified    bool                `json:"id_verified"`
	FaceVerified  bool                `json:"face_verified"`
	IrisVerified  bool                `json:"iris_verified"`
	VoteCast      bool                `json:"vote_cast"`
	RecordHash    string              `json:"blockchain_hash"`
	PreviousHash  string              `json:"previous_hash"`
	HashAlgorithm hashchain.Algorithm `json:"hash_algorithm"`
	Version       uint64              `json:"version"`
}

// Fields returns the values covered by the record fingerprint
func (r *VoteRecord) Fields() hashchain.Fields {
	return hashchain.Fields{
		VoterKey:     r.VoterKey,
		VoterID:      r.VoterID,
		BoothID:      r.BoothID,
		IDVerified:   r.IDVerified,
		FaceVerified: r.FaceVerified,
		IrisVerified: r.IrisVerified,
		VoteCast:     r.VoteCast,
	}
}

// IsVerified reports whether step has been completed
func (r *VoteRecord) IsVerified(step Step) bool {
	switch step {
	case StepIDVerification:
		return r.IDVerified
	case StepFaceVerification:
		return r.FaceVerified
	case StepIrisVerification:
		return r.IrisVerified
	case StepVoteCast:
		return r.VoteCast
	}
	return false
}

// MarkVerified sets the flag for step. Flags are never cleared.
func (r *VoteRecord) MarkVerified(step Step) {
	switch step {
	case StepIDVerification:
		r.IDVerified = true
	case StepFaceVerification:
		r.FaceVerified = true
	case StepIrisVerification:
		r.IrisVerified = true
	case StepVoteCast:
		r.VoteCast = true
	}
}

// MissingChecks lists the verification steps not yet completed
func (r *VoteRecord) MissingChecks() []Step {
	var missing []Step
	for _, step := range AllSteps() {
		if !r.IsVerified(step) {
			missing = append(missing, step)
		}
	}
	return missing
}

// Verified reports whether all three checks passed
func (r *VoteRecord) Verified() bool {
	return len(r.MissingChecks()) == 0
}

// RecordVersion is an immutable snapshot written after every accepted step
type RecordVersion struct {
	Seq        uint64     `json:"seq"`
	Step       Step       `json:"step"`
	TxID       string     `json:"tx_id"`
	RecordedAt time.Time  `json:"recorded_at"`
	Record     VoteRecord `json:"record"`
}

// Link converts the version for chain validation
func (v *RecordVersion) Link() hashchain.Link {
	return hashchain.Link{
		Seq:          v.Seq,
		Algorithm:    v.Record.HashAlgorithm,
		Fields:       v.Record.Fields(),
		PreviousHash: v.Record.PreviousHash,
		Hash:         v.Record.RecordHash,
	}
}

// Receipt is returned for every successful RecordVerificationStep call
type Receipt struct {
	TxID         string    `json:"tx_id"`
	VoterKey     string    `json:"voter_uuid"`
	Step         Step      `json:"step"`
	RecordHash   string    `json:"blockchain_hash"`
	PreviousHash string    `json:"previous_hash"`
	Changed      bool      `json:"changed"`
	RecordedAt   time.Time `json:"recorded_at"`
}
