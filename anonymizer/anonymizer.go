// Package anonymizer redacts voter identity from exported audit trails
package anonymizer

import (
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"

	"voter-ledger/models"
)

// Anonymizer replaces voter IDs with salted Keccak-256 pseudonyms. The same
// salt always maps a voter ID to the same pseudonym, so redacted exports stay
// comparable with each other.
type Anonymizer struct {
	salt []byte
}

func New(salt string) *Anonymizer {
	return &Anonymizer{salt: []byte(salt)}
}

// Pseudonym returns the redacted form of voterID
func (a *Anonymizer) Pseudonym(voterID string) string {
	return hexutil.Encode(crypto.Keccak256(a.salt, []byte(voterID)))
}

// RedactTrail returns a copy of trail with every voter ID pseudonymized.
// Record hashes and flags are kept, so they still match the live ledger.
func (a *Anonymizer) RedactTrail(trail *models.AuditTrail) *models.AuditTrail {
	redacted := &models.AuditTrail{
		ExportedAt:        trail.ExportedAt,
		VoteRecords:       make([]*models.VoteRecord, len(trail.VoteRecords)),
		VoterStatuses:     make([]*models.VoterStatus, len(trail.VoterStatuses)),
		BoothStats:        trail.BoothStats,
		Integrity:         trail.Integrity,
		IntegrityVerified: trail.IntegrityVerified,
	}

	for i, r := range trail.VoteRecords {
		record := *r
		record.VoterID = a.Pseudonym(r.VoterID)
		redacted.VoteRecords[i] = &record
	}
	for i, s := range trail.VoterStatuses {
		status := *s
		status.VoterID = a.Pseudonym(s.VoterID)
		redacted.VoterStatuses[i] = &status
	}
	return redacted
}
