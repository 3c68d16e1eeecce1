package hashchain

import "fmt"

// Link is one version of a record as seen by chain validation
type Link struct {
	Seq          uint64
	Algorithm    Algorithm
	Fields       Fields
	PreviousHash string
	Hash         string
}

// ChainViolation describes the first broken link found by ValidateChain
type ChainViolation struct {
	Seq      uint64
	Reason   string
	Expected string
	Actual   string
}

func (v *ChainViolation) Error() string {
	if v.Expected != "" || v.Actual != "" {
		return fmt.Sprintf("version %d: %s (expected %s, got %s)", v.Seq, v.Reason, v.Expected, v.Actual)
	}
	return fmt.Sprintf("version %d: %s", v.Seq, v.Reason)
}

// ValidateChain checks that links form an unbroken, untampered chain: every
// hash recomputes, each link points at its predecessor's hash, the first link
// starts from the empty hash, sequence numbers are contiguous from 1, and no
// verification flag is ever cleared.
func ValidateChain(links []Link) error {
	for i, current := range links {
		if current.Seq != uint64(i+1) {
			return &ChainViolation{
				Seq:      current.Seq,
				Reason:   "invalid sequence",
				Expected: fmt.Sprint(i + 1),
				Actual:   fmt.Sprint(current.Seq),
			}
		}

		expectedPrev := ""
		if i > 0 {
			expectedPrev = links[i-1].Hash
		}
		if current.PreviousHash != expectedPrev {
			return &ChainViolation{Seq: current.Seq, Reason: "invalid previous hash link", Expected: expectedPrev, Actual: current.PreviousHash}
		}

		recomputed, err := ComputeFingerprint(current.Algorithm, current.Fields, current.PreviousHash)
		if err != nil {
			return &ChainViolation{Seq: current.Seq, Reason: err.Error()}
		}
		if recomputed != current.Hash {
			return &ChainViolation{Seq: current.Seq, Reason: "hash mismatch", Expected: recomputed, Actual: current.Hash}
		}

		if i > 0 {
			if err := checkMonotonic(links[i-1], current); err != nil {
				return err
			}
		}
	}
	return nil
}

func checkMonotonic(previous, current Link) error {
	p, c := previous.Fields, current.Fields
	switch {
	case p.VoterKey != c.VoterKey, p.VoterID != c.VoterID, p.BoothID != c.BoothID:
		return &ChainViolation{Seq: current.Seq, Reason: "immutable field changed"}
	case p.IDVerified && !c.IDVerified,
		p.FaceVerified && !c.FaceVerified,
		p.IrisVerified && !c.IrisVerified,
		p.VoteCast && !c.VoteCast:
		return &ChainViolation{Seq: current.Seq, Reason: "verification flag cleared"}
	}
	return nil
}
