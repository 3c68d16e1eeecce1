// Package hashchain computes the tamper-evident fingerprints that chain each
// version of a vote record to the version before it.
package hashchain

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"fmt"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"golang.org/x/crypto/blake2b"
)

// Algorithm names a supported digest
type Algorithm string

const (
	SHA256    Algorithm = "sha256"
	Keccak256 Algorithm = "keccak256"
	Blake2b   Algorithm = "blake2b"

	DefaultAlgorithm = SHA256
)

// Fields are the record values covered by a fingerprint
type Fields struct {
	VoterKey     string
	VoterID      string
	BoothID      int64
	IDVerified   bool
	FaceVerified bool
	IrisVerified bool
	VoteCast     bool
}

const (
	flagID byte = 1 << iota
	flagFace
	flagIris
	flagVote
)

// Algorithms lists the supported digests
func Algorithms() []Algorithm {
	return []Algorithm{SHA256, Keccak256, Blake2b}
}

// ParseAlgorithm validates an algorithm name; empty selects the default
func ParseAlgorithm(name string) (Algorithm, error) {
	if name == "" {
		return DefaultAlgorithm, nil
	}
	for _, alg := range Algorithms() {
		if string(alg) == name {
			return alg, nil
		}
	}
	return "", fmt.Errorf("unsupported hash algorithm %q", name)
}

func (a Algorithm) sum(data []byte) ([]byte, error) {
	switch a {
	case SHA256:
		h := sha256.Sum256(data)
		return h[:], nil
	case Keccak256:
		return crypto.Keccak256(data), nil
	case Blake2b:
		h := blake2b.Sum256(data)
		return h[:], nil
	default:
		return nil, fmt.Errorf("unsupported hash algorithm %q", string(a))
	}
}

// encode serialises fields and the previous hash with length prefixes so that
// no two distinct inputs share an encoding.
func encode(fields Fields, previousHash string) []byte {
	buffer := new(bytes.Buffer)
	writeString(buffer, fields.VoterKey)
	writeString(buffer, fields.VoterID)
	binary.Write(buffer, binary.BigEndian, fields.BoothID)

	var flags byte
	if fields.IDVerified {
		flags |= flagID
	}
	if fields.FaceVerified {
		flags |= flagFace
	}
	if fields.IrisVerified {
		flags |= flagIris
	}
	if fields.VoteCast {
		flags |= flagVote
	}
	buffer.WriteByte(flags)
	writeString(buffer, previousHash)
	return buffer.Bytes()
}

func writeString(buffer *bytes.Buffer, s string) {
	binary.Write(buffer, binary.BigEndian, uint32(len(s)))
	buffer.WriteString(s)
}

// ComputeFingerprint returns the 0x-prefixed hex digest of fields chained to
// previousHash. It is a pure function of its inputs.
func ComputeFingerprint(alg Algorithm, fields Fields, previousHash string) (string, error) {
	sum, err := alg.sum(encode(fields, previousHash))
	if err != nil {
		return "", err
	}
	return hexutil.Encode(sum), nil
}

// Hasher binds an algorithm for repeated use
type Hasher struct {
	alg Algorithm
}

// NewHasher returns a Hasher for alg
func NewHasher(alg Algorithm) (*Hasher, error) {
	if _, err := alg.sum(nil); err != nil {
		return nil, err
	}
	return &Hasher{alg: alg}, nil
}

// Algorithm returns the bound algorithm
func (h *Hasher) Algorithm() Algorithm {
	return h.alg
}

// Fingerprint computes the fingerprint of fields chained to previousHash
func (h *Hasher) Fingerprint(fields Fields, previousHash string) string {
	// alg was validated in NewHasher
	fp, _ := ComputeFingerprint(h.alg, fields, previousHash)
	return fp
}

// Verify reports whether want is the fingerprint of fields and previousHash
func (h *Hasher) Verify(fields Fields, previousHash, want string) bool {
	return h.Fingerprint(fields, previousHash) == want
}
