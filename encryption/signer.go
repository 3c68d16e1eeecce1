// Package encryption signs exported audit trails with an operator key so a
// reviewer can check that an export came from this node and was not edited.
package encryption

import (
	"crypto/ecdsa"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"golang.org/x/crypto/sha3"

	"voter-ledger/models"
)

// KeyFileName is the operator credential file inside the data directory
const KeyFileName = "operator_credentials.json"

type OperatorCredentials struct {
	Address    string `json:"address"`
	PublicKey  string `json:"public_key"`
	PrivateKey string `json:"private_key"`
}

// SignedExport is an audit trail together with the operator's signature over it
type SignedExport struct {
	Trail     *models.AuditTrail `json:"trail"`
	Digest    string             `json:"digest"`
	Signature string             `json:"signature"`
	Signer    string             `json:"signer"`
}

// Signer signs and verifies audit exports with a secp256k1 key
type Signer struct {
	key *ecdsa.PrivateKey
}

func NewSigner(key *ecdsa.PrivateKey) *Signer {
	return &Signer{key: key}
}

// LoadOrGenerateKey restores the operator key from dir, creating and
// persisting a new one on first use
func LoadOrGenerateKey(dir string) (*ecdsa.PrivateKey, bool, error) {
	keyPath := filepath.Join(dir, KeyFileName)

	if data, err := os.ReadFile(keyPath); err == nil {
		var creds OperatorCredentials
		if err := json.Unmarshal(data, &creds); err != nil {
			return nil, false, fmt.Errorf("failed to parse operator credentials: %v", err)
		}

		privateKey, err := crypto.HexToECDSA(strings.TrimPrefix(creds.PrivateKey, "0x"))
		if err != nil {
			return nil, false, fmt.Errorf("failed to restore operator private key: %v", err)
		}
		return privateKey, false, nil
	} else if !os.IsNotExist(err) {
		return nil, false, fmt.Errorf("failed to read operator credentials: %v", err)
	}

	privateKey, err := crypto.GenerateKey()
	if err != nil {
		return nil, false, fmt.Errorf("failed to generate operator key: %v", err)
	}

	creds := OperatorCredentials{
		Address:    crypto.PubkeyToAddress(privateKey.PublicKey).Hex(),
		PublicKey:  hexutil.Encode(crypto.FromECDSAPub(&privateKey.PublicKey)),
		PrivateKey: hexutil.Encode(crypto.FromECDSA(privateKey)),
	}
	data, err := json.MarshalIndent(creds, "", "  ")
	if err != nil {
		return nil, false, fmt.Errorf("failed to marshal operator credentials: %v", err)
	}

	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, false, fmt.Errorf("failed to create key directory: %v", err)
	}
	if err := os.WriteFile(keyPath, data, 0o600); err != nil {
		return nil, false, fmt.Errorf("failed to save operator credentials: %v", err)
	}
	return privateKey, true, nil
}

// Address returns the signer's Ethereum-style address
func (s *Signer) Address() common.Address {
	return crypto.PubkeyToAddress(s.key.PublicKey)
}

// Sign creates a recoverable signature over the Keccak-256 digest of data
func (s *Signer) Sign(data []byte) ([]byte, error) {
	return crypto.Sign(Keccak256(data), s.key)
}

// SignTrail signs the canonical JSON encoding of trail
func (s *Signer) SignTrail(trail *models.AuditTrail) (*SignedExport, error) {
	payload, err := json.Marshal(trail)
	if err != nil {
		return nil, fmt.Errorf("failed to encode audit trail: %v", err)
	}
	sig, err := s.Sign(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to sign audit trail: %v", err)
	}
	return &SignedExport{
		Trail:     trail,
		Digest:    hexutil.Encode(Keccak256(payload)),
		Signature: hexutil.Encode(sig),
		Signer:    s.Address().Hex(),
	}, nil
}

// VerifyExport checks that export was signed by its claimed signer and that
// the trail still matches the signed digest
func VerifyExport(export *SignedExport) (bool, error) {
	payload, err := json.Marshal(export.Trail)
	if err != nil {
		return false, fmt.Errorf("failed to encode audit trail: %v", err)
	}
	digest := Keccak256(payload)
	if hexutil.Encode(digest) != export.Digest {
		return false, nil
	}

	sig, err := hexutil.Decode(export.Signature)
	if err != nil {
		return false, fmt.Errorf("invalid signature encoding: %v", err)
	}
	pub, err := crypto.SigToPub(digest, sig)
	if err != nil {
		return false, nil
	}
	return crypto.PubkeyToAddress(*pub) == common.HexToAddress(export.Signer), nil
}

// Keccak256 computes Keccak-256 hash
func Keccak256(data ...[]byte) []byte {
	d := sha3.NewLegacyKeccak256()
	for _, b := range data {
		d.Write(b)
	}
	return d.Sum(nil)
}
