// Package chaincode runs the vote ledger as Hyperledger Fabric chaincode.
// The ordering service serializes transactions, so each invocation builds a
// ledger over its own stub with the transaction timestamp as clock and the
// transaction ID as receipt ID, keeping endorsement deterministic.
package chaincode

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hyperledger/fabric-contract-api-go/contractapi"
	"github.com/rs/zerolog"

	ledgererrors "voter-ledger/errors"
	"voter-ledger/hashchain"
	"voter-ledger/ledger"
	"voter-ledger/models"
)

// VerificationEvent is emitted after every accepted step
const VerificationEvent = "VoteVerificationRecorded"

// VoteAuthContract provides functions for recording voter verification
type VoteAuthContract struct {
	contractapi.Contract

	alg    hashchain.Algorithm
	logger zerolog.Logger
}

func NewVoteAuthContract(alg hashchain.Algorithm, logger zerolog.Logger) *VoteAuthContract {
	c := &VoteAuthContract{
		alg:    alg,
		logger: logger.With().Str("component", "chaincode").Logger(),
	}
	c.Name = "VoteAuthContract"
	return c
}

func (c *VoteAuthContract) ledgerFor(ctx contractapi.TransactionContextInterface) (*ledger.VoteLedger, error) {
	stub := ctx.GetStub()

	ts, err := stub.GetTxTimestamp()
	if err != nil {
		return nil, fmt.Errorf("failed to read transaction timestamp: %v", err)
	}
	txTime := ts.AsTime().UTC()

	alg := c.alg
	if alg == "" {
		alg = hashchain.DefaultAlgorithm
	}

	return ledger.New(NewStubStore(stub),
		ledger.WithClock(func() time.Time { return txTime }),
		ledger.WithTxIDGenerator(stub.GetTxID),
		ledger.WithHashAlgorithm(alg),
		ledger.WithLockStripes(1),
		ledger.WithLogger(c.logger),
	)
}

// InitLedger is a no-op: records, statuses and booth counters are created lazily
func (c *VoteAuthContract) InitLedger(ctx contractapi.TransactionContextInterface) error {
	c.logger.Info().Str("tx_id", ctx.GetStub().GetTxID()).Msg("vote authentication ledger initialized")
	return nil
}

// RecordVoteVerification records one verification step for a voter
func (c *VoteAuthContract) RecordVoteVerification(ctx contractapi.TransactionContextInterface, voterUUID string, voterID string, pollingBoothID int64, verificationStep string) error {
	step, err := models.ParseStep(verificationStep)
	if err != nil {
		return err
	}

	l, err := c.ledgerFor(ctx)
	if err != nil {
		return err
	}
	receipt, err := l.RecordVerificationStep(context.Background(), voterUUID, voterID, pollingBoothID, step)
	if err != nil {
		return err
	}
	if !receipt.Changed {
		return nil
	}

	payload, err := json.Marshal(receipt)
	if err != nil {
		return fmt.Errorf("failed to marshal receipt: %v", err)
	}
	return ctx.GetStub().SetEvent(VerificationEvent, payload)
}

// GetVoteRecord retrieves the verification record of a voter
func (c *VoteAuthContract) GetVoteRecord(ctx contractapi.TransactionContextInterface, voterUUID string) (*models.VoteRecord, error) {
	l, err := c.ledgerFor(ctx)
	if err != nil {
		return nil, err
	}
	return l.GetVoteRecord(voterUUID)
}

// GetVoterStatus retrieves whether a voter has voted
func (c *VoteAuthContract) GetVoterStatus(ctx contractapi.TransactionContextInterface, voterUUID string) (*models.VoterStatus, error) {
	l, err := c.ledgerFor(ctx)
	if err != nil {
		return nil, err
	}
	return l.GetVoterStatus(voterUUID)
}

// GetPollingBoothStats retrieves the vote count of a polling booth
func (c *VoteAuthContract) GetPollingBoothStats(ctx contractapi.TransactionContextInterface, boothID int64) (*models.BoothStats, error) {
	l, err := c.ledgerFor(ctx)
	if err != nil {
		return nil, err
	}
	return l.GetPollingBoothStats(boothID)
}

// GetAllVoteRecords retrieves every vote record
func (c *VoteAuthContract) GetAllVoteRecords(ctx contractapi.TransactionContextInterface) ([]*models.VoteRecord, error) {
	l, err := c.ledgerFor(ctx)
	if err != nil {
		return nil, err
	}

	records := []*models.VoteRecord{}
	for record, err := range l.GetAllVoteRecords(context.Background()) {
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}
	return records, nil
}

// VerifyVoteIntegrity checks a record's fingerprint
func (c *VoteAuthContract) VerifyVoteIntegrity(ctx contractapi.TransactionContextInterface, voterUUID string) (bool, error) {
	l, err := c.ledgerFor(ctx)
	if err != nil {
		return false, err
	}
	return l.VerifyVoteIntegrity(voterUUID)
}

// VerifyVoteChain checks every stored version of a record. A broken chain
// is reported as false; lookups that fail are returned as errors.
func (c *VoteAuthContract) VerifyVoteChain(ctx contractapi.TransactionContextInterface, voterUUID string) (bool, error) {
	l, err := c.ledgerFor(ctx)
	if err != nil {
		return false, err
	}

	err = l.VerifyVoteChain(voterUUID)
	var violation *hashchain.ChainViolation
	switch {
	case err == nil:
		return true, nil
	case ledgererrors.As(err, &violation):
		c.logger.Warn().Str("voter_key", voterUUID).Err(err).Msg("vote chain violation")
		return false, nil
	default:
		return false, err
	}
}

// GetVoteHistory retrieves every record for a human-readable voter ID
func (c *VoteAuthContract) GetVoteHistory(ctx contractapi.TransactionContextInterface, voterID string) ([]*models.VoteRecord, error) {
	l, err := c.ledgerFor(ctx)
	if err != nil {
		return nil, err
	}
	history, err := l.GetVoteHistory(context.Background(), voterID)
	if err != nil {
		return nil, err
	}
	if history == nil {
		history = []*models.VoteRecord{}
	}
	return history, nil
}
