package chaincode

import (
	"encoding/json"
	"testing"

	"github.com/hyperledger/fabric-chaincode-go/shimtest"
	"github.com/hyperledger/fabric-contract-api-go/contractapi"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	ledgererrors "voter-ledger/errors"
	"voter-ledger/hashchain"
	"voter-ledger/models"
)

type harness struct {
	stub     *shimtest.MockStub
	ctx      *contractapi.TransactionContext
	contract *VoteAuthContract
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	stub := shimtest.NewMockStub("voteauth", nil)
	ctx := new(contractapi.TransactionContext)
	ctx.SetStub(stub)

	// queries read the timestamp of the last transaction
	stub.MockTransactionStart("init")
	stub.MockTransactionEnd("init")

	return &harness{
		stub:     stub,
		ctx:      ctx,
		contract: NewVoteAuthContract(hashchain.SHA256, zerolog.Nop()),
	}
}

// invoke runs fn inside a mock transaction
func (h *harness) invoke(txID string, fn func() error) error {
	h.stub.MockTransactionStart(txID)
	defer h.stub.MockTransactionEnd(txID)
	return fn()
}

func (h *harness) record(t *testing.T, txID, step string) error {
	t.Helper()
	return h.invoke(txID, func() error {
		return h.contract.RecordVoteVerification(h.ctx, "uuid-1", "ABC1234567", 7, step)
	})
}

func TestContractVotingFlow(t *testing.T) {
	h := newHarness(t)

	require.NoError(t, h.record(t, "tx-1", "id_verification"))
	require.NoError(t, h.record(t, "tx-2", "face_verification"))

	err := h.record(t, "tx-3", "vote_cast")
	require.ErrorIs(t, err, ledgererrors.ErrIncompleteVerification)
	assert.Equal(t, []string{"iris_verification"}, ledgererrors.MissingSteps(err))

	require.NoError(t, h.record(t, "tx-4", "iris_verification"))
	require.NoError(t, h.record(t, "tx-5", "vote_cast"))

	assert.ErrorIs(t, h.record(t, "tx-6", "face_verification"), ledgererrors.ErrAlreadyVoted)

	status, err := h.contract.GetVoterStatus(h.ctx, "uuid-1")
	require.NoError(t, err)
	assert.True(t, status.HasVoted)

	stats, err := h.contract.GetPollingBoothStats(h.ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), stats.TotalVotes)

	ok, err := h.contract.VerifyVoteIntegrity(h.ctx, "uuid-1")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = h.contract.VerifyVoteChain(h.ctx, "uuid-1")
	require.NoError(t, err)
	assert.True(t, ok)

	records, err := h.contract.GetAllVoteRecords(h.ctx)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.True(t, records[0].VoteCast)

	history, err := h.contract.GetVoteHistory(h.ctx, "ABC1234567")
	require.NoError(t, err)
	assert.Len(t, history, 1)

	history, err = h.contract.GetVoteHistory(h.ctx, "unknown")
	require.NoError(t, err)
	assert.Empty(t, history)
}

func TestContractUsesTransactionIDs(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.record(t, "tx-abc", "id_verification"))

	raw := h.stub.State["hist_uuid-1\x0000000000000000000001"]
	require.NotNil(t, raw)
	var version models.RecordVersion
	require.NoError(t, json.Unmarshal(raw, &version))
	assert.Equal(t, "tx-abc", version.TxID)
	assert.Equal(t, models.StepIDVerification, version.Step)
}

func TestContractRejectsUnknownStep(t *testing.T) {
	h := newHarness(t)
	err := h.record(t, "tx-1", "fingerprint")
	assert.ErrorIs(t, err, ledgererrors.ErrInvalidStep)
}

func TestContractDetectsTampering(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.record(t, "tx-1", "id_verification"))

	raw := h.stub.State["vote_uuid-1"]
	var record models.VoteRecord
	require.NoError(t, json.Unmarshal(raw, &record))
	record.FaceVerified = true
	tampered, err := json.Marshal(record)
	require.NoError(t, err)
	h.stub.State["vote_uuid-1"] = tampered

	ok, err := h.contract.VerifyVoteIntegrity(h.ctx, "uuid-1")
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = h.contract.VerifyVoteChain(h.ctx, "uuid-1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestContractNotFound(t *testing.T) {
	h := newHarness(t)
	_, err := h.contract.GetVoteRecord(h.ctx, "missing")
	assert.ErrorIs(t, err, ledgererrors.ErrNotFound)

	stats, err := h.contract.GetPollingBoothStats(h.ctx, 3)
	require.NoError(t, err)
	assert.Zero(t, stats.TotalVotes)
}
