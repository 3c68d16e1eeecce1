package main

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"voter-ledger/encryption"
	"voter-ledger/models"
)

func setupEnv(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("VOTELEDGER_STORAGE_BACKEND", "json")
	t.Setenv("VOTELEDGER_DATA_DIR", dir)
	t.Setenv("VOTELEDGER_LOG_LEVEL", "3")
	return dir
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCmd()
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestRecordStatusVerifyExport(t *testing.T) {
	setupEnv(t)

	var voterKey string
	for _, step := range []string{"id_verification", "face_verification", "iris_verification", "vote_cast"} {
		args := []string{"record", "-o", "json", "--voter-id", "ABC1234567", "--booth", "3", "--step", step}
		if voterKey != "" {
			args = append(args, "--voter-key", voterKey)
		}
		out, err := run(t, args...)
		require.NoError(t, err)

		var receipt models.Receipt
		require.NoError(t, json.Unmarshal([]byte(out), &receipt))
		assert.True(t, receipt.Changed)
		voterKey = receipt.VoterKey
	}

	out, err := run(t, "status", voterKey)
	require.NoError(t, err)
	assert.Contains(t, out, "vote: true")

	out, err = run(t, "verify", "-o", "json", voterKey)
	require.NoError(t, err)
	assert.Contains(t, out, `"intact": true`)

	_, err = run(t, "record", "--voter-id", "ABC1234567", "--booth", "3", "--step", "vote_cast")
	assert.Error(t, err)

	out, err = run(t, "export", "--sign", "--redact")
	require.NoError(t, err)
	var signed encryption.SignedExport
	require.NoError(t, json.Unmarshal([]byte(out), &signed))
	require.Len(t, signed.Trail.VoteRecords, 1)
	assert.NotEqual(t, "ABC1234567", signed.Trail.VoteRecords[0].VoterID)

	ok, err := encryption.VerifyExport(&signed)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestKeygenIsIdempotent(t *testing.T) {
	setupEnv(t)

	first, err := run(t, "keygen")
	require.NoError(t, err)
	assert.Contains(t, first, "new operator key")

	second, err := run(t, "keygen")
	require.NoError(t, err)
	assert.Contains(t, second, "existing operator key")
}

func TestStatusUnknownVoter(t *testing.T) {
	setupEnv(t)
	_, err := run(t, "status", "missing")
	assert.Error(t, err)
}

func TestUnknownStorageBackend(t *testing.T) {
	setupEnv(t)
	t.Setenv("VOTELEDGER_STORAGE_BACKEND", "s3")
	_, err := run(t, "status", "k")
	assert.Error(t, err)
}
