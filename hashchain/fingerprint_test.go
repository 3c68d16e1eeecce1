package hashchain

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleFields() Fields {
	return Fields{VoterKey: "k-1", VoterID: "V1", BoothID: 7, IDVerified: true}
}

func TestComputeFingerprintIsDeterministic(t *testing.T) {
	for _, alg := range Algorithms() {
		t.Run(string(alg), func(t *testing.T) {
			a, err := ComputeFingerprint(alg, sampleFields(), "0xabc")
			require.NoError(t, err)
			b, err := ComputeFingerprint(alg, sampleFields(), "0xabc")
			require.NoError(t, err)

			assert.Equal(t, a, b)
			assert.True(t, strings.HasPrefix(a, "0x"))
			assert.Len(t, a, 2+64)
		})
	}
}

func TestComputeFingerprintCoversEveryInput(t *testing.T) {
	base, err := ComputeFingerprint(SHA256, sampleFields(), "0xabc")
	require.NoError(t, err)

	mutations := map[string]func(f *Fields, prev *string){
		"voter key":     func(f *Fields, _ *string) { f.VoterKey = "k-2" },
		"voter id":      func(f *Fields, _ *string) { f.VoterID = "V2" },
		"booth":         func(f *Fields, _ *string) { f.BoothID = 8 },
		"id flag":       func(f *Fields, _ *string) { f.IDVerified = false },
		"face flag":     func(f *Fields, _ *string) { f.FaceVerified = true },
		"iris flag":     func(f *Fields, _ *string) { f.IrisVerified = true },
		"vote flag":     func(f *Fields, _ *string) { f.VoteCast = true },
		"previous hash": func(_ *Fields, prev *string) { *prev = "0xabd" },
	}
	for name, mutate := range mutations {
		t.Run(name, func(t *testing.T) {
			fields, prev := sampleFields(), "0xabc"
			mutate(&fields, &prev)
			got, err := ComputeFingerprint(SHA256, fields, prev)
			require.NoError(t, err)
			assert.NotEqual(t, base, got)
		})
	}
}

func TestFieldBoundariesAreUnambiguous(t *testing.T) {
	a, _ := ComputeFingerprint(SHA256, Fields{VoterKey: "ab", VoterID: "c"}, "")
	b, _ := ComputeFingerprint(SHA256, Fields{VoterKey: "a", VoterID: "bc"}, "")
	assert.NotEqual(t, a, b)
}

func TestAlgorithmsDiffer(t *testing.T) {
	sha, _ := ComputeFingerprint(SHA256, sampleFields(), "")
	keccak, _ := ComputeFingerprint(Keccak256, sampleFields(), "")
	blake, _ := ComputeFingerprint(Blake2b, sampleFields(), "")

	assert.NotEqual(t, sha, keccak)
	assert.NotEqual(t, sha, blake)
	assert.NotEqual(t, keccak, blake)
}

func TestUnknownAlgorithm(t *testing.T) {
	_, err := ComputeFingerprint("md5", sampleFields(), "")
	require.Error(t, err)

	_, err = NewHasher("md5")
	require.Error(t, err)

	_, err = ParseAlgorithm("md5")
	require.Error(t, err)

	alg, err := ParseAlgorithm("")
	require.NoError(t, err)
	assert.Equal(t, DefaultAlgorithm, alg)
}

func TestHasherVerify(t *testing.T) {
	h, err := NewHasher(Keccak256)
	require.NoError(t, err)

	fp := h.Fingerprint(sampleFields(), "")
	assert.True(t, h.Verify(sampleFields(), "", fp))

	tampered := sampleFields()
	tampered.VoteCast = true
	assert.False(t, h.Verify(tampered, "", fp))
}
