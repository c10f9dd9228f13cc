package integrity

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/medvault/dlt-phr/pkg/crypto"
)

func TestVerifyLocal(t *testing.T) {
	plaintext := []byte("hello-record")
	assert.True(t, VerifyLocal(plaintext, crypto.Hash(plaintext)))
	assert.False(t, VerifyLocal(plaintext, crypto.Hash([]byte("tampered"))))
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name            string
		localOK         bool
		anchorAvailable bool
		anchorOK        bool
		want            Verdict
	}{
		{"all checks pass", true, true, true, FullyVerified},
		{"no anchor available", true, false, false, LocallyVerifiedOnly},
		{"anchor disagrees", true, true, false, AnchorMismatch},
		{"local mismatch", false, false, false, LocalMismatch},
		{"local mismatch dominates anchor", false, true, true, LocalMismatch},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.localOK, tt.anchorAvailable, tt.anchorOK))
		})
	}
}

func TestCheckFullyVerified(t *testing.T) {
	plaintext := []byte("report body")
	hash := crypto.Hash(plaintext)

	report := Check(plaintext, hash, hash, true)
	assert.Equal(t, FullyVerified, report.Verdict)
	assert.True(t, report.LocalOK)
	assert.True(t, report.AnchorOK)
	assert.False(t, report.Blocking())
	assert.Equal(t, hash, report.ComputedHash)
}

func TestCheckAnchorUnavailable(t *testing.T) {
	plaintext := []byte("report body")
	hash := crypto.Hash(plaintext)

	report := Check(plaintext, hash, "", false)
	assert.Equal(t, LocallyVerifiedOnly, report.Verdict)
	assert.False(t, report.Blocking())
}

func TestCheckAnchorMismatchIsAdvisory(t *testing.T) {
	plaintext := []byte("report body")

	report := Check(plaintext, crypto.Hash(plaintext), crypto.Hash([]byte("other")), true)
	assert.Equal(t, AnchorMismatch, report.Verdict)
	assert.False(t, report.Blocking())
}

func TestCheckLocalMismatchBlocks(t *testing.T) {
	plaintext := []byte("report body")
	corruptedHash := crypto.Hash([]byte("what was originally stored"))

	report := Check(plaintext, corruptedHash, corruptedHash, true)
	assert.Equal(t, LocalMismatch, report.Verdict)
	assert.True(t, report.Blocking())
}
