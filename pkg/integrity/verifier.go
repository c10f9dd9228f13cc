package integrity

import (
	"github.com/medvault/dlt-phr/pkg/crypto"
)

// Verdict classifies the outcome of an integrity check
type Verdict string

const (
	// FullyVerified means the plaintext matched both the stored hash and the
	// ledger-anchored hash.
	FullyVerified Verdict = "fully_verified"
	// LocallyVerifiedOnly means the stored hash matched but no ledger anchor
	// was available for cross-checking.
	LocallyVerifiedOnly Verdict = "locally_verified_only"
	// AnchorMismatch means the stored hash matched but the ledger anchor
	// disagreed. Advisory: plaintext is still released with this verdict.
	AnchorMismatch Verdict = "anchor_mismatch"
	// LocalMismatch means the plaintext does not match the stored hash. This
	// is the only verdict that blocks plaintext delivery.
	LocalMismatch Verdict = "local_mismatch"
)

// Report is the structured result of an integrity check
type Report struct {
	Verdict         Verdict `json:"verdict"`
	LocalOK         bool    `json:"local_ok"`
	AnchorAvailable bool    `json:"anchor_available"`
	AnchorOK        bool    `json:"anchor_ok"`
	ComputedHash    string  `json:"computed_hash"`
}

// Blocking reports whether the verdict must withhold plaintext from the caller
func (r Report) Blocking() bool {
	return r.Verdict == LocalMismatch
}

// VerifyLocal recomputes the plaintext hash and compares it to the stored
// reference hash.
func VerifyLocal(plaintext []byte, expectedHash string) bool {
	return crypto.Hash(plaintext) == expectedHash
}

// VerifyAnchored compares the plaintext hash against an externally anchored
// hash.
func VerifyAnchored(plaintext []byte, ledgerHash string) bool {
	return crypto.Hash(plaintext) == ledgerHash
}

// Classify maps the component check results to a verdict. The local check
// dominates: a local mismatch is terminal regardless of the anchor state, and
// an unavailable anchor degrades the verdict rather than failing it.
func Classify(localOK, anchorAvailable, anchorOK bool) Verdict {
	if !localOK {
		return LocalMismatch
	}
	if !anchorAvailable {
		return LocallyVerifiedOnly
	}
	if !anchorOK {
		return AnchorMismatch
	}
	return FullyVerified
}

// Check runs the full verification pipeline against a stored hash and an
// optional anchored hash. Pass anchorAvailable=false when the ledger had no
// anchor or could not be reached; absence is never an integrity failure.
func Check(plaintext []byte, expectedHash, anchoredHash string, anchorAvailable bool) Report {
	computed := crypto.Hash(plaintext)
	localOK := computed == expectedHash
	anchorOK := anchorAvailable && computed == anchoredHash

	return Report{
		Verdict:         Classify(localOK, anchorAvailable, anchorOK),
		LocalOK:         localOK,
		AnchorAvailable: anchorAvailable,
		AnchorOK:        anchorOK,
		ComputedHash:    computed,
	}
}
