package types

import "time"

// RecordKind classifies an uploaded record
type RecordKind string

const (
	RecordKindPrescription RecordKind = "prescription"
	RecordKindReport       RecordKind = "report"
	RecordKindBill         RecordKind = "bill"
)

// Valid reports whether the record kind is one of the known kinds
func (k RecordKind) Valid() bool {
	switch k {
	case RecordKindPrescription, RecordKindReport, RecordKindBill:
		return true
	}
	return false
}

// PrincipalKind distinguishes the record owner from a granted delegate
type PrincipalKind string

const (
	PrincipalOwner    PrincipalKind = "owner"
	PrincipalDelegate PrincipalKind = "delegate"
)

// Principal identifies an authenticated caller. Every authorization check
// matches exhaustively on Kind; there is no string role fallback.
type Principal struct {
	Kind PrincipalKind `json:"kind"`
	ID   string        `json:"id"`
}

// AuthorizationStatus is the status of an authorization entry on a record
type AuthorizationStatus string

const (
	AuthorizationApproved AuthorizationStatus = "approved"
	AuthorizationRevoked  AuthorizationStatus = "revoked"
)

// AuthorizedPrincipal is one entry in a record's authorization list
type AuthorizedPrincipal struct {
	PrincipalID string              `json:"principal_id"`
	Kind        PrincipalKind       `json:"kind"`
	GrantedAt   time.Time           `json:"granted_at"`
	ExpiresAt   *time.Time          `json:"expires_at,omitempty"` // nil for the owner
	Status      AuthorizationStatus `json:"status"`
}

// Active reports whether the entry currently authorizes access
func (a *AuthorizedPrincipal) Active(now time.Time) bool {
	if a.Status != AuthorizationApproved {
		return false
	}
	if a.ExpiresAt != nil && !a.ExpiresAt.After(now) {
		return false
	}
	return true
}

// LedgerAnchor references the externally anchored copy of a content hash
type LedgerAnchor struct {
	LedgerRecordID string `json:"ledger_record_id"`
	TxRef          string `json:"tx_ref"`
	BlockRef       string `json:"block_ref"`
}

// EncryptedRecord is the metadata for one uploaded file. Ciphertext, content
// hash and IV are immutable after upload; only the authorization list is
// mutated, always by whole-list replacement.
type EncryptedRecord struct {
	ID                   string                `json:"id" db:"id"`
	OwnerID              string                `json:"owner_id" db:"owner_id"`
	RecordKind           RecordKind            `json:"record_kind" db:"record_kind"`
	DisplayName          string                `json:"display_name" db:"display_name"`
	OriginalFilename     string                `json:"original_filename" db:"original_filename"`
	CiphertextLocator    string                `json:"ciphertext_locator" db:"ciphertext_locator"`
	ContentHash          string                `json:"content_hash" db:"content_hash"` // hex SHA-256 of plaintext
	IV                   string                `json:"iv" db:"iv"`                     // hex, 16 bytes
	IsEncrypted          bool                  `json:"is_encrypted" db:"is_encrypted"`
	LedgerAnchor         *LedgerAnchor         `json:"ledger_anchor,omitempty"`
	AuthorizedPrincipals []AuthorizedPrincipal `json:"authorized_principals"`
	CreatedAt            time.Time             `json:"created_at" db:"created_at"`
	UpdatedAt            time.Time             `json:"updated_at" db:"updated_at"`
}

// OwnerEntry returns the owner's authorization entry, which is always present
func (r *EncryptedRecord) OwnerEntry() *AuthorizedPrincipal {
	for i := range r.AuthorizedPrincipals {
		if r.AuthorizedPrincipals[i].Kind == PrincipalOwner {
			return &r.AuthorizedPrincipals[i]
		}
	}
	return nil
}

// FindPrincipal returns the authorization entry for the given principal, or nil
func (r *EncryptedRecord) FindPrincipal(principalID string) *AuthorizedPrincipal {
	for i := range r.AuthorizedPrincipals {
		if r.AuthorizedPrincipals[i].PrincipalID == principalID {
			return &r.AuthorizedPrincipals[i]
		}
	}
	return nil
}
