package types

import "time"

// RequestStatus is the lifecycle status of an access request
type RequestStatus string

const (
	RequestPending  RequestStatus = "pending"
	RequestApproved RequestStatus = "approved"
	RequestDenied   RequestStatus = "denied"
	RequestExpired  RequestStatus = "expired"
)

// RequestScope declares which records a request asks for
type RequestScope string

const (
	ScopeAllRecords      RequestScope = "all_records"
	ScopeSpecificRecords RequestScope = "specific_records"
)

// Valid reports whether the scope is one of the known scopes
func (s RequestScope) Valid() bool {
	return s == ScopeAllRecords || s == ScopeSpecificRecords
}

// GrantedKey is the per-record key material created at approval time.
// OwnerSymmetricKey may be empty when approval was given without the owner's
// signature; such a grant carries no decrypt capability until filled in.
type GrantedKey struct {
	RecordID          string `json:"record_id"`
	AccessToken       string `json:"access_token"`        // opaque, 32 random bytes hex
	OwnerSymmetricKey string `json:"owner_symmetric_key"` // hex, may be empty
}

// ExtensionStatus is the status of an extension sub-request
type ExtensionStatus string

const (
	ExtensionPending  ExtensionStatus = "pending"
	ExtensionApproved ExtensionStatus = "approved"
	ExtensionDenied   ExtensionStatus = "denied"
)

// ExtensionRequest asks for additional access time on an approved request
type ExtensionRequest struct {
	AdditionalDays int             `json:"additional_days"`
	Reason         string          `json:"reason"`
	Status         ExtensionStatus `json:"status"`
	RequestedAt    time.Time       `json:"requested_at"`
	ProcessedAt    *time.Time      `json:"processed_at,omitempty"`
	LedgerTxRef    string          `json:"ledger_tx_ref,omitempty"`
}

// AccessRequest is one doctor-to-patient access solicitation. At most one
// pending request may exist per (requester, owner) pair; GrantedKeys is
// non-empty exactly when the request is approved.
type AccessRequest struct {
	ID                string             `json:"id" db:"id"`
	RequesterID       string             `json:"requester_id" db:"requester_id"`
	OwnerID           string             `json:"owner_id" db:"owner_id"`
	Reason            string             `json:"reason" db:"reason"`
	Scope             RequestScope       `json:"scope" db:"scope"`
	Status            RequestStatus      `json:"status" db:"status"`
	SelectedRecords   []string           `json:"selected_records"`
	GrantedKeys       []GrantedKey       `json:"granted_keys"`
	DecisionNotes     string             `json:"decision_notes,omitempty"`
	AccessExpiresAt   *time.Time         `json:"access_expires_at,omitempty"`
	ExtensionRequests []ExtensionRequest `json:"extension_requests"`
	CreatedAt         time.Time          `json:"created_at" db:"created_at"`
	UpdatedAt         time.Time          `json:"updated_at" db:"updated_at"`
}

// GrantFor returns the granted key entry for a record, or nil
func (r *AccessRequest) GrantFor(recordID string) *GrantedKey {
	for i := range r.GrantedKeys {
		if r.GrantedKeys[i].RecordID == recordID {
			return &r.GrantedKeys[i]
		}
	}
	return nil
}

// AccessExpired reports whether the approved access window has elapsed
func (r *AccessRequest) AccessExpired(now time.Time) bool {
	return r.AccessExpiresAt != nil && !r.AccessExpiresAt.After(now)
}

// DefaultAccessDays is the grant duration applied when a request is approved
// without an explicit duration.
const DefaultAccessDays = 30

// PendingRetentionDays is how long an unacted pending request is kept before
// the sweep expires it.
const PendingRetentionDays = 7
