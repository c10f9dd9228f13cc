package access

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/medvault/dlt-phr/pkg/config"
	"github.com/medvault/dlt-phr/pkg/crypto"
	"github.com/medvault/dlt-phr/pkg/logger"
	"github.com/medvault/dlt-phr/pkg/monitoring"
	"github.com/medvault/dlt-phr/pkg/types"
)

// RequestStore is the repository surface the workflow service depends on
type RequestStore interface {
	Create(ctx context.Context, request *types.AccessRequest) error
	GetByID(ctx context.Context, requestID string) (*types.AccessRequest, error)
	ListByOwner(ctx context.Context, ownerID string) ([]*types.AccessRequest, error)
	ListByRequester(ctx context.Context, requesterID string) ([]*types.AccessRequest, error)
	UpdateDecision(ctx context.Context, request *types.AccessRequest, expectedStatus types.RequestStatus, authorizations map[string][]types.AuthorizedPrincipal) error
	RevokeGrant(ctx context.Context, recordID string, principals []types.AuthorizedPrincipal, pruned []*types.AccessRequest) error
	ExpirePendingBefore(ctx context.Context, cutoff time.Time) (int64, error)
	ListLapsedApproved(ctx context.Context, now time.Time) ([]*types.AccessRequest, error)
	ActiveGrant(ctx context.Context, requesterID, recordID string) (*types.GrantedKey, error)
}

// RecordSource is the slice of the record repository the workflow needs for
// ownership checks and authorization-list rewrites.
type RecordSource interface {
	GetByID(ctx context.Context, recordID string) (*types.EncryptedRecord, error)
}

// Service drives the access request state machine:
// Pending -> Approved/Denied, with sweeps expiring stale requests.
type Service struct {
	requests RequestStore
	records  RecordSource
	logger   *logger.Logger
	metrics  *monitoring.MetricsCollector

	defaultDurationDays  int
	pendingRetentionDays int
}

// NewService creates a new access workflow service. A nil config falls back
// to the built-in durations.
func NewService(requests RequestStore, records RecordSource, cfg *config.AccessConfig, log *logger.Logger, metrics *monitoring.MetricsCollector) *Service {
	defaultDuration := types.DefaultAccessDays
	pendingRetention := types.PendingRetentionDays
	if cfg != nil {
		if cfg.DefaultDurationDays > 0 {
			defaultDuration = cfg.DefaultDurationDays
		}
		if cfg.PendingRetentionDays > 0 {
			pendingRetention = cfg.PendingRetentionDays
		}
	}

	return &Service{
		requests:             requests,
		records:              records,
		logger:               log,
		metrics:              metrics,
		defaultDurationDays:  defaultDuration,
		pendingRetentionDays: pendingRetention,
	}
}

// CreateInput is a doctor's solicitation for access to a patient's records
type CreateInput struct {
	RequesterID     string
	OwnerID         string
	Reason          string
	Scope           types.RequestScope
	SelectedRecords []string
}

// Create opens a new pending request. The single-pending-per-pair rule is
// enforced atomically by the insert itself.
func (s *Service) Create(ctx context.Context, input CreateInput) (*types.AccessRequest, error) {
	if input.RequesterID == "" || input.OwnerID == "" {
		return nil, types.NewValidationError(types.ErrCodeInvalidInput,
			"requester and owner are required", nil)
	}
	if input.RequesterID == input.OwnerID {
		return nil, types.NewValidationError(types.ErrCodeInvalidInput,
			"cannot request access to your own records", nil)
	}
	if input.Reason == "" {
		return nil, types.NewValidationError(types.ErrCodeInvalidInput,
			"a reason is required", nil)
	}
	if !input.Scope.Valid() {
		return nil, types.NewValidationError(types.ErrCodeInvalidInput,
			"scope must be all_records or specific_records", nil)
	}
	if input.Scope == types.ScopeSpecificRecords && len(input.SelectedRecords) == 0 {
		return nil, types.NewValidationError(types.ErrCodeInvalidInput,
			"specific_records scope requires at least one record", nil)
	}

	for _, recordID := range input.SelectedRecords {
		record, err := s.records.GetByID(ctx, recordID)
		if err != nil {
			return nil, err
		}
		if record.OwnerID != input.OwnerID {
			return nil, types.NewValidationError(types.ErrCodeInvalidInput,
				fmt.Sprintf("record %s does not belong to this patient", recordID), nil)
		}
	}

	request := &types.AccessRequest{
		RequesterID:     input.RequesterID,
		OwnerID:         input.OwnerID,
		Reason:          input.Reason,
		Scope:           input.Scope,
		SelectedRecords: input.SelectedRecords,
	}

	if err := s.requests.Create(ctx, request); err != nil {
		return nil, err
	}

	s.metrics.RecordGrantEvent("requested")
	s.logger.GrantEvent(request.ID, request.RequesterID, request.OwnerID, "requested", map[string]interface{}{
		"scope": string(request.Scope),
	})
	return request, nil
}

// ApproveInput is the owner's approval of a pending request
type ApproveInput struct {
	RecordIDs     []string
	DurationDays  int
	DecisionNotes string
	// OwnerSignature is optional. Without it the grant carries no decrypt
	// capability until the owner supplies key material later.
	OwnerSignature []byte
}

// Approve transitions a pending request to approved, minting a per-record
// access token and granting the requester a delegate entry on each record.
// Request and record updates commit in one transaction.
func (s *Service) Approve(ctx context.Context, requestID, ownerID string, input ApproveInput) (*types.AccessRequest, error) {
	request, err := s.requests.GetByID(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if request.OwnerID != ownerID {
		return nil, types.NewForbiddenError(types.ErrCodeForbidden, "access denied")
	}
	if request.Status != types.RequestPending {
		return nil, types.NewConflictError(types.ErrCodeConflict,
			fmt.Sprintf("request is %s, only pending requests can be approved", request.Status))
	}
	if len(input.RecordIDs) == 0 {
		return nil, types.NewValidationError(types.ErrCodeInvalidInput,
			"at least one record must be granted", nil)
	}

	durationDays := input.DurationDays
	if durationDays <= 0 {
		durationDays = s.defaultDurationDays
	}
	now := time.Now()
	expiresAt := now.AddDate(0, 0, durationDays)

	ownerSymmetricKey := ""
	if len(input.OwnerSignature) > 0 {
		key, err := crypto.DeriveKey(input.OwnerSignature)
		if err != nil {
			return nil, err
		}
		ownerSymmetricKey = hex.EncodeToString(key)
	}

	authorizations := make(map[string][]types.AuthorizedPrincipal, len(input.RecordIDs))
	grantedKeys := make([]types.GrantedKey, 0, len(input.RecordIDs))

	for _, recordID := range input.RecordIDs {
		record, err := s.records.GetByID(ctx, recordID)
		if err != nil {
			return nil, err
		}
		if record.OwnerID != ownerID {
			return nil, types.NewValidationError(types.ErrCodeInvalidInput,
				fmt.Sprintf("record %s does not belong to this patient", recordID), nil)
		}

		token, err := newAccessToken()
		if err != nil {
			return nil, types.NewInternalError(types.ErrCodeInternalError,
				"failed to mint access token", err)
		}
		grantedKeys = append(grantedKeys, types.GrantedKey{
			RecordID:          recordID,
			AccessToken:       token,
			OwnerSymmetricKey: ownerSymmetricKey,
		})

		authorizations[recordID] = upsertDelegate(record.AuthorizedPrincipals,
			request.RequesterID, now, &expiresAt)
	}

	request.Status = types.RequestApproved
	// The owner's approved set becomes the request's record set, whatever
	// the original ask was.
	request.SelectedRecords = input.RecordIDs
	request.GrantedKeys = grantedKeys
	request.DecisionNotes = input.DecisionNotes
	request.AccessExpiresAt = &expiresAt

	if err := s.requests.UpdateDecision(ctx, request, types.RequestPending, authorizations); err != nil {
		return nil, err
	}

	s.metrics.RecordGrantEvent("approved")
	s.logger.GrantEvent(request.ID, request.RequesterID, request.OwnerID, "approved", map[string]interface{}{
		"records":    len(grantedKeys),
		"expires_at": expiresAt,
		"with_key":   ownerSymmetricKey != "",
	})
	return request, nil
}

// Deny transitions a pending request to denied. Records are untouched.
func (s *Service) Deny(ctx context.Context, requestID, ownerID, notes string) (*types.AccessRequest, error) {
	request, err := s.requests.GetByID(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if request.OwnerID != ownerID {
		return nil, types.NewForbiddenError(types.ErrCodeForbidden, "access denied")
	}
	if request.Status != types.RequestPending {
		return nil, types.NewConflictError(types.ErrCodeConflict,
			fmt.Sprintf("request is %s, only pending requests can be denied", request.Status))
	}

	request.Status = types.RequestDenied
	request.DecisionNotes = notes

	if err := s.requests.UpdateDecision(ctx, request, types.RequestPending, nil); err != nil {
		return nil, err
	}

	s.metrics.RecordGrantEvent("denied")
	s.logger.GrantEvent(request.ID, request.RequesterID, request.OwnerID, "denied", nil)
	return request, nil
}

// Revoke removes a requester's access to one record immediately. It works
// regardless of the state any access request is in.
func (s *Service) Revoke(ctx context.Context, ownerID, recordID, requesterID string) error {
	record, err := s.records.GetByID(ctx, recordID)
	if err != nil {
		return err
	}
	if record.OwnerID != ownerID {
		return types.NewForbiddenError(types.ErrCodeForbidden, "access denied")
	}

	entry := record.FindPrincipal(requesterID)
	if entry == nil || entry.Kind != types.PrincipalDelegate {
		return types.NewNotFoundError(types.ErrCodeNotFound,
			"no delegate entry for this requester on this record")
	}

	principals := removePrincipal(record.AuthorizedPrincipals, requesterID)

	// Prune the grant from every approved request so no key material lingers
	var pruned []*types.AccessRequest
	requests, err := s.requests.ListByRequester(ctx, requesterID)
	if err != nil {
		return err
	}
	for _, request := range requests {
		if request.Status != types.RequestApproved || request.GrantFor(recordID) == nil {
			continue
		}
		request.GrantedKeys = removeGrant(request.GrantedKeys, recordID)
		request.SelectedRecords = removeString(request.SelectedRecords, recordID)
		pruned = append(pruned, request)
	}

	if err := s.requests.RevokeGrant(ctx, recordID, principals, pruned); err != nil {
		return err
	}

	s.metrics.RecordGrantEvent("revoked")
	s.logger.GrantEvent("", requesterID, ownerID, "revoked", map[string]interface{}{
		"record_id": recordID,
	})
	return nil
}

// RequestExtension asks for additional access time on an approved request
func (s *Service) RequestExtension(ctx context.Context, requestID, requesterID string, additionalDays int, reason string) (*types.AccessRequest, error) {
	if additionalDays <= 0 {
		return nil, types.NewValidationError(types.ErrCodeInvalidInput,
			"additional days must be positive", nil)
	}

	request, err := s.requests.GetByID(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if request.RequesterID != requesterID {
		return nil, types.NewForbiddenError(types.ErrCodeForbidden, "access denied")
	}
	if request.Status != types.RequestApproved {
		return nil, types.NewConflictError(types.ErrCodeConflict,
			"extensions can only be requested on approved access")
	}

	request.ExtensionRequests = append(request.ExtensionRequests, types.ExtensionRequest{
		AdditionalDays: additionalDays,
		Reason:         reason,
		Status:         types.ExtensionPending,
		RequestedAt:    time.Now(),
	})

	if err := s.requests.UpdateDecision(ctx, request, types.RequestApproved, nil); err != nil {
		return nil, err
	}

	s.logger.GrantEvent(request.ID, request.RequesterID, request.OwnerID, "extension_requested", map[string]interface{}{
		"additional_days": additionalDays,
	})
	return request, nil
}

// DecideExtension approves or denies a pending extension. Approval pushes
// accessExpiresAt and the matching delegate entries forward.
func (s *Service) DecideExtension(ctx context.Context, requestID string, index int, ownerID string, approve bool, ledgerTxRef string) (*types.AccessRequest, error) {
	request, err := s.requests.GetByID(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if request.OwnerID != ownerID {
		return nil, types.NewForbiddenError(types.ErrCodeForbidden, "access denied")
	}
	if index < 0 || index >= len(request.ExtensionRequests) {
		return nil, types.NewNotFoundError(types.ErrCodeNotFound, "extension request not found")
	}
	extension := &request.ExtensionRequests[index]
	if extension.Status != types.ExtensionPending {
		return nil, types.NewConflictError(types.ErrCodeConflict,
			"extension request has already been decided")
	}

	now := time.Now()
	extension.ProcessedAt = &now
	extension.LedgerTxRef = ledgerTxRef

	var authorizations map[string][]types.AuthorizedPrincipal
	transition := "extension_denied"

	if approve {
		extension.Status = types.ExtensionApproved
		transition = "extension_approved"

		base := now
		if request.AccessExpiresAt != nil && request.AccessExpiresAt.After(now) {
			base = *request.AccessExpiresAt
		}
		newExpiry := base.AddDate(0, 0, extension.AdditionalDays)
		request.AccessExpiresAt = &newExpiry

		authorizations = make(map[string][]types.AuthorizedPrincipal, len(request.GrantedKeys))
		for _, grant := range request.GrantedKeys {
			record, err := s.records.GetByID(ctx, grant.RecordID)
			if err != nil {
				return nil, err
			}
			authorizations[grant.RecordID] = extendDelegate(record.AuthorizedPrincipals,
				request.RequesterID, newExpiry)
		}
	} else {
		extension.Status = types.ExtensionDenied
	}

	if err := s.requests.UpdateDecision(ctx, request, types.RequestApproved, authorizations); err != nil {
		return nil, err
	}

	s.logger.GrantEvent(request.ID, request.RequesterID, request.OwnerID, transition, map[string]interface{}{
		"ledger_tx_ref": ledgerTxRef,
	})
	return request, nil
}

// GetByID returns a request visible to its owner or requester
func (s *Service) GetByID(ctx context.Context, requestID string, caller types.Principal) (*types.AccessRequest, error) {
	request, err := s.requests.GetByID(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if request.OwnerID != caller.ID && request.RequesterID != caller.ID {
		return nil, types.NewForbiddenError(types.ErrCodeForbidden, "access denied")
	}
	return request, nil
}

// List returns the caller's requests: owners see requests addressed to
// them, delegates see requests they made.
func (s *Service) List(ctx context.Context, caller types.Principal) ([]*types.AccessRequest, error) {
	switch caller.Kind {
	case types.PrincipalOwner:
		return s.requests.ListByOwner(ctx, caller.ID)
	case types.PrincipalDelegate:
		return s.requests.ListByRequester(ctx, caller.ID)
	default:
		return nil, types.NewForbiddenError(types.ErrCodeForbidden, "access denied")
	}
}

// ActiveGrant exposes the grant lookup to the vault service
func (s *Service) ActiveGrant(ctx context.Context, requesterID, recordID string) (*types.GrantedKey, error) {
	return s.requests.ActiveGrant(ctx, requesterID, recordID)
}

// Sweep expires stale pending requests and lapsed approved grants. Safe to
// run concurrently from several instances: all updates are status-guarded.
func (s *Service) Sweep(ctx context.Context) error {
	cutoff := time.Now().AddDate(0, 0, -s.pendingRetentionDays)
	swept, err := s.requests.ExpirePendingBefore(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("failed to expire pending requests: %w", err)
	}
	if swept > 0 {
		s.logger.WithField("count", swept).Info("Expired stale pending requests")
	}

	now := time.Now()
	lapsed, err := s.requests.ListLapsedApproved(ctx, now)
	if err != nil {
		return fmt.Errorf("failed to list lapsed grants: %w", err)
	}

	for _, request := range lapsed {
		authorizations := make(map[string][]types.AuthorizedPrincipal, len(request.GrantedKeys))
		for _, grant := range request.GrantedKeys {
			record, err := s.records.GetByID(ctx, grant.RecordID)
			if err != nil {
				if types.IsNotFound(err) {
					continue
				}
				return fmt.Errorf("failed to load record for sweep: %w", err)
			}
			authorizations[grant.RecordID] = removeExpired(record.AuthorizedPrincipals, now)
		}

		request.Status = types.RequestExpired
		if err := s.requests.UpdateDecision(ctx, request, types.RequestApproved, authorizations); err != nil {
			// Lost a race with a concurrent decision; the guard did its job
			if types.IsConflict(err) {
				continue
			}
			return err
		}

		s.metrics.RecordGrantEvent("expired")
		s.logger.GrantEvent(request.ID, request.RequesterID, request.OwnerID, "expired", nil)
	}

	return nil
}

// newAccessToken mints an opaque 32-byte random token, hex encoded
func newAccessToken() (string, error) {
	token := make([]byte, 32)
	if _, err := rand.Read(token); err != nil {
		return "", err
	}
	return hex.EncodeToString(token), nil
}

// upsertDelegate adds or refreshes the requester's delegate entry
func upsertDelegate(principals []types.AuthorizedPrincipal, requesterID string, grantedAt time.Time, expiresAt *time.Time) []types.AuthorizedPrincipal {
	updated := make([]types.AuthorizedPrincipal, 0, len(principals)+1)
	for _, p := range principals {
		if p.PrincipalID == requesterID && p.Kind == types.PrincipalDelegate {
			continue
		}
		updated = append(updated, p)
	}
	return append(updated, types.AuthorizedPrincipal{
		PrincipalID: requesterID,
		Kind:        types.PrincipalDelegate,
		GrantedAt:   grantedAt,
		ExpiresAt:   expiresAt,
		Status:      types.AuthorizationApproved,
	})
}

// extendDelegate pushes the requester's entry expiry forward
func extendDelegate(principals []types.AuthorizedPrincipal, requesterID string, expiresAt time.Time) []types.AuthorizedPrincipal {
	updated := make([]types.AuthorizedPrincipal, len(principals))
	copy(updated, principals)
	for i := range updated {
		if updated[i].PrincipalID == requesterID && updated[i].Kind == types.PrincipalDelegate {
			e := expiresAt
			updated[i].ExpiresAt = &e
		}
	}
	return updated
}

// removePrincipal drops a delegate entry entirely
func removePrincipal(principals []types.AuthorizedPrincipal, principalID string) []types.AuthorizedPrincipal {
	updated := make([]types.AuthorizedPrincipal, 0, len(principals))
	for _, p := range principals {
		if p.PrincipalID == principalID && p.Kind == types.PrincipalDelegate {
			continue
		}
		updated = append(updated, p)
	}
	return updated
}

// removeGrant drops the granted key entry for one record
func removeGrant(grants []types.GrantedKey, recordID string) []types.GrantedKey {
	updated := make([]types.GrantedKey, 0, len(grants))
	for _, g := range grants {
		if g.RecordID == recordID {
			continue
		}
		updated = append(updated, g)
	}
	return updated
}

func removeString(values []string, value string) []string {
	updated := make([]string, 0, len(values))
	for _, v := range values {
		if v == value {
			continue
		}
		updated = append(updated, v)
	}
	return updated
}

// removeExpired strips delegate entries whose expiry has passed
func removeExpired(principals []types.AuthorizedPrincipal, now time.Time) []types.AuthorizedPrincipal {
	updated := make([]types.AuthorizedPrincipal, 0, len(principals))
	for _, p := range principals {
		if p.Kind == types.PrincipalDelegate && p.ExpiresAt != nil && !p.ExpiresAt.After(now) {
			continue
		}
		updated = append(updated, p)
	}
	return updated
}
