package access

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/medvault/dlt-phr/pkg/database"
	"github.com/medvault/dlt-phr/pkg/logger"
	"github.com/medvault/dlt-phr/pkg/types"
)

// Repository persists access requests. The single-pending-per-pair rule is
// enforced by a partial unique index, so concurrent duplicate creates lose
// at the database rather than in application code.
type Repository struct {
	db     *database.DB
	logger *logger.Logger
}

// NewRepository creates a new access request repository
func NewRepository(db *database.DB, log *logger.Logger) *Repository {
	return &Repository{
		db:     db,
		logger: log,
	}
}

// Create inserts a new pending access request. A unique violation on the
// pending index maps to a conflict error.
func (r *Repository) Create(ctx context.Context, request *types.AccessRequest) error {
	if request.ID == "" {
		request.ID = uuid.New().String()
	}
	request.Status = types.RequestPending
	request.CreatedAt = time.Now()
	request.UpdatedAt = request.CreatedAt

	selectedJSON, err := json.Marshal(request.SelectedRecords)
	if err != nil {
		return fmt.Errorf("failed to marshal selected records: %w", err)
	}
	keysJSON, err := json.Marshal(request.GrantedKeys)
	if err != nil {
		return fmt.Errorf("failed to marshal granted keys: %w", err)
	}
	extensionsJSON, err := json.Marshal(request.ExtensionRequests)
	if err != nil {
		return fmt.Errorf("failed to marshal extension requests: %w", err)
	}

	query := `
		INSERT INTO access_requests (
			id, requester_id, owner_id, reason, scope, status,
			selected_records, granted_keys, decision_notes,
			access_expires_at, extension_requests, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`

	_, err = r.db.ExecContext(ctx, query,
		request.ID,
		request.RequesterID,
		request.OwnerID,
		request.Reason,
		request.Scope,
		request.Status,
		selectedJSON,
		keysJSON,
		request.DecisionNotes,
		request.AccessExpiresAt,
		extensionsJSON,
		request.CreatedAt,
		request.UpdatedAt,
	)
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
			return types.NewConflictError(types.ErrCodeConflict,
				"a pending request already exists for this patient")
		}
		return fmt.Errorf("failed to create access request: %w", err)
	}

	r.logger.WithFields(map[string]interface{}{
		"request_id":   request.ID,
		"requester_id": request.RequesterID,
		"owner_id":     request.OwnerID,
	}).Info("Created access request")
	return nil
}

// GetByID retrieves an access request by ID
func (r *Repository) GetByID(ctx context.Context, requestID string) (*types.AccessRequest, error) {
	query := selectRequestQuery + ` WHERE id = $1`

	request, err := scanRequest(r.db.QueryRowContext(ctx, query, requestID))
	if err == sql.ErrNoRows {
		return nil, types.NewNotFoundError(types.ErrCodeNotFound,
			fmt.Sprintf("access request not found: %s", requestID))
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get access request: %w", err)
	}
	return request, nil
}

// ListByOwner retrieves requests addressed to a patient, newest first
func (r *Repository) ListByOwner(ctx context.Context, ownerID string) ([]*types.AccessRequest, error) {
	return r.list(ctx, selectRequestQuery+` WHERE owner_id = $1 ORDER BY created_at DESC`, ownerID)
}

// ListByRequester retrieves requests made by a doctor, newest first
func (r *Repository) ListByRequester(ctx context.Context, requesterID string) ([]*types.AccessRequest, error) {
	return r.list(ctx, selectRequestQuery+` WHERE requester_id = $1 ORDER BY created_at DESC`, requesterID)
}

// UpdateDecision applies a state transition together with the authorization
// list changes it implies, in one transaction. The update is guarded on the
// request's expected current status so concurrent decisions cannot both win.
func (r *Repository) UpdateDecision(ctx context.Context, request *types.AccessRequest, expectedStatus types.RequestStatus, authorizations map[string][]types.AuthorizedPrincipal) error {
	selectedJSON, err := json.Marshal(request.SelectedRecords)
	if err != nil {
		return fmt.Errorf("failed to marshal selected records: %w", err)
	}
	keysJSON, err := json.Marshal(request.GrantedKeys)
	if err != nil {
		return fmt.Errorf("failed to marshal granted keys: %w", err)
	}
	extensionsJSON, err := json.Marshal(request.ExtensionRequests)
	if err != nil {
		return fmt.Errorf("failed to marshal extension requests: %w", err)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	request.UpdatedAt = time.Now()

	result, err := tx.ExecContext(ctx, `
		UPDATE access_requests
		SET status = $1, selected_records = $2, granted_keys = $3,
			decision_notes = $4, access_expires_at = $5,
			extension_requests = $6, updated_at = $7
		WHERE id = $8 AND status = $9`,
		request.Status,
		selectedJSON,
		keysJSON,
		request.DecisionNotes,
		request.AccessExpiresAt,
		extensionsJSON,
		request.UpdatedAt,
		request.ID,
		expectedStatus,
	)
	if err != nil {
		return fmt.Errorf("failed to update access request: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return types.NewConflictError(types.ErrCodeConflict,
			fmt.Sprintf("access request is no longer %s", expectedStatus))
	}

	for recordID, principals := range authorizations {
		principalsJSON, err := json.Marshal(principals)
		if err != nil {
			return fmt.Errorf("failed to marshal authorization list: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `
			UPDATE records
			SET authorized_principals = $1, updated_at = $2
			WHERE id = $3`,
			principalsJSON, request.UpdatedAt, recordID,
		); err != nil {
			return fmt.Errorf("failed to update record authorization: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// RevokeGrant rewrites a record's authorization list and persists the
// reduced grant set of every pruned request in the same transaction.
func (r *Repository) RevokeGrant(ctx context.Context, recordID string, principals []types.AuthorizedPrincipal, pruned []*types.AccessRequest) error {
	principalsJSON, err := json.Marshal(principals)
	if err != nil {
		return fmt.Errorf("failed to marshal authorization list: %w", err)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	now := time.Now()

	if _, err := tx.ExecContext(ctx, `
		UPDATE records
		SET authorized_principals = $1, updated_at = $2
		WHERE id = $3`,
		principalsJSON, now, recordID,
	); err != nil {
		return fmt.Errorf("failed to update record authorization: %w", err)
	}

	for _, request := range pruned {
		keysJSON, err := json.Marshal(request.GrantedKeys)
		if err != nil {
			return fmt.Errorf("failed to marshal granted keys: %w", err)
		}
		selectedJSON, err := json.Marshal(request.SelectedRecords)
		if err != nil {
			return fmt.Errorf("failed to marshal selected records: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `
			UPDATE access_requests
			SET granted_keys = $1, selected_records = $2, updated_at = $3
			WHERE id = $4`,
			keysJSON, selectedJSON, now, request.ID,
		); err != nil {
			return fmt.Errorf("failed to prune granted keys: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// ExpirePendingBefore marks stale pending requests as expired and returns
// how many were swept. The status guard makes repeated sweeps idempotent.
func (r *Repository) ExpirePendingBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx, `
		UPDATE access_requests
		SET status = $1, updated_at = $2
		WHERE status = $3 AND created_at < $4`,
		types.RequestExpired, time.Now(), types.RequestPending, cutoff,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to expire pending requests: %w", err)
	}
	return result.RowsAffected()
}

// ListLapsedApproved returns approved requests whose access window has
// elapsed, so the sweep can expire them and scrub authorization lists.
func (r *Repository) ListLapsedApproved(ctx context.Context, now time.Time) ([]*types.AccessRequest, error) {
	return r.list(ctx, selectRequestQuery+`
		WHERE status = $1 AND access_expires_at IS NOT NULL AND access_expires_at <= $2
		ORDER BY access_expires_at`, types.RequestApproved, now)
}

// ActiveGrant returns the granted key a requester holds for a record through
// an approved, unexpired request. Satisfies the vault's grant lookup.
func (r *Repository) ActiveGrant(ctx context.Context, requesterID, recordID string) (*types.GrantedKey, error) {
	requests, err := r.list(ctx, selectRequestQuery+`
		WHERE requester_id = $1 AND status = $2
		ORDER BY updated_at DESC`, requesterID, types.RequestApproved)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	for _, request := range requests {
		if request.AccessExpired(now) {
			continue
		}
		if grant := request.GrantFor(recordID); grant != nil {
			return grant, nil
		}
	}

	return nil, types.NewNotFoundError(types.ErrCodeNotFound,
		"no active grant for this record")
}

func (r *Repository) list(ctx context.Context, query string, args ...interface{}) ([]*types.AccessRequest, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list access requests: %w", err)
	}
	defer rows.Close()

	var requests []*types.AccessRequest
	for rows.Next() {
		request, err := scanRequest(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan access request row: %w", err)
		}
		requests = append(requests, request)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating access request rows: %w", err)
	}
	return requests, nil
}

const selectRequestQuery = `
	SELECT id, requester_id, owner_id, reason, scope, status,
		   selected_records, granted_keys, decision_notes,
		   access_expires_at, extension_requests, created_at, updated_at
	FROM access_requests`

type scanTarget interface {
	Scan(dest ...interface{}) error
}

func scanRequest(row scanTarget) (*types.AccessRequest, error) {
	var request types.AccessRequest
	var selectedJSON, keysJSON, extensionsJSON []byte
	var decisionNotes sql.NullString
	var accessExpiresAt sql.NullTime

	err := row.Scan(
		&request.ID,
		&request.RequesterID,
		&request.OwnerID,
		&request.Reason,
		&request.Scope,
		&request.Status,
		&selectedJSON,
		&keysJSON,
		&decisionNotes,
		&accessExpiresAt,
		&extensionsJSON,
		&request.CreatedAt,
		&request.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal(selectedJSON, &request.SelectedRecords); err != nil {
		return nil, fmt.Errorf("failed to unmarshal selected records: %w", err)
	}
	if err := json.Unmarshal(keysJSON, &request.GrantedKeys); err != nil {
		return nil, fmt.Errorf("failed to unmarshal granted keys: %w", err)
	}
	if err := json.Unmarshal(extensionsJSON, &request.ExtensionRequests); err != nil {
		return nil, fmt.Errorf("failed to unmarshal extension requests: %w", err)
	}

	request.DecisionNotes = decisionNotes.String
	if accessExpiresAt.Valid {
		request.AccessExpiresAt = &accessExpiresAt.Time
	}

	return &request, nil
}
