package access

import (
	"context"
	"database/sql"
	"encoding/json"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/medvault/dlt-phr/pkg/database"
	"github.com/medvault/dlt-phr/pkg/logger"
	"github.com/medvault/dlt-phr/pkg/types"
)

func setupTestRepository(t *testing.T) (*Repository, sqlmock.Sqlmock, func()) {
	sqlDB, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)

	repo := NewRepository(&database.DB{DB: sqlDB}, logger.New("access-test", "error"))

	return repo, mock, func() { sqlDB.Close() }
}

func requestColumns() []string {
	return []string{
		"id", "requester_id", "owner_id", "reason", "scope", "status",
		"selected_records", "granted_keys", "decision_notes",
		"access_expires_at", "extension_requests", "created_at", "updated_at",
	}
}

func emptyJSONArrays() ([]byte, []byte, []byte) {
	empty := []byte("[]")
	return empty, empty, empty
}

func TestRequestRepositoryCreate(t *testing.T) {
	repo, mock, cleanup := setupTestRepository(t)
	defer cleanup()

	mock.ExpectExec(`INSERT INTO access_requests`).
		WithArgs(sqlmock.AnyArg(), "doctor-1", "patient-1", "consult", types.ScopeAllRecords,
			types.RequestPending, sqlmock.AnyArg(), sqlmock.AnyArg(), "",
			nil, sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	request := &types.AccessRequest{
		RequesterID: "doctor-1",
		OwnerID:     "patient-1",
		Reason:      "consult",
		Scope:       types.ScopeAllRecords,
	}

	err := repo.Create(context.Background(), request)
	require.NoError(t, err)
	assert.NotEmpty(t, request.ID)
	assert.Equal(t, types.RequestPending, request.Status)
}

func TestRequestRepositoryCreateDuplicatePending(t *testing.T) {
	repo, mock, cleanup := setupTestRepository(t)
	defer cleanup()

	mock.ExpectExec(`INSERT INTO access_requests`).
		WillReturnError(&pq.Error{Code: "23505", Constraint: "idx_access_requests_single_pending"})

	err := repo.Create(context.Background(), &types.AccessRequest{
		RequesterID: "doctor-1",
		OwnerID:     "patient-1",
		Reason:      "again",
		Scope:       types.ScopeAllRecords,
	})

	require.Error(t, err)
	assert.True(t, types.IsConflict(err))
}

func TestRequestRepositoryGetByID(t *testing.T) {
	repo, mock, cleanup := setupTestRepository(t)
	defer cleanup()

	keysJSON, err := json.Marshal([]types.GrantedKey{
		{RecordID: "rec-1", AccessToken: "tok", OwnerSymmetricKey: "aabb"},
	})
	require.NoError(t, err)
	selectedJSON, _, extensionsJSON := emptyJSONArrays()

	now := time.Now()
	expiry := now.AddDate(0, 0, 30)
	rows := sqlmock.NewRows(requestColumns()).AddRow(
		"req-1", "doctor-1", "patient-1", "consult", "specific_records", "approved",
		selectedJSON, keysJSON, "ok",
		expiry, extensionsJSON, now, now,
	)
	mock.ExpectQuery(`SELECT (.+) FROM access_requests`).WithArgs("req-1").WillReturnRows(rows)

	request, err := repo.GetByID(context.Background(), "req-1")
	require.NoError(t, err)
	assert.Equal(t, types.RequestApproved, request.Status)
	require.Len(t, request.GrantedKeys, 1)
	assert.Equal(t, "rec-1", request.GrantedKeys[0].RecordID)
	require.NotNil(t, request.AccessExpiresAt)
}

func TestRequestRepositoryGetByIDNotFound(t *testing.T) {
	repo, mock, cleanup := setupTestRepository(t)
	defer cleanup()

	mock.ExpectQuery(`SELECT (.+) FROM access_requests`).WithArgs("missing").
		WillReturnError(sql.ErrNoRows)

	_, err := repo.GetByID(context.Background(), "missing")
	require.Error(t, err)
	assert.True(t, types.IsNotFound(err))
}

func TestRequestRepositoryUpdateDecision(t *testing.T) {
	repo, mock, cleanup := setupTestRepository(t)
	defer cleanup()

	mock.ExpectBegin()
	// The approved record set is persisted alongside the status change
	mock.ExpectExec(`UPDATE access_requests`).
		WithArgs(types.RequestApproved, []byte(`["rec-1"]`), sqlmock.AnyArg(), "",
			nil, sqlmock.AnyArg(), sqlmock.AnyArg(), "req-1", types.RequestPending).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE records`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	request := &types.AccessRequest{
		ID:              "req-1",
		Status:          types.RequestApproved,
		SelectedRecords: []string{"rec-1"},
	}
	authorizations := map[string][]types.AuthorizedPrincipal{
		"rec-1": {{PrincipalID: "doctor-1", Kind: types.PrincipalDelegate}},
	}

	err := repo.UpdateDecision(context.Background(), request, types.RequestPending, authorizations)
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRequestRepositoryRevokeGrantPrunesRequests(t *testing.T) {
	repo, mock, cleanup := setupTestRepository(t)
	defer cleanup()

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE records`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE access_requests`).
		WithArgs(sqlmock.AnyArg(), []byte(`["rec-2"]`), sqlmock.AnyArg(), "req-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE access_requests`).
		WithArgs(sqlmock.AnyArg(), []byte(`[]`), sqlmock.AnyArg(), "req-2").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	principals := []types.AuthorizedPrincipal{
		{PrincipalID: "patient-1", Kind: types.PrincipalOwner},
	}
	pruned := []*types.AccessRequest{
		{ID: "req-1", SelectedRecords: []string{"rec-2"},
			GrantedKeys: []types.GrantedKey{{RecordID: "rec-2", AccessToken: "tok"}}},
		{ID: "req-2", SelectedRecords: []string{}, GrantedKeys: []types.GrantedKey{}},
	}

	err := repo.RevokeGrant(context.Background(), "rec-1", principals, pruned)
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRequestRepositoryUpdateDecisionLostRace(t *testing.T) {
	repo, mock, cleanup := setupTestRepository(t)
	defer cleanup()

	mock.ExpectBegin()
	// Guard matched zero rows: someone else decided first
	mock.ExpectExec(`UPDATE access_requests`).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	err := repo.UpdateDecision(context.Background(),
		&types.AccessRequest{ID: "req-1", Status: types.RequestApproved},
		types.RequestPending, nil)

	require.Error(t, err)
	assert.True(t, types.IsConflict(err))
}

func TestRequestRepositoryExpirePendingBefore(t *testing.T) {
	repo, mock, cleanup := setupTestRepository(t)
	defer cleanup()

	mock.ExpectExec(`UPDATE access_requests`).
		WillReturnResult(sqlmock.NewResult(0, 3))

	swept, err := repo.ExpirePendingBefore(context.Background(), time.Now().AddDate(0, 0, -7))
	require.NoError(t, err)
	assert.Equal(t, int64(3), swept)
}

func TestRequestRepositoryActiveGrant(t *testing.T) {
	repo, mock, cleanup := setupTestRepository(t)
	defer cleanup()

	keysJSON, _ := json.Marshal([]types.GrantedKey{
		{RecordID: "rec-1", AccessToken: "tok", OwnerSymmetricKey: "aabb"},
	})
	selectedJSON, _, extensionsJSON := emptyJSONArrays()

	now := time.Now()
	expiry := now.AddDate(0, 0, 10)
	rows := sqlmock.NewRows(requestColumns()).AddRow(
		"req-1", "doctor-1", "patient-1", "consult", "specific_records", "approved",
		selectedJSON, keysJSON, "",
		expiry, extensionsJSON, now, now,
	)
	mock.ExpectQuery(`SELECT (.+) FROM access_requests`).
		WithArgs("doctor-1", types.RequestApproved).WillReturnRows(rows)

	grant, err := repo.ActiveGrant(context.Background(), "doctor-1", "rec-1")
	require.NoError(t, err)
	assert.Equal(t, "tok", grant.AccessToken)
}

func TestRequestRepositoryActiveGrantExpired(t *testing.T) {
	repo, mock, cleanup := setupTestRepository(t)
	defer cleanup()

	keysJSON, _ := json.Marshal([]types.GrantedKey{
		{RecordID: "rec-1", AccessToken: "tok", OwnerSymmetricKey: "aabb"},
	})
	selectedJSON, _, extensionsJSON := emptyJSONArrays()

	now := time.Now()
	expiry := now.Add(-time.Hour)
	rows := sqlmock.NewRows(requestColumns()).AddRow(
		"req-1", "doctor-1", "patient-1", "consult", "specific_records", "approved",
		selectedJSON, keysJSON, "",
		expiry, extensionsJSON, now, now,
	)
	mock.ExpectQuery(`SELECT (.+) FROM access_requests`).
		WithArgs("doctor-1", types.RequestApproved).WillReturnRows(rows)

	_, err := repo.ActiveGrant(context.Background(), "doctor-1", "rec-1")
	require.Error(t, err)
	assert.True(t, types.IsNotFound(err))
}
