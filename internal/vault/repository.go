package vault

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/medvault/dlt-phr/pkg/database"
	"github.com/medvault/dlt-phr/pkg/logger"
	"github.com/medvault/dlt-phr/pkg/types"
)

// Repository persists encrypted record metadata. Ciphertext itself lives in
// the blob store; only the locator is stored here.
type Repository struct {
	db     *database.DB
	logger *logger.Logger
}

// NewRepository creates a new record repository
func NewRepository(db *database.DB, log *logger.Logger) *Repository {
	return &Repository{
		db:     db,
		logger: log,
	}
}

// Create inserts a new encrypted record
func (r *Repository) Create(ctx context.Context, record *types.EncryptedRecord) error {
	if record.ID == "" {
		record.ID = uuid.New().String()
	}
	record.CreatedAt = time.Now()
	record.UpdatedAt = record.CreatedAt

	principalsJSON, err := json.Marshal(record.AuthorizedPrincipals)
	if err != nil {
		return fmt.Errorf("failed to marshal authorization list: %w", err)
	}

	var ledgerRecordID, ledgerTxRef, ledgerBlockRef sql.NullString
	if record.LedgerAnchor != nil {
		ledgerRecordID = sql.NullString{String: record.LedgerAnchor.LedgerRecordID, Valid: true}
		ledgerTxRef = sql.NullString{String: record.LedgerAnchor.TxRef, Valid: true}
		ledgerBlockRef = sql.NullString{String: record.LedgerAnchor.BlockRef, Valid: true}
	}

	query := `
		INSERT INTO records (
			id, owner_id, record_kind, display_name, original_filename,
			ciphertext_locator, content_hash, iv, is_encrypted,
			ledger_record_id, ledger_tx_ref, ledger_block_ref,
			authorized_principals, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`

	_, err = r.db.ExecContext(ctx, query,
		record.ID,
		record.OwnerID,
		record.RecordKind,
		record.DisplayName,
		record.OriginalFilename,
		record.CiphertextLocator,
		record.ContentHash,
		record.IV,
		record.IsEncrypted,
		ledgerRecordID,
		ledgerTxRef,
		ledgerBlockRef,
		principalsJSON,
		record.CreatedAt,
		record.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create record: %w", err)
	}

	r.logger.WithFields(map[string]interface{}{
		"record_id": record.ID,
		"owner_id":  record.OwnerID,
		"kind":      record.RecordKind,
	}).Info("Created encrypted record")
	return nil
}

// GetByID retrieves a record by ID
func (r *Repository) GetByID(ctx context.Context, recordID string) (*types.EncryptedRecord, error) {
	query := `
		SELECT id, owner_id, record_kind, display_name, original_filename,
			   ciphertext_locator, content_hash, iv, is_encrypted,
			   ledger_record_id, ledger_tx_ref, ledger_block_ref,
			   authorized_principals, created_at, updated_at
		FROM records
		WHERE id = $1`

	record, err := scanRecord(r.db.QueryRowContext(ctx, query, recordID))
	if err == sql.ErrNoRows {
		return nil, types.NewNotFoundError(types.ErrCodeNotFound,
			fmt.Sprintf("record not found: %s", recordID))
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get record: %w", err)
	}

	return record, nil
}

// ListByOwner retrieves all records owned by a patient, newest first
func (r *Repository) ListByOwner(ctx context.Context, ownerID string) ([]*types.EncryptedRecord, error) {
	query := `
		SELECT id, owner_id, record_kind, display_name, original_filename,
			   ciphertext_locator, content_hash, iv, is_encrypted,
			   ledger_record_id, ledger_tx_ref, ledger_block_ref,
			   authorized_principals, created_at, updated_at
		FROM records
		WHERE owner_id = $1
		ORDER BY created_at DESC`

	rows, err := r.db.QueryContext(ctx, query, ownerID)
	if err != nil {
		return nil, fmt.Errorf("failed to list records: %w", err)
	}
	defer rows.Close()

	var records []*types.EncryptedRecord
	for rows.Next() {
		record, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan record row: %w", err)
		}
		records = append(records, record)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating record rows: %w", err)
	}

	return records, nil
}

// ReplaceAuthorizedPrincipals swaps a record's whole authorization list.
// Mutations always go through this whole-list replacement so concurrent
// grant changes serialize at the row.
func (r *Repository) ReplaceAuthorizedPrincipals(ctx context.Context, recordID string, principals []types.AuthorizedPrincipal) error {
	principalsJSON, err := json.Marshal(principals)
	if err != nil {
		return fmt.Errorf("failed to marshal authorization list: %w", err)
	}

	query := `
		UPDATE records
		SET authorized_principals = $1, updated_at = $2
		WHERE id = $3`

	result, err := r.db.ExecContext(ctx, query, principalsJSON, time.Now(), recordID)
	if err != nil {
		return fmt.Errorf("failed to update authorization list: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return types.NewNotFoundError(types.ErrCodeNotFound,
			fmt.Sprintf("record not found: %s", recordID))
	}

	return nil
}

// scanTarget is satisfied by both *sql.Row and *sql.Rows
type scanTarget interface {
	Scan(dest ...interface{}) error
}

// scanRecord reads one record row including its JSONB authorization list
func scanRecord(row scanTarget) (*types.EncryptedRecord, error) {
	var record types.EncryptedRecord
	var principalsJSON []byte
	var ledgerRecordID, ledgerTxRef, ledgerBlockRef sql.NullString

	err := row.Scan(
		&record.ID,
		&record.OwnerID,
		&record.RecordKind,
		&record.DisplayName,
		&record.OriginalFilename,
		&record.CiphertextLocator,
		&record.ContentHash,
		&record.IV,
		&record.IsEncrypted,
		&ledgerRecordID,
		&ledgerTxRef,
		&ledgerBlockRef,
		&principalsJSON,
		&record.CreatedAt,
		&record.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal(principalsJSON, &record.AuthorizedPrincipals); err != nil {
		return nil, fmt.Errorf("failed to unmarshal authorization list: %w", err)
	}

	if ledgerRecordID.Valid {
		record.LedgerAnchor = &types.LedgerAnchor{
			LedgerRecordID: ledgerRecordID.String,
			TxRef:          ledgerTxRef.String,
			BlockRef:       ledgerBlockRef.String,
		}
	}

	return &record, nil
}
