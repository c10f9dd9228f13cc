package database

import (
	"context"
	"fmt"
)

// CreateSchema creates the database schema for record and grant storage
func (db *DB) CreateSchema(ctx context.Context) error {
	db.logger.Info("Creating database schema...")

	if err := db.createExtensions(ctx); err != nil {
		return fmt.Errorf("failed to create extensions: %w", err)
	}

	tables := []string{
		createRecordsTable,
		createAccessRequestsTable,
		createDelegateKeysTable,
	}

	for _, table := range tables {
		if _, err := db.ExecContext(ctx, table); err != nil {
			return fmt.Errorf("failed to create table: %w", err)
		}
	}

	indexes := []string{
		createRecordsIndexes,
		createAccessRequestsIndexes,
	}

	for _, index := range indexes {
		if _, err := db.ExecContext(ctx, index); err != nil {
			return fmt.Errorf("failed to create indexes: %w", err)
		}
	}

	db.logger.Info("Database schema created successfully")
	return nil
}

// createExtensions creates required PostgreSQL extensions
func (db *DB) createExtensions(ctx context.Context) error {
	extensions := []string{
		`CREATE EXTENSION IF NOT EXISTS "uuid-ossp";`,
	}

	for _, ext := range extensions {
		if _, err := db.ExecContext(ctx, ext); err != nil {
			return fmt.Errorf("failed to create extension: %w", err)
		}
	}

	return nil
}

// SQL DDL statements for table creation.
// Authorization lists and grant material are JSONB documents replaced
// whole-list on every mutation; partial updates never touch individual
// entries in place.
const (
	createRecordsTable = `
		CREATE TABLE IF NOT EXISTS records (
			id UUID PRIMARY KEY DEFAULT uuid_generate_v4(),
			owner_id UUID NOT NULL,
			record_kind VARCHAR(32) NOT NULL,
			display_name VARCHAR(255) NOT NULL,
			original_filename VARCHAR(255) NOT NULL,
			ciphertext_locator VARCHAR(128) NOT NULL,
			content_hash VARCHAR(64) NOT NULL,
			iv VARCHAR(32) NOT NULL,
			is_encrypted BOOLEAN NOT NULL DEFAULT TRUE,
			ledger_record_id VARCHAR(128),
			ledger_tx_ref VARCHAR(128),
			ledger_block_ref VARCHAR(128),
			authorized_principals JSONB NOT NULL DEFAULT '[]',
			created_at TIMESTAMP WITH TIME ZONE DEFAULT NOW(),
			updated_at TIMESTAMP WITH TIME ZONE DEFAULT NOW()
		);`

	createAccessRequestsTable = `
		CREATE TABLE IF NOT EXISTS access_requests (
			id UUID PRIMARY KEY DEFAULT uuid_generate_v4(),
			requester_id UUID NOT NULL,
			owner_id UUID NOT NULL,
			reason TEXT NOT NULL,
			scope VARCHAR(32) NOT NULL,
			status VARCHAR(16) NOT NULL DEFAULT 'pending',
			selected_records JSONB NOT NULL DEFAULT '[]',
			granted_keys JSONB NOT NULL DEFAULT '[]',
			decision_notes TEXT,
			access_expires_at TIMESTAMP WITH TIME ZONE,
			extension_requests JSONB NOT NULL DEFAULT '[]',
			created_at TIMESTAMP WITH TIME ZONE DEFAULT NOW(),
			updated_at TIMESTAMP WITH TIME ZONE DEFAULT NOW()
		);`

	createDelegateKeysTable = `
		CREATE TABLE IF NOT EXISTS delegate_keys (
			principal_id UUID PRIMARY KEY,
			public_key TEXT NOT NULL,
			wrapped_private_key TEXT NOT NULL,
			generated_at TIMESTAMP WITH TIME ZONE DEFAULT NOW()
		);`

	createRecordsIndexes = `
		CREATE INDEX IF NOT EXISTS idx_records_owner ON records(owner_id);
		CREATE INDEX IF NOT EXISTS idx_records_kind ON records(record_kind);
		CREATE INDEX IF NOT EXISTS idx_records_principals ON records USING GIN (authorized_principals);`

	// The partial unique index is what makes the single-pending-request
	// invariant hold under concurrent creates: the check and the insert are
	// one atomic operation at the database.
	createAccessRequestsIndexes = `
		CREATE UNIQUE INDEX IF NOT EXISTS idx_access_requests_single_pending
			ON access_requests(requester_id, owner_id) WHERE status = 'pending';
		CREATE INDEX IF NOT EXISTS idx_access_requests_owner ON access_requests(owner_id);
		CREATE INDEX IF NOT EXISTS idx_access_requests_requester ON access_requests(requester_id);
		CREATE INDEX IF NOT EXISTS idx_access_requests_status ON access_requests(status);`
)
