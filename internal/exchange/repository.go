package exchange

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/medvault/dlt-phr/pkg/database"
	"github.com/medvault/dlt-phr/pkg/logger"
	"github.com/medvault/dlt-phr/pkg/types"
)

// Repository persists delegate key material. One row per principal; a
// regenerated keypair replaces the old one.
type Repository struct {
	db     *database.DB
	logger *logger.Logger
}

// NewRepository creates a new delegate key repository
func NewRepository(db *database.DB, log *logger.Logger) *Repository {
	return &Repository{
		db:     db,
		logger: log,
	}
}

// Save stores or replaces a principal's key material
func (r *Repository) Save(ctx context.Context, material *types.DelegateKeyMaterial) error {
	material.GeneratedAt = time.Now()

	query := `
		INSERT INTO delegate_keys (principal_id, public_key, wrapped_private_key, generated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (principal_id) DO UPDATE
		SET public_key = $2, wrapped_private_key = $3, generated_at = $4`

	_, err := r.db.ExecContext(ctx, query,
		material.PrincipalID,
		material.PublicKey,
		material.WrappedPrivateKey,
		material.GeneratedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save delegate keys: %w", err)
	}

	r.logger.WithField("principal_id", material.PrincipalID).Info("Stored delegate key material")
	return nil
}

// Get retrieves a principal's key material
func (r *Repository) Get(ctx context.Context, principalID string) (*types.DelegateKeyMaterial, error) {
	query := `
		SELECT principal_id, public_key, wrapped_private_key, generated_at
		FROM delegate_keys
		WHERE principal_id = $1`

	var material types.DelegateKeyMaterial
	err := r.db.QueryRowContext(ctx, query, principalID).Scan(
		&material.PrincipalID,
		&material.PublicKey,
		&material.WrappedPrivateKey,
		&material.GeneratedAt,
	)
	if err == sql.ErrNoRows {
		return nil, types.NewNotFoundError(types.ErrCodeNotFound,
			fmt.Sprintf("no key material for principal: %s", principalID))
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get delegate keys: %w", err)
	}

	return &material, nil
}
