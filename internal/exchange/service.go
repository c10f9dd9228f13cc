package exchange

import (
	"context"

	"github.com/medvault/dlt-phr/pkg/crypto"
	"github.com/medvault/dlt-phr/pkg/logger"
	"github.com/medvault/dlt-phr/pkg/types"
)

// KeyStore is the repository surface the exchange service depends on
type KeyStore interface {
	Save(ctx context.Context, material *types.DelegateKeyMaterial) error
	Get(ctx context.Context, principalID string) (*types.DelegateKeyMaterial, error)
}

// Service runs the standalone key-exchange channel: per-principal RSA
// keypairs with password-wrapped private key custody, and symmetric-key
// wrapping between principals. The grant workflow does not call into this
// channel; the two run side by side.
type Service struct {
	keys   KeyStore
	logger *logger.Logger
}

// NewService creates a new key exchange service
func NewService(keys KeyStore, log *logger.Logger) *Service {
	return &Service{
		keys:   keys,
		logger: log,
	}
}

// GenerateKeyPair mints a fresh keypair for a principal. The private key is
// stored wrapped under the given password and never leaves custody in clear.
func (s *Service) GenerateKeyPair(ctx context.Context, principalID, password string) (*types.DelegateKeyMaterial, error) {
	if principalID == "" {
		return nil, types.NewValidationError(types.ErrCodeInvalidInput, "principal id is required", nil)
	}
	if password == "" {
		return nil, types.NewValidationError(types.ErrCodeInvalidInput, "a wrapping password is required", nil)
	}

	publicPEM, privatePEM, err := crypto.GenerateKeyPair()
	if err != nil {
		return nil, types.NewInternalError(types.ErrCodeInternalError, "failed to generate keypair", err)
	}

	wrapped, err := crypto.WrapPrivateKey(privatePEM, password)
	if err != nil {
		return nil, types.NewInternalError(types.ErrCodeInternalError, "failed to wrap private key", err)
	}

	material := &types.DelegateKeyMaterial{
		PrincipalID:       principalID,
		PublicKey:         publicPEM,
		WrappedPrivateKey: wrapped,
	}
	if err := s.keys.Save(ctx, material); err != nil {
		return nil, err
	}

	s.logger.WithField("principal_id", principalID).Info("Generated delegate keypair")
	return material, nil
}

// PublicKey returns a principal's public key PEM
func (s *Service) PublicKey(ctx context.Context, principalID string) (string, error) {
	material, err := s.keys.Get(ctx, principalID)
	if err != nil {
		return "", err
	}
	return material.PublicKey, nil
}

// WrapForDelegate encrypts a hex symmetric key under the target principal's
// public key so it can travel to them out of band.
func (s *Service) WrapForDelegate(ctx context.Context, targetPrincipalID, symmetricKeyHex string) (string, error) {
	if symmetricKeyHex == "" {
		return "", types.NewValidationError(types.ErrCodeInvalidInput, "symmetric key is required", nil)
	}

	material, err := s.keys.Get(ctx, targetPrincipalID)
	if err != nil {
		return "", err
	}

	return crypto.WrapKeyForDelegate(symmetricKeyHex, material.PublicKey)
}

// Unwrap recovers a wrapped symmetric key using the caller's password. A
// wrong password surfaces as forbidden, the same as any other key failure.
func (s *Service) Unwrap(ctx context.Context, principalID, password, wrappedKeyBase64 string) (string, error) {
	material, err := s.keys.Get(ctx, principalID)
	if err != nil {
		return "", err
	}

	privatePEM, err := crypto.UnwrapPrivateKey(material.WrappedPrivateKey, password)
	if err != nil {
		s.logger.Security("key_unwrap_failed", principalID, nil)
		return "", types.NewForbiddenError(types.ErrCodeForbidden, "access denied")
	}

	symmetricKeyHex, err := crypto.UnwrapKeyForDelegate(wrappedKeyBase64, privatePEM)
	if err != nil {
		return "", types.NewForbiddenError(types.ErrCodeForbidden, "access denied")
	}

	return symmetricKeyHex, nil
}
