package vault

import (
	"context"
	"encoding/hex"
	"errors"
	"time"

	"github.com/medvault/dlt-phr/pkg/blobstore"
	"github.com/medvault/dlt-phr/pkg/crypto"
	"github.com/medvault/dlt-phr/pkg/integrity"
	"github.com/medvault/dlt-phr/pkg/ledger"
	"github.com/medvault/dlt-phr/pkg/logger"
	"github.com/medvault/dlt-phr/pkg/monitoring"
	"github.com/medvault/dlt-phr/pkg/types"
)

// RecordStore is the repository surface the vault service depends on
type RecordStore interface {
	Create(ctx context.Context, record *types.EncryptedRecord) error
	GetByID(ctx context.Context, recordID string) (*types.EncryptedRecord, error)
	ListByOwner(ctx context.Context, ownerID string) ([]*types.EncryptedRecord, error)
	ReplaceAuthorizedPrincipals(ctx context.Context, recordID string, principals []types.AuthorizedPrincipal) error
}

// GrantSource resolves the key material an approved access request holds for
// a delegate. Implemented by the access-request repository.
type GrantSource interface {
	// ActiveGrant returns the granted key for (requester, record) from an
	// approved, unexpired request, or a not found error.
	ActiveGrant(ctx context.Context, requesterID, recordID string) (*types.GrantedKey, error)
}

// DownloadResult carries decrypted content plus its integrity report
type DownloadResult struct {
	Record    *types.EncryptedRecord
	Plaintext []byte
	Integrity integrity.Report
}

// Service orchestrates record upload and download: encryption, blob
// persistence, ledger anchoring and integrity verification. The service
// never retains key material beyond the scope of one call.
type Service struct {
	records RecordStore
	blobs   blobstore.Store
	ledger  ledger.Client
	grants  GrantSource
	logger  *logger.Logger
	metrics *monitoring.MetricsCollector
}

// NewService creates a new record vault service
func NewService(records RecordStore, blobs blobstore.Store, ledgerClient ledger.Client, grants GrantSource, log *logger.Logger, metrics *monitoring.MetricsCollector) *Service {
	return &Service{
		records: records,
		blobs:   blobs,
		ledger:  ledgerClient,
		grants:  grants,
		logger:  log,
		metrics: metrics,
	}
}

// UploadInput is the request to encrypt and store one file
type UploadInput struct {
	OwnerID          string
	RecordKind       types.RecordKind
	DisplayName      string
	OriginalFilename string
	Plaintext        []byte
	OwnerSignature   []byte
}

// Upload encrypts plaintext under the owner's derived key, persists the
// ciphertext, anchors the content hash best-effort and stores the record
// metadata. Blob store failure aborts the upload; ledger failure does not.
func (s *Service) Upload(ctx context.Context, input UploadInput) (*types.EncryptedRecord, error) {
	if len(input.Plaintext) == 0 {
		return nil, types.NewValidationError(types.ErrCodeInvalidInput, "file content is required", nil)
	}
	if !input.RecordKind.Valid() {
		return nil, types.NewValidationError(types.ErrCodeInvalidInput,
			"record kind must be prescription, report or bill", nil)
	}
	if input.DisplayName == "" {
		return nil, types.NewValidationError(types.ErrCodeInvalidInput, "display name is required", nil)
	}
	if input.OwnerID == "" {
		return nil, types.NewValidationError(types.ErrCodeInvalidInput, "owner id is required", nil)
	}

	// The content hash is computed over plaintext before encryption and is
	// never recomputed from ciphertext.
	contentHash := crypto.Hash(input.Plaintext)

	key, err := crypto.DeriveKey(input.OwnerSignature)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	ciphertext, iv, err := crypto.Encrypt(input.Plaintext, key)
	if err != nil {
		s.metrics.RecordCryptoOperation("encrypt", "error", time.Since(start))
		return nil, types.NewInternalError(types.ErrCodeInternalError, "encryption failed", err)
	}
	s.metrics.RecordCryptoOperation("encrypt", "success", time.Since(start))

	locator, err := s.blobs.Put(ctx, ciphertext)
	if err != nil {
		return nil, types.NewExternalError(types.ErrCodeBlobStoreFailed, "failed to persist ciphertext", err)
	}

	record := &types.EncryptedRecord{
		OwnerID:           input.OwnerID,
		RecordKind:        input.RecordKind,
		DisplayName:       input.DisplayName,
		OriginalFilename:  input.OriginalFilename,
		CiphertextLocator: locator,
		ContentHash:       contentHash,
		IV:                hex.EncodeToString(iv),
		IsEncrypted:       true,
		AuthorizedPrincipals: []types.AuthorizedPrincipal{
			{
				PrincipalID: input.OwnerID,
				Kind:        types.PrincipalOwner,
				GrantedAt:   time.Now(),
				Status:      types.AuthorizationApproved,
			},
		},
	}

	// Anchoring is best-effort: a down ledger must never fail an upload.
	anchor, err := s.ledger.Anchor(ctx, input.OwnerID, input.RecordKind, input.DisplayName, contentHash)
	if err != nil {
		s.metrics.RecordLedgerTransaction("anchor", "error")
		s.logger.WithError(err).WithField("owner_id", input.OwnerID).
			Warn("Ledger anchor failed, continuing without anchor")
	} else {
		s.metrics.RecordLedgerTransaction("anchor", "success")
		record.LedgerAnchor = &types.LedgerAnchor{
			LedgerRecordID: anchor.LedgerRecordID,
			TxRef:          anchor.TxRef,
			BlockRef:       anchor.BlockRef,
		}
	}

	if err := s.records.Create(ctx, record); err != nil {
		return nil, types.NewInternalError(types.ErrCodeInternalError, "failed to persist record", err)
	}

	s.logger.Audit(input.OwnerID, "UPLOAD_RECORD", record.ID, true, map[string]interface{}{
		"record_kind": string(input.RecordKind),
		"anchored":    record.LedgerAnchor != nil,
	})

	return record, nil
}

// Download authorizes the caller, decrypts the record and verifies its
// integrity. A decryption failure is indistinguishable from an authorization
// failure at this boundary and is never retried.
func (s *Service) Download(ctx context.Context, recordID string, caller types.Principal, ownerSignature []byte) (*DownloadResult, error) {
	record, err := s.records.GetByID(ctx, recordID)
	if err != nil {
		return nil, err
	}

	if err := s.authorize(record, caller); err != nil {
		s.logger.Audit(caller.ID, "DOWNLOAD_RECORD", recordID, false, map[string]interface{}{
			"reason": "not authorized",
		})
		return nil, err
	}

	ciphertext, err := s.blobs.Get(ctx, record.CiphertextLocator)
	if err != nil {
		return nil, types.NewExternalError(types.ErrCodeBlobStoreFailed, "failed to fetch ciphertext", err)
	}

	key, err := s.resolveKey(ctx, record, caller, ownerSignature)
	if err != nil {
		return nil, err
	}

	iv, err := hex.DecodeString(record.IV)
	if err != nil {
		return nil, types.NewInternalError(types.ErrCodeInternalError, "stored IV is malformed", err)
	}

	start := time.Now()
	plaintext, err := crypto.Decrypt(ciphertext, key, iv)
	if err != nil {
		s.metrics.RecordCryptoOperation("decrypt", "error", time.Since(start))
		if errors.Is(err, crypto.ErrDecryptionFailed) {
			s.logger.Security("wrong_key_access_attempt", caller.ID, map[string]interface{}{
				"record_id": recordID,
			})
			return nil, types.NewForbiddenError(types.ErrCodeForbidden, "access denied")
		}
		return nil, err
	}
	s.metrics.RecordCryptoOperation("decrypt", "success", time.Since(start))

	report := s.verify(ctx, record, plaintext)
	s.metrics.RecordIntegrityVerdict(string(report.Verdict))

	if report.Blocking() {
		s.logger.Audit(caller.ID, "DOWNLOAD_RECORD", recordID, false, map[string]interface{}{
			"reason":  "integrity verification failed",
			"verdict": string(report.Verdict),
		})
		return nil, types.NewIntegrityError(types.ErrCodeIntegrityFailed,
			"record content does not match its stored fingerprint", map[string]interface{}{
				"verdict": string(report.Verdict),
			})
	}

	s.logger.Audit(caller.ID, "DOWNLOAD_RECORD", recordID, true, map[string]interface{}{
		"verdict": string(report.Verdict),
	})

	return &DownloadResult{
		Record:    record,
		Plaintext: plaintext,
		Integrity: report,
	}, nil
}

// Get returns record metadata for an authorized caller, without decrypting
func (s *Service) Get(ctx context.Context, recordID string, caller types.Principal) (*types.EncryptedRecord, error) {
	record, err := s.records.GetByID(ctx, recordID)
	if err != nil {
		return nil, err
	}
	if err := s.authorize(record, caller); err != nil {
		return nil, err
	}
	return record, nil
}

// ListByOwner returns all of an owner's record metadata. Only the owner may
// enumerate their vault.
func (s *Service) ListByOwner(ctx context.Context, caller types.Principal) ([]*types.EncryptedRecord, error) {
	if caller.Kind != types.PrincipalOwner {
		return nil, types.NewForbiddenError(types.ErrCodeForbidden, "access denied")
	}
	return s.records.ListByOwner(ctx, caller.ID)
}

// authorize checks the caller against the record's authorization list with
// exhaustive matching on the principal kind. Expired delegate entries are
// rejected here even while still physically present before the next sweep.
func (s *Service) authorize(record *types.EncryptedRecord, caller types.Principal) error {
	switch caller.Kind {
	case types.PrincipalOwner:
		if caller.ID != record.OwnerID {
			return types.NewForbiddenError(types.ErrCodeForbidden, "access denied")
		}
		return nil

	case types.PrincipalDelegate:
		entry := record.FindPrincipal(caller.ID)
		if entry == nil || entry.Kind != types.PrincipalDelegate || !entry.Active(time.Now()) {
			return types.NewForbiddenError(types.ErrCodeForbidden, "access denied")
		}
		return nil

	default:
		return types.NewForbiddenError(types.ErrCodeForbidden, "access denied")
	}
}

// resolveKey produces the decryption key for the caller: owners re-derive it
// from their signature, delegates use the symmetric key held by the grant.
func (s *Service) resolveKey(ctx context.Context, record *types.EncryptedRecord, caller types.Principal, ownerSignature []byte) ([]byte, error) {
	switch caller.Kind {
	case types.PrincipalOwner:
		key, err := crypto.DeriveKey(ownerSignature)
		if err != nil {
			return nil, err
		}
		return key, nil

	case types.PrincipalDelegate:
		grant, err := s.grants.ActiveGrant(ctx, caller.ID, record.ID)
		if err != nil || grant == nil || grant.OwnerSymmetricKey == "" {
			// Missing, expired or capability-less grants all collapse into
			// the same forbidden answer.
			return nil, types.NewForbiddenError(types.ErrCodeForbidden, "access denied")
		}
		key, err := hex.DecodeString(grant.OwnerSymmetricKey)
		if err != nil || len(key) != crypto.KeySize {
			return nil, types.NewForbiddenError(types.ErrCodeForbidden, "access denied")
		}
		return key, nil

	default:
		return nil, types.NewForbiddenError(types.ErrCodeForbidden, "access denied")
	}
}

// verify runs the integrity pipeline. A ledger read failure degrades to
// "anchor unavailable" and never to an integrity failure.
func (s *Service) verify(ctx context.Context, record *types.EncryptedRecord, plaintext []byte) integrity.Report {
	anchoredHash := ""
	anchorAvailable := false

	if record.LedgerAnchor != nil {
		hash, err := s.ledger.ReadHash(ctx, record.OwnerID, record.DisplayName, record.RecordKind)
		if err != nil {
			s.metrics.RecordLedgerTransaction("read", "error")
			s.logger.WithError(err).WithField("record_id", record.ID).
				Warn("Ledger read failed, treating anchor as unavailable")
		} else {
			s.metrics.RecordLedgerTransaction("read", "success")
			anchoredHash = hash
			anchorAvailable = true
		}
	}

	return integrity.Check(plaintext, record.ContentHash, anchoredHash, anchorAvailable)
}
