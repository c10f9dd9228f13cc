package vault

import (
	"context"
	"encoding/hex"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/medvault/dlt-phr/pkg/crypto"
	"github.com/medvault/dlt-phr/pkg/integrity"
	"github.com/medvault/dlt-phr/pkg/ledger"
	"github.com/medvault/dlt-phr/pkg/logger"
	"github.com/medvault/dlt-phr/pkg/monitoring"
	"github.com/medvault/dlt-phr/pkg/types"
)

// MockRecordStore mocks the record repository
type MockRecordStore struct {
	mock.Mock
}

func (m *MockRecordStore) Create(ctx context.Context, record *types.EncryptedRecord) error {
	args := m.Called(ctx, record)
	return args.Error(0)
}

func (m *MockRecordStore) GetByID(ctx context.Context, recordID string) (*types.EncryptedRecord, error) {
	args := m.Called(ctx, recordID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*types.EncryptedRecord), args.Error(1)
}

func (m *MockRecordStore) ListByOwner(ctx context.Context, ownerID string) ([]*types.EncryptedRecord, error) {
	args := m.Called(ctx, ownerID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*types.EncryptedRecord), args.Error(1)
}

func (m *MockRecordStore) ReplaceAuthorizedPrincipals(ctx context.Context, recordID string, principals []types.AuthorizedPrincipal) error {
	args := m.Called(ctx, recordID, principals)
	return args.Error(0)
}

// MockBlobStore mocks the ciphertext blob store
type MockBlobStore struct {
	mock.Mock
}

func (m *MockBlobStore) Put(ctx context.Context, data []byte) (string, error) {
	args := m.Called(ctx, data)
	return args.String(0), args.Error(1)
}

func (m *MockBlobStore) Get(ctx context.Context, locator string) ([]byte, error) {
	args := m.Called(ctx, locator)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]byte), args.Error(1)
}

func (m *MockBlobStore) Close() error {
	args := m.Called()
	return args.Error(0)
}

// MockLedgerClient mocks the ledger anchor client
type MockLedgerClient struct {
	mock.Mock
}

func (m *MockLedgerClient) Connect(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func (m *MockLedgerClient) Anchor(ctx context.Context, ownerScopeID string, kind types.RecordKind, recordName, hash string) (*ledger.AnchorResult, error) {
	args := m.Called(ctx, ownerScopeID, kind, recordName, hash)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*ledger.AnchorResult), args.Error(1)
}

func (m *MockLedgerClient) ReadHash(ctx context.Context, ownerScopeID, recordName string, kind types.RecordKind) (string, error) {
	args := m.Called(ctx, ownerScopeID, recordName, kind)
	return args.String(0), args.Error(1)
}

// MockGrantSource mocks the access-request grant lookup
type MockGrantSource struct {
	mock.Mock
}

func (m *MockGrantSource) ActiveGrant(ctx context.Context, requesterID, recordID string) (*types.GrantedKey, error) {
	args := m.Called(ctx, requesterID, recordID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*types.GrantedKey), args.Error(1)
}

func newTestService(records *MockRecordStore, blobs *MockBlobStore, lc *MockLedgerClient, grants *MockGrantSource) *Service {
	return NewService(records, blobs, lc, grants,
		logger.New("vault-test", "error"), monitoring.NewMetricsCollector())
}

// encryptedFixture builds a stored record plus its ciphertext for download tests
func encryptedFixture(t *testing.T, ownerID string, plaintext, signature []byte) (*types.EncryptedRecord, []byte) {
	t.Helper()

	key, err := crypto.DeriveKey(signature)
	require.NoError(t, err)
	ciphertext, iv, err := crypto.Encrypt(plaintext, key)
	require.NoError(t, err)

	record := &types.EncryptedRecord{
		ID:                "rec-1",
		OwnerID:           ownerID,
		RecordKind:        types.RecordKindReport,
		DisplayName:       "blood-panel",
		CiphertextLocator: "blob-1",
		ContentHash:       crypto.Hash(plaintext),
		IV:                hex.EncodeToString(iv),
		IsEncrypted:       true,
		AuthorizedPrincipals: []types.AuthorizedPrincipal{
			{
				PrincipalID: ownerID,
				Kind:        types.PrincipalOwner,
				GrantedAt:   time.Now().Add(-time.Hour),
				Status:      types.AuthorizationApproved,
			},
		},
	}
	return record, ciphertext
}

func TestUploadEncryptsAndAnchors(t *testing.T) {
	records := new(MockRecordStore)
	blobs := new(MockBlobStore)
	lc := new(MockLedgerClient)
	service := newTestService(records, blobs, lc, new(MockGrantSource))

	plaintext := []byte("lab results: all clear")
	signature := []byte("owner-signature")
	wantHash := crypto.Hash(plaintext)

	var storedCiphertext []byte
	blobs.On("Put", mock.Anything, mock.Anything).Run(func(args mock.Arguments) {
		storedCiphertext = args.Get(1).([]byte)
	}).Return("blob-1", nil)

	lc.On("Anchor", mock.Anything, "patient-1", types.RecordKindReport, "blood-panel", wantHash).
		Return(&ledger.AnchorResult{LedgerRecordID: "L1", TxRef: "tx-1", BlockRef: "42"}, nil)

	records.On("Create", mock.Anything, mock.Anything).Return(nil)

	record, err := service.Upload(context.Background(), UploadInput{
		OwnerID:        "patient-1",
		RecordKind:     types.RecordKindReport,
		DisplayName:    "blood-panel",
		Plaintext:      plaintext,
		OwnerSignature: signature,
	})

	require.NoError(t, err)
	assert.Equal(t, wantHash, record.ContentHash)
	assert.True(t, record.IsEncrypted)
	assert.Equal(t, "blob-1", record.CiphertextLocator)
	require.NotNil(t, record.LedgerAnchor)
	assert.Equal(t, "tx-1", record.LedgerAnchor.TxRef)

	// The owner is the sole authorized principal on a fresh record
	require.Len(t, record.AuthorizedPrincipals, 1)
	assert.Equal(t, "patient-1", record.AuthorizedPrincipals[0].PrincipalID)
	assert.Equal(t, types.PrincipalOwner, record.AuthorizedPrincipals[0].Kind)

	// The blob holds ciphertext, not plaintext, and decrypts back
	assert.NotEqual(t, plaintext, storedCiphertext)
	key, _ := crypto.DeriveKey(signature)
	iv, _ := hex.DecodeString(record.IV)
	roundTrip, err := crypto.Decrypt(storedCiphertext, key, iv)
	require.NoError(t, err)
	assert.Equal(t, plaintext, roundTrip)
}

func TestUploadSurvivesLedgerOutage(t *testing.T) {
	records := new(MockRecordStore)
	blobs := new(MockBlobStore)
	lc := new(MockLedgerClient)
	service := newTestService(records, blobs, lc, new(MockGrantSource))

	blobs.On("Put", mock.Anything, mock.Anything).Return("blob-1", nil)
	lc.On("Anchor", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(nil, errors.New("ledger unreachable"))
	records.On("Create", mock.Anything, mock.Anything).Return(nil)

	record, err := service.Upload(context.Background(), UploadInput{
		OwnerID:        "patient-1",
		RecordKind:     types.RecordKindPrescription,
		DisplayName:    "amoxicillin",
		Plaintext:      []byte("500mg twice daily"),
		OwnerSignature: []byte("owner-signature"),
	})

	require.NoError(t, err)
	assert.Nil(t, record.LedgerAnchor)
	records.AssertCalled(t, "Create", mock.Anything, mock.Anything)
}

func TestUploadFailsWhenBlobStoreFails(t *testing.T) {
	records := new(MockRecordStore)
	blobs := new(MockBlobStore)
	service := newTestService(records, blobs, new(MockLedgerClient), new(MockGrantSource))

	blobs.On("Put", mock.Anything, mock.Anything).Return("", errors.New("disk full"))

	_, err := service.Upload(context.Background(), UploadInput{
		OwnerID:        "patient-1",
		RecordKind:     types.RecordKindBill,
		DisplayName:    "invoice",
		Plaintext:      []byte("amount due"),
		OwnerSignature: []byte("owner-signature"),
	})

	require.Error(t, err)
	assert.True(t, types.IsType(err, types.ErrorTypeExternal))
	records.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
}

func TestUploadValidation(t *testing.T) {
	service := newTestService(new(MockRecordStore), new(MockBlobStore), new(MockLedgerClient), new(MockGrantSource))

	tests := []struct {
		name  string
		input UploadInput
	}{
		{"empty content", UploadInput{OwnerID: "p1", RecordKind: types.RecordKindBill, DisplayName: "x", OwnerSignature: []byte("s")}},
		{"bad kind", UploadInput{OwnerID: "p1", RecordKind: "diary", DisplayName: "x", Plaintext: []byte("c"), OwnerSignature: []byte("s")}},
		{"missing name", UploadInput{OwnerID: "p1", RecordKind: types.RecordKindBill, Plaintext: []byte("c"), OwnerSignature: []byte("s")}},
		{"missing owner", UploadInput{RecordKind: types.RecordKindBill, DisplayName: "x", Plaintext: []byte("c"), OwnerSignature: []byte("s")}},
		{"empty signature", UploadInput{OwnerID: "p1", RecordKind: types.RecordKindBill, DisplayName: "x", Plaintext: []byte("c")}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := service.Upload(context.Background(), tt.input)
			require.Error(t, err)
			assert.True(t, types.IsValidation(err))
		})
	}
}

func TestDownloadByOwner(t *testing.T) {
	records := new(MockRecordStore)
	blobs := new(MockBlobStore)
	lc := new(MockLedgerClient)
	service := newTestService(records, blobs, lc, new(MockGrantSource))

	plaintext := []byte("lab results: all clear")
	signature := []byte("owner-signature")
	record, ciphertext := encryptedFixture(t, "patient-1", plaintext, signature)
	record.LedgerAnchor = &types.LedgerAnchor{LedgerRecordID: "L1", TxRef: "tx-1"}

	records.On("GetByID", mock.Anything, "rec-1").Return(record, nil)
	blobs.On("Get", mock.Anything, "blob-1").Return(ciphertext, nil)
	lc.On("ReadHash", mock.Anything, "patient-1", "blood-panel", types.RecordKindReport).
		Return(record.ContentHash, nil)

	result, err := service.Download(context.Background(), "rec-1",
		types.Principal{Kind: types.PrincipalOwner, ID: "patient-1"}, signature)

	require.NoError(t, err)
	assert.Equal(t, plaintext, result.Plaintext)
	assert.Equal(t, integrity.FullyVerified, result.Integrity.Verdict)
}

func TestDownloadWrongSignatureIsDenied(t *testing.T) {
	records := new(MockRecordStore)
	blobs := new(MockBlobStore)
	service := newTestService(records, blobs, new(MockLedgerClient), new(MockGrantSource))

	record, ciphertext := encryptedFixture(t, "patient-1", []byte("secret"), []byte("right-signature"))
	record.LedgerAnchor = nil

	records.On("GetByID", mock.Anything, "rec-1").Return(record, nil)
	blobs.On("Get", mock.Anything, "blob-1").Return(ciphertext, nil)

	_, err := service.Download(context.Background(), "rec-1",
		types.Principal{Kind: types.PrincipalOwner, ID: "patient-1"}, []byte("wrong-signature"))

	// A wrong key usually fails padding and surfaces as forbidden; in the
	// rare case the padding survives, the integrity check still blocks.
	require.Error(t, err)
	assert.True(t, types.IsForbidden(err) || types.IsIntegrity(err))
}

func TestDownloadByDelegateWithGrant(t *testing.T) {
	records := new(MockRecordStore)
	blobs := new(MockBlobStore)
	grants := new(MockGrantSource)
	service := newTestService(records, blobs, new(MockLedgerClient), grants)

	plaintext := []byte("prescription details")
	signature := []byte("owner-signature")
	record, ciphertext := encryptedFixture(t, "patient-1", plaintext, signature)
	record.AuthorizedPrincipals = append(record.AuthorizedPrincipals, types.AuthorizedPrincipal{
		PrincipalID: "doctor-1",
		Kind:        types.PrincipalDelegate,
		GrantedAt:   time.Now().Add(-time.Hour),
		ExpiresAt:   timePtr(time.Now().Add(24 * time.Hour)),
		Status:      types.AuthorizationApproved,
	})

	key, _ := crypto.DeriveKey(signature)
	records.On("GetByID", mock.Anything, "rec-1").Return(record, nil)
	blobs.On("Get", mock.Anything, "blob-1").Return(ciphertext, nil)
	grants.On("ActiveGrant", mock.Anything, "doctor-1", "rec-1").Return(&types.GrantedKey{
		RecordID:          "rec-1",
		AccessToken:       "tok-1",
		OwnerSymmetricKey: hex.EncodeToString(key),
	}, nil)

	result, err := service.Download(context.Background(), "rec-1",
		types.Principal{Kind: types.PrincipalDelegate, ID: "doctor-1"}, nil)

	require.NoError(t, err)
	assert.Equal(t, plaintext, result.Plaintext)
	assert.Equal(t, integrity.LocallyVerifiedOnly, result.Integrity.Verdict)
}

func TestDownloadByUnauthorizedDelegate(t *testing.T) {
	records := new(MockRecordStore)
	blobs := new(MockBlobStore)
	service := newTestService(records, blobs, new(MockLedgerClient), new(MockGrantSource))

	record, _ := encryptedFixture(t, "patient-1", []byte("secret"), []byte("sig"))
	records.On("GetByID", mock.Anything, "rec-1").Return(record, nil)

	_, err := service.Download(context.Background(), "rec-1",
		types.Principal{Kind: types.PrincipalDelegate, ID: "stranger-1"}, nil)

	require.Error(t, err)
	assert.True(t, types.IsForbidden(err))
	blobs.AssertNotCalled(t, "Get", mock.Anything, mock.Anything)
}

func TestDownloadByExpiredDelegateEntry(t *testing.T) {
	records := new(MockRecordStore)
	blobs := new(MockBlobStore)
	service := newTestService(records, blobs, new(MockLedgerClient), new(MockGrantSource))

	record, _ := encryptedFixture(t, "patient-1", []byte("secret"), []byte("sig"))
	// Entry still physically present but expired: rejected before any sweep
	record.AuthorizedPrincipals = append(record.AuthorizedPrincipals, types.AuthorizedPrincipal{
		PrincipalID: "doctor-1",
		Kind:        types.PrincipalDelegate,
		GrantedAt:   time.Now().Add(-48 * time.Hour),
		ExpiresAt:   timePtr(time.Now().Add(-time.Hour)),
		Status:      types.AuthorizationApproved,
	})
	records.On("GetByID", mock.Anything, "rec-1").Return(record, nil)

	_, err := service.Download(context.Background(), "rec-1",
		types.Principal{Kind: types.PrincipalDelegate, ID: "doctor-1"}, nil)

	require.Error(t, err)
	assert.True(t, types.IsForbidden(err))
}

func TestDownloadDelegateWithoutKeyMaterial(t *testing.T) {
	records := new(MockRecordStore)
	blobs := new(MockBlobStore)
	grants := new(MockGrantSource)
	service := newTestService(records, blobs, new(MockLedgerClient), grants)

	record, ciphertext := encryptedFixture(t, "patient-1", []byte("secret"), []byte("sig"))
	record.AuthorizedPrincipals = append(record.AuthorizedPrincipals, types.AuthorizedPrincipal{
		PrincipalID: "doctor-1",
		Kind:        types.PrincipalDelegate,
		GrantedAt:   time.Now().Add(-time.Hour),
		Status:      types.AuthorizationApproved,
	})

	records.On("GetByID", mock.Anything, "rec-1").Return(record, nil)
	blobs.On("Get", mock.Anything, "blob-1").Return(ciphertext, nil)
	// Grant exists but the owner never filled in the symmetric key
	grants.On("ActiveGrant", mock.Anything, "doctor-1", "rec-1").Return(&types.GrantedKey{
		RecordID:    "rec-1",
		AccessToken: "tok-1",
	}, nil)

	_, err := service.Download(context.Background(), "rec-1",
		types.Principal{Kind: types.PrincipalDelegate, ID: "doctor-1"}, nil)

	require.Error(t, err)
	assert.True(t, types.IsForbidden(err))
}

func TestDownloadTamperedRecordIsBlocked(t *testing.T) {
	records := new(MockRecordStore)
	blobs := new(MockBlobStore)
	service := newTestService(records, blobs, new(MockLedgerClient), new(MockGrantSource))

	signature := []byte("owner-signature")
	record, ciphertext := encryptedFixture(t, "patient-1", []byte("original content"), signature)
	// Stored fingerprint no longer matches what decrypts out
	record.ContentHash = crypto.Hash([]byte("something else"))

	records.On("GetByID", mock.Anything, "rec-1").Return(record, nil)
	blobs.On("Get", mock.Anything, "blob-1").Return(ciphertext, nil)

	_, err := service.Download(context.Background(), "rec-1",
		types.Principal{Kind: types.PrincipalOwner, ID: "patient-1"}, signature)

	require.Error(t, err)
	assert.True(t, types.IsIntegrity(err))
}

func TestDownloadAnchorMismatchDoesNotBlock(t *testing.T) {
	records := new(MockRecordStore)
	blobs := new(MockBlobStore)
	lc := new(MockLedgerClient)
	service := newTestService(records, blobs, lc, new(MockGrantSource))

	plaintext := []byte("content")
	signature := []byte("owner-signature")
	record, ciphertext := encryptedFixture(t, "patient-1", plaintext, signature)
	record.LedgerAnchor = &types.LedgerAnchor{LedgerRecordID: "L1"}

	records.On("GetByID", mock.Anything, "rec-1").Return(record, nil)
	blobs.On("Get", mock.Anything, "blob-1").Return(ciphertext, nil)
	lc.On("ReadHash", mock.Anything, "patient-1", "blood-panel", types.RecordKindReport).
		Return(crypto.Hash([]byte("different content")), nil)

	result, err := service.Download(context.Background(), "rec-1",
		types.Principal{Kind: types.PrincipalOwner, ID: "patient-1"}, signature)

	require.NoError(t, err)
	assert.Equal(t, plaintext, result.Plaintext)
	assert.Equal(t, integrity.AnchorMismatch, result.Integrity.Verdict)
}

func TestDownloadLedgerOutageDegradesToLocal(t *testing.T) {
	records := new(MockRecordStore)
	blobs := new(MockBlobStore)
	lc := new(MockLedgerClient)
	service := newTestService(records, blobs, lc, new(MockGrantSource))

	plaintext := []byte("content")
	signature := []byte("owner-signature")
	record, ciphertext := encryptedFixture(t, "patient-1", plaintext, signature)
	record.LedgerAnchor = &types.LedgerAnchor{LedgerRecordID: "L1"}

	records.On("GetByID", mock.Anything, "rec-1").Return(record, nil)
	blobs.On("Get", mock.Anything, "blob-1").Return(ciphertext, nil)
	lc.On("ReadHash", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return("", errors.New("ledger unreachable"))

	result, err := service.Download(context.Background(), "rec-1",
		types.Principal{Kind: types.PrincipalOwner, ID: "patient-1"}, signature)

	require.NoError(t, err)
	assert.Equal(t, integrity.LocallyVerifiedOnly, result.Integrity.Verdict)
}

func TestDownloadByWrongOwner(t *testing.T) {
	records := new(MockRecordStore)
	service := newTestService(records, new(MockBlobStore), new(MockLedgerClient), new(MockGrantSource))

	record, _ := encryptedFixture(t, "patient-1", []byte("secret"), []byte("sig"))
	records.On("GetByID", mock.Anything, "rec-1").Return(record, nil)

	_, err := service.Download(context.Background(), "rec-1",
		types.Principal{Kind: types.PrincipalOwner, ID: "patient-2"}, []byte("sig"))

	require.Error(t, err)
	assert.True(t, types.IsForbidden(err))
}

func TestGetRecordNotFound(t *testing.T) {
	records := new(MockRecordStore)
	service := newTestService(records, new(MockBlobStore), new(MockLedgerClient), new(MockGrantSource))

	records.On("GetByID", mock.Anything, "missing").
		Return(nil, types.NewNotFoundError(types.ErrCodeNotFound, "record not found: missing"))

	_, err := service.Get(context.Background(), "missing",
		types.Principal{Kind: types.PrincipalOwner, ID: "patient-1"})

	require.Error(t, err)
	assert.True(t, types.IsNotFound(err))
}

func TestListByOwnerRejectsDelegates(t *testing.T) {
	service := newTestService(new(MockRecordStore), new(MockBlobStore), new(MockLedgerClient), new(MockGrantSource))

	_, err := service.ListByOwner(context.Background(),
		types.Principal{Kind: types.PrincipalDelegate, ID: "doctor-1"})

	require.Error(t, err)
	assert.True(t, types.IsForbidden(err))
}

func timePtr(t time.Time) *time.Time {
	return &t
}
