package blobstore

import (
	"context"
	"fmt"

	"github.com/dgraph-io/badger/v4"

	"github.com/medvault/dlt-phr/pkg/config"
	"github.com/medvault/dlt-phr/pkg/crypto"
	"github.com/medvault/dlt-phr/pkg/logger"
)

// BadgerStore is a content-addressed blob store on BadgerDB. The locator is
// the hex SHA-256 of the blob, which makes Put idempotent and lets the store
// detect silent on-disk corruption on read.
type BadgerStore struct {
	db     *badger.DB
	logger *logger.Logger
}

// NewBadgerStore opens a badger-backed blob store at the configured path
func NewBadgerStore(cfg *config.BlobStoreConfig, log *logger.Logger) (*BadgerStore, error) {
	opts := badger.DefaultOptions(cfg.Path)
	opts.Logger = nil
	opts.ValueLogFileSize = int64(cfg.ValueLogFileMB) * 1024 * 1024
	opts.SyncWrites = cfg.SyncWrites

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open blob store: %w", err)
	}

	log.WithComponent("blobstore").WithField("path", cfg.Path).Info("Blob store opened")

	return &BadgerStore{
		db:     db,
		logger: log,
	}, nil
}

// Put persists ciphertext and returns its content-derived locator
func (s *BadgerStore) Put(ctx context.Context, data []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	locator := crypto.Hash(data)

	err := s.db.Update(func(txn *badger.Txn) error {
		// Same content, same key: nothing to do on re-upload.
		if _, err := txn.Get([]byte(locator)); err == nil {
			return nil
		}
		return txn.Set([]byte(locator), data)
	})
	if err != nil {
		return "", fmt.Errorf("failed to store blob: %w", err)
	}

	return locator, nil
}

// Get fetches ciphertext by locator
func (s *BadgerStore) Get(ctx context.Context, locator string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var data []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(locator))
		if err != nil {
			return err
		}
		data, err = item.ValueCopy(nil)
		return err
	})
	if err == badger.ErrKeyNotFound {
		return nil, ErrBlobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read blob: %w", err)
	}

	return data, nil
}

// Close closes the underlying badger database
func (s *BadgerStore) Close() error {
	return s.db.Close()
}

// RunGC triggers a value-log garbage collection pass. Safe to call
// periodically; badger returns an error when nothing was collected.
func (s *BadgerStore) RunGC() {
	if err := s.db.RunValueLogGC(0.5); err != nil && err != badger.ErrNoRewrite {
		s.logger.WithError(err).Warn("Blob store GC pass failed")
	}
}
