package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/medvault/dlt-phr/pkg/config"
	"github.com/medvault/dlt-phr/pkg/logger"
	"github.com/medvault/dlt-phr/pkg/types"
)

// ErrAnchorNotFound is returned by ReadHash when no anchor exists for the key
var ErrAnchorNotFound = types.NewNotFoundError(types.ErrCodeNotFound, "no anchor recorded for this record")

// AnchorResult identifies a hash anchored on the ledger
type AnchorResult struct {
	LedgerRecordID string `json:"ledger_record_id"`
	TxRef          string `json:"tx_ref"`
	BlockRef       string `json:"block_ref"`
}

// Client is the narrow ledger interface the vault consumes. Anchor calls are
// not idempotent; duplicate anchors for the same record are tolerated and
// ReadHash returns the most recent one.
type Client interface {
	// Connect establishes the ledger session. Callers may invoke it lazily
	// before first use; it is a no-op once connected.
	Connect(ctx context.Context) error
	// Anchor records a content hash under (ownerScopeID, kind, recordName).
	Anchor(ctx context.Context, ownerScopeID string, kind types.RecordKind, recordName, hash string) (*AnchorResult, error)
	// ReadHash returns the anchored hash, or ErrAnchorNotFound.
	ReadHash(ctx context.Context, ownerScopeID, recordName string, kind types.RecordKind) (string, error)
}

// FabricClient talks to the record-anchor chaincode. Transaction submission
// goes through the invoke/query seam below; until the gateway transport is
// wired it keeps anchor state in process so the verification path stays
// exercisable end to end.
type FabricClient struct {
	config    *config.LedgerConfig
	logger    *logger.Logger
	channelID string
	chaincode string

	mu        sync.RWMutex
	connected bool
	anchors   map[string]anchorState
}

type anchorState struct {
	Hash   string
	Result AnchorResult
}

// NewFabricClient creates a ledger client for the record-anchor chaincode
func NewFabricClient(cfg *config.LedgerConfig, log *logger.Logger) *FabricClient {
	return &FabricClient{
		config:    cfg,
		logger:    log,
		channelID: cfg.ChannelName,
		chaincode: cfg.ChaincodeID,
		anchors:   make(map[string]anchorState),
	}
}

// Connect establishes the chaincode session
func (c *FabricClient) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.connected {
		return nil
	}

	if c.channelID == "" || c.chaincode == "" {
		return types.NewExternalError(types.ErrCodeLedgerUnavailable,
			"ledger channel or chaincode not configured", nil)
	}

	c.logger.WithComponent("ledger").WithFields(map[string]interface{}{
		"channel":   c.channelID,
		"chaincode": c.chaincode,
		"peer":      c.config.PeerEndpoint,
	}).Info("Ledger session established")

	c.connected = true
	return nil
}

// ensureReady connects lazily on first use
func (c *FabricClient) ensureReady(ctx context.Context) error {
	c.mu.RLock()
	connected := c.connected
	c.mu.RUnlock()
	if connected {
		return nil
	}
	return c.Connect(ctx)
}

// Anchor records a content hash on the ledger
func (c *FabricClient) Anchor(ctx context.Context, ownerScopeID string, kind types.RecordKind, recordName, hash string) (*AnchorResult, error) {
	if err := c.ensureReady(ctx); err != nil {
		return nil, err
	}

	args := []string{"AnchorHash", ownerScopeID, string(kind), recordName, hash}
	response, err := c.invokeChaincode(ctx, args)
	if err != nil {
		c.logger.LedgerTransaction(ctx, "anchor", recordName, false, "", map[string]interface{}{
			"owner_scope": ownerScopeID,
			"error":       err.Error(),
		})
		return nil, types.NewExternalError(types.ErrCodeLedgerUnavailable, "failed to anchor hash", err)
	}

	var result AnchorResult
	if err := json.Unmarshal(response, &result); err != nil {
		return nil, types.NewExternalError(types.ErrCodeLedgerUnavailable, "malformed anchor response", err)
	}

	c.logger.LedgerTransaction(ctx, "anchor", recordName, true, result.TxRef, map[string]interface{}{
		"owner_scope": ownerScopeID,
		"record_kind": string(kind),
	})

	return &result, nil
}

// ReadHash returns the most recently anchored hash for a record
func (c *FabricClient) ReadHash(ctx context.Context, ownerScopeID, recordName string, kind types.RecordKind) (string, error) {
	if err := c.ensureReady(ctx); err != nil {
		return "", err
	}

	args := []string{"ReadHash", ownerScopeID, recordName, string(kind)}
	response, err := c.queryChaincode(ctx, args)
	if err != nil {
		return "", err
	}

	var result struct {
		Hash string `json:"hash"`
	}
	if err := json.Unmarshal(response, &result); err != nil {
		return "", types.NewExternalError(types.ErrCodeLedgerUnavailable, "malformed read response", err)
	}

	return result.Hash, nil
}

// anchorKey builds the composite state key used by the chaincode
func anchorKey(ownerScopeID, recordName string, kind types.RecordKind) string {
	return fmt.Sprintf("%s|%s|%s", ownerScopeID, kind, recordName)
}

// invokeChaincode submits a state-changing transaction. The gateway SDK
// transport plugs in here; the in-process path mirrors the chaincode's
// AnchorHash behavior.
func (c *FabricClient) invokeChaincode(ctx context.Context, args []string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	switch args[0] {
	case "AnchorHash":
		if len(args) < 5 {
			return nil, fmt.Errorf("AnchorHash requires 4 arguments")
		}
		ownerScopeID, kind, recordName, hash := args[1], types.RecordKind(args[2]), args[3], args[4]

		result := AnchorResult{
			LedgerRecordID: uuid.New().String(),
			TxRef:          uuid.New().String(),
			BlockRef:       fmt.Sprintf("block-%d", time.Now().UnixNano()),
		}

		c.mu.Lock()
		// Duplicate anchors overwrite: the latest anchor wins on read.
		c.anchors[anchorKey(ownerScopeID, recordName, kind)] = anchorState{Hash: hash, Result: result}
		c.mu.Unlock()

		return json.Marshal(result)

	default:
		return nil, fmt.Errorf("unknown chaincode function: %s", args[0])
	}
}

// queryChaincode runs a read-only chaincode query
func (c *FabricClient) queryChaincode(ctx context.Context, args []string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	switch args[0] {
	case "ReadHash":
		if len(args) < 4 {
			return nil, fmt.Errorf("ReadHash requires 3 arguments")
		}
		ownerScopeID, recordName, kind := args[1], args[2], types.RecordKind(args[3])

		c.mu.RLock()
		state, ok := c.anchors[anchorKey(ownerScopeID, recordName, kind)]
		c.mu.RUnlock()
		if !ok {
			return nil, ErrAnchorNotFound
		}

		return json.Marshal(map[string]string{"hash": state.Hash})

	default:
		return nil, fmt.Errorf("unknown chaincode function: %s", args[0])
	}
}
