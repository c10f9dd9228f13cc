package recordanchor

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/hyperledger/fabric-contract-api-go/contractapi"
)

// SmartContract anchors record content fingerprints on the ledger
type SmartContract struct {
	contractapi.Contract
}

// AnchorEntry is one anchored content fingerprint. Re-anchoring the same
// record overwrites the entry; prior values stay reachable through the key's
// ledger history.
type AnchorEntry struct {
	OwnerScopeID string    `json:"owner_scope_id"`
	RecordKind   string    `json:"record_kind"`
	RecordName   string    `json:"record_name"`
	Hash         string    `json:"hash"`
	AnchoredAt   time.Time `json:"anchored_at"`
	TxID         string    `json:"tx_id"`
}

const anchorObjectType = "anchor"

// AnchorHash stores the content hash for a record. The latest anchor wins.
func (s *SmartContract) AnchorHash(ctx contractapi.TransactionContextInterface, ownerScopeID, recordKind, recordName, hash string) (*AnchorEntry, error) {
	if ownerScopeID == "" || recordKind == "" || recordName == "" || hash == "" {
		return nil, fmt.Errorf("owner scope, record kind, record name and hash are all required")
	}

	key, err := anchorKey(ctx, ownerScopeID, recordKind, recordName)
	if err != nil {
		return nil, err
	}

	entry := AnchorEntry{
		OwnerScopeID: ownerScopeID,
		RecordKind:   recordKind,
		RecordName:   recordName,
		Hash:         hash,
		AnchoredAt:   time.Now().UTC(),
		TxID:         ctx.GetStub().GetTxID(),
	}

	entryJSON, err := json.Marshal(entry)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal anchor entry: %v", err)
	}

	if err := ctx.GetStub().PutState(key, entryJSON); err != nil {
		return nil, fmt.Errorf("failed to store anchor entry: %v", err)
	}

	return &entry, nil
}

// ReadHash returns the currently anchored hash for a record
func (s *SmartContract) ReadHash(ctx contractapi.TransactionContextInterface, ownerScopeID, recordKind, recordName string) (string, error) {
	entry, err := s.readEntry(ctx, ownerScopeID, recordKind, recordName)
	if err != nil {
		return "", err
	}
	return entry.Hash, nil
}

// GetAnchorHistory returns every anchor ever written for a record, oldest
// values included, so auditors can see when a fingerprint changed.
func (s *SmartContract) GetAnchorHistory(ctx contractapi.TransactionContextInterface, ownerScopeID, recordKind, recordName string) ([]*AnchorEntry, error) {
	key, err := anchorKey(ctx, ownerScopeID, recordKind, recordName)
	if err != nil {
		return nil, err
	}

	iterator, err := ctx.GetStub().GetHistoryForKey(key)
	if err != nil {
		return nil, fmt.Errorf("failed to read anchor history: %v", err)
	}
	defer iterator.Close()

	var history []*AnchorEntry
	for iterator.HasNext() {
		modification, err := iterator.Next()
		if err != nil {
			return nil, fmt.Errorf("failed to iterate anchor history: %v", err)
		}
		if modification.IsDelete {
			continue
		}

		var entry AnchorEntry
		if err := json.Unmarshal(modification.Value, &entry); err != nil {
			return nil, fmt.Errorf("failed to unmarshal anchor entry: %v", err)
		}
		history = append(history, &entry)
	}

	if len(history) == 0 {
		return nil, fmt.Errorf("no anchor for record %s/%s/%s", ownerScopeID, recordKind, recordName)
	}
	return history, nil
}

func (s *SmartContract) readEntry(ctx contractapi.TransactionContextInterface, ownerScopeID, recordKind, recordName string) (*AnchorEntry, error) {
	key, err := anchorKey(ctx, ownerScopeID, recordKind, recordName)
	if err != nil {
		return nil, err
	}

	entryJSON, err := ctx.GetStub().GetState(key)
	if err != nil {
		return nil, fmt.Errorf("failed to read anchor entry: %v", err)
	}
	if entryJSON == nil {
		return nil, fmt.Errorf("no anchor for record %s/%s/%s", ownerScopeID, recordKind, recordName)
	}

	var entry AnchorEntry
	if err := json.Unmarshal(entryJSON, &entry); err != nil {
		return nil, fmt.Errorf("failed to unmarshal anchor entry: %v", err)
	}
	return &entry, nil
}

func anchorKey(ctx contractapi.TransactionContextInterface, ownerScopeID, recordKind, recordName string) (string, error) {
	key, err := ctx.GetStub().CreateCompositeKey(anchorObjectType, []string{ownerScopeID, recordKind, recordName})
	if err != nil {
		return "", fmt.Errorf("failed to create anchor key: %v", err)
	}
	return key, nil
}
