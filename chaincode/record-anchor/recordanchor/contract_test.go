package recordanchor

import (
	"fmt"
	"strings"
	"testing"

	"github.com/hyperledger/fabric-chaincode-go/pkg/cid"
	"github.com/hyperledger/fabric-chaincode-go/shim"
	"github.com/hyperledger/fabric-protos-go/ledger/queryresult"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// MockTransactionContext provides a transaction context for testing
type MockTransactionContext struct {
	stub *MockChaincodeStub
}

func (m *MockTransactionContext) GetStub() shim.ChaincodeStubInterface {
	return m.stub
}

func (m *MockTransactionContext) GetClientIdentity() cid.ClientIdentity {
	return nil
}

// MockChaincodeStub backs stub state with a map and records key history
type MockChaincodeStub struct {
	shim.ChaincodeStubInterface
	State   map[string][]byte
	History map[string][][]byte
	TxID    string
}

func newMockStub(txID string) *MockChaincodeStub {
	return &MockChaincodeStub{
		State:   make(map[string][]byte),
		History: make(map[string][][]byte),
		TxID:    txID,
	}
}

func (m *MockChaincodeStub) GetState(key string) ([]byte, error) {
	return m.State[key], nil
}

func (m *MockChaincodeStub) PutState(key string, value []byte) error {
	m.State[key] = value
	m.History[key] = append(m.History[key], value)
	return nil
}

func (m *MockChaincodeStub) GetTxID() string {
	return m.TxID
}

func (m *MockChaincodeStub) CreateCompositeKey(objectType string, attributes []string) (string, error) {
	return objectType + "\x00" + strings.Join(attributes, "\x00"), nil
}

func (m *MockChaincodeStub) GetHistoryForKey(key string) (shim.HistoryQueryIteratorInterface, error) {
	return &mockHistoryIterator{values: m.History[key]}, nil
}

type mockHistoryIterator struct {
	values [][]byte
	index  int
}

func (it *mockHistoryIterator) HasNext() bool {
	return it.index < len(it.values)
}

func (it *mockHistoryIterator) Next() (*queryresult.KeyModification, error) {
	if it.index >= len(it.values) {
		return nil, fmt.Errorf("no more results")
	}
	value := it.values[it.index]
	it.index++
	return &queryresult.KeyModification{Value: value}, nil
}

func (it *mockHistoryIterator) Close() error {
	return nil
}

func newTestContext(txID string) *MockTransactionContext {
	return &MockTransactionContext{stub: newMockStub(txID)}
}

func TestAnchorAndReadHash(t *testing.T) {
	contract := new(SmartContract)
	ctx := newTestContext("tx-1")

	entry, err := contract.AnchorHash(ctx, "patient-1", "report", "blood-panel", "abc123")
	require.NoError(t, err)
	assert.Equal(t, "abc123", entry.Hash)
	assert.Equal(t, "tx-1", entry.TxID)

	hash, err := contract.ReadHash(ctx, "patient-1", "report", "blood-panel")
	require.NoError(t, err)
	assert.Equal(t, "abc123", hash)
}

func TestReadHashAbsentAnchor(t *testing.T) {
	contract := new(SmartContract)
	ctx := newTestContext("tx-1")

	_, err := contract.ReadHash(ctx, "patient-1", "report", "never-anchored")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no anchor")
}

func TestAnchorHashValidation(t *testing.T) {
	contract := new(SmartContract)
	ctx := newTestContext("tx-1")

	_, err := contract.AnchorHash(ctx, "", "report", "blood-panel", "abc123")
	assert.Error(t, err)

	_, err = contract.AnchorHash(ctx, "patient-1", "report", "blood-panel", "")
	assert.Error(t, err)
}

func TestReanchorLatestWins(t *testing.T) {
	contract := new(SmartContract)
	ctx := newTestContext("tx-1")

	_, err := contract.AnchorHash(ctx, "patient-1", "report", "blood-panel", "hash-v1")
	require.NoError(t, err)
	_, err = contract.AnchorHash(ctx, "patient-1", "report", "blood-panel", "hash-v2")
	require.NoError(t, err)

	hash, err := contract.ReadHash(ctx, "patient-1", "report", "blood-panel")
	require.NoError(t, err)
	assert.Equal(t, "hash-v2", hash)
}

func TestAnchorsAreScopedPerRecord(t *testing.T) {
	contract := new(SmartContract)
	ctx := newTestContext("tx-1")

	_, err := contract.AnchorHash(ctx, "patient-1", "report", "blood-panel", "hash-a")
	require.NoError(t, err)
	_, err = contract.AnchorHash(ctx, "patient-1", "bill", "blood-panel", "hash-b")
	require.NoError(t, err)
	_, err = contract.AnchorHash(ctx, "patient-2", "report", "blood-panel", "hash-c")
	require.NoError(t, err)

	hash, err := contract.ReadHash(ctx, "patient-1", "report", "blood-panel")
	require.NoError(t, err)
	assert.Equal(t, "hash-a", hash)
}

func TestGetAnchorHistory(t *testing.T) {
	contract := new(SmartContract)
	ctx := newTestContext("tx-1")

	_, err := contract.AnchorHash(ctx, "patient-1", "report", "blood-panel", "hash-v1")
	require.NoError(t, err)
	_, err = contract.AnchorHash(ctx, "patient-1", "report", "blood-panel", "hash-v2")
	require.NoError(t, err)

	history, err := contract.GetAnchorHistory(ctx, "patient-1", "report", "blood-panel")
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, "hash-v1", history[0].Hash)
	assert.Equal(t, "hash-v2", history[1].Hash)
}

func TestGetAnchorHistoryAbsent(t *testing.T) {
	contract := new(SmartContract)
	ctx := newTestContext("tx-1")

	_, err := contract.GetAnchorHistory(ctx, "patient-1", "report", "never-anchored")
	require.Error(t, err)
}
