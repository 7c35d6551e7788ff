// Package ledgertest provides an in-memory ledger.Client for service tests.
package ledgertest

import (
	"context"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"dbis/internal/ledger"
)

// Fake is a deterministic in-memory ledger. Tests drive confirmation timing
// explicitly: Submit records a pending transaction, ConfirmTx lands it in a
// block and registers the address, FailTx rejects it.
type Fake struct {
	mu sync.Mutex

	states   map[common.Address]ledger.IdentityState
	receipts map[string]*ledger.Receipt
	txAddr   map[string]common.Address
	nextSeq  uint64

	// SubmitErr, ReceiptErr and ReadStateErr, when set, are returned by the
	// corresponding call. Use ledger.ErrUnavailable / ledger.ErrRejected.
	SubmitErr    error
	ReceiptErr   error
	ReadStateErr error

	submitCalls    int
	readStateCalls int
}

func New() *Fake {
	return &Fake{
		states:   make(map[common.Address]ledger.IdentityState),
		receipts: make(map[string]*ledger.Receipt),
		txAddr:   make(map[string]common.Address),
	}
}

func (f *Fake) Submit(ctx context.Context, payload ledger.SubmitPayload) (ledger.SubmitResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.submitCalls++
	if f.SubmitErr != nil {
		return ledger.SubmitResult{}, f.SubmitErr
	}

	f.nextSeq++
	txHash := crypto.Keccak256Hash([]byte(fmt.Sprintf("%s|%s|%d", payload.Address.Hex(), payload.Digest.Hex(), f.nextSeq))).Hex()
	f.txAddr[txHash] = payload.Address

	return ledger.SubmitResult{
		TxHash: txHash,
		Status: ledger.StatusPending,
		Raw:    []byte(`{"status":"pending"}`),
	}, nil
}

func (f *Fake) TransactionReceipt(ctx context.Context, txHash string) (*ledger.Receipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.ReceiptErr != nil {
		return nil, f.ReceiptErr
	}
	return f.receipts[txHash], nil
}

func (f *Fake) ReadState(ctx context.Context, address common.Address) (ledger.IdentityState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.readStateCalls++
	if f.ReadStateErr != nil {
		return ledger.IdentityState{}, f.ReadStateErr
	}
	return f.states[address], nil
}

// ConfirmTx lands a pending transaction in a block and marks its address
// registered.
func (f *Fake) ConfirmTx(txHash string, blockNumber uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.receipts[txHash] = &ledger.Receipt{TxHash: txHash, BlockNumber: blockNumber, Success: true}
	if addr, ok := f.txAddr[txHash]; ok {
		state := f.states[addr]
		state.Registered = true
		state.Verified = true
		f.states[addr] = state
	}
}

// FailTx records a failed receipt for a pending transaction.
func (f *Fake) FailTx(txHash string, blockNumber uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.receipts[txHash] = &ledger.Receipt{TxHash: txHash, BlockNumber: blockNumber, Success: false}
}

// RegisterAddress marks an address registered without any local submission,
// simulating an out-of-band ledger write.
func (f *Fake) RegisterAddress(address common.Address) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.states[address] = ledger.IdentityState{Registered: true, Verified: true}
}

// SetRecordCount overrides the record count for an address.
func (f *Fake) SetRecordCount(address common.Address, n uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	state := f.states[address]
	state.RecordCount = n
	f.states[address] = state
}

// SubmitCalls reports how many times Submit was invoked.
func (f *Fake) SubmitCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.submitCalls
}

// ReadStateCalls reports how many times ReadState was invoked.
func (f *Fake) ReadStateCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.readStateCalls
}
