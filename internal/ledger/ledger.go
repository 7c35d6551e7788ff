// Package ledger defines the contract between the anchoring engine and the
// external append-only ledger. The remote surface is narrow on purpose:
// submit a commitment, fetch a receipt, read the registered state for an
// address. Everything else (consensus, node selection, contract deployment)
// lives outside this service.
package ledger

import (
	"context"
	"errors"

	"github.com/ethereum/go-ethereum/common"
)

// Kind labels what a submission commits to the ledger.
type Kind string

const (
	KindIdentityRegistration Kind = "identity_registration"
	KindProfessionalRecord   Kind = "professional_record"
	KindRecordVerification   Kind = "record_verification"
)

// Status of a submitted transaction as reported by the ledger.
type Status string

const (
	StatusPending Status = "pending"
	StatusSuccess Status = "success"
	StatusFailed  Status = "failed"
)

// Remote-call failure taxonomy. Callers must distinguish the two: only
// unavailability is retryable; a rejection is permanent for that payload.
var (
	// ErrUnavailable wraps network and timeout failures after bounded
	// retries at the client boundary.
	ErrUnavailable = errors.New("ledger unavailable")

	// ErrRejected wraps contract-level rejections (the call reverted or the
	// gateway refused the payload).
	ErrRejected = errors.New("ledger rejected")
)

// SubmitPayload carries one commitment to the ledger.
type SubmitPayload struct {
	Kind    Kind
	Address common.Address
	Digest  common.Hash
}

// SubmitResult is the fixed shape every submission response maps into at the
// client boundary; downstream code never branches on raw remote payloads.
type SubmitResult struct {
	TxHash      string
	BlockNumber *uint64
	Status      Status
	// Raw is the gateway's response body, retained verbatim for the
	// transaction record.
	Raw []byte
}

// Receipt reports the final fate of a transaction. A nil receipt from
// TransactionReceipt means the ledger does not (yet) know the transaction.
type Receipt struct {
	TxHash      string
	BlockNumber uint64
	Success     bool
}

// IdentityState is the ledger's view of one identity address.
type IdentityState struct {
	Registered  bool
	Verified    bool
	RecordCount uint64
}

// Client is the read/write surface of the remote ledger.
//
// Submit mutates remote state and is NOT idempotent at this layer: two
// submissions for the same identity create two on-chain registrations if the
// contract permits it. Idempotency is the orchestrator's job, enforced before
// Submit is called. All other methods are read-only.
type Client interface {
	Submit(ctx context.Context, payload SubmitPayload) (SubmitResult, error)
	TransactionReceipt(ctx context.Context, txHash string) (*Receipt, error)
	ReadState(ctx context.Context, address common.Address) (IdentityState, error)
}
