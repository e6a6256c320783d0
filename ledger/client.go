// Package ledger provides access to the escrow contract that holds the
// authoritative order funds and terminal flags.
package ledger

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"trustlink/escrow"
)

// TxKind names the contract call a handle was issued for.
type TxKind string

const (
	TxCreate  TxKind = "createEscrow"
	TxRelease TxKind = "releaseMilestone"
	TxDispute TxKind = "raiseDispute"
	TxCancel  TxKind = "cancelOrder"
	TxResolve TxKind = "resolveDispute"
	TxApprove TxKind = "approve"
)

// TxState is the observable lifecycle of a submitted write.
type TxState string

const (
	TxPending   TxState = "pending"
	TxConfirmed TxState = "confirmed"
	TxFailed    TxState = "failed"
)

// TxHandle identifies a submitted ledger write.
type TxHandle struct {
	Hash        common.Hash
	Kind        TxKind
	OrderID     uint64
	From        common.Address
	SubmittedAt time.Time
}

// Receipt reports the final outcome of a write. OrderID is filled from the
// creation event for TxCreate handles.
type Receipt struct {
	Hash    common.Hash
	State   TxState
	OrderID uint64
	Block   uint64
	Reason  string
}

// Client is the read and write surface of the escrow ledger. Write calls
// return as soon as the transaction is submitted; Await observes the
// outcome.
type Client interface {
	Order(ctx context.Context, id uint64) (escrow.LedgerOrder, error)
	OrderCount(ctx context.Context) (uint64, error)
	Release(ctx context.Context, from common.Address, id uint64, amount *uint256.Int) (TxHandle, error)
	Dispute(ctx context.Context, from common.Address, id uint64) (TxHandle, error)
	Cancel(ctx context.Context, from common.Address, id uint64) (TxHandle, error)
	Resolve(ctx context.Context, from common.Address, id uint64, winner common.Address) (TxHandle, error)
	Create(ctx context.Context, from common.Address, req escrow.CreateOrder) (TxHandle, error)
	// Await blocks until the write is confirmed or failed. No timeout is
	// imposed beyond ctx.
	Await(ctx context.Context, handle TxHandle) (Receipt, error)
}

var (
	_ Client = (*EVMClient)(nil)
	_ Client = (*MemoryLedger)(nil)
)
