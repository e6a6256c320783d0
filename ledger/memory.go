package ledger

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	gethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"

	"trustlink/escrow"
)

// Revert reasons produced by MemoryLedger. They mirror the escrow
// contract's require messages.
var (
	errRevertNotFound     = errors.New("order does not exist")
	errRevertCompleted    = errors.New("order already completed")
	errRevertDisputed     = errors.New("order is disputed")
	errRevertNotBuyer     = errors.New("only buyer")
	errRevertNotParty     = errors.New("only buyer or seller")
	errRevertNotArbiter   = errors.New("only arbiter")
	errRevertAccepted     = errors.New("order already accepted")
	errRevertNotDisputed  = errors.New("order not disputed")
	errRevertInsufficient = errors.New("amount exceeds locked balance")
	errRevertZeroAmount   = errors.New("amount must be positive")
	errRevertSelfTrade    = errors.New("seller cannot be buyer")
	errRevertBadWinner    = errors.New("winner must be buyer or seller")
)

type memoryTx struct {
	handle TxHandle
	apply  func() (uint64, error)
}

// MemoryLedger is an in-process escrow contract. Writes stay pending until
// Mine is called unless auto mining is enabled.
type MemoryLedger struct {
	mu       sync.Mutex
	arbiter  common.Address
	orders   []escrow.LedgerOrder
	queue    []memoryTx
	receipts map[common.Hash]Receipt
	mined    chan struct{}
	autoMine bool
	block    uint64
	seq      uint64
	readErr  error
	now      func() time.Time
}

// NewMemoryLedger returns an empty ledger whose disputes can only be
// resolved by arbiter.
func NewMemoryLedger(arbiter common.Address) *MemoryLedger {
	return &MemoryLedger{
		arbiter:  arbiter,
		receipts: make(map[common.Hash]Receipt),
		mined:    make(chan struct{}),
		now:      time.Now,
	}
}

// SetAutoMine toggles immediate confirmation of submitted writes.
func (l *MemoryLedger) SetAutoMine(enabled bool) {
	l.mu.Lock()
	l.autoMine = enabled
	l.mu.Unlock()
	if enabled {
		l.Mine()
	}
}

// FailReads makes every subsequent read return err. A nil err restores
// normal reads.
func (l *MemoryLedger) FailReads(err error) {
	l.mu.Lock()
	l.readErr = err
	l.mu.Unlock()
}

// SetWorkflowFlags records ledger-side acceptance and shipment for
// deployments that persist them on-chain.
func (l *MemoryLedger) SetWorkflowFlags(id uint64, accepted, shipped bool) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	order, err := l.lookup(id)
	if err != nil {
		return err
	}
	order.Accepted = accepted
	order.Shipped = shipped
	return nil
}

// Deposit creates a confirmed order directly, bypassing the pending queue.
func (l *MemoryLedger) Deposit(buyer common.Address, req escrow.CreateOrder) (uint64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.create(buyer, req)
}

// Pending returns the number of writes awaiting Mine.
func (l *MemoryLedger) Pending() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.queue)
}

// Mine applies every queued write in submission order and returns their
// receipts.
func (l *MemoryLedger) Mine() []Receipt {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.mineLocked()
}

func (l *MemoryLedger) mineLocked() []Receipt {
	if len(l.queue) == 0 {
		return nil
	}
	l.block++
	out := make([]Receipt, 0, len(l.queue))
	for _, tx := range l.queue {
		receipt := Receipt{Hash: tx.handle.Hash, OrderID: tx.handle.OrderID, Block: l.block, State: TxConfirmed}
		id, err := tx.apply()
		if err != nil {
			receipt.State = TxFailed
			receipt.Reason = err.Error()
		} else if tx.handle.Kind == TxCreate {
			receipt.OrderID = id
		}
		l.receipts[tx.handle.Hash] = receipt
		out = append(out, receipt)
	}
	l.queue = nil
	close(l.mined)
	l.mined = make(chan struct{})
	return out
}

// Order implements Client.
func (l *MemoryLedger) Order(_ context.Context, id uint64) (escrow.LedgerOrder, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.readErr != nil {
		return escrow.LedgerOrder{}, fmt.Errorf("%w: %v", escrow.ErrSourceUnavailable, l.readErr)
	}
	order, err := l.lookup(id)
	if err != nil {
		return escrow.LedgerOrder{}, fmt.Errorf("%w: %d", escrow.ErrOrderNotFound, id)
	}
	return order.Clone(), nil
}

// OrderCount implements Client.
func (l *MemoryLedger) OrderCount(context.Context) (uint64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.readErr != nil {
		return 0, fmt.Errorf("%w: %v", escrow.ErrSourceUnavailable, l.readErr)
	}
	return uint64(len(l.orders)), nil
}

// Release implements Client.
func (l *MemoryLedger) Release(_ context.Context, from common.Address, id uint64, amount *uint256.Int) (TxHandle, error) {
	amount = cloneOrZero(amount)
	return l.submit(from, TxRelease, id, func() (uint64, error) {
		order, err := l.lookup(id)
		if err != nil {
			return 0, err
		}
		switch {
		case from != order.Buyer:
			return 0, errRevertNotBuyer
		case order.Completed:
			return 0, errRevertCompleted
		case order.Disputed:
			return 0, errRevertDisputed
		case amount.IsZero():
			return 0, errRevertZeroAmount
		case amount.Gt(order.LockedBalance):
			return 0, errRevertInsufficient
		}
		order.LockedBalance = new(uint256.Int).Sub(order.LockedBalance, amount)
		if order.LockedBalance.IsZero() {
			order.Completed = true
		}
		return id, nil
	}), nil
}

// Dispute implements Client.
func (l *MemoryLedger) Dispute(_ context.Context, from common.Address, id uint64) (TxHandle, error) {
	return l.submit(from, TxDispute, id, func() (uint64, error) {
		order, err := l.lookup(id)
		if err != nil {
			return 0, err
		}
		switch {
		case from != order.Buyer && from != order.Seller:
			return 0, errRevertNotParty
		case order.Completed:
			return 0, errRevertCompleted
		case order.Disputed:
			return 0, errRevertDisputed
		}
		order.Disputed = true
		return id, nil
	}), nil
}

// Cancel implements Client. The locked balance is refunded to the buyer.
func (l *MemoryLedger) Cancel(_ context.Context, from common.Address, id uint64) (TxHandle, error) {
	return l.submit(from, TxCancel, id, func() (uint64, error) {
		order, err := l.lookup(id)
		if err != nil {
			return 0, err
		}
		switch {
		case from != order.Buyer:
			return 0, errRevertNotBuyer
		case order.Completed:
			return 0, errRevertCompleted
		case order.Disputed:
			return 0, errRevertDisputed
		case order.Accepted:
			return 0, errRevertAccepted
		}
		order.LockedBalance = new(uint256.Int)
		order.Completed = true
		return id, nil
	}), nil
}

// Resolve implements Client. The whole locked balance goes to winner.
func (l *MemoryLedger) Resolve(_ context.Context, from common.Address, id uint64, winner common.Address) (TxHandle, error) {
	return l.submit(from, TxResolve, id, func() (uint64, error) {
		order, err := l.lookup(id)
		if err != nil {
			return 0, err
		}
		switch {
		case from != l.arbiter:
			return 0, errRevertNotArbiter
		case order.Completed:
			return 0, errRevertCompleted
		case !order.Disputed:
			return 0, errRevertNotDisputed
		case winner != order.Buyer && winner != order.Seller:
			return 0, errRevertBadWinner
		}
		order.LockedBalance = new(uint256.Int)
		order.Completed = true
		return id, nil
	}), nil
}

// Create implements Client.
func (l *MemoryLedger) Create(_ context.Context, from common.Address, req escrow.CreateOrder) (TxHandle, error) {
	req.Amount = cloneOrZero(req.Amount)
	return l.submit(from, TxCreate, 0, func() (uint64, error) {
		return l.create(from, req)
	}), nil
}

// Await implements Client.
func (l *MemoryLedger) Await(ctx context.Context, handle TxHandle) (Receipt, error) {
	for {
		l.mu.Lock()
		receipt, ok := l.receipts[handle.Hash]
		mined := l.mined
		l.mu.Unlock()
		if ok {
			return receipt, nil
		}
		select {
		case <-ctx.Done():
			return Receipt{}, ctx.Err()
		case <-mined:
		}
	}
}

func (l *MemoryLedger) submit(from common.Address, kind TxKind, id uint64, apply func() (uint64, error)) TxHandle {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.seq++
	var seq [8]byte
	binary.BigEndian.PutUint64(seq[:], l.seq)
	handle := TxHandle{
		Hash:        gethcrypto.Keccak256Hash([]byte(kind), from.Bytes(), seq[:]),
		Kind:        kind,
		OrderID:     id,
		From:        from,
		SubmittedAt: l.now().UTC(),
	}
	l.queue = append(l.queue, memoryTx{handle: handle, apply: apply})
	if l.autoMine {
		l.mineLocked()
	}
	return handle
}

// create runs with l.mu held.
func (l *MemoryLedger) create(buyer common.Address, req escrow.CreateOrder) (uint64, error) {
	switch {
	case req.Seller == buyer:
		return 0, errRevertSelfTrade
	case req.Amount == nil || req.Amount.IsZero():
		return 0, errRevertZeroAmount
	}
	id := uint64(len(l.orders)) + 1
	l.orders = append(l.orders, escrow.LedgerOrder{
		ID:            id,
		Buyer:         buyer,
		Seller:        req.Seller,
		Asset:         req.Asset,
		TotalAmount:   new(uint256.Int).Set(req.Amount),
		LockedBalance: new(uint256.Int).Set(req.Amount),
		CreatedAt:     l.now().UTC(),
	})
	return id, nil
}

// lookup runs with l.mu held.
func (l *MemoryLedger) lookup(id uint64) (*escrow.LedgerOrder, error) {
	if id == 0 || id > uint64(len(l.orders)) {
		return nil, errRevertNotFound
	}
	return &l.orders[id-1], nil
}

func cloneOrZero(v *uint256.Int) *uint256.Int {
	if v == nil {
		return new(uint256.Int)
	}
	return new(uint256.Int).Set(v)
}
