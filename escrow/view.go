package escrow

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// OrderView is the reconciled, per-read picture of an order. It is never
// persisted; every read recomputes it from both sources.
type OrderView struct {
	ID             uint64
	Buyer          common.Address
	Seller         common.Address
	Asset          Asset
	Status         Status
	TotalAmount    *uint256.Int
	LockedBalance  *uint256.Int
	Released       *uint256.Int
	PercentPaid    uint8
	IsAccepted     bool
	IsShipped      bool
	IsDisputed     bool
	IsCompleted    bool
	AdvisoryStatus AdvisoryStatus
	CreatedAt      time.Time
}

// BuildView merges a ledger record with the advisory status for the same
// order. It is pure: identical inputs always produce identical views.
func BuildView(order LedgerOrder, advisory AdvisoryStatus) OrderView {
	advisory = advisory.Normalize()
	total := cloneAmount(order.TotalAmount)
	locked := cloneAmount(order.LockedBalance)

	view := OrderView{
		ID:             order.ID,
		Buyer:          order.Buyer,
		Seller:         order.Seller,
		Asset:          order.Asset,
		TotalAmount:    total,
		LockedBalance:  locked,
		Released:       releasedAmount(total, locked),
		PercentPaid:    PercentPaid(total, locked),
		IsAccepted:     advisory.Rank() >= AdvisoryAccepted.Rank() || order.Accepted,
		IsShipped:      advisory == AdvisoryShipped || order.Shipped,
		IsDisputed:     order.Disputed,
		IsCompleted:    order.Completed,
		AdvisoryStatus: advisory,
		CreatedAt:      order.CreatedAt,
	}
	view.Status = deriveStatus(view)
	return view
}

// Ledger facts dominate; workflow facts only matter while the trade is live.
func deriveStatus(v OrderView) Status {
	switch {
	case v.IsCompleted:
		return StatusCompleted
	case v.IsDisputed:
		return StatusDisputed
	case !v.IsAccepted:
		return StatusWaitingAcceptance
	case v.IsShipped:
		return StatusShipped
	default:
		return StatusActive
	}
}

// PercentPaid returns floor(100 * (total - locked) / total), clamped to
// [0, 100]. A zero total reports 0.
func PercentPaid(total, locked *uint256.Int) uint8 {
	if total == nil || total.IsZero() {
		return 0
	}
	released := releasedAmount(total, locked)
	pct, overflow := new(uint256.Int).MulDivOverflow(released, uint256.NewInt(100), total)
	if overflow || pct.GtUint64(100) {
		return 100
	}
	return uint8(pct.Uint64())
}

func releasedAmount(total, locked *uint256.Int) *uint256.Int {
	if total == nil {
		return new(uint256.Int)
	}
	if locked == nil {
		return new(uint256.Int).Set(total)
	}
	if locked.Gt(total) {
		return new(uint256.Int)
	}
	return new(uint256.Int).Sub(total, locked)
}
