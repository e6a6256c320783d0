package escrow

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// Status is the single unified order status presented to both parties.
type Status string

const (
	StatusWaitingAcceptance Status = "WAITING_ACCEPTANCE"
	StatusActive            Status = "ACTIVE"
	StatusShipped           Status = "SHIPPED"
	StatusDisputed          Status = "DISPUTED"
	StatusCompleted         Status = "COMPLETED"
)

// AdvisoryStatus is the seller-owned workflow flag kept outside the ledger.
// It only ever moves forward: none -> accepted -> shipped.
type AdvisoryStatus string

const (
	AdvisoryNone     AdvisoryStatus = "none"
	AdvisoryAccepted AdvisoryStatus = "accepted"
	AdvisoryShipped  AdvisoryStatus = "shipped"
)

// Rank orders advisory statuses along their monotonic progression. Unknown
// values rank as none.
func (s AdvisoryStatus) Rank() int {
	switch s {
	case AdvisoryAccepted:
		return 1
	case AdvisoryShipped:
		return 2
	default:
		return 0
	}
}

// Valid reports whether the value is one of the known advisory statuses.
func (s AdvisoryStatus) Valid() bool {
	switch s {
	case AdvisoryNone, AdvisoryAccepted, AdvisoryShipped:
		return true
	default:
		return false
	}
}

// Normalize maps empty and unknown values to none.
func (s AdvisoryStatus) Normalize() AdvisoryStatus {
	if s.Valid() {
		return s
	}
	return AdvisoryNone
}

// LedgerOrder mirrors the authoritative escrow record held by the ledger.
// Amounts are minor units of Asset.
type LedgerOrder struct {
	ID            uint64
	Buyer         common.Address
	Seller        common.Address
	Asset         Asset
	TotalAmount   *uint256.Int
	LockedBalance *uint256.Int
	// Accepted and Shipped are only populated by deployments that persist
	// the workflow flags on the ledger as well.
	Accepted  bool
	Shipped   bool
	Disputed  bool
	Completed bool
	CreatedAt time.Time
}

// Clone returns a deep copy so callers can mutate amounts freely.
func (o LedgerOrder) Clone() LedgerOrder {
	clone := o
	clone.TotalAmount = cloneAmount(o.TotalAmount)
	clone.LockedBalance = cloneAmount(o.LockedBalance)
	return clone
}
