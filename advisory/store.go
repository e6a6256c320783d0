// Package advisory persists the seller-owned workflow flags that are kept
// off the ledger to avoid paying for every handshake step.
package advisory

import (
	"context"
	"errors"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"trustlink/escrow"
)

// ErrStatusRegression is returned when a write would move an order's
// advisory status backward.
var ErrStatusRegression = errors.New("advisory: status cannot move backward")

// Row is the advisory record for one order. A missing row means none.
type Row struct {
	OrderID   uint64
	Seller    common.Address
	Status    escrow.AdvisoryStatus
	UpdatedAt time.Time
}

// Store is the advisory persistence contract.
type Store interface {
	// Get returns the row for orderID; ok is false when none exists.
	Get(ctx context.Context, orderID uint64) (row Row, ok bool, err error)
	// All returns every row keyed by order id.
	All(ctx context.Context) (map[uint64]Row, error)
	// Upsert writes the row unless it would regress the stored status. An
	// equal status is a no-op that returns the stored row.
	Upsert(ctx context.Context, row Row) (Row, error)
	// Subscribe delivers rows written for orderID until cancel is called.
	Subscribe(orderID uint64) (updates <-chan Row, cancel func())
}
