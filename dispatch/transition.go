package dispatch

import (
	"time"

	"github.com/ethereum/go-ethereum/common"

	"trustlink/escrow"
	"trustlink/ledger"
)

// State is the lifecycle position of a transition.
type State string

const (
	StateRequested State = "requested"
	StatePending   State = "pending"
	StateConfirmed State = "confirmed"
	StateFailed    State = "failed"
)

// Final reports whether no further change will happen.
func (s State) Final() bool { return s == StateConfirmed || s == StateFailed }

// Request asks for one action against one order.
type Request struct {
	OrderID uint64
	Caller  common.Address
	Action  escrow.Action
	Params  escrow.Params
}

// Transition is a snapshot of one dispatched action.
type Transition struct {
	ID      string
	OrderID uint64
	Action  escrow.Action
	Caller  common.Address
	Plan    escrow.Plan
	State   State
	// Tx is set once a ledger write has been submitted.
	Tx *ledger.TxHandle
	// Reason carries the external failure reason verbatim.
	Reason string
	// View is the re-fetched order once confirmed. It stays nil when the
	// refresh read failed.
	View        *escrow.OrderView
	RequestedAt time.Time
	UpdatedAt   time.Time
}

// actionCreate labels creation transitions, which have no order yet.
const actionCreate escrow.Action = "create"

type record struct {
	t    Transition
	done chan struct{}
}

func (r *record) snapshot() Transition {
	out := r.t
	if r.t.Tx != nil {
		tx := *r.t.Tx
		out.Tx = &tx
	}
	if r.t.View != nil {
		view := *r.t.View
		out.View = &view
	}
	return out
}
