package escrow

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// Role is the viewer's relation to a specific order.
type Role string

const (
	RoleNone   Role = "NONE"
	RoleBuyer  Role = "BUYER"
	RoleSeller Role = "SELLER"
)

// RoleOf derives the viewer's role from the order parties. The zero address
// never holds a role.
func RoleOf(view OrderView, viewer common.Address) Role {
	switch {
	case viewer == (common.Address{}):
		return RoleNone
	case viewer == view.Buyer:
		return RoleBuyer
	case viewer == view.Seller:
		return RoleSeller
	default:
		return RoleNone
	}
}

// Action is a state-changing request a viewer may issue against an order.
type Action string

const (
	ActionCancel          Action = "cancel"
	ActionAccept          Action = "accept"
	ActionMarkShipped     Action = "mark_shipped"
	ActionPartialRelease  Action = "partial_release"
	ActionFullRelease     Action = "full_release"
	ActionDispute         Action = "dispute"
	ActionResolveToBuyer  Action = "resolve_to_buyer"
	ActionResolveToSeller Action = "resolve_to_seller"
)

var allActions = []Action{
	ActionCancel,
	ActionAccept,
	ActionMarkShipped,
	ActionPartialRelease,
	ActionFullRelease,
	ActionDispute,
	ActionResolveToBuyer,
	ActionResolveToSeller,
}

// ParseAction validates the textual action name.
func ParseAction(raw string) (Action, error) {
	for _, action := range allActions {
		if string(action) == raw {
			return action, nil
		}
	}
	return "", rejectf("unknown action %q", raw)
}

var (
	buyerActions = map[Status][]Action{
		StatusWaitingAcceptance: {ActionCancel},
		StatusActive:            {ActionPartialRelease, ActionDispute},
		StatusShipped:           {ActionFullRelease, ActionDispute},
	}
	sellerActions = map[Status][]Action{
		StatusWaitingAcceptance: {ActionAccept},
		StatusActive:            {ActionMarkShipped, ActionDispute},
		StatusShipped:           {ActionDispute},
	}
	adminActions = map[Status][]Action{
		StatusDisputed: {ActionResolveToBuyer, ActionResolveToSeller},
	}
)

// LegalActions returns the actions the viewer may currently take. An admin
// who is also a party receives the union of both sets, in declaration order.
func LegalActions(view OrderView, viewer common.Address, policy AuthorizationPolicy) []Action {
	allowed := make(map[Action]bool)
	switch RoleOf(view, viewer) {
	case RoleBuyer:
		for _, a := range buyerActions[view.Status] {
			allowed[a] = true
		}
	case RoleSeller:
		for _, a := range sellerActions[view.Status] {
			allowed[a] = true
		}
	}
	if isAdmin(policy, viewer) {
		for _, a := range adminActions[view.Status] {
			allowed[a] = true
		}
	}
	out := make([]Action, 0, len(allowed))
	for _, a := range allActions {
		if allowed[a] {
			out = append(out, a)
		}
	}
	return out
}

// Params carries the caller supplied arguments of an action.
type Params struct {
	Amount *uint256.Int
	Winner common.Address
}

// Target identifies the single source a plan writes to.
type Target string

const (
	TargetNone     Target = "none"
	TargetLedger   Target = "ledger"
	TargetAdvisory Target = "advisory"
)

// Plan is the resolved write for a validated action.
type Plan struct {
	Action   Action
	Target   Target
	Amount   *uint256.Int
	Winner   common.Address
	Advisory AdvisoryStatus
	// Noop is set when the action reflects a fact that is already true. No
	// write is issued for it.
	Noop bool
}

// Validate checks a proposed action against the current view. Authorization
// is evaluated first, then the terminal state, then the action's own rules.
// A nil error means the returned plan may be dispatched.
func Validate(view OrderView, viewer common.Address, action Action, params Params, policy AuthorizationPolicy) (Plan, error) {
	if err := authorize(view, viewer, action, policy); err != nil {
		return Plan{}, err
	}
	if view.IsCompleted {
		return Plan{}, rejectf("order %d is completed", view.ID)
	}
	plan := Plan{Action: action, Target: TargetLedger}

	switch action {
	case ActionCancel:
		if view.IsAccepted {
			return Plan{}, rejectf("order %d already accepted by seller", view.ID)
		}
		if view.IsDisputed {
			return Plan{}, rejectf("order %d is disputed", view.ID)
		}

	case ActionAccept:
		if view.IsDisputed {
			return Plan{}, rejectf("order %d is disputed", view.ID)
		}
		if view.IsShipped {
			return Plan{}, rejectf("order %d already shipped; status cannot move back to accepted", view.ID)
		}
		plan.Target = TargetAdvisory
		plan.Advisory = AdvisoryAccepted
		plan.Noop = view.IsAccepted

	case ActionMarkShipped:
		if view.IsDisputed {
			return Plan{}, rejectf("order %d is disputed", view.ID)
		}
		if !view.IsAccepted {
			return Plan{}, rejectf("order %d must be accepted before shipping", view.ID)
		}
		plan.Target = TargetAdvisory
		plan.Advisory = AdvisoryShipped
		plan.Noop = view.IsShipped

	case ActionPartialRelease:
		if view.Status != StatusActive {
			return Plan{}, rejectf("partial release not allowed while %s", view.Status)
		}
		if err := checkReleaseAmount(view, params.Amount); err != nil {
			return Plan{}, err
		}
		plan.Amount = new(uint256.Int).Set(params.Amount)

	case ActionFullRelease:
		if view.Status != StatusShipped {
			return Plan{}, rejectf("full release requires a shipped order, status is %s", view.Status)
		}
		if view.LockedBalance == nil || view.LockedBalance.IsZero() {
			return Plan{}, rejectf("order %d has no locked balance", view.ID)
		}
		plan.Amount = new(uint256.Int).Set(view.LockedBalance)

	case ActionDispute:
		if view.IsDisputed {
			plan.Target = TargetNone
			plan.Noop = true
		}

	case ActionResolveToBuyer, ActionResolveToSeller:
		if !view.IsDisputed {
			return Plan{}, rejectf("order %d is not disputed", view.ID)
		}
		winner, err := resolveWinner(view, action, params.Winner)
		if err != nil {
			return Plan{}, err
		}
		plan.Winner = winner

	default:
		return Plan{}, rejectf("unknown action %q", action)
	}

	if plan.Noop {
		plan.Target = TargetNone
	}
	return plan, nil
}

func authorize(view OrderView, viewer common.Address, action Action, policy AuthorizationPolicy) error {
	role := RoleOf(view, viewer)
	switch action {
	case ActionCancel, ActionPartialRelease, ActionFullRelease:
		if role != RoleBuyer {
			return denyf("%s is reserved for the buyer of order %d", action, view.ID)
		}
	case ActionAccept, ActionMarkShipped:
		if role != RoleSeller {
			return denyf("%s is reserved for the seller of order %d", action, view.ID)
		}
	case ActionDispute:
		if role == RoleNone {
			return denyf("only parties of order %d may dispute it", view.ID)
		}
	case ActionResolveToBuyer, ActionResolveToSeller:
		if !isAdmin(policy, viewer) {
			return denyf("%s requires the arbitrator", action)
		}
	}
	return nil
}

func checkReleaseAmount(view OrderView, amount *uint256.Int) error {
	if amount == nil || amount.IsZero() {
		return rejectf("release amount must be positive")
	}
	locked := view.LockedBalance
	if locked == nil {
		locked = new(uint256.Int)
	}
	if amount.Gt(locked) {
		return rejectf("release amount %s exceeds locked balance %s", amount.Dec(), locked.Dec())
	}
	return nil
}

// A zero winner defaults to the party named by the action. Any other address
// must be that party.
func resolveWinner(view OrderView, action Action, winner common.Address) (common.Address, error) {
	side := view.Seller
	if action == ActionResolveToBuyer {
		side = view.Buyer
	}
	if winner == (common.Address{}) {
		return side, nil
	}
	if winner != view.Buyer && winner != view.Seller {
		return common.Address{}, rejectf("winner %s is not a party to order %d", winner.Hex(), view.ID)
	}
	if winner != side {
		return common.Address{}, rejectf("winner %s does not match %s", winner.Hex(), action)
	}
	return side, nil
}

// String renders the plan for logs.
func (p Plan) String() string {
	switch {
	case p.Noop:
		return fmt.Sprintf("%s(noop)", p.Action)
	case p.Amount != nil:
		return fmt.Sprintf("%s(%s -> %s)", p.Action, p.Amount.Dec(), p.Target)
	case p.Winner != (common.Address{}):
		return fmt.Sprintf("%s(%s -> %s)", p.Action, p.Winner.Hex(), p.Target)
	default:
		return fmt.Sprintf("%s(-> %s)", p.Action, p.Target)
	}
}
