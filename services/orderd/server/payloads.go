package server

import (
	"time"

	"github.com/ethereum/go-ethereum/common"

	"trustlink/dispatch"
	"trustlink/escrow"
	"trustlink/orders"
	"trustlink/trust"
)

type orderPayload struct {
	ID             uint64    `json:"id"`
	Buyer          string    `json:"buyer"`
	Seller         string    `json:"seller"`
	Asset          string    `json:"asset"`
	Token          string    `json:"token"`
	Decimals       uint8     `json:"decimals"`
	Status         string    `json:"status"`
	TotalAmount    string    `json:"total_amount"`
	LockedBalance  string    `json:"locked_balance"`
	Released       string    `json:"released"`
	PercentPaid    uint8     `json:"percent_paid"`
	IsAccepted     bool      `json:"is_accepted"`
	IsShipped      bool      `json:"is_shipped"`
	IsDisputed     bool      `json:"is_disputed"`
	IsCompleted    bool      `json:"is_completed"`
	AdvisoryStatus string    `json:"advisory_status"`
	CreatedAt      time.Time `json:"created_at"`
}

func orderPayloadFrom(view escrow.OrderView) orderPayload {
	return orderPayload{
		ID:             view.ID,
		Buyer:          view.Buyer.Hex(),
		Seller:         view.Seller.Hex(),
		Asset:          view.Asset.Symbol,
		Token:          view.Asset.Token.Hex(),
		Decimals:       view.Asset.Decimals,
		Status:         string(view.Status),
		TotalAmount:    escrow.FormatUnits(view.TotalAmount, view.Asset.Decimals),
		LockedBalance:  escrow.FormatUnits(view.LockedBalance, view.Asset.Decimals),
		Released:       escrow.FormatUnits(view.Released, view.Asset.Decimals),
		PercentPaid:    view.PercentPaid,
		IsAccepted:     view.IsAccepted,
		IsShipped:      view.IsShipped,
		IsDisputed:     view.IsDisputed,
		IsCompleted:    view.IsCompleted,
		AdvisoryStatus: string(view.AdvisoryStatus),
		CreatedAt:      view.CreatedAt.UTC(),
	}
}

func orderPayloads(views []escrow.OrderView) []orderPayload {
	out := make([]orderPayload, 0, len(views))
	for _, view := range views {
		out = append(out, orderPayloadFrom(view))
	}
	return out
}

type listingPayload struct {
	Buying  []orderPayload `json:"buying"`
	Selling []orderPayload `json:"selling"`
}

func listingPayloadFrom(listing orders.Listing) listingPayload {
	return listingPayload{
		Buying:  orderPayloads(listing.Buying),
		Selling: orderPayloads(listing.Selling),
	}
}

type detailPayload struct {
	Order   orderPayload       `json:"order"`
	Role    string             `json:"role"`
	Admin   bool               `json:"admin"`
	Actions []string           `json:"actions"`
	Pending *transitionPayload `json:"pending,omitempty"`
}

func detailPayloadFrom(detail orders.Detail, pending *dispatch.Transition) detailPayload {
	actions := make([]string, 0, len(detail.Actions))
	for _, action := range detail.Actions {
		actions = append(actions, string(action))
	}
	out := detailPayload{
		Order:   orderPayloadFrom(detail.View),
		Role:    string(detail.Role),
		Admin:   detail.Admin,
		Actions: actions,
	}
	if pending != nil {
		p := transitionPayloadFrom(*pending, detail.View.Asset)
		out.Pending = &p
	}
	return out
}

type transitionPayload struct {
	ID          string        `json:"id"`
	OrderID     uint64        `json:"order_id,omitempty"`
	Action      string        `json:"action"`
	Caller      string        `json:"caller"`
	State       string        `json:"state"`
	Target      string        `json:"target,omitempty"`
	Noop        bool          `json:"noop,omitempty"`
	Amount      string        `json:"amount,omitempty"`
	Winner      string        `json:"winner,omitempty"`
	TxHash      string        `json:"tx_hash,omitempty"`
	Reason      string        `json:"reason,omitempty"`
	Order       *orderPayload `json:"order,omitempty"`
	RequestedAt time.Time     `json:"requested_at"`
	UpdatedAt   time.Time     `json:"updated_at"`
}

// transitionPayloadFrom renders t. asset supplies the precision of the plan
// amount when the transition carries no refreshed view.
func transitionPayloadFrom(t dispatch.Transition, asset escrow.Asset) transitionPayload {
	out := transitionPayload{
		ID:          t.ID,
		OrderID:     t.OrderID,
		Action:      string(t.Action),
		Caller:      t.Caller.Hex(),
		State:       string(t.State),
		Target:      string(t.Plan.Target),
		Noop:        t.Plan.Noop,
		Reason:      t.Reason,
		RequestedAt: t.RequestedAt.UTC(),
		UpdatedAt:   t.UpdatedAt.UTC(),
	}
	if t.View != nil {
		order := orderPayloadFrom(*t.View)
		out.Order = &order
		asset = t.View.Asset
	}
	if t.Plan.Amount != nil {
		out.Amount = escrow.FormatUnits(t.Plan.Amount, asset.Decimals)
	}
	if t.Plan.Winner != (common.Address{}) {
		out.Winner = t.Plan.Winner.Hex()
	}
	if t.Tx != nil {
		out.TxHash = t.Tx.Hash.Hex()
	}
	return out
}

type badgePayload struct {
	Address   string `json:"address"`
	Tier      string `json:"tier"`
	Label     string `json:"label"`
	VolumeUSD string `json:"volume_usd"`
	Completed int    `json:"completed"`
	NextTier  string `json:"next_tier,omitempty"`
	NextAt    string `json:"next_at,omitempty"`
}

func badgePayloadFrom(b trust.Badge) badgePayload {
	out := badgePayload{
		Address:   b.Address.Hex(),
		Tier:      string(b.Tier),
		Label:     b.Label,
		VolumeUSD: b.VolumeUSD.StringFixed(2),
		Completed: b.Completed,
		NextTier:  string(b.NextTier),
	}
	if b.NextTier != "" {
		out.NextAt = b.NextAt.StringFixed(2)
	}
	return out
}

type createRequest struct {
	Seller string `json:"seller"`
	Asset  string `json:"asset"`
	Amount string `json:"amount"`
}

type actionRequest struct {
	Action string `json:"action"`
	Amount string `json:"amount,omitempty"`
	Winner string `json:"winner,omitempty"`
}

type streamEvent struct {
	Type       string             `json:"type"`
	Order      *orderPayload      `json:"order,omitempty"`
	Transition *transitionPayload `json:"transition,omitempty"`
}

type problem struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}
