package server

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi/v5"

	"trustlink/dispatch"
	"trustlink/escrow"
	"trustlink/orders"
	"trustlink/trust"
)

func (s *Server) handleListOrders(w http.ResponseWriter, r *http.Request) {
	viewer, _ := ViewerFrom(r.Context())
	limit, err := s.limit(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	listing, err := s.reader.ForViewer(r.Context(), viewer, limit)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, listingPayloadFrom(listing))
}

func (s *Server) handleCreateOrder(w http.ResponseWriter, r *http.Request) {
	viewer, _ := ViewerFrom(r.Context())
	var body createRequest
	if err := decodeJSON(r, &body); err != nil {
		s.writeError(w, r, err)
		return
	}
	asset, ok := s.assets.BySymbol(body.Asset)
	if !ok {
		s.writeError(w, r, rejected("unsupported asset %q", body.Asset))
		return
	}
	seller, err := escrow.ParseAddress(body.Seller)
	if err != nil {
		s.writeError(w, r, rejected("seller: %v", err))
		return
	}
	amount, err := escrow.ParseUnits(body.Amount, asset.Decimals)
	if err != nil {
		s.writeError(w, r, rejected("amount: %v", err))
		return
	}
	t, err := s.dispatcher.Create(r.Context(), viewer, escrow.CreateOrder{
		Seller: seller,
		Asset:  asset,
		Amount: amount,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, transitionPayloadFrom(t, asset))
}

func (s *Server) handleGetOrder(w http.ResponseWriter, r *http.Request) {
	viewer, _ := ViewerFrom(r.Context())
	id, err := orderID(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	detail, err := s.reader.Detail(r.Context(), id, viewer)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var pending *dispatch.Transition
	if t, ok := s.dispatcher.Pending(id); ok {
		pending = &t
	}
	writeJSON(w, http.StatusOK, detailPayloadFrom(detail, pending))
}

func (s *Server) handleAction(w http.ResponseWriter, r *http.Request) {
	viewer, _ := ViewerFrom(r.Context())
	id, err := orderID(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var body actionRequest
	if err := decodeJSON(r, &body); err != nil {
		s.writeError(w, r, err)
		return
	}
	action, err := escrow.ParseAction(strings.TrimSpace(body.Action))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	// Amounts arrive in decimal units of the order's asset.
	view, err := s.reader.View(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var params escrow.Params
	if raw := strings.TrimSpace(body.Amount); raw != "" {
		params.Amount, err = escrow.ParseUnits(raw, view.Asset.Decimals)
		if err != nil {
			s.writeError(w, r, rejected("amount: %v", err))
			return
		}
	}
	if raw := strings.TrimSpace(body.Winner); raw != "" {
		params.Winner, err = escrow.ParseAddress(raw)
		if err != nil {
			s.writeError(w, r, rejected("winner: %v", err))
			return
		}
	}
	t, err := s.dispatcher.Submit(r.Context(), dispatch.Request{
		OrderID: id,
		Caller:  viewer,
		Action:  action,
		Params:  params,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	status := http.StatusAccepted
	if t.State.Final() {
		status = http.StatusOK
	}
	writeJSON(w, status, transitionPayloadFrom(t, view.Asset))
}

func (s *Server) handleGetTransition(w http.ResponseWriter, r *http.Request) {
	viewer, _ := ViewerFrom(r.Context())
	t, err := s.dispatcher.Transition(chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if t.Caller != viewer && !s.isAdmin(viewer) {
		s.writeError(w, r, fmt.Errorf("%w: transition belongs to another caller", escrow.ErrAuthorizationDenied))
		return
	}
	asset := escrow.NativeAsset
	if t.View == nil && t.OrderID != 0 {
		if view, err := s.reader.View(r.Context(), t.OrderID); err == nil {
			asset = view.Asset
		}
	}
	writeJSON(w, http.StatusOK, transitionPayloadFrom(t, asset))
}

func (s *Server) handleDisputes(w http.ResponseWriter, r *http.Request) {
	viewer, _ := ViewerFrom(r.Context())
	limit, err := s.limit(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	views, err := s.reader.Disputed(r.Context(), viewer, limit)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"orders": orderPayloads(views)})
}

func (s *Server) handleBadge(w http.ResponseWriter, r *http.Request) {
	seller, err := escrow.ParseAddress(chi.URLParam(r, "address"))
	if err != nil {
		s.writeError(w, r, rejected("address: %v", err))
		return
	}
	views, err := s.reader.Recent(r.Context(), orders.MaxLimit)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, badgePayloadFrom(trust.Compute(seller, views, s.prices)))
}

func (s *Server) limit(r *http.Request) (int, error) {
	raw := strings.TrimSpace(r.URL.Query().Get("limit"))
	if raw == "" {
		return s.defaultLimit, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return 0, rejected("limit must be a positive integer")
	}
	return n, nil
}

func (s *Server) isAdmin(addr common.Address) bool {
	policy := s.reader.Policy()
	return policy != nil && addr != (common.Address{}) && policy.IsAdmin(addr)
}

func orderID(r *http.Request) (uint64, error) {
	id, err := strconv.ParseUint(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id == 0 {
		return 0, rejected("invalid order id")
	}
	return id, nil
}

func rejected(format string, args ...any) error {
	return fmt.Errorf("%w: %s", escrow.ErrValidationRejected, fmt.Sprintf(format, args...))
}
