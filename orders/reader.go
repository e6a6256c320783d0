// Package orders assembles reconciled order views from the ledger and the
// advisory store.
package orders

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"trustlink/advisory"
	"trustlink/escrow"
	"trustlink/ledger"
	"trustlink/observability"
)

const (
	// DefaultLimit matches the listing window shown to traders.
	DefaultLimit = 10
	// MaxLimit bounds a single listing request.
	MaxLimit = 100

	defaultConcurrency = 8
)

// Reader fetches both sources and reduces them into views.
type Reader struct {
	ledger      ledger.Client
	store       advisory.Store
	policy      escrow.AuthorizationPolicy
	logger      *slog.Logger
	metrics     *observability.OrderdMetrics
	tracer      trace.Tracer
	concurrency int
}

// Option customises a Reader.
type Option func(*Reader)

// WithLogger overrides the reader's logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Reader) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithConcurrency bounds parallel ledger reads during listings.
func WithConcurrency(n int) Option {
	return func(r *Reader) {
		if n > 0 {
			r.concurrency = n
		}
	}
}

// NewReader constructs a Reader.
func NewReader(client ledger.Client, store advisory.Store, policy escrow.AuthorizationPolicy, opts ...Option) *Reader {
	r := &Reader{
		ledger:      client,
		store:       store,
		policy:      policy,
		logger:      slog.Default(),
		metrics:     observability.Orderd(),
		tracer:      otel.Tracer("trustlink/orders"),
		concurrency: defaultConcurrency,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Policy returns the authorization policy the reader gates on.
func (r *Reader) Policy() escrow.AuthorizationPolicy { return r.policy }

// View returns the reconciled view of one order. A failing advisory read
// degrades to status none; a failing ledger read is an error.
func (r *Reader) View(ctx context.Context, id uint64) (escrow.OrderView, error) {
	ctx, span := r.tracer.Start(ctx, "orders.view", trace.WithAttributes(attribute.Int64("order.id", int64(id))))
	defer span.End()

	order, err := r.readLedger(ctx, id)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return escrow.OrderView{}, err
	}
	row, _, err := r.store.Get(ctx, id)
	if err != nil {
		r.metrics.RecordSourceError("advisory")
		r.logger.Warn("advisory read failed; assuming no workflow progress",
			slog.Uint64("order_id", id),
			slog.Any("error", err))
		row.Status = escrow.AdvisoryNone
	}
	view := escrow.BuildView(order, row.Status)
	span.SetAttributes(attribute.String("order.status", string(view.Status)))
	return view, nil
}

func (r *Reader) readLedger(ctx context.Context, id uint64) (escrow.LedgerOrder, error) {
	order, err := r.ledger.Order(ctx, id)
	if err == nil {
		return order, nil
	}
	if errors.Is(err, escrow.ErrOrderNotFound) {
		return escrow.LedgerOrder{}, err
	}
	r.metrics.RecordSourceError("ledger")
	if errors.Is(err, escrow.ErrSourceUnavailable) {
		return escrow.LedgerOrder{}, err
	}
	return escrow.LedgerOrder{}, fmt.Errorf("%w: ledger order %d: %v", escrow.ErrSourceUnavailable, id, err)
}

// Recent returns up to limit of the newest orders, newest first. Orders
// whose ledger read fails are left out rather than shown partially.
func (r *Reader) Recent(ctx context.Context, limit int) ([]escrow.OrderView, error) {
	ctx, span := r.tracer.Start(ctx, "orders.recent")
	defer span.End()
	views, err := r.recent(ctx, clampLimit(limit), "recent")
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(attribute.Int("orders.count", len(views)))
	return views, nil
}

func (r *Reader) recent(ctx context.Context, limit int, listing string) ([]escrow.OrderView, error) {
	count, err := r.ledger.OrderCount(ctx)
	if err != nil {
		r.metrics.RecordSourceError("ledger")
		if errors.Is(err, escrow.ErrSourceUnavailable) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: order count: %v", escrow.ErrSourceUnavailable, err)
	}
	ids := recentIDs(count, limit)
	if len(ids) == 0 {
		return []escrow.OrderView{}, nil
	}

	rows, err := r.store.All(ctx)
	if err != nil {
		r.metrics.RecordSourceError("advisory")
		r.logger.Warn("advisory bulk read failed; listing without workflow progress", slog.Any("error", err))
		rows = nil
	}

	type result struct {
		order escrow.LedgerOrder
		ok    bool
	}
	results := make([]result, len(ids))
	sem := make(chan struct{}, r.concurrency)
	var wg sync.WaitGroup
	for i, id := range ids {
		wg.Add(1)
		sem <- struct{}{}
		go func(i int, id uint64) {
			defer wg.Done()
			defer func() { <-sem }()
			order, err := r.readLedger(ctx, id)
			if err != nil {
				r.logger.Debug("dropping order from listing",
					slog.Uint64("order_id", id),
					slog.Any("error", err))
				return
			}
			results[i] = result{order: order, ok: true}
		}(i, id)
	}
	wg.Wait()

	views := make([]escrow.OrderView, 0, len(ids))
	for _, res := range results {
		if !res.ok {
			continue
		}
		status := escrow.AdvisoryNone
		if row, ok := rows[res.order.ID]; ok {
			status = row.Status
		}
		views = append(views, escrow.BuildView(res.order, status))
	}
	r.metrics.RecordDropped(listing, len(ids)-len(views))
	return views, nil
}

// Listing splits a viewer's orders by the side they trade on.
type Listing struct {
	Buying  []escrow.OrderView
	Selling []escrow.OrderView
}

// ForViewer returns the viewer's orders among the newest limit orders.
func (r *Reader) ForViewer(ctx context.Context, viewer common.Address, limit int) (Listing, error) {
	ctx, span := r.tracer.Start(ctx, "orders.for_viewer")
	defer span.End()
	if viewer == (common.Address{}) {
		return Listing{}, fmt.Errorf("%w: viewer address required", escrow.ErrAuthorizationDenied)
	}
	views, err := r.recent(ctx, clampLimit(limit), "viewer")
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return Listing{}, err
	}
	listing := Listing{Buying: []escrow.OrderView{}, Selling: []escrow.OrderView{}}
	for _, view := range views {
		switch escrow.RoleOf(view, viewer) {
		case escrow.RoleBuyer:
			listing.Buying = append(listing.Buying, view)
		case escrow.RoleSeller:
			listing.Selling = append(listing.Selling, view)
		}
	}
	return listing, nil
}

// Disputed returns open disputes among the newest limit orders. Only the
// arbitrator may list them, and the check happens before any ledger read.
func (r *Reader) Disputed(ctx context.Context, viewer common.Address, limit int) ([]escrow.OrderView, error) {
	if !r.isAdmin(viewer) {
		return nil, fmt.Errorf("%w: dispute queue requires the arbitrator", escrow.ErrAuthorizationDenied)
	}
	ctx, span := r.tracer.Start(ctx, "orders.disputed")
	defer span.End()
	views, err := r.recent(ctx, clampLimit(limit), "disputes")
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	out := make([]escrow.OrderView, 0, len(views))
	for _, view := range views {
		if view.Status == escrow.StatusDisputed {
			out = append(out, view)
		}
	}
	return out, nil
}

// Detail is an order view tailored to one viewer.
type Detail struct {
	View    escrow.OrderView
	Role    escrow.Role
	Admin   bool
	Actions []escrow.Action
}

// Detail returns the view with the viewer's legal actions. Viewers that are
// neither a party nor the arbitrator are denied.
func (r *Reader) Detail(ctx context.Context, id uint64, viewer common.Address) (Detail, error) {
	view, err := r.View(ctx, id)
	if err != nil {
		return Detail{}, err
	}
	role := escrow.RoleOf(view, viewer)
	admin := r.isAdmin(viewer)
	if role == escrow.RoleNone && !admin {
		return Detail{}, fmt.Errorf("%w: not a party to order %d", escrow.ErrAuthorizationDenied, id)
	}
	return Detail{
		View:    view,
		Role:    role,
		Admin:   admin,
		Actions: escrow.LegalActions(view, viewer, r.policy),
	}, nil
}

func (r *Reader) isAdmin(addr common.Address) bool {
	return r.policy != nil && addr != (common.Address{}) && r.policy.IsAdmin(addr)
}

func recentIDs(count uint64, limit int) []uint64 {
	if count == 0 || limit <= 0 {
		return nil
	}
	n := uint64(limit)
	if n > count {
		n = count
	}
	ids := make([]uint64, 0, n)
	for id := count; id > count-n; id-- {
		ids = append(ids, id)
	}
	return ids
}

func clampLimit(limit int) int {
	switch {
	case limit <= 0:
		return DefaultLimit
	case limit > MaxLimit:
		return MaxLimit
	default:
		return limit
	}
}
