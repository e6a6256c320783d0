// Package dispatch executes validated order actions against the ledger or
// the advisory store and reconciles the view once they settle.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"trustlink/advisory"
	"trustlink/escrow"
	"trustlink/ledger"
	"trustlink/observability"
	"trustlink/orders"
)

var (
	// ErrTransitionInFlight rejects a request while another transition for
	// the same order is outstanding.
	ErrTransitionInFlight = fmt.Errorf("%w: transition already pending for order", escrow.ErrValidationRejected)
	// ErrUnknownTransition is returned for ids the dispatcher does not hold.
	ErrUnknownTransition = errors.New("dispatch: unknown transition")
	// ErrClosed is returned once Close has been called.
	ErrClosed = errors.New("dispatch: dispatcher closed")
)

const (
	defaultRetention        = 1024
	defaultSubscriberBuffer = 8
)

// Dispatcher owns the single pending slot of every order and the watchers
// observing submitted ledger writes.
type Dispatcher struct {
	reader  *orders.Reader
	ledger  ledger.Client
	store   advisory.Store
	policy  escrow.AuthorizationPolicy
	assets  *escrow.AssetRegistry
	logger  *slog.Logger
	metrics *observability.OrderdMetrics
	tracer  trace.Tracer
	clock   func() time.Time

	retention int

	mu          sync.Mutex
	closed      bool
	inflight    map[uint64]string
	transitions map[string]*record
	finished    []string
	subs        map[uint64]map[chan Transition]struct{}

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Option customises a Dispatcher.
type Option func(*Dispatcher)

// WithLogger overrides the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(d *Dispatcher) {
		if logger != nil {
			d.logger = logger
		}
	}
}

// WithClock overrides the time source.
func WithClock(clock func() time.Time) Option {
	return func(d *Dispatcher) {
		if clock != nil {
			d.clock = clock
		}
	}
}

// WithAssets sets the assets accepted for new orders.
func WithAssets(assets *escrow.AssetRegistry) Option {
	return func(d *Dispatcher) {
		d.assets = assets
	}
}

// WithRetention bounds how many finished transitions remain queryable.
func WithRetention(n int) Option {
	return func(d *Dispatcher) {
		if n > 0 {
			d.retention = n
		}
	}
}

// New constructs a Dispatcher. Watchers run until Close.
func New(reader *orders.Reader, client ledger.Client, store advisory.Store, opts ...Option) (*Dispatcher, error) {
	if reader == nil || client == nil || store == nil {
		return nil, fmt.Errorf("dispatch: reader, ledger and advisory store are required")
	}
	ctx, cancel := context.WithCancel(context.Background())
	d := &Dispatcher{
		reader:      reader,
		ledger:      client,
		store:       store,
		policy:      reader.Policy(),
		logger:      slog.Default(),
		metrics:     observability.Orderd(),
		tracer:      otel.Tracer("trustlink/dispatch"),
		clock:       time.Now,
		retention:   defaultRetention,
		inflight:    make(map[uint64]string),
		transitions: make(map[string]*record),
		subs:        make(map[uint64]map[chan Transition]struct{}),
		ctx:         ctx,
		cancel:      cancel,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d, nil
}

// Submit validates req against a freshly read view and issues its single
// write. Ledger writes return in the pending state; the outcome is observed
// by a watcher that outlives ctx.
func (d *Dispatcher) Submit(ctx context.Context, req Request) (Transition, error) {
	ctx, span := d.tracer.Start(ctx, "dispatch.submit", trace.WithAttributes(
		attribute.Int64("order.id", int64(req.OrderID)),
		attribute.String("order.action", string(req.Action)),
	))
	defer span.End()

	rec, err := d.reserve(req)
	if err != nil {
		d.reject(span, req.Action, err)
		return Transition{}, err
	}

	view, err := d.reader.View(ctx, req.OrderID)
	if err != nil {
		d.release(rec)
		d.reject(span, req.Action, err)
		return Transition{}, err
	}
	plan, err := escrow.Validate(view, req.Caller, req.Action, req.Params, d.policy)
	if err != nil {
		d.release(rec)
		d.reject(span, req.Action, err)
		return Transition{}, err
	}
	d.update(rec, func(t *Transition) { t.Plan = plan })
	span.SetAttributes(attribute.String("plan.target", string(plan.Target)))

	switch plan.Target {
	case escrow.TargetNone:
		return d.finish(rec, StateConfirmed, "", &view), nil

	case escrow.TargetAdvisory:
		_, err := d.store.Upsert(ctx, advisory.Row{OrderID: req.OrderID, Seller: view.Seller, Status: plan.Advisory})
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return d.finish(rec, StateFailed, err.Error(), nil), wrapWriteFailed(err)
		}
		return d.finish(rec, StateConfirmed, "", d.refresh(req.OrderID)), nil

	default:
		handle, err := d.submitLedger(ctx, req.Caller, req.OrderID, plan)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return d.finish(rec, StateFailed, err.Error(), nil), wrapWriteFailed(err)
		}
		span.SetAttributes(attribute.String("tx.hash", handle.Hash.Hex()))
		return d.watch(rec, handle), nil
	}
}

// Create validates and submits a new escrow deposit for caller. The
// transition reports the new order id once the deposit is confirmed.
func (d *Dispatcher) Create(ctx context.Context, caller common.Address, req escrow.CreateOrder) (Transition, error) {
	ctx, span := d.tracer.Start(ctx, "dispatch.create", trace.WithAttributes(
		attribute.String("order.asset", req.Asset.Symbol),
	))
	defer span.End()

	if err := escrow.ValidateCreate(caller, req, d.assets); err != nil {
		d.reject(span, actionCreate, err)
		return Transition{}, err
	}
	rec, err := d.track(Request{Caller: caller, Action: actionCreate}, false)
	if err != nil {
		d.reject(span, actionCreate, err)
		return Transition{}, err
	}
	d.update(rec, func(t *Transition) {
		t.Plan = escrow.Plan{Action: actionCreate, Target: escrow.TargetLedger, Amount: req.Amount}
	})
	handle, err := d.ledger.Create(ctx, caller, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return d.finish(rec, StateFailed, err.Error(), nil), wrapWriteFailed(err)
	}
	return d.watch(rec, handle), nil
}

// Transition returns the current snapshot of a transition.
func (d *Dispatcher) Transition(id string) (Transition, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	rec, ok := d.transitions[id]
	if !ok {
		return Transition{}, ErrUnknownTransition
	}
	return rec.snapshot(), nil
}

// Pending returns the outstanding transition for an order, if any.
func (d *Dispatcher) Pending(orderID uint64) (Transition, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	id, ok := d.inflight[orderID]
	if !ok {
		return Transition{}, false
	}
	return d.transitions[id].snapshot(), true
}

// Wait blocks until the transition is confirmed or failed.
func (d *Dispatcher) Wait(ctx context.Context, id string) (Transition, error) {
	d.mu.Lock()
	rec, ok := d.transitions[id]
	d.mu.Unlock()
	if !ok {
		return Transition{}, ErrUnknownTransition
	}
	select {
	case <-rec.done:
	case <-ctx.Done():
		return Transition{}, ctx.Err()
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return rec.snapshot(), nil
}

// Subscribe streams every state change of transitions touching orderID.
// Slow subscribers miss updates.
func (d *Dispatcher) Subscribe(orderID uint64) (<-chan Transition, func()) {
	ch := make(chan Transition, defaultSubscriberBuffer)
	d.mu.Lock()
	set := d.subs[orderID]
	if set == nil {
		set = make(map[chan Transition]struct{})
		d.subs[orderID] = set
	}
	set[ch] = struct{}{}
	d.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			d.mu.Lock()
			defer d.mu.Unlock()
			if set, ok := d.subs[orderID]; ok {
				delete(set, ch)
				if len(set) == 0 {
					delete(d.subs, orderID)
				}
			}
			close(ch)
		})
	}
}

// Close stops all watchers. Submitted ledger writes are not cancelled; their
// transitions simply stop being observed.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	d.mu.Unlock()
	d.cancel()
	d.wg.Wait()
}

func (d *Dispatcher) reserve(req Request) (*record, error) {
	return d.track(req, true)
}

func (d *Dispatcher) track(req Request, exclusive bool) (*record, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil, ErrClosed
	}
	if exclusive {
		if id, busy := d.inflight[req.OrderID]; busy {
			return nil, fmt.Errorf("%w %d (transition %s)", ErrTransitionInFlight, req.OrderID, id)
		}
	}
	now := d.clock().UTC()
	rec := &record{
		t: Transition{
			ID:          uuid.NewString(),
			OrderID:     req.OrderID,
			Action:      req.Action,
			Caller:      req.Caller,
			State:       StateRequested,
			RequestedAt: now,
			UpdatedAt:   now,
		},
		done: make(chan struct{}),
	}
	d.transitions[rec.t.ID] = rec
	if exclusive {
		d.inflight[req.OrderID] = rec.t.ID
		d.metrics.SetInflight(len(d.inflight))
	}
	return rec, nil
}

// release drops a transition that never reached a write.
func (d *Dispatcher) release(rec *record) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.clearInflight(rec)
	delete(d.transitions, rec.t.ID)
	close(rec.done)
}

func (d *Dispatcher) clearInflight(rec *record) {
	if d.inflight[rec.t.OrderID] == rec.t.ID {
		delete(d.inflight, rec.t.OrderID)
		d.metrics.SetInflight(len(d.inflight))
	}
}

func (d *Dispatcher) update(rec *record, fn func(*Transition)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	fn(&rec.t)
	rec.t.UpdatedAt = d.clock().UTC()
}

func (d *Dispatcher) watch(rec *record, handle ledger.TxHandle) Transition {
	d.mu.Lock()
	rec.t.State = StatePending
	rec.t.Tx = &handle
	rec.t.UpdatedAt = d.clock().UTC()
	snap := rec.snapshot()
	d.notifyLocked(snap)
	closed := d.closed
	if !closed {
		d.wg.Add(1)
	}
	d.mu.Unlock()

	d.metrics.RecordTransition(string(snap.Action), string(StatePending))
	d.logger.Info("ledger write submitted",
		slog.String("transition_id", snap.ID),
		slog.Uint64("order_id", snap.OrderID),
		slog.String("action", string(snap.Action)),
		slog.String("tx_hash", handle.Hash.Hex()))

	if closed {
		d.logger.Warn("dispatcher closed; ledger write will not be observed",
			slog.String("transition_id", snap.ID))
		return snap
	}
	go d.await(rec, handle)
	return snap
}

func (d *Dispatcher) await(rec *record, handle ledger.TxHandle) {
	defer d.wg.Done()
	receipt, err := d.ledger.Await(d.ctx, handle)
	if err != nil {
		d.logger.Warn("stopped watching ledger write",
			slog.String("transition_id", rec.t.ID),
			slog.String("tx_hash", handle.Hash.Hex()),
			slog.Any("error", err))
		return
	}
	d.metrics.ObserveConfirmation(string(rec.t.Action), d.clock().Sub(handle.SubmittedAt))
	if receipt.State != ledger.TxConfirmed {
		reason := receipt.Reason
		if reason == "" {
			reason = string(receipt.State)
		}
		d.finish(rec, StateFailed, reason, nil)
		return
	}
	orderID := rec.t.OrderID
	if orderID == 0 && receipt.OrderID != 0 {
		orderID = receipt.OrderID
		d.update(rec, func(t *Transition) { t.OrderID = orderID })
	}
	var view *escrow.OrderView
	if orderID != 0 {
		view = d.refresh(orderID)
	}
	d.finish(rec, StateConfirmed, "", view)
}

// refresh re-reads both sources after a confirmed write.
func (d *Dispatcher) refresh(orderID uint64) *escrow.OrderView {
	view, err := d.reader.View(d.ctx, orderID)
	if err != nil {
		d.logger.Warn("refresh after confirmation failed",
			slog.Uint64("order_id", orderID),
			slog.Any("error", err))
		return nil
	}
	return &view
}

func (d *Dispatcher) finish(rec *record, state State, reason string, view *escrow.OrderView) Transition {
	d.mu.Lock()
	rec.t.State = state
	rec.t.Reason = reason
	rec.t.View = view
	rec.t.UpdatedAt = d.clock().UTC()
	d.clearInflight(rec)
	snap := rec.snapshot()
	close(rec.done)
	d.notifyLocked(snap)
	d.finished = append(d.finished, rec.t.ID)
	d.pruneLocked()
	d.mu.Unlock()

	d.metrics.RecordTransition(string(snap.Action), string(state))
	attrs := []any{
		slog.String("transition_id", snap.ID),
		slog.Uint64("order_id", snap.OrderID),
		slog.String("action", string(snap.Action)),
		slog.String("state", string(state)),
	}
	if state == StateFailed {
		d.logger.Warn("transition failed", append(attrs, slog.String("reason", reason))...)
	} else {
		d.logger.Info("transition confirmed", attrs...)
	}
	return snap
}

func (d *Dispatcher) notifyLocked(snap Transition) {
	for ch := range d.subs[snap.OrderID] {
		select {
		case ch <- snap:
		default:
		}
	}
}

func (d *Dispatcher) pruneLocked() {
	for len(d.finished) > d.retention {
		delete(d.transitions, d.finished[0])
		d.finished = d.finished[1:]
	}
}

func (d *Dispatcher) submitLedger(ctx context.Context, caller common.Address, orderID uint64, plan escrow.Plan) (ledger.TxHandle, error) {
	switch plan.Action {
	case escrow.ActionCancel:
		return d.ledger.Cancel(ctx, caller, orderID)
	case escrow.ActionPartialRelease, escrow.ActionFullRelease:
		return d.ledger.Release(ctx, caller, orderID, plan.Amount)
	case escrow.ActionDispute:
		return d.ledger.Dispute(ctx, caller, orderID)
	case escrow.ActionResolveToBuyer, escrow.ActionResolveToSeller:
		return d.ledger.Resolve(ctx, caller, orderID, plan.Winner)
	default:
		return ledger.TxHandle{}, fmt.Errorf("no ledger write for %s", plan.Action)
	}
}

func (d *Dispatcher) reject(span trace.Span, action escrow.Action, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	d.metrics.RecordRejection(string(action), reasonClass(err))
	d.logger.Debug("transition rejected",
		slog.String("action", string(action)),
		slog.Any("error", err))
}

func reasonClass(err error) string {
	switch {
	case errors.Is(err, ErrTransitionInFlight):
		return "in_flight"
	case errors.Is(err, escrow.ErrAuthorizationDenied):
		return "authorization"
	case errors.Is(err, escrow.ErrValidationRejected):
		return "validation"
	case errors.Is(err, escrow.ErrOrderNotFound):
		return "not_found"
	case errors.Is(err, escrow.ErrSourceUnavailable):
		return "source"
	case errors.Is(err, ErrClosed):
		return "closed"
	default:
		return "other"
	}
}

func wrapWriteFailed(err error) error {
	if errors.Is(err, escrow.ErrWriteFailed) {
		return err
	}
	return fmt.Errorf("%w: %v", escrow.ErrWriteFailed, err)
}
