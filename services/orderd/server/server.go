package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"trustlink/advisory"
	"trustlink/dispatch"
	"trustlink/escrow"
	"trustlink/observability"
	"trustlink/orders"
	"trustlink/trust"
)

const maxBodyBytes = 1 << 16

// Config captures the dependencies required to construct the server.
type Config struct {
	Reader       *orders.Reader
	Dispatcher   *dispatch.Dispatcher
	Advisory     advisory.Store
	Assets       *escrow.AssetRegistry
	Auth         *Authenticator
	RateLimiter  *RateLimiter
	// TrustProxy takes the client address from X-Forwarded-For and
	// X-Real-IP. Only enable it behind a proxy that overwrites them.
	TrustProxy   bool
	Prices       trust.Prices
	DefaultLimit int
	Logger       *slog.Logger
	Metrics      *observability.OrderdMetrics
}

// Server exposes order views and transitions over HTTP.
type Server struct {
	reader       *orders.Reader
	dispatcher   *dispatch.Dispatcher
	advisory     advisory.Store
	assets       *escrow.AssetRegistry
	auth         *Authenticator
	limiter      *RateLimiter
	trustProxy   bool
	prices       trust.Prices
	defaultLimit int
	logger       *slog.Logger
	metrics      *observability.OrderdMetrics

	router http.Handler
}

// New validates cfg and builds the router.
func New(cfg Config) (*Server, error) {
	if cfg.Reader == nil || cfg.Dispatcher == nil || cfg.Advisory == nil {
		return nil, fmt.Errorf("server: reader, dispatcher and advisory store are required")
	}
	if cfg.Auth == nil {
		return nil, fmt.Errorf("server: authenticator required")
	}
	if cfg.Assets == nil {
		return nil, fmt.Errorf("server: asset registry required")
	}
	if cfg.DefaultLimit <= 0 {
		cfg.DefaultLimit = orders.DefaultLimit
	}
	if cfg.Prices == nil {
		cfg.Prices = trust.DefaultPrices
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = observability.Orderd()
	}
	s := &Server{
		reader:       cfg.Reader,
		dispatcher:   cfg.Dispatcher,
		advisory:     cfg.Advisory,
		assets:       cfg.Assets,
		auth:         cfg.Auth,
		limiter:      cfg.RateLimiter,
		trustProxy:   cfg.TrustProxy,
		prices:       cfg.Prices,
		defaultLimit: cfg.DefaultLimit,
		logger:       cfg.Logger,
		metrics:      cfg.Metrics,
	}
	s.router = s.buildRouter()
	return s, nil
}

// Handler exposes the instrumented router.
func (s *Server) Handler() http.Handler {
	return otelhttp.NewHandler(s.router, "orderd")
}

func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	if s.trustProxy {
		r.Use(chimw.RealIP)
	}
	r.Use(chimw.Recoverer)
	r.Use(s.instrument)

	r.Get("/healthz", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/v1", func(api chi.Router) {
		if s.limiter != nil {
			api.Use(s.limiter.Middleware)
		}
		api.Use(s.auth.Middleware)

		api.Get("/orders", s.handleListOrders)
		api.Post("/orders", s.handleCreateOrder)
		api.Get("/orders/{id}", s.handleGetOrder)
		api.Post("/orders/{id}/actions", s.handleAction)
		api.Get("/orders/{id}/stream", s.handleStream)
		api.Get("/transitions/{id}", s.handleGetTransition)
		api.Get("/admin/disputes", s.handleDisputes)
		api.Get("/traders/{address}/badge", s.handleBadge)
	})
	return r
}

func (s *Server) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		s.metrics.ObserveRequest(routePattern(r), status, time.Since(start))
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// writeError maps the error taxonomy onto HTTP statuses.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, code := classify(err)
	if status >= http.StatusInternalServerError {
		s.logger.Warn("request failed",
			slog.String("route", routePattern(r)),
			slog.String("request_id", chimw.GetReqID(r.Context())),
			slog.Int("status", status),
			slog.Any("error", err))
	}
	writeProblem(w, status, code, err.Error())
}

func classify(err error) (int, string) {
	switch {
	case errors.Is(err, dispatch.ErrTransitionInFlight):
		return http.StatusConflict, "transition_in_flight"
	case errors.Is(err, escrow.ErrValidationRejected):
		return http.StatusBadRequest, "validation_rejected"
	case errors.Is(err, escrow.ErrAuthorizationDenied):
		return http.StatusForbidden, "authorization_denied"
	case errors.Is(err, escrow.ErrOrderNotFound), errors.Is(err, dispatch.ErrUnknownTransition):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, escrow.ErrSourceUnavailable), errors.Is(err, dispatch.ErrClosed):
		return http.StatusServiceUnavailable, "source_unavailable"
	case errors.Is(err, escrow.ErrWriteFailed):
		return http.StatusBadGateway, "write_failed"
	default:
		return http.StatusInternalServerError, "internal"
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeProblem(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, problem{Error: message, Code: code})
}

func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("%w: invalid request body: %v", escrow.ErrValidationRejected, err)
	}
	return nil
}
