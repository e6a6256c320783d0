package orderd

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"trustlink/advisory"
	"trustlink/dispatch"
	"trustlink/escrow"
	"trustlink/ledger"
	"trustlink/observability"
	"trustlink/observability/logging"
	telemetry "trustlink/observability/otel"
	"trustlink/orders"
	"trustlink/services/orderd/config"
	"trustlink/services/orderd/server"
	"trustlink/trust"
)

// Main initialises and runs the order service.
func Main() error {
	var cfgPath string
	flag.StringVar(&cfgPath, "config", "services/orderd/config.yaml", "path to orderd configuration")
	flag.Parse()

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	level, err := logging.ParseLevel(cfg.LogLevel)
	if err != nil {
		return err
	}
	logger := logging.SetupLevel("orderd", cfg.Environment, level)

	shutdownTelemetry, err := telemetry.Init(context.Background(), telemetry.FromEnv("orderd", cfg.Environment, os.Getenv))
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() {
		if shutdownTelemetry != nil {
			_ = shutdownTelemetry(context.Background())
		}
	}()

	stopCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	assets, err := cfg.Assets()
	if err != nil {
		return err
	}
	policy, err := cfg.Policy()
	if err != nil {
		return err
	}

	db, err := advisory.Open(cfg.Advisory.Driver, cfg.Advisory.DSN)
	if err != nil {
		return fmt.Errorf("open advisory store: %w", err)
	}
	store, err := advisory.NewGormStore(db, advisory.NewHub(0), logger)
	if err != nil {
		return err
	}
	go store.Watch(stopCtx, cfg.Advisory.WatchInterval.Duration)

	client, closeLedger, err := openLedger(cfg, assets, logger)
	if err != nil {
		return fmt.Errorf("open ledger: %w", err)
	}
	defer closeLedger()

	metrics := observability.Orderd()
	reader := orders.NewReader(client, store, policy,
		orders.WithLogger(logger),
		orders.WithConcurrency(cfg.Listing.Concurrency))
	dispatcher, err := dispatch.New(reader, client, store,
		dispatch.WithLogger(logger),
		dispatch.WithAssets(assets))
	if err != nil {
		return err
	}
	defer dispatcher.Close()

	auth, err := server.NewAuthenticator(server.AuthConfig{
		Secret:   cfg.Auth.JWTSecret,
		Issuer:   cfg.Auth.Issuer,
		Audience: cfg.Auth.Audience,
		Leeway:   cfg.Auth.Leeway.Duration,
	})
	if err != nil {
		return err
	}
	srv, err := server.New(server.Config{
		Reader:       reader,
		Dispatcher:   dispatcher,
		Advisory:     store,
		Assets:       assets,
		Auth:         auth,
		RateLimiter:  server.NewRateLimiter(cfg.RateLimit.RequestsPerSecond, cfg.RateLimit.Burst, metrics),
		TrustProxy:   cfg.RateLimit.TrustProxy,
		Prices:       trust.Prices(cfg.Trust.Prices),
		DefaultLimit: cfg.Listing.DefaultLimit,
		Logger:       logger,
		Metrics:      metrics,
	})
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:         cfg.ListenAddress,
		Handler:      srv.Handler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errs := make(chan error, 1)
	go func() {
		logger.Info("orderd listening",
			slog.String("addr", cfg.ListenAddress),
			slog.String("ledger", cfg.Ledger.Mode),
			slog.String("driver", cfg.Advisory.Driver),
			logging.MaskField("dsn", cfg.Advisory.DSN),
			logging.MaskField("endpoint", cfg.Ledger.Endpoint),
			slog.Bool("trust_proxy", cfg.RateLimit.TrustProxy))
		errs <- httpServer.ListenAndServe()
	}()

	select {
	case <-stopCtx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			_ = httpServer.Close()
			return err
		}
		return nil
	case err := <-errs:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}

// openLedger binds the configured ledger. The in-memory ledger confirms
// writes immediately and is meant for local development.
func openLedger(cfg config.Config, assets *escrow.AssetRegistry, logger *slog.Logger) (ledger.Client, func(), error) {
	switch cfg.Ledger.Mode {
	case config.LedgerMemory:
		arbiter, err := escrow.ParseAddress(cfg.Admins[0])
		if err != nil {
			return nil, nil, err
		}
		mem := ledger.NewMemoryLedger(arbiter)
		mem.SetAutoMine(true)
		logger.Warn("using in-memory ledger; orders are lost on restart")
		return mem, func() {}, nil
	case config.LedgerEVM:
		contract, err := escrow.ParseAddress(cfg.Ledger.Contract)
		if err != nil {
			return nil, nil, err
		}
		keyring, err := ledger.NewKeyring(cfg.Ledger.SignerKeys...)
		if err != nil {
			return nil, nil, err
		}
		backend, err := ledger.Dial(cfg.Ledger.Endpoint)
		if err != nil {
			return nil, nil, err
		}
		client, err := ledger.NewEVMClient(backend, keyring, ledger.EVMConfig{
			Contract:         contract,
			Assets:           assets,
			PollInterval:     cfg.Ledger.PollInterval.Duration,
			GasBufferPercent: cfg.Ledger.GasBufferPercent,
		}, logger)
		if err != nil {
			backend.Close()
			return nil, nil, err
		}
		return client, backend.Close, nil
	default:
		return nil, nil, fmt.Errorf("unsupported ledger mode %q", cfg.Ledger.Mode)
	}
}
