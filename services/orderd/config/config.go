package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"trustlink/escrow"
	"trustlink/observability/logging"
	"trustlink/orders"
)

const (
	LedgerMemory = "memory"
	LedgerEVM    = "evm"

	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"

	defaultListen        = ":8080"
	defaultLogLevel      = "info"
	defaultPollInterval  = 4 * time.Second
	defaultWatchInterval = 2 * time.Second
	defaultGasBuffer     = 20
	defaultRPS           = 5
	defaultBurst         = 10
	defaultConcurrency   = 8
)

// Duration wraps time.Duration so it can be written as "5s" in YAML and TOML.
type Duration struct {
	time.Duration
}

// UnmarshalYAML parses human readable duration strings.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	if value == nil {
		return nil
	}
	if value.Kind != yaml.ScalarNode {
		return fmt.Errorf("duration must be string")
	}
	return d.parse(value.Value)
}

// UnmarshalText implements encoding.TextUnmarshaler for the TOML decoder.
func (d *Duration) UnmarshalText(text []byte) error {
	return d.parse(string(text))
}

func (d *Duration) parse(raw string) error {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		d.Duration = 0
		return nil
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", raw, err)
	}
	d.Duration = parsed
	return nil
}

// Config captures the runtime configuration for orderd.
type Config struct {
	ListenAddress string          `yaml:"listen" toml:"listen"`
	Environment   string          `yaml:"environment" toml:"environment"`
	LogLevel      string          `yaml:"log_level" toml:"log_level"`
	Admins        []string        `yaml:"admins" toml:"admins"`
	Ledger        LedgerConfig    `yaml:"ledger" toml:"ledger"`
	Advisory      AdvisoryConfig  `yaml:"advisory" toml:"advisory"`
	Auth          AuthConfig      `yaml:"auth" toml:"auth"`
	RateLimit     RateLimitConfig `yaml:"rate_limit" toml:"rate_limit"`
	Listing       ListingConfig   `yaml:"listing" toml:"listing"`
	Trust         TrustConfig     `yaml:"trust" toml:"trust"`
}

// LedgerConfig selects and configures the escrow contract binding.
type LedgerConfig struct {
	Mode             string   `yaml:"mode" toml:"mode"`
	Endpoint         string   `yaml:"endpoint" toml:"endpoint"`
	Contract         string   `yaml:"contract" toml:"contract"`
	StableToken      string   `yaml:"stable_token" toml:"stable_token"`
	SignerKeys       []string `yaml:"signer_keys" toml:"signer_keys"`
	SignerKeysFile   string   `yaml:"signer_keys_file" toml:"signer_keys_file"`
	PollInterval     Duration `yaml:"poll_interval" toml:"poll_interval"`
	GasBufferPercent uint64   `yaml:"gas_buffer_percent" toml:"gas_buffer_percent"`
}

// AdvisoryConfig points at the workflow status database.
type AdvisoryConfig struct {
	Driver        string   `yaml:"driver" toml:"driver"`
	DSN           string   `yaml:"dsn" toml:"dsn"`
	WatchInterval Duration `yaml:"watch_interval" toml:"watch_interval"`
}

// AuthConfig controls session token verification.
type AuthConfig struct {
	JWTSecret string   `yaml:"jwt_secret" toml:"jwt_secret"`
	Issuer    string   `yaml:"issuer" toml:"issuer"`
	Audience  []string `yaml:"audience" toml:"audience"`
	Leeway    Duration `yaml:"leeway" toml:"leeway"`
}

// RateLimitConfig bounds per-client request rates.
type RateLimitConfig struct {
	RequestsPerSecond float64 `yaml:"rps" toml:"rps"`
	Burst             int     `yaml:"burst" toml:"burst"`
	// TrustProxy keys clients on forwarded headers instead of the peer
	// address.
	TrustProxy bool `yaml:"trust_proxy" toml:"trust_proxy"`
}

// ListingConfig shapes the recent orders window.
type ListingConfig struct {
	DefaultLimit int `yaml:"default_limit" toml:"default_limit"`
	Concurrency  int `yaml:"concurrency" toml:"concurrency"`
}

// TrustConfig carries the USD reference prices used for seller badges.
type TrustConfig struct {
	Prices map[string]decimal.Decimal `yaml:"prices" toml:"prices"`
}

// Load reads the configuration file at path. Files ending in .toml are
// decoded as TOML, everything else as YAML. Environment overrides are
// applied before defaults and validation.
func Load(path string) (Config, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return Config{}, fmt.Errorf("config path required")
	}
	file, err := os.Open(path)
	if err != nil {
		return Config{}, fmt.Errorf("open config: %w", err)
	}
	defer file.Close()
	format := "yaml"
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		format = "toml"
	}
	return Decode(file, format)
}

// Decode parses r in the given format ("yaml" or "toml"), then applies
// environment overrides, defaults, the signer keys file and validation.
func Decode(r io.Reader, format string) (Config, error) {
	var cfg Config
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "toml":
		if _, err := toml.NewDecoder(r).Decode(&cfg); err != nil {
			return Config{}, fmt.Errorf("decode config: %w", err)
		}
	case "yaml", "yml", "":
		dec := yaml.NewDecoder(r)
		dec.KnownFields(true)
		if err := dec.Decode(&cfg); err != nil && err != io.EOF {
			return Config{}, fmt.Errorf("decode config: %w", err)
		}
	default:
		return Config{}, fmt.Errorf("unsupported config format %q", format)
	}
	cfg.applyEnv(os.Getenv)
	cfg.applyDefaults()
	if err := cfg.loadSignerKeys(); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (cfg *Config) applyEnv(getenv func(string) string) {
	if env := strings.TrimSpace(getenv("TRUSTLINK_ENV")); env != "" {
		cfg.Environment = env
	}
	if secret := strings.TrimSpace(getenv("TRUSTLINK_JWT_SECRET")); secret != "" {
		cfg.Auth.JWTSecret = secret
	}
	if dsn := strings.TrimSpace(getenv("TRUSTLINK_ADVISORY_DSN")); dsn != "" {
		cfg.Advisory.DSN = dsn
	}
	if endpoint := strings.TrimSpace(getenv("TRUSTLINK_LEDGER_ENDPOINT")); endpoint != "" {
		cfg.Ledger.Endpoint = endpoint
	}
	if keys := strings.TrimSpace(getenv("TRUSTLINK_SIGNER_KEYS")); keys != "" {
		cfg.Ledger.SignerKeys = splitList(keys)
	}
}

func (cfg *Config) applyDefaults() {
	if strings.TrimSpace(cfg.ListenAddress) == "" {
		cfg.ListenAddress = defaultListen
	}
	if strings.TrimSpace(cfg.Environment) == "" {
		cfg.Environment = "dev"
	}
	if strings.TrimSpace(cfg.LogLevel) == "" {
		cfg.LogLevel = defaultLogLevel
	}
	cfg.Ledger.Mode = strings.ToLower(strings.TrimSpace(cfg.Ledger.Mode))
	if cfg.Ledger.Mode == "" {
		cfg.Ledger.Mode = LedgerMemory
	}
	if cfg.Ledger.PollInterval.Duration <= 0 {
		cfg.Ledger.PollInterval.Duration = defaultPollInterval
	}
	if cfg.Ledger.GasBufferPercent == 0 {
		cfg.Ledger.GasBufferPercent = defaultGasBuffer
	}
	cfg.Advisory.Driver = strings.ToLower(strings.TrimSpace(cfg.Advisory.Driver))
	if cfg.Advisory.Driver == "" {
		cfg.Advisory.Driver = DriverSQLite
	}
	if cfg.Advisory.Driver == DriverSQLite && strings.TrimSpace(cfg.Advisory.DSN) == "" {
		cfg.Advisory.DSN = "file:trustlink.db?cache=shared"
	}
	if cfg.Advisory.WatchInterval.Duration <= 0 {
		cfg.Advisory.WatchInterval.Duration = defaultWatchInterval
	}
	if cfg.RateLimit.RequestsPerSecond <= 0 {
		cfg.RateLimit.RequestsPerSecond = defaultRPS
	}
	if cfg.RateLimit.Burst <= 0 {
		cfg.RateLimit.Burst = defaultBurst
	}
	if cfg.Listing.DefaultLimit <= 0 {
		cfg.Listing.DefaultLimit = orders.DefaultLimit
	}
	if cfg.Listing.Concurrency <= 0 {
		cfg.Listing.Concurrency = defaultConcurrency
	}
	if len(cfg.Trust.Prices) == 0 {
		cfg.Trust.Prices = map[string]decimal.Decimal{
			"ETH":  decimal.NewFromInt(2500),
			"USDC": decimal.NewFromInt(1),
		}
	}
}

// Validate reports the first configuration problem found.
func (cfg Config) Validate() error {
	if len(cfg.Admins) == 0 {
		return fmt.Errorf("at least one admin address must be configured")
	}
	if _, err := escrow.NewAdminList(cfg.Admins...); err != nil {
		return fmt.Errorf("admins: %w", err)
	}
	if _, err := logging.ParseLevel(cfg.LogLevel); err != nil {
		return err
	}
	switch cfg.Ledger.Mode {
	case LedgerMemory:
	case LedgerEVM:
		if strings.TrimSpace(cfg.Ledger.Endpoint) == "" {
			return fmt.Errorf("ledger endpoint required in evm mode")
		}
		if _, err := escrow.ParseAddress(cfg.Ledger.Contract); err != nil {
			return fmt.Errorf("ledger contract: %w", err)
		}
		if len(cfg.Ledger.SignerKeys) == 0 {
			return fmt.Errorf("ledger signer keys required in evm mode")
		}
	default:
		return fmt.Errorf("unsupported ledger mode %q", cfg.Ledger.Mode)
	}
	if strings.TrimSpace(cfg.Ledger.StableToken) != "" {
		if _, err := escrow.ParseAddress(cfg.Ledger.StableToken); err != nil {
			return fmt.Errorf("ledger stable_token: %w", err)
		}
	}
	if cfg.Ledger.GasBufferPercent > 100 {
		return fmt.Errorf("gas_buffer_percent must not exceed 100")
	}
	switch cfg.Advisory.Driver {
	case DriverSQLite, DriverPostgres:
	default:
		return fmt.Errorf("unsupported advisory driver %q", cfg.Advisory.Driver)
	}
	if strings.TrimSpace(cfg.Advisory.DSN) == "" {
		return fmt.Errorf("advisory dsn required")
	}
	if len(strings.TrimSpace(cfg.Auth.JWTSecret)) < 32 {
		return fmt.Errorf("auth jwt_secret must be at least 32 bytes")
	}
	if cfg.Listing.DefaultLimit > orders.MaxLimit {
		return fmt.Errorf("listing default_limit must not exceed %d", orders.MaxLimit)
	}
	for symbol, price := range cfg.Trust.Prices {
		if price.IsNegative() {
			return fmt.Errorf("trust price for %s must not be negative", symbol)
		}
	}
	return nil
}

// Assets returns the registry of currencies orders may be denominated in.
func (cfg Config) Assets() (*escrow.AssetRegistry, error) {
	raw := strings.TrimSpace(cfg.Ledger.StableToken)
	if raw == "" {
		return escrow.NewAssetRegistry(escrow.NativeAsset)
	}
	token, err := escrow.ParseAddress(raw)
	if err != nil {
		return nil, fmt.Errorf("ledger stable_token: %w", err)
	}
	return escrow.NewAssetRegistry(escrow.NativeAsset, escrow.StableAsset(token))
}

// Policy returns the arbitrator allowlist.
func (cfg Config) Policy() (escrow.AuthorizationPolicy, error) {
	return escrow.NewAdminList(cfg.Admins...)
}

func (cfg *Config) loadSignerKeys() error {
	path := strings.TrimSpace(cfg.Ledger.SignerKeysFile)
	if path == "" || len(cfg.Ledger.SignerKeys) > 0 {
		return nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read signer keys: %w", err)
	}
	cfg.Ledger.SignerKeys = splitList(strings.ReplaceAll(string(data), "\n", ","))
	if cfg.Ledger.Mode == LedgerEVM && len(cfg.Ledger.SignerKeys) == 0 {
		return fmt.Errorf("signer keys file %s is empty", path)
	}
	return nil
}

func splitList(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
