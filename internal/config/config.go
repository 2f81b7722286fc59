package config

import (
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// ---------------------------------------------------------------------------
// Configuration structs
// ---------------------------------------------------------------------------

// Config is the top-level configuration for the tradegate service.
type Config struct {
	Storage Storage       `yaml:"storage"`
	Server  Server        `yaml:"server"`
	Alpaca  Alpaca        `yaml:"alpaca"`
	Logging Logging       `yaml:"logging"`
	Trading TradingConfig `yaml:"trading"`
	Risk    RiskConfig    `yaml:"risk"`
	Venues  VenuesConfig  `yaml:"venues"`
	// Quotes seeds the reference-price source, symbol -> last price. Used by
	// the simulated venues and for market-order notional checks.
	Quotes map[string]float64 `yaml:"quotes"`
}

// Storage holds paths for data persistence.
type Storage struct {
	DataDir    string `yaml:"data_dir"`
	SQLitePath string `yaml:"sqlite_path"`
}

// Server holds network listener configuration.
type Server struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// Alpaca holds credentials and endpoints for the Alpaca broker API. The live
// venue is only registered when credentials are present.
type Alpaca struct {
	APIKey    string `yaml:"api_key"`
	APISecret string `yaml:"api_secret"`
	BaseURL   string `yaml:"base_url"`
}

// Logging configures the application logger.
type Logging struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// TradingConfig defines routing and execution parameters.
type TradingConfig struct {
	// Mode is "paper" or "live". Live-only venues are hidden in paper mode.
	Mode string `yaml:"mode"`
	// AdapterTimeout bounds each venue call, e.g. "5s".
	AdapterTimeout time.Duration `yaml:"adapter_timeout"`
	// IdempotencyTTL is how long submission outcomes are remembered for
	// duplicate detection.
	IdempotencyTTL time.Duration `yaml:"idempotency_ttl"`
	// ResetHour is the local hour (0-23) at which daily risk counters roll
	// over; ResetTimezone is an IANA zone name, UTC when empty.
	ResetHour     int    `yaml:"reset_hour"`
	ResetTimezone string `yaml:"reset_timezone"`
	// DailyNotionalLimit is the default per-symbol exposure cap; adjustable
	// at runtime through the state endpoint.
	DailyNotionalLimit float64 `yaml:"daily_notional_limit"`
}

// RiskConfig defines the rule chain and its parameters.
type RiskConfig struct {
	// Rules lists rule names in evaluation order. Supported: "max_notional",
	// "daily_loss". Empty means both, in that order.
	Rules []string `yaml:"rules"`
	// SymbolCaps overrides the default notional cap per symbol.
	SymbolCaps map[string]float64 `yaml:"symbol_caps"`
	// WarnRatio is the fraction of a cap at which an alert fires (0.8 if
	// unset).
	WarnRatio float64 `yaml:"warn_ratio"`
	// DefaultStopLoss is the daily loss threshold applied when the account
	// state carries none.
	DefaultStopLoss float64 `yaml:"default_stop_loss"`
}

// VenuesConfig configures the simulated venue adapters.
type VenuesConfig struct {
	Staged StagedVenueConfig `yaml:"staged"`
}

// StagedVenueConfig parameterizes the partial-fill simulator.
type StagedVenueConfig struct {
	// Ratios splits an order into sequential fill chunks; fractions that must
	// sum to 1 ([0.6, 0.4] if empty).
	Ratios []float64 `yaml:"ratios"`
	// DriftBps moves each chunk's price against the taker, in basis points.
	DriftBps float64 `yaml:"drift_bps"`
}

// ---------------------------------------------------------------------------
// Loading
// ---------------------------------------------------------------------------

// Load reads the YAML configuration file at the given path, parses it into a
// Config struct, applies environment variable overrides, and fills defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	applyEnvOverrides(cfg)
	applyDefaults(cfg)

	return cfg, nil
}

// Default returns a configuration usable without a file: paper mode,
// simulated venues only.
func Default() *Config {
	cfg := &Config{}
	applyEnvOverrides(cfg)
	applyDefaults(cfg)
	return cfg
}

// applyEnvOverrides checks well-known environment variables and overrides the
// corresponding configuration fields when they are set.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("DATA_DIR"); v != "" {
		cfg.Storage.DataDir = v
	}
	if v := os.Getenv("SQLITE_PATH"); v != "" {
		cfg.Storage.SQLitePath = v
	}

	if v := os.Getenv("TRADEGATE_HOST"); v != "" {
		cfg.Server.Host = v
	}
	if v := os.Getenv("TRADEGATE_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("TRADEGATE_MODE"); v != "" {
		cfg.Trading.Mode = v
	}

	if v := os.Getenv("ALPACA_API_KEY"); v != "" {
		cfg.Alpaca.APIKey = v
	}
	if v := os.Getenv("ALPACA_API_SECRET"); v != "" {
		cfg.Alpaca.APISecret = v
	}
	if v := os.Getenv("ALPACA_BASE_URL"); v != "" {
		cfg.Alpaca.BaseURL = v
	}

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}

	// Standard Alpaca env vars take highest priority; the SDK reads these
	// names itself.
	if v := os.Getenv("APCA_API_KEY_ID"); v != "" {
		cfg.Alpaca.APIKey = v
	}
	if v := os.Getenv("APCA_API_SECRET_KEY"); v != "" {
		cfg.Alpaca.APISecret = v
	}
}

// applyDefaults fills zero-valued fields with working defaults.
func applyDefaults(cfg *Config) {
	if cfg.Storage.DataDir == "" {
		cfg.Storage.DataDir = "data"
	}
	if cfg.Storage.SQLitePath == "" {
		cfg.Storage.SQLitePath = cfg.Storage.DataDir + "/tradegate.db"
	}
	if cfg.Server.Host == "" {
		cfg.Server.Host = "0.0.0.0"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
	if cfg.Trading.Mode == "" {
		cfg.Trading.Mode = "paper"
	}
	if cfg.Trading.AdapterTimeout == 0 {
		cfg.Trading.AdapterTimeout = 5 * time.Second
	}
	if cfg.Trading.IdempotencyTTL == 0 {
		cfg.Trading.IdempotencyTTL = 24 * time.Hour
	}
	if cfg.Trading.DailyNotionalLimit == 0 {
		cfg.Trading.DailyNotionalLimit = 1_000_000
	}
	if len(cfg.Risk.Rules) == 0 {
		cfg.Risk.Rules = []string{"max_notional", "daily_loss"}
	}
	if cfg.Risk.WarnRatio == 0 {
		cfg.Risk.WarnRatio = 0.8
	}
	if cfg.Risk.DefaultStopLoss == 0 {
		cfg.Risk.DefaultStopLoss = 10_000
	}
	if len(cfg.Venues.Staged.Ratios) == 0 {
		cfg.Venues.Staged.Ratios = []float64{0.6, 0.4}
	}
	if cfg.Venues.Staged.DriftBps == 0 {
		cfg.Venues.Staged.DriftBps = 5
	}
}
