// Package config loads the brokerhub YAML configuration and applies
// environment overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// ---------------------------------------------------------------------------
// Configuration structs
// ---------------------------------------------------------------------------

// Config is the top-level configuration for brokerhub.
type Config struct {
	Broker    Broker    `yaml:"broker"`
	Alpaca    Alpaca    `yaml:"alpaca"`
	Simulator Simulator `yaml:"simulator"`
	Storage   Storage   `yaml:"storage"`
	Logging   Logging   `yaml:"logging"`
	Session   Session   `yaml:"session"`
	Server    Server    `yaml:"server"`
	Backtest  Backtest  `yaml:"backtest"`
}

// Broker selects the adapter and the account it trades.
type Broker struct {
	Name    string `yaml:"name"` // "simulator" or "alpaca"
	Account string `yaml:"account"`
}

// Alpaca holds credentials and endpoints for the Alpaca broker API.
type Alpaca struct {
	APIKey          string        `yaml:"api_key"`
	APISecret       string        `yaml:"api_secret"`
	BaseURL         string        `yaml:"base_url"`
	DataURL         string        `yaml:"data_url"`
	Feed            string        `yaml:"feed"`
	RateLimitPerMin int           `yaml:"rate_limit_per_min"`
	Retries         int           `yaml:"retries"`
	PollInterval    time.Duration `yaml:"poll_interval"`
}

// Simulator configures the paper-trading adapter.
type Simulator struct {
	Cash    float64     `yaml:"cash"`
	Symbols []SimSymbol `yaml:"symbols"`
}

// SimSymbol is one instrument known to the simulator.
type SimSymbol struct {
	Board    string  `yaml:"board"`
	Code     string  `yaml:"code"`
	Name     string  `yaml:"name"`
	Decimals int     `yaml:"decimals"`
	MinStep  float64 `yaml:"min_step"`
	LotSize  int64   `yaml:"lot_size"`
	Price    float64 `yaml:"price"`
}

// Storage holds paths for data persistence.
type Storage struct {
	DataDir    string `yaml:"data_dir"`
	SQLitePath string `yaml:"sqlite_path"`
}

// Logging configures the application logger.
type Logging struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Session tunes the per-account order session.
type Session struct {
	CancelWarnAfter time.Duration `yaml:"cancel_warn_after"`
	WatchInterval   time.Duration `yaml:"watch_interval"`
	MaxOrderQty     int64         `yaml:"max_order_qty"`    // 0 disables the check
	MaxPositionQty  int64         `yaml:"max_position_qty"` // 0 disables the check
}

// Server holds network listener configuration.
type Server struct {
	Host     string `yaml:"host"`
	GRPCPort int    `yaml:"grpc_port"`
	HTTPPort int    `yaml:"http_port"` // 0 disables the HTTP API
}

// Backtest describes one strategy replay.
type Backtest struct {
	Strategy  string             `yaml:"strategy"`
	Symbol    string             `yaml:"symbol"`
	TimeFrame string             `yaml:"timeframe"`
	From      string             `yaml:"from"`
	To        string             `yaml:"to"`
	Params    map[string]float64 `yaml:"params"`
}

// ---------------------------------------------------------------------------
// Loading
// ---------------------------------------------------------------------------

// LoadDotEnv loads environment variables from the given .env files. Files
// that do not exist are skipped; variables already set are kept.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if _, err := os.Stat(p); errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err := godotenv.Load(p); err != nil {
			return fmt.Errorf("loading %s: %w", p, err)
		}
	}
	return nil
}

// Load reads the YAML configuration file at the given path, parses it into a
// Config struct, applies environment variable overrides and fills defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}

	applyEnvOverrides(cfg)
	cfg.Defaults()

	return cfg, nil
}

// Defaults fills zero-valued settings.
func (c *Config) Defaults() {
	if c.Broker.Name == "" {
		c.Broker.Name = "simulator"
	}
	if c.Broker.Account == "" {
		c.Broker.Account = "default"
	}
	if c.Alpaca.BaseURL == "" {
		c.Alpaca.BaseURL = "https://paper-api.alpaca.markets"
	}
	if c.Alpaca.Feed == "" {
		c.Alpaca.Feed = "iex"
	}
	if c.Alpaca.RateLimitPerMin == 0 {
		c.Alpaca.RateLimitPerMin = 200
	}
	if c.Alpaca.Retries == 0 {
		c.Alpaca.Retries = 3
	}
	if c.Alpaca.PollInterval == 0 {
		c.Alpaca.PollInterval = time.Minute
	}
	if c.Simulator.Cash == 0 {
		c.Simulator.Cash = 100000
	}
	if c.Storage.DataDir == "" {
		c.Storage.DataDir = "data"
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}
	if c.Session.CancelWarnAfter == 0 {
		c.Session.CancelWarnAfter = 30 * time.Second
	}
	if c.Session.WatchInterval == 0 {
		c.Session.WatchInterval = 5 * time.Second
	}
	if c.Server.GRPCPort == 0 {
		c.Server.GRPCPort = 9090
	}
	if c.Backtest.TimeFrame == "" {
		c.Backtest.TimeFrame = "D1"
	}
}

// Validate checks that the selected broker is known and configured.
func (c *Config) Validate() error {
	switch c.Broker.Name {
	case "simulator":
		for i, s := range c.Simulator.Symbols {
			if s.Board == "" || s.Code == "" {
				return fmt.Errorf("simulator.symbols[%d]: board and code are required", i)
			}
		}
	case "alpaca":
		if c.Alpaca.APIKey == "" || c.Alpaca.APISecret == "" {
			return errors.New("alpaca: api_key and api_secret are required")
		}
	default:
		return fmt.Errorf("broker.name: unknown broker %q", c.Broker.Name)
	}
	if c.Session.CancelWarnAfter < 0 {
		return errors.New("session.cancel_warn_after must not be negative")
	}
	if c.Session.MaxOrderQty < 0 || c.Session.MaxPositionQty < 0 {
		return errors.New("session risk limits must not be negative")
	}
	return nil
}

// applyEnvOverrides checks well-known environment variables and overrides the
// corresponding configuration fields when they are set.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("BROKERHUB_BROKER"); v != "" {
		cfg.Broker.Name = v
	}
	if v := os.Getenv("BROKERHUB_ACCOUNT"); v != "" {
		cfg.Broker.Account = v
	}
	if v := os.Getenv("BROKERHUB_GRPC_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.GRPCPort = port
		}
	}

	if v := os.Getenv("BROKERHUB_HTTP_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.HTTPPort = port
		}
	}

	if v := os.Getenv("DATA_DIR"); v != "" {
		cfg.Storage.DataDir = v
	}
	if v := os.Getenv("SQLITE_PATH"); v != "" {
		cfg.Storage.SQLitePath = v
	}

	if v := os.Getenv("ALPACA_BASE_URL"); v != "" {
		cfg.Alpaca.BaseURL = v
	}
	if v := os.Getenv("ALPACA_DATA_URL"); v != "" {
		cfg.Alpaca.DataURL = v
	}

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}

	// Standard Alpaca env vars, the canonical names used by the SDK.
	if v := os.Getenv("APCA_API_KEY_ID"); v != "" {
		cfg.Alpaca.APIKey = v
	}
	if v := os.Getenv("APCA_API_SECRET_KEY"); v != "" {
		cfg.Alpaca.APISecret = v
	}
}
