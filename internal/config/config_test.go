package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "brokerhub.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	return path
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"BROKERHUB_BROKER", "BROKERHUB_ACCOUNT", "BROKERHUB_GRPC_PORT", "BROKERHUB_HTTP_PORT",
		"DATA_DIR", "SQLITE_PATH", "LOG_LEVEL",
		"ALPACA_BASE_URL", "ALPACA_DATA_URL", "APCA_API_KEY_ID", "APCA_API_SECRET_KEY",
	} {
		t.Setenv(k, "")
	}
}

func TestLoad(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, `
broker:
  name: simulator
  account: paper-1
simulator:
  cash: 50000
  symbols:
    - board: TQBR
      code: SBER
      decimals: 2
      min_step: 0.01
      lot_size: 10
      price: 250.5
storage:
  data_dir: "/tmp/brokerhub/data"
  sqlite_path: "/tmp/brokerhub/journal.db"
logging:
  level: debug
  format: text
session:
  cancel_warn_after: 45s
server:
  grpc_port: 9191
backtest:
  strategy: sma_cross
  symbol: TQBR.SBER
  params:
    fast: 5
    slow: 20
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() returned error: %v", err)
	}

	if cfg.Broker.Name != "simulator" || cfg.Broker.Account != "paper-1" {
		t.Errorf("Broker = %+v, want simulator/paper-1", cfg.Broker)
	}
	if cfg.Simulator.Cash != 50000 {
		t.Errorf("Simulator.Cash = %f, want %f", cfg.Simulator.Cash, 50000.0)
	}
	if len(cfg.Simulator.Symbols) != 1 {
		t.Fatalf("len(Simulator.Symbols) = %d, want 1", len(cfg.Simulator.Symbols))
	}
	if s := cfg.Simulator.Symbols[0]; s.Code != "SBER" || s.LotSize != 10 || s.Price != 250.5 {
		t.Errorf("Simulator.Symbols[0] = %+v", s)
	}
	if cfg.Storage.SQLitePath != "/tmp/brokerhub/journal.db" {
		t.Errorf("Storage.SQLitePath = %q, want %q", cfg.Storage.SQLitePath, "/tmp/brokerhub/journal.db")
	}
	if cfg.Logging.Level != "debug" || cfg.Logging.Format != "text" {
		t.Errorf("Logging = %+v, want debug/text", cfg.Logging)
	}
	if cfg.Session.CancelWarnAfter != 45*time.Second {
		t.Errorf("Session.CancelWarnAfter = %v, want %v", cfg.Session.CancelWarnAfter, 45*time.Second)
	}
	if cfg.Server.GRPCPort != 9191 {
		t.Errorf("Server.GRPCPort = %d, want %d", cfg.Server.GRPCPort, 9191)
	}
	if cfg.Backtest.Params["slow"] != 20 {
		t.Errorf("Backtest.Params[slow] = %f, want 20", cfg.Backtest.Params["slow"])
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() = %v, want nil", err)
	}
}

func TestLoadFillsDefaults(t *testing.T) {
	clearEnv(t)
	cfg, err := Load(writeConfig(t, "logging:\n  level: warn\n"))
	if err != nil {
		t.Fatalf("Load() returned error: %v", err)
	}

	if cfg.Broker.Name != "simulator" {
		t.Errorf("Broker.Name = %q, want %q", cfg.Broker.Name, "simulator")
	}
	if cfg.Alpaca.PollInterval != time.Minute {
		t.Errorf("Alpaca.PollInterval = %v, want %v", cfg.Alpaca.PollInterval, time.Minute)
	}
	if cfg.Session.CancelWarnAfter != 30*time.Second {
		t.Errorf("Session.CancelWarnAfter = %v, want %v", cfg.Session.CancelWarnAfter, 30*time.Second)
	}
	if cfg.Logging.Format != "json" {
		t.Errorf("Logging.Format = %q, want %q", cfg.Logging.Format, "json")
	}
	if cfg.Backtest.TimeFrame != "D1" {
		t.Errorf("Backtest.TimeFrame = %q, want %q", cfg.Backtest.TimeFrame, "D1")
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, `
broker:
  name: alpaca
alpaca:
  api_key: "yaml-key"
  api_secret: "yaml-secret"
storage:
  data_dir: "/original/data"
`)

	t.Setenv("APCA_API_KEY_ID", "env-key")
	t.Setenv("DATA_DIR", "/env/data")
	t.Setenv("BROKERHUB_ACCOUNT", "live-7")
	t.Setenv("BROKERHUB_GRPC_PORT", "7000")
	t.Setenv("BROKERHUB_HTTP_PORT", "8080")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() returned error: %v", err)
	}

	if cfg.Alpaca.APIKey != "env-key" {
		t.Errorf("Alpaca.APIKey = %q, want %q (env override)", cfg.Alpaca.APIKey, "env-key")
	}
	// api_secret should remain from YAML since no env override was set.
	if cfg.Alpaca.APISecret != "yaml-secret" {
		t.Errorf("Alpaca.APISecret = %q, want %q (from YAML)", cfg.Alpaca.APISecret, "yaml-secret")
	}
	if cfg.Storage.DataDir != "/env/data" {
		t.Errorf("Storage.DataDir = %q, want %q (env override)", cfg.Storage.DataDir, "/env/data")
	}
	if cfg.Broker.Account != "live-7" {
		t.Errorf("Broker.Account = %q, want %q", cfg.Broker.Account, "live-7")
	}
	if cfg.Server.GRPCPort != 7000 {
		t.Errorf("Server.GRPCPort = %d, want %d", cfg.Server.GRPCPort, 7000)
	}
	if cfg.Server.HTTPPort != 8080 {
		t.Errorf("Server.HTTPPort = %d, want %d", cfg.Server.HTTPPort, 8080)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{"simulator", Config{Broker: Broker{Name: "simulator"}}, false},
		{"unknown broker", Config{Broker: Broker{Name: "ib"}}, true},
		{"alpaca without keys", Config{Broker: Broker{Name: "alpaca"}}, true},
		{"alpaca with keys", Config{Broker: Broker{Name: "alpaca"}, Alpaca: Alpaca{APIKey: "k", APISecret: "s"}}, false},
		{"negative risk limit", Config{
			Broker:  Broker{Name: "simulator"},
			Session: Session{MaxOrderQty: -1},
		}, true},
		{"simulator symbol without code", Config{
			Broker:    Broker{Name: "simulator"},
			Simulator: Simulator{Symbols: []SimSymbol{{Board: "TQBR"}}},
		}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	envPath := filepath.Join(dir, ".env")
	if err := os.WriteFile(envPath, []byte("BROKERHUB_TEST_DOTENV=loaded\n"), 0o644); err != nil {
		t.Fatalf("failed to write .env: %v", err)
	}
	t.Setenv("BROKERHUB_TEST_DOTENV", "")
	os.Unsetenv("BROKERHUB_TEST_DOTENV")

	if err := LoadDotEnv(filepath.Join(dir, "missing.env"), envPath); err != nil {
		t.Fatalf("LoadDotEnv() returned error: %v", err)
	}
	if got := os.Getenv("BROKERHUB_TEST_DOTENV"); got != "loaded" {
		t.Errorf("BROKERHUB_TEST_DOTENV = %q, want %q", got, "loaded")
	}
}
