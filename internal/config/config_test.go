package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

const validYAML = `
dry_run: true
mode: offset-maker
api:
  rest_base_url: https://fapi.example.com
  ws_base_url: wss://fstream.example.com
trading:
  symbol: BTCUSDT
  refresh_interval: 1s
  price_tick: 0.1
  qty_step: 0.001
  trade_amount: 0.5
  volume_boost: 2
  bid_offset: 0.1
  ask_offset: 0.1
risk:
  loss_limit: 5
  max_close_slippage_pct: 0.05
  strict_limit_only: true
store:
  data_dir: ./data
logging:
  level: info
  format: text
`

func TestLoadValidConfig(t *testing.T) {
	cfg, err := Load(writeConfig(t, validYAML))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}

	if cfg.Mode != ModeOffsetMaker {
		t.Errorf("mode = %v, want offset-maker", cfg.Mode)
	}
	if cfg.Trading.Symbol != "BTCUSDT" {
		t.Errorf("symbol = %q", cfg.Trading.Symbol)
	}
	if cfg.Trading.VolumeBoost != 2 {
		t.Errorf("volume_boost = %v, want 2", cfg.Trading.VolumeBoost)
	}
	if !cfg.Risk.StrictLimitOnly {
		t.Error("strict_limit_only not read")
	}
}

func TestLoadAppliesDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, validYAML))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	// dwell default: max(1.5s, 3x refresh) with refresh 1s → 3s
	if cfg.Trading.RepriceDwell != 3*time.Second {
		t.Errorf("reprice_dwell = %v, want 3s default", cfg.Trading.RepriceDwell)
	}
	if cfg.Trading.MinRepriceTicks != 1 {
		t.Errorf("min_reprice_ticks = %d, want 1 default", cfg.Trading.MinRepriceTicks)
	}
	if cfg.API.Timeout != 5*time.Second {
		t.Errorf("timeout = %v, want 5s default", cfg.API.Timeout)
	}
	if cfg.Trading.MaxLogEntries != 200 {
		t.Errorf("max_log_entries = %d, want 200 default", cfg.Trading.MaxLogEntries)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	cfg, err := Load(writeConfig(t, validYAML))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	bad := *cfg
	bad.Trading.PriceTick = 0
	if err := bad.Validate(); err == nil {
		t.Error("zero price_tick accepted")
	}

	bad = *cfg
	bad.Risk.LossLimit = 0
	if err := bad.Validate(); err == nil {
		t.Error("zero loss_limit accepted")
	}

	bad = *cfg
	bad.Mode = "grid"
	if err := bad.Validate(); err == nil {
		t.Error("unknown mode accepted")
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("MM_API_KEY", "env-key")
	t.Setenv("MM_API_SECRET", "env-secret")

	cfg, err := Load(writeConfig(t, validYAML))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.API.APIKey != "env-key" || cfg.API.APISecret != "env-secret" {
		t.Errorf("env overrides not applied: key=%q", cfg.API.APIKey)
	}
}
