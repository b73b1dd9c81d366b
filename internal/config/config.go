// Package config defines all configuration for the market-making bot.
// Config is loaded from a YAML file (default: configs/config.yaml) with
// sensitive fields overridable via MM_* environment variables.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Mode selects the quoting strategy variant.
type Mode string

const (
	ModeMaker       Mode = "maker"        // symmetric top-of-book quoting
	ModeOffsetMaker Mode = "offset-maker" // adds depth-imbalance side suppression
)

// Config is the top-level configuration. Maps directly to the YAML file structure.
type Config struct {
	DryRun   bool           `mapstructure:"dry_run"`
	Mode     Mode           `mapstructure:"mode"`
	API      APIConfig      `mapstructure:"api"`
	Trading  TradingConfig  `mapstructure:"trading"`
	Risk     RiskConfig     `mapstructure:"risk"`
	Store    StoreConfig    `mapstructure:"store"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// APIConfig holds the futures REST/WebSocket endpoints and API credentials.
type APIConfig struct {
	RESTBaseURL string        `mapstructure:"rest_base_url"`
	WSBaseURL   string        `mapstructure:"ws_base_url"`
	APIKey      string        `mapstructure:"api_key"`
	APISecret   string        `mapstructure:"api_secret"`
	Timeout     time.Duration `mapstructure:"timeout"` // per-request transport timeout
}

// TradingConfig tunes the quoting loop for a single symbol.
//
//   - Symbol: the futures contract to quote, e.g. BTCUSDT.
//   - RefreshInterval: how often the engine ticks (recompute + reconcile).
//   - PriceTick / QtyStep: instrument price and quantity increments.
//   - TradeAmount: base entry quantity per side.
//   - VolumeBoost: >= 1 multiplier applied to TradeAmount.
//   - BidOffset / AskOffset: quote displacement from top-of-book. Zero on
//     both sides means quoting at the touch (enables the pre-emptive stop).
//   - RepriceDwell: minimum time between reprices of an entry on one side.
//   - MinRepriceTicks: minimum tick distance before an entry is repriced.
type TradingConfig struct {
	Symbol          string        `mapstructure:"symbol"`
	RefreshInterval time.Duration `mapstructure:"refresh_interval"`
	PriceTick       float64       `mapstructure:"price_tick"`
	QtyStep         float64       `mapstructure:"qty_step"`
	TradeAmount     float64       `mapstructure:"trade_amount"`
	VolumeBoost     float64       `mapstructure:"volume_boost"`
	BidOffset       float64       `mapstructure:"bid_offset"`
	AskOffset       float64       `mapstructure:"ask_offset"`
	RepriceDwell    time.Duration `mapstructure:"reprice_dwell"`
	MinRepriceTicks int           `mapstructure:"min_reprice_ticks"`
	MaxLogEntries   int           `mapstructure:"max_log_entries"`
}

// RiskConfig sets the protective-stop and close-order guards.
//
//   - LossLimit: loss budget for the whole position in quote currency; the
//     stop trigger sits LossLimit / |position| away from the entry price.
//   - MaxCloseSlippagePct: reduce-only orders further than this fraction from
//     mark price are refused by the price guard.
//   - StrictLimitOnly: forces IOC limit closes instead of market closes.
type RiskConfig struct {
	LossLimit           float64 `mapstructure:"loss_limit"`
	MaxCloseSlippagePct float64 `mapstructure:"max_close_slippage_pct"`
	StrictLimitOnly     bool    `mapstructure:"strict_limit_only"`
}

// StoreConfig sets where session data is persisted (JSON files).
type StoreConfig struct {
	DataDir string `mapstructure:"data_dir"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Load reads config from a YAML file with env var overrides.
// Sensitive fields use env vars: MM_API_KEY, MM_API_SECRET.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvPrefix("MM")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	// Override sensitive fields from env
	if key := os.Getenv("MM_API_KEY"); key != "" {
		cfg.API.APIKey = key
	}
	if secret := os.Getenv("MM_API_SECRET"); secret != "" {
		cfg.API.APISecret = secret
	}
	if os.Getenv("MM_DRY_RUN") == "true" || os.Getenv("MM_DRY_RUN") == "1" {
		cfg.DryRun = true
	}

	cfg.applyDefaults()
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Mode == "" {
		c.Mode = ModeMaker
	}
	if c.API.Timeout <= 0 {
		c.API.Timeout = 5 * time.Second
	}
	if c.Trading.RefreshInterval <= 0 {
		c.Trading.RefreshInterval = time.Second
	}
	if c.Trading.VolumeBoost < 1 {
		c.Trading.VolumeBoost = 1
	}
	if c.Trading.RepriceDwell <= 0 {
		dwell := 3 * c.Trading.RefreshInterval
		if dwell < 1500*time.Millisecond {
			dwell = 1500 * time.Millisecond
		}
		c.Trading.RepriceDwell = dwell
	}
	if c.Trading.MinRepriceTicks <= 0 {
		c.Trading.MinRepriceTicks = 1
	}
	if c.Trading.MaxLogEntries <= 0 {
		c.Trading.MaxLogEntries = 200
	}
}

// Validate checks all required fields and value ranges.
func (c *Config) Validate() error {
	switch c.Mode {
	case ModeMaker, ModeOffsetMaker:
	default:
		return fmt.Errorf("mode must be %q or %q", ModeMaker, ModeOffsetMaker)
	}
	if c.API.RESTBaseURL == "" {
		return fmt.Errorf("api.rest_base_url is required")
	}
	if c.API.WSBaseURL == "" {
		return fmt.Errorf("api.ws_base_url is required")
	}
	if !c.DryRun && c.API.APIKey == "" {
		return fmt.Errorf("api.api_key is required (set MM_API_KEY)")
	}
	if !c.DryRun && c.API.APISecret == "" {
		return fmt.Errorf("api.api_secret is required (set MM_API_SECRET)")
	}
	if c.Trading.Symbol == "" {
		return fmt.Errorf("trading.symbol is required")
	}
	if c.Trading.PriceTick <= 0 {
		return fmt.Errorf("trading.price_tick must be > 0")
	}
	if c.Trading.QtyStep <= 0 {
		return fmt.Errorf("trading.qty_step must be > 0")
	}
	if c.Trading.TradeAmount <= 0 {
		return fmt.Errorf("trading.trade_amount must be > 0")
	}
	if c.Trading.BidOffset < 0 || c.Trading.AskOffset < 0 {
		return fmt.Errorf("trading.bid_offset and trading.ask_offset must be >= 0")
	}
	if c.Risk.LossLimit <= 0 {
		return fmt.Errorf("risk.loss_limit must be > 0")
	}
	if c.Risk.MaxCloseSlippagePct <= 0 {
		return fmt.Errorf("risk.max_close_slippage_pct must be > 0")
	}
	return nil
}
