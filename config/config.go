package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config is the full daemon configuration.
type Config struct {
	Watcher WatcherConfig `yaml:"watcher"`
	Paths   PathsConfig   `yaml:"paths"`
	Persist PersistConfig `yaml:"persist"`
	API     APIConfig     `yaml:"api"`
	Archive ArchiveConfig `yaml:"archive"`
	Health  HealthConfig  `yaml:"health"`
	Log     LogConfig     `yaml:"log"`
}

// WatcherConfig controls the cycle loop and the signal thresholds.
type WatcherConfig struct {
	IntervalSeconds       int     `yaml:"interval_seconds"`
	EntryPrice            float64 `yaml:"entry_price"`             // buy when ask <= this
	TakeProfitPrice       float64 `yaml:"take_profit_price"`       // sell when bid >= this
	StopLossPrice         float64 `yaml:"stop_loss_price"`         // sell when bid <= this
	MinBookDepthUSDC      float64 `yaml:"min_book_depth_usdc"`
	NotionalUSDC          float64 `yaml:"notional_usdc"`
	PendingWindowSeconds  int     `yaml:"pending_window_seconds"`  // price must hold this long before signaling
	PurgeAfterHours       int     `yaml:"purge_after_hours"`       // expired entries removed after this grace period
	Sports                []string `yaml:"sports"`                 // gamma tag slugs to watch
}

// PathsConfig names the persisted files.
type PathsConfig struct {
	State      string `yaml:"state"`      // atomic snapshot document
	Journal    string `yaml:"journal"`    // append-only event log
	Index      string `yaml:"index"`      // derived position index
	Executions string `yaml:"executions"` // execution ledger document
	Trades     string `yaml:"trades"`     // append-only trade stream
}

// PersistConfig tunes the write-scheduling and reconciliation policy.
type PersistConfig struct {
	ThrottleMS            int `yaml:"throttle_ms"`
	FailedBuyRetentionDays int `yaml:"failed_buy_retention_days"`
}

// APIConfig holds the Polymarket endpoints.
type APIConfig struct {
	CLOBBase  string `yaml:"clob_base"`
	GammaBase string `yaml:"gamma_base"`
	WSBase    string `yaml:"ws_base"`
}

// ArchiveConfig controls the SQLite mirror of closed positions.
type ArchiveConfig struct {
	DSN string `yaml:"dsn"` // SQLite file path, ":memory:", or empty to disable
}

// HealthConfig controls the HTTP health endpoint.
type HealthConfig struct {
	Addr string `yaml:"addr"` // empty disables the listener
}

// LogConfig controls logging output.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug | info | warn | error
	Format string `yaml:"format"` // text | json
}

// Load reads the YAML config at path, applying .env and environment
// overrides, then fills defaults.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config.Load: read %q: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config.Load: parse YAML: %w", err)
	}

	applyEnvOverrides(&cfg)
	setDefaults(&cfg)

	return &cfg, nil
}

// Default returns a config with only defaults applied, for running without
// a config file.
func Default() *Config {
	var cfg Config
	applyEnvOverrides(&cfg)
	setDefaults(&cfg)
	return &cfg
}

// CycleInterval returns the cycle cadence as a Duration.
func (c *Config) CycleInterval() time.Duration {
	return time.Duration(c.Watcher.IntervalSeconds) * time.Second
}

// PendingWindow returns the signal-confirmation window as a Duration.
func (c *Config) PendingWindow() time.Duration {
	return time.Duration(c.Watcher.PendingWindowSeconds) * time.Second
}

// Throttle returns the non-critical snapshot throttle as a Duration.
func (c *Config) Throttle() time.Duration {
	return time.Duration(c.Persist.ThrottleMS) * time.Millisecond
}

// FailedBuyRetention returns the failed-buy retention window as a Duration.
func (c *Config) FailedBuyRetention() time.Duration {
	return time.Duration(c.Persist.FailedBuyRetentionDays) * 24 * time.Hour
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("LOG_FORMAT"); v != "" {
		cfg.Log.Format = v
	}
	if v := os.Getenv("POLYWATCH_DATA_DIR"); v != "" {
		cfg.Paths.State = v + "/state.json"
		cfg.Paths.Journal = v + "/journal.jsonl"
		cfg.Paths.Index = v + "/index.json"
		cfg.Paths.Executions = v + "/executions.json"
		cfg.Paths.Trades = v + "/trades.jsonl"
	}
}

func setDefaults(cfg *Config) {
	if cfg.Watcher.IntervalSeconds <= 0 {
		cfg.Watcher.IntervalSeconds = 15
	}
	if cfg.Watcher.EntryPrice <= 0 {
		cfg.Watcher.EntryPrice = 0.35
	}
	if cfg.Watcher.TakeProfitPrice <= 0 {
		cfg.Watcher.TakeProfitPrice = 0.85
	}
	if cfg.Watcher.StopLossPrice <= 0 {
		cfg.Watcher.StopLossPrice = 0.10
	}
	if cfg.Watcher.MinBookDepthUSDC <= 0 {
		cfg.Watcher.MinBookDepthUSDC = 200
	}
	if cfg.Watcher.NotionalUSDC <= 0 {
		cfg.Watcher.NotionalUSDC = 50
	}
	if cfg.Watcher.PendingWindowSeconds <= 0 {
		cfg.Watcher.PendingWindowSeconds = 120
	}
	if cfg.Watcher.PurgeAfterHours <= 0 {
		cfg.Watcher.PurgeAfterHours = 24
	}
	if len(cfg.Watcher.Sports) == 0 {
		cfg.Watcher.Sports = []string{"cs2", "dota2", "lol", "cbb"}
	}
	if cfg.Paths.State == "" {
		cfg.Paths.State = "data/state.json"
	}
	if cfg.Paths.Journal == "" {
		cfg.Paths.Journal = "data/journal.jsonl"
	}
	if cfg.Paths.Index == "" {
		cfg.Paths.Index = "data/index.json"
	}
	if cfg.Paths.Executions == "" {
		cfg.Paths.Executions = "data/executions.json"
	}
	if cfg.Paths.Trades == "" {
		cfg.Paths.Trades = "data/trades.jsonl"
	}
	if cfg.Persist.ThrottleMS <= 0 {
		cfg.Persist.ThrottleMS = 5000
	}
	if cfg.Persist.FailedBuyRetentionDays <= 0 {
		cfg.Persist.FailedBuyRetentionDays = 7
	}
	if cfg.API.CLOBBase == "" {
		cfg.API.CLOBBase = "https://clob.polymarket.com"
	}
	if cfg.API.GammaBase == "" {
		cfg.API.GammaBase = "https://gamma-api.polymarket.com"
	}
	if cfg.API.WSBase == "" {
		cfg.API.WSBase = "wss://ws-subscriptions-clob.polymarket.com/ws/market"
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "text"
	}
}
