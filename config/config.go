package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete engine configuration
type Config struct {
	Symbol   string         `json:"symbol" yaml:"symbol"`
	Engine   EngineConfig   `json:"engine" yaml:"engine"`
	Trend    TrendConfig    `json:"trend" yaml:"trend"`
	Maker    MakerConfig    `json:"maker" yaml:"maker"`
	Exchange ExchangeConfig `json:"exchange" yaml:"exchange"`
	Journal  JournalConfig  `json:"journal" yaml:"journal"`
	State    StateConfig    `json:"state" yaml:"state"`
	Metrics  MetricsConfig  `json:"metrics" yaml:"metrics"`
}

// EngineConfig contains parameters shared by both strategy engines
type EngineConfig struct {
	TickInterval string `json:"tick_interval" yaml:"tick_interval"` // e.g. "500ms", "1s"
	LockTTL      string `json:"lock_ttl" yaml:"lock_ttl"`           // slot lock force-clear timeout
	LogCapacity  int    `json:"log_capacity" yaml:"log_capacity"`   // trade log ring size
	Debug        bool   `json:"debug" yaml:"debug"`
}

// TrendConfig contains the trend engine parameters
type TrendConfig struct {
	Enabled           bool    `json:"enabled" yaml:"enabled"`
	Quantity          float64 `json:"quantity" yaml:"quantity"`
	KlinePeriod       int     `json:"kline_period" yaml:"kline_period"` // SMA window, default 30
	LossLimit         float64 `json:"loss_limit" yaml:"loss_limit"`     // USD
	TrailingProfit    float64 `json:"trailing_profit" yaml:"trailing_profit"`
	CallbackRate      float64 `json:"callback_rate" yaml:"callback_rate"` // percent, e.g. 0.5
	ProfitLockTrigger float64 `json:"profit_lock_trigger" yaml:"profit_lock_trigger"`
	ProfitLockOffset  float64 `json:"profit_lock_offset" yaml:"profit_lock_offset"`
}

// MakerConfig contains the maker engine parameters
type MakerConfig struct {
	Enabled        bool    `json:"enabled" yaml:"enabled"`
	Quantity       float64 `json:"quantity" yaml:"quantity"`
	QuoteOffset    float64 `json:"quote_offset" yaml:"quote_offset"`       // price units away from the touch
	ChaseTolerance float64 `json:"chase_tolerance" yaml:"chase_tolerance"` // max drift before re-quote
	LossLimit      float64 `json:"loss_limit" yaml:"loss_limit"`
}

// ExchangeConfig selects the venue endpoints; credentials come from the
// environment, never from this file.
type ExchangeConfig struct {
	Testnet bool   `json:"testnet" yaml:"testnet"`
	RESTURL string `json:"rest_url,omitempty" yaml:"rest_url,omitempty"`
	WSURL   string `json:"ws_url,omitempty" yaml:"ws_url,omitempty"`
}

// JournalConfig contains closed-trade journaling parameters
type JournalConfig struct {
	Type       string `json:"type" yaml:"type"` // "csv", "sqlite" or "none"
	TradesFile string `json:"trades_file,omitempty" yaml:"trades_file,omitempty"`
	DBPath     string `json:"db_path,omitempty" yaml:"db_path,omitempty"`
}

// StateConfig controls the optional write-behind state mirror
type StateConfig struct {
	Enabled       bool   `json:"enabled" yaml:"enabled"`
	Dir           string `json:"dir,omitempty" yaml:"dir,omitempty"`
	FlushInterval string `json:"flush_interval,omitempty" yaml:"flush_interval,omitempty"` // min 1s
}

// MetricsConfig controls the prometheus endpoint
type MetricsConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Listen  string `json:"listen,omitempty" yaml:"listen,omitempty"` // e.g. ":9090"
}

// ParseTickInterval parses the configured tick cadence.
func (e EngineConfig) ParseTickInterval() (time.Duration, error) {
	if e.TickInterval == "" {
		return time.Second, nil
	}
	return time.ParseDuration(e.TickInterval)
}

// ParseLockTTL parses the slot lock timeout.
func (e EngineConfig) ParseLockTTL() (time.Duration, error) {
	if e.LockTTL == "" {
		return 10 * time.Second, nil
	}
	return time.ParseDuration(e.LockTTL)
}

// ParseFlushInterval parses the state store debounce window, clamped to 1s.
func (s StateConfig) ParseFlushInterval() (time.Duration, error) {
	if s.FlushInterval == "" {
		return time.Second, nil
	}
	d, err := time.ParseDuration(s.FlushInterval)
	if err != nil {
		return 0, err
	}
	if d < time.Second {
		d = time.Second
	}
	return d, nil
}

// LoadFromFile loads configuration from a file (JSON or YAML based on content)
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := &Config{}

	// Try YAML first, fall back to JSON
	err = yaml.Unmarshal(data, cfg)
	if err != nil {
		err = json.Unmarshal(data, cfg)
		if err != nil {
			return nil, fmt.Errorf("parse config (tried YAML and JSON): %w", err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// SaveToFile saves configuration to a file (JSON or YAML based on extension)
func (c *Config) SaveToFile(path string) error {
	var data []byte
	var err error

	if strings.HasSuffix(path, ".yaml") || strings.HasSuffix(path, ".yml") {
		data, err = yaml.Marshal(c)
	} else {
		data, err = json.MarshalIndent(c, "", "  ")
	}
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("write config file: %w", err)
	}

	return nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Symbol == "" {
		return fmt.Errorf("symbol is required")
	}
	if !c.Trend.Enabled && !c.Maker.Enabled {
		return fmt.Errorf("at least one of trend or maker must be enabled")
	}
	if _, err := c.Engine.ParseTickInterval(); err != nil {
		return fmt.Errorf("engine.tick_interval: %w", err)
	}
	if _, err := c.Engine.ParseLockTTL(); err != nil {
		return fmt.Errorf("engine.lock_ttl: %w", err)
	}
	if c.Trend.Enabled {
		if c.Trend.Quantity <= 0 {
			return fmt.Errorf("trend.quantity must be positive")
		}
		if c.Trend.LossLimit <= 0 {
			return fmt.Errorf("trend.loss_limit must be positive")
		}
		if c.Trend.KlinePeriod < 0 {
			return fmt.Errorf("trend.kline_period must not be negative")
		}
		if c.Trend.CallbackRate < 0 || c.Trend.CallbackRate > 5 {
			return fmt.Errorf("trend.callback_rate must be within [0, 5]")
		}
	}
	if c.Maker.Enabled {
		if c.Maker.Quantity <= 0 {
			return fmt.Errorf("maker.quantity must be positive")
		}
		if c.Maker.LossLimit <= 0 {
			return fmt.Errorf("maker.loss_limit must be positive")
		}
		if c.Maker.QuoteOffset < 0 {
			return fmt.Errorf("maker.quote_offset must not be negative")
		}
		if c.Maker.ChaseTolerance <= 0 {
			return fmt.Errorf("maker.chase_tolerance must be positive")
		}
	}
	switch c.Journal.Type {
	case "", "none":
	case "csv":
		if c.Journal.TradesFile == "" {
			return fmt.Errorf("journal.trades_file required for CSV type")
		}
	case "sqlite":
		if c.Journal.DBPath == "" {
			return fmt.Errorf("journal.db_path required for SQLite type")
		}
	default:
		return fmt.Errorf("journal.type must be 'csv', 'sqlite' or 'none'")
	}
	if c.State.Enabled {
		if _, err := c.State.ParseFlushInterval(); err != nil {
			return fmt.Errorf("state.flush_interval: %w", err)
		}
	}
	if c.Metrics.Enabled && c.Metrics.Listen == "" {
		return fmt.Errorf("metrics.listen required when metrics enabled")
	}
	return nil
}

// Default returns a configuration with sensible defaults
func Default() *Config {
	return &Config{
		Symbol: "BTCUSDT",
		Engine: EngineConfig{
			TickInterval: "1s",
			LockTTL:      "10s",
			LogCapacity:  200,
		},
		Trend: TrendConfig{
			Enabled:           true,
			Quantity:          0.002,
			KlinePeriod:       30,
			LossLimit:         10,
			TrailingProfit:    15,
			CallbackRate:      0.5,
			ProfitLockTrigger: 8,
			ProfitLockOffset:  2,
		},
		Maker: MakerConfig{
			Enabled:        false,
			Quantity:       0.002,
			QuoteOffset:    0.5,
			ChaseTolerance: 3,
			LossLimit:      10,
		},
		Exchange: ExchangeConfig{Testnet: true},
		Journal: JournalConfig{
			Type:       "csv",
			TradesFile: "./trades.csv",
		},
		State: StateConfig{
			Enabled:       false,
			Dir:           ".",
			FlushInterval: "1s",
		},
		Metrics: MetricsConfig{
			Enabled: false,
			Listen:  ":9090",
		},
	}
}
