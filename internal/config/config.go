package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for copyclaw.
type Config struct {
	General    GeneralConfig    `yaml:"general"`
	API        APIConfig        `yaml:"api"`
	Stream     StreamConfig     `yaml:"stream"`
	Postgres   PostgresConfig   `yaml:"postgres"`
	ClickHouse ClickHouseConfig `yaml:"clickhouse"`
	Telegram   TelegramConfig   `yaml:"telegram"`
	Discovery  DiscoveryConfig  `yaml:"discovery"`
	Monitor    MonitorConfig    `yaml:"monitor"`
	Trader     TraderConfig     `yaml:"trader"`
}

type GeneralConfig struct {
	InstanceID  string `yaml:"instance_id"`
	Environment string `yaml:"environment"` // production|staging|development
	LogLevel    string `yaml:"log_level"`
	LogFormat   string `yaml:"log_format"` // json|text
	HTTPAddr    string `yaml:"http_addr"`
}

type APIConfig struct {
	BaseURL           string   `yaml:"base_url"`
	Keys              []string `yaml:"keys"`
	RequestsPerMinute int      `yaml:"requests_per_minute"` // per key
	TimeoutSec        int      `yaml:"timeout_sec"`
	MaxRetries        int      `yaml:"max_retries"`
}

type StreamConfig struct {
	WSURL string `yaml:"ws_url"` // empty disables the push feed
}

type PostgresConfig struct {
	DSN string `yaml:"dsn"`
}

type ClickHouseConfig struct {
	DSN              string `yaml:"dsn"` // empty disables archival
	BatchSize        int    `yaml:"batch_size"`
	FlushIntervalSec int    `yaml:"flush_interval_sec"`
}

type TelegramConfig struct {
	BotToken string `yaml:"bot_token"` // empty disables notifications
	ChatID   int64  `yaml:"chat_id"`
}

type DiscoveryConfig struct {
	IntervalMin   int      `yaml:"interval_min"`
	SeedWallets   []string `yaml:"seed_wallets"`
	MinBalanceSOL float64  `yaml:"min_balance_sol"`
	MinTrades30d  int      `yaml:"min_trades_30d"`
	MinWinRate    float64  `yaml:"min_win_rate"`
	MinTotalROI   float64  `yaml:"min_total_roi"`
}

type MonitorConfig struct {
	PollIntervalSec int     `yaml:"poll_interval_sec"`
	MaxSignalAgeSec int     `yaml:"max_signal_age_sec"`
	MinBuySOL       float64 `yaml:"min_buy_sol"`
	MinLast5WinRate float64 `yaml:"min_last5_win_rate"`
	Concurrency     int     `yaml:"concurrency"`
	QueueMaxPending int     `yaml:"queue_max_pending"`
}

type TraderConfig struct {
	DryRun            bool    `yaml:"dry_run"`
	InitialBalanceSOL float64 `yaml:"initial_balance_sol"`
	MinSourceBES      float64 `yaml:"min_source_bes"`
	MinLiquidityUSD   float64 `yaml:"min_liquidity_usd"`
	MinLast5WinRate   float64 `yaml:"min_last5_win_rate"`
	MaxPositions      int     `yaml:"max_positions"`
	BalanceSpendPct   float64 `yaml:"balance_spend_pct"`
	SignalIntervalSec int     `yaml:"signal_interval_sec"`
	PriceIntervalSec  int     `yaml:"price_interval_sec"`
	ExecTimeoutSec    int     `yaml:"exec_timeout_sec"`
	MaxRetries        int     `yaml:"max_retries"`
	SlippageBps       int     `yaml:"slippage_bps"`
}

// Load reads and parses a YAML configuration file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	// Expand environment variables
	expanded := os.ExpandEnv(string(data))

	cfg := &Config{}
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	applyDefaults(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate rejects configurations that cannot run.
func (c *Config) Validate() error {
	if c.API.BaseURL == "" {
		return fmt.Errorf("config: api.base_url is required")
	}
	if len(c.API.Keys) == 0 {
		return fmt.Errorf("config: at least one api key is required")
	}
	if c.Postgres.DSN == "" {
		return fmt.Errorf("config: postgres.dsn is required")
	}
	if c.Trader.BalanceSpendPct < 0 || c.Trader.BalanceSpendPct > 100 {
		return fmt.Errorf("config: trader.balance_spend_pct must be in [0, 100]")
	}
	return nil
}

func applyDefaults(cfg *Config) {
	if cfg.General.InstanceID == "" {
		cfg.General.InstanceID = "copyclaw-1"
	}
	if cfg.General.Environment == "" {
		cfg.General.Environment = "development"
	}
	if cfg.General.LogLevel == "" {
		cfg.General.LogLevel = "info"
	}
	if cfg.General.LogFormat == "" {
		cfg.General.LogFormat = "json"
	}
	if cfg.General.HTTPAddr == "" {
		cfg.General.HTTPAddr = ":8080"
	}
	if cfg.API.RequestsPerMinute == 0 {
		cfg.API.RequestsPerMinute = 100
	}
	if cfg.API.TimeoutSec == 0 {
		cfg.API.TimeoutSec = 10
	}
	if cfg.API.MaxRetries == 0 {
		cfg.API.MaxRetries = 3
	}
	if cfg.ClickHouse.BatchSize == 0 {
		cfg.ClickHouse.BatchSize = 1000
	}
	if cfg.ClickHouse.FlushIntervalSec == 0 {
		cfg.ClickHouse.FlushIntervalSec = 5
	}
	if cfg.Discovery.IntervalMin == 0 {
		cfg.Discovery.IntervalMin = 60
	}
	if cfg.Discovery.MinBalanceSOL == 0 {
		cfg.Discovery.MinBalanceSOL = 10
	}
	if cfg.Discovery.MinTrades30d == 0 {
		cfg.Discovery.MinTrades30d = 15
	}
	if cfg.Discovery.MinWinRate == 0 {
		cfg.Discovery.MinWinRate = 0.60
	}
	if cfg.Discovery.MinTotalROI == 0 {
		cfg.Discovery.MinTotalROI = 0.50
	}
	if cfg.Monitor.PollIntervalSec == 0 {
		cfg.Monitor.PollIntervalSec = 30
	}
	if cfg.Monitor.MaxSignalAgeSec == 0 {
		cfg.Monitor.MaxSignalAgeSec = 300
	}
	if cfg.Monitor.MinBuySOL == 0 {
		cfg.Monitor.MinBuySOL = 1.5
	}
	if cfg.Monitor.MinLast5WinRate == 0 {
		cfg.Monitor.MinLast5WinRate = 0.60
	}
	if cfg.Monitor.Concurrency == 0 {
		cfg.Monitor.Concurrency = 8
	}
	if cfg.Monitor.QueueMaxPending == 0 {
		cfg.Monitor.QueueMaxPending = 100
	}
	if cfg.Trader.MinSourceBES == 0 {
		cfg.Trader.MinSourceBES = 1000
	}
	if cfg.Trader.MinLiquidityUSD == 0 {
		cfg.Trader.MinLiquidityUSD = 50000
	}
	if cfg.Trader.MinLast5WinRate == 0 {
		cfg.Trader.MinLast5WinRate = 0.80
	}
	if cfg.Trader.MaxPositions == 0 {
		cfg.Trader.MaxPositions = 3
	}
	if cfg.Trader.BalanceSpendPct == 0 {
		cfg.Trader.BalanceSpendPct = 70
	}
	if cfg.Trader.SignalIntervalSec == 0 {
		cfg.Trader.SignalIntervalSec = 2
	}
	if cfg.Trader.PriceIntervalSec == 0 {
		cfg.Trader.PriceIntervalSec = 3
	}
	if cfg.Trader.ExecTimeoutSec == 0 {
		cfg.Trader.ExecTimeoutSec = 15
	}
	if cfg.Trader.MaxRetries == 0 {
		cfg.Trader.MaxRetries = 3
	}
	if cfg.Trader.SlippageBps == 0 {
		cfg.Trader.SlippageBps = 100
	}
}
