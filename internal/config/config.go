package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Broker       BrokerConfig       `yaml:"broker"`
	DeepSeek     DeepSeekConfig     `yaml:"deepseek"`
	Trading      TradingConfig      `yaml:"trading"`
	Risk         RiskConfig         `yaml:"risk"`
	Verification VerificationConfig `yaml:"verification"`
	Backtest     BacktestConfig     `yaml:"backtest"`
	Telegram     TelegramConfig     `yaml:"telegram"`
	Web          WebConfig          `yaml:"web"`
	Logging      LoggingConfig      `yaml:"logging"`
}

type BrokerConfig struct {
	Token             string `yaml:"token"`
	Sandbox           bool   `yaml:"sandbox"`
	AccountID         string `yaml:"account_id"`
	ReconnectAttempts int    `yaml:"reconnect_attempts"`
	ReconnectBackoff  string `yaml:"reconnect_backoff"`
}

type DeepSeekConfig struct {
	APIKey         string `yaml:"api_key"`
	Model          string `yaml:"model"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

type TradingConfig struct {
	RunnerInterval string `yaml:"runner_interval"`
	HistoryBars    int    `yaml:"history_bars"`
}

type RiskConfig struct {
	MaxDailyLoss       float64 `yaml:"max_daily_loss"`
	MaxOpenContracts   int64   `yaml:"max_open_contracts"`
	MaxOrdersPerMinute int     `yaml:"max_orders_per_minute"`
	DisableStopLoss    bool    `yaml:"disable_stop_loss"`
	DisableTakeProfit  bool    `yaml:"disable_take_profit"`
}

type VerificationConfig struct {
	MaxAttempts         int `yaml:"max_attempts"`
	SimulationBars      int `yaml:"simulation_bars"`
	MinSimulationBars   int `yaml:"min_simulation_bars"`
	StageTimeoutSeconds int `yaml:"stage_timeout_seconds"`
}

type BacktestConfig struct {
	InitialCapital float64 `yaml:"initial_capital"`
	MaxBars        int     `yaml:"max_bars"`
}

type TelegramConfig struct {
	Enabled  bool   `yaml:"enabled"`
	BotToken string `yaml:"bot_token"`
	ChatID   int64  `yaml:"chat_id"`
}

type WebConfig struct {
	Port int `yaml:"port"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // "text" or "json"
}

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	setDefaults(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return cfg, nil
}

func setDefaults(cfg *Config) {
	if cfg.Broker.ReconnectAttempts == 0 {
		cfg.Broker.ReconnectAttempts = 5
	}
	if cfg.Broker.ReconnectBackoff == "" {
		cfg.Broker.ReconnectBackoff = "5s"
	}
	if cfg.DeepSeek.Model == "" {
		cfg.DeepSeek.Model = "deepseek-chat"
	}
	if cfg.DeepSeek.TimeoutSeconds == 0 {
		cfg.DeepSeek.TimeoutSeconds = 120
	}
	if cfg.Trading.RunnerInterval == "" {
		cfg.Trading.RunnerInterval = "60s"
	}
	if cfg.Trading.HistoryBars == 0 {
		cfg.Trading.HistoryBars = 100
	}
	if cfg.Risk.MaxDailyLoss == 0 {
		cfg.Risk.MaxDailyLoss = 50000
	}
	if cfg.Risk.MaxOpenContracts == 0 {
		cfg.Risk.MaxOpenContracts = 10
	}
	if cfg.Risk.MaxOrdersPerMinute == 0 {
		cfg.Risk.MaxOrdersPerMinute = 5
	}
	if cfg.Verification.MaxAttempts == 0 {
		cfg.Verification.MaxAttempts = 3
	}
	if cfg.Verification.SimulationBars == 0 {
		cfg.Verification.SimulationBars = 100
	}
	if cfg.Verification.MinSimulationBars == 0 {
		cfg.Verification.MinSimulationBars = 30
	}
	if cfg.Verification.StageTimeoutSeconds == 0 {
		cfg.Verification.StageTimeoutSeconds = 180
	}
	if cfg.Backtest.InitialCapital == 0 {
		cfg.Backtest.InitialCapital = 1_000_000
	}
	if cfg.Backtest.MaxBars == 0 {
		cfg.Backtest.MaxBars = 10000
	}
	if cfg.Web.Port == 0 {
		cfg.Web.Port = 8080
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "text"
	}
}

func (c *Config) Validate() error {
	if c.Broker.Token == "" {
		return fmt.Errorf("broker.token is required")
	}
	if c.DeepSeek.APIKey == "" {
		return fmt.Errorf("deepseek.api_key is required")
	}
	if _, err := time.ParseDuration(c.Trading.RunnerInterval); err != nil {
		return fmt.Errorf("invalid trading.runner_interval %q: %w", c.Trading.RunnerInterval, err)
	}
	if _, err := time.ParseDuration(c.Broker.ReconnectBackoff); err != nil {
		return fmt.Errorf("invalid broker.reconnect_backoff %q: %w", c.Broker.ReconnectBackoff, err)
	}
	if c.Telegram.Enabled {
		if c.Telegram.BotToken == "" {
			return fmt.Errorf("telegram.bot_token is required when telegram is enabled")
		}
		if c.Telegram.ChatID == 0 {
			return fmt.Errorf("telegram.chat_id is required when telegram is enabled")
		}
	}
	return nil
}

func (c *Config) IsSandbox() bool {
	return c.Broker.Sandbox
}

func (c *Config) RunnerInterval() time.Duration {
	d, _ := time.ParseDuration(c.Trading.RunnerInterval)
	return d
}

func (c *Config) ReconnectBackoff() time.Duration {
	d, _ := time.ParseDuration(c.Broker.ReconnectBackoff)
	return d
}

func (c *Config) DeepSeekTimeout() time.Duration {
	return time.Duration(c.DeepSeek.TimeoutSeconds) * time.Second
}

func (c *Config) StageTimeout() time.Duration {
	return time.Duration(c.Verification.StageTimeoutSeconds) * time.Second
}
