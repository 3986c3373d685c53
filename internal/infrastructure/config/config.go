package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

const (
	NetworkTestnet = "testnet"
	NetworkLive    = "live"
)

type Config struct {
	App struct {
		Network                  string  `toml:"network" yaml:"network"`
		PollIntervalSeconds      int     `toml:"poll_interval_seconds" yaml:"poll_interval_seconds"`
		ReconcileIntervalSeconds int     `toml:"reconcile_interval_seconds" yaml:"reconcile_interval_seconds"`
		StopFile                 string  `toml:"stop_file" yaml:"stop_file"`
		SimulationEquity         float64 `toml:"simulation_equity" yaml:"simulation_equity"`
	} `toml:"app" yaml:"app"`

	Log struct {
		Level  string `toml:"level" yaml:"level"`
		Format string `toml:"format" yaml:"format"` // console | json
	} `toml:"log" yaml:"log"`

	State struct {
		Path               string `toml:"path" yaml:"path"`
		Backups            int    `toml:"backups" yaml:"backups"`
		LockTimeoutSeconds int    `toml:"lock_timeout_seconds" yaml:"lock_timeout_seconds"`
	} `toml:"state" yaml:"state"`

	Risk struct {
		MaxDailyTrades   int     `toml:"max_daily_trades" yaml:"max_daily_trades"`
		MaxDrawdownPct   float64 `toml:"max_drawdown_pct" yaml:"max_drawdown_pct"`
		BaseRiskPct      float64 `toml:"base_risk_pct" yaml:"base_risk_pct"`
		MaxPositionPct   float64 `toml:"max_position_pct" yaml:"max_position_pct"`
		MinConfidence    int     `toml:"min_confidence" yaml:"min_confidence"`
		MaxOpenPositions int     `toml:"max_open_positions" yaml:"max_open_positions"`
		MinIncrement     float64 `toml:"min_increment" yaml:"min_increment"`
		LossThreshold    int     `toml:"loss_threshold" yaml:"loss_threshold"`
		LossFactor       float64 `toml:"loss_factor" yaml:"loss_factor"`
		WinThreshold     int     `toml:"win_threshold" yaml:"win_threshold"`
		WinFactor        float64 `toml:"win_factor" yaml:"win_factor"`
		// SymbolCooldownSeconds 同一交易对两次开仓的最小间隔，0 表示不限制
		SymbolCooldownSeconds int `toml:"symbol_cooldown_seconds" yaml:"symbol_cooldown_seconds"`
	} `toml:"risk" yaml:"risk"`

	Retry struct {
		MaxAttempts    int     `toml:"max_attempts" yaml:"max_attempts"`
		InitialDelayMs int     `toml:"initial_delay_ms" yaml:"initial_delay_ms"`
		MaxDelayMs     int     `toml:"max_delay_ms" yaml:"max_delay_ms"`
		Multiplier     float64 `toml:"multiplier" yaml:"multiplier"`
		TimeoutSeconds int     `toml:"timeout_seconds" yaml:"timeout_seconds"`
	} `toml:"retry" yaml:"retry"`

	Exchange struct {
		Kind             string  `toml:"kind" yaml:"kind"` // binance | paper
		RestURL          string  `toml:"rest_url" yaml:"rest_url"`
		WsURL            string  `toml:"ws_url" yaml:"ws_url"`
		APIKey           string  `toml:"api_key" yaml:"api_key"`
		APISecret        string  `toml:"api_secret" yaml:"api_secret"`
		LimitPriceOffset float64 `toml:"limit_price_offset" yaml:"limit_price_offset"`
		TickSize         float64 `toml:"tick_size" yaml:"tick_size"`
	} `toml:"exchange" yaml:"exchange"`

	Symbols struct {
		List []string `toml:"list" yaml:"list"`
	} `toml:"symbols" yaml:"symbols"`

	Signals struct {
		Kind   string `toml:"kind" yaml:"kind"` // redis | file
		Stream string `toml:"stream" yaml:"stream"`
		File   string `toml:"file" yaml:"file"`
	} `toml:"signals" yaml:"signals"`

	Storage struct {
		SQLite struct {
			Enabled bool   `toml:"enabled" yaml:"enabled"`
			Path    string `toml:"path" yaml:"path"`
		} `toml:"sqlite" yaml:"sqlite"`

		Postgres struct {
			Enabled bool   `toml:"enabled" yaml:"enabled"`
			DSN     string `toml:"dsn" yaml:"dsn"`
		} `toml:"postgres" yaml:"postgres"`

		Redis struct {
			Enabled       bool   `toml:"enabled" yaml:"enabled"`
			Addr          string `toml:"addr" yaml:"addr"`
			Password      string `toml:"password" yaml:"password"`
			DB            int    `toml:"db" yaml:"db"`
			Prefix        string `toml:"prefix" yaml:"prefix"`
			TTLSeconds    int    `toml:"ttl_seconds" yaml:"ttl_seconds"`
			EventsChannel string `toml:"events_channel" yaml:"events_channel"`
		} `toml:"redis" yaml:"redis"`
	} `toml:"storage" yaml:"storage"`

	Control struct {
		Addr string `toml:"addr" yaml:"addr"`
	} `toml:"control" yaml:"control"`
}

// Load 读取配置文件，.yaml/.yml 走 yaml 解析，其余按 toml 处理
func Load(path string) (*Config, error) {
	var cfg Config
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return nil, fmt.Errorf("parse yaml config: %w", err)
		}
	default:
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return nil, err
		}
	}
	applyEnv(&cfg)
	applyDefaults(&cfg)
	if err := validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default 返回全部使用默认值的配置（paper 模式）
// RealFunds 实盘网络上的 binance 账户，启动前需要人工确认
func (c *Config) RealFunds() bool {
	return c.App.Network == NetworkLive && c.Exchange.Kind == "binance"
}

func Default() *Config {
	var cfg Config
	applyDefaults(&cfg)
	return &cfg
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("TRADEGUARD_API_KEY"); v != "" {
		cfg.Exchange.APIKey = v
	}
	if v := os.Getenv("TRADEGUARD_API_SECRET"); v != "" {
		cfg.Exchange.APISecret = v
	}
	if v := os.Getenv("TRADEGUARD_NETWORK"); v != "" {
		cfg.App.Network = v
	}
}

func applyDefaults(cfg *Config) {
	cfg.App.Network = strings.ToLower(strings.TrimSpace(cfg.App.Network))
	if cfg.App.Network == "" {
		cfg.App.Network = NetworkTestnet
	}
	if cfg.App.PollIntervalSeconds <= 0 {
		cfg.App.PollIntervalSeconds = 60
	}
	if cfg.App.StopFile == "" {
		cfg.App.StopFile = "data/tradeguard.stop"
	}
	if cfg.App.SimulationEquity <= 0 {
		cfg.App.SimulationEquity = 10000
	}

	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "console"
	}

	if cfg.State.Path == "" {
		cfg.State.Path = "data/trading_state.json"
	}
	if cfg.State.Backups <= 0 {
		cfg.State.Backups = 5
	}
	if cfg.State.LockTimeoutSeconds <= 0 {
		cfg.State.LockTimeoutSeconds = 10
	}

	r := &cfg.Risk
	if r.MaxDailyTrades <= 0 {
		r.MaxDailyTrades = 50
	}
	if r.MaxDrawdownPct <= 0 {
		r.MaxDrawdownPct = 0.20
	}
	if r.BaseRiskPct <= 0 {
		r.BaseRiskPct = 0.02
	}
	if r.MaxPositionPct <= 0 {
		r.MaxPositionPct = 0.05
	}
	if r.MinConfidence <= 0 {
		r.MinConfidence = 50
	}
	if r.MaxOpenPositions <= 0 {
		r.MaxOpenPositions = 3
	}
	if r.MinIncrement <= 0 {
		r.MinIncrement = 0.001
	}
	if r.LossThreshold <= 0 {
		r.LossThreshold = 3
	}
	if r.LossFactor <= 0 {
		r.LossFactor = 0.5
	}
	if r.WinThreshold <= 0 {
		r.WinThreshold = 3
	}
	if r.WinFactor <= 0 {
		r.WinFactor = 0.75
	}

	if cfg.Retry.MaxAttempts <= 0 {
		cfg.Retry.MaxAttempts = 3
	}
	if cfg.Retry.InitialDelayMs <= 0 {
		cfg.Retry.InitialDelayMs = 500
	}
	if cfg.Retry.MaxDelayMs <= 0 {
		cfg.Retry.MaxDelayMs = 5000
	}
	if cfg.Retry.Multiplier <= 1 {
		cfg.Retry.Multiplier = 2
	}
	if cfg.Retry.TimeoutSeconds <= 0 {
		cfg.Retry.TimeoutSeconds = 10
	}

	cfg.Exchange.Kind = strings.ToLower(strings.TrimSpace(cfg.Exchange.Kind))
	if cfg.Exchange.Kind == "" {
		cfg.Exchange.Kind = "paper"
	}
	if cfg.Exchange.RestURL == "" {
		if cfg.App.Network == NetworkLive {
			cfg.Exchange.RestURL = "https://fapi.binance.com"
		} else {
			cfg.Exchange.RestURL = "https://testnet.binancefuture.com"
		}
	}
	if cfg.Exchange.WsURL == "" {
		if cfg.App.Network == NetworkLive {
			cfg.Exchange.WsURL = "wss://fstream.binance.com"
		} else {
			cfg.Exchange.WsURL = "wss://stream.binancefuture.com"
		}
	}
	if cfg.Exchange.LimitPriceOffset <= 0 {
		cfg.Exchange.LimitPriceOffset = 0.001
	}
	if cfg.Exchange.TickSize <= 0 {
		cfg.Exchange.TickSize = 0.01
	}

	if cfg.Signals.Kind == "" {
		cfg.Signals.Kind = "file"
	}
	if cfg.Signals.Stream == "" {
		cfg.Signals.Stream = "tradeguard:signals"
	}
	if cfg.Signals.File == "" {
		cfg.Signals.File = "data/signals.jsonl"
	}

	if cfg.Storage.SQLite.Path == "" {
		cfg.Storage.SQLite.Path = "data/tradeguard.db"
	}
	if cfg.Storage.Redis.Addr == "" {
		cfg.Storage.Redis.Addr = "127.0.0.1:6379"
	}
	if cfg.Storage.Redis.Prefix == "" {
		cfg.Storage.Redis.Prefix = "tradeguard"
	}
	if cfg.Storage.Redis.TTLSeconds <= 0 {
		cfg.Storage.Redis.TTLSeconds = 300
	}
	if cfg.Storage.Redis.EventsChannel == "" {
		cfg.Storage.Redis.EventsChannel = "tradeguard:events"
	}
}

func validate(cfg *Config) error {
	if cfg.App.Network != NetworkTestnet && cfg.App.Network != NetworkLive {
		return fmt.Errorf("app.network must be testnet or live, got %q", cfg.App.Network)
	}
	if cfg.Risk.MaxDrawdownPct >= 1 {
		return errors.New("risk.max_drawdown_pct must be below 1")
	}
	if cfg.Risk.MaxPositionPct > 0.1 {
		return errors.New("risk.max_position_pct must not exceed 0.1")
	}
	if cfg.Risk.BaseRiskPct > 0.05 {
		return errors.New("risk.base_risk_pct must not exceed 0.05")
	}
	if cfg.Risk.MinConfidence < 0 || cfg.Risk.MinConfidence > 100 {
		return errors.New("risk.min_confidence must be within 0..100")
	}
	if cfg.Retry.MaxAttempts > 3 {
		return errors.New("retry.max_attempts must not exceed 3")
	}

	switch cfg.Exchange.Kind {
	case "paper":
	case "binance":
		if strings.TrimSpace(cfg.Exchange.APIKey) == "" || strings.TrimSpace(cfg.Exchange.APISecret) == "" {
			return errors.New("exchange.api_key/api_secret empty but binance enabled")
		}
	default:
		return fmt.Errorf("exchange.kind %q not supported", cfg.Exchange.Kind)
	}

	switch cfg.Signals.Kind {
	case "file":
	case "redis":
		if !cfg.Storage.Redis.Enabled {
			return errors.New("signals.kind is redis but storage.redis is disabled")
		}
	default:
		return fmt.Errorf("signals.kind %q not supported", cfg.Signals.Kind)
	}

	if cfg.Storage.Postgres.Enabled && strings.TrimSpace(cfg.Storage.Postgres.DSN) == "" {
		return errors.New("storage.postgres.dsn empty but enabled")
	}

	cfg.Symbols.List = normalizeSymbols(cfg.Symbols.List)
	return nil
}

func normalizeSymbols(in []string) []string {
	out := make([]string, 0, len(in))
	seen := map[string]struct{}{}
	for _, s := range in {
		u := strings.ToUpper(strings.TrimSpace(s))
		if u == "" {
			continue
		}
		if _, ok := seen[u]; ok {
			continue
		}
		seen[u] = struct{}{}
		out = append(out, u)
	}
	return out
}
