package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Broker kinds accepted by Broker.Kind
const (
	BrokerIBKR   = "ibkr"
	BrokerAlpaca = "alpaca"
	BrokerPaper  = "paper"
)

// Config is the top-level configuration for the notional server.
type Config struct {
	Server  Server  `yaml:"server"`
	Broker  Broker  `yaml:"broker"`
	IB      IB      `yaml:"ib"`
	Alpaca  Alpaca  `yaml:"alpaca"`
	Refresh Refresh `yaml:"refresh"`
	History History `yaml:"history"`
	Logging Logging `yaml:"logging"`
}

// Server holds the HTTP listener configuration.
type Server struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// Broker selects the session backend.
type Broker struct {
	Kind string `yaml:"kind"`
}

// IB holds the default TWS / Gateway endpoint used when /api/connect omits them.
type IB struct {
	Host           string        `yaml:"host"`
	Port           int           `yaml:"port"`
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
}

// Alpaca holds credentials and endpoints for the Alpaca broker API.
type Alpaca struct {
	APIKey    string `yaml:"api_key"`
	APISecret string `yaml:"api_secret"`
	BaseURL   string `yaml:"base_url"`
	DataURL   string `yaml:"data_url"`
}

// Refresh controls loop cadence and broker request pacing.
type Refresh struct {
	PortfolioInterval time.Duration `yaml:"portfolio_interval"`
	OptionsInterval   time.Duration `yaml:"options_interval"`
	StockThrottle     time.Duration `yaml:"stock_throttle"`
	QuoteThrottle     time.Duration `yaml:"quote_throttle"`
	MaxChainLoops     int           `yaml:"max_chain_loops"`
}

// History enables the sqlite snapshot store when DBPath is set. Snapshots
// older than Retention are pruned every CleanupInterval; zero Retention keeps
// everything.
type History struct {
	DBPath          string        `yaml:"db_path"`
	Retention       time.Duration `yaml:"retention"`
	CleanupInterval time.Duration `yaml:"cleanup_interval"`
}

// Logging configures the application logger.
type Logging struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	File   string `yaml:"file"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Server: Server{Host: "0.0.0.0", Port: 5001},
		Broker: Broker{Kind: BrokerIBKR},
		IB: IB{
			Host:           "127.0.0.1",
			Port:           7497,
			ConnectTimeout: 10 * time.Second,
		},
		Alpaca: Alpaca{
			BaseURL: "https://paper-api.alpaca.markets",
			DataURL: "https://data.alpaca.markets",
		},
		Refresh: Refresh{
			PortfolioInterval: 15 * time.Second,
			OptionsInterval:   5 * time.Second,
			StockThrottle:     200 * time.Millisecond,
			QuoteThrottle:     100 * time.Millisecond,
			MaxChainLoops:     8,
		},
		History: History{
			Retention:       30 * 24 * time.Hour,
			CleanupInterval: time.Hour,
		},
		Logging: Logging{Level: "info", Format: "text"},
	}
}

// Load starts from Default, merges the YAML file at path when path is not
// empty, loads a .env file from the working directory if present, and then
// applies environment variable overrides.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// applyEnvOverrides checks well-known environment variables and overrides the
// corresponding configuration fields when they are set.
func applyEnvOverrides(cfg *Config) error {
	if v := os.Getenv("HOST"); v != "" {
		cfg.Server.Host = v
	}
	if v := os.Getenv("PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("PORT: %w", err)
		}
		cfg.Server.Port = port
	}

	if v := os.Getenv("BROKER"); v != "" {
		cfg.Broker.Kind = strings.ToLower(v)
	}

	if v := os.Getenv("IB_HOST"); v != "" {
		cfg.IB.Host = v
	}
	if v := os.Getenv("IB_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("IB_PORT: %w", err)
		}
		cfg.IB.Port = port
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

	if v := os.Getenv("PORTFOLIO_REFRESH"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("PORTFOLIO_REFRESH: %w", err)
		}
		cfg.Refresh.PortfolioInterval = d
	}
	if v := os.Getenv("OPTIONS_REFRESH"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("OPTIONS_REFRESH: %w", err)
		}
		cfg.Refresh.OptionsInterval = d
	}

	if v := os.Getenv("HISTORY_DB_PATH"); v != "" {
		cfg.History.DBPath = v
	}
	if v := os.Getenv("HISTORY_RETENTION"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("HISTORY_RETENTION: %w", err)
		}
		cfg.History.Retention = d
	}

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("LOG_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}
	if v := os.Getenv("LOG_FILE"); v != "" {
		cfg.Logging.File = v
	}

	// Canonical SDK names win over the short ones.
	if v := os.Getenv("APCA_API_KEY_ID"); v != "" {
		cfg.Alpaca.APIKey = v
	}
	if v := os.Getenv("APCA_API_SECRET_KEY"); v != "" {
		cfg.Alpaca.APISecret = v
	}

	return nil
}

// Validate rejects configurations the server cannot run with.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server port %d out of range", c.Server.Port)
	}
	if c.IB.Port <= 0 || c.IB.Port > 65535 {
		return fmt.Errorf("ib port %d out of range", c.IB.Port)
	}

	switch c.Broker.Kind {
	case BrokerIBKR, BrokerPaper:
	case BrokerAlpaca:
		if c.Alpaca.APIKey == "" || c.Alpaca.APISecret == "" {
			return errors.New("alpaca broker requires ALPACA_API_KEY and ALPACA_API_SECRET")
		}
	default:
		return fmt.Errorf("unknown broker kind %q", c.Broker.Kind)
	}

	if c.Refresh.PortfolioInterval <= 0 {
		return errors.New("portfolio refresh interval must be positive")
	}
	if c.Refresh.OptionsInterval <= 0 {
		return errors.New("options refresh interval must be positive")
	}
	if c.Refresh.StockThrottle < 0 || c.Refresh.QuoteThrottle < 0 {
		return errors.New("throttle delays must not be negative")
	}
	if c.Refresh.MaxChainLoops < 0 {
		return errors.New("max chain loops must not be negative")
	}
	if c.History.Retention < 0 {
		return errors.New("history retention must not be negative")
	}
	if c.History.Retention > 0 && c.History.CleanupInterval <= 0 {
		return errors.New("history cleanup interval must be positive when retention is set")
	}

	return nil
}

// Addr returns the HTTP listen address.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}
