// Package config loads server and engine configuration from a TOML file.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"
)

// Config is the full server configuration. Every field has a usable
// default; a missing file means "all defaults".
type Config struct {
	Server    Server    `toml:"server"`
	Engine    Engine    `toml:"engine"`
	Scheduler Scheduler `toml:"scheduler"`
}

type Server struct {
	Port   int    `toml:"port"`
	DBPath string `toml:"db_path"`
}

type Engine struct {
	// MaxAttempts bounds the compare-and-swap retry loop.
	MaxAttempts int `toml:"max_attempts"`

	// DefaultCashbackRate applies when a sale carries a total cost but the
	// caller does not set an explicit rate. Fraction, e.g. 0.05 for 5%.
	DefaultCashbackRate float64 `toml:"default_cashback_rate"`

	// Reversal windows in hours, per role.
	BuyerReversalHours  int `toml:"buyer_reversal_hours"`
	SellerReversalHours int `toml:"seller_reversal_hours"`
	AdminReversalHours  int `toml:"admin_reversal_hours"`
}

type Scheduler struct {
	Enabled       bool     `toml:"enabled"`
	CheckInterval duration `toml:"check_interval"`
}

// duration lets TOML carry values like "1h30m".
type duration struct {
	time.Duration
}

func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

func Default() Config {
	return Config{
		Server: Server{Port: 8080, DBPath: "points.db"},
		Engine: Engine{
			MaxAttempts:         5,
			DefaultCashbackRate: 0,
			BuyerReversalHours:  24,
			SellerReversalHours: 72,
			AdminReversalHours:  168,
		},
		Scheduler: Scheduler{Enabled: true, CheckInterval: duration{time.Hour}},
	}
}

// Load reads path over the defaults. An empty path or a missing file
// returns the defaults unchanged.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return cfg, nil
	}
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	if cfg.Server.Port <= 0 {
		return Config{}, fmt.Errorf("invalid port %d", cfg.Server.Port)
	}
	if cfg.Engine.MaxAttempts <= 0 {
		cfg.Engine.MaxAttempts = Default().Engine.MaxAttempts
	}
	return cfg, nil
}

// CheckInterval returns the scheduler tick with a sane floor.
func (s Scheduler) Interval() time.Duration {
	if s.CheckInterval.Duration < time.Minute {
		return time.Hour
	}
	return s.CheckInterval.Duration
}
