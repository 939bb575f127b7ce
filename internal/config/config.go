// Package config loads the static simulation configuration: the tradable
// asset table, starting cash, tick period, history length, and volatility.
// Values come from compiled-in defaults, overridden by an optional YAML file,
// overridden by environment variables for deployment-level settings.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/papersim/trade-engine/internal/price"
)

// AssetSpec declares one tradable asset.
type AssetSpec struct {
	ID            string  `yaml:"id"`
	Name          string  `yaml:"name"`
	Icon          string  `yaml:"icon"`
	StartingPrice float64 `yaml:"starting_price"`
}

// Config is the full engine configuration.
type Config struct {
	Port          string            `yaml:"port"`
	StartingCash  float64           `yaml:"starting_cash"`
	TickPeriodMs  int               `yaml:"tick_period_ms"`
	HistoryLength int               `yaml:"history_length"`
	Volatility    float64           `yaml:"volatility"`
	PriceFloor    float64           `yaml:"price_floor"`
	Assets        []AssetSpec       `yaml:"assets"`
	Tokens        map[string]string `yaml:"tokens"` // API token → account ID
}

// Default returns the reference configuration.
func Default() Config {
	return Config{
		Port:          "8080",
		StartingCash:  10000,
		TickPeriodMs:  1500,
		HistoryLength: 50,
		Volatility:    0.02,
		PriceFloor:    0.01,
		Assets: []AssetSpec{
			{ID: "GOLD", Name: "Gold", Icon: "🪙", StartingPrice: 1850.00},
			{ID: "SLVR", Name: "Silver", Icon: "🥈", StartingPrice: 23.50},
			{ID: "OIL", Name: "Crude Oil", Icon: "🛢️", StartingPrice: 78.25},
			{ID: "WHET", Name: "Wheat", Icon: "🌾", StartingPrice: 6.40},
			{ID: "CORN", Name: "Corn", Icon: "🌽", StartingPrice: 4.85},
		},
	}
}

// Load builds the configuration: defaults, then the YAML file at path (if
// non-empty), then environment overrides (PORT).
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}

	if port := os.Getenv("PORT"); port != "" {
		cfg.Port = port
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	if c.TickPeriodMs <= 0 {
		return fmt.Errorf("config: tick_period_ms must be positive, got %d", c.TickPeriodMs)
	}
	if c.HistoryLength <= 0 {
		return fmt.Errorf("config: history_length must be positive, got %d", c.HistoryLength)
	}
	if c.Volatility <= 0 || c.Volatility >= 1 {
		return fmt.Errorf("config: volatility must be in (0, 1), got %g", c.Volatility)
	}
	if c.StartingCash < 0 {
		return fmt.Errorf("config: starting_cash must be non-negative, got %g", c.StartingCash)
	}
	if len(c.Assets) == 0 {
		return fmt.Errorf("config: at least one asset is required")
	}
	seen := make(map[string]bool, len(c.Assets))
	for _, a := range c.Assets {
		if a.ID == "" {
			return fmt.Errorf("config: asset with empty id")
		}
		if seen[a.ID] {
			return fmt.Errorf("config: duplicate asset id %q", a.ID)
		}
		seen[a.ID] = true
		if a.StartingPrice <= 0 {
			return fmt.Errorf("config: asset %s starting_price must be positive, got %g", a.ID, a.StartingPrice)
		}
	}
	return nil
}

// TickPeriod returns the tick period as a duration.
func (c Config) TickPeriod() time.Duration {
	return time.Duration(c.TickPeriodMs) * time.Millisecond
}

// StartingCashAmount returns the starting cash as a decimal.
func (c Config) StartingCashAmount() decimal.Decimal {
	return decimal.NewFromFloat(c.StartingCash).Round(2)
}

// PriceConfig returns the price engine configuration.
func (c Config) PriceConfig() price.Config {
	return price.Config{
		Volatility:    c.Volatility,
		Floor:         decimal.NewFromFloat(c.PriceFloor).Round(2),
		HistoryLength: c.HistoryLength,
	}
}

// PriceSpecs returns the asset seed list for the price engine.
func (c Config) PriceSpecs() []price.Spec {
	specs := make([]price.Spec, 0, len(c.Assets))
	for _, a := range c.Assets {
		specs = append(specs, price.Spec{
			ID:            a.ID,
			Name:          a.Name,
			Icon:          a.Icon,
			StartingPrice: decimal.NewFromFloat(a.StartingPrice).Round(2),
		})
	}
	return specs
}
