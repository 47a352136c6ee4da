// Package config содержит логику чтения конфигурации движка корзины.
package config

import (
	"flag"
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config содержит параметры конфигурации движка корзины.
type Config struct {
	RunAddress       string        `env:"RUN_ADDRESS"`
	DatabaseURI      string        `env:"DATABASE_URI"`
	TierRulesAddress string        `env:"TIER_RULES_ADDRESS"`
	SessionSecret    string        `env:"SESSION_SECRET"`
	AllowBackorder   bool          `env:"ALLOW_BACKORDER" envDefault:"true"`
	MutationTimeout  time.Duration `env:"MUTATION_TIMEOUT" envDefault:"5s"`
}

// Parse считывает конфигурацию из флагов командной строки и переменных окружения.
func Parse() (*Config, error) {
	cfg := &Config{}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	envRunAddress := cfg.RunAddress
	envDatabaseURI := cfg.DatabaseURI
	envTierRulesAddress := cfg.TierRulesAddress
	envSessionSecret := cfg.SessionSecret

	flag.StringVar(&cfg.RunAddress, "a", "localhost:8080", "address and port for HTTP server")
	flag.StringVar(&cfg.DatabaseURI, "d", "", "database URI")
	flag.StringVar(&cfg.TierRulesAddress, "r", "", "tier-rule provider address")
	flag.StringVar(&cfg.SessionSecret, "s", "", "session signing secret")
	flag.BoolVar(&cfg.AllowBackorder, "b", cfg.AllowBackorder, "allow stock to go negative on cart reservation")

	flag.Parse()

	if envRunAddress != "" {
		cfg.RunAddress = envRunAddress
	}
	if envDatabaseURI != "" {
		cfg.DatabaseURI = envDatabaseURI
	}
	if envTierRulesAddress != "" {
		cfg.TierRulesAddress = envTierRulesAddress
	}
	if envSessionSecret != "" {
		cfg.SessionSecret = envSessionSecret
	}

	if cfg.RunAddress == "" {
		cfg.RunAddress = "localhost:8080"
	}
	if cfg.MutationTimeout <= 0 {
		cfg.MutationTimeout = 5 * time.Second
	}

	return cfg, nil
}
