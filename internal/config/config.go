// Package config содержит логику чтения конфигурации сервиса баллов.
package config

import (
	"flag"
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

const (
	defaultRunAddress       = "localhost:8080"
	defaultPointsTTL        = 365 * 24 * time.Hour
	defaultArchiveRetention = 90 * 24 * time.Hour
	defaultCleanupInterval  = 24 * time.Hour
)

// Config содержит параметры конфигурации сервиса баллов.
type Config struct {
	RunAddress       string        `env:"RUN_ADDRESS"`
	DatabaseURI      string        `env:"DATABASE_URI"`
	AuthSecret       string        `env:"AUTH_SECRET"`
	AdminLogin       string        `env:"ADMIN_LOGIN"`
	AdminPassword    string        `env:"ADMIN_PASSWORD"`
	PointsTTL        time.Duration `env:"POINTS_TTL"`
	ArchiveRetention time.Duration `env:"ARCHIVE_RETENTION"`
	CleanupInterval  time.Duration `env:"CLEANUP_INTERVAL"`
}

// Parse считывает конфигурацию из флагов командной строки и переменных окружения.
// Переменные окружения имеют приоритет над флагами.
func Parse() (*Config, error) {
	cfg := &Config{}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	envRunAddress := cfg.RunAddress
	envDatabaseURI := cfg.DatabaseURI
	envAuthSecret := cfg.AuthSecret
	envPointsTTL := cfg.PointsTTL
	envArchiveRetention := cfg.ArchiveRetention
	envCleanupInterval := cfg.CleanupInterval

	flag.StringVar(&cfg.RunAddress, "a", defaultRunAddress, "address and port for HTTP server")
	flag.StringVar(&cfg.DatabaseURI, "d", "", "database URI")
	flag.StringVar(&cfg.AuthSecret, "s", "", "secret key for auth cookies")
	flag.DurationVar(&cfg.PointsTTL, "t", defaultPointsTTL, "lifetime of approved point accruals")
	flag.DurationVar(&cfg.ArchiveRetention, "p", defaultArchiveRetention, "retention period for archive entries")
	flag.DurationVar(&cfg.CleanupInterval, "i", defaultCleanupInterval, "interval between archive cleanup runs")

	flag.Parse()

	if envRunAddress != "" {
		cfg.RunAddress = envRunAddress
	}
	if envDatabaseURI != "" {
		cfg.DatabaseURI = envDatabaseURI
	}
	if envAuthSecret != "" {
		cfg.AuthSecret = envAuthSecret
	}
	if envPointsTTL != 0 {
		cfg.PointsTTL = envPointsTTL
	}
	if envArchiveRetention != 0 {
		cfg.ArchiveRetention = envArchiveRetention
	}
	if envCleanupInterval != 0 {
		cfg.CleanupInterval = envCleanupInterval
	}

	if cfg.RunAddress == "" {
		cfg.RunAddress = defaultRunAddress
	}
	if cfg.PointsTTL <= 0 {
		cfg.PointsTTL = defaultPointsTTL
	}
	if cfg.ArchiveRetention <= 0 {
		cfg.ArchiveRetention = defaultArchiveRetention
	}
	if cfg.CleanupInterval <= 0 {
		cfg.CleanupInterval = defaultCleanupInterval
	}

	return cfg, nil
}
