// Package config содержит логику чтения конфигурации сервиса сверки платежей.
package config

import (
	"flag"
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

const (
	defaultRunAddress    = "localhost:8080"
	defaultBankBaseURL   = "https://ebank.tpb.vn/gateway/api"
	defaultCheckInterval = 60 * time.Second
	defaultBankTimeout   = 30 * time.Second
	defaultWindowDays    = 30
)

// Config содержит параметры конфигурации сервиса.
type Config struct {
	RunAddress        string        `env:"RUN_ADDRESS"`
	DatabaseURI       string        `env:"DATABASE_URI"`
	BankBaseURL       string        `env:"BANK_BASE_URL"`
	EncryptionKey     string        `env:"ENCRYPTION_KEY"`
	JWTSecret         string        `env:"JWT_SECRET"`
	CheckInterval     time.Duration `env:"CHECK_INTERVAL"`
	BankTimeout       time.Duration `env:"BANK_TIMEOUT"`
	HistoryWindowDays int           `env:"HISTORY_WINDOW_DAYS"`
	AllowedOrigins    []string      `env:"ALLOWED_ORIGINS" envSeparator:","`

	// IssueTokenFor задаётся только флагом: вместо запуска сервиса выдать токен администратора.
	IssueTokenFor string `env:"-"`
}

// Parse считывает конфигурацию из флагов командной строки и переменных окружения.
// Значения из окружения имеют приоритет над флагами.
func Parse() (*Config, error) {
	cfg := &Config{}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	envCfg := *cfg

	flag.StringVar(&cfg.RunAddress, "a", defaultRunAddress, "address and port for HTTP server")
	flag.StringVar(&cfg.DatabaseURI, "d", "", "database URI")
	flag.StringVar(&cfg.BankBaseURL, "b", defaultBankBaseURL, "bank gateway base URL")
	flag.StringVar(&cfg.EncryptionKey, "k", "", "key for encrypted settings values")
	flag.StringVar(&cfg.JWTSecret, "s", "", "secret for admin JWT verification")
	flag.DurationVar(&cfg.CheckInterval, "i", defaultCheckInterval, "payment check interval")
	flag.StringVar(&cfg.IssueTokenFor, "t", "", "print an admin JWT for the given operator and exit")

	flag.Parse()

	if envCfg.RunAddress != "" {
		cfg.RunAddress = envCfg.RunAddress
	}
	if envCfg.DatabaseURI != "" {
		cfg.DatabaseURI = envCfg.DatabaseURI
	}
	if envCfg.BankBaseURL != "" {
		cfg.BankBaseURL = envCfg.BankBaseURL
	}
	if envCfg.EncryptionKey != "" {
		cfg.EncryptionKey = envCfg.EncryptionKey
	}
	if envCfg.JWTSecret != "" {
		cfg.JWTSecret = envCfg.JWTSecret
	}
	if envCfg.CheckInterval != 0 {
		cfg.CheckInterval = envCfg.CheckInterval
	}

	cfg.applyDefaults()

	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.RunAddress == "" {
		c.RunAddress = defaultRunAddress
	}
	if c.BankBaseURL == "" {
		c.BankBaseURL = defaultBankBaseURL
	}
	if c.CheckInterval <= 0 {
		c.CheckInterval = defaultCheckInterval
	}
	if c.BankTimeout <= 0 {
		c.BankTimeout = defaultBankTimeout
	}
	if c.HistoryWindowDays <= 0 {
		c.HistoryWindowDays = defaultWindowDays
	}
}
