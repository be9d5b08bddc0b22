// Package config содержит логику чтения конфигурации сервиса голосования.
package config

import (
	"flag"
	"fmt"

	"github.com/caarlos0/env/v11"
)

// Config содержит параметры конфигурации сервиса голосования.
// Секретный ключ шлюза задаётся только переменной окружения и никогда
// не попадает на клиентскую сторону.
type Config struct {
	RunAddress        string `env:"RUN_ADDRESS"`
	DatabaseURI       string `env:"DATABASE_URI"`
	PaystackAddress   string `env:"PAYSTACK_ADDRESS"`
	PaystackSecretKey string `env:"PAYSTACK_SECRET_KEY"`
	FilesBaseURL      string `env:"FILES_BASE_URL"`
	SessionSecret     string `env:"SESSION_SECRET"`
}

// Parse считывает конфигурацию из флагов командной строки и переменных окружения.
func Parse() (*Config, error) {
	cfg := &Config{}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	envRunAddress := cfg.RunAddress
	envDatabaseURI := cfg.DatabaseURI
	envPaystackAddress := cfg.PaystackAddress
	envFilesBaseURL := cfg.FilesBaseURL

	flag.StringVar(&cfg.RunAddress, "a", "localhost:8080", "address and port for HTTP server")
	flag.StringVar(&cfg.DatabaseURI, "d", "", "database URI")
	flag.StringVar(&cfg.PaystackAddress, "p", "https://api.paystack.co", "payment gateway address")
	flag.StringVar(&cfg.FilesBaseURL, "f", "", "base URL for nominee photo files")

	flag.Parse()

	if envRunAddress != "" {
		cfg.RunAddress = envRunAddress
	}
	if envDatabaseURI != "" {
		cfg.DatabaseURI = envDatabaseURI
	}
	if envPaystackAddress != "" {
		cfg.PaystackAddress = envPaystackAddress
	}
	if envFilesBaseURL != "" {
		cfg.FilesBaseURL = envFilesBaseURL
	}

	if cfg.RunAddress == "" {
		cfg.RunAddress = "localhost:8080"
	}

	return cfg, nil
}
