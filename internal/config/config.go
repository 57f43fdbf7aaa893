// Package config loads process configuration from the environment.
package config

import (
	"fmt"

	"github.com/caarlos0/env/v10"
	"github.com/joho/godotenv"
)

type Config struct {
	Port        string `env:"PORT" envDefault:"8080"`
	MetricsPort string `env:"METRICS_PORT" envDefault:"9090"`

	RedisAddr   string `env:"REDIS_ADDR" envDefault:"localhost:6379"`
	PostgresDSN string `env:"POSTGRES_DSN,required,notEmpty"`

	GroqAPIKey  string `env:"GROQ_API_KEY"`
	GroqBaseURL string `env:"GROQ_BASE_URL"`
	GroqModel   string `env:"GROQ_MODEL"`

	// Pre-shared "token=owner" pairs for the static identity verifier.
	APITokens string `env:"API_TOKENS"`

	AllowedOrigin string `env:"ALLOWED_ORIGIN" envDefault:"*"`
	Production    bool   `env:"PRODUCTION" envDefault:"false"`

	WorkerCount int    `env:"WORKER_COUNT" envDefault:"5"`
	BrowserPath string `env:"BROWSER_PATH"`

	EmailAPIKey  string `env:"EMAIL_API_KEY"`
	FromAddress  string `env:"FROM_ADDRESS"`
	AlertAddress string `env:"ALERT_ADDRESS"`
}

// Load reads an optional .env file, then the environment.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse configuration: %w", err)
	}
	if cfg.WorkerCount <= 0 {
		return nil, fmt.Errorf("WORKER_COUNT must be positive, got %d", cfg.WorkerCount)
	}
	return cfg, nil
}
