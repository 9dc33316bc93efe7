package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Config holds all configuration for the server, populated from environment
// variables. In development a .env file is loaded first if present.
type Config struct {
	Port int    `env:"PORT" envDefault:"8080"`
	Env  string `env:"ENV" envDefault:"development"`

	DatabaseURL string `env:"DATABASE_URL,required"`
	ValkeyURL   string `env:"VALKEY_URL"`

	JWTSecret string `env:"JWT_SECRET,required"`

	AllowedOrigin string `env:"ALLOWED_ORIGIN" envDefault:"*"`

	// Real-time channel tuning.
	HeartbeatWindow time.Duration `env:"HEARTBEAT_WINDOW" envDefault:"60s"`
	WriteTimeout    time.Duration `env:"WRITE_TIMEOUT" envDefault:"10s"`

	// Ephemeral state.
	TypingTTL      time.Duration `env:"TYPING_TTL" envDefault:"10s"`
	WindowSize     int           `env:"CACHE_WINDOW_SIZE" envDefault:"50"`
	WindowTTL      time.Duration `env:"CACHE_WINDOW_TTL" envDefault:"10m"`
	CacheOpTimeout time.Duration `env:"CACHE_OP_TIMEOUT" envDefault:"250ms"`
}

// Load reads configuration from the environment. A .env file is honored when
// present so local development does not need exported variables.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}
