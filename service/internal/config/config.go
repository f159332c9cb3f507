// Package config loads server settings from the environment.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

// Config holds every setting the server reads at start-up.
type Config struct {
	Addr     string `env:"CLOISTER_ADDR" envDefault:":8080"`
	LogLevel string `env:"CLOISTER_LOG_LEVEL" envDefault:"info"`
	// OTelEndpoint enables span export over OTLP/HTTP when set.
	OTelEndpoint string `env:"CLOISTER_OTEL_ENDPOINT"`
	// AllowedOrigins are host patterns accepted for cross-origin websocket
	// and HTTP requests. Empty allows same-origin only.
	AllowedOrigins []string `env:"CLOISTER_ALLOWED_ORIGINS" envSeparator:","`

	// SQLitePath is used when PostgresDSN is empty.
	SQLitePath  string `env:"CLOISTER_SQLITE_PATH" envDefault:"cloister.db"`
	PostgresDSN string `env:"CLOISTER_POSTGRES_DSN"`
	// RedisAddr enables the snapshot cache when set.
	RedisAddr     string `env:"CLOISTER_REDIS_ADDR"`
	RedisPassword string `env:"CLOISTER_REDIS_PASSWORD"`
	RedisDB       int    `env:"CLOISTER_REDIS_DB" envDefault:"0"`
	// CacheTTL bounds how long an idle game's snapshot stays cached.
	CacheTTL time.Duration `env:"CLOISTER_CACHE_TTL" envDefault:"24h"`

	JWTSecret string        `env:"CLOISTER_JWT_SECRET,required"`
	TokenTTL  time.Duration `env:"CLOISTER_TOKEN_TTL" envDefault:"12h"`

	// Seed fixes the draw order of every new game; 0 picks a fresh seed per game.
	Seed         uint64        `env:"CLOISTER_SEED" envDefault:"0"`
	TurnDuration time.Duration `env:"CLOISTER_TURN_DURATION" envDefault:"60s"`
	BridgeTokens int           `env:"CLOISTER_BRIDGE_TOKENS" envDefault:"1"`
	Capabilities []string      `env:"CLOISTER_CAPABILITIES" envSeparator:"," envDefault:"bazaar,abbey,hill,bridge"`
}

// Load reads an optional .env file from each path (default ".env") and then
// parses the environment into a Config. Variables already set win over the
// file.
func Load(paths ...string) (Config, error) {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return Config{}, fmt.Errorf("load %s: %w", p, err)
		}
	}
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	return cfg, nil
}

// Level returns the logrus level named by LogLevel, defaulting to info.
func (c Config) Level() logrus.Level {
	lvl, err := logrus.ParseLevel(c.LogLevel)
	if err != nil {
		return logrus.InfoLevel
	}
	return lvl
}
