package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

type Config struct {
	Addr string

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	DatabaseURL string

	GracePeriod      time.Duration
	BattleRequestTTL time.Duration
}

// Load reads .env if present, then the environment. Only the database URL is
// mandatory; everything else has a sensible local default.
func Load(logger *zap.Logger) (*Config, error) {
	if err := godotenv.Load(); err != nil {
		logger.Debug("no .env file, using environment only")
	}

	cfg := &Config{
		Addr:             getenv("ADDR", ":8080"),
		RedisAddr:        getenv("REDIS_ADDR", "localhost:6379"),
		RedisPassword:    os.Getenv("REDIS_PASSWORD"),
		DatabaseURL:      os.Getenv("DATABASE_URL"),
		GracePeriod:      5 * time.Second,
		BattleRequestTTL: 30 * time.Second,
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	if v := os.Getenv("REDIS_DB"); v != "" {
		db, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("REDIS_DB: %w", err)
		}
		cfg.RedisDB = db
	}
	if v := os.Getenv("GRACE_PERIOD"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return nil, fmt.Errorf("GRACE_PERIOD: %w", err)
		}
		cfg.GracePeriod = d
	}
	if v := os.Getenv("BATTLE_REQUEST_TTL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return nil, fmt.Errorf("BATTLE_REQUEST_TTL: %w", err)
		}
		cfg.BattleRequestTTL = d
	}
	return cfg, nil
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
