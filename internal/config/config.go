package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config is the full engine configuration, loaded once at startup and
// passed into constructors. Nothing reads the environment after Load.
type Config struct {
	HTTPAddr string

	// Redis (fast-path counter, membership sets, issue queue)
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// Issuance behaviour
	AsyncEnabled       bool
	SkipDBFinalize     bool
	SkipDuplicateCheck bool
	DrainBatchSize     int
	DrainDelay         time.Duration

	LogLevel string
}

func Load() *Config {
	_ = godotenv.Load()

	return &Config{
		HTTPAddr: envStr("HTTP_ADDR", ":8080"),

		RedisAddr:     envStr("REDIS_ADDR", "localhost:6379"),
		RedisPassword: envStr("REDIS_PASSWORD", ""),
		RedisDB:       envInt("REDIS_DB", 0),

		AsyncEnabled:       envBool("ASYNC_ENABLED", true),
		SkipDBFinalize:     envBool("SKIP_DB_FINALIZE", false),
		SkipDuplicateCheck: envBool("SKIP_DUPLICATE_CHECK", false),
		DrainBatchSize:     envInt("ASYNC_BATCH_SIZE", 200),
		DrainDelay:         time.Duration(envInt("ASYNC_DELAY_MS", 200)) * time.Millisecond,

		LogLevel: envStr("LOG_LEVEL", "info"),
	}
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}
