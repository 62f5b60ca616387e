/*
Package config loads runtime configuration from environment variables,
with an optional .env file for local development.

Every value has a working default so the server starts with no
environment at all (in-memory-ish SQLite file, no broker, dev logging).
*/
package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration.
type Config struct {
	Environment string
	Port        int

	// DBPath is the SQLite database path; ":memory:" for ephemeral.
	DBPath string

	// AMQPURL enables the AMQP notification sink when non-empty.
	AMQPURL string

	// MaxHorizonDays bounds availability queries.
	MaxHorizonDays int

	// LockTimeout bounds waiting on per-resource and per-account locks.
	LockTimeout time.Duration

	// JournalInterval is the background journal/statement worker cadence.
	// Zero disables the worker.
	JournalInterval time.Duration
}

// Load loads configuration from environment variables and .env file.
func Load() Config {
	_ = godotenv.Load()

	return Config{
		Environment:     getenv("ENVIRONMENT", "development"),
		Port:            getenvInt("PORT", 8080),
		DBPath:          getenv("DATABASE_PATH", "facility.db"),
		AMQPURL:         getenv("AMQP_URL", ""),
		MaxHorizonDays:  getenvInt("MAX_HORIZON_DAYS", 366),
		LockTimeout:     getenvDuration("LOCK_TIMEOUT", 3*time.Second),
		JournalInterval: getenvDuration("JOURNAL_INTERVAL", 0),
	}
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getenvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func getenvDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}
