package worker

import (
	"os"
	"strconv"
	"time"

	"github.com/octopoulo/vote-chess/config"
)

// WorkerConfig holds configuration for a standalone search worker
type WorkerConfig struct {
	// NATS server to take tasks from
	NatsURL string

	// Subject tasks are published on
	Subject string

	// Queue group shared by all workers, so each task goes to one of them
	Queue string

	// Number of concurrent searches in this process
	Threads int

	// Fraction of system memory for the shared transposition table
	TTFraction float64

	// How many times, and how far apart, to try connecting at startup
	ConnectAttempts uint
	ConnectDelay    time.Duration

	Config *config.Config
}

// DefaultWorkerConfig creates a WorkerConfig from cfg, with worker-only
// settings taken from the environment.
func DefaultWorkerConfig(cfg *config.Config) *WorkerConfig {
	url := cfg.GetString(config.ConfigNatsURL)
	if url == "" {
		url = "nats://127.0.0.1:4222"
	}
	return &WorkerConfig{
		NatsURL:         url,
		Subject:         cfg.GetString(config.ConfigNatsSubject),
		Queue:           getEnv("VOTECHESS_WORKER_QUEUE", "searchers"),
		Threads:         cfg.GetInt(config.ConfigThreads),
		TTFraction:      cfg.GetFloat64(config.ConfigTTFractionOfMem),
		ConnectAttempts: uint(getEnvInt("VOTECHESS_WORKER_CONNECT_ATTEMPTS", 10)),
		ConnectDelay:    getEnvDuration("VOTECHESS_WORKER_CONNECT_DELAY", time.Second),
		Config:          cfg,
	}
}

// getEnv gets an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvDuration gets a duration from an environment variable or returns a default
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil && n > 0 {
			return n
		}
	}
	return defaultValue
}
