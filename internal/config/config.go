// Package config collects the runtime tunables for the pairing and session
// subsystem. Values are read from the environment with sane defaults so the
// server can start from a bare shell or a .env file.
package config

import (
	"os"
	"strconv"
	"time"
)

const (
	// Matchmaking
	DefaultQueueStaleAfter = 60 * time.Second
	DefaultMatchRetryLimit = 3

	// Session
	DefaultSendMinInterval         = 1000 * time.Millisecond
	DefaultViolationLimit          = 3
	DefaultDisconnectAnnounceDelay = 2 * time.Second
	MaxMessageLength               = 500

	// Reaper
	DefaultOrphanSessionAfter = 5 * time.Minute
	DefaultReapInterval       = 30 * time.Second
)

type Config struct {
	Addr          string
	DatabaseURL   string
	RedisAddr     string
	RedisPassword string
	JWTSecret     string
	TelegramToken string
	CORSOrigin    string

	QueueStaleAfter         time.Duration
	MatchRetryLimit         int
	SendMinInterval         time.Duration
	ViolationLimit          int
	DisconnectAnnounceDelay time.Duration
	OrphanSessionAfter      time.Duration
	ReapInterval            time.Duration
}

// Load reads the configuration from the environment. Callers are expected to
// have loaded a .env file first (godotenv in cmd/main.go).
func Load() *Config {
	return &Config{
		Addr:          envString("ADDR", ":8080"),
		DatabaseURL:   envString("DATABASE_URL", "sqlite://emberchat.db"),
		RedisAddr:     os.Getenv("REDIS_ADDR"),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),
		JWTSecret:     envString("JWT_SECRET", "dev-only-secret"),
		TelegramToken: os.Getenv("TELEGRAM_BOT_TOKEN"),
		CORSOrigin:    envString("CORS_ORIGIN", "*"),

		QueueStaleAfter:         envDuration("QUEUE_STALE_AFTER", DefaultQueueStaleAfter),
		MatchRetryLimit:         envInt("MATCH_RETRY_LIMIT", DefaultMatchRetryLimit),
		SendMinInterval:         envDuration("SEND_MIN_INTERVAL", DefaultSendMinInterval),
		ViolationLimit:          envInt("VIOLATION_LIMIT", DefaultViolationLimit),
		DisconnectAnnounceDelay: envDuration("DISCONNECT_ANNOUNCE_DELAY", DefaultDisconnectAnnounceDelay),
		OrphanSessionAfter:      envDuration("ORPHAN_SESSION_AFTER", DefaultOrphanSessionAfter),
		ReapInterval:            envDuration("REAP_INTERVAL", DefaultReapInterval),
	}
}

func envString(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
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

func envInt(key string, fallback int) int {
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
