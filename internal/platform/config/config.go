package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"audittrail/internal/storage"
)

// Config captures everything the daemon needs from the environment. main
// stays lean: read once, pass down.
type Config struct {
	Addr     string
	LogLevel string

	Backend       storage.Kind
	DatabaseURL   string
	MongoURI      string
	MongoDatabase string
	RedisURL      string

	KafkaBrokers []string
	KafkaTopic   string

	MaskingKey    string
	RequireCipher bool
	RegistryFile  string

	Workers       int
	PollInterval  time.Duration
	LockLease     time.Duration
	MaxAttempts   int
	BatchSize     int
	SentRetention time.Duration
	SnapshotTTL   time.Duration
}

// FromEnv builds the config from environment variables with development
// defaults. Validation of backend connections happens at wiring time, not
// here.
func FromEnv() Config {
	cfg := Config{
		Addr:     getEnv("AUDITD_ADDR", ":8080"),
		LogLevel: getEnv("AUDITD_LOG_LEVEL", "info"),

		Backend:       storage.Kind(getEnv("AUDITD_BACKEND", string(storage.KindMemory))),
		DatabaseURL:   os.Getenv("DATABASE_URL"),
		MongoURI:      os.Getenv("MONGO_URI"),
		MongoDatabase: getEnv("MONGO_DATABASE", "audittrail"),
		RedisURL:      os.Getenv("REDIS_URL"),

		KafkaBrokers: splitList(os.Getenv("KAFKA_BROKERS")),
		KafkaTopic:   getEnv("KAFKA_TOPIC", "audit-events"),

		MaskingKey:    os.Getenv("AUDITD_MASKING_KEY"),
		RequireCipher: os.Getenv("AUDITD_REQUIRE_CIPHER") == "true",
		RegistryFile:  os.Getenv("AUDITD_REGISTRY_FILE"),

		Workers:       getInt("AUDITD_WORKERS", 2),
		PollInterval:  getDuration("AUDITD_POLL_INTERVAL", 5*time.Second),
		LockLease:     getDuration("AUDITD_LOCK_LEASE", 2*time.Minute),
		MaxAttempts:   getInt("AUDITD_MAX_ATTEMPTS", 5),
		BatchSize:     getInt("AUDITD_BATCH_SIZE", 50),
		SentRetention: getDuration("AUDITD_SENT_RETENTION", 7*24*time.Hour),
		SnapshotTTL:   getDuration("AUDITD_SNAPSHOT_TTL", 5*time.Minute),
	}
	// The pipeline needs at least one dispatch worker; the tracker kicks it.
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	return cfg
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getInt(key string, fallback int) int {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return value
}

func getDuration(key string, fallback time.Duration) time.Duration {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	value, err := time.ParseDuration(raw)
	if err != nil {
		return fallback
	}
	return value
}

func splitList(raw string) []string {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
