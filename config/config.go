package config

import (
	"log"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"

	"eldorado/internal/model"
)

// Config holds all application configuration loaded from environment
// variables (optionally seeded from a .env file).
type Config struct {
	// Database
	DatabaseURL string

	// Instance identity
	Droplet string // hostname by default
	Mita    string // instance tag partitioning market ownership

	// Pipeline
	Timeframe   model.Timeframe
	HorizonDays int
	Workers     int

	// Infrastructure
	RedisAddr     string // optional live candle fan-out
	RedisPassword string
	MetricsAddr   string
	ArchiveDir    string
	MigrationsDir string

	// Twilio alerting (optional; alerts are logged when unset)
	TwilioAccountSID string
	TwilioAuthToken  string
	TwilioFrom       string
	TwilioRecipients []string
}

// Load reads configuration from environment variables with sensible
// defaults. A .env file in the working directory is honored when
// present.
func Load() *Config {
	if err := godotenv.Load(); err == nil {
		log.Println("[config] loaded .env")
	}

	tf, err := model.ParseTimeframe(getEnv("TIMEFRAME", "t15"))
	if err != nil {
		log.Fatalf("[config] %v", err)
	}

	hostname, _ := os.Hostname()

	return &Config{
		DatabaseURL: mustEnv("DATABASE_URL"),

		Droplet: getEnv("DROPLET", hostname),
		Mita:    getEnv("MITA", ""),

		Timeframe:   tf,
		HorizonDays: getEnvInt("HORIZON_DAYS", 90),
		Workers:     getEnvInt("WORKERS", 4),

		RedisAddr:     getEnv("REDIS_ADDR", ""),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		MetricsAddr:   getEnv("METRICS_ADDR", ":9090"),
		ArchiveDir:    getEnv("ARCHIVE_DIR", "data/archive"),
		MigrationsDir: getEnv("MIGRATIONS_DIR", "migrations"),

		TwilioAccountSID: getEnv("TWILIO_ACCOUNT_SID", ""),
		TwilioAuthToken:  getEnv("TWILIO_AUTH_TOKEN", ""),
		TwilioFrom:       getEnv("TWILIO_FROM", ""),
		TwilioRecipients: splitList(getEnv("TWILIO_TO", "")),
	}
}

// AlertingConfigured reports whether SMS delivery is fully configured.
func (c *Config) AlertingConfigured() bool {
	return c.TwilioAccountSID != "" && c.TwilioAuthToken != "" &&
		c.TwilioFrom != "" && len(c.TwilioRecipients) > 0
}

func splitList(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func mustEnv(key string) string {
	v := os.Getenv(key)
	if v == "" {
		log.Fatalf("[config] required env var %s not set", key)
	}
	return v
}

func getEnv(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func getEnvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		log.Printf("[config] invalid %s=%q, using %d", key, v, fallback)
		return fallback
	}
	return n
}
