package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Port           string
	Env            string
	JWTSecret      string
	AllowedOrigins []string
	Backend        BackendConfig
	Desk           DeskConfig
	Redis          RedisConfig
}

// BackendConfig points at the remote POS REST backend.
type BackendConfig struct {
	BaseURL  string
	Token    string
	Timeout  time.Duration
	PageSize int
	MaxPages int
}

type DeskConfig struct {
	EnrichConcurrency int
	RefetchDelay      time.Duration
}

// RedisConfig is optional; an empty Addr disables the Redis event mirror.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	Channel  string
}

func Load() *Config {
	_ = godotenv.Load()

	return &Config{
		Port:      getEnv("PORT", "8082"),
		Env:       getEnv("APP_ENV", "development"),
		JWTSecret: getEnv("JWT_SECRET", "dev-secret-change-in-production"),
		AllowedOrigins: splitAndTrim(getEnv("ALLOWED_ORIGINS",
			"http://localhost:5173,https://admin.nasibakarkiwari.com")),
		Backend: BackendConfig{
			BaseURL:  strings.TrimRight(getEnv("BACKEND_BASE_URL", "http://localhost:8081/api"), "/"),
			Token:    strings.TrimSpace(os.Getenv("BACKEND_TOKEN")),
			Timeout:  getEnvAsMillis("BACKEND_TIMEOUT_MS", 15*time.Second),
			PageSize: getEnvAsInt("BACKEND_PAGE_SIZE", 100),
			MaxPages: getEnvAsInt("BACKEND_MAX_PAGES", 50),
		},
		Desk: DeskConfig{
			EnrichConcurrency: getEnvAsInt("ENRICH_CONCURRENCY", 8),
			RefetchDelay:      getEnvAsMillis("REFETCH_DELAY_MS", 1500*time.Millisecond),
		},
		Redis: RedisConfig{
			Addr:     os.Getenv("REDIS_ADDR"),
			Password: os.Getenv("REDIS_PASSWORD"),
			DB:       getEnvAsInt("REDIS_DB", 0),
			Channel:  getEnv("REDIS_CHANNEL", "order_cancellation_events"),
		},
	}
}

func (c *Config) Address() string {
	return fmt.Sprintf(":%s", c.Port)
}

func (c *Config) Validate() error {
	if c.Backend.BaseURL == "" {
		return errors.New("BACKEND_BASE_URL is required")
	}
	if c.Backend.PageSize <= 0 {
		return errors.New("BACKEND_PAGE_SIZE must be > 0")
	}
	if c.Backend.MaxPages <= 0 {
		return errors.New("BACKEND_MAX_PAGES must be > 0")
	}
	if c.Desk.EnrichConcurrency <= 0 {
		return errors.New("ENRICH_CONCURRENCY must be > 0")
	}
	if c.JWTSecret == "" {
		return errors.New("JWT_SECRET is required")
	}
	return nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	if v, ok := os.LookupEnv(key); ok {
		if i, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvAsMillis(key string, fallback time.Duration) time.Duration {
	if v, ok := os.LookupEnv(key); ok {
		if ms, err := strconv.Atoi(strings.TrimSpace(v)); err == nil && ms >= 0 {
			return time.Duration(ms) * time.Millisecond
		}
	}
	return fallback
}

func splitAndTrim(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if val := strings.TrimSpace(p); val != "" {
			out = append(out, val)
		}
	}
	return out
}
