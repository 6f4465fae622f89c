package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Feed drivers selectable with FEED_DRIVER.
const (
	FeedRedis  = "redis"
	FeedNATS   = "nats"
	FeedMemory = "memory"
)

// Config is the server configuration.
type Config struct {
	DatabaseURL string
	RedisURL    string
	NATSURL     string
	FeedDriver  string
	JWTSecret   string
	ServerAddr  string
	NodeID      int64
	LogLevel    slog.Level
}

// ClientConfig configures a sync client (the CLI chat command). DatabaseURL
// is only set for in-process clients.
type ClientConfig struct {
	ServerURL         string
	GatewayURL        string
	AccessToken       string
	DatabaseURL       string
	UserID            int64
	TypingTimeout     time.Duration
	HeartbeatInterval time.Duration
	LogLevel          slog.Level
}

// LoadEnvFile loads a .env file into the process environment when present.
// Variables already set win over the file.
func LoadEnvFile() {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		slog.Warn("failed to load .env file", "error", err)
	}
}

// Load reads the server configuration from the environment. It panics when a
// required variable is missing.
func Load() *Config {
	cfg := &Config{
		DatabaseURL: os.Getenv("DATABASE_URL"),
		RedisURL:    envOrDefault("REDIS_URL", "redis://localhost:6379"),
		NATSURL:     envOrDefault("NATS_URL", "nats://localhost:4222"),
		FeedDriver:  strings.ToLower(envOrDefault("FEED_DRIVER", FeedRedis)),
		JWTSecret:   os.Getenv("JWT_SECRET"),
		ServerAddr:  envOrDefault("SERVER_ADDR", ":8080"),
		NodeID:      envInt("NODE_ID", 1),
		LogLevel:    parseLogLevel(os.Getenv("LOG_LEVEL")),
	}

	var missing []string
	if cfg.DatabaseURL == "" {
		missing = append(missing, "DATABASE_URL")
	}
	if cfg.JWTSecret == "" {
		missing = append(missing, "JWT_SECRET")
	}
	if len(missing) > 0 {
		panic(fmt.Sprintf("required environment variables not set: %s", strings.Join(missing, ", ")))
	}
	switch cfg.FeedDriver {
	case FeedRedis, FeedNATS, FeedMemory:
	default:
		panic(fmt.Sprintf("FEED_DRIVER must be %q, %q or %q, got %q", FeedRedis, FeedNATS, FeedMemory, cfg.FeedDriver))
	}

	return cfg
}

// LoadClient reads the client configuration from the environment.
func LoadClient() (*ClientConfig, error) {
	cfg := loadClient()
	if cfg.AccessToken == "" {
		return nil, fmt.Errorf("ACCESS_TOKEN is required")
	}
	if cfg.UserID == 0 {
		return nil, fmt.Errorf("USER_ID is required")
	}
	return cfg, nil
}

// LoadLocalClient reads the configuration of a client that runs the
// services in its own process. It needs the database instead of a token.
func LoadLocalClient() (*ClientConfig, error) {
	cfg := loadClient()
	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	if cfg.UserID == 0 {
		return nil, fmt.Errorf("USER_ID is required")
	}
	return cfg, nil
}

func loadClient() *ClientConfig {
	serverURL := strings.TrimRight(envOrDefault("SERVER_URL", "http://localhost:8080"), "/")
	cfg := &ClientConfig{
		ServerURL:         serverURL,
		GatewayURL:        envOrDefault("GATEWAY_URL", gatewayURLFor(serverURL)),
		AccessToken:       os.Getenv("ACCESS_TOKEN"),
		UserID:            envInt("USER_ID", 0),
		TypingTimeout:     envDuration("TYPING_TIMEOUT", 3*time.Second),
		HeartbeatInterval: envDuration("HEARTBEAT_INTERVAL", 30*time.Second),
		LogLevel:          parseLogLevel(os.Getenv("LOG_LEVEL")),
	}
	return cfg
}

func gatewayURLFor(serverURL string) string {
	switch {
	case strings.HasPrefix(serverURL, "https://"):
		return "wss://" + strings.TrimPrefix(serverURL, "https://") + "/gateway"
	case strings.HasPrefix(serverURL, "http://"):
		return "ws://" + strings.TrimPrefix(serverURL, "http://") + "/gateway"
	}
	return serverURL + "/gateway"
}

func parseLogLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int64) int64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		slog.Warn("ignoring invalid integer", "key", key, "value", v)
		return fallback
	}
	return n
}

func envDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		slog.Warn("ignoring invalid duration", "key", key, "value", v)
		return fallback
	}
	return d
}
