// Package config provides the runtime defaults, environment overrides and
// validation for the relay server.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// RateLimitConfig defines the parameters for per-connection frame rate limiting.
type RateLimitConfig struct {
	Burst          int
	RefillInterval time.Duration
}

// Config holds the server configuration.
type Config struct {
	Env      string
	LogLevel string

	// TCPAddr is where the frame protocol is served.
	TCPAddr string
	// HTTPAddr serves health, metrics and the WebSocket transport. Empty disables it.
	HTTPAddr       string
	AllowedOrigins []string

	MaxClients int

	StoreBackend string
	UsersFile    string
	ChatLogFile  string
	SQLitePath   string

	HistorySendDelay time.Duration
	ReadPollInterval time.Duration
	WriteTimeout     time.Duration
	ShutdownTimeout  time.Duration

	RateLimit RateLimitConfig
}

func defaultConfig() Config {
	return Config{
		Env:      "development",
		LogLevel: "info",
		TCPAddr:  ":8888",
		HTTPAddr: ":8080",
		AllowedOrigins: []string{
			"http://localhost:8080",
		},
		MaxClients:       10,
		StoreBackend:     "file",
		UsersFile:        "users.txt",
		ChatLogFile:      "chatlog.txt",
		SQLitePath:       "./data/chat.db",
		HistorySendDelay: 10 * time.Millisecond,
		ReadPollInterval: time.Second,
		WriteTimeout:     10 * time.Second,
		ShutdownTimeout:  5 * time.Second,
		RateLimit: RateLimitConfig{
			Burst:          20,
			RefillInterval: time.Second,
		},
	}
}

// Sanitize replaces invalid or missing values with defaults.
func (c Config) Sanitize() Config {
	def := defaultConfig()

	if c.Env == "" {
		c.Env = def.Env
	}
	if c.LogLevel == "" {
		c.LogLevel = def.LogLevel
	}
	if c.TCPAddr == "" {
		c.TCPAddr = def.TCPAddr
	}
	if c.MaxClients <= 0 {
		c.MaxClients = def.MaxClients
	}
	if c.StoreBackend == "" {
		c.StoreBackend = def.StoreBackend
	}
	if c.UsersFile == "" {
		c.UsersFile = def.UsersFile
	}
	if c.ChatLogFile == "" {
		c.ChatLogFile = def.ChatLogFile
	}
	if c.SQLitePath == "" {
		c.SQLitePath = def.SQLitePath
	}
	if c.HistorySendDelay < 0 {
		c.HistorySendDelay = def.HistorySendDelay
	}
	if c.ReadPollInterval <= 0 {
		c.ReadPollInterval = def.ReadPollInterval
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = def.WriteTimeout
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = def.ShutdownTimeout
	}
	if c.RateLimit.Burst <= 0 {
		c.RateLimit.Burst = def.RateLimit.Burst
	}
	if c.RateLimit.RefillInterval <= 0 {
		c.RateLimit.RefillInterval = def.RateLimit.RefillInterval
	}
	c.AllowedOrigins = append([]string(nil), c.AllowedOrigins...)
	return c
}

// IsDevelopment returns true if running in development mode.
func (c Config) IsDevelopment() bool {
	return c.Env == "development"
}

// NewConfig creates a Config instance populated with default values for all settings.
func NewConfig() *Config {
	cfg := defaultConfig()
	return &cfg
}

// Load reads a .env file if one is present and then builds the configuration
// from the environment.
func Load() *Config {
	_ = godotenv.Load()
	return NewConfigFromEnv()
}

// NewConfigFromEnv creates a Config instance from environment variables.
// Falls back to default values if environment variables are not set.
func NewConfigFromEnv() *Config {
	cfg := defaultConfig()

	cfg.Env = getEnv("ENV", cfg.Env)
	cfg.LogLevel = getEnv("LOG_LEVEL", cfg.LogLevel)

	// SERVER_PORT accepts a bare port number.
	if port := os.Getenv("SERVER_PORT"); port != "" {
		cfg.TCPAddr = normalizeAddr(port)
	}
	if addr := os.Getenv("TCP_ADDR"); addr != "" {
		cfg.TCPAddr = normalizeAddr(addr)
	}
	if addr, ok := os.LookupEnv("HTTP_ADDR"); ok {
		cfg.HTTPAddr = normalizeAddr(addr)
	}

	if origins := os.Getenv("ALLOWED_ORIGINS"); origins != "" {
		cfg.AllowedOrigins = parseOrigins(origins)
	}

	if v := os.Getenv("MAX_CLIENTS"); v != "" {
		cfg.MaxClients = parseIntValue(v, cfg.MaxClients)
	}

	cfg.StoreBackend = getEnv("STORE_BACKEND", cfg.StoreBackend)
	cfg.UsersFile = getEnv("USERS_FILE", cfg.UsersFile)
	cfg.ChatLogFile = getEnv("CHATLOG_FILE", cfg.ChatLogFile)
	cfg.SQLitePath = getEnv("SQLITE_PATH", cfg.SQLitePath)

	if v := os.Getenv("HISTORY_SEND_DELAY_MS"); v != "" {
		if ms, err := strconv.Atoi(v); err == nil && ms >= 0 {
			cfg.HistorySendDelay = time.Duration(ms) * time.Millisecond
		}
	}
	if v := os.Getenv("READ_POLL_INTERVAL_MS"); v != "" {
		cfg.ReadPollInterval = parseMillis(v, cfg.ReadPollInterval)
	}
	if v := os.Getenv("WRITE_TIMEOUT_SECONDS"); v != "" {
		cfg.WriteTimeout = parseSeconds(v, cfg.WriteTimeout)
	}
	if v := os.Getenv("SHUTDOWN_TIMEOUT_SECONDS"); v != "" {
		cfg.ShutdownTimeout = parseSeconds(v, cfg.ShutdownTimeout)
	}

	if burst := os.Getenv("RATE_LIMIT_BURST"); burst != "" {
		cfg.RateLimit.Burst = parseIntValue(burst, cfg.RateLimit.Burst)
	}
	if interval := os.Getenv("RATE_LIMIT_REFILL_INTERVAL"); interval != "" {
		cfg.RateLimit.RefillInterval = parseSeconds(interval, cfg.RateLimit.RefillInterval)
	}

	return &cfg
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func normalizeAddr(addr string) string {
	addr = strings.TrimSpace(addr)
	if addr == "" || strings.Contains(addr, ":") {
		return addr
	}
	return ":" + addr
}

func parseOrigins(origins string) []string {
	parts := strings.Split(origins, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}

func parseIntValue(value string, defaultValue int) int {
	if parsed, err := strconv.Atoi(value); err == nil && parsed > 0 {
		return parsed
	}
	return defaultValue
}

func parseSeconds(value string, defaultValue time.Duration) time.Duration {
	if seconds, err := strconv.Atoi(value); err == nil && seconds > 0 {
		return time.Duration(seconds) * time.Second
	}
	return defaultValue
}

func parseMillis(value string, defaultValue time.Duration) time.Duration {
	if ms, err := strconv.Atoi(value); err == nil && ms > 0 {
		return time.Duration(ms) * time.Millisecond
	}
	return defaultValue
}
