package app

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/aussiebroadwan/randchat/internal/notice"
	"github.com/aussiebroadwan/randchat/pkg/httpx"
)

type Config struct {
	Domain string // Chat service host[:port] (default: localhost:8000)
	SSL    bool   // Use https/wss instead of http/ws (default: false)
	Secret string // Optional: account secret; a new account is created when empty

	Env         string        // Environment (dev, prod) (default: prod)
	LogLevel    string        // Log level (debug, info, warn, error) (default: info)
	LogFormat   string        // Log format (json, text) (default: json)
	LogFile     string        // Optional: append logs here instead of stderr
	MetricsAddr string        // Optional: serve /metrics on this address
	HTTPTimeout time.Duration // Request/response call timeout (default: 10s)
	NoticeTTL   time.Duration // How long failure notices stay visible (default: 3.5s)

	ShutdownGracePeriod time.Duration // Metrics server shutdown timeout (default: 5s)

	TicketRetry        httpx.RetryConfig
	MessagesRetry      httpx.RetryConfig
	NotificationsRetry httpx.RetryConfig
	SessionRetry       httpx.RetryConfig
}

func LoadConfig() Config {
	return Config{
		Domain:              getEnvOrDefault("CHAT_DOMAIN", "localhost:8000"),
		SSL:                 getEnvBool("CHAT_SSL", false),
		Secret:              os.Getenv("CHAT_SECRET"),
		Env:                 getEnvOrDefault("ENV", "prod"),
		LogLevel:            getEnvOrDefault("LOG_LEVEL", "info"),
		LogFormat:           getEnvOrDefault("LOG_FORMAT", "json"),
		LogFile:             os.Getenv("LOG_FILE"),
		MetricsAddr:         os.Getenv("METRICS_ADDR"),
		HTTPTimeout:         getEnvDurationOrDefault("HTTP_TIMEOUT", 10*time.Second),
		NoticeTTL:           getEnvDurationOrDefault("NOTICE_TTL", notice.DefaultTTL),
		ShutdownGracePeriod: getEnvDurationOrDefault("SHUTDOWN_GRACE_PERIOD", 5*time.Second),
		TicketRetry:         httpx.ParseRetryFromEnv("TICKET", httpx.TicketRetry),
		MessagesRetry:       httpx.ParseRetryFromEnv("MESSAGES", httpx.MessagesRetry),
		NotificationsRetry:  httpx.ParseRetryFromEnv("NOTIFICATIONS", httpx.NotificationsRetry),
		SessionRetry:        httpx.ParseRetryFromEnv("SESSION", httpx.SessionRetry),
	}
}

// BaseURL returns the service root, e.g. "https://chat.example.com".
func (c Config) BaseURL() string {
	scheme := "http"
	if c.SSL {
		scheme = "https"
	}
	domain := strings.TrimSuffix(c.Domain, "/")
	if i := strings.Index(domain, "://"); i >= 0 {
		domain = domain[i+3:]
	}
	return scheme + "://" + domain
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	if b, err := strconv.ParseBool(value); err == nil {
		return b
	}

	return defaultValue
}

func getEnvDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	// Try parsing as duration (e.g., "10s", "3500ms")
	if duration, err := time.ParseDuration(value); err == nil {
		return duration
	}

	// Bare integers are seconds
	if seconds, err := strconv.Atoi(value); err == nil {
		return time.Duration(seconds) * time.Second
	}

	return defaultValue
}
