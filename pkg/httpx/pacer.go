package httpx

import (
	"context"
	"os"
	"strconv"
	"time"

	"golang.org/x/time/rate"
)

// RetryConfig defines how quickly a background loop may retry a failing
// call. It is the client-side twin of a server rate limit: the token
// bucket bounds retries instead of inbound requests.
type RetryConfig struct {
	// RequestsPerWindow is the number of attempts allowed in the time window
	RequestsPerWindow int
	// Window is the time window for pacing
	Window time.Duration
	// Burst allows for immediate retries before pacing kicks in
	Burst int
}

// Default retry profiles for the long-lived loops.
// Override with: RETRY_{PREFIX}_REQUESTS, RETRY_{PREFIX}_WINDOW_SEC, RETRY_{PREFIX}_BURST
var (
	// TicketRetry paces ticket long-poll failures.
	TicketRetry = RetryConfig{
		RequestsPerWindow: 30,
		Window:            time.Minute,
		Burst:             3,
	}

	// MessagesRetry paces message channel reconnects.
	MessagesRetry = RetryConfig{
		RequestsPerWindow: 20,
		Window:            time.Minute,
		Burst:             2,
	}

	// NotificationsRetry paces notification stream reconnects.
	NotificationsRetry = RetryConfig{
		RequestsPerWindow: 20,
		Window:            time.Minute,
		Burst:             2,
	}

	// SessionRetry paces login, thread listing and chat restarts.
	SessionRetry = RetryConfig{
		RequestsPerWindow: 12,
		Window:            time.Minute,
		Burst:             2,
	}
)

// ParseRetryFromEnv reads retry pacing from environment variables.
// Environment variables follow the pattern: RETRY_{prefix}_{field}
// For example: RETRY_TICKET_REQUESTS, RETRY_TICKET_WINDOW_SEC, RETRY_TICKET_BURST
func ParseRetryFromEnv(prefix string, defaultConfig RetryConfig) RetryConfig {
	config := defaultConfig

	if val := os.Getenv("RETRY_" + prefix + "_REQUESTS"); val != "" {
		if requests, err := strconv.Atoi(val); err == nil && requests > 0 {
			config.RequestsPerWindow = requests
		}
	}

	if val := os.Getenv("RETRY_" + prefix + "_WINDOW_SEC"); val != "" {
		if windowSec, err := strconv.Atoi(val); err == nil && windowSec > 0 {
			config.Window = time.Duration(windowSec) * time.Second
		}
	}

	if val := os.Getenv("RETRY_" + prefix + "_BURST"); val != "" {
		if burst, err := strconv.Atoi(val); err == nil && burst > 0 {
			config.Burst = burst
		}
	}

	return config
}

// Limit converts the config into a token bucket rate.
func (c RetryConfig) Limit() rate.Limit {
	if c.RequestsPerWindow <= 0 || c.Window <= 0 {
		return rate.Inf
	}
	return rate.Limit(float64(c.RequestsPerWindow) / c.Window.Seconds())
}

// Pacer blocks retry loops so a dead server is not hammered. A nil *Pacer
// never waits.
type Pacer struct {
	limiter *rate.Limiter
}

// NewPacer returns a pacer for config.
func NewPacer(config RetryConfig) *Pacer {
	burst := max(config.Burst, 1)
	return &Pacer{limiter: rate.NewLimiter(config.Limit(), burst)}
}

// Wait blocks until the next attempt is allowed or ctx is done.
func (p *Pacer) Wait(ctx context.Context) error {
	if p == nil {
		return ctx.Err()
	}
	return p.limiter.Wait(ctx)
}
