package fetch

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/pitabwire/concierge/internal/config"
)

const (
	defaultBackoffInitial    = 100 * time.Millisecond
	defaultBackoffMultiplier = 2.0
	defaultBackoffMax        = 2 * time.Second
)

// isRetryableStatus reports statuses worth another attempt for a GET.
func isRetryableStatus(code int) bool {
	switch code {
	case http.StatusTooManyRequests,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	}
	return false
}

// isConnectionError reports dial, DNS and reset failures. Context
// cancellation is never a connection error.
func isConnectionError(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	var netErr *net.OpError
	if errors.As(err, &netErr) {
		return true
	}
	var dnsErr *net.DNSError
	return errors.As(err, &dnsErr)
}

// calculateBackoff returns the delay before the given retry attempt (1-based).
func calculateBackoff(cfg config.RetryConfig, attempt int) time.Duration {
	initial, mult, maxDelay := cfg.BackoffInitial, cfg.BackoffMultiplier, cfg.BackoffMax
	if initial <= 0 {
		initial = defaultBackoffInitial
	}
	if mult <= 0 {
		mult = defaultBackoffMultiplier
	}
	if maxDelay <= 0 {
		maxDelay = defaultBackoffMax
	}

	delay := initial
	for i := 1; i < attempt; i++ {
		delay = time.Duration(float64(delay) * mult)
		if delay >= maxDelay {
			return maxDelay
		}
	}
	return min(delay, maxDelay)
}

// retryDelay prefers the server's Retry-After when it asks for longer than
// the computed backoff, bounded by BackoffMax.
func retryDelay(cfg config.RetryConfig, attempt int, retryAfter string) time.Duration {
	delay := calculateBackoff(cfg, attempt)
	if ra := parseRetryAfter(retryAfter, time.Now()); ra > delay {
		maxDelay := cfg.BackoffMax
		if maxDelay <= 0 {
			maxDelay = defaultBackoffMax
		}
		delay = min(ra, maxDelay)
	}
	return delay
}

// parseRetryAfter interprets Retry-After as delta-seconds or an HTTP-date.
func parseRetryAfter(v string, now time.Time) time.Duration {
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil && secs >= 0 {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := t.Sub(now); d > 0 {
			return d
		}
	}
	return 0
}

// sleep waits for d or until ctx is done.
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
