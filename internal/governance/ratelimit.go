package governance

import (
	"context"
	"net/http"
	"strconv"
	"sync"
	"time"
)

// RateLimiterConfig defines the fixed-window quota applied per client key.
type RateLimiterConfig struct {
	Requests int
	Window   time.Duration
}

// DefaultRateLimiterConfig is the proxy's stock quota: 3 requests per client
// per 60-second window.
func DefaultRateLimiterConfig() RateLimiterConfig {
	return RateLimiterConfig{Requests: 3, Window: 60 * time.Second}
}

// RateLimiter implements fixed-window rate limiting per client key. State is
// process-local; a multi-instance deployment needs a shared counter store to
// enforce a global quota.
type RateLimiter struct {
	mu      sync.Mutex
	config  RateLimiterConfig
	windows map[string]*clientWindow
	now     func() time.Time
}

// clientWindow tracks one client's count within its current window.
type clientWindow struct {
	start time.Time
	count int
}

// NewRateLimiter creates a rate limiter with the provided configuration.
// Zero or negative values fall back to the defaults.
func NewRateLimiter(config RateLimiterConfig) *RateLimiter {
	defaults := DefaultRateLimiterConfig()
	if config.Requests <= 0 {
		config.Requests = defaults.Requests
	}
	if config.Window <= 0 {
		config.Window = defaults.Window
	}
	return &RateLimiter{
		config:  config,
		windows: make(map[string]*clientWindow),
		now:     time.Now,
	}
}

// Allow checks whether a request from the given client key should proceed,
// incrementing the client's counter when it does. The check and increment
// happen under one lock so concurrent requests cannot both sneak under the
// limit.
func (rl *RateLimiter) Allow(key string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	w, ok := rl.windows[key]
	if !ok || now.Sub(w.start) >= rl.config.Window {
		rl.windows[key] = &clientWindow{start: now, count: 1}
		return true
	}

	if w.count >= rl.config.Requests {
		return false
	}
	w.count++
	return true
}

// AllowContext checks if a request is allowed, with context cancellation support.
func (rl *RateLimiter) AllowContext(ctx context.Context, key string) bool {
	select {
	case <-ctx.Done():
		return false
	default:
	}
	return rl.Allow(key)
}

// Remaining reports how many requests the client key has left in its current
// window and when the window resets.
func (rl *RateLimiter) Remaining(key string) (int, time.Time) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	w, ok := rl.windows[key]
	if !ok || now.Sub(w.start) >= rl.config.Window {
		return rl.config.Requests, now.Add(rl.config.Window)
	}

	remaining := rl.config.Requests - w.count
	if remaining < 0 {
		remaining = 0
	}
	return remaining, w.start.Add(rl.config.Window)
}

// RateLimitStats exposes current state for one client key.
type RateLimitStats struct {
	Limit       int    `json:"limit"`
	Count       int    `json:"count"`
	WindowStart string `json:"windowStart"`
}

// Stats returns current rate limit statistics for all active client keys.
// Expired windows are pruned as a side effect.
func (rl *RateLimiter) Stats() map[string]RateLimitStats {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	stats := make(map[string]RateLimitStats, len(rl.windows))
	for key, w := range rl.windows {
		if now.Sub(w.start) >= rl.config.Window {
			delete(rl.windows, key)
			continue
		}
		stats[key] = RateLimitStats{
			Limit:       rl.config.Requests,
			Count:       w.count,
			WindowStart: w.start.Format(time.RFC3339),
		}
	}
	return stats
}

// Config returns the limiter's quota configuration.
func (rl *RateLimiter) Config() RateLimiterConfig {
	return rl.config
}

// WriteRateLimitHeaders adds rate limit status headers to the response.
func WriteRateLimitHeaders(w http.ResponseWriter, limit, remaining int, resetTime time.Time) {
	w.Header().Set("X-RateLimit-Limit", strconv.Itoa(limit))
	w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
	w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(resetTime.Unix(), 10))
}
