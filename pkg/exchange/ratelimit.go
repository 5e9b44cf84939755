package exchange

import (
	"log"
	"strconv"
	"sync"
	"time"
)

// RateLimiter tracks the request weight a venue reports back in its
// response headers and logs a warning as usage nears the limit.
// ShouldDelay reports when usage is at or above 90% of the budget; the
// Binance client records usage but does not call ShouldDelay, so no
// request is delayed or throttled.
type RateLimiter struct {
	usedWeight    int
	limit         int
	lastReset     time.Time
	resetInterval time.Duration
	mu            sync.RWMutex
}

// NewRateLimiter creates a limiter for the given weight budget per window.
func NewRateLimiter(limit int, resetInterval time.Duration) *RateLimiter {
	return &RateLimiter{
		limit:         limit,
		resetInterval: resetInterval,
		lastReset:     time.Now(),
	}
}

// UpdateFromHeader updates used weight from a venue response header.
func (rl *RateLimiter) UpdateFromHeader(headerValue string) {
	if headerValue == "" {
		return
	}
	weight, err := strconv.Atoi(headerValue)
	if err != nil {
		return
	}

	rl.mu.Lock()
	defer rl.mu.Unlock()
	if time.Since(rl.lastReset) >= rl.resetInterval {
		rl.usedWeight = 0
		rl.lastReset = time.Now()
	}
	rl.usedWeight = weight

	pct := float64(rl.usedWeight) / float64(rl.limit) * 100
	if pct >= 95 {
		log.Printf("exchange: rate limit critical %d/%d (%.1f%%)", rl.usedWeight, rl.limit, pct)
	} else if pct >= 80 {
		log.Printf("exchange: rate limit warning %d/%d (%.1f%%)", rl.usedWeight, rl.limit, pct)
	}
}

// ShouldDelay reports whether the caller should back off before the next request.
func (rl *RateLimiter) ShouldDelay() bool {
	rl.mu.RLock()
	defer rl.mu.RUnlock()
	if time.Since(rl.lastReset) >= rl.resetInterval {
		return false
	}
	return float64(rl.usedWeight)/float64(rl.limit)*100 >= 90
}
