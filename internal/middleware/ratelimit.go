package middleware

import (
	"strconv"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
	"golang.org/x/time/rate"

	"github.com/freewebtopdf/redirect-resolver/internal/domain"
)

// clientLimiter is the token bucket of one client on one endpoint
type clientLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
	mu       sync.Mutex
}

func (l *clientLimiter) allow(now time.Time) bool {
	l.mu.Lock()
	l.lastSeen = now
	l.mu.Unlock()
	return l.limiter.AllowN(now, 1)
}

func (l *clientLimiter) idle(now time.Time) time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()
	return now.Sub(l.lastSeen)
}

type limit struct {
	rps   float64
	burst int
}

// RateLimiter keeps a token bucket per client and endpoint
type RateLimiter struct {
	limiters map[string]*clientLimiter
	mutex    sync.RWMutex

	defaultLimit   limit
	endpointLimits map[string]limit
	maxIdle        time.Duration
}

// NewRateLimiter creates a limiter allowing rps requests per second with the given burst
func NewRateLimiter(rps float64, burst int) *RateLimiter {
	return &RateLimiter{
		limiters:     make(map[string]*clientLimiter),
		defaultLimit: limit{rps: rps, burst: burst},
		endpointLimits: map[string]limit{
			// Resolution is the hot path; rule edits are rare
			"/v1/resolve": {rps: rps * 2, burst: burst * 2},
		},
		maxIdle: time.Hour,
	}
}

// defaultBucket is the shared bucket key for every path without its own limit
const defaultBucket = "*"

// bucketFor maps a request path to its bucket. Only configured endpoints get
// their own; every other path shares the client's default bucket.
func (rl *RateLimiter) bucketFor(path string) string {
	if _, ok := rl.endpointLimits[path]; ok {
		return path
	}
	return defaultBucket
}

func (rl *RateLimiter) limitFor(endpoint string) limit {
	if l, ok := rl.endpointLimits[endpoint]; ok {
		return l
	}
	return rl.defaultLimit
}

// getLimiter gets or creates the limiter for a client+endpoint combination
func (rl *RateLimiter) getLimiter(clientID, endpoint string) *clientLimiter {
	key := clientID + ":" + endpoint

	rl.mutex.RLock()
	l, exists := rl.limiters[key]
	rl.mutex.RUnlock()

	if exists {
		return l
	}

	rl.mutex.Lock()
	defer rl.mutex.Unlock()

	// Double-check after acquiring write lock
	if l, exists := rl.limiters[key]; exists {
		return l
	}

	lim := rl.limitFor(endpoint)
	l = &clientLimiter{
		limiter:  rate.NewLimiter(rate.Limit(lim.rps), lim.burst),
		lastSeen: time.Now(),
	}
	rl.limiters[key] = l
	return l
}

// getClientID extracts client identifier from request
func (rl *RateLimiter) getClientID(c *fiber.Ctx) string {
	if apiKey := c.Get("X-API-Key"); apiKey != "" {
		return "api:" + apiKey
	}
	return "ip:" + c.IP()
}

// Middleware returns a Fiber middleware for rate limiting
func (rl *RateLimiter) Middleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		clientID := rl.getClientID(c)
		endpoint := rl.bucketFor(c.Path())
		lim := rl.limitFor(endpoint)
		l := rl.getLimiter(clientID, endpoint)

		c.Set("X-RateLimit-Limit", strconv.Itoa(lim.burst))

		if !l.allow(time.Now()) {
			appErr := domain.NewAppError(
				domain.ErrRateLimit,
				"Rate limit exceeded",
				fiber.StatusTooManyRequests,
				map[string]any{
					"endpoint":    c.Path(),
					"retry_after": "1",
				},
			).WithContext(c.Context(), "rate_limit")

			c.Set("Retry-After", "1")
			c.Set("X-RateLimit-Remaining", "0")

			return c.Status(appErr.StatusCode).JSON(map[string]any{
				"status":  "error",
				"code":    appErr.Code,
				"message": appErr.Message,
				"details": appErr.Details,
			})
		}

		remaining := max(int(l.limiter.Tokens()), 0)
		c.Set("X-RateLimit-Remaining", strconv.Itoa(remaining))

		return c.Next()
	}
}

// CleanupOldLimiters removes limiters idle for longer than maxIdle
func (rl *RateLimiter) CleanupOldLimiters() {
	rl.mutex.Lock()
	defer rl.mutex.Unlock()

	now := time.Now()
	for key, l := range rl.limiters {
		if l.idle(now) > rl.maxIdle {
			delete(rl.limiters, key)
		}
	}
}

// StartCleanupRoutine starts a background routine to clean up old limiters
// Returns a stop function to cancel the routine
func (rl *RateLimiter) StartCleanupRoutine() (stop func()) {
	ticker := time.NewTicker(10 * time.Minute)
	done := make(chan struct{})

	go func() {
		for {
			select {
			case <-ticker.C:
				rl.CleanupOldLimiters()
			case <-done:
				ticker.Stop()
				return
			}
		}
	}()

	return func() { close(done) }
}

// GetStats returns rate limiter statistics
func (rl *RateLimiter) GetStats() map[string]any {
	rl.mutex.RLock()
	defer rl.mutex.RUnlock()

	return map[string]any{
		"active_limiters": len(rl.limiters),
		"default_rps":     rl.defaultLimit.rps,
		"default_burst":   rl.defaultLimit.burst,
	}
}
