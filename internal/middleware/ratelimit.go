// ratelimit.go provides Gin middleware that enforces per-client rate limits, returning 429
// responses when a client exceeds its requests-per-minute budget. Limits are kept either
// in process (token bucket) or in Redis (GCRA via redis_rate) so that several replicas
// share one budget per client.
package middleware

import (
	"context"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis_rate/v10"
	"github.com/redis/go-redis/v9"

	"github.com/barangay-registry/civil-registry/internal/api/httputil"
	"github.com/barangay-registry/civil-registry/internal/config"
	"github.com/barangay-registry/civil-registry/internal/telemetry"
)

const (
	defaultCleanupInterval = 5 * time.Minute
	idleEntryTTL           = 10 * time.Minute
)

// Decision is the outcome of one rate limit check
type Decision struct {
	Allowed    bool
	Limit      int
	Remaining  int
	RetryAfter time.Duration
}

// Limiter decides whether a request identified by key may proceed
type Limiter interface {
	Allow(ctx context.Context, key string) (Decision, error)
}

// NewLimiter returns a Redis-backed limiter when client is non-nil and an in-memory one
// otherwise. name prefixes the Redis keys and labels rejections.
func NewLimiter(client *redis.Client, name string, policy config.RateLimitPolicy) Limiter {
	if client != nil {
		return NewRedisLimiter(client, name, policy)
	}
	return NewMemoryLimiter(policy, defaultCleanupInterval)
}

// rateLimitEntry tracks the token bucket of a single client
type rateLimitEntry struct {
	tokens     float64
	lastUpdate time.Time
}

// MemoryLimiter implements a token bucket rate limiter local to this process
type MemoryLimiter struct {
	policy   config.RateLimitPolicy
	entries  map[string]*rateLimitEntry
	mu       sync.Mutex
	stopCh   chan struct{}
	stopOnce sync.Once
	now      func() time.Time
}

// NewMemoryLimiter creates an in-memory limiter and starts its cleanup goroutine
func NewMemoryLimiter(policy config.RateLimitPolicy, cleanupInterval time.Duration) *MemoryLimiter {
	if cleanupInterval <= 0 {
		cleanupInterval = defaultCleanupInterval
	}
	rl := &MemoryLimiter{
		policy:  policy,
		entries: make(map[string]*rateLimitEntry),
		stopCh:  make(chan struct{}),
		now:     time.Now,
	}

	go rl.cleanup(cleanupInterval)

	return rl
}

// cleanup periodically removes idle entries
func (rl *MemoryLimiter) cleanup(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			rl.mu.Lock()
			now := rl.now()
			for key, entry := range rl.entries {
				if now.Sub(entry.lastUpdate) > idleEntryTTL {
					delete(rl.entries, key)
				}
			}
			rl.mu.Unlock()
		case <-rl.stopCh:
			return
		}
	}
}

// Stop stops the cleanup goroutine. It is safe to call more than once.
func (rl *MemoryLimiter) Stop() {
	rl.stopOnce.Do(func() { close(rl.stopCh) })
}

// Allow consumes one token for key when available
func (rl *MemoryLimiter) Allow(_ context.Context, key string) (Decision, error) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	burst := float64(rl.policy.Burst)
	perSecond := float64(rl.policy.RequestsPerMinute) / 60.0
	now := rl.now()

	entry, exists := rl.entries[key]
	if !exists {
		// New client starts with a full burst
		entry = &rateLimitEntry{tokens: burst, lastUpdate: now}
		rl.entries[key] = entry
	} else {
		elapsed := now.Sub(entry.lastUpdate).Seconds()
		entry.tokens = math.Min(burst, entry.tokens+elapsed*perSecond)
		entry.lastUpdate = now
	}

	d := Decision{Limit: rl.policy.RequestsPerMinute}
	if entry.tokens >= 1 {
		entry.tokens--
		d.Allowed = true
		d.Remaining = int(entry.tokens)
		return d, nil
	}

	if perSecond > 0 {
		d.RetryAfter = time.Duration((1 - entry.tokens) / perSecond * float64(time.Second))
	}
	return d, nil
}

// RedisLimiter shares a GCRA budget across replicas through Redis
type RedisLimiter struct {
	limiter *redis_rate.Limiter
	limit   redis_rate.Limit
	prefix  string
}

// NewRedisLimiter creates a limiter whose keys are namespaced by name
func NewRedisLimiter(client *redis.Client, name string, policy config.RateLimitPolicy) *RedisLimiter {
	return &RedisLimiter{
		limiter: redis_rate.NewLimiter(client),
		limit: redis_rate.Limit{
			Rate:   policy.RequestsPerMinute,
			Burst:  policy.Burst,
			Period: time.Minute,
		},
		prefix: "ratelimit:" + name + ":",
	}
}

// Allow consumes one request from the shared budget of key
func (rl *RedisLimiter) Allow(ctx context.Context, key string) (Decision, error) {
	res, err := rl.limiter.Allow(ctx, rl.prefix+key, rl.limit)
	if err != nil {
		return Decision{}, err
	}
	return Decision{
		Allowed:    res.Allowed > 0,
		Limit:      rl.limit.Rate,
		Remaining:  res.Remaining,
		RetryAfter: res.RetryAfter,
	}, nil
}

// RateLimitMiddleware rejects requests over the budget with 429. When the limiter itself
// fails (for example Redis is unreachable) the request is let through and a warning logged.
func RateLimitMiddleware(name string, limiter Limiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := getRateLimitKey(c)

		d, err := limiter.Allow(c.Request.Context(), key)
		if err != nil {
			slog.Warn("rate limiter unavailable, allowing request", "limiter", name, "error", err)
			c.Next()
			return
		}

		c.Header("X-RateLimit-Limit", strconv.Itoa(d.Limit))
		c.Header("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))

		if !d.Allowed {
			retryAfter := int(math.Ceil(d.RetryAfter.Seconds()))
			if retryAfter < 1 {
				retryAfter = 1
			}
			c.Header("Retry-After", strconv.Itoa(retryAfter))
			telemetry.RateLimitRejectionsTotal.WithLabelValues(name).Inc()
			httputil.Fail(c, http.StatusTooManyRequests, "Rate limit exceeded")
			return
		}

		c.Next()
	}
}

// getRateLimitKey prefers the authenticated user and falls back to the client IP
func getRateLimitKey(c *gin.Context) string {
	if id := c.GetString(UserIDKey); id != "" {
		return "user:" + id
	}

	ip := c.ClientIP()
	if ip == "" {
		ip = c.Request.RemoteAddr
	}
	return "ip:" + ip
}
