package security

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

// RateLimiter defines the interface for rate limiting
type RateLimiter interface {
	Allow(ctx context.Context, key string) (*RateLimitResult, error)
	Reset(ctx context.Context, key string) error
	GetLimits(ctx context.Context, key string) (*RateLimitInfo, error)
}

// RateLimitResult contains the result of a rate limit check
type RateLimitResult struct {
	Allowed    bool          `json:"allowed"`
	Remaining  int           `json:"remaining"`
	ResetTime  time.Time     `json:"reset_time"`
	RetryAfter time.Duration `json:"retry_after"`
}

// RateLimitInfo contains current rate limit status
type RateLimitInfo struct {
	Limit     int       `json:"limit"`
	Used      int       `json:"used"`
	Remaining int       `json:"remaining"`
	ResetTime time.Time `json:"reset_time"`
}

// RateLimitConfig holds rate limiting configuration
type RateLimitConfig struct {
	Enabled           bool          `yaml:"enabled"`
	RequestsPerMinute int           `yaml:"requests_per_minute"`
	BurstSize         int           `yaml:"burst_size"`
	WindowDuration    time.Duration `yaml:"window_duration"`
	CleanupInterval   time.Duration `yaml:"cleanup_interval"`
	RedisURL          string        `yaml:"redis_url"`
}

// InMemoryRateLimiter implements rate limiting using a golang.org/x/time/rate
// token bucket per key, rather than a hand-rolled refill counter.
type InMemoryRateLimiter struct {
	config *RateLimitConfig
	logger *logrus.Logger

	// In-memory storage
	limiters map[string]*rate.Limiter
	lastSeen sync.Map // key -> time.Time, last Allow/GetLimits touch
	mutex    sync.RWMutex

	// Cleanup ticker
	cleanupTicker *time.Ticker
	stopCleanup   chan bool
	stopped       bool
}

// NewInMemoryRateLimiter creates a new in-memory rate limiter
func NewInMemoryRateLimiter(config *RateLimitConfig, logger *logrus.Logger) *InMemoryRateLimiter {
	if config.WindowDuration == 0 {
		config.WindowDuration = time.Minute
	}
	if config.CleanupInterval == 0 {
		config.CleanupInterval = 5 * time.Minute
	}
	if config.BurstSize == 0 {
		config.BurstSize = config.RequestsPerMinute
	}

	rl := &InMemoryRateLimiter{
		config:      config,
		logger:      logger,
		limiters:    make(map[string]*rate.Limiter),
		stopCleanup: make(chan bool),
	}

	// Start cleanup goroutine
	rl.startCleanup()

	return rl
}

// ratePerSecond converts the configured per-minute rate into the events/sec
// rate.Limit golang.org/x/time/rate expects.
func (rl *InMemoryRateLimiter) ratePerSecond() rate.Limit {
	return rate.Limit(float64(rl.config.RequestsPerMinute) / 60.0)
}

// Allow checks if a request is allowed under the rate limit
func (rl *InMemoryRateLimiter) Allow(ctx context.Context, key string) (*RateLimitResult, error) {
	if !rl.config.Enabled {
		return &RateLimitResult{
			Allowed:   true,
			Remaining: rl.config.RequestsPerMinute,
			ResetTime: time.Now().Add(rl.config.WindowDuration),
		}, nil
	}

	now := time.Now()
	limiter := rl.getOrCreateLimiter(key)

	if limiter.AllowN(now, 1) {
		return &RateLimitResult{
			Allowed:   true,
			Remaining: int(limiter.TokensAt(now)),
			ResetTime: now.Add(rl.config.WindowDuration),
		}, nil
	}

	// Request denied
	retryAfter := time.Duration(float64(time.Minute) / float64(rl.config.RequestsPerMinute))

	rl.logger.WithFields(logrus.Fields{
		"key":         maskKey(key),
		"retry_after": retryAfter,
	}).Warn("Rate limit exceeded")

	return &RateLimitResult{
		Allowed:    false,
		Remaining:  0,
		ResetTime:  now.Add(retryAfter),
		RetryAfter: retryAfter,
	}, nil
}

// Reset resets the rate limit for a key
func (rl *InMemoryRateLimiter) Reset(ctx context.Context, key string) error {
	rl.mutex.Lock()
	defer rl.mutex.Unlock()

	delete(rl.limiters, key)

	rl.logger.WithField("key", maskKey(key)).Info("Rate limit reset")
	return nil
}

// GetLimits returns current rate limit information for a key
func (rl *InMemoryRateLimiter) GetLimits(ctx context.Context, key string) (*RateLimitInfo, error) {
	limiter := rl.getOrCreateLimiter(key)
	now := time.Now()
	currentTokens := int(limiter.TokensAt(now))

	return &RateLimitInfo{
		Limit:     rl.config.RequestsPerMinute,
		Used:      rl.config.BurstSize - currentTokens,
		Remaining: currentTokens,
		ResetTime: now.Add(rl.config.WindowDuration),
	}, nil
}

// getOrCreateLimiter gets or creates the token bucket for a key, also
// touching its last-seen time so cleanup can evict idle keys.
func (rl *InMemoryRateLimiter) getOrCreateLimiter(key string) *rate.Limiter {
	rl.mutex.Lock()
	defer rl.mutex.Unlock()

	limiter, exists := rl.limiters[key]
	if !exists {
		limiter = rate.NewLimiter(rl.ratePerSecond(), rl.config.BurstSize)
		rl.limiters[key] = limiter
	}
	rl.lastSeen.Store(key, time.Now())

	return limiter
}

// startCleanup starts the cleanup goroutine to remove old buckets
func (rl *InMemoryRateLimiter) startCleanup() {
	rl.cleanupTicker = time.NewTicker(rl.config.CleanupInterval)

	go func() {
		for {
			select {
			case <-rl.cleanupTicker.C:
				rl.cleanup()
			case <-rl.stopCleanup:
				return
			}
		}
	}()
}

// cleanup removes limiters that haven't been used recently
func (rl *InMemoryRateLimiter) cleanup() {
	rl.mutex.Lock()
	defer rl.mutex.Unlock()

	cutoff := time.Now().Add(-2 * rl.config.WindowDuration)

	removed := 0
	for key := range rl.limiters {
		last, ok := rl.lastSeen.Load(key)
		if !ok || last.(time.Time).Before(cutoff) {
			delete(rl.limiters, key)
			rl.lastSeen.Delete(key)
			removed++
		}
	}

	if removed > 0 {
		rl.logger.WithField("removed_buckets", removed).Debug("Rate limit cleanup completed")
	}
}

// Stop stops the rate limiter and cleanup goroutine
func (rl *InMemoryRateLimiter) Stop() {
	rl.mutex.Lock()
	defer rl.mutex.Unlock()
	
	if rl.stopped {
		return
	}
	
	rl.stopped = true
	if rl.cleanupTicker != nil {
		rl.cleanupTicker.Stop()
	}
	close(rl.stopCleanup)
}

// RedisRateLimiter implements rate limiting against a shared Redis instance
// using a fixed-window counter (INCR + EXPIRE NX), so every gateway replica
// enforces the same limit instead of each keeping its own in-memory buckets.
type RedisRateLimiter struct {
	client *redis.Client
	config *RateLimitConfig
	logger *logrus.Logger
}

// NewRedisRateLimiter dials RedisURL and returns a RateLimiter backed by it.
func NewRedisRateLimiter(config *RateLimitConfig, logger *logrus.Logger) (*RedisRateLimiter, error) {
	if config.WindowDuration == 0 {
		config.WindowDuration = time.Minute
	}
	opts, err := redis.ParseURL(config.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("ratelimit: parsing redis_url: %w", err)
	}
	return &RedisRateLimiter{
		client: redis.NewClient(opts),
		config: config,
		logger: logger,
	}, nil
}

func (rl *RedisRateLimiter) windowKey(key string) (string, time.Time) {
	window := time.Now().Truncate(rl.config.WindowDuration)
	return fmt.Sprintf("ratelimit:%s:%d", key, window.Unix()), window.Add(rl.config.WindowDuration)
}

// Allow increments the counter for key's current window, creating it with a
// TTL on first use so abandoned keys expire on their own.
func (rl *RedisRateLimiter) Allow(ctx context.Context, key string) (*RateLimitResult, error) {
	if !rl.config.Enabled {
		return &RateLimitResult{Allowed: true, Remaining: rl.config.RequestsPerMinute, ResetTime: time.Now().Add(rl.config.WindowDuration)}, nil
	}

	redisKey, resetTime := rl.windowKey(key)
	count, err := rl.client.Incr(ctx, redisKey).Result()
	if err != nil {
		return nil, fmt.Errorf("ratelimit: redis incr: %w", err)
	}
	if count == 1 {
		if err := rl.client.Expire(ctx, redisKey, rl.config.WindowDuration).Err(); err != nil {
			return nil, fmt.Errorf("ratelimit: redis expire: %w", err)
		}
	}

	remaining := rl.config.RequestsPerMinute - int(count)
	if remaining < 0 {
		remaining = 0
	}
	if int(count) > rl.config.RequestsPerMinute {
		rl.logger.WithFields(logrus.Fields{"key": maskKey(key), "count": count}).Warn("Rate limit exceeded")
		return &RateLimitResult{Allowed: false, Remaining: 0, ResetTime: resetTime, RetryAfter: time.Until(resetTime)}, nil
	}
	return &RateLimitResult{Allowed: true, Remaining: remaining, ResetTime: resetTime}, nil
}

// Reset deletes key's counter for the current window only. Earlier windows
// would need a key-pattern scan, which is deliberately avoided here to keep
// this O(1) against a shared Redis; they expire through their TTL.
func (rl *RedisRateLimiter) Reset(ctx context.Context, key string) error {
	redisKey, _ := rl.windowKey(key)
	return rl.client.Del(ctx, redisKey).Err()
}

// GetLimits reports the current window's usage for key.
func (rl *RedisRateLimiter) GetLimits(ctx context.Context, key string) (*RateLimitInfo, error) {
	redisKey, resetTime := rl.windowKey(key)
	count, err := rl.client.Get(ctx, redisKey).Int()
	if err != nil && err != redis.Nil {
		return nil, fmt.Errorf("ratelimit: redis get: %w", err)
	}
	remaining := rl.config.RequestsPerMinute - count
	if remaining < 0 {
		remaining = 0
	}
	return &RateLimitInfo{Limit: rl.config.RequestsPerMinute, Used: count, Remaining: remaining, ResetTime: resetTime}, nil
}

// Close releases the underlying Redis connection pool.
func (rl *RedisRateLimiter) Close() error {
	return rl.client.Close()
}

// RateLimitMiddleware creates rate limiting middleware
func RateLimitMiddleware(rateLimiter RateLimiter, keyExtractor func(*http.Request) string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// Extract rate limiting key
			key := keyExtractor(r)
			if key == "" {
				// If no key can be extracted, allow the request
				next.ServeHTTP(w, r)
				return
			}
			
			// Check rate limit
			result, err := rateLimiter.Allow(r.Context(), key)
			if err != nil {
				// A limiter error rejects the request with 500
				http.Error(w, "Rate limiting error", http.StatusInternalServerError)
				return
			}
			
			// Add rate limit headers
			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(result.Remaining+1))
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(result.Remaining))
			w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(result.ResetTime.Unix(), 10))
			
			if !result.Allowed {
				w.Header().Set("Retry-After", strconv.Itoa(int(result.RetryAfter.Seconds())))
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusTooManyRequests)
				
				response := fmt.Sprintf(`{
					"error": {
						"message": "Rate limit exceeded",
						"type": "rate_limit_error",
						"code": 429,
						"retry_after": %d
					},
					"timestamp": %d
				}`, int(result.RetryAfter.Seconds()), time.Now().Unix())
				
				w.Write([]byte(response))
				return
			}
			
			next.ServeHTTP(w, r)
		})
	}
}

// DefaultKeyExtractor extracts rate limiting key from request
func DefaultKeyExtractor(r *http.Request) string {
	// Try to get user ID from auth info
	if authInfo, ok := r.Context().Value("auth_info").(*AuthInfo); ok {
		return "user:" + authInfo.UserID
	}
	
	// Fall back to IP address
	return "ip:" + getClientIPFromRequest(r)
}

// APIKeyExtractor extracts rate limiting key from API key
func APIKeyExtractor(r *http.Request) string {
	token := extractToken(r)
	if token != "" {
		return "key:" + maskKey(token)
	}
	return "ip:" + getClientIPFromRequest(r)
}

// Helper functions

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

func maskKey(key string) string {
	if len(key) <= 8 {
		return "****"
	}
	return key[:4] + "****"
}