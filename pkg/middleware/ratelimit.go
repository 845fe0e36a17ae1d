package middleware

import (
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/propnest/propnest-backend/pkg/config"
)

// AuthRateLimiter throttles the verification endpoints per client. Exceeding
// the token bucket locks the client out for LockoutSeconds.
type AuthRateLimiter struct {
	config config.AuthRateLimitConfig
	logger *zap.Logger
	now    func() time.Time

	mu       sync.Mutex
	limiters map[string]*authLimiter

	cleanupInterval time.Duration
	lastCleanup     time.Time
}

// authLimiter tracks rate limiting state for a single client
type authLimiter struct {
	limiter    *rate.Limiter
	lastSeen   time.Time
	lockoutEnd time.Time
}

// NewAuthRateLimiter creates a new rate limiter for auth endpoints
func NewAuthRateLimiter(cfg config.AuthRateLimitConfig, logger *zap.Logger) *AuthRateLimiter {
	cfg.SetDefaults()
	return &AuthRateLimiter{
		config:          cfg,
		logger:          logger.Named("auth-ratelimit"),
		now:             time.Now,
		limiters:        make(map[string]*authLimiter),
		cleanupInterval: time.Duration(cfg.CleanupIntervalSec) * time.Second,
		lastCleanup:     time.Now(),
	}
}

// getLimiter returns the limiter for an identifier, creating it if needed.
// Callers hold r.mu.
func (r *AuthRateLimiter) getLimiter(identifier string, now time.Time) *authLimiter {
	if now.Sub(r.lastCleanup) > r.cleanupInterval {
		r.cleanup(now)
	}

	limiter, exists := r.limiters[identifier]
	if exists {
		limiter.lastSeen = now
		return limiter
	}

	// MaxAttempts per WindowSeconds
	rateLimit := rate.Limit(float64(r.config.MaxAttempts) / float64(r.config.WindowSeconds))
	burst := int(math.Ceil(float64(r.config.MaxAttempts) / 2.0))
	if burst < 1 {
		burst = 1
	}

	limiter = &authLimiter{
		limiter:  rate.NewLimiter(rateLimit, burst),
		lastSeen: now,
	}
	r.limiters[identifier] = limiter
	return limiter
}

// cleanup drops limiters that are idle and not locked out
func (r *AuthRateLimiter) cleanup(now time.Time) {
	idle := time.Duration(r.config.WindowSeconds+r.config.LockoutSeconds) * time.Second
	for key, limiter := range r.limiters {
		if now.Sub(limiter.lastSeen) > idle && now.After(limiter.lockoutEnd) {
			delete(r.limiters, key)
		}
	}
	r.lastCleanup = now
}

// Allow reports whether a request from identifier may proceed. When it may
// not, the remaining lockout is returned.
func (r *AuthRateLimiter) Allow(identifier string) (bool, time.Duration) {
	if !r.config.Enabled {
		return true, 0
	}

	now := r.now()

	r.mu.Lock()
	defer r.mu.Unlock()

	limiter := r.getLimiter(identifier, now)
	if now.Before(limiter.lockoutEnd) {
		return false, limiter.lockoutEnd.Sub(now)
	}

	if !limiter.limiter.AllowN(now, 1) {
		lockout := time.Duration(r.config.LockoutSeconds) * time.Second
		limiter.lockoutEnd = now.Add(lockout)

		r.logger.Warn("Auth rate limit exceeded, applying lockout",
			zap.String("identifier", identifier),
			zap.Duration("lockout_duration", lockout),
		)
		return false, lockout
	}

	return true, 0
}

// Size returns the number of tracked clients.
func (r *AuthRateLimiter) Size() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.limiters)
}

// AuthRateLimitMiddleware rate limits by client IP.
func AuthRateLimitMiddleware(rl *AuthRateLimiter) gin.HandlerFunc {
	return AuthRateLimitMiddlewareWithIdentifier(rl, func(c *gin.Context) string {
		return c.ClientIP()
	})
}

// AuthRateLimitMiddlewareWithIdentifier returns a middleware that uses a custom identifier extractor
func AuthRateLimitMiddlewareWithIdentifier(rl *AuthRateLimiter, extractID func(*gin.Context) string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !rl.config.Enabled {
			c.Next()
			return
		}

		identifier := extractID(c)
		if identifier == "" {
			identifier = "_anonymous"
		}

		if ok, retryAfter := rl.Allow(identifier); !ok {
			c.Header("Retry-After", strconv.Itoa(int(math.Ceil(retryAfter.Seconds()))))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error":   "rate_limit_exceeded",
				"message": "Too many verification requests. Please try again later.",
			})
			return
		}

		c.Next()
	}
}
