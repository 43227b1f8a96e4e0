package boardsim

import (
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/erauner12/taskboard-sync/internal/auth"
)

// RateLimitInfo configures the per-caller token bucket
type RateLimitInfo struct {
	WindowSeconds int
	MaxRequests   int
	Burst         int
}

// tokenBucket allows Burst requests at once and refills at MaxRequests per window
type tokenBucket struct {
	mu         sync.Mutex
	tokens     float64
	capacity   float64
	refillRate float64 // tokens per second
	lastRefill time.Time
}

func newTokenBucket(capacity int, refillRate float64) *tokenBucket {
	return &tokenBucket{
		tokens:     float64(capacity),
		capacity:   float64(capacity),
		refillRate: refillRate,
		lastRefill: time.Now(),
	}
}

// take consumes a token, or reports how long until the next one
func (tb *tokenBucket) take() (bool, time.Duration) {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	now := time.Now()
	tb.tokens = min(tb.tokens+now.Sub(tb.lastRefill).Seconds()*tb.refillRate, tb.capacity)
	tb.lastRefill = now

	if tb.tokens >= 1.0 {
		tb.tokens -= 1.0
		return true, 0
	}
	wait := time.Duration((1.0 - tb.tokens) / tb.refillRate * float64(time.Second))
	return false, wait
}

type rateLimiter struct {
	cfg RateLimitInfo

	mu      sync.Mutex
	buckets map[string]*tokenBucket
}

func (rl *rateLimiter) bucket(key string) *tokenBucket {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	if b, ok := rl.buckets[key]; ok {
		return b
	}
	// drop idle callers instead of running a cleanup goroutine
	for k, b := range rl.buckets {
		b.mu.Lock()
		idle := time.Since(b.lastRefill) > time.Hour
		b.mu.Unlock()
		if idle {
			delete(rl.buckets, k)
		}
	}
	b := newTokenBucket(rl.cfg.Burst, float64(rl.cfg.MaxRequests)/float64(rl.cfg.WindowSeconds))
	rl.buckets[key] = b
	return b
}

// RateLimitMiddleware answers 429 with Retry-After once a caller's bucket is
// empty. Callers are keyed by JWT subject, or by remote IP without auth.
func RateLimitMiddleware(cfg RateLimitInfo) func(http.Handler) http.Handler {
	if cfg.WindowSeconds <= 0 {
		cfg.WindowSeconds = 60
	}
	if cfg.Burst <= 0 {
		cfg.Burst = max(cfg.MaxRequests, 1)
	}
	limiter := &rateLimiter{cfg: cfg, buckets: make(map[string]*tokenBucket)}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := auth.Subject(r.Context())
			if key == "" {
				key, _, _ = net.SplitHostPort(r.RemoteAddr)
			}

			allowed, wait := limiter.bucket(key).take()
			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(cfg.MaxRequests))
			w.Header().Set("X-RateLimit-Burst", strconv.Itoa(cfg.Burst))
			if allowed {
				next.ServeHTTP(w, r)
				return
			}

			retryAfter := max(int(wait.Seconds()+0.999), 1)
			w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
			log.Ctx(r.Context()).Warn().
				Str("caller", key).
				Str("path", r.URL.Path).
				Int("retryAfter", retryAfter).
				Msg("Rate limit exceeded")
			writeError(w, http.StatusTooManyRequests, "Rate limit exceeded. Please retry after "+strconv.Itoa(retryAfter)+" seconds.")
		})
	}
}
