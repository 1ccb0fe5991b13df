package server

import (
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

const limiterCleanupInterval = 5 * time.Minute

// clientKey identifies the caller for rate limiting. Proxies are expected to set
// X-Forwarded-For or X-Real-IP.
func clientKey(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		ips := strings.Split(xff, ",")
		return strings.TrimSpace(ips[0])
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return strings.TrimSpace(xri)
	}
	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return ip
}

// rateLimiter keeps one token bucket per client key
type rateLimiter struct {
	limiters sync.Map // map[string]*rate.Limiter
	requests int
	window   time.Duration
	rate     rate.Limit
	burst    int

	mu          sync.Mutex
	lastCleanup time.Time
}

func newRateLimiter(requests int, window time.Duration, burst int) *rateLimiter {
	if requests <= 0 {
		requests = 1
	}
	if window <= 0 {
		window = time.Minute
	}
	if burst <= 0 {
		burst = requests
	}
	return &rateLimiter{
		requests:    requests,
		window:      window,
		rate:        rate.Limit(float64(requests) / window.Seconds()),
		burst:       burst,
		lastCleanup: time.Now(),
	}
}

func (rl *rateLimiter) getLimiter(key string) *rate.Limiter {
	if limiter, ok := rl.limiters.Load(key); ok {
		return limiter.(*rate.Limiter)
	}
	actual, _ := rl.limiters.LoadOrStore(key, rate.NewLimiter(rl.rate, rl.burst))
	rl.maybeCleanup()
	return actual.(*rate.Limiter)
}

// maybeCleanup drops limiters whose bucket has refilled, i.e. idle clients
func (rl *rateLimiter) maybeCleanup() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	if time.Since(rl.lastCleanup) < limiterCleanupInterval {
		return
	}
	rl.lastCleanup = time.Now()

	rl.limiters.Range(func(key, value any) bool {
		if value.(*rate.Limiter).Tokens() >= float64(rl.burst) {
			rl.limiters.Delete(key)
		}
		return true
	})
}

// allow reports whether the request may proceed and, if not, how many seconds to wait
func (rl *rateLimiter) allow(key string) (bool, int) {
	limiter := rl.getLimiter(key)
	if limiter.Allow() {
		return true, 0
	}
	reservation := limiter.Reserve()
	delay := reservation.Delay()
	reservation.Cancel()
	return false, max(int(delay.Seconds()), 1)
}

func (s *Server) RateLimitMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		key := clientKey(r)
		if key == "" {
			zerolog.Ctx(r.Context()).Warn().Msg("rate limit: unable to extract client key, allowing request")
			next(w, r)
			return
		}

		ok, retryAfter := s.limiter.allow(key)
		if ok {
			next(w, r)
			return
		}

		w.Header().Set("Retry-After", fmt.Sprintf("%d", retryAfter))
		w.Header().Set("X-RateLimit-Limit", fmt.Sprintf("%d", s.limiter.requests))
		w.Header().Set("X-RateLimit-Window", s.limiter.window.String())

		zerolog.Ctx(r.Context()).Warn().
			Str("client", key).
			Str("endpoint", r.URL.Path).
			Int("retry_after", retryAfter).
			Msg("rate limit exceeded")
		s.metrics.rateLimited.WithLabelValues(r.URL.Path).Inc()

		writeJSONError(w, "rate_limit_exceeded", "Too many requests. Please try again later.", http.StatusTooManyRequests)
	}
}
