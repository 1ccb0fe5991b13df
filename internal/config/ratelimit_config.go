package config

import "time"

type RateLimitConfig interface {
	GetRateLimitRequests() int
	GetRateLimitWindow() time.Duration
	GetRateLimitBurst() int
}

type RateLimit struct{}

var _ RateLimitConfig = RateLimit{}

func (RateLimit) GetRateLimitRequests() int {
	return GetEnvInt("RATELIMIT_REQUESTS", 120)
}

func (RateLimit) GetRateLimitWindow() time.Duration {
	return GetEnvSeconds("RATELIMIT_WINDOW_SEC", time.Minute)
}

func (RateLimit) GetRateLimitBurst() int {
	return GetEnvInt("RATELIMIT_BURST", 30)
}
