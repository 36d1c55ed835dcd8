package ratelimit

import (
	"sync"

	"golang.org/x/time/rate"
)

// Limiter keeps one token bucket per client key
type Limiter struct {
	limiters        map[string]*rate.Limiter
	mu              sync.Mutex
	rate            rate.Limit
	burst           int
	requestsPerHour int
}

// NewLimiter allows requestsPerHour per key with bursts of up to burst
func NewLimiter(requestsPerHour int, burst int) *Limiter {
	return &Limiter{
		limiters:        make(map[string]*rate.Limiter),
		rate:            rate.Limit(float64(requestsPerHour) / 3600.0),
		burst:           burst,
		requestsPerHour: requestsPerHour,
	}
}

// get returns the bucket for key, creating it full
func (l *Limiter) get(key string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	limiter, exists := l.limiters[key]
	if !exists {
		limiter = rate.NewLimiter(l.rate, l.burst)
		l.limiters[key] = limiter
	}
	return limiter
}

// Allow consumes a token for key if one is available
func (l *Limiter) Allow(key string) bool {
	return l.get(key).Allow()
}

// Tokens returns what is left in key's bucket
func (l *Limiter) Tokens(key string) float64 {
	return l.get(key).Tokens()
}

func (l *Limiter) RequestsPerHour() int {
	return l.requestsPerHour
}
