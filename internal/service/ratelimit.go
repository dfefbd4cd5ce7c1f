package service

import (
	"errors"
	"sync"

	"golang.org/x/time/rate"
)

// ErrRateLimited is returned when a project exceeds its resolve rate.
var ErrRateLimited = errors.New("rate limit exceeded")

// RateLimiter is a token bucket per project.
type RateLimiter struct {
	limit    rate.Limit
	burst    int
	limiters sync.Map // project id -> *rate.Limiter
}

// NewRateLimiter allows rps resolves per second per project with the given
// burst. It returns nil, meaning unlimited, when rps <= 0.
func NewRateLimiter(rps float64, burst int) *RateLimiter {
	if rps <= 0 {
		return nil
	}
	if burst < 1 {
		burst = max(1, int(rps))
	}
	return &RateLimiter{limit: rate.Limit(rps), burst: burst}
}

// Allow reports whether projectID may resolve now. A nil RateLimiter allows
// everything.
func (l *RateLimiter) Allow(projectID string) bool {
	if l == nil {
		return true
	}
	v, ok := l.limiters.Load(projectID)
	if !ok {
		v, _ = l.limiters.LoadOrStore(projectID, rate.NewLimiter(l.limit, l.burst))
	}
	return v.(*rate.Limiter).Allow()
}
