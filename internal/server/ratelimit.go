package server

import (
	"net/http"
	"sync"

	"github.com/labstack/echo/v4"
	"golang.org/x/time/rate"
)

// rateLimiter keeps one token bucket per client IP.
type rateLimiter struct {
	mu     sync.Mutex
	bucket map[string]*rate.Limiter
	rate   rate.Limit
	burst  int
}

func newRateLimiter(r rate.Limit, burst int) *rateLimiter {
	return &rateLimiter{
		bucket: make(map[string]*rate.Limiter),
		rate:   r,
		burst:  burst,
	}
}

func (r *rateLimiter) limiterFor(ip string) *rate.Limiter {
	r.mu.Lock()
	defer r.mu.Unlock()

	l, ok := r.bucket[ip]
	if !ok {
		l = rate.NewLimiter(r.rate, r.burst)
		r.bucket[ip] = l
	}
	return l
}

// middleware rejects requests once a client's bucket is empty.
func (r *rateLimiter) middleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		if !r.limiterFor(c.RealIP()).Allow() {
			return c.JSON(http.StatusTooManyRequests, errorBody{
				Error:   "too_many_requests",
				Message: "slow down",
			})
		}
		return next(c)
	}
}
