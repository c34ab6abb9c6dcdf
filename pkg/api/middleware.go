package api

import (
	"net"
	"net/http"
	"sync"

	"golang.org/x/time/rate"
)

// Default per-client request budget for the HTTP API
const (
	DefaultRequestsPerSecond = 10
	DefaultBurst             = 20
	maxTrackedClients        = 1024
)

// rateLimiter hands out a token bucket per client address
type rateLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	limit    rate.Limit
	burst    int
}

func newRateLimiter(rps float64, burst int) *rateLimiter {
	return &rateLimiter{
		limiters: make(map[string]*rate.Limiter),
		limit:    rate.Limit(rps),
		burst:    burst,
	}
}

// allow reports whether the client behind r may make another request
func (l *rateLimiter) allow(r *http.Request) bool {
	client := clientIP(r)

	l.mu.Lock()
	limiter, ok := l.limiters[client]
	if !ok {
		// The API is local; a full table means something is scanning it
		if len(l.limiters) >= maxTrackedClients {
			clear(l.limiters)
		}
		limiter = rate.NewLimiter(l.limit, l.burst)
		l.limiters[client] = limiter
	}
	l.mu.Unlock()

	return limiter.Allow()
}

// clientIP is the remote host. Forwarding headers are ignored since the API
// is never behind a proxy.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
