package api

import (
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// staleClientAfter is how long an idle client keeps its limiter state.
const staleClientAfter = 3 * time.Minute

type client struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// clientLimiter applies a per-client token bucket. Stale clients are swept
// inline on the next request after a minute, so no background goroutine is
// needed. A non-positive per-minute limit disables limiting.
type clientLimiter struct {
	mu        sync.Mutex
	perMin    int
	burst     int
	clients   map[string]*client
	lastSweep time.Time
}

func newClientLimiter(perMin, burst int) *clientLimiter {
	if burst <= 0 {
		burst = 1
	}
	return &clientLimiter{
		perMin:    perMin,
		burst:     burst,
		clients:   make(map[string]*client),
		lastSweep: time.Now(),
	}
}

// allow reports whether the client identified by ip may proceed.
func (l *clientLimiter) allow(ip string, now time.Time) bool {
	if l.perMin <= 0 {
		return true
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if now.Sub(l.lastSweep) > time.Minute {
		for addr, c := range l.clients {
			if now.Sub(c.lastSeen) > staleClientAfter {
				delete(l.clients, addr)
			}
		}
		l.lastSweep = now
	}

	c, ok := l.clients[ip]
	if !ok {
		c = &client{limiter: rate.NewLimiter(rate.Limit(float64(l.perMin))/60.0, l.burst)}
		l.clients[ip] = c
	}
	c.lastSeen = now
	return c.limiter.Allow()
}

// rateLimit wraps a handler with the per-client limiter.
func (s *Server) rateLimit(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !s.limiter.allow(clientIP(r), time.Now()) {
			w.Header().Set("Retry-After", "60")
			s.writeJSON(w, http.StatusTooManyRequests, map[string]any{
				"error": errorBody{Code: "RATE_LIMITED", Message: "rate limit exceeded"},
			})
			return
		}
		next(w, r)
	}
}

// clientIP is the direct TCP peer address with the port stripped. Proxy
// headers are deliberately not consulted: they are trivially spoofed and
// this server is expected to face agents directly.
func clientIP(r *http.Request) string {
	addr := r.RemoteAddr
	if idx := strings.LastIndex(addr, ":"); idx > 0 {
		addr = addr[:idx]
	}
	return addr
}
