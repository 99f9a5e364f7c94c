package httpx

import (
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/time/rate"
)

const (
	maxTrackedClients = 4096
	clientIdleTTL     = 5 * time.Minute
)

// RateLimiter keeps one token bucket per client address. Idle clients age
// out of a bounded LRU.
type RateLimiter struct {
	limit        rate.Limit
	burst        int
	trustForward bool

	mu       sync.Mutex // makes lookup-or-create atomic per client
	limiters *expirable.LRU[string, *rate.Limiter]
}

// RateLimitOption customises a RateLimiter.
type RateLimitOption func(*RateLimiter)

// TrustForwardedFor keys clients on the first X-Forwarded-For entry. Only
// enable it behind a proxy that overwrites the header.
func TrustForwardedFor() RateLimitOption {
	return func(rl *RateLimiter) {
		rl.trustForward = true
	}
}

// NewRateLimiter allows rps requests per second per client with the given
// burst. A non-positive rps disables limiting. Clients are keyed on the
// connection address unless TrustForwardedFor is given.
func NewRateLimiter(rps float64, burst int, opts ...RateLimitOption) *RateLimiter {
	if burst < 1 {
		burst = 1
	}
	rl := &RateLimiter{
		limit:    rate.Limit(rps),
		burst:    burst,
		limiters: expirable.NewLRU[string, *rate.Limiter](maxTrackedClients, nil, clientIdleTTL),
	}
	for _, opt := range opts {
		opt(rl)
	}
	return rl
}

// Allow reports whether client may issue a request now.
func (rl *RateLimiter) Allow(client string) bool {
	if rl == nil || rl.limit <= 0 {
		return true
	}
	rl.mu.Lock()
	limiter, ok := rl.limiters.Get(client)
	if !ok {
		limiter = rate.NewLimiter(rl.limit, rl.burst)
		rl.limiters.Add(client, limiter)
	}
	rl.mu.Unlock()
	return limiter.Allow()
}

// Middleware answers 429 once a client exhausts its bucket.
func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !rl.Allow(clientKey(r, rl != nil && rl.trustForward)) {
			w.Header().Set("Retry-After", "1")
			JSONError(w, http.StatusTooManyRequests, "Too many requests")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func clientKey(r *http.Request, trustForward bool) string {
	if fwd := r.Header.Get("X-Forwarded-For"); trustForward && fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		if first = strings.TrimSpace(first); first != "" {
			return first
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
