package api

import (
	"context"
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/loonworks/loonflow/ticket"
)

// usernameHeader carries the caller's identity. The gateway in front of
// the service authenticates the user and injects the header; the service
// itself only trusts it.
const usernameHeader = "X-Username"

type contextKey string

const usernameKey contextKey = "username"

// Middleware holds the shared pieces of the request pipeline.
type Middleware struct {
	metrics *ticket.Metrics
	limiter *rateLimiterStore
}

// NewMiddleware creates a Middleware. metrics may be nil.
func NewMiddleware(metrics *ticket.Metrics) *Middleware {
	return &Middleware{metrics: metrics}
}

// RequireUser extracts the X-Username header into the request context.
// Requests without it receive 401.
func (m *Middleware) RequireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		username := strings.TrimSpace(r.Header.Get(usernameHeader))
		if username == "" {
			WriteError(w, http.StatusUnauthorized, "missing "+usernameHeader+" header")
			return
		}
		ctx := context.WithValue(r.Context(), usernameKey, username)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// UsernameFromContext returns the identity RequireUser stored, or "".
func UsernameFromContext(ctx context.Context) string {
	username, _ := ctx.Value(usernameKey).(string)
	return username
}

// Observe records request counts and durations per route pattern.
func (m *Middleware) Observe(pattern string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r)
		m.metrics.RecordHTTPRequest(r.Method, pattern, sw.status, time.Since(start))
	})
}

// RequestID tags every response with an id for log correlation.
func (m *Middleware) RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", id)
		next.ServeHTTP(w, r)
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

// ipLimiter holds a per-IP token bucket and the last time it was accessed.
type ipLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// rateLimiterStore holds per-IP limiters for the mutating endpoints.
type rateLimiterStore struct {
	mu       sync.Mutex
	limiters map[string]*ipLimiter
	r        rate.Limit
	b        int
	stopCh   chan struct{}
	stopOnce sync.Once
}

func newRateLimiterStore(requestsPerMinute int) *rateLimiterStore {
	s := &rateLimiterStore{
		limiters: make(map[string]*ipLimiter),
		r:        rate.Limit(float64(requestsPerMinute) / 60.0),
		b:        requestsPerMinute,
		stopCh:   make(chan struct{}),
	}
	go s.cleanup()
	return s
}

// cleanup periodically removes stale entries until stop is called.
func (s *rateLimiterStore) cleanup() {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.mu.Lock()
			for ip, l := range s.limiters {
				if time.Since(l.lastSeen) > 10*time.Minute {
					delete(s.limiters, ip)
				}
			}
			s.mu.Unlock()
		case <-s.stopCh:
			return
		}
	}
}

func (s *rateLimiterStore) get(ip string) *rate.Limiter {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.limiters[ip]
	if !ok {
		l = &ipLimiter{limiter: rate.NewLimiter(s.r, s.b)}
		s.limiters[ip] = l
	}
	l.lastSeen = time.Now()
	return l.limiter
}

// Stop shuts down the background cleanup goroutine started by RateLimit.
// It is safe to call multiple times.
func (m *Middleware) Stop() {
	if m.limiter != nil {
		m.limiter.stopOnce.Do(func() { close(m.limiter.stopCh) })
	}
}

// RateLimit returns middleware that limits requests per IP to
// requestsPerMinute, defaulting to 60 when zero. Requests over the limit
// receive HTTP 429 with a Retry-After header. All mutating routes share
// one per-IP store so only one cleanup goroutine runs; call Stop() to
// release it.
func (m *Middleware) RateLimit(requestsPerMinute int) func(http.Handler) http.Handler {
	if requestsPerMinute <= 0 {
		requestsPerMinute = 60
	}
	if m.limiter == nil {
		m.limiter = newRateLimiterStore(requestsPerMinute)
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			limiter := m.limiter.get(realIP(r))
			reservation := limiter.Reserve()
			if d := reservation.Delay(); d > 0 {
				// Cancel so the token is returned; we are rejecting this request.
				reservation.Cancel()
				retryAfter := int(math.Ceil(d.Seconds()))
				if retryAfter < 1 {
					retryAfter = 1
				}
				w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
				WriteError(w, http.StatusTooManyRequests, "rate limit exceeded")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// realIP extracts the client IP from common proxy headers or RemoteAddr.
func realIP(r *http.Request) string {
	if ip := r.Header.Get("X-Real-IP"); ip != "" {
		return ip
	}
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		// Take the first address in the list.
		if idx := strings.Index(fwd, ","); idx != -1 {
			return strings.TrimSpace(fwd[:idx])
		}
		return strings.TrimSpace(fwd)
	}
	// Strip port from RemoteAddr, handling IPv6 addresses correctly.
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
