package httpmiddleware

import (
	"context"
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"
)

// Decision is the outcome of a rate limit check.
type Decision struct {
	Allowed   bool
	Remaining int
	ResetAt   time.Time
}

// LimitStore counts requests per key. Implementations must be safe for
// concurrent use.
type LimitStore interface {
	Allow(ctx context.Context, key string, now time.Time) (Decision, error)
}

// RateLimitConfig configures the rate limit middleware.
type RateLimitConfig struct {
	// Max is the maximum number of requests allowed per window.
	Max int
	// Window is the duration of each sliding window.
	Window time.Duration
	// KeyFunc extracts the rate limit key from a request.
	// If nil, the client IP address is used.
	KeyFunc func(*http.Request) string
	// Store holds the counters. If nil, an in-process MemoryStore is used.
	Store LimitStore
}

// entry tracks request counts across two adjacent windows for the sliding
// window algorithm.
type entry struct {
	prevCount float64
	prevStart time.Time
	currCount float64
	currStart time.Time
}

var _ LimitStore = (*MemoryStore)(nil)

// MemoryStore is an in-process sliding window counter. It approximates the
// sliding window by weighting the previous fixed window by its overlap.
type MemoryStore struct {
	max     int
	window  time.Duration
	mu      sync.Mutex
	entries map[string]*entry
}

// NewMemoryStore creates a MemoryStore allowing limit requests per window.
func NewMemoryStore(limit int, window time.Duration) *MemoryStore {
	return &MemoryStore{
		max:     limit,
		window:  window,
		entries: make(map[string]*entry),
	}
}

// Allow records a request for key if it is within the limit.
func (s *MemoryStore) Allow(_ context.Context, key string, now time.Time) (Decision, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[key]
	if !ok {
		e = &entry{currStart: now}
		s.entries[key] = e
	}

	if now.Sub(e.currStart) >= s.window {
		e.prevCount = e.currCount
		e.prevStart = e.currStart
		e.currCount = 0
		e.currStart = now.Truncate(s.window)
		if now.Sub(e.prevStart) >= 2*s.window {
			e.prevCount = 0
		}
	}

	elapsed := now.Sub(e.currStart)
	overlap := max(1.0-elapsed.Seconds()/s.window.Seconds(), 0)
	effective := e.prevCount*overlap + e.currCount
	resetAt := e.currStart.Add(s.window)

	if effective >= float64(s.max) {
		return Decision{ResetAt: resetAt}, nil
	}

	e.currCount++
	effective++
	return Decision{
		Allowed:   true,
		Remaining: max(int(float64(s.max)-effective), 0),
		ResetAt:   resetAt,
	}, nil
}

// Cleanup removes entries whose windows have fully expired.
func (s *MemoryStore) Cleanup(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for key, e := range s.entries {
		if now.Sub(e.currStart) >= 2*s.window {
			delete(s.entries, key)
		}
	}
}

// StartCleanup evicts expired entries every 2x the window until ctx is
// cancelled.
func (s *MemoryStore) StartCleanup(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(2 * s.window)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case now := <-ticker.C:
				s.Cleanup(now)
			}
		}
	}()
}

// RateLimit returns a middleware that enforces a per-key rate limit. When
// the limit is exceeded it responds with 429 and the JSON error envelope.
// Every response includes X-RateLimit-Limit, X-RateLimit-Remaining and
// X-RateLimit-Reset headers. A failing store lets the request through.
func RateLimit(cfg RateLimitConfig) Middleware {
	if cfg.KeyFunc == nil {
		cfg.KeyFunc = defaultKeyFunc
	}
	if cfg.Store == nil {
		cfg.Store = NewMemoryStore(cfg.Max, cfg.Window)
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := cfg.KeyFunc(r)
			now := time.Now()

			d, err := cfg.Store.Allow(r.Context(), key, now)
			if err != nil {
				zctx.From(r.Context()).Warn("Rate limit store failed, allowing request", zap.Error(err))
				next.ServeHTTP(w, r)
				return
			}

			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(cfg.Max))
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
			w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(d.ResetAt.Unix(), 10))

			if !d.Allowed {
				retryAfter := max(d.ResetAt.Sub(now), 0)
				w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(retryAfter.Seconds()))))
				writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// RateLimitWithCleanup is like RateLimit with an in-process store whose
// expired entries are evicted in the background until ctx is cancelled.
func RateLimitWithCleanup(ctx context.Context, cfg RateLimitConfig) Middleware {
	store := NewMemoryStore(cfg.Max, cfg.Window)
	store.StartCleanup(ctx)
	cfg.Store = store
	return RateLimit(cfg)
}

// defaultKeyFunc extracts the client IP from the request, checking
// X-Forwarded-For first, then X-Real-IP, then falling back to RemoteAddr.
func defaultKeyFunc(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		if i := strings.IndexByte(xff, ','); i > 0 {
			return strings.TrimSpace(xff[:i])
		}
		return strings.TrimSpace(xff)
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
