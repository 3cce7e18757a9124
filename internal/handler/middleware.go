package handler

import (
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/netip"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/time/rate"

	"github.com/angeloszaimis/backbone/pkg/logger"
)

type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.statusCode = code
	r.ResponseWriter.WriteHeader(code)
}

// RequestLogger logs one line per request.
func RequestLogger(log *slog.Logger) func(http.Handler) http.Handler {
	log = logger.Component(log, "http")

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			wrapped := &statusRecorder{ResponseWriter: w, statusCode: http.StatusOK}

			next.ServeHTTP(wrapped, r)

			log.Info("Handled request",
				slog.String("from", remoteHost(r)),
				slog.String("forwarded_for", r.Header.Get("X-Forwarded-For")),
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.Int("status", wrapped.statusCode),
				slog.Duration("took", time.Since(start)),
				slog.String("user_agent", r.UserAgent()))
		})
	}
}

// DefaultMaxClients bounds how many client buckets a RateLimiter keeps.
const DefaultMaxClients = 10000

// RateLimiter applies a token bucket per client IP. The client is the TCP
// peer unless the peer is a trusted proxy, in which case it is the
// rightmost untrusted address in X-Forwarded-For. Buckets are kept in an
// LRU so idle clients are forgotten first.
type RateLimiter struct {
	mutex    sync.Mutex
	limiters *lru.Cache[string, *rate.Limiter]
	limit    rate.Limit
	burst    int
	trusted  []netip.Prefix
	logger   *slog.Logger
}

type RateLimiterOption func(*rateLimiterOptions)

type rateLimiterOptions struct {
	maxClients int
	trusted    []netip.Prefix
}

// WithMaxClients caps the number of buckets kept at once.
func WithMaxClients(n int) RateLimiterOption {
	return func(o *rateLimiterOptions) {
		o.maxClients = n
	}
}

// WithTrustedProxies lists the peers whose X-Forwarded-For is honored.
func WithTrustedProxies(prefixes ...netip.Prefix) RateLimiterOption {
	return func(o *rateLimiterOptions) {
		o.trusted = append(o.trusted, prefixes...)
	}
}

// ParseTrustedProxies accepts CIDR ranges and bare addresses.
func ParseTrustedProxies(values []string) ([]netip.Prefix, error) {
	prefixes := make([]netip.Prefix, 0, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		if strings.Contains(v, "/") {
			prefix, err := netip.ParsePrefix(v)
			if err != nil {
				return nil, fmt.Errorf("parse trusted proxy %q: %w", v, err)
			}
			prefixes = append(prefixes, prefix.Masked())
			continue
		}

		addr, err := netip.ParseAddr(v)
		if err != nil {
			return nil, fmt.Errorf("parse trusted proxy %q: %w", v, err)
		}
		addr = addr.Unmap()
		prefixes = append(prefixes, netip.PrefixFrom(addr, addr.BitLen()))
	}
	return prefixes, nil
}

func NewRateLimiter(requestsPerSecond float64, burst int, log *slog.Logger, opts ...RateLimiterOption) *RateLimiter {
	if burst < 1 {
		burst = 1
	}

	o := rateLimiterOptions{maxClients: DefaultMaxClients}
	for _, opt := range opts {
		opt(&o)
	}
	if o.maxClients < 1 {
		o.maxClients = DefaultMaxClients
	}

	// lru.New only fails on a non-positive size.
	limiters, _ := lru.New[string, *rate.Limiter](o.maxClients)

	return &RateLimiter{
		limiters: limiters,
		limit:    rate.Limit(requestsPerSecond),
		burst:    burst,
		trusted:  o.trusted,
		logger:   logger.Component(log, "ratelimit"),
	}
}

func (rl *RateLimiter) limiterFor(client string) *rate.Limiter {
	rl.mutex.Lock()
	defer rl.mutex.Unlock()

	l, exists := rl.limiters.Get(client)
	if !exists {
		l = rate.NewLimiter(rl.limit, rl.burst)
		rl.limiters.Add(client, l)
	}
	return l
}

func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		client := rl.clientFor(r)

		if !rl.limiterFor(client).Allow() {
			rl.logger.Warn("Rate limit exceeded",
				slog.String("client", client),
				slog.String("path", r.URL.Path))
			writeJSON(w, http.StatusTooManyRequests, envelope{
				"success": false,
				"error":   "rate limit exceeded",
			})
			return
		}

		next.ServeHTTP(w, r)
	})
}

// Clients reports how many client IPs have a bucket.
func (rl *RateLimiter) Clients() int {
	return rl.limiters.Len()
}

func (rl *RateLimiter) clientFor(r *http.Request) string {
	peer := remoteHost(r)

	addr, err := netip.ParseAddr(peer)
	if err != nil || !rl.isTrusted(addr) {
		return peer
	}

	hops := strings.Split(r.Header.Get("X-Forwarded-For"), ",")
	for i := len(hops) - 1; i >= 0; i-- {
		hop := strings.TrimSpace(hops[i])
		if hop == "" {
			continue
		}

		hopAddr, err := netip.ParseAddr(hop)
		if err != nil {
			// Anything left of a malformed hop is client controlled.
			return peer
		}
		if !rl.isTrusted(hopAddr) {
			return hopAddr.Unmap().String()
		}
	}
	return peer
}

func (rl *RateLimiter) isTrusted(addr netip.Addr) bool {
	addr = addr.Unmap()
	for _, prefix := range rl.trusted {
		if prefix.Contains(addr) {
			return true
		}
	}
	return false
}

func remoteHost(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
