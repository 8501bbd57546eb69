// Package ratelimit provides per-client-IP rate limiting middleware.
// Two strategies exist: an in-process token bucket for single-instance
// deployments, and a Redis fixed window that lets several gateway
// instances enforce one shared budget.
package ratelimit

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/dskow/baas-gateway/internal/apierror"
	"github.com/dskow/baas-gateway/internal/config"
	"github.com/dskow/baas-gateway/internal/metrics"
)

// Strategy decides whether a client identified by key may proceed.
type Strategy interface {
	Allow(ctx context.Context, key string) bool
	// UpdateConfig applies hot-reloaded settings.
	UpdateConfig(cfg config.RateLimitConfig)
	// RetryAfter is the wait hint sent with 429 responses.
	RetryAfter() time.Duration
	Stop()
}

// Limiter wraps a Strategy with client-IP extraction and the HTTP
// middleware. trustedProxies lists CIDRs whose X-Forwarded-For headers
// are believed; anyone else is keyed by their direct peer address.
type Limiter struct {
	strategy     Strategy
	trustedCIDRs []*net.IPNet
	logger       *slog.Logger
}

// New creates a Limiter over the given strategy.
func New(strategy Strategy, trustedProxies []string, logger *slog.Logger) *Limiter {
	return &Limiter{
		strategy:     strategy,
		trustedCIDRs: parseCIDRs(trustedProxies, logger),
		logger:       logger,
	}
}

// UpdateConfig hot-reloads the rate limit settings.
func (l *Limiter) UpdateConfig(cfg config.RateLimitConfig) {
	l.strategy.UpdateConfig(cfg)
}

// Stop releases the strategy's resources.
func (l *Limiter) Stop() {
	l.strategy.Stop()
}

// Middleware returns an HTTP middleware that enforces the rate limit.
func (l *Limiter) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := l.clientIP(r)

			if !l.strategy.Allow(r.Context(), ip) {
				l.logger.Warn("rate limit exceeded", "client_ip", ip, "path", r.URL.Path)
				metrics.RateLimitHits.WithLabelValues(routeLabel(r.URL.Path)).Inc()
				seconds := int(l.strategy.RetryAfter().Round(time.Second).Seconds())
				if seconds < 1 {
					seconds = 1
				}
				w.Header().Set("Retry-After", strconv.Itoa(seconds))
				apierror.WriteJSON(w, r, http.StatusTooManyRequests, apierror.RateLimitExceeded, "rate limit exceeded, retry later")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// routeLabel maps a path to a low-cardinality metrics label: the first
// path segment, or "root".
func routeLabel(path string) string {
	trimmed := strings.TrimPrefix(path, "/")
	if trimmed == "" {
		return "root"
	}
	if i := strings.IndexByte(trimmed, '/'); i >= 0 {
		trimmed = trimmed[:i]
	}
	return trimmed
}

func parseCIDRs(cidrs []string, logger *slog.Logger) []*net.IPNet {
	var nets []*net.IPNet
	for _, cidr := range cidrs {
		_, ipNet, err := net.ParseCIDR(cidr)
		if err != nil {
			logger.Warn("invalid trusted proxy CIDR, skipping", "cidr", cidr, "error", err)
			continue
		}
		nets = append(nets, ipNet)
	}
	return nets
}

// clientIP extracts the real client IP. X-Forwarded-For is only trusted
// when the direct peer is in the trusted proxies list.
func (l *Limiter) clientIP(r *http.Request) string {
	peerIP := extractIP(r.RemoteAddr)

	if len(l.trustedCIDRs) > 0 && l.isTrusted(peerIP) {
		if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
			// Walk right-to-left, return the first non-trusted IP.
			parts := strings.Split(xff, ",")
			for i := len(parts) - 1; i >= 0; i-- {
				ip := strings.TrimSpace(parts[i])
				if ip != "" && !l.isTrusted(ip) {
					return ip
				}
			}
		}
	}

	return peerIP
}

func (l *Limiter) isTrusted(ipStr string) bool {
	ip := net.ParseIP(ipStr)
	if ip == nil {
		return false
	}
	for _, cidr := range l.trustedCIDRs {
		if cidr.Contains(ip) {
			return true
		}
	}
	return false
}

func extractIP(remoteAddr string) string {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		return remoteAddr
	}
	return host
}

type client struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// Bucket is the in-process strategy: one token bucket per client IP,
// with periodic cleanup of stale entries.
type Bucket struct {
	mu      sync.RWMutex
	clients map[string]*client
	rate    rate.Limit
	burst   int
	stopCh  chan struct{}
}

// NewBucket creates a Bucket strategy and starts its cleanup goroutine.
func NewBucket(cfg config.RateLimitConfig) *Bucket {
	b := &Bucket{
		clients: make(map[string]*client),
		rate:    rate.Limit(cfg.RequestsPerSecond),
		burst:   cfg.BurstSize,
		stopCh:  make(chan struct{}),
	}
	go b.cleanup()
	return b
}

// Allow reports whether the client may proceed.
func (b *Bucket) Allow(_ context.Context, key string) bool {
	return b.getLimiter(key).Allow()
}

// UpdateConfig applies new settings. Existing per-client buckets are
// cleared so the new limits take effect immediately.
func (b *Bucket) UpdateConfig(cfg config.RateLimitConfig) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.rate = rate.Limit(cfg.RequestsPerSecond)
	b.burst = cfg.BurstSize
	b.clients = make(map[string]*client)
}

// RetryAfter is the time for one token to refill.
func (b *Bucket) RetryAfter() time.Duration {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.rate <= 0 {
		return time.Second
	}
	return time.Duration(float64(time.Second) / float64(b.rate))
}

// Stop terminates the cleanup goroutine.
func (b *Bucket) Stop() {
	close(b.stopCh)
}

// getLimiter returns or creates the bucket for key. Read-lock fast path
// for the common case; rate.Limiter is itself goroutine-safe, so Allow
// runs outside our lock.
func (b *Bucket) getLimiter(key string) *rate.Limiter {
	b.mu.RLock()
	if c, exists := b.clients[key]; exists {
		// Refreshing lastSeen once a minute keeps the entry alive
		// without taking the write lock on every hit.
		if time.Since(c.lastSeen) > time.Minute {
			b.mu.RUnlock()
			b.mu.Lock()
			c.lastSeen = time.Now()
			b.mu.Unlock()
		} else {
			b.mu.RUnlock()
		}
		return c.limiter
	}
	b.mu.RUnlock()

	b.mu.Lock()
	defer b.mu.Unlock()

	if c, exists := b.clients[key]; exists {
		c.lastSeen = time.Now()
		return c.limiter
	}

	limiter := rate.NewLimiter(b.rate, b.burst)
	b.clients[key] = &client{limiter: limiter, lastSeen: time.Now()}
	return limiter
}

func (b *Bucket) cleanup() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			b.mu.Lock()
			for key, c := range b.clients {
				if time.Since(c.lastSeen) > 3*time.Minute {
					delete(b.clients, key)
				}
			}
			b.mu.Unlock()
		case <-b.stopCh:
			return
		}
	}
}
