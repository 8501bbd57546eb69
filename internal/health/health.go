// Package health provides the readiness probe. Liveness is answered by
// the route table's own /health handler; readiness here additionally
// verifies that the upstream backend and the token database are
// reachable, so orchestrators can hold traffic until they are.
package health

import (
	"context"
	"database/sql"
	"encoding/json"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/dskow/baas-gateway/internal/circuitbreaker"
	"github.com/dskow/baas-gateway/internal/config"
)

const (
	readinessCacheTTL = 5 * time.Second
	checkTimeout      = 2 * time.Second
)

// Handler provides the /ready endpoint.
type Handler struct {
	upstream config.UpstreamConfig
	db       *sql.DB
	breaker  *circuitbreaker.Breaker
	logger   *slog.Logger

	// Cached readiness result so frequent orchestrator polls don't dial
	// the upstream and ping the database every time.
	cacheMu      sync.RWMutex
	cachedResult []byte
	cachedStatus int
	cachedAt     time.Time
}

// New creates a Handler. db and breaker may be nil; the corresponding
// checks are then skipped.
func New(upstream config.UpstreamConfig, db *sql.DB, breaker *circuitbreaker.Breaker, logger *slog.Logger) *Handler {
	return &Handler{upstream: upstream, db: db, breaker: breaker, logger: logger}
}

// RegisterRoutes adds the readiness route to the given mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/ready", h.readiness)
}

func (h *Handler) readiness(w http.ResponseWriter, r *http.Request) {
	h.cacheMu.RLock()
	if h.cachedResult != nil && time.Since(h.cachedAt) < readinessCacheTTL {
		body := h.cachedResult
		status := h.cachedStatus
		h.cacheMu.RUnlock()
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		w.Write(body) //nolint:errcheck
		return
	}
	h.cacheMu.RUnlock()

	checks := make(map[string]string)
	ready := true

	type result struct {
		name   string
		status string
		ok     bool
	}
	ch := make(chan result, 2)
	pending := 0

	if h.upstream.Configured() {
		pending++
		go func() {
			status, ok := h.checkUpstream(r.Context())
			ch <- result{name: "upstream", status: status, ok: ok}
		}()
	} else {
		checks["upstream"] = "not configured"
	}

	if h.db != nil {
		pending++
		go func() {
			status, ok := h.checkDatabase(r.Context())
			ch <- result{name: "database", status: status, ok: ok}
		}()
	} else {
		checks["database"] = "not configured"
	}

	for i := 0; i < pending; i++ {
		res := <-ch
		checks[res.name] = res.status
		if !res.ok {
			ready = false
		}
	}

	if h.breaker != nil {
		state := h.breaker.State()
		checks["circuit"] = state.String()
		if state == circuitbreaker.StateOpen {
			ready = false
		}
	}

	httpStatus := http.StatusOK
	statusStr := "ready"
	if !ready {
		httpStatus = http.StatusServiceUnavailable
		statusStr = "not ready"
	}

	body, _ := json.Marshal(map[string]any{
		"status": statusStr,
		"checks": checks,
	})
	body = append(body, '\n')

	h.cacheMu.Lock()
	h.cachedResult = body
	h.cachedStatus = httpStatus
	h.cachedAt = time.Now()
	h.cacheMu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(httpStatus)
	w.Write(body) //nolint:errcheck
}

// checkUpstream TCP-dials the upstream host.
func (h *Handler) checkUpstream(ctx context.Context) (string, bool) {
	u, err := url.Parse(h.upstream.URL)
	if err != nil {
		return "invalid URL", false
	}

	host := u.Host
	if !hasPort(host) {
		switch u.Scheme {
		case "https":
			host += ":443"
		default:
			host += ":80"
		}
	}

	dctx, cancel := context.WithTimeout(ctx, checkTimeout)
	defer cancel()
	conn, err := (&net.Dialer{}).DialContext(dctx, "tcp", host)
	if err != nil {
		h.logger.Warn("upstream unreachable", "host", host, "error", err)
		return "unreachable", false
	}
	conn.Close()
	return "ok", true
}

// checkDatabase pings the token database.
func (h *Handler) checkDatabase(ctx context.Context) (string, bool) {
	pctx, cancel := context.WithTimeout(ctx, checkTimeout)
	defer cancel()
	if err := h.db.PingContext(pctx); err != nil {
		h.logger.Warn("database unreachable", "error", err)
		return "unreachable", false
	}
	return "ok", true
}

func hasPort(host string) bool {
	_, _, err := net.SplitHostPort(host)
	return err == nil
}
