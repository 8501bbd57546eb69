// Package proxy forwards requests to the configured backend platform.
// Two modes exist: plain forwarding, which relays the caller's own
// credentials, and elevated forwarding, which swaps in the service role
// key after the caller's API token passes validation.
package proxy

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/dskow/baas-gateway/internal/apierror"
	"github.com/dskow/baas-gateway/internal/circuitbreaker"
	"github.com/dskow/baas-gateway/internal/config"
	"github.com/dskow/baas-gateway/internal/metrics"
	"github.com/dskow/baas-gateway/internal/token"
)

// elevationHeader carries the caller's API token on elevated routes.
const elevationHeader = "X-API-Token"

// bodyMethods are the HTTP methods whose request body is forwarded
// upstream. Bodies on other methods are dropped.
var bodyMethods = map[string]bool{
	http.MethodPost:   true,
	http.MethodPatch:  true,
	http.MethodPut:    true,
	http.MethodDelete: true,
}

// TokenValidator checks an API token value against the token store.
type TokenValidator interface {
	Validate(ctx context.Context, value string) (token.Result, error)
}

// Forwarder proxies requests to the backend platform. A nil validator
// means no token store is configured: elevated routes fail with 500
// rather than silently forwarding with service credentials.
type Forwarder struct {
	upstream  config.UpstreamConfig
	client    *http.Client
	validator TokenValidator
	breaker   *circuitbreaker.Breaker
	logger    *slog.Logger
}

// New creates a Forwarder. breaker may be nil to disable circuit
// breaking; validator may be nil when no token store is available.
func New(upstream config.UpstreamConfig, client *http.Client, validator TokenValidator, breaker *circuitbreaker.Breaker, logger *slog.Logger) *Forwarder {
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	return &Forwarder{
		upstream:  upstream,
		client:    client,
		validator: validator,
		breaker:   breaker,
		logger:    logger,
	}
}

// Forward relays the request to the backend with the caller's own
// credentials. The caller's Authorization header passes through
// unchanged; the platform apikey header is filled with the anon key
// unless the caller supplied one.
func (f *Forwarder) Forward(w http.ResponseWriter, r *http.Request, routeName string) {
	f.serve(w, r, routeName, false)
}

// ForwardElevated validates the caller's X-API-Token and, on success,
// relays the request with the service role key in both the apikey and
// Authorization headers. Validation failure is a 401 regardless of
// whether the token is unknown, revoked, or expired.
func (f *Forwarder) ForwardElevated(w http.ResponseWriter, r *http.Request, routeName string) {
	f.serve(w, r, routeName, true)
}

func (f *Forwarder) serve(w http.ResponseWriter, r *http.Request, routeName string, elevated bool) {
	start := time.Now()

	if !f.upstream.Configured() {
		apierror.WriteJSON(w, r, http.StatusInternalServerError, apierror.UpstreamNotSet, "upstream backend not configured")
		return
	}

	if elevated {
		if !f.authorizeElevation(w, r) {
			return
		}
	}

	if f.breaker != nil && !f.breaker.Allow() {
		f.logger.Warn("rejecting request, circuit open", "route", routeName, "path", r.URL.Path)
		apierror.WriteJSON(w, r, http.StatusServiceUnavailable, apierror.CircuitOpen, "upstream circuit breaker open")
		return
	}

	metrics.ActiveConnections.Inc()
	defer metrics.ActiveConnections.Dec()

	targetURL := strings.TrimSuffix(f.upstream.URL, "/") + r.URL.Path
	if r.URL.RawQuery != "" {
		targetURL += "?" + r.URL.RawQuery
	}

	var body io.Reader
	if bodyMethods[r.Method] {
		body = r.Body
	}

	req, err := http.NewRequestWithContext(r.Context(), r.Method, targetURL, body)
	if err != nil {
		f.logger.Error("building upstream request", "route", routeName, "error", err)
		apierror.WriteJSON(w, r, http.StatusInternalServerError, apierror.InternalError, "internal gateway error")
		return
	}

	f.setForwardHeaders(req, r, elevated)

	resp, err := f.client.Do(req)
	if err != nil {
		if f.breaker != nil {
			f.breaker.RecordFailure()
		}
		f.logger.Error("upstream request failed", "route", routeName, "path", r.URL.Path, "error", err)
		metrics.UpstreamErrors.WithLabelValues(routeName, "502").Inc()
		apierror.WriteJSON(w, r, http.StatusBadGateway, apierror.UpstreamUnavailable, "upstream service unavailable")
		return
	}
	defer resp.Body.Close()

	if f.breaker != nil {
		if resp.StatusCode >= 500 {
			f.breaker.RecordFailure()
		} else {
			f.breaker.RecordSuccess()
		}
	}

	// Relay the upstream response verbatim: its status code and body are
	// the contract, the gateway adds only latency accounting on top.
	if ct := resp.Header.Get("Content-Type"); ct != "" {
		w.Header().Set("Content-Type", ct)
	}
	w.Header().Set("X-Gateway-Latency", time.Since(start).String())
	w.WriteHeader(resp.StatusCode)
	if _, err := io.Copy(w, resp.Body); err != nil {
		f.logger.Warn("copying upstream response", "route", routeName, "error", err)
	}

	latency := time.Since(start)
	statusStr := strconv.Itoa(resp.StatusCode)
	metrics.RequestsTotal.WithLabelValues(routeName, r.Method, statusStr).Inc()
	metrics.RequestDuration.WithLabelValues(routeName, r.Method).Observe(latency.Seconds())
	if resp.StatusCode >= 500 {
		metrics.UpstreamErrors.WithLabelValues(routeName, statusStr).Inc()
	}
}

// authorizeElevation validates the caller's API token. It writes the
// error response and returns false when the request must not proceed.
func (f *Forwarder) authorizeElevation(w http.ResponseWriter, r *http.Request) bool {
	if f.validator == nil {
		apierror.WriteJSON(w, r, http.StatusInternalServerError, apierror.TokenStoreNotSet, "token store not configured")
		return false
	}

	value := r.Header.Get(elevationHeader)
	res, err := f.validator.Validate(r.Context(), value)
	if err != nil {
		f.logger.Error("token validation failed", "path", r.URL.Path, "error", err)
		metrics.TokenValidations.WithLabelValues("error").Inc()
		apierror.WriteJSON(w, r, http.StatusInternalServerError, apierror.InternalError, "internal gateway error")
		return false
	}
	if !res.Valid {
		metrics.TokenValidations.WithLabelValues("rejected").Inc()
		metrics.AuthFailures.WithLabelValues("invalid_api_token").Inc()
		apierror.WriteJSON(w, r, http.StatusUnauthorized, apierror.AuthInvalidAPIToken, "Invalid or expired API token")
		return false
	}

	metrics.TokenValidations.WithLabelValues("accepted").Inc()
	return true
}

// setForwardHeaders populates the outgoing request's headers. Elevated
// requests carry the service role key in both credential headers; plain
// requests pass the caller's Authorization through and fall back to the
// anon key for the apikey header.
func (f *Forwarder) setForwardHeaders(req *http.Request, r *http.Request, elevated bool) {
	if ct := r.Header.Get("Content-Type"); ct != "" {
		req.Header.Set("Content-Type", ct)
	}

	if elevated {
		req.Header.Set("apikey", f.upstream.ServiceRoleKey)
		req.Header.Set("Authorization", "Bearer "+f.upstream.ServiceRoleKey)
		return
	}

	if key := r.Header.Get("apikey"); key != "" {
		req.Header.Set("apikey", key)
	} else {
		req.Header.Set("apikey", f.upstream.AnonKey)
	}
	if auth := r.Header.Get("Authorization"); auth != "" {
		req.Header.Set("Authorization", auth)
	}
}
