// Package admin provides IP-allowlisted operator endpoints: API token
// inspection and revocation, and a redacted view of the running
// configuration.
package admin

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"

	"github.com/dskow/baas-gateway/internal/audit"
	"github.com/dskow/baas-gateway/internal/config"
	"github.com/dskow/baas-gateway/internal/token"
)

// ConfigProvider abstracts config access so the hot-reloader can back it.
type ConfigProvider interface {
	Current() *config.Config
}

// Handler provides the admin endpoints.
type Handler struct {
	provider    ConfigProvider
	tokens      token.Store
	audit       *audit.Recorder
	allowedNets []*net.IPNet
	logger      *slog.Logger
}

// New creates a Handler. The allowlist CIDRs are pre-validated by config
// loading. tokens may be nil when no database is configured.
func New(provider ConfigProvider, tokens token.Store, auditor *audit.Recorder, allowlist []string, logger *slog.Logger) *Handler {
	nets := make([]*net.IPNet, 0, len(allowlist))
	for _, cidr := range allowlist {
		_, ipNet, err := net.ParseCIDR(cidr)
		if err != nil {
			continue // validated upstream
		}
		nets = append(nets, ipNet)
	}
	return &Handler{
		provider:    provider,
		tokens:      tokens,
		audit:       auditor,
		allowedNets: nets,
		logger:      logger,
	}
}

// RegisterRoutes adds admin routes to the given mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/admin/tokens", h.guard(http.MethodGet, h.tokensHandler))
	mux.HandleFunc("/admin/tokens/revoke", h.guard(http.MethodPost, h.revokeHandler))
	mux.HandleFunc("/admin/config", h.guard(http.MethodGet, h.configHandler))
}

// guard wraps a handler with method and IP allowlist checks.
func (h *Handler) guard(method string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != method {
			writeJSON(w, http.StatusMethodNotAllowed, map[string]string{
				"error": "Method Not Allowed",
			})
			return
		}

		ip := extractIP(r.RemoteAddr)
		if !h.isAllowed(ip) {
			h.logger.Warn("admin access denied", "client_ip", ip, "path", r.URL.Path)
			writeJSON(w, http.StatusForbidden, map[string]string{
				"error": "Forbidden",
			})
			return
		}
		next(w, r)
	}
}

func (h *Handler) isAllowed(ipStr string) bool {
	ip := net.ParseIP(ipStr)
	if ip == nil {
		return false
	}
	for _, n := range h.allowedNets {
		if n.Contains(ip) {
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

// tokensHandler lists stored API tokens. The token column itself is
// never selected by the store, so secrets cannot appear here.
func (h *Handler) tokensHandler(w http.ResponseWriter, r *http.Request) {
	if h.tokens == nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "token store not configured",
		})
		return
	}

	tokens, err := h.tokens.List(r.Context())
	if err != nil {
		h.logger.Error("listing tokens", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "listing tokens failed",
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"tokens": tokens,
		"total":  len(tokens),
	})
}

// revokeRequest is the /admin/tokens/revoke body.
type revokeRequest struct {
	ID string `json:"id"`
}

func (h *Handler) revokeHandler(w http.ResponseWriter, r *http.Request) {
	if h.tokens == nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "token store not configured",
		})
		return
	}

	var req revokeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.ID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "id is required",
		})
		return
	}

	if err := h.tokens.Revoke(r.Context(), req.ID); err != nil {
		if errors.Is(err, token.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]string{
				"error": "token not found",
			})
			return
		}
		h.logger.Error("revoking token", "token_id", req.ID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "revoking token failed",
		})
		return
	}

	h.audit.Record(audit.Entry{
		Action: audit.ActionTokenRevoked,
		Actor:  extractIP(r.RemoteAddr),
		Details: map[string]any{
			"token_id": req.ID,
		},
	})
	writeJSON(w, http.StatusOK, map[string]any{
		"revoked": true,
		"id":      req.ID,
	})
}

// configHandler returns the running configuration. Secret-bearing
// fields carry `json:"-"` tags on the config structs, so marshalling
// redacts them structurally rather than by ad hoc scrubbing.
func (h *Handler) configHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.provider.Current())
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v) //nolint:errcheck
}
