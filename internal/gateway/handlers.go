package gateway

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/dskow/baas-gateway/internal/apierror"
	"github.com/dskow/baas-gateway/internal/audit"
	"github.com/dskow/baas-gateway/internal/metrics"
	"github.com/dskow/baas-gateway/internal/upstream"
)

// handleHealth reports liveness. It never touches the database or the
// upstream, so repeated calls are free and side-effect free.
func (g *Gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":             "ok",
		"timestamp":          time.Now().UTC().Format(time.RFC3339),
		"upstreamConfigured": g.upstream.Configured(),
	})
}

// handleEnv reports which configuration values are present, never their
// contents. Introspection succeeds even on an unconfigured gateway.
func (g *Gateway) handleEnv(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"upstreamUrlConfigured":    g.upstream.URL != "",
		"anonKeyConfigured":        g.upstream.AnonKey != "",
		"serviceRoleKeyConfigured": g.upstream.ServiceRoleKey != "",
		"region":                   g.upstream.Region,
	})
}

// verifyRequest is the /api/token/verify body.
type verifyRequest struct {
	Token string `json:"token"`
}

// handleTokenVerify validates the token named in the body and reports
// its validity and permission list. Unknown, revoked, and expired
// tokens all produce the same rejection body so the response never
// reveals whether a token ever existed.
func (g *Gateway) handleTokenVerify(w http.ResponseWriter, r *http.Request) {
	if g.validator == nil {
		apierror.WriteJSON(w, r, http.StatusInternalServerError, apierror.TokenStoreNotSet, "token store not configured")
		return
	}

	var req verifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apierror.WriteJSON(w, r, http.StatusBadRequest, apierror.ValidationFailed, "invalid JSON body")
		return
	}

	res, err := g.validator.Validate(r.Context(), req.Token)
	if err != nil {
		g.logger.Error("token verification failed", "error", err)
		apierror.WriteJSON(w, r, http.StatusInternalServerError, apierror.InternalError, "internal gateway error")
		return
	}

	if !res.Valid {
		metrics.TokenValidations.WithLabelValues("rejected").Inc()
		g.audit.Record(audit.Entry{Action: audit.ActionTokenRejected, Actor: clientIP(r)})
		writeJSON(w, http.StatusUnauthorized, map[string]any{
			"valid": false,
			"error": "Invalid or expired token",
		})
		return
	}

	metrics.TokenValidations.WithLabelValues("accepted").Inc()
	g.audit.Record(audit.Entry{Action: audit.ActionTokenVerified, Actor: res.TokenID})
	permissions := res.Permissions
	if permissions == nil {
		permissions = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"valid":       true,
		"permissions": permissions,
	})
}

// createUserRequest is the /api/create-user body.
type createUserRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	FullName string `json:"full_name"`
}

// handleCreateUser creates a backend user account. The caller must hold
// a bearer session that resolves to a user with an admin role row.
// Field validation runs after the caller is authorized but before the
// creation call, so a bad body never reaches the upstream admin API.
func (g *Gateway) handleCreateUser(w http.ResponseWriter, r *http.Request) {
	bearer, ok := bearerToken(r)
	if !ok {
		metrics.AuthFailures.WithLabelValues("missing_bearer").Inc()
		apierror.WriteJSON(w, r, http.StatusUnauthorized, apierror.AuthMissingToken, "Missing authorization header")
		return
	}

	if err := upstream.CheckSessionToken(bearer, g.session.JWTSecret); err != nil {
		metrics.AuthFailures.WithLabelValues("malformed_bearer").Inc()
		apierror.WriteJSON(w, r, http.StatusUnauthorized, apierror.AuthInvalidToken, "Invalid session token")
		return
	}

	if g.auth == nil {
		apierror.WriteJSON(w, r, http.StatusInternalServerError, apierror.UpstreamNotSet, "upstream backend not configured")
		return
	}

	user, err := g.auth.ResolveUser(r.Context(), bearer)
	if err != nil {
		switch {
		case errors.Is(err, upstream.ErrUnauthorized):
			metrics.AuthFailures.WithLabelValues("invalid_bearer").Inc()
			apierror.WriteJSON(w, r, http.StatusUnauthorized, apierror.AuthInvalidToken, "Invalid session token")
		case errors.Is(err, upstream.ErrNotConfigured):
			apierror.WriteJSON(w, r, http.StatusInternalServerError, apierror.UpstreamNotSet, "upstream backend not configured")
		default:
			g.logger.Error("resolving session user", "error", err)
			apierror.WriteJSON(w, r, http.StatusInternalServerError, apierror.InternalError, "internal gateway error")
		}
		return
	}

	if g.roles == nil {
		apierror.WriteJSON(w, r, http.StatusInternalServerError, apierror.InternalError, "role store not configured")
		return
	}

	isAdmin, err := g.roles.HasRole(r.Context(), user.ID, "admin")
	if err != nil {
		g.logger.Error("admin role check failed", "user_id", user.ID, "error", err)
		apierror.WriteJSON(w, r, http.StatusInternalServerError, apierror.InternalError, "internal gateway error")
		return
	}
	if !isAdmin {
		metrics.AuthFailures.WithLabelValues("not_admin").Inc()
		apierror.WriteJSON(w, r, http.StatusForbidden, apierror.AdminRoleRequired, "Admin role required")
		return
	}

	var req createUserRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apierror.WriteJSON(w, r, http.StatusBadRequest, apierror.ValidationFailed, "invalid JSON body")
		return
	}
	if req.Email == "" || req.Password == "" {
		apierror.WriteJSON(w, r, http.StatusBadRequest, apierror.ValidationFailed, "email and password are required")
		return
	}

	created, err := g.auth.CreateUser(r.Context(), upstream.CreateUserRequest{
		Email:    req.Email,
		Password: req.Password,
		FullName: req.FullName,
	})
	if err != nil {
		g.audit.Record(audit.Entry{
			Action:  audit.ActionUserCreateFail,
			Actor:   user.ID,
			Details: map[string]any{"email": req.Email},
		})

		var upErr *upstream.Error
		if errors.As(err, &upErr) {
			apierror.WriteJSON(w, r, http.StatusBadRequest, apierror.ValidationFailed, upErr.Message)
			return
		}
		g.logger.Error("user creation failed", "error", err)
		apierror.WriteJSON(w, r, http.StatusBadGateway, apierror.UpstreamUnavailable, "upstream service unavailable")
		return
	}

	g.audit.Record(audit.Entry{
		Action:  audit.ActionUserCreated,
		Actor:   user.ID,
		Details: map[string]any{"email": created.Email, "user_id": created.ID},
	})
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"user":    created,
	})
}

// handleNotFound answers anything no route claimed.
func (g *Gateway) handleNotFound(w http.ResponseWriter, r *http.Request) {
	apierror.WriteNotFound(w, r.URL.Path)
}

// bearerToken extracts the token from an "Authorization: Bearer x"
// header. Returns false when the header is missing or malformed.
func bearerToken(r *http.Request) (string, bool) {
	auth := r.Header.Get("Authorization")
	if auth == "" {
		return "", false
	}
	parts := strings.SplitN(auth, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || parts[1] == "" {
		return "", false
	}
	return parts[1], true
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body) //nolint:errcheck
}

// clientIP returns the request's remote address without the port.
func clientIP(r *http.Request) string {
	host := r.RemoteAddr
	if i := strings.LastIndex(host, ":"); i >= 0 {
		host = host[:i]
	}
	return host
}
