// Package gateway assembles the gateway's public HTTP surface: the
// documentation pages, health and environment introspection, token
// verification, the admin user-creation action, and the generic proxy
// routes, dispatched through an ordered route table.
package gateway

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/dskow/baas-gateway/internal/audit"
	"github.com/dskow/baas-gateway/internal/config"
	"github.com/dskow/baas-gateway/internal/rbac"
	"github.com/dskow/baas-gateway/internal/routing"
	"github.com/dskow/baas-gateway/internal/token"
	"github.com/dskow/baas-gateway/internal/upstream"
)

// TokenValidator checks opaque API tokens against the token store.
type TokenValidator interface {
	Validate(ctx context.Context, value string) (token.Result, error)
}

// AuthClient is the slice of the upstream auth service the handlers use.
type AuthClient interface {
	ResolveUser(ctx context.Context, bearer string) (*upstream.User, error)
	CreateUser(ctx context.Context, req upstream.CreateUserRequest) (*upstream.User, error)
}

// Forwarder proxies /auth/* and /rest/* traffic to the backend.
type Forwarder interface {
	Forward(w http.ResponseWriter, r *http.Request, routeName string)
	ForwardElevated(w http.ResponseWriter, r *http.Request, routeName string)
}

// Gateway holds the handlers' collaborators. Any of validator, auth,
// roles may be nil when the corresponding backend is not configured;
// the affected routes then answer with a 500 configuration error.
// The audit recorder must not be nil; pass audit.NewNop without a
// database.
type Gateway struct {
	upstream  config.UpstreamConfig
	session   config.SessionConfig
	validator TokenValidator
	auth      AuthClient
	roles     rbac.Checker
	forwarder Forwarder
	audit     *audit.Recorder
	logger    *slog.Logger
}

// New creates a Gateway.
func New(upstreamCfg config.UpstreamConfig, sessionCfg config.SessionConfig, validator TokenValidator, auth AuthClient, roles rbac.Checker, forwarder Forwarder, auditor *audit.Recorder, logger *slog.Logger) *Gateway {
	return &Gateway{
		upstream:  upstreamCfg,
		session:   sessionCfg,
		validator: validator,
		auth:      auth,
		roles:     roles,
		forwarder: forwarder,
		audit:     auditor,
		logger:    logger,
	}
}

// Routes builds the ordered dispatch table. Order is the contract:
// preflight first, then the exact-path endpoints, then the proxy
// prefixes, with everything else falling through to the 404 handler.
func (g *Gateway) Routes() *routing.Table {
	return routing.NewTable([]routing.Route{
		{Name: "preflight", Match: routing.Method(http.MethodOptions), Handler: http.HandlerFunc(g.handlePreflight)},
		{Name: "docs", Match: routing.Exact(http.MethodGet, "/"), Handler: http.HandlerFunc(g.handleDocs)},
		{Name: "spec", Match: routing.Path("/spec"), Handler: http.HandlerFunc(g.handleSpec)},
		{Name: "health", Match: routing.Exact(http.MethodGet, "/health"), Handler: http.HandlerFunc(g.handleHealth)},
		{Name: "env", Match: routing.Exact(http.MethodGet, "/api/env"), Handler: http.HandlerFunc(g.handleEnv)},
		{Name: "token-verify", Match: routing.Exact(http.MethodPost, "/api/token/verify"), Handler: http.HandlerFunc(g.handleTokenVerify)},
		{Name: "create-user", Match: routing.Exact(http.MethodPost, "/api/create-user"), Handler: http.HandlerFunc(g.handleCreateUser)},
		{Name: "proxy", Match: routing.Prefix("/auth", "/rest"), Handler: http.HandlerFunc(g.handleProxy)},
	}, http.HandlerFunc(g.handleNotFound))
}

// handlePreflight answers CORS preflight. The CORS middleware has
// already attached the allow headers; the body stays empty.
func (g *Gateway) handlePreflight(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}

// handleProxy relays /auth/* and /rest/* traffic. The X-API-Token
// header selects the elevated path.
func (g *Gateway) handleProxy(w http.ResponseWriter, r *http.Request) {
	if r.Header.Get("X-API-Token") != "" {
		g.forwarder.ForwardElevated(w, r, "proxy-elevated")
		return
	}
	g.forwarder.Forward(w, r, "proxy")
}
