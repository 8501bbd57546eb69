// Package main provides a stand-in for the hosted backend during local
// gateway development. It implements just enough of the auth and REST
// surface to exercise the proxy, session resolution, and admin user
// creation without a real project: /auth/v1/user, /auth/v1/admin/users,
// and an echo under /rest/v1/.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// sessions maps accepted bearer tokens to user ids. Configurable via
// the -admin-token flag; the mapped user is reported as an admin.
type backend struct {
	mu         sync.Mutex
	adminToken string
	serviceKey string
	users      map[string]string // email -> id
}

func main() {
	port := flag.Int("port", 3001, "port to listen on")
	adminToken := flag.String("admin-token", "dev-admin-session", "bearer token accepted as an admin session")
	serviceKey := flag.String("service-key", "dev-service-key", "service role key accepted on elevated requests")
	flag.Parse()

	b := &backend{
		adminToken: *adminToken,
		serviceKey: *serviceKey,
		users:      make(map[string]string),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/auth/v1/user", b.handleUser)
	mux.HandleFunc("/auth/v1/admin/users", b.handleCreateUser)
	mux.HandleFunc("/rest/v1/", b.handleRest)

	// /__status/{code} echoes an arbitrary status, for exercising the
	// gateway's verbatim error relay and circuit breaker.
	mux.HandleFunc("/__status/", handleStatus)

	addr := fmt.Sprintf(":%d", *port)
	log.Printf("fake backend listening on %s (admin token %q)", addr, *adminToken)
	log.Fatal(http.ListenAndServe(addr, mux))
}

func bearer(r *http.Request) string {
	h := r.Header.Get("Authorization")
	parts := strings.SplitN(h, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v) //nolint:errcheck
}

// handleUser resolves the current session, mimicking GET /auth/v1/user.
func (b *backend) handleUser(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"msg": "method not allowed"})
		return
	}
	if bearer(r) != b.adminToken {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"msg": "invalid JWT"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"id":    "00000000-0000-0000-0000-000000000001",
		"email": "admin@example.dev",
		"role":  "authenticated",
	})
}

// handleCreateUser mimics POST /auth/v1/admin/users: requires the
// service role key and rejects duplicate emails the way the real
// backend does, so the gateway's 400 relay path can be exercised.
func (b *backend) handleCreateUser(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"msg": "method not allowed"})
		return
	}
	if bearer(r) != b.serviceKey {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"msg": "invalid service key"})
		return
	}

	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Email == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"msg": "email is required"})
		return
	}
	if len(req.Password) < 6 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"msg": "Password should be at least 6 characters"})
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if _, exists := b.users[req.Email]; exists {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"msg": "A user with this email address has already been registered"})
		return
	}
	id := uuid.NewString()
	b.users[req.Email] = id

	writeJSON(w, http.StatusOK, map[string]any{
		"id":         id,
		"email":      req.Email,
		"created_at": time.Now().UTC().Format(time.RFC3339),
	})
}

// handleRest echoes request details, standing in for PostgREST.
func (b *backend) handleRest(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"table":    strings.TrimPrefix(r.URL.Path, "/rest/v1/"),
		"method":   r.Method,
		"query":    r.URL.RawQuery,
		"apikey":   r.Header.Get("apikey") != "",
		"elevated": bearer(r) == b.serviceKey,
	})
}

func handleStatus(w http.ResponseWriter, r *http.Request) {
	code, err := strconv.Atoi(strings.TrimPrefix(r.URL.Path, "/__status/"))
	if err != nil || code < 100 || code > 599 {
		code = 500
	}
	writeJSON(w, code, map[string]any{
		"requested_code": code,
		"message":        http.StatusText(code),
	})
}
