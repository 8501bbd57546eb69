// Package upstream talks to the hosted BaaS auth service: resolving
// bearer session tokens to users and creating accounts with the
// service-role key.
package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// ErrUnauthorized is returned when the auth service does not recognize
// a bearer token.
var ErrUnauthorized = errors.New("upstream rejected the session token")

// ErrNotConfigured is returned when no upstream URL is set.
var ErrNotConfigured = errors.New("upstream backend not configured")

// User is the subset of the auth service's user object the gateway needs.
type User struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

// Error carries a non-2xx auth-service response so callers can relay the
// upstream status and message as-is.
type Error struct {
	Status  int
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("upstream auth error (%d): %s", e.Status, e.Message)
}

// Client calls the upstream auth API.
type Client struct {
	baseURL    string
	anonKey    string
	serviceKey string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates a Client for the given upstream. baseURL may be
// empty; calls then fail with ErrNotConfigured.
func NewClient(baseURL, anonKey, serviceKey string, logger *slog.Logger) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		anonKey:    anonKey,
		serviceKey: serviceKey,
		httpClient: &http.Client{Timeout: 15 * time.Second},
		logger:     logger,
	}
}

// Configured reports whether the client has an upstream URL.
func (c *Client) Configured() bool { return c.baseURL != "" }

// ResolveUser exchanges a bearer session token for the user it belongs
// to. An unrecognized token yields ErrUnauthorized.
func (c *Client) ResolveUser(ctx context.Context, bearer string) (*User, error) {
	if !c.Configured() {
		return nil, ErrNotConfigured
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/auth/v1/user", nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+bearer)
	req.Header.Set("apikey", c.anonKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("resolving session user: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return nil, ErrUnauthorized
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &Error{Status: resp.StatusCode, Message: readErrorMessage(resp.Body)}
	}

	var user User
	if err := json.NewDecoder(resp.Body).Decode(&user); err != nil {
		return nil, fmt.Errorf("decoding user response: %w", err)
	}
	if user.ID == "" {
		return nil, ErrUnauthorized
	}
	return &user, nil
}

// CreateUserRequest is the admin user-creation payload.
type CreateUserRequest struct {
	Email    string
	Password string
	FullName string
}

// CreateUser creates a confirmed user account via the admin endpoint,
// authenticated with the service-role key.
func (c *Client) CreateUser(ctx context.Context, req CreateUserRequest) (*User, error) {
	if !c.Configured() {
		return nil, ErrNotConfigured
	}

	payload := map[string]any{
		"email":         req.Email,
		"password":      req.Password,
		"email_confirm": true,
	}
	if req.FullName != "" {
		payload["user_metadata"] = map[string]string{"full_name": req.FullName}
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/auth/v1/admin/users", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.serviceKey)
	httpReq.Header.Set("apikey", c.serviceKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("creating user: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &Error{Status: resp.StatusCode, Message: readErrorMessage(resp.Body)}
	}

	var user User
	if err := json.NewDecoder(resp.Body).Decode(&user); err != nil {
		return nil, fmt.Errorf("decoding created user: %w", err)
	}
	return &user, nil
}

// readErrorMessage extracts a human message from an upstream error body.
// The auth service is inconsistent about the field name.
func readErrorMessage(r io.Reader) string {
	data, _ := io.ReadAll(io.LimitReader(r, 4096))
	var body map[string]any
	if err := json.Unmarshal(data, &body); err == nil {
		for _, key := range []string{"msg", "message", "error_description", "error"} {
			if s, ok := body[key].(string); ok && s != "" {
				return s
			}
		}
	}
	if len(data) > 0 {
		return string(data)
	}
	return "upstream request failed"
}
