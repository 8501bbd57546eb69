// Package apierror provides a centralized error response format for the
// gateway. All components use WriteJSON to produce consistent, machine-
// readable error responses: every body carries an "error" string suitable
// for direct display by the calling UI, plus a stable error code.
package apierror

import (
	"encoding/json"
	"net/http"
)

// ErrorCode is a machine-readable error classification string.
type ErrorCode string

// Gateway error codes. These form a public API contract — clients can program
// against these stable codes. Do not rename or remove existing codes.
const (
	RouteNotFound        ErrorCode = "GATEWAY_ROUTE_NOT_FOUND"
	UpstreamNotSet       ErrorCode = "GATEWAY_UPSTREAM_NOT_CONFIGURED"
	TokenStoreNotSet     ErrorCode = "GATEWAY_TOKEN_STORE_NOT_CONFIGURED"
	UpstreamUnavailable  ErrorCode = "GATEWAY_UPSTREAM_UNAVAILABLE"
	CircuitOpen          ErrorCode = "GATEWAY_CIRCUIT_OPEN"
	AuthMissingToken     ErrorCode = "GATEWAY_AUTH_MISSING_TOKEN"
	AuthInvalidToken     ErrorCode = "GATEWAY_AUTH_INVALID_TOKEN"
	AuthInvalidAPIToken  ErrorCode = "GATEWAY_AUTH_INVALID_API_TOKEN"
	AdminRoleRequired    ErrorCode = "GATEWAY_ADMIN_ROLE_REQUIRED"
	ValidationFailed     ErrorCode = "GATEWAY_VALIDATION_FAILED"
	RateLimitExceeded    ErrorCode = "GATEWAY_RATE_LIMIT_EXCEEDED"
	InternalError        ErrorCode = "GATEWAY_INTERNAL_ERROR"
	BodyTooLarge         ErrorCode = "GATEWAY_BODY_TOO_LARGE"
	DeadlineExceeded     ErrorCode = "GATEWAY_DEADLINE_EXCEEDED"
)

// ErrorResponse is the standardized gateway error body. Error is the
// human-readable message; Path is set only by the not-found handler.
type ErrorResponse struct {
	Error     string `json:"error"`
	ErrorCode string `json:"error_code,omitempty"`
	Path      string `json:"path,omitempty"`
	RequestID string `json:"request_id,omitempty"`
}

// Pre-serialized JSON bodies for the most common error responses.
// Avoids json.Encoder allocation on every error in the hot path.
// These do NOT include request_id since it varies per request.
var (
	preUpstreamNotSet      = mustMarshal(UpstreamNotSet, "upstream backend not configured")
	preUpstreamUnavailable = mustMarshal(UpstreamUnavailable, "upstream service unavailable")
	preCircuitOpen         = mustMarshal(CircuitOpen, "upstream circuit breaker open")
	preAuthMissingToken    = mustMarshal(AuthMissingToken, "Missing authorization header")
	preInvalidAPIToken     = mustMarshal(AuthInvalidAPIToken, "Invalid or expired API token")
	preRateLimitExceeded   = mustMarshal(RateLimitExceeded, "rate limit exceeded, retry later")
)

func mustMarshal(code ErrorCode, message string) []byte {
	b, _ := json.Marshal(ErrorResponse{
		Error:     message,
		ErrorCode: string(code),
	})
	return append(b, '\n')
}

// WriteJSON writes a structured JSON error response. For common error
// code+message combinations, pre-serialized bodies are used (no allocation).
// When request_id is available (from X-Request-ID header), it is included in
// the response. The request parameter may be nil for contexts where the
// request is not available.
func WriteJSON(w http.ResponseWriter, r *http.Request, status int, code ErrorCode, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	requestID := ""
	if r != nil {
		requestID = r.Header.Get("X-Request-ID")
	}

	if requestID == "" {
		if body := preSerialized(code, message); body != nil {
			w.Write(body) //nolint:errcheck
			return
		}
	}

	json.NewEncoder(w).Encode(ErrorResponse{
		Error:     message,
		ErrorCode: string(code),
		RequestID: requestID,
	})
}

// WriteNotFound writes the 404 body for unmatched routes, echoing the
// requested path: {"error": "Not found", "path": "/foo/bar"}.
func WriteNotFound(w http.ResponseWriter, path string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusNotFound)
	json.NewEncoder(w).Encode(ErrorResponse{
		Error:     "Not found",
		ErrorCode: string(RouteNotFound),
		Path:      path,
	})
}

// preSerialized returns a pre-built response body for common error
// combinations, or nil if no match.
func preSerialized(code ErrorCode, message string) []byte {
	switch {
	case code == UpstreamNotSet && message == "upstream backend not configured":
		return preUpstreamNotSet
	case code == UpstreamUnavailable && message == "upstream service unavailable":
		return preUpstreamUnavailable
	case code == CircuitOpen && message == "upstream circuit breaker open":
		return preCircuitOpen
	case code == AuthMissingToken && message == "Missing authorization header":
		return preAuthMissingToken
	case code == AuthInvalidAPIToken && message == "Invalid or expired API token":
		return preInvalidAPIToken
	case code == RateLimitExceeded && message == "rate limit exceeded, retry later":
		return preRateLimitExceeded
	}
	return nil
}
