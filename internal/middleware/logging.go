// Package middleware provides the gateway's HTTP middleware: structured
// request logging, CORS, request IDs, body limits, deadlines, and panic
// recovery.
package middleware

import (
	"bytes"
	"io"
	"log/slog"
	"net/http"
	"regexp"
	"strings"
	"time"
)

// statusRecorder wraps http.ResponseWriter to capture the status code.
type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (sr *statusRecorder) WriteHeader(code int) {
	sr.statusCode = code
	sr.ResponseWriter.WriteHeader(code)
}

// LoggingConfig holds the runtime options for the Logging middleware.
type LoggingConfig struct {
	BodyLogging     bool
	MaxBodyLogBytes int
}

// Logging returns middleware that logs each request as structured JSON:
// method, path, status, latency, client IP, request ID. Body logging is
// opt-in and always redacts credential-shaped fields — token values,
// passwords, and keys never reach the log in full.
func Logging(logger *slog.Logger, cfg *LoggingConfig) func(http.Handler) http.Handler {
	logBody := cfg != nil && cfg.BodyLogging
	maxBody := 4096
	if cfg != nil && cfg.MaxBodyLogBytes > 0 {
		maxBody = cfg.MaxBodyLogBytes
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			var reqBody string
			if logBody && loggableContentType(r.Header.Get("Content-Type")) && r.Body != nil {
				reqBody = captureRequestBody(r, maxBody)
			}

			recorder := &statusRecorder{ResponseWriter: w, statusCode: http.StatusOK}
			next.ServeHTTP(recorder, r)

			attrs := []any{
				"method", r.Method,
				"path", r.URL.Path,
				"status", recorder.statusCode,
				"latency_ms", time.Since(start).Milliseconds(),
				"client_ip", r.RemoteAddr,
				"request_id", GetRequestID(r.Context()),
			}
			if reqBody != "" {
				attrs = append(attrs, "request_body", reqBody)
			}

			logger.Info("request", attrs...)
		})
	}
}

// loggableContentType reports whether a body of this type is text-based
// and safe to include in logs.
func loggableContentType(contentType string) bool {
	if contentType == "" {
		return false
	}
	ct := strings.ToLower(contentType)
	return strings.Contains(ct, "json") ||
		strings.HasPrefix(ct, "text/") ||
		strings.Contains(ct, "xml") ||
		strings.Contains(ct, "form-urlencoded")
}

// captureRequestBody reads and replaces r.Body, returning up to maxBytes
// of the body with sensitive fields redacted.
func captureRequestBody(r *http.Request, maxBytes int) string {
	var buf bytes.Buffer
	tee := io.TeeReader(r.Body, &buf)
	limited := io.LimitReader(tee, int64(maxBytes)+1)
	captured, _ := io.ReadAll(limited)
	// Reconstruct the body for downstream handlers.
	r.Body = io.NopCloser(io.MultiReader(&buf, r.Body))

	s := string(captured)
	if len(captured) > maxBytes {
		s = s[:maxBytes] + "...[truncated]"
	}
	return redactSensitive(s)
}

// sensitiveFieldRe matches JSON key-value pairs for credential-shaped
// fields. Compiled once; single-pass replacement.
var sensitiveFieldRe = regexp.MustCompile(
	`(?i)"(?:password|secret|token|key|apikey|authorization)"\s*:\s*"[^"]*"`,
)

// redactSensitive replaces sensitive field values in log output.
func redactSensitive(s string) string {
	return sensitiveFieldRe.ReplaceAllStringFunc(s, func(match string) string {
		closing := strings.LastIndex(match, `"`)
		inner := match[:closing]
		valueOpen := strings.LastIndex(inner, `"`)
		if valueOpen == -1 {
			return match
		}
		return match[:valueOpen+1] + "***" + `"`
	})
}
