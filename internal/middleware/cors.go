package middleware

import (
	"net/http"
	"strings"
)

// CORSConfig holds CORS middleware settings.
type CORSConfig struct {
	AllowedOrigins []string
	AllowedMethods []string
	AllowedHeaders []string
	MaxAge         string
}

// DefaultCORSConfig returns the gateway's CORS policy. The surface is
// consumed by a browser dashboard on arbitrary origins, so the origin is
// a wildcard and the credential-carrying headers are all listed.
func DefaultCORSConfig() CORSConfig {
	return CORSConfig{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS", "PATCH"},
		AllowedHeaders: []string{"Authorization", "Content-Type", "apikey", "X-API-Token", "X-Request-ID"},
		MaxAge:         "86400",
	}
}

// CORS returns middleware that attaches CORS headers to every response,
// whether or not the request carried an Origin header. Error bodies and
// proxied upstream responses must be readable cross-origin too, so there
// is no conditional path here. OPTIONS requests pass through to the
// route table, which answers preflight with an empty 200.
func CORS(cfg CORSConfig) func(http.Handler) http.Handler {
	origins := strings.Join(cfg.AllowedOrigins, ", ")
	methods := strings.Join(cfg.AllowedMethods, ", ")
	headers := strings.Join(cfg.AllowedHeaders, ", ")

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", origins)
			w.Header().Set("Access-Control-Allow-Methods", methods)
			w.Header().Set("Access-Control-Allow-Headers", headers)
			w.Header().Set("Access-Control-Max-Age", cfg.MaxAge)

			next.ServeHTTP(w, r)
		})
	}
}
