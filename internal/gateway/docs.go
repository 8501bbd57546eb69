package gateway

import (
	"net/http"
)

// docsHTML is the documentation viewer served at /. It embeds Swagger UI
// from a CDN and points it at the gateway's own /spec document.
const docsHTML = `<!DOCTYPE html>
<html lang="en">
<head>
  <meta charset="utf-8">
  <meta name="viewport" content="width=device-width, initial-scale=1">
  <title>Gateway API</title>
  <link rel="stylesheet" href="https://unpkg.com/swagger-ui-dist@5/swagger-ui.css">
</head>
<body>
  <div id="swagger-ui"></div>
  <script src="https://unpkg.com/swagger-ui-dist@5/swagger-ui-bundle.js"></script>
  <script>
    SwaggerUIBundle({
      url: "/spec",
      dom_id: "#swagger-ui",
    });
  </script>
</body>
</html>
`

// handleDocs serves the static documentation page.
func (g *Gateway) handleDocs(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(docsHTML)) //nolint:errcheck
}

// handleSpec serves the OpenAPI description. The servers list is
// computed per request: the gateway's own origin first, then the
// configured upstream when one exists.
func (g *Gateway) handleSpec(w http.ResponseWriter, r *http.Request) {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if forwarded := r.Header.Get("X-Forwarded-Proto"); forwarded != "" {
		scheme = forwarded
	}

	servers := []map[string]string{
		{"url": scheme + "://" + r.Host, "description": "This gateway"},
	}
	if g.upstream.Configured() {
		servers = append(servers, map[string]string{
			"url": g.upstream.URL, "description": "Upstream backend (direct)",
		})
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"openapi": "3.0.3",
		"info": map[string]any{
			"title":       "BaaS Admin Gateway",
			"description": "Routing, API token verification, and credential-elevating proxy in front of the backend platform.",
			"version":     "1.0.0",
		},
		"servers": servers,
		"paths": map[string]any{
			"/health": map[string]any{
				"get": map[string]any{
					"summary": "Liveness check",
					"responses": map[string]any{
						"200": map[string]any{"description": "Gateway is serving"},
					},
				},
			},
			"/api/env": map[string]any{
				"get": map[string]any{
					"summary": "Redacted configuration presence flags",
					"responses": map[string]any{
						"200": map[string]any{"description": "Presence flags and region tag, never secret values"},
					},
				},
			},
			"/api/token/verify": map[string]any{
				"post": map[string]any{
					"summary": "Verify an API token",
					"requestBody": map[string]any{
						"content": map[string]any{
							"application/json": map[string]any{
								"schema": map[string]any{
									"type":     "object",
									"required": []string{"token"},
									"properties": map[string]any{
										"token": map[string]any{"type": "string"},
									},
								},
							},
						},
					},
					"responses": map[string]any{
						"200": map[string]any{"description": "Token is valid; body carries its permission list"},
						"401": map[string]any{"description": "Unknown, revoked, or expired token"},
					},
				},
			},
			"/api/create-user": map[string]any{
				"post": map[string]any{
					"summary": "Create a backend user (admin only)",
					"requestBody": map[string]any{
						"content": map[string]any{
							"application/json": map[string]any{
								"schema": map[string]any{
									"type":     "object",
									"required": []string{"email", "password"},
									"properties": map[string]any{
										"email":     map[string]any{"type": "string"},
										"password":  map[string]any{"type": "string"},
										"full_name": map[string]any{"type": "string"},
									},
								},
							},
						},
					},
					"responses": map[string]any{
						"200": map[string]any{"description": "User created"},
						"400": map[string]any{"description": "Missing fields or upstream rejection"},
						"401": map[string]any{"description": "Missing or invalid bearer session"},
						"403": map[string]any{"description": "Caller lacks the admin role"},
					},
				},
			},
			"/auth/{path}": map[string]any{
				"description": "Proxied verbatim to the upstream auth service. X-API-Token elevates to service credentials.",
			},
			"/rest/{path}": map[string]any{
				"description": "Proxied verbatim to the upstream REST interface. X-API-Token elevates to service credentials.",
			},
		},
	})
}
