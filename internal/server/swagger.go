package server

import (
	"encoding/json"
	"fmt"
	"io/ioutil"
	"net/http"
	"strings"

	"github.com/gorilla/mux"
	"gopkg.in/yaml.v2"
)

// messagesSpecPath is the on-disk OpenAPI document for the gateway's
// /v1/messages surface; it must match the ValidationMiddleware's default
// SpecPath so the documented schema and the enforced schema never drift.
const messagesSpecPath = "docs/messages-openapi.yaml"

// setupSwaggerRoutes sets up Swagger UI routes for the /v1/messages API documentation
func (s *Server) setupSwaggerRoutes(r *mux.Router) {
	// Serve OpenAPI spec
	r.HandleFunc("/docs/openapi.yaml", s.handleOpenAPISpec).Methods("GET")
	r.HandleFunc("/docs/openapi.json", s.handleOpenAPISpec).Methods("GET")

	// Serve Swagger UI
	r.HandleFunc("/docs", s.handleSwaggerUI).Methods("GET")
	r.HandleFunc("/docs/", s.handleSwaggerUI).Methods("GET")
	r.HandleFunc("/docs/{path:.*}", s.handleSwaggerUI).Methods("GET")
}

// handleOpenAPISpec serves the OpenAPI specification describing /v1/messages
// and /v1/messages/provider/{name}. If no spec file has been deployed
// alongside the binary, a minimal spec generated from the routes this server
// actually registers is served instead, so /docs never 404s on a fresh install.
func (s *Server) handleOpenAPISpec(w http.ResponseWriter, r *http.Request) {
	isJSON := strings.HasSuffix(r.URL.Path, ".json")

	yamlData, err := ioutil.ReadFile(messagesSpecPath)
	if err != nil {
		yamlData, err = yaml.Marshal(defaultMessagesSpec())
		if err != nil {
			http.Error(w, "Error generating OpenAPI spec", http.StatusInternalServerError)
			return
		}
	}

	w.Header().Set("Access-Control-Allow-Origin", "*")

	if isJSON {
		var spec interface{}
		if err := yaml.Unmarshal(yamlData, &spec); err != nil {
			http.Error(w, "Error parsing OpenAPI spec", http.StatusInternalServerError)
			return
		}

		jsonData, err := json.MarshalIndent(spec, "", "  ")
		if err != nil {
			http.Error(w, "Error converting to JSON", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.Write(jsonData)
		return
	}

	w.Header().Set("Content-Type", "text/yaml")
	w.Write(yamlData)
}

// defaultMessagesSpec describes the gateway's message-routing surface: the
// normal load-balanced entry point and the auth-gated bypass route used to
// target a single provider directly (spec §4.6, route:<provider> scopes).
func defaultMessagesSpec() map[string]interface{} {
	messageSchema := map[string]interface{}{
		"type":     "object",
		"required": []string{"model", "messages"},
		"properties": map[string]interface{}{
			"model": map[string]interface{}{"type": "string"},
			"messages": map[string]interface{}{
				"type": "array",
				"items": map[string]interface{}{
					"type": "object",
					"properties": map[string]interface{}{
						"role":    map[string]interface{}{"type": "string"},
						"content": map[string]interface{}{},
					},
				},
			},
			"stream":           map[string]interface{}{"type": "boolean"},
			"routing_priority": map[string]interface{}{"type": "string"},
		},
	}

	responses := map[string]interface{}{
		"200": map[string]interface{}{"description": "Routed successfully"},
		"400": map[string]interface{}{"description": "Request failed gateway validation"},
		"403": map[string]interface{}{"description": "Caller lacks the route:<provider> scope"},
		"502": map[string]interface{}{"description": "No healthy provider accepted the request"},
	}

	return map[string]interface{}{
		"openapi": "3.0.3",
		"info": map[string]interface{}{
			"title":   "LLM Gateway Messages API",
			"version": "1.0",
		},
		"paths": map[string]interface{}{
			"/v1/messages": map[string]interface{}{
				"post": map[string]interface{}{
					"summary":     "Route a message request through load balancing and failover",
					"requestBody": map[string]interface{}{"content": map[string]interface{}{"application/json": map[string]interface{}{"schema": messageSchema}}},
					"responses":   responses,
				},
			},
			"/v1/messages/provider/{name}": map[string]interface{}{
				"post": map[string]interface{}{
					"summary": "Route a message request directly to one named provider, bypassing load balancing",
					"parameters": []interface{}{
						map[string]interface{}{"name": "name", "in": "path", "required": true, "schema": map[string]interface{}{"type": "string"}},
					},
					"requestBody": map[string]interface{}{"content": map[string]interface{}{"application/json": map[string]interface{}{"schema": messageSchema}}},
					"responses":   responses,
				},
			},
		},
	}
}

// handleSwaggerUI serves the Swagger UI interface
func (s *Server) handleSwaggerUI(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/docs")
	
	// If requesting root docs path, serve the main UI
	if path == "" || path == "/" {
		s.serveSwaggerIndex(w, r)
		return
	}
	
	// For now, serve a simple HTML page
	// In production, you'd serve static Swagger UI assets
	s.serveSwaggerIndex(w, r)
}

// serveSwaggerIndex serves the main Swagger UI HTML page
func (s *Server) serveSwaggerIndex(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html")
	
	// Get the base URL for the API spec
	baseURL := getBaseURL(r)
	specURL := fmt.Sprintf("%s/docs/openapi.yaml", baseURL)
	
	html := fmt.Sprintf(`<!DOCTYPE html>
<html lang="en">
<head>
    <meta charset="UTF-8">
    <meta name="viewport" content="width=device-width, initial-scale=1.0">
    <title>LLM Gateway - Messages API Documentation</title>
    <link rel="stylesheet" type="text/css" href="https://unpkg.com/swagger-ui-dist@5.9.0/swagger-ui.css" />
    <style>
        html {
            box-sizing: border-box;
            overflow: -moz-scrollbars-vertical;
            overflow-y: scroll;
        }
        *, *:before, *:after {
            box-sizing: inherit;
        }
        body {
            margin:0;
            background: #fafafa;
        }
        .swagger-ui .topbar { display: none; }
        .custom-header {
            background: #1f2937;
            color: white;
            padding: 1rem 2rem;
            margin-bottom: 2rem;
        }
        .custom-header h1 {
            margin: 0;
            font-size: 1.5rem;
        }
        .custom-header p {
            margin: 0.5rem 0 0 0;
            opacity: 0.8;
        }
        .feature-highlight {
            background: #10b981;
            color: white;
            padding: 0.25rem 0.5rem;
            border-radius: 0.25rem;
            font-size: 0.875rem;
            margin-left: 0.5rem;
        }
    </style>
</head>
<body>
    <div class="custom-header">
        <h1>LLM Gateway API Documentation</h1>
        <p>
            Provider-agnostic routing, failover, and health monitoring for the /v1/messages API
            <span class="feature-highlight">⚖️ Load Balancing</span>
            <span class="feature-highlight">🔁 Failover</span>
            <span class="feature-highlight">❤️ Health Monitoring</span>
        </p>
    </div>
    <div id="swagger-ui"></div>
    
    <script src="https://unpkg.com/swagger-ui-dist@5.9.0/swagger-ui-bundle.js"></script>
    <script src="https://unpkg.com/swagger-ui-dist@5.9.0/swagger-ui-standalone-preset.js"></script>
    <script>
        window.onload = function() {
            const ui = SwaggerUIBundle({
                url: '%s',
                dom_id: '#swagger-ui',
                deepLinking: true,
                presets: [
                    SwaggerUIBundle.presets.apis,
                    SwaggerUIStandalonePreset
                ],
                plugins: [
                    SwaggerUIBundle.plugins.DownloadUrl
                ],
                layout: "StandaloneLayout",
                defaultModelsExpandDepth: 0,
                defaultModelExpandDepth: 3,
                docExpansion: "list",
                filter: true,
                showRequestHeaders: true,
                supportedSubmitMethods: ['get', 'post', 'put', 'delete', 'patch'],
                validatorUrl: null,
                onComplete: function() {
                    console.log('LLM Gateway Messages API Documentation loaded');
                },
                requestInterceptor: function(request) {
                    // Add default headers or modify requests
                    if (!request.headers['X-API-Key'] && !request.headers['Authorization']) {
                        request.headers['X-API-Key'] = 'your-api-key-here';
                    }
                    return request;
                }
            });
        };
    </script>
</body>
</html>`, specURL)
	
	w.Write([]byte(html))
}

// getBaseURL extracts the base URL from the request
func getBaseURL(r *http.Request) string {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	
	// Check for forwarded headers (common in reverse proxy setups)
	if forwardedProto := r.Header.Get("X-Forwarded-Proto"); forwardedProto != "" {
		scheme = forwardedProto
	}
	
	host := r.Host
	if forwardedHost := r.Header.Get("X-Forwarded-Host"); forwardedHost != "" {
		host = forwardedHost
	}
	
	return fmt.Sprintf("%s://%s", scheme, host)
}