package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/tributary-ai/llm-gateway/internal/gateway"
	"github.com/tributary-ai/llm-gateway/internal/middleware"
	"github.com/tributary-ai/llm-gateway/internal/types"
)

// tracer emits one span per inbound request. It resolves through whatever
// TracerProvider the embedding process registers via otel.SetTracerProvider;
// with none registered it's a documented no-op, so tracing is opt-in without
// an extra feature flag.
var tracer = otel.Tracer("github.com/tributary-ai/llm-gateway/internal/server")

// Server is the HTTP front door onto a gateway.Manager: an
// Anthropic-compatible /v1/messages endpoint plus the admin/introspection
// surface from spec §4.6 (list/get providers, health, capabilities, routing
// decision debug) and a real Prometheus /metrics exposition.
type Server struct {
	mgr                  *gateway.Manager
	httpServer           *http.Server
	logger               *logrus.Logger
	config               *ServerConfig
	securityMiddleware   *middleware.SecurityMiddleware
	validationMiddleware *middleware.ValidationMiddleware
}

// ServerConfig holds server configuration
type ServerConfig struct {
	Port           string                                `yaml:"port"`
	ReadTimeout    time.Duration                         `yaml:"read_timeout"`
	WriteTimeout   time.Duration                         `yaml:"write_timeout"`
	MaxHeaderBytes int                                   `yaml:"max_header_bytes"`
	Security       *middleware.SecurityMiddlewareConfig  `yaml:"security"`
	Validation     *middleware.ValidationConfig          `yaml:"validation"`
}

// NewServer creates a new server instance bound to mgr.
func NewServer(mgr *gateway.Manager, config *ServerConfig, logger *logrus.Logger) (*Server, error) {
	server := &Server{
		mgr:    mgr,
		logger: logger,
		config: config,
	}

	if config.Security != nil {
		securityMiddleware, err := middleware.NewSecurityMiddleware(config.Security, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize security middleware: %w", err)
		}
		server.securityMiddleware = securityMiddleware
	}

	if config.Validation != nil {
		validationMiddleware, err := middleware.NewValidationMiddleware(config.Validation, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize validation middleware: %w", err)
		}
		server.validationMiddleware = validationMiddleware
	}

	return server, nil
}

// Start starts the HTTP server
func (s *Server) Start() error {
	r := s.setupRoutes()

	s.httpServer = &http.Server{
		Addr:           ":" + s.config.Port,
		Handler:        r,
		ReadTimeout:    s.config.ReadTimeout,
		WriteTimeout:   s.config.WriteTimeout,
		MaxHeaderBytes: s.config.MaxHeaderBytes,
	}

	s.logger.WithField("port", s.config.Port).Info("starting gateway server")
	return s.httpServer.ListenAndServe()
}

// Stop stops the HTTP server gracefully
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("stopping gateway server")

	if s.securityMiddleware != nil {
		s.securityMiddleware.Stop()
	}

	return s.httpServer.Shutdown(ctx)
}

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes() *mux.Router {
	r := mux.NewRouter()

	if s.securityMiddleware != nil {
		r.Use(s.securityMiddleware.Handler())
	}
	if s.validationMiddleware != nil {
		r.Use(s.validationMiddleware.Middleware)
	}

	r.Use(s.tracingMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.corsMiddleware)
	r.Use(s.contentTypeMiddleware)

	api := r.PathPrefix("/v1").Subrouter()
	api.HandleFunc("/messages", s.handleMessages).Methods("POST")
	api.HandleFunc("/messages/provider/{name}", s.handleMessagesToProvider).Methods("POST")
	api.HandleFunc("/providers", s.handleListProviders).Methods("GET")
	api.HandleFunc("/providers/{name}", s.handleGetProvider).Methods("GET")
	api.HandleFunc("/health", s.handleHealthCheck).Methods("GET")
	api.HandleFunc("/health/{name}", s.handleProviderHealth).Methods("GET")
	api.HandleFunc("/capabilities", s.handleCapabilities).Methods("GET")
	api.HandleFunc("/routing/decision", s.handleRoutingDecision).Methods("POST")
	api.HandleFunc("/metrics/snapshot", s.handleMetricsSnapshot).Methods("GET")

	// Health check endpoint (no /v1 prefix), for container/LB probes.
	r.HandleFunc("/health", s.handleHealthCheck).Methods("GET")

	// Real Prometheus exposition, scraped by promauto's default registry
	// (internal/metrics.Ring registers its collectors there).
	r.Handle("/metrics", promhttp.Handler()).Methods("GET")

	s.setupSwaggerRoutes(r)

	return r
}

// Middleware

func (s *Server) tracingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), r.Method+" "+r.URL.Path,
			trace.WithAttributes(
				attribute.String("http.method", r.Method),
				attribute.String("http.target", r.URL.Path),
			),
		)
		defer span.End()

		wrapped := &responseWriter{ResponseWriter: w, statusCode: 200}
		next.ServeHTTP(wrapped, r.WithContext(ctx))

		span.SetAttributes(attribute.Int("http.status_code", wrapped.statusCode))
		if wrapped.statusCode >= 500 {
			span.SetStatus(codes.Error, http.StatusText(wrapped.statusCode))
		}
	})
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &responseWriter{ResponseWriter: w, statusCode: 200}

		next.ServeHTTP(wrapped, r)

		s.logger.WithFields(logrus.Fields{
			"method":      r.Method,
			"path":        r.URL.Path,
			"status":      wrapped.statusCode,
			"duration_ms": time.Since(start).Milliseconds(),
			"remote_addr": r.RemoteAddr,
		}).Info("http request")
	})
}

func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-API-Key")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) contentTypeMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == "POST" || r.Method == "PUT" {
			contentType := r.Header.Get("Content-Type")
			if contentType != "application/json" && contentType != "" {
				s.writeErrorResponse(w, http.StatusUnsupportedMediaType, "Content-Type must be application/json")
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

// Handlers

// handleMessages accepts an Anthropic-shaped chat request, routes it through
// the gateway, and returns the upstream response (spec §1/§4.6.1).
func (s *Server) handleMessages(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decodeGatewayRequest(w, r)
	if !ok {
		return
	}

	resp := s.mgr.RouteRequest(r.Context(), req)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCodeForResponse(resp))
	json.NewEncoder(w).Encode(resp)
}

// handleMessagesToProvider bypasses routing entirely and dispatches straight
// to the named provider (spec §4.6 "route_request_to_provider"), honoring
// only enablement/circuit state. Because this skips every capability and
// scoring filter, a request that carries auth info must hold the matching
// route scope; a request with no auth info in its context is not checked.
func (s *Server) handleMessagesToProvider(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]

	if authInfo, found := middleware.AuthInfoFromContext(r.Context()); found {
		if !authInfo.CanRouteTo(name) {
			s.writeErrorResponse(w, http.StatusForbidden, fmt.Sprintf("not authorized to route to provider %q", name))
			return
		}
	}

	req, ok := s.decodeGatewayRequest(w, r)
	if !ok {
		return
	}

	resp := s.mgr.RouteRequestToProvider(r.Context(), req, name)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCodeForResponse(resp))
	json.NewEncoder(w).Encode(resp)
}

// decodeGatewayRequest parses the inbound JSON body into a types.Request and
// runs it through the security validator's gateway-domain checks (spec §3
// "Request") before handing it to the gateway. Writes an error response and
// returns ok=false on any failure.
func (s *Server) decodeGatewayRequest(w http.ResponseWriter, r *http.Request) (*types.Request, bool) {
	var body map[string]interface{}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.writeErrorResponse(w, http.StatusBadRequest, fmt.Sprintf("invalid JSON: %v", err))
		return nil, false
	}

	req := &types.Request{
		Method: "messages",
		Data:   body,
	}
	if model, ok := body["model"].(string); ok {
		req.Model = model
	}
	if priority, ok := body["routing_priority"].(string); ok {
		req.RoutingPriority = types.RoutingPriority(priority)
	}

	if s.securityMiddleware != nil {
		if result := s.securityMiddleware.ValidateGatewayRequest(req); result != nil && !result.Valid {
			s.writeErrorResponse(w, http.StatusBadRequest, strings.Join(result.Errors, "; "))
			return nil, false
		}
	}

	return req, true
}

func statusCodeForResponse(resp *types.Response) int {
	if resp.Success {
		return http.StatusOK
	}
	if resp.StatusCode >= 400 {
		return resp.StatusCode
	}
	return http.StatusServiceUnavailable
}

// handleListProviders lists all registered providers
func (s *Server) handleListProviders(w http.ResponseWriter, r *http.Request) {
	providerList := s.mgr.ListProviders()

	response := map[string]interface{}{
		"providers": providerList,
		"count":     len(providerList),
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(response)
}

// handleGetProvider gets information about a specific provider
func (s *Server) handleGetProvider(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	name := vars["name"]

	if !s.mgr.ProviderExists(name) {
		s.writeErrorResponse(w, http.StatusNotFound, fmt.Sprintf("provider %s not found", name))
		return
	}

	caps := s.mgr.GetProviderCapabilities()[name]
	health := s.mgr.GetHealthSnapshot()[name]

	response := map[string]interface{}{
		"name":         name,
		"capabilities": caps.String(),
		"health":       health,
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(response)
}

// handleHealthCheck returns overall health status
func (s *Server) handleHealthCheck(w http.ResponseWriter, r *http.Request) {
	health := s.mgr.GetHealthSnapshot()

	overallHealthy := true
	for _, status := range health {
		if status.State != "HEALTHY" {
			overallHealthy = false
			break
		}
	}

	status := "healthy"
	statusCode := http.StatusOK
	if !overallHealthy {
		status = "degraded"
		statusCode = http.StatusServiceUnavailable
	}

	response := map[string]interface{}{
		"status":    status,
		"providers": health,
		"timestamp": time.Now().Unix(),
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(response)
}

// handleProviderHealth returns health status for specific provider
func (s *Server) handleProviderHealth(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	name := vars["name"]

	health := s.mgr.GetHealthSnapshot()
	providerHealth, exists := health[name]
	if !exists {
		s.writeErrorResponse(w, http.StatusNotFound, fmt.Sprintf("provider %s not found", name))
		return
	}

	response := map[string]interface{}{
		"provider":  name,
		"status":    providerHealth,
		"timestamp": time.Now().Unix(),
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(response)
}

// handleCapabilities returns capabilities of all providers
func (s *Server) handleCapabilities(w http.ResponseWriter, r *http.Request) {
	caps := s.mgr.GetProviderCapabilities()
	rendered := make(map[string]string, len(caps))
	for name, c := range caps {
		rendered[name] = c.String()
	}

	response := map[string]interface{}{
		"capabilities": rendered,
		"timestamp":    time.Now().Unix(),
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(response)
}

// handleRoutingDecision returns the routing decision for a request without
// dispatching it upstream (spec §4.6 admin "explain this routing").
func (s *Server) handleRoutingDecision(w http.ResponseWriter, r *http.Request) {
	var body map[string]interface{}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.writeErrorResponse(w, http.StatusBadRequest, fmt.Sprintf("invalid JSON: %v", err))
		return
	}

	req := &types.Request{Method: "messages", Data: body}
	if model, ok := body["model"].(string); ok {
		req.Model = model
	}

	debug := s.mgr.DebugRoutingDecision(req)

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(debug)
}

// handleMetricsSnapshot returns the application-level metrics snapshot and
// recent request records (spec §4.7), distinct from the Prometheus-format
// /metrics exposition used by scrapers.
func (s *Server) handleMetricsSnapshot(w http.ResponseWriter, r *http.Request) {
	snapshot := s.mgr.GetMetrics()
	recent := s.mgr.GetRecentMetrics(100)

	response := map[string]interface{}{
		"summary": snapshot,
		"recent":  recent,
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(response)
}

// Helper functions

func (s *Server) writeErrorResponse(w http.ResponseWriter, statusCode int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	errorResp := map[string]interface{}{
		"error": map[string]interface{}{
			"message": message,
			"type":    "api_error",
			"code":    statusCode,
		},
		"timestamp": time.Now().Unix(),
	}

	json.NewEncoder(w).Encode(errorResp)
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Flush implements http.Flusher for streaming support
func (rw *responseWriter) Flush() {
	if flusher, ok := rw.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}
