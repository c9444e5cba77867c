package server

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/tributary-ai/llm-gateway/internal/bridge"
	"github.com/tributary-ai/llm-gateway/internal/gateway"
	"github.com/tributary-ai/llm-gateway/internal/types"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	logger := logrus.New()
	logger.SetLevel(logrus.WarnLevel)

	mgr := gateway.New(logger)
	cfg := &types.ProviderConfig{
		Name:         "synthetic-a",
		BaseURL:      "synthetic://local",
		Capabilities: types.CapabilityStreaming,
		Enabled:      true,
		HealthCheck: types.HealthCheckParams{
			Interval:       types.DurationSeconds(30 * time.Second),
			MaxFailures:    3,
			FailureTimeout: types.DurationSeconds(60 * time.Second),
			RequiredProbes: 2,
		},
	}
	if err := mgr.AddProvider("synthetic-a", cfg); err != nil {
		t.Fatalf("AddProvider: %v", err)
	}
	if err := mgr.AddProviderAdapter("synthetic-a", bridge.NewSyntheticBridge("synthetic-a")); err != nil {
		t.Fatalf("AddProviderAdapter: %v", err)
	}
	mgr.SetDefaultProvider("synthetic-a")
	if err := mgr.Initialize(); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	t.Cleanup(func() { _ = mgr.Shutdown() })

	srv, err := NewServer(mgr, &ServerConfig{Port: "0"}, logger)
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	return srv
}

func TestServer_HealthCheckReportsHealthyOnFreshGateway(t *testing.T) {
	srv := newTestServer(t)
	r := srv.setupRoutes()

	req := httptest.NewRequest(http.MethodGet, "/v1/health", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
}

func TestServer_ListProviders(t *testing.T) {
	srv := newTestServer(t)
	r := srv.setupRoutes()

	req := httptest.NewRequest(http.MethodGet, "/v1/providers", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "synthetic-a") {
		t.Fatalf("expected provider name in body, got %s", w.Body.String())
	}
}

func TestServer_GetProviderNotFoundIs404(t *testing.T) {
	srv := newTestServer(t)
	r := srv.setupRoutes()

	req := httptest.NewRequest(http.MethodGet, "/v1/providers/ghost", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown provider, got %d", w.Code)
	}
}

func TestServer_HandleMessagesRoutesToSyntheticProvider(t *testing.T) {
	srv := newTestServer(t)
	r := srv.setupRoutes()

	body := `{"model":"any","messages":[{"role":"user","content":"hello"}]}`
	req := httptest.NewRequest(http.MethodPost, "/v1/messages", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200 from synthetic provider, got %d: %s", w.Code, w.Body.String())
	}
}

func TestServer_HandleMessagesRejectsWrongContentType(t *testing.T) {
	srv := newTestServer(t)
	r := srv.setupRoutes()

	req := httptest.NewRequest(http.MethodPost, "/v1/messages", strings.NewReader(`{}`))
	req.Header.Set("Content-Type", "text/plain")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusUnsupportedMediaType {
		t.Fatalf("expected 415 for non-JSON content type, got %d", w.Code)
	}
}

func TestServer_TracingMiddlewarePassesThroughAndTagsStatus(t *testing.T) {
	srv := newTestServer(t)

	called := false
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		w.WriteHeader(http.StatusTeapot)
	})

	handler := srv.tracingMiddleware(next)
	req := httptest.NewRequest(http.MethodGet, "/whatever", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if !called {
		t.Fatal("expected the wrapped handler to run")
	}
	if w.Code != http.StatusTeapot {
		t.Fatalf("expected tracing middleware to be transparent to status code, got %d", w.Code)
	}
}

func TestServer_MetricsEndpointIsPrometheusExposition(t *testing.T) {
	srv := newTestServer(t)
	r := srv.setupRoutes()

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200 from /metrics, got %d", w.Code)
	}
}

