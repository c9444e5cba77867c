package config

import (
	"os"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/tributary-ai/llm-gateway/internal/gateway"
)

func TestLoad_Defaults(t *testing.T) {
	// A minimal file still goes through setDefaults before Validate; a single
	// synthetic provider keeps Validate happy so the defaults are observable.
	path := writeTempConfig(t, `
providers:
  synthetic-a:
    type: synthetic
    base_url: "synthetic://local"
`)
	doc, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if doc.Server.Port != "8080" {
		t.Errorf("expected default port 8080, got %s", doc.Server.Port)
	}
	if doc.RoutingPriority != "BALANCED" {
		t.Errorf("expected default routing priority BALANCED, got %s", doc.RoutingPriority)
	}
	if doc.Logging.Level != "info" {
		t.Errorf("expected default log level info, got %s", doc.Logging.Level)
	}
	if doc.Server.ReadTimeout != 30*time.Second {
		t.Errorf("expected default read timeout 30s, got %v", doc.Server.ReadTimeout)
	}
}

func TestLoad_EmptyDocumentHasNoProviders(t *testing.T) {
	if _, err := Load(""); err == nil {
		t.Fatal("expected Load(\"\") to fail validation with zero configured providers")
	}
}

func TestLoad_EnvironmentOverride(t *testing.T) {
	os.Setenv("LLM_GATEWAY_PORT", "9090")
	os.Setenv("LLM_GATEWAY_LOG_LEVEL", "debug")
	os.Setenv("LLM_GATEWAY_LOG_FORMAT", "text")
	os.Setenv("LLM_GATEWAY_ROUTING_PRIORITY", "performance")
	defer func() {
		os.Unsetenv("LLM_GATEWAY_PORT")
		os.Unsetenv("LLM_GATEWAY_LOG_LEVEL")
		os.Unsetenv("LLM_GATEWAY_LOG_FORMAT")
		os.Unsetenv("LLM_GATEWAY_ROUTING_PRIORITY")
	}()

	configContent := `
providers:
  synthetic-a:
    type: synthetic
    base_url: "synthetic://local"
`
	path := writeTempConfig(t, configContent)

	doc, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if doc.Server.Port != "9090" {
		t.Errorf("expected port 9090, got %s", doc.Server.Port)
	}
	if doc.Logging.Level != "debug" {
		t.Errorf("expected log level debug, got %s", doc.Logging.Level)
	}
	if doc.Logging.Format != "text" {
		t.Errorf("expected log format text, got %s", doc.Logging.Format)
	}
	if doc.RoutingPriority != "PERFORMANCE" {
		t.Errorf("expected routing priority PERFORMANCE, got %s", doc.RoutingPriority)
	}
}

func TestLoad_Validation(t *testing.T) {
	tests := []struct {
		name    string
		content string
		errMsg  string
	}{
		{
			name:    "no providers",
			content: "default_provider: \"\"\n",
			errMsg:  "at least one provider",
		},
		{
			name: "missing api key",
			content: `
providers:
  openai-main:
    type: openaicompat
    base_url: "https://api.openai.com"
`,
			errMsg: "api_key is required",
		},
		{
			name: "unconfigured default provider",
			content: `
default_provider: "missing"
providers:
  synthetic-a:
    type: synthetic
    base_url: "synthetic://local"
`,
			errMsg: "default_provider",
		},
		{
			name: "bad base url",
			content: `
providers:
  synthetic-a:
    type: synthetic
    base_url: "not-a-url"
`,
			errMsg: "scheme",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeTempConfig(t, tt.content)
			_, err := Load(path)
			if err == nil {
				t.Fatalf("expected error containing %q, got none", tt.errMsg)
			}
			if !strings.Contains(err.Error(), tt.errMsg) {
				t.Errorf("expected error containing %q, got %q", tt.errMsg, err.Error())
			}
		})
	}
}

func TestLoad_FileLoading(t *testing.T) {
	configContent := `
server:
  port: "3000"
  read_timeout: 60s

logging:
  level: "warn"
  format: "text"

routing_priority: "RELIABILITY"

providers:
  synthetic-a:
    type: synthetic
    base_url: "synthetic://local"
    supports_streaming: true
`
	path := writeTempConfig(t, configContent)

	doc, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if doc.Server.Port != "3000" {
		t.Errorf("expected port 3000, got %s", doc.Server.Port)
	}
	if doc.Server.ReadTimeout != 60*time.Second {
		t.Errorf("expected read timeout 60s, got %v", doc.Server.ReadTimeout)
	}
	if doc.Logging.Level != "warn" {
		t.Errorf("expected log level warn, got %s", doc.Logging.Level)
	}
	if doc.RoutingPriority != "RELIABILITY" {
		t.Errorf("expected routing priority RELIABILITY, got %s", doc.RoutingPriority)
	}
	entry, ok := doc.Providers["synthetic-a"]
	if !ok {
		t.Fatal("expected synthetic-a provider entry")
	}
	if !entry.SupportsStreaming {
		t.Error("expected supports_streaming true")
	}
}

func TestApply_WiresProvidersTransactionally(t *testing.T) {
	logger := logrus.New()
	logger.SetOutput(testWriter{t})

	doc, err := Load(writeTempConfig(t, `
default_provider: "synthetic-a"
providers:
  synthetic-a:
    type: synthetic
    base_url: "synthetic://local"
  synthetic-b:
    type: synthetic
    base_url: "synthetic://local"
`))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	mgr := gateway.New(logger)
	if err := Apply(doc, mgr, logger); err != nil {
		t.Fatalf("Apply failed: %v", err)
	}

	providers := mgr.ListProviders()
	if len(providers) != 2 {
		t.Fatalf("expected 2 providers wired, got %d", len(providers))
	}
	if !mgr.ProviderExists("synthetic-a") {
		t.Error("expected synthetic-a to be registered")
	}
}

func TestApply_RejectsInvalidDocumentWithoutPartialWiring(t *testing.T) {
	doc := &Document{
		DefaultProvider: "ghost",
		Providers: map[string]ProviderEntry{
			"synthetic-a": {Type: bridgeSynthetic, BaseURL: "synthetic://local"},
		},
	}
	doc.setDefaults()

	logger := logrus.New()
	mgr := gateway.New(logger)
	if err := Apply(doc, mgr, logger); err == nil {
		t.Fatal("expected Apply to reject a document referencing an unconfigured default_provider")
	}
	if len(mgr.ListProviders()) != 0 {
		t.Error("Apply must not partially wire providers when validation fails")
	}
}

func TestDocument_SaveToFile(t *testing.T) {
	doc, err := Load(writeTempConfig(t, `
providers:
  synthetic-a:
    type: synthetic
    base_url: "synthetic://local"
`))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	doc.Server.Port = "4000"

	tmp, err := os.CreateTemp("", "gateway_config_*.yaml")
	if err != nil {
		t.Fatalf("CreateTemp: %v", err)
	}
	tmp.Close()
	defer os.Remove(tmp.Name())

	if err := doc.SaveToFile(tmp.Name()); err != nil {
		t.Fatalf("SaveToFile failed: %v", err)
	}

	data, err := os.ReadFile(tmp.Name())
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if !strings.Contains(string(data), "4000") {
		t.Error("saved config should contain the custom port")
	}
}

func TestNewLogger(t *testing.T) {
	logger, err := NewLogger(LoggingSection{Level: "debug", Format: "text"})
	if err != nil {
		t.Fatalf("NewLogger failed: %v", err)
	}
	if logger.GetLevel() != logrus.DebugLevel {
		t.Errorf("expected debug level, got %v", logger.GetLevel())
	}

	if _, err := NewLogger(LoggingSection{Level: "not-a-level"}); err == nil {
		t.Error("expected an error for an invalid log level")
	}
}

func writeTempConfig(t *testing.T, content string) string {
	t.Helper()
	tmp, err := os.CreateTemp("", "gateway_config_*.yaml")
	if err != nil {
		t.Fatalf("CreateTemp: %v", err)
	}
	if _, err := tmp.WriteString(content); err != nil {
		t.Fatalf("WriteString: %v", err)
	}
	tmp.Close()
	t.Cleanup(func() { os.Remove(tmp.Name()) })
	return tmp.Name()
}

type testWriter struct{ t *testing.T }

func (w testWriter) Write(p []byte) (int, error) {
	w.t.Log(strings.TrimRight(string(p), "\n"))
	return len(p), nil
}
