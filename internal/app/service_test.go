package app

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"autoheal/internal/clock"
	"autoheal/internal/config"
	"autoheal/internal/domain"
)

const testConfig = `
[service]
name = "autoheal-test"

[log.console]
enabled = true
level = "error"
format = "line"

[ingest.http]
enabled = true
listen = "127.0.0.1:0"

[ingest.nats]
enabled = false

[recovery]
history_size = 16
`

func newTestService(t *testing.T) *Service {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	if err := os.WriteFile(path, []byte(testConfig), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	service, err := NewService(config.ConfigSource{FilePath: path}, clock.RealClock{})
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = service.orchestrator.Drain(ctx)
		service.cleanupInitResources()
	})
	return service
}

func TestServiceWiresDefaultRoutes(t *testing.T) {
	service := newTestService(t)

	if got := len(service.cfg.Route); got != len(config.DefaultRoutes()) {
		t.Fatalf("expected default route table, got %d routes", got)
	}
}

func TestServiceHTTPEndpoints(t *testing.T) {
	service := newTestService(t)
	handler := service.httpSrv.Handler

	// Not ready until Run flips the flag.
	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if recorder.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 before ready, got %d", recorder.Code)
	}
	service.readyFlag.Store(true)

	recorder = httptest.NewRecorder()
	handler.ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200 after ready, got %d", recorder.Code)
	}

	recorder = httptest.NewRecorder()
	handler.ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected healthy, got %d", recorder.Code)
	}

	recorder = httptest.NewRecorder()
	handler.ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected metrics exposition, got %d", recorder.Code)
	}
	if !strings.Contains(recorder.Body.String(), "autoheal_recovery_webhooks_received_total") {
		t.Fatal("expected recovery instruments in exposition")
	}
}

func TestServiceProcessesWebhookEndToEnd(t *testing.T) {
	service := newTestService(t)
	handler := service.httpSrv.Handler

	// No GitHub token is configured, so the workflow handler reports a
	// recognized failure and the attempt completes as failed.
	body := `{"alerts":[{"status":"firing","labels":{"alertname":"PipelineFailure","workflow":"ci"}}]}`
	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder,
		httptest.NewRequest(http.MethodPost, "/api/v1/alerts/webhook", strings.NewReader(body)))
	if recorder.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", recorder.Code)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := service.orchestrator.Drain(ctx); err != nil {
		t.Fatalf("drain: %v", err)
	}

	recorder = httptest.NewRecorder()
	handler.ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/api/v1/alerts/attempts", nil))
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", recorder.Code)
	}
	var response struct {
		Attempts []domain.RecoveryAttempt `json:"attempts"`
	}
	if err := json.Unmarshal(recorder.Body.Bytes(), &response); err != nil {
		t.Fatalf("decode attempts: %v", err)
	}
	if len(response.Attempts) != 1 {
		t.Fatalf("expected one attempt, got %d", len(response.Attempts))
	}
	attempt := response.Attempts[0]
	if attempt.AlertName != "PipelineFailure" || attempt.Status != domain.RecoveryStatusFailed {
		t.Fatalf("unexpected attempt %+v", attempt)
	}
	if attempt.RecoveryStrategy != config.StrategyWorkflowRetry {
		t.Fatalf("expected workflow-retry strategy, got %q", attempt.RecoveryStrategy)
	}
}
