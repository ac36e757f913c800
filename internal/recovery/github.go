package recovery

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"autoheal/internal/breaker"
	"autoheal/internal/config"
	"autoheal/internal/domain"
)

// ServiceGitHubAPI is the breaker key protecting GitHub Actions API calls.
const ServiceGitHubAPI = "github-api"

// WorkflowRetryHandler re-runs failed jobs of the most recent failed
// GitHub Actions run when a pipeline failure alert fires.
// Params: GitHub API settings, breaker registry, and logger.
// Returns: recovery handler for CI pipeline alerts.
type WorkflowRetryHandler struct {
	cfg      config.GitHubConfig
	breakers *breaker.Registry
	client   *http.Client
	logger   *slog.Logger
}

// NewWorkflowRetryHandler creates a workflow retry handler.
// Params: GitHub config, breaker registry, and logger.
// Returns: initialized handler with a bounded-timeout HTTP client.
func NewWorkflowRetryHandler(cfg config.GitHubConfig, breakers *breaker.Registry, logger *slog.Logger) *WorkflowRetryHandler {
	timeout := time.Duration(cfg.TimeoutSec) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &WorkflowRetryHandler{
		cfg:      cfg,
		breakers: breakers,
		client:   &http.Client{Timeout: timeout},
		logger:   logger,
	}
}

// StrategyName returns the stable strategy identifier.
// Params: none.
// Returns: static strategy key.
func (h *WorkflowRetryHandler) StrategyName() string {
	return config.StrategyWorkflowRetry
}

// AttemptRecovery re-triggers the failed jobs of the last failed run.
// Both API calls run through the circuit breaker; an open breaker degrades
// to a fast recognized failure instead of a slow timeout.
// Params: firing alert and mutable attempt record.
// Returns: true when a rerun was triggered, false on recognized failures,
// error on unexpected API failures.
func (h *WorkflowRetryHandler) AttemptRecovery(ctx context.Context, alert domain.Alert, attempt *domain.RecoveryAttempt) (bool, error) {
	workflowName := alert.WorkflowName()
	if workflowName == "" {
		h.logger.Warn("cannot retry workflow: workflow label missing", "alert", alert.AlertName())
		return false, nil
	}
	if strings.TrimSpace(h.cfg.Token) == "" {
		h.logger.Warn("github token not configured, skipping workflow retry")
		return false, nil
	}

	runResult, err := h.breakers.Execute(ServiceGitHubAPI, func() (any, error) {
		return h.lastFailedRun(ctx)
	})
	if err != nil {
		if errors.Is(err, breaker.ErrOpen) {
			h.logger.Warn("github api circuit is open, skipping workflow retry", "workflow", workflowName)
			return false, nil
		}
		return false, fmt.Errorf("list failed workflow runs: %w", err)
	}
	runID, _ := runResult.(string)
	if runID == "" {
		h.logger.Warn("no failed workflow run found", "workflow", workflowName)
		return false, nil
	}
	attempt.WorkflowRunID = runID

	_, err = h.breakers.Execute(ServiceGitHubAPI, func() (any, error) {
		return nil, h.rerunFailedJobs(ctx, runID)
	})
	if err != nil {
		if errors.Is(err, breaker.ErrOpen) {
			h.logger.Warn("github api circuit is open, rerun not triggered", "run_id", runID)
			return false, nil
		}
		return false, fmt.Errorf("rerun failed jobs for run %s: %w", runID, err)
	}

	attempt.RetryCount++
	h.logger.Info("triggered workflow rerun", "workflow", workflowName, "run_id", runID)
	return true, nil
}

// workflowRunsPage mirrors the subset of the Actions list-runs response
// this handler consumes.
type workflowRunsPage struct {
	WorkflowRuns []struct {
		ID int64 `json:"id"`
	} `json:"workflow_runs"`
}

// lastFailedRun returns the id of the most recent failed Actions run.
// Params: request context.
// Returns: run id string, empty when no failed run exists, or API error.
func (h *WorkflowRetryHandler) lastFailedRun(ctx context.Context) (string, error) {
	url := fmt.Sprintf("%s/repos/%s/actions/runs?status=failure&per_page=1",
		strings.TrimRight(h.cfg.APIBase, "/"), h.cfg.Repository)

	request, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("build list runs request: %w", err)
	}
	h.setHeaders(request)

	response, err := h.client.Do(request)
	if err != nil {
		return "", fmt.Errorf("list runs: %w", err)
	}
	defer response.Body.Close()
	if response.StatusCode != http.StatusOK {
		return "", fmt.Errorf("list runs: unexpected status %d", response.StatusCode)
	}

	var page workflowRunsPage
	if err := json.NewDecoder(response.Body).Decode(&page); err != nil {
		return "", fmt.Errorf("decode runs page: %w", err)
	}
	if len(page.WorkflowRuns) == 0 {
		return "", nil
	}
	return strconv.FormatInt(page.WorkflowRuns[0].ID, 10), nil
}

// rerunFailedJobs asks GitHub to re-run the failed jobs of one run.
// Params: request context and run id.
// Returns: nil when the rerun was created, error otherwise.
func (h *WorkflowRetryHandler) rerunFailedJobs(ctx context.Context, runID string) error {
	url := fmt.Sprintf("%s/repos/%s/actions/runs/%s/rerun-failed-jobs",
		strings.TrimRight(h.cfg.APIBase, "/"), h.cfg.Repository, runID)

	request, err := http.NewRequestWithContext(ctx, http.MethodPost, url, nil)
	if err != nil {
		return fmt.Errorf("build rerun request: %w", err)
	}
	h.setHeaders(request)

	response, err := h.client.Do(request)
	if err != nil {
		return fmt.Errorf("rerun request: %w", err)
	}
	defer response.Body.Close()
	_, _ = io.Copy(io.Discard, response.Body)
	if response.StatusCode != http.StatusCreated {
		return fmt.Errorf("rerun request: unexpected status %d", response.StatusCode)
	}
	return nil
}

// setHeaders applies GitHub API auth and version headers.
// Params: outbound request.
// Returns: none.
func (h *WorkflowRetryHandler) setHeaders(request *http.Request) {
	request.Header.Set("Content-Type", "application/json")
	request.Header.Set("Authorization", "Bearer "+h.cfg.Token)
	request.Header.Set("Accept", "application/vnd.github+json")
	request.Header.Set("X-GitHub-Api-Version", "2022-11-28")
}
