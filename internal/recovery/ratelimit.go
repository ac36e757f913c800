package recovery

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"autoheal/internal/config"
	"autoheal/internal/domain"
)

var rateLimitMarkers = []string{"rate limit", "429", "too many requests", "throttled"}

// RateLimitBackoffHandler retries the workflow strategy under exponential
// backoff when the alert description indicates API rate limiting.
// Params: delegate handler, backoff policy, and logger.
// Returns: recovery handler for rate-limit alerts.
type RateLimitBackoffHandler struct {
	delegate Handler
	cfg      config.BackoffConfig
	logger   *slog.Logger
}

// NewRateLimitBackoffHandler creates a rate-limit backoff handler.
// Params: delegate handler (usually the workflow retry handler), backoff
// policy, and logger.
// Returns: initialized handler.
func NewRateLimitBackoffHandler(delegate Handler, cfg config.BackoffConfig, logger *slog.Logger) *RateLimitBackoffHandler {
	return &RateLimitBackoffHandler{delegate: delegate, cfg: cfg, logger: logger}
}

// StrategyName returns the stable strategy identifier.
// Params: none.
// Returns: static strategy key.
func (h *RateLimitBackoffHandler) StrategyName() string {
	return config.StrategyRateLimitBackoff
}

// AttemptRecovery waits out the rate limit with doubling delays and
// delegates each retry to the wrapped handler.
// Params: firing alert and mutable attempt record.
// Returns: delegate success, recognized failure after exhausting retries,
// or context/delegate error.
func (h *RateLimitBackoffHandler) AttemptRecovery(ctx context.Context, alert domain.Alert, attempt *domain.RecoveryAttempt) (bool, error) {
	message := alert.ErrorMessage()
	if !isRateLimitError(message) {
		h.logger.Debug("alert description does not indicate rate limiting", "alert", alert.AlertName())
		return false, nil
	}

	h.logger.Info("rate limit detected, applying exponential backoff", "alert", alert.AlertName())

	backoff := time.Duration(h.cfg.InitialMS) * time.Millisecond
	for retry := 0; retry < h.cfg.MaxRetries; retry++ {
		h.logger.Info("backoff retry", "attempt", retry+1, "delay_ms", backoff.Milliseconds())
		if err := sleepContext(ctx, backoff); err != nil {
			return false, err
		}

		attempt.RetryCount = retry + 1
		success, err := h.delegate.AttemptRecovery(ctx, alert, attempt)
		if err != nil {
			return false, err
		}
		if success {
			h.logger.Info("rate limit recovery succeeded", "retries", retry+1)
			return true, nil
		}
		backoff *= 2
	}

	h.logger.Warn("rate limit recovery failed", "retries", h.cfg.MaxRetries)
	return false, nil
}

// sleepContext waits for the delay unless the context ends first.
// Params: context and delay duration.
// Returns: context error on cancellation.
func sleepContext(ctx context.Context, delay time.Duration) error {
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// isRateLimitError reports whether the description looks like rate limiting.
// Params: alert description text.
// Returns: true when any known marker is present.
func isRateLimitError(message string) bool {
	if message == "" {
		return false
	}
	lower := strings.ToLower(message)
	for _, marker := range rateLimitMarkers {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}
