package recovery

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"autoheal/internal/clock"
	"autoheal/internal/domain"
	"autoheal/internal/history"
)

// AttemptNotifier receives completed attempts for outbound notification.
// Params: context and terminal attempt snapshot.
// Returns: side effects only; delivery failures stay inside the notifier.
type AttemptNotifier interface {
	NotifyAttempt(ctx context.Context, attempt domain.RecoveryAttempt)
}

// Orchestrator routes firing alerts to registered recovery handlers and
// tracks every attempt through its lifecycle.
// Params: handler registry, instruments, optional history/notifier, clock.
// Returns: webhook sink for ingest interfaces.
type Orchestrator struct {
	mu       sync.RWMutex
	handlers map[string]Handler

	logger   *slog.Logger
	metrics  *Metrics
	history  *history.Store
	notifier AttemptNotifier
	clock    clock.Clock
	wg       sync.WaitGroup
}

// OrchestratorOption customizes orchestrator construction.
// Params: orchestrator under construction.
// Returns: none.
type OrchestratorOption func(*Orchestrator)

// WithHistory attaches a bounded attempt history window.
// Params: history store.
// Returns: orchestrator option.
func WithHistory(store *history.Store) OrchestratorOption {
	return func(o *Orchestrator) { o.history = store }
}

// WithNotifier attaches an outbound attempt notifier.
// Params: notifier implementation.
// Returns: orchestrator option.
func WithNotifier(notifier AttemptNotifier) OrchestratorOption {
	return func(o *Orchestrator) { o.notifier = notifier }
}

// NewOrchestrator creates an orchestrator with an empty handler registry.
// All metrics are constructed before this call; nothing registers lazily.
// Params: logger, eagerly built metrics, clock, and options.
// Returns: initialized orchestrator.
func NewOrchestrator(logger *slog.Logger, metrics *Metrics, clk clock.Clock, opts ...OrchestratorOption) *Orchestrator {
	orchestrator := &Orchestrator{
		handlers: make(map[string]Handler),
		logger:   logger,
		metrics:  metrics,
		clock:    clk,
	}
	for _, opt := range opts {
		opt(orchestrator)
	}
	return orchestrator
}

// RegisterHandler binds one alert name to one handler.
// Re-registering a name replaces the previous binding. Called at startup,
// but safe against concurrent dispatch lookups.
// Params: alertname label value and handler instance.
// Returns: none.
func (o *Orchestrator) RegisterHandler(alertName string, handler Handler) {
	o.mu.Lock()
	o.handlers[alertName] = handler
	o.mu.Unlock()
	o.logger.Info("registered recovery handler",
		"alert", alertName, "strategy", handler.StrategyName())
}

// handlerFor looks up the handler registered for one alert name.
// Params: alertname label value.
// Returns: handler or nil when none is registered.
func (o *Orchestrator) handlerFor(alertName string) Handler {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.handlers[alertName]
}

// Submit accepts one webhook for asynchronous processing.
// The caller returns immediately; processing runs on its own goroutine
// and is tracked for shutdown draining.
// Params: decoded webhook payload.
// Returns: none.
func (o *Orchestrator) Submit(webhook domain.Webhook) {
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		o.ProcessWebhook(context.Background(), webhook)
	}()
}

// Drain waits until all submitted webhooks finish processing.
// Params: context bounding the wait.
// Returns: context error when the deadline expires first.
func (o *Orchestrator) Drain(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("drain recovery workers: %w", ctx.Err())
	}
}

// ProcessWebhook processes every alert in one webhook batch independently.
// The method never returns an error: all failures are absorbed into
// attempt records, metrics, and logs.
// Params: context and decoded webhook payload.
// Returns: none.
func (o *Orchestrator) ProcessWebhook(ctx context.Context, webhook domain.Webhook) {
	o.metrics.WebhooksReceived.Inc()
	if len(webhook.Alerts) == 0 {
		o.logger.Warn("received empty alert webhook", "receiver", webhook.Receiver)
		return
	}

	for i := range webhook.Alerts {
		alert := webhook.Alerts[i]
		if !alert.Firing() {
			o.logger.Debug("skipping non-firing alert",
				"alert", alert.AlertName(), "status", alert.Status)
			continue
		}
		o.processAlert(ctx, alert)
	}
}

// processAlert drives one firing alert through the attempt state machine.
// Params: context and one firing alert.
// Returns: none; every outcome terminates inside this method.
func (o *Orchestrator) processAlert(ctx context.Context, alert domain.Alert) {
	alertName := alert.AlertName()
	attempt := domain.RecoveryAttempt{
		AttemptID:    uuid.NewString(),
		AlertName:    alertName,
		Severity:     alert.Severity(),
		WorkflowName: alert.WorkflowName(),
		Status:       domain.RecoveryStatusInitiated,
		StartedAt:    o.clock.Now(),
	}

	o.logger.Info("processing alert",
		"alert", alertName, "severity", attempt.Severity, "workflow", attempt.WorkflowName)
	o.metrics.AttemptsTotal.Inc()

	handler := o.handlerFor(alertName)
	if handler == nil {
		o.logger.Warn("no recovery handler registered", "alert", alertName)
		o.complete(&attempt, domain.RecoveryStatusSkipped)
		o.finalize(ctx, attempt)
		return
	}

	attempt.Status = domain.RecoveryStatusInProgress
	attempt.RecoveryStrategy = handler.StrategyName()

	// Duration is observed in a defer so the timer stop is unconditional
	// across success, recognized failure, and handler error.
	func() {
		started := o.clock.Now()
		defer func() {
			o.metrics.Duration.Observe(o.clock.Now().Sub(started).Seconds())
		}()

		success, err := invokeHandler(ctx, handler, alert, &attempt)
		switch {
		case err != nil:
			attempt.ErrorMessage = err.Error()
			o.complete(&attempt, domain.RecoveryStatusFailed)
			o.metrics.FailureTotal.Inc()
			o.logger.Error("recovery attempt failed with error",
				"alert", alertName, "strategy", attempt.RecoveryStrategy, "error", err.Error())
		case success:
			o.complete(&attempt, domain.RecoveryStatusSucceeded)
			o.metrics.SuccessTotal.Inc()
			o.logger.Info("recovery succeeded",
				"alert", alertName, "duration_ms", derefMs(attempt.DurationMs()))
		default:
			o.complete(&attempt, domain.RecoveryStatusFailed)
			o.metrics.FailureTotal.Inc()
			o.logger.Warn("recovery failed", "alert", alertName)
		}
	}()

	o.finalize(ctx, attempt)
}

// invokeHandler runs one handler call, converting panics into errors so a
// misbehaving handler never aborts the remaining alerts in the batch.
// Params: context, handler, alert, and mutable attempt.
// Returns: handler result pair.
func invokeHandler(ctx context.Context, handler Handler, alert domain.Alert, attempt *domain.RecoveryAttempt) (success bool, err error) {
	defer func() {
		if recovered := recover(); recovered != nil {
			success = false
			err = fmt.Errorf("recovery handler panic: %v", recovered)
		}
	}()
	return handler.AttemptRecovery(ctx, alert, attempt)
}

// complete moves the attempt to a terminal status with completion time.
// Params: attempt and terminal status.
// Returns: none.
func (o *Orchestrator) complete(attempt *domain.RecoveryAttempt, status domain.RecoveryStatus) {
	completed := o.clock.Now()
	attempt.Status = status
	attempt.CompletedAt = &completed
}

// finalize emits the audit summary line and fans the terminal attempt out
// to the history window and the notifier.
// Params: context and terminal attempt snapshot.
// Returns: none.
func (o *Orchestrator) finalize(ctx context.Context, attempt domain.RecoveryAttempt) {
	o.logger.Info("recovery attempt completed",
		"attempt_id", attempt.AttemptID,
		"alert", attempt.AlertName,
		"status", string(attempt.Status),
		"duration_ms", derefMs(attempt.DurationMs()),
		"strategy", attempt.RecoveryStrategy)

	if o.history != nil {
		o.history.Record(attempt)
	}
	if o.notifier != nil {
		o.notifier.NotifyAttempt(ctx, attempt)
	}
}

// derefMs unwraps an optional millisecond duration for log attributes.
// Params: duration pointer.
// Returns: value or -1 when the duration is not derivable.
func derefMs(ms *int64) int64 {
	if ms == nil {
		return -1
	}
	return *ms
}
