package domain

import "time"

// RecoveryStatus is runtime recovery attempt lifecycle state.
// Params: initiated/in-progress/succeeded/failed/skipped state constants.
// Returns: state transitions for metrics and audit logging.
type RecoveryStatus string

const (
	// RecoveryStatusInitiated indicates the attempt record was created.
	RecoveryStatusInitiated RecoveryStatus = "initiated"
	// RecoveryStatusInProgress indicates the handler invocation is running.
	RecoveryStatusInProgress RecoveryStatus = "in_progress"
	// RecoveryStatusSucceeded indicates the handler reported success.
	RecoveryStatusSucceeded RecoveryStatus = "succeeded"
	// RecoveryStatusFailed indicates the handler reported or raised a failure.
	RecoveryStatusFailed RecoveryStatus = "failed"
	// RecoveryStatusSkipped indicates no handler was registered for the alert.
	RecoveryStatusSkipped RecoveryStatus = "skipped"
)

// Terminal reports whether the status is a final attempt outcome.
// Params: none.
// Returns: true for succeeded/failed/skipped.
func (s RecoveryStatus) Terminal() bool {
	switch s {
	case RecoveryStatusSucceeded, RecoveryStatusFailed, RecoveryStatusSkipped:
		return true
	default:
		return false
	}
}

// RecoveryAttempt is the record of one handler invocation for one firing alert.
// Params: identity, alert context, strategy, status, and lifecycle timestamps.
// Returns: mutable attempt tracked through the orchestrator state machine.
type RecoveryAttempt struct {
	AttemptID        string         `json:"attempt_id"`
	AlertName        string         `json:"alert_name"`
	Severity         string         `json:"severity"`
	WorkflowName     string         `json:"workflow_name,omitempty"`
	RecoveryStrategy string         `json:"recovery_strategy,omitempty"`
	Status           RecoveryStatus `json:"status"`
	StartedAt        time.Time      `json:"started_at"`
	CompletedAt      *time.Time     `json:"completed_at,omitempty"`
	ErrorMessage     string         `json:"error_message,omitempty"`
	RetryCount       int            `json:"retry_count"`
	WorkflowRunID    string         `json:"workflow_run_id,omitempty"`
}

// DurationMs returns attempt duration in milliseconds.
// Params: none.
// Returns: duration pointer or nil when either endpoint is missing.
func (a RecoveryAttempt) DurationMs() *int64 {
	if a.StartedAt.IsZero() || a.CompletedAt == nil {
		return nil
	}
	ms := a.CompletedAt.Sub(a.StartedAt).Milliseconds()
	return &ms
}

// Succeeded reports whether recovery reached the succeeded state.
// Params: none.
// Returns: true only for succeeded status.
func (a RecoveryAttempt) Succeeded() bool {
	return a.Status == RecoveryStatusSucceeded
}
