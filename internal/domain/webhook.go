package domain

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

const (
	// AlertStatusFiring marks an active alert; only firing alerts trigger recovery.
	AlertStatusFiring = "firing"
	// AlertStatusResolved marks a closed alert.
	AlertStatusResolved = "resolved"

	// LabelAlertName is the mandatory AlertManager label carrying the alert name.
	LabelAlertName = "alertname"
	// LabelSeverity is the optional severity label.
	LabelSeverity = "severity"
	// LabelWorkflow is the optional CI workflow name label.
	LabelWorkflow = "workflow"
	// AnnotationDescription is the optional human-readable failure description.
	AnnotationDescription = "description"
)

// Alert is one AlertManager alert entry decoded from a webhook delivery.
// Params: status, labels/annotations maps, and AlertManager timestamps.
// Returns: immutable per-delivery alert payload for recovery routing.
type Alert struct {
	Status       string            `json:"status"`
	Labels       map[string]string `json:"labels"`
	Annotations  map[string]string `json:"annotations"`
	StartsAt     time.Time         `json:"startsAt"`
	EndsAt       time.Time         `json:"endsAt"`
	GeneratorURL string            `json:"generatorURL,omitempty"`
	Fingerprint  string            `json:"fingerprint,omitempty"`
}

// Webhook is one AlertManager webhook payload (v0.25+ format).
// Params: receiver metadata, alert batch, and grouping labels.
// Returns: decoded inbound notification for the orchestrator.
type Webhook struct {
	Receiver          string            `json:"receiver"`
	Status            string            `json:"status"`
	Alerts            []Alert           `json:"alerts"`
	GroupLabels       map[string]string `json:"groupLabels"`
	CommonLabels      map[string]string `json:"commonLabels"`
	CommonAnnotations map[string]string `json:"commonAnnotations"`
	ExternalURL       string            `json:"externalURL"`
	Version           string            `json:"version"`
	GroupKey          string            `json:"groupKey"`
	TruncatedAlerts   int64             `json:"truncatedAlerts,omitempty"`
}

// Firing reports whether the alert is currently active.
// Params: none.
// Returns: true when status equals "firing" (case-insensitive).
func (a Alert) Firing() bool {
	return strings.EqualFold(a.Status, AlertStatusFiring)
}

// AlertName returns the alert name from labels.
// Params: none.
// Returns: alertname label value or empty string.
func (a Alert) AlertName() string {
	return a.Labels[LabelAlertName]
}

// Severity returns alert severity with "unknown" fallback.
// Params: none.
// Returns: severity label value or "unknown".
func (a Alert) Severity() string {
	if severity, ok := a.Labels[LabelSeverity]; ok && severity != "" {
		return severity
	}
	return "unknown"
}

// WorkflowName returns the CI workflow name when present.
// Params: none.
// Returns: workflow label value or empty string.
func (a Alert) WorkflowName() string {
	return a.Labels[LabelWorkflow]
}

// ErrorMessage returns the failure description annotation when present.
// Params: none.
// Returns: description annotation value or empty string.
func (a Alert) ErrorMessage() string {
	return a.Annotations[AnnotationDescription]
}

// Validate validates one alert against the webhook contract.
// Params: alert fields parsed from transport.
// Returns: validation error when schema is violated.
func (a Alert) Validate() error {
	switch strings.ToLower(a.Status) {
	case AlertStatusFiring, AlertStatusResolved:
	default:
		return fmt.Errorf("unsupported alert status %q", a.Status)
	}
	if strings.TrimSpace(a.AlertName()) == "" {
		return errors.New("labels.alertname is required")
	}
	return nil
}

// Validate validates the webhook envelope.
// Params: decoded webhook fields.
// Returns: validation error when any alert entry is invalid.
func (w Webhook) Validate() error {
	for i := range w.Alerts {
		if err := w.Alerts[i].Validate(); err != nil {
			return fmt.Errorf("alert[%d]: %w", i, err)
		}
	}
	return nil
}

// DecodeWebhook decodes and validates one AlertManager webhook payload.
// Params: JSON document bytes.
// Returns: validated webhook or decode/validation error.
func DecodeWebhook(raw []byte) (Webhook, error) {
	var webhook Webhook
	if err := json.Unmarshal(raw, &webhook); err != nil {
		return Webhook{}, fmt.Errorf("decode webhook: %w", err)
	}
	if err := webhook.Validate(); err != nil {
		return Webhook{}, err
	}
	return webhook, nil
}
