package ingest

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"autoheal/internal/domain"
	"autoheal/internal/history"
)

// WebhookSink receives decoded webhooks from ingest interfaces.
// Params: validated webhook payload.
// Returns: none; processing is asynchronous.
type WebhookSink interface {
	Submit(webhook domain.Webhook)
}

// acceptedResponse is the body returned for accepted webhook deliveries.
type acceptedResponse struct {
	Status     string `json:"status"`
	Message    string `json:"message"`
	AlertCount int    `json:"alertCount"`
}

// errorResponse is the body returned for rejected webhook deliveries.
type errorResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

// WebhookHandler decodes AlertManager webhook deliveries and hands them to
// the sink. The delivery is acknowledged before any recovery work runs.
// Params: sink and max request body size in bytes.
// Returns: HTTP handler for the webhook endpoint.
type WebhookHandler struct {
	sink        WebhookSink
	maxBodySize int64
}

// NewWebhookHandler creates the webhook ingest handler.
// Params: sink and max request body size in bytes.
// Returns: configured handler.
func NewWebhookHandler(sink WebhookSink, maxBodySize int64) *WebhookHandler {
	return &WebhookHandler{sink: sink, maxBodySize: maxBodySize}
}

// ServeHTTP handles one webhook delivery.
// Params: HTTP request/response writer pair.
// Returns: 202 with acceptance body, 400 on decode failure, 405 otherwise.
func (h *WebhookHandler) ServeHTTP(writer http.ResponseWriter, request *http.Request) {
	if request.Method != http.MethodPost {
		writer.Header().Set("Allow", http.MethodPost)
		writer.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	request.Body = http.MaxBytesReader(writer, request.Body, h.maxBodySize)
	defer request.Body.Close()
	body, err := io.ReadAll(request.Body)
	if err != nil {
		writeJSON(writer, http.StatusBadRequest, errorResponse{
			Status:  "error",
			Message: "cannot read request body",
		})
		return
	}

	webhook, err := domain.DecodeWebhook(body)
	if err != nil {
		writeJSON(writer, http.StatusBadRequest, errorResponse{
			Status:  "error",
			Message: err.Error(),
		})
		return
	}

	h.sink.Submit(webhook)
	writeJSON(writer, http.StatusAccepted, acceptedResponse{
		Status:     "accepted",
		Message:    "Alert received and recovery initiated",
		AlertCount: len(webhook.Alerts),
	})
}

// AttemptsHandler serves the recent recovery attempt window.
// Params: bounded history store.
// Returns: read-only HTTP handler for the attempts endpoint.
type AttemptsHandler struct {
	store *history.Store
}

// NewAttemptsHandler creates the attempts query handler.
// Params: history store.
// Returns: configured handler.
func NewAttemptsHandler(store *history.Store) *AttemptsHandler {
	return &AttemptsHandler{store: store}
}

// ServeHTTP returns recent attempts, newest first.
// The optional "limit" query parameter caps the result size.
// Params: HTTP request/response writer pair.
// Returns: 200 with attempt list, 400 on bad limit, 405 otherwise.
func (h *AttemptsHandler) ServeHTTP(writer http.ResponseWriter, request *http.Request) {
	if request.Method != http.MethodGet {
		writer.Header().Set("Allow", http.MethodGet)
		writer.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	limit := 0
	if raw := request.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			writeJSON(writer, http.StatusBadRequest, errorResponse{
				Status:  "error",
				Message: fmt.Sprintf("invalid limit %q", raw),
			})
			return
		}
		limit = parsed
	}

	attempts := h.store.Recent(limit)
	if attempts == nil {
		attempts = []domain.RecoveryAttempt{}
	}
	writeJSON(writer, http.StatusOK, struct {
		Attempts []domain.RecoveryAttempt `json:"attempts"`
	}{Attempts: attempts})
}

// writeJSON writes one JSON response with status code.
// Params: writer, status code, and body value.
// Returns: none; encode failures are ignored after the header is sent.
func writeJSON(writer http.ResponseWriter, status int, body any) {
	writer.Header().Set("Content-Type", "application/json")
	writer.WriteHeader(status)
	_ = json.NewEncoder(writer).Encode(body)
}
