package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"text/template"
	"time"

	tgbot "github.com/go-telegram/bot"

	"autoheal/internal/config"
	"autoheal/internal/domain"
	"autoheal/internal/permanent"
	"autoheal/internal/templatefmt"
)

// defaultMessageTemplate renders one attempt outcome line for all channels.
const defaultMessageTemplate = `Recovery {{.Status}}: {{.AlertName}} (severity {{.Severity}})
strategy={{.RecoveryStrategy}} retries={{.RetryCount}} duration={{fmtMillis .DurationMs}}
{{- if .ErrorMessage}}
error: {{.ErrorMessage}}
{{- end}}`

// messageView is the template data model for outcome messages.
// Params: flattened attempt fields plus derived duration.
// Returns: render context for the message template.
type messageView struct {
	AttemptID        string
	AlertName        string
	Severity         string
	WorkflowName     string
	RecoveryStrategy string
	Status           string
	RetryCount       int
	DurationMs       *int64
	ErrorMessage     string
	WorkflowRunID    string
}

// ChannelSender delivers one rendered outcome message to one channel.
// Params: context, rendered message, and source attempt for structured payloads.
// Returns: transport error when delivery fails.
type ChannelSender interface {
	Channel() string
	Send(ctx context.Context, message string, attempt domain.RecoveryAttempt) error
}

// Dispatcher fans terminal recovery attempts out to configured channels.
// Delivery failures never propagate to the orchestrator; they are retried
// per policy and then logged.
// Params: notify config, sender set, and logger.
// Returns: attempt notifier for the orchestrator.
type Dispatcher struct {
	senders  []ChannelSender
	statuses map[domain.RecoveryStatus]struct{}
	retry    config.NotifyRetry
	message  *template.Template
	logger   *slog.Logger
}

// NewDispatcher builds the outcome notification dispatcher.
// Params: notify config snapshot and logger.
// Returns: dispatcher, or nil when notifications are disabled, or a
// template/sender configuration error.
func NewDispatcher(cfg config.NotifyConfig, logger *slog.Logger) (*Dispatcher, error) {
	if !cfg.Enabled {
		return nil, nil
	}

	body := cfg.MessageTemplate
	if strings.TrimSpace(body) == "" {
		body = defaultMessageTemplate
	}
	message, err := templatefmt.ParseMessageTemplate("notify.message_template", body)
	if err != nil {
		return nil, fmt.Errorf("parse notify message template: %w", err)
	}

	var senders []ChannelSender
	if cfg.Telegram.Enabled {
		sender, err := NewTelegramSender(cfg.Telegram)
		if err != nil {
			return nil, err
		}
		senders = append(senders, sender)
	}
	if cfg.HTTP.Enabled {
		sender, err := NewHTTPSender(cfg.HTTP)
		if err != nil {
			return nil, err
		}
		senders = append(senders, sender)
	}
	if len(senders) == 0 {
		return nil, errors.New("notify is enabled but no channel is configured")
	}

	statuses := make(map[domain.RecoveryStatus]struct{}, len(cfg.Statuses))
	for _, status := range cfg.Statuses {
		statuses[domain.RecoveryStatus(strings.ToLower(status))] = struct{}{}
	}

	return &Dispatcher{
		senders:  senders,
		statuses: statuses,
		retry:    cfg.Retry,
		message:  message,
		logger:   logger,
	}, nil
}

// NotifyAttempt delivers one terminal attempt to every configured channel.
// Params: context and terminal attempt snapshot.
// Returns: none; failures stay inside the dispatcher.
func (d *Dispatcher) NotifyAttempt(ctx context.Context, attempt domain.RecoveryAttempt) {
	if _, ok := d.statuses[attempt.Status]; !ok {
		return
	}

	rendered, err := d.render(attempt)
	if err != nil {
		d.logger.Error("render outcome notification failed",
			"attempt_id", attempt.AttemptID, "error", err.Error())
		return
	}

	for _, sender := range d.senders {
		if err := d.sendWithRetry(ctx, sender, rendered, attempt); err != nil {
			d.logger.Error("outcome notification failed",
				"channel", sender.Channel(), "attempt_id", attempt.AttemptID, "error", err.Error())
			continue
		}
		d.logger.Debug("outcome notification delivered",
			"channel", sender.Channel(), "attempt_id", attempt.AttemptID)
	}
}

// render executes the message template against one attempt.
// Params: terminal attempt snapshot.
// Returns: rendered message or template error.
func (d *Dispatcher) render(attempt domain.RecoveryAttempt) (string, error) {
	view := messageView{
		AttemptID:        attempt.AttemptID,
		AlertName:        attempt.AlertName,
		Severity:         attempt.Severity,
		WorkflowName:     attempt.WorkflowName,
		RecoveryStrategy: attempt.RecoveryStrategy,
		Status:           string(attempt.Status),
		RetryCount:       attempt.RetryCount,
		DurationMs:       attempt.DurationMs(),
		ErrorMessage:     attempt.ErrorMessage,
		WorkflowRunID:    attempt.WorkflowRunID,
	}
	var rendered strings.Builder
	if err := d.message.Execute(&rendered, view); err != nil {
		return "", err
	}
	return rendered.String(), nil
}

// sendWithRetry sends one message with the configured retry policy.
// Params: sender, rendered message, and source attempt.
// Returns: final error after retries are exhausted.
func (d *Dispatcher) sendWithRetry(ctx context.Context, sender ChannelSender, message string, attempt domain.RecoveryAttempt) error {
	retry := d.retry
	if !retry.Enabled {
		return sender.Send(ctx, message, attempt)
	}

	sendAttempt := 0
	backoff := time.Duration(retry.InitialMS) * time.Millisecond
	maxBackoff := time.Duration(retry.MaxMS) * time.Millisecond
	var timer *time.Timer
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		sendAttempt++
		err := sender.Send(ctx, message, attempt)
		if err == nil {
			if sendAttempt > 1 {
				d.logger.Info("notify send recovered after retries",
					"channel", sender.Channel(), "attempt", sendAttempt)
			}
			return nil
		}
		d.logger.Warn("notify send attempt failed",
			"channel", sender.Channel(), "attempt", sendAttempt, "error", err.Error())

		if permanent.Is(err) {
			return fmt.Errorf("channel %s failed permanently: %w", sender.Channel(), err)
		}
		if retry.MaxAttempts > 0 && sendAttempt >= retry.MaxAttempts {
			return fmt.Errorf("channel %s failed after %d attempts: %w", sender.Channel(), sendAttempt, err)
		}

		if timer == nil {
			timer = time.NewTimer(backoff)
		} else {
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(backoff)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		}

		if strings.EqualFold(retry.Backoff, "exponential") {
			backoff *= 2
			if maxBackoff > 0 && backoff > maxBackoff {
				backoff = maxBackoff
			}
		}
	}
}

// TelegramSender posts outcome messages to a Telegram chat.
// Params: bot token, chat id, and optional API base override.
// Returns: Telegram channel sender.
type TelegramSender struct {
	client *tgbot.Bot
	chatID any
}

// NewTelegramSender creates the Telegram sender.
// Params: Telegram notifier config.
// Returns: initialized sender or configuration error.
func NewTelegramSender(cfg config.TelegramNotifier) (*TelegramSender, error) {
	if strings.TrimSpace(cfg.BotToken) == "" {
		return nil, errors.New("notify.telegram.bot_token is required")
	}
	if strings.TrimSpace(cfg.ChatID) == "" {
		return nil, errors.New("notify.telegram.chat_id is required")
	}

	options := []tgbot.Option{tgbot.WithSkipGetMe()}
	if strings.TrimSpace(cfg.APIBase) != "" {
		options = append(options, tgbot.WithServerURL(strings.TrimRight(cfg.APIBase, "/")))
	}
	client, err := tgbot.New(cfg.BotToken, options...)
	if err != nil {
		return nil, fmt.Errorf("init telegram bot: %w", err)
	}
	return &TelegramSender{client: client, chatID: normalizeChatID(cfg.ChatID)}, nil
}

// Channel returns sender channel name.
// Params: none.
// Returns: static channel key.
func (s *TelegramSender) Channel() string {
	return "telegram"
}

// Send posts one outcome message to the configured chat.
// Params: context, rendered message, and attempt (unused by this channel).
// Returns: transport or API error.
func (s *TelegramSender) Send(ctx context.Context, message string, _ domain.RecoveryAttempt) error {
	sent, err := s.client.SendMessage(ctx, &tgbot.SendMessageParams{
		ChatID: s.chatID,
		Text:   message,
	})
	if err != nil {
		return fmt.Errorf("telegram send: %w", err)
	}
	if sent == nil || sent.ID <= 0 {
		return errors.New("telegram send returned empty message id")
	}
	return nil
}

// normalizeChatID converts numeric chat IDs to int64 and keeps non-numeric IDs as string.
// Params: configured chat ID value from TOML.
// Returns: Telegram API chat id union value.
func normalizeChatID(raw string) any {
	trimmed := strings.TrimSpace(raw)
	if numeric, err := strconv.ParseInt(trimmed, 10, 64); err == nil {
		return numeric
	}
	return trimmed
}

// httpPayload is the JSON body posted by the HTTP channel.
type httpPayload struct {
	Message string                 `json:"message"`
	Attempt domain.RecoveryAttempt `json:"attempt"`
}

// HTTPSender posts outcome payloads to a configured HTTP endpoint.
// Params: endpoint URL, method, timeout, and extra headers.
// Returns: generic HTTP channel sender.
type HTTPSender struct {
	cfg    config.HTTPNotifier
	client *http.Client
}

// NewHTTPSender creates the generic HTTP sender.
// Params: HTTP notifier config.
// Returns: initialized sender or configuration error.
func NewHTTPSender(cfg config.HTTPNotifier) (*HTTPSender, error) {
	if strings.TrimSpace(cfg.URL) == "" {
		return nil, errors.New("notify.http.url is required")
	}
	timeout := time.Duration(cfg.TimeoutSec) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPSender{cfg: cfg, client: &http.Client{Timeout: timeout}}, nil
}

// Channel returns sender channel name.
// Params: none.
// Returns: static channel key.
func (s *HTTPSender) Channel() string {
	return "http"
}

// Send delivers the message and attempt JSON to the configured endpoint.
// Params: context, rendered message, and source attempt.
// Returns: transport or HTTP status error.
func (s *HTTPSender) Send(ctx context.Context, message string, attempt domain.RecoveryAttempt) error {
	body, err := json.Marshal(httpPayload{Message: message, Attempt: attempt})
	if err != nil {
		return fmt.Errorf("encode http notify payload: %w", err)
	}

	method := strings.ToUpper(strings.TrimSpace(s.cfg.Method))
	if method == "" {
		method = http.MethodPost
	}
	request, err := http.NewRequestWithContext(ctx, method, s.cfg.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build http notify request: %w", err)
	}
	request.Header.Set("Content-Type", "application/json")
	for key, value := range s.cfg.Headers {
		request.Header.Set(key, value)
	}

	response, err := s.client.Do(request)
	if err != nil {
		return fmt.Errorf("http notify send: %w", err)
	}
	defer response.Body.Close()
	_, _ = io.Copy(io.Discard, response.Body)
	switch {
	case response.StatusCode >= 200 && response.StatusCode < 300:
		return nil
	case response.StatusCode >= 400 && response.StatusCode < 500:
		// The endpoint rejected the payload; retrying the same body cannot help.
		return permanent.Mark(fmt.Errorf("http notify status=%d", response.StatusCode))
	default:
		return fmt.Errorf("http notify status=%d", response.StatusCode)
	}
}
