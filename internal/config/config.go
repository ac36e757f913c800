package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

const (
	defaultHTTPListen    = ":8080"
	defaultWebhookPath   = "/api/v1/alerts/webhook"
	defaultAttemptsPath  = "/api/v1/alerts/attempts"
	defaultHealthPath    = "/healthz"
	defaultReadyPath     = "/readyz"
	defaultMetricsPath   = "/metrics"
	defaultMaxBodyBytes  = 1 << 20
	defaultNATSURL       = "nats://127.0.0.1:4222"
	defaultNATSSubject   = "autoheal.webhooks"
	defaultNATSStream    = "AUTOHEAL_WEBHOOKS"
	defaultNATSConsumer  = "autoheal-ingest"
	defaultNATSGroup     = "autoheal-workers"
	defaultNATSAckWait   = 30
	defaultNATSMaxAckPen = 1024

	defaultFailureThreshold = 5
	defaultOpenCooldownSec  = 60
	defaultHistorySize      = 256
	defaultBackoffInitialMS = 1000
	defaultBackoffRetries   = 3

	defaultGitHubAPIBase    = "https://api.github.com"
	defaultGitHubTimeoutSec = 10

	defaultNotifyRetryAttempts = 3
	defaultNotifyRetryInitial  = 500
	defaultNotifyRetryMax      = 5000

	// StrategyWorkflowRetry re-runs failed jobs of the last failed CI run.
	StrategyWorkflowRetry = "workflow-retry"
	// StrategyRateLimitBackoff retries the workflow strategy under backoff.
	StrategyRateLimitBackoff = "rate-limit-backoff"
)

// Config holds service runtime settings and alert routing table.
// Params: TOML sections from file or merged directory snapshot.
// Returns: validated runtime configuration.
type Config struct {
	Service  ServiceConfig  `toml:"service"`
	Log      LogConfig      `toml:"log"`
	Ingest   IngestConfig   `toml:"ingest"`
	Recovery RecoveryConfig `toml:"recovery"`
	GitHub   GitHubConfig   `toml:"github"`
	Notify   NotifyConfig   `toml:"notify"`
	Route    []RouteConfig  `toml:"route"`
}

// ServiceConfig contains process-level settings.
// Params: service name used in logs and metrics labels.
// Returns: service behavior defaults.
type ServiceConfig struct {
	Name string `toml:"name"`
}

// LogConfig defines console and file log sinks.
// Params: per-sink enabled/level/format settings.
// Returns: logging runtime options.
type LogConfig struct {
	Console LogSinkConfig `toml:"console"`
	File    LogSinkConfig `toml:"file"`
}

// LogSinkConfig describes one log sink.
// Params: enabled flag, level, output format, and file path for file sinks.
// Returns: sink settings consumed by the logging package.
type LogSinkConfig struct {
	Enabled bool   `toml:"enabled"`
	Level   string `toml:"level"`
	Format  string `toml:"format"`
	Path    string `toml:"path"`
}

// IngestConfig defines inbound webhook interfaces.
// Params: embedded HTTP and NATS subscription controls.
// Returns: ingestion runtime options.
type IngestConfig struct {
	HTTP HTTPIngestConfig `toml:"http"`
	NATS NATSIngestConfig `toml:"nats"`
}

// HTTPIngestConfig defines webhook HTTP server settings.
// Params: listen address, route paths, and body size limit.
// Returns: HTTP ingress options.
type HTTPIngestConfig struct {
	Enabled      bool   `toml:"enabled"`
	Listen       string `toml:"listen"`
	WebhookPath  string `toml:"webhook_path"`
	AttemptsPath string `toml:"attempts_path"`
	HealthPath   string `toml:"health_path"`
	ReadyPath    string `toml:"ready_path"`
	MetricsPath  string `toml:"metrics_path"`
	MaxBodyBytes int64  `toml:"max_body_bytes"`
}

// NATSIngestConfig defines JetStream webhook consumer settings.
// Params: connection URLs and durable queue consumer options.
// Returns: NATS ingress options.
type NATSIngestConfig struct {
	Enabled       bool     `toml:"enabled"`
	URL           []string `toml:"url"`
	Subject       string   `toml:"subject"`
	Stream        string   `toml:"stream"`
	ConsumerName  string   `toml:"consumer_name"`
	DeliverGroup  string   `toml:"deliver_group"`
	AckWaitSec    int      `toml:"ack_wait_sec"`
	MaxDeliver    int      `toml:"max_deliver"`
	MaxAckPending int      `toml:"max_ack_pending"`
}

// RecoveryConfig tunes the orchestrator and circuit breakers.
// Params: breaker threshold/cooldown, history window, and backoff policy.
// Returns: recovery runtime options.
type RecoveryConfig struct {
	FailureThreshold int           `toml:"failure_threshold"`
	OpenCooldownSec  int           `toml:"open_cooldown_sec"`
	HistorySize      int           `toml:"history_size"`
	Backoff          BackoffConfig `toml:"backoff"`
}

// BackoffConfig tunes the rate-limit handler retry loop.
// Params: initial delay and retry ceiling.
// Returns: exponential backoff policy (multiplier is fixed at 2).
type BackoffConfig struct {
	InitialMS  int `toml:"initial_ms"`
	MaxRetries int `toml:"max_retries"`
}

// GitHubConfig holds GitHub Actions API access settings.
// Params: token, repository slug, API base, and request timeout.
// Returns: workflow retry handler options.
type GitHubConfig struct {
	Token      string `toml:"token"`
	Repository string `toml:"repository"`
	APIBase    string `toml:"api_base"`
	TimeoutSec int    `toml:"timeout_sec"`
}

// NotifyConfig defines outbound attempt outcome notifications.
// Params: global switch, status filter, channels, and retry policy.
// Returns: notification runtime options.
type NotifyConfig struct {
	Enabled         bool             `toml:"enabled"`
	Statuses        []string         `toml:"statuses"`
	MessageTemplate string           `toml:"message_template"`
	Retry           NotifyRetry      `toml:"retry"`
	Telegram        TelegramNotifier `toml:"telegram"`
	HTTP            HTTPNotifier     `toml:"http"`
}

// NotifyRetry defines per-channel send retry policy.
// Params: attempt ceiling and backoff window.
// Returns: retry policy for the notify dispatcher.
type NotifyRetry struct {
	Enabled     bool   `toml:"enabled"`
	MaxAttempts int    `toml:"max_attempts"`
	InitialMS   int    `toml:"initial_ms"`
	MaxMS       int    `toml:"max_ms"`
	Backoff     string `toml:"backoff"`
}

// TelegramNotifier defines Telegram Bot API channel settings.
// Params: bot token, chat id, and optional API base override.
// Returns: Telegram sender options.
type TelegramNotifier struct {
	Enabled  bool   `toml:"enabled"`
	BotToken string `toml:"bot_token"`
	ChatID   string `toml:"chat_id"`
	APIBase  string `toml:"api_base"`
}

// HTTPNotifier defines generic HTTP webhook channel settings.
// Params: endpoint URL, method, timeout, and extra headers.
// Returns: HTTP sender options.
type HTTPNotifier struct {
	Enabled    bool              `toml:"enabled"`
	URL        string            `toml:"url"`
	Method     string            `toml:"method"`
	TimeoutSec int               `toml:"timeout_sec"`
	Headers    map[string]string `toml:"headers"`
}

// RouteConfig binds one alert name to one recovery strategy.
// Params: alertname label value and registered strategy name.
// Returns: one registry entry applied at startup.
type RouteConfig struct {
	Alert    string `toml:"alert"`
	Strategy string `toml:"strategy"`
}

// ConfigSource selects one configuration origin.
// Params: exactly one of file path or directory path.
// Returns: source descriptor consumed by LoadSnapshot.
type ConfigSource struct {
	FilePath string
	DirPath  string
}

// FromCLI validates CLI source flags into one config source.
// Params: file path and directory path flag values.
// Returns: source descriptor or flag usage error.
func FromCLI(filePath, dirPath string) (ConfigSource, error) {
	hasFile := strings.TrimSpace(filePath) != ""
	hasDir := strings.TrimSpace(dirPath) != ""
	if hasFile == hasDir {
		return ConfigSource{}, errors.New("exactly one of --config-file or --config-dir is required")
	}
	return ConfigSource{FilePath: strings.TrimSpace(filePath), DirPath: strings.TrimSpace(dirPath)}, nil
}

// LoadSnapshot loads, merges, and validates one config snapshot.
// Params: config source descriptor.
// Returns: normalized config or load/validation error.
func LoadSnapshot(src ConfigSource) (Config, error) {
	cfg := Default()
	if src.FilePath != "" {
		if err := decodeFileInto(src.FilePath, &cfg); err != nil {
			return Config{}, err
		}
	} else {
		if err := decodeDirInto(src.DirPath, &cfg); err != nil {
			return Config{}, err
		}
	}
	cfg.applyDerivedDefaults()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Default returns baseline configuration before any file overlay.
// Params: none.
// Returns: config with built-in defaults and the default route table.
func Default() Config {
	return Config{
		Service: ServiceConfig{Name: "autoheal"},
		Log: LogConfig{
			Console: LogSinkConfig{Enabled: true, Level: "info", Format: "line"},
			File:    LogSinkConfig{Enabled: false, Level: "info", Format: "json"},
		},
		Ingest: IngestConfig{
			HTTP: HTTPIngestConfig{
				Enabled:      true,
				Listen:       defaultHTTPListen,
				WebhookPath:  defaultWebhookPath,
				AttemptsPath: defaultAttemptsPath,
				HealthPath:   defaultHealthPath,
				ReadyPath:    defaultReadyPath,
				MetricsPath:  defaultMetricsPath,
				MaxBodyBytes: defaultMaxBodyBytes,
			},
			NATS: NATSIngestConfig{
				Enabled:       false,
				URL:           []string{defaultNATSURL},
				Subject:       defaultNATSSubject,
				Stream:        defaultNATSStream,
				ConsumerName:  defaultNATSConsumer,
				DeliverGroup:  defaultNATSGroup,
				AckWaitSec:    defaultNATSAckWait,
				MaxDeliver:    -1,
				MaxAckPending: defaultNATSMaxAckPen,
			},
		},
		Recovery: RecoveryConfig{
			FailureThreshold: defaultFailureThreshold,
			OpenCooldownSec:  defaultOpenCooldownSec,
			HistorySize:      defaultHistorySize,
			Backoff: BackoffConfig{
				InitialMS:  defaultBackoffInitialMS,
				MaxRetries: defaultBackoffRetries,
			},
		},
		GitHub: GitHubConfig{
			APIBase:    defaultGitHubAPIBase,
			TimeoutSec: defaultGitHubTimeoutSec,
		},
		Notify: NotifyConfig{
			Enabled:  false,
			Statuses: []string{"failed"},
			Retry: NotifyRetry{
				Enabled:     true,
				MaxAttempts: defaultNotifyRetryAttempts,
				InitialMS:   defaultNotifyRetryInitial,
				MaxMS:       defaultNotifyRetryMax,
				Backoff:     "exponential",
			},
		},
	}
}

// DefaultRoutes returns the built-in alert routing table.
// Params: none.
// Returns: route bindings used when the snapshot declares none.
func DefaultRoutes() []RouteConfig {
	return []RouteConfig{
		{Alert: "PipelineFailure", Strategy: StrategyWorkflowRetry},
		{Alert: "WorkflowFailed", Strategy: StrategyWorkflowRetry},
		{Alert: "BuildFailure", Strategy: StrategyWorkflowRetry},
		{Alert: "RateLimitExceeded", Strategy: StrategyRateLimitBackoff},
		{Alert: "APIRateLimited", Strategy: StrategyRateLimitBackoff},
	}
}

// applyDerivedDefaults fills fields that depend on other sections.
// Params: none.
// Returns: snapshot mutated in place.
func (c *Config) applyDerivedDefaults() {
	if len(c.Route) == 0 {
		c.Route = DefaultRoutes()
	}
	if len(c.Ingest.NATS.URL) == 0 {
		c.Ingest.NATS.URL = []string{defaultNATSURL}
	}
}

// Validate checks one snapshot for contradictions and unsupported values.
// Params: none.
// Returns: first validation error.
func (c Config) Validate() error {
	if strings.TrimSpace(c.Service.Name) == "" {
		return errors.New("service.name is required")
	}
	if err := validateSink("log.console", c.Log.Console, false); err != nil {
		return err
	}
	if err := validateSink("log.file", c.Log.File, true); err != nil {
		return err
	}
	if !c.Log.Console.Enabled && !c.Log.File.Enabled {
		return errors.New("at least one log sink must be enabled")
	}

	if c.Ingest.HTTP.Enabled {
		if strings.TrimSpace(c.Ingest.HTTP.Listen) == "" {
			return errors.New("ingest.http.listen is required")
		}
		if c.Ingest.HTTP.MaxBodyBytes <= 0 {
			return errors.New("ingest.http.max_body_bytes must be >0")
		}
		if !strings.HasPrefix(c.Ingest.HTTP.WebhookPath, "/") {
			return fmt.Errorf("ingest.http.webhook_path %q must start with /", c.Ingest.HTTP.WebhookPath)
		}
	}
	if c.Ingest.NATS.Enabled {
		if len(c.Ingest.NATS.URL) == 0 {
			return errors.New("ingest.nats.url is required")
		}
		if strings.TrimSpace(c.Ingest.NATS.Subject) == "" {
			return errors.New("ingest.nats.subject is required")
		}
	}

	if c.Recovery.FailureThreshold <= 0 {
		return errors.New("recovery.failure_threshold must be >0")
	}
	if c.Recovery.OpenCooldownSec <= 0 {
		return errors.New("recovery.open_cooldown_sec must be >0")
	}
	if c.Recovery.HistorySize < 0 {
		return errors.New("recovery.history_size must be >=0")
	}
	if c.Recovery.Backoff.InitialMS <= 0 {
		return errors.New("recovery.backoff.initial_ms must be >0")
	}
	if c.Recovery.Backoff.MaxRetries <= 0 {
		return errors.New("recovery.backoff.max_retries must be >0")
	}

	for i, route := range c.Route {
		if strings.TrimSpace(route.Alert) == "" {
			return fmt.Errorf("route[%d]: alert is required", i)
		}
		switch route.Strategy {
		case StrategyWorkflowRetry, StrategyRateLimitBackoff:
		default:
			return fmt.Errorf("route[%d]: unknown strategy %q", i, route.Strategy)
		}
	}

	for i, status := range c.Notify.Statuses {
		switch strings.ToLower(status) {
		case "succeeded", "failed", "skipped":
		default:
			return fmt.Errorf("notify.statuses[%d]: unsupported status %q", i, status)
		}
	}
	return nil
}

// validateSink checks one log sink section.
// Params: section name, sink settings, and whether a path is expected.
// Returns: validation error.
func validateSink(section string, sink LogSinkConfig, isFile bool) error {
	if !sink.Enabled {
		return nil
	}
	switch strings.ToLower(sink.Level) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("%s.level %q is unsupported", section, sink.Level)
	}
	switch sink.Format {
	case "line", "json":
	default:
		return fmt.Errorf("%s.format %q is unsupported", section, sink.Format)
	}
	if isFile && strings.TrimSpace(sink.Path) == "" {
		return fmt.Errorf("%s.path is required", section)
	}
	return nil
}

// decodeFileInto overlays one TOML file onto the snapshot.
// Params: file path and destination snapshot.
// Returns: read or decode error.
func decodeFileInto(path string, cfg *Config) error {
	body, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config %q: %w", path, err)
	}
	if err := toml.Unmarshal(body, cfg); err != nil {
		return fmt.Errorf("parse config %q: %w", path, err)
	}
	return nil
}

// decodeDirInto overlays directory fragments in lexical order.
// Fields present in later fragments win; absent fields keep earlier values.
// Params: directory path and destination snapshot.
// Returns: read or decode error.
func decodeDirInto(dir string, cfg *Config) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("read config dir %q: %w", dir, err)
	}
	paths := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".toml") {
			continue
		}
		paths = append(paths, filepath.Join(dir, entry.Name()))
	}
	if len(paths) == 0 {
		return fmt.Errorf("config dir %q contains no .toml fragments", dir)
	}
	sort.Strings(paths)
	for _, path := range paths {
		if err := decodeFileInto(path, cfg); err != nil {
			return err
		}
	}
	return nil
}
