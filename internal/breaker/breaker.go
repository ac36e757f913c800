package breaker

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// ErrOpen is returned when a call is rejected by an open circuit.
// Callers distinguish it from operation failures with errors.Is.
var ErrOpen = errors.New("circuit breaker is open")

// State is the lifecycle state of one protected service key.
// Params: closed/open/half-open state constants.
// Returns: snapshot value reported by GetState.
type State string

const (
	// StateClosed allows calls and counts consecutive failures.
	StateClosed State = "closed"
	// StateOpen rejects calls until the cooldown elapses.
	StateOpen State = "open"
	// StateHalfOpen allows exactly one trial call after the cooldown.
	StateHalfOpen State = "half_open"
)

const (
	defaultFailureThreshold = 5
	defaultCooldown         = time.Minute
)

// Config holds breaker tuning shared by all keys in one registry.
// Params: consecutive failure threshold and open-state cooldown.
// Returns: normalized breaker settings.
type Config struct {
	FailureThreshold int
	Cooldown         time.Duration
}

// normalize applies defaults for unset fields.
// Params: none.
// Returns: config with positive threshold and cooldown.
func (c Config) normalize() Config {
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = defaultFailureThreshold
	}
	if c.Cooldown <= 0 {
		c.Cooldown = defaultCooldown
	}
	return c
}

// Observer receives breaker lifecycle events for metrics emission.
// Params: service key and transition/rejection details.
// Returns: side effects only.
type Observer interface {
	StateChanged(service string, from, to State)
	CallRejected(service string)
}

// Registry tracks one circuit per service key, created lazily on first use.
// Params: shared config, optional logger/observer, and injected clock.
// Returns: concurrency-safe breaker registry.
type Registry struct {
	mu       sync.Mutex
	circuits map[string]*circuit
	cfg      Config
	logger   *slog.Logger
	observer Observer
	now      func() time.Time
}

// circuit is per-key state guarded by its own mutex. The mutex is held
// across the whole check-run-transition sequence so at most one trial
// call is in flight per key.
type circuit struct {
	mu           sync.Mutex
	service      string
	state        State
	failureCount int
	openedAt     time.Time
}

// Option customizes registry construction.
// Params: registry under construction.
// Returns: none.
type Option func(*Registry)

// WithLogger attaches a logger for state transition records.
// Params: slog logger.
// Returns: registry option.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Registry) { r.logger = logger }
}

// WithObserver attaches a metrics observer.
// Params: observer implementation.
// Returns: registry option.
func WithObserver(observer Observer) Option {
	return func(r *Registry) { r.observer = observer }
}

// WithNow overrides the time source for deterministic tests.
// Params: now function.
// Returns: registry option.
func WithNow(now func() time.Time) Option {
	return func(r *Registry) { r.now = now }
}

// New creates a breaker registry.
// Params: breaker config and optional logger/observer/clock options.
// Returns: initialized registry with no circuits.
func New(cfg Config, opts ...Option) *Registry {
	registry := &Registry{
		circuits: make(map[string]*circuit),
		cfg:      cfg.normalize(),
		now:      func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(registry)
	}
	return registry
}

// Execute runs one operation under the circuit for the service key.
// Params: service key and operation producing a result or an error.
// Returns: operation result, the operation's own error after bookkeeping,
// or an ErrOpen-wrapped error when the call is rejected without invocation.
func (r *Registry) Execute(service string, op func() (any, error)) (any, error) {
	c := r.circuitFor(service)

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == StateOpen {
		if r.now().Sub(c.openedAt) < r.cfg.Cooldown {
			if r.observer != nil {
				r.observer.CallRejected(service)
			}
			return nil, fmt.Errorf("service %q: %w", service, ErrOpen)
		}
		r.transition(c, StateHalfOpen)
	}

	result, err := op()
	if err != nil {
		r.onFailure(c)
		return nil, err
	}
	r.onSuccess(c)
	return result, nil
}

// GetState returns the current state snapshot for the service key.
// Params: service key.
// Returns: circuit state, or StateClosed for never-seen keys.
func (r *Registry) GetState(service string) State {
	r.mu.Lock()
	c, ok := r.circuits[service]
	r.mu.Unlock()
	if !ok {
		return StateClosed
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Reset forces the circuit back to closed regardless of current state.
// Params: service key.
// Returns: none; unknown keys are a no-op.
func (r *Registry) Reset(service string) {
	r.mu.Lock()
	c, ok := r.circuits[service]
	r.mu.Unlock()
	if !ok {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	r.transition(c, StateClosed)
	c.failureCount = 0
	c.openedAt = time.Time{}
	if r.logger != nil {
		r.logger.Info("circuit breaker reset", "service", c.service)
	}
}

// circuitFor returns existing circuit or creates a closed one.
// Params: service key.
// Returns: per-key circuit instance.
func (r *Registry) circuitFor(service string) *circuit {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.circuits[service]
	if !ok {
		c = &circuit{service: service, state: StateClosed}
		r.circuits[service] = c
	}
	return c
}

// onSuccess applies success bookkeeping under the circuit lock.
// Params: circuit with held mutex.
// Returns: none.
func (r *Registry) onSuccess(c *circuit) {
	if c.state == StateHalfOpen {
		r.transition(c, StateClosed)
		c.openedAt = time.Time{}
	}
	c.failureCount = 0
}

// onFailure applies failure bookkeeping under the circuit lock.
// Params: circuit with held mutex.
// Returns: none.
func (r *Registry) onFailure(c *circuit) {
	c.failureCount++
	switch {
	case c.state == StateHalfOpen:
		// Failed trial: stay open and restart the cooldown clock.
		r.transition(c, StateOpen)
		c.openedAt = r.now()
	case c.state == StateClosed && c.failureCount >= r.cfg.FailureThreshold:
		r.transition(c, StateOpen)
		c.openedAt = r.now()
	}
}

// transition moves the circuit to a new state and emits observability events.
// Params: circuit with held mutex and target state.
// Returns: none; no-op when the state is unchanged.
func (r *Registry) transition(c *circuit, next State) {
	if c.state == next {
		return
	}
	prev := c.state
	c.state = next
	if r.logger != nil {
		r.logger.Info("circuit breaker state changed",
			"service", c.service, "from", string(prev), "to", string(next))
	}
	if r.observer != nil {
		r.observer.StateChanged(c.service, prev, next)
	}
}
