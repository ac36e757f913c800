package recovery

import (
	"context"

	"autoheal/internal/domain"
)

// Handler is one named remediation strategy for a class of alerts.
// Implementations wrap their outbound calls in a circuit breaker keyed by
// the external dependency and translate breaker rejections into a fast
// recognized failure instead of surfacing them.
// Params: firing alert and the mutable attempt record for annotations.
// Returns: true on success, false on a recognized failure, or a non-nil
// error on an unexpected failure (captured as the attempt error message).
type Handler interface {
	StrategyName() string
	AttemptRecovery(ctx context.Context, alert domain.Alert, attempt *domain.RecoveryAttempt) (bool, error)
}
