package ports

import (
	"context"

	"riskGate/internal/domain"
)

// EventBus publishes engine events to interested consumers. Publish
// failures are logged and discarded by callers, never failing the
// operation that produced the event.
type EventBus interface {
	Publish(ctx context.Context, event domain.Event) error
}
