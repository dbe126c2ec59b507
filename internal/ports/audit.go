package ports

import (
	"context"

	"riskGate/internal/domain"
)

// AuditSink records order activity for compliance. All methods are
// fire-and-forget from the engine's perspective: callers log and
// discard errors, an audit failure never blocks trading.
type AuditSink interface {
	// LogOrder records an order snapshot after a submission attempt.
	LogOrder(ctx context.Context, order *domain.Order) error
	// LogOrderCancellation records a confirmed cancellation.
	LogOrderCancellation(ctx context.Context, orderID, reason string) error
	// LogOrderModification records a confirmed modification.
	LogOrderModification(ctx context.Context, order *domain.Order) error
}
