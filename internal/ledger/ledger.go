package ledger

import (
	"context"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"riskGate/internal/domain"
	"riskGate/internal/ports"
)

// DefaultRoundLot is the reference-market lot size. It is policy, not
// an engine invariant, and is overridable via Config.
const DefaultRoundLot = 100

// RiskChecker is the evaluator-compatible interface the ledger depends
// on for admission decisions.
type RiskChecker interface {
	CheckOrder(ctx context.Context, order *domain.Order) []domain.RiskCheckResult
}

// Router is an extension point invoked after an order passes admission
// and before it reaches the venue (e.g. smart order routing). The
// default is a no-op.
type Router interface {
	Route(ctx context.Context, order *domain.Order) error
}

// StatusCallback observes terminal status transitions.
type StatusCallback func(order *domain.Order)

// Config holds the ledger's collaborators. Evaluator and Logger are
// required; Venue, Audit, Bus and Router are optional. A nil venue
// puts the ledger in pure in-memory mode.
type Config struct {
	Evaluator RiskChecker
	Venue     ports.ExecutionVenue
	Audit     ports.AuditSink
	Bus       ports.EventBus
	Router    Router
	Logger    ports.Logger
	RoundLot  int
}

// Ledger owns the order map and all order state transitions.
type Ledger struct {
	evaluator RiskChecker
	venue     ports.ExecutionVenue
	audit     ports.AuditSink
	bus       ports.EventBus
	router    Router
	logger    ports.Logger
	roundLot  float64

	mu        sync.Mutex // Protects orders and callbacks
	orders    map[string]*domain.Order
	callbacks []StatusCallback
}

// New creates a new order ledger.
func New(cfg Config) (*Ledger, error) {
	if cfg.Evaluator == nil {
		return nil, fmt.Errorf("risk evaluator is required for ledger: %w", ports.ErrConfigurationError)
	}
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for ledger: %w", ports.ErrConfigurationError)
	}
	roundLot := cfg.RoundLot
	if roundLot <= 0 {
		roundLot = DefaultRoundLot
	}
	return &Ledger{
		evaluator: cfg.Evaluator,
		venue:     cfg.Venue,
		audit:     cfg.Audit,
		bus:       cfg.Bus,
		router:    cfg.Router,
		logger:    cfg.Logger,
		roundLot:  float64(roundLot),
		orders:    make(map[string]*domain.Order),
	}, nil
}

// OnStatusChange registers a callback fired on terminal transitions.
// Callback panics are isolated and never abort dispatch.
func (l *Ledger) OnStatusChange(cb StatusCallback) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.callbacks = append(l.callbacks, cb)
}

// SubmitOrder validates, risk-checks and routes a new order. Expected
// rejections come back as a Rejected OrderResult with one aggregated
// reason; the method never returns an error for a business rejection.
func (l *Ledger) SubmitOrder(ctx context.Context, spec domain.OrderSpec) *domain.OrderResult {
	order := l.newOrder(spec)

	if errs := l.validateSpec(spec); len(errs) > 0 {
		return l.reject(ctx, order, strings.Join(errs, "; "), nil)
	}

	checks := l.evaluator.CheckOrder(ctx, order)
	if reasons := failedCheckReasons(checks); len(reasons) > 0 {
		return l.reject(ctx, order, strings.Join(reasons, "; "), checks)
	}

	if l.router != nil {
		if err := l.router.Route(ctx, order); err != nil {
			l.logger.Error(ctx, err, "Order routing failed", map[string]interface{}{"orderID": order.ID})
			return l.fail(ctx, order, fmt.Sprintf("routing failed: %v", err), checks)
		}
	}

	order.Status = domain.StatusSubmitted
	order.SubmittedAt = time.Now()
	l.store(order)

	if l.venue == nil {
		// Pure in-memory mode: the order rests as Submitted.
		l.auditOrder(ctx, order)
		l.publish(ctx, domain.EventOrderSubmitted, orderPayload(order))
		return &domain.OrderResult{Order: l.snapshot(order.ID), Status: order.Status, Success: true, Checks: checks}
	}

	exec, err := l.venue.ExecuteOrder(ctx, order)
	if err != nil {
		l.logger.Error(ctx, err, "Venue execution failed", map[string]interface{}{"orderID": order.ID, "symbol": order.Symbol})
		return l.fail(ctx, order, fmt.Sprintf("venue execution failed: %v", err), checks)
	}
	if !exec.Success {
		return l.fail(ctx, order, fmt.Sprintf("venue rejected order: %s", exec.Message), checks)
	}

	l.mu.Lock()
	if exec.Status != "" {
		order.Status = exec.Status
	} else {
		order.Status = domain.StatusAccepted
	}
	order.FilledQuantity = exec.FilledQuantity
	order.AvgFillPrice = exec.AveragePrice
	order.Commission = exec.Commission
	order.Slippage = exec.Slippage
	order.UpdatedAt = time.Now()
	if order.Status == domain.StatusFilled {
		order.FilledAt = order.UpdatedAt
	}
	terminal := order.Status.IsTerminal()
	l.mu.Unlock()

	l.auditOrder(ctx, order)
	l.publish(ctx, domain.EventOrderSubmitted, orderPayload(order))
	if terminal {
		l.notifyTerminal(ctx, order)
	}
	return &domain.OrderResult{Order: l.snapshot(order.ID), Status: order.Status, Success: true, Checks: checks}
}

// CancelOrder cancels an active order. The local state flips to
// Cancelled only after venue confirmation; unknown or already-terminal
// orders fail without mutation.
func (l *Ledger) CancelOrder(ctx context.Context, orderID string) (*domain.OrderResult, error) {
	l.mu.Lock()
	order, ok := l.orders[orderID]
	if !ok {
		l.mu.Unlock()
		return nil, fmt.Errorf("order %s: %w", orderID, ports.ErrNotFound)
	}
	if order.Status.IsTerminal() {
		status := order.Status
		l.mu.Unlock()
		return nil, fmt.Errorf("order %s is already %s: %w", orderID, status, ports.ErrInvalidState)
	}
	l.mu.Unlock()

	if l.venue != nil {
		ack, err := l.venue.CancelOrder(ctx, orderID)
		if err != nil {
			l.logger.Error(ctx, err, "Venue cancel failed", map[string]interface{}{"orderID": orderID})
			return nil, fmt.Errorf("cancel order %s: %v: %w", orderID, err, ports.ErrVenueFailure)
		}
		if !ack.Success {
			return &domain.OrderResult{Order: l.snapshot(orderID), Status: order.Status, Success: false,
				Reason: fmt.Sprintf("venue refused cancellation: %s", ack.Message)}, nil
		}
	}

	l.mu.Lock()
	// A fill can land through the fill feed while the cancel request is
	// in flight; a terminal order is never overwritten.
	if order.Status.IsTerminal() {
		status := order.Status
		l.mu.Unlock()
		return nil, fmt.Errorf("order %s became %s during cancellation: %w", orderID, status, ports.ErrInvalidState)
	}
	order.Status = domain.StatusCancelled
	order.UpdatedAt = time.Now()
	l.mu.Unlock()

	if l.audit != nil {
		if err := l.audit.LogOrderCancellation(ctx, orderID, "cancelled by request"); err != nil {
			l.logger.Warn(ctx, "Audit write failed for cancellation", map[string]interface{}{"orderID": orderID, "error": err.Error()})
		}
	}
	l.publish(ctx, domain.EventOrderCancelled, orderPayload(order))
	l.notifyTerminal(ctx, order)
	return &domain.OrderResult{Order: l.snapshot(orderID), Status: domain.StatusCancelled, Success: true}, nil
}

// ModifyOrder applies a tentative price/quantity change, re-validates
// and re-risk-checks it, and rolls everything back on any validation,
// risk or venue failure. The order is never left partially modified.
func (l *Ledger) ModifyOrder(ctx context.Context, orderID string, price, quantity *float64) (*domain.OrderResult, error) {
	l.mu.Lock()
	order, ok := l.orders[orderID]
	if !ok {
		l.mu.Unlock()
		return nil, fmt.Errorf("order %s: %w", orderID, ports.ErrNotFound)
	}
	if order.Status.IsTerminal() {
		status := order.Status
		l.mu.Unlock()
		return nil, fmt.Errorf("order %s is already %s: %w", orderID, status, ports.ErrInvalidState)
	}

	oldPrice, oldQuantity := order.Price, order.Quantity
	if price != nil {
		order.Price = *price
	}
	if quantity != nil {
		order.Quantity = *quantity
	}
	spec := specFromOrder(order)
	l.mu.Unlock()

	rollback := func() {
		l.mu.Lock()
		order.Price = oldPrice
		order.Quantity = oldQuantity
		l.mu.Unlock()
	}

	if errs := l.validateSpec(spec); len(errs) > 0 {
		rollback()
		return &domain.OrderResult{Order: l.snapshot(orderID), Status: order.Status, Success: false,
			Reason: strings.Join(errs, "; ")}, nil
	}

	checks := l.evaluator.CheckOrder(ctx, order)
	if reasons := failedCheckReasons(checks); len(reasons) > 0 {
		rollback()
		return &domain.OrderResult{Order: l.snapshot(orderID), Status: order.Status, Success: false,
			Reason: strings.Join(reasons, "; "), Checks: checks}, nil
	}

	if l.venue != nil {
		ack, err := l.venue.ModifyOrder(ctx, orderID, price, quantity)
		if err != nil {
			rollback()
			l.logger.Error(ctx, err, "Venue modify failed", map[string]interface{}{"orderID": orderID})
			return nil, fmt.Errorf("modify order %s: %v: %w", orderID, err, ports.ErrVenueFailure)
		}
		if !ack.Success {
			rollback()
			return &domain.OrderResult{Order: l.snapshot(orderID), Status: order.Status, Success: false,
				Reason: fmt.Sprintf("venue refused modification: %s", ack.Message)}, nil
		}
	}

	l.mu.Lock()
	order.UpdatedAt = time.Now()
	l.mu.Unlock()

	if l.audit != nil {
		if err := l.audit.LogOrderModification(ctx, order); err != nil {
			l.logger.Warn(ctx, "Audit write failed for modification", map[string]interface{}{"orderID": orderID, "error": err.Error()})
		}
	}
	l.publish(ctx, domain.EventOrderModified, orderPayload(order))
	return &domain.OrderResult{Order: l.snapshot(orderID), Status: order.Status, Success: true, Checks: checks}, nil
}

// UpdateOrderStatus is the fill-feed entry point. It advances fill
// quantity, average price, commission and slippage and applies the
// reported status.
func (l *Ledger) UpdateOrderStatus(ctx context.Context, orderID string, status domain.OrderStatus, filledQty, avgPrice, commission, slippage float64) error {
	l.mu.Lock()
	order, ok := l.orders[orderID]
	if !ok {
		l.mu.Unlock()
		return fmt.Errorf("order %s: %w", orderID, ports.ErrNotFound)
	}
	if order.Status.IsTerminal() {
		current := order.Status
		l.mu.Unlock()
		return fmt.Errorf("order %s is already %s: %w", orderID, current, ports.ErrInvalidState)
	}

	order.Status = status
	order.FilledQuantity = filledQty
	order.AvgFillPrice = avgPrice
	order.Commission = commission
	order.Slippage = slippage
	order.UpdatedAt = time.Now()
	if status == domain.StatusFilled {
		order.FilledAt = order.UpdatedAt
	}
	terminal := status.IsTerminal()
	l.mu.Unlock()

	l.publish(ctx, domain.EventOrderStatusUpdated, orderPayload(order))
	if terminal {
		l.auditOrder(ctx, order)
		l.notifyTerminal(ctx, order)
	}
	return nil
}

// GetOrder returns a copy of the order.
func (l *Ledger) GetOrder(orderID string) (*domain.Order, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	order, ok := l.orders[orderID]
	if !ok {
		return nil, fmt.Errorf("order %s: %w", orderID, ports.ErrNotFound)
	}
	cp := *order
	return &cp, nil
}

// OrdersBySymbol returns copies of all orders for the symbol.
func (l *Ledger) OrdersBySymbol(symbol string) []*domain.Order {
	return l.filter(func(o *domain.Order) bool { return o.Symbol == symbol })
}

// OrdersByStrategy returns copies of all orders with the strategy tag.
func (l *Ledger) OrdersByStrategy(strategy string) []*domain.Order {
	return l.filter(func(o *domain.Order) bool { return o.Strategy == strategy })
}

// OrdersByStatus returns copies of all orders in the given status.
func (l *Ledger) OrdersByStatus(status domain.OrderStatus) []*domain.Order {
	return l.filter(func(o *domain.Order) bool { return o.Status == status })
}

// ActiveOrders returns copies of all non-terminal orders.
func (l *Ledger) ActiveOrders() []*domain.Order {
	return l.filter(func(o *domain.Order) bool { return o.IsActive() })
}

// CleanupOrders drops terminal orders last touched before the retention
// window and returns how many were removed.
func (l *Ledger) CleanupOrders(maxAge time.Duration) int {
	cutoff := time.Now().Add(-maxAge)
	l.mu.Lock()
	defer l.mu.Unlock()

	removed := 0
	for id, o := range l.orders {
		if o.Status.IsTerminal() && o.UpdatedAt.Before(cutoff) {
			delete(l.orders, id)
			removed++
		}
	}
	return removed
}

// --- internals ---

func (l *Ledger) newOrder(spec domain.OrderSpec) *domain.Order {
	now := time.Now()
	return &domain.Order{
		ID:        "ord-" + uuid.NewString(),
		Symbol:    spec.Symbol,
		Side:      spec.Side,
		Type:      spec.Type,
		Quantity:  spec.Quantity,
		Price:     spec.Price,
		StopPrice: spec.StopPrice,
		Status:    domain.StatusPending,
		Strategy:  spec.Strategy,
		CreatedAt: now,
		UpdatedAt: now,
		Metadata:  spec.Metadata,
	}
}

// validateSpec checks order shape. All violations are collected, not
// just the first.
func (l *Ledger) validateSpec(spec domain.OrderSpec) []string {
	var errs []string
	if strings.TrimSpace(spec.Symbol) == "" {
		errs = append(errs, "symbol must not be empty")
	}
	if spec.Side != domain.Buy && spec.Side != domain.Sell {
		errs = append(errs, fmt.Sprintf("invalid order side %q", spec.Side))
	}
	switch spec.Type {
	case domain.Market, domain.Limit, domain.Stop, domain.StopLimit:
	default:
		errs = append(errs, fmt.Sprintf("invalid order type %q", spec.Type))
	}
	if spec.Quantity <= 0 {
		errs = append(errs, "quantity must be positive")
	} else if math.Mod(spec.Quantity, l.roundLot) != 0 {
		errs = append(errs, fmt.Sprintf("quantity %.0f is not a multiple of the round lot %.0f", spec.Quantity, l.roundLot))
	}
	if spec.Type == domain.Limit || spec.Type == domain.StopLimit {
		if spec.Price <= 0 {
			errs = append(errs, fmt.Sprintf("%s orders require a positive limit price", spec.Type))
		}
	}
	if spec.Type == domain.Stop || spec.Type == domain.StopLimit {
		if spec.StopPrice <= 0 {
			errs = append(errs, fmt.Sprintf("%s orders require a positive stop price", spec.Type))
		}
	}
	if spec.Price < 0 {
		errs = append(errs, "limit price must be positive")
	}
	if spec.StopPrice < 0 {
		errs = append(errs, "stop price must be positive")
	}
	return errs
}

func specFromOrder(o *domain.Order) domain.OrderSpec {
	return domain.OrderSpec{
		Symbol:    o.Symbol,
		Side:      o.Side,
		Type:      o.Type,
		Quantity:  o.Quantity,
		Price:     o.Price,
		StopPrice: o.StopPrice,
		Strategy:  o.Strategy,
		Metadata:  o.Metadata,
	}
}

func failedCheckReasons(checks []domain.RiskCheckResult) []string {
	var out []string
	for _, c := range checks {
		if !c.Passed {
			out = append(out, c.Reason)
		}
	}
	return out
}

func (l *Ledger) reject(ctx context.Context, order *domain.Order, reason string, checks []domain.RiskCheckResult) *domain.OrderResult {
	l.mu.Lock()
	order.Status = domain.StatusRejected
	order.RejectReason = reason
	order.UpdatedAt = time.Now()
	l.mu.Unlock()
	l.store(order)
	l.auditOrder(ctx, order)
	l.publish(ctx, domain.EventOrderSubmitted, orderPayload(order))
	l.notifyTerminal(ctx, order)
	return &domain.OrderResult{Order: l.snapshot(order.ID), Status: domain.StatusRejected, Reason: reason, Checks: checks}
}

func (l *Ledger) fail(ctx context.Context, order *domain.Order, reason string, checks []domain.RiskCheckResult) *domain.OrderResult {
	l.mu.Lock()
	order.Status = domain.StatusFailed
	order.RejectReason = reason
	order.UpdatedAt = time.Now()
	l.mu.Unlock()
	l.store(order)
	l.auditOrder(ctx, order)
	l.publish(ctx, domain.EventOrderSubmitted, orderPayload(order))
	l.notifyTerminal(ctx, order)
	return &domain.OrderResult{Order: l.snapshot(order.ID), Status: domain.StatusFailed, Reason: reason, Checks: checks}
}

func (l *Ledger) store(order *domain.Order) {
	l.mu.Lock()
	l.orders[order.ID] = order
	l.mu.Unlock()
}

func (l *Ledger) snapshot(orderID string) *domain.Order {
	l.mu.Lock()
	defer l.mu.Unlock()
	if o, ok := l.orders[orderID]; ok {
		cp := *o
		return &cp
	}
	return nil
}

func (l *Ledger) filter(keep func(*domain.Order) bool) []*domain.Order {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []*domain.Order
	for _, o := range l.orders {
		if keep(o) {
			cp := *o
			out = append(out, &cp)
		}
	}
	return out
}

// notifyTerminal fires status callbacks for a terminal transition.
// Each callback is isolated: a panic is logged and dispatch continues.
func (l *Ledger) notifyTerminal(ctx context.Context, order *domain.Order) {
	l.mu.Lock()
	cbs := make([]StatusCallback, len(l.callbacks))
	copy(cbs, l.callbacks)
	cp := *order
	l.mu.Unlock()

	for _, cb := range cbs {
		func() {
			defer func() {
				if r := recover(); r != nil {
					l.logger.Error(ctx, fmt.Errorf("status callback panic: %v", r), "Status callback failed",
						map[string]interface{}{"orderID": cp.ID})
				}
			}()
			cb(&cp)
		}()
	}
}

func (l *Ledger) auditOrder(ctx context.Context, order *domain.Order) {
	if l.audit == nil {
		return
	}
	if err := l.audit.LogOrder(ctx, order); err != nil {
		l.logger.Warn(ctx, "Audit write failed for order", map[string]interface{}{"orderID": order.ID, "error": err.Error()})
	}
}

func (l *Ledger) publish(ctx context.Context, eventType domain.EventType, payload map[string]interface{}) {
	if l.bus == nil {
		return
	}
	if err := l.bus.Publish(ctx, domain.Event{Type: eventType, Payload: payload}); err != nil {
		l.logger.Warn(ctx, "Event publish failed", map[string]interface{}{"event": string(eventType), "error": err.Error()})
	}
}

func orderPayload(o *domain.Order) map[string]interface{} {
	return map[string]interface{}{
		"orderID":  o.ID,
		"symbol":   o.Symbol,
		"side":     string(o.Side),
		"type":     string(o.Type),
		"quantity": o.Quantity,
		"status":   string(o.Status),
		"strategy": o.Strategy,
	}
}
