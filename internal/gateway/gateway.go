package gateway

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"

	"riskGate/internal/domain"
	"riskGate/internal/monitoring"
	"riskGate/internal/ports"
)

// OrderLedger is the ledger-compatible interface the gateway submits
// through.
type OrderLedger interface {
	SubmitOrder(ctx context.Context, spec domain.OrderSpec) *domain.OrderResult
	CancelOrder(ctx context.Context, orderID string) (*domain.OrderResult, error)
	ActiveOrders() []*domain.Order
}

// RiskEvaluator is the evaluator-compatible interface the gateway
// polls for exposure and drives the emergency gate through.
type RiskEvaluator interface {
	MonitorPosition(ctx context.Context, symbol string) (*domain.PositionRisk, error)
	CheckRiskLimits(ctx context.Context) []domain.RiskLimit
	OpenPositions() []domain.Position
	EmergencyShutdown(ctx context.Context, reason string)
	DeactivateEmergencyShutdown(ctx context.Context)
}

// AlertObserver and ActionObserver receive gateway records as they are
// created. Observer failures never abort dispatch.
type (
	AlertObserver  func(alert *domain.RiskAlert)
	ActionObserver func(action *domain.ProtectiveAction)
)

// AlertFilter selects alerts for querying. Zero values match all.
type AlertFilter struct {
	Kind               domain.AlertKind
	MinSeverity        domain.Severity
	Symbol             string
	UnacknowledgedOnly bool
}

// Config holds the gateway's collaborators and policy switches.
type Config struct {
	Ledger    OrderLedger
	Evaluator RiskEvaluator
	Bus       ports.EventBus
	Logger    ports.Logger
	// AutoProtect enables automated protective trades and mass
	// cancellation on shutdown. Alerts are emitted either way.
	AutoProtect bool
	RoundLot    int
}

// Gateway couples the ledger and the evaluator: it is the only surface
// the strategy layer calls. It adds alerting, automated protective
// trades and the global halt switch.
type Gateway struct {
	ledger      OrderLedger
	evaluator   RiskEvaluator
	bus         ports.EventBus
	logger      ports.Logger
	autoProtect bool
	roundLot    float64

	mu              sync.Mutex // Protects everything below
	halted          bool
	haltReason      string
	alerts          []*domain.RiskAlert
	actions         []*domain.ProtectiveAction
	alertObservers  []AlertObserver
	actionObservers []ActionObserver
}

// New creates a new risk gateway.
func New(cfg Config) (*Gateway, error) {
	if cfg.Ledger == nil {
		return nil, fmt.Errorf("order ledger is required for gateway: %w", ports.ErrConfigurationError)
	}
	if cfg.Evaluator == nil {
		return nil, fmt.Errorf("risk evaluator is required for gateway: %w", ports.ErrConfigurationError)
	}
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for gateway: %w", ports.ErrConfigurationError)
	}
	roundLot := cfg.RoundLot
	if roundLot <= 0 {
		roundLot = 100
	}
	return &Gateway{
		ledger:      cfg.Ledger,
		evaluator:   cfg.Evaluator,
		bus:         cfg.Bus,
		logger:      cfg.Logger,
		autoProtect: cfg.AutoProtect,
		roundLot:    float64(roundLot),
	}, nil
}

// ValidateAndSubmitOrder is the strategy layer's submission entry
// point. While the halt gate is active it rejects immediately, emits a
// critical alert and never touches the ledger. A risk rejection from
// the ledger is mirrored as an alert whose kind comes from the failing
// check's own tag.
func (g *Gateway) ValidateAndSubmitOrder(ctx context.Context, spec domain.OrderSpec) *domain.OrderResult {
	g.mu.Lock()
	halted, reason := g.halted, g.haltReason
	g.mu.Unlock()

	if halted {
		msg := fmt.Sprintf("order rejected: emergency shutdown active (%s)", reason)
		g.emitAlert(ctx, &domain.RiskAlert{
			Kind:     domain.AlertEmergencyShutdown,
			Severity: domain.SeverityCritical,
			Message:  msg,
			Symbol:   spec.Symbol,
		})
		monitoring.RecordRejection(string(domain.CheckEmergencyHalt))
		return &domain.OrderResult{Status: domain.StatusRejected, Reason: msg}
	}

	result := g.ledger.SubmitOrder(ctx, spec)
	monitoring.RecordSubmission(spec.Symbol, string(result.Status))

	if result.Status == domain.StatusRejected {
		if failed := result.FailedChecks(); len(failed) > 0 {
			worst := failed[0]
			for _, c := range failed[1:] {
				if c.Severity > worst.Severity {
					worst = c
				}
			}
			alert := &domain.RiskAlert{
				Kind:     domain.AlertKindForCheck(worst.Kind),
				Severity: domain.AggregateSeverity(result.Checks),
				Message:  result.Reason,
				Symbol:   spec.Symbol,
			}
			if result.Order != nil {
				alert.OrderID = result.Order.ID
			}
			g.emitAlert(ctx, alert)
			monitoring.RecordRejection(string(worst.Kind))
		}
	}
	return result
}

// MonitorPositions sweeps every open position, emitting alerts and,
// when automation is enabled, protective trades for triggered stops.
func (g *Gateway) MonitorPositions(ctx context.Context) []domain.PositionRisk {
	var out []domain.PositionRisk
	for _, pos := range g.evaluator.OpenPositions() {
		risk, err := g.evaluator.MonitorPosition(ctx, pos.Symbol)
		if err != nil {
			// Position closed between listing and monitoring.
			g.logger.Debug(ctx, "Position vanished during sweep", map[string]interface{}{"symbol": pos.Symbol})
			continue
		}
		out = append(out, *risk)

		switch {
		case risk.StopLossTriggered:
			g.emitAlert(ctx, &domain.RiskAlert{
				Kind:     domain.AlertStopLoss,
				Severity: domain.SeverityCritical,
				Message: fmt.Sprintf("stop loss triggered for %s: unrealized P&L %.1f%%",
					pos.Symbol, risk.Position.PnLPct()*100),
				Symbol: pos.Symbol,
			})
			if g.autoProtect {
				g.reducePosition(ctx, risk.Position, 1.0, "stop loss triggered", "stop_loss_protection")
			}
		case risk.TakeProfitTriggered:
			g.emitAlert(ctx, &domain.RiskAlert{
				Kind:     domain.AlertTakeProfit,
				Severity: domain.SeverityLow,
				Message: fmt.Sprintf("take profit triggered for %s: unrealized P&L %.1f%%",
					pos.Symbol, risk.Position.PnLPct()*100),
				Symbol: pos.Symbol,
			})
			if g.autoProtect {
				g.reducePosition(ctx, risk.Position, 0.5, "take profit triggered", "take_profit_protection")
			}
		}
	}
	return out
}

// reducePosition submits a protective market sell for the given
// fraction of the position, quantity adjusted down to the round lot.
// The attempt is recorded as a ProtectiveAction whether or not the
// sell succeeds.
func (g *Gateway) reducePosition(ctx context.Context, pos domain.Position, fraction float64, reason, tag string) {
	quantity := g.roundLotAdjust(pos.Quantity * fraction)
	action := &domain.ProtectiveAction{
		Kind:   domain.ActionReducePosition,
		Reason: reason,
		Symbol: pos.Symbol,
	}

	if quantity <= 0 {
		action.Result = fmt.Sprintf("no sell attempted: %.0f shares is below the round lot", pos.Quantity*fraction)
		g.recordAction(ctx, action)
		return
	}

	result := g.ledger.SubmitOrder(ctx, domain.OrderSpec{
		Symbol:   pos.Symbol,
		Side:     domain.Sell,
		Type:     domain.Market,
		Quantity: quantity,
		Strategy: tag,
	})
	if result.Order != nil {
		action.OrderID = result.Order.ID
	}
	action.Executed = result.Success
	if result.Success {
		action.Result = fmt.Sprintf("market sell of %.0f %s submitted", quantity, pos.Symbol)
	} else {
		action.Result = fmt.Sprintf("market sell of %.0f %s failed: %s", quantity, pos.Symbol, result.Reason)
	}
	g.recordAction(ctx, action)
}

// roundLotAdjust rounds a quantity down to the nearest round lot.
func (g *Gateway) roundLotAdjust(quantity float64) float64 {
	return math.Floor(quantity/g.roundLot) * g.roundLot
}

// CheckRiskLimits wraps the evaluator's limit sweep and emits one
// alert per breached limit.
func (g *Gateway) CheckRiskLimits(ctx context.Context) []domain.RiskLimit {
	limits := g.evaluator.CheckRiskLimits(ctx)
	for _, l := range limits {
		if !l.Breached {
			continue
		}
		scope := l.Scope
		if scope == "" {
			scope = "portfolio"
		}
		g.emitAlert(ctx, &domain.RiskAlert{
			Kind:     domain.AlertLimitBreach,
			Severity: domain.SeverityCritical,
			Message: fmt.Sprintf("%s limit breached for %s: %.1f%% of capital against limit %.1f%%",
				l.Kind, scope, l.Current*100, l.Limit*100),
			Symbol: l.Scope,
		})
	}
	return limits
}

// TriggerEmergencyShutdown activates the halt gate. Submissions reject
// until deactivation; monitoring and limit checks keep running. With
// automation enabled every active order is cancelled, one
// ProtectiveAction per attempt.
func (g *Gateway) TriggerEmergencyShutdown(ctx context.Context, reason string) {
	g.mu.Lock()
	if g.halted {
		g.mu.Unlock()
		g.logger.Warn(ctx, "Emergency shutdown already active", map[string]interface{}{"reason": reason})
		return
	}
	g.halted = true
	g.haltReason = reason
	g.mu.Unlock()

	g.evaluator.EmergencyShutdown(ctx, reason)
	monitoring.SetEmergencyGate(true)
	g.logger.Warn(ctx, "Emergency shutdown triggered", map[string]interface{}{"reason": reason})

	g.emitAlert(ctx, &domain.RiskAlert{
		Kind:     domain.AlertEmergencyShutdown,
		Severity: domain.SeverityCritical,
		Message:  fmt.Sprintf("emergency shutdown triggered: %s", reason),
	})
	g.publish(ctx, domain.EventEmergencyTriggered, map[string]interface{}{"reason": reason})

	if !g.autoProtect {
		return
	}
	for _, order := range g.ledger.ActiveOrders() {
		action := &domain.ProtectiveAction{
			Kind:    domain.ActionCancelOrder,
			Reason:  fmt.Sprintf("emergency shutdown: %s", reason),
			OrderID: order.ID,
			Symbol:  order.Symbol,
		}
		result, err := g.ledger.CancelOrder(ctx, order.ID)
		switch {
		case err != nil:
			action.Result = fmt.Sprintf("cancel failed: %v", err)
		case !result.Success:
			action.Result = fmt.Sprintf("cancel refused: %s", result.Reason)
		default:
			action.Executed = true
			action.Result = "order cancelled"
		}
		g.recordAction(ctx, action)
	}
}

// DeactivateEmergencyShutdown reverses the gate only; alert and action
// logs are untouched.
func (g *Gateway) DeactivateEmergencyShutdown(ctx context.Context) {
	g.mu.Lock()
	g.halted = false
	g.haltReason = ""
	g.mu.Unlock()

	g.evaluator.DeactivateEmergencyShutdown(ctx)
	monitoring.SetEmergencyGate(false)
	g.logger.Info(ctx, "Emergency shutdown deactivated")
	g.publish(ctx, domain.EventEmergencyDeactivated, nil)
}

// Halted reports the gate state.
func (g *Gateway) Halted() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.halted
}

// RunSweeps drives the periodic monitoring loop until the context is
// cancelled: every interval it sweeps open positions and recomputes
// risk limits.
func (g *Gateway) RunSweeps(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			g.MonitorPositions(ctx)
			g.CheckRiskLimits(ctx)
		}
	}
}

// --- alert and action bookkeeping ---

// Alerts returns copies of alerts matching the filter, newest last.
func (g *Gateway) Alerts(filter AlertFilter) []domain.RiskAlert {
	g.mu.Lock()
	defer g.mu.Unlock()

	var out []domain.RiskAlert
	for _, a := range g.alerts {
		if filter.Kind != "" && a.Kind != filter.Kind {
			continue
		}
		if a.Severity < filter.MinSeverity {
			continue
		}
		if filter.Symbol != "" && a.Symbol != filter.Symbol {
			continue
		}
		if filter.UnacknowledgedOnly && a.Acknowledged {
			continue
		}
		out = append(out, *a)
	}
	return out
}

// Actions returns copies of all protective actions, newest last.
func (g *Gateway) Actions() []domain.ProtectiveAction {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]domain.ProtectiveAction, 0, len(g.actions))
	for _, a := range g.actions {
		out = append(out, *a)
	}
	return out
}

// AcknowledgeAlert marks one alert acknowledged.
func (g *Gateway) AcknowledgeAlert(alertID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, a := range g.alerts {
		if a.ID == alertID {
			a.Acknowledged = true
			return nil
		}
	}
	return fmt.Errorf("alert %s: %w", alertID, ports.ErrNotFound)
}

// AcknowledgeAllAlerts marks every alert acknowledged and returns how
// many changed.
func (g *Gateway) AcknowledgeAllAlerts() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	changed := 0
	for _, a := range g.alerts {
		if !a.Acknowledged {
			a.Acknowledged = true
			changed++
		}
	}
	return changed
}

// PruneAlerts drops alerts older than the retention window.
func (g *Gateway) PruneAlerts(maxAge time.Duration) int {
	cutoff := time.Now().Add(-maxAge)
	g.mu.Lock()
	defer g.mu.Unlock()
	kept := g.alerts[:0]
	removed := 0
	for _, a := range g.alerts {
		if a.CreatedAt.Before(cutoff) {
			removed++
			continue
		}
		kept = append(kept, a)
	}
	g.alerts = kept
	return removed
}

// PruneActions drops protective actions older than the retention
// window.
func (g *Gateway) PruneActions(maxAge time.Duration) int {
	cutoff := time.Now().Add(-maxAge)
	g.mu.Lock()
	defer g.mu.Unlock()
	kept := g.actions[:0]
	removed := 0
	for _, a := range g.actions {
		if a.CreatedAt.Before(cutoff) {
			removed++
			continue
		}
		kept = append(kept, a)
	}
	g.actions = kept
	return removed
}

// OnAlert registers an alert observer.
func (g *Gateway) OnAlert(obs AlertObserver) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.alertObservers = append(g.alertObservers, obs)
}

// OnAction registers a protective-action observer.
func (g *Gateway) OnAction(obs ActionObserver) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.actionObservers = append(g.actionObservers, obs)
}

func (g *Gateway) emitAlert(ctx context.Context, alert *domain.RiskAlert) {
	alert.ID = "alr-" + uuid.NewString()
	alert.CreatedAt = time.Now()

	g.mu.Lock()
	g.alerts = append(g.alerts, alert)
	observers := make([]AlertObserver, len(g.alertObservers))
	copy(observers, g.alertObservers)
	g.mu.Unlock()

	monitoring.RecordAlert(string(alert.Kind), alert.Severity.String())
	g.logger.Warn(ctx, "Risk alert", map[string]interface{}{
		"alertID":  alert.ID,
		"kind":     string(alert.Kind),
		"severity": alert.Severity.String(),
		"message":  alert.Message,
	})
	g.publish(ctx, domain.EventRiskAlert, map[string]interface{}{
		"alertID":  alert.ID,
		"kind":     string(alert.Kind),
		"severity": alert.Severity.String(),
		"symbol":   alert.Symbol,
	})

	cp := *alert
	for _, obs := range observers {
		g.dispatchAlert(ctx, obs, &cp)
	}
}

func (g *Gateway) dispatchAlert(ctx context.Context, obs AlertObserver, alert *domain.RiskAlert) {
	defer func() {
		if r := recover(); r != nil {
			g.logger.Error(ctx, fmt.Errorf("alert observer panic: %v", r), "Alert observer failed",
				map[string]interface{}{"alertID": alert.ID})
		}
	}()
	obs(alert)
}

func (g *Gateway) recordAction(ctx context.Context, action *domain.ProtectiveAction) {
	action.ID = "act-" + uuid.NewString()
	action.CreatedAt = time.Now()

	g.mu.Lock()
	g.actions = append(g.actions, action)
	observers := make([]ActionObserver, len(g.actionObservers))
	copy(observers, g.actionObservers)
	g.mu.Unlock()

	monitoring.RecordProtectiveAction(string(action.Kind), action.Executed)
	g.logger.Info(ctx, "Protective action", map[string]interface{}{
		"actionID": action.ID,
		"kind":     string(action.Kind),
		"executed": action.Executed,
		"result":   action.Result,
	})
	g.publish(ctx, domain.EventProtectiveAction, map[string]interface{}{
		"actionID": action.ID,
		"kind":     string(action.Kind),
		"symbol":   action.Symbol,
		"executed": action.Executed,
	})

	cp := *action
	for _, obs := range observers {
		g.dispatchAction(ctx, obs, &cp)
	}
}

func (g *Gateway) dispatchAction(ctx context.Context, obs ActionObserver, action *domain.ProtectiveAction) {
	defer func() {
		if r := recover(); r != nil {
			g.logger.Error(ctx, fmt.Errorf("action observer panic: %v", r), "Action observer failed",
				map[string]interface{}{"actionID": action.ID})
		}
	}()
	obs(action)
}

func (g *Gateway) publish(ctx context.Context, eventType domain.EventType, payload map[string]interface{}) {
	if g.bus == nil {
		return
	}
	if err := g.bus.Publish(ctx, domain.Event{Type: eventType, Payload: payload}); err != nil {
		g.logger.Warn(ctx, "Event publish failed", map[string]interface{}{"event": string(eventType), "error": err.Error()})
	}
}
