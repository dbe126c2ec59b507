package gateway

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"riskGate/internal/domain"
	"riskGate/internal/ports"
)

type testLogger struct{}

func (testLogger) Debug(ctx context.Context, msg string, fields ...map[string]interface{}) {}
func (testLogger) Info(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (testLogger) Warn(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (testLogger) Error(ctx context.Context, err error, msg string, fields ...map[string]interface{}) {
}

// mockLedger records submissions and cancels and serves canned results.
type mockLedger struct {
	submitResult *domain.OrderResult
	cancelResult *domain.OrderResult
	cancelErr    error
	active       []*domain.Order

	submitted []domain.OrderSpec
	cancelled []string
}

func (m *mockLedger) SubmitOrder(ctx context.Context, spec domain.OrderSpec) *domain.OrderResult {
	m.submitted = append(m.submitted, spec)
	if m.submitResult != nil {
		return m.submitResult
	}
	return &domain.OrderResult{
		Order:   &domain.Order{ID: "ord-test", Symbol: spec.Symbol, Side: spec.Side, Quantity: spec.Quantity},
		Status:  domain.StatusSubmitted,
		Success: true,
	}
}

func (m *mockLedger) CancelOrder(ctx context.Context, orderID string) (*domain.OrderResult, error) {
	m.cancelled = append(m.cancelled, orderID)
	if m.cancelErr != nil {
		return nil, m.cancelErr
	}
	if m.cancelResult != nil {
		return m.cancelResult, nil
	}
	return &domain.OrderResult{Status: domain.StatusCancelled, Success: true}, nil
}

func (m *mockLedger) ActiveOrders() []*domain.Order { return m.active }

// mockEvaluator serves canned position risk and limit snapshots.
type mockEvaluator struct {
	positions    []domain.Position
	risks        map[string]*domain.PositionRisk
	limits       []domain.RiskLimit
	halted       bool
	haltReasons  []string
	deactivation int
}

func (m *mockEvaluator) MonitorPosition(ctx context.Context, symbol string) (*domain.PositionRisk, error) {
	risk, ok := m.risks[symbol]
	if !ok {
		return nil, ports.ErrNotFound
	}
	return risk, nil
}

func (m *mockEvaluator) CheckRiskLimits(ctx context.Context) []domain.RiskLimit { return m.limits }
func (m *mockEvaluator) OpenPositions() []domain.Position                       { return m.positions }

func (m *mockEvaluator) EmergencyShutdown(ctx context.Context, reason string) {
	m.halted = true
	m.haltReasons = append(m.haltReasons, reason)
}

func (m *mockEvaluator) DeactivateEmergencyShutdown(ctx context.Context) {
	m.halted = false
	m.deactivation++
}

func newTestGateway(t *testing.T, ledger *mockLedger, evaluator *mockEvaluator, autoProtect bool) *Gateway {
	t.Helper()
	g, err := New(Config{
		Ledger:      ledger,
		Evaluator:   evaluator,
		Logger:      testLogger{},
		AutoProtect: autoProtect,
	})
	require.NoError(t, err)
	return g
}

func buySpec() domain.OrderSpec {
	return domain.OrderSpec{Symbol: "600519", Side: domain.Buy, Type: domain.Market, Quantity: 500}
}

func TestNewRequiresDependencies(t *testing.T) {
	_, err := New(Config{Evaluator: &mockEvaluator{}, Logger: testLogger{}})
	assert.ErrorIs(t, err, ports.ErrConfigurationError)

	_, err = New(Config{Ledger: &mockLedger{}, Logger: testLogger{}})
	assert.ErrorIs(t, err, ports.ErrConfigurationError)
}

func TestSubmitPassesThrough(t *testing.T) {
	ledger := &mockLedger{}
	g := newTestGateway(t, ledger, &mockEvaluator{}, true)

	result := g.ValidateAndSubmitOrder(context.Background(), buySpec())
	require.True(t, result.Success)
	assert.Len(t, ledger.submitted, 1)
	assert.Empty(t, g.Alerts(AlertFilter{}))
}

func TestSubmitWhileHaltedNeverReachesLedger(t *testing.T) {
	ledger := &mockLedger{}
	g := newTestGateway(t, ledger, &mockEvaluator{}, true)

	g.TriggerEmergencyShutdown(context.Background(), "manual kill switch")
	require.True(t, g.Halted())

	result := g.ValidateAndSubmitOrder(context.Background(), buySpec())
	assert.False(t, result.Success)
	assert.Equal(t, domain.StatusRejected, result.Status)
	assert.Contains(t, result.Reason, "emergency shutdown active")
	assert.Empty(t, ledger.submitted)

	alerts := g.Alerts(AlertFilter{Kind: domain.AlertEmergencyShutdown})
	require.NotEmpty(t, alerts)
	last := alerts[len(alerts)-1]
	assert.Equal(t, domain.SeverityCritical, last.Severity)
	assert.Equal(t, "600519", last.Symbol)
}

func TestRejectionMirroredAsAlert(t *testing.T) {
	checks := []domain.RiskCheckResult{
		{Passed: true, Kind: domain.CheckCapital},
		{Passed: false, Kind: domain.CheckSectorLimit, Severity: domain.SeverityMedium, Reason: "sector exposure over limit"},
		{Passed: false, Kind: domain.CheckDailyLoss, Severity: domain.SeverityCritical, Reason: "daily loss limit reached"},
	}
	ledger := &mockLedger{submitResult: &domain.OrderResult{
		Order:  &domain.Order{ID: "ord-rejected"},
		Status: domain.StatusRejected,
		Reason: "sector exposure over limit; daily loss limit reached",
		Checks: checks,
	}}
	g := newTestGateway(t, ledger, &mockEvaluator{}, true)

	g.ValidateAndSubmitOrder(context.Background(), buySpec())

	alerts := g.Alerts(AlertFilter{})
	require.Len(t, alerts, 1)
	// Alert kind follows the worst failing check, severity the aggregate.
	assert.Equal(t, domain.AlertDailyLoss, alerts[0].Kind)
	assert.Equal(t, domain.SeverityCritical, alerts[0].Severity)
	assert.Equal(t, "ord-rejected", alerts[0].OrderID)
}

func TestShapeRejectionEmitsNoAlert(t *testing.T) {
	// Shape rejections carry no check results, so nothing maps to an
	// alert kind.
	ledger := &mockLedger{submitResult: &domain.OrderResult{
		Status: domain.StatusRejected,
		Reason: "quantity must be positive",
	}}
	g := newTestGateway(t, ledger, &mockEvaluator{}, true)

	g.ValidateAndSubmitOrder(context.Background(), buySpec())
	assert.Empty(t, g.Alerts(AlertFilter{}))
}

func stopLossEvaluator() *mockEvaluator {
	pos := domain.Position{Symbol: "600519", Quantity: 750, CostBasis: 10.0, CurrentPrice: 9.0}
	return &mockEvaluator{
		positions: []domain.Position{pos},
		risks: map[string]*domain.PositionRisk{
			"600519": {Position: pos, Severity: domain.SeverityCritical, StopLossTriggered: true},
		},
	}
}

func TestMonitorPositionsStopLoss(t *testing.T) {
	ledger := &mockLedger{}
	g := newTestGateway(t, ledger, stopLossEvaluator(), true)

	risks := g.MonitorPositions(context.Background())
	require.Len(t, risks, 1)
	assert.True(t, risks[0].StopLossTriggered)

	alerts := g.Alerts(AlertFilter{Kind: domain.AlertStopLoss})
	require.Len(t, alerts, 1)
	assert.Equal(t, domain.SeverityCritical, alerts[0].Severity)

	// Full liquidation, rounded down to the lot: 750 -> 700.
	require.Len(t, ledger.submitted, 1)
	sell := ledger.submitted[0]
	assert.Equal(t, domain.Sell, sell.Side)
	assert.Equal(t, domain.Market, sell.Type)
	assert.Equal(t, 700.0, sell.Quantity)
	assert.Equal(t, "stop_loss_protection", sell.Strategy)

	actions := g.Actions()
	require.Len(t, actions, 1)
	assert.Equal(t, domain.ActionReducePosition, actions[0].Kind)
	assert.True(t, actions[0].Executed)
}

func TestMonitorPositionsStopLossWithoutAutoProtect(t *testing.T) {
	ledger := &mockLedger{}
	g := newTestGateway(t, ledger, stopLossEvaluator(), false)

	g.MonitorPositions(context.Background())

	assert.Len(t, g.Alerts(AlertFilter{Kind: domain.AlertStopLoss}), 1)
	assert.Empty(t, ledger.submitted, "alerts only, no protective trades")
	assert.Empty(t, g.Actions())
}

func TestMonitorPositionsTakeProfit(t *testing.T) {
	pos := domain.Position{Symbol: "000001", Quantity: 1000, CostBasis: 10.0, CurrentPrice: 11.6}
	evaluator := &mockEvaluator{
		positions: []domain.Position{pos},
		risks: map[string]*domain.PositionRisk{
			"000001": {Position: pos, Severity: domain.SeverityLow, TakeProfitTriggered: true},
		},
	}
	ledger := &mockLedger{}
	g := newTestGateway(t, ledger, evaluator, true)

	g.MonitorPositions(context.Background())

	alerts := g.Alerts(AlertFilter{Kind: domain.AlertTakeProfit})
	require.Len(t, alerts, 1)
	assert.Equal(t, domain.SeverityLow, alerts[0].Severity)

	// Half the position, already lot-aligned: 500.
	require.Len(t, ledger.submitted, 1)
	assert.Equal(t, 500.0, ledger.submitted[0].Quantity)
	assert.Equal(t, "take_profit_protection", ledger.submitted[0].Strategy)
}

func TestReducePositionBelowRoundLot(t *testing.T) {
	// Half of 150 is 75, which rounds down to zero lots.
	pos := domain.Position{Symbol: "000001", Quantity: 150, CostBasis: 10.0, CurrentPrice: 11.6}
	evaluator := &mockEvaluator{
		positions: []domain.Position{pos},
		risks: map[string]*domain.PositionRisk{
			"000001": {Position: pos, TakeProfitTriggered: true},
		},
	}
	ledger := &mockLedger{}
	g := newTestGateway(t, ledger, evaluator, true)

	g.MonitorPositions(context.Background())

	assert.Empty(t, ledger.submitted)
	actions := g.Actions()
	require.Len(t, actions, 1)
	assert.False(t, actions[0].Executed)
	assert.Contains(t, actions[0].Result, "below the round lot")
}

func TestProtectiveSellFailureStillRecorded(t *testing.T) {
	ledger := &mockLedger{submitResult: &domain.OrderResult{
		Status: domain.StatusFailed,
		Reason: "venue execution failed",
	}}
	g := newTestGateway(t, ledger, stopLossEvaluator(), true)

	g.MonitorPositions(context.Background())

	actions := g.Actions()
	require.Len(t, actions, 1)
	assert.False(t, actions[0].Executed)
	assert.Contains(t, actions[0].Result, "venue execution failed")
}

func TestMonitorPositionsSkipsVanished(t *testing.T) {
	evaluator := &mockEvaluator{
		positions: []domain.Position{{Symbol: "gone"}},
		risks:     map[string]*domain.PositionRisk{},
	}
	g := newTestGateway(t, &mockLedger{}, evaluator, true)

	risks := g.MonitorPositions(context.Background())
	assert.Empty(t, risks)
	assert.Empty(t, g.Alerts(AlertFilter{}))
}

func TestCheckRiskLimitsAlertsOnBreach(t *testing.T) {
	evaluator := &mockEvaluator{limits: []domain.RiskLimit{
		{Kind: domain.LimitTotalPosition, Current: 0.50, Limit: 0.80},
		{Kind: domain.LimitSingleStock, Scope: "600519", Current: 0.15, Limit: 0.10, Utilization: 1.5, Breached: true},
		{Kind: domain.LimitDailyLoss, Current: 0.06, Limit: 0.05, Utilization: 1.2, Breached: true},
	}}
	g := newTestGateway(t, &mockLedger{}, evaluator, true)

	limits := g.CheckRiskLimits(context.Background())
	assert.Len(t, limits, 3)

	alerts := g.Alerts(AlertFilter{Kind: domain.AlertLimitBreach})
	require.Len(t, alerts, 2)
	assert.Equal(t, "600519", alerts[0].Symbol)
	for _, a := range alerts {
		assert.Equal(t, domain.SeverityCritical, a.Severity)
	}
}

func TestEmergencyShutdownCancelsActiveOrders(t *testing.T) {
	ledger := &mockLedger{active: []*domain.Order{
		{ID: "ord-1", Symbol: "600519", Status: domain.StatusSubmitted},
		{ID: "ord-2", Symbol: "000001", Status: domain.StatusAccepted},
		{ID: "ord-3", Symbol: "600519", Status: domain.StatusPartiallyFilled},
	}}
	evaluator := &mockEvaluator{}
	g := newTestGateway(t, ledger, evaluator, true)

	g.TriggerEmergencyShutdown(context.Background(), "limit cascade")

	assert.True(t, evaluator.halted)
	assert.Equal(t, []string{"limit cascade"}, evaluator.haltReasons)
	assert.Equal(t, []string{"ord-1", "ord-2", "ord-3"}, ledger.cancelled)

	actions := g.Actions()
	require.Len(t, actions, 3)
	for _, a := range actions {
		assert.Equal(t, domain.ActionCancelOrder, a.Kind)
		assert.True(t, a.Executed)
	}
}

func TestEmergencyShutdownRecordsCancelFailures(t *testing.T) {
	ledger := &mockLedger{
		active:    []*domain.Order{{ID: "ord-1", Status: domain.StatusSubmitted}},
		cancelErr: errors.New("venue unreachable"),
	}
	g := newTestGateway(t, ledger, &mockEvaluator{}, true)

	g.TriggerEmergencyShutdown(context.Background(), "manual")

	actions := g.Actions()
	require.Len(t, actions, 1)
	assert.False(t, actions[0].Executed)
	assert.Contains(t, actions[0].Result, "venue unreachable")
}

func TestEmergencyShutdownIsIdempotent(t *testing.T) {
	evaluator := &mockEvaluator{}
	g := newTestGateway(t, &mockLedger{}, evaluator, true)

	g.TriggerEmergencyShutdown(context.Background(), "first")
	g.TriggerEmergencyShutdown(context.Background(), "second")

	assert.Equal(t, []string{"first"}, evaluator.haltReasons, "second trigger is a no-op")
	assert.Len(t, g.Alerts(AlertFilter{Kind: domain.AlertEmergencyShutdown}), 1)
}

func TestDeactivateReversesGateOnly(t *testing.T) {
	ledger := &mockLedger{}
	evaluator := &mockEvaluator{}
	g := newTestGateway(t, ledger, evaluator, true)

	g.TriggerEmergencyShutdown(context.Background(), "drill")
	alertCount := len(g.Alerts(AlertFilter{}))

	g.DeactivateEmergencyShutdown(context.Background())
	assert.False(t, g.Halted())
	assert.Equal(t, 1, evaluator.deactivation)
	assert.Len(t, g.Alerts(AlertFilter{}), alertCount, "alert log is untouched")

	result := g.ValidateAndSubmitOrder(context.Background(), buySpec())
	assert.True(t, result.Success, "submissions resume after deactivation")
}

func TestAlertFiltering(t *testing.T) {
	g := newTestGateway(t, &mockLedger{}, &mockEvaluator{}, true)
	ctx := context.Background()

	g.emitAlert(ctx, &domain.RiskAlert{Kind: domain.AlertStopLoss, Severity: domain.SeverityCritical, Symbol: "600519"})
	g.emitAlert(ctx, &domain.RiskAlert{Kind: domain.AlertTakeProfit, Severity: domain.SeverityLow, Symbol: "600519"})
	g.emitAlert(ctx, &domain.RiskAlert{Kind: domain.AlertLimitBreach, Severity: domain.SeverityCritical, Symbol: "000001"})

	assert.Len(t, g.Alerts(AlertFilter{}), 3)
	assert.Len(t, g.Alerts(AlertFilter{Kind: domain.AlertStopLoss}), 1)
	assert.Len(t, g.Alerts(AlertFilter{MinSeverity: domain.SeverityCritical}), 2)
	assert.Len(t, g.Alerts(AlertFilter{Symbol: "600519"}), 2)

	all := g.Alerts(AlertFilter{})
	require.NoError(t, g.AcknowledgeAlert(all[0].ID))
	assert.Len(t, g.Alerts(AlertFilter{UnacknowledgedOnly: true}), 2)

	assert.Equal(t, 2, g.AcknowledgeAllAlerts())
	assert.Empty(t, g.Alerts(AlertFilter{UnacknowledgedOnly: true}))

	err := g.AcknowledgeAlert("alr-missing")
	assert.True(t, errors.Is(err, ports.ErrNotFound))
}

func TestPruneAlertsAndActions(t *testing.T) {
	g := newTestGateway(t, &mockLedger{}, &mockEvaluator{}, true)
	ctx := context.Background()

	g.emitAlert(ctx, &domain.RiskAlert{Kind: domain.AlertStopLoss})
	g.recordAction(ctx, &domain.ProtectiveAction{Kind: domain.ActionCancelOrder})

	assert.Equal(t, 0, g.PruneAlerts(time.Hour))
	assert.Equal(t, 0, g.PruneActions(time.Hour))

	time.Sleep(5 * time.Millisecond)
	assert.Equal(t, 1, g.PruneAlerts(time.Millisecond))
	assert.Equal(t, 1, g.PruneActions(time.Millisecond))
	assert.Empty(t, g.Alerts(AlertFilter{}))
	assert.Empty(t, g.Actions())
}

func TestObserverPanicIsolation(t *testing.T) {
	g := newTestGateway(t, &mockLedger{}, &mockEvaluator{}, true)

	var alertSeen, actionSeen bool
	g.OnAlert(func(a *domain.RiskAlert) { panic("alert observer bug") })
	g.OnAlert(func(a *domain.RiskAlert) { alertSeen = true })
	g.OnAction(func(a *domain.ProtectiveAction) { panic("action observer bug") })
	g.OnAction(func(a *domain.ProtectiveAction) { actionSeen = true })

	ctx := context.Background()
	g.emitAlert(ctx, &domain.RiskAlert{Kind: domain.AlertStopLoss})
	g.recordAction(ctx, &domain.ProtectiveAction{Kind: domain.ActionCancelOrder})

	assert.True(t, alertSeen)
	assert.True(t, actionSeen)
}
