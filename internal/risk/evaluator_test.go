package risk

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

func testConfig() Config {
	return Config{
		TotalCapital:          1_000_000,
		MaxTotalPositionRatio: 0.80,
		MaxSingleStockRatio:   0.10,
		MaxSectorRatio:        0.30,
		MaxOrderToVolumeRatio: 0.05,
		DailyLossLimitRatio:   0.05,
		StopLossRatio:         0.08,
		TakeProfitRatio:       0.15,
	}
}

func newTestEvaluator(t *testing.T, cfg Config) *Evaluator {
	t.Helper()
	e, err := New(cfg, testLogger{})
	require.NoError(t, err)
	return e
}

func buyOrder(symbol string, qty, price float64) *domain.Order {
	return &domain.Order{
		ID:       "ord-test",
		Symbol:   symbol,
		Side:     domain.Buy,
		Type:     domain.Limit,
		Quantity: qty,
		Price:    price,
		Status:   domain.StatusPending,
	}
}

func TestNewValidation(t *testing.T) {
	_, err := New(testConfig(), nil)
	assert.Error(t, err)

	cfg := testConfig()
	cfg.TotalCapital = 0
	_, err = New(cfg, testLogger{})
	assert.ErrorIs(t, err, ports.ErrConfigurationError)

	cfg = testConfig()
	cfg.StopLossRatio = 1.5
	_, err = New(cfg, testLogger{})
	assert.ErrorIs(t, err, ports.ErrConfigurationError)
}

func TestCheckOrderAllPass(t *testing.T) {
	e := newTestEvaluator(t, testConfig())

	results := e.CheckOrder(context.Background(), buyOrder("600519", 1000, 50.0))
	require.Len(t, results, 5)
	for _, r := range results {
		assert.True(t, r.Passed, "check %s unexpectedly failed: %s", r.Kind, r.Reason)
	}
	assert.Equal(t, domain.SeverityLow, domain.AggregateSeverity(results))
}

func TestCheckOrderSingleStockLimit(t *testing.T) {
	// 15,000 shares at 10.0 is 15% of 1,000,000 against a 10% limit.
	e := newTestEvaluator(t, testConfig())

	results := e.CheckOrder(context.Background(), buyOrder("600519", 15_000, 10.0))
	require.Len(t, results, 5)

	var failed []domain.RiskCheckResult
	for _, r := range results {
		if !r.Passed {
			failed = append(failed, r)
		}
	}
	require.Len(t, failed, 1)
	assert.Equal(t, domain.CheckPositionLimit, failed[0].Kind)
	assert.Contains(t, failed[0].Reason, "single-stock")
	assert.InDelta(t, 0.15, failed[0].Details.Proposed, 1e-9)
}

func TestCheckOrderReturnsEveryFailure(t *testing.T) {
	e := newTestEvaluator(t, testConfig())
	e.UpdateDailyPnL(context.Background(), -60_000)
	e.UpdateAverageVolume(context.Background(), "600519", 100_000)

	// 15% single-stock breach, 15% of ADV liquidity breach and a 6%
	// daily loss, all at once.
	results := e.CheckOrder(context.Background(), buyOrder("600519", 15_000, 10.0))

	kinds := make(map[domain.CheckKind]bool)
	for _, r := range results {
		if !r.Passed {
			kinds[r.Kind] = true
		}
	}
	assert.True(t, kinds[domain.CheckPositionLimit])
	assert.True(t, kinds[domain.CheckLiquidity])
	assert.True(t, kinds[domain.CheckDailyLoss])
}

func TestCheckOrderSeverityIsMaxOfFailures(t *testing.T) {
	e := newTestEvaluator(t, testConfig())
	e.UpdateDailyPnL(context.Background(), -60_000)

	results := e.CheckOrder(context.Background(), buyOrder("600519", 15_000, 10.0))
	// Position-limit failure is High, daily-loss failure is Critical;
	// the aggregate must be the maximum.
	assert.Equal(t, domain.SeverityCritical, domain.AggregateSeverity(results))
}

func TestCheckOrderDailyLossRejectsEverything(t *testing.T) {
	e := newTestEvaluator(t, testConfig())
	e.UpdateDailyPnL(context.Background(), -60_000) // -6% against a 5% limit

	for _, order := range []*domain.Order{
		buyOrder("600519", 100, 10.0),
		buyOrder("000001", 200, 5.0),
	} {
		results := e.CheckOrder(context.Background(), order)
		failed := false
		for _, r := range results {
			if !r.Passed && r.Kind == domain.CheckDailyLoss {
				failed = true
				assert.Equal(t, domain.SeverityCritical, r.Severity)
			}
		}
		assert.True(t, failed, "expected daily-loss failure for %s", order.Symbol)
	}
}

func TestDailyLossIgnoresGains(t *testing.T) {
	e := newTestEvaluator(t, testConfig())
	// A large gain first must not create headroom below zero.
	e.UpdateDailyPnL(context.Background(), 100_000)
	e.UpdateDailyPnL(context.Background(), -60_000)

	results := e.CheckOrder(context.Background(), buyOrder("600519", 100, 10.0))
	for _, r := range results {
		if r.Kind == domain.CheckDailyLoss {
			assert.True(t, r.Passed, "net positive day must pass the daily-loss check")
		}
	}

	// Now push net P&L to -60,000: only the negative part counts.
	e.UpdateDailyPnL(context.Background(), -100_000)
	results = e.CheckOrder(context.Background(), buyOrder("600519", 100, 10.0))
	for _, r := range results {
		if r.Kind == domain.CheckDailyLoss {
			assert.False(t, r.Passed)
		}
	}
}

func TestDailyPnLRollover(t *testing.T) {
	day := time.Date(2026, 3, 16, 14, 30, 0, 0, time.UTC)
	p := newPortfolio(1_000_000, day)
	p.dailyPnL = -60_000

	// Later the same day: the accumulator is untouched.
	p.rollover(day.Add(2 * time.Hour))
	assert.Equal(t, -60_000.0, p.dailyPnL)
	assert.Equal(t, 60_000.0, p.dailyLoss())

	// Crossing local midnight resets it and advances the day marker.
	next := day.AddDate(0, 0, 1)
	p.rollover(next)
	assert.Zero(t, p.dailyPnL)
	assert.Zero(t, p.dailyLoss())
	assert.Equal(t, startOfDay(next), p.pnlDay)

	// A stale timestamp never rolls the day backwards.
	p.dailyPnL = -10_000
	p.rollover(day)
	assert.Equal(t, -10_000.0, p.dailyPnL)
}

func TestCheckOrderBuyWithoutReferencePrice(t *testing.T) {
	e := newTestEvaluator(t, testConfig())

	// Market buy, no limit/stop price, no open position to supply a
	// last known price: the order cannot be valued and must not pass.
	order := &domain.Order{ID: "ord-test", Symbol: "600519", Side: domain.Buy, Type: domain.Market, Quantity: 500}
	results := e.CheckOrder(context.Background(), order)

	var capital *domain.RiskCheckResult
	for i := range results {
		if results[i].Kind == domain.CheckCapital {
			capital = &results[i]
		}
	}
	require.NotNil(t, capital)
	assert.False(t, capital.Passed)
	assert.Contains(t, capital.Reason, "no reference price")

	// An open position supplies its current price and the buy is sized
	// normally again.
	e.UpdatePosition(context.Background(), domain.Position{
		Symbol: "600519", Quantity: 100, CostBasis: 10.0, CurrentPrice: 10.0,
	})
	results = e.CheckOrder(context.Background(), order)
	for _, r := range results {
		if r.Kind == domain.CheckCapital {
			assert.True(t, r.Passed, r.Reason)
		}
	}
}

func TestSellSkipsPositionAndSectorChecks(t *testing.T) {
	e := newTestEvaluator(t, testConfig())
	e.UpdatePosition(context.Background(), domain.Position{
		Symbol: "600519", Quantity: 9_000, CostBasis: 10.0, CurrentPrice: 10.0, Sector: "Liquor",
	})

	// A buy this size would breach the single-stock limit; the sell
	// must pass position and sector checks outright.
	order := buyOrder("600519", 9_000, 10.0)
	order.Side = domain.Sell
	results := e.CheckOrder(context.Background(), order)
	for _, r := range results {
		if r.Kind == domain.CheckPositionLimit || r.Kind == domain.CheckSectorLimit || r.Kind == domain.CheckCapital {
			assert.True(t, r.Passed, "sell unexpectedly failed %s: %s", r.Kind, r.Reason)
		}
	}
}

func TestCheckOrderCapitalSufficiency(t *testing.T) {
	cfg := testConfig()
	cfg.TotalCapital = 100_000
	cfg.MaxSingleStockRatio = 0.95
	cfg.MaxTotalPositionRatio = 0.99
	cfg.MaxSectorRatio = 0.99
	e := newTestEvaluator(t, cfg)

	results := e.CheckOrder(context.Background(), buyOrder("600519", 11_000, 10.0))
	var capital *domain.RiskCheckResult
	for i := range results {
		if results[i].Kind == domain.CheckCapital {
			capital = &results[i]
		}
	}
	require.NotNil(t, capital)
	assert.False(t, capital.Passed)
	assert.Contains(t, capital.Reason, "insufficient capital")
}

func TestCheckOrderSectorExposure(t *testing.T) {
	cfg := testConfig()
	cfg.SectorResolver = func(symbol string) string {
		if symbol[:2] == "60" {
			return "Shanghai"
		}
		return ""
	}
	e := newTestEvaluator(t, cfg)
	e.UpdatePosition(context.Background(), domain.Position{
		Symbol: "600000", Quantity: 25_000, CostBasis: 10.0, CurrentPrice: 10.0,
	})

	// Sector already at 25%; another 10% breaches the 30% cap.
	results := e.CheckOrder(context.Background(), buyOrder("600519", 10_000, 10.0))
	var sector *domain.RiskCheckResult
	for i := range results {
		if results[i].Kind == domain.CheckSectorLimit {
			sector = &results[i]
		}
	}
	require.NotNil(t, sector)
	assert.False(t, sector.Passed)
	assert.Contains(t, sector.Reason, "Shanghai")
}

func TestEmergencyShutdownShortCircuits(t *testing.T) {
	e := newTestEvaluator(t, testConfig())
	e.EmergencyShutdown(context.Background(), "manual halt")

	results := e.CheckOrder(context.Background(), buyOrder("600519", 100, 10.0))
	require.Len(t, results, 1, "pipeline must be skipped while the gate is active")
	assert.False(t, results[0].Passed)
	assert.Equal(t, domain.CheckEmergencyHalt, results[0].Kind)
	assert.Equal(t, domain.SeverityCritical, results[0].Severity)

	active, reason := e.EmergencyActive()
	assert.True(t, active)
	assert.Equal(t, "manual halt", reason)

	e.DeactivateEmergencyShutdown(context.Background())
	results = e.CheckOrder(context.Background(), buyOrder("600519", 100, 10.0))
	assert.Len(t, results, 5)
}

func TestMonitorPositionNotFound(t *testing.T) {
	e := newTestEvaluator(t, testConfig())
	_, err := e.MonitorPosition(context.Background(), "600519")
	assert.True(t, errors.Is(err, ports.ErrNotFound))
}

func TestMonitorPositionStopLoss(t *testing.T) {
	e := newTestEvaluator(t, testConfig())
	// Bought at 10.0, now 9.0: -10% against an 8% stop loss.
	e.UpdatePosition(context.Background(), domain.Position{
		Symbol: "600519", Quantity: 1_000, CostBasis: 10.0, CurrentPrice: 10.0,
	})
	require.NoError(t, e.UpdatePrice(context.Background(), "600519", 9.0))

	risk, err := e.MonitorPosition(context.Background(), "600519")
	require.NoError(t, err)
	assert.True(t, risk.StopLossTriggered)
	assert.False(t, risk.TakeProfitTriggered)
	assert.Equal(t, domain.SeverityCritical, risk.Severity)
	assert.InDelta(t, 0.009, risk.Exposure, 1e-9) // 9,000 of 1,000,000
}

func TestMonitorPositionSeverityBands(t *testing.T) {
	e := newTestEvaluator(t, testConfig())
	e.UpdatePosition(context.Background(), domain.Position{
		Symbol: "600519", Quantity: 1_000, CostBasis: 100.0, CurrentPrice: 100.0,
	})

	cases := []struct {
		price    float64
		severity domain.Severity
	}{
		{99.0, domain.SeverityLow},      // -1%, 12.5% of the stop threshold
		{97.0, domain.SeverityMedium},   // -3%, 37.5%
		{95.0, domain.SeverityHigh},     // -5%, 62.5%
		{92.0, domain.SeverityCritical}, // -8%, at the threshold
		{105.0, domain.SeverityLow},     // Gains carry no loss severity
	}
	for _, tc := range cases {
		require.NoError(t, e.UpdatePrice(context.Background(), "600519", tc.price))
		risk, err := e.MonitorPosition(context.Background(), "600519")
		require.NoError(t, err)
		assert.Equal(t, tc.severity, risk.Severity, "price %.1f", tc.price)
	}
}

func TestMonitorPositionTakeProfit(t *testing.T) {
	e := newTestEvaluator(t, testConfig())
	e.UpdatePosition(context.Background(), domain.Position{
		Symbol: "600519", Quantity: 1_000, CostBasis: 10.0, CurrentPrice: 11.6, // +16%
	})

	risk, err := e.MonitorPosition(context.Background(), "600519")
	require.NoError(t, err)
	assert.True(t, risk.TakeProfitTriggered)
	assert.False(t, risk.StopLossTriggered)
}

func TestCheckRiskLimits(t *testing.T) {
	e := newTestEvaluator(t, testConfig())
	e.UpdatePosition(context.Background(), domain.Position{
		Symbol: "600519", Quantity: 15_000, CostBasis: 10.0, CurrentPrice: 10.0, Sector: "Liquor",
	})

	limits := e.CheckRiskLimits(context.Background())

	byKind := make(map[domain.LimitKind][]domain.RiskLimit)
	for _, l := range limits {
		byKind[l.Kind] = append(byKind[l.Kind], l)
	}
	require.Len(t, byKind[domain.LimitSingleStock], 1)
	single := byKind[domain.LimitSingleStock][0]
	assert.Equal(t, "600519", single.Scope)
	assert.True(t, single.Breached) // 15% > 10%
	assert.InDelta(t, 1.5, single.Utilization, 1e-9)

	require.Len(t, byKind[domain.LimitTotalPosition], 1)
	assert.False(t, byKind[domain.LimitTotalPosition][0].Breached)

	require.Len(t, byKind[domain.LimitSector], 1)
	assert.Equal(t, "Liquor", byKind[domain.LimitSector][0].Scope)

	// A breach drives the aggregate severity critical.
	assert.Equal(t, domain.SeverityCritical, e.OverallSeverity())
}

func TestCheckRiskLimitsNearLimitSeverity(t *testing.T) {
	e := newTestEvaluator(t, testConfig())
	// 9% of capital in one stock: 90% utilization of the 10% limit,
	// near-limit but not breached.
	e.UpdatePosition(context.Background(), domain.Position{
		Symbol: "600519", Quantity: 9_000, CostBasis: 10.0, CurrentPrice: 10.0,
	})

	e.CheckRiskLimits(context.Background())
	assert.Equal(t, domain.SeverityMedium, e.OverallSeverity())
}

func TestRejectedOrderConsumesNoLimit(t *testing.T) {
	e := newTestEvaluator(t, testConfig())

	// Repeated oversized submissions keep failing identically; a
	// rejection never mutates the portfolio.
	for i := 0; i < 3; i++ {
		results := e.CheckOrder(context.Background(), buyOrder("600519", 15_000, 10.0))
		failures := 0
		for _, r := range results {
			if !r.Passed {
				failures++
				assert.Equal(t, domain.CheckPositionLimit, r.Kind)
			}
		}
		assert.Equal(t, 1, failures)
	}
	assert.Empty(t, e.OpenPositions())
}

func TestUpdateRiskLimits(t *testing.T) {
	e := newTestEvaluator(t, testConfig())

	// 15,000 @ 10.0 fails at a 10% cap, passes after raising it to 20%.
	results := e.CheckOrder(context.Background(), buyOrder("600519", 15_000, 10.0))
	assert.NotEqual(t, domain.SeverityLow, domain.AggregateSeverity(results))

	e.UpdateRiskLimits(context.Background(), Limits{
		MaxTotalPositionRatio: 0.80,
		MaxSingleStockRatio:   0.20,
		MaxSectorRatio:        0.30,
		MaxOrderToVolumeRatio: 0.05,
		DailyLossLimitRatio:   0.05,
		StopLossRatio:         0.08,
		TakeProfitRatio:       0.15,
	})
	results = e.CheckOrder(context.Background(), buyOrder("600519", 15_000, 10.0))
	assert.Equal(t, domain.SeverityLow, domain.AggregateSeverity(results))
}

func TestUpdatePositionRemovesOnZeroQuantity(t *testing.T) {
	e := newTestEvaluator(t, testConfig())
	e.UpdatePosition(context.Background(), domain.Position{
		Symbol: "600519", Quantity: 1_000, CostBasis: 10.0, CurrentPrice: 10.0,
	})
	require.Len(t, e.OpenPositions(), 1)

	e.UpdatePosition(context.Background(), domain.Position{Symbol: "600519", Quantity: 0})
	assert.Empty(t, e.OpenPositions())

	_, err := e.MonitorPosition(context.Background(), "600519")
	assert.True(t, errors.Is(err, ports.ErrNotFound))
}
