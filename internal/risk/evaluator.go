package risk

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"riskGate/internal/domain"
	"riskGate/internal/ports"
)

// SectorResolver maps a symbol to its sector. Resolution policy (e.g.
// exchange prefix tables) belongs to configuration, not the evaluator.
type SectorResolver func(symbol string) string

// Config holds configuration for the risk evaluator. All ratios are
// fractions of total capital unless noted.
type Config struct {
	TotalCapital          float64
	MaxTotalPositionRatio float64 // Aggregate position value / capital
	MaxSingleStockRatio   float64 // Per-symbol position value / capital
	MaxSectorRatio        float64 // Per-sector position value / capital
	MaxOrderToVolumeRatio float64 // Order size / average daily volume
	DailyLossLimitRatio   float64 // Daily loss / capital
	StopLossRatio         float64 // Per-position loss fraction triggering stop loss
	TakeProfitRatio       float64 // Per-position gain fraction triggering take profit
	SectorResolver        SectorResolver
}

// Limits is the runtime-adjustable subset of Config.
type Limits struct {
	MaxTotalPositionRatio float64
	MaxSingleStockRatio   float64
	MaxSectorRatio        float64
	MaxOrderToVolumeRatio float64
	DailyLossLimitRatio   float64
	StopLossRatio         float64
	TakeProfitRatio       float64
}

// Evaluator computes admission decisions and exposure reports over the
// portfolio it exclusively owns.
type Evaluator struct {
	logger ports.Logger

	mu              sync.Mutex // Protects everything below
	cfg             Config
	pf              *portfolio
	emergency       bool
	emergencyReason string
	overallSeverity domain.Severity
}

// New creates a new risk evaluator.
func New(cfg Config, logger ports.Logger) (*Evaluator, error) {
	if logger == nil {
		return nil, fmt.Errorf("logger is required for risk evaluator: %w", ports.ErrConfigurationError)
	}
	if cfg.TotalCapital <= 0 {
		return nil, fmt.Errorf("TotalCapital must be positive: %w", ports.ErrConfigurationError)
	}
	if cfg.StopLossRatio <= 0 || cfg.StopLossRatio >= 1 {
		return nil, fmt.Errorf("StopLossRatio must be between 0 and 1: %w", ports.ErrConfigurationError)
	}
	if cfg.TakeProfitRatio <= 0 {
		return nil, fmt.Errorf("TakeProfitRatio must be positive: %w", ports.ErrConfigurationError)
	}
	if cfg.SectorResolver == nil {
		cfg.SectorResolver = func(string) string { return "" }
	}
	return &Evaluator{
		logger:          logger,
		cfg:             cfg,
		pf:              newPortfolio(cfg.TotalCapital, time.Now()),
		overallSeverity: domain.SeverityLow,
	}, nil
}

// CheckOrder runs the admission pipeline against the order: capital
// sufficiency, position ratio, sector exposure, liquidity and daily
// loss, in that order. Every check runs and every result is returned,
// so a rejection reports all violated limits, not just the first.
// While the emergency gate is active the pipeline is skipped entirely
// and a single critical failure is returned.
func (e *Evaluator) CheckOrder(ctx context.Context, order *domain.Order) []domain.RiskCheckResult {
	e.mu.Lock()
	defer e.mu.Unlock()

	now := time.Now()
	e.pf.rollover(now)

	if e.emergency {
		return []domain.RiskCheckResult{{
			Passed:    false,
			Kind:      domain.CheckEmergencyHalt,
			Reason:    fmt.Sprintf("emergency shutdown active: %s", e.emergencyReason),
			Severity:  domain.SeverityCritical,
			Timestamp: now,
		}}
	}

	results := []domain.RiskCheckResult{
		e.checkCapital(order, now),
		e.checkPositionRatio(order, now),
		e.checkSectorExposure(order, now),
		e.checkLiquidity(order, now),
		e.checkDailyLoss(now),
	}

	if failed := failedReasons(results); len(failed) > 0 {
		e.logger.Debug(ctx, "Order failed admission checks", map[string]interface{}{
			"orderID":  order.ID,
			"symbol":   order.Symbol,
			"failures": strings.Join(failed, "; "),
		})
	}
	return results
}

func failedReasons(results []domain.RiskCheckResult) []string {
	var out []string
	for _, r := range results {
		if !r.Passed {
			out = append(out, r.Reason)
		}
	}
	return out
}

// refPrice picks the price an order is evaluated at: explicit limit
// price, then stop price, then the portfolio's last known price.
func (e *Evaluator) refPrice(order *domain.Order) float64 {
	if order.Price > 0 {
		return order.Price
	}
	if order.StopPrice > 0 {
		return order.StopPrice
	}
	if pos, ok := e.pf.positions[order.Symbol]; ok {
		return pos.CurrentPrice
	}
	return 0
}

func (e *Evaluator) checkCapital(order *domain.Order, now time.Time) domain.RiskCheckResult {
	res := domain.RiskCheckResult{Passed: true, Kind: domain.CheckCapital, Severity: domain.SeverityHigh, Timestamp: now}
	if order.Side != domain.Buy {
		return res // Sells release capital, they never consume it.
	}
	price := e.refPrice(order)
	if price <= 0 {
		// An unpriceable buy cannot be sized against capital or any
		// exposure limit; unlike missing volume data this fails closed.
		res.Passed = false
		res.Reason = fmt.Sprintf("no reference price for %s: order cannot be valued", order.Symbol)
		return res
	}
	required := order.Notional(price)
	available := e.pf.availableCapital()
	res.Details = domain.CheckDetails{Current: available, Proposed: required, Limit: available}
	if required > available {
		res.Passed = false
		res.Reason = fmt.Sprintf("insufficient capital: order requires %.2f, available %.2f", required, available)
	}
	return res
}

func (e *Evaluator) checkPositionRatio(order *domain.Order, now time.Time) domain.RiskCheckResult {
	res := domain.RiskCheckResult{Passed: true, Kind: domain.CheckPositionLimit, Severity: domain.SeverityHigh, Timestamp: now}
	if order.Side != domain.Buy {
		return res
	}
	notional := order.Notional(e.refPrice(order))
	capital := e.pf.totalCapital
	if capital <= 0 {
		return res
	}

	// The order is evaluated optimistically: current exposure plus the
	// full proposed notional, as if it filled completely.
	symbolRatio := (e.pf.symbolMarketValue(order.Symbol) + notional) / capital
	totalRatio := (e.pf.totalMarketValue() + notional) / capital

	var reasons []string
	if symbolRatio > e.cfg.MaxSingleStockRatio {
		reasons = append(reasons, fmt.Sprintf("single-stock exposure %.1f%% exceeds limit %.1f%%",
			symbolRatio*100, e.cfg.MaxSingleStockRatio*100))
		res.Details = domain.CheckDetails{Current: e.pf.symbolMarketValue(order.Symbol) / capital, Proposed: symbolRatio, Limit: e.cfg.MaxSingleStockRatio}
	}
	if totalRatio > e.cfg.MaxTotalPositionRatio {
		reasons = append(reasons, fmt.Sprintf("total position exposure %.1f%% exceeds limit %.1f%%",
			totalRatio*100, e.cfg.MaxTotalPositionRatio*100))
		if res.Details == (domain.CheckDetails{}) {
			res.Details = domain.CheckDetails{Current: e.pf.totalMarketValue() / capital, Proposed: totalRatio, Limit: e.cfg.MaxTotalPositionRatio}
		}
	}
	if len(reasons) > 0 {
		res.Passed = false
		res.Reason = strings.Join(reasons, "; ")
	}
	return res
}

func (e *Evaluator) checkSectorExposure(order *domain.Order, now time.Time) domain.RiskCheckResult {
	res := domain.RiskCheckResult{Passed: true, Kind: domain.CheckSectorLimit, Severity: domain.SeverityMedium, Timestamp: now}
	if order.Side != domain.Buy {
		return res
	}
	sector := e.sectorFor(order.Symbol)
	if sector == "" {
		return res // Unattributable symbols are not counted against any sector.
	}
	capital := e.pf.totalCapital
	if capital <= 0 {
		return res
	}
	current := e.pf.sectorMarketValue(sector) / capital
	proposed := current + order.Notional(e.refPrice(order))/capital
	res.Details = domain.CheckDetails{Current: current, Proposed: proposed, Limit: e.cfg.MaxSectorRatio}
	if proposed > e.cfg.MaxSectorRatio {
		res.Passed = false
		res.Reason = fmt.Sprintf("sector %s exposure %.1f%% exceeds limit %.1f%%",
			sector, proposed*100, e.cfg.MaxSectorRatio*100)
	}
	return res
}

func (e *Evaluator) checkLiquidity(order *domain.Order, now time.Time) domain.RiskCheckResult {
	res := domain.RiskCheckResult{Passed: true, Kind: domain.CheckLiquidity, Severity: domain.SeverityMedium, Timestamp: now}
	adv := e.pf.avgVolumes[order.Symbol]
	if adv <= 0 {
		return res // No volume data, liquidity cannot be assessed.
	}
	ratio := order.Quantity / adv
	res.Details = domain.CheckDetails{Current: ratio, Proposed: ratio, Limit: e.cfg.MaxOrderToVolumeRatio}
	if ratio > e.cfg.MaxOrderToVolumeRatio {
		res.Passed = false
		res.Reason = fmt.Sprintf("order size %.0f is %.1f%% of average daily volume %.0f, limit %.1f%%",
			order.Quantity, ratio*100, adv, e.cfg.MaxOrderToVolumeRatio*100)
	}
	return res
}

func (e *Evaluator) checkDailyLoss(now time.Time) domain.RiskCheckResult {
	res := domain.RiskCheckResult{Passed: true, Kind: domain.CheckDailyLoss, Severity: domain.SeverityCritical, Timestamp: now}
	capital := e.pf.totalCapital
	if capital <= 0 {
		return res
	}
	ratio := e.pf.dailyLoss() / capital
	res.Details = domain.CheckDetails{Current: ratio, Proposed: ratio, Limit: e.cfg.DailyLossLimitRatio}
	if ratio > e.cfg.DailyLossLimitRatio {
		res.Passed = false
		res.Reason = fmt.Sprintf("daily loss %.1f%% exceeds limit %.1f%%",
			ratio*100, e.cfg.DailyLossLimitRatio*100)
	}
	return res
}

func (e *Evaluator) sectorFor(symbol string) string {
	if pos, ok := e.pf.positions[symbol]; ok && pos.Sector != "" {
		return pos.Sector
	}
	return e.cfg.SectorResolver(symbol)
}

// MonitorPosition reports the live risk of one open position.
// Returns ports.ErrNotFound when no position is open for the symbol.
func (e *Evaluator) MonitorPosition(ctx context.Context, symbol string) (*domain.PositionRisk, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	pos, ok := e.pf.positions[symbol]
	if !ok {
		return nil, fmt.Errorf("no open position for %s: %w", symbol, ports.ErrNotFound)
	}

	pnlPct := pos.PnLPct()
	risk := &domain.PositionRisk{
		Position:            *pos,
		Severity:            domain.SeverityLow,
		StopLossTriggered:   pnlPct <= -e.cfg.StopLossRatio,
		TakeProfitTriggered: pnlPct >= e.cfg.TakeProfitRatio,
	}
	if e.pf.totalCapital > 0 {
		risk.Exposure = pos.MarketValue() / e.pf.totalCapital
	}

	// Severity bands off how much of the stop-loss threshold the
	// current loss has consumed.
	if pnlPct < 0 && e.cfg.StopLossRatio > 0 {
		switch lossRatio := -pnlPct / e.cfg.StopLossRatio; {
		case lossRatio >= 1.0:
			risk.Severity = domain.SeverityCritical
		case lossRatio >= 0.5:
			risk.Severity = domain.SeverityHigh
		case lossRatio >= 0.25:
			risk.Severity = domain.SeverityMedium
		}
	}
	return risk, nil
}

// CheckRiskLimits recomputes every configured limit snapshot and
// refreshes the evaluator's aggregate severity: any breach is critical,
// three or more near-limit (>80% utilization) is high, one near-limit
// is medium, otherwise low.
func (e *Evaluator) CheckRiskLimits(ctx context.Context) []domain.RiskLimit {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.pf.rollover(time.Now())
	ratio := func(v float64) float64 {
		if e.pf.totalCapital <= 0 {
			return 0
		}
		return v / e.pf.totalCapital
	}

	var limits []domain.RiskLimit
	limits = append(limits, makeLimit(domain.LimitTotalPosition, "", ratio(e.pf.totalMarketValue()), e.cfg.MaxTotalPositionRatio))
	for _, sym := range e.pf.symbols() {
		limits = append(limits, makeLimit(domain.LimitSingleStock, sym, ratio(e.pf.symbolMarketValue(sym)), e.cfg.MaxSingleStockRatio))
	}
	for _, sector := range e.pf.sectors() {
		limits = append(limits, makeLimit(domain.LimitSector, sector, ratio(e.pf.sectorMarketValue(sector)), e.cfg.MaxSectorRatio))
	}
	limits = append(limits, makeLimit(domain.LimitDailyLoss, "", ratio(e.pf.dailyLoss()), e.cfg.DailyLossLimitRatio))

	breached, nearLimit := 0, 0
	for _, l := range limits {
		switch {
		case l.Breached:
			breached++
		case l.Utilization > 0.8:
			nearLimit++
		}
	}
	switch {
	case breached >= 1:
		e.overallSeverity = domain.SeverityCritical
	case nearLimit >= 3:
		e.overallSeverity = domain.SeverityHigh
	case nearLimit >= 1:
		e.overallSeverity = domain.SeverityMedium
	default:
		e.overallSeverity = domain.SeverityLow
	}
	return limits
}

func makeLimit(kind domain.LimitKind, scope string, current, limit float64) domain.RiskLimit {
	l := domain.RiskLimit{Kind: kind, Scope: scope, Current: current, Limit: limit, Breached: current > limit}
	if limit > 0 {
		l.Utilization = current / limit
	}
	return l
}

// OverallSeverity returns the aggregate severity computed by the most
// recent CheckRiskLimits call.
func (e *Evaluator) OverallSeverity() domain.Severity {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.overallSeverity
}

// EmergencyShutdown activates the gate: CheckOrder short-circuits to a
// single critical failure until the gate is deactivated.
func (e *Evaluator) EmergencyShutdown(ctx context.Context, reason string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.emergency = true
	e.emergencyReason = reason
	e.logger.Warn(ctx, "Risk evaluator emergency shutdown activated", map[string]interface{}{"reason": reason})
}

// DeactivateEmergencyShutdown clears the gate.
func (e *Evaluator) DeactivateEmergencyShutdown(ctx context.Context) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.emergency = false
	e.emergencyReason = ""
	e.logger.Info(ctx, "Risk evaluator emergency shutdown deactivated")
}

// EmergencyActive reports the gate state and the reason it was set.
func (e *Evaluator) EmergencyActive() (bool, string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.emergency, e.emergencyReason
}

// UpdatePosition upserts a position. A non-positive quantity removes
// it. Sector is resolved when the caller leaves it empty. Positions are
// only mutated here, on confirmed fills, never speculatively during an
// admission check.
func (e *Evaluator) UpdatePosition(ctx context.Context, pos domain.Position) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if pos.Quantity <= 0 {
		delete(e.pf.positions, pos.Symbol)
		return
	}
	if pos.Sector == "" {
		pos.Sector = e.cfg.SectorResolver(pos.Symbol)
	}
	now := time.Now()
	if existing, ok := e.pf.positions[pos.Symbol]; ok {
		pos.OpenedAt = existing.OpenedAt
	} else if pos.OpenedAt.IsZero() {
		pos.OpenedAt = now
	}
	pos.UpdatedAt = now
	e.pf.positions[pos.Symbol] = &pos
}

// UpdatePrice sets the current market price for an open position.
func (e *Evaluator) UpdatePrice(ctx context.Context, symbol string, price float64) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	pos, ok := e.pf.positions[symbol]
	if !ok {
		return fmt.Errorf("no open position for %s: %w", symbol, ports.ErrNotFound)
	}
	pos.CurrentPrice = price
	pos.UpdatedAt = time.Now()
	return nil
}

// UpdateDailyPnL accumulates realized P&L into the daily counter,
// resetting it first when the local day has rolled over.
func (e *Evaluator) UpdateDailyPnL(ctx context.Context, delta float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.pf.rollover(time.Now())
	e.pf.dailyPnL += delta
}

// UpdateTotalCapital replaces the capital base all ratios are computed
// against.
func (e *Evaluator) UpdateTotalCapital(ctx context.Context, capital float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.pf.totalCapital = capital
}

// UpdateRiskLimits replaces the runtime-adjustable limit ratios.
func (e *Evaluator) UpdateRiskLimits(ctx context.Context, limits Limits) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.cfg.MaxTotalPositionRatio = limits.MaxTotalPositionRatio
	e.cfg.MaxSingleStockRatio = limits.MaxSingleStockRatio
	e.cfg.MaxSectorRatio = limits.MaxSectorRatio
	e.cfg.MaxOrderToVolumeRatio = limits.MaxOrderToVolumeRatio
	e.cfg.DailyLossLimitRatio = limits.DailyLossLimitRatio
	e.cfg.StopLossRatio = limits.StopLossRatio
	e.cfg.TakeProfitRatio = limits.TakeProfitRatio
}

// UpdateAverageVolume records the average daily volume used by the
// liquidity check. Symbols without volume data pass that check.
func (e *Evaluator) UpdateAverageVolume(ctx context.Context, symbol string, volume float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.pf.avgVolumes[symbol] = volume
}

// OpenPositions returns copies of all open positions, sorted by symbol.
func (e *Evaluator) OpenPositions() []domain.Position {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make([]domain.Position, 0, len(e.pf.positions))
	for _, sym := range e.pf.symbols() {
		out = append(out, *e.pf.positions[sym])
	}
	return out
}

// DailyPnL returns the cumulative daily P&L after rollover.
func (e *Evaluator) DailyPnL() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.pf.rollover(time.Now())
	return e.pf.dailyPnL
}
