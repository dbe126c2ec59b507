package domain

// OrderSide represents the side of an order (BUY or SELL).
type OrderSide string

const (
	Buy  OrderSide = "BUY"
	Sell OrderSide = "SELL"
)

// OrderType represents how an order is priced and triggered.
type OrderType string

const (
	Market    OrderType = "MARKET"
	Limit     OrderType = "LIMIT"
	Stop      OrderType = "STOP"
	StopLimit OrderType = "STOP_LIMIT"
)

// OrderStatus represents the current lifecycle state of an order.
type OrderStatus string

const (
	StatusPending         OrderStatus = "PENDING"
	StatusSubmitted       OrderStatus = "SUBMITTED"
	StatusAccepted        OrderStatus = "ACCEPTED"
	StatusPartiallyFilled OrderStatus = "PARTIALLY_FILLED"
	StatusFilled          OrderStatus = "FILLED"
	StatusCancelled       OrderStatus = "CANCELLED"
	StatusRejected        OrderStatus = "REJECTED"
	StatusFailed          OrderStatus = "FAILED"
)

// IsTerminal reports whether no further transitions are allowed from this status.
func (s OrderStatus) IsTerminal() bool {
	switch s {
	case StatusFilled, StatusCancelled, StatusRejected, StatusFailed:
		return true
	default:
		return false
	}
}

// Severity is a totally ordered risk level attached to check results and alerts.
type Severity int

const (
	SeverityLow Severity = iota
	SeverityMedium
	SeverityHigh
	SeverityCritical
)

// String returns the string representation of the Severity.
func (s Severity) String() string {
	switch s {
	case SeverityLow:
		return "LOW"
	case SeverityMedium:
		return "MEDIUM"
	case SeverityHigh:
		return "HIGH"
	case SeverityCritical:
		return "CRITICAL"
	default:
		return "UNKNOWN"
	}
}

// MaxSeverity returns the greater of two severities.
func MaxSeverity(a, b Severity) Severity {
	if a > b {
		return a
	}
	return b
}

// CheckKind identifies which admission check produced a RiskCheckResult.
type CheckKind string

const (
	CheckCapital       CheckKind = "capital_sufficiency"
	CheckPositionLimit CheckKind = "position_limit"
	CheckSectorLimit   CheckKind = "sector_limit"
	CheckLiquidity     CheckKind = "liquidity"
	CheckDailyLoss     CheckKind = "daily_loss"
	CheckEmergencyHalt CheckKind = "emergency_halt"
)

// LimitKind identifies a recomputable risk limit snapshot.
type LimitKind string

const (
	LimitTotalPosition LimitKind = "total_position"
	LimitSingleStock   LimitKind = "single_stock"
	LimitSector        LimitKind = "sector"
	LimitDailyLoss     LimitKind = "daily_loss"
)

// AlertKind classifies a RiskAlert.
type AlertKind string

const (
	AlertCapitalInsufficient AlertKind = "CAPITAL_INSUFFICIENT"
	AlertPositionLimit       AlertKind = "POSITION_LIMIT"
	AlertSectorLimit         AlertKind = "SECTOR_LIMIT"
	AlertLiquidity           AlertKind = "LIQUIDITY"
	AlertDailyLoss           AlertKind = "DAILY_LOSS"
	AlertRiskViolation       AlertKind = "RISK_VIOLATION"
	AlertEmergencyShutdown   AlertKind = "EMERGENCY_SHUTDOWN"
	AlertStopLoss            AlertKind = "STOP_LOSS"
	AlertTakeProfit          AlertKind = "TAKE_PROFIT"
	AlertLimitBreach         AlertKind = "LIMIT_BREACH"
)

// ActionKind classifies an automated ProtectiveAction.
type ActionKind string

const (
	ActionCancelOrder    ActionKind = "CANCEL_ORDER"
	ActionReducePosition ActionKind = "REDUCE_POSITION"
)

// AlertKindForCheck maps a failing admission check to the alert kind
// emitted for it. The check kind travels on the RiskCheckResult itself,
// so no message-text inspection is needed.
func AlertKindForCheck(kind CheckKind) AlertKind {
	switch kind {
	case CheckCapital:
		return AlertCapitalInsufficient
	case CheckPositionLimit:
		return AlertPositionLimit
	case CheckSectorLimit:
		return AlertSectorLimit
	case CheckLiquidity:
		return AlertLiquidity
	case CheckDailyLoss:
		return AlertDailyLoss
	case CheckEmergencyHalt:
		return AlertEmergencyShutdown
	default:
		return AlertRiskViolation
	}
}
