package domain

import "time"

// CheckDetails carries the numbers behind a check decision. Proposed is
// zero for checks that do not simulate the order's effect.
type CheckDetails struct {
	Current  float64 // Value before the order (ratio or absolute, per check)
	Proposed float64 // Value if the order were admitted
	Limit    float64 // Configured bound the value is compared against
}

// RiskCheckResult is the immutable outcome of a single admission check.
type RiskCheckResult struct {
	Passed    bool
	Kind      CheckKind
	Reason    string
	Severity  Severity
	Details   CheckDetails
	Timestamp time.Time
}

// AggregateSeverity returns the maximum severity among failing results,
// or SeverityLow when nothing failed.
func AggregateSeverity(results []RiskCheckResult) Severity {
	sev := SeverityLow
	for _, r := range results {
		if !r.Passed {
			sev = MaxSeverity(sev, r.Severity)
		}
	}
	return sev
}

// RiskLimit is an on-demand snapshot of one configured limit.
// Breached is always Current > Limit at computation time.
type RiskLimit struct {
	Kind        LimitKind
	Scope       string // Symbol or sector for per-symbol/per-sector limits
	Current     float64
	Limit       float64
	Utilization float64 // Current / Limit, 0 when Limit is 0
	Breached    bool
}

// PositionRisk is a monitored position plus its live risk assessment.
type PositionRisk struct {
	Position            Position
	Exposure            float64 // Market value as a fraction of total capital
	Severity            Severity
	StopLossTriggered   bool
	TakeProfitTriggered bool
}

// RiskAlert is an append-only alert record. Only Acknowledged may change
// after creation.
type RiskAlert struct {
	ID           string
	Kind         AlertKind
	Severity     Severity
	Message      string
	OrderID      string // Optional: order that triggered the alert
	Symbol       string // Optional: symbol the alert concerns
	Details      map[string]string
	CreatedAt    time.Time
	Acknowledged bool
}

// ProtectiveAction records one automated defensive measure. Only
// Executed and Result may change after creation.
type ProtectiveAction struct {
	ID        string
	Kind      ActionKind
	Reason    string
	OrderID   string // Target order for cancels, protective order for reduces
	Symbol    string // Target symbol for position reductions
	Executed  bool
	Result    string
	CreatedAt time.Time
}
