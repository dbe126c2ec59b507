package domain

import "time"

// OrderSpec is a request to place an order. Price is required for
// LIMIT and STOP_LIMIT orders, StopPrice for STOP and STOP_LIMIT.
type OrderSpec struct {
	Symbol    string
	Side      OrderSide
	Type      OrderType
	Quantity  float64
	Price     float64 // Limit price (0 when not applicable)
	StopPrice float64 // Trigger price (0 when not applicable)
	Strategy  string  // Strategy tag, e.g. "stop_loss_protection"
	Metadata  map[string]string
}

// Order represents a trading order owned by the ledger.
type Order struct {
	ID             string
	Symbol         string
	Side           OrderSide
	Type           OrderType
	Quantity       float64
	Price          float64
	StopPrice      float64
	Status         OrderStatus
	Strategy       string
	CreatedAt      time.Time
	SubmittedAt    time.Time // Zero value until handed to the venue
	UpdatedAt      time.Time
	FilledAt       time.Time // Zero value until fully filled
	FilledQuantity float64
	AvgFillPrice   float64
	Commission     float64
	Slippage       float64
	RejectReason   string // Aggregated reason when Rejected/Failed
	Metadata       map[string]string
}

// IsActive reports whether the order can still be cancelled or modified.
func (o *Order) IsActive() bool {
	return !o.Status.IsTerminal()
}

// RemainingQuantity returns the unfilled portion of the order.
func (o *Order) RemainingQuantity() float64 {
	rem := o.Quantity - o.FilledQuantity
	if rem < 0 {
		return 0
	}
	return rem
}

// Notional returns the order's value at the given reference price.
func (o *Order) Notional(refPrice float64) float64 {
	return o.Quantity * refPrice
}

// OrderResult is the outcome of a ledger operation. Expected business
// rejections travel here as Success=false with an aggregated Reason,
// never as a returned error.
type OrderResult struct {
	Order   *Order
	Status  OrderStatus
	Success bool
	Reason  string
	// Checks holds the admission check results produced while handling
	// the operation, failures included, so callers can map a rejection
	// to its originating check without parsing Reason.
	Checks []RiskCheckResult
}

// FailedChecks returns the subset of Checks that did not pass.
func (r *OrderResult) FailedChecks() []RiskCheckResult {
	var failed []RiskCheckResult
	for _, c := range r.Checks {
		if !c.Passed {
			failed = append(failed, c)
		}
	}
	return failed
}
