package domain

import "time"

// Position represents an open holding inside the evaluator's portfolio.
type Position struct {
	Symbol       string
	Quantity     float64
	CostBasis    float64 // Average cost per share
	CurrentPrice float64
	Sector       string
	Strategy     string
	OpenedAt     time.Time
	UpdatedAt    time.Time
}

// MarketValue returns the current market value of the position.
func (p *Position) MarketValue() float64 {
	return p.Quantity * p.CurrentPrice
}

// UnrealizedPnL returns the open profit or loss against cost basis.
func (p *Position) UnrealizedPnL() float64 {
	return (p.CurrentPrice - p.CostBasis) * p.Quantity
}

// PnLPct returns unrealized P&L as a fraction of cost (0.05 == +5%).
func (p *Position) PnLPct() float64 {
	cost := p.CostBasis * p.Quantity
	if cost == 0 {
		return 0
	}
	return p.UnrealizedPnL() / cost
}
