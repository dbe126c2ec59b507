package risk

import (
	"sort"
	"time"

	"riskGate/internal/domain"
)

// portfolio is the evaluator's exclusively owned view of current
// holdings and intraday P&L. All access goes through the evaluator's
// mutex; nothing outside this package holds a reference to it.
type portfolio struct {
	positions    map[string]*domain.Position
	avgVolumes   map[string]float64 // Symbol -> average daily volume in shares
	totalCapital float64
	dailyPnL     float64
	pnlDay       time.Time // Midnight of the day dailyPnL accumulates for
}

func newPortfolio(totalCapital float64, now time.Time) *portfolio {
	return &portfolio{
		positions:    make(map[string]*domain.Position),
		avgVolumes:   make(map[string]float64),
		totalCapital: totalCapital,
		pnlDay:       startOfDay(now),
	}
}

func startOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

// rollover resets the daily P&L accumulator when the local day changed.
func (p *portfolio) rollover(now time.Time) {
	if day := startOfDay(now); day.After(p.pnlDay) {
		p.dailyPnL = 0
		p.pnlDay = day
	}
}

// dailyLoss returns only the negative part of cumulative daily P&L as a
// positive number. Gains never offset losses below zero.
func (p *portfolio) dailyLoss() float64 {
	if p.dailyPnL < 0 {
		return -p.dailyPnL
	}
	return 0
}

func (p *portfolio) totalMarketValue() float64 {
	var total float64
	for _, pos := range p.positions {
		total += pos.MarketValue()
	}
	return total
}

func (p *portfolio) sectorMarketValue(sector string) float64 {
	var total float64
	for _, pos := range p.positions {
		if pos.Sector == sector {
			total += pos.MarketValue()
		}
	}
	return total
}

// availableCapital is total capital minus capital already deployed.
func (p *portfolio) availableCapital() float64 {
	return p.totalCapital - p.totalMarketValue()
}

func (p *portfolio) symbolMarketValue(symbol string) float64 {
	if pos, ok := p.positions[symbol]; ok {
		return pos.MarketValue()
	}
	return 0
}

// sectors returns the distinct sectors with open positions, sorted.
func (p *portfolio) sectors() []string {
	seen := make(map[string]struct{})
	for _, pos := range p.positions {
		if pos.Sector != "" {
			seen[pos.Sector] = struct{}{}
		}
	}
	out := make([]string, 0, len(seen))
	for s := range seen {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// symbols returns the symbols with open positions, sorted.
func (p *portfolio) symbols() []string {
	out := make([]string, 0, len(p.positions))
	for s := range p.positions {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}
