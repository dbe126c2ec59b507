package simvenue

import (
	"context"
	"fmt"
	"sync"

	"riskGate/internal/domain"
	"riskGate/internal/ports"
)

// Venue is a deterministic in-memory implementation of the
// ports.ExecutionVenue interface. Market orders fill immediately at
// the configured book price; limit and stop orders rest as accepted.
// Intended for simulation runs and tests.
type Venue struct {
	logger     ports.Logger
	commission float64 // Commission rate applied to fill notional
	slippage   float64 // Price impact rate applied to market fills

	mu     sync.Mutex
	prices map[string]float64
	placed map[string]*domain.Order // Orders handed to the venue, by ID
	// FailNext forces the next call of each kind to fail once.
	failExecute bool
	failCancel  bool
	failModify  bool
}

// Config holds simulation parameters.
type Config struct {
	Logger         ports.Logger
	CommissionRate float64
	SlippageRate   float64
}

// New creates a new simulated venue.
func New(cfg Config) (*Venue, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for simulated venue: %w", ports.ErrConfigurationError)
	}
	return &Venue{
		logger:     cfg.Logger,
		commission: cfg.CommissionRate,
		slippage:   cfg.SlippageRate,
		prices:     make(map[string]float64),
		placed:     make(map[string]*domain.Order),
	}, nil
}

// SetPrice sets the simulated market price for a symbol.
func (v *Venue) SetPrice(symbol string, price float64) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.prices[symbol] = price
}

// FailNextExecute makes the next ExecuteOrder call report failure.
func (v *Venue) FailNextExecute() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.failExecute = true
}

// FailNextCancel makes the next CancelOrder call report failure.
func (v *Venue) FailNextCancel() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.failCancel = true
}

// FailNextModify makes the next ModifyOrder call report failure.
func (v *Venue) FailNextModify() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.failModify = true
}

// ExecuteOrder fills market orders at the book price and rests others.
func (v *Venue) ExecuteOrder(ctx context.Context, order *domain.Order) (*ports.VenueExecution, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.failExecute {
		v.failExecute = false
		return &ports.VenueExecution{Success: false, Message: "injected execution failure"}, nil
	}

	cp := *order
	v.placed[order.ID] = &cp

	if order.Type != domain.Market {
		return &ports.VenueExecution{Success: true, Status: domain.StatusAccepted}, nil
	}

	price, ok := v.prices[order.Symbol]
	if !ok || price <= 0 {
		return &ports.VenueExecution{Success: false, Message: fmt.Sprintf("no market price for %s", order.Symbol)}, nil
	}

	fillPrice := price * (1 + v.slippageSign(order.Side)*v.slippage)
	notional := order.Quantity * fillPrice
	return &ports.VenueExecution{
		Success:        true,
		Status:         domain.StatusFilled,
		FilledQuantity: order.Quantity,
		AveragePrice:   fillPrice,
		Commission:     notional * v.commission,
		Slippage:       (fillPrice - price) * order.Quantity,
	}, nil
}

func (v *Venue) slippageSign(side domain.OrderSide) float64 {
	if side == domain.Buy {
		return 1
	}
	return -1
}

// CancelOrder acknowledges cancellation of a known order.
func (v *Venue) CancelOrder(ctx context.Context, orderID string) (*ports.VenueAck, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.failCancel {
		v.failCancel = false
		return &ports.VenueAck{Success: false, Message: "injected cancel failure"}, nil
	}
	if _, ok := v.placed[orderID]; !ok {
		return &ports.VenueAck{Success: false, Message: "unknown order"}, nil
	}
	delete(v.placed, orderID)
	return &ports.VenueAck{Success: true, Message: "cancelled"}, nil
}

// ModifyOrder acknowledges modification of a known order.
func (v *Venue) ModifyOrder(ctx context.Context, orderID string, price, quantity *float64) (*ports.VenueAck, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.failModify {
		v.failModify = false
		return &ports.VenueAck{Success: false, Message: "injected modify failure"}, nil
	}
	order, ok := v.placed[orderID]
	if !ok {
		return &ports.VenueAck{Success: false, Message: "unknown order"}, nil
	}
	if price != nil {
		order.Price = *price
	}
	if quantity != nil {
		order.Quantity = *quantity
	}
	return &ports.VenueAck{Success: true, Message: "modified"}, nil
}
