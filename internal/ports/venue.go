package ports

import (
	"context"

	"riskGate/internal/domain"
)

// VenueExecution reports the venue's response to an order hand-off.
type VenueExecution struct {
	Success        bool
	Status         domain.OrderStatus // Status assigned by the venue (e.g. ACCEPTED, FILLED)
	FilledQuantity float64
	AveragePrice   float64
	Commission     float64
	Slippage       float64
	Message        string
}

// VenueAck reports the venue's response to a cancel or modify request.
type VenueAck struct {
	Success bool
	Message string
}

// ExecutionVenue defines the interface to the venue adapter that places
// orders on an exchange. The engine treats it as an external
// collaborator: a nil venue means pure in-memory simulation.
type ExecutionVenue interface {
	// ExecuteOrder hands a risk-approved order to the venue.
	ExecuteOrder(ctx context.Context, order *domain.Order) (*VenueExecution, error)

	// CancelOrder requests cancellation of a previously placed order.
	CancelOrder(ctx context.Context, orderID string) (*VenueAck, error)

	// ModifyOrder requests a price and/or quantity change for an open
	// order. Nil pointers leave the corresponding field untouched.
	ModifyOrder(ctx context.Context, orderID string, price, quantity *float64) (*VenueAck, error)
}
