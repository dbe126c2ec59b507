package binancevenue

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	"riskGate/internal/domain"
	"riskGate/internal/ports"

	"github.com/adshao/go-binance/v2"
	"github.com/adshao/go-binance/v2/common"
)

const (
	// Base URLs
	baseURLProduction = "https://api.binance.com"
	baseURLTestnet    = "https://testnet.binance.vision"
)

// Venue implements the ports.ExecutionVenue interface using the
// go-binance spot client. The engine's own order ID travels as the
// client order ID so venue-side records stay correlated.
type Venue struct {
	client *binance.Client
	logger ports.Logger

	mu     sync.Mutex
	symbol map[string]string // Engine order ID -> symbol, needed for cancels
}

// Config holds configuration specific to the Binance venue adapter.
type Config struct {
	APIKey     string
	SecretKey  string
	UseTestnet bool
	Logger     ports.Logger
}

// New creates a new Binance venue adapter.
func New(cfg Config) (*Venue, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for Binance venue: %w", ports.ErrConfigurationError)
	}
	if cfg.APIKey == "" || cfg.SecretKey == "" {
		return nil, fmt.Errorf("API credentials are required for Binance venue: %w", ports.ErrConfigurationError)
	}

	client := binance.NewClient(cfg.APIKey, cfg.SecretKey)
	if cfg.UseTestnet {
		client.BaseURL = baseURLTestnet
		cfg.Logger.Info(context.Background(), "Binance venue configured for Testnet", map[string]interface{}{"baseURL": client.BaseURL})
	} else {
		client.BaseURL = baseURLProduction
		cfg.Logger.Info(context.Background(), "Binance venue configured for Production", map[string]interface{}{"baseURL": client.BaseURL})
	}

	return &Venue{
		client: client,
		logger: cfg.Logger,
		symbol: make(map[string]string),
	}, nil
}

func formatQty(q float64) string {
	return strconv.FormatFloat(q, 'f', -1, 64)
}

func orderType(t domain.OrderType) (binance.OrderType, error) {
	switch t {
	case domain.Market:
		return binance.OrderTypeMarket, nil
	case domain.Limit:
		return binance.OrderTypeLimit, nil
	case domain.Stop:
		return binance.OrderTypeStopLoss, nil
	case domain.StopLimit:
		return binance.OrderTypeStopLossLimit, nil
	default:
		return "", fmt.Errorf("unsupported order type %q: %w", t, ports.ErrInvalidRequest)
	}
}

func sideType(s domain.OrderSide) binance.SideType {
	if s == domain.Buy {
		return binance.SideTypeBuy
	}
	return binance.SideTypeSell
}

func mapStatus(s binance.OrderStatusType) domain.OrderStatus {
	switch s {
	case binance.OrderStatusTypeNew:
		return domain.StatusAccepted
	case binance.OrderStatusTypePartiallyFilled:
		return domain.StatusPartiallyFilled
	case binance.OrderStatusTypeFilled:
		return domain.StatusFilled
	case binance.OrderStatusTypeCanceled, binance.OrderStatusTypeExpired:
		return domain.StatusCancelled
	case binance.OrderStatusTypeRejected:
		return domain.StatusFailed
	default:
		return domain.StatusSubmitted
	}
}

// ExecuteOrder places the order on Binance spot.
func (v *Venue) ExecuteOrder(ctx context.Context, order *domain.Order) (*ports.VenueExecution, error) {
	bType, err := orderType(order.Type)
	if err != nil {
		return nil, err
	}

	svc := v.client.NewCreateOrderService().
		Symbol(order.Symbol).
		Side(sideType(order.Side)).
		Type(bType).
		Quantity(formatQty(order.Quantity)).
		NewClientOrderID(order.ID)

	if order.Type == domain.Limit || order.Type == domain.StopLimit {
		svc = svc.Price(formatQty(order.Price)).TimeInForce(binance.TimeInForceTypeGTC)
	}
	if order.Type == domain.Stop || order.Type == domain.StopLimit {
		svc = svc.StopPrice(formatQty(order.StopPrice))
	}

	resp, err := svc.Do(ctx)
	if err != nil {
		if apiErr, ok := err.(*common.APIError); ok {
			// API-level rejections are an outcome, not a transport error.
			v.logger.Warn(ctx, "Binance rejected order", map[string]interface{}{
				"orderID": order.ID, "code": apiErr.Code, "message": apiErr.Message,
			})
			return &ports.VenueExecution{Success: false, Message: apiErr.Message}, nil
		}
		return nil, fmt.Errorf("place order %s: %v: %w", order.ID, err, ports.ErrOrderPlacementFailed)
	}

	v.mu.Lock()
	v.symbol[order.ID] = order.Symbol
	v.mu.Unlock()

	filled, _ := strconv.ParseFloat(resp.ExecutedQuantity, 64)
	exec := &ports.VenueExecution{
		Success:        true,
		Status:         mapStatus(resp.Status),
		FilledQuantity: filled,
	}
	var notional, commission float64
	for _, fill := range resp.Fills {
		price, _ := strconv.ParseFloat(fill.Price, 64)
		qty, _ := strconv.ParseFloat(fill.Quantity, 64)
		fee, _ := strconv.ParseFloat(fill.Commission, 64)
		notional += price * qty
		commission += fee
	}
	if filled > 0 {
		exec.AveragePrice = notional / filled
	}
	exec.Commission = commission
	return exec, nil
}

// CancelOrder cancels a previously placed order by the engine's ID.
func (v *Venue) CancelOrder(ctx context.Context, orderID string) (*ports.VenueAck, error) {
	v.mu.Lock()
	symbol, ok := v.symbol[orderID]
	v.mu.Unlock()
	if !ok {
		return &ports.VenueAck{Success: false, Message: "order was never placed on this venue"}, nil
	}

	_, err := v.client.NewCancelOrderService().
		Symbol(symbol).
		OrigClientOrderID(orderID).
		Do(ctx)
	if err != nil {
		if apiErr, ok := err.(*common.APIError); ok {
			return &ports.VenueAck{Success: false, Message: apiErr.Message}, nil
		}
		return nil, fmt.Errorf("cancel order %s: %v: %w", orderID, err, ports.ErrOrderCancelFailed)
	}

	v.mu.Lock()
	delete(v.symbol, orderID)
	v.mu.Unlock()
	return &ports.VenueAck{Success: true, Message: "cancelled"}, nil
}

// ModifyOrder has no in-place equivalent on Binance spot; it is
// implemented as cancel-and-replace. The replacement keeps the
// engine's order ID as its client order ID.
func (v *Venue) ModifyOrder(ctx context.Context, orderID string, price, quantity *float64) (*ports.VenueAck, error) {
	v.mu.Lock()
	symbol, ok := v.symbol[orderID]
	v.mu.Unlock()
	if !ok {
		return &ports.VenueAck{Success: false, Message: "order was never placed on this venue"}, nil
	}

	prev, err := v.client.NewGetOrderService().
		Symbol(symbol).
		OrigClientOrderID(orderID).
		Do(ctx)
	if err != nil {
		if apiErr, ok := err.(*common.APIError); ok {
			return &ports.VenueAck{Success: false, Message: apiErr.Message}, nil
		}
		return nil, fmt.Errorf("lookup order %s: %v: %w", orderID, err, ports.ErrVenueFailure)
	}

	ack, err := v.CancelOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if !ack.Success {
		return ack, nil
	}

	newPrice := prev.Price
	if price != nil {
		newPrice = formatQty(*price)
	}
	newQty := prev.OrigQuantity
	if quantity != nil {
		newQty = formatQty(*quantity)
	}

	svc := v.client.NewCreateOrderService().
		Symbol(symbol).
		Side(binance.SideType(prev.Side)).
		Type(binance.OrderType(prev.Type)).
		Quantity(newQty).
		NewClientOrderID(orderID)
	if binance.OrderType(prev.Type) != binance.OrderTypeMarket {
		svc = svc.Price(newPrice).TimeInForce(binance.TimeInForceTypeGTC)
	}
	if _, err := svc.Do(ctx); err != nil {
		if apiErr, ok := err.(*common.APIError); ok {
			return &ports.VenueAck{Success: false, Message: fmt.Sprintf("replacement rejected: %s", apiErr.Message)}, nil
		}
		return nil, fmt.Errorf("replace order %s: %v: %w", orderID, err, ports.ErrOrderPlacementFailed)
	}

	v.mu.Lock()
	v.symbol[orderID] = symbol
	v.mu.Unlock()
	return &ports.VenueAck{Success: true, Message: "replaced"}, nil
}
