package port

import (
	"context"

	"tradeguard/internal/domain/model"
)

type OrderStatus string

const (
	OrderOK  OrderStatus = "ok"
	OrderErr OrderStatus = "err"
)

type OrderRequest struct {
	Symbol        string
	Side          model.Side
	Quantity      float64
	Price         float64
	ClientOrderID string
	ReduceOnly    bool
}

type OrderResult struct {
	Status    OrderStatus
	OrderID   string
	FilledQty float64
	AvgPrice  float64
}

// Gateway is the execution venue. Every call is network I/O: errors are
// *model.TransientError when a retry may help and *model.RejectedOrderError
// when the venue refused the order.
type Gateway interface {
	Name() string
	PlaceOrder(ctx context.Context, req OrderRequest) (OrderResult, error)
	QueryPositions(ctx context.Context) ([]model.ExchangePosition, error)
	QueryEquity(ctx context.Context) (float64, error)
}

// SignalSource yields trade signals in order. Each signal is returned once.
type SignalSource interface {
	Poll(ctx context.Context) ([]model.Signal, error)
	Close() error
}
