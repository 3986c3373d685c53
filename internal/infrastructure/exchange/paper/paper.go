// Package paper is an in-memory execution venue used in simulation mode.
// Orders fill completely at their limit price.
package paper

import (
	"context"
	"math"
	"sort"
	"strconv"
	"sync"

	"tradeguard/internal/application/port"
	"tradeguard/internal/domain/model"
	"tradeguard/internal/infrastructure/exchange"
)

const Name = "paper"

type Gateway struct {
	mu        sync.Mutex
	balance   float64
	positions map[string]model.ExchangePosition
	prices    port.PriceBook
	qtyStep   float64
	seq       int64
}

var _ port.Gateway = (*Gateway)(nil)

// NewGateway starts with balance as realized cash. prices may be nil, in
// which case open positions are valued at their entry price.
func NewGateway(balance float64, prices port.PriceBook, qtyStep float64) *Gateway {
	return &Gateway{
		balance:   balance,
		positions: make(map[string]model.ExchangePosition),
		prices:    prices,
		qtyStep:   qtyStep,
	}
}

func (g *Gateway) Name() string { return Name }

func (g *Gateway) PlaceOrder(ctx context.Context, req port.OrderRequest) (port.OrderResult, error) {
	if err := ctx.Err(); err != nil {
		return port.OrderResult{Status: port.OrderErr}, err
	}
	qty, _ := exchange.FloorToStep(req.Quantity, g.qtyStep).Float64()
	if qty <= 0 {
		return port.OrderResult{Status: port.OrderErr}, &model.RejectedOrderError{Symbol: req.Symbol, Reason: "quantity below minimum"}
	}
	if req.Price <= 0 {
		return port.OrderResult{Status: port.OrderErr}, &model.RejectedOrderError{Symbol: req.Symbol, Reason: "price must be positive"}
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	cur, has := g.positions[req.Symbol]
	if req.ReduceOnly {
		if !has || cur.Side == req.Side {
			return port.OrderResult{Status: port.OrderErr}, &model.RejectedOrderError{Symbol: req.Symbol, Code: -2022, Reason: "ReduceOnly Order is rejected"}
		}
		qty = math.Min(qty, cur.Quantity)
	}
	g.fill(req.Symbol, req.Side, qty, req.Price)

	g.seq++
	return port.OrderResult{
		Status:    port.OrderOK,
		OrderID:   strconv.FormatInt(g.seq, 10),
		FilledQty: qty,
		AvgPrice:  req.Price,
	}, nil
}

// fill nets an execution against the current position. Caller holds mu.
func (g *Gateway) fill(symbol string, side model.Side, qty, price float64) {
	cur, has := g.positions[symbol]
	switch {
	case !has:
		g.positions[symbol] = model.ExchangePosition{Symbol: symbol, Side: side, Quantity: qty, EntryPrice: price}
	case cur.Side == side:
		total := cur.Quantity + qty
		cur.EntryPrice = (cur.EntryPrice*cur.Quantity + price*qty) / total
		cur.Quantity = total
		g.positions[symbol] = cur
	default:
		closed := math.Min(cur.Quantity, qty)
		g.balance += (price - cur.EntryPrice) * closed * cur.Side.Sign()
		rest := qty - closed
		cur.Quantity -= closed
		switch {
		case rest > 0:
			g.positions[symbol] = model.ExchangePosition{Symbol: symbol, Side: side, Quantity: rest, EntryPrice: price}
		case cur.Quantity <= 0:
			delete(g.positions, symbol)
		default:
			g.positions[symbol] = cur
		}
	}
}

func (g *Gateway) QueryPositions(ctx context.Context) ([]model.ExchangePosition, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]model.ExchangePosition, 0, len(g.positions))
	for _, p := range g.positions {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out, nil
}

// QueryEquity is realized balance plus unrealized pnl at the last known price.
func (g *Gateway) QueryEquity(ctx context.Context) (float64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	eq := g.balance
	for sym, p := range g.positions {
		mark := p.EntryPrice
		if g.prices != nil {
			if px, ok := g.prices.LastPrice(sym); ok {
				mark = px
			}
		}
		eq += (mark - p.EntryPrice) * p.Quantity * p.Side.Sign()
	}
	return eq, nil
}

// Liquidate closes the whole position at the last known price outside the
// order flow, the way a venue-side liquidation or a manual close in the
// exchange UI would. It reports whether a position existed.
func (g *Gateway) Liquidate(symbol string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	cur, ok := g.positions[symbol]
	if !ok {
		return false
	}
	px := cur.EntryPrice
	if g.prices != nil {
		if last, ok := g.prices.LastPrice(symbol); ok {
			px = last
		}
	}
	g.fill(symbol, cur.Side.Opposite(), cur.Quantity, px)
	return true
}
