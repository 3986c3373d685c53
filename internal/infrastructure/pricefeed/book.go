package pricefeed

import (
	"context"
	"sync"

	"tradeguard/internal/application/port"
)

// Observer is notified of every accepted price.
type Observer interface {
	Observe(symbol string, price float64)
}

// Book keeps the last price per symbol and implements port.PriceBook.
type Book struct {
	mu        sync.RWMutex
	prices    map[string]float64
	observers []Observer
}

var _ port.PriceBook = (*Book)(nil)

func NewBook(observers ...Observer) *Book {
	return &Book{
		prices:    make(map[string]float64),
		observers: observers,
	}
}

// Set records a price; non-positive prices are ignored.
func (b *Book) Set(symbol string, price float64) {
	if symbol == "" || price <= 0 {
		return
	}
	b.mu.Lock()
	b.prices[symbol] = price
	b.mu.Unlock()
	for _, o := range b.observers {
		o.Observe(symbol, price)
	}
}

func (b *Book) LastPrice(symbol string) (float64, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	p, ok := b.prices[symbol]
	return p, ok
}

func (b *Book) Snapshot() map[string]float64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make(map[string]float64, len(b.prices))
	for k, v := range b.prices {
		out[k] = v
	}
	return out
}

// Run consumes ticks until the channel closes or ctx is done.
func (b *Book) Run(ctx context.Context, ticks <-chan port.Tick) {
	for {
		select {
		case <-ctx.Done():
			return
		case t, ok := <-ticks:
			if !ok {
				return
			}
			b.Set(t.Symbol, t.PriceNum)
		}
	}
}

// Start subscribes feed to symbols and feeds the book in the background.
func (b *Book) Start(ctx context.Context, feed port.PriceFeed, symbols []string) error {
	ticks, err := feed.Subscribe(ctx, symbols)
	if err != nil {
		return err
	}
	go b.Run(ctx, ticks)
	return nil
}
