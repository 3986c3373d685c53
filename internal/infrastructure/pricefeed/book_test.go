package pricefeed

import (
	"context"
	"testing"
	"time"

	"tradeguard/internal/application/port"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	got []float64
}

func (r *recorder) Observe(_ string, price float64) { r.got = append(r.got, price) }

func TestBookSetAndSnapshot(t *testing.T) {
	rec := &recorder{}
	b := NewBook(rec)

	b.Set("BTCUSDT", 100)
	b.Set("BTCUSDT", 0)
	b.Set("", 5)
	b.Set("ETHUSDT", 10)

	p, ok := b.LastPrice("BTCUSDT")
	require.True(t, ok)
	assert.Equal(t, 100.0, p)
	_, ok = b.LastPrice("SOLUSDT")
	assert.False(t, ok)
	assert.Equal(t, []float64{100, 10}, rec.got)

	snap := b.Snapshot()
	snap["BTCUSDT"] = 1
	p, _ = b.LastPrice("BTCUSDT")
	assert.Equal(t, 100.0, p)
}

type chanFeed struct {
	ch chan port.Tick
}

func (f *chanFeed) Name() string { return "test" }
func (f *chanFeed) Subscribe(context.Context, []string) (<-chan port.Tick, error) {
	return f.ch, nil
}

func TestBookStartConsumesFeed(t *testing.T) {
	feed := &chanFeed{ch: make(chan port.Tick, 2)}
	b := NewBook()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, b.Start(ctx, feed, []string{"BTCUSDT"}))
	feed.ch <- port.Tick{Symbol: "BTCUSDT", PriceNum: 123.4}
	close(feed.ch)

	assert.Eventually(t, func() bool {
		p, ok := b.LastPrice("BTCUSDT")
		return ok && p == 123.4
	}, time.Second, 5*time.Millisecond)
}

func TestRegistry(t *testing.T) {
	Register("test", func(wsURL string) port.PriceFeed { return &chanFeed{} })
	f, ok := Get("test")
	require.True(t, ok)
	assert.Equal(t, "test", f("").Name())

	_, ok = Get("missing")
	assert.False(t, ok)
	assert.Contains(t, Names(), "test")

	feed, err := Open("test", "wss://example")
	require.NoError(t, err)
	assert.Equal(t, "test", feed.Name())

	_, err = Open("test", "")
	assert.Error(t, err)
	_, err = Open("missing", "wss://example")
	assert.Error(t, err)
}
