package exchange

import (
	"context"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
)

const (
	readTimeout  = 60 * time.Second
	pingInterval = 25 * time.Second
)

// ReadWithPing reads WebSocket messages with periodic pings until the
// connection fails or ctx is done. On cancellation it closes conn and waits
// for the reader, so onMessage is never running after it returns.
func ReadWithPing(ctx context.Context, conn *websocket.Conn, onMessage func([]byte)) error {
	_ = conn.SetReadDeadline(time.Now().Add(readTimeout))
	conn.SetPongHandler(func(string) error {
		_ = conn.SetReadDeadline(time.Now().Add(readTimeout))
		return nil
	})

	pingTicker := time.NewTicker(pingInterval)
	defer pingTicker.Stop()

	errCh := make(chan error, 1)

	go func() {
		defer close(errCh)
		for {
			_, b, err := conn.ReadMessage()
			if err != nil {
				errCh <- err
				return
			}
			_ = conn.SetReadDeadline(time.Now().Add(readTimeout))
			onMessage(b)
		}
	}()

	for {
		select {
		case <-ctx.Done():
			_ = conn.Close()
			for range errCh {
			}
			return ctx.Err()
		case err := <-errCh:
			return err
		case <-pingTicker.C:
			_ = conn.WriteControl(websocket.PingMessage, []byte("ping"), time.Now().Add(5*time.Second))
		}
	}
}

// MinDuration returns the minimum of two durations
func MinDuration(a, b time.Duration) time.Duration {
	if a < b {
		return a
	}
	return b
}

// RoundToStep rounds v to the nearest multiple of step. A non-positive step
// leaves v unchanged.
func RoundToStep(v, step float64) decimal.Decimal {
	d := decimal.NewFromFloat(v)
	if step <= 0 {
		return d
	}
	s := decimal.NewFromFloat(step)
	return d.Div(s).Round(0).Mul(s)
}

// FloorToStep rounds v down to a multiple of step.
func FloorToStep(v, step float64) decimal.Decimal {
	d := decimal.NewFromFloat(v)
	if step <= 0 {
		return d
	}
	s := decimal.NewFromFloat(step)
	return d.Div(s).Floor().Mul(s)
}
