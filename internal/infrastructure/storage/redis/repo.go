package redis

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"tradeguard/internal/application/port"
	"tradeguard/internal/domain/model"

	"github.com/redis/go-redis/v9"
)

// Repo publishes status snapshots and journal events to Redis. It implements
// both port.Sink and port.Repository.
type Repo struct {
	rdb        *redis.Client
	prefix     string
	ttl        time.Duration
	keyStatus  string // prefix + ":status"
	eventsChan string
}

// Event is the message published on the events channel.
type Event struct {
	Type string `json:"type"` // trade_open | trade_update | divergence | halt
	TsMs int64  `json:"ts_ms"`
	Data any    `json:"data"`
}

func New(rdb *redis.Client, prefix string, ttl time.Duration, eventsChan string) *Repo {
	if strings.TrimSpace(eventsChan) == "" {
		eventsChan = prefix + ":events"
	}
	return &Repo{
		rdb:        rdb,
		prefix:     prefix,
		ttl:        ttl,
		keyStatus:  prefix + ":status",
		eventsChan: eventsChan,
	}
}

// StatusFields flattens a status snapshot into hash fields.
func StatusFields(s port.Status) map[string]any {
	degraded, sim := "0", "0"
	if s.Degraded {
		degraded = "1"
	}
	if s.Simulation {
		sim = "1"
	}
	return map[string]any{
		"state":          s.State,
		"halt_reason":    s.HaltReason,
		"open_positions": s.OpenPositions,
		"trade_count":    s.TradeCount,
		"equity":         s.Equity,
		"peak_equity":    s.PeakEquity,
		"drawdown":       s.Drawdown,
		"degraded":       degraded,
		"simulation":     sim,
		"divergences":    s.Divergences,
		"cycles":         s.Cycles,
		"updated_at_ms":  s.UpdatedAt,
	}
}

func (r *Repo) PublishStatus(ctx context.Context, s port.Status) error {
	pipe := r.rdb.Pipeline()
	pipe.HSet(ctx, r.keyStatus, StatusFields(s))
	if r.ttl > 0 {
		pipe.Expire(ctx, r.keyStatus, r.ttl)
	}
	_, err := pipe.Exec(ctx)
	return err
}

func (r *Repo) publish(ctx context.Context, typ string, ts time.Time, data any) error {
	b, err := json.Marshal(Event{Type: typ, TsMs: ts.UnixMilli(), Data: data})
	if err != nil {
		return err
	}
	return r.rdb.Publish(ctx, r.eventsChan, string(b)).Err()
}

func (r *Repo) InsertTrade(ctx context.Context, t model.TradeRecord) error {
	return r.publish(ctx, "trade_open", t.EntryTime, t)
}

func (r *Repo) UpdateTrade(ctx context.Context, t model.TradeRecord) error {
	ts := time.Now()
	if t.ExitTime != nil {
		ts = *t.ExitTime
	}
	return r.publish(ctx, "trade_update", ts, t)
}

func (r *Repo) InsertDivergence(ctx context.Context, d model.Divergence) error {
	return r.publish(ctx, "divergence", d.At, d)
}

func (r *Repo) InsertHalt(ctx context.Context, h port.HaltEvent) error {
	return r.publish(ctx, "halt", h.At, h)
}

// Close is a no-op; the client is owned by the container.
func (r *Repo) Close() error { return nil }

var (
	_ port.Repository = (*Repo)(nil)
	_ port.Sink       = (*Repo)(nil)
)
