package signal

import (
	"context"
	"errors"
	"fmt"

	"tradeguard/internal/application/port"
	"tradeguard/internal/domain/model"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// RedisSource reads signals from a Redis stream. Each entry carries the JSON
// signal in its "payload" field.
type RedisSource struct {
	rdb    *redis.Client
	stream string
	cursor Cursor
	lastID string
	count  int64
}

var _ port.SignalSource = (*RedisSource)(nil)

func NewRedisSource(rdb *redis.Client, stream string, cursor Cursor) *RedisSource {
	if cursor == nil {
		cursor = &MemoryCursor{}
	}
	return &RedisSource{
		rdb:    rdb,
		stream: stream,
		cursor: cursor,
		lastID: cursor.Load(),
		count:  100,
	}
}

// start positions a fresh source after the newest entry so history is not
// replayed.
func (s *RedisSource) start(ctx context.Context) error {
	msgs, err := s.rdb.XRevRangeN(ctx, s.stream, "+", "-", 1).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return err
	}
	s.lastID = "0"
	if len(msgs) > 0 {
		s.lastID = msgs[0].ID
	}
	return nil
}

func (s *RedisSource) Poll(ctx context.Context) ([]model.Signal, error) {
	if s.lastID == "" {
		if err := s.start(ctx); err != nil {
			return nil, model.Transient("xrevrange", err)
		}
	}

	res, err := s.rdb.XRead(ctx, &redis.XReadArgs{
		Streams: []string{s.stream, s.lastID},
		Count:   s.count,
		Block:   -1,
	}).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, model.Transient("xread", err)
	}

	prev := s.lastID
	var out []model.Signal
	for _, st := range res {
		for _, msg := range st.Messages {
			s.lastID = msg.ID
			sig, err := SignalFromValues(msg.Values)
			if err != nil {
				log.Warn().Err(err).Str("stream", s.stream).Str("id", msg.ID).Msg("malformed signal skipped")
				continue
			}
			if sig.ID == "" {
				sig.ID = msg.ID
			}
			out = append(out, sig)
		}
	}
	if s.lastID != prev {
		if err := s.cursor.Save(ctx, s.lastID); err != nil {
			log.Warn().Err(err).Msg("signal cursor save failed")
		}
	}
	return out, nil
}

func (s *RedisSource) Close() error { return nil }

// SignalFromValues decodes the "payload" field of a stream entry.
func SignalFromValues(values map[string]any) (model.Signal, error) {
	raw, ok := values["payload"]
	if !ok {
		return model.Signal{}, errors.New("stream entry has no payload field")
	}
	var b []byte
	switch v := raw.(type) {
	case string:
		b = []byte(v)
	case []byte:
		b = v
	default:
		return model.Signal{}, fmt.Errorf("payload has type %T", raw)
	}
	return DecodeSignal(b)
}
