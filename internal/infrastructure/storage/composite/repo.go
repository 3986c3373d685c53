package composite

import (
	"context"

	"tradeguard/internal/application/port"
	"tradeguard/internal/domain/model"
)

// Repo fans every journal call out to all repos and returns the first error.
type Repo struct {
	repos []port.Repository
}

func New(repos ...port.Repository) *Repo {
	// nil repos are allowed; filter in constructor for safety
	out := make([]port.Repository, 0, len(repos))
	for _, r := range repos {
		if r != nil {
			out = append(out, r)
		}
	}
	return &Repo{repos: out}
}

func (r *Repo) each(fn func(port.Repository) error) error {
	var firstErr error
	for _, repo := range r.repos {
		if err := fn(repo); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (r *Repo) InsertTrade(ctx context.Context, t model.TradeRecord) error {
	return r.each(func(p port.Repository) error { return p.InsertTrade(ctx, t) })
}

func (r *Repo) UpdateTrade(ctx context.Context, t model.TradeRecord) error {
	return r.each(func(p port.Repository) error { return p.UpdateTrade(ctx, t) })
}

func (r *Repo) InsertDivergence(ctx context.Context, d model.Divergence) error {
	return r.each(func(p port.Repository) error { return p.InsertDivergence(ctx, d) })
}

func (r *Repo) InsertHalt(ctx context.Context, h port.HaltEvent) error {
	return r.each(func(p port.Repository) error { return p.InsertHalt(ctx, h) })
}

func (r *Repo) Close() error {
	return r.each(func(p port.Repository) error { return p.Close() })
}

// Sinks fans status snapshots out to several sinks.
type Sinks []port.Sink

func (s Sinks) PublishStatus(ctx context.Context, st port.Status) error {
	var firstErr error
	for _, sink := range s {
		if sink == nil {
			continue
		}
		if err := sink.PublishStatus(ctx, st); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

var (
	_ port.Repository = (*Repo)(nil)
	_ port.Sink       = Sinks(nil)
)
