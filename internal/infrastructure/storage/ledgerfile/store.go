package ledgerfile

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"tradeguard/internal/domain/model"
	"tradeguard/internal/infrastructure/metrics"
)

const (
	DefaultBackups     = 5
	DefaultLockTimeout = 10 * time.Second
)

// replaced in tests to simulate a failing disk
var renameFile = os.Rename

// Options configures a Store.
type Options struct {
	Path        string
	Backups     int
	LockTimeout time.Duration
	Now         func() time.Time
}

// Store owns the in-memory Ledger of the trading process and writes it through
// to disk on every mutation. Each mutation re-reads the file under the
// advisory lock, so changes written by another process are not lost.
type Store struct {
	mu sync.Mutex

	path        string
	backups     int
	lockTimeout time.Duration
	now         func() time.Time
	lock        *FileLock

	ledger   *model.Ledger
	dirty    bool
	degraded bool
	lastErr  error
}

// Open loads the ledger at opts.Path. A ledger that cannot be recovered from
// the primary file or any backup is reset to empty; the unreadable file is
// kept aside as <path>.corrupt-<unix> for manual inspection.
func Open(ctx context.Context, opts Options) (*Store, error) {
	if opts.Path == "" {
		return nil, errors.New("ledger path is empty")
	}
	if opts.Backups <= 0 {
		opts.Backups = DefaultBackups
	}
	if opts.LockTimeout <= 0 {
		opts.LockTimeout = DefaultLockTimeout
	}
	if opts.Now == nil {
		opts.Now = func() time.Time { return time.Now().UTC() }
	}
	if dir := filepath.Dir(opts.Path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create state dir: %w", err)
		}
	}

	s := &Store{
		path:        opts.Path,
		backups:     opts.Backups,
		lockTimeout: opts.LockTimeout,
		now:         opts.Now,
		lock:        NewFileLock(opts.Path + ".lock"),
	}

	l, err := load(opts.Path, opts.Backups, opts.Now)
	switch {
	case err == nil:
		s.ledger = l
	case errors.Is(err, model.ErrStateCorruption):
		aside := fmt.Sprintf("%s.corrupt-%d", opts.Path, s.now().Unix())
		if rerr := os.Rename(opts.Path, aside); rerr != nil && !errors.Is(rerr, os.ErrNotExist) {
			log.Error().Err(rerr).Str("path", opts.Path).Msg("could not move corrupt ledger aside")
		}
		log.Error().Err(err).
			Str("path", opts.Path).
			Str("moved_to", aside).
			Msg("LEDGER UNRECOVERABLE: no valid primary or backup, starting from an empty ledger")
		s.ledger = model.NewLedger(s.now())
		if err := s.persist(ctx); err != nil {
			return nil, fmt.Errorf("write reset ledger: %w", err)
		}
	default:
		return nil, err
	}
	return s, nil
}

// Load reads the ledger at path, falling back to path.bak1..bakN (newest
// first). A missing primary with no backups yields a fresh empty ledger.
func Load(path string, backups int) (*model.Ledger, error) {
	return load(path, backups, func() time.Time { return time.Now().UTC() })
}

func load(path string, backups int, now func() time.Time) (*model.Ledger, error) {
	l, err := readLedger(path)
	if err == nil {
		return l, nil
	}
	primaryMissing := errors.Is(err, os.ErrNotExist)
	firstErr := err

	found := false
	for i := 1; i <= backups; i++ {
		bp := backupPath(path, i)
		bl, berr := readLedger(bp)
		if berr == nil {
			log.Warn().Err(firstErr).
				Str("path", path).
				Str("backup", bp).
				Msg("primary ledger unreadable, recovered from backup")
			return bl, nil
		}
		if errors.Is(berr, os.ErrNotExist) {
			continue
		}
		found = true
		log.Warn().Err(berr).Str("backup", bp).Msg("backup ledger unreadable")
	}

	if primaryMissing && !found {
		return model.NewLedger(now()), nil
	}
	return nil, &model.StateCorruptionError{Path: path, Err: firstErr}
}

func readLedger(path string) (*model.Ledger, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Decode(raw)
}

// Decode parses ledger file bytes strictly.
func Decode(raw []byte) (*model.Ledger, error) {
	var v model.Value
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, fmt.Errorf("parse ledger: %w", err)
	}
	return DecodeLedger(v)
}

// Encode renders a ledger as indented JSON.
func Encode(l *model.Ledger) ([]byte, error) {
	raw, err := EncodeLedger(l).MarshalJSON()
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := json.Indent(&buf, raw, "", "  "); err != nil {
		return nil, err
	}
	buf.WriteByte('\n')
	return buf.Bytes(), nil
}

func backupPath(path string, n int) string {
	return fmt.Sprintf("%s.bak%d", path, n)
}

// Save writes l to path atomically: the data is fsynced to a temp file in the
// same directory, the current file is linked into .bak1 after shifting older
// backups up one slot, then the temp file is renamed over path. path exists at
// every step, so a crash never leaves the ledger missing or torn.
func Save(path string, backups int, l *model.Ledger) error {
	data, err := Encode(l)
	if err != nil {
		return fmt.Errorf("encode ledger: %w", err)
	}

	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp ledger: %w", err)
	}
	tmpName := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpName) }

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("write temp ledger: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("fsync temp ledger: %w", err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return err
	}

	if err := rotateBackups(path, backups); err != nil {
		log.Warn().Err(err).Str("path", path).Msg("ledger backup rotation failed")
	}

	if err := renameFile(tmpName, path); err != nil {
		cleanup()
		return fmt.Errorf("rename ledger: %w", err)
	}
	syncDir(dir)
	return nil
}

func rotateBackups(path string, backups int) error {
	if backups <= 0 {
		return nil
	}
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return err
	}
	_ = os.Remove(backupPath(path, backups))
	for i := backups - 1; i >= 1; i-- {
		if err := os.Rename(backupPath(path, i), backupPath(path, i+1)); err != nil && !errors.Is(err, os.ErrNotExist) {
			return err
		}
	}
	if err := os.Link(path, backupPath(path, 1)); err != nil {
		return copyFile(path, backupPath(path, 1))
	}
	return nil
}

func copyFile(src, dst string) error {
	data, err := os.ReadFile(src)
	if err != nil {
		return err
	}
	return os.WriteFile(dst, data, 0o644)
}

func syncDir(dir string) {
	d, err := os.Open(dir)
	if err != nil {
		return
	}
	_ = d.Sync()
	_ = d.Close()
}

func (s *Store) release() {
	if err := s.lock.Release(); err != nil {
		log.Warn().Err(err).Msg("release ledger lock failed")
	}
}

// persist writes the current ledger under the advisory lock, replacing what
// is on disk. Callers hold s.mu.
func (s *Store) persist(ctx context.Context) error {
	if err := s.lock.Acquire(ctx, s.lockTimeout); err != nil {
		return err
	}
	defer s.release()
	return Save(s.path, s.backups, s.ledger)
}

// reload adopts the ledger on disk. Unsaved local changes take precedence and
// are written by the mutation in progress. Callers hold s.mu and the file lock.
func (s *Store) reload() {
	if s.dirty {
		return
	}
	if _, err := os.Stat(s.path); errors.Is(err, os.ErrNotExist) {
		return
	}
	l, err := load(s.path, s.backups, s.now)
	if err != nil {
		log.Warn().Err(err).Str("path", s.path).Msg("ledger re-read failed, mutating in-memory copy")
		return
	}
	s.ledger = l
}

// Update loads the ledger from disk, applies fn and writes the result, all
// under the advisory lock. fn errors leave the ledger untouched. A failed lock
// or write is not returned: the change stays in memory, the store is marked
// degraded and the next mutation retries.
func (s *Store) Update(ctx context.Context, fn func(l *model.Ledger) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	lockErr := s.lock.Acquire(ctx, s.lockTimeout)
	if lockErr == nil {
		defer s.release()
		s.reload()
	}

	work := s.ledger.Clone()
	if err := fn(work); err != nil {
		return err
	}
	work.LastUpdated = s.now()
	s.ledger = work
	s.dirty = true

	if lockErr != nil {
		s.settle(lockErr)
		return nil
	}
	s.settle(Save(s.path, s.backups, s.ledger))
	return nil
}

func (s *Store) flush(ctx context.Context) {
	s.settle(s.persist(ctx))
}

// settle records the outcome of a write.
func (s *Store) settle(err error) {
	if err != nil {
		s.lastErr = err
		if !s.degraded {
			log.Error().Err(err).Str("path", s.path).Msg("ledger save failed, continuing in degraded mode")
		} else {
			log.Warn().Err(err).Str("path", s.path).Msg("ledger save retry failed")
		}
		s.degraded = true
		metrics.LedgerSaveFailures.Inc()
		metrics.Degraded.Set(1)
		return
	}
	if s.degraded {
		log.Info().Str("path", s.path).Msg("ledger save recovered")
	}
	s.dirty = false
	s.degraded = false
	s.lastErr = nil
	metrics.Degraded.Set(0)
}

// RetryPending rewrites the ledger if an earlier write failed. It reports
// whether the store is clean afterwards.
func (s *Store) RetryPending(ctx context.Context) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.dirty {
		s.flush(ctx)
	}
	return !s.dirty
}

// AppendTrade adds a record to the history.
func (s *Store) AppendTrade(ctx context.Context, t model.TradeRecord) error {
	return s.Update(ctx, func(l *model.Ledger) error {
		if t.ID != "" && l.TradeIndex(t.ID) >= 0 {
			return fmt.Errorf("trade %s already recorded", t.ID)
		}
		l.History = append(l.History, t)
		return nil
	})
}

// UpsertPosition inserts or replaces the position for p.Symbol.
func (s *Store) UpsertPosition(ctx context.Context, p model.Position) error {
	if p.Symbol == "" {
		return errors.New("position symbol is empty")
	}
	return s.Update(ctx, func(l *model.Ledger) error {
		l.Positions[p.Symbol] = p
		return nil
	})
}

// RemovePosition marks the position CLOSED. Positions are retained.
func (s *Store) RemovePosition(ctx context.Context, symbol string) error {
	return s.Update(ctx, func(l *model.Ledger) error {
		p, ok := l.Positions[symbol]
		if !ok {
			return fmt.Errorf("no position for %s", symbol)
		}
		p.Status = model.StatusClosed
		l.Positions[symbol] = p
		return nil
	})
}

// UpdateTradeStatus sets the status and, once, the exit fields of a trade.
func (s *Store) UpdateTradeStatus(ctx context.Context, id string, status model.Status, exitPrice *float64, exitTime *time.Time, pnl *float64) error {
	if !status.Valid() {
		return fmt.Errorf("invalid status %q", status)
	}
	return s.Update(ctx, func(l *model.Ledger) error {
		return l.SetTradeStatus(id, status, exitPrice, exitTime, pnl)
	})
}

func (s *Store) SetStartingBalance(ctx context.Context, equity float64) error {
	return s.Update(ctx, func(l *model.Ledger) error {
		l.StartingEquity = equity
		return nil
	})
}

func (s *Store) SetMetadata(ctx context.Context, key string, v model.Value) error {
	return s.Update(ctx, func(l *model.Ledger) error {
		l.Metadata[key] = v.Clone()
		return nil
	})
}

func (s *Store) Metadata(key string) (model.Value, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.ledger.Metadata[key]
	return v.Clone(), ok
}

// Reset replaces the ledger with an empty one. It refuses unless confirm is set.
func (s *Store) Reset(ctx context.Context, confirm bool) error {
	if !confirm {
		return errors.New("reset refused: confirmation required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	log.Warn().Str("path", s.path).Int("trades", len(s.ledger.History)).Msg("resetting ledger")
	s.ledger = model.NewLedger(s.now())
	s.dirty = true
	s.flush(ctx)
	return s.lastErr
}

// ForceSave writes the ledger even if nothing changed and reports the result.
func (s *Store) ForceSave(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dirty = true
	s.flush(ctx)
	return s.lastErr
}

// Snapshot returns a deep copy of the current ledger.
func (s *Store) Snapshot() *model.Ledger {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ledger.Clone()
}

// Degraded reports whether the last write failed and changes are pending.
func (s *Store) Degraded() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.degraded
}

func (s *Store) Path() string { return s.path }

// Stats summarises the ledger.
type Stats struct {
	TotalTrades     int       `json:"total_trades"`
	OpenPositions   int       `json:"open_positions"`
	SessionStart    time.Time `json:"session_start"`
	LastUpdated     time.Time `json:"last_updated"`
	StartingBalance float64   `json:"starting_balance"`
	Degraded        bool      `json:"degraded"`
}

func StatsOf(l *model.Ledger) Stats {
	return Stats{
		TotalTrades:     len(l.History),
		OpenPositions:   len(l.OpenPositions()),
		SessionStart:    l.SessionStart,
		LastUpdated:     l.LastUpdated,
		StartingBalance: l.StartingEquity,
	}
}

func (s *Store) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := StatsOf(s.ledger)
	st.Degraded = s.degraded
	return st
}
