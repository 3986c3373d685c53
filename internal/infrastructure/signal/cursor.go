package signal

import (
	"context"
	"sync"

	"tradeguard/internal/domain/model"
)

// Cursor remembers how far a source has read so signals are not replayed
// after a restart.
type Cursor interface {
	Load() string
	Save(ctx context.Context, v string) error
}

// metadataStore is the subset of the ledger store a MetadataCursor needs.
type metadataStore interface {
	Metadata(key string) (model.Value, bool)
	SetMetadata(ctx context.Context, key string, v model.Value) error
}

// MetadataCursor keeps the cursor in ledger metadata under Key.
type MetadataCursor struct {
	Store metadataStore
	Key   string
}

func (c MetadataCursor) Load() string {
	v, ok := c.Store.Metadata(c.Key)
	if !ok {
		return ""
	}
	s, _ := v.AsString()
	return s
}

func (c MetadataCursor) Save(ctx context.Context, v string) error {
	return c.Store.SetMetadata(ctx, c.Key, model.String(v))
}

// MemoryCursor is a process-local cursor.
type MemoryCursor struct {
	mu sync.Mutex
	v  string
}

func (c *MemoryCursor) Load() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.v
}

func (c *MemoryCursor) Save(_ context.Context, v string) error {
	c.mu.Lock()
	c.v = v
	c.mu.Unlock()
	return nil
}
