package signal

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"tradeguard/internal/domain/model"
	domain "tradeguard/internal/domain/service"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const line1 = `{"symbol":"BTCUSDT","direction":"long","entry_price":100,"stop_price":95,"target_price":110,"confidence":80,"timestamp":"2026-01-02T03:04:05Z"}`
const line3 = `{"symbol":"ETHUSDT","direction":"short","entry_price":50,"stop_price":55,"target_price":40,"confidence":60,"timestamp":"2026-01-02T04:00:00Z"}`
const line2 = `{"id":"s2","symbol":"ETHUSDT","direction":"short","entry_price":50,"stop_price":55,"target_price":40,"confidence":60,"timestamp":"2026-01-02T03:04:06Z"}`

func appendFile(t *testing.T, path, s string) {
	t.Helper()
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	require.NoError(t, err)
	_, err = f.WriteString(s)
	require.NoError(t, err)
	require.NoError(t, f.Close())
}

func TestFileSourceReadsEachLineOnce(t *testing.T) {
	path := filepath.Join(t.TempDir(), "signals.jsonl")
	cur := &MemoryCursor{}
	src := NewFileSource(path, cur)
	ctx := context.Background()

	got, err := src.Poll(ctx)
	require.NoError(t, err)
	assert.Empty(t, got)

	appendFile(t, path, line1+"\n"+`{"broken":`+"\n"+line2[:20])
	got, err = src.Poll(ctx)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "BTCUSDT", got[0].Symbol)
	assert.Equal(t, model.SideLong, got[0].Direction)
	assert.Equal(t, LineID([]byte(line1)), got[0].ID)

	appendFile(t, path, line2[20:]+"\n")
	got, err = src.Poll(ctx)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "s2", got[0].ID)

	got, err = src.Poll(ctx)
	require.NoError(t, err)
	assert.Empty(t, got)

	// a restarted source resumes from the saved cursor
	again := NewFileSource(path, cur)
	got, err = again.Poll(ctx)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestFileSourceRewindsOnTruncate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "signals.jsonl")
	src := NewFileSource(path, nil)
	dedup := domain.NewSignalDeduplicator(0, time.Now)
	ctx := context.Background()

	appendFile(t, path, line1+"\n"+line2+"\n")
	got, _ := src.Poll(ctx)
	require.Len(t, got, 2)
	for _, sig := range got {
		ok, _ := dedup.Admit(sig)
		assert.True(t, ok)
	}

	// rotated file: the new id-less line sits at offset 0 like line1 did
	require.NoError(t, os.WriteFile(path, []byte(line3+"\n"), 0o644))
	got, err := src.Poll(ctx)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "ETHUSDT", got[0].Symbol)
	assert.NotEqual(t, LineID([]byte(line1)), got[0].ID)
	ok, reason := dedup.Admit(got[0])
	assert.True(t, ok, reason)

	appendFile(t, path, line2+"\n")
	got, err = src.Poll(ctx)
	require.NoError(t, err)
	require.Len(t, got, 1)
	ok, _ = dedup.Admit(got[0])
	assert.False(t, ok, "replayed id s2 is still a duplicate")
}

func TestDecodeSignalRejectsUnknownFields(t *testing.T) {
	_, err := DecodeSignal([]byte(`{"symbol":"BTCUSDT","size":3}`))
	assert.Error(t, err)
	_, err = DecodeSignal([]byte(line1 + line1))
	assert.Error(t, err)
}

func TestSignalFromValues(t *testing.T) {
	s, err := SignalFromValues(map[string]any{"payload": line2})
	require.NoError(t, err)
	assert.Equal(t, model.SideShort, s.Direction)
	assert.Equal(t, 60.0, s.Confidence)

	_, err = SignalFromValues(map[string]any{"symbol": "BTCUSDT"})
	assert.Error(t, err)
	_, err = SignalFromValues(map[string]any{"payload": 5})
	assert.Error(t, err)
}

type metaStore map[string]model.Value

func (m metaStore) Metadata(k string) (model.Value, bool) { v, ok := m[k]; return v, ok }
func (m metaStore) SetMetadata(_ context.Context, k string, v model.Value) error {
	m[k] = v
	return nil
}

func TestMetadataCursor(t *testing.T) {
	store := metaStore{}
	c := MetadataCursor{Store: store, Key: "signals.cursor"}
	assert.Equal(t, "", c.Load())
	require.NoError(t, c.Save(context.Background(), "1700000000000-0"))
	assert.Equal(t, "1700000000000-0", c.Load())

	store["signals.cursor"] = model.Number(3)
	assert.Equal(t, "", c.Load())
}
