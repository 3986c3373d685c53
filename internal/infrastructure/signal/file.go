package signal

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"

	"tradeguard/internal/application/port"
	"tradeguard/internal/domain/model"

	"github.com/rs/zerolog/log"
)

// FileSource reads newline-delimited JSON signals appended to a file. Only
// complete lines are consumed; a partially written last line waits for the
// next poll.
type FileSource struct {
	path   string
	cursor Cursor
	offset int64
}

var _ port.SignalSource = (*FileSource)(nil)

func NewFileSource(path string, cursor Cursor) *FileSource {
	if cursor == nil {
		cursor = &MemoryCursor{}
	}
	f := &FileSource{path: path, cursor: cursor}
	if n, err := strconv.ParseInt(cursor.Load(), 10, 64); err == nil && n > 0 {
		f.offset = n
	}
	return f
}

func (f *FileSource) Poll(ctx context.Context) ([]model.Signal, error) {
	fh, err := os.Open(f.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, model.Transient("read signals", err)
	}
	defer fh.Close()

	st, err := fh.Stat()
	if err != nil {
		return nil, model.Transient("read signals", err)
	}
	if st.Size() < f.offset {
		log.Warn().Str("path", f.path).Int64("offset", f.offset).Int64("size", st.Size()).Msg("signal file truncated, rewinding")
		f.offset = 0
	}
	if _, err := fh.Seek(f.offset, io.SeekStart); err != nil {
		return nil, model.Transient("read signals", err)
	}
	data, err := io.ReadAll(fh)
	if err != nil {
		return nil, model.Transient("read signals", err)
	}

	var out []model.Signal
	pos := f.offset
	for {
		i := bytes.IndexByte(data, '\n')
		if i < 0 {
			break
		}
		line := bytes.TrimSpace(data[:i])
		lineStart := pos
		data = data[i+1:]
		pos += int64(i + 1)
		if len(line) == 0 {
			continue
		}
		sig, err := DecodeSignal(line)
		if err != nil {
			log.Warn().Err(err).Str("path", f.path).Int64("offset", lineStart).Msg("malformed signal skipped")
			continue
		}
		if sig.ID == "" {
			sig.ID = LineID(line)
		}
		out = append(out, sig)
	}

	if pos != f.offset {
		f.offset = pos
		if err := f.cursor.Save(ctx, strconv.FormatInt(pos, 10)); err != nil {
			log.Warn().Err(err).Msg("signal cursor save failed")
		}
	}
	return out, nil
}

func (f *FileSource) Close() error { return nil }

// LineID names a signal that carries no id by its content, so the name stays
// stable across restarts and does not repeat after the file is rotated.
func LineID(line []byte) string {
	sum := sha256.Sum256(bytes.TrimSpace(line))
	return "file:" + hex.EncodeToString(sum[:8])
}

// DecodeSignal parses one JSON signal. Unknown fields are rejected.
func DecodeSignal(b []byte) (model.Signal, error) {
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.DisallowUnknownFields()
	var s model.Signal
	if err := dec.Decode(&s); err != nil {
		return model.Signal{}, fmt.Errorf("decode signal: %w", err)
	}
	if dec.More() {
		return model.Signal{}, errors.New("decode signal: trailing data")
	}
	return s, nil
}
