package history

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/klauspost/compress/zstd"
	"github.com/rs/zerolog/log"
)

// FileLog stores history as a sequence of zstd frames, one JSON entry per
// frame. Concatenated frames form a valid zstd stream, so appending never
// rewrites existing data and the file can be read with `zstd -dc`.
type FileLog struct {
	mu   sync.Mutex
	path string
	enc  *zstd.Encoder
}

// NewFileLog opens (or prepares to create) a history file at path.
func NewFileLog(path string) (*FileLog, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("create history directory: %w", err)
	}
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, fmt.Errorf("create zstd encoder: %w", err)
	}
	return &FileLog{path: path, enc: enc}, nil
}

// Path returns the history file location.
func (f *FileLog) Path() string { return f.path }

func (f *FileLog) Append(ctx context.Context, e Entry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal history entry: %w", err)
	}
	data = append(data, '\n')

	f.mu.Lock()
	defer f.mu.Unlock()

	frame := f.enc.EncodeAll(data, nil)

	file, err := os.OpenFile(f.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return fmt.Errorf("open history file: %w", err)
	}
	if _, err := file.Write(frame); err != nil {
		file.Close()
		return fmt.Errorf("write history entry: %w", err)
	}
	if err := file.Close(); err != nil {
		return fmt.Errorf("close history file: %w", err)
	}

	log.Debug().
		Str("jobId", e.JobID).
		Int("raw_bytes", len(data)).
		Int("compressed_bytes", len(frame)).
		Msg("History entry appended")
	return nil
}

func (f *FileLog) List(ctx context.Context, limit int) ([]Entry, error) {
	entries, err := f.readAll(ctx)
	if err != nil {
		return nil, err
	}
	return newestFirst(entries, limit), nil
}

func (f *FileLog) Get(ctx context.Context, jobID string) (*Entry, error) {
	entries, err := f.readAll(ctx)
	if err != nil {
		return nil, err
	}
	return findLatest(entries, jobID), nil
}

// readAll decodes every entry. A missing file is an empty history. A
// corrupt tail (for example a write cut short) is logged and the entries
// before it are returned.
func (f *FileLog) readAll(ctx context.Context) ([]Entry, error) {
	f.mu.Lock()
	raw, err := os.ReadFile(f.path)
	f.mu.Unlock()
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read history file: %w", err)
	}

	dec, err := zstd.NewReader(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("create zstd decoder: %w", err)
	}
	defer dec.Close()

	var entries []Entry
	jd := json.NewDecoder(dec)
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		var e Entry
		err := jd.Decode(&e)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			log.Warn().Err(err).Str("path", f.path).Int("recovered", len(entries)).Msg("History file has a corrupt tail")
			break
		}
		entries = append(entries, e)
	}
	return entries, nil
}

// Close releases the encoder.
func (f *FileLog) Close() error {
	return f.enc.Close()
}
