package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
)

// JSONLWriter appends one JSON object per result to a file.
type JSONLWriter struct {
	mu  sync.Mutex
	w   io.Writer
	c   io.Closer
	enc *json.Encoder
}

// OpenJSONL opens path for appending, creating it and its directory.
func OpenJSONL(path string) (*JSONLWriter, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("OpenJSONL: %w", err)
		}
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("OpenJSONL: %w", err)
	}
	w := NewJSONLWriter(f)
	w.c = f
	return w, nil
}

// NewJSONLWriter writes to w. Close does not close w.
func NewJSONLWriter(w io.Writer) *JSONLWriter {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	return &JSONLWriter{w: w, enc: enc}
}

func (w *JSONLWriter) Write(_ context.Context, r *Record) error {
	line := previewed(r)

	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.enc.Encode(line); err != nil {
		return fmt.Errorf("JSONLWriter.Write %s: %w", r.TestID, err)
	}
	return nil
}

func (w *JSONLWriter) Close() error {
	if w.c == nil {
		return nil
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.c.Close()
}
