package storage

import (
	"context"
	"errors"
)

// MultiWriter fans each record out to every writer.
type MultiWriter struct {
	writers []ResultWriter
}

// NewMultiWriter returns a writer over ws. Nil entries are skipped.
func NewMultiWriter(ws ...ResultWriter) *MultiWriter {
	m := &MultiWriter{}
	for _, w := range ws {
		if w != nil {
			m.writers = append(m.writers, w)
		}
	}
	return m
}

// Write writes to all sinks, even after one fails, and joins the errors.
func (m *MultiWriter) Write(ctx context.Context, r *Record) error {
	var errs []error
	for _, w := range m.writers {
		if err := w.Write(ctx, r); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m *MultiWriter) Close() error {
	var errs []error
	for _, w := range m.writers {
		if err := w.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
