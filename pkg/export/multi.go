package export

import "github.com/pvsim/pvsim/core/model"

// RowWriter consumes one output row at a time. CSVWriter implements it.
type RowWriter interface {
	WriteRow(row model.Row) error
}

// MultiWriter fans every row out to all wrapped writers. The first error
// stops the fan-out and is returned.
type MultiWriter struct {
	writers []RowWriter
}

// NewMultiWriter wraps the given writers.
func NewMultiWriter(writers ...RowWriter) *MultiWriter {
	return &MultiWriter{writers: writers}
}

// WriteRow writes the row to every writer in order.
func (m *MultiWriter) WriteRow(row model.Row) error {
	for _, w := range m.writers {
		if err := w.WriteRow(row); err != nil {
			return err
		}
	}
	return nil
}
