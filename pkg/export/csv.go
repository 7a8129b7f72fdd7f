package export

import (
	"encoding/csv"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"time"

	"github.com/pvsim/pvsim/core/model"
)

// Header is the fixed column layout of the output file.
var Header = []string{"time", "meter", "pv", "residual load"}

// CSVWriter writes one row per subscriber tick. Every row is flushed
// immediately so a crash loses at most the row being written.
type CSVWriter struct {
	w      *csv.Writer
	closer io.Closer
}

// NewCSVWriter writes rows to w, starting with the header.
func NewCSVWriter(w io.Writer) (*CSVWriter, error) {
	cw := &CSVWriter{w: csv.NewWriter(w)}
	if err := cw.writeHeader(); err != nil {
		return nil, err
	}
	return cw, nil
}

// OpenFile opens path for appending, creating it if needed. The header is
// written only when the file is empty, so restarting after a crash never
// corrupts rows already on disk.
func OpenFile(path string) (*CSVWriter, error) {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open output file: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("stat output file: %w", err)
	}
	cw := &CSVWriter{w: csv.NewWriter(f), closer: f}
	if info.Size() == 0 {
		if err := cw.writeHeader(); err != nil {
			_ = f.Close()
			return nil, err
		}
	}
	return cw, nil
}

func (c *CSVWriter) writeHeader() error {
	if err := c.w.Write(Header); err != nil {
		return err
	}
	c.w.Flush()
	return c.w.Error()
}

// WriteRow appends one row and flushes it.
func (c *CSVWriter) WriteRow(row model.Row) error {
	rec := []string{
		row.Time.Format(time.RFC3339),
		formatValue(row.Meter),
		formatValue(row.PV),
		formatValue(row.Residual),
	}
	if err := c.w.Write(rec); err != nil {
		return err
	}
	c.w.Flush()
	return c.w.Error()
}

// Close flushes buffered rows and closes the underlying file, if any.
func (c *CSVWriter) Close() error {
	c.w.Flush()
	err := c.w.Error()
	if c.closer != nil {
		if cerr := c.closer.Close(); err == nil {
			err = cerr
		}
	}
	return err
}

// formatValue renders a float with enough precision to round-trip; missing
// values become an explicit NaN marker instead of an empty field.
func formatValue(v float64) string {
	if math.IsNaN(v) {
		return "NaN"
	}
	return strconv.FormatFloat(v, 'g', -1, 64)
}
