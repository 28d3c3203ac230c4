// internal/output/interface.go
// Output formatter interfaces

package output

import (
	"errors"
	"fmt"
	"io"

	"github.com/aspnmy/mirapipe/internal/models"
)

// Formatter is the base interface for all output formatters
type Formatter interface {
	// Write receives one per-port result while the scan is running. It is
	// called from many goroutines.
	Write(result *models.ProbeResult) error

	// WriteReport writes the final report once the scan has completed
	WriteReport(report *models.ScanReport) error

	// Flush ensures all buffered data is written
	Flush() error

	// Close closes the formatter and releases resources
	Close() error
}

// MultiFormatter allows writing to multiple formatters simultaneously
type MultiFormatter struct {
	formatters []Formatter
}

// NewMultiFormatter creates a new multi-formatter
func NewMultiFormatter(formatters ...Formatter) *MultiFormatter {
	return &MultiFormatter{formatters: formatters}
}

// Write writes to all formatters
func (m *MultiFormatter) Write(result *models.ProbeResult) error {
	for _, f := range m.formatters {
		if err := f.Write(result); err != nil {
			return err
		}
	}
	return nil
}

// WriteReport writes the report to all formatters
func (m *MultiFormatter) WriteReport(report *models.ScanReport) error {
	for _, f := range m.formatters {
		if err := f.WriteReport(report); err != nil {
			return err
		}
	}
	return nil
}

// Flush flushes all formatters
func (m *MultiFormatter) Flush() error {
	for _, f := range m.formatters {
		if err := f.Flush(); err != nil {
			return err
		}
	}
	return nil
}

// Close closes all formatters
func (m *MultiFormatter) Close() error {
	var errs []error
	for _, f := range m.formatters {
		if err := f.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Options selects and configures a formatter
type Options struct {
	Format  string // console, json, jsonl
	File    string // destination file; empty writes to Stdout
	Color   bool
	Verbose bool // console: stream every finished port
	Stdout  io.Writer
}

// New creates the formatter named by opts.Format
func New(opts Options) (Formatter, error) {
	switch opts.Format {
	case "", "console":
		return NewConsoleFormatter(opts.Stdout, opts.Color, opts.Verbose), nil
	case "json":
		if opts.File != "" {
			return NewJSONFileFormatter(opts.File)
		}
		return NewJSONFormatter(opts.Stdout), nil
	case "jsonl":
		if opts.File != "" {
			return NewJSONLFileFormatter(opts.File)
		}
		return NewJSONLFormatter(opts.Stdout), nil
	}
	return nil, fmt.Errorf("%w: %s", ErrInvalidFormat, opts.Format)
}

// Common formatter errors
var (
	ErrOutputFileNotWritable = errors.New("output file is not writable")
	ErrInvalidFormat         = errors.New("invalid output format")
)
