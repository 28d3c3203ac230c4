// internal/output/json.go
// Single JSON document output formatter

package output

import (
	"encoding/json"
	"io"
	"os"
	"sync"

	"github.com/aspnmy/mirapipe/internal/models"
)

// JSONFormatter writes the final report as one indented JSON document.
// Per-port results are not streamed.
type JSONFormatter struct {
	writer io.Writer
	closer io.Closer
	mu     sync.Mutex
}

// NewJSONFormatter writes to w, os.Stdout when nil
func NewJSONFormatter(w io.Writer) *JSONFormatter {
	if w == nil {
		w = os.Stdout
	}
	return &JSONFormatter{writer: w}
}

// NewJSONFileFormatter creates filename and writes to it
func NewJSONFileFormatter(filename string) (*JSONFormatter, error) {
	file, err := createFile(filename)
	if err != nil {
		return nil, err
	}
	return &JSONFormatter{writer: file, closer: file}, nil
}

// Write is a no-op
func (f *JSONFormatter) Write(*models.ProbeResult) error {
	return nil
}

// WriteReport encodes the report, closed ports included
func (f *JSONFormatter) WriteReport(report *models.ScanReport) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	encoder := json.NewEncoder(f.writer)
	encoder.SetIndent("", "  ")
	return encoder.Encode(newReportRecord(report, true))
}

// Flush is a no-op
func (f *JSONFormatter) Flush() error {
	return nil
}

// Close closes the file, if the formatter owns one
func (f *JSONFormatter) Close() error {
	if f.closer == nil {
		return nil
	}
	return f.closer.Close()
}
