// internal/output/jsonl.go
// JSON Lines output formatter

package output

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/aspnmy/mirapipe/internal/models"
)

// JSONLFormatter writes one line per finished port followed by a report line
type JSONLFormatter struct {
	encoder *json.Encoder
	closer  io.Closer
	buffer  *bufio.Writer
	mu      sync.Mutex
}

// NewJSONLFormatter writes to w, os.Stdout when nil
func NewJSONLFormatter(w io.Writer) *JSONLFormatter {
	if w == nil {
		w = os.Stdout
	}
	buffer := bufio.NewWriter(w)
	return &JSONLFormatter{
		encoder: json.NewEncoder(buffer),
		buffer:  buffer,
	}
}

// NewJSONLFileFormatter creates filename and writes to it
func NewJSONLFileFormatter(filename string) (*JSONLFormatter, error) {
	file, err := createFile(filename)
	if err != nil {
		return nil, err
	}

	f := NewJSONLFormatter(file)
	f.buffer = bufio.NewWriterSize(file, 64*1024) // 64KB buffer
	f.encoder = json.NewEncoder(f.buffer)
	f.closer = file
	return f, nil
}

// Write writes a single result
func (f *JSONLFormatter) Write(result *models.ProbeResult) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.encoder.Encode(newResultRecord(result))
}

// WriteReport writes the summary line
func (f *JSONLFormatter) WriteReport(report *models.ScanReport) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.encoder.Encode(newReportRecord(report, false))
}

// Flush flushes the buffer
func (f *JSONLFormatter) Flush() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.buffer.Flush()
}

// Close flushes and closes the file, if the formatter owns one
func (f *JSONLFormatter) Close() error {
	err := f.Flush()
	if f.closer != nil {
		if cerr := f.closer.Close(); err == nil {
			err = cerr
		}
	}
	return err
}

func createFile(filename string) (*os.File, error) {
	// Ensure directory exists
	dir := filepath.Dir(filename)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, err
		}
	}

	file, err := os.Create(filename)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrOutputFileNotWritable, err)
	}
	return file, nil
}
