package output

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
)

// Format represents the output format
type Format string

const (
	FormatJSON  Format = "json"
	FormatJSONL Format = "jsonl"
	FormatCSV   Format = "csv"
)

// Row is a record that can also be written as a CSV line.
type Row interface {
	CSVHeader() []string
	CSVRecord() []string
}

// Writer handles formatted output
type Writer struct {
	format    Format
	w         io.Writer
	csvWriter *csv.Writer
	mu        sync.Mutex
	hasHeader bool
}

// NewWriter creates a new output writer
func NewWriter(format string, w io.Writer) (*Writer, error) {
	var f Format
	switch strings.ToLower(format) {
	case "json", "":
		f = FormatJSON
	case "jsonl", "ndjson":
		f = FormatJSONL
	case "csv":
		f = FormatCSV
	default:
		return nil, fmt.Errorf("unsupported format: %s", format)
	}

	writer := &Writer{
		format: f,
		w:      w,
	}

	if f == FormatCSV {
		writer.csvWriter = csv.NewWriter(w)
	}

	return writer, nil
}

// NewStdoutWriter creates a writer for stdout
func NewStdoutWriter(format string) (*Writer, error) {
	return NewWriter(format, os.Stdout)
}

// Write writes rows in the writer's format. JSON writes one indented array
// per call; JSONL and CSV write one line per row.
func Write[T Row](w *Writer, rows []T) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	switch w.format {
	case FormatJSON:
		if rows == nil {
			rows = []T{}
		}
		encoder := json.NewEncoder(w.w)
		encoder.SetIndent("", "  ")
		return encoder.Encode(rows)

	case FormatJSONL:
		for _, r := range rows {
			data, err := json.Marshal(r)
			if err != nil {
				return err
			}
			if _, err := w.w.Write(append(data, '\n')); err != nil {
				return err
			}
		}
		return nil

	case FormatCSV:
		for _, r := range rows {
			if !w.hasHeader {
				if err := w.csvWriter.Write(r.CSVHeader()); err != nil {
					return err
				}
				w.hasHeader = true
			}
			if err := w.csvWriter.Write(r.CSVRecord()); err != nil {
				return err
			}
		}
		return w.csvWriter.Error()

	default:
		return fmt.Errorf("unsupported format: %s", w.format)
	}
}

// Flush flushes any buffered data
func (w *Writer) Flush() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.csvWriter != nil {
		w.csvWriter.Flush()
		return w.csvWriter.Error()
	}
	return nil
}
