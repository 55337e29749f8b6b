// Package output renders crawl reports.
package output

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/PentesterFlow/PoliteCrawler/internal/stats"
)

// Writer defines the interface for report writers.
type Writer interface {
	// WriteReport renders one report.
	WriteReport(report stats.Report) error

	// Close closes the underlying writer when it is an io.Closer.
	Close() error
}

// Config holds output configuration.
type Config struct {
	Format Format
	Pretty bool
}

// NewWriter creates a report writer for the configured format.
func NewWriter(w io.Writer, config Config) Writer {
	switch config.Format {
	case FormatJSON:
		return NewJSONWriter(w, config.Pretty)
	default:
		return NewTextWriter(w)
	}
}

// WriteFile renders report to path, replacing any existing file.
func WriteFile(path string, config Config, report stats.Report) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create report directory: %w", err)
	}

	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create report: %w", err)
	}

	w := NewWriter(file, config)
	if err := w.WriteReport(report); err != nil {
		w.Close()
		return fmt.Errorf("failed to write report: %w", err)
	}
	return w.Close()
}
