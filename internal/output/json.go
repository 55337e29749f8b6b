package output

import (
	"encoding/json"
	"io"
	"sync"

	"github.com/PentesterFlow/PoliteCrawler/internal/stats"
)

// JSONWriter writes reports in JSON format.
type JSONWriter struct {
	mu     sync.Mutex
	writer io.Writer
	pretty bool
	closed bool
}

// NewJSONWriter creates a new JSON writer.
func NewJSONWriter(w io.Writer, pretty bool) *JSONWriter {
	return &JSONWriter{writer: w, pretty: pretty}
}

// WriteReport implements Writer. Each report is one JSON document followed
// by a newline.
func (j *JSONWriter) WriteReport(r stats.Report) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.closed {
		return nil
	}

	if r.TopWords == nil {
		r.TopWords = []stats.WordCount{}
	}
	if r.Subdomains == nil {
		r.Subdomains = []stats.SubdomainCount{}
	}

	var data []byte
	var err error
	if j.pretty {
		data, err = json.MarshalIndent(r, "", "  ")
	} else {
		data, err = json.Marshal(r)
	}
	if err != nil {
		return err
	}

	if _, err := j.writer.Write(data); err != nil {
		return err
	}
	_, err = j.writer.Write([]byte("\n"))
	return err
}

// Close closes the writer.
func (j *JSONWriter) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.closed {
		return nil
	}
	j.closed = true

	if closer, ok := j.writer.(io.Closer); ok {
		return closer.Close()
	}
	return nil
}
