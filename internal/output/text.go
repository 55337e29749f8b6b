package output

import (
	"bufio"
	"fmt"
	"io"
	"sync"

	"github.com/PentesterFlow/PoliteCrawler/internal/stats"
)

// TextWriter renders reports as plain text:
//
//	visited 2 unique pages.
//
//	crawler -> 12
//	...
//
//	http://x.edu/b has the most words.
//	It has 200 words in the page.
//
//	subdomains:
//	x.edu, 2
type TextWriter struct {
	mu     sync.Mutex
	writer io.Writer
}

// NewTextWriter creates a new text writer.
func NewTextWriter(w io.Writer) *TextWriter {
	return &TextWriter{writer: w}
}

// WriteReport implements Writer.
func (t *TextWriter) WriteReport(r stats.Report) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	bw := bufio.NewWriter(t.writer)

	fmt.Fprintf(bw, "visited %d unique pages.\n\n", r.UniquePages)

	for _, wc := range r.TopWords {
		fmt.Fprintf(bw, "%s -> %d\n", wc.Word, wc.Count)
	}
	bw.WriteString("\n")

	if r.Longest.URL != "" {
		fmt.Fprintf(bw, "%s has the most words.\nIt has %d words in the page.\n\n", r.Longest.URL, r.Longest.Words)
	} else {
		bw.WriteString("no pages recorded.\n\n")
	}

	bw.WriteString("subdomains:\n")
	for _, s := range r.Subdomains {
		fmt.Fprintf(bw, "%s, %d\n", s.Host, s.Pages)
	}
	bw.WriteString("\n")

	return bw.Flush()
}

// Close closes the writer.
func (t *TextWriter) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if closer, ok := t.writer.(io.Closer); ok {
		return closer.Close()
	}
	return nil
}
