// Package progress provides progress bar display for the crawler.
package progress

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"
)

// Stats is what the display shows.
type Stats struct {
	Pending    int
	InProgress int
	Done       int
	Stored     int
	Thin       int
	Duplicates int
	Errors     int
}

// Display manages progress bar display during crawling.
type Display struct {
	mu      sync.Mutex
	out     io.Writer
	started bool
	stopped bool

	stats     Stats
	startTime time.Time
	seed      string
	lastLine  string
}

// New creates a display writing to stderr.
func New() *Display {
	return NewWithWriter(os.Stderr)
}

// NewWithWriter creates a display writing to w.
func NewWithWriter(w io.Writer) *Display {
	return &Display{out: w}
}

// Start begins the progress display.
func (d *Display) Start(seed string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.started {
		return
	}
	d.started = true
	d.startTime = time.Now()
	d.seed = seed
}

// Update redraws the progress line.
func (d *Display) Update(s Stats) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.stats = s
	if !d.started || d.stopped {
		return
	}

	total := s.Pending + s.InProgress + s.Done
	percent := 0
	if total > 0 {
		percent = s.Done * 100 / total
	}

	elapsed := time.Since(d.startTime)
	speed := float64(0)
	if elapsed.Seconds() > 0 {
		speed = float64(s.Done) / elapsed.Seconds()
	}

	barWidth := 30
	filled := percent * barWidth / 100
	bar := strings.Repeat("█", filled) + strings.Repeat("░", barWidth-filled)

	line := fmt.Sprintf("\r[%s] %3d%% | Done: %d | Pending: %d | Stored: %d | Dup: %d | Thin: %d | Err: %d | %.1f p/s | %s",
		bar, percent, s.Done, s.Pending, s.Stored, s.Duplicates, s.Thin, s.Errors, speed, formatDuration(elapsed))

	if len(line) < len(d.lastLine) {
		fmt.Fprint(d.out, "\r"+strings.Repeat(" ", len(d.lastLine)))
	}
	fmt.Fprint(d.out, line)
	d.lastLine = line
}

// Stop ends the progress line.
func (d *Display) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.stopped || !d.started {
		return
	}
	d.stopped = true
	fmt.Fprintln(d.out)
}

// PrintSummary prints a final summary after crawling.
func (d *Display) PrintSummary(w io.Writer) {
	d.mu.Lock()
	s := d.stats
	duration := time.Since(d.startTime)
	seed := d.seed
	d.mu.Unlock()

	fmt.Fprintln(w)
	fmt.Fprintln(w, "╔══════════════════════════════════════════════════════════════╗")
	fmt.Fprintln(w, "║                       Crawl Complete                         ║")
	fmt.Fprintln(w, "╚══════════════════════════════════════════════════════════════╝")
	fmt.Fprintln(w)
	fmt.Fprintf(w, "  Seed:                %s\n", truncateURL(seed, 50))
	fmt.Fprintf(w, "  Duration:            %s\n", formatDuration(duration))
	fmt.Fprintf(w, "  URLs Done:           %d\n", s.Done)
	fmt.Fprintf(w, "  URLs Pending:        %d\n", s.Pending)
	fmt.Fprintf(w, "  Pages Stored:        %d\n", s.Stored)
	fmt.Fprintf(w, "  Near-Duplicates:     %d\n", s.Duplicates)
	fmt.Fprintf(w, "  Thin Pages:          %d\n", s.Thin)
	fmt.Fprintf(w, "  Errors:              %d\n", s.Errors)
	if duration.Seconds() > 0 {
		fmt.Fprintf(w, "  Average Speed:       %.1f pages/sec\n", float64(s.Done)/duration.Seconds())
	}
	fmt.Fprintln(w)
}

// Stats returns the last values passed to Update.
func (d *Display) Stats() Stats {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.stats
}

func truncateURL(url string, maxLen int) string {
	if len(url) <= maxLen {
		return url
	}
	return url[:maxLen-3] + "..."
}

func formatDuration(d time.Duration) string {
	d = d.Round(time.Second)
	h := d / time.Hour
	d -= h * time.Hour
	m := d / time.Minute
	d -= m * time.Minute
	s := d / time.Second

	if h > 0 {
		return fmt.Sprintf("%dh%02dm%02ds", h, m, s)
	}
	if m > 0 {
		return fmt.Sprintf("%dm%02ds", m, s)
	}
	return fmt.Sprintf("%ds", s)
}
