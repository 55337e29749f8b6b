// Package metrics provides crawl metrics: in-process counters for progress
// and summaries, mirrored into a Prometheus registry for scraping.
package metrics

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector collects and aggregates metrics.
type Collector struct {
	// Counters
	requestsTotal atomic.Int64
	errorsTotal   atomic.Int64
	pagesStored   atomic.Int64
	pagesThin     atomic.Int64
	pagesDup      atomic.Int64
	linksAdded    atomic.Int64
	bytesTotal    atomic.Int64

	// Rate tracking
	requestsInWindow atomic.Int64
	errorsInWindow   atomic.Int64
	windowStart      atomic.Int64

	// Response time tracking
	responseTimesSum atomic.Int64
	responseTimesNum atomic.Int64

	// Gauges
	frontierPending    atomic.Int64
	frontierInProgress atomic.Int64
	frontierDone       atomic.Int64
	activeWorkers      atomic.Int64

	// Error breakdown
	errorCounts map[string]*atomic.Int64
	errorMu     sync.RWMutex

	// Status code breakdown
	statusCodes map[int]*atomic.Int64
	statusMu    sync.RWMutex

	startTime time.Time

	registry     *prometheus.Registry
	promRequests prometheus.Counter
	promBytes    prometheus.Counter
	promPages    *prometheus.CounterVec
	promErrors   *prometheus.CounterVec
	promStatus   *prometheus.CounterVec
	promLatency  prometheus.Histogram
	promFrontier *prometheus.GaugeVec
	promWorkers  prometheus.Gauge
}

// New creates a new metrics collector with its own Prometheus registry.
func New() *Collector {
	now := time.Now()
	c := &Collector{
		errorCounts: make(map[string]*atomic.Int64),
		statusCodes: make(map[int]*atomic.Int64),
		startTime:   now,
		registry:    prometheus.NewRegistry(),
		promRequests: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "crawler_requests_total",
			Help: "Total number of fetch attempts",
		}),
		promBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "crawler_bytes_fetched_total",
			Help: "Total bytes downloaded",
		}),
		promPages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "crawler_pages_total",
			Help: "Processed pages by outcome",
		}, []string{"outcome"}),
		promErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "crawler_errors_total",
			Help: "Page failures by error type",
		}, []string{"type"}),
		promStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "crawler_responses_total",
			Help: "HTTP responses by status code",
		}, []string{"code"}),
		promLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "crawler_fetch_duration_seconds",
			Help:    "Fetch latency",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}),
		promFrontier: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "crawler_frontier_urls",
			Help: "Frontier records by status",
		}, []string{"status"}),
		promWorkers: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "crawler_active_workers",
			Help: "Workers currently running",
		}),
	}
	c.windowStart.Store(now.UnixNano())
	c.registry.MustRegister(
		c.promRequests, c.promBytes, c.promPages, c.promErrors,
		c.promStatus, c.promLatency, c.promFrontier, c.promWorkers,
	)
	return c
}

// RecordRequest records a fetch attempt.
func (c *Collector) RecordRequest() {
	c.requestsTotal.Add(1)
	c.requestsInWindow.Add(1)
	c.promRequests.Inc()
}

// RecordError records a page failure of the given error type.
func (c *Collector) RecordError(errorType string) {
	c.errorsTotal.Add(1)
	c.errorsInWindow.Add(1)

	c.errorMu.Lock()
	if c.errorCounts[errorType] == nil {
		c.errorCounts[errorType] = &atomic.Int64{}
	}
	c.errorCounts[errorType].Add(1)
	c.errorMu.Unlock()

	c.promErrors.WithLabelValues(errorType).Inc()
}

// RecordResponseTime records a fetch duration.
func (c *Collector) RecordResponseTime(d time.Duration) {
	c.responseTimesSum.Add(d.Milliseconds())
	c.responseTimesNum.Add(1)
	c.promLatency.Observe(d.Seconds())
}

// RecordStatusCode records an HTTP status code.
func (c *Collector) RecordStatusCode(code int) {
	c.statusMu.Lock()
	if c.statusCodes[code] == nil {
		c.statusCodes[code] = &atomic.Int64{}
	}
	c.statusCodes[code].Add(1)
	c.statusMu.Unlock()

	c.promStatus.WithLabelValues(strconv.Itoa(code)).Inc()
}

// RecordPageStored counts a page whose statistics were recorded.
func (c *Collector) RecordPageStored() {
	c.pagesStored.Add(1)
	c.promPages.WithLabelValues("stored").Inc()
}

// RecordThinPage counts a page below the minimum token count.
func (c *Collector) RecordThinPage() {
	c.pagesThin.Add(1)
	c.promPages.WithLabelValues("thin").Inc()
}

// RecordDuplicate counts a near-duplicate page.
func (c *Collector) RecordDuplicate() {
	c.pagesDup.Add(1)
	c.promPages.WithLabelValues("duplicate").Inc()
}

// RecordLinksAdded counts links newly added to the frontier.
func (c *Collector) RecordLinksAdded(n int) {
	c.linksAdded.Add(int64(n))
}

// RecordBytes records downloaded bytes.
func (c *Collector) RecordBytes(n int64) {
	c.bytesTotal.Add(n)
	c.promBytes.Add(float64(n))
}

// SetFrontier sets the frontier gauges.
func (c *Collector) SetFrontier(pending, inProgress, done int) {
	c.frontierPending.Store(int64(pending))
	c.frontierInProgress.Store(int64(inProgress))
	c.frontierDone.Store(int64(done))
	c.promFrontier.WithLabelValues("discovered").Set(float64(pending))
	c.promFrontier.WithLabelValues("in-progress").Set(float64(inProgress))
	c.promFrontier.WithLabelValues("done").Set(float64(done))
}

// WorkerStarted increments the active worker gauge.
func (c *Collector) WorkerStarted() {
	c.activeWorkers.Add(1)
	c.promWorkers.Inc()
}

// WorkerStopped decrements the active worker gauge.
func (c *Collector) WorkerStopped() {
	c.activeWorkers.Add(-1)
	c.promWorkers.Dec()
}

// GetRequestsPerSecond returns the current requests per second rate.
func (c *Collector) GetRequestsPerSecond() float64 {
	return c.getRatePerSecond(&c.requestsInWindow)
}

// getRatePerSecond calculates rate per second with window rotation.
func (c *Collector) getRatePerSecond(counter *atomic.Int64) float64 {
	windowDuration := 10 * time.Second
	now := time.Now().UnixNano()
	windowStart := c.windowStart.Load()

	elapsed := time.Duration(now - windowStart)
	if elapsed >= windowDuration {
		if c.windowStart.CompareAndSwap(windowStart, now) {
			c.requestsInWindow.Store(0)
			c.errorsInWindow.Store(0)
		}
		return 0
	}

	if elapsed <= 0 {
		return 0
	}
	return float64(counter.Load()) / elapsed.Seconds()
}

// GetAverageResponseTime returns the average fetch duration.
func (c *Collector) GetAverageResponseTime() time.Duration {
	sum := c.responseTimesSum.Load()
	num := c.responseTimesNum.Load()
	if num == 0 {
		return 0
	}
	return time.Duration(sum/num) * time.Millisecond
}

// Snapshot returns a point-in-time snapshot of all metrics.
func (c *Collector) Snapshot() *Snapshot {
	s := &Snapshot{
		Timestamp:           time.Now(),
		Uptime:              time.Since(c.startTime),
		RequestsTotal:       c.requestsTotal.Load(),
		ErrorsTotal:         c.errorsTotal.Load(),
		PagesStored:         c.pagesStored.Load(),
		ThinPages:           c.pagesThin.Load(),
		Duplicates:          c.pagesDup.Load(),
		LinksAdded:          c.linksAdded.Load(),
		BytesTotal:          c.bytesTotal.Load(),
		FrontierPending:     c.frontierPending.Load(),
		FrontierInProgress:  c.frontierInProgress.Load(),
		FrontierDone:        c.frontierDone.Load(),
		ActiveWorkers:       c.activeWorkers.Load(),
		RequestsPerSecond:   c.GetRequestsPerSecond(),
		AverageResponseTime: c.GetAverageResponseTime(),
		ErrorCounts:         make(map[string]int64),
		StatusCodes:         make(map[int]int64),
	}

	c.errorMu.RLock()
	for k, v := range c.errorCounts {
		s.ErrorCounts[k] = v.Load()
	}
	c.errorMu.RUnlock()

	c.statusMu.RLock()
	for k, v := range c.statusCodes {
		s.StatusCodes[k] = v.Load()
	}
	c.statusMu.RUnlock()

	return s
}

// Registry returns the Prometheus registry holding the crawl metrics.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler returns an HTTP handler exposing the registry.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// Serve exposes /metrics on addr until ctx is done.
func (c *Collector) Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", c.Handler())

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}

	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Snapshot represents a point-in-time view of metrics.
type Snapshot struct {
	Timestamp           time.Time        `json:"timestamp"`
	Uptime              time.Duration    `json:"uptime"`
	RequestsTotal       int64            `json:"requests_total"`
	ErrorsTotal         int64            `json:"errors_total"`
	PagesStored         int64            `json:"pages_stored"`
	ThinPages           int64            `json:"thin_pages"`
	Duplicates          int64            `json:"duplicates"`
	LinksAdded          int64            `json:"links_added"`
	BytesTotal          int64            `json:"bytes_total"`
	FrontierPending     int64            `json:"frontier_pending"`
	FrontierInProgress  int64            `json:"frontier_in_progress"`
	FrontierDone        int64            `json:"frontier_done"`
	ActiveWorkers       int64            `json:"active_workers"`
	RequestsPerSecond   float64          `json:"requests_per_second"`
	AverageResponseTime time.Duration    `json:"average_response_time"`
	ErrorCounts         map[string]int64 `json:"error_counts"`
	StatusCodes         map[int]int64    `json:"status_codes"`
}

// ErrorRate returns the error rate (errors/requests).
func (s *Snapshot) ErrorRate() float64 {
	if s.RequestsTotal == 0 {
		return 0
	}
	return float64(s.ErrorsTotal) / float64(s.RequestsTotal)
}

// Summary returns the snapshot as log fields.
func (s *Snapshot) Summary() map[string]interface{} {
	return map[string]interface{}{
		"uptime":               s.Uptime.String(),
		"requests_total":       s.RequestsTotal,
		"errors_total":         s.ErrorsTotal,
		"error_rate":           s.ErrorRate(),
		"pages_stored":         s.PagesStored,
		"thin_pages":           s.ThinPages,
		"duplicates":           s.Duplicates,
		"frontier_pending":     s.FrontierPending,
		"frontier_done":        s.FrontierDone,
		"requests_per_second":  s.RequestsPerSecond,
		"avg_response_time_ms": s.AverageResponseTime.Milliseconds(),
	}
}
