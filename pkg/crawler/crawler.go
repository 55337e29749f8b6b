package crawler

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	crawlerrors "github.com/PentesterFlow/PoliteCrawler/internal/errors"
	"github.com/PentesterFlow/PoliteCrawler/internal/fetch"
	"github.com/PentesterFlow/PoliteCrawler/internal/frontier"
	"github.com/PentesterFlow/PoliteCrawler/internal/logger"
	"github.com/PentesterFlow/PoliteCrawler/internal/metrics"
	"github.com/PentesterFlow/PoliteCrawler/internal/output"
	"github.com/PentesterFlow/PoliteCrawler/internal/parser"
	"github.com/PentesterFlow/PoliteCrawler/internal/progress"
	"github.com/PentesterFlow/PoliteCrawler/internal/ratelimit"
	"github.com/PentesterFlow/PoliteCrawler/internal/scope"
	"github.com/PentesterFlow/PoliteCrawler/internal/shutdown"
	"github.com/PentesterFlow/PoliteCrawler/internal/simhash"
	"github.com/PentesterFlow/PoliteCrawler/internal/stats"
	"github.com/PentesterFlow/PoliteCrawler/internal/urlutil"
)

// Crawler is the main crawler orchestrator.
type Crawler struct {
	config     *Config
	downloader Downloader
	processor  PageProcessor
	validator  LinkValidator
	shards     stats.Store
	limiter    *ratelimit.Limiter
	logger     *logger.Logger
	metrics    *metrics.Collector

	// Opened by Run and closed before it returns.
	frontier *frontier.Frontier
	detector *simhash.Detector

	mu      sync.Mutex
	running atomic.Bool
	done    chan struct{}

	// Progress display
	progress     *progress.Display
	showProgress bool
}

// New creates a new crawler with the given options. Collaborators not set by
// an option are built from the configuration.
func New(opts ...Option) (*Crawler, error) {
	c := &Crawler{
		config: DefaultConfig(),
	}

	// Apply options
	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, fmt.Errorf("failed to apply option: %w", err)
		}
	}

	// Validate config
	if err := c.config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	if c.logger == nil {
		level, err := logger.ParseLevel(c.config.Log.Level)
		if err != nil {
			level = logger.InfoLevel
		}
		c.logger = logger.New(logger.Config{
			Level:     level,
			Pretty:    c.config.Log.Pretty,
			Component: "crawler",
		})
	}

	if c.metrics == nil {
		c.metrics = metrics.New()
	}

	if c.downloader == nil {
		c.downloader = fetch.New(fetch.Config{
			Timeout:             c.config.HTTP.Timeout.Std(),
			UserAgent:           c.config.HTTP.UserAgent,
			MaxBodyBytes:        c.config.HTTP.MaxBodyBytes,
			MaxRedirects:        c.config.HTTP.MaxRedirects,
			MaxIdleConnsPerHost: c.config.Workers,
		})
	}

	if c.processor == nil {
		c.processor = parser.NewProcessor(c.config.MinTokens)
	}

	if c.validator == nil {
		rules := c.config.Scope
		if len(rules.AllowedDomains) == 0 {
			rules.AllowedDomains = seedHosts(c.config.Seeds)
			c.logger.Infof("No allowed domains configured, restricting the crawl to seed hosts %v", rules.AllowedDomains)
		}
		v, err := scope.NewValidator(rules)
		if err != nil {
			return nil, fmt.Errorf("invalid scope: %w", err)
		}
		c.validator = v
	}

	c.limiter = ratelimit.NewLimiter(c.config.Politeness.Delay.Std(), c.config.Politeness.MaxRequestsPerSecond)

	if c.showProgress && c.progress == nil {
		c.progress = progress.New()
	}

	return c, nil
}

// seedHosts returns the distinct hostnames of the seeds.
func seedHosts(seeds []string) []string {
	seen := make(map[string]bool)
	var hosts []string
	for _, s := range seeds {
		h := urlutil.Hostname(s)
		if h == "" || seen[h] {
			continue
		}
		seen[h] = true
		hosts = append(hosts, h)
	}
	return hosts
}

// Run crawls until the frontier drains or ctx is cancelled, then merges the
// stats shards into the crawl-wide report. A store failure during the crawl
// stops every worker and is returned without a report.
func (c *Crawler) Run(ctx context.Context) (*Result, error) {
	if !c.running.CompareAndSwap(false, true) {
		return nil, fmt.Errorf("crawler is already running")
	}
	defer c.running.Store(false)

	c.mu.Lock()
	c.done = make(chan struct{})
	done := c.done
	c.mu.Unlock()
	defer close(done)

	result := &Result{StartedAt: time.Now()}

	if err := c.open(); err != nil {
		return nil, err
	}
	defer c.close()

	if err := c.addSeeds(); err != nil {
		return nil, err
	}

	if c.config.Metrics.Addr != "" {
		metricsCtx, stopMetrics := context.WithCancel(ctx)
		metricsDone := make(chan struct{})
		go func() {
			defer close(metricsDone)
			if err := c.metrics.Serve(metricsCtx, c.config.Metrics.Addr); err != nil {
				c.logger.WithError(err).Warn("Metrics endpoint stopped")
			}
		}()
		defer func() {
			stopMetrics()
			<-metricsDone
		}()
	}

	if c.showProgress {
		c.progress.Start(firstSeed(c.config.Seeds))
	}

	reporterCtx, stopReporter := context.WithCancel(context.Background())
	reporterDone := make(chan struct{})
	go func() {
		defer close(reporterDone)
		c.statusReporter(reporterCtx)
	}()

	c.logger.Infof("Starting crawl with %d workers", c.config.Workers)

	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < c.config.Workers; i++ {
		w := c.newWorker(i)
		g.Go(func() error {
			return w.run(gctx)
		})
	}
	err := g.Wait()

	stopReporter()
	<-reporterDone
	c.refreshStatus()

	if c.showProgress {
		c.progress.Stop()
	}

	if err != nil {
		c.logger.WithError(err).Error("Crawl stopped by a store failure")
		return nil, err
	}

	counts := c.frontier.Counts()
	result.Frontier = counts
	result.Interrupted = ctx.Err() != nil || counts.Discovered > 0 || counts.InProgress > 0

	report, path, err := c.writeMergedReport()
	if err != nil {
		return nil, err
	}
	result.Report = report
	result.ReportPath = path

	result.CompletedAt = time.Now()
	result.Duration = result.CompletedAt.Sub(result.StartedAt).Round(time.Millisecond).String()
	result.Metrics = c.metrics.Snapshot()

	if result.Interrupted {
		c.logger.Infof("Crawl interrupted: %d done, %d pending, %d unique pages",
			counts.Done, counts.Discovered+counts.InProgress, report.UniquePages)
	} else {
		c.logger.Infof("Crawl complete: %d URLs done, %d unique pages", counts.Done, report.UniquePages)
	}

	return result, nil
}

// open opens the frontier, the signature store and every worker shard.
func (c *Crawler) open() error {
	log := c.logger.WithComponent("frontier")
	f, err := frontier.Open(frontier.Options{
		Path:    c.config.Frontier.Path,
		Restart: c.config.Restart,
		Logger:  log,
	})
	if err != nil {
		return fmt.Errorf("failed to open frontier: %w", err)
	}
	c.frontier = f

	if c.config.SimHash.Enabled {
		d, err := simhash.Open(simhash.Options{
			Path:    c.config.SimHash.Path,
			Restart: c.config.Restart,
			Bits:    c.config.SimHash.Bits,
			Logger:  c.logger.WithComponent("simhash"),
		})
		if err != nil {
			c.close()
			return fmt.Errorf("failed to open signature store: %w", err)
		}
		c.detector = d
	}

	if c.shards == nil {
		store, err := stats.NewFileStore(c.config.Stats.Dir, c.config.Stats.Compress)
		if err != nil {
			c.close()
			return fmt.Errorf("failed to open stats store: %w", err)
		}
		c.shards = store
	}

	if err := c.initShards(); err != nil {
		c.close()
		return err
	}
	return nil
}

// initShards prepares one shard per worker. On restart every stored shard is
// wiped, including those of workers beyond the current count.
func (c *Crawler) initShards() error {
	ids := make(map[int]bool)
	for i := 0; i < c.config.Workers; i++ {
		ids[i] = true
	}
	if c.config.Restart {
		stored, err := c.shards.IDs()
		if err != nil {
			return crawlerrors.NewStoreError("stats init", err)
		}
		for _, id := range stored {
			ids[id] = true
		}
	}

	for id := range ids {
		if _, err := c.shards.Init(id, c.config.Restart); err != nil {
			return crawlerrors.NewStoreError("stats init", err)
		}
	}
	return nil
}

func (c *Crawler) addSeeds() error {
	added := 0
	for _, seed := range c.config.Seeds {
		if !c.validator.Allowed(seed) {
			c.logger.WithURL(seed).Warn("Seed is outside the crawl scope")
		}
		ok, err := c.frontier.Add(seed)
		if err != nil {
			if crawlerrors.IsStoreError(err) {
				return err
			}
			return fmt.Errorf("invalid seed %q: %w", seed, err)
		}
		if ok {
			added++
		}
	}
	c.logger.Infof("Added %d of %d seeds to the frontier", added, len(c.config.Seeds))
	return nil
}

// close releases the stores opened by Run.
func (c *Crawler) close() {
	if c.detector != nil {
		if err := c.detector.Close(); err != nil {
			c.logger.WithError(err).Warn("Failed to close signature store")
		}
		c.detector = nil
	}
	if c.frontier != nil {
		if err := c.frontier.Close(); err != nil {
			c.logger.WithError(err).Warn("Failed to close frontier")
		}
		c.frontier = nil
	}
	if c.shards != nil {
		if err := c.shards.Close(); err != nil {
			c.logger.WithError(err).Warn("Failed to close stats store")
		}
	}
}

// writeMergedReport merges every stored shard and writes the crawl-wide
// report.
func (c *Crawler) writeMergedReport() (stats.Report, string, error) {
	shards, err := stats.LoadAll(c.shards)
	if err != nil {
		return stats.Report{}, "", crawlerrors.NewStoreError("stats load", err)
	}
	report := stats.BuildReport(stats.Merge(shards...), stats.DefaultStopwords, c.config.Report.TopWords)

	format, err := output.ParseFormat(c.config.Report.Format)
	if err != nil {
		return report, "", err
	}
	path := filepath.Join(c.config.Report.Dir, output.MergedFilename(format))
	if err := output.WriteFile(path, output.Config{Format: format, Pretty: true}, report); err != nil {
		return report, "", fmt.Errorf("failed to write report: %w", err)
	}

	c.logger.Infof("Report written to %s", path)
	return report, path, nil
}

// statusReporter refreshes metrics, progress and the periodic stats log
// until ctx is cancelled.
func (c *Crawler) statusReporter(ctx context.Context) {
	ticker := time.NewTicker(1 * time.Second)
	defer ticker.Stop()

	var lastDone int
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			counts := c.refreshStatus()

			// Log stats using structured logger (only if not showing progress bar)
			if !c.showProgress {
				snap := c.metrics.Snapshot()
				c.logger.StatsEvent("Crawl progress", map[string]interface{}{
					"pending":          counts.Discovered,
					"in_progress":      counts.InProgress,
					"done":             counts.Done,
					"rate_per_sec":     counts.Done - lastDone,
					"pages_stored":     snap.PagesStored,
					"duplicates":       snap.Duplicates,
					"thin_pages":       snap.ThinPages,
					"errors":           snap.ErrorsTotal,
					"requests_per_sec": c.metrics.GetRequestsPerSecond(),
					"avg_response_ms":  c.metrics.GetAverageResponseTime().Milliseconds(),
				})
			}
			lastDone = counts.Done
		}
	}
}

// refreshStatus pushes the current frontier counts to metrics and progress.
func (c *Crawler) refreshStatus() frontier.Counts {
	counts := c.frontier.Counts()
	c.metrics.SetFrontier(counts.Discovered, counts.InProgress, counts.Done)

	if c.showProgress && c.progress != nil {
		snap := c.metrics.Snapshot()
		c.progress.Update(progress.Stats{
			Pending:    counts.Discovered,
			InProgress: counts.InProgress,
			Done:       counts.Done,
			Stored:     int(snap.PagesStored),
			Thin:       int(snap.ThinPages),
			Duplicates: int(snap.Duplicates),
			Errors:     int(snap.ErrorsTotal),
		})
	}
	return counts
}

// RegisterShutdown makes h wait for a running crawl to drain before its
// remaining callbacks run. Cancelling the context passed to Run is what
// stops the workers; this only orders the cleanup.
func (c *Crawler) RegisterShutdown(h *shutdown.Handler) {
	h.Register("crawler", func(ctx context.Context) error {
		c.mu.Lock()
		done := c.done
		c.mu.Unlock()
		if done == nil || !c.running.Load() {
			return nil
		}

		c.logger.Info("Waiting for in-flight URLs to finish...")
		select {
		case <-done:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	})
}

// IsRunning reports whether Run is in progress.
func (c *Crawler) IsRunning() bool {
	return c.running.Load()
}

// Config returns the crawler configuration.
func (c *Crawler) Config() *Config {
	return c.config
}

// Metrics returns the metrics collector.
func (c *Crawler) Metrics() *metrics.Collector {
	return c.metrics
}

// Progress returns the progress display, nil when disabled.
func (c *Crawler) Progress() *progress.Display {
	return c.progress
}

func firstSeed(seeds []string) string {
	if len(seeds) == 0 {
		return ""
	}
	return seeds[0]
}

// isCancellation reports whether err only reflects the crawl being stopped.
func isCancellation(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
