package crawler

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	crawlerrors "github.com/PentesterFlow/PoliteCrawler/internal/errors"
	"github.com/PentesterFlow/PoliteCrawler/internal/logger"
	"github.com/PentesterFlow/PoliteCrawler/internal/output"
	"github.com/PentesterFlow/PoliteCrawler/internal/parser"
	"github.com/PentesterFlow/PoliteCrawler/internal/stats"
	"github.com/PentesterFlow/PoliteCrawler/internal/urlutil"
)

// worker drains the frontier. Its stats shard is written by no other
// goroutine.
type worker struct {
	id  int
	c   *Crawler
	log *logger.Logger
}

func (c *Crawler) newWorker(id int) *worker {
	return &worker{
		id:  id,
		c:   c,
		log: c.logger.WithComponent("worker").WithWorker(id),
	}
}

// run processes URLs until the frontier is drained or ctx is cancelled. Only
// store failures are returned.
func (w *worker) run(ctx context.Context) error {
	w.c.metrics.WorkerStarted()
	defer w.c.metrics.WorkerStopped()

	w.log.Debug("Worker started")
	processed := 0

	for {
		rawURL, ok, err := w.next(ctx)
		if err != nil {
			if isCancellation(err) {
				w.log.Debug("Worker stopping on cancellation")
				break
			}
			return err
		}
		if !ok {
			w.log.Debug("Frontier drained")
			break
		}

		outcome, err := w.process(ctx, rawURL)
		if err != nil {
			return err
		}
		if outcome == OutcomeDeferred {
			break
		}
		processed++

		if err := w.c.limiter.Pause(ctx); err != nil {
			break
		}
	}

	w.log.Infof("Worker finished after %d URLs", processed)
	w.writeReport()
	return nil
}

func (w *worker) next(ctx context.Context) (string, bool, error) {
	if w.c.config.Frontier.WaitInFlight {
		return w.c.frontier.Next(ctx)
	}
	if err := ctx.Err(); err != nil {
		return "", false, err
	}
	return w.c.frontier.AcquireNext()
}

// process runs one URL through fetch, extraction and bookkeeping, then marks
// it complete. Per-page failures are logged and counted; the returned error
// is always a store failure.
func (w *worker) process(ctx context.Context, rawURL string) (Outcome, error) {
	if err := w.c.limiter.Wait(ctx); err != nil {
		w.log.WithURL(rawURL).Debug("Crawl stopped before fetch, URL left for resume")
		return OutcomeDeferred, nil
	}

	outcome, err := w.crawl(ctx, rawURL)
	if err != nil {
		return outcome, err
	}

	if err := w.c.frontier.MarkComplete(rawURL); err != nil {
		return outcome, err
	}
	return outcome, nil
}

func (w *worker) crawl(ctx context.Context, rawURL string) (outcome Outcome, err error) {
	start := time.Now()

	// A panicking collaborator costs one page, not the crawl. Invariant
	// violations still abort.
	defer func() {
		r := recover()
		if r == nil {
			return
		}
		if inv, ok := r.(*crawlerrors.InvariantError); ok {
			panic(inv)
		}
		w.fail(rawURL, "process", crawlerrors.NewParseError(rawURL, "process", fmt.Errorf("panic: %v", r)))
		outcome, err = OutcomeFailed, nil
	}()

	// The fetch outlives cancellation so the URL can still be completed.
	fetchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), w.fetchTimeout())
	defer cancel()

	w.c.metrics.RecordRequest()
	resp, err := w.c.downloader.Fetch(fetchCtx, rawURL)
	if err != nil {
		w.fail(rawURL, "fetch", crawlerrors.Categorize(err, rawURL))
		return OutcomeFailed, nil
	}

	w.c.metrics.RecordStatusCode(resp.StatusCode)
	w.c.metrics.RecordBytes(int64(len(resp.Body)))
	w.c.metrics.RecordResponseTime(time.Since(start))

	if statusErr := crawlerrors.CategorizeHTTPStatus(resp.StatusCode, rawURL); statusErr != nil {
		w.fail(rawURL, "fetch", statusErr)
		return OutcomeFailed, nil
	}

	page, err := w.c.processor.Process(resp)
	if errors.Is(err, parser.ErrThinContent) {
		w.c.metrics.RecordThinPage()
		w.log.PageEvent(rawURL, resp.StatusCode, 0, 0, string(OutcomeThin), time.Since(start))
		return OutcomeThin, nil
	}
	if err != nil {
		w.fail(rawURL, "process", err)
		return OutcomeFailed, nil
	}

	freq := stats.Count(page.Tokens)

	if w.c.detector != nil {
		dup, match, err := w.c.detector.CheckAndStore(rawURL, freq.Map(), w.c.config.SimHash.Threshold)
		if err != nil {
			return OutcomeFailed, err
		}
		if dup {
			w.c.metrics.RecordDuplicate()
			w.log.WithURL(rawURL).WithField("match", match).Debug("Near-duplicate discarded")
			w.log.PageEvent(rawURL, resp.StatusCode, len(page.Tokens), 0, string(OutcomeDuplicate), time.Since(start))
			return OutcomeDuplicate, nil
		}
	}

	added, err := w.enqueue(page.Links)
	if err != nil {
		return OutcomeFailed, err
	}

	if err := w.record(rawURL, freq, len(page.Tokens)); err != nil {
		return OutcomeFailed, err
	}

	w.c.metrics.RecordPageStored()
	w.log.PageEvent(rawURL, resp.StatusCode, len(page.Tokens), added, string(OutcomeStored), time.Since(start))
	return OutcomeStored, nil
}

// enqueue adds every in-scope link to the frontier and returns how many were
// new.
func (w *worker) enqueue(links []string) (int, error) {
	added := 0
	for _, link := range links {
		if !w.c.validator.Allowed(link) {
			continue
		}
		ok, err := w.c.frontier.Add(link)
		if err != nil {
			if crawlerrors.IsStoreError(err) {
				return added, err
			}
			w.log.WithURL(link).WithError(err).Debug("Skipping unparsable link")
			continue
		}
		if ok {
			added++
		}
	}
	w.c.metrics.RecordLinksAdded(added)
	return added, nil
}

// record adds the page to this worker's shard.
func (w *worker) record(rawURL string, freq *stats.Frequencies, wordCount int) error {
	normalized, err := urlutil.Normalize(rawURL)
	if err != nil {
		normalized = rawURL
	}

	page := stats.Page{
		URL:       normalized,
		Host:      w.censusHost(normalized),
		Words:     freq,
		WordCount: wordCount,
	}

	err = w.c.shards.Update(w.id, func(s *stats.Shard) error {
		return s.Record(page)
	})
	if errors.Is(err, stats.ErrAlreadyRecorded) {
		w.log.WithURL(normalized).Warn("Page already counted by an earlier run")
		return nil
	}
	if err != nil {
		return crawlerrors.NewStoreError("stats update", err)
	}
	return nil
}

func (w *worker) censusHost(rawURL string) string {
	if census, ok := w.c.validator.(SubdomainCensus); ok {
		return census.CensusHost(rawURL)
	}
	return urlutil.Hostname(rawURL)
}

func (w *worker) fail(rawURL, operation string, err error) {
	errType := crawlerrors.GetErrorType(err)
	w.c.metrics.RecordError(errType.String())
	w.log.ErrorEvent(err, rawURL, operation, errType.String())
}

func (w *worker) fetchTimeout() time.Duration {
	// Headroom over the client timeout so the client reports the timeout itself.
	return w.c.config.HTTP.Timeout.Std() + time.Second
}

// writeReport writes this worker's report fragment. Failures are logged.
func (w *worker) writeReport() {
	shard, err := w.c.shards.Load(w.id)
	if err != nil {
		w.log.WithError(err).Warn("Failed to load shard for report")
		return
	}

	format, err := output.ParseFormat(w.c.config.Report.Format)
	if err != nil {
		format = output.FormatText
	}

	report := stats.BuildReport(shard, stats.DefaultStopwords, w.c.config.Report.TopWords)
	path := filepath.Join(w.c.config.Report.Dir, output.WorkerFilename(format, w.id))
	if err := output.WriteFile(path, output.Config{Format: format, Pretty: true}, report); err != nil {
		w.log.WithError(err).Warnf("Failed to write report %s", path)
		return
	}
	w.log.Debugf("Report written to %s", path)
}
