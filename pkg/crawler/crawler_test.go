package crawler

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	crawlerrors "github.com/PentesterFlow/PoliteCrawler/internal/errors"
	"github.com/PentesterFlow/PoliteCrawler/internal/fetch"
	"github.com/PentesterFlow/PoliteCrawler/internal/frontier"
	"github.com/PentesterFlow/PoliteCrawler/internal/logger"
	"github.com/PentesterFlow/PoliteCrawler/internal/shutdown"
	"github.com/PentesterFlow/PoliteCrawler/internal/stats"
)

// fakeDownloader serves pages from a map. Unknown URLs answer 404.
type fakeDownloader struct {
	mu      sync.Mutex
	pages   map[string]string
	errs    map[string]error
	fetched []string
	onFetch func(url string)
}

func (d *fakeDownloader) Fetch(ctx context.Context, url string) (*fetch.Response, error) {
	d.mu.Lock()
	d.fetched = append(d.fetched, url)
	hook := d.onFetch
	d.mu.Unlock()

	if hook != nil {
		hook(url)
	}
	if err, ok := d.errs[url]; ok {
		return nil, err
	}

	body, ok := d.pages[url]
	if !ok {
		return &fetch.Response{URL: url, FinalURL: url, StatusCode: http.StatusNotFound, Header: http.Header{}}, nil
	}
	return &fetch.Response{
		URL:        url,
		FinalURL:   url,
		StatusCode: http.StatusOK,
		Header:     http.Header{"Content-Type": {"text/html; charset=utf-8"}},
		Body:       []byte(body),
	}, nil
}

func (d *fakeDownloader) Fetched() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.fetched...)
}

// failingStore fails every shard update.
type failingStore struct {
	*stats.MemoryStore
}

func (s failingStore) Update(workerID int, fn func(*stats.Shard) error) error {
	return errors.New("disk full")
}

// panickingDownloader panics on the URLs in panics and delegates the rest.
type panickingDownloader struct {
	*fakeDownloader
	panics map[string]interface{}
}

func (d panickingDownloader) Fetch(ctx context.Context, url string) (*fetch.Response, error) {
	if v, ok := d.panics[url]; ok {
		panic(v)
	}
	return d.fakeDownloader.Fetch(ctx, url)
}

// htmlPage builds a page with n distinct words derived from word, followed
// by one anchor per link. Every anchor adds the token "link".
func htmlPage(n int, word string, links ...string) string {
	var b strings.Builder
	b.WriteString("<html><body><p>")
	for i := 0; i < n; i++ {
		fmt.Fprintf(&b, "%s%d ", word, i)
	}
	b.WriteString("</p>")
	for _, l := range links {
		fmt.Fprintf(&b, `<a href="%s">link</a>`, l)
	}
	b.WriteString("</body></html>")
	return b.String()
}

func testConfig(t *testing.T, seeds ...string) *Config {
	t.Helper()
	dir := t.TempDir()

	cfg := DefaultConfig()
	cfg.Seeds = seeds
	cfg.Workers = 2
	cfg.Politeness.Delay = 0
	cfg.Frontier.Path = filepath.Join(dir, "frontier.db")
	cfg.SimHash.Path = filepath.Join(dir, "simhash.db")
	cfg.Stats.Dir = filepath.Join(dir, "stats")
	cfg.Report.Dir = filepath.Join(dir, "reports")
	return cfg
}

func newTestCrawler(t *testing.T, cfg *Config, d Downloader, opts ...Option) *Crawler {
	t.Helper()
	all := append([]Option{WithConfig(cfg), WithDownloader(d), WithLogger(logger.Nop())}, opts...)
	c, err := New(all...)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return c
}

func frontierRecord(t *testing.T, path, url string) (frontier.Record, bool) {
	t.Helper()
	f, err := frontier.Open(frontier.Options{Path: path})
	if err != nil {
		t.Fatalf("frontier.Open() error = %v", err)
	}
	defer f.Close()

	rec, ok, err := f.Get(url)
	if err != nil {
		t.Fatalf("Get(%s) error = %v", url, err)
	}
	return rec, ok
}

// =============================================================================
// New Tests
// =============================================================================

func TestNew_RequiresSeeds(t *testing.T) {
	_, err := New(WithLogger(logger.Nop()))
	if err == nil {
		t.Fatal("New() without seeds should fail")
	}
}

func TestNew_DefaultsScopeToSeedHosts(t *testing.T) {
	c, err := New(WithSeeds("http://x.edu/a", "http://www.y.org/"), WithLogger(logger.Nop()))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	tests := []struct {
		url  string
		want bool
	}{
		{"http://x.edu/b", true},
		{"http://sub.x.edu/b", true},
		{"http://www.y.org/page", true},
		{"http://evil.com/c", false},
		{"http://notx.edu/", false},
	}
	for _, tt := range tests {
		if got := c.validator.Allowed(tt.url); got != tt.want {
			t.Errorf("Allowed(%s) = %v, want %v", tt.url, got, tt.want)
		}
	}
}

func TestNew_InvalidScope(t *testing.T) {
	cfg := testConfig(t, "http://x.edu/")
	cfg.Scope.TrapPatterns = []string{"("}
	if _, err := New(WithConfig(cfg), WithLogger(logger.Nop())); err == nil {
		t.Error("New() should reject an invalid trap pattern")
	}
}

func TestSeedHosts(t *testing.T) {
	got := seedHosts([]string{"http://x.edu/a", "http://X.edu/b", "::bad", "https://y.org"})
	if len(got) != 2 || got[0] != "x.edu" || got[1] != "y.org" {
		t.Errorf("seedHosts() = %v", got)
	}
}

// =============================================================================
// Run Tests
// =============================================================================

func TestRun_EndToEnd(t *testing.T) {
	cfg := testConfig(t, "http://x.edu/a")
	d := &fakeDownloader{pages: map[string]string{
		"http://x.edu/a": htmlPage(150, "alpha", "http://x.edu/a#frag", "b", "http://evil.com/c"),
		"http://x.edu/b": htmlPage(200, "beta"),
	}}

	res, err := newTestCrawler(t, cfg, d).Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if res.Interrupted {
		t.Error("drained crawl reported as interrupted")
	}
	if res.Frontier.Done != 2 || res.Frontier.Discovered != 0 || res.Frontier.InProgress != 0 {
		t.Errorf("frontier counts = %+v, want 2 done", res.Frontier)
	}

	fetched := d.Fetched()
	if len(fetched) != 2 {
		t.Errorf("fetched = %v, want a and b once each", fetched)
	}

	if _, ok := frontierRecord(t, cfg.Frontier.Path, "http://evil.com/c"); ok {
		t.Error("out-of-scope link was added to the frontier")
	}
	if rec, ok := frontierRecord(t, cfg.Frontier.Path, "http://x.edu/b"); !ok || rec.Status != frontier.StatusDone {
		t.Errorf("record for b = %+v (found %v), want done", rec, ok)
	}

	if res.Report.UniquePages != 2 {
		t.Errorf("UniquePages = %d, want 2", res.Report.UniquePages)
	}
	if res.Report.Longest.URL != "http://x.edu/b" || res.Report.Longest.Words != 200 {
		t.Errorf("Longest = %+v, want b with 200 words", res.Report.Longest)
	}
	if len(res.Report.Subdomains) != 1 || res.Report.Subdomains[0] != (stats.SubdomainCount{Host: "x.edu", Pages: 2}) {
		t.Errorf("Subdomains = %+v", res.Report.Subdomains)
	}

	data, err := os.ReadFile(res.ReportPath)
	if err != nil {
		t.Fatalf("merged report missing: %v", err)
	}
	if !strings.HasPrefix(string(data), "visited 2 unique pages.") {
		t.Errorf("report = %q", data)
	}
	for i := 0; i < cfg.Workers; i++ {
		if _, err := os.Stat(filepath.Join(cfg.Report.Dir, fmt.Sprintf("report_%d.txt", i))); err != nil {
			t.Errorf("worker %d report missing: %v", i, err)
		}
	}
}

func TestRun_ThinPageDiscarded(t *testing.T) {
	cfg := testConfig(t, "http://x.edu/a")
	d := &fakeDownloader{pages: map[string]string{
		"http://x.edu/a": htmlPage(5, "tiny", "b"),
		"http://x.edu/b": htmlPage(200, "beta"),
	}}

	c := newTestCrawler(t, cfg, d)
	res, err := c.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if res.Report.UniquePages != 0 || len(res.Report.TopWords) != 0 {
		t.Errorf("thin page contributed stats: %+v", res.Report)
	}
	if fetched := d.Fetched(); len(fetched) != 1 {
		t.Errorf("links of a thin page were followed: %v", fetched)
	}
	if res.Frontier.Done != 1 {
		t.Errorf("Done = %d, want 1", res.Frontier.Done)
	}
	if c.Metrics().Snapshot().ThinPages != 1 {
		t.Error("thin page not counted")
	}
}

func TestRun_NearDuplicateDiscarded(t *testing.T) {
	cfg := testConfig(t, "http://x.edu/a")
	cfg.SimHash.Threshold = 0.9
	same := htmlPage(200, "copy")
	d := &fakeDownloader{pages: map[string]string{
		"http://x.edu/a": htmlPage(150, "alpha", "b", "c"),
		"http://x.edu/b": same,
		"http://x.edu/c": same,
	}}

	c := newTestCrawler(t, cfg, d)
	res, err := c.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if res.Frontier.Done != 3 {
		t.Errorf("Done = %d, want 3", res.Frontier.Done)
	}
	if res.Report.UniquePages != 2 {
		t.Errorf("UniquePages = %d, want 2 (a and one copy)", res.Report.UniquePages)
	}
	if got := c.Metrics().Snapshot().Duplicates; got != 1 {
		t.Errorf("Duplicates = %d, want 1", got)
	}
}

func TestRun_DetectionDisabled(t *testing.T) {
	cfg := testConfig(t, "http://x.edu/a")
	cfg.SimHash.Enabled = false
	same := htmlPage(200, "copy")
	d := &fakeDownloader{pages: map[string]string{
		"http://x.edu/a": same + `<a href="b">b</a>`,
		"http://x.edu/b": same,
	}}

	res, err := newTestCrawler(t, cfg, d).Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if res.Report.UniquePages != 2 {
		t.Errorf("UniquePages = %d, want 2", res.Report.UniquePages)
	}
	if _, err := os.Stat(cfg.SimHash.Path); !os.IsNotExist(err) {
		t.Error("signature store created with detection disabled")
	}
}

func TestRun_PageErrorsAreNotFatal(t *testing.T) {
	cfg := testConfig(t, "http://x.edu/a")
	d := &fakeDownloader{
		pages: map[string]string{
			"http://x.edu/a": htmlPage(150, "alpha", "missing", "down", "ok"),
			"http://x.edu/ok": htmlPage(150, "beta"),
		},
		errs: map[string]error{
			"http://x.edu/down": crawlerrors.NewNetworkError("http://x.edu/down", "fetch", errors.New("connection refused")),
		},
	}

	c := newTestCrawler(t, cfg, d)
	res, err := c.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if res.Frontier.Done != 4 {
		t.Errorf("Done = %d, want 4 (failed URLs are still completed)", res.Frontier.Done)
	}
	if res.Report.UniquePages != 2 {
		t.Errorf("UniquePages = %d, want 2", res.Report.UniquePages)
	}

	snap := c.Metrics().Snapshot()
	if snap.ErrorCounts["network"] != 1 || snap.ErrorCounts["http_status"] != 1 {
		t.Errorf("ErrorCounts = %v", snap.ErrorCounts)
	}
	if snap.StatusCodes[404] != 1 {
		t.Errorf("StatusCodes = %v", snap.StatusCodes)
	}
}

func TestRun_CollaboratorPanicIsNotFatal(t *testing.T) {
	cfg := testConfig(t, "http://x.edu/a")
	d := panickingDownloader{
		fakeDownloader: &fakeDownloader{pages: map[string]string{
			"http://x.edu/a":  htmlPage(150, "alpha", "boom", "ok"),
			"http://x.edu/ok": htmlPage(150, "beta"),
		}},
		panics: map[string]interface{}{"http://x.edu/boom": "downloader bug"},
	}

	c := newTestCrawler(t, cfg, d)
	res, err := c.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if res.Frontier.Done != 3 || res.Frontier.InProgress != 0 {
		t.Errorf("Frontier = %+v, want 3 done and none in progress", res.Frontier)
	}
	if res.Report.UniquePages != 2 {
		t.Errorf("UniquePages = %d, want 2", res.Report.UniquePages)
	}
	if got := c.Metrics().Snapshot().ErrorCounts["parse"]; got != 1 {
		t.Errorf("parse errors = %d, want 1", got)
	}

	rec, ok := frontierRecord(t, cfg.Frontier.Path, "http://x.edu/boom")
	if !ok || rec.Status != frontier.StatusDone {
		t.Errorf("panicking URL record = %+v, %v; want done", rec, ok)
	}
}

func TestWorker_InvariantPanicPropagates(t *testing.T) {
	cfg := testConfig(t, "http://x.edu/a")
	cfg.Workers = 1
	d := panickingDownloader{
		fakeDownloader: &fakeDownloader{},
		panics: map[string]interface{}{
			"http://x.edu/a": &crawlerrors.InvariantError{Message: "broken contract"},
		},
	}
	c := newTestCrawler(t, cfg, d)

	defer func() {
		r := recover()
		if _, ok := r.(*crawlerrors.InvariantError); !ok {
			t.Errorf("recovered %v, want *InvariantError", r)
		}
	}()

	// The worker goroutine panics; run it here so the panic is observable.
	if err := c.open(); err != nil {
		t.Fatalf("open() error = %v", err)
	}
	defer c.close()
	if err := c.addSeeds(); err != nil {
		t.Fatalf("addSeeds() error = %v", err)
	}
	url, _, err := c.frontier.AcquireNext()
	if err != nil {
		t.Fatalf("AcquireNext() error = %v", err)
	}
	c.newWorker(0).crawl(context.Background(), url)
	t.Error("crawl() should re-panic invariant violations")
}

func TestRun_StoreErrorIsFatal(t *testing.T) {
	cfg := testConfig(t, "http://x.edu/a")
	d := &fakeDownloader{pages: map[string]string{
		"http://x.edu/a": htmlPage(150, "alpha", "b"),
		"http://x.edu/b": htmlPage(150, "beta"),
	}}

	c := newTestCrawler(t, cfg, d, WithShardStore(failingStore{stats.NewMemoryStore()}))
	res, err := c.Run(context.Background())
	if err == nil {
		t.Fatal("Run() should fail when the shard store fails")
	}
	if !crawlerrors.IsStoreError(err) {
		t.Errorf("error type = %v, want store", crawlerrors.GetErrorType(err))
	}
	if res != nil {
		t.Error("no result should be returned after a fatal error")
	}
	if _, statErr := os.Stat(filepath.Join(cfg.Report.Dir, "report.txt")); !os.IsNotExist(statErr) {
		t.Error("merged report written after a fatal error")
	}
}

func TestRun_WithoutWaitInFlight(t *testing.T) {
	cfg := testConfig(t, "http://x.edu/a")
	cfg.Workers = 1
	cfg.Frontier.WaitInFlight = false
	d := &fakeDownloader{pages: map[string]string{
		"http://x.edu/a": htmlPage(150, "alpha", "b"),
		"http://x.edu/b": htmlPage(150, "beta"),
	}}

	res, err := newTestCrawler(t, cfg, d).Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if res.Frontier.Done != 2 {
		t.Errorf("Done = %d, want 2", res.Frontier.Done)
	}
}

func TestRun_InterruptAndResume(t *testing.T) {
	cfg := testConfig(t, "http://x.edu/a")
	cfg.Workers = 1

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	d := &fakeDownloader{pages: map[string]string{
		"http://x.edu/a": htmlPage(150, "alpha", "b"),
		"http://x.edu/b": htmlPage(200, "beta"),
	}}
	d.onFetch = func(url string) {
		if url == "http://x.edu/a" {
			cancel()
		}
	}

	res, err := newTestCrawler(t, cfg, d).Run(ctx)
	if err != nil {
		t.Fatalf("first Run() error = %v", err)
	}
	if !res.Interrupted {
		t.Error("cancelled crawl should be reported as interrupted")
	}
	if res.Frontier.Done != 1 || res.Frontier.Discovered != 1 {
		t.Errorf("counts after interrupt = %+v, want a done and b pending", res.Frontier)
	}
	if res.Report.UniquePages != 1 {
		t.Errorf("UniquePages after interrupt = %d, want 1", res.Report.UniquePages)
	}

	d2 := &fakeDownloader{pages: d.pages}
	res, err = newTestCrawler(t, cfg, d2).Run(context.Background())
	if err != nil {
		t.Fatalf("resumed Run() error = %v", err)
	}

	if fetched := d2.Fetched(); len(fetched) != 1 || fetched[0] != "http://x.edu/b" {
		t.Errorf("resumed crawl fetched %v, want only b", fetched)
	}
	if res.Frontier.Done != 2 || res.Interrupted {
		t.Errorf("resumed counts = %+v interrupted=%v", res.Frontier, res.Interrupted)
	}
	if res.Report.UniquePages != 2 {
		t.Errorf("merged UniquePages = %d, want 2", res.Report.UniquePages)
	}
}

func TestRun_Restart(t *testing.T) {
	cfg := testConfig(t, "http://x.edu/a")
	d := &fakeDownloader{pages: map[string]string{
		"http://x.edu/a": htmlPage(150, "alpha", "b"),
		"http://x.edu/b": htmlPage(200, "beta"),
	}}

	if _, err := newTestCrawler(t, cfg, d).Run(context.Background()); err != nil {
		t.Fatalf("first Run() error = %v", err)
	}

	resumed := &fakeDownloader{pages: d.pages}
	res, err := newTestCrawler(t, cfg, resumed).Run(context.Background())
	if err != nil {
		t.Fatalf("resumed Run() error = %v", err)
	}
	if len(resumed.Fetched()) != 0 {
		t.Errorf("drained crawl refetched %v on resume", resumed.Fetched())
	}
	if res.Report.UniquePages != 2 {
		t.Errorf("resumed UniquePages = %d, want 2", res.Report.UniquePages)
	}

	cfg.Restart = true
	restarted := &fakeDownloader{pages: d.pages}
	res, err = newTestCrawler(t, cfg, restarted).Run(context.Background())
	if err != nil {
		t.Fatalf("restarted Run() error = %v", err)
	}
	if len(restarted.Fetched()) != 2 {
		t.Errorf("restart fetched %v, want a and b", restarted.Fetched())
	}
	if res.Report.UniquePages != 2 {
		t.Errorf("restarted UniquePages = %d, want 2 (shards wiped)", res.Report.UniquePages)
	}
}

func TestRun_AlreadyRunning(t *testing.T) {
	cfg := testConfig(t, "http://x.edu/a")
	c := newTestCrawler(t, cfg, &fakeDownloader{})
	c.running.Store(true)

	if _, err := c.Run(context.Background()); err == nil {
		t.Error("Run() on a running crawler should fail")
	}
}

func TestRun_JSONReport(t *testing.T) {
	cfg := testConfig(t, "http://x.edu/a")
	cfg.Report.Format = "json"
	d := &fakeDownloader{pages: map[string]string{
		"http://x.edu/a": htmlPage(150, "alpha"),
	}}

	res, err := newTestCrawler(t, cfg, d).Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if filepath.Base(res.ReportPath) != "report.json" {
		t.Errorf("ReportPath = %s", res.ReportPath)
	}
	data, _ := os.ReadFile(res.ReportPath)
	if !strings.Contains(string(data), `"unique_pages": 1`) {
		t.Errorf("report = %s", data)
	}
}

func TestRun_HTTPServer(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprint(w, htmlPage(150, "home", "/about", "/logo.png"))
	})
	mux.HandleFunc("/about", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprint(w, htmlPage(180, "about", "/"))
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	cfg := testConfig(t, server.URL+"/")
	c, err := New(WithConfig(cfg), WithLogger(logger.Nop()))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	res, err := c.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if res.Frontier.Done != 2 {
		t.Errorf("Done = %d, want 2 (the image link is out of scope)", res.Frontier.Done)
	}
	if res.Report.UniquePages != 2 {
		t.Errorf("UniquePages = %d, want 2", res.Report.UniquePages)
	}
}

func TestRun_MetricsEndpointStopsWithRun(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen() error = %v", err)
	}
	addr := ln.Addr().String()
	ln.Close()

	metricsURL := "http://" + addr + "/metrics"
	client := &http.Client{Timeout: time.Second}

	cfg := testConfig(t, "http://x.edu/a")
	cfg.Metrics.Addr = addr

	var servedDuringRun bool
	var once sync.Once
	d := &fakeDownloader{
		pages: map[string]string{"http://x.edu/a": htmlPage(150, "alpha")},
		onFetch: func(string) {
			once.Do(func() {
				for i := 0; i < 50; i++ {
					if resp, err := client.Get(metricsURL); err == nil {
						resp.Body.Close()
						servedDuringRun = resp.StatusCode == http.StatusOK
						return
					}
					time.Sleep(20 * time.Millisecond)
				}
			})
		},
	}

	c := newTestCrawler(t, cfg, d)
	if _, err := c.Run(context.Background()); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if !servedDuringRun {
		t.Error("/metrics should be served while the crawl runs")
	}

	if resp, err := client.Get(metricsURL); err == nil {
		resp.Body.Close()
		t.Errorf("/metrics still served after Run returned (status %d)", resp.StatusCode)
	}

	// The address is free again for a second run.
	if _, err := c.Run(context.Background()); err != nil {
		t.Fatalf("second Run() error = %v", err)
	}
}

func TestRegisterShutdown_Idle(t *testing.T) {
	cfg := testConfig(t, "http://x.edu/a")
	c := newTestCrawler(t, cfg, &fakeDownloader{})

	h := shutdown.New(shutdown.DefaultConfig())
	t.Cleanup(h.Stop)
	c.RegisterShutdown(h)

	if res := h.Shutdown(); res.HasErrors() {
		t.Errorf("Shutdown() errors = %v", res.Errors)
	}
}

func TestRegisterShutdown_WaitsForRun(t *testing.T) {
	cfg := testConfig(t, "http://x.edu/a")
	cfg.Workers = 1

	release := make(chan struct{})
	d := &fakeDownloader{pages: map[string]string{"http://x.edu/a": htmlPage(150, "alpha")}}
	d.onFetch = func(string) { <-release }

	c := newTestCrawler(t, cfg, d)
	h := shutdown.New(shutdown.DefaultConfig())
	t.Cleanup(h.Stop)
	c.RegisterShutdown(h)

	runDone := make(chan struct{})
	go func() {
		defer close(runDone)
		c.Run(h.Context())
	}()

	for !c.IsRunning() || len(d.Fetched()) == 0 {
		time.Sleep(5 * time.Millisecond)
	}

	shutdownDone := make(chan shutdown.Result)
	go func() { shutdownDone <- h.Shutdown() }()

	select {
	case <-shutdownDone:
		t.Fatal("Shutdown() returned while a URL was in flight")
	case <-time.After(50 * time.Millisecond):
	}

	close(release)
	if res := <-shutdownDone; res.HasErrors() {
		t.Errorf("Shutdown() errors = %v", res.Errors)
	}
	<-runDone
}
