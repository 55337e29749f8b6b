package crawler

import (
	"context"
	"time"

	"github.com/PentesterFlow/PoliteCrawler/internal/fetch"
	"github.com/PentesterFlow/PoliteCrawler/internal/frontier"
	"github.com/PentesterFlow/PoliteCrawler/internal/metrics"
	"github.com/PentesterFlow/PoliteCrawler/internal/parser"
	"github.com/PentesterFlow/PoliteCrawler/internal/stats"
)

// Downloader retrieves one URL. Non-200 responses are returned without an
// error; only transport failures produce one.
type Downloader interface {
	Fetch(ctx context.Context, url string) (*fetch.Response, error)
}

// PageProcessor extracts links and tokens from a response. It returns
// parser.ErrThinContent for pages below the minimum token count.
type PageProcessor interface {
	Process(resp *fetch.Response) (*parser.Page, error)
}

// LinkValidator decides whether a discovered link is in scope.
type LinkValidator interface {
	Allowed(url string) bool
}

// SubdomainCensus is implemented by validators that choose which host a page
// counts toward in the subdomain census. An empty result means the page is
// not counted.
type SubdomainCensus interface {
	CensusHost(url string) string
}

// Outcome is what happened to one dispensed URL.
type Outcome string

const (
	OutcomeStored    Outcome = "stored"
	OutcomeThin      Outcome = "thin"
	OutcomeDuplicate Outcome = "duplicate"
	OutcomeFailed    Outcome = "failed"
	// OutcomeDeferred means the crawl stopped before the URL was fetched.
	// It stays in progress and is requeued on the next resume.
	OutcomeDeferred Outcome = "deferred"
)

// Result summarizes a finished crawl.
type Result struct {
	StartedAt   time.Time `json:"started_at"`
	CompletedAt time.Time `json:"completed_at"`
	Duration    string    `json:"duration"`

	// Interrupted is set when the crawl stopped before the frontier drained.
	Interrupted bool `json:"interrupted"`

	Frontier frontier.Counts `json:"frontier"`
	Report   stats.Report    `json:"report"`

	// ReportPath is the merged report file, empty when none was written.
	ReportPath string `json:"report_path,omitempty"`

	Metrics *metrics.Snapshot `json:"metrics,omitempty"`
}
