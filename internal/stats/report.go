package stats

import (
	"sort"

	"github.com/PentesterFlow/PoliteCrawler/internal/urlutil"
)

// DefaultTopWords is the number of words listed in a report.
const DefaultTopWords = 50

// SubdomainCount is one line of the subdomain census.
type SubdomainCount struct {
	Host  string `json:"host"`
	Pages int    `json:"pages"`
}

// Report is the summary of a shard or of merged shards.
type Report struct {
	// WorkerID is -1 for a merged report.
	WorkerID    int              `json:"worker_id"`
	UniquePages int              `json:"unique_pages"`
	TopWords    []WordCount      `json:"top_words"`
	Longest     Longest          `json:"longest"`
	Subdomains  []SubdomainCount `json:"subdomains"`
}

// BuildReport summarizes a shard. The top k words exclude stop; subdomains
// are sorted alphabetically, each with the number of recorded URLs on it.
func BuildReport(s *Shard, stop map[string]struct{}, k int) Report {
	pages := make(map[string]int)
	for _, u := range s.URLs.order {
		pages[urlutil.Hostname(u)]++
	}

	hosts := s.Subdomains.Values()
	sort.Strings(hosts)
	subdomains := make([]SubdomainCount, len(hosts))
	for i, h := range hosts {
		subdomains[i] = SubdomainCount{Host: h, Pages: pages[h]}
	}

	words := s.Words
	if words == nil {
		words = &Frequencies{}
	}

	return Report{
		WorkerID:    s.WorkerID,
		UniquePages: s.URLs.Len(),
		TopWords:    words.Top(k, stop),
		Longest:     s.Longest,
		Subdomains:  subdomains,
	}
}
