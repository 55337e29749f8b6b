// Package stats holds the per-worker crawl statistics: durable shards, the
// merge of shards into crawl-wide totals, and the report built from them.
package stats

import (
	"encoding/json"
	"errors"
)

// ErrAlreadyRecorded is returned by Shard.Record for a URL the shard has
// already counted. It happens when a crash lands between the shard write and
// the frontier completion, so the URL is fetched again on resume.
var ErrAlreadyRecorded = errors.New("url already recorded in shard")

// Longest identifies the page with the most words.
type Longest struct {
	URL   string `json:"url"`
	Words int    `json:"words"`
}

// Page is the statistics contribution of one stored page.
type Page struct {
	URL string
	// Host is counted in the subdomain census. Empty means not counted.
	Host      string
	Words     *Frequencies
	WordCount int
}

// Shard is the statistics owned by one worker.
type Shard struct {
	WorkerID   int
	URLs       StringSet
	Longest    Longest
	Words      *Frequencies
	Subdomains StringSet
}

// NewShard returns an empty shard for a worker.
func NewShard(workerID int) *Shard {
	return &Shard{
		WorkerID: workerID,
		Words:    &Frequencies{},
	}
}

// Record adds one page to the shard. A URL already in the shard leaves the
// shard unchanged and returns ErrAlreadyRecorded.
func (s *Shard) Record(p Page) error {
	if s.URLs.Contains(p.URL) {
		return ErrAlreadyRecorded
	}
	s.URLs.Add(p.URL)

	if p.WordCount > s.Longest.Words {
		s.Longest = Longest{URL: p.URL, Words: p.WordCount}
	}

	if s.Words == nil {
		s.Words = &Frequencies{}
	}
	s.Words.Merge(p.Words)

	if p.Host != "" {
		s.Subdomains.Add(p.Host)
	}
	return nil
}

// UniquePages returns the number of recorded URLs.
func (s *Shard) UniquePages() int {
	return s.URLs.Len()
}

type shardJSON struct {
	WorkerID   int          `json:"worker_id"`
	URLs       []string     `json:"urls"`
	Longest    Longest      `json:"longest"`
	Words      *Frequencies `json:"words"`
	Subdomains []string     `json:"subdomains"`
}

// MarshalJSON implements json.Marshaler.
func (s *Shard) MarshalJSON() ([]byte, error) {
	words := s.Words
	if words == nil {
		words = &Frequencies{}
	}
	return json.Marshal(shardJSON{
		WorkerID:   s.WorkerID,
		URLs:       s.URLs.Values(),
		Longest:    s.Longest,
		Words:      words,
		Subdomains: s.Subdomains.Values(),
	})
}

// UnmarshalJSON implements json.Unmarshaler.
func (s *Shard) UnmarshalJSON(data []byte) error {
	var raw shardJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	*s = Shard{
		WorkerID: raw.WorkerID,
		Longest:  raw.Longest,
		Words:    raw.Words,
	}
	if s.Words == nil {
		s.Words = &Frequencies{}
	}
	for _, u := range raw.URLs {
		s.URLs.Add(u)
	}
	for _, h := range raw.Subdomains {
		s.Subdomains.Add(h)
	}
	return nil
}

// StringSet is a set of strings that keeps insertion order. The zero value
// is an empty set.
type StringSet struct {
	order []string
	index map[string]struct{}
}

// Add inserts v and reports whether it was new.
func (s *StringSet) Add(v string) bool {
	if s.index == nil {
		s.index = make(map[string]struct{})
	}
	if _, ok := s.index[v]; ok {
		return false
	}
	s.index[v] = struct{}{}
	s.order = append(s.order, v)
	return true
}

// Contains reports whether v is in the set.
func (s *StringSet) Contains(v string) bool {
	_, ok := s.index[v]
	return ok
}

// Len returns the set size.
func (s *StringSet) Len() int {
	return len(s.order)
}

// Values returns the members in insertion order.
func (s *StringSet) Values() []string {
	return append([]string(nil), s.order...)
}
