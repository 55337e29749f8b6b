package stats

import (
	"encoding/json"
	"fmt"
	"sort"
)

// WordCount is one entry of a frequency table.
type WordCount struct {
	Word  string `json:"word"`
	Count int    `json:"count"`
}

// Frequencies is a word-frequency table that remembers the order in which
// words were first encountered. The zero value is ready to use.
type Frequencies struct {
	order  []string
	counts map[string]int
}

// Count builds a frequency table from a token list.
func Count(tokens []string) *Frequencies {
	f := &Frequencies{counts: make(map[string]int, len(tokens)/2)}
	for _, tok := range tokens {
		f.Add(tok, 1)
	}
	return f
}

// Add adds n occurrences of word.
func (f *Frequencies) Add(word string, n int) {
	if f.counts == nil {
		f.counts = make(map[string]int)
	}
	if _, ok := f.counts[word]; !ok {
		f.order = append(f.order, word)
	}
	f.counts[word] += n
}

// Merge adds every count of other, appending words new to f in other's order.
func (f *Frequencies) Merge(other *Frequencies) {
	if other == nil {
		return
	}
	for _, w := range other.order {
		f.Add(w, other.counts[w])
	}
}

// Get returns the count of word.
func (f *Frequencies) Get(word string) int {
	return f.counts[word]
}

// Len returns the number of distinct words.
func (f *Frequencies) Len() int {
	return len(f.order)
}

// Total returns the sum of all counts.
func (f *Frequencies) Total() int {
	total := 0
	for _, c := range f.counts {
		total += c
	}
	return total
}

// Map returns a copy of the counts.
func (f *Frequencies) Map() map[string]int {
	m := make(map[string]int, len(f.counts))
	for w, c := range f.counts {
		m[w] = c
	}
	return m
}

// Entries returns all words in first-encounter order.
func (f *Frequencies) Entries() []WordCount {
	out := make([]WordCount, len(f.order))
	for i, w := range f.order {
		out[i] = WordCount{Word: w, Count: f.counts[w]}
	}
	return out
}

// Top returns the k most frequent words not in stop, by descending count
// with ties in first-encounter order. k <= 0 returns every word.
func (f *Frequencies) Top(k int, stop map[string]struct{}) []WordCount {
	entries := make([]WordCount, 0, len(f.order))
	for _, w := range f.order {
		if _, skip := stop[w]; skip {
			continue
		}
		entries = append(entries, WordCount{Word: w, Count: f.counts[w]})
	}

	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].Count > entries[j].Count
	})

	if k > 0 && len(entries) > k {
		entries = entries[:k]
	}
	return entries
}

// MarshalJSON encodes the table as an ordered list.
func (f *Frequencies) MarshalJSON() ([]byte, error) {
	return json.Marshal(f.Entries())
}

// UnmarshalJSON decodes an ordered list.
func (f *Frequencies) UnmarshalJSON(data []byte) error {
	var entries []WordCount
	if err := json.Unmarshal(data, &entries); err != nil {
		return err
	}
	*f = Frequencies{counts: make(map[string]int, len(entries))}
	for _, e := range entries {
		if _, dup := f.counts[e.Word]; dup {
			return fmt.Errorf("duplicate word %q in frequency table", e.Word)
		}
		f.Add(e.Word, e.Count)
	}
	return nil
}
