package stats

// Merge combines shards into crawl-wide totals. Word counts are summed,
// URL and subdomain sets are unioned, and the longest page is the one with
// the most words, the earliest shard in argument order winning ties.
func Merge(shards ...*Shard) *Shard {
	out := NewShard(-1)
	for _, s := range shards {
		if s == nil {
			continue
		}
		for _, u := range s.URLs.order {
			out.URLs.Add(u)
		}
		if s.Longest.Words > out.Longest.Words {
			out.Longest = s.Longest
		}
		out.Words.Merge(s.Words)
		for _, h := range s.Subdomains.order {
			out.Subdomains.Add(h)
		}
	}
	return out
}
