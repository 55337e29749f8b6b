package crawler

import (
	"fmt"
	"time"

	"github.com/PentesterFlow/PoliteCrawler/internal/logger"
	"github.com/PentesterFlow/PoliteCrawler/internal/metrics"
	"github.com/PentesterFlow/PoliteCrawler/internal/progress"
	"github.com/PentesterFlow/PoliteCrawler/internal/stats"
)

// Option is a functional option for configuring the Crawler.
type Option func(*Crawler) error

// WithConfig sets the entire configuration. Options applied after it
// modify the given config.
func WithConfig(config *Config) Option {
	return func(c *Crawler) error {
		if config == nil {
			return fmt.Errorf("config must not be nil")
		}
		c.config = config
		return nil
	}
}

// WithSeeds appends seed URLs.
func WithSeeds(urls ...string) Option {
	return func(c *Crawler) error {
		c.config.Seeds = append(c.config.Seeds, urls...)
		return nil
	}
}

// WithWorkers sets the number of concurrent workers.
func WithWorkers(n int) Option {
	return func(c *Crawler) error {
		if n < 1 {
			n = 1
		}
		c.config.Workers = n
		return nil
	}
}

// WithDelay sets the politeness delay each worker takes after a URL.
func WithDelay(d time.Duration) Option {
	return func(c *Crawler) error {
		if d < 0 {
			d = 0
		}
		c.config.Politeness.Delay = Duration(d)
		return nil
	}
}

// WithRestart discards all persisted state before crawling.
func WithRestart(restart bool) Option {
	return func(c *Crawler) error {
		c.config.Restart = restart
		return nil
	}
}

// WithAllowedDomains sets the domains links may point to.
func WithAllowedDomains(domains ...string) Option {
	return func(c *Crawler) error {
		c.config.Scope.AllowedDomains = domains
		return nil
	}
}

// WithMinTokens sets the thin-content cutoff of the default processor.
func WithMinTokens(n int) Option {
	return func(c *Crawler) error {
		if n < 0 {
			n = 0
		}
		c.config.MinTokens = n
		return nil
	}
}

// WithNearDuplicates enables near-duplicate detection at threshold, or
// disables it when threshold is zero.
func WithNearDuplicates(threshold float64) Option {
	return func(c *Crawler) error {
		c.config.SimHash.Enabled = threshold > 0
		if threshold > 0 {
			c.config.SimHash.Threshold = threshold
		}
		return nil
	}
}

// WithDownloader replaces the HTTP downloader.
func WithDownloader(d Downloader) Option {
	return func(c *Crawler) error {
		c.downloader = d
		return nil
	}
}

// WithProcessor replaces the HTML page processor.
func WithProcessor(p PageProcessor) Option {
	return func(c *Crawler) error {
		c.processor = p
		return nil
	}
}

// WithValidator replaces the scope validator.
func WithValidator(v LinkValidator) Option {
	return func(c *Crawler) error {
		c.validator = v
		return nil
	}
}

// WithShardStore replaces the file-backed stats shard store.
func WithShardStore(s stats.Store) Option {
	return func(c *Crawler) error {
		c.shards = s
		return nil
	}
}

// WithLogger sets a custom logger.
func WithLogger(l *logger.Logger) Option {
	return func(c *Crawler) error {
		c.logger = l
		return nil
	}
}

// WithMetrics sets a custom metrics collector.
func WithMetrics(m *metrics.Collector) Option {
	return func(c *Crawler) error {
		c.metrics = m
		return nil
	}
}

// WithProgress enables/disables progress bar display.
func WithProgress(enabled bool) Option {
	return func(c *Crawler) error {
		c.showProgress = enabled
		return nil
	}
}

// WithProgressDisplay enables progress output on a custom display.
func WithProgressDisplay(d *progress.Display) Option {
	return func(c *Crawler) error {
		c.progress = d
		c.showProgress = d != nil
		return nil
	}
}
