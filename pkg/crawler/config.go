package crawler

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/PentesterFlow/PoliteCrawler/internal/fetch"
	"github.com/PentesterFlow/PoliteCrawler/internal/parser"
	"github.com/PentesterFlow/PoliteCrawler/internal/scope"
	"github.com/PentesterFlow/PoliteCrawler/internal/simhash"
	"github.com/PentesterFlow/PoliteCrawler/internal/stats"
	"gopkg.in/yaml.v3"
)

// Config holds all crawler configuration.
type Config struct {
	// Seed URLs added to the frontier on every start
	Seeds []string `json:"seeds" yaml:"seeds"`

	// Number of concurrent workers
	Workers int `json:"workers" yaml:"workers"`

	// Discard the frontier, signature store and stats shards before crawling
	Restart bool `json:"restart" yaml:"restart"`

	// Pages with fewer tokens are discarded
	MinTokens int `json:"min_tokens" yaml:"min_tokens"`

	Politeness PolitenessConfig `json:"politeness" yaml:"politeness"`
	Scope      scope.Rules      `json:"scope" yaml:"scope"`
	HTTP       HTTPConfig       `json:"http" yaml:"http"`
	Frontier   FrontierConfig   `json:"frontier" yaml:"frontier"`
	SimHash    SimHashConfig    `json:"simhash" yaml:"simhash"`
	Stats      StatsConfig      `json:"stats" yaml:"stats"`
	Report     ReportConfig     `json:"report" yaml:"report"`
	Log        LogConfig        `json:"log" yaml:"log"`
	Metrics    MetricsConfig    `json:"metrics" yaml:"metrics"`
}

// PolitenessConfig controls request pacing.
type PolitenessConfig struct {
	// Pause every worker takes after each URL
	Delay Duration `json:"delay" yaml:"delay"`

	// Crawl-wide request ceiling. Zero disables it.
	MaxRequestsPerSecond float64 `json:"max_requests_per_second" yaml:"max_requests_per_second"`
}

// HTTPConfig configures the downloader.
type HTTPConfig struct {
	Timeout      Duration `json:"timeout" yaml:"timeout"`
	UserAgent    string   `json:"user_agent" yaml:"user_agent"`
	MaxBodyBytes int64    `json:"max_body_bytes" yaml:"max_body_bytes"`
	MaxRedirects int      `json:"max_redirects" yaml:"max_redirects"`
}

// FrontierConfig configures the persistent URL queue.
type FrontierConfig struct {
	Path string `json:"path" yaml:"path"`

	// WaitInFlight keeps an idle worker waiting while other workers still
	// hold URLs that may yield new links. When false a worker stops at the
	// first empty answer.
	WaitInFlight bool `json:"wait_in_flight" yaml:"wait_in_flight"`
}

// SimHashConfig configures near-duplicate detection.
type SimHashConfig struct {
	Enabled   bool    `json:"enabled" yaml:"enabled"`
	Path      string  `json:"path" yaml:"path"`
	Bits      int     `json:"bits" yaml:"bits"`
	Threshold float64 `json:"threshold" yaml:"threshold"`
}

// StatsConfig configures the shard store.
type StatsConfig struct {
	Dir      string `json:"dir" yaml:"dir"`
	Compress bool   `json:"compress" yaml:"compress"`
}

// ReportConfig configures report output.
type ReportConfig struct {
	Dir      string `json:"dir" yaml:"dir"`
	Format   string `json:"format" yaml:"format"`
	TopWords int    `json:"top_words" yaml:"top_words"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `json:"level" yaml:"level"`
	Pretty bool   `json:"pretty" yaml:"pretty"`
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	// Listen address for /metrics. Empty disables the endpoint.
	Addr string `json:"addr" yaml:"addr"`
}

// Duration is a time.Duration written as a string such as "500ms" in
// configuration files.
type Duration time.Duration

// Std returns d as a time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

func (d Duration) String() string {
	return time.Duration(d).String()
}

// MarshalJSON implements json.Marshaler.
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

// UnmarshalJSON accepts a duration string or a number of nanoseconds.
func (d *Duration) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		return d.parse(s)
	}
	var n int64
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("invalid duration %s", data)
	}
	*d = Duration(n)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (interface{}, error) {
	return d.String(), nil
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.ScalarNode {
		return fmt.Errorf("line %d: duration must be a scalar", node.Line)
	}
	if n, err := strconv.ParseInt(node.Value, 10, 64); err == nil {
		*d = Duration(n)
		return nil
	}
	return d.parse(node.Value)
}

func (d *Duration) parse(s string) error {
	v, err := time.ParseDuration(strings.TrimSpace(s))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(v)
	return nil
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	httpDefaults := fetch.DefaultConfig()

	return &Config{
		Workers:   4,
		MinTokens: parser.DefaultMinTokens,
		Politeness: PolitenessConfig{
			Delay: Duration(500 * time.Millisecond),
		},
		Scope: scope.DefaultRules(),
		HTTP: HTTPConfig{
			Timeout:      Duration(httpDefaults.Timeout),
			UserAgent:    httpDefaults.UserAgent,
			MaxBodyBytes: httpDefaults.MaxBodyBytes,
			MaxRedirects: httpDefaults.MaxRedirects,
		},
		Frontier: FrontierConfig{
			Path:         "data/frontier.db",
			WaitInFlight: true,
		},
		SimHash: SimHashConfig{
			Enabled:   true,
			Path:      "data/simhash.db",
			Bits:      simhash.DefaultBits,
			Threshold: 0.9,
		},
		Stats: StatsConfig{
			Dir: "data/stats",
		},
		Report: ReportConfig{
			Dir:      "reports",
			Format:   "text",
			TopWords: stats.DefaultTopWords,
		},
		Log: LogConfig{
			Level:  "info",
			Pretty: true,
		},
	}
}

// LoadFromFile loads configuration from a YAML or JSON file. Fields the file
// omits keep their defaults.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := DefaultConfig()

	// Try YAML first, then JSON
	if err := yaml.Unmarshal(data, config); err != nil {
		config = DefaultConfig()
		if err := json.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	return config, nil
}

// SaveToFile saves configuration to a file.
func (c *Config) SaveToFile(path string) error {
	var data []byte
	var err error

	if strings.HasSuffix(path, ".json") {
		data, err = json.MarshalIndent(c, "", "  ")
	} else {
		data, err = yaml.Marshal(c)
	}

	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	return os.WriteFile(path, data, 0644)
}

// Environment variables read by ApplyEnv.
const (
	EnvSeeds          = "CRAWLER_SEEDS"
	EnvWorkers        = "CRAWLER_WORKERS"
	EnvDelay          = "CRAWLER_DELAY"
	EnvRestart        = "CRAWLER_RESTART"
	EnvUserAgent      = "CRAWLER_USER_AGENT"
	EnvFrontierPath   = "CRAWLER_FRONTIER_PATH"
	EnvLogLevel       = "CRAWLER_LOG_LEVEL"
	EnvMetricsAddr    = "CRAWLER_METRICS_ADDR"
	EnvAllowedDomains = "CRAWLER_ALLOWED_DOMAINS"
)

// ApplyEnv overrides configuration from CRAWLER_* environment variables.
// List values are comma separated.
func (c *Config) ApplyEnv() error {
	if v, ok := lookupEnv(EnvSeeds); ok {
		c.Seeds = splitList(v)
	}
	if v, ok := lookupEnv(EnvWorkers); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvWorkers, err)
		}
		c.Workers = n
	}
	if v, ok := lookupEnv(EnvDelay); ok {
		if err := c.Politeness.Delay.parse(v); err != nil {
			return fmt.Errorf("%s: %w", EnvDelay, err)
		}
	}
	if v, ok := lookupEnv(EnvRestart); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvRestart, err)
		}
		c.Restart = b
	}
	if v, ok := lookupEnv(EnvUserAgent); ok {
		c.HTTP.UserAgent = v
	}
	if v, ok := lookupEnv(EnvFrontierPath); ok {
		c.Frontier.Path = v
	}
	if v, ok := lookupEnv(EnvLogLevel); ok {
		c.Log.Level = v
	}
	if v, ok := lookupEnv(EnvMetricsAddr); ok {
		c.Metrics.Addr = v
	}
	if v, ok := lookupEnv(EnvAllowedDomains); ok {
		c.Scope.AllowedDomains = splitList(v)
	}
	return nil
}

func lookupEnv(key string) (string, bool) {
	v, ok := os.LookupEnv(key)
	if !ok {
		return "", false
	}
	v = strings.TrimSpace(v)
	return v, v != ""
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if len(c.Seeds) == 0 {
		return fmt.Errorf("at least one seed URL is required")
	}

	if c.Workers < 1 {
		return fmt.Errorf("workers must be at least 1")
	}

	if c.MinTokens < 0 {
		return fmt.Errorf("min tokens must not be negative")
	}

	if c.Politeness.Delay < 0 {
		return fmt.Errorf("politeness delay must not be negative")
	}

	if c.HTTP.Timeout <= 0 {
		return fmt.Errorf("http timeout must be positive")
	}

	if c.Frontier.Path == "" {
		return fmt.Errorf("frontier path is required")
	}

	if c.SimHash.Enabled {
		if c.SimHash.Path == "" {
			return fmt.Errorf("simhash path is required when detection is enabled")
		}
		if c.SimHash.Bits <= 0 || c.SimHash.Bits%8 != 0 {
			return fmt.Errorf("simhash bits must be a positive multiple of 8, got %d", c.SimHash.Bits)
		}
		if c.SimHash.Threshold <= 0 || c.SimHash.Threshold > 1 {
			return fmt.Errorf("simhash threshold must be in (0, 1], got %g", c.SimHash.Threshold)
		}
	}

	if c.Stats.Dir == "" {
		return fmt.Errorf("stats directory is required")
	}

	if c.Report.TopWords < 1 {
		return fmt.Errorf("report top words must be at least 1")
	}

	switch strings.ToLower(c.Report.Format) {
	case "", "text", "json":
	default:
		return fmt.Errorf("unsupported report format %q", c.Report.Format)
	}

	return nil
}

// Clone creates a deep copy of the configuration.
func (c *Config) Clone() *Config {
	data, _ := json.Marshal(c)
	clone := &Config{}
	json.Unmarshal(data, clone)
	return clone
}
