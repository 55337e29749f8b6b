package crawler

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"gopkg.in/yaml.v3"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Workers != 4 {
		t.Errorf("Workers = %d, want 4", cfg.Workers)
	}
	if cfg.MinTokens != 130 {
		t.Errorf("MinTokens = %d, want 130", cfg.MinTokens)
	}
	if cfg.Politeness.Delay.Std() != 500*time.Millisecond {
		t.Errorf("Delay = %v, want 500ms", cfg.Politeness.Delay)
	}
	if !cfg.Frontier.WaitInFlight {
		t.Error("WaitInFlight should default to true")
	}
	if !cfg.SimHash.Enabled || cfg.SimHash.Bits != 256 || cfg.SimHash.Threshold != 0.9 {
		t.Errorf("SimHash = %+v", cfg.SimHash)
	}
	if cfg.Report.TopWords != 50 {
		t.Errorf("TopWords = %d, want 50", cfg.Report.TopWords)
	}
	if len(cfg.Scope.TrapPatterns) == 0 {
		t.Error("default trap patterns missing")
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr string
	}{
		{"valid", func(c *Config) {}, ""},
		{"no seeds", func(c *Config) { c.Seeds = nil }, "seed"},
		{"zero workers", func(c *Config) { c.Workers = 0 }, "workers"},
		{"negative min tokens", func(c *Config) { c.MinTokens = -1 }, "min tokens"},
		{"negative delay", func(c *Config) { c.Politeness.Delay = Duration(-time.Second) }, "delay"},
		{"zero timeout", func(c *Config) { c.HTTP.Timeout = 0 }, "timeout"},
		{"no frontier path", func(c *Config) { c.Frontier.Path = "" }, "frontier path"},
		{"bits not multiple of 8", func(c *Config) { c.SimHash.Bits = 100 }, "multiple of 8"},
		{"threshold above one", func(c *Config) { c.SimHash.Threshold = 1.5 }, "threshold"},
		{"disabled detector ignores bits", func(c *Config) {
			c.SimHash.Enabled = false
			c.SimHash.Bits = 3
		}, ""},
		{"no stats dir", func(c *Config) { c.Stats.Dir = "" }, "stats"},
		{"zero top words", func(c *Config) { c.Report.TopWords = 0 }, "top words"},
		{"bad format", func(c *Config) { c.Report.Format = "xml" }, "format"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			cfg.Seeds = []string{"http://x.edu/"}
			tt.modify(cfg)

			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() error = %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() error = %v, want it to mention %q", err, tt.wantErr)
			}
		})
	}
}

func TestConfig_Clone(t *testing.T) {
	orig := DefaultConfig()
	orig.Seeds = []string{"http://x.edu/"}
	orig.Scope.AllowedDomains = []string{"x.edu"}

	clone := orig.Clone()
	clone.Seeds[0] = "http://y.org/"
	clone.Scope.AllowedDomains = append(clone.Scope.AllowedDomains, "y.org")

	if orig.Seeds[0] != "http://x.edu/" || len(orig.Scope.AllowedDomains) != 1 {
		t.Error("Clone() shares state with the original")
	}
	if clone.Politeness.Delay != orig.Politeness.Delay {
		t.Errorf("cloned Delay = %v, want %v", clone.Politeness.Delay, orig.Politeness.Delay)
	}
}

// =============================================================================
// File Tests
// =============================================================================

func TestConfig_SaveAndLoad(t *testing.T) {
	for _, name := range []string{"config.yaml", "config.json"} {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), name)

			cfg := DefaultConfig()
			cfg.Seeds = []string{"http://x.edu/a"}
			cfg.Politeness.Delay = Duration(2 * time.Second)
			cfg.Scope.AllowedDomains = []string{"x.edu"}

			if err := cfg.SaveToFile(path); err != nil {
				t.Fatalf("SaveToFile() error = %v", err)
			}

			data, _ := os.ReadFile(path)
			if !strings.Contains(string(data), "2s") {
				t.Errorf("delay should be written as a duration string:\n%s", data)
			}

			loaded, err := LoadFromFile(path)
			if err != nil {
				t.Fatalf("LoadFromFile() error = %v", err)
			}
			if loaded.Politeness.Delay.Std() != 2*time.Second {
				t.Errorf("Delay = %v, want 2s", loaded.Politeness.Delay)
			}
			if len(loaded.Seeds) != 1 || loaded.Scope.AllowedDomains[0] != "x.edu" {
				t.Errorf("loaded = %+v", loaded)
			}
		})
	}
}

func TestLoadFromFile_PartialKeepsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "crawl.yaml")
	content := `
seeds:
  - http://x.edu/
workers: 8
politeness:
  delay: 250ms
frontier:
  path: /tmp/f.db
`
	os.WriteFile(path, []byte(content), 0644)

	cfg, err := LoadFromFile(path)
	if err != nil {
		t.Fatalf("LoadFromFile() error = %v", err)
	}
	if cfg.Workers != 8 || cfg.Politeness.Delay.Std() != 250*time.Millisecond {
		t.Errorf("loaded = workers %d delay %v", cfg.Workers, cfg.Politeness.Delay)
	}
	if !cfg.Frontier.WaitInFlight {
		t.Error("omitted wait_in_flight should keep its default")
	}
	if cfg.SimHash.Threshold != 0.9 || cfg.MinTokens != 130 {
		t.Error("omitted sections should keep their defaults")
	}
}

func TestLoadFromFile_NonExistent(t *testing.T) {
	if _, err := LoadFromFile(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("LoadFromFile() should fail for a missing file")
	}
}

func TestLoadFromFile_InvalidContent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	os.WriteFile(path, []byte("workers: [unterminated"), 0644)

	if _, err := LoadFromFile(path); err == nil {
		t.Error("LoadFromFile() should fail for invalid content")
	}
}

// =============================================================================
// Duration Tests
// =============================================================================

func TestDuration_JSON(t *testing.T) {
	tests := []struct {
		in   string
		want time.Duration
	}{
		{`"1.5s"`, 1500 * time.Millisecond},
		{`"0s"`, 0},
		{`1000000`, time.Millisecond},
	}

	for _, tt := range tests {
		var d Duration
		if err := json.Unmarshal([]byte(tt.in), &d); err != nil {
			t.Errorf("Unmarshal(%s) error = %v", tt.in, err)
			continue
		}
		if d.Std() != tt.want {
			t.Errorf("Unmarshal(%s) = %v, want %v", tt.in, d, tt.want)
		}
	}

	var d Duration
	if err := json.Unmarshal([]byte(`"soon"`), &d); err == nil {
		t.Error("Unmarshal should reject an invalid duration")
	}
}

func TestDuration_YAML(t *testing.T) {
	var v struct {
		D Duration `yaml:"d"`
	}
	if err := yaml.Unmarshal([]byte("d: 3m"), &v); err != nil {
		t.Fatalf("Unmarshal error = %v", err)
	}
	if v.D.Std() != 3*time.Minute {
		t.Errorf("D = %v, want 3m", v.D)
	}

	out, err := yaml.Marshal(v)
	if err != nil {
		t.Fatalf("Marshal error = %v", err)
	}
	if strings.TrimSpace(string(out)) != "d: 3m0s" {
		t.Errorf("Marshal = %q", out)
	}

	if err := yaml.Unmarshal([]byte("d: [1]"), &v); err == nil {
		t.Error("Unmarshal should reject a non-scalar duration")
	}
}

// =============================================================================
// ApplyEnv Tests
// =============================================================================

func TestConfig_ApplyEnv(t *testing.T) {
	t.Setenv(EnvSeeds, "http://x.edu/a, http://x.edu/b")
	t.Setenv(EnvWorkers, "6")
	t.Setenv(EnvDelay, "1s")
	t.Setenv(EnvRestart, "true")
	t.Setenv(EnvUserAgent, "TestBot/1.0")
	t.Setenv(EnvFrontierPath, "/var/lib/crawler/frontier.db")
	t.Setenv(EnvLogLevel, "debug")
	t.Setenv(EnvMetricsAddr, ":9100")
	t.Setenv(EnvAllowedDomains, "x.edu,y.org")

	cfg := DefaultConfig()
	if err := cfg.ApplyEnv(); err != nil {
		t.Fatalf("ApplyEnv() error = %v", err)
	}

	if len(cfg.Seeds) != 2 || cfg.Seeds[1] != "http://x.edu/b" {
		t.Errorf("Seeds = %v", cfg.Seeds)
	}
	if cfg.Workers != 6 || cfg.Politeness.Delay.Std() != time.Second || !cfg.Restart {
		t.Errorf("workers=%d delay=%v restart=%v", cfg.Workers, cfg.Politeness.Delay, cfg.Restart)
	}
	if cfg.HTTP.UserAgent != "TestBot/1.0" || cfg.Frontier.Path != "/var/lib/crawler/frontier.db" {
		t.Errorf("http=%+v frontier=%+v", cfg.HTTP, cfg.Frontier)
	}
	if cfg.Log.Level != "debug" || cfg.Metrics.Addr != ":9100" {
		t.Errorf("log=%+v metrics=%+v", cfg.Log, cfg.Metrics)
	}
	if len(cfg.Scope.AllowedDomains) != 2 || cfg.Scope.AllowedDomains[1] != "y.org" {
		t.Errorf("AllowedDomains = %v", cfg.Scope.AllowedDomains)
	}
}

func TestConfig_ApplyEnv_Invalid(t *testing.T) {
	tests := []struct {
		key   string
		value string
	}{
		{EnvWorkers, "many"},
		{EnvDelay, "later"},
		{EnvRestart, "perhaps"},
	}

	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			t.Setenv(tt.key, tt.value)
			if err := DefaultConfig().ApplyEnv(); err == nil {
				t.Errorf("ApplyEnv() with %s=%s should fail", tt.key, tt.value)
			}
		})
	}
}

func TestConfig_ApplyEnv_EmptyIgnored(t *testing.T) {
	t.Setenv(EnvWorkers, "  ")
	cfg := DefaultConfig()
	if err := cfg.ApplyEnv(); err != nil {
		t.Fatalf("ApplyEnv() error = %v", err)
	}
	if cfg.Workers != 4 {
		t.Errorf("Workers = %d, want default 4", cfg.Workers)
	}
}
