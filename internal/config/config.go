package config

import (
	"fmt"
	"io"
	"net/http"
	"os"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// MaxWorkers bounds the crawl worker pool.
const MaxWorkers = 8

// Config captures everything required to run a crawl and its control plane.
type Config struct {
	Crawl     CrawlConfig     `yaml:"crawl" json:"crawl"`
	Fetch     FetchConfig     `yaml:"fetch" json:"fetch"`
	Rendering RenderingConfig `yaml:"rendering" json:"rendering"`
	Logging   LoggingConfig   `yaml:"logging" json:"logging"`
	Server    ServerConfig    `yaml:"server" json:"server"`
}

// CrawlConfig controls traversal.
type CrawlConfig struct {
	SeedURL              string `yaml:"seed_url" json:"seed_url"`
	MaxDepth             int    `yaml:"max_depth" json:"max_depth"`
	OutputDir            string `yaml:"output_dir" json:"output_dir"`
	Workers              int    `yaml:"workers" json:"workers"`
	PerOriginConcurrency int    `yaml:"per_origin_concurrency" json:"per_origin_concurrency"`
	// MaxLinksPerPage caps anchors and sub-resources taken from one page; 0 disables the cap.
	MaxLinksPerPage int `yaml:"max_links_per_page" json:"max_links_per_page"`
}

// FetchConfig tunes the direct HTTP transport.
type FetchConfig struct {
	MaxAttempts        int               `yaml:"max_attempts" json:"max_attempts"`
	BackoffBase        Duration          `yaml:"backoff_base" json:"backoff_base"`
	BackoffMultiplier  float64           `yaml:"backoff_multiplier" json:"backoff_multiplier"`
	MaxBackoff         Duration          `yaml:"max_backoff" json:"max_backoff"`
	RequestTimeout     Duration          `yaml:"request_timeout" json:"request_timeout"`
	MinDelay           Duration          `yaml:"min_delay" json:"min_delay"`
	MaxDelay           Duration          `yaml:"max_delay" json:"max_delay"`
	MaxBodyBytes       int64             `yaml:"max_body_bytes" json:"max_body_bytes"`
	RetryStatuses      []int             `yaml:"retry_statuses" json:"retry_statuses"`
	RespectRetryAfter  bool              `yaml:"respect_retry_after" json:"respect_retry_after"`
	ProxyURL           string            `yaml:"proxy_url" json:"proxy_url,omitempty"`
	Headers            map[string]string `yaml:"headers" json:"headers,omitempty"`
	UserAgents         []string          `yaml:"user_agents" json:"user_agents,omitempty"`
	RateLimitPerOrigin RateLimitConfig   `yaml:"rate_limit_per_origin" json:"rate_limit_per_origin"`
}

// RateLimitConfig applies a token bucket per origin.
type RateLimitConfig struct {
	Requests int      `yaml:"requests" json:"requests"`
	Window   Duration `yaml:"window" json:"window"`
}

// RenderingConfig controls the browser fallback transport.
type RenderingConfig struct {
	Enabled            bool     `yaml:"enabled" json:"enabled"`
	Engine             string   `yaml:"engine" json:"engine"`
	Timeout            Duration `yaml:"timeout" json:"timeout"`
	SettleMin          Duration `yaml:"settle_min" json:"settle_min"`
	SettleMax          Duration `yaml:"settle_max" json:"settle_max"`
	DisableHeadless    bool     `yaml:"disable_headless" json:"disable_headless"`
	ConcurrentSessions int      `yaml:"concurrent_sessions" json:"concurrent_sessions"`
}

// LoggingConfig selects log verbosity, format and the append-only event file.
type LoggingConfig struct {
	Level      string `yaml:"level" json:"level"`
	Structured bool   `yaml:"structured" json:"structured"`
	File       string `yaml:"file" json:"file"`
}

// ServerConfig configures the HTTP control plane.
type ServerConfig struct {
	Addr           string `yaml:"addr" json:"addr"`
	MaxConcurrency int    `yaml:"max_concurrency" json:"max_concurrency"`
}

// Default returns a Config populated with sensible defaults.
func Default() Config {
	return Config{
		Crawl: CrawlConfig{
			MaxDepth:             2,
			OutputDir:            ".",
			Workers:              4,
			PerOriginConcurrency: 2,
		},
		Fetch: FetchConfig{
			MaxAttempts:       5,
			BackoffBase:       DurationFrom(time.Second),
			BackoffMultiplier: 2,
			MaxBackoff:        DurationFrom(30 * time.Second),
			RequestTimeout:    DurationFrom(10 * time.Second),
			MinDelay:          DurationFrom(time.Second),
			MaxDelay:          DurationFrom(3 * time.Second),
			MaxBodyBytes:      20 * 1024 * 1024,
			RetryStatuses: []int{
				http.StatusTooManyRequests,
				http.StatusInternalServerError,
				http.StatusBadGateway,
				http.StatusServiceUnavailable,
				http.StatusGatewayTimeout,
			},
			RespectRetryAfter: true,
			Headers:           map[string]string{},
		},
		Rendering: RenderingConfig{
			Enabled:            true,
			Engine:             "chromedp",
			Timeout:            DurationFrom(45 * time.Second),
			SettleMin:          DurationFrom(2 * time.Second),
			SettleMax:          DurationFrom(5 * time.Second),
			ConcurrentSessions: 2,
		},
		Logging: LoggingConfig{
			Level: "info",
			File:  "crawler.log",
		},
		Server: ServerConfig{
			Addr:           ":5000",
			MaxConcurrency: 2,
		},
	}
}

// Load reads, merges, and validates configuration from a YAML file.
func Load(path string) (*Config, error) {
	fh, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open config: %w", err)
	}
	defer fh.Close()
	return LoadFromReader(fh)
}

// LoadFromReader decodes configuration from an arbitrary reader on top of Default().
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && err != io.EOF {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	cfg.Normalise()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate enforces the invariants the crawler relies on.
func (c Config) Validate() error {
	if c.Crawl.MaxDepth < 0 {
		return fmt.Errorf("%w (got %d)", ErrInvalidDepth, c.Crawl.MaxDepth)
	}
	if c.Crawl.Workers <= 0 || c.Crawl.Workers > MaxWorkers {
		return fmt.Errorf("%w (got %d)", ErrInvalidWorkers, c.Crawl.Workers)
	}
	if c.Crawl.PerOriginConcurrency <= 0 {
		return fmt.Errorf("%w (got %d)", ErrInvalidOriginLimit, c.Crawl.PerOriginConcurrency)
	}
	if strings.TrimSpace(c.Crawl.OutputDir) == "" {
		return ErrMissingOutputDir
	}
	if c.Crawl.MaxLinksPerPage < 0 {
		return fmt.Errorf("crawl.max_links_per_page must be >= 0 (got %d)", c.Crawl.MaxLinksPerPage)
	}
	f := c.Fetch
	if f.MaxAttempts <= 0 {
		return fmt.Errorf("%w (got %d)", ErrInvalidAttempts, f.MaxAttempts)
	}
	if f.BackoffBase.Duration < 0 || f.MaxBackoff.Duration < 0 || f.BackoffMultiplier < 1 {
		return ErrInvalidBackoff
	}
	if f.MinDelay.Duration < 0 || f.MinDelay.Duration > f.MaxDelay.Duration {
		return fmt.Errorf("%w (got %s..%s)", ErrInvalidDelay, f.MinDelay, f.MaxDelay)
	}
	if f.MaxBodyBytes <= 0 {
		return fmt.Errorf("%w (got %d)", ErrInvalidBodyLimit, f.MaxBodyBytes)
	}
	if f.RequestTimeout.Duration <= 0 {
		return fmt.Errorf("fetch.request_timeout must be > 0 (got %s)", f.RequestTimeout)
	}
	for _, code := range f.RetryStatuses {
		if code < 100 || code > 599 {
			return fmt.Errorf("fetch.retry_statuses contains invalid status %d", code)
		}
	}
	if rl := f.RateLimitPerOrigin; rl.Requests < 0 {
		return fmt.Errorf("fetch.rate_limit_per_origin.requests must be >= 0 (got %d)", rl.Requests)
	}
	r := c.Rendering
	if r.SettleMin.Duration < 0 || r.SettleMin.Duration > r.SettleMax.Duration {
		return fmt.Errorf("%w (got %s..%s)", ErrInvalidSettle, r.SettleMin, r.SettleMax)
	}
	if r.Enabled {
		switch r.Engine {
		case "chromedp", "chrome", "none":
		default:
			return fmt.Errorf("unsupported rendering engine %q", r.Engine)
		}
	}
	switch strings.ToLower(c.Logging.Level) {
	case "", "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("unsupported log level %q", c.Logging.Level)
	}
	return nil
}

// Normalise trims and de-duplicates user supplied values.
func (c *Config) Normalise() {
	c.Crawl.SeedURL = strings.TrimSpace(c.Crawl.SeedURL)
	c.Crawl.OutputDir = strings.TrimSpace(c.Crawl.OutputDir)
	c.Fetch.ProxyURL = strings.TrimSpace(c.Fetch.ProxyURL)
	c.Rendering.Engine = strings.ToLower(strings.TrimSpace(c.Rendering.Engine))
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	c.Logging.File = strings.TrimSpace(c.Logging.File)
	if c.Fetch.Headers == nil {
		c.Fetch.Headers = make(map[string]string)
	}
	if len(c.Fetch.RetryStatuses) > 0 {
		seen := make(map[int]struct{}, len(c.Fetch.RetryStatuses))
		cleaned := make([]int, 0, len(c.Fetch.RetryStatuses))
		for _, code := range c.Fetch.RetryStatuses {
			if _, ok := seen[code]; ok {
				continue
			}
			seen[code] = struct{}{}
			cleaned = append(cleaned, code)
		}
		sort.Ints(cleaned)
		c.Fetch.RetryStatuses = cleaned
	}
	if len(c.Fetch.UserAgents) > 0 {
		agents := make([]string, 0, len(c.Fetch.UserAgents))
		for _, ua := range c.Fetch.UserAgents {
			if ua = strings.TrimSpace(ua); ua != "" {
				agents = append(agents, ua)
			}
		}
		c.Fetch.UserAgents = agents
	}
}

// Clone returns a deep copy so per-session overrides never leak into a shared base.
func (c Config) Clone() Config {
	out := c
	out.Fetch.RetryStatuses = append([]int(nil), c.Fetch.RetryStatuses...)
	out.Fetch.UserAgents = append([]string(nil), c.Fetch.UserAgents...)
	out.Fetch.Headers = make(map[string]string, len(c.Fetch.Headers))
	for k, v := range c.Fetch.Headers {
		out.Fetch.Headers[k] = v
	}
	return out
}

// Enabled reports whether per-origin rate limiting is active.
func (r RateLimitConfig) Enabled() bool {
	return r.Requests > 0 && !r.Window.IsZero()
}
