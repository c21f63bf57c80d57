package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultUserAgent mimics a desktop Chrome build; several publishers refuse obvious bot identities.
const DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/118.0.0.0 Safari/537.36"

// Discovery strategy names accepted in sites.<key>.strategy.
const (
	StrategyListing  = "listing"
	StrategyReveal   = "reveal"
	StrategySequence = "sequence"
	StrategyChain    = "chain"
	StrategyFeed     = "feed"
)

// Pagination modes for the listing strategy.
const (
	PaginationNumber = "number"
	PaginationMonth  = "month"
)

// Storage drivers.
const (
	DriverCSV      = "csv"
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite3"
)

// Config captures everything required to run the harvester.
type Config struct {
	N       int                   `yaml:"n"`
	Logging LoggingConfig         `yaml:"logging"`
	Fetch   FetchConfig           `yaml:"fetch"`
	Robots  RobotsConfig          `yaml:"robots"`
	Browser BrowserConfig         `yaml:"browser"`
	Storage StorageConfig         `yaml:"storage"`
	Worker  WorkerConfig          `yaml:"worker"`
	Sites   map[string]SiteConfig `yaml:"sites"`
}

// LoggingConfig selects log verbosity, format and an optional log file.
type LoggingConfig struct {
	Level      string `yaml:"level"`
	Structured bool   `yaml:"structured"`
	File       string `yaml:"file"`
}

// FetchConfig shapes every outbound HTTP request.
type FetchConfig struct {
	UserAgent    string            `yaml:"user_agent"`
	Headers      map[string]string `yaml:"headers"`
	ProxyURL     string            `yaml:"proxy_url"`
	Timeout      Duration          `yaml:"timeout"`
	MaxBodyBytes int64             `yaml:"max_body_bytes"`
	Delay        Duration          `yaml:"delay"`
	RateLimit    RateLimitConfig   `yaml:"rate_limit"`
	Retry        RetryConfig       `yaml:"retry"`
}

// RateLimitConfig applies a token bucket per host on top of the fixed delay.
type RateLimitConfig struct {
	Requests int      `yaml:"requests"`
	Window   Duration `yaml:"window"`
}

// RetryConfig bounds the retry loop for transient failures.
type RetryConfig struct {
	MaxAttempts  int      `yaml:"max_attempts"`
	InitialDelay Duration `yaml:"initial_delay"`
	MaxDelay     Duration `yaml:"max_delay"`
	Multiplier   float64  `yaml:"multiplier"`
}

// RobotsConfig configures robots.txt handling.
type RobotsConfig struct {
	Respect   bool     `yaml:"respect"`
	Overrides []string `yaml:"overrides"`
	UserAgent string   `yaml:"user_agent"`
	CacheTTL  Duration `yaml:"cache_ttl"`
}

// BrowserConfig controls the headless Chrome used by the reveal strategy.
type BrowserConfig struct {
	Headless   bool     `yaml:"headless"`
	ExecPath   string   `yaml:"exec_path"`
	Timeout    Duration `yaml:"timeout"`
	DisableGPU bool     `yaml:"disable_gpu"`
	NoSandbox  bool     `yaml:"no_sandbox"`
}

// StorageConfig selects where datasets live.
type StorageConfig struct {
	Driver          string `yaml:"driver"`
	DSN             string `yaml:"dsn"`
	TablePrefix     string `yaml:"table_prefix"`
	CreateIfMissing bool   `yaml:"create_if_missing"`
}

// WorkerConfig bounds how many sites run at once. A site never runs twice concurrently.
type WorkerConfig struct {
	Concurrency int `yaml:"concurrency"`
}

// SiteConfig describes one publisher.
type SiteConfig struct {
	BaseURL    string         `yaml:"base_url"`
	OutputPath string         `yaml:"output_path"`
	Strategy   string         `yaml:"strategy"`
	Extractor  string         `yaml:"extractor"`
	Extract    *ExtractConfig `yaml:"extract"`
	Delay      Duration       `yaml:"delay"`
	Listing    ListingConfig  `yaml:"listing"`
	Reveal     RevealConfig   `yaml:"reveal"`
	Sequence   SequenceConfig `yaml:"sequence"`
	Chain      ChainConfig    `yaml:"chain"`
	Feed       FeedConfig     `yaml:"feed"`
}

// ListingConfig drives paged archive listings.
type ListingConfig struct {
	Template     string `yaml:"template"`
	LinkSelector string `yaml:"link_selector"`
	Pagination   string `yaml:"pagination"`
	StartPage    int    `yaml:"start_page"`
	MaxPages     int    `yaml:"max_pages"`
	Months       int    `yaml:"months"`
}

// RevealConfig drives "load more" pages through a browser session.
type RevealConfig struct {
	StartURL        string   `yaml:"start_url"`
	ControlSelector string   `yaml:"control_selector"`
	ItemSelector    string   `yaml:"item_selector"`
	MaxAttempts     int      `yaml:"max_attempts"`
	WaitTimeout     Duration `yaml:"wait_timeout"`
	Pause           Duration `yaml:"pause"`
	RetryPause      Duration `yaml:"retry_pause"`
	ScrollOffset    int      `yaml:"scroll_offset"`
}

// SequenceConfig drives numeric article id probing.
type SequenceConfig struct {
	Template      string `yaml:"template"`
	Floor         int    `yaml:"floor"`
	NotFoundLimit int    `yaml:"not_found_limit"`
	SkipLimit     int    `yaml:"skip_limit"`
}

// ChainConfig drives previous-link traversal.
type ChainConfig struct {
	StartURL     string `yaml:"start_url"`
	LinkSelector string `yaml:"link_selector"`
	MaxSteps     int    `yaml:"max_steps"`
}

// FeedConfig points at an RSS/Atom feed.
type FeedConfig struct {
	URL string `yaml:"url"`
}

// Default returns a Config populated with sensible defaults.
func Default() Config {
	return Config{
		N: 10,
		Logging: LoggingConfig{
			Level: "info",
		},
		Fetch: FetchConfig{
			UserAgent:    DefaultUserAgent,
			Headers:      map[string]string{},
			Timeout:      DurationFrom(30 * time.Second),
			MaxBodyBytes: 10 * 1024 * 1024,
			Delay:        DurationFrom(2 * time.Second),
			Retry: RetryConfig{
				MaxAttempts:  4,
				InitialDelay: DurationFrom(500 * time.Millisecond),
				MaxDelay:     DurationFrom(8 * time.Second),
				Multiplier:   2,
			},
		},
		Robots: RobotsConfig{
			Respect:   true,
			Overrides: []string{},
			CacheTTL:  DurationFrom(30 * time.Minute),
		},
		Browser: BrowserConfig{
			Headless:   true,
			Timeout:    DurationFrom(2 * time.Minute),
			DisableGPU: true,
			NoSandbox:  true,
		},
		Storage: StorageConfig{
			Driver:      DriverCSV,
			TablePrefix: "articles_",
		},
		Worker: WorkerConfig{
			Concurrency: 1,
		},
		Sites: map[string]SiteConfig{},
	}
}

// Load reads, normalises and validates configuration from a YAML file.
func Load(path string) (*Config, error) {
	fh, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open config: %w", err)
	}
	defer fh.Close()
	return LoadFromReader(fh)
}

// LoadFromReader decodes configuration from an arbitrary reader.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := Default()
	if err := decodeYAML(r, &cfg); err != nil {
		return nil, err
	}
	cfg.normalise()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func decodeYAML(r io.Reader, cfg *Config) error {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("decode config: %w", err)
	}
	return nil
}

// SiteKeys returns the configured site keys in stable order.
func (c Config) SiteKeys() []string {
	keys := make([]string, 0, len(c.Sites))
	for key := range c.Sites {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// Validate enforces required invariants.
func (c Config) Validate() error {
	if c.N <= 0 {
		return fmt.Errorf("n must be > 0 (got %d)", c.N)
	}
	if len(c.Sites) == 0 {
		return errors.New("at least one site must be configured")
	}
	if c.Worker.Concurrency <= 0 {
		return fmt.Errorf("worker.concurrency must be > 0 (got %d)", c.Worker.Concurrency)
	}
	if strings.TrimSpace(c.Fetch.UserAgent) == "" {
		return errors.New("fetch.user_agent must be set")
	}
	if c.Fetch.MaxBodyBytes <= 0 {
		return fmt.Errorf("fetch.max_body_bytes must be > 0 (got %d)", c.Fetch.MaxBodyBytes)
	}
	if c.Fetch.Retry.MaxAttempts <= 0 {
		return fmt.Errorf("fetch.retry.max_attempts must be > 0 (got %d)", c.Fetch.Retry.MaxAttempts)
	}
	if c.Fetch.Retry.Multiplier < 1 {
		return fmt.Errorf("fetch.retry.multiplier must be >= 1 (got %g)", c.Fetch.Retry.Multiplier)
	}
	if rl := c.Fetch.RateLimit; rl.Requests < 0 {
		return fmt.Errorf("fetch.rate_limit.requests must be >= 0 (got %d)", rl.Requests)
	}
	switch c.Storage.Driver {
	case DriverCSV:
	case DriverPostgres, DriverSQLite:
		if c.Storage.DSN == "" {
			return fmt.Errorf("storage.dsn must be set for driver %q", c.Storage.Driver)
		}
	default:
		return fmt.Errorf("storage.driver %q is not supported", c.Storage.Driver)
	}
	for _, key := range c.SiteKeys() {
		if err := c.Sites[key].validate(key); err != nil {
			return err
		}
	}
	return nil
}

func (s SiteConfig) validate(key string) error {
	prefix := "sites." + key
	if s.BaseURL == "" {
		return fmt.Errorf("%s.base_url must be set", prefix)
	}
	if s.OutputPath == "" {
		return fmt.Errorf("%s.output_path must be set", prefix)
	}
	switch s.Strategy {
	case StrategyListing:
		if s.Listing.LinkSelector == "" {
			return fmt.Errorf("%s.listing.link_selector must be set", prefix)
		}
		switch s.Listing.Pagination {
		case PaginationNumber:
			if !strings.Contains(s.Listing.Template, "{page}") {
				return fmt.Errorf("%s.listing.template must contain {page}", prefix)
			}
		case PaginationMonth:
			if !strings.Contains(s.Listing.Template, "{year}") || !strings.Contains(s.Listing.Template, "{month}") {
				return fmt.Errorf("%s.listing.template must contain {year} and {month}", prefix)
			}
		default:
			return fmt.Errorf("%s.listing.pagination %q is not supported", prefix, s.Listing.Pagination)
		}
	case StrategyReveal:
		if s.Reveal.ControlSelector == "" {
			return fmt.Errorf("%s.reveal.control_selector must be set", prefix)
		}
		if s.Reveal.ItemSelector == "" {
			return fmt.Errorf("%s.reveal.item_selector must be set", prefix)
		}
		if s.Reveal.MaxAttempts <= 0 {
			return fmt.Errorf("%s.reveal.max_attempts must be > 0 (got %d)", prefix, s.Reveal.MaxAttempts)
		}
	case StrategySequence:
		if !strings.Contains(s.Sequence.Template, "{id}") {
			return fmt.Errorf("%s.sequence.template must contain {id}", prefix)
		}
		if s.Sequence.NotFoundLimit <= 0 {
			return fmt.Errorf("%s.sequence.not_found_limit must be > 0 (got %d)", prefix, s.Sequence.NotFoundLimit)
		}
	case StrategyChain:
		if s.Chain.LinkSelector == "" {
			return fmt.Errorf("%s.chain.link_selector must be set", prefix)
		}
		if s.Chain.MaxSteps < 0 {
			return fmt.Errorf("%s.chain.max_steps must be >= 0 (got %d)", prefix, s.Chain.MaxSteps)
		}
	case StrategyFeed:
		if s.Feed.URL == "" {
			return fmt.Errorf("%s.feed.url must be set", prefix)
		}
	case "":
		return fmt.Errorf("%s.strategy must be set", prefix)
	default:
		return fmt.Errorf("%s.strategy %q is not supported", prefix, s.Strategy)
	}
	return nil
}

func (c *Config) normalise() {
	c.Fetch.UserAgent = strings.TrimSpace(c.Fetch.UserAgent)
	if c.Fetch.Headers == nil {
		c.Fetch.Headers = map[string]string{}
	}
	c.Robots.UserAgent = strings.TrimSpace(c.Robots.UserAgent)
	if c.Robots.UserAgent == "" {
		c.Robots.UserAgent = c.Fetch.UserAgent
	}
	if len(c.Robots.Overrides) > 0 {
		c.Robots.Overrides = dedupeLower(c.Robots.Overrides)
	}
	c.Storage.Driver = strings.ToLower(strings.TrimSpace(c.Storage.Driver))
	if c.Storage.Driver == "" {
		c.Storage.Driver = DriverCSV
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))

	for key, site := range c.Sites {
		site.normalise(key)
		c.Sites[key] = site
	}
}

func (s *SiteConfig) normalise(key string) {
	s.BaseURL = strings.TrimSpace(s.BaseURL)
	s.OutputPath = strings.TrimSpace(s.OutputPath)
	s.Strategy = strings.ToLower(strings.TrimSpace(s.Strategy))
	s.Extractor = strings.TrimSpace(s.Extractor)
	if s.Extractor == "" {
		s.Extractor = key
	}

	s.Listing.Template = expandBase(s.Listing.Template, s.BaseURL)
	s.Listing.Pagination = strings.ToLower(strings.TrimSpace(s.Listing.Pagination))
	if s.Listing.Pagination == "" {
		s.Listing.Pagination = PaginationNumber
	}
	if s.Listing.Template == "" && s.Listing.Pagination == PaginationNumber {
		s.Listing.Template = strings.TrimSuffix(s.BaseURL, "/") + "/page/{page}/"
	}
	if s.Listing.StartPage <= 0 {
		s.Listing.StartPage = 1
	}
	if s.Listing.Months <= 0 {
		s.Listing.Months = 12
	}

	s.Reveal.StartURL = expandBase(s.Reveal.StartURL, s.BaseURL)
	if s.Reveal.StartURL == "" {
		s.Reveal.StartURL = s.BaseURL
	}
	if s.Reveal.MaxAttempts == 0 {
		s.Reveal.MaxAttempts = 5
	}
	if s.Reveal.WaitTimeout.Duration <= 0 {
		s.Reveal.WaitTimeout = DurationFrom(10 * time.Second)
	}
	if s.Reveal.Pause.Duration <= 0 {
		s.Reveal.Pause = DurationFrom(2 * time.Second)
	}
	if s.Reveal.RetryPause.Duration <= 0 {
		s.Reveal.RetryPause = DurationFrom(time.Second)
	}

	s.Sequence.Template = expandBase(s.Sequence.Template, s.BaseURL)
	if s.Sequence.Template == "" {
		s.Sequence.Template = s.BaseURL + "{id}/"
	}
	if s.Sequence.Floor <= 0 {
		s.Sequence.Floor = 1
	}
	if s.Sequence.NotFoundLimit == 0 {
		s.Sequence.NotFoundLimit = 7
	}
	if s.Sequence.SkipLimit == 0 {
		s.Sequence.SkipLimit = 25
	}

	s.Chain.StartURL = expandBase(s.Chain.StartURL, s.BaseURL)
	if s.Chain.StartURL == "" {
		s.Chain.StartURL = s.BaseURL
	}

	s.Feed.URL = expandBase(s.Feed.URL, s.BaseURL)
	if s.Feed.URL == "" && s.Strategy == StrategyFeed {
		s.Feed.URL = strings.TrimSuffix(s.BaseURL, "/") + "/feed/"
	}
}

// expandBase substitutes {base} with the site's base URL.
func expandBase(template, base string) string {
	template = strings.TrimSpace(template)
	if template == "" {
		return ""
	}
	return strings.ReplaceAll(template, "{base}", base)
}

func dedupeLower(values []string) []string {
	unique := make(map[string]struct{}, len(values))
	cleaned := make([]string, 0, len(values))
	for _, v := range values {
		v = strings.ToLower(strings.TrimSpace(v))
		if v == "" {
			continue
		}
		if _, ok := unique[v]; ok {
			continue
		}
		unique[v] = struct{}{}
		cleaned = append(cleaned, v)
	}
	sort.Strings(cleaned)
	return cleaned
}
