// Package config loads run configuration from the environment and optional
// .env files.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/Sternrassler/bina-scraper/pkg/client"
	"github.com/Sternrassler/bina-scraper/pkg/listing"
	"github.com/Sternrassler/bina-scraper/pkg/pagination"
	"github.com/Sternrassler/bina-scraper/pkg/ratelimit"
	"github.com/Sternrassler/bina-scraper/pkg/scraper"
	"github.com/joho/godotenv"
)

// Checkpoint backends.
const (
	BackendFile  = "file"
	BackendRedis = "redis"
)

// Config is the full configuration of the scraper.
type Config struct {
	Kinds     []listing.Kind
	BaseURL   string
	UserAgent string

	ItemsPerPage              int
	MaxConcurrentRequests     int
	CheckpointInterval        int
	IncrementalSaveInterval   int
	StartPage                 int
	MaxPages                  int
	SkipFailedPages           bool
	MaxConsecutiveFailedPages int

	RequestTimeout time.Duration
	RetryAttempts  int
	RetryBaseDelay time.Duration
	RetryMaxDelay  time.Duration
	PageDelay      time.Duration
	GracePeriod    time.Duration

	OutputDir string
	FileTag   string

	// Resume continues from a stored checkpoint. When false the checkpoint
	// is discarded before the run.
	Resume            bool
	CheckpointBackend string
	RedisURL          string
	DatabaseURL       string
	MetricsAddr       string

	LogLevel  string
	LogPretty bool
	LogFile   string
}

// Default returns the default configuration.
func Default() *Config {
	retry := client.DefaultRetryPolicy()
	pg := pagination.DefaultConfig()
	return &Config{
		Kinds:                     []listing.Kind{listing.KindRent, listing.KindSale},
		BaseURL:                   client.DefaultBaseURL,
		UserAgent:                 client.DefaultUserAgent,
		ItemsPerPage:              pg.PageSize,
		MaxConcurrentRequests:     pg.MaxConcurrency,
		CheckpointInterval:        pg.CheckpointInterval,
		IncrementalSaveInterval:   pg.IncrementalSaveInterval,
		StartPage:                 0,
		MaxPages:                  0,
		SkipFailedPages:           false,
		MaxConsecutiveFailedPages: pg.MaxConsecutiveFailedPages,
		RequestTimeout:            30 * time.Second,
		RetryAttempts:             retry.MaxAttempts,
		RetryBaseDelay:            retry.BaseDelay,
		RetryMaxDelay:             retry.MaxDelay,
		PageDelay:                 ratelimit.DefaultConfig().MinInterval,
		GracePeriod:               pg.GracePeriod,
		OutputDir:                 "output",
		Resume:                    true,
		CheckpointBackend:         BackendFile,
		LogLevel:                  "info",
	}
}

// Load reads envFiles (or ./.env when none are given and it exists) and
// applies BINA_* and related variables over the defaults. Variables already
// set in the environment win over .env values.
func Load(envFiles ...string) (*Config, error) {
	if len(envFiles) > 0 {
		if err := godotenv.Load(envFiles...); err != nil {
			return nil, fmt.Errorf("load env files %v: %w", envFiles, err)
		}
	} else if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	cfg := Default()
	p := &parser{}

	if v, ok := os.LookupEnv("BINA_KINDS"); ok {
		kinds, err := ParseKinds(v)
		if err != nil {
			p.errs = append(p.errs, fmt.Errorf("BINA_KINDS: %w", err))
		} else {
			cfg.Kinds = kinds
		}
	}
	p.str("BINA_BASE_URL", &cfg.BaseURL)
	p.str("BINA_USER_AGENT", &cfg.UserAgent)
	p.integer("BINA_ITEMS_PER_PAGE", &cfg.ItemsPerPage)
	p.integer("BINA_MAX_CONCURRENT_REQUESTS", &cfg.MaxConcurrentRequests)
	p.integer("BINA_CHECKPOINT_INTERVAL", &cfg.CheckpointInterval)
	p.integer("BINA_INCREMENTAL_SAVE_INTERVAL", &cfg.IncrementalSaveInterval)
	p.integer("BINA_START_PAGE", &cfg.StartPage)
	p.integer("BINA_MAX_PAGES", &cfg.MaxPages)
	p.boolean("BINA_SKIP_FAILED_PAGES", &cfg.SkipFailedPages)
	p.integer("BINA_MAX_CONSECUTIVE_FAILED_PAGES", &cfg.MaxConsecutiveFailedPages)
	p.duration("BINA_REQUEST_TIMEOUT", &cfg.RequestTimeout)
	p.integer("BINA_RETRY_ATTEMPTS", &cfg.RetryAttempts)
	p.duration("BINA_RETRY_BASE_DELAY", &cfg.RetryBaseDelay)
	p.duration("BINA_RETRY_MAX_DELAY", &cfg.RetryMaxDelay)
	p.duration("BINA_PAGE_DELAY", &cfg.PageDelay)
	p.duration("BINA_GRACE_PERIOD", &cfg.GracePeriod)
	p.str("BINA_OUTPUT_DIR", &cfg.OutputDir)
	p.str("BINA_FILE_TAG", &cfg.FileTag)
	p.boolean("BINA_RESUME", &cfg.Resume)
	p.str("BINA_CHECKPOINT_BACKEND", &cfg.CheckpointBackend)
	p.str("REDIS_URL", &cfg.RedisURL)
	p.str("DATABASE_URL", &cfg.DatabaseURL)
	p.str("METRICS_ADDR", &cfg.MetricsAddr)
	p.str("LOG_LEVEL", &cfg.LogLevel)
	p.boolean("LOG_PRETTY", &cfg.LogPretty)
	p.str("LOG_FILE", &cfg.LogFile)

	if err := errors.Join(p.errs...); err != nil {
		return nil, err
	}
	cfg.CheckpointBackend = strings.ToLower(cfg.CheckpointBackend)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate reports every invalid setting.
func (c *Config) Validate() error {
	var errs []error
	positive := []struct {
		name  string
		value int
	}{
		{"BINA_ITEMS_PER_PAGE", c.ItemsPerPage},
		{"BINA_MAX_CONCURRENT_REQUESTS", c.MaxConcurrentRequests},
		{"BINA_CHECKPOINT_INTERVAL", c.CheckpointInterval},
		{"BINA_INCREMENTAL_SAVE_INTERVAL", c.IncrementalSaveInterval},
		{"BINA_MAX_CONSECUTIVE_FAILED_PAGES", c.MaxConsecutiveFailedPages},
		{"BINA_RETRY_ATTEMPTS", c.RetryAttempts},
	}
	for _, p := range positive {
		if p.value <= 0 {
			errs = append(errs, fmt.Errorf("%s must be > 0, got %d", p.name, p.value))
		}
	}
	if c.StartPage < 0 {
		errs = append(errs, fmt.Errorf("BINA_START_PAGE must be >= 0, got %d", c.StartPage))
	}
	if c.MaxPages < 0 {
		errs = append(errs, fmt.Errorf("BINA_MAX_PAGES must be >= 0, got %d", c.MaxPages))
	}
	if c.RequestTimeout <= 0 {
		errs = append(errs, fmt.Errorf("BINA_REQUEST_TIMEOUT must be > 0, got %s", c.RequestTimeout))
	}
	if c.RetryBaseDelay < 0 || c.RetryMaxDelay < c.RetryBaseDelay {
		errs = append(errs, fmt.Errorf("retry delays invalid (base %s, max %s)", c.RetryBaseDelay, c.RetryMaxDelay))
	}
	if c.PageDelay < 0 || c.GracePeriod < 0 {
		errs = append(errs, errors.New("BINA_PAGE_DELAY and BINA_GRACE_PERIOD must not be negative"))
	}
	if len(c.Kinds) == 0 {
		errs = append(errs, errors.New("BINA_KINDS must name at least one kind"))
	}
	if c.BaseURL == "" {
		errs = append(errs, errors.New("BINA_BASE_URL is required"))
	}
	if c.OutputDir == "" {
		errs = append(errs, errors.New("BINA_OUTPUT_DIR is required"))
	}
	switch c.CheckpointBackend {
	case BackendFile:
	case BackendRedis:
		if c.RedisURL == "" {
			errs = append(errs, errors.New("REDIS_URL is required for the redis checkpoint backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("BINA_CHECKPOINT_BACKEND must be file or redis, got %q", c.CheckpointBackend))
	}
	return errors.Join(errs...)
}

// ClientConfig returns the upstream client configuration.
func (c *Config) ClientConfig() client.Config {
	retry := client.DefaultRetryPolicy()
	retry.MaxAttempts = c.RetryAttempts
	retry.BaseDelay = c.RetryBaseDelay
	retry.MaxDelay = c.RetryMaxDelay

	rl := ratelimit.DefaultConfig()
	rl.MinInterval = c.PageDelay

	return client.Config{
		BaseURL:        strings.TrimRight(c.BaseURL, "/"),
		UserAgent:      c.UserAgent,
		Timeout:        c.RequestTimeout,
		MaxConcurrency: c.MaxConcurrentRequests,
		Retry:          retry,
		RateLimit:      rl,
	}
}

// PaginationConfig returns the driver configuration.
func (c *Config) PaginationConfig() pagination.Config {
	pg := pagination.DefaultConfig()
	pg.StartPage = c.StartPage
	pg.PageSize = c.ItemsPerPage
	pg.MaxConcurrency = c.MaxConcurrentRequests
	pg.CheckpointInterval = c.CheckpointInterval
	pg.IncrementalSaveInterval = c.IncrementalSaveInterval
	pg.SkipFailedPages = c.SkipFailedPages
	pg.MaxConsecutiveFailedPages = c.MaxConsecutiveFailedPages
	pg.MaxPages = c.MaxPages
	pg.GracePeriod = c.GracePeriod
	return pg
}

// ScraperConfig returns the run configuration for kind.
func (c *Config) ScraperConfig(kind listing.Kind) scraper.Config {
	return scraper.Config{
		Kind:       kind,
		Pagination: c.PaginationConfig(),
		BaseURL:    strings.TrimRight(c.BaseURL, "/"),
		OutputDir:  c.OutputDir,
		FileTag:    c.FileTag,
		Fresh:      !c.Resume,
	}
}

// ParseKinds parses a comma separated kind list such as "rent,sale".
func ParseKinds(s string) ([]listing.Kind, error) {
	var kinds []listing.Kind
	seen := make(map[listing.Kind]bool)
	for _, part := range strings.Split(s, ",") {
		if strings.TrimSpace(part) == "" {
			continue
		}
		kind, err := listing.ParseKind(part)
		if err != nil {
			return nil, err
		}
		if !seen[kind] {
			seen[kind] = true
			kinds = append(kinds, kind)
		}
	}
	if len(kinds) == 0 {
		return nil, errors.New("no kinds given")
	}
	return kinds, nil
}

// parser collects errors while reading variables.
type parser struct {
	errs []error
}

func (p *parser) str(key string, dst *string) {
	if v, ok := os.LookupEnv(key); ok {
		*dst = strings.TrimSpace(v)
	}
}

func (p *parser) integer(key string, dst *int) {
	v, ok := os.LookupEnv(key)
	if !ok {
		return
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		p.errs = append(p.errs, fmt.Errorf("%s: %q is not an integer", key, v))
		return
	}
	*dst = n
}

func (p *parser) boolean(key string, dst *bool) {
	v, ok := os.LookupEnv(key)
	if !ok {
		return
	}
	b, err := strconv.ParseBool(strings.TrimSpace(v))
	if err != nil {
		p.errs = append(p.errs, fmt.Errorf("%s: %q is not a boolean", key, v))
		return
	}
	*dst = b
}

func (p *parser) duration(key string, dst *time.Duration) {
	v, ok := os.LookupEnv(key)
	if !ok {
		return
	}
	d, err := time.ParseDuration(strings.TrimSpace(v))
	if err != nil {
		p.errs = append(p.errs, fmt.Errorf("%s: %q is not a duration", key, v))
		return
	}
	*dst = d
}
