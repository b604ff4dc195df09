// Package client provides the bina.az HTTP client: paginated listing search
// over the persisted GraphQL query, detail page fetches for category
// enrichment, retry with backoff, and a request bound shared by both.
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/Sternrassler/bina-scraper/pkg/listing"
	"github.com/Sternrassler/bina-scraper/pkg/ratelimit"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/semaphore"
)

// Prometheus metrics for upstream requests.
var (
	binaRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bina_requests_total",
		Help: "Total upstream requests by operation and status",
	}, []string{"op", "status"})

	binaRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "bina_request_duration_seconds",
		Help:    "Upstream request duration in seconds by operation",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10},
	}, []string{"op"})

	binaErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bina_errors_total",
		Help: "Total upstream errors by class",
	}, []string{"class"})
)

const (
	// DefaultBaseURL is the public bina.az site.
	DefaultBaseURL = "https://bina.az"

	// DefaultUserAgent mimics a desktop browser; the site rejects obvious bots.
	DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

	// SearchOperation is the GraphQL operation name of the listing search.
	SearchOperation = "SearchItems"

	// SearchQueryHash identifies the persisted SearchItems query.
	SearchQueryHash = "872e9c694c34b6674514d48e9dcf1b46241d3d79f365ddf20d138f18e74554c5"

	// SearchSort orders results newest-bumped first.
	SearchSort = "BUMPED_AT_DESC"

	maxBodyBytes = 16 << 20

	opPage   = "page"
	opDetail = "detail"
)

// Config holds the client configuration.
type Config struct {
	// BaseURL is the scheme and host of the site, without trailing slash.
	BaseURL string

	// UserAgent header sent with every request.
	UserAgent string

	// Timeout per HTTP attempt.
	Timeout time.Duration

	// MaxConcurrency bounds in-flight requests, page and detail fetches combined.
	MaxConcurrency int

	// Retry is applied to every request.
	Retry RetryPolicy

	// Pacing and throttling of requests.
	RateLimit ratelimit.Config
}

// DefaultConfig returns a safe default configuration.
func DefaultConfig() Config {
	return Config{
		BaseURL:        DefaultBaseURL,
		UserAgent:      DefaultUserAgent,
		Timeout:        30 * time.Second,
		MaxConcurrency: 5,
		Retry:          DefaultRetryPolicy(),
		RateLimit:      ratelimit.DefaultConfig(),
	}
}

// Client talks to the listing API.
type Client struct {
	httpClient *http.Client
	config     Config
	sem        *semaphore.Weighted
	tracker    *ratelimit.Tracker
	logger     zerolog.Logger
}

// New creates a new client.
func New(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("base url is required")
	}
	if _, err := url.Parse(cfg.BaseURL); err != nil {
		return nil, fmt.Errorf("invalid base url: %w", err)
	}
	if cfg.UserAgent == "" {
		return nil, fmt.Errorf("user-agent is required")
	}
	if cfg.MaxConcurrency <= 0 {
		return nil, fmt.Errorf("max_concurrency must be > 0 (got %d)", cfg.MaxConcurrency)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")

	logger := log.With().Str("component", "bina-client").Logger()

	return &Client{
		httpClient: &http.Client{Timeout: cfg.Timeout},
		config:     cfg,
		sem:        semaphore.NewWeighted(int64(cfg.MaxConcurrency)),
		tracker:    ratelimit.NewTracker(cfg.RateLimit, logger),
		logger:     logger,
	}, nil
}

// SetHTTPClient sets a custom HTTP client (for testing).
func (c *Client) SetHTTPClient(client *http.Client) {
	c.httpClient = client
}

// Tracker exposes the upstream health tracker.
func (c *Client) Tracker() *ratelimit.Tracker {
	return c.tracker
}

type searchFilter struct {
	Leased bool `json:"leased"`
}

type searchVariables struct {
	First  int          `json:"first"`
	Offset int          `json:"offset"`
	Filter searchFilter `json:"filter"`
	Sort   string       `json:"sort"`
}

type persistedQuery struct {
	Version    int    `json:"version"`
	SHA256Hash string `json:"sha256Hash"`
}

type searchExtensions struct {
	PersistedQuery persistedQuery `json:"persistedQuery"`
}

type searchResponse struct {
	Data *struct {
		ItemsConnection *struct {
			TotalCount int `json:"totalCount"`
			PageInfo   struct {
				HasNextPage bool   `json:"hasNextPage"`
				EndCursor   string `json:"endCursor"`
			} `json:"pageInfo"`
			Edges []struct {
				Node json.RawMessage `json:"node"`
			} `json:"edges"`
		} `json:"itemsConnection"`
	} `json:"data"`
	Errors []struct {
		Message string `json:"message"`
	} `json:"errors"`
}

// SearchURL builds the GraphQL GET URL for one page.
func (c *Client) SearchURL(kind listing.Kind, page, size int) (string, error) {
	variables, err := json.Marshal(searchVariables{
		First:  size,
		Offset: page * size,
		Filter: searchFilter{Leased: kind.Leased()},
		Sort:   SearchSort,
	})
	if err != nil {
		return "", fmt.Errorf("encode variables: %w", err)
	}
	extensions, err := json.Marshal(searchExtensions{
		PersistedQuery: persistedQuery{Version: 1, SHA256Hash: SearchQueryHash},
	})
	if err != nil {
		return "", fmt.Errorf("encode extensions: %w", err)
	}

	params := url.Values{}
	params.Set("operationName", SearchOperation)
	params.Set("variables", string(variables))
	params.Set("extensions", string(extensions))

	return c.config.BaseURL + "/graphql?" + params.Encode(), nil
}

// FetchPage fetches one page of listings. A response without a usable
// itemsConnection is a retryable payload error.
func (c *Client) FetchPage(ctx context.Context, kind listing.Kind, page, size int) (*listing.RawPage, error) {
	if page < 0 || size <= 0 {
		return nil, fmt.Errorf("invalid page cursor (page %d, size %d)", page, size)
	}
	target, err := c.SearchURL(kind, page, size)
	if err != nil {
		return nil, err
	}

	var result *listing.RawPage
	err = c.config.Retry.Do(ctx, opPage, func(ctx context.Context) error {
		if err := c.tracker.Pace(ctx); err != nil {
			return err
		}
		body, err := c.get(ctx, opPage, target, c.pageHeaders(kind))
		if err != nil {
			return err
		}

		var resp searchResponse
		if err := json.Unmarshal(body, &resp); err != nil {
			return c.payloadError(target, fmt.Errorf("decode search response: %w", err))
		}
		if resp.Data == nil || resp.Data.ItemsConnection == nil {
			msg := "response has no itemsConnection"
			if len(resp.Errors) > 0 {
				msg = resp.Errors[0].Message
			}
			return c.payloadError(target, fmt.Errorf("%s", msg))
		}

		conn := resp.Data.ItemsConnection
		items := make([]listing.RawItem, 0, len(conn.Edges))
		for _, edge := range conn.Edges {
			if len(edge.Node) == 0 || string(edge.Node) == "null" {
				continue
			}
			items = append(items, listing.RawItem(edge.Node))
		}

		result = &listing.RawPage{
			Index:       page,
			Items:       items,
			Edges:       len(conn.Edges),
			TotalCount:  conn.TotalCount,
			HasNextPage: conn.PageInfo.HasNextPage,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	c.logger.Debug().
		Str("kind", string(kind)).
		Int("page", page).
		Int("items", len(result.Items)).
		Int("edges", result.Edges).
		Bool("has_next_page", result.HasNextPage).
		Msg("Fetched page")

	return result, nil
}

// DetailURL resolves a listing path against the base URL. Absolute URLs are
// returned unchanged.
func (c *Client) DetailURL(path string) string {
	if strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://") {
		return path
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return c.config.BaseURL + path
}

// FetchDetail returns the HTML of a listing's detail page. Failures are
// reported as *DetailFetchError.
func (c *Client) FetchDetail(ctx context.Context, path string) (string, error) {
	if strings.TrimSpace(path) == "" {
		return "", &DetailFetchError{Path: path, Err: fmt.Errorf("empty path")}
	}
	target := c.DetailURL(path)

	var html string
	err := c.config.Retry.Do(ctx, opDetail, func(ctx context.Context) error {
		body, err := c.get(ctx, opDetail, target, c.detailHeaders())
		if err != nil {
			return err
		}
		html = string(body)
		return nil
	})
	if err != nil {
		return "", &DetailFetchError{Path: path, Err: err}
	}
	return html, nil
}

// get performs one GET attempt under the shared concurrency bound.
func (c *Client) get(ctx context.Context, op, target string, headers http.Header) ([]byte, error) {
	if err := c.tracker.ShouldAllowRequest(ctx); err != nil {
		return nil, err
	}
	if err := c.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer c.sem.Release(1)

	startTime := time.Now()
	defer func() {
		binaRequestDuration.WithLabelValues(op).Observe(time.Since(startTime).Seconds())
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header = headers

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		c.logger.Warn().Err(err).Str("op", op).Str("url", target).Msg("HTTP request failed")
		binaErrorsTotal.WithLabelValues(string(ErrorClassNetwork)).Inc()
		binaRequestsTotal.WithLabelValues(op, "network_error").Inc()
		c.tracker.RecordFailure()
		return nil, &TransientNetworkError{Op: op, URL: target, Class: ErrorClassNetwork, Err: err}
	}
	defer resp.Body.Close()

	binaRequestsTotal.WithLabelValues(op, strconv.Itoa(resp.StatusCode)).Inc()

	if resp.StatusCode >= 400 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxBodyBytes))
		class := classifyStatus(resp.StatusCode)
		binaErrorsTotal.WithLabelValues(string(class)).Inc()

		c.logger.Warn().
			Str("op", op).
			Str("url", target).
			Int("status", resp.StatusCode).
			Str("error_class", string(class)).
			Msg("Upstream request error")

		if class == ErrorClassClient {
			return nil, &StatusError{Op: op, URL: target, StatusCode: resp.StatusCode}
		}
		c.tracker.RecordFailure()
		return nil, &TransientNetworkError{Op: op, URL: target, StatusCode: resp.StatusCode, Class: class, Err: fmt.Errorf("%s", resp.Status)}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		c.tracker.RecordFailure()
		return nil, &TransientNetworkError{Op: op, URL: target, StatusCode: resp.StatusCode, Class: ErrorClassNetwork, Err: fmt.Errorf("read body: %w", err)}
	}

	c.tracker.RecordSuccess()
	return body, nil
}

func (c *Client) payloadError(target string, err error) error {
	binaErrorsTotal.WithLabelValues(string(ErrorClassPayload)).Inc()
	c.tracker.RecordFailure()
	return &TransientNetworkError{Op: opPage, URL: target, StatusCode: http.StatusOK, Class: ErrorClassPayload, Err: err}
}

func (c *Client) baseHeaders() http.Header {
	h := http.Header{}
	h.Set("User-Agent", c.config.UserAgent)
	h.Set("Accept-Language", "en-GB,en-US;q=0.9,en;q=0.8,ru;q=0.7,az;q=0.6")
	return h
}

func (c *Client) pageHeaders(kind listing.Kind) http.Header {
	h := c.baseHeaders()
	h.Set("Accept", "*/*")
	h.Set("Content-Type", "application/json")
	h.Set("Origin", c.config.BaseURL)
	if kind == listing.KindRent {
		h.Set("Referer", c.config.BaseURL+"/kiraye")
	} else {
		h.Set("Referer", c.config.BaseURL+"/alqi-satqi")
	}
	return h
}

func (c *Client) detailHeaders() http.Header {
	h := c.baseHeaders()
	h.Set("Accept", "text/html,application/xhtml+xml")
	return h
}

// KindFetcher binds a client to one listing kind.
type KindFetcher struct {
	client *Client
	kind   listing.Kind
}

// ForKind returns a fetcher for pages of the given kind.
func (c *Client) ForKind(kind listing.Kind) *KindFetcher {
	return &KindFetcher{client: c, kind: kind}
}

// FetchPage fetches one page of the bound kind.
func (f *KindFetcher) FetchPage(ctx context.Context, page, size int) (*listing.RawPage, error) {
	return f.client.FetchPage(ctx, f.kind, page, size)
}

// FetchDetail fetches a detail page.
func (f *KindFetcher) FetchDetail(ctx context.Context, path string) (string, error) {
	return f.client.FetchDetail(ctx, path)
}
