package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Sternrassler/bina-scraper/pkg/listing"
	"github.com/Sternrassler/bina-scraper/pkg/ratelimit"
)

func testConfig(baseURL string) Config {
	return Config{
		BaseURL:        baseURL,
		UserAgent:      "TestAgent/1.0",
		Timeout:        5 * time.Second,
		MaxConcurrency: 2,
		Retry:          fastPolicy(3),
		RateLimit:      ratelimit.Config{},
	}
}

func newTestClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	c, err := New(testConfig(server.URL))
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	return c
}

const pageBody = `{"data":{"itemsConnection":{"totalCount":41,"pageInfo":{"hasNextPage":true,"endCursor":"MTY"},
"edges":[{"node":{"id":"1","price":{"value":100}}},{"node":null},{"node":{"id":"2","price":{"value":200}}}]}}}`

func TestNew_Validation(t *testing.T) {
	tests := []struct {
		name        string
		mutate      func(*Config)
		expectError bool
		errorMsg    string
	}{
		{name: "valid config", mutate: func(*Config) {}},
		{
			name:        "empty base url",
			mutate:      func(c *Config) { c.BaseURL = "" },
			expectError: true,
			errorMsg:    "base url is required",
		},
		{
			name:        "empty user agent",
			mutate:      func(c *Config) { c.UserAgent = "" },
			expectError: true,
			errorMsg:    "user-agent is required",
		},
		{
			name:        "zero concurrency",
			mutate:      func(c *Config) { c.MaxConcurrency = 0 },
			expectError: true,
			errorMsg:    "max_concurrency must be > 0",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)

			_, err := New(cfg)
			if tt.expectError {
				if err == nil {
					t.Fatal("expected error, got nil")
				}
				if !strings.Contains(err.Error(), tt.errorMsg) {
					t.Errorf("error = %q, want it to contain %q", err.Error(), tt.errorMsg)
				}
				return
			}
			if err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		})
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.BaseURL != DefaultBaseURL {
		t.Errorf("BaseURL = %q, want %q", cfg.BaseURL, DefaultBaseURL)
	}
	if cfg.MaxConcurrency != 5 {
		t.Errorf("MaxConcurrency = %d, want 5", cfg.MaxConcurrency)
	}
	if cfg.Timeout != 30*time.Second {
		t.Errorf("Timeout = %v, want 30s", cfg.Timeout)
	}
}

func TestSearchURL(t *testing.T) {
	c, err := New(testConfig("https://bina.example"))
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}

	raw, err := c.SearchURL(listing.KindRent, 3, 16)
	if err != nil {
		t.Fatalf("SearchURL() error: %v", err)
	}

	req, _ := http.NewRequest(http.MethodGet, raw, nil)
	q := req.URL.Query()
	if req.URL.Path != "/graphql" {
		t.Errorf("path = %q, want /graphql", req.URL.Path)
	}
	if q.Get("operationName") != SearchOperation {
		t.Errorf("operationName = %q, want %q", q.Get("operationName"), SearchOperation)
	}

	var vars searchVariables
	if err := json.Unmarshal([]byte(q.Get("variables")), &vars); err != nil {
		t.Fatalf("variables not JSON: %v", err)
	}
	if vars.First != 16 || vars.Offset != 48 || !vars.Filter.Leased || vars.Sort != SearchSort {
		t.Errorf("variables = %+v, want first=16 offset=48 leased=true", vars)
	}
	if !strings.Contains(q.Get("extensions"), SearchQueryHash) {
		t.Errorf("extensions = %q, want persisted query hash", q.Get("extensions"))
	}
}

func TestFetchPage_Success(t *testing.T) {
	var gotUA, gotReferer string
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUA = r.Header.Get("User-Agent")
		gotReferer = r.Header.Get("Referer")
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, pageBody)
	}))

	page, err := c.FetchPage(context.Background(), listing.KindSale, 1, 16)
	if err != nil {
		t.Fatalf("FetchPage() error: %v", err)
	}

	if page.Index != 1 {
		t.Errorf("Index = %d, want 1", page.Index)
	}
	if len(page.Items) != 2 {
		t.Errorf("len(Items) = %d, want 2 (null node skipped)", len(page.Items))
	}
	if page.Edges != 3 || page.Size() != 3 {
		t.Errorf("Edges = %d Size() = %d, want 3 3", page.Edges, page.Size())
	}
	if page.TotalCount != 41 || !page.HasNextPage {
		t.Errorf("TotalCount = %d HasNextPage = %v, want 41 true", page.TotalCount, page.HasNextPage)
	}
	if gotUA != "TestAgent/1.0" {
		t.Errorf("User-Agent = %q, want TestAgent/1.0", gotUA)
	}
	if !strings.HasSuffix(gotReferer, "/alqi-satqi") {
		t.Errorf("Referer = %q, want sale listing page", gotReferer)
	}
}

func TestFetchPage_RetryOnServerError(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		fmt.Fprint(w, pageBody)
	}))

	if _, err := c.FetchPage(context.Background(), listing.KindRent, 0, 16); err != nil {
		t.Fatalf("FetchPage() error: %v", err)
	}
	if calls.Load() != 3 {
		t.Errorf("calls = %d, want 3", calls.Load())
	}
	if state := c.Tracker().GetState(); state.ConsecutiveFailures != 0 {
		t.Errorf("ConsecutiveFailures = %d after success, want 0", state.ConsecutiveFailures)
	}
}

func TestFetchPage_RetryOnRateLimit(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		fmt.Fprint(w, pageBody)
	}))

	if _, err := c.FetchPage(context.Background(), listing.KindRent, 0, 16); err != nil {
		t.Fatalf("FetchPage() error: %v", err)
	}
	if calls.Load() != 2 {
		t.Errorf("calls = %d, want 2", calls.Load())
	}
}

func TestFetchPage_NoRetryOnClientError(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))

	_, err := c.FetchPage(context.Background(), listing.KindRent, 0, 16)

	var status *StatusError
	if !errors.As(err, &status) || status.StatusCode != http.StatusNotFound {
		t.Fatalf("err = %v, want *StatusError 404", err)
	}
	if calls.Load() != 1 {
		t.Errorf("calls = %d, want 1", calls.Load())
	}
}

func TestFetchPage_MalformedPayloadIsTransient(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{name: "not json", body: "<html>maintenance</html>"},
		{name: "missing connection", body: `{"data":{}}`},
		{name: "graphql errors", body: `{"errors":[{"message":"PersistedQueryNotFound"}]}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var calls atomic.Int32
			c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				calls.Add(1)
				fmt.Fprint(w, tt.body)
			}))

			_, err := c.FetchPage(context.Background(), listing.KindRent, 0, 16)
			if !errors.Is(err, ErrRetryExhausted) {
				t.Fatalf("err = %v, want ErrRetryExhausted", err)
			}
			if Classify(err) != ErrorClassPayload {
				t.Errorf("Classify = %q, want %q", Classify(err), ErrorClassPayload)
			}
			if calls.Load() != 3 {
				t.Errorf("calls = %d, want 3", calls.Load())
			}
		})
	}
}

func TestFetchPage_InvalidCursor(t *testing.T) {
	c, _ := New(testConfig("https://bina.example"))
	if _, err := c.FetchPage(context.Background(), listing.KindRent, -1, 16); err == nil {
		t.Error("expected error for negative page")
	}
	if _, err := c.FetchPage(context.Background(), listing.KindRent, 0, 0); err == nil {
		t.Error("expected error for zero page size")
	}
}

func TestFetchDetail(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/items/1":
			fmt.Fprint(w, `<html><body>ok</body></html>`)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))

	html, err := c.FetchDetail(context.Background(), "/items/1")
	if err != nil {
		t.Fatalf("FetchDetail() error: %v", err)
	}
	if !strings.Contains(html, "ok") {
		t.Errorf("html = %q, want body", html)
	}

	_, err = c.FetchDetail(context.Background(), "/items/404")
	var detailErr *DetailFetchError
	if !errors.As(err, &detailErr) {
		t.Fatalf("err = %v, want *DetailFetchError", err)
	}
	if detailErr.Path != "/items/404" {
		t.Errorf("Path = %q, want /items/404", detailErr.Path)
	}
}

func TestDetailURL(t *testing.T) {
	c, _ := New(testConfig("https://bina.example/"))

	tests := []struct {
		path     string
		expected string
	}{
		{path: "/items/1", expected: "https://bina.example/items/1"},
		{path: "items/2", expected: "https://bina.example/items/2"},
		{path: "https://other.example/items/3", expected: "https://other.example/items/3"},
	}

	for _, tt := range tests {
		if got := c.DetailURL(tt.path); got != tt.expected {
			t.Errorf("DetailURL(%q) = %q, want %q", tt.path, got, tt.expected)
		}
	}
}

func TestConcurrencyBound(t *testing.T) {
	var inFlight, peak atomic.Int32
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := inFlight.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(20 * time.Millisecond)
		inFlight.Add(-1)
		if r.URL.Path == "/graphql" {
			fmt.Fprint(w, pageBody)
			return
		}
		fmt.Fprint(w, "<html></html>")
	}))

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			_, _ = c.FetchPage(context.Background(), listing.KindRent, i, 16)
		}(i)
		go func(i int) {
			defer wg.Done()
			_, _ = c.FetchDetail(context.Background(), fmt.Sprintf("/items/%d", i))
		}(i)
	}
	wg.Wait()

	if peak.Load() > 2 {
		t.Errorf("peak in-flight = %d, want <= 2", peak.Load())
	}
}

func TestForKind(t *testing.T) {
	var leased string
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		leased = r.URL.Query().Get("variables")
		fmt.Fprint(w, pageBody)
	}))

	if _, err := c.ForKind(listing.KindRent).FetchPage(context.Background(), 0, 16); err != nil {
		t.Fatalf("FetchPage() error: %v", err)
	}
	if !strings.Contains(leased, `"leased":true`) {
		t.Errorf("variables = %q, want leased filter", leased)
	}
}
