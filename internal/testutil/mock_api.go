// Package testutil provides a fake listing site for tests.
package testutil

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"time"
)

// Fault makes the mock fail a request. Times is the number of requests that
// fail before the endpoint recovers; a negative value fails forever.
type Fault struct {
	StatusCode int
	Body       string
	Times      int
	Delay      time.Duration
}

// MockAPI is a configurable fake of the GraphQL search endpoint and the
// listing detail pages.
type MockAPI struct {
	server *httptest.Server

	mu          sync.Mutex
	nodes       map[bool][]string
	details     map[string]string
	pageFaults  map[bool]map[int]*Fault
	pageDelays  map[bool]map[int]time.Duration
	detailFault map[string]*Fault
	nullNodes   bool

	requestCount   int
	pageRequests   map[bool]map[int]int
	detailRequests map[string]int
	lastHeader     http.Header
}

// NewMockAPI starts a mock server with no listings.
func NewMockAPI() *MockAPI {
	m := &MockAPI{
		nodes:          make(map[bool][]string),
		details:        make(map[string]string),
		pageFaults:     map[bool]map[int]*Fault{true: {}, false: {}},
		pageDelays:     map[bool]map[int]time.Duration{true: {}, false: {}},
		detailFault:    make(map[string]*Fault),
		pageRequests:   map[bool]map[int]int{true: {}, false: {}},
		detailRequests: make(map[string]int),
	}
	m.server = httptest.NewServer(http.HandlerFunc(m.serve))
	return m
}

// URL returns the base URL of the mock.
func (m *MockAPI) URL() string {
	return m.server.URL
}

// Close shuts down the mock server.
func (m *MockAPI) Close() {
	m.server.Close()
}

// AddNodes appends raw listing nodes to the result set of one kind.
func (m *MockAPI) AddNodes(leased bool, nodes ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nodes[leased] = append(m.nodes[leased], nodes...)
}

// Generate appends n listings with IDs <prefix>-<i>, each with a detail page
// under /items/<id> carrying category.
func (m *MockAPI) Generate(leased bool, prefix string, n int, category string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	start := len(m.nodes[leased])
	for i := start; i < start+n; i++ {
		id := fmt.Sprintf("%s-%d", prefix, i)
		path := "/items/" + id
		m.nodes[leased] = append(m.nodes[leased], Node(id, float64(500+i), path))
		if category != "" {
			m.details[path] = CategoryPage(category)
		}
	}
}

// SetDetail serves html for a listing path.
func (m *MockAPI) SetDetail(path, html string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.details[path] = html
}

// FailPage injects a fault for one page index of one kind.
func (m *MockAPI) FailPage(leased bool, page int, fault Fault) {
	m.mu.Lock()
	defer m.mu.Unlock()
	f := fault
	m.pageFaults[leased][page] = &f
}

// DelayPage slows down every successful response for one page.
func (m *MockAPI) DelayPage(leased bool, page int, d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pageDelays[leased][page] = d
}

// FailDetail injects a fault for one detail path.
func (m *MockAPI) FailDetail(path string, fault Fault) {
	m.mu.Lock()
	defer m.mu.Unlock()
	f := fault
	m.detailFault[path] = &f
}

// IncludeNullNodes appends a null edge to every page.
func (m *MockAPI) IncludeNullNodes(enabled bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nullNodes = enabled
}

// RequestCount returns the number of requests served.
func (m *MockAPI) RequestCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.requestCount
}

// PageRequests returns how often a page of one kind was requested.
func (m *MockAPI) PageRequests(leased bool, page int) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pageRequests[leased][page]
}

// DetailRequests returns how often a detail path was requested.
func (m *MockAPI) DetailRequests(path string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.detailRequests[path]
}

// LastHeader returns the headers of the most recent request.
func (m *MockAPI) LastHeader() http.Header {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastHeader
}

// Reset clears all request counters.
func (m *MockAPI) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requestCount = 0
	m.pageRequests = map[bool]map[int]int{true: {}, false: {}}
	m.detailRequests = make(map[string]int)
	m.lastHeader = nil
}

func (m *MockAPI) serve(w http.ResponseWriter, r *http.Request) {
	m.mu.Lock()
	m.requestCount++
	m.lastHeader = r.Header.Clone()
	m.mu.Unlock()

	if r.URL.Path == "/graphql" {
		m.serveSearch(w, r)
		return
	}
	m.serveDetail(w, r)
}

type searchVariables struct {
	First  int `json:"first"`
	Offset int `json:"offset"`
	Filter struct {
		Leased bool `json:"leased"`
	} `json:"filter"`
}

func (m *MockAPI) serveSearch(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if q.Get("operationName") != "SearchItems" || !strings.Contains(q.Get("extensions"), "persistedQuery") {
		http.Error(w, `{"errors":[{"message":"PersistedQueryNotFound"}]}`, http.StatusBadRequest)
		return
	}

	var vars searchVariables
	if err := json.Unmarshal([]byte(q.Get("variables")), &vars); err != nil || vars.First <= 0 || vars.Offset < 0 {
		http.Error(w, `{"errors":[{"message":"invalid variables"}]}`, http.StatusBadRequest)
		return
	}
	leased := vars.Filter.Leased
	page := vars.Offset / vars.First

	m.mu.Lock()
	m.pageRequests[leased][page]++
	fault := takeFault(m.pageFaults[leased][page])
	all := m.nodes[leased]
	end := min(vars.Offset+vars.First, len(all))
	var nodes []string
	if vars.Offset < end {
		nodes = append(nodes, all[vars.Offset:end]...)
	}
	total := len(all)
	nullNodes := m.nullNodes
	delay := m.pageDelays[leased][page]
	m.mu.Unlock()

	if fault != nil {
		writeFault(w, fault)
		return
	}
	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-r.Context().Done():
			return
		}
	}

	edges := make([]string, 0, len(nodes)+1)
	for _, n := range nodes {
		edges = append(edges, `{"node":`+n+`}`)
	}
	if nullNodes {
		edges = append(edges, `{"node":null}`)
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	fmt.Fprintf(w,
		`{"data":{"itemsConnection":{"totalCount":%d,"pageInfo":{"hasNextPage":%t,"endCursor":"%d"},"edges":[%s]}}}`,
		total, end < total, end, strings.Join(edges, ","))
}

func (m *MockAPI) serveDetail(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Path

	m.mu.Lock()
	m.detailRequests[path]++
	fault := takeFault(m.detailFault[path])
	html, ok := m.details[path]
	m.mu.Unlock()

	if fault != nil {
		writeFault(w, fault)
		return
	}
	if !ok {
		html = "<html><body><h1>Elan</h1></body></html>"
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write([]byte(html))
}

// takeFault consumes one occurrence of f. Callers hold m.mu.
func takeFault(f *Fault) *Fault {
	if f == nil || f.Times == 0 {
		return nil
	}
	if f.Times > 0 {
		f.Times--
	}
	out := *f
	return &out
}

func writeFault(w http.ResponseWriter, f *Fault) {
	if f.Delay > 0 {
		time.Sleep(f.Delay)
	}
	status := f.StatusCode
	if status == 0 {
		status = http.StatusServiceUnavailable
	}
	w.WriteHeader(status)
	if f.Body != "" {
		w.Write([]byte(f.Body))
	}
}

// Node renders a listing node the way the search endpoint returns it.
func Node(id string, price float64, path string) string {
	return fmt.Sprintf(`{
		"id": %q,
		"price": {"value": %g, "currency": "AZN"},
		"area": {"value": 75.5, "units": "m2"},
		"floor": 5,
		"floors": 12,
		"rooms": 3,
		"city": {"name": "Bakı"},
		"location": {"name": "Nəsimi r.", "fullName": "Bakı, Nəsimi r."},
		"category": {"name": "flat"},
		"hasMortgage": true,
		"hasBillOfSale": false,
		"hasRepair": true,
		"company": null,
		"photos": [{"thumbnail": "https://img.example/%s-t.jpg", "f460x345": "https://img.example/%s-m.jpg", "large": "https://img.example/%s-l.jpg"}],
		"photosCount": 1,
		"path": %q,
		"updatedAt": "2024-05-01T10:00:00Z"
	}`, id, price, id, id, id, path)
}

// NodeWithoutPrice renders a node that fails normalization.
func NodeWithoutPrice(id, path string) string {
	return fmt.Sprintf(`{"id": %q, "path": %q, "city": {"name": "Bakı"}}`, id, path)
}

// CategoryPage renders a detail page carrying a category label.
func CategoryPage(label string) string {
	return `<html><body><div class="product-properties">` +
		`<div class="product-properties__i">` +
		`<label class="product-properties__i-name">Kateqoriya</label>` +
		`<span class="product-properties__i-value">` + label + `</span>` +
		`</div></div></body></html>`
}
