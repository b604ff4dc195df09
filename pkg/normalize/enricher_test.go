package normalize

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/Sternrassler/bina-scraper/pkg/cache"
	"github.com/Sternrassler/bina-scraper/pkg/client"
	"github.com/Sternrassler/bina-scraper/pkg/listing"
	"github.com/rs/zerolog"
)

// fakeFetcher serves detail HTML from a map and counts calls per path.
type fakeFetcher struct {
	mu    sync.Mutex
	pages map[string]string
	fail  map[string]bool
	calls map[string]int
}

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{
		pages: make(map[string]string),
		fail:  make(map[string]bool),
		calls: make(map[string]int),
	}
}

func (f *fakeFetcher) FetchDetail(ctx context.Context, path string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[path]++
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if f.fail[path] {
		return "", &client.DetailFetchError{Path: path, Err: errors.New("503 Service Unavailable")}
	}
	return f.pages[path], nil
}

func (f *fakeFetcher) callCount(path string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[path]
}

func categoryHTML(label string) string {
	return fmt.Sprintf(`<div class="product-properties"><div class="product-properties__i">`+
		`<label class="product-properties__i-name">Kateqoriya</label>`+
		`<span class="product-properties__i-value">%s</span></div></div>`, label)
}

func node(id, path string) listing.RawItem {
	return listing.RawItem(fmt.Sprintf(`{"id": %q, "price": {"value": 100}, "path": %q}`, id, path))
}

func TestCategoryResolver_CachesResultsAndAbsence(t *testing.T) {
	fetcher := newFakeFetcher()
	fetcher.pages["/items/1"] = categoryHTML("Ofis")
	fetcher.pages["/items/2"] = "<html><body>no properties</body></html>"

	resolver := NewCategoryResolver(fetcher, cache.NewManager())
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		cat, err := resolver.Resolve(ctx, "/items/1")
		if err != nil || cat == nil || cat.Code != listing.CategoryOffice {
			t.Fatalf("Resolve(/items/1) = %+v, %v", cat, err)
		}
		cat, err = resolver.Resolve(ctx, "/items/2")
		if err != nil || cat != nil {
			t.Fatalf("Resolve(/items/2) = %+v, %v; want nil, nil", cat, err)
		}
	}

	if fetcher.callCount("/items/1") != 1 || fetcher.callCount("/items/2") != 1 {
		t.Errorf("calls = %v, want one per path", fetcher.calls)
	}
}

func TestCategoryResolver_FailureNotCached(t *testing.T) {
	fetcher := newFakeFetcher()
	fetcher.fail["/items/3"] = true
	resolver := NewCategoryResolver(fetcher, nil)

	_, err := resolver.Resolve(context.Background(), "/items/3")
	var detailErr *client.DetailFetchError
	if !errors.As(err, &detailErr) {
		t.Fatalf("err = %v, want *client.DetailFetchError", err)
	}

	fetcher.mu.Lock()
	fetcher.fail["/items/3"] = false
	fetcher.pages["/items/3"] = categoryHTML("Qaraj")
	fetcher.mu.Unlock()

	cat, err := resolver.Resolve(context.Background(), "/items/3")
	if err != nil || cat == nil || cat.Code != listing.CategoryGarage {
		t.Errorf("second Resolve = %+v, %v; want garage", cat, err)
	}
	if fetcher.callCount("/items/3") != 2 {
		t.Errorf("calls = %d, want 2", fetcher.callCount("/items/3"))
	}
}

func TestCategoryResolver_UnknownLabelKept(t *testing.T) {
	fetcher := newFakeFetcher()
	fetcher.pages["/items/4"] = categoryHTML("Bina")
	resolver := NewCategoryResolver(fetcher, nil)

	cat, err := resolver.Resolve(context.Background(), "/items/4")
	if err != nil {
		t.Fatalf("Resolve() error: %v", err)
	}
	if cat == nil || cat.Code != listing.CategoryUnknown || cat.Label != "Bina" {
		t.Errorf("cat = %+v, want unknown with label preserved", cat)
	}
}

func TestEnricher_Enrich(t *testing.T) {
	fetcher := newFakeFetcher()
	fetcher.pages["/items/1"] = categoryHTML("Yeni tikili")
	fetcher.pages["/items/2"] = categoryHTML("Köhnə tikili")
	fetcher.fail["/items/4"] = true

	enricher := NewEnricher(testNormalizer(), NewCategoryResolver(fetcher, nil), 3, zerolog.Nop())

	raws := []listing.RawItem{
		node("1", "/items/1"),
		node("2", "/items/2"),
		listing.RawItem(`{"id": "3", "path": "/items/3"}`),
		node("4", "/items/4"),
		node("5", ""),
	}

	batch, err := enricher.Enrich(context.Background(), raws)
	if err != nil {
		t.Fatalf("Enrich() error: %v", err)
	}

	gotIDs := make([]string, 0, len(batch.Listings))
	for _, l := range batch.Listings {
		gotIDs = append(gotIDs, l.ID)
	}
	if fmt.Sprint(gotIDs) != "[1 2 4 5]" {
		t.Errorf("IDs = %v, want [1 2 4 5] in source order", gotIDs)
	}
	if len(batch.Rejected) != 1 || batch.Rejected[0].ID != "3" {
		t.Errorf("Rejected = %+v, want item 3", batch.Rejected)
	}
	if batch.DetailFailures != 1 {
		t.Errorf("DetailFailures = %d, want 1", batch.DetailFailures)
	}
	if batch.Unresolved != 2 {
		t.Errorf("Unresolved = %d, want 2 (failed lookup and missing path)", batch.Unresolved)
	}
	if c := batch.Listings[0].Category; c == nil || c.Code != listing.CategoryNewBuild {
		t.Errorf("listing 1 category = %+v, want new_build", c)
	}
	if c := batch.Listings[1].Category; c == nil || c.Code != listing.CategoryOldBuild {
		t.Errorf("listing 2 category = %+v, want old_build", c)
	}
}

func TestEnricher_CancelledContext(t *testing.T) {
	fetcher := newFakeFetcher()
	enricher := NewEnricher(testNormalizer(), NewCategoryResolver(fetcher, nil), 2, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := enricher.Enrich(ctx, []listing.RawItem{node("1", "/items/1")})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}

func TestEnricher_WithoutResolver(t *testing.T) {
	enricher := NewEnricher(testNormalizer(), nil, 2, zerolog.Nop())

	batch, err := enricher.Enrich(context.Background(), []listing.RawItem{node("1", "/items/1")})
	if err != nil {
		t.Fatalf("Enrich() error: %v", err)
	}
	if len(batch.Listings) != 1 || batch.Unresolved != 1 || batch.DetailFailures != 0 {
		t.Errorf("batch = %+v", batch)
	}
}
