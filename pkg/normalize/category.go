package normalize

import (
	"context"
	"errors"

	"github.com/Sternrassler/bina-scraper/pkg/cache"
	"github.com/Sternrassler/bina-scraper/pkg/client"
	"github.com/Sternrassler/bina-scraper/pkg/listing"
)

// DetailFetcher retrieves the HTML of a listing detail page.
type DetailFetcher interface {
	FetchDetail(ctx context.Context, path string) (string, error)
}

// CategoryResolver looks up listing categories with at most one successful
// detail fetch per path per run.
type CategoryResolver struct {
	fetcher DetailFetcher
	cache   *cache.Manager
}

// NewCategoryResolver creates a resolver. A nil manager gets a fresh cache.
func NewCategoryResolver(fetcher DetailFetcher, manager *cache.Manager) *CategoryResolver {
	if fetcher == nil {
		panic("detail fetcher cannot be nil")
	}
	if manager == nil {
		manager = cache.NewManager()
	}
	return &CategoryResolver{fetcher: fetcher, cache: manager}
}

// Resolve returns the category for path, or nil when the detail page has
// none. Fetch failures are returned as *client.DetailFetchError and are not
// cached.
func (r *CategoryResolver) Resolve(ctx context.Context, path string) (*listing.Category, error) {
	if path == "" {
		return nil, &client.DetailFetchError{Path: path, Err: errors.New("listing has no path")}
	}
	return r.cache.GetOrLoad(ctx, cache.KeyForPath(path), func(ctx context.Context) (*listing.Category, error) {
		html, err := r.fetcher.FetchDetail(ctx, path)
		if err != nil {
			var detailErr *client.DetailFetchError
			if errors.As(err, &detailErr) {
				return nil, err
			}
			return nil, &client.DetailFetchError{Path: path, Err: err}
		}
		return listing.CategoryFromHTML(html), nil
	})
}
