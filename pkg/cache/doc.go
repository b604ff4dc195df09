// Package cache provides the run-scoped category cache.
//
// Detail pages are expensive to fetch and the same listing path can show up
// more than once in a run (bumped listings move between pages while the run
// is in progress). The cache memoises the category resolved for each path so
// every path costs at most one successful detail fetch per run.
//
// Features:
//
// - In-memory only; every Scraper owns one Manager and resets it when a run ends
// - Deterministic keys from listing paths or absolute URLs
// - "No category" results are cached, failures are not
// - Concurrent lookups of the same key share one load
// - Prometheus metrics for observability
//
// # Basic Usage
//
//	manager := cache.NewManager()
//
//	category, err := manager.GetOrLoad(ctx, cache.KeyForPath(path), func(ctx context.Context) (*listing.Category, error) {
//		html, err := fetcher.FetchDetail(ctx, path)
//		if err != nil {
//			return nil, err
//		}
//		return listing.CategoryFromHTML(html), nil
//	})
//
// # Metrics
//
// The cache manager exports Prometheus metrics:
//
//   - bina_category_cache_hits_total - Cache hits
//   - bina_category_cache_misses_total - Cache misses
//   - bina_category_cache_entries - Entries held by live managers
//   - bina_category_cache_errors_total - Loads that failed and were not stored
package cache
