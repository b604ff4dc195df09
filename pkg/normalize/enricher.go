package normalize

import (
	"context"
	"errors"

	"github.com/Sternrassler/bina-scraper/pkg/listing"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// Batch is the outcome of enriching one page.
type Batch struct {
	// Listings in source order, with categories resolved where possible.
	Listings []listing.Listing

	// Rejected holds one error per raw item that could not be normalized.
	Rejected []*NormalizationError

	// DetailFailures counts listings whose detail page could not be fetched.
	DetailFailures int

	// Unresolved counts listings left without a category, including
	// DetailFailures.
	Unresolved int
}

// Enricher normalizes a page of raw items and resolves their categories
// concurrently.
type Enricher struct {
	normalizer  *Normalizer
	resolver    *CategoryResolver
	concurrency int
	logger      zerolog.Logger
}

// NewEnricher creates an enricher. concurrency bounds the detail lookups
// started for one page; the client bounds requests across pages.
func NewEnricher(normalizer *Normalizer, resolver *CategoryResolver, concurrency int, logger zerolog.Logger) *Enricher {
	if concurrency <= 0 {
		concurrency = 1
	}
	return &Enricher{
		normalizer:  normalizer,
		resolver:    resolver,
		concurrency: concurrency,
		logger:      logger,
	}
}

// Enrich normalizes raws and resolves categories. Rejections and detail
// failures are reported in the Batch. The only error is ctx's: a page whose
// lookups were cut short by cancellation must not be committed.
func (e *Enricher) Enrich(ctx context.Context, raws []listing.RawItem) (Batch, error) {
	var batch Batch
	listings := make([]listing.Listing, 0, len(raws))

	for _, raw := range raws {
		l, err := e.normalizer.Normalize(raw)
		if err != nil {
			var normErr *NormalizationError
			if !errors.As(err, &normErr) {
				normErr = &NormalizationError{Field: "node", Reason: err.Error()}
			}
			e.logger.Warn().
				Str("id", normErr.ID).
				Str("field", normErr.Field).
				Str("reason", normErr.Reason).
				Msg("Rejected listing")
			batch.Rejected = append(batch.Rejected, normErr)
			continue
		}
		listings = append(listings, l)
	}

	if e.resolver != nil && len(listings) > 0 {
		failed := make([]bool, len(listings))

		g := new(errgroup.Group)
		g.SetLimit(e.concurrency)
		for i := range listings {
			if listings[i].Path == "" {
				continue
			}
			g.Go(func() error {
				category, err := e.resolver.Resolve(ctx, listings[i].Path)
				if err != nil {
					if ctx.Err() == nil {
						e.logger.Debug().
							Err(err).
							Str("id", listings[i].ID).
							Msg("Category lookup failed")
					}
					failed[i] = true
					return nil
				}
				listings[i].Category = category
				return nil
			})
		}
		_ = g.Wait()

		if err := ctx.Err(); err != nil {
			return Batch{}, err
		}
		for _, f := range failed {
			if f {
				batch.DetailFailures++
			}
		}
	}

	for i := range listings {
		if listings[i].Category == nil {
			batch.Unresolved++
		}
	}
	batch.Listings = listings
	return batch, nil
}
