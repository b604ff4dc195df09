package pagination

import (
	"github.com/Sternrassler/bina-scraper/pkg/dedup"
	"github.com/Sternrassler/bina-scraper/pkg/listing"
)

// State is the resumable state of one run. It is mutated only by the
// coordinator; hooks receive it synchronously and must not retain it.
type State struct {
	RunID string
	Kind  listing.Kind

	// Records holds accepted listings in commit order.
	Records []listing.Listing

	// Seen filters duplicate IDs across pages and restarts.
	Seen *dedup.Filter

	// LastPage is the last committed or skipped page, -1 when none.
	LastPage int

	// FailedPages lists pages skipped after exhausting retries.
	FailedPages []int

	// TotalCount is the upstream-reported result size.
	TotalCount int

	Stats listing.RunStats
}

// NewState returns an empty state.
func NewState(runID string, kind listing.Kind) *State {
	return &State{
		RunID:    runID,
		Kind:     kind,
		Records:  []listing.Listing{},
		Seen:     dedup.New(),
		LastPage: -1,
	}
}

// Resumed reports whether the state continues an earlier run.
func (s *State) Resumed() bool {
	return s.LastPage >= 0
}
