// Package checkpoint persists the resumable state of a scrape run.
//
// A checkpoint holds every record collected so far together with the last
// fully processed page, so an interrupted run restarts at the following page
// and ends with the same record set as an uninterrupted one. Two backends
// are provided: FileStore (local JSON file, atomic replace) and RedisStore
// (single key, single SET).
package checkpoint

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/Sternrassler/bina-scraper/pkg/listing"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Version is the current checkpoint format.
const Version = 1

var (
	checkpointSavesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bina_checkpoint_saves_total",
		Help: "Total checkpoint saves by backend and result",
	}, []string{"backend", "result"})

	checkpointCorruptTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bina_checkpoint_corrupt_total",
		Help: "Total checkpoints discarded as corrupt by backend",
	}, []string{"backend"})
)

// Checkpoint is the persisted state of one run of one kind.
type Checkpoint struct {
	Version     int               `json:"version"`
	RunID       string            `json:"runId"`
	Kind        listing.Kind      `json:"kind"`
	LastPage    int               `json:"lastPage"`
	RecordCount int               `json:"recordCount"`
	Records     []listing.Listing `json:"records"`
	FailedPages []int             `json:"failedPages"`
	TotalCount  int               `json:"totalCount"`
	Stats       listing.RunStats  `json:"stats"`
	SavedAt     time.Time         `json:"savedAt"`
}

// Store loads, saves and clears the checkpoint of one kind.
type Store interface {
	// Load returns nil, nil when no checkpoint exists and *CorruptionError
	// when one exists but cannot be trusted.
	Load(ctx context.Context) (*Checkpoint, error)

	// Save replaces the stored checkpoint atomically.
	Save(ctx context.Context, cp *Checkpoint) error

	// Clear removes the checkpoint. Clearing a missing checkpoint is not an error.
	Clear(ctx context.Context) error
}

// CorruptionError reports a checkpoint that exists but is unusable.
type CorruptionError struct {
	Location string
	Reason   string
	Err      error
}

// Error implements the error interface.
func (e *CorruptionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("corrupt checkpoint %s: %s: %v", e.Location, e.Reason, e.Err)
	}
	return fmt.Sprintf("corrupt checkpoint %s: %s", e.Location, e.Reason)
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *CorruptionError) Unwrap() error {
	return e.Err
}

// IsCorruption reports whether err is a *CorruptionError.
func IsCorruption(err error) bool {
	var corrupt *CorruptionError
	return errors.As(err, &corrupt)
}

// encode stamps version, count and time and returns the JSON form.
func encode(cp *Checkpoint, now time.Time) ([]byte, error) {
	if cp == nil {
		return nil, errors.New("checkpoint cannot be nil")
	}
	cp.Version = Version
	cp.RecordCount = len(cp.Records)
	cp.SavedAt = now.UTC()
	if cp.Records == nil {
		cp.Records = []listing.Listing{}
	}
	if cp.FailedPages == nil {
		cp.FailedPages = []int{}
	}
	return json.Marshal(cp)
}

// decode parses and validates a stored checkpoint.
func decode(data []byte, location string, kind listing.Kind) (*Checkpoint, error) {
	var cp Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return nil, &CorruptionError{Location: location, Reason: "unparsable", Err: err}
	}
	if cp.Version != Version {
		return nil, &CorruptionError{Location: location, Reason: fmt.Sprintf("unsupported version %d", cp.Version)}
	}
	if cp.RecordCount != len(cp.Records) {
		return nil, &CorruptionError{
			Location: location,
			Reason:   fmt.Sprintf("record count %d does not match %d records", cp.RecordCount, len(cp.Records)),
		}
	}
	if cp.Kind != kind {
		return nil, &CorruptionError{Location: location, Reason: fmt.Sprintf("kind %q, want %q", cp.Kind, kind)}
	}
	if cp.LastPage < -1 {
		return nil, &CorruptionError{Location: location, Reason: fmt.Sprintf("invalid last page %d", cp.LastPage)}
	}
	return &cp, nil
}
