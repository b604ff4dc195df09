// Package scraper runs one scrape of one listing kind end to end: it resumes
// from the stored checkpoint, drives pagination, writes the final artifacts
// and clears the checkpoint once they are safely on disk.
package scraper

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Sternrassler/bina-scraper/pkg/cache"
	"github.com/Sternrassler/bina-scraper/pkg/checkpoint"
	"github.com/Sternrassler/bina-scraper/pkg/dedup"
	"github.com/Sternrassler/bina-scraper/pkg/listing"
	"github.com/Sternrassler/bina-scraper/pkg/normalize"
	"github.com/Sternrassler/bina-scraper/pkg/pagination"
	"github.com/Sternrassler/bina-scraper/pkg/sink"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// DefaultKeepBackups is how many incremental backups survive a successful run.
const DefaultKeepBackups = 3

// Fetcher fetches pages and detail pages of one kind.
type Fetcher interface {
	pagination.PageFetcher
	normalize.DetailFetcher
}

// Mirror receives the final record set after the files are written.
type Mirror interface {
	Upsert(ctx context.Context, records []listing.Listing) (int, error)
}

// Config holds the configuration of one run.
type Config struct {
	Kind listing.Kind

	// Pagination configures the driver.
	Pagination pagination.Config

	// BaseURL builds public listing URLs.
	BaseURL string

	// OutputDir receives final artifacts and backups.
	OutputDir string

	// FileTag overrides the YYYYMM tag of final file names.
	FileTag string

	// Fresh discards a stored checkpoint before starting.
	Fresh bool

	// KeepBackups is the number of incremental backups kept after a
	// successful run.
	KeepBackups int

	// Now is the clock for records and file names. Defaults to time.Now.
	Now func() time.Time
}

// Scraper runs scrapes of one kind.
type Scraper struct {
	config  Config
	fetcher Fetcher
	store   checkpoint.Store
	sink    *sink.Sink
	mirror  Mirror
	logger  zerolog.Logger

	// categories memoises detail-page lookups for the duration of one run.
	categories *cache.Manager
}

// New creates a scraper.
func New(cfg Config, fetcher Fetcher, store checkpoint.Store, logger zerolog.Logger) (*Scraper, error) {
	if fetcher == nil {
		return nil, errors.New("fetcher is required")
	}
	if store == nil {
		return nil, errors.New("checkpoint store is required")
	}
	if _, err := listing.ParseKind(string(cfg.Kind)); err != nil {
		return nil, err
	}
	if cfg.OutputDir == "" {
		return nil, errors.New("output dir is required")
	}
	if cfg.KeepBackups <= 0 {
		cfg.KeepBackups = DefaultKeepBackups
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	logger = logger.With().Str("kind", string(cfg.Kind)).Logger()

	return &Scraper{
		config:  cfg,
		fetcher: fetcher,
		store:   store,
		sink: sink.New(sink.Config{
			Dir:    cfg.OutputDir,
			Kind:   cfg.Kind,
			Tag:    cfg.FileTag,
			Now:    cfg.Now,
			Logger: logger,
		}),
		logger:     logger,
		categories: cache.NewManager(),
	}, nil
}

// SetMirror enables mirroring of the final record set.
func (s *Scraper) SetMirror(m Mirror) {
	s.mirror = m
}

// Sink returns the artifact sink.
func (s *Scraper) Sink() *sink.Sink {
	return s.sink
}

// Run performs one scrape. The summary is returned with every error except
// a failed checkpoint load. On pagination.ErrInterrupted the checkpoint and
// a backup have been saved and no final artifacts are written. On
// *pagination.TerminalPageError the final artifacts hold everything
// collected and the checkpoint is kept for a resume.
func (s *Scraper) Run(ctx context.Context) (*Summary, error) {
	started := time.Now()
	defer s.releaseCategories()

	state, err := s.loadState(ctx)
	if err != nil {
		return nil, err
	}

	summary := &Summary{
		Kind:         s.config.Kind,
		RunID:        state.RunID,
		Resumed:      state.Resumed(),
		TerminalPage: -1,
	}
	defer func() {
		summary.Duration = time.Since(started)
	}()

	driver := pagination.NewDriver(s.fetcher, s.newEnricher(), s.config.Pagination, pagination.Hooks{
		Checkpoint: s.saveCheckpoint,
		Backup:     s.saveBackup,
	}, s.logger)

	result, runErr := driver.Run(ctx, state)
	summary.fill(state, result)

	var pageErr *pagination.TerminalPageError
	switch {
	case runErr == nil:
		summary.Outcome = OutcomeCompleted
	case errors.Is(runErr, pagination.ErrInterrupted):
		summary.Outcome = OutcomeInterrupted
		return summary, runErr
	case errors.As(runErr, &pageErr):
		summary.Outcome = OutcomeAborted
	default:
		summary.Outcome = OutcomeFailed
		return summary, runErr
	}

	// Flush what was collected, also after an abort.
	persistCtx := context.WithoutCancel(ctx)
	paths, err := s.sink.WriteFinal(state.Records)
	if err != nil {
		summary.Outcome = OutcomeFailed
		if cpErr := s.saveCheckpoint(persistCtx, state); cpErr != nil {
			s.logger.Error().Err(cpErr).Msg("Failed to save checkpoint after final write failure")
		}
		return summary, fmt.Errorf("final write: %w", err)
	}
	summary.Paths = paths

	if removed, err := s.sink.PruneBackups(s.config.KeepBackups); err != nil {
		s.logger.Warn().Err(err).Msg("Failed to prune backups")
	} else if removed > 0 {
		s.logger.Debug().Int("removed", removed).Msg("Pruned old backups")
	}

	if s.mirror != nil {
		if n, err := s.mirror.Upsert(persistCtx, state.Records); err != nil {
			summary.MirrorError = err.Error()
			s.logger.Error().Err(err).Int("written", n).Msg("Postgres mirror failed")
		} else {
			summary.Mirrored = n
		}
	}

	if runErr != nil {
		s.logger.Warn().
			Err(runErr).
			Int("last_page", state.LastPage).
			Msg("Run aborted - final artifacts flushed, checkpoint kept for resume")
		summary.log(s.logger, state.Records)
		return summary, runErr
	}

	if err := s.store.Clear(persistCtx); err != nil {
		s.logger.Warn().Err(err).Msg("Failed to clear checkpoint")
	}

	summary.log(s.logger, state.Records)
	return summary, nil
}

// loadState restores the stored checkpoint or starts fresh. Corrupt
// checkpoints are discarded with a warning.
func (s *Scraper) loadState(ctx context.Context) (*pagination.State, error) {
	if s.config.Fresh {
		if err := s.store.Clear(ctx); err != nil {
			return nil, fmt.Errorf("clear checkpoint: %w", err)
		}
	}

	cp, err := s.store.Load(ctx)
	if err != nil {
		if !checkpoint.IsCorruption(err) {
			return nil, fmt.Errorf("load checkpoint: %w", err)
		}
		s.logger.Warn().Err(err).Msg("Checkpoint is corrupt - starting fresh")
		cp = nil
	}

	if cp == nil {
		return pagination.NewState(uuid.NewString(), s.config.Kind), nil
	}

	state := &pagination.State{
		RunID:       cp.RunID,
		Kind:        cp.Kind,
		Records:     cp.Records,
		Seen:        dedup.New(),
		LastPage:    cp.LastPage,
		FailedPages: cp.FailedPages,
		TotalCount:  cp.TotalCount,
		Stats:       cp.Stats,
	}
	if state.RunID == "" {
		state.RunID = uuid.NewString()
	}
	for i := range state.Records {
		state.Seen.Seed(state.Records[i].ID)
	}

	s.logger.Info().
		Str("run_id", state.RunID).
		Int("last_page", state.LastPage).
		Int("records", len(state.Records)).
		Time("saved_at", cp.SavedAt).
		Msg("Resuming from checkpoint")
	return state, nil
}

func (s *Scraper) newEnricher() *normalize.Enricher {
	normalizer := normalize.NewNormalizer(normalize.Config{
		Kind:    s.config.Kind,
		BaseURL: s.config.BaseURL,
		Now:     s.config.Now,
	})
	resolver := normalize.NewCategoryResolver(s.fetcher, s.categories)
	concurrency := s.config.Pagination.MaxConcurrency
	if concurrency <= 0 {
		concurrency = pagination.DefaultConfig().MaxConcurrency
	}
	return normalize.NewEnricher(normalizer, resolver, concurrency, s.logger)
}

// releaseCategories empties the category cache so nothing outlives the run.
func (s *Scraper) releaseCategories() {
	entries, resolved := s.categories.Resolved()
	if entries > 0 {
		s.logger.Debug().
			Int("detail_pages", entries).
			Int("with_category", resolved).
			Msg("Category cache released")
	}
	s.categories.Reset()
}

func (s *Scraper) saveCheckpoint(ctx context.Context, state *pagination.State) error {
	return s.store.Save(ctx, &checkpoint.Checkpoint{
		RunID:       state.RunID,
		Kind:        state.Kind,
		LastPage:    state.LastPage,
		Records:     state.Records,
		FailedPages: state.FailedPages,
		TotalCount:  state.TotalCount,
		Stats:       state.Stats,
	})
}

func (s *Scraper) saveBackup(_ context.Context, state *pagination.State) error {
	_, err := s.sink.WriteIncremental(state.Records, state.LastPage)
	return err
}
