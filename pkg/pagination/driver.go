package pagination

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Sternrassler/bina-scraper/pkg/dedup"
	"github.com/Sternrassler/bina-scraper/pkg/listing"
	"github.com/Sternrassler/bina-scraper/pkg/normalize"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

var (
	binaPagesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bina_pages_total",
		Help: "Total pages by outcome",
	}, []string{"outcome"})

	binaRecordsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bina_records_total",
		Help: "Total listings by outcome",
	}, []string{"outcome"})

	binaLastCommittedPage = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "bina_last_committed_page",
		Help: "Index of the last committed page by kind",
	}, []string{"kind"})
)

// StopReason says why a run ended.
type StopReason string

const (
	ReasonEndOfData   StopReason = "end_of_data"
	ReasonMaxPages    StopReason = "max_pages"
	ReasonAborted     StopReason = "aborted"
	ReasonInterrupted StopReason = "interrupted"
)

// Config holds driver configuration.
type Config struct {
	// StartPage is the first page of a fresh run.
	StartPage int

	// PageSize is the number of items requested per page.
	PageSize int

	// MaxConcurrency is the number of page workers.
	MaxConcurrency int

	// CheckpointInterval runs the checkpoint hook after every N pages.
	CheckpointInterval int

	// IncrementalSaveInterval runs the backup hook after every M pages.
	IncrementalSaveInterval int

	// SkipFailedPages records pages that still fail after retries and moves
	// on instead of aborting.
	SkipFailedPages bool

	// MaxConsecutiveFailedPages aborts a skipping run after this many failed
	// pages in a row.
	MaxConsecutiveFailedPages int

	// MaxPages limits the run to pages [0, MaxPages). 0 means unlimited.
	MaxPages int

	// GracePeriod is how long in-flight pages may finish after cancellation.
	GracePeriod time.Duration

	// ProgressInterval logs a progress report every N pages.
	ProgressInterval int
}

// DefaultConfig returns the default driver configuration.
func DefaultConfig() Config {
	return Config{
		StartPage:                 0,
		PageSize:                  16,
		MaxConcurrency:            5,
		CheckpointInterval:        50,
		IncrementalSaveInterval:   100,
		MaxConsecutiveFailedPages: 5,
		GracePeriod:               10 * time.Second,
		ProgressInterval:          10,
	}
}

// PageFetcher fetches one page of one kind.
type PageFetcher interface {
	FetchPage(ctx context.Context, page, size int) (*listing.RawPage, error)
}

// Enricher turns a page of raw items into listings.
type Enricher interface {
	Enrich(ctx context.Context, raws []listing.RawItem) (normalize.Batch, error)
}

// HookFunc persists state. It runs on the coordinator goroutine.
type HookFunc func(ctx context.Context, state *State) error

// Hooks are called as pages are committed.
type Hooks struct {
	Checkpoint HookFunc
	Backup     HookFunc
}

// Result describes how a run ended.
type Result struct {
	Reason StopReason

	// TerminalPage is the page that ended the data, -1 unless Reason is
	// ReasonEndOfData.
	TerminalPage int

	// LastPage is the last committed or skipped page, -1 when none.
	LastPage int

	// PagesCommitted counts pages committed or skipped during this call.
	PagesCommitted int
}

// pageResult is what a worker hands back to the coordinator.
type pageResult struct {
	page        int
	items       int
	totalCount  int
	hasNextPage bool
	batch       normalize.Batch
	err         error
}

// Driver runs the pagination loop.
type Driver struct {
	fetcher  PageFetcher
	enricher Enricher
	config   Config
	hooks    Hooks
	logger   zerolog.Logger
}

// NewDriver creates a new driver. Zero config fields get defaults.
func NewDriver(fetcher PageFetcher, enricher Enricher, config Config, hooks Hooks, logger zerolog.Logger) *Driver {
	if fetcher == nil || enricher == nil {
		panic("pagination: fetcher and enricher are required")
	}
	d := DefaultConfig()
	if config.PageSize <= 0 {
		config.PageSize = d.PageSize
	}
	if config.MaxConcurrency <= 0 {
		config.MaxConcurrency = d.MaxConcurrency
	}
	if config.CheckpointInterval <= 0 {
		config.CheckpointInterval = d.CheckpointInterval
	}
	if config.IncrementalSaveInterval <= 0 {
		config.IncrementalSaveInterval = d.IncrementalSaveInterval
	}
	if config.MaxConsecutiveFailedPages <= 0 {
		config.MaxConsecutiveFailedPages = d.MaxConsecutiveFailedPages
	}
	if config.GracePeriod <= 0 {
		config.GracePeriod = d.GracePeriod
	}
	if config.ProgressInterval <= 0 {
		config.ProgressInterval = d.ProgressInterval
	}
	if config.StartPage < 0 {
		config.StartPage = 0
	}

	return &Driver{
		fetcher:  fetcher,
		enricher: enricher,
		config:   config,
		hooks:    hooks,
		logger:   logger,
	}
}

// Config returns the effective configuration.
func (d *Driver) Config() Config {
	return d.config
}

// StartPage returns the first page Run will dispatch for state.
func (d *Driver) StartPage(state *State) int {
	if state.LastPage >= 0 {
		return state.LastPage + 1
	}
	return d.config.StartPage
}

// Run fetches pages until the data ends, MaxPages is reached, a page fails
// terminally, or ctx is cancelled. It returns *TerminalPageError on abort and
// ErrInterrupted on cancellation; in both cases the checkpoint hook has run.
func (d *Driver) Run(ctx context.Context, state *State) (Result, error) {
	if state.Seen == nil {
		state.Seen = dedup.New()
		for i := range state.Records {
			state.Seen.Seed(state.Records[i].ID)
		}
	}

	start := d.StartPage(state)
	window := 2 * d.config.MaxConcurrency
	runStart := time.Now()

	d.logger.Info().
		Str("kind", string(state.Kind)).
		Str("run_id", state.RunID).
		Int("start_page", start).
		Int("records", len(state.Records)).
		Int("workers", d.config.MaxConcurrency).
		Msg("Starting pagination")

	// Workers keep running through the grace period after ctx ends.
	workCtx, cancelWork := context.WithCancel(context.WithoutCancel(ctx))
	defer cancelWork()
	var graceTimer *time.Timer
	var graceMu sync.Mutex
	stopGrace := context.AfterFunc(ctx, func() {
		graceMu.Lock()
		graceTimer = time.AfterFunc(d.config.GracePeriod, cancelWork)
		graceMu.Unlock()
	})
	defer func() {
		stopGrace()
		graceMu.Lock()
		if graceTimer != nil {
			graceTimer.Stop()
		}
		graceMu.Unlock()
	}()

	var (
		stopOnce sync.Once
		stop     = make(chan struct{})
		stopAt   atomic.Int64
	)
	stopAt.Store(math.MaxInt64)
	halt := func() { stopOnce.Do(func() { close(stop) }) }

	tokens := make(chan struct{}, window)
	jobs := make(chan int)
	results := make(chan pageResult, window)

	// Dispatcher: hands out page indices while the window has room.
	go func() {
		defer close(jobs)
		for page := start; ; page++ {
			if d.config.MaxPages > 0 && page >= d.config.MaxPages {
				return
			}
			select {
			case tokens <- struct{}{}:
			case <-stop:
				return
			}
			if int64(page) >= stopAt.Load() {
				return
			}
			select {
			case jobs <- page:
			case <-stop:
				return
			}
		}
	}()

	var wg sync.WaitGroup
	for i := 0; i < d.config.MaxConcurrency; i++ {
		wg.Add(1)
		go d.worker(workCtx, jobs, results, &wg, i)
	}
	go func() {
		wg.Wait()
		close(results)
	}()

	var (
		pending         = make(map[int]pageResult)
		next            = start
		committed       int
		consecutiveFail int
		reason          StopReason
		terminalPage    = -1
		abortErr        error
		interrupted     bool
		done            bool
		ctxDone         = ctx.Done()
		persistCtx      = context.WithoutCancel(ctx)
	)

	// finish stops dispatch and abandons pages beyond the commit point.
	finish := func() {
		done = true
		halt()
		cancelWork()
	}

	for results != nil {
		select {
		case <-ctxDone:
			ctxDone = nil
			if !done {
				interrupted = true
				d.logger.Warn().
					Str("kind", string(state.Kind)).
					Int("next_page", next).
					Dur("grace_period", d.config.GracePeriod).
					Msg("Interrupted - draining in-flight pages")
			}
			halt()

		case r, ok := <-results:
			if !ok {
				results = nil
				continue
			}
			if done {
				binaPagesTotal.WithLabelValues("discarded").Inc()
				continue
			}
			pending[r.page] = r

			for !done {
				r, ok := pending[next]
				if !ok {
					break
				}
				delete(pending, next)
				<-tokens

				if r.err != nil {
					if interrupted || ctx.Err() != nil || errors.Is(r.err, context.Canceled) {
						// Cannot commit past this page; the rest is dropped.
						interrupted = true
						finish()
						break
					}

					if !d.config.SkipFailedPages {
						abortErr = &TerminalPageError{Page: r.page, Err: r.err}
						reason = ReasonAborted
						finish()
						binaPagesTotal.WithLabelValues("failed").Inc()
						d.logger.Error().
							Err(r.err).
							Str("kind", string(state.Kind)).
							Int("page", r.page).
							Msg("Page failed after retries - aborting")
						break
					}

					consecutiveFail++
					state.FailedPages = append(state.FailedPages, r.page)
					state.Stats.FailedPages++
					state.LastPage = r.page
					committed++
					binaPagesTotal.WithLabelValues("skipped").Inc()
					d.logger.Warn().
						Err(r.err).
						Str("kind", string(state.Kind)).
						Int("page", r.page).
						Int("consecutive_failures", consecutiveFail).
						Msg("Page failed after retries - skipping")

					if consecutiveFail >= d.config.MaxConsecutiveFailedPages {
						abortErr = &TerminalPageError{
							Page: r.page,
							Err:  fmt.Errorf("%d consecutive failed pages: %w", consecutiveFail, r.err),
						}
						reason = ReasonAborted
						finish()
						break
					}
				} else {
					consecutiveFail = 0
					d.commit(state, r)
					committed++

					if r.items == 0 || r.items < d.config.PageSize || !r.hasNextPage {
						terminalPage = r.page
						reason = ReasonEndOfData
						stopAt.Store(int64(r.page + 1))
						finish()
						d.logger.Info().
							Str("kind", string(state.Kind)).
							Int("page", r.page).
							Int("items", r.items).
							Bool("has_next_page", r.hasNextPage).
							Msg("Reached last page")
					}
				}

				d.afterPage(persistCtx, state, r.page, committed, runStart)
				next++

				if !done && d.config.MaxPages > 0 && next >= d.config.MaxPages {
					reason = ReasonMaxPages
					finish()
				}
			}
		}
	}

	result := Result{
		Reason:         reason,
		TerminalPage:   terminalPage,
		LastPage:       state.LastPage,
		PagesCommitted: committed,
	}

	if interrupted && abortErr == nil && reason == "" {
		result.Reason = ReasonInterrupted
		d.runHook(persistCtx, "checkpoint", d.hooks.Checkpoint, state)
		d.runHook(persistCtx, "backup", d.hooks.Backup, state)
		d.logger.Warn().
			Str("kind", string(state.Kind)).
			Int("last_page", state.LastPage).
			Int("records", len(state.Records)).
			Msg("Pagination interrupted - checkpoint saved")
		return result, ErrInterrupted
	}

	if abortErr != nil {
		d.runHook(persistCtx, "checkpoint", d.hooks.Checkpoint, state)
		return result, abortErr
	}

	if result.Reason == "" {
		// Nothing left to dispatch: resumed at or past MaxPages.
		result.Reason = ReasonMaxPages
	}

	d.logger.Info().
		Str("kind", string(state.Kind)).
		Str("reason", string(result.Reason)).
		Int("last_page", state.LastPage).
		Int("records", len(state.Records)).
		Dur("duration", time.Since(runStart)).
		Msg("Pagination complete")

	return result, nil
}

// worker fetches and enriches pages from the queue.
func (d *Driver) worker(ctx context.Context, jobs <-chan int, results chan<- pageResult, wg *sync.WaitGroup, workerID int) {
	defer wg.Done()
	pagesProcessed := 0

	for page := range jobs {
		results <- d.fetch(ctx, page)
		pagesProcessed++
	}

	d.logger.Debug().
		Int("worker_id", workerID).
		Int("pages_processed", pagesProcessed).
		Msg("Worker finished")
}

func (d *Driver) fetch(ctx context.Context, page int) pageResult {
	if err := ctx.Err(); err != nil {
		return pageResult{page: page, err: err}
	}

	raw, err := d.fetcher.FetchPage(ctx, page, d.config.PageSize)
	if err != nil {
		if ctx.Err() != nil {
			return pageResult{page: page, err: ctx.Err()}
		}
		return pageResult{page: page, err: err}
	}

	batch, err := d.enricher.Enrich(ctx, raw.Items)
	if err != nil {
		return pageResult{page: page, err: err}
	}

	return pageResult{
		page:        page,
		items:       raw.Size(),
		totalCount:  raw.TotalCount,
		hasNextPage: raw.HasNextPage,
		batch:       batch,
	}
}

// commit appends the accepted listings of r to state. Coordinator only.
func (d *Driver) commit(state *State, r pageResult) {
	accepted, unresolved := 0, 0
	rejectedBefore := state.Seen.Duplicates()
	for _, l := range r.batch.Listings {
		if !state.Seen.Accept(l.ID) {
			continue
		}
		state.Records = append(state.Records, l)
		accepted++
		if l.Category == nil {
			unresolved++
		}
	}

	duplicates := state.Seen.Duplicates() - rejectedBefore

	state.LastPage = r.page
	if r.totalCount > 0 {
		state.TotalCount = r.totalCount
	}
	state.Stats.PagesProcessed++
	state.Stats.Collected = len(state.Records)
	state.Stats.Duplicates += duplicates
	state.Stats.Rejected += len(r.batch.Rejected)
	state.Stats.CategoryUnresolved += unresolved
	state.Stats.DetailFailures += r.batch.DetailFailures

	binaPagesTotal.WithLabelValues("committed").Inc()
	binaRecordsTotal.WithLabelValues("accepted").Add(float64(accepted))
	binaRecordsTotal.WithLabelValues("duplicate").Add(float64(duplicates))
	binaRecordsTotal.WithLabelValues("rejected").Add(float64(len(r.batch.Rejected)))
	binaLastCommittedPage.WithLabelValues(string(state.Kind)).Set(float64(r.page))

	d.logger.Debug().
		Str("kind", string(state.Kind)).
		Int("page", r.page).
		Int("items", r.items).
		Int("added", accepted).
		Int("duplicates", duplicates).
		Int("rejected", len(r.batch.Rejected)).
		Int("total_collected", len(state.Records)).
		Msg("Page committed")
}

// afterPage runs interval hooks and progress logging for a page that has
// been committed or skipped.
func (d *Driver) afterPage(ctx context.Context, state *State, page, committed int, runStart time.Time) {
	if (page+1)%d.config.CheckpointInterval == 0 {
		d.runHook(ctx, "checkpoint", d.hooks.Checkpoint, state)
	}
	if (page+1)%d.config.IncrementalSaveInterval == 0 {
		d.runHook(ctx, "backup", d.hooks.Backup, state)
	}
	if committed%d.config.ProgressInterval == 0 {
		d.logProgress(state, page, committed, runStart)
	}
}

func (d *Driver) runHook(ctx context.Context, name string, hook HookFunc, state *State) {
	if hook == nil {
		return
	}
	if err := hook(ctx, state); err != nil {
		d.logger.Error().
			Err(err).
			Str("hook", name).
			Str("kind", string(state.Kind)).
			Int("page", state.LastPage).
			Msg("Persistence hook failed")
	}
}

func (d *Driver) logProgress(state *State, page, committed int, runStart time.Time) {
	event := d.logger.Info().
		Str("kind", string(state.Kind)).
		Int("page", page).
		Int("collected", len(state.Records)).
		Int("duplicates", state.Stats.Duplicates).
		Int("rejected", state.Stats.Rejected)

	if state.TotalCount > 0 {
		totalPages := (state.TotalCount + d.config.PageSize - 1) / d.config.PageSize
		progress := float64(page+1) / float64(totalPages) * 100
		if progress > 100 {
			progress = 100
		}
		perPage := time.Since(runStart) / time.Duration(committed)
		remaining := totalPages - (page + 1)
		if remaining < 0 {
			remaining = 0
		}
		event = event.
			Int("total_count", state.TotalCount).
			Int("total_pages", totalPages).
			Float64("progress_pct", math.Round(progress*10)/10).
			Dur("avg_page_time", perPage).
			Dur("eta", perPage*time.Duration(remaining))
	}

	event.Msg("Progress")
}
