// Package pagination drives a checkpointed scrape over an offset-paginated
// listing API.
//
// Pages are fetched and enriched by a fixed worker pool, then committed
// strictly in page order by a single coordinator goroutine, which owns the
// run state (records, seen IDs, statistics). A lookahead window of twice the
// worker count bounds how far fetching may run ahead of the last committed
// page, and with it the size of the reorder buffer.
//
// Example usage:
//
//	driver := pagination.NewDriver(client.ForKind(kind), enricher, pagination.DefaultConfig(), pagination.Hooks{
//		Checkpoint: saveCheckpoint,
//		Backup:     writeBackup,
//	}, logger)
//	state := pagination.NewState(runID, kind)
//	result, err := driver.Run(ctx, state)
//
// The driver:
//   - Starts at the page after state.LastPage, or at Config.StartPage
//   - Stops dispatching once a short, empty or last page has been committed
//   - Runs the checkpoint hook every CheckpointInterval pages
//   - Runs the backup hook every IncrementalSaveInterval pages
//   - Skips or aborts on pages that still fail after client retries
//   - On cancellation, lets in-flight pages finish within GracePeriod,
//     commits what is contiguous and saves a checkpoint
package pagination
