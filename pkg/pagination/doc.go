// Package pagination drives resumable, page-by-page harvesting of paginated
// search results.
//
// A Controller runs one collection as a state machine:
//
//	Idle -> Fetching -> Committing -> Advancing -> Fetching ...
//	                 \-> Exhausted (empty page, total reached, item cap)
//	                 \-> Failed    (terminal fetch error, storage error, cancellation)
//
// The starting offset is derived from the collection's checkpoint. Each page
// is written to the page store before the checkpoint is advanced, so a
// checkpoint never points past what the archive holds. A page that is already
// archived (written, but the checkpoint was not advanced before a crash) is
// read back instead of fetched again.
//
// Example usage:
//
//	ctrl := pagination.NewController(fetchClient, checkpoints, pages, pagination.DefaultConfig())
//	summary := ctrl.RunCollection(ctx, pagination.Job{
//		Collection: "SPARK",
//		Filter:     "project=SPARK",
//	})
//
// An Orchestrator runs many collections through a bounded worker pool and
// guarantees at most one active run per collection:
//
//	orch := pagination.NewOrchestrator(ctrl, 4)
//	summaries, err := orch.Run(ctx, pagination.NewJobs([]string{"SPARK", "KAFKA"}, "project=%s"))
//
// Malformed pages are skipped and recorded as gaps in the checkpoint; every
// other terminal error stops the run and leaves the last committed state intact.
package pagination
