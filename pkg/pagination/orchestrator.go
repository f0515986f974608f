package pagination

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/Sternrassler/issue-harvester/pkg/client"
	"github.com/Sternrassler/issue-harvester/pkg/logging"
	"github.com/rs/zerolog"
)

// Runner runs a single collection. *Controller implements it.
type Runner interface {
	RunCollection(ctx context.Context, job Job) RunSummary
}

// NewJobs builds one job per collection, deriving each filter from
// filterTemplate (e.g. "project=%s"). A template without a verb is used as is.
func NewJobs(collections []string, filterTemplate string) []Job {
	jobs := make([]Job, 0, len(collections))
	for _, c := range collections {
		filter := filterTemplate
		if strings.Contains(filterTemplate, "%s") {
			filter = fmt.Sprintf(filterTemplate, c)
		}
		jobs = append(jobs, Job{Collection: c, Filter: filter})
	}
	return jobs
}

// Orchestrator runs collections through a bounded worker pool. It never runs
// the same collection twice at the same time.
type Orchestrator struct {
	runner  Runner
	workers int
	logger  zerolog.Logger

	mu     sync.Mutex
	active map[string]bool
}

// NewOrchestrator creates an orchestrator. Workers below 1 run sequentially.
func NewOrchestrator(runner Runner, workers int) *Orchestrator {
	if workers < 1 {
		workers = 1
	}
	return &Orchestrator{
		runner:  runner,
		workers: workers,
		logger:  logging.NewLogger("orchestrator"),
		active:  make(map[string]bool),
	}
}

// WithLogger sets the orchestrator logger.
func (o *Orchestrator) WithLogger(l zerolog.Logger) *Orchestrator {
	o.logger = l
	return o
}

// Run executes every job and returns their summaries in job order. It fails
// with ErrDuplicateCollection before starting anything if a collection is
// listed twice or is already running. Otherwise the returned error lists the
// collections that failed.
func (o *Orchestrator) Run(ctx context.Context, jobs []Job) ([]RunSummary, error) {
	if err := o.claim(jobs); err != nil {
		return nil, err
	}
	defer o.release(jobs)

	start := time.Now()
	workers := o.workers
	if workers > len(jobs) {
		workers = len(jobs)
	}

	o.logger.Info().
		Int("collections", len(jobs)).
		Int("workers", workers).
		Msg("Starting harvest")

	type indexed struct {
		index   int
		summary RunSummary
	}

	jobQueue := make(chan int, len(jobs))
	results := make(chan indexed, len(jobs))

	for i := range jobs {
		jobQueue <- i
	}
	close(jobQueue)

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			processed := 0
			for i := range jobQueue {
				// Jobs not yet started are reported as cancelled.
				if err := ctx.Err(); err != nil {
					results <- indexed{i, RunSummary{
						Collection:          jobs[i].Collection,
						Outcome:             OutcomeFailed,
						FailureKind:         FailureCancelled,
						Err:                 fmt.Errorf("%w: %v", client.ErrContextCancelled, err),
						LastCommittedOffset: -1,
					}}
					continue
				}
				results <- indexed{i, o.runner.RunCollection(ctx, jobs[i])}
				processed++
			}
			o.logger.Debug().
				Int("worker_id", workerID).
				Int("collections_processed", processed).
				Msg("Worker completed")
		}(w)
	}

	go func() {
		wg.Wait()
		close(results)
	}()

	summaries := make([]RunSummary, len(jobs))
	var failed []error
	done := 0
	for res := range results {
		summaries[res.index] = res.summary
		done++
		if res.summary.Failed() {
			failed = append(failed, fmt.Errorf("%s (%s): %w", res.summary.Collection, res.summary.FailureKind, res.summary.Err))
		}

		o.logger.Info().
			Str("collection", res.summary.Collection).
			Str("outcome", string(res.summary.Outcome)).
			Int("done", done).
			Int("total", len(jobs)).
			Msg("Collection finished")
	}

	o.logger.Info().
		Int("collections", len(jobs)).
		Int("failed", len(failed)).
		Dur("duration", time.Since(start)).
		Msg("Harvest complete")

	if len(failed) > 0 {
		return summaries, fmt.Errorf("%d of %d collections failed: %w", len(failed), len(jobs), errors.Join(failed...))
	}
	return summaries, nil
}

// claim marks every job's collection active, or none of them.
func (o *Orchestrator) claim(jobs []Job) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	seen := make(map[string]bool, len(jobs))
	for _, j := range jobs {
		if seen[j.Collection] || o.active[j.Collection] {
			return fmt.Errorf("%w: %s", ErrDuplicateCollection, j.Collection)
		}
		seen[j.Collection] = true
	}
	for _, j := range jobs {
		o.active[j.Collection] = true
	}
	return nil
}

func (o *Orchestrator) release(jobs []Job) {
	o.mu.Lock()
	defer o.mu.Unlock()
	for _, j := range jobs {
		delete(o.active, j.Collection)
	}
}
