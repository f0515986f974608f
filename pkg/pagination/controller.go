package pagination

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Sternrassler/issue-harvester/pkg/checkpoint"
	"github.com/Sternrassler/issue-harvester/pkg/client"
	"github.com/Sternrassler/issue-harvester/pkg/logging"
	"github.com/Sternrassler/issue-harvester/pkg/pagestore"
	"github.com/Sternrassler/issue-harvester/pkg/ratelimit"
	"github.com/cenkalti/backoff"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/Sternrassler/issue-harvester/pkg/pagination"

// State is a phase of a collection run.
type State string

const (
	StateIdle       State = "idle"
	StateFetching   State = "fetching"
	StateCommitting State = "committing"
	StateAdvancing  State = "advancing"
	StateExhausted  State = "exhausted"
	StateFailed     State = "failed"
)

// Outcome is the terminal result of a collection run.
type Outcome string

const (
	OutcomeExhausted Outcome = "exhausted"
	OutcomeFailed    Outcome = "failed"
)

// Failure kinds reported in addition to the fetch error classes.
const (
	FailureStorage    = "storage"
	FailureCancelled  = "cancelled"
	FailureInvalidJob = "invalid_job"
	FailureInternal   = "internal"
)

// Fetcher fetches a single page. *client.Client implements it.
type Fetcher interface {
	FetchPage(ctx context.Context, req client.PageRequest) (*client.PageResult, error)
}

// Config holds controller configuration.
type Config struct {
	// PageSize is the number of items requested per page, within [1, client.MaxPageSize].
	PageSize int

	// MaxItems stops a run once this many items of the collection have been
	// committed. Zero means no cap.
	MaxItems int

	// WriteRetries is the number of local retries for a failed durable write.
	WriteRetries int

	// WriteRetryDelay is the pause between durable write retries.
	WriteRetryDelay time.Duration

	// PoliteDelay is the pause between successful sequential fetches.
	PoliteDelay time.Duration
}

// DefaultConfig returns the default controller configuration.
func DefaultConfig() Config {
	return Config{
		PageSize:        50,
		WriteRetries:    3,
		WriteRetryDelay: 500 * time.Millisecond,
		PoliteDelay:     ratelimit.DefaultPoliteDelay,
	}
}

// Job names one collection to harvest.
type Job struct {
	Collection string

	// Filter is passed to the remote endpoint unchanged.
	Filter string

	// PageSize overrides Config.PageSize when positive.
	PageSize int

	// MaxItems overrides Config.MaxItems when positive.
	MaxItems int
}

// RunSummary reports what a run did.
type RunSummary struct {
	RunID      string
	Collection string
	Outcome    Outcome

	// FailureKind is the fetch error class or one of the Failure constants.
	FailureKind string
	Err         error

	// StartOffset is where the run began, NextOffset where a resumed run would begin.
	StartOffset int
	NextOffset  int

	// LastCommittedOffset is -1 when the collection has no committed page.
	LastCommittedOffset int

	PagesFetched int
	PagesReused  int
	ItemsFetched int

	// Gaps lists offsets skipped as malformed during this run.
	Gaps []int

	Duration time.Duration
}

// Failed reports whether the run ended in the Failed state.
func (s RunSummary) Failed() bool {
	return s.Outcome == OutcomeFailed
}

// Option customises a Controller.
type Option func(*Controller)

// WithLogger sets the controller logger.
func WithLogger(l zerolog.Logger) Option {
	return func(c *Controller) { c.logger = l }
}

// WithTracer replaces the tracer taken from the global provider.
func WithTracer(t trace.Tracer) Option {
	return func(c *Controller) { c.tracer = t }
}

// WithPacerWait replaces the wait used for the politeness pause.
func WithPacerWait(wait func(ctx context.Context, d time.Duration) error) Option {
	return func(c *Controller) { c.pacerWait = wait }
}

// WithStateObserver registers a callback invoked on every state transition.
// It may be called from several runs concurrently.
func WithStateObserver(fn func(collection string, state State)) Option {
	return func(c *Controller) { c.observe = fn }
}

// Controller runs collections against a fetcher, a checkpoint store and a
// page store. It holds no per-run state and is safe for concurrent use on
// distinct collections.
type Controller struct {
	fetcher     Fetcher
	checkpoints checkpoint.Store
	pages       pagestore.Store
	config      Config
	logger      zerolog.Logger
	tracer      trace.Tracer
	pacerWait   func(ctx context.Context, d time.Duration) error
	observe     func(collection string, state State)
}

// NewController creates a new controller.
func NewController(fetcher Fetcher, checkpoints checkpoint.Store, pages pagestore.Store, cfg Config, opts ...Option) *Controller {
	if cfg.PageSize <= 0 {
		cfg.PageSize = DefaultConfig().PageSize
	}
	cfg.PageSize = clampPageSize(cfg.PageSize)
	if cfg.WriteRetries < 0 {
		cfg.WriteRetries = 0
	}
	if cfg.WriteRetryDelay < 0 {
		cfg.WriteRetryDelay = 0
	}

	c := &Controller{
		fetcher:     fetcher,
		checkpoints: checkpoints,
		pages:       pages,
		config:      cfg,
		logger:      logging.NewLogger("pagination"),
		tracer:      otel.Tracer(tracerName),
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// Config returns the effective controller configuration.
func (c *Controller) Config() Config {
	return c.config
}

// RunCollection harvests one collection until it is exhausted or a terminal
// error occurs. It resumes from the collection's checkpoint and may be
// re-invoked immediately after a failed run.
func (c *Controller) RunCollection(ctx context.Context, job Job) RunSummary {
	start := time.Now()
	runID := uuid.NewString()

	ctx, span := c.tracer.Start(ctx, "pagination.run", trace.WithAttributes(
		attribute.String("collection", job.Collection),
		attribute.String("run_id", runID),
	))
	defer span.End()

	activeRuns.Inc()
	defer activeRuns.Dec()

	r := &run{
		c:      c,
		job:    job,
		logger: logging.WithRun(c.logger, job.Collection, runID),
		summary: RunSummary{
			RunID:               runID,
			Collection:          job.Collection,
			LastCommittedOffset: -1,
		},
		lastPage: -1,
	}
	r.execute(ctx)

	summary := r.summary
	summary.NextOffset = r.offset
	summary.Duration = time.Since(start)

	runsTotal.WithLabelValues(string(summary.Outcome)).Inc()

	span.SetAttributes(
		attribute.String("outcome", string(summary.Outcome)),
		attribute.Int("pages_fetched", summary.PagesFetched),
		attribute.Int("next_offset", summary.NextOffset),
	)

	if summary.Failed() {
		span.RecordError(summary.Err)
		span.SetStatus(codes.Error, summary.FailureKind)
		r.logger.Error().
			Err(summary.Err).
			Str("failure_kind", summary.FailureKind).
			Int("last_committed_offset", summary.LastCommittedOffset).
			Int("pages_fetched", summary.PagesFetched).
			Dur("duration", summary.Duration).
			Msg("Collection run failed")
	} else {
		r.logger.Info().
			Int("pages_fetched", summary.PagesFetched).
			Int("pages_reused", summary.PagesReused).
			Int("items", summary.ItemsFetched).
			Int("gaps", len(summary.Gaps)).
			Int("next_offset", summary.NextOffset).
			Dur("duration", summary.Duration).
			Msg("Collection run exhausted")
	}

	return summary
}

// fetched is a page obtained from the remote or read back from the archive.
type fetched struct {
	items     int
	total     *int
	payload   []byte
	fetchedAt time.Time
	reused    bool
}

func (f *fetched) exhausted(offset int) bool {
	return f.items == 0 || (f.total != nil && offset >= *f.total)
}

// run is the mutable state of one RunCollection call.
type run struct {
	c       *Controller
	job     Job
	logger  zerolog.Logger
	summary RunSummary
	pacer   *ratelimit.Pacer

	offset   int
	lastPage int
	gaps     []int
	total    *int
	pageSize int
	maxItems int
}

func (r *run) enter(state State) {
	if r.c.observe != nil {
		r.c.observe(r.job.Collection, state)
	}
}

func (r *run) execute(ctx context.Context) {
	r.enter(StateIdle)

	if err := pagestore.ValidateCollection(r.job.Collection); err != nil {
		r.fail(FailureInvalidJob, fmt.Errorf("%w: %v", ErrInvalidJob, err))
		return
	}

	r.pageSize = r.c.config.PageSize
	if r.job.PageSize > 0 {
		r.pageSize = clampPageSize(r.job.PageSize)
	}
	r.maxItems = r.c.config.MaxItems
	if r.job.MaxItems > 0 {
		r.maxItems = r.job.MaxItems
	}

	r.pacer = ratelimit.NewPacer(r.c.config.PoliteDelay)
	if r.c.pacerWait != nil {
		r.pacer.WithWait(r.c.pacerWait)
	}

	cp, err := r.c.checkpoints.Load(ctx, r.job.Collection)
	if err != nil {
		r.fail(FailureStorage, &StorageError{
			Operation:  "load_checkpoint",
			Collection: r.job.Collection,
			Attempts:   1,
			Err:        err,
		})
		return
	}
	if cp != nil {
		r.offset = cp.NextOffset()
		r.lastPage = cp.LastPage
		r.gaps = append([]int(nil), cp.Gaps...)
		r.summary.LastCommittedOffset = cp.LastOffset
	}
	r.summary.StartOffset = r.offset

	r.logger.Info().
		Int("start_offset", r.offset).
		Int("page_size", r.pageSize).
		Bool("resumed", cp != nil).
		Msg("Starting collection run")

	for {
		if err := ctx.Err(); err != nil {
			r.cancelled(err)
			return
		}
		if reason, done := r.limitReached(); done {
			r.exhausted(reason)
			return
		}

		if stop := r.step(ctx); stop {
			return
		}
	}
}

// step processes the page at the current offset. It returns true when the
// run reached a terminal state.
func (r *run) step(ctx context.Context) bool {
	size := r.requestSize()

	ctx, span := r.c.tracer.Start(ctx, "pagination.page", trace.WithAttributes(
		attribute.String("collection", r.job.Collection),
		attribute.Int("offset", r.offset),
		attribute.Int("page_size", size),
	))
	defer span.End()

	r.enter(StateFetching)
	page, err := r.fetch(ctx, size)
	if err != nil {
		span.RecordError(err)

		if ctx.Err() != nil || errors.Is(err, client.ErrContextCancelled) {
			r.cancelled(err)
			return true
		}

		var se *StorageError
		if errors.As(err, &se) {
			span.SetStatus(codes.Error, FailureStorage)
			r.fail(FailureStorage, err)
			return true
		}

		if client.IsMalformed(err) {
			span.SetAttributes(attribute.Bool("gap", true))
			if err := r.skip(ctx, size, err); err != nil {
				span.SetStatus(codes.Error, FailureStorage)
				r.fail(FailureStorage, err)
				return true
			}
			return false
		}

		var fe *client.FetchError
		if errors.As(err, &fe) {
			span.SetStatus(codes.Error, string(fe.Kind))
			r.fail(string(fe.Kind), err)
			return true
		}

		span.SetStatus(codes.Error, FailureInternal)
		r.fail(FailureInternal, err)
		return true
	}

	span.SetAttributes(
		attribute.Int("items", page.items),
		attribute.Bool("reused", page.reused),
	)

	if page.total != nil {
		r.total = page.total
	}

	if page.exhausted(r.offset) {
		r.exhausted("empty page")
		return true
	}

	if err := r.commit(ctx, size, page); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, FailureStorage)
		r.fail(FailureStorage, err)
		return true
	}

	return false
}

// fetch returns the page at the current offset, preferring the archive.
func (r *run) fetch(ctx context.Context, size int) (*fetched, error) {
	var exists bool
	err := r.withStorageRetry(ctx, "check_page", func(ctx context.Context) error {
		var err error
		exists, err = r.c.pages.Exists(ctx, r.job.Collection, r.offset)
		return err
	})
	if err != nil {
		return nil, err
	}

	if exists {
		stored, err := r.c.pages.Read(ctx, r.job.Collection, r.offset)
		switch {
		case err != nil:
			r.logger.Warn().
				Err(err).
				Int("offset", r.offset).
				Msg("Archived page unreadable, fetching again")
		case !stored.Covers(size):
			r.logger.Info().
				Int("offset", r.offset).
				Int("archived_page_size", stored.PageSize).
				Int("page_size", size).
				Msg("Archived page has a different size, fetching again")
		default:
			r.logger.Debug().
				Int("offset", r.offset).
				Msg("Reusing archived page")
			return &fetched{
				items:     stored.ItemCount,
				total:     stored.Total,
				payload:   stored.Payload,
				fetchedAt: stored.FetchedAt,
				reused:    true,
			}, nil
		}
	}

	if err := r.pacer.Before(ctx); err != nil {
		return nil, err
	}

	result, err := r.c.fetcher.FetchPage(ctx, client.PageRequest{
		Collection: r.job.Collection,
		Filter:     r.job.Filter,
		Offset:     r.offset,
		PageSize:   size,
	})
	if err != nil {
		return nil, err
	}
	r.pacer.Succeeded()

	return &fetched{
		items:     len(result.Items),
		total:     result.Total,
		payload:   result.Raw,
		fetchedAt: result.FetchedAt,
	}, nil
}

// commit writes the page, then advances the checkpoint. Both steps run to
// completion even if ctx is cancelled meanwhile.
func (r *run) commit(ctx context.Context, size int, page *fetched) error {
	if !page.reused {
		r.enter(StateCommitting)
		err := r.withStorageRetry(ctx, "write_page", func(ctx context.Context) error {
			return r.c.pages.Write(ctx, pagestore.Page{
				Collection: r.job.Collection,
				Offset:     r.offset,
				ItemCount:  page.items,
				PageSize:   size,
				Total:      page.total,
				FetchedAt:  page.fetchedAt,
				Payload:    page.payload,
			})
		})
		if err != nil {
			return err
		}
	}

	r.enter(StateAdvancing)
	if err := r.advance(ctx, size); err != nil {
		return err
	}

	if page.reused {
		r.summary.PagesReused++
		pagesReusedTotal.WithLabelValues(r.job.Collection).Inc()
	} else {
		r.summary.PagesFetched++
	}
	r.summary.ItemsFetched += page.items
	pagesCommittedTotal.WithLabelValues(r.job.Collection).Inc()

	r.logger.Info().
		Int("offset", r.summary.LastCommittedOffset).
		Int("items", page.items).
		Bool("reused", page.reused).
		Msg("Page committed")

	return nil
}

// skip records the current offset as a gap and moves past it.
func (r *run) skip(ctx context.Context, size int, cause error) error {
	r.logger.Warn().
		Err(cause).
		Int("offset", r.offset).
		Msg("Skipping malformed page")

	r.gaps = append(r.gaps, r.offset)
	r.summary.Gaps = append(r.summary.Gaps, r.offset)
	pageGapsTotal.WithLabelValues(r.job.Collection).Inc()

	r.enter(StateAdvancing)
	return r.advance(ctx, size)
}

// advance saves the checkpoint for the current offset and moves to the next.
func (r *run) advance(ctx context.Context, size int) error {
	cp := checkpoint.Checkpoint{
		Collection: r.job.Collection,
		LastPage:   r.lastPage + 1,
		LastOffset: r.offset,
		PageSize:   size,
		UpdatedAt:  time.Now(),
		Gaps:       append([]int(nil), r.gaps...),
	}
	err := r.withStorageRetry(ctx, "save_checkpoint", func(ctx context.Context) error {
		return r.c.checkpoints.Save(ctx, cp)
	})
	if err != nil {
		return err
	}

	r.lastPage = cp.LastPage
	r.summary.LastCommittedOffset = cp.LastOffset
	r.offset = cp.NextOffset()
	return nil
}

// withStorageRetry runs a storage operation with bounded constant-delay
// retries. Storage operations ignore cancellation of ctx so that a fetched
// page is either fully committed or not at all.
func (r *run) withStorageRetry(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	ctx = context.WithoutCancel(ctx)

	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(r.c.config.WriteRetryDelay), uint64(r.c.config.WriteRetries)),
		ctx,
	)

	attempts := 0
	err := backoff.RetryNotify(func() error {
		attempts++
		err := fn(ctx)
		if isPermanentStorageError(err) {
			return backoff.Permanent(err)
		}
		return err
	}, policy, func(err error, d time.Duration) {
		storageRetriesTotal.WithLabelValues(op).Inc()
		r.logger.Warn().
			Err(err).
			Str("operation", op).
			Int("offset", r.offset).
			Int("attempt", attempts).
			Dur("backoff", d).
			Msg("Retrying storage operation")
	})
	if err != nil {
		return &StorageError{
			Operation:  op,
			Collection: r.job.Collection,
			Offset:     r.offset,
			Attempts:   attempts,
			Err:        err,
		}
	}
	return nil
}

func isPermanentStorageError(err error) bool {
	return errors.Is(err, checkpoint.ErrOffsetRegression) ||
		errors.Is(err, checkpoint.ErrInvalidCheckpoint) ||
		errors.Is(err, pagestore.ErrInvalidPage)
}

// limitReached reports whether the run can stop without another request.
func (r *run) limitReached() (string, bool) {
	if r.maxItems > 0 && r.offset >= r.maxItems {
		return "item cap reached", true
	}
	if r.total != nil && r.offset >= *r.total {
		return "total reached", true
	}
	return "", false
}

// requestSize shrinks the last page so the run stops exactly at the item cap.
func (r *run) requestSize() int {
	size := r.pageSize
	if r.maxItems > 0 && r.offset+size > r.maxItems {
		size = r.maxItems - r.offset
	}
	return size
}

func (r *run) exhausted(reason string) {
	r.enter(StateExhausted)
	r.summary.Outcome = OutcomeExhausted
	r.logger.Debug().
		Str("reason", reason).
		Int("offset", r.offset).
		Msg("Collection exhausted")
}

func (r *run) cancelled(err error) {
	if !errors.Is(err, client.ErrContextCancelled) {
		err = fmt.Errorf("%w: %v", client.ErrContextCancelled, err)
	}
	r.fail(FailureCancelled, err)
}

func (r *run) fail(kind string, err error) {
	r.enter(StateFailed)
	r.summary.Outcome = OutcomeFailed
	r.summary.FailureKind = kind
	r.summary.Err = err
}

func clampPageSize(n int) int {
	switch {
	case n < 1:
		return 1
	case n > client.MaxPageSize:
		return client.MaxPageSize
	default:
		return n
	}
}
