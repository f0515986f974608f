package pagination

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/Sternrassler/issue-harvester/pkg/checkpoint"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOrchestrator_ConcurrentCollectionsStayIsolated(t *testing.T) {
	h := newHarness(t)
	store, err := checkpoint.NewFileStore(filepath.Join(t.TempDir(), "checkpoints.json"))
	require.NoError(t, err)
	h.checkpoints = store

	totals := map[string]int{"SPARK": 250, "KAFKA": 130, "HADOOP": 0, "HIVE": 75}
	var collections []string
	for name, total := range totals {
		h.mock.SetCollection(name, total)
		collections = append(collections, name)
	}

	// The observer is shared between concurrent runs.
	orch := NewOrchestrator(h.controller(testConfig(50)), 3).WithLogger(zerolog.Nop())
	summaries, err := orch.Run(context.Background(), NewJobs(collections, "project=%s"))
	require.NoError(t, err)
	require.Len(t, summaries, len(collections))

	for i, s := range summaries {
		assert.Equal(t, collections[i], s.Collection, "summaries keep job order")
		assert.Equal(t, OutcomeExhausted, s.Outcome, s.Collection)
	}

	ctx := context.Background()
	for name, total := range totals {
		offsets, err := h.pages.List(ctx, name)
		require.NoError(t, err)

		var want []int
		for off := 0; off < total; off += 50 {
			want = append(want, off)
		}
		assert.Equal(t, want, offsets, name)

		cp, err := h.checkpoints.Load(ctx, name)
		require.NoError(t, err)
		if total == 0 {
			assert.Nil(t, cp)
			continue
		}
		require.NotNil(t, cp, name)
		assert.Equal(t, want[len(want)-1], cp.LastOffset, name)
	}
}

func TestOrchestrator_RejectsDuplicateCollections(t *testing.T) {
	h := newHarness(t)
	h.mock.SetCollection("SPARK", 10)

	orch := NewOrchestrator(h.controller(testConfig(50)), 2).WithLogger(zerolog.Nop())
	_, err := orch.Run(context.Background(), []Job{job("SPARK"), job("KAFKA"), job("SPARK")})

	assert.ErrorIs(t, err, ErrDuplicateCollection)
	assert.Equal(t, 0, h.mock.RequestCount())
}

// blockingRunner holds every run until release is closed.
type blockingRunner struct {
	started chan string
	release chan struct{}
}

func (b *blockingRunner) RunCollection(ctx context.Context, job Job) RunSummary {
	b.started <- job.Collection
	<-b.release
	return RunSummary{Collection: job.Collection, Outcome: OutcomeExhausted}
}

func TestOrchestrator_RejectsCollectionAlreadyRunning(t *testing.T) {
	runner := &blockingRunner{started: make(chan string, 1), release: make(chan struct{})}
	orch := NewOrchestrator(runner, 1).WithLogger(zerolog.Nop())

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, err := orch.Run(context.Background(), []Job{job("SPARK")})
		assert.NoError(t, err)
	}()

	select {
	case <-runner.started:
	case <-time.After(5 * time.Second):
		t.Fatal("first run did not start")
	}

	_, err := orch.Run(context.Background(), []Job{job("KAFKA"), job("SPARK")})
	assert.ErrorIs(t, err, ErrDuplicateCollection)

	close(runner.release)
	wg.Wait()

	// Released after completion; KAFKA was never claimed.
	runner.started = make(chan string, 2)
	summaries, err := orch.Run(context.Background(), []Job{job("KAFKA"), job("SPARK")})
	require.NoError(t, err)
	assert.Len(t, summaries, 2)
}

// scriptedRunner returns a fixed outcome per collection.
type scriptedRunner struct {
	mu      sync.Mutex
	fail    map[string]bool
	running int
	peak    int
}

func (s *scriptedRunner) RunCollection(ctx context.Context, job Job) RunSummary {
	s.mu.Lock()
	s.running++
	if s.running > s.peak {
		s.peak = s.running
	}
	s.mu.Unlock()

	time.Sleep(10 * time.Millisecond)

	s.mu.Lock()
	s.running--
	s.mu.Unlock()

	if s.fail[job.Collection] {
		return RunSummary{
			Collection:  job.Collection,
			Outcome:     OutcomeFailed,
			FailureKind: "client",
			Err:         fmt.Errorf("bad filter %q", job.Filter),
		}
	}
	return RunSummary{Collection: job.Collection, Outcome: OutcomeExhausted}
}

func TestOrchestrator_ReportsFailuresAndBoundsWorkers(t *testing.T) {
	runner := &scriptedRunner{fail: map[string]bool{"B": true, "D": true}}
	orch := NewOrchestrator(runner, 2).WithLogger(zerolog.Nop())

	summaries, err := orch.Run(context.Background(), NewJobs([]string{"A", "B", "C", "D", "E"}, "project=%s"))

	require.Error(t, err)
	assert.Contains(t, err.Error(), "2 of 5 collections failed")
	assert.Contains(t, err.Error(), `bad filter "project=B"`)
	require.Len(t, summaries, 5)
	assert.True(t, summaries[1].Failed())
	assert.False(t, summaries[2].Failed())
	assert.LessOrEqual(t, runner.peak, 2)
}

func TestOrchestrator_CancelledBeforeStart(t *testing.T) {
	runner := &scriptedRunner{}
	orch := NewOrchestrator(runner, 1).WithLogger(zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	summaries, err := orch.Run(ctx, NewJobs([]string{"A", "B"}, "project=%s"))
	require.Error(t, err)
	for _, s := range summaries {
		assert.Equal(t, FailureCancelled, s.FailureKind)
	}
	assert.Equal(t, 0, runner.peak)
}

func TestOrchestrator_NoJobs(t *testing.T) {
	summaries, err := NewOrchestrator(&scriptedRunner{}, 4).WithLogger(zerolog.Nop()).Run(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, summaries)
}

func TestNewJobs(t *testing.T) {
	jobs := NewJobs([]string{"SPARK", "KAFKA"}, "project=%s AND type=Bug")
	require.Len(t, jobs, 2)
	assert.Equal(t, Job{Collection: "SPARK", Filter: "project=SPARK AND type=Bug"}, jobs[0])
	assert.Equal(t, "project=KAFKA AND type=Bug", jobs[1].Filter)

	static := NewJobs([]string{"ALL"}, "order by created")
	assert.Equal(t, "order by created", static[0].Filter)
}
