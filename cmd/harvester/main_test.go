package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sternrassler/issue-harvester/internal/testutil"
	"github.com/Sternrassler/issue-harvester/pkg/checkpoint"
	"github.com/Sternrassler/issue-harvester/pkg/pagestore"
)

type harness struct {
	mock       *testutil.MockSearchAPI
	configPath string
	dataDir    string
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	mock := testutil.NewMockSearchAPI("jql")
	t.Cleanup(mock.Close)

	dir := t.TempDir()
	cfg := fmt.Sprintf(`
api:
  endpoint: %s
  filter_param: jql
  politeness_delay: 0s
retry:
  max_retries: 0
storage:
  checkpoint_path: %s
  pages_dir: %s
logging:
  level: error
`, mock.URL(), filepath.Join(dir, "checkpoints.json"), filepath.Join(dir, "raw"))

	path := filepath.Join(dir, "harvester.yaml")
	require.NoError(t, os.WriteFile(path, []byte(cfg), 0o600))

	return &harness{mock: mock, configPath: path, dataDir: dir}
}

func (h *harness) execute(t *testing.T, args ...string) (string, error) {
	t.Helper()

	var out bytes.Buffer
	cmd := newRootCommand()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(append([]string{"--config", h.configPath}, args...))

	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestRootCommand(t *testing.T) {
	cmd := newRootCommand()
	require.NotNil(t, cmd)
	assert.Equal(t, "harvester", cmd.Use)

	for _, name := range []string{"run", "status", "reset"} {
		t.Run(name, func(t *testing.T) {
			sub, _, err := cmd.Find([]string{name})
			require.NoError(t, err)
			assert.Equal(t, name, sub.Name())
		})
	}

	configFlag := cmd.PersistentFlags().Lookup("config")
	require.NotNil(t, configFlag)
	assert.Equal(t, "c", configFlag.Shorthand)
}

func TestRunCommandFlags(t *testing.T) {
	cmd := newRootCommand()
	runCmd, _, err := cmd.Find([]string{"run"})
	require.NoError(t, err)

	for flag, def := range map[string]string{"limit": "0", "test": "false", "workers": "0"} {
		f := runCmd.Flags().Lookup(flag)
		require.NotNil(t, f, flag)
		assert.Equal(t, def, f.DefValue, flag)
	}
}

func TestExitCode(t *testing.T) {
	assert.Equal(t, ExitSuccess, exitCode(nil))
	assert.Equal(t, ExitFailure, exitCode(errors.New("boom")))
	assert.Equal(t, ExitCommandError, exitCode(commandError("bad flags", nil)))

	wrapped := fmt.Errorf("outer: %w", &ExitError{Code: ExitFailure, Message: "harvest incomplete"})
	assert.Equal(t, ExitFailure, exitCode(wrapped))
}

func TestExitError(t *testing.T) {
	cause := errors.New("no such file")
	err := commandError("failed to load configuration", cause)

	assert.Equal(t, "failed to load configuration: no such file", err.Error())
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, "no collections", commandError("no collections", nil).Error())
}

func TestRun_HarvestsAndReportsStatus(t *testing.T) {
	h := newHarness(t)
	h.mock.SetCollection("SPARK", 120)

	out, err := h.execute(t, "run", "SPARK")
	require.NoError(t, err)
	assert.Contains(t, out, "SPARK")
	assert.Contains(t, out, "exhausted")
	assert.Equal(t, []int{0, 50, 100}, h.mock.OffsetsRequested("SPARK"))

	pages, err := pagestore.NewFSStore(filepath.Join(h.dataDir, "raw"))
	require.NoError(t, err)
	offsets, err := pages.List(context.Background(), "SPARK")
	require.NoError(t, err)
	assert.Equal(t, []int{0, 50, 100}, offsets)

	out, err = h.execute(t, "status")
	require.NoError(t, err)
	assert.Contains(t, out, "COLLECTION")
	assert.Contains(t, out, "SPARK")

	// A second run resumes past the last page without refetching.
	h.mock.Reset()
	h.mock.SetCollection("SPARK", 120)
	_, err = h.execute(t, "run", "SPARK")
	require.NoError(t, err)
	assert.Equal(t, []int{150}, h.mock.OffsetsRequested("SPARK"))
}

func TestRun_TestModeLimitsItems(t *testing.T) {
	h := newHarness(t)
	h.mock.SetCollection("KAFKA", 1000)

	_, err := h.execute(t, "run", "--test", "KAFKA")
	require.NoError(t, err)
	assert.Equal(t, []int{0, 50}, h.mock.OffsetsRequested("KAFKA"))
}

func TestRun_FailedCollectionExitsWithFailure(t *testing.T) {
	h := newHarness(t)
	h.mock.SetCollection("SPARK", 10)

	// MISSING is unknown to the remote and answered with 400.
	out, err := h.execute(t, "run", "SPARK", "MISSING")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, exitCode(err))
	assert.Contains(t, out, "client after offset -1")

	store, err := checkpoint.NewFileStore(filepath.Join(h.dataDir, "checkpoints.json"))
	require.NoError(t, err)
	cp, err := store.Load(context.Background(), "SPARK")
	require.NoError(t, err)
	require.NotNil(t, cp)
	assert.Equal(t, 0, cp.LastOffset)
}

func TestRun_CommandErrors(t *testing.T) {
	h := newHarness(t)

	tests := []struct {
		name string
		args []string
	}{
		{"no collections", []string{"run"}},
		{"duplicate collection", []string{"run", "SPARK", "SPARK"}},
		{"negative limit", []string{"run", "--limit", "-5", "SPARK"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := h.execute(t, tt.args...)
			require.Error(t, err)
			assert.Equal(t, ExitCommandError, exitCode(err))
		})
	}
	assert.Zero(t, h.mock.RequestCount())
}

func TestRun_MissingConfigFile(t *testing.T) {
	cmd := newRootCommand()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetArgs([]string{"--config", filepath.Join(t.TempDir(), "absent.yaml"), "run", "SPARK"})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, exitCode(err))
}

func TestReset_RemovesCheckpointOnly(t *testing.T) {
	h := newHarness(t)
	h.mock.SetCollection("HIVE", 60)

	_, err := h.execute(t, "run", "HIVE")
	require.NoError(t, err)

	out, err := h.execute(t, "reset", "HIVE")
	require.NoError(t, err)
	assert.Contains(t, out, "Checkpoint of HIVE removed.")

	out, err = h.execute(t, "status")
	require.NoError(t, err)
	assert.Contains(t, out, "No checkpoints.")

	// Archived pages are read back instead of fetched again; their total
	// ends the run without a request.
	h.mock.Reset()
	out, err = h.execute(t, "run", "HIVE")
	require.NoError(t, err)
	assert.Empty(t, h.mock.OffsetsRequested("HIVE"))
	assert.Contains(t, out, "HIVE")

	out, err = h.execute(t, "status")
	require.NoError(t, err)
	assert.Contains(t, out, "HIVE")
}

func TestReset_RequiresCollection(t *testing.T) {
	h := newHarness(t)
	_, err := h.execute(t, "reset")
	assert.Error(t, err)
}

func TestFormatGaps(t *testing.T) {
	assert.Equal(t, "-", formatGaps(nil))
	assert.Equal(t, "50,150", formatGaps([]int{50, 150}))
}
