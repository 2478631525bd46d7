package cli

import (
	"bytes"
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/Harshitk-cp/scholae/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestParseWindow(t *testing.T) {
	from := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	to := time.Date(2026, 3, 31, 0, 0, 0, 0, time.UTC)

	w, err := parseWindow("", "")
	require.NoError(t, err)
	assert.True(t, w.Start.IsZero())
	assert.True(t, w.End.IsZero())

	w, err = parseWindow(from.Format(time.RFC3339), to.Format(time.RFC3339))
	require.NoError(t, err)
	assert.True(t, w.Start.Equal(from))
	assert.True(t, w.End.Equal(to))

	w, err = parseWindow(from.Format(time.RFC3339), "")
	require.NoError(t, err)
	assert.True(t, w.End.IsZero())

	_, err = parseWindow("yesterday", "")
	assert.ErrorContains(t, err, "--from")
	_, err = parseWindow("", "2026-13-01")
	assert.ErrorContains(t, err, "--to")
	_, err = parseWindow(to.Format(time.RFC3339), from.Format(time.RFC3339))
	assert.Error(t, err)
}

func TestNewLogger(t *testing.T) {
	logger, err := newLogger("DEBUG")
	require.NoError(t, err)
	assert.NotNil(t, logger)

	_, err = newLogger("chatty")
	assert.Error(t, err)
}

func TestVersionCommand(t *testing.T) {
	var out bytes.Buffer
	versionCmd.SetOut(&out)
	t.Cleanup(func() { versionCmd.SetOut(nil) })

	versionCmd.Run(versionCmd, nil)
	assert.True(t, strings.HasPrefix(out.String(), "scholae "), out.String())
}

func TestCommandTree(t *testing.T) {
	names := map[string]bool{}
	for _, c := range rootCmd.Commands() {
		names[c.Name()] = true
	}
	for _, want := range []string{"serve", "consolidate", "version"} {
		assert.True(t, names[want], "missing %s command", want)
	}
}

func TestOpenBackends_UnknownBackend(t *testing.T) {
	t.Setenv("STORE_BACKEND", "cassandra")
	_, err := openBackends(context.Background(), zap.NewNop())
	assert.ErrorContains(t, err, "STORE_BACKEND")
}

// The in-process wiring runs a query end to end without external services.
func TestWiring_InProcessRun(t *testing.T) {
	t.Setenv("STORE_BACKEND", BackendMemory)
	t.Setenv("GRAPH_BACKEND", BackendMemory)
	t.Setenv("PROVENANCE_BACKEND", BackendSQLite)
	t.Setenv("SQLITE_PATH", filepath.Join(t.TempDir(), "prov.db"))
	t.Setenv("LLM_PROVIDER", "mock")
	t.Setenv("RETRY_INITIAL_DELAY_MS", "1")

	ctx := context.Background()
	logger := zap.NewNop()
	b, err := openBackends(ctx, logger)
	require.NoError(t, err)
	t.Cleanup(b.close)

	svc := newServices(b, logger)
	llmClient, release, err := newLLM(logger)
	require.NoError(t, err)
	t.Cleanup(release)
	publisher, err := newPublisher(logger)
	require.NoError(t, err)

	orch := newOrchestrator(b, svc, llmClient, publisher, logger)
	t.Cleanup(func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = orch.Shutdown(sctx)
	})

	runID, err := orch.Submit(ctx, "sleep memory", "alice")
	require.NoError(t, err)

	settled := func() domain.RunState {
		var state domain.RunState
		require.Eventually(t, func() bool {
			st, err := orch.Status(runID)
			if err != nil {
				return false
			}
			state = st.State
			return state != domain.RunRunning
		}, 5*time.Second, 10*time.Millisecond)
		return state
	}

	state := settled()
	if state == domain.RunAwaitingReview {
		require.NoError(t, orch.Approve(ctx, runID))
		state = settled()
	}
	assert.Equal(t, domain.RunSucceeded, state)

	entries, err := svc.provenance.ByRun(ctx, runID)
	require.NoError(t, err)
	assert.NotEmpty(t, entries)
}
