package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/Harshitk-cp/scholae/internal/domain"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func entry(run uuid.UUID, task, state string, at time.Time) *domain.ProvenanceEntry {
	return &domain.ProvenanceEntry{
		RunID:      run,
		TaskID:     task,
		AgentKind:  domain.AgentDiscover,
		State:      state,
		Attempt:    1,
		StartedAt:  at,
		EndedAt:    at.Add(250 * time.Millisecond),
		InputHash:  "in-" + state,
		OutputHash: "out-" + state,
		TraceID:    "4bf92f3577b34da6a3ce929d0e0e4736",
	}
}

func TestProvenanceStore_RoundTrip(t *testing.T) {
	s, err := OpenMemory()
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	ctx := context.Background()

	run := uuid.New()
	at := time.Date(2026, 4, 2, 8, 30, 0, 123456789, time.UTC)
	running := entry(run, run.String()+"/discover", "running", at)
	require.NoError(t, s.Append(ctx, running))
	failed := entry(run, run.String()+"/discover", "failed", at.Add(time.Second))
	failed.ErrorKind = domain.ErrKindTransientStore
	failed.Attempt = 3
	require.NoError(t, s.Append(ctx, failed))
	require.NoError(t, s.Append(ctx, entry(uuid.New(), "other/write", "running", at)))

	assert.NotEqual(t, uuid.Nil, running.ID)
	assert.Less(t, running.Sequence, failed.Sequence)

	got, err := s.ListByRun(ctx, run)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, *running, got[0])
	assert.Equal(t, *failed, got[1])
	assert.Equal(t, domain.ErrKindTransientStore, got[1].ErrorKind)

	byTrace, err := s.ListByTrace(ctx, "4bf92f3577b34da6a3ce929d0e0e4736")
	require.NoError(t, err)
	assert.Len(t, byTrace, 3)
}

func TestProvenanceStore_ReplayIsIgnored(t *testing.T) {
	s, err := OpenMemory()
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	ctx := context.Background()

	run := uuid.New()
	e := entry(run, "t", "succeeded", time.Now().UTC())
	require.NoError(t, s.Append(ctx, e))
	replay := *e
	replay.State = "tampered"
	require.NoError(t, s.Append(ctx, &replay))

	got, err := s.ListByRun(ctx, run)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "succeeded", got[0].State)
}

func TestOpen_CreatesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "provenance.db")
	s, err := Open(path)
	require.NoError(t, err)
	ctx := context.Background()
	run := uuid.New()
	require.NoError(t, s.Append(ctx, entry(run, "t", "running", time.Now().UTC())))
	require.NoError(t, s.Close())

	reopened, err := Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = reopened.Close() })
	got, err := reopened.ListByRun(ctx, run)
	require.NoError(t, err)
	assert.Len(t, got, 1)
}
