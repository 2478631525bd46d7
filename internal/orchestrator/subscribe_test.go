package orchestrator

import (
	"context"
	"testing"
	"time"

	"github.com/Harshitk-cp/scholae/internal/domain"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func collect(t *testing.T, ch <-chan domain.TransitionEvent) []domain.TransitionEvent {
	t.Helper()
	var evs []domain.TransitionEvent
	timeout := time.After(waitTimeout)
	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				return evs
			}
			evs = append(evs, ev)
		case <-timeout:
			t.Fatalf("subscription did not close; got %d events", len(evs))
		}
	}
}

func TestSubscribe_DeliversEveryTransitionInOrder(t *testing.T) {
	h := newHarness(t, newFakeRunner(0.9))

	runID, err := h.orch.Submit(context.Background(), "q", "owner")
	require.NoError(t, err)
	ch, cancel, err := h.orch.Subscribe(runID)
	require.NoError(t, err)
	defer cancel()

	evs := collect(t, ch)
	require.Len(t, evs, 12)
	assert.Equal(t, "", evs[0].From)
	assert.Equal(t, string(domain.RunRunning), evs[0].To)
	last := evs[len(evs)-1]
	assert.Empty(t, last.TaskID)
	assert.Equal(t, string(domain.RunSucceeded), last.To)

	perTask := make(map[string][]string)
	for _, ev := range evs {
		assert.Equal(t, runID, ev.RunID)
		if ev.TaskID != "" {
			perTask[ev.TaskID] = append(perTask[ev.TaskID], ev.From+">"+ev.To)
		}
	}
	require.Len(t, perTask, 5)
	for id, steps := range perTask {
		assert.Equal(t, []string{"pending>running", "running>succeeded"}, steps, id)
	}
}

func TestSubscribe_LateSubscriberReplaysHistory(t *testing.T) {
	h := newHarness(t, newFakeRunner(0.5))

	runID, err := h.orch.Submit(context.Background(), "q", "owner")
	require.NoError(t, err)
	h.waitState(t, runID, domain.RunAwaitingReview)
	require.NoError(t, h.orch.Reject(context.Background(), runID))
	h.waitState(t, runID, domain.RunRejected)

	ch, cancel, err := h.orch.Subscribe(runID)
	require.NoError(t, err)
	defer cancel()

	evs := collect(t, ch)
	require.NotEmpty(t, evs)
	assert.Equal(t, string(domain.RunRejected), evs[len(evs)-1].To)

	var cancelled int
	for _, ev := range evs {
		if ev.To == string(domain.TaskCancelled) {
			cancelled++
			assert.Equal(t, domain.ErrKindRejected, ev.ErrorKind)
		}
	}
	assert.Equal(t, 2, cancelled)
}

func TestSubscribe_CancelClosesChannel(t *testing.T) {
	h := newHarness(t, newFakeRunner(0.5))

	runID, err := h.orch.Submit(context.Background(), "q", "owner")
	require.NoError(t, err)
	h.waitState(t, runID, domain.RunAwaitingReview)

	// the run is parked, so only cancel can close the channel
	ch, cancel, err := h.orch.Subscribe(runID)
	require.NoError(t, err)
	cancel()
	cancel()
	collect(t, ch)
}

func TestSubscribe_UnknownRun(t *testing.T) {
	h := newHarness(t, newFakeRunner(0.9))
	_, _, err := h.orch.Subscribe(uuid.New())
	assert.ErrorIs(t, err, domain.ErrRunNotFound)
}
