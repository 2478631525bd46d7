package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/Harshitk-cp/scholae/internal/domain"
	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeWriter struct {
	msgs   []kafka.Message
	err    error
	closed bool
}

func (w *fakeWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeWriter) Close() error {
	w.closed = true
	return nil
}

func TestKafkaPublisher_KeysByRun(t *testing.T) {
	w := &fakeWriter{}
	p := newKafkaPublisher(w, DefaultTopic, zap.NewNop())

	ev := domain.TransitionEvent{
		RunID:     uuid.New(),
		TaskID:    "x/discover",
		AgentKind: domain.AgentDiscover,
		From:      "pending",
		To:        "running",
		At:        time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	require.NoError(t, p.Publish(context.Background(), ev))
	require.Len(t, w.msgs, 1)

	msg := w.msgs[0]
	assert.Equal(t, ev.RunID.String(), string(msg.Key))
	assert.Len(t, msg.Headers, 2)

	var decoded domain.TransitionEvent
	require.NoError(t, json.Unmarshal(msg.Value, &decoded))
	assert.Equal(t, ev.TaskID, decoded.TaskID)
	assert.Equal(t, "running", decoded.To)

	require.NoError(t, p.Close())
	assert.True(t, w.closed)
}

func TestKafkaPublisher_WriteFailureIsTransient(t *testing.T) {
	w := &fakeWriter{err: errors.New("broker down")}
	p := newKafkaPublisher(w, DefaultTopic, zap.NewNop())

	err := p.Publish(context.Background(), domain.TransitionEvent{RunID: uuid.New(), To: "running"})
	require.Error(t, err)
	assert.True(t, domain.IsTransient(err))
}

func TestNewKafkaPublisher_RequiresBrokers(t *testing.T) {
	_, err := NewKafkaPublisher(" , ", "", zap.NewNop())
	assert.Error(t, err)
}
