package worker

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/consult-api/internal/model"
)

type fakePruner struct {
	mu      sync.Mutex
	calls   []time.Time
	deleted int64
	err     error
}

func (p *fakePruner) DeleteExpired(_ context.Context, before time.Time) (int64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, before)
	return p.deleted, p.err
}

func (p *fakePruner) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.calls)
}

func TestCleanupUsesCurrentTime(t *testing.T) {
	pruner := &fakePruner{deleted: 3}
	w := NewSessionCleanupWorker(pruner, time.Minute, nil)
	fixed := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	w.now = func() time.Time { return fixed }

	n, err := w.Cleanup(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
	require.Len(t, pruner.calls, 1)
	assert.Equal(t, fixed, pruner.calls[0])
}

func TestCleanupWrapsErrors(t *testing.T) {
	boom := errors.New("boom")
	w := NewSessionCleanupWorker(&fakePruner{err: boom}, 0, nil)

	_, err := w.Cleanup(context.Background())
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, DefaultCleanupInterval, w.interval)
}

func TestStartRunsUntilCancelled(t *testing.T) {
	pruner := &fakePruner{}
	w := NewSessionCleanupWorker(pruner, 10*time.Millisecond, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		w.Start(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool { return pruner.count() >= 3 }, time.Second, 5*time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("worker did not stop")
	}
}

type chanBroker struct {
	ch        chan []byte
	subscribe error
}

func (b *chanBroker) Publish(context.Context, string, interface{}) error { return nil }

func (b *chanBroker) Subscribe(context.Context, string) (<-chan []byte, error) {
	if b.subscribe != nil {
		return nil, b.subscribe
	}
	return b.ch, nil
}

func (b *chanBroker) Close() error { return nil }

func TestStatusListenerDecodesEvents(t *testing.T) {
	broker := &chanBroker{ch: make(chan []byte, 3)}
	id := uuid.New()

	var got []*model.StatusEvent
	l := NewStatusListener(broker, "consultations.status", func(_ context.Context, e *model.StatusEvent) error {
		got = append(got, e)
		return nil
	}, nil)

	payload, err := json.Marshal(model.StatusEvent{ConsultationID: id, Status: model.StatusFailed, Error: "timeout"})
	require.NoError(t, err)
	broker.ch <- []byte("not json")
	broker.ch <- payload
	close(broker.ch)

	require.NoError(t, l.Run(context.Background()))
	require.Len(t, got, 1)
	assert.Equal(t, id, got[0].ConsultationID)
	assert.Equal(t, model.StatusFailed, got[0].Status)
	assert.Equal(t, "timeout", got[0].Error)
}

func TestStatusListenerSubscribeError(t *testing.T) {
	l := NewStatusListener(&chanBroker{subscribe: errors.New("down")}, "c", nil, nil)
	assert.Error(t, l.Run(context.Background()))
}

func TestStatusListenerStopsOnCancel(t *testing.T) {
	l := NewStatusListener(&chanBroker{ch: make(chan []byte)}, "c", nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.NoError(t, l.Run(ctx))
}
