package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ravedigest/internal/bus"
	"ravedigest/internal/logging"
)

type fakeBus struct {
	mu       sync.Mutex
	pending  []bus.Message
	incoming []bus.Message
	acked    []string
	groupErr error
}

func (f *fakeBus) EnsureGroup(ctx context.Context, stream, group string) error {
	return f.groupErr
}

func (f *fakeBus) ReadGroup(ctx context.Context, stream, group, consumer string, count int64, block time.Duration) ([]bus.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.incoming) == 0 {
		return nil, bus.ErrNoMessages
	}
	msgs := f.incoming
	f.incoming = nil
	return msgs, nil
}

func (f *fakeBus) Pending(ctx context.Context, stream, group string, count int64) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ids := make([]string, 0, len(f.pending))
	for _, m := range f.pending {
		ids = append(ids, m.ID)
	}
	return ids, nil
}

func (f *fakeBus) Range(ctx context.Context, stream, from, to string, count int64) ([]bus.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, m := range f.pending {
		if m.ID == from {
			return []bus.Message{m}, nil
		}
	}
	return nil, nil
}

func (f *fakeBus) Ack(ctx context.Context, stream, group, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.acked = append(f.acked, id)
	return nil
}

func TestLoop_ReclaimsPendingOnStartup(t *testing.T) {
	fb := &fakeBus{pending: []bus.Message{{ID: "1-1", Fields: map[string]string{"id": "a"}}}}
	var handled []string
	handler := func(ctx context.Context, msg bus.Message) error {
		handled = append(handled, msg.ID)
		return nil
	}

	l := New(DefaultConfig("s", "g", "c"), fb, handler, logging.New("test", false))
	l.reclaim(context.Background())

	assert.Equal(t, []string{"1-1"}, handled)
	assert.Equal(t, []string{"1-1"}, fb.acked)
}

func TestLoop_RunOnceAcksOnSuccessAndSkipsOnFailure(t *testing.T) {
	fb := &fakeBus{incoming: []bus.Message{
		{ID: "1-1", Fields: map[string]string{"ok": "true"}},
		{ID: "1-2", Fields: map[string]string{"ok": "false"}},
	}}
	handler := func(ctx context.Context, msg bus.Message) error {
		if msg.Fields["ok"] != "true" {
			return errors.New("handler failure")
		}
		return nil
	}

	l := New(DefaultConfig("s", "g", "c"), fb, handler, logging.New("test", false))
	l.runOnce(context.Background())

	assert.Equal(t, []string{"1-1"}, fb.acked)
}

func TestLoop_RunStopsWhenContextCancelled(t *testing.T) {
	fb := &fakeBus{}
	handler := func(ctx context.Context, msg bus.Message) error { return nil }
	l := New(DefaultConfig("s", "g", "c"), fb, handler, logging.New("test", false))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	done := make(chan struct{})
	go func() {
		l.Run(ctx)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after context cancellation")
	}
}

func TestLoop_EnsureGroupFailureAbortsRun(t *testing.T) {
	fb := &fakeBus{groupErr: errors.New("boom")}
	handler := func(ctx context.Context, msg bus.Message) error { return nil }
	l := New(DefaultConfig("s", "g", "c"), fb, handler, logging.New("test", false))

	done := make(chan struct{})
	go func() {
		l.Run(context.Background())
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after EnsureGroup failure")
	}
	require.Empty(t, fb.acked)
}
