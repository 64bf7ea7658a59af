// Package worker implements the stream-consumer loop shared by the Analyzer,
// Composer, and Publisher stages: ensure the consumer group exists, reclaim
// pending messages left over from a previous crash, then poll for new
// messages forever, acking only after the handler's durable effects commit.
//
// This generalizes the single-purpose polling loop in the teacher's
// internal/ingester/service.go (poll → process → sleep-on-error →
// sleep-on-success, wrapped in a top-level select over ctx.Done()) into a
// reusable shape parameterized by a per-stage Handler, and borrows its
// graceful-shutdown posture from internal/webhooks/orchestrator.go's
// select-loop Run method.
package worker

import (
	"context"
	"math/rand"
	"time"

	"ravedigest/internal/bus"
	"ravedigest/internal/logging"
)

// Handler processes one message. Returning nil acks it; returning an error
// leaves it pending for a future redelivery or reclaim.
type Handler func(ctx context.Context, msg bus.Message) error

// streamBus is the narrow slice of *bus.Bus the loop depends on, broken out
// as an explicit interface per collaborator so the loop can be driven by a
// fake in tests instead of a live Redis Stream.
type streamBus interface {
	EnsureGroup(ctx context.Context, stream, group string) error
	ReadGroup(ctx context.Context, stream, group, consumer string, count int64, block time.Duration) ([]bus.Message, error)
	Pending(ctx context.Context, stream, group string, count int64) ([]string, error)
	Range(ctx context.Context, stream, from, to string, count int64) ([]bus.Message, error)
	Ack(ctx context.Context, stream, group, id string) error
}

// Config binds a Loop to one stream + consumer group + consumer name.
type Config struct {
	Stream        string
	Group         string
	Consumer      string
	BatchSize     int64
	BlockDuration time.Duration
	ReclaimCount  int64
}

// DefaultConfig fills in the spec's steady-state constants: batch size 10,
// 5s block, reclaim up to 10 pending on startup.
func DefaultConfig(stream, group, consumer string) Config {
	return Config{
		Stream:        stream,
		Group:         group,
		Consumer:      consumer,
		BatchSize:     10,
		BlockDuration: 5 * time.Second,
		ReclaimCount:  10,
	}
}

// Loop drives Config against a Bus, invoking Handler for every message.
type Loop struct {
	cfg     Config
	bus     streamBus
	handler Handler
	log     *logging.Logger
}

// New constructs a Loop. log should already be tagged with the component
// name (e.g. "analyzer"). b is typically a *bus.Bus; tests may substitute a
// fake satisfying streamBus.
func New(cfg Config, b streamBus, handler Handler, log *logging.Logger) *Loop {
	return &Loop{cfg: cfg, bus: b, handler: handler, log: log}
}

// Run ensures the consumer group, reclaims pending messages, then polls until
// ctx is cancelled. If the consumer group cannot be ensured it logs the error
// and returns at once.
func (l *Loop) Run(ctx context.Context) {
	if err := l.bus.EnsureGroup(ctx, l.cfg.Stream, l.cfg.Group); err != nil {
		l.log.Errorf("failed to ensure consumer group %s on %s: %v", l.cfg.Group, l.cfg.Stream, err)
		return
	}

	l.reclaim(ctx)

	for {
		if ctx.Err() != nil {
			return
		}
		l.runOnce(ctx)
	}
}

// runOnce executes a single poll-and-dispatch cycle with panic/error
// recovery at the loop level, matching the spec's "any exception escaping to
// the loop level is caught; the worker sleeps 5s and resumes".
func (l *Loop) runOnce(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			l.log.Errorf("recovered panic in worker loop: %v", r)
			sleep(ctx, 5*time.Second)
		}
	}()

	msgs, err := l.bus.ReadGroup(ctx, l.cfg.Stream, l.cfg.Group, l.cfg.Consumer, l.cfg.BatchSize, l.cfg.BlockDuration)
	if err != nil {
		if err == bus.ErrNoMessages {
			return
		}
		l.log.Errorf("group read failed: %v", err)
		sleep(ctx, 5*time.Second)
		return
	}

	for _, msg := range msgs {
		l.dispatch(ctx, msg)
	}

	sleep(ctx, pollInterval())
}

// reclaim re-invokes the handler for up to ReclaimCount previously-delivered,
// unacked messages, achieving at-least-once delivery across restarts.
func (l *Loop) reclaim(ctx context.Context) {
	ids, err := l.bus.Pending(ctx, l.cfg.Stream, l.cfg.Group, l.cfg.ReclaimCount)
	if err != nil {
		l.log.Errorf("failed to enumerate pending messages: %v", err)
		return
	}
	for _, id := range ids {
		msgs, err := l.bus.Range(ctx, l.cfg.Stream, id, id, 1)
		if err != nil || len(msgs) == 0 {
			l.log.Errorf("failed to re-fetch pending message %s: %v", id, err)
			continue
		}
		l.log.Infof("reclaiming pending message %s", id)
		l.dispatch(ctx, msgs[0])
	}
}

func (l *Loop) dispatch(ctx context.Context, msg bus.Message) {
	if err := l.handler(ctx, msg); err != nil {
		l.log.Errorf("handler failed for message %s: %v", msg.ID, err)
		return
	}
	if err := l.bus.Ack(ctx, l.cfg.Stream, l.cfg.Group, msg.ID); err != nil {
		l.log.Errorf("failed to ack message %s: %v", msg.ID, err)
	}
}

// pollInterval returns a random duration in [200ms, 700ms) to cap tight-loop
// CPU use between polls.
func pollInterval() time.Duration {
	return 200*time.Millisecond + time.Duration(rand.Int63n(int64(500*time.Millisecond)))
}

func sleep(ctx context.Context, d time.Duration) {
	select {
	case <-time.After(d):
	case <-ctx.Done():
	}
}
