// Package bus wraps Redis Streams into the typed operations the pipeline
// core depends on: stream append, consumer-group read, pending enumeration,
// ack, and the set/key-value primitives used for dedup and idempotency.
//
// This generalizes the in-process, non-durable publish/subscribe Bus in the
// ingester/eventbus package this module is descended from into a durable,
// crash-recoverable log, which the spec's worker-loop contract requires.
package bus

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrNoMessages is returned by ReadGroup when the block period elapses
// without any new message arriving. Callers treat it as a normal, non-error
// "nothing to do this poll" outcome.
var ErrNoMessages = errors.New("bus: no messages")

// Message is one stream entry: a bus-assigned id plus its field map.
type Message struct {
	ID     string
	Fields map[string]string
}

// StreamStatus is the drain-predicate snapshot for one stream+group pair.
type StreamStatus struct {
	Exists           bool
	LastGeneratedID  string
	LastDeliveredID  string
	PendingCount     int64
}

// IsDrained reports the spec's drain predicate: last_generated_id ==
// last_delivered_id AND pending == 0. A missing stream counts as drained.
func (s StreamStatus) IsDrained() bool {
	if !s.Exists {
		return true
	}
	return s.LastGeneratedID == s.LastDeliveredID && s.PendingCount == 0
}

// Bus is a pooled Redis client exposing the operations the pipeline core
// needs. One Bus is constructed per component process and shared by its
// worker loop(s) and HTTP handlers.
type Bus struct {
	client *redis.Client
}

// Options configures the connection URL and socket timeouts. New bounds the
// pool at 20 connections per client; no periodic health check of pooled
// connections is configured.
type Options struct {
	URL     string
	Timeout time.Duration
}

// New connects lazily (redis.NewClient never dials eagerly) and pings once
// to surface connectivity problems at startup, per the spec's
// "lazy, with ping-on-open" bus-client contract.
func New(ctx context.Context, opts Options) (*Bus, error) {
	redisOpts, err := redis.ParseURL(opts.URL)
	if err != nil {
		return nil, err
	}
	redisOpts.PoolSize = 20
	if opts.Timeout > 0 {
		redisOpts.DialTimeout = opts.Timeout
		redisOpts.ReadTimeout = opts.Timeout
		redisOpts.WriteTimeout = opts.Timeout
	}
	client := redis.NewClient(redisOpts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, err
	}
	return &Bus{client: client}, nil
}

// Close releases pooled connections.
func (b *Bus) Close() error {
	return b.client.Close()
}

// Ping verifies connectivity, used by the health checker.
func (b *Bus) Ping(ctx context.Context) error {
	return b.client.Ping(ctx).Err()
}

// SIsMember reports whether value is a member of set.
func (b *Bus) SIsMember(ctx context.Context, set, value string) (bool, error) {
	return b.client.SIsMember(ctx, set, value).Result()
}

// SAdd adds value to set.
func (b *Bus) SAdd(ctx context.Context, set, value string) error {
	return b.client.SAdd(ctx, set, value).Err()
}

// Get returns the value at key, or "" if absent.
func (b *Bus) Get(ctx context.Context, key string) (string, error) {
	v, err := b.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	return v, err
}

// SetWithTTL sets key to value with the given expiry.
func (b *Bus) SetWithTTL(ctx context.Context, key, value string, ttl time.Duration) error {
	return b.client.Set(ctx, key, value, ttl).Err()
}

// Append serializes fields and appends them to stream, trimming the stream
// to approximately maxLen entries. Returns the bus-assigned id.
func (b *Bus) Append(ctx context.Context, stream string, fields map[string]string, maxLen int64) (string, error) {
	values := make(map[string]interface{}, len(fields))
	for k, v := range fields {
		values[k] = v
	}
	res, err := b.client.XAdd(ctx, &redis.XAddArgs{
		Stream: stream,
		MaxLen: maxLen,
		Approx: true,
		Values: values,
	}).Result()
	return res, err
}

// EnsureGroup creates a consumer group at cursor "0" if it does not already
// exist. BUSYGROUP (already exists) is treated as success.
func (b *Bus) EnsureGroup(ctx context.Context, stream, group string) error {
	err := b.client.XGroupCreateMkStream(ctx, stream, group, "0").Err()
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		return err
	}
	return nil
}

// ReadGroup long-polls for up to block waiting for new ">" messages for
// consumer within group. Returns ErrNoMessages if the block elapses with
// nothing delivered.
func (b *Bus) ReadGroup(ctx context.Context, stream, group, consumer string, count int64, block time.Duration) ([]Message, error) {
	res, err := b.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    group,
		Consumer: consumer,
		Streams:  []string{stream, ">"},
		Count:    count,
		Block:    block,
	}).Result()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNoMessages
	}
	if err != nil {
		return nil, err
	}
	return toMessages(res), nil
}

// Pending enumerates up to count delivered-but-unacked messages for group on
// stream, oldest first.
func (b *Bus) Pending(ctx context.Context, stream, group string, count int64) ([]string, error) {
	entries, err := b.client.XPendingExt(ctx, &redis.XPendingExtArgs{
		Stream: stream,
		Group:  group,
		Start:  "-",
		End:    "+",
		Count:  count,
	}).Result()
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(entries))
	for _, e := range entries {
		ids = append(ids, e.ID)
	}
	return ids, nil
}

// Range fetches message payloads by id range (inclusive), e.g. Range(ctx,
// stream, id, id, 1) to re-fetch a single known id during reclaim.
func (b *Bus) Range(ctx context.Context, stream, from, to string, count int64) ([]Message, error) {
	res, err := b.client.XRangeN(ctx, stream, from, to, count).Result()
	if err != nil {
		return nil, err
	}
	out := make([]Message, 0, len(res))
	for _, e := range res {
		out = append(out, Message{ID: e.ID, Fields: toFields(e.Values)})
	}
	return out, nil
}

// Ack acknowledges id as durably processed, removing it from the group's
// pending set.
func (b *Bus) Ack(ctx context.Context, stream, group, id string) error {
	return b.client.XAck(ctx, stream, group, id).Err()
}

// DrainStatus reports the snapshot the drain predicate is evaluated against.
// A stream that does not exist is reported with Exists=false and no error,
// matching the spec's "missing stream treated as drained" rule.
func (b *Bus) DrainStatus(ctx context.Context, stream, group string) (StreamStatus, error) {
	info, err := b.client.XInfoStream(ctx, stream).Result()
	if err != nil {
		if strings.Contains(err.Error(), "no such key") {
			return StreamStatus{Exists: false}, nil
		}
		return StreamStatus{}, err
	}

	groups, err := b.client.XInfoGroups(ctx, stream).Result()
	if err != nil {
		if strings.Contains(err.Error(), "no such key") {
			return StreamStatus{Exists: false}, nil
		}
		return StreamStatus{}, err
	}

	for _, g := range groups {
		if g.Name != group {
			continue
		}
		return StreamStatus{
			Exists:          true,
			LastGeneratedID: info.LastGeneratedID,
			LastDeliveredID: g.LastDeliveredID,
			PendingCount:    g.Pending,
		}, nil
	}
	// Stream exists but the group was never created: reported with
	// Exists=false, the same as a missing stream, so the caller (e.g.
	// /analyzer/status) answers 404.
	return StreamStatus{Exists: false}, nil
}

func toMessages(streams []redis.XStream) []Message {
	var out []Message
	for _, s := range streams {
		for _, e := range s.Messages {
			out = append(out, Message{ID: e.ID, Fields: toFields(e.Values)})
		}
	}
	return out
}

func toFields(values map[string]interface{}) map[string]string {
	fields := make(map[string]string, len(values))
	for k, v := range values {
		if s, ok := v.(string); ok {
			fields[k] = s
		}
	}
	return fields
}
