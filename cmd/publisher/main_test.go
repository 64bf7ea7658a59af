package main

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ravedigest/internal/bus"
	"ravedigest/internal/config"
	"ravedigest/internal/kb"
	"ravedigest/internal/logging"
	"ravedigest/internal/messages"
	"ravedigest/internal/retry"
	"ravedigest/internal/store"
)

type fakePublisherBus struct {
	values map[string]string
}

func newFakePublisherBus() *fakePublisherBus {
	return &fakePublisherBus{values: map[string]string{}}
}

func (f *fakePublisherBus) Get(ctx context.Context, key string) (string, error) {
	return f.values[key], nil
}

func (f *fakePublisherBus) SetWithTTL(ctx context.Context, key, value string, ttl time.Duration) error {
	f.values[key] = value
	return nil
}

func (f *fakePublisherBus) DrainStatus(ctx context.Context, stream, group string) (bus.StreamStatus, error) {
	return bus.StreamStatus{}, nil
}

type fakeDigestReader struct {
	digest *store.Digest
	err    error
}

func (f *fakeDigestReader) GetDigestByID(ctx context.Context, id string) (*store.Digest, error) {
	return f.digest, f.err
}

type fakeKBPublisher struct {
	calls int
	err   error
}

func (f *fakeKBPublisher) Publish(ctx context.Context, page kb.Page) (string, error) {
	f.calls++
	return "page-id", f.err
}

func newTestPublisher(reader digestReader, kbClient kbPublisher) (*publisher, *fakePublisherBus) {
	b := newFakePublisherBus()
	p := &publisher{
		cfg:       &config.Config{},
		bus:       b,
		store:     reader,
		publisher: kbClient,
		retry:     retry.Config{MaxRetries: 0, BaseDelay: time.Millisecond, BackoffFactor: 1, MaxDelay: time.Millisecond},
		log:       logging.New("publisher-test", false),
	}
	return p, b
}

func digestReadyMessage(id string) bus.Message {
	ready := messages.DigestReady{DigestID: id}
	return bus.Message{ID: "1-1", Fields: ready.Fields()}
}

func TestHandle_SkipsAlreadyPublishedDigest(t *testing.T) {
	kbClient := &fakeKBPublisher{}
	p, b := newTestPublisher(&fakeDigestReader{digest: &store.Digest{ID: "d1"}}, kbClient)
	require.NoError(t, b.SetWithTTL(context.Background(), publishedKeyPrefix+"d1", "1", time.Hour))

	err := p.handle(context.Background(), digestReadyMessage("d1"))

	require.NoError(t, err)
	assert.Equal(t, 0, kbClient.calls)
}

func TestHandle_MissingDigestAcksInsteadOfRetrying(t *testing.T) {
	kbClient := &fakeKBPublisher{}
	p, _ := newTestPublisher(&fakeDigestReader{err: store.ErrNotFound}, kbClient)

	err := p.handle(context.Background(), digestReadyMessage("missing"))

	require.NoError(t, err)
	assert.Equal(t, 0, kbClient.calls)
}

func TestHandle_PublishesAndMarksIdempotencyKey(t *testing.T) {
	kbClient := &fakeKBPublisher{}
	p, b := newTestPublisher(&fakeDigestReader{digest: &store.Digest{ID: "d1", Title: "t", Summary: "## 1. x\n**Summary:** y\n"}}, kbClient)

	err := p.handle(context.Background(), digestReadyMessage("d1"))

	require.NoError(t, err)
	assert.Equal(t, 1, kbClient.calls)
	assert.Equal(t, "1", b.values[publishedKeyPrefix+"d1"])
}

func TestHandle_MalformedMessageReturnsErrorInsteadOfAcking(t *testing.T) {
	p, _ := newTestPublisher(&fakeDigestReader{}, &fakeKBPublisher{})

	err := p.handle(context.Background(), bus.Message{ID: "1-1", Fields: map[string]string{}})

	require.Error(t, err)
}
