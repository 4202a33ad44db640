package stream

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hostwatch-agent/internal/model"
	"hostwatch-agent/internal/wire"
)

type countingPool struct {
	inner *wire.BucketPool
	gets  int
	puts  int
}

func newCountingPool() *countingPool {
	return &countingPool{inner: wire.NewBucketPool()}
}

func (p *countingPool) Get(size int) []byte {
	p.gets++
	return p.inner.Get(size)
}

func (p *countingPool) Put(b []byte) {
	p.puts++
	p.inner.Put(b)
}

type fakeTransport struct {
	msgs    []*nats.Msg
	data    [][]byte
	err     error
	drained bool
}

func (f *fakeTransport) PublishMsg(_ context.Context, msg *nats.Msg) error {
	if f.err != nil {
		return f.err
	}
	f.msgs = append(f.msgs, msg)
	f.data = append(f.data, bytes.Clone(msg.Data))
	return nil
}

func (f *fakeTransport) Drain(context.Context) error {
	f.drained = true
	return nil
}

type rawRecord []byte

func (r rawRecord) MarshalWire(w *wire.Writer) error {
	_, err := w.Write(r)
	return err
}

type failingRecord struct{}

func (failingRecord) MarshalWire(w *wire.Writer) error {
	if _, err := w.Write(bytes.Repeat([]byte{1}, wire.SegmentSize+10)); err != nil {
		return err
	}
	return errors.New("encoder exploded")
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestPublishDeliversExactPayload(t *testing.T) {
	for _, size := range []int{1, 100000} {
		pool := newCountingPool()
		tr := &fakeTransport{}
		p := NewPublisher(discardLogger(), tr, pool, "key-1", "host-1", nil)

		payload := make([]byte, size)
		for i := range payload {
			payload[i] = byte(i % 251)
		}
		require.NoError(t, p.Publish(context.Background(), model.SubjectHostMetric, rawRecord(payload)))

		require.Len(t, tr.data, 1)
		assert.Equal(t, payload, tr.data[0], "size %d", size)
		assert.Equal(t, pool.gets, pool.puts, "every rented slice is returned, size %d", size)
	}
}

func TestPublishSetsIdentityHeaders(t *testing.T) {
	tr := &fakeTransport{}
	p := NewPublisher(discardLogger(), tr, nil, "key-1", "host-1", nil)
	require.NoError(t, p.Publish(context.Background(), model.SubjectDatabaseMetric, rawRecord{1, 2}))

	require.Len(t, tr.msgs, 1)
	msg := tr.msgs[0]
	assert.Equal(t, "db_metric", msg.Subject)
	assert.Equal(t, "key-1", msg.Header.Get(model.HeaderCommunicationKey))
	assert.Equal(t, "host-1", msg.Header.Get(model.HeaderHostIdentifier))
	assert.NotEmpty(t, msg.Header.Get(nats.MsgIdHdr))
}

func TestPublishSerializationFailureReleasesBuffers(t *testing.T) {
	pool := newCountingPool()
	tr := &fakeTransport{}
	p := NewPublisher(discardLogger(), tr, pool, "k", "h", nil)

	err := p.Publish(context.Background(), model.SubjectHostMetric, failingRecord{})
	require.Error(t, err)
	assert.Empty(t, tr.msgs)
	assert.Equal(t, 2, pool.gets)
	assert.Equal(t, pool.gets, pool.puts)
}

func TestPublishTransportError(t *testing.T) {
	pool := newCountingPool()
	tr := &fakeTransport{err: errors.New("no responders")}
	p := NewPublisher(discardLogger(), tr, pool, "k", "h", nil)

	err := p.Publish(context.Background(), model.SubjectHostMetric, rawRecord{1})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no responders")
	assert.Equal(t, pool.gets, pool.puts)
}

func TestPublishCancelledBeforeSend(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	tr := &fakeTransport{}
	p := NewPublisher(discardLogger(), tr, nil, "k", "h", nil)

	require.ErrorIs(t, p.Publish(ctx, model.SubjectHostMetric, rawRecord{1}), context.Canceled)
	assert.Empty(t, tr.msgs)
}

func TestCloseDrains(t *testing.T) {
	tr := &fakeTransport{}
	p := NewPublisher(discardLogger(), tr, nil, "k", "h", nil)
	require.NoError(t, p.Close(context.Background()))
	assert.True(t, tr.drained)
}
