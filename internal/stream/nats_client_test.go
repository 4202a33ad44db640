package stream

import (
	"context"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hostwatch-agent/internal/config"
	"hostwatch-agent/internal/model"
)

type fakeJetStream struct {
	jetstream.JetStream
	published []*nats.Msg
}

func (f *fakeJetStream) PublishMsg(_ context.Context, msg *nats.Msg, _ ...jetstream.PublishOpt) (*jetstream.PubAck, error) {
	f.published = append(f.published, msg)
	return &jetstream.PubAck{Stream: "HOSTWATCH_METRICS", Sequence: uint64(len(f.published))}, nil
}

func newTestClient(jsPublish bool) (*NATSClient, *fakeJetStream, *[]*nats.Msg) {
	js := &fakeJetStream{}
	var core []*nats.Msg
	c := &NATSClient{
		js:        js,
		jsPublish: jsPublish,
		closed:    make(chan struct{}),
		corePublish: func(msg *nats.Msg) error {
			core = append(core, msg)
			return nil
		},
	}
	return c, js, &core
}

func TestPublishMsgUsesCoreNATSByDefault(t *testing.T) {
	c, js, core := newTestClient(false)
	msg := nats.NewMsg(string(model.SubjectHostMetric))

	require.NoError(t, c.PublishMsg(context.Background(), msg))
	require.Len(t, *core, 1)
	assert.Same(t, msg, (*core)[0])
	assert.Empty(t, js.published)
}

func TestPublishMsgUsesJetStreamWhenEnabled(t *testing.T) {
	c, js, core := newTestClient(true)

	require.NoError(t, c.PublishMsg(context.Background(), nats.NewMsg(string(model.SubjectDatabaseMetric))))
	assert.Len(t, js.published, 1)
	assert.Empty(t, *core)
}

func TestCorePublishHonorsCancellation(t *testing.T) {
	c, _, core := newTestClient(false)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	require.ErrorIs(t, c.PublishMsg(ctx, nats.NewMsg("host_metric")), context.Canceled)
	assert.Empty(t, *core)
}

func TestNATSOptionsFromConfig(t *testing.T) {
	cfg := config.Defaults()
	opts := NATSOptionsFromConfig(cfg, nil, "publisher")
	assert.Equal(t, "hostwatch-agent-publisher", opts.Name)
	assert.False(t, opts.JetStreamPublish)

	cfg.JetStreamPublish = true
	assert.True(t, NATSOptionsFromConfig(cfg, nil, "publisher").JetStreamPublish)
}

func TestConnectNATSToleratesUnreachableBroker(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	c, err := ConnectNATS(ctx, NATSOptions{
		URL:            "nats://127.0.0.1:1",
		Name:           "hostwatch-test",
		ConnectTimeout: 200 * time.Millisecond,
		ReconnectWait:  50 * time.Millisecond,
		MaxReconnects:  -1,
	}, discardLogger())
	require.NoError(t, err)
	t.Cleanup(c.nc.Close)

	assert.False(t, c.Connected())
	require.NoError(t, c.PublishMsg(ctx, nats.NewMsg("host_metric")))
}

func TestConnectedOnNilClient(t *testing.T) {
	var c *NATSClient
	assert.False(t, c.Connected())
}
