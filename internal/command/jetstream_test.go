package command

import (
	"context"
	"errors"
	"testing"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSource struct {
	subject, durable string
	err              error
}

func (f *fakeSource) PullConsumer(_ context.Context, subject, durable string) (jetstream.Consumer, error) {
	f.subject, f.durable = subject, durable
	return nil, f.err
}

func TestJetStreamBinder(t *testing.T) {
	src := &fakeSource{}
	fetcher, err := JetStreamBinder(src, "app_cmd", "hostwatch_abcd")(context.Background())
	require.NoError(t, err)
	assert.IsType(t, &JetStreamFetcher{}, fetcher)
	assert.Equal(t, "app_cmd", src.subject)
	assert.Equal(t, "hostwatch_abcd", src.durable)

	src.err = errors.New("nats: stream not found")
	_, err = JetStreamBinder(src, "app_cmd", "hostwatch_abcd")(context.Background())
	require.Error(t, err)
}
