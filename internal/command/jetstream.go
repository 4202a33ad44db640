package command

import (
	"context"
	"errors"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

// ConsumerSource is implemented by stream.NATSClient.
type ConsumerSource interface {
	PullConsumer(ctx context.Context, subject, durable string) (jetstream.Consumer, error)
}

// JetStreamBinder binds the durable pull consumer for subject.
func JetStreamBinder(src ConsumerSource, subject, durable string) Binder {
	return func(ctx context.Context) (Fetcher, error) {
		cons, err := src.PullConsumer(ctx, subject, durable)
		if err != nil {
			return nil, err
		}
		return NewJetStreamFetcher(cons), nil
	}
}

// JetStreamFetcher pulls command batches from a durable JetStream consumer.
type JetStreamFetcher struct {
	consumer jetstream.Consumer
}

func NewJetStreamFetcher(consumer jetstream.Consumer) *JetStreamFetcher {
	return &JetStreamFetcher{consumer: consumer}
}

// Fetch waits up to wait for a batch. An empty batch is not an error.
func (f *JetStreamFetcher) Fetch(ctx context.Context, batch int, wait time.Duration) ([]Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b, err := f.consumer.Fetch(batch, jetstream.FetchMaxWait(wait))
	if err != nil {
		return nil, err
	}
	out := make([]Message, 0, batch)
	for msg := range b.Messages() {
		out = append(out, msg)
	}
	if err := b.Error(); err != nil && !isFetchTimeout(err) {
		return out, err
	}
	return out, nil
}

func isFetchTimeout(err error) bool {
	return errors.Is(err, nats.ErrTimeout) || errors.Is(err, context.DeadlineExceeded)
}
