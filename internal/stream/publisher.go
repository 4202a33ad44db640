package stream

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"

	"hostwatch-agent/internal/metrics"
	"hostwatch-agent/internal/model"
	"hostwatch-agent/internal/wire"
)

// Transport is the broker capability the publisher needs.
type Transport interface {
	PublishMsg(ctx context.Context, msg *nats.Msg) error
	Drain(ctx context.Context) error
}

// Publisher serializes records and publishes them with the host's identity
// headers. It holds no per-message state, so concurrent Publish calls are
// safe as long as the transport is.
type Publisher struct {
	logger           *slog.Logger
	transport        Transport
	pool             wire.Pool
	communicationKey string
	hostIdentifier   string
	metrics          *metrics.Metrics
}

func NewPublisher(logger *slog.Logger, transport Transport, pool wire.Pool, communicationKey, hostIdentifier string, m *metrics.Metrics) *Publisher {
	if pool == nil {
		pool = wire.SharedPool()
	}
	return &Publisher{
		logger:           logger,
		transport:        transport,
		pool:             pool,
		communicationKey: communicationKey,
		hostIdentifier:   hostIdentifier,
		metrics:          m,
	}
}

func (p *Publisher) Publish(ctx context.Context, subject model.Subject, rec wire.Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	payload, err := encode(p.pool, rec)
	if err != nil {
		p.metrics.ObservePublish(string(subject), 0, err)
		return fmt.Errorf("%s: %w", subject, err)
	}
	defer p.pool.Put(payload)

	msg := &nats.Msg{
		Subject: string(subject),
		Data:    payload,
		Header: nats.Header{
			model.HeaderCommunicationKey: []string{p.communicationKey},
			model.HeaderHostIdentifier:   []string{p.hostIdentifier},
			nats.MsgIdHdr:                []string{uuid.NewString()},
		},
	}
	err = p.transport.PublishMsg(ctx, msg)
	p.metrics.ObservePublish(string(subject), len(payload), err)
	if err != nil {
		return fmt.Errorf("publish %s: %w", subject, err)
	}
	p.logger.Debug("published", "subject", subject, "bytes", len(payload))
	return nil
}

// Close drains in-flight publishes before the connection closes.
func (p *Publisher) Close(ctx context.Context) error {
	if err := p.transport.Drain(ctx); err != nil {
		return fmt.Errorf("drain publisher: %w", err)
	}
	return nil
}
