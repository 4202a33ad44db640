package stream

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"hostwatch-agent/internal/model"
)

type NATSOptions struct {
	URL            string
	Name           string
	User           string
	Password       string
	TLS            *tls.Config
	ConnectTimeout time.Duration
	ReconnectWait  time.Duration
	MaxReconnects  int
	// MaxConnectWait bounds retries of connect errors that are not network
	// failures, such as a malformed URL. Unreachable brokers are retried in
	// the background for as long as MaxReconnects allows.
	MaxConnectWait time.Duration
	// JetStreamPublish waits for a stream acknowledgement on every publish.
	// It needs a stream capturing the metric subjects.
	JetStreamPublish bool
}

// NATSClient owns one broker connection and its JetStream context.
type NATSClient struct {
	logger    *slog.Logger
	nc        *nats.Conn
	js        jetstream.JetStream
	jsPublish bool
	closed    chan struct{}
	once      sync.Once

	corePublish func(msg *nats.Msg) error
}

func ConnectNATS(ctx context.Context, opts NATSOptions, logger *slog.Logger) (*NATSClient, error) {
	c := &NATSClient{logger: logger, jsPublish: opts.JetStreamPublish, closed: make(chan struct{})}
	natsOpts := []nats.Option{
		nats.Name(opts.Name),
		nats.RetryOnFailedConnect(true),
		nats.Timeout(opts.ConnectTimeout),
		nats.ReconnectWait(opts.ReconnectWait),
		nats.MaxReconnects(opts.MaxReconnects),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("broker disconnected", "error", err)
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("broker reconnected", "url", nc.ConnectedUrlRedacted())
		}),
		nats.ClosedHandler(func(*nats.Conn) {
			c.once.Do(func() { close(c.closed) })
		}),
	}
	if opts.User != "" {
		natsOpts = append(natsOpts, nats.UserInfo(opts.User, opts.Password))
	}
	if opts.TLS != nil {
		natsOpts = append(natsOpts, nats.Secure(opts.TLS))
	}

	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = opts.MaxConnectWait
	if bo.MaxElapsedTime <= 0 {
		bo.MaxElapsedTime = time.Minute
	}
	err := backoff.RetryNotify(func() error {
		nc, err := nats.Connect(opts.URL, natsOpts...)
		if err != nil {
			return err
		}
		c.nc = nc
		c.corePublish = nc.PublishMsg
		return nil
	}, backoff.WithContext(bo, ctx), func(err error, wait time.Duration) {
		logger.Warn("broker connect failed, retrying", "error", err, "retry_in", wait)
	})
	if err != nil {
		return nil, fmt.Errorf("connect broker: %w", err)
	}

	js, err := jetstream.New(c.nc)
	if err != nil {
		c.nc.Close()
		return nil, fmt.Errorf("jetstream context: %w", err)
	}
	c.js = js
	if c.nc.IsConnected() {
		logger.Info("broker connected", "url", c.nc.ConnectedUrlRedacted(), "name", opts.Name)
	} else {
		logger.Warn("broker unreachable, connecting in background", "url", opts.URL, "name", opts.Name)
	}
	return c, nil
}

// PublishMsg publishes on core NATS unless JetStream publishing is enabled.
// Core publishes made while reconnecting are buffered by the client.
func (c *NATSClient) PublishMsg(ctx context.Context, msg *nats.Msg) error {
	if c.jsPublish {
		_, err := c.js.PublishMsg(ctx, msg)
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return c.corePublish(msg)
}

func (c *NATSClient) Connected() bool {
	return c != nil && c.nc != nil && c.nc.IsConnected()
}

// Drain flushes pending work and waits for the connection to close, or for
// ctx, whichever comes first.
func (c *NATSClient) Drain(ctx context.Context) error {
	if c.nc == nil || c.nc.IsClosed() {
		return nil
	}
	if err := c.nc.Drain(); err != nil {
		if errors.Is(err, nats.ErrConnectionClosed) {
			return nil
		}
		c.nc.Close()
		return err
	}
	select {
	case <-c.closed:
		return nil
	case <-ctx.Done():
		c.nc.Close()
		return ctx.Err()
	}
}

// EnsureStreams creates or updates the metrics and command streams.
func (c *NATSClient) EnsureStreams(ctx context.Context, metricsStream, commandStream string, commandSubject string) error {
	subjects := make([]string, 0, 3)
	for _, s := range model.MetricSubjects() {
		subjects = append(subjects, string(s))
	}
	if _, err := c.js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:     metricsStream,
		Subjects: subjects,
		MaxAge:   24 * time.Hour,
	}); err != nil {
		return fmt.Errorf("ensure stream %s: %w", metricsStream, err)
	}
	if _, err := c.js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:      commandStream,
		Subjects:  []string{commandSubject},
		Retention: jetstream.WorkQueuePolicy,
	}); err != nil {
		return fmt.Errorf("ensure stream %s: %w", commandStream, err)
	}
	return nil
}

// PullConsumer binds a durable pull consumer on the stream that captures
// subject.
func (c *NATSClient) PullConsumer(ctx context.Context, subject, durable string) (jetstream.Consumer, error) {
	streamName, err := c.js.StreamNameBySubject(ctx, subject)
	if err != nil {
		return nil, fmt.Errorf("find stream for %s: %w", subject, err)
	}
	cons, err := c.js.CreateOrUpdateConsumer(ctx, streamName, jetstream.ConsumerConfig{
		Durable:       durable,
		FilterSubject: subject,
		AckPolicy:     jetstream.AckExplicitPolicy,
	})
	if err != nil {
		return nil, fmt.Errorf("bind consumer %s: %w", durable, err)
	}
	return cons, nil
}
