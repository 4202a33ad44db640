package command

import (
	"context"
	"crypto/subtle"
	"errors"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/nats-io/nats.go"

	"hostwatch-agent/internal/metrics"
	"hostwatch-agent/internal/model"
)

// Message is the subset of jetstream.Msg the consumer needs.
type Message interface {
	Headers() nats.Header
	Data() []byte
	Ack() error
	Nak() error
}

type Fetcher interface {
	Fetch(ctx context.Context, batch int, wait time.Duration) ([]Message, error)
}

// Binder binds the durable subscription. Run retries it until it succeeds
// or the context ends.
type Binder func(ctx context.Context) (Fetcher, error)

// Bound wraps an already bound fetcher.
func Bound(f Fetcher) Binder {
	return func(context.Context) (Fetcher, error) { return f, nil }
}

type Executor interface {
	Execute(ctx context.Context, cmd Command) error
}

const (
	OutcomeExecuted    = "executed"
	OutcomeFailed      = "failed"
	OutcomeRejected    = "rejected"
	OutcomeSkipped     = "skipped"
	OutcomeRedelivered = "nak"
)

// Result describes the last command the consumer handled.
type Result struct {
	Action  Action
	Outcome string
	At      time.Time
}

type Consumer struct {
	logger   *slog.Logger
	bind     Binder
	executor Executor
	key      string
	hostID   string
	batch    int
	wait     time.Duration
	metrics  *metrics.Metrics
	last     atomic.Pointer[Result]

	maxBackoff time.Duration
}

func NewConsumer(
	logger *slog.Logger,
	bind Binder,
	executor Executor,
	communicationKey, hostID string,
	batch int,
	wait time.Duration,
	m *metrics.Metrics,
) *Consumer {
	if batch <= 0 {
		batch = 10
	}
	if wait <= 0 {
		wait = time.Second
	}
	return &Consumer{
		logger:     logger,
		bind:       bind,
		executor:   executor,
		key:        communicationKey,
		hostID:     hostID,
		batch:      batch,
		wait:       wait,
		metrics:    m,
		maxBackoff: 30 * time.Second,
	}
}

// LastResult returns nil until the first message is handled.
func (c *Consumer) LastResult() *Result {
	return c.last.Load()
}

func (c *Consumer) Run(ctx context.Context) error {
	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = 0
	bo.MaxInterval = c.maxBackoff

	fetcher := c.bindWithRetry(ctx, bo)
	if fetcher == nil {
		return nil
	}
	bo.Reset()

	for {
		if ctx.Err() != nil {
			return nil
		}
		msgs, err := fetcher.Fetch(ctx, c.batch, c.wait)
		for i, msg := range msgs {
			if ctx.Err() != nil {
				c.release(msgs[i:])
				return nil
			}
			c.handle(ctx, msg)
		}
		if err == nil {
			bo.Reset()
			continue
		}
		if ctx.Err() != nil {
			return nil
		}
		c.metrics.FetchFailed()
		wait := bo.NextBackOff()
		c.logger.Warn("command fetch failed", "error", err, "retry_in", wait)
		sleepWithContext(ctx, wait)
	}
}

// bindWithRetry returns nil only when ctx ends first.
func (c *Consumer) bindWithRetry(ctx context.Context, bo backoff.BackOff) Fetcher {
	for {
		fetcher, err := c.bind(ctx)
		if err == nil {
			c.logger.Info("command subscription bound")
			return fetcher
		}
		if ctx.Err() != nil {
			return nil
		}
		c.metrics.FetchFailed()
		wait := bo.NextBackOff()
		c.logger.Warn("command subscription bind failed", "error", err, "retry_in", wait)
		sleepWithContext(ctx, wait)
	}
}

func (c *Consumer) handle(ctx context.Context, msg Message) {
	action, outcome := c.process(ctx, msg)
	c.metrics.ObserveCommand(outcome)
	c.last.Store(&Result{Action: action, Outcome: outcome, At: time.Now().UTC()})
}

func (c *Consumer) process(ctx context.Context, msg Message) (action Action, outcome string) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("command processing panicked", "action", action, "panic", r)
			c.nak(msg)
			outcome = OutcomeRedelivered
		}
	}()

	if !c.matches(msg.Headers()) {
		c.ack(msg)
		return "", OutcomeSkipped
	}

	cmd, err := ParseCommand(msg.Data())
	if err != nil {
		c.logger.Warn("command rejected", "error", err)
		c.ack(msg)
		return "", OutcomeRejected
	}
	action = cmd.Action

	err = c.executor.Execute(ctx, cmd)
	switch {
	case err == nil:
		c.logger.Info("command executed", "action", action)
		outcome = OutcomeExecuted
	case errors.Is(err, ErrActionNotAllowed), errors.Is(err, ErrInvalidParams):
		c.logger.Warn("command rejected", "action", action, "error", err)
		outcome = OutcomeRejected
	case ctx.Err() != nil:
		c.logger.Warn("command interrupted by shutdown", "action", action, "error", err)
		c.nak(msg)
		return action, OutcomeRedelivered
	default:
		c.logger.Error("command failed", "action", action, "error", err)
		outcome = OutcomeFailed
	}
	c.ack(msg)
	return action, outcome
}

// matches compares inbound identity headers. Header names are compared after
// lowercasing and folding '-' to '_'; "tag" is accepted as the host header.
func (c *Consumer) matches(h nats.Header) bool {
	key := headerValue(h, model.HeaderCommunicationKey)
	host := headerValue(h, model.HeaderHostIdentifier, "tag")
	if key == "" || host == "" {
		return false
	}
	if subtle.ConstantTimeCompare([]byte(key), []byte(c.key)) != 1 {
		return false
	}
	return host == c.hostID
}

func headerValue(h nats.Header, names ...string) string {
	for _, want := range names {
		for k, v := range h {
			if len(v) == 0 || normalizeHeader(k) != want {
				continue
			}
			return strings.TrimSpace(v[0])
		}
	}
	return ""
}

func normalizeHeader(name string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimSpace(name)), "-", "_")
}

func (c *Consumer) release(msgs []Message) {
	for _, msg := range msgs {
		c.nak(msg)
	}
}

func (c *Consumer) ack(msg Message) {
	if err := msg.Ack(); err != nil {
		c.logger.Warn("ack command failed", "error", err)
	}
}

func (c *Consumer) nak(msg Message) {
	if err := msg.Nak(); err != nil {
		c.logger.Warn("nak command failed", "error", err)
	}
}

func sleepWithContext(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
