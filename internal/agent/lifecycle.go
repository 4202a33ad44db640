package agent

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/sync/errgroup"
)

func (a *Agent) run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return a.scheduler.Run(gctx)
	})
	if a.consumer != nil {
		g.Go(func() error {
			return a.consumer.Run(gctx)
		})
	}
	g.Go(func() error {
		return a.runHealthLoop(gctx)
	})
	if a.cfg.EnsureStreams && a.pubConn != nil {
		g.Go(func() error {
			a.provisionStreams(gctx)
			return nil
		})
	}
	if a.cfg.ProbeListenAddr != "" {
		g.Go(func() error {
			return a.runProbeListener(gctx)
		})
	}

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func (a *Agent) runHealthLoop(ctx context.Context) error {
	t := time.NewTicker(healthInterval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			connected := a.pubConn.Connected()
			if !connected {
				a.logger.Warn("broker connection lost, waiting for reconnect")
			}
			a.health.SetBrokerConnected(connected)
			a.pingDocker(ctx)
			a.logHealth()
		}
	}
}

// provisionStreams creates the metrics and command streams, retrying until the
// broker accepts them or ctx ends.
func (a *Agent) provisionStreams(ctx context.Context) {
	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = 0
	bo.MaxInterval = time.Minute
	err := backoff.RetryNotify(func() error {
		return a.pubConn.EnsureStreams(ctx, a.cfg.MetricsStream, a.cfg.CommandStream, a.cfg.CommandSubject)
	}, backoff.WithContext(bo, ctx), func(err error, wait time.Duration) {
		a.logger.Warn("stream provisioning failed, retrying", "error", err, "retry_in", wait)
	})
	if err != nil {
		return
	}
	a.logger.Info("streams provisioned", "metrics_stream", a.cfg.MetricsStream, "command_stream", a.cfg.CommandStream)
}

func (a *Agent) pingDocker(ctx context.Context) {
	if a.docker == nil {
		return
	}
	pingCtx, cancel := context.WithTimeout(ctx, dockerPingWindow)
	defer cancel()
	if err := a.docker.Ping(pingCtx); err != nil {
		if ctx.Err() == nil {
			a.logger.Warn("docker daemon unreachable", "error", err)
		}
		a.health.SetDockerReachable(false)
		return
	}
	a.health.SetDockerReachable(true)
}

func (a *Agent) logHealth() {
	a.logger.Log(context.Background(), slog.LevelDebug, "agent health", "snapshot", a.health.Snapshot())
}

func (a *Agent) shutdown(ctx context.Context) {
	if err := a.sink.Close(ctx); err != nil {
		a.logger.Warn("publisher close failed", "error", err)
	}
	a.health.SetBrokerConnected(false)
	if a.cmdConn != nil {
		if err := a.cmdConn.Drain(ctx); err != nil {
			a.logger.Warn("command connection drain failed", "error", err)
		}
	}
	a.closeDocker()
}

func (a *Agent) closeDocker() {
	if a.docker == nil {
		return
	}
	if err := a.docker.Close(); err != nil {
		a.logger.Warn("docker client close failed", "error", err)
	}
	a.health.SetDockerReachable(false)
}
