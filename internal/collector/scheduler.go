package collector

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"hostwatch-agent/internal/metrics"
	"hostwatch-agent/internal/model"
	"hostwatch-agent/internal/wire"
)

type ContainerLister interface {
	List(ctx context.Context) (model.ContainerList, error)
}

type DatabaseLister interface {
	DatabaseList(ctx context.Context) (model.DatabaseList, error)
}

type Publisher interface {
	Publish(ctx context.Context, subject model.Subject, rec wire.Record) error
}

type State int32

const (
	StateIdle State = iota
	StateSampling
	StatePublishing
)

func (s State) String() string {
	switch s {
	case StateSampling:
		return "sampling"
	case StatePublishing:
		return "publishing"
	default:
		return "idle"
	}
}

// Scheduler runs one collection cycle per tick: host metrics, then containers,
// then databases, publishing each before moving on.
type Scheduler struct {
	logger       *slog.Logger
	host         *HostCollector
	containers   ContainerLister
	databases    DatabaseLister
	sink         Publisher
	interval     time.Duration
	errorBackoff time.Duration
	metrics      *metrics.Metrics
	state        atomic.Int32
}

// NewScheduler builds a scheduler. containers and databases may be nil to
// disable those stages.
func NewScheduler(
	logger *slog.Logger,
	host *HostCollector,
	containers ContainerLister,
	databases DatabaseLister,
	sink Publisher,
	interval, errorBackoff time.Duration,
	m *metrics.Metrics,
) *Scheduler {
	if errorBackoff <= 0 {
		errorBackoff = time.Second
	}
	return &Scheduler{
		logger:       logger,
		host:         host,
		containers:   containers,
		databases:    databases,
		sink:         sink,
		interval:     interval,
		errorBackoff: errorBackoff,
		metrics:      m,
	}
}

func (s *Scheduler) State() State {
	return State(s.state.Load())
}

func (s *Scheduler) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		if err := s.runCycle(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			s.logger.Error("collection cycle failed", "error", err)
			s.sleepWithContext(ctx, s.errorBackoff)
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

func (s *Scheduler) runCycle(ctx context.Context) (err error) {
	defer func() {
		s.state.Store(int32(StateIdle))
		s.metrics.ObserveCycle(err)
	}()

	s.state.Store(int32(StateSampling))
	start := time.Now()
	host := s.host.Collect(ctx)
	s.metrics.ObserveStage("host", time.Since(start))
	if err := s.publish(ctx, model.SubjectHostMetric, host); err != nil {
		return err
	}

	if s.containers != nil {
		s.state.Store(int32(StateSampling))
		start = time.Now()
		list, err := s.containers.List(ctx)
		s.metrics.ObserveStage("containers", time.Since(start))
		if err != nil {
			return fmt.Errorf("inspect containers: %w", err)
		}
		if len(list) > 0 {
			if err := s.publish(ctx, model.SubjectContainerMetric, list); err != nil {
				return err
			}
		}
	}

	if s.databases != nil {
		s.state.Store(int32(StateSampling))
		start = time.Now()
		dbs, err := s.databases.DatabaseList(ctx)
		s.metrics.ObserveStage("databases", time.Since(start))
		if err != nil {
			return fmt.Errorf("probe databases: %w", err)
		}
		if len(dbs.Databases) > 0 {
			if err := s.publish(ctx, model.SubjectDatabaseMetric, dbs); err != nil {
				return err
			}
		}
	}
	return nil
}

func (s *Scheduler) publish(ctx context.Context, subject model.Subject, rec wire.Record) error {
	s.state.Store(int32(StatePublishing))
	if err := s.sink.Publish(ctx, subject, rec); err != nil {
		return fmt.Errorf("publish %s: %w", subject, err)
	}
	return nil
}

func (s *Scheduler) sleepWithContext(ctx context.Context, d time.Duration) {
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
