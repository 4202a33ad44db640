package database

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"hostwatch-agent/internal/metrics"
	"hostwatch-agent/internal/model"
)

var ErrUnsupportedEngine = errors.New("unsupported database engine")

// pgQueryCanceled is the SQLSTATE postgres reports for statement timeouts and
// cancel requests.
const pgQueryCanceled = "57014"

// Target is one configured database instance. Connection is a driver-native
// connection string and is never logged.
type Target struct {
	Name       string
	Engine     model.EngineType
	Connection string
}

// Collector reads the metadata summary of one instance.
type Collector interface {
	Collect(ctx context.Context, target Target) (model.DatabaseDetail, error)
}

type Prober struct {
	logger     *slog.Logger
	targets    []Target
	collectors map[model.EngineType]Collector
	timeout    time.Duration
	metrics    *metrics.Metrics
	now        func() time.Time
}

func NewProber(logger *slog.Logger, targets []Target, collectors map[model.EngineType]Collector, timeout time.Duration, m *metrics.Metrics) *Prober {
	return &Prober{
		logger:     logger,
		targets:    targets,
		collectors: collectors,
		timeout:    timeout,
		metrics:    m,
		now:        time.Now,
	}
}

// DatabaseList probes every target in configuration order. Instances that
// fail are logged and omitted; only cancellation of ctx aborts the probe.
func (p *Prober) DatabaseList(ctx context.Context) (model.DatabaseList, error) {
	list := model.DatabaseList{
		Timestamp: p.now().UTC(),
		Databases: make([]model.DatabaseDetail, 0, len(p.targets)),
	}
	for _, t := range p.targets {
		if err := ctx.Err(); err != nil {
			return model.DatabaseList{}, err
		}
		c, ok := p.collectors[t.Engine]
		if !ok {
			p.logger.Warn("skipping database target", "target", t.Name, "engine", t.Engine, "error", ErrUnsupportedEngine)
			p.metrics.DatabaseProbeFailed(string(t.Engine))
			continue
		}

		detail, err := p.probe(ctx, c, t)
		if err != nil {
			if ctx.Err() != nil {
				return model.DatabaseList{}, ctx.Err()
			}
			if IsRecoverable(err) {
				p.logger.Warn("database probe cancelled or timed out", "target", t.Name, "engine", t.Engine, "error", err)
			} else {
				p.logger.Error("database probe failed", "target", t.Name, "engine", t.Engine, "error", err)
			}
			p.metrics.DatabaseProbeFailed(string(t.Engine))
			continue
		}
		detail.DatabaseType = t.Engine
		list.Databases = append(list.Databases, detail)
	}
	return list, nil
}

func (p *Prober) probe(ctx context.Context, c Collector, t Target) (model.DatabaseDetail, error) {
	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}
	detail, err := c.Collect(ctx, t)
	if err != nil {
		return model.DatabaseDetail{}, fmt.Errorf("%s: %w", t.Name, err)
	}
	return detail, nil
}

// IsRecoverable reports whether err is a timeout or cancellation, as opposed to
// a connection or query failure.
func IsRecoverable(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgQueryCanceled {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// DefaultCollectors wires one collector per supported engine.
func DefaultCollectors(logger *slog.Logger, queries QueryProvider) map[model.EngineType]Collector {
	out := make(map[model.EngineType]Collector, len(sqlDrivers)+1)
	for engine, driver := range sqlDrivers {
		out[engine] = NewSQLCollector(engine, driver, queries)
	}
	out[model.EngineRedis] = NewRedisCollector(logger)
	return out
}
