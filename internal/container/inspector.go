package container

import (
	"context"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"hostwatch-agent/internal/metrics"
	"hostwatch-agent/internal/model"
)

type Ref struct {
	ID   string
	Name string
}

// Runtime is the slice of the container engine API the inspector needs.
type Runtime interface {
	ListContainers(ctx context.Context) ([]Ref, error)
	InspectContainer(ctx context.Context, id string) (model.ContainerDetail, error)
}

type StatsSource interface {
	Stats(ctx context.Context, id string) (Stats, error)
}

// Inspector builds one record per container, inspecting at most concurrency
// containers at a time.
type Inspector struct {
	logger      *slog.Logger
	runtime     Runtime
	stats       StatsSource
	concurrency int
	metrics     *metrics.Metrics
}

func NewInspector(logger *slog.Logger, runtime Runtime, stats StatsSource, concurrency int, m *metrics.Metrics) *Inspector {
	if concurrency <= 0 {
		concurrency = 5
	}
	return &Inspector{logger: logger, runtime: runtime, stats: stats, concurrency: concurrency, metrics: m}
}

// List returns records for every container known to the runtime, running or
// not. A container that fails inspection is logged and left out; a failure to
// list is returned.
func (in *Inspector) List(ctx context.Context) (model.ContainerList, error) {
	refs, err := in.runtime.ListContainers(ctx)
	if err != nil {
		return nil, fmt.Errorf("list containers: %w", err)
	}
	if len(refs) == 0 {
		return model.ContainerList{}, nil
	}

	results := make([]*model.Container, len(refs))
	var g errgroup.Group
	g.SetLimit(in.concurrency)
	for i, ref := range refs {
		if ctx.Err() != nil {
			break
		}
		i, ref := i, ref
		g.Go(func() error {
			c, err := in.inspect(ctx, ref)
			if err != nil {
				if ctx.Err() == nil {
					in.logger.Warn("container inspection failed", "container_id", ref.ID, "name", ref.Name, "error", err)
					in.metrics.ContainerInspectFailed()
				}
				return nil
			}
			results[i] = &c
			return nil
		})
	}
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	out := make(model.ContainerList, 0, len(refs))
	for _, c := range results {
		if c != nil {
			out = append(out, *c)
		}
	}
	return out, nil
}

func (in *Inspector) inspect(ctx context.Context, ref Ref) (model.Container, error) {
	var (
		detail model.ContainerDetail
		stats  Stats
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		d, err := in.runtime.InspectContainer(gctx, ref.ID)
		if err != nil {
			return fmt.Errorf("inspect: %w", err)
		}
		detail = d
		return nil
	})
	g.Go(func() error {
		st, err := in.stats.Stats(gctx, ref.ID)
		if err != nil {
			return fmt.Errorf("stats: %w", err)
		}
		stats = st
		return nil
	})
	if err := g.Wait(); err != nil {
		return model.Container{}, err
	}

	// TODO: fill Memory from stats.MemoryUsage/MemoryLimit once the backend's
	// container schema accepts it; it is left zero until then.
	return model.Container{
		Detail:  detail,
		Cpu:     model.CpuMetric{TotalUsage: percentByte(stats.CPUPercent)},
		Disk:    model.DiskMetric{Reads: float64(stats.BlockRead), Writes: float64(stats.BlockWrite)},
		Network: model.NetworkMetric{RxBytes: stats.NetRx, TxBytes: stats.NetTx},
	}, nil
}

func percentByte(v float64) uint8 {
	if v <= 0 {
		return 0
	}
	if v >= 100 {
		return 100
	}
	return uint8(v)
}
