package collector

import (
	"context"
	"time"

	"hostwatch-agent/internal/model"
)

// HostSampler is implemented by system.Sampler.
type HostSampler interface {
	SampleCPU(ctx context.Context) model.CpuMetric
	SampleMemory(ctx context.Context) model.MemoryMetric
	SampleDisk(ctx context.Context) model.DiskMetric
	SampleNetwork(ctx context.Context) model.NetworkMetric
}

// Identity is fixed at startup and stamped on every host sample.
type Identity struct {
	Name       string
	Identifier string
	IPs        []string
	OSType     string
}

type HostCollector struct {
	sampler  HostSampler
	identity Identity
	now      func() time.Time
}

func NewHostCollector(sampler HostSampler, identity Identity) *HostCollector {
	return &HostCollector{sampler: sampler, identity: identity, now: time.Now}
}

func (c *HostCollector) Collect(ctx context.Context) model.HostMetric {
	return model.HostMetric{
		Name:       c.identity.Name,
		Identifier: c.identity.Identifier,
		IPs:        c.identity.IPs,
		Timestamp:  c.now().UTC(),
		OSType:     c.identity.OSType,
		Cpu:        c.sampler.SampleCPU(ctx),
		Memory:     c.sampler.SampleMemory(ctx),
		Disk:       c.sampler.SampleDisk(ctx),
		Network:    c.sampler.SampleNetwork(ctx),
	}
}
