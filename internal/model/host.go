package model

import (
	"time"

	"hostwatch-agent/internal/wire"
)

// HostMetric is one host-level sample, published on host_metric.
type HostMetric struct {
	Name       string
	Identifier string
	IPs        []string
	Timestamp  time.Time
	OSType     string
	Cpu        CpuMetric
	Memory     MemoryMetric
	Disk       DiskMetric
	Network    NetworkMetric
}

func (m HostMetric) MarshalWire(w *wire.Writer) error {
	return w.Field(func(e *wire.Encoder) {
		e.String(1, m.Name)
		e.String(2, m.Identifier)
		for _, ip := range m.IPs {
			e.String(3, ip)
		}
		e.Timestamp(4, m.Timestamp)
		e.String(5, m.OSType)
		e.Message(6, m.Cpu.encode)
		e.Message(7, m.Memory.encode)
		e.Message(8, m.Disk.encode)
		e.Message(9, m.Network.encode)
	})
}
