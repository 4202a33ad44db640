package model

import (
	"sort"
	"time"

	"hostwatch-agent/internal/wire"
)

// Container is the per-container record inside a container_metric payload.
// Memory is not populated yet; see container.Inspector.
type Container struct {
	Detail  ContainerDetail
	Cpu     CpuMetric
	Memory  MemoryMetric
	Disk    DiskMetric
	Network NetworkMetric
}

type ContainerDetail struct {
	ID       string
	Name     string
	Image    string
	State    ContainerState
	Networks map[string]ContainerNetworkEndpoint
}

type ContainerState struct {
	Status     string
	Error      string
	ExitCode   int64
	StartedAt  time.Time
	FinishedAt time.Time
	Health     *ContainerHealth
}

type ContainerHealth struct {
	Status string
	Log    []ContainerHealthLog
}

type ContainerHealthLog struct {
	ExitCode int64
	Output   string
}

type ContainerNetworkEndpoint struct {
	NetworkName       string
	MacAddress        string
	Gateway           string
	IPAddress         string
	IPv6Gateway       string
	GlobalIPv6Address string
}

// ContainerList is the container_metric payload.
type ContainerList []Container

func (l ContainerList) MarshalWire(w *wire.Writer) error {
	for i := range l {
		c := &l[i]
		if err := w.Field(func(e *wire.Encoder) { e.Message(1, c.encode) }); err != nil {
			return err
		}
	}
	return nil
}

func (c *Container) encode(e *wire.Encoder) {
	e.Message(1, c.Detail.encode)
	e.Message(2, c.Cpu.encode)
	e.Message(3, c.Memory.encode)
	e.Message(4, c.Disk.encode)
	e.Message(5, c.Network.encode)
}

func (d ContainerDetail) encode(e *wire.Encoder) {
	e.String(1, d.ID)
	e.String(2, d.Name)
	e.String(3, d.Image)
	e.Message(4, d.State.encode)

	names := make([]string, 0, len(d.Networks))
	for name := range d.Networks {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		ep := d.Networks[name]
		e.Message(5, func(entry *wire.Encoder) {
			entry.String(1, name)
			entry.Message(2, ep.encode)
		})
	}
}

func (s ContainerState) encode(e *wire.Encoder) {
	e.String(1, s.Status)
	e.String(2, s.Error)
	e.Int64(3, s.ExitCode)
	e.Timestamp(4, s.StartedAt)
	e.Timestamp(5, s.FinishedAt)
	if s.Health != nil {
		e.Message(6, s.Health.encode)
	}
}

func (h *ContainerHealth) encode(e *wire.Encoder) {
	e.String(1, h.Status)
	for _, l := range h.Log {
		e.Message(2, l.encode)
	}
}

func (l ContainerHealthLog) encode(e *wire.Encoder) {
	e.Int64(1, l.ExitCode)
	e.String(2, l.Output)
}

func (n ContainerNetworkEndpoint) encode(e *wire.Encoder) {
	e.String(1, n.NetworkName)
	e.String(2, n.MacAddress)
	e.String(3, n.Gateway)
	e.String(4, n.IPAddress)
	e.String(5, n.IPv6Gateway)
	e.String(6, n.GlobalIPv6Address)
}
