package model

import "hostwatch-agent/internal/wire"

// CpuMetric carries host-wide CPU utilization. TotalUsage is a whole percent;
// the remaining fields are raw cumulative jiffies from the last sample.
type CpuMetric struct {
	TotalUsage uint8
	Iowait     int64
	System     int64
	Idle       int64
}

type MemoryMetric struct {
	Total      int64
	TotalUsage uint8
	Cache      int64
	Used       int64
	Free       int64
}

// DiskMetric is utilization percent plus read/write throughput in bytes per
// second for host samples, or cumulative block IO bytes for containers.
type DiskMetric struct {
	Total  uint8
	Reads  float64
	Writes float64
}

type NetworkMetric struct {
	RxBytes int64
	TxBytes int64
}

func (m CpuMetric) encode(e *wire.Encoder) {
	e.Uint32(1, uint32(m.TotalUsage))
	e.Int64(2, m.Iowait)
	e.Int64(3, m.System)
	e.Int64(4, m.Idle)
}

func (m MemoryMetric) encode(e *wire.Encoder) {
	e.Int64(1, m.Total)
	e.Uint32(2, uint32(m.TotalUsage))
	e.Int64(3, m.Cache)
	e.Int64(4, m.Used)
	e.Int64(5, m.Free)
}

func (m DiskMetric) encode(e *wire.Encoder) {
	e.Uint32(1, uint32(m.Total))
	e.Double(2, m.Reads)
	e.Double(3, m.Writes)
}

func (m NetworkMetric) encode(e *wire.Encoder) {
	e.Int64(1, m.RxBytes)
	e.Int64(2, m.TxBytes)
}
