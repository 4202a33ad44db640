package system

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"hostwatch-agent/internal/model"
)

const maxCPUFields = 15

type CPUCounters struct {
	User    uint64
	Nice    uint64
	System  uint64
	Idle    uint64
	IOWait  uint64
	IRQ     uint64
	SoftIRQ uint64
	Steal   uint64
	Total   uint64
}

// Idled is idle plus iowait time.
func (c CPUCounters) Idled() uint64 {
	return c.Idle + c.IOWait
}

// SampleCPU returns utilization since the previous call. The first call only
// records a baseline and reports zero usage.
func (s *Sampler) SampleCPU(ctx context.Context) model.CpuMetric {
	cur, err := ReadCPUCounters(filepath.Join(s.procRoot, "stat"))
	if err != nil {
		s.logger.Warn("read cpu counters failed", "error", err)
		return model.CpuMetric{}
	}

	s.mu.Lock()
	prev, hadPrev := s.prevCPU, s.hasPrevCPU
	s.prevCPU, s.hasPrevCPU = cur, true
	s.mu.Unlock()

	usage := 0.0
	if hadPrev {
		usage = CPUUsage(prev, cur)
	}
	return model.CpuMetric{
		TotalUsage: uint8(usage),
		Iowait:     int64(cur.IOWait),
		System:     int64(cur.System),
		Idle:       int64(cur.Idled()),
	}
}

func ReadCPUCounters(path string) (CPUCounters, error) {
	f, err := os.Open(path)
	if err != nil {
		return CPUCounters{}, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	s := bufio.NewScanner(f)
	if !s.Scan() {
		if err := s.Err(); err != nil {
			return CPUCounters{}, fmt.Errorf("scan %s: %w", path, err)
		}
		return CPUCounters{}, fmt.Errorf("%s is empty", path)
	}
	return parseCPULine(s.Text())
}

func parseCPULine(line string) (CPUCounters, error) {
	parts := strings.Fields(line)
	if len(parts) == 0 || parts[0] != "cpu" {
		return CPUCounters{}, fmt.Errorf("unexpected cpu line: %q", line)
	}
	parts = parts[1:]
	if len(parts) > maxCPUFields {
		parts = parts[:maxCPUFields]
	}
	if len(parts) < 5 {
		return CPUCounters{}, fmt.Errorf("cpu line has %d values, need at least 5", len(parts))
	}

	vals := make([]uint64, len(parts))
	for i, p := range parts {
		v, err := strconv.ParseUint(p, 10, 64)
		if err != nil {
			return CPUCounters{}, fmt.Errorf("parse cpu stat %q: %w", p, err)
		}
		vals[i] = v
	}

	c := CPUCounters{User: vals[0], Nice: vals[1], System: vals[2], Idle: vals[3], IOWait: vals[4]}
	if len(vals) > 5 {
		c.IRQ = vals[5]
	}
	if len(vals) > 6 {
		c.SoftIRQ = vals[6]
	}
	if len(vals) > 7 {
		c.Steal = vals[7]
	}
	for _, v := range vals {
		c.Total += v
	}
	return c, nil
}

// CPUUsage is (1 - idleDelta/totalDelta) * 100, clamped to [0, 100]. Either
// delta being non-positive yields zero.
func CPUUsage(prev, cur CPUCounters) float64 {
	totalDelta := int64(cur.Total) - int64(prev.Total)
	idleDelta := int64(cur.Idled()) - int64(prev.Idled())
	if totalDelta <= 0 || idleDelta <= 0 {
		return 0
	}
	return clampPercent((1 - float64(idleDelta)/float64(totalDelta)) * 100)
}
