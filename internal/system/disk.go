package system

import (
	"bufio"
	"context"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"hostwatch-agent/internal/model"
)

const sectorSize = 512

// DiskCounters are cumulative totals across whole disks.
type DiskCounters struct {
	ReadBytes  uint64
	WriteBytes uint64
	IOTimeMs   uint64
}

var partitionName = regexp.MustCompile(`^((nvme\d+n\d+|mmcblk\d+)p\d+|(sd|vd|xvd|hd)[a-z]+\d+)$`)

// SampleDisk returns throughput and utilization since the previous call. The
// first call only records a baseline.
func (s *Sampler) SampleDisk(ctx context.Context) model.DiskMetric {
	cur, err := s.readDiskCounters()
	if err != nil {
		s.logger.Warn("read disk counters failed", "error", err)
		return model.DiskMetric{}
	}
	now := s.now()

	s.mu.Lock()
	prev, prevAt, hadPrev := s.prevDisk, s.prevDiskAt, s.hasPrevDisk
	s.prevDisk, s.prevDiskAt, s.hasPrevDisk = cur, now, true
	s.mu.Unlock()

	if !hadPrev {
		return model.DiskMetric{}
	}
	elapsed := now.Sub(prevAt).Seconds()
	if elapsed <= 0 {
		return model.DiskMetric{}
	}

	readRate := float64(deltaCounter(cur.ReadBytes, prev.ReadBytes)) / elapsed
	writeRate := float64(deltaCounter(cur.WriteBytes, prev.WriteBytes)) / elapsed
	util := clampPercent(float64(deltaCounter(cur.IOTimeMs, prev.IOTimeMs)) / (elapsed * 1000) * 100)

	return model.DiskMetric{
		Total:  uint8(util),
		Reads:  round2(readRate),
		Writes: round2(writeRate),
	}
}

func (s *Sampler) readDiskCounters() (DiskCounters, error) {
	path := filepath.Join(s.procRoot, "diskstats")
	f, err := os.Open(path)
	if err != nil {
		return DiskCounters{}, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	var out DiskCounters
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		parts := strings.Fields(sc.Text())
		if len(parts) < 14 {
			continue
		}
		if !s.isWholeDisk(parts[2]) {
			continue
		}
		sectorsRead, errRead := strconv.ParseUint(parts[5], 10, 64)
		sectorsWritten, errWrite := strconv.ParseUint(parts[9], 10, 64)
		ioTime, errIO := strconv.ParseUint(parts[12], 10, 64)
		if errRead != nil || errWrite != nil || errIO != nil {
			continue
		}
		out.ReadBytes += sectorsRead * sectorSize
		out.WriteBytes += sectorsWritten * sectorSize
		out.IOTimeMs += ioTime
	}
	if err := sc.Err(); err != nil {
		return DiskCounters{}, fmt.Errorf("scan %s: %w", path, err)
	}
	return out, nil
}

// isWholeDisk drops partitions and stacked or pseudo devices whose IO is
// already counted on the underlying disk.
func (s *Sampler) isWholeDisk(name string) bool {
	if name == "" {
		return false
	}
	for _, prefix := range []string{"loop", "ram", "zram", "fd", "sr", "dm-", "md"} {
		if strings.HasPrefix(name, prefix) {
			return false
		}
	}
	base := filepath.Join(s.sysRoot, "class", "block", name)
	if _, err := os.Stat(base); err == nil {
		_, err := os.Stat(filepath.Join(base, "partition"))
		return err != nil
	}
	return !partitionName.MatchString(name)
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
