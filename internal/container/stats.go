package container

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/docker/go-units"

	"hostwatch-agent/internal/system"
)

var ErrStatsFormat = errors.New("unexpected docker stats output")

const statsColumns = 8

var columnGap = regexp.MustCompile(`\s{2,}`)

// Stats is one row of `docker stats --no-stream`.
type Stats struct {
	CPUPercent    float64
	MemoryUsage   int64
	MemoryLimit   int64
	MemoryPercent float64
	NetRx         int64
	NetTx         int64
	BlockRead     int64
	BlockWrite    int64
}

// ParseStats reads the first data row after the header. Columns are separated
// by runs of two or more spaces, so single spaces inside a value such as
// "1.5MiB / 2GiB" survive.
func ParseStats(out string) (Stats, error) {
	lines := make([]string, 0, 2)
	for _, line := range strings.Split(out, "\n") {
		if strings.TrimSpace(line) != "" {
			lines = append(lines, line)
		}
	}
	if len(lines) < 2 {
		return Stats{}, fmt.Errorf("%w: no data row", ErrStatsFormat)
	}
	cols := columnGap.Split(strings.TrimSpace(lines[1]), -1)
	if len(cols) < statsColumns {
		return Stats{}, fmt.Errorf("%w: %d columns, want %d", ErrStatsFormat, len(cols), statsColumns)
	}

	var (
		st  Stats
		err error
	)
	if st.CPUPercent, err = parsePercent(cols[2]); err != nil {
		return Stats{}, fmt.Errorf("cpu: %w", err)
	}
	if st.MemoryUsage, st.MemoryLimit, err = parseSizePair(cols[3]); err != nil {
		return Stats{}, fmt.Errorf("memory: %w", err)
	}
	if st.MemoryPercent, err = parsePercent(cols[4]); err != nil {
		return Stats{}, fmt.Errorf("memory percent: %w", err)
	}
	if st.NetRx, st.NetTx, err = parseSizePair(cols[5]); err != nil {
		return Stats{}, fmt.Errorf("net io: %w", err)
	}
	if st.BlockRead, st.BlockWrite, err = parseSizePair(cols[6]); err != nil {
		return Stats{}, fmt.Errorf("block io: %w", err)
	}
	return st, nil
}

func parsePercent(raw string) (float64, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" || raw == "--" {
		return 0, nil
	}
	return strconv.ParseFloat(strings.TrimSuffix(raw, "%"), 64)
}

func parseSizePair(raw string) (int64, int64, error) {
	left, right, ok := strings.Cut(raw, "/")
	if !ok {
		return 0, 0, fmt.Errorf("%w: %q is not a pair", ErrStatsFormat, raw)
	}
	a, err := parseSize(left)
	if err != nil {
		return 0, 0, err
	}
	b, err := parseSize(right)
	if err != nil {
		return 0, 0, err
	}
	return a, b, nil
}

// parseSize accepts docker's two notations: binary units ("1.5MiB") for memory
// and decimal units ("12.3kB") for network and block IO.
func parseSize(raw string) (int64, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" || raw == "--" {
		return 0, nil
	}
	if strings.Contains(raw, "iB") {
		return units.RAMInBytes(raw)
	}
	return units.FromHumanSize(raw)
}

// CLIStats reads stats through the docker CLI.
type CLIStats struct {
	runner  system.CommandRunner
	host    string
	timeout time.Duration
}

func NewCLIStats(runner system.CommandRunner, host string, timeout time.Duration) *CLIStats {
	return &CLIStats{runner: runner, host: host, timeout: timeout}
}

func (c *CLIStats) Stats(ctx context.Context, id string) (Stats, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}
	args := make([]string, 0, 5)
	if c.host != "" {
		args = append(args, "-H", c.host)
	}
	args = append(args, "stats", id, "--no-stream")
	out, err := c.runner.Run(ctx, "docker", args...)
	if err != nil {
		return Stats{}, err
	}
	return ParseStats(string(out))
}
