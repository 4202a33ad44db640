package system

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"hostwatch-agent/internal/model"
)

var errMemorySummaryMissing = errors.New("memory summary line not found")

// SampleMemory runs top in batch mode once and reads its memory summary line.
func (s *Sampler) SampleMemory(ctx context.Context) model.MemoryMetric {
	out, err := s.runner.Run(ctx, "top", "-b", "-n", "1")
	if err != nil {
		s.logger.Warn("run top failed", "error", err)
		return model.MemoryMetric{}
	}
	m, err := parseMemorySummary(string(out))
	if err != nil {
		s.logger.Warn("parse memory summary failed", "error", err)
		return model.MemoryMetric{}
	}
	return m
}

func parseMemorySummary(out string) (model.MemoryMetric, error) {
	for _, line := range strings.Split(out, "\n") {
		unit, rest, ok := memorySummaryLine(line)
		if !ok {
			continue
		}
		return parseMemoryFields(unit, rest)
	}
	return model.MemoryMetric{}, errMemorySummaryMissing
}

// memorySummaryLine matches "<unit> Mem : ..." and returns the byte multiplier
// of the unit and the text after the colon.
func memorySummaryLine(line string) (float64, string, bool) {
	head, rest, found := strings.Cut(line, ":")
	if !found {
		return 0, "", false
	}
	fields := strings.Fields(head)
	if len(fields) != 2 || fields[1] != "Mem" {
		return 0, "", false
	}
	switch fields[0] {
	case "KiB":
		return 1 << 10, rest, true
	case "MiB":
		return 1 << 20, rest, true
	case "GiB":
		return 1 << 30, rest, true
	case "TiB":
		return 1 << 40, rest, true
	}
	return 0, "", false
}

func parseMemoryFields(unit float64, rest string) (model.MemoryMetric, error) {
	var m model.MemoryMetric
	for _, segment := range strings.Split(rest, ",") {
		fields := strings.Fields(segment)
		if len(fields) < 2 {
			continue
		}
		value, err := strconv.ParseFloat(fields[0], 64)
		if err != nil {
			continue
		}
		bytes := int64(value * unit)
		switch strings.ToLower(strings.Join(fields[1:], " ")) {
		case "total":
			m.Total = bytes
		case "free":
			m.Free = bytes
		case "used":
			m.Used = bytes
		case "buff/cache", "buffers", "cache":
			m.Cache += bytes
		}
	}
	if m.Total <= 0 {
		return model.MemoryMetric{}, fmt.Errorf("memory total missing in %q", strings.TrimSpace(rest))
	}
	m.TotalUsage = uint8(clampPercent(float64(m.Used * 100 / m.Total)))
	return m, nil
}
