package system

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"hostwatch-agent/internal/model"
)

var errIncompleteCounters = errors.New("incomplete network counter output")

// SampleNetwork returns the cumulative rx/tx byte counters of the selected
// interface.
func (s *Sampler) SampleNetwork(ctx context.Context) model.NetworkMetric {
	iface := s.interfaceName(ctx)
	stats := filepath.Join(s.sysRoot, "class", "net", iface, "statistics")
	rx, err := readCounter(filepath.Join(stats, "rx_bytes"))
	if err != nil {
		s.logger.Warn("read network counters failed", "interface", iface, "error", err)
		return model.NetworkMetric{}
	}
	tx, err := readCounter(filepath.Join(stats, "tx_bytes"))
	if err != nil {
		s.logger.Warn("read network counters failed", "interface", iface, "error", err)
		return model.NetworkMetric{}
	}
	return model.NetworkMetric{RxBytes: rx, TxBytes: tx}
}

// readCounter reads a sysfs statistics file holding exactly one number.
func readCounter(path string) (int64, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	fields := strings.Fields(string(raw))
	if len(fields) != 1 {
		return 0, fmt.Errorf("%w: %s holds %d values", errIncompleteCounters, filepath.Base(path), len(fields))
	}
	v, err := strconv.ParseInt(fields[0], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", filepath.Base(path), err)
	}
	return v, nil
}

// interfaceName returns the pinned interface, or selects one on every call so
// links that come up after boot are picked up.
func (s *Sampler) interfaceName(ctx context.Context) string {
	if s.pinnedIface != "" {
		return s.pinnedIface
	}
	ifaces, err := s.links.Interfaces(ctx)
	if err != nil {
		s.logger.Warn("list network interfaces failed", "error", err, "fallback", DefaultInterface)
	}
	name := SelectInterface(ifaces)

	s.mu.Lock()
	changed := name != s.iface
	s.iface = name
	s.mu.Unlock()
	if changed {
		s.logger.Info("network interface selected", "interface", name)
	}
	return name
}
