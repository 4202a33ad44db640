package system

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hostwatch-agent/internal/model"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeRunner struct {
	out   map[string]string
	err   error
	calls [][]string
}

func (r *fakeRunner) Run(_ context.Context, name string, args ...string) ([]byte, error) {
	r.calls = append(r.calls, append([]string{name}, args...))
	if r.err != nil {
		return nil, r.err
	}
	return []byte(r.out[name]), nil
}

type staticLinks []InterfaceInfo

func (l staticLinks) Interfaces(context.Context) ([]InterfaceInfo, error) {
	return l, nil
}

func writeFile(t *testing.T, path, body string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
}

func TestCPUUsageFromDeltas(t *testing.T) {
	prev := CPUCounters{Idle: 800, Total: 1000}
	cur := CPUCounters{Idle: 820, Total: 1150}
	assert.InDelta(t, 86.67, CPUUsage(prev, cur), 0.01)
}

func TestCPUUsageZeroOnNonPositiveDeltas(t *testing.T) {
	prev := CPUCounters{Idle: 800, Total: 1000}
	assert.Zero(t, CPUUsage(prev, CPUCounters{Idle: 800, Total: 1100}))
	assert.Zero(t, CPUUsage(prev, CPUCounters{Idle: 900, Total: 1000}))
	assert.Zero(t, CPUUsage(prev, CPUCounters{Idle: 700, Total: 900}))
}

func TestSampleCPUFirstCallSeedsBaseline(t *testing.T) {
	proc := t.TempDir()
	stat := filepath.Join(proc, "stat")
	writeFile(t, stat, "cpu  100 0 50 800 0 0 0 0 0 0\ncpu0 1 2 3 4 5\n")

	s := NewSampler(discardLogger(), WithProcRoot(proc), WithLinkLister(staticLinks{}))
	first := s.SampleCPU(context.Background())
	assert.Zero(t, first.TotalUsage)
	assert.Equal(t, int64(800), first.Idle)

	writeFile(t, stat, "cpu  200 0 80 820 0 0 0 0 0 0\n")
	second := s.SampleCPU(context.Background())
	assert.Equal(t, uint8(86), second.TotalUsage)
	assert.Equal(t, int64(80), second.System)
}

func TestParseCPULineCapsFieldCount(t *testing.T) {
	line := "cpu " + strings.Repeat("1 ", 20)
	c, err := parseCPULine(line)
	require.NoError(t, err)
	assert.Equal(t, uint64(maxCPUFields), c.Total)

	_, err = parseCPULine("cpu 1 2 3")
	require.Error(t, err)
}

func TestSampleDiskRates(t *testing.T) {
	proc := t.TempDir()
	sys := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(sys, "class", "block", "sda"), 0o755))
	writeFile(t, filepath.Join(sys, "class", "block", "sda1", "partition"), "1\n")

	diskstats := filepath.Join(proc, "diskstats")
	writeFile(t, diskstats, strings.Join([]string{
		"   8       0 sda 10 0 1000 0 20 0 2000 0 0 100 0 0 0 0 0 0 0",
		"   8       1 sda1 10 0 999999 0 20 0 999999 0 0 999999 0 0 0 0 0 0 0",
		"   7       0 loop0 10 0 999999 0 20 0 999999 0 0 999999 0 0 0 0 0 0 0",
	}, "\n"))

	now := time.Unix(1700000000, 0)
	s := NewSampler(discardLogger(),
		WithProcRoot(proc),
		WithSysRoot(sys),
		WithClock(func() time.Time { return now }),
		WithLinkLister(staticLinks{}),
	)

	first := s.SampleDisk(context.Background())
	assert.Zero(t, first)

	writeFile(t, diskstats, strings.Join([]string{
		"   8       0 sda 10 0 2000 0 20 0 4000 0 0 1100 0 0 0 0 0 0 0",
		"   8       1 sda1 10 0 999999 0 20 0 999999 0 0 999999 0 0 0 0 0 0 0",
	}, "\n"))
	now = now.Add(2 * time.Second)

	second := s.SampleDisk(context.Background())
	assert.Equal(t, 256000.0, second.Reads)
	assert.Equal(t, 512000.0, second.Writes)
	assert.Equal(t, uint8(50), second.Total)
}

func TestIsWholeDiskNameHeuristic(t *testing.T) {
	s := NewSampler(discardLogger(), WithSysRoot(t.TempDir()), WithLinkLister(staticLinks{}))
	assert.True(t, s.isWholeDisk("nvme0n1"))
	assert.False(t, s.isWholeDisk("nvme0n1p2"))
	assert.True(t, s.isWholeDisk("sdb"))
	assert.False(t, s.isWholeDisk("sdb3"))
	assert.False(t, s.isWholeDisk("dm-0"))
}

func TestParseMemorySummary(t *testing.T) {
	out := strings.Join([]string{
		"top - 10:00:00 up 1 day,  2 users,  load average: 0.00, 0.01, 0.05",
		"Tasks: 100 total,   1 running",
		"MiB Mem :  38628.4 total,   1000.0 free,  19314.2 used,  18314.2 buff/cache",
		"MiB Swap:   2048.0 total,   2048.0 free,      0.0 used.  19000.0 avail Mem",
	}, "\n")
	m, err := parseMemorySummary(out)
	require.NoError(t, err)

	mib := func(v float64) int64 { return int64(v * 1024 * 1024) }
	assert.Equal(t, mib(38628.4), m.Total)
	assert.Equal(t, mib(1000), m.Free)
	assert.Equal(t, mib(19314.2), m.Used)
	assert.Equal(t, mib(18314.2), m.Cache)
	assert.Equal(t, uint8(49), m.TotalUsage)
}

func TestParseMemorySummaryKiB(t *testing.T) {
	m, err := parseMemorySummary("KiB Mem:  2048 total,  1024 free,  512 used,  512 buff/cache\n")
	require.NoError(t, err)
	assert.Equal(t, int64(2048*1024), m.Total)
	assert.Equal(t, uint8(25), m.TotalUsage)
}

func TestSampleMemoryFailuresYieldZero(t *testing.T) {
	s := NewSampler(discardLogger(), WithRunner(&fakeRunner{err: errors.New("top: not found")}), WithLinkLister(staticLinks{}))
	assert.Zero(t, s.SampleMemory(context.Background()))

	s = NewSampler(discardLogger(), WithRunner(&fakeRunner{out: map[string]string{"top": "nothing useful"}}), WithLinkLister(staticLinks{}))
	assert.Zero(t, s.SampleMemory(context.Background()))
}

func writeNetCounters(t *testing.T, sysRoot, iface, rx, tx string) {
	t.Helper()
	stats := filepath.Join(sysRoot, "class", "net", iface, "statistics")
	writeFile(t, filepath.Join(stats, "rx_bytes"), rx)
	writeFile(t, filepath.Join(stats, "tx_bytes"), tx)
}

type sequenceLinks struct {
	results [][]InterfaceInfo
	calls   int
}

func (l *sequenceLinks) Interfaces(context.Context) ([]InterfaceInfo, error) {
	i := l.calls
	l.calls++
	if i >= len(l.results) {
		i = len(l.results) - 1
	}
	return l.results[i], nil
}

func TestSampleNetworkReadsSelectedInterface(t *testing.T) {
	sysRoot := t.TempDir()
	writeNetCounters(t, sysRoot, "enp3s0", "12345\n", "67890\n")
	links := staticLinks{
		{Name: "lo", Up: true, Loopback: true, Kind: InterfaceEthernet},
		{Name: "wlan0", Up: true, Kind: InterfaceWireless, SpeedMbps: 1000},
		{Name: "enp3s0", Up: true, Kind: InterfaceEthernet, SpeedMbps: 100},
	}
	runner := &fakeRunner{}
	s := NewSampler(discardLogger(), WithRunner(runner), WithLinkLister(links), WithSysRoot(sysRoot))

	m := s.SampleNetwork(context.Background())
	assert.Equal(t, int64(12345), m.RxBytes)
	assert.Equal(t, int64(67890), m.TxBytes)
	assert.Empty(t, runner.calls)
}

func TestSampleNetworkReselectsInterface(t *testing.T) {
	sysRoot := t.TempDir()
	writeNetCounters(t, sysRoot, "enp3s0", "500", "700")
	links := &sequenceLinks{results: [][]InterfaceInfo{
		nil,
		{{Name: "enp3s0", Up: true, Kind: InterfaceEthernet, SpeedMbps: 1000}},
	}}
	s := NewSampler(discardLogger(), WithLinkLister(links), WithSysRoot(sysRoot))

	assert.Zero(t, s.SampleNetwork(context.Background()))
	m := s.SampleNetwork(context.Background())
	assert.Equal(t, 2, links.calls)
	assert.Equal(t, model.NetworkMetric{RxBytes: 500, TxBytes: 700}, m)
}

func TestSampleNetworkPinnedInterfaceSkipsSelection(t *testing.T) {
	sysRoot := t.TempDir()
	writeNetCounters(t, sysRoot, "bond0", "1", "2")
	links := &sequenceLinks{results: [][]InterfaceInfo{{{Name: "eth0", Up: true, Kind: InterfaceEthernet}}}}
	s := NewSampler(discardLogger(), WithLinkLister(links), WithSysRoot(sysRoot), WithInterface("bond0"))

	assert.Equal(t, model.NetworkMetric{RxBytes: 1, TxBytes: 2}, s.SampleNetwork(context.Background()))
	assert.Zero(t, links.calls)
}

func TestSampleNetworkIncompleteCounters(t *testing.T) {
	for _, rx := range []string{"", "1\n2\n", "abc"} {
		sysRoot := t.TempDir()
		writeNetCounters(t, sysRoot, "eth0", rx, "10")
		s := NewSampler(discardLogger(), WithSysRoot(sysRoot), WithInterface("eth0"))
		assert.Zero(t, s.SampleNetwork(context.Background()), "rx_bytes %q", rx)
	}
	s := NewSampler(discardLogger(), WithSysRoot(t.TempDir()), WithInterface("eth0"))
	assert.Zero(t, s.SampleNetwork(context.Background()))

	path := filepath.Join(t.TempDir(), "rx_bytes")
	writeFile(t, path, "1\n2\n")
	_, err := readCounter(path)
	require.ErrorIs(t, err, errIncompleteCounters)
}

func TestSelectInterface(t *testing.T) {
	tests := []struct {
		name   string
		ifaces []InterfaceInfo
		want   string
	}{
		{name: "none", ifaces: nil, want: DefaultInterface},
		{
			name: "ethernet preferred over faster wireless",
			ifaces: []InterfaceInfo{
				{Name: "wlan0", Up: true, Kind: InterfaceWireless, SpeedMbps: 10000},
				{Name: "eth1", Up: true, Kind: InterfaceEthernet, SpeedMbps: 100},
			},
			want: "eth1",
		},
		{
			name: "faster ethernet wins",
			ifaces: []InterfaceInfo{
				{Name: "eth0", Up: true, Kind: InterfaceEthernet, SpeedMbps: 1000},
				{Name: "eth1", Up: true, Kind: InterfaceEthernet, SpeedMbps: 10000},
			},
			want: "eth1",
		},
		{
			name: "virtual and down skipped",
			ifaces: []InterfaceInfo{
				{Name: "veth12", Up: true, Virtual: true, Kind: InterfaceEthernet},
				{Name: "eth9", Up: true, Description: "Hyper-V Virtual Ethernet", Kind: InterfaceEthernet},
				{Name: "eth0", Up: false, Kind: InterfaceEthernet},
				{Name: "tun0", Up: true, Kind: InterfaceOther},
			},
			want: DefaultInterface,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, SelectInterface(tt.ifaces))
		})
	}
}
