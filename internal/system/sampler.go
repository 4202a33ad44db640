package system

import (
	"log/slog"
	"sync"
	"time"
)

// Sampler reads host CPU, memory, disk and network figures. CPU and disk
// figures are deltas against the previous call, so one Sampler should live for
// the whole process.
type Sampler struct {
	logger   *slog.Logger
	runner   CommandRunner
	links    LinkLister
	procRoot string
	sysRoot  string
	now      func() time.Time

	mu          sync.Mutex
	prevCPU     CPUCounters
	hasPrevCPU  bool
	prevDisk    DiskCounters
	prevDiskAt  time.Time
	hasPrevDisk bool
	iface       string
	pinnedIface string
}

type Option func(*Sampler)

func WithRunner(r CommandRunner) Option {
	return func(s *Sampler) { s.runner = r }
}

func WithLinkLister(l LinkLister) Option {
	return func(s *Sampler) { s.links = l }
}

func WithProcRoot(path string) Option {
	return func(s *Sampler) { s.procRoot = path }
}

func WithSysRoot(path string) Option {
	return func(s *Sampler) { s.sysRoot = path }
}

func WithClock(now func() time.Time) Option {
	return func(s *Sampler) { s.now = now }
}

// WithInterface pins the network interface instead of selecting one.
func WithInterface(name string) Option {
	return func(s *Sampler) { s.pinnedIface = name }
}

func NewSampler(logger *slog.Logger, opts ...Option) *Sampler {
	s := &Sampler{
		logger:   logger,
		runner:   ExecRunner{},
		procRoot: "/proc",
		sysRoot:  "/sys",
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.links == nil {
		s.links = NewLinkLister(s.sysRoot)
	}
	return s
}

func clampPercent(value float64) float64 {
	if value < 0 {
		return 0
	}
	if value > 100 {
		return 100
	}
	return value
}

func deltaCounter(cur, prev uint64) uint64 {
	if cur < prev {
		return 0
	}
	return cur - prev
}
