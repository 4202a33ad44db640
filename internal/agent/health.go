package agent

import (
	"sync/atomic"
	"time"

	"hostwatch-agent/internal/collector"
	"hostwatch-agent/internal/command"
)

type HealthStatus struct {
	brokerConnected  atomic.Bool
	dockerReachable  atomic.Bool
	lastHostSampleAt atomic.Int64
	lastPublishAt    atomic.Int64

	// set once in New, read-only afterwards
	scheduler *collector.Scheduler
	consumer  *command.Consumer
}

func NewHealthStatus() *HealthStatus {
	return &HealthStatus{}
}

func (h *HealthStatus) SetBrokerConnected(ok bool) {
	h.brokerConnected.Store(ok)
}

func (h *HealthStatus) SetDockerReachable(ok bool) {
	h.dockerReachable.Store(ok)
}

func (h *HealthStatus) MarkHostSample(ts time.Time) {
	h.lastHostSampleAt.Store(ts.UnixNano())
}

func (h *HealthStatus) MarkPublish(ts time.Time) {
	h.lastPublishAt.Store(ts.UnixNano())
}

func (h *HealthStatus) Healthy() bool {
	return h.brokerConnected.Load()
}

func (h *HealthStatus) Snapshot() map[string]any {
	out := map[string]any{
		"broker_connected": h.brokerConnected.Load(),
		"docker_reachable": h.dockerReachable.Load(),
	}
	if v := h.lastHostSampleAt.Load(); v > 0 {
		out["last_host_sample_at"] = time.Unix(0, v).UTC()
	}
	if v := h.lastPublishAt.Load(); v > 0 {
		out["last_publish_at"] = time.Unix(0, v).UTC()
	}
	if h.scheduler != nil {
		out["scheduler_state"] = h.scheduler.State().String()
	}
	if h.consumer != nil {
		if last := h.consumer.LastResult(); last != nil {
			out["last_command"] = map[string]any{
				"action":  string(last.Action),
				"outcome": last.Outcome,
				"at":      last.At,
			}
		}
	}
	return out
}
