package container

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/docker/docker/api/types"
	dcontainer "github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/network"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hostwatch-agent/internal/model"
)

const statsOutput = `CONTAINER ID   NAME      CPU %     MEM USAGE / LIMIT     MEM %     NET I/O           BLOCK I/O        PIDS
abc123def456   web       12.34%    1.5MiB / 1.944GiB     0.08%     1.5kB / 648B      8.5kB / 0B       5
`

func TestParseStats(t *testing.T) {
	st, err := ParseStats(statsOutput)
	require.NoError(t, err)

	assert.InDelta(t, 12.34, st.CPUPercent, 0.001)
	assert.Equal(t, int64(1.5*1024*1024), st.MemoryUsage)
	assert.InDelta(t, 0.08, st.MemoryPercent, 0.001)
	assert.Equal(t, int64(1500), st.NetRx)
	assert.Equal(t, int64(648), st.NetTx)
	assert.Equal(t, int64(8500), st.BlockRead)
	assert.Zero(t, st.BlockWrite)
}

func TestParseStatsRejectsShortRows(t *testing.T) {
	_, err := ParseStats("CONTAINER ID   NAME\nabc   web   1%   2MiB / 3MiB\n")
	require.ErrorIs(t, err, ErrStatsFormat)

	_, err = ParseStats("CONTAINER ID   NAME   CPU %\n")
	require.ErrorIs(t, err, ErrStatsFormat)
}

func TestParseStatsStoppedContainer(t *testing.T) {
	out := "CONTAINER ID   NAME   CPU %   MEM USAGE / LIMIT   MEM %   NET I/O   BLOCK I/O   PIDS\n" +
		"abc123   old   --   -- / --   --   -- / --   -- / --   --\n"
	st, err := ParseStats(out)
	require.NoError(t, err)
	assert.Zero(t, st)
}

type fakeRuntime struct {
	refs    []Ref
	listErr error
	failIDs map[string]bool
	delay   time.Duration

	inFlight atomic.Int32
	maxSeen  atomic.Int32
}

func (f *fakeRuntime) ListContainers(context.Context) ([]Ref, error) {
	return f.refs, f.listErr
}

func (f *fakeRuntime) InspectContainer(ctx context.Context, id string) (model.ContainerDetail, error) {
	n := f.inFlight.Add(1)
	defer f.inFlight.Add(-1)
	for {
		seen := f.maxSeen.Load()
		if n <= seen || f.maxSeen.CompareAndSwap(seen, n) {
			break
		}
	}
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return model.ContainerDetail{}, ctx.Err()
		}
	}
	if f.failIDs[id] {
		return model.ContainerDetail{}, errors.New("no such container")
	}
	return model.ContainerDetail{ID: id, State: model.ContainerState{Status: "running"}}, nil
}

type fakeStats struct {
	mu    sync.Mutex
	calls []string
}

func (f *fakeStats) Stats(_ context.Context, id string) (Stats, error) {
	f.mu.Lock()
	f.calls = append(f.calls, id)
	f.mu.Unlock()
	return Stats{CPUPercent: 250, NetRx: 10, NetTx: 20, BlockRead: 30, BlockWrite: 40}, nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestInspectorEmptyList(t *testing.T) {
	in := NewInspector(discardLogger(), &fakeRuntime{}, &fakeStats{}, 5, nil)
	list, err := in.List(context.Background())
	require.NoError(t, err)
	assert.NotNil(t, list)
	assert.Empty(t, list)
}

func TestInspectorListErrorPropagates(t *testing.T) {
	in := NewInspector(discardLogger(), &fakeRuntime{listErr: errors.New("daemon unreachable")}, &fakeStats{}, 5, nil)
	_, err := in.List(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "daemon unreachable")
}

func TestInspectorDropsFailedContainers(t *testing.T) {
	rt := &fakeRuntime{
		refs:    []Ref{{ID: "a"}, {ID: "b"}, {ID: "c"}},
		failIDs: map[string]bool{"b": true},
	}
	in := NewInspector(discardLogger(), rt, &fakeStats{}, 5, nil)

	list, err := in.List(context.Background())
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "a", list[0].Detail.ID)
	assert.Equal(t, "c", list[1].Detail.ID)

	c := list[0]
	assert.Equal(t, uint8(100), c.Cpu.TotalUsage)
	assert.Equal(t, int64(10), c.Network.RxBytes)
	assert.Equal(t, 30.0, c.Disk.Reads)
	assert.Equal(t, 40.0, c.Disk.Writes)
	assert.Zero(t, c.Memory)
}

func TestInspectorBoundsConcurrency(t *testing.T) {
	refs := make([]Ref, 12)
	for i := range refs {
		refs[i] = Ref{ID: strings.Repeat("x", i+1)}
	}
	rt := &fakeRuntime{refs: refs, delay: 20 * time.Millisecond}
	in := NewInspector(discardLogger(), rt, &fakeStats{}, 3, nil)

	list, err := in.List(context.Background())
	require.NoError(t, err)
	assert.Len(t, list, 12)
	assert.LessOrEqual(t, rt.maxSeen.Load(), int32(3))
}

func TestInspectorCancelled(t *testing.T) {
	rt := &fakeRuntime{refs: []Ref{{ID: "a"}, {ID: "b"}}, delay: time.Second}
	in := NewInspector(discardLogger(), rt, &fakeStats{}, 1, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := in.List(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestDetailFromInspect(t *testing.T) {
	logs := make([]*types.HealthcheckResult, 0, 7)
	for i := 0; i < 7; i++ {
		logs = append(logs, &types.HealthcheckResult{ExitCode: i, Output: "check"})
	}
	logs[6].Output = strings.Repeat("y", 5000)

	resp := types.ContainerJSON{
		ContainerJSONBase: &types.ContainerJSONBase{
			ID:   "abc",
			Name: "/web",
			State: &types.ContainerState{
				Status:     "running",
				ExitCode:   0,
				StartedAt:  "2024-05-01T10:00:00.5Z",
				FinishedAt: "0001-01-01T00:00:00Z",
				Health:     &types.Health{Status: "healthy", Log: logs},
			},
		},
		Config: &dcontainer.Config{Image: "nginx:1.27"},
		NetworkSettings: &types.NetworkSettings{
			Networks: map[string]*network.EndpointSettings{
				"bridge": {IPAddress: "172.17.0.2", Gateway: "172.17.0.1", MacAddress: "02:42:ac:11:00:02"},
			},
		},
	}

	d := detailFromInspect(resp)
	assert.Equal(t, "abc", d.ID)
	assert.Equal(t, "web", d.Name)
	assert.Equal(t, "nginx:1.27", d.Image)
	assert.Equal(t, time.Date(2024, 5, 1, 10, 0, 0, 500000000, time.UTC), d.State.StartedAt)
	assert.True(t, d.State.FinishedAt.IsZero())
	require.NotNil(t, d.State.Health)
	require.Len(t, d.State.Health.Log, maxHealthLogEntries)
	assert.Equal(t, int64(2), d.State.Health.Log[0].ExitCode)
	assert.Len(t, d.State.Health.Log[4].Output, maxHealthLogOutput)
	assert.Equal(t, "bridge", d.Networks["bridge"].NetworkName)
	assert.Equal(t, "172.17.0.2", d.Networks["bridge"].IPAddress)
}

func TestDetailFromInspectToleratesMissingSections(t *testing.T) {
	assert.NotPanics(t, func() {
		d := detailFromInspect(types.ContainerJSON{})
		assert.Empty(t, d.ID)
	})
}
