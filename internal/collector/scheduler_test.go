package collector

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hostwatch-agent/internal/model"
	"hostwatch-agent/internal/wire"
)

type fakeSampler struct{}

func (fakeSampler) SampleCPU(context.Context) model.CpuMetric {
	return model.CpuMetric{TotalUsage: 12}
}

func (fakeSampler) SampleMemory(context.Context) model.MemoryMetric {
	return model.MemoryMetric{Total: 100}
}

func (fakeSampler) SampleDisk(context.Context) model.DiskMetric {
	return model.DiskMetric{Reads: 1}
}

func (fakeSampler) SampleNetwork(context.Context) model.NetworkMetric {
	return model.NetworkMetric{RxBytes: 5}
}

type fakeContainers struct {
	list model.ContainerList
	err  error
}

func (f fakeContainers) List(context.Context) (model.ContainerList, error) {
	return f.list, f.err
}

type fakeDatabases struct {
	list model.DatabaseList
	err  error
}

func (f fakeDatabases) DatabaseList(context.Context) (model.DatabaseList, error) {
	return f.list, f.err
}

type recordingSink struct {
	mu       sync.Mutex
	subjects []model.Subject
	records  []wire.Record
	failOn   model.Subject
}

func (r *recordingSink) Publish(_ context.Context, subject model.Subject, rec wire.Record) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if subject == r.failOn {
		return errors.New("broker unavailable")
	}
	r.subjects = append(r.subjects, subject)
	r.records = append(r.records, rec)
	return nil
}

func (r *recordingSink) published() []model.Subject {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]model.Subject(nil), r.subjects...)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newHost() *HostCollector {
	c := NewHostCollector(fakeSampler{}, Identity{Name: "web-01", Identifier: "host-1", IPs: []string{"10.0.0.1"}, OSType: "Linux"})
	c.now = func() time.Time { return time.Unix(1700000000, 0) }
	return c
}

func TestCycleSkipsEmptyContainerAndDatabaseLists(t *testing.T) {
	sink := &recordingSink{}
	s := NewScheduler(discardLogger(), newHost(),
		fakeContainers{list: model.ContainerList{}},
		fakeDatabases{list: model.DatabaseList{Timestamp: time.Now()}},
		sink, time.Second, time.Millisecond, nil)

	require.NoError(t, s.runCycle(context.Background()))
	assert.Equal(t, []model.Subject{model.SubjectHostMetric}, sink.published())

	host, ok := sink.records[0].(model.HostMetric)
	require.True(t, ok)
	assert.Equal(t, "host-1", host.Identifier)
	assert.Equal(t, uint8(12), host.Cpu.TotalUsage)
	assert.Equal(t, time.Unix(1700000000, 0).UTC(), host.Timestamp)
}

func TestCyclePublishesAllSubjectsInOrder(t *testing.T) {
	sink := &recordingSink{}
	s := NewScheduler(discardLogger(), newHost(),
		fakeContainers{list: model.ContainerList{{Detail: model.ContainerDetail{ID: "a"}}}},
		fakeDatabases{list: model.DatabaseList{Databases: []model.DatabaseDetail{{Name: "orders"}}}},
		sink, time.Second, time.Millisecond, nil)

	require.NoError(t, s.runCycle(context.Background()))
	assert.Equal(t, []model.Subject{model.SubjectHostMetric, model.SubjectContainerMetric, model.SubjectDatabaseMetric}, sink.published())
	assert.Equal(t, StateIdle, s.State())
}

func TestCycleAbortsOnContainerFailure(t *testing.T) {
	sink := &recordingSink{}
	s := NewScheduler(discardLogger(), newHost(),
		fakeContainers{err: errors.New("docker down")},
		fakeDatabases{list: model.DatabaseList{Databases: []model.DatabaseDetail{{Name: "orders"}}}},
		sink, time.Second, time.Millisecond, nil)

	err := s.runCycle(context.Background())
	require.Error(t, err)
	assert.Equal(t, []model.Subject{model.SubjectHostMetric}, sink.published())
}

func TestCycleDisabledStages(t *testing.T) {
	sink := &recordingSink{}
	s := NewScheduler(discardLogger(), newHost(), nil, nil, sink, time.Second, time.Millisecond, nil)
	require.NoError(t, s.runCycle(context.Background()))
	assert.Equal(t, []model.Subject{model.SubjectHostMetric}, sink.published())
}

func TestRunSurvivesFailingCyclesAndStopsOnCancel(t *testing.T) {
	sink := &recordingSink{failOn: model.SubjectContainerMetric}
	s := NewScheduler(discardLogger(), newHost(),
		fakeContainers{list: model.ContainerList{{}}},
		nil, sink, 5*time.Millisecond, time.Millisecond, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	require.Eventually(t, func() bool { return len(sink.published()) >= 3 }, time.Second, 5*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("scheduler did not stop after cancellation")
	}
	for _, subject := range sink.published() {
		assert.Equal(t, model.SubjectHostMetric, subject)
	}
}
