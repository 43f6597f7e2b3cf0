package scheduler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/nodefleet/dsengine/datasource"
	"github.com/nodefleet/dsengine/logging"
	"github.com/stretchr/testify/require"
)

var errBoom = errors.New("boom")

type recordingLogger struct {
	logging.NoOpLogger
	mu    sync.Mutex
	infos []map[string]interface{}
}

func (l *recordingLogger) Info(msg string, fields map[string]interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.infos = append(l.infos, fields)
}

func (l *recordingLogger) snapshot() []map[string]interface{} {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]map[string]interface{}, len(l.infos))
	copy(out, l.infos)
	return out
}

type fakeWork struct{}

func (fakeWork) Work(ctx context.Context, sourceID, nodeID string) (datasource.PartialNodeUpdate, error) {
	return datasource.PartialNodeUpdate{}, nil
}

func countingRun(count *int32, block <-chan struct{}) RunFunc {
	return func(ctx context.Context, ds datasource.DataSource, work datasource.PartialNodeUpdate) (map[string]bool, error) {
		atomic.AddInt32(count, 1)
		if block != nil {
			<-block
		}
		return nil, nil
	}
}

func scheduledSource(period time.Duration) datasource.DataSource {
	return datasource.DataSource{
		ID: "src",
		RunParam: datasource.RunParam{
			Schedule: datasource.Schedule{Scheduled: true, Period: period},
		},
	}
}

func TestArmStartsPeriodicTimerAndFires(t *testing.T) {
	var count int32
	s := New(scheduledSource(20*time.Millisecond), countingRun(&count, nil), fakeWork{}, nil)
	s.Arm()
	require.Equal(t, Armed, s.State())

	require.Eventually(t, func() bool {
		return atomic.LoadInt32(&count) >= 1
	}, time.Second, 5*time.Millisecond)
}

func TestSingleFlightSkipsWhileRunning(t *testing.T) {
	var count int32
	block := make(chan struct{})
	s := New(datasource.DataSource{ID: "src"}, countingRun(&count, block), fakeWork{}, nil)
	s.Arm()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		s.RefreshAll(context.Background())
	}()

	require.Eventually(t, func() bool { return s.State() == Running }, time.Second, time.Millisecond)

	// A second trigger while the first is running must be a no-op.
	s.RefreshNode(context.Background(), "node-1")
	require.Equal(t, int32(1), atomic.LoadInt32(&count))

	close(block)
	wg.Wait()
	require.Equal(t, int32(1), atomic.LoadInt32(&count))
}

func TestOnNewNodeNoOpWhenNotOptedIn(t *testing.T) {
	var count int32
	s := New(datasource.DataSource{ID: "src"}, countingRun(&count, nil), fakeWork{}, nil)
	s.Arm()
	s.OnNewNode(context.Background(), "n1")
	require.Equal(t, int32(0), atomic.LoadInt32(&count))
}

func TestOnNewNodeRunsWhenOptedIn(t *testing.T) {
	var count int32
	ds := datasource.DataSource{ID: "src", RunParam: datasource.RunParam{OnNewNode: true}}
	s := New(ds, countingRun(&count, nil), fakeWork{}, nil)
	s.Arm()
	s.OnNewNode(context.Background(), "n1")
	require.Equal(t, int32(1), atomic.LoadInt32(&count))
	require.Equal(t, Armed, s.State())
}

func TestCancelStopsTimerAndReturnsIdle(t *testing.T) {
	s := New(scheduledSource(time.Hour), countingRun(new(int32), nil), fakeWork{}, nil)
	s.Arm()
	require.Equal(t, Armed, s.State())
	s.Cancel()
	require.Equal(t, Idle, s.State())
}

func TestResetTriggerCoalescesIntoOneFollowUpWhileRunning(t *testing.T) {
	var count int32
	unblockFirst := make(chan struct{})
	run := func(ctx context.Context, ds datasource.DataSource, work datasource.PartialNodeUpdate) (map[string]bool, error) {
		n := atomic.AddInt32(&count, 1)
		if n == 1 {
			<-unblockFirst
		}
		return nil, nil
	}
	ds := datasource.DataSource{ID: "src", RunParam: datasource.RunParam{OnGeneration: true}}
	s := New(ds, run, fakeWork{}, nil)
	s.Arm()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		s.RefreshAll(context.Background())
	}()

	require.Eventually(t, func() bool { return s.State() == Running }, time.Second, time.Millisecond)

	// Two reset-kind triggers arrive while the first run is in flight;
	// they coalesce into a single queued follow-up, not two.
	s.RefreshAll(context.Background())
	s.OnGenerationStarted(context.Background())

	close(unblockFirst)
	wg.Wait()

	require.Eventually(t, func() bool { return atomic.LoadInt32(&count) == 2 }, time.Second, 5*time.Millisecond)
	require.Equal(t, int32(2), atomic.LoadInt32(&count))
	require.Equal(t, Armed, s.State())
}

func TestFireAndForgetDoesNotPreventLaterCoalescedFollowUp(t *testing.T) {
	var count int32
	unblockFirst := make(chan struct{})
	run := func(ctx context.Context, ds datasource.DataSource, work datasource.PartialNodeUpdate) (map[string]bool, error) {
		n := atomic.AddInt32(&count, 1)
		if n == 1 {
			<-unblockFirst
		}
		return nil, nil
	}
	ds := datasource.DataSource{ID: "src", RunParam: datasource.RunParam{OnNewNode: true}}
	s := New(ds, run, fakeWork{}, nil)
	s.Arm()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		s.RefreshAll(context.Background())
	}()

	require.Eventually(t, func() bool { return s.State() == Running }, time.Second, time.Millisecond)

	// A fire-and-forget trigger during Running is dropped outright...
	s.OnNewNode(context.Background(), "node-1")
	// ...but a reset-kind trigger right after it still coalesces.
	s.RefreshAll(context.Background())

	close(unblockFirst)
	wg.Wait()

	require.Eventually(t, func() bool { return atomic.LoadInt32(&count) == 2 }, time.Second, 5*time.Millisecond)
	require.Equal(t, int32(2), atomic.LoadInt32(&count))
}

func TestRunEmitsOneSummaryLogLinePerRun(t *testing.T) {
	var count int32
	logger := &recordingLogger{}
	ds := datasource.DataSource{ID: "src-1", Name: "Public IP", RunParam: datasource.RunParam{OnGeneration: true}}
	s := New(ds, countingRun(&count, nil), fakeWork{}, logger)
	s.Arm()

	s.OnGenerationStarted(context.Background())

	infos := logger.snapshot()
	require.Len(t, infos, 1)
	require.Equal(t, "src-1", infos[0]["source_id"])
	require.Equal(t, "Public IP", infos[0]["source_name"])
	require.Equal(t, "generationStarted", infos[0]["action"])
	require.Contains(t, infos[0], "elapsed_ms")
	require.NotContains(t, infos[0], "error")
}

func TestFailedRunStillEmitsOneSummaryLogLineWithError(t *testing.T) {
	logger := &recordingLogger{}
	ds := datasource.DataSource{ID: "src-2", Name: "Weather"}
	s := New(ds, func(ctx context.Context, ds datasource.DataSource, work datasource.PartialNodeUpdate) (map[string]bool, error) {
		return nil, errBoom
	}, fakeWork{}, logger)
	s.Arm()

	s.RefreshAll(context.Background())

	infos := logger.snapshot()
	require.Len(t, infos, 1)
	require.Equal(t, "src-2", infos[0]["source_id"])
	require.Equal(t, "refreshAll", infos[0]["action"])
	require.Equal(t, "boom", infos[0]["error"])
}

func TestNoScheduleDoesNotRearmAfterRun(t *testing.T) {
	var count int32
	s := New(datasource.DataSource{ID: "src"}, countingRun(&count, nil), fakeWork{}, nil)
	s.Arm()
	s.RefreshAll(context.Background())
	require.Equal(t, int32(1), atomic.LoadInt32(&count))
	require.Equal(t, Armed, s.State())
}
