package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"submission-sync/internal/common/logger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegister_Validation(t *testing.T) {
	s := New(nil, logger.NewNoOpLogger())
	noop := func(context.Context) error { return nil }

	assert.Error(t, s.Register(Job{Name: "", Interval: time.Second, Run: noop}))
	assert.Error(t, s.Register(Job{Name: "a", Interval: 0, Run: noop}))
	require.NoError(t, s.Register(Job{Name: "a", Interval: time.Second, Run: noop}))
	assert.Error(t, s.Register(Job{Name: "a", Interval: time.Second, Run: noop}))
}

func TestTrigger_UnknownJob(t *testing.T) {
	s := New(nil, logger.NewNoOpLogger())
	assert.ErrorIs(t, s.Trigger(context.Background(), "nope"), ErrUnknownJob)
}

func TestTrigger_RejectsOverlappingRun(t *testing.T) {
	s := New(nil, logger.NewTestLogger(t))
	started := make(chan struct{})
	release := make(chan struct{})
	require.NoError(t, s.Register(Job{Name: "reconcile-journal", Interval: time.Hour, Run: func(context.Context) error {
		close(started)
		<-release
		return nil
	}}))

	done := make(chan error, 1)
	go func() { done <- s.Trigger(context.Background(), "reconcile-journal") }()
	<-started

	assert.ErrorIs(t, s.Trigger(context.Background(), "reconcile-journal"), ErrJobRunning)
	status := s.Status()
	require.Len(t, status, 1)
	assert.True(t, status[0].Running)

	close(release)
	require.NoError(t, <-done)

	status = s.Status()
	assert.False(t, status[0].Running)
	assert.Equal(t, 1, status[0].Runs)
}

func TestStatus_DoesNotBlockRuns(t *testing.T) {
	s := New(nil, logger.NewNoOpLogger())
	var runs atomic.Int64
	require.NoError(t, s.Register(Job{Name: "reconcile-journal", Interval: time.Hour, Run: func(context.Context) error {
		runs.Add(1)
		return nil
	}}))

	stop := make(chan struct{})
	polled := make(chan struct{})
	go func() {
		defer close(polled)
		for {
			select {
			case <-stop:
				return
			default:
				s.Status()
			}
		}
	}()

	const n = 5000
	for i := 0; i < n; i++ {
		require.NoError(t, s.Trigger(context.Background(), "reconcile-journal"), "trigger %d", i)
	}
	close(stop)
	<-polled

	assert.Equal(t, int64(n), runs.Load())
	status := s.Status()
	assert.Equal(t, n, status[0].Runs)
	assert.False(t, status[0].Running)
}

func TestTrigger_ReturnsJobErrorAndContainsPanics(t *testing.T) {
	s := New(nil, logger.NewNoOpLogger())
	require.NoError(t, s.Register(Job{Name: "fails", Interval: time.Hour, Run: func(context.Context) error {
		return errors.New("scan failed")
	}}))
	require.NoError(t, s.Register(Job{Name: "panics", Interval: time.Hour, Run: func(context.Context) error {
		panic("boom")
	}}))

	assert.EqualError(t, s.Trigger(context.Background(), "fails"), "scan failed")

	err := s.Trigger(context.Background(), "panics")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom")

	// The guard is released after a panic.
	assert.NotErrorIs(t, s.Trigger(context.Background(), "panics"), ErrJobRunning)

	for _, st := range s.Status() {
		assert.NotEmpty(t, st.LastError)
	}
}

func TestTrigger_DetachedFromCallerCancellation(t *testing.T) {
	s := New(nil, logger.NewNoOpLogger())
	var sawCancel atomic.Bool
	require.NoError(t, s.Register(Job{Name: "job", Interval: time.Hour, Run: func(ctx context.Context) error {
		sawCancel.Store(ctx.Err() != nil)
		return nil
	}}))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, s.Trigger(ctx, "job"))
	assert.False(t, sawCancel.Load())
}

func TestStart_RunsAfterDelayThenOnInterval(t *testing.T) {
	s := New(nil, logger.NewNoOpLogger())
	var runs atomic.Int32
	require.NoError(t, s.Register(Job{
		Name:         "tick",
		Interval:     10 * time.Millisecond,
		StartupDelay: 5 * time.Millisecond,
		Run: func(context.Context) error {
			runs.Add(1)
			return nil
		},
	}))

	ctx, cancel := context.WithCancel(context.Background())
	s.Start(ctx)
	assert.Eventually(t, func() bool { return runs.Load() >= 3 }, 2*time.Second, 5*time.Millisecond)
	cancel()
	s.Wait()
}

func TestStart_ScheduledRunsNeverOverlap(t *testing.T) {
	s := New(nil, logger.NewNoOpLogger())
	var active, peak, runs atomic.Int32
	require.NoError(t, s.Register(Job{
		Name:     "slow",
		Interval: 2 * time.Millisecond,
		Run: func(context.Context) error {
			n := active.Add(1)
			for {
				p := peak.Load()
				if n <= p || peak.CompareAndSwap(p, n) {
					break
				}
			}
			time.Sleep(15 * time.Millisecond)
			active.Add(-1)
			runs.Add(1)
			return nil
		},
	}))

	ctx, cancel := context.WithCancel(context.Background())
	s.Start(ctx)

	// Manual triggers race the loop and must also be refused while it runs.
	refused := 0
	deadline := time.Now().Add(200 * time.Millisecond)
	for time.Now().Before(deadline) {
		if errors.Is(s.Trigger(context.Background(), "slow"), ErrJobRunning) {
			refused++
		}
		time.Sleep(3 * time.Millisecond)
	}
	cancel()
	s.Wait()

	assert.Equal(t, int32(1), peak.Load())
	assert.Greater(t, runs.Load(), int32(1))
	assert.Greater(t, refused, 0)
}

func TestRun_DistributedLockHeldElsewhere(t *testing.T) {
	mr, client := newMiniredis(t)
	locker := NewRedisLocker(client, "test:", time.Minute)
	require.NoError(t, mr.Set("test:reconcile-journal", "other-process"))

	s := New(locker, logger.NewNoOpLogger())
	var runs atomic.Int32
	require.NoError(t, s.Register(Job{Name: "reconcile-journal", Interval: time.Hour, Run: func(context.Context) error {
		runs.Add(1)
		return nil
	}}))

	assert.ErrorIs(t, s.Trigger(context.Background(), "reconcile-journal"), ErrJobRunning)
	assert.Equal(t, int32(0), runs.Load())

	mr.Del("test:reconcile-journal")
	require.NoError(t, s.Trigger(context.Background(), "reconcile-journal"))
	assert.Equal(t, int32(1), runs.Load())
	assert.False(t, mr.Exists("test:reconcile-journal"))
}
