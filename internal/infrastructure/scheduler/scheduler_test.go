package scheduler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type funcJob struct {
	name string
	runs atomic.Int32
	fn   func(ctx context.Context) error
}

func (j *funcJob) Name() string        { return j.name }
func (j *funcJob) Description() string { return "test job " + j.name }
func (j *funcJob) Run(ctx context.Context) error {
	j.runs.Add(1)
	if j.fn == nil {
		return nil
	}
	return j.fn(ctx)
}

func jobInfo(t *testing.T, s *Scheduler, name string) JobInfo {
	t.Helper()
	for _, info := range s.ListJobs() {
		if info.Name == name {
			return info
		}
	}
	t.Fatalf("job %s not registered", name)
	return JobInfo{}
}

func newTestScheduler() *Scheduler {
	return NewScheduler(SchedulerConfig{
		Logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
		Tick:       5 * time.Millisecond,
		JobTimeout: time.Second,
	})
}

func TestRegister(t *testing.T) {
	s := newTestScheduler()

	require.NoError(t, s.Register(&funcJob{name: "a"}, NewIntervalSchedule(time.Minute)))
	assert.ErrorIs(t, s.Register(&funcJob{name: "a"}, NewIntervalSchedule(time.Minute)), ErrJobAlreadyExists)
	assert.ErrorIs(t, s.Register(nil, NewIntervalSchedule(time.Minute)), ErrNilJob)
	assert.ErrorIs(t, s.Register(&funcJob{name: "b"}, nil), ErrNilSchedule)

	require.NoError(t, s.Register(&funcJob{name: "0-first"}, NewIntervalSchedule(time.Hour)))

	jobs := s.ListJobs()
	require.Len(t, jobs, 2)
	assert.Equal(t, "0-first", jobs[0].Name)
	assert.Equal(t, "@every 1m0s", jobs[1].Schedule)
	assert.Equal(t, "test job a", jobs[1].Description)
	assert.False(t, jobs[1].NextRun.IsZero())
}

func TestRunNow(t *testing.T) {
	s := newTestScheduler()
	boom := errors.New("boom")
	ok := &funcJob{name: "ok"}
	failing := &funcJob{name: "failing", fn: func(context.Context) error { return boom }}
	require.NoError(t, s.Register(ok, NewIntervalSchedule(time.Hour)))
	require.NoError(t, s.Register(failing, NewIntervalSchedule(time.Hour)))

	var completed []string
	s.OnJobComplete(func(r JobResult) { completed = append(completed, r.JobName) })

	res, err := s.RunNow(context.Background(), "ok")
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.True(t, res.Manual)

	res, err = s.RunNow(context.Background(), "failing")
	assert.ErrorIs(t, err, boom)
	assert.False(t, res.Success)

	_, err = s.RunNow(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrJobNotFound)

	assert.Equal(t, []string{"ok", "failing"}, completed)

	info := jobInfo(t, s, "failing")
	assert.Equal(t, int64(1), info.RunCount)
	assert.Equal(t, int64(1), info.FailCount)
	require.NotNil(t, info.LastResult)
	assert.ErrorIs(t, info.LastResult.Error, boom)
	assert.False(t, info.Running)
}

func TestRunNowRejectsJobInFlight(t *testing.T) {
	s := newTestScheduler()
	entered := make(chan struct{})
	release := make(chan struct{})
	job := &funcJob{name: "long", fn: func(context.Context) error {
		close(entered)
		<-release
		return nil
	}}
	require.NoError(t, s.Register(job, NewIntervalSchedule(time.Hour)))

	done := make(chan error, 1)
	go func() {
		_, err := s.RunNow(context.Background(), "long")
		done <- err
	}()
	<-entered

	_, err := s.RunNow(context.Background(), "long")
	assert.ErrorIs(t, err, ErrJobRunning)
	assert.True(t, jobInfo(t, s, "long").Running)

	close(release)
	require.NoError(t, <-done)
	assert.Equal(t, int32(1), job.runs.Load())
}

func TestRunNowRecoversPanic(t *testing.T) {
	s := newTestScheduler()
	require.NoError(t, s.Register(&funcJob{name: "panics", fn: func(context.Context) error {
		panic("bad state")
	}}, NewIntervalSchedule(time.Hour)))

	res, err := s.RunNow(context.Background(), "panics")
	assert.ErrorIs(t, err, ErrJobPanicked)
	assert.False(t, res.Success)
}

func TestJobTimeout(t *testing.T) {
	s := NewScheduler(SchedulerConfig{
		Logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
		JobTimeout: 10 * time.Millisecond,
	})
	require.NoError(t, s.Register(&funcJob{name: "slow", fn: func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}}, NewIntervalSchedule(time.Hour)))

	_, err := s.RunNow(context.Background(), "slow")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestStartRunsDueJobs(t *testing.T) {
	s := newTestScheduler()
	job := &funcJob{name: "tick"}
	require.NoError(t, s.Register(job, NewIntervalSchedule(10*time.Millisecond)))

	require.NoError(t, s.Start(context.Background()))
	assert.ErrorIs(t, s.Start(context.Background()), ErrSchedulerAlreadyRunning)
	assert.True(t, s.IsRunning())

	assert.Eventually(t, func() bool { return job.runs.Load() >= 2 }, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, s.Stop())
	assert.False(t, s.IsRunning())
	assert.ErrorIs(t, s.Stop(), ErrSchedulerNotRunning)
}

func TestSkipsOverlappingRuns(t *testing.T) {
	s := newTestScheduler()
	release := make(chan struct{})
	var concurrent, maxConcurrent atomic.Int32
	job := &funcJob{name: "long", fn: func(ctx context.Context) error {
		n := concurrent.Add(1)
		defer concurrent.Add(-1)
		for {
			m := maxConcurrent.Load()
			if n <= m || maxConcurrent.CompareAndSwap(m, n) {
				break
			}
		}
		select {
		case <-release:
		case <-ctx.Done():
		}
		return nil
	}}
	require.NoError(t, s.Register(job, NewIntervalSchedule(5*time.Millisecond)))

	require.NoError(t, s.Start(context.Background()))
	assert.Eventually(t, func() bool { return job.runs.Load() >= 1 }, 2*time.Second, 5*time.Millisecond)
	time.Sleep(50 * time.Millisecond)

	assert.True(t, jobInfo(t, s, "long").Running)

	close(release)
	require.NoError(t, s.Stop())
	assert.Equal(t, int32(1), maxConcurrent.Load())
}

func TestIntervalScheduleDefaults(t *testing.T) {
	at := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	assert.Equal(t, at.Add(time.Minute), NewIntervalSchedule(0).Next(at))
	assert.Equal(t, at.Add(90*time.Second), NewIntervalSchedule(90*time.Second).Next(at))
}
