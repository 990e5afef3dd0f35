package mirror

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/italolelis/ftpmirror/internal/transfer"
)

type stubJobs struct {
	calls   atomic.Int32
	release chan struct{}
	err     error
}

func (s *stubJobs) Run(ctx context.Context, job transfer.Job) (transfer.Summary, error) {
	s.calls.Add(1)

	if s.release != nil {
		<-s.release
	}

	if s.err != nil {
		return transfer.FailedSummary(job.ID, s.err), s.err
	}

	return transfer.Summarize(job.ID, nil, 0), nil
}

func jobAt(triggeredAt time.Time) transfer.Job {
	job := testJob()
	job.ID = "job-1"
	job.TriggeredAt = triggeredAt

	return job
}

func TestRunner_TriggerStoresLast(t *testing.T) {
	jobs := &stubJobs{}
	r := NewRunner(jobs, jobAt)

	_, ok := r.Last()
	assert.False(t, ok)

	var notified transfer.Summary
	r.OnFinished = func(_ context.Context, s transfer.Summary) { notified = s }

	summary, err := r.Trigger(context.Background())
	require.NoError(t, err)

	last, ok := r.Last()
	require.True(t, ok)
	assert.Equal(t, summary, last)
	assert.Equal(t, "job-1", notified.JobID)
}

func TestRunner_TriggerWhileRunning(t *testing.T) {
	jobs := &stubJobs{release: make(chan struct{})}
	r := NewRunner(jobs, jobAt)

	done := make(chan error, 1)

	go func() {
		_, err := r.Trigger(context.Background())
		done <- err
	}()

	require.Eventually(t, func() bool { return jobs.calls.Load() == 1 }, time.Second, time.Millisecond)

	_, err := r.Trigger(context.Background())
	require.ErrorIs(t, err, transfer.ErrJobInProgress)

	close(jobs.release)
	require.NoError(t, <-done)

	_, err = r.Trigger(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int32(2), jobs.calls.Load())
}

func TestRunner_FailedJobIsRecorded(t *testing.T) {
	boom := &transfer.ConnectionError{Host: "h", Err: errors.New("refused")}
	r := NewRunner(&stubJobs{err: boom}, jobAt)

	_, err := r.Trigger(context.Background())
	require.ErrorIs(t, err, boom)

	last, ok := r.Last()
	require.True(t, ok)
	assert.Equal(t, transfer.JobFailed, last.Status)
}

func TestRunner_WatchRunsImmediatelyAndOnTick(t *testing.T) {
	jobs := &stubJobs{}
	r := NewRunner(jobs, jobAt)

	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})

	go func() {
		r.Watch(ctx, 10*time.Millisecond)
		close(stopped)
	}()

	require.Eventually(t, func() bool { return jobs.calls.Load() >= 2 }, time.Second, time.Millisecond)

	cancel()

	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Fatal("watch did not stop after cancellation")
	}
}

func TestInstanceID(t *testing.T) {
	a, b := InstanceID(), InstanceID()

	assert.NotEmpty(t, a)
	assert.NotEqual(t, a, b)
}
