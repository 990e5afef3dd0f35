package mirror

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/italolelis/ftpmirror/internal/logctx"
	"github.com/italolelis/ftpmirror/internal/transfer"
)

// JobRunner runs a single mirror job.
type JobRunner interface {
	Run(ctx context.Context, job transfer.Job) (transfer.Summary, error)
}

// Runner serializes job executions: at most one job runs at a time and the
// summary of the latest one is kept for inspection.
type Runner struct {
	jobs   JobRunner
	jobFor func(triggeredAt time.Time) transfer.Job

	running sync.Mutex

	mu   sync.RWMutex
	last *transfer.Summary

	// OnFinished, when set, is called after every job with its summary.
	OnFinished func(ctx context.Context, summary transfer.Summary)
}

// NewRunner returns a runner that builds each job with jobFor.
func NewRunner(jobs JobRunner, jobFor func(triggeredAt time.Time) transfer.Job) *Runner {
	return &Runner{jobs: jobs, jobFor: jobFor}
}

// Trigger runs a job now. It returns transfer.ErrJobInProgress without
// waiting when another job is still running.
func (r *Runner) Trigger(ctx context.Context) (transfer.Summary, error) {
	if !r.running.TryLock() {
		return transfer.Summary{}, transfer.ErrJobInProgress
	}
	defer r.running.Unlock()

	summary, err := r.jobs.Run(ctx, r.jobFor(time.Now()))

	r.mu.Lock()
	r.last = &summary
	r.mu.Unlock()

	if r.OnFinished != nil {
		r.OnFinished(ctx, summary)
	}

	return summary, err
}

// Last returns the summary of the most recent job, if any.
func (r *Runner) Last() (transfer.Summary, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.last == nil {
		return transfer.Summary{}, false
	}

	return *r.last, true
}

// Watch triggers a job immediately and then every interval until ctx is done.
// It blocks.
func (r *Runner) Watch(ctx context.Context, interval time.Duration) {
	logger := logctx.LoggerFromContext(ctx)

	logger.Info("watching source", "interval", interval)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		r.tick(ctx)

		select {
		case <-ctx.Done():
			logger.Info("shutting down mirror watcher")

			return
		case <-ticker.C:
		}
	}
}

func (r *Runner) tick(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}

	if _, err := r.Trigger(ctx); err != nil {
		logger := logctx.LoggerFromContext(ctx)

		if errors.Is(err, transfer.ErrJobInProgress) {
			logger.Debug("skipping scheduled job, previous one still running")

			return
		}

		logger.Error("scheduled mirror job failed", "err", err)
	}
}
