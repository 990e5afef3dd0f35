// Package mirror copies every file of a remote FTP directory into an object
// store bucket.
package mirror

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/italolelis/ftpmirror/internal/logctx"
	"github.com/italolelis/ftpmirror/internal/telemetry"
	"github.com/italolelis/ftpmirror/internal/transfer"
)

// Options tunes a mirror.
type Options struct {
	// MaxParallel is the number of files transferred at once, each over its
	// own source connection. Values below 1 mean sequential.
	MaxParallel int
}

// Mirror runs mirror jobs.
type Mirror struct {
	dialer    transfer.Dialer
	worker    *Worker
	opts      Options
	telemetry *telemetry.Telemetry
}

func New(dialer transfer.Dialer, worker *Worker, opts Options, tel *telemetry.Telemetry) *Mirror {
	if opts.MaxParallel < 1 {
		opts.MaxParallel = 1
	}

	return &Mirror{
		dialer:    dialer,
		worker:    worker,
		opts:      opts,
		telemetry: tel,
	}
}

// Run executes job end to end. A non-nil error means the job failed before any
// file was transferred (configuration, connection, authentication or listing);
// the returned summary then has status Failed. Per-file failures never surface
// as an error, they are reported in the summary.
func (m *Mirror) Run(ctx context.Context, job transfer.Job) (transfer.Summary, error) {
	if job.ID == "" {
		job.ID = uuid.NewString()
	}

	startedAt := time.Now()

	ctx, logger := logctx.With(ctx, "job_id", job.ID)

	logger.Info("starting mirror job", "host", job.Host, "bucket", job.Bucket)

	var (
		summary transfer.Summary
		err     error
	)

	_ = m.telemetry.InstrumentJob(ctx, func(ctx context.Context) error {
		summary, err = m.run(ctx, job)

		return err
	})

	summary.StartedAt = startedAt
	summary.FinishedAt = time.Now()

	duration := summary.FinishedAt.Sub(startedAt)
	m.telemetry.RecordJob(ctx, string(summary.Status), duration)

	if err != nil {
		logger.Error("mirror job failed", "err", err, "duration", duration)

		return summary, err
	}

	logger.Info("mirror job finished",
		"status", summary.Status,
		"attempted", summary.Attempted,
		"succeeded", summary.Succeeded,
		"failed", len(summary.Failed),
		"skipped", summary.Skipped,
		"cancelled", summary.Cancelled,
		"duration", duration)

	return summary, nil
}

func (m *Mirror) run(ctx context.Context, job transfer.Job) (transfer.Summary, error) {
	if err := job.Validate(); err != nil {
		return transfer.FailedSummary(job.ID, err), err
	}

	conn, err := m.connect(ctx, job)
	if err != nil {
		return transfer.FailedSummary(job.ID, err), err
	}

	defer func() {
		if err := conn.Close(); err != nil {
			logctx.LoggerFromContext(ctx).Warn("failed to close source connection", "err", err)
		}
	}()

	refs, err := List(ctx, conn)
	if err != nil {
		return transfer.FailedSummary(job.ID, err), err
	}

	files, skipped := partition(refs)

	logctx.LoggerFromContext(ctx).Info("listed source directory", "files", len(files), "skipped", skipped)

	outcomes := m.transferAll(ctx, conn, job, files)

	summary := transfer.Summarize(job.ID, outcomes, skipped)
	summary.Cancelled = ctx.Err() != nil

	return summary, nil
}

// connect dials and logs in. The connection is closed when login fails.
func (m *Mirror) connect(ctx context.Context, job transfer.Job) (transfer.SourceConn, error) {
	conn, err := m.dialer.Dial(ctx, job.Host)
	if err != nil {
		var connErr *transfer.ConnectionError
		if !errors.As(err, &connErr) {
			err = &transfer.ConnectionError{Host: job.Host, Err: err}
		}

		return nil, err
	}

	if err := conn.Login(ctx, job.User, job.Credential); err != nil {
		_ = conn.Close()

		var (
			authErr *transfer.AuthError
			connErr *transfer.ConnectionError
		)

		if !errors.As(err, &authErr) && !errors.As(err, &connErr) {
			err = &transfer.AuthError{Host: job.Host, User: job.User, Err: err}
		}

		return nil, err
	}

	return conn, nil
}

// transferAll mirrors files and returns one outcome per file, in listing order.
func (m *Mirror) transferAll(ctx context.Context, conn transfer.SourceConn, job transfer.Job, files []transfer.RemoteFileRef) []transfer.Outcome {
	outcomes := make([]transfer.Outcome, len(files))
	if len(files) == 0 {
		return outcomes
	}

	pool := m.openPool(ctx, conn, job, min(m.opts.MaxParallel, len(files)))
	defer pool.closeExtras(ctx)

	// A plain group: one failed file must not cancel its siblings.
	var g errgroup.Group

	g.SetLimit(pool.size())

	for i, ref := range files {
		if ctx.Err() != nil {
			outcomes[i] = cancelledOutcome(ctx, ref)

			continue
		}

		g.Go(func() error {
			if ctx.Err() != nil {
				outcomes[i] = cancelledOutcome(ctx, ref)

				return nil
			}

			c, err := pool.acquire(ctx)
			if errors.Is(err, errNoSourceConnection) {
				outcomes[i] = transfer.Outcome{
					Filename: ref.Name,
					Status:   transfer.StatusFetchFailed,
					Err:      &transfer.RetrieveError{Filename: ref.Name, Reason: "no source connection", Err: err},
				}

				return nil
			}

			if err != nil {
				outcomes[i] = cancelledOutcome(ctx, ref)

				return nil
			}

			defer pool.release(ctx, c)

			outcomes[i] = m.worker.FetchAndStore(ctx, c, job.Bucket, ref)

			return nil
		})
	}

	_ = g.Wait()

	return outcomes
}

// openPool opens up to size-1 extra connections next to the primary one. A
// connection that cannot be opened lowers the parallelism instead of failing.
// Broken connections are replaced with the same credentials.
func (m *Mirror) openPool(ctx context.Context, primary transfer.SourceConn, job transfer.Job, size int) *connPool {
	pool := newConnPool(primary, size, func(ctx context.Context) (transfer.SourceConn, error) {
		return m.connect(ctx, job)
	})

	for pool.size() < size {
		conn, err := m.connect(ctx, job)
		if err != nil {
			logctx.LoggerFromContext(ctx).Warn("failed to open extra source connection, continuing with fewer workers",
				"workers", pool.size(), "err", err)

			break
		}

		pool.add(conn)
	}

	return pool
}

func partition(refs []transfer.RemoteFileRef) ([]transfer.RemoteFileRef, int) {
	files := make([]transfer.RemoteFileRef, 0, len(refs))
	skipped := 0

	for _, ref := range refs {
		if ref.IsBlank() {
			skipped++

			continue
		}

		files = append(files, ref)
	}

	return files, skipped
}

func cancelledOutcome(ctx context.Context, ref transfer.RemoteFileRef) transfer.Outcome {
	return transfer.Outcome{
		Filename: ref.Name,
		Status:   transfer.StatusFetchFailed,
		Err:      &transfer.RetrieveError{Filename: ref.Name, Reason: "job cancelled", Err: context.Cause(ctx)},
	}
}
