package mirror

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/italolelis/ftpmirror/internal/logctx"
	"github.com/italolelis/ftpmirror/internal/mirror/progress"
	"github.com/italolelis/ftpmirror/internal/telemetry"
	"github.com/italolelis/ftpmirror/internal/transfer"
)

const progressInterval = int64(100 * 1024 * 1024) // 100MB

// Worker moves one remote file to the destination through a spool file.
type Worker struct {
	store       transfer.Store
	spool       *Spool
	fileTimeout time.Duration
	telemetry   *telemetry.Telemetry
}

// NewWorker returns a worker. A zero fileTimeout disables the per-file deadline.
func NewWorker(store transfer.Store, spool *Spool, fileTimeout time.Duration, tel *telemetry.Telemetry) *Worker {
	return &Worker{
		store:       store,
		spool:       spool,
		fileTimeout: fileTimeout,
		telemetry:   tel,
	}
}

// FetchAndStore retrieves ref over conn into a spool file and uploads it to
// bucket under the same name. It never returns an error: every failure is
// folded into the outcome so the caller can move on to the next file.
func (w *Worker) FetchAndStore(ctx context.Context, conn transfer.SourceConn, bucket string, ref transfer.RemoteFileRef) transfer.Outcome {
	if ref.IsBlank() {
		return transfer.Outcome{Filename: ref.Name, Status: transfer.StatusSkippedEmpty}
	}

	start := time.Now()

	ctx, logger := logctx.With(ctx, "file", ref.Name)

	if w.fileTimeout > 0 {
		var cancel context.CancelFunc

		ctx, cancel = context.WithTimeout(ctx, w.fileTimeout)
		defer cancel()
	}

	var outcome transfer.Outcome

	_ = w.telemetry.InstrumentFile(ctx, func(ctx context.Context) error {
		outcome = w.transfer(ctx, conn, bucket, ref)

		return outcome.Err
	})

	outcome.Duration = time.Since(start)

	w.telemetry.RecordFile(ctx, outcome.Status.String(), outcome.Bytes, outcome.Duration)

	if outcome.Err != nil {
		logger.Error("failed to mirror file", "status", outcome.Status.String(), "err", outcome.Err)

		return outcome
	}

	logger.Info("mirrored file",
		"bucket", bucket,
		"size", humanize.Bytes(uint64(outcome.Bytes)),
		"duration", outcome.Duration.Round(time.Millisecond))

	return outcome
}

func (w *Worker) transfer(ctx context.Context, conn transfer.SourceConn, bucket string, ref transfer.RemoteFileRef) transfer.Outcome {
	logger := logctx.LoggerFromContext(ctx)

	outcome := transfer.Outcome{Filename: ref.Name, Status: transfer.StatusFetchFailed}

	err := w.spool.With(ctx, func(f *os.File) error {
		logger.Debug("fetching file", "spool", f.Name())

		sink := progress.NewWriter(w.spool.Writer(f), progressInterval, func(written int64) {
			logger.Debug("fetch progress", "fetched", humanize.Bytes(uint64(written)))
		})

		if err := conn.Retrieve(ctx, ref.Name, sink); err != nil {
			outcome.Err = retrieveError(ref.Name, err)

			return outcome.Err
		}

		size := sink.Written()

		if _, err := f.Seek(0, io.SeekStart); err != nil {
			outcome.Status = transfer.StatusUploadFailed
			outcome.Err = &transfer.StoreError{Bucket: bucket, Key: ref.Name, Err: fmt.Errorf("failed to rewind spool file: %w", err)}

			return outcome.Err
		}

		logger.Debug("uploading file", "bucket", bucket, "size", humanize.Bytes(uint64(size)))

		if err := w.store.PutObject(ctx, bucket, ref.Name, f, size); err != nil {
			outcome.Status = transfer.StatusUploadFailed
			outcome.Err = storeError(bucket, ref.Name, err)

			return outcome.Err
		}

		outcome.Status = transfer.StatusSuccess
		outcome.Bytes = size

		return nil
	})

	if err != nil && outcome.Err == nil {
		outcome.Err = &transfer.RetrieveError{Filename: ref.Name, Reason: "spool unavailable", Err: err}
	}

	return outcome
}

func retrieveError(name string, err error) error {
	var retrieveErr *transfer.RetrieveError
	if errors.As(err, &retrieveErr) {
		return err
	}

	return &transfer.RetrieveError{Filename: name, Err: err}
}

func storeError(bucket, key string, err error) error {
	var storeErr *transfer.StoreError
	if errors.As(err, &storeErr) {
		return err
	}

	return &transfer.StoreError{Bucket: bucket, Key: key, Err: err}
}
