package mirror

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync/atomic"

	"github.com/italolelis/ftpmirror/internal/logctx"
)

// SpoolPattern names every spool file. The stale spool sweep matches on it.
const SpoolPattern = "ftpmirror-*.part"

// ErrSpoolLimit is returned when a file grows past the configured maximum size.
var ErrSpoolLimit = errors.New("spool size limit exceeded")

// Spool hands out scoped temporary files that buffer one remote file between
// fetch and upload.
type Spool struct {
	dir   string
	limit int64

	inUse    atomic.Int64
	acquired atomic.Int64
}

// NewSpool returns a spool rooted at dir (os.TempDir when empty). A positive
// limit caps the bytes a single spool file accepts.
func NewSpool(dir string, limit int64) *Spool {
	return &Spool{dir: dir, limit: limit}
}

// With creates a spool file, runs fn with it and releases it on every path,
// including panics. Release failures are logged, never returned.
func (s *Spool) With(ctx context.Context, fn func(f *os.File) error) error {
	f, err := os.CreateTemp(s.dir, SpoolPattern)
	if err != nil {
		return fmt.Errorf("failed to create spool file: %w", err)
	}

	s.inUse.Add(1)
	s.acquired.Add(1)

	defer s.release(ctx, f)

	return fn(f)
}

// Writer returns the destination a fetch should write into, enforcing the limit.
func (s *Spool) Writer(f *os.File) io.Writer {
	if s.limit <= 0 {
		return f
	}

	return &limitWriter{w: f, remaining: s.limit}
}

// InUse is the number of spool files currently held.
func (s *Spool) InUse() int64 {
	return s.inUse.Load()
}

// Acquired is the number of spool files created since start.
func (s *Spool) Acquired() int64 {
	return s.acquired.Load()
}

// Dir is the directory spool files are created in.
func (s *Spool) Dir() string {
	if s.dir == "" {
		return os.TempDir()
	}

	return s.dir
}

func (s *Spool) release(ctx context.Context, f *os.File) {
	defer s.inUse.Add(-1)

	logger := logctx.LoggerFromContext(ctx)

	if err := f.Close(); err != nil && !errors.Is(err, os.ErrClosed) {
		logger.Warn("failed to close spool file", "path", f.Name(), "err", err)
	}

	if err := os.Remove(f.Name()); err != nil && !errors.Is(err, os.ErrNotExist) {
		logger.Warn("failed to remove spool file", "path", f.Name(), "err", err)
	}
}

type limitWriter struct {
	w         io.Writer
	remaining int64
}

func (l *limitWriter) Write(p []byte) (int, error) {
	if int64(len(p)) > l.remaining {
		return 0, ErrSpoolLimit
	}

	n, err := l.w.Write(p)
	l.remaining -= int64(n)

	return n, err
}
