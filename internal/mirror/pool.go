package mirror

import (
	"context"
	"errors"
	"sync"

	"github.com/italolelis/ftpmirror/internal/logctx"
	"github.com/italolelis/ftpmirror/internal/transfer"
)

var errNoSourceConnection = errors.New("no usable source connection left")

// connPool lends each concurrent worker its own source connection. The
// primary connection belongs to the job and is never closed here.
//
// A connection returned broken is dropped and replaced by a fresh one. When no
// replacement can be opened the pool shrinks; once it is empty every pending
// acquire fails.
type connPool struct {
	primary transfer.SourceConn
	redial  func(ctx context.Context) (transfer.SourceConn, error)
	idle    chan transfer.SourceConn
	drained chan struct{}

	mu     sync.Mutex
	extras []transfer.SourceConn
	live   int
}

func newConnPool(primary transfer.SourceConn, capacity int, redial func(ctx context.Context) (transfer.SourceConn, error)) *connPool {
	p := &connPool{
		primary: primary,
		redial:  redial,
		idle:    make(chan transfer.SourceConn, max(capacity, 1)),
		drained: make(chan struct{}),
		live:    1,
	}

	p.idle <- primary

	return p
}

func (p *connPool) add(conn transfer.SourceConn) {
	p.mu.Lock()
	p.extras = append(p.extras, conn)
	p.live++
	p.mu.Unlock()

	p.idle <- conn
}

func (p *connPool) size() int {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.live
}

func (p *connPool) acquire(ctx context.Context) (transfer.SourceConn, error) {
	// An idle connection wins over a drained pool.
	select {
	case conn := <-p.idle:
		return conn, nil
	default:
	}

	select {
	case conn := <-p.idle:
		return conn, nil
	case <-p.drained:
		return nil, errNoSourceConnection
	case <-ctx.Done():
		return nil, context.Cause(ctx)
	}
}

func (p *connPool) release(ctx context.Context, conn transfer.SourceConn) {
	if !conn.Broken() {
		p.idle <- conn

		return
	}

	logger := logctx.LoggerFromContext(ctx)

	p.discard(ctx, conn)

	if ctx.Err() != nil {
		p.shrink()

		return
	}

	logger.Warn("source connection broken, opening a replacement")

	replacement, err := p.redial(ctx)
	if err != nil {
		logger.Warn("failed to replace source connection, continuing with fewer workers", "err", err)
		p.shrink()

		return
	}

	p.mu.Lock()
	p.extras = append(p.extras, replacement)
	p.mu.Unlock()

	p.idle <- replacement
}

// discard closes a broken extra connection. The primary is left to its owner.
func (p *connPool) discard(ctx context.Context, conn transfer.SourceConn) {
	if conn == p.primary {
		return
	}

	p.mu.Lock()
	for i, c := range p.extras {
		if c == conn {
			p.extras = append(p.extras[:i], p.extras[i+1:]...)

			break
		}
	}
	p.mu.Unlock()

	if err := conn.Close(); err != nil {
		logctx.LoggerFromContext(ctx).Warn("failed to close source connection", "err", err)
	}
}

func (p *connPool) shrink() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.live--
	if p.live == 0 {
		close(p.drained)
	}
}

func (p *connPool) closeExtras(ctx context.Context) {
	logger := logctx.LoggerFromContext(ctx)

	p.mu.Lock()
	extras := p.extras
	p.extras = nil
	p.mu.Unlock()

	for _, conn := range extras {
		if err := conn.Close(); err != nil {
			logger.Warn("failed to close source connection", "err", err)
		}
	}
}
