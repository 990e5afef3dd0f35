// Package ftp implements the mirror source on top of github.com/jlaffaye/ftp.
package ftp

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"net/textproto"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"github.com/jlaffaye/ftp"

	"github.com/italolelis/ftpmirror/internal/logctx"
	"github.com/italolelis/ftpmirror/internal/transfer"
)

// quitTimeout bounds the QUIT sent by Close.
const quitTimeout = 5 * time.Second

var errBroken = errors.New("ftp connection is broken")

// TLSMode selects how the control connection is secured.
type TLSMode string

const (
	TLSNone     TLSMode = "none"
	TLSExplicit TLSMode = "explicit" // AUTH TLS on the plain port
	TLSImplicit TLSMode = "implicit" // TLS from the first byte, usually port 990
)

// ParseTLSMode maps a configuration value onto a TLSMode.
func ParseTLSMode(s string) (TLSMode, error) {
	switch mode := TLSMode(strings.ToLower(strings.TrimSpace(s))); mode {
	case "", TLSNone:
		return TLSNone, nil
	case TLSExplicit, TLSImplicit:
		return mode, nil
	default:
		return "", fmt.Errorf("invalid ftp tls mode: %s", s)
	}
}

// Options configures the dialer.
type Options struct {
	TLS TLSMode
	// DialTimeout bounds the TCP connect, the server greeting and the TLS
	// negotiation. It also bounds every data connection dial.
	DialTimeout time.Duration
	Dir         string // Remote directory to change into after login
}

// Dialer opens FTP connections.
type Dialer struct {
	opts Options
}

var _ transfer.Dialer = (*Dialer)(nil)

func NewDialer(opts Options) *Dialer {
	return &Dialer{opts: opts}
}

// Dial connects to host. It does not log in.
func (d *Dialer) Dial(ctx context.Context, host string) (transfer.SourceConn, error) {
	if d.opts.DialTimeout > 0 {
		var cancel context.CancelFunc

		ctx, cancel = context.WithTimeout(ctx, d.opts.DialTimeout)
		defer cancel()
	}

	conn := d.newConn(host)

	err := conn.guarded(ctx, func() error {
		c, err := ftp.Dial(host, d.dialOptions(conn)...)
		if err != nil {
			return err
		}

		conn.c = c

		return nil
	})
	if err != nil {
		return nil, &transfer.ConnectionError{Host: host, Err: err}
	}

	return conn, nil
}

func (d *Dialer) newConn(host string) *Conn {
	conn := &Conn{
		host:      host,
		dir:       d.opts.Dir,
		netDialer: net.Dialer{Timeout: d.opts.DialTimeout},
	}

	if d.opts.TLS == TLSExplicit || d.opts.TLS == TLSImplicit {
		conn.tlsConfig = tlsConfig(host)
		conn.implicitTLS = d.opts.TLS == TLSImplicit
	}

	return conn
}

// dialOptions routes every socket through conn.dial so that each call can
// bind its context to them.
func (d *Dialer) dialOptions(conn *Conn) []ftp.DialOption {
	opts := []ftp.DialOption{ftp.DialWithDialFunc(conn.dial)}

	switch d.opts.TLS {
	case TLSExplicit:
		opts = append(opts, ftp.DialWithExplicitTLS(conn.tlsConfig))
	case TLSImplicit:
		opts = append(opts, ftp.DialWithTLS(conn.tlsConfig))
	}

	return opts
}

func tlsConfig(host string) *tls.Config {
	serverName := host
	if h, _, err := net.SplitHostPort(host); err == nil {
		serverName = h
	}

	return &tls.Config{
		ServerName: serverName,
		MinVersion: tls.VersionTLS12,
	}
}

// Conn is one FTP control connection. Not safe for concurrent use.
//
// Each call binds its context to the control socket and to the data sockets
// it opens: once the context is done, blocked reads and writes fail and the
// connection is marked broken.
type Conn struct {
	c    *ftp.ServerConn
	host string
	dir  string

	netDialer   net.Dialer
	tlsConfig   *tls.Config
	implicitTLS bool

	control net.Conn // raw control socket, below any TLS layer
	guard   *guard   // set for the duration of a call
	broken  atomic.Bool
}

var _ transfer.SourceConn = (*Conn)(nil)

// dial opens the control socket on first use and data sockets afterwards. The
// client library performs the AUTH TLS upgrade itself; implicit TLS and data
// channel protection are applied here.
func (c *Conn) dial(network, address string) (net.Conn, error) {
	ctx := context.Background()
	if c.guard != nil {
		ctx = c.guard.ctx
	}

	raw, err := c.netDialer.DialContext(ctx, network, address)
	if err != nil {
		return nil, err
	}

	if c.guard != nil {
		c.guard.watch(raw)
	}

	if c.control == nil {
		c.control = raw

		if c.implicitTLS {
			return tls.Client(raw, c.tlsConfig), nil
		}

		return raw, nil
	}

	if c.tlsConfig != nil {
		return tls.Client(raw, c.tlsConfig), nil
	}

	return raw, nil
}

// guarded runs fn with ctx bound to the connection's sockets.
func (c *Conn) guarded(ctx context.Context, fn func() error) error {
	if c.broken.Load() {
		return errBroken
	}

	if err := ctx.Err(); err != nil {
		return err
	}

	g := &guard{ctx: ctx}
	c.guard = g

	if c.control != nil {
		g.watch(c.control)
	}

	err := fn()

	// A socket deadline copied from ctx can expire just before ctx reports it.
	if errors.Is(err, os.ErrDeadlineExceeded) {
		if deadline, ok := ctx.Deadline(); ok && !time.Now().Before(deadline) {
			<-ctx.Done()
		}
	}

	c.guard = nil
	interrupted := g.release()

	switch {
	case interrupted || (err != nil && ctx.Err() != nil):
		c.broken.Store(true)

		if err != nil {
			err = fmt.Errorf("%w: %w", ctx.Err(), err)
		}
	case isTransportError(err):
		c.broken.Store(true)
	case c.control != nil:
		_ = c.control.SetDeadline(time.Time{})
	}

	return err
}

func (c *Conn) Login(ctx context.Context, user, credential string) error {
	err := c.guarded(ctx, func() error { return c.c.Login(user, credential) })
	if err != nil {
		if ctx.Err() == nil && isAuthFailure(err) {
			return &transfer.AuthError{Host: c.host, User: user, Err: err}
		}

		return &transfer.ConnectionError{Host: c.host, Err: fmt.Errorf("login: %w", err)}
	}

	if c.dir != "" {
		if err := c.guarded(ctx, func() error { return c.c.ChangeDir(c.dir) }); err != nil {
			return &transfer.ConnectionError{Host: c.host, Err: fmt.Errorf("change directory to %s: %w", c.dir, err)}
		}
	}

	logctx.LoggerFromContext(ctx).Debug("logged in to ftp server", "host", c.host, "user", user, "dir", c.dir)

	return nil
}

// List returns the names in the current directory in server order.
func (c *Conn) List(ctx context.Context) ([]string, error) {
	var names []string

	err := c.guarded(ctx, func() error {
		var err error

		names, err = c.c.NameList("")

		return err
	})
	if err != nil {
		// An empty directory is reported as 550 or 450 by several servers.
		if ctx.Err() == nil && isEmptyListing(err) {
			logctx.LoggerFromContext(ctx).Debug("ftp server reported an empty listing", "err", err)

			return []string{}, nil
		}

		return nil, &transfer.ListError{Err: err}
	}

	return names, nil
}

// Retrieve streams name into sink. The context bounds the whole exchange,
// including the server's replies on the control connection.
func (c *Conn) Retrieve(ctx context.Context, name string, sink io.Writer) error {
	err := c.guarded(ctx, func() error {
		resp, err := c.c.Retr(name)
		if err != nil {
			return err
		}

		_, copyErr := io.Copy(sink, resp)

		return errors.Join(copyErr, resp.Close())
	})
	if err != nil {
		return &transfer.RetrieveError{Filename: name, Err: err}
	}

	return nil
}

// Broken reports whether a call was interrupted or the transport failed. A
// broken connection can only be closed.
func (c *Conn) Broken() bool {
	return c.broken.Load()
}

// Close sends QUIT, or drops the socket when the connection is broken.
func (c *Conn) Close() error {
	if c.broken.Load() {
		return c.control.Close()
	}

	_ = c.control.SetDeadline(time.Now().Add(quitTimeout))

	return c.c.Quit()
}

// guard interrupts blocked I/O on the sockets it watches once ctx is done.
type guard struct {
	ctx   context.Context
	stops []func() bool
}

func (g *guard) watch(conn net.Conn) {
	if deadline, ok := g.ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	g.stops = append(g.stops, context.AfterFunc(g.ctx, func() {
		_ = conn.SetDeadline(time.Now())
	}))
}

// release disarms the guard and reports whether it had already fired.
func (g *guard) release() bool {
	interrupted := false

	for _, stop := range g.stops {
		if !stop() {
			interrupted = true
		}
	}

	return interrupted
}

func protocolCode(err error) int {
	var tpErr *textproto.Error
	if errors.As(err, &tpErr) {
		return tpErr.Code
	}

	return 0
}

func isTransportError(err error) bool {
	if err == nil {
		return false
	}

	var netErr net.Error

	return errors.As(err, &netErr) || errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF)
}

// isAuthFailure reports whether a failed login was rejected by the server
// rather than lost on the wire. The client reports some rejections without a
// status code, so anything that is not a transport error counts.
func isAuthFailure(err error) bool {
	if code := protocolCode(err); code != 0 {
		return code == ftp.StatusNotLoggedIn || code == ftp.StatusUserOK || code == ftp.StatusLoginNeedAccount
	}

	return !isTransportError(err)
}

func isEmptyListing(err error) bool {
	switch protocolCode(err) {
	case ftp.StatusFileUnavailable, ftp.StatusFileActionIgnored:
		return strings.Contains(strings.ToLower(err.Error()), "no files")
	}

	return false
}
