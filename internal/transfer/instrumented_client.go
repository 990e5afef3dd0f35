package transfer

import (
	"context"
	"io"

	"github.com/italolelis/ftpmirror/internal/telemetry"
)

// InstrumentedDialer wraps Dialer with telemetry. Connections it returns are
// instrumented too.
type InstrumentedDialer struct {
	dialer     Dialer
	telemetry  *telemetry.Telemetry
	clientType string
}

// NewInstrumentedDialer creates a new instrumented dialer.
func NewInstrumentedDialer(dialer Dialer, tel *telemetry.Telemetry, clientType string) *InstrumentedDialer {
	return &InstrumentedDialer{
		dialer:     dialer,
		telemetry:  tel,
		clientType: clientType,
	}
}

// Dial opens a connection with telemetry.
func (d *InstrumentedDialer) Dial(ctx context.Context, host string) (SourceConn, error) {
	var result SourceConn

	var err error

	instrumentedErr := d.telemetry.InstrumentClientOperation(ctx, d.clientType, "connect", func(ctx context.Context) error {
		result, err = d.dialer.Dial(ctx, host)

		return err
	})

	if instrumentedErr != nil {
		return nil, instrumentedErr
	}

	return &InstrumentedConn{conn: result, telemetry: d.telemetry, clientType: d.clientType}, nil
}

// InstrumentedConn wraps SourceConn with telemetry.
type InstrumentedConn struct {
	conn       SourceConn
	telemetry  *telemetry.Telemetry
	clientType string
}

// Login authenticates with telemetry.
func (c *InstrumentedConn) Login(ctx context.Context, user, credential string) error {
	return c.telemetry.InstrumentClientOperation(ctx, c.clientType, "authenticate", func(ctx context.Context) error {
		return c.conn.Login(ctx, user, credential)
	})
}

// List lists the working directory with telemetry.
func (c *InstrumentedConn) List(ctx context.Context) ([]string, error) {
	var result []string

	var err error

	instrumentedErr := c.telemetry.InstrumentClientOperation(ctx, c.clientType, "list", func(ctx context.Context) error {
		result, err = c.conn.List(ctx)

		return err
	})

	if instrumentedErr != nil {
		return nil, instrumentedErr
	}

	return result, nil
}

// Retrieve streams a remote file into sink with telemetry.
func (c *InstrumentedConn) Retrieve(ctx context.Context, name string, sink io.Writer) error {
	return c.telemetry.InstrumentClientOperation(ctx, c.clientType, "retrieve", func(ctx context.Context) error {
		return c.conn.Retrieve(ctx, name, sink)
	})
}

// Broken reports whether the wrapped connection can no longer be used.
func (c *InstrumentedConn) Broken() bool {
	return c.conn.Broken()
}

// Close closes the connection. Quit is not worth a span.
func (c *InstrumentedConn) Close() error {
	return c.conn.Close()
}

// InstrumentedStore wraps Store with telemetry.
type InstrumentedStore struct {
	store      Store
	telemetry  *telemetry.Telemetry
	clientType string
}

// NewInstrumentedStore creates a new instrumented store.
func NewInstrumentedStore(store Store, tel *telemetry.Telemetry, clientType string) *InstrumentedStore {
	return &InstrumentedStore{
		store:      store,
		telemetry:  tel,
		clientType: clientType,
	}
}

// PutObject uploads an object with telemetry.
func (s *InstrumentedStore) PutObject(ctx context.Context, bucket, key string, body io.Reader, size int64) error {
	return s.telemetry.InstrumentClientOperation(ctx, s.clientType, "put_object", func(ctx context.Context) error {
		return s.store.PutObject(ctx, bucket, key, body, size)
	})
}
