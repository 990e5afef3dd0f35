package mirror

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/italolelis/ftpmirror/internal/transfer"
)

// fakeSource is an in-memory FTP directory shared by every connection dialed
// from it.
type fakeSource struct {
	mu sync.Mutex

	names     []string
	contents  map[string]string
	fetchErrs map[string]error
	listErr   error
	loginErr  error
	dialErr   error
	// block makes Retrieve wait for ctx to be done, leaving the connection broken.
	block map[string]bool
	// breaks drops the connection halfway through Retrieve.
	breaks map[string]bool

	dials       atomic.Int32
	maxDials    int32 // dials beyond this fail, 0 for unlimited
	retrieves   atomic.Int32
	open        atomic.Int32
	maxInFlight atomic.Int32
	inFlight    atomic.Int32
	conns       []*fakeConn
}

func newFakeSource(files map[string]string, names ...string) *fakeSource {
	return &fakeSource{
		names:     names,
		contents:  files,
		fetchErrs: map[string]error{},
		block:     map[string]bool{},
		breaks:    map[string]bool{},
	}
}

func (s *fakeSource) Dial(_ context.Context, host string) (transfer.SourceConn, error) {
	n := s.dials.Add(1)

	if s.dialErr != nil {
		return nil, &transfer.ConnectionError{Host: host, Err: s.dialErr}
	}

	if s.maxDials > 0 && n > s.maxDials {
		return nil, &transfer.ConnectionError{Host: host, Err: errors.New("too many connections")}
	}

	s.open.Add(1)

	conn := &fakeConn{src: s, host: host}

	s.mu.Lock()
	s.conns = append(s.conns, conn)
	s.mu.Unlock()

	return conn, nil
}

type fakeConn struct {
	src    *fakeSource
	host   string
	closes atomic.Int32
	busy   atomic.Bool
	shared atomic.Bool // set when two retrieves overlapped on this connection
	broken atomic.Bool
	used   atomic.Bool // set when a broken connection was used again
}

func (c *fakeConn) Login(_ context.Context, user, _ string) error {
	if c.src.loginErr != nil {
		return &transfer.AuthError{Host: c.host, User: user, Err: c.src.loginErr}
	}

	return nil
}

func (c *fakeConn) List(context.Context) ([]string, error) {
	if c.src.listErr != nil {
		return nil, c.src.listErr
	}

	return append([]string(nil), c.src.names...), nil
}

func (c *fakeConn) Retrieve(ctx context.Context, name string, sink io.Writer) error {
	if c.broken.Load() {
		c.used.Store(true)

		return &transfer.RetrieveError{Filename: name, Reason: "connection broken"}
	}

	if !c.busy.CompareAndSwap(false, true) {
		c.shared.Store(true)
	}
	defer c.busy.Store(false)

	c.src.retrieves.Add(1)

	inFlight := c.src.inFlight.Add(1)
	defer c.src.inFlight.Add(-1)

	for {
		prev := c.src.maxInFlight.Load()
		if inFlight <= prev || c.src.maxInFlight.CompareAndSwap(prev, inFlight) {
			break
		}
	}

	if c.src.block[name] {
		<-ctx.Done()
		c.broken.Store(true)

		return &transfer.RetrieveError{Filename: name, Err: ctx.Err()}
	}

	if c.src.breaks[name] {
		c.broken.Store(true)

		return &transfer.RetrieveError{Filename: name, Err: io.ErrUnexpectedEOF}
	}

	if err := c.src.fetchErrs[name]; err != nil {
		return &transfer.RetrieveError{Filename: name, Err: err}
	}

	body, ok := c.src.contents[name]
	if !ok {
		return &transfer.RetrieveError{Filename: name, Reason: "no such file"}
	}

	_, err := io.Copy(sink, strings.NewReader(body))

	return err
}

func (c *fakeConn) Broken() bool {
	return c.broken.Load()
}

func (c *fakeConn) Close() error {
	if c.closes.Add(1) == 1 {
		c.src.open.Add(-1)
	}

	return nil
}

// fakeStore is an in-memory bucket with overwrite semantics.
type fakeStore struct {
	mu      sync.Mutex
	objects map[string]string
	puts    map[string]int
	errs    map[string]error
	block   map[string]bool
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		objects: map[string]string{},
		puts:    map[string]int{},
		errs:    map[string]error{},
		block:   map[string]bool{},
	}
}

func (s *fakeStore) PutObject(ctx context.Context, bucket, key string, body io.Reader, size int64) error {
	if s.block[key] {
		<-ctx.Done()

		return ctx.Err()
	}

	data, err := io.ReadAll(body)
	if err != nil {
		return err
	}

	if int64(len(data)) != size {
		return fmt.Errorf("size mismatch: got %d bytes, declared %d", len(data), size)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.puts[key]++

	if err := s.errs[key]; err != nil {
		return &transfer.StoreError{Bucket: bucket, Key: key, Code: "InternalError", Err: err}
	}

	s.objects[bucket+"/"+key] = string(data)

	return nil
}

func (s *fakeStore) totalPuts() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	total := 0
	for _, n := range s.puts {
		total += n
	}

	return total
}
