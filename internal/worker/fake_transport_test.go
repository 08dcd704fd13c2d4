package worker

import (
	"bytes"
	"context"
	"errors"
	"io"
	"time"

	"github.com/afdcore/afd/internal/transport"
)

// fakeTransport is a minimal in-memory transport.Transport used to drive
// FetchWorker/SendWorker in tests without a real network endpoint.
type fakeTransport struct {
	entries    []transport.Entry
	objects    map[string][]byte
	notFound   map[string]bool
	puts       map[string][]byte
	deleted    map[string]bool
	noopErr    error
	readErr    error
	stallAfter int // if >0, Read returns a stallingReader that trickles one byte per call
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		objects:  make(map[string][]byte),
		notFound: make(map[string]bool),
		puts:     make(map[string][]byte),
		deleted:  make(map[string]bool),
	}
}

func (f *fakeTransport) Connect(ctx context.Context, addr, user, password string) error { return nil }

func (f *fakeTransport) List(ctx context.Context, dir string) ([]transport.Entry, error) {
	return f.entries, nil
}

func (f *fakeTransport) Get(ctx context.Context, name string) (io.ReadCloser, int64, error) {
	b, ok := f.objects[name]
	if !ok {
		return nil, 0, &transport.NotFoundError{Name: name}
	}
	return io.NopCloser(bytes.NewReader(b)), int64(len(b)), nil
}

func (f *fakeTransport) Read(ctx context.Context, name string, offset int64) (io.ReadCloser, error) {
	if f.readErr != nil {
		return nil, f.readErr
	}
	if f.notFound[name] {
		return nil, &transport.NotFoundError{Name: name}
	}
	b, ok := f.objects[name]
	if !ok {
		return nil, &transport.NotFoundError{Name: name}
	}
	if offset > int64(len(b)) {
		offset = int64(len(b))
	}
	if f.stallAfter > 0 {
		return io.NopCloser(&stallingReader{data: b[offset:], stallAfter: f.stallAfter}), nil
	}
	return io.NopCloser(bytes.NewReader(b[offset:])), nil
}

func (f *fakeTransport) Put(ctx context.Context, name string, r io.Reader, size int64) error {
	b, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	f.puts[name] = b
	return nil
}

func (f *fakeTransport) Write(ctx context.Context, name string, r io.Reader, size int64) (transport.WriteResponse, error) {
	return transport.WriteResponse{}, nil
}

func (f *fakeTransport) Delete(ctx context.Context, name string) error {
	f.deleted[name] = true
	return nil
}

func (f *fakeTransport) Noop(ctx context.Context) error { return f.noopErr }

func (f *fakeTransport) Quit(ctx context.Context) error { return nil }

var _ transport.Transport = (*fakeTransport)(nil)

// failingPutTransport wraps a fakeTransport but always fails Put, for
// exercising the write-remote-error exit path without touching the
// filesystem state the rest of fakeTransport tracks.
type failingPutTransport struct {
	*fakeTransport
}

func (f *failingPutTransport) Put(ctx context.Context, name string, r io.Reader, size int64) error {
	return errors.New("fake: put failed")
}

var _ transport.Transport = (*failingPutTransport)(nil)

// stallingReader trickles its data out one byte per Read call with a short
// sleep in between, simulating a slow link for transfer-timeout tests
// without ever blocking a test run forever: copyBlocks' post-write timeout
// check gets a chance to fire between every byte.
type stallingReader struct {
	data       []byte
	stallAfter int
	pos        int
}

func (s *stallingReader) Read(p []byte) (int, error) {
	if s.pos >= len(s.data) {
		return 0, io.EOF
	}
	if s.pos > 0 {
		time.Sleep(5 * time.Millisecond)
	}
	n := copy(p, s.data[s.pos:s.pos+1])
	s.pos += n
	return n, nil
}
