// Package ftp implements transport.Transport over FTP, grounded on
// backend/ftp/ftp.go's connection pooling and pacer-guarded dial pattern.
package ftp

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/afdcore/afd/internal/fserrors"
	"github.com/afdcore/afd/internal/logging"
	"github.com/afdcore/afd/internal/pacer"
	"github.com/afdcore/afd/internal/transport"
	"github.com/jlaffaye/ftp"
)

// Transport is one FTP session, pooling connections the way
// getFtpConnection/putFtpConnection do.
type Transport struct {
	addr     string
	user     string
	password string
	passive  bool

	poolMu sync.Mutex
	pool   []*ftp.ServerConn

	tokens *pacer.TokenDispenser
	pacer  *pacer.Pacer
}

// New creates an FTP transport with at most maxConnections concurrent
// sessions (0 = unlimited).
func New(maxConnections int, passive bool) *Transport {
	return &Transport{
		passive: passive,
		tokens:  pacer.NewTokenDispenser(maxConnections),
		pacer:   pacer.New(pacer.CalculatorOption(pacer.NewDefault())),
	}
}

// Connect records the dial target, dials one connection to check the
// address and credentials, and returns it to the pool; later operations
// reuse pooled connections or dial more on demand.
func (t *Transport) Connect(ctx context.Context, addr, user, password string) error {
	t.addr, t.user, t.password = addr, user, password
	c, err := t.dial(ctx)
	if err != nil {
		return err
	}
	t.put(c, nil)
	return nil
}

func (t *Transport) dial(ctx context.Context) (c *ftp.ServerConn, err error) {
	err = t.pacer.Call(ctx, func() (bool, error) {
		opts := []ftp.DialOption{ftp.DialWithContext(ctx)}
		if !t.passive {
			opts = append(opts, ftp.DialWithDisabledEPSV(true))
		}
		c, err = ftp.Dial(t.addr, opts...)
		if err != nil {
			return fserrors.ShouldRetry(err), err
		}
		if err = c.Login(t.user, t.password); err != nil {
			_ = c.Quit()
			return fserrors.ShouldRetry(err), err
		}
		return false, nil
	})
	if err != nil {
		return nil, fmt.Errorf("ftp: dial %s: %w", t.addr, err)
	}
	return c, nil
}

func (t *Transport) get(ctx context.Context) (*ftp.ServerConn, error) {
	t.tokens.Get()
	t.poolMu.Lock()
	var c *ftp.ServerConn
	if len(t.pool) > 0 {
		c = t.pool[0]
		t.pool = t.pool[1:]
	}
	t.poolMu.Unlock()
	if c != nil {
		return c, nil
	}
	c, err := t.dial(ctx)
	if err != nil {
		t.tokens.Put()
	}
	return c, err
}

// put returns c to the pool, or closes it if err suggests the connection
// died (probed with NOOP), mirroring putFtpConnection.
func (t *Transport) put(c *ftp.ServerConn, err error) {
	defer t.tokens.Put()
	if c == nil {
		return
	}
	if err != nil {
		if nopErr := c.NoOp(); nopErr != nil {
			logging.Debugf(t.addr, "ftp: connection failed, closing: %v", nopErr)
			_ = c.Quit()
			return
		}
	}
	t.poolMu.Lock()
	t.pool = append(t.pool, c)
	t.poolMu.Unlock()
}

func (t *Transport) List(ctx context.Context, dir string) ([]transport.Entry, error) {
	c, err := t.get(ctx)
	if err != nil {
		return nil, err
	}
	entries, err := c.List(dir)
	t.put(c, err)
	if err != nil {
		return nil, fmt.Errorf("ftp: list %s: %w", dir, err)
	}
	out := make([]transport.Entry, 0, len(entries))
	for _, e := range entries {
		out = append(out, transport.Entry{
			Name:  e.Name,
			Size:  int64(e.Size),
			MTime: e.Time,
			IsDir: e.Type == ftp.EntryTypeFolder,
		})
	}
	return out, nil
}

func (t *Transport) Get(ctx context.Context, name string) (io.ReadCloser, int64, error) {
	c, err := t.get(ctx)
	if err != nil {
		return nil, 0, err
	}
	r, err := c.Retr(name)
	if err != nil {
		t.put(c, err)
		return nil, 0, fmt.Errorf("ftp: retr %s: %w", name, err)
	}
	return &pooledReader{ReadCloser: r, t: t, c: c}, -1, nil
}

func (t *Transport) Read(ctx context.Context, name string, offset int64) (io.ReadCloser, error) {
	c, err := t.get(ctx)
	if err != nil {
		return nil, err
	}
	r, err := c.RetrFrom(name, uint64(offset))
	if err != nil {
		t.put(c, err)
		return nil, fmt.Errorf("ftp: retr %s from %d: %w", name, offset, err)
	}
	return &pooledReader{ReadCloser: r, t: t, c: c}, nil
}

func (t *Transport) Put(ctx context.Context, name string, r io.Reader, size int64) error {
	c, err := t.get(ctx)
	if err != nil {
		return err
	}
	err = c.Stor(name, r)
	t.put(c, err)
	if err != nil {
		return fmt.Errorf("ftp: stor %s: %w", name, err)
	}
	return nil
}

func (t *Transport) Write(ctx context.Context, name string, r io.Reader, size int64) (transport.WriteResponse, error) {
	return transport.WriteResponse{}, t.Put(ctx, name, r, size)
}

func (t *Transport) Delete(ctx context.Context, name string) error {
	c, err := t.get(ctx)
	if err != nil {
		return err
	}
	err = c.Delete(name)
	t.put(c, err)
	if err != nil {
		return fmt.Errorf("ftp: delete %s: %w", name, err)
	}
	return nil
}

func (t *Transport) Noop(ctx context.Context) error {
	c, err := t.get(ctx)
	if err != nil {
		return err
	}
	err = c.NoOp()
	t.put(c, err)
	return err
}

func (t *Transport) Quit(ctx context.Context) error {
	t.poolMu.Lock()
	defer t.poolMu.Unlock()
	var firstErr error
	for _, c := range t.pool {
		if err := c.Quit(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	t.pool = nil
	return firstErr
}

// pooledReader returns its connection to the pool on Close, since the FTP
// protocol is strictly sequential per connection.
type pooledReader struct {
	io.ReadCloser
	t *Transport
	c *ftp.ServerConn
}

func (r *pooledReader) Close() error {
	err := r.ReadCloser.Close()
	r.t.put(r.c, err)
	return err
}

var _ transport.Transport = (*Transport)(nil)
