// Package local implements transport.Transport over the local filesystem
// (the LOC protocol): copying between directories on the same host.
// Grounded on backend/local/local.go's List/Open/Update pattern.
package local

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/afdcore/afd/internal/transport"
)

// Transport is a local-filesystem session rooted at a base directory.
type Transport struct {
	root string
}

// New creates a local transport. There is no remote to dial; Connect just
// records the root directory.
func New() *Transport { return &Transport{} }

func (t *Transport) Connect(ctx context.Context, addr, user, password string) error {
	info, err := os.Stat(addr)
	if err != nil {
		return fmt.Errorf("local: stat root %s: %w", addr, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("local: root %s is not a directory", addr)
	}
	t.root = addr
	return nil
}

func (t *Transport) path(name string) string { return filepath.Join(t.root, name) }

func (t *Transport) List(ctx context.Context, dir string) ([]transport.Entry, error) {
	full := t.path(dir)
	fd, err := os.Open(full)
	if err != nil {
		return nil, fmt.Errorf("local: open directory %s: %w", dir, err)
	}
	defer fd.Close()

	var out []transport.Entry
	for {
		fis, err := fd.Readdir(1024)
		if err == io.EOF || (len(fis) == 0 && err != nil) {
			break
		}
		if err != nil && err != io.EOF {
			return nil, fmt.Errorf("local: readdir %s: %w", dir, err)
		}
		for _, fi := range fis {
			out = append(out, transport.Entry{
				Name: fi.Name(), Size: fi.Size(), MTime: fi.ModTime(), IsDir: fi.IsDir(),
			})
		}
		if len(fis) < 1024 {
			break
		}
	}
	return out, nil
}

func (t *Transport) Get(ctx context.Context, name string) (io.ReadCloser, int64, error) {
	full := t.path(name)
	f, err := os.Open(full)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, 0, &transport.NotFoundError{Name: name}
		}
		return nil, 0, fmt.Errorf("local: open %s: %w", name, err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, 0, fmt.Errorf("local: stat %s: %w", name, err)
	}
	return f, info.Size(), nil
}

func (t *Transport) Read(ctx context.Context, name string, offset int64) (io.ReadCloser, error) {
	f, _, err := t.Get(ctx, name)
	if err != nil {
		return nil, err
	}
	osFile := f.(*os.File)
	if _, err := osFile.Seek(offset, io.SeekStart); err != nil {
		osFile.Close()
		return nil, fmt.Errorf("local: seek %s to %d: %w", name, offset, err)
	}
	return osFile, nil
}

// Put writes to a temp file in the destination directory then renames it
// into place, an atomic-publish pattern for local writes.
func (t *Transport) Put(ctx context.Context, name string, r io.Reader, size int64) error {
	full := t.path(name)
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return fmt.Errorf("local: mkdir for %s: %w", name, err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(full), ".afd-tmp-*")
	if err != nil {
		return fmt.Errorf("local: create temp for %s: %w", name, err)
	}
	if _, err := io.Copy(tmp, r); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("local: write %s: %w", name, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("local: close temp for %s: %w", name, err)
	}
	if err := os.Rename(tmp.Name(), full); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("local: rename into place %s: %w", name, err)
	}
	return nil
}

func (t *Transport) Write(ctx context.Context, name string, r io.Reader, size int64) (transport.WriteResponse, error) {
	return transport.WriteResponse{}, t.Put(ctx, name, r, size)
}

func (t *Transport) Delete(ctx context.Context, name string) error {
	if err := os.Remove(t.path(name)); err != nil {
		if os.IsNotExist(err) {
			return &transport.NotFoundError{Name: name}
		}
		return fmt.Errorf("local: remove %s: %w", name, err)
	}
	return nil
}

// Noop stats the root as a liveness probe (e.g. an unmounted NFS share
// would fail here).
func (t *Transport) Noop(ctx context.Context) error {
	_, err := os.Stat(t.root)
	return err
}

// Quit is a no-op: there is no session to close for local filesystem
// access.
func (t *Transport) Quit(ctx context.Context) error { return nil }

var _ transport.Transport = (*Transport)(nil)
