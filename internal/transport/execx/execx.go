// Package execx implements transport.Transport as the EXEC protocol: each
// file transfer runs a configured external command, generalizing the
// teacher's backend command-adapter pattern (backend/.../command.go) to an
// arbitrary shelled-out transport rather than one cloud provider's CLI.
package execx

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os/exec"
	"strconv"

	"github.com/afdcore/afd/internal/transport"
)

// Transport shells out to a configured command for each operation. The
// command receives the operation name and file name as arguments and the
// payload (for Put) on stdin, or produces the payload (for Get) on stdout.
type Transport struct {
	command string
	args    []string
	addr    string
}

// New creates an EXEC transport that invokes command with args before each
// per-operation argument.
func New(command string, args ...string) *Transport {
	return &Transport{command: command, args: args}
}

func (t *Transport) Connect(ctx context.Context, addr, user, password string) error {
	t.addr = addr
	cmd := t.build(ctx, "noop", addr)
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("execx: probing %s via %s: %w", addr, t.command, err)
	}
	return nil
}

func (t *Transport) build(ctx context.Context, args ...string) *exec.Cmd {
	full := append(append([]string{}, t.args...), args...)
	return exec.CommandContext(ctx, t.command, full...)
}

// List is unsupported: EXEC is a send-oriented protocol by default; the
// configured command is not expected to enumerate a remote directory.
func (t *Transport) List(ctx context.Context, dir string) ([]transport.Entry, error) {
	return nil, fmt.Errorf("execx: list is not supported")
}

func (t *Transport) Get(ctx context.Context, name string) (io.ReadCloser, int64, error) {
	cmd := t.build(ctx, "get", t.addr, name)
	out, err := cmd.StdoutPipe()
	if err != nil {
		return nil, 0, fmt.Errorf("execx: stdout pipe for get %s: %w", name, err)
	}
	if err := cmd.Start(); err != nil {
		return nil, 0, fmt.Errorf("execx: starting get %s: %w", name, err)
	}
	return &cmdReadCloser{ReadCloser: out, cmd: cmd}, -1, nil
}

func (t *Transport) Read(ctx context.Context, name string, offset int64) (io.ReadCloser, error) {
	cmd := t.build(ctx, "get", t.addr, name, strconv.FormatInt(offset, 10))
	out, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("execx: stdout pipe for read %s: %w", name, err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("execx: starting read %s: %w", name, err)
	}
	return &cmdReadCloser{ReadCloser: out, cmd: cmd}, nil
}

func (t *Transport) Put(ctx context.Context, name string, r io.Reader, size int64) error {
	cmd := t.build(ctx, "put", t.addr, name)
	cmd.Stdin = r
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("execx: put %s: %w: %s", name, err, stderr.String())
	}
	return nil
}

// Write has no richer response channel than Put on this protocol.
func (t *Transport) Write(ctx context.Context, name string, r io.Reader, size int64) (transport.WriteResponse, error) {
	return transport.WriteResponse{}, t.Put(ctx, name, r, size)
}

func (t *Transport) Delete(ctx context.Context, name string) error {
	cmd := t.build(ctx, "delete", t.addr, name)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("execx: delete %s: %w: %s", name, err, stderr.String())
	}
	return nil
}

func (t *Transport) Noop(ctx context.Context) error {
	return t.build(ctx, "noop", t.addr).Run()
}

// Quit is a no-op: each EXEC operation is a fresh process, there is no
// session to tear down.
func (t *Transport) Quit(ctx context.Context) error { return nil }

// cmdReadCloser waits on the child process when the caller closes the
// stream, so the exec.Cmd is reaped rather than left as a zombie.
type cmdReadCloser struct {
	io.ReadCloser
	cmd *exec.Cmd
}

func (c *cmdReadCloser) Close() error {
	err := c.ReadCloser.Close()
	waitErr := c.cmd.Wait()
	if err == nil {
		err = waitErr
	}
	return err
}

var _ transport.Transport = (*Transport)(nil)
