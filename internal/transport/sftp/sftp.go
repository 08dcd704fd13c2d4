// Package sftp implements transport.Transport over SFTP, grounded on
// backend/sftp/sftp.go's sftpConnection/getSftpConnection/putSftpConnection
// pooling pattern, using golang.org/x/crypto/ssh for the transport and
// github.com/pkg/sftp for the protocol.
package sftp

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/afdcore/afd/internal/transport"
	"github.com/pkg/sftp"
	sshagent "github.com/xanzy/ssh-agent"
	"golang.org/x/crypto/ssh"
)

// conn bundles the ssh transport with the sftp client riding on it.
type conn struct {
	sshClient  *ssh.Client
	sftpClient *sftp.Client
}

// Transport is one SFTP session, pooling ssh+sftp connection pairs.
type Transport struct {
	addr   string
	config *ssh.ClientConfig

	poolMu sync.Mutex
	pool   []*conn
}

// New creates an SFTP transport. hostKeyCallback is typically
// ssh.InsecureIgnoreHostKey() or a known_hosts-backed callback.
func New(hostKeyCallback ssh.HostKeyCallback) *Transport {
	return &Transport{config: &ssh.ClientConfig{HostKeyCallback: hostKeyCallback}}
}

func (t *Transport) Connect(ctx context.Context, addr, user, password string) error {
	t.addr = addr
	t.config.User = user
	if password != "" {
		t.config.Auth = []ssh.AuthMethod{ssh.Password(password)}
	} else {
		auth, err := agentAuth()
		if err != nil {
			return fmt.Errorf("sftp: no password given and %w", err)
		}
		t.config.Auth = []ssh.AuthMethod{auth}
	}
	c, err := t.dial()
	if err != nil {
		return err
	}
	t.put(c, nil)
	return nil
}

// agentAuth builds an ssh.AuthMethod from the running ssh-agent's signers,
// the fallback used when a host has no configured password.
func agentAuth() (ssh.AuthMethod, error) {
	client, _, err := sshagent.New()
	if err != nil {
		return nil, fmt.Errorf("couldn't connect to ssh-agent: %w", err)
	}
	signers, err := client.Signers()
	if err != nil {
		return nil, fmt.Errorf("couldn't read ssh-agent signers: %w", err)
	}
	return ssh.PublicKeys(signers...), nil
}

func (t *Transport) dial() (*conn, error) {
	sshClient, err := ssh.Dial("tcp", t.addr, t.config)
	if err != nil {
		return nil, fmt.Errorf("sftp: ssh dial %s: %w", t.addr, err)
	}
	sftpClient, err := sftp.NewClient(sshClient)
	if err != nil {
		_ = sshClient.Close()
		return nil, fmt.Errorf("sftp: new client: %w", err)
	}
	return &conn{sshClient: sshClient, sftpClient: sftpClient}, nil
}

func (t *Transport) get() (*conn, error) {
	t.poolMu.Lock()
	var c *conn
	if len(t.pool) > 0 {
		c = t.pool[0]
		t.pool = t.pool[1:]
	}
	t.poolMu.Unlock()
	if c != nil {
		return c, nil
	}
	return t.dial()
}

func (t *Transport) put(c *conn, err error) {
	if c == nil {
		return
	}
	if err != nil {
		if _, ok := err.(*sftp.StatusError); !ok {
			_ = c.sftpClient.Close()
			_ = c.sshClient.Close()
			return
		}
	}
	t.poolMu.Lock()
	t.pool = append(t.pool, c)
	t.poolMu.Unlock()
}

func (t *Transport) List(ctx context.Context, dir string) ([]transport.Entry, error) {
	c, err := t.get()
	if err != nil {
		return nil, err
	}
	infos, err := c.sftpClient.ReadDir(dir)
	t.put(c, err)
	if err != nil {
		return nil, fmt.Errorf("sftp: readdir %s: %w", dir, err)
	}
	out := make([]transport.Entry, 0, len(infos))
	for _, info := range infos {
		out = append(out, transport.Entry{
			Name: info.Name(), Size: info.Size(), MTime: info.ModTime(), IsDir: info.IsDir(),
		})
	}
	return out, nil
}

func (t *Transport) Get(ctx context.Context, name string) (io.ReadCloser, int64, error) {
	c, err := t.get()
	if err != nil {
		return nil, 0, err
	}
	f, err := c.sftpClient.Open(name)
	if err != nil {
		t.put(c, err)
		return nil, 0, fmt.Errorf("sftp: open %s: %w", name, err)
	}
	info, err := f.Stat()
	var size int64 = -1
	if err == nil {
		size = info.Size()
	}
	return &pooledFile{File: f, t: t, c: c}, size, nil
}

func (t *Transport) Read(ctx context.Context, name string, offset int64) (io.ReadCloser, error) {
	c, err := t.get()
	if err != nil {
		return nil, err
	}
	f, err := c.sftpClient.Open(name)
	if err != nil {
		t.put(c, err)
		return nil, fmt.Errorf("sftp: open %s: %w", name, err)
	}
	if _, err := f.Seek(offset, io.SeekStart); err != nil {
		_ = f.Close()
		t.put(c, err)
		return nil, fmt.Errorf("sftp: seek %s to %d: %w", name, offset, err)
	}
	return &pooledFile{File: f, t: t, c: c}, nil
}

func (t *Transport) Put(ctx context.Context, name string, r io.Reader, size int64) error {
	c, err := t.get()
	if err != nil {
		return err
	}
	f, err := c.sftpClient.Create(name)
	if err != nil {
		t.put(c, err)
		return fmt.Errorf("sftp: create %s: %w", name, err)
	}
	_, err = io.Copy(f, r)
	closeErr := f.Close()
	if err == nil {
		err = closeErr
	}
	t.put(c, err)
	if err != nil {
		return fmt.Errorf("sftp: write %s: %w", name, err)
	}
	return nil
}

func (t *Transport) Write(ctx context.Context, name string, r io.Reader, size int64) (transport.WriteResponse, error) {
	return transport.WriteResponse{}, t.Put(ctx, name, r, size)
}

func (t *Transport) Delete(ctx context.Context, name string) error {
	c, err := t.get()
	if err != nil {
		return err
	}
	err = c.sftpClient.Remove(name)
	t.put(c, err)
	if err != nil {
		return fmt.Errorf("sftp: remove %s: %w", name, err)
	}
	return nil
}

// Noop has no native SFTP equivalent; it asks the server for the working
// directory to probe liveness.
func (t *Transport) Noop(ctx context.Context) error {
	c, err := t.get()
	if err != nil {
		return err
	}
	_, err = c.sftpClient.Getwd()
	t.put(c, err)
	return err
}

func (t *Transport) Quit(ctx context.Context) error {
	t.poolMu.Lock()
	defer t.poolMu.Unlock()
	var firstErr error
	for _, c := range t.pool {
		if err := c.sftpClient.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		if err := c.sshClient.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	t.pool = nil
	return firstErr
}

type pooledFile struct {
	*sftp.File
	t *Transport
	c *conn
}

func (f *pooledFile) Close() error {
	err := f.File.Close()
	f.t.put(f.c, err)
	return err
}

var _ transport.Transport = (*Transport)(nil)
