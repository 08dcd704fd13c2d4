// Package smtpx implements transport.Transport as the SMTP protocol: a
// send-only transport that mails each file as an attachment. No example
// repo in the retrieved pack uses an SMTP client library, so this is built
// directly on net/smtp; see DESIGN.md for why no third-party mail client
// was wired here instead.
package smtpx

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"net/smtp"
	"strings"

	"github.com/afdcore/afd/internal/transport"
)

// Transport sends each Put as a MIME email with the file as a
// base64-encoded attachment. List/Get/Read/Delete are unsupported: SMTP has
// no notion of a remote listing or retrieval.
type Transport struct {
	addr       string
	from       string
	to         []string
	auth       smtp.Auth
	serverName string
}

// New creates an SMTP transport. to is the recipient list every sent file
// is mailed to.
func New(from string, to []string) *Transport {
	return &Transport{from: from, to: to}
}

func (t *Transport) Connect(ctx context.Context, addr, user, password string) error {
	t.addr = addr
	host := addr
	if idx := strings.LastIndex(addr, ":"); idx >= 0 {
		host = addr[:idx]
	}
	t.serverName = host
	if user != "" {
		t.auth = smtp.PlainAuth("", user, password, host)
	}
	c, err := smtp.Dial(addr)
	if err != nil {
		return fmt.Errorf("smtpx: dial %s: %w", addr, err)
	}
	defer c.Close()
	return c.Noop()
}

// List is unsupported: SMTP is a send-only transport.
func (t *Transport) List(ctx context.Context, dir string) ([]transport.Entry, error) {
	return nil, fmt.Errorf("smtpx: list is not supported on a send-only transport")
}

// Get is unsupported: SMTP is a send-only transport.
func (t *Transport) Get(ctx context.Context, name string) (io.ReadCloser, int64, error) {
	return nil, 0, fmt.Errorf("smtpx: get is not supported on a send-only transport")
}

// Read is unsupported: SMTP is a send-only transport.
func (t *Transport) Read(ctx context.Context, name string, offset int64) (io.ReadCloser, error) {
	return nil, fmt.Errorf("smtpx: read is not supported on a send-only transport")
}

func (t *Transport) Put(ctx context.Context, name string, r io.Reader, size int64) error {
	_, err := t.Write(ctx, name, r, size)
	return err
}

// Write mails name as a base64 attachment, the way a send-only protocol's
// "put" is realised: there is no remote filesystem, so the file name
// becomes the attachment's filename and the subject line.
func (t *Transport) Write(ctx context.Context, name string, r io.Reader, size int64) (transport.WriteResponse, error) {
	payload, err := io.ReadAll(r)
	if err != nil {
		return transport.WriteResponse{}, fmt.Errorf("smtpx: reading payload for %s: %w", name, err)
	}
	msg := buildMessage(t.from, t.to, name, payload)
	if err := smtp.SendMail(t.addr, t.auth, t.from, t.to, msg); err != nil {
		return transport.WriteResponse{}, fmt.Errorf("smtpx: sending %s: %w", name, err)
	}
	return transport.WriteResponse{StatusCode: 250}, nil
}

func buildMessage(from string, to []string, name string, payload []byte) []byte {
	boundary := "afd-boundary"
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "From: %s\r\n", from)
	fmt.Fprintf(&buf, "To: %s\r\n", strings.Join(to, ", "))
	fmt.Fprintf(&buf, "Subject: %s\r\n", name)
	fmt.Fprintf(&buf, "MIME-Version: 1.0\r\n")
	fmt.Fprintf(&buf, "Content-Type: multipart/mixed; boundary=%s\r\n\r\n", boundary)
	fmt.Fprintf(&buf, "--%s\r\n", boundary)
	fmt.Fprintf(&buf, "Content-Type: application/octet-stream\r\n")
	fmt.Fprintf(&buf, "Content-Transfer-Encoding: base64\r\n")
	fmt.Fprintf(&buf, "Content-Disposition: attachment; filename=%q\r\n\r\n", name)
	enc := base64.StdEncoding.EncodeToString(payload)
	for i := 0; i < len(enc); i += 76 {
		end := i + 76
		if end > len(enc) {
			end = len(enc)
		}
		buf.WriteString(enc[i:end])
		buf.WriteString("\r\n")
	}
	fmt.Fprintf(&buf, "--%s--\r\n", boundary)
	return buf.Bytes()
}

// Delete is unsupported: SMTP has no remote object to remove.
func (t *Transport) Delete(ctx context.Context, name string) error {
	return fmt.Errorf("smtpx: delete is not supported on a send-only transport")
}

// Noop dials and issues an SMTP NOOP as a liveness probe.
func (t *Transport) Noop(ctx context.Context) error {
	c, err := smtp.Dial(t.addr)
	if err != nil {
		return err
	}
	defer c.Close()
	return c.Noop()
}

// Quit is a no-op: each send dials its own short-lived connection via
// smtp.SendMail.
func (t *Transport) Quit(ctx context.Context) error { return nil }

var _ transport.Transport = (*Transport)(nil)
