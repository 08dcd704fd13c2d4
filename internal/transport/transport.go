// Package transport defines the protocol-independent contract a transfer
// worker drives: connect, list a remote directory, fetch or send a file,
// and disconnect. Each supported protocol (FTP, SFTP, HTTP(S), local copy,
// external command, SMTP) implements Transport.
package transport

import (
	"context"
	"errors"
	"io"
	"time"
)

// Entry is one remote directory listing row.
type Entry struct {
	Name  string
	Size  int64 // -1 if unknown
	MTime time.Time
	IsDir bool
}

// WriteResponse carries whatever the remote side returns after a Put, for
// protocols (HTTP PUT/POST) where the response body matters.
type WriteResponse struct {
	StatusCode int
	Body       []byte
}

// Transport is the protocol-independent contract every worker drives. Not
// every method is meaningful on every protocol: List is unsupported on
// send-only transports (SMTP, EXEC), and Write returns an empty
// WriteResponse where the underlying protocol has no response channel
// (local copy).
type Transport interface {
	// Connect establishes (or reuses, for pooled transports) a session to
	// addr using the supplied credentials.
	Connect(ctx context.Context, addr string, user, password string) error

	// List enumerates one remote directory.
	List(ctx context.Context, dir string) ([]Entry, error)

	// Get opens name for reading, returning its size if known.
	Get(ctx context.Context, name string) (io.ReadCloser, int64, error)

	// Read is a ranged read of name starting at offset, for chunked
	// fetch (e.g. resuming a partial transfer).
	Read(ctx context.Context, name string, offset int64) (io.ReadCloser, error)

	// Put sends the content of r (of the given size, or -1 if unknown)
	// to name.
	Put(ctx context.Context, name string, r io.Reader, size int64) error

	// Write is Put returning the remote's response, for protocols where
	// the response carries something (the status and body of an HTTP PUT).
	Write(ctx context.Context, name string, r io.Reader, size int64) (WriteResponse, error)

	// Delete removes name.
	Delete(ctx context.Context, name string) error

	// Noop is a lightweight liveness probe used by the keep-alive loop.
	Noop(ctx context.Context) error

	// Quit closes the session; pooled transports close every pooled
	// connection.
	Quit(ctx context.Context) error
}

// NotFoundError indicates a 404 or equivalent "remote object vanished"
// condition, distinguished because RL/FRA handle it specially (hide from
// future listings rather than retry).
type NotFoundError struct{ Name string }

func (e *NotFoundError) Error() string { return "transport: not found: " + e.Name }

// IsNotFound reports whether err is (or wraps) a NotFoundError.
func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}
