// Package fserrors classifies transport errors into the categories worker
// code needs: should this be retried by the pacer, is it fatal, was it
// caused by context cancellation.
package fserrors

import (
	"context"
	"errors"
	"io"
	"net"
	"os"
	"strings"
	"syscall"
)

// causer is satisfied by wrapped errors that expose their underlying cause,
// matching the withMessage/Cause() pattern idiomatic Go wrapped errors use.
type causer interface {
	Cause() error
}

// retryAfterError is implemented by errors that carry their own retry
// classification.
type retryAfterError interface {
	Retryable() bool
}

// retryError wraps an error to mark it as worth retrying.
type retryError struct {
	err error
}

func (r *retryError) Error() string   { return r.err.Error() }
func (r *retryError) Cause() error    { return r.err }
func (r *retryError) Unwrap() error   { return r.err }
func (r *retryError) Retryable() bool { return true }

// RetryError wraps err so ShouldRetry reports true for it, even if the
// underlying error wouldn't otherwise be classified as retryable.
func RetryError(err error) error {
	if err == nil {
		return nil
	}
	return &retryError{err: err}
}

// fatalError wraps an error to mark it as non-retryable/fatal (error
// category 3 of the error handling design: resource errors).
type fatalError struct {
	err error
}

func (f *fatalError) Error() string   { return f.err.Error() }
func (f *fatalError) Cause() error    { return f.err }
func (f *fatalError) Unwrap() error   { return f.err }
func (f *fatalError) Fatal() bool     { return true }
func (f *fatalError) Retryable() bool { return false }

// FatalError wraps err so IsFatal reports true for it.
func FatalError(err error) error {
	if err == nil {
		return nil
	}
	return &fatalError{err: err}
}

type fatalMarker interface {
	Fatal() bool
}

// IsFatal reports whether err was wrapped with FatalError anywhere in its
// cause chain.
func IsFatal(err error) bool {
	for err != nil {
		if fm, ok := err.(fatalMarker); ok && fm.Fatal() {
			return true
		}
		err = unwrap(err)
	}
	return false
}

func unwrap(err error) error {
	if c, ok := err.(causer); ok {
		return c.Cause()
	}
	return errors.Unwrap(err)
}

// ShouldRetry examines err (following Cause()/Unwrap() chains) and decides
// whether a transport-level operation deserves a retry by the pacer: network
// timeouts, connection resets, EOF-on-idle-connection and explicitly marked
// retryError values are retryable; context cancellation and fatal-marked
// errors are not.
func ShouldRetry(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	for e := err; e != nil; e = unwrap(e) {
		if ra, ok := e.(retryAfterError); ok {
			return ra.Retryable()
		}
		if fm, ok := e.(fatalMarker); ok && fm.Fatal() {
			return false
		}
		if isRetriableNetErr(e) {
			return true
		}
	}
	return false
}

func isRetriableNetErr(err error) bool {
	if err == io.ErrUnexpectedEOF {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return true
		}
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		var errno syscall.Errno
		if errors.As(opErr.Err, &errno) {
			switch errno {
			case syscall.ECONNRESET, syscall.ECONNREFUSED, syscall.ECONNABORTED,
				syscall.EPIPE, syscall.ETIMEDOUT:
				return true
			}
		}
	}
	var pathErr *os.PathError
	if errors.As(err, &pathErr) {
		return true
	}
	if strings.Contains(err.Error(), "use of closed network connection") {
		return true
	}
	if strings.Contains(err.Error(), "connection reset by peer") {
		return true
	}
	return false
}

// ContextError checks ctx for cancellation and, if cancelled, overwrites
// *err with the context's error and reports true, mirroring the
// fserrors.ContextError(ctx, &err) call convention in shouldRetry helpers.
func ContextError(ctx context.Context, err *error) bool {
	select {
	case <-ctx.Done():
		*err = ctx.Err()
		return true
	default:
		return false
	}
}
