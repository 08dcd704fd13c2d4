// Package ratelimit implements the per-host Transfer Rate Limit (TRL):
// token-bucket pacing of outbound/inbound bytes, wrapping
// golang.org/x/time/rate.
package ratelimit

import (
	"context"

	"golang.org/x/time/rate"
)

// Limiter paces byte throughput for one host's active transfers.
type Limiter struct {
	rl *rate.Limiter
}

// New creates a Limiter allowing bytesPerSec sustained throughput with a
// burst allowance of burstBytes. bytesPerSec<=0 means unlimited.
func New(bytesPerSec int64, burstBytes int) *Limiter {
	if bytesPerSec <= 0 {
		return &Limiter{rl: rate.NewLimiter(rate.Inf, 0)}
	}
	if burstBytes <= 0 {
		burstBytes = int(bytesPerSec)
	}
	return &Limiter{rl: rate.NewLimiter(rate.Limit(bytesPerSec), burstBytes)}
}

// WaitN blocks until n bytes' worth of tokens are available, or ctx is
// cancelled. The transfer workers call it for each block they move; the
// keep-alive loop does not call it.
func (l *Limiter) WaitN(ctx context.Context, n int) error {
	if n <= 0 {
		return nil
	}
	return l.rl.WaitN(ctx, n)
}

// SetLimit adjusts the sustained rate, used when the host's configured TRL
// is recalculated mid-connection (the TRL_CALC_FIFO signal).
func (l *Limiter) SetLimit(bytesPerSec int64) {
	if bytesPerSec <= 0 {
		l.rl.SetLimit(rate.Inf)
		return
	}
	l.rl.SetLimit(rate.Limit(bytesPerSec))
}
