// Package pacer implements a generic exponential-backoff call pacer plus a
// fixed-size connection token dispenser.
//
// Implements an exponential-backoff retry pacer with a connection-count
// token bucket: the public surface here
// (New, NewDefault, RetriesOption, MaxConnectionsOption, MinSleep, MaxSleep,
// DecayConstant, Pacer.Call, Pacer.SetMaxConnections, TokenDispenser) is
// reconstructed from lib/pacer/pacer_test.go and lib/pacer/tokens_test.go,
// which pin down the exact field/method names observed there, and from its
// call sites in backend/ftp/ftp.go (f.pacer.Call, pacer.NewTokenDispenser).
package pacer

import (
	"context"
	"sync"
	"time"
)

// State is the mutable pacing state threaded through Calculator.Calculate.
type State struct {
	SleepTime          time.Duration
	ConsecutiveRetries int
}

// Calculator maps the previous State to the next sleep duration.
type Calculator interface {
	Calculate(state State) time.Duration
}

// Default is the exponential decay/attack calculator used unless a Pacer is
// constructed with a different Calculator.
type Default struct {
	minSleep       time.Duration
	maxSleep       time.Duration
	decayConstant  uint
	attackConstant uint
}

// DefaultOption configures a Default calculator.
type DefaultOption func(*Default)

// MinSleep sets the minimum sleep time for a Default calculator.
func MinSleep(d time.Duration) DefaultOption {
	return func(c *Default) { c.minSleep = d }
}

// MaxSleep sets the maximum sleep time for a Default calculator.
func MaxSleep(d time.Duration) DefaultOption {
	return func(c *Default) { c.maxSleep = d }
}

// DecayConstant sets how fast the sleep time decays back down on success.
func DecayConstant(d uint) DefaultOption {
	return func(c *Default) { c.decayConstant = d }
}

// AttackConstant sets how fast the sleep time grows on failure.
func AttackConstant(d uint) DefaultOption {
	return func(c *Default) { c.attackConstant = d }
}

// NewDefault creates a Default calculator with the given options applied
// over sane defaults (10ms min, 2s max, decay 2, attack 1).
func NewDefault(opts ...DefaultOption) *Default {
	c := &Default{
		minSleep:       10 * time.Millisecond,
		maxSleep:       2 * time.Second,
		decayConstant:  2,
		attackConstant: 1,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Calculate implements Calculator: on no retries it decays the sleep time
// towards minSleep; callers bump ConsecutiveRetries themselves before a retry.
func (c *Default) Calculate(state State) time.Duration {
	if state.ConsecutiveRetries == 0 {
		next := (state.SleepTime<<c.decayConstant - state.SleepTime) >> c.decayConstant
		if next < c.minSleep {
			next = c.minSleep
		}
		return next
	}
	next := state.SleepTime << c.attackConstant
	if next > c.maxSleep || next <= 0 {
		next = c.maxSleep
	}
	if next < c.minSleep {
		next = c.minSleep
	}
	return next
}

// Option configures a Pacer.
type Option func(*Pacer)

// RetriesOption sets the number of retries a Pacer.Call will attempt before
// giving up.
func RetriesOption(retries int) Option {
	return func(p *Pacer) { p.retries = retries }
}

// MaxConnectionsOption bounds the number of concurrent in-flight calls.
func MaxConnectionsOption(n int) Option {
	return func(p *Pacer) { p.SetMaxConnections(n) }
}

// CalculatorOption installs a custom Calculator.
func CalculatorOption(c Calculator) Option {
	return func(p *Pacer) { p.calculator = c }
}

// Pacer serialises and rate-limits retriable calls to a remote service,
// backing off exponentially on failure and decaying back down on success.
type Pacer struct {
	mu             sync.Mutex
	pacer          chan struct{}
	connTokens     chan struct{}
	maxConnections int
	retries        int
	calculator     Calculator
	state          State
}

// New creates a Pacer with the Default calculator and sane defaults (7
// retries, no connection limit) unless overridden by opts.
func New(opts ...Option) *Pacer {
	p := &Pacer{
		pacer:      make(chan struct{}, 1),
		retries:    7,
		calculator: NewDefault(),
	}
	p.state.SleepTime = p.calculator.(*Default).minSleep
	p.pacer <- struct{}{}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// SetMaxConnections bounds concurrent calls to n; n <= 0 removes the bound.
func (p *Pacer) SetMaxConnections(n int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.maxConnections = n
	if n <= 0 {
		p.connTokens = nil
		return
	}
	p.connTokens = make(chan struct{}, n)
	for i := 0; i < n; i++ {
		p.connTokens <- struct{}{}
	}
}

// Paced is the function signature passed to Call: it performs one attempt
// and reports whether the error (if any) deserves a retry.
type Paced func() (retry bool, err error)

// Call invokes fn, retrying up to p.retries times with exponential backoff
// governed by p.calculator, honouring ctx cancellation between attempts.
func (p *Pacer) Call(ctx context.Context, fn Paced) error {
	if p.connTokens != nil {
		select {
		case <-p.connTokens:
			defer func() { p.connTokens <- struct{}{} }()
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	var err error
	for try := 0; try <= p.retries; try++ {
		select {
		case <-p.pacer:
		case <-ctx.Done():
			return ctx.Err()
		}
		var retry bool
		retry, err = fn()
		p.mu.Lock()
		if retry {
			p.state.ConsecutiveRetries++
		} else {
			p.state.ConsecutiveRetries = 0
		}
		sleep := p.calculator.Calculate(p.state)
		p.state.SleepTime = sleep
		p.mu.Unlock()
		if !retry {
			p.pacer <- struct{}{}
			return err
		}
		timer := time.NewTimer(sleep)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			p.pacer <- struct{}{}
			return ctx.Err()
		}
		p.pacer <- struct{}{}
	}
	return err
}
