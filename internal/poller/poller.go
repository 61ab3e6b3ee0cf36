// Package poller runs a bounded sequence of probes at a fixed interval.
//
// A Poller moves through Idle -> Polling -> one of Succeeded, TimedOut,
// Failed or Cancelled. It never runs more than MaxAttempts probes and owns no
// timer once Run returns, so a caller that goes away (context cancelled)
// leaves nothing running behind it.
package poller

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

type State int

const (
	Idle State = iota
	Polling
	Succeeded
	TimedOut
	Failed
	Cancelled
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Polling:
		return "polling"
	case Succeeded:
		return "succeeded"
	case TimedOut:
		return "timed_out"
	case Failed:
		return "failed"
	case Cancelled:
		return "cancelled"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Terminal reports whether s is a final state.
func (s State) Terminal() bool { return s >= Succeeded }

var (
	ErrTimedOut       = errors.New("poller: attempts exhausted")
	ErrAlreadyStarted = errors.New("poller: already started")
)

// Probe performs one check. done=true ends polling in Succeeded. An error
// wrapped with Permanent ends it in Failed; any other error counts as a
// spent attempt and polling continues.
type Probe func(ctx context.Context) (done bool, err error)

type permanentError struct{ err error }

func (e permanentError) Error() string { return e.err.Error() }
func (e permanentError) Unwrap() error { return e.err }

// Permanent marks err as not worth retrying.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return permanentError{err: err}
}

func IsPermanent(err error) bool {
	var p permanentError
	return errors.As(err, &p)
}

type Config struct {
	Interval    time.Duration
	MaxAttempts int
	// FirstImmediately runs the first probe without waiting an interval.
	FirstImmediately bool
	// OnTransition, if set, is called after every state change.
	OnTransition func(from, to State)
}

// Poller is single-use: construct a new one for every polling session.
type Poller struct {
	cfg   Config
	probe Probe

	mu       sync.Mutex
	state    State
	attempts int
	lastErr  error
}

func New(cfg Config, probe Probe) *Poller {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 1
	}
	return &Poller{cfg: cfg, probe: probe}
}

func (p *Poller) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Attempts is the number of probes run so far.
func (p *Poller) Attempts() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.attempts
}

// LastErr is the most recent probe error, if any.
func (p *Poller) LastErr() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastErr
}

func (p *Poller) transition(to State) {
	p.mu.Lock()
	from := p.state
	p.state = to
	p.mu.Unlock()
	if p.cfg.OnTransition != nil && from != to {
		p.cfg.OnTransition(from, to)
	}
}

// Run polls until the probe reports done, a permanent error occurs, the
// attempts run out, or ctx ends. It returns nil only in Succeeded.
func (p *Poller) Run(ctx context.Context) error {
	p.mu.Lock()
	if p.state != Idle {
		p.mu.Unlock()
		return ErrAlreadyStarted
	}
	p.mu.Unlock()
	p.transition(Polling)

	var timer *time.Timer
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for i := 0; i < p.cfg.MaxAttempts; i++ {
		if i > 0 || !p.cfg.FirstImmediately {
			if timer == nil {
				timer = time.NewTimer(p.cfg.Interval)
			} else {
				timer.Reset(p.cfg.Interval)
			}
			select {
			case <-ctx.Done():
				p.transition(Cancelled)
				return ctx.Err()
			case <-timer.C:
			}
		} else if err := ctx.Err(); err != nil {
			p.transition(Cancelled)
			return err
		}

		done, err := p.probe(ctx)

		p.mu.Lock()
		p.attempts++
		p.lastErr = err
		p.mu.Unlock()

		switch {
		case ctx.Err() != nil:
			p.transition(Cancelled)
			return ctx.Err()
		case err != nil && IsPermanent(err):
			p.transition(Failed)
			return err
		case err == nil && done:
			p.transition(Succeeded)
			return nil
		}
	}

	p.transition(TimedOut)
	if last := p.LastErr(); last != nil {
		return fmt.Errorf("%w: last error: %v", ErrTimedOut, last)
	}
	return ErrTimedOut
}
