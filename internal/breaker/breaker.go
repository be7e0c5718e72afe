// Package breaker provides circuit breaking around external capability ports.
//
// Every call to the Generator, Retriever, or HealthDataSource goes through a
// Breaker. Port errors never escape as raw errors to stage code: callers
// receive a tagged Result carrying either the port's value or a fallback.
package breaker

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// State is the breaker's position in its recovery cycle.
type State string

const (
	// StateClosed passes calls through to the port.
	StateClosed State = "closed"
	// StateOpen short-circuits calls to the fallback without attempting the port.
	StateOpen State = "open"
	// StateHalfOpen allows a single probe call to test recovery.
	StateHalfOpen State = "half_open"
)

// Defaults for breaker policy, per port call budget.
const (
	DefaultConsecutiveFailures = 5
	DefaultWindowSize          = 20
	DefaultFailureRate         = 0.5
	DefaultCooldown            = 30 * time.Second
)

// ErrOpen is recorded on results that were short-circuited without a call.
var ErrOpen = errors.New("circuit breaker open")

// ErrTimeout is recorded on results whose underlying call exceeded its budget.
var ErrTimeout = errors.New("port call timed out")

// Config tunes a single breaker. Zero values fall back to the defaults.
type Config struct {
	Name                string
	Timeout             time.Duration
	ConsecutiveFailures int
	WindowSize          int
	FailureRate         float64
	Cooldown            time.Duration
}

func (c *Config) applyDefaults() {
	if c.ConsecutiveFailures <= 0 {
		c.ConsecutiveFailures = DefaultConsecutiveFailures
	}
	if c.WindowSize <= 0 {
		c.WindowSize = DefaultWindowSize
	}
	if c.FailureRate <= 0 {
		c.FailureRate = DefaultFailureRate
	}
	if c.Cooldown <= 0 {
		c.Cooldown = DefaultCooldown
	}
}

// Breaker guards one external port. Its counters are shared process-wide:
// every conversation worker calling the same port contends on one Breaker,
// so all counter updates happen under mu.
type Breaker struct {
	cfg Config

	mu          sync.Mutex
	state       State
	consecutive int
	window      []bool // true = failure, ring buffer of recent outcomes
	windowPos   int
	windowFill  int
	openedAt    time.Time
	probing     bool

	now func() time.Time // injected for tests
}

// New creates a breaker in the closed state.
func New(cfg Config) *Breaker {
	cfg.applyDefaults()
	slog.Debug("breaker.New: creating breaker", "name", cfg.Name, "timeout", cfg.Timeout, "cooldown", cfg.Cooldown)
	return &Breaker{
		cfg:    cfg,
		state:  StateClosed,
		window: make([]bool, cfg.WindowSize),
		now:    time.Now,
	}
}

// State reports the current breaker state, accounting for cooldown expiry.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.observeState()
}

// observeState transitions open -> half_open when the cooldown has elapsed.
// Callers must hold mu.
func (b *Breaker) observeState() State {
	if b.state == StateOpen && b.now().Sub(b.openedAt) >= b.cfg.Cooldown {
		b.state = StateHalfOpen
		b.probing = false
		slog.Info("breaker: cooldown elapsed, entering half-open", "name", b.cfg.Name)
	}
	return b.state
}

// acquire decides whether a call may proceed. In half-open it admits only
// the first caller as the probe.
func (b *Breaker) acquire() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch b.observeState() {
	case StateClosed:
		return true
	case StateHalfOpen:
		if b.probing {
			return false
		}
		b.probing = true
		return true
	default:
		return false
	}
}

// record folds one call outcome into the counters and state machine.
func (b *Breaker) record(failed bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == StateHalfOpen {
		b.probing = false
		if failed {
			b.trip("probe failed")
		} else {
			b.reset()
			slog.Info("breaker: probe succeeded, closing", "name", b.cfg.Name)
		}
		return
	}

	b.window[b.windowPos] = failed
	b.windowPos = (b.windowPos + 1) % b.cfg.WindowSize
	if b.windowFill < b.cfg.WindowSize {
		b.windowFill++
	}
	if failed {
		b.consecutive++
	} else {
		b.consecutive = 0
	}

	if b.state != StateClosed {
		return
	}
	if b.consecutive >= b.cfg.ConsecutiveFailures {
		b.trip("consecutive failure threshold reached")
		return
	}
	if b.windowFill == b.cfg.WindowSize {
		failures := 0
		for _, f := range b.window {
			if f {
				failures++
			}
		}
		if float64(failures)/float64(b.cfg.WindowSize) > b.cfg.FailureRate {
			b.trip("failure rate threshold exceeded")
		}
	}
}

// abandon releases the half-open probe slot without counting an outcome.
// Used when the caller went away before the port answered: that is not
// evidence about the port's health.
func (b *Breaker) abandon() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == StateHalfOpen {
		b.probing = false
	}
}

// trip moves the breaker to open. Callers must hold mu.
func (b *Breaker) trip(reason string) {
	b.state = StateOpen
	b.openedAt = b.now()
	slog.Warn("breaker: tripped open", "name", b.cfg.Name, "reason", reason, "cooldown", b.cfg.Cooldown)
}

// reset returns the breaker to a clean closed state. Callers must hold mu.
func (b *Breaker) reset() {
	b.state = StateClosed
	b.consecutive = 0
	b.windowPos = 0
	b.windowFill = 0
	for i := range b.window {
		b.window[i] = false
	}
}

// Result is the tagged outcome of a guarded call. When OK is false the
// Value is the caller-supplied fallback and Err explains why (timeout,
// breaker open, or the port's own error).
type Result[T any] struct {
	Value T
	OK    bool
	Err   error
}

// Execute runs fn under the breaker with the configured timeout. It never
// returns an error: failures yield Result{Value: fallback, OK: false}.
//
// A timed-out call is abandoned, not forcibly aborted; its eventual result
// is discarded, and the timeout counts as a failure for breaker accounting.
func Execute[T any](ctx context.Context, b *Breaker, fallback T, fn func(ctx context.Context) (T, error)) Result[T] {
	if !b.acquire() {
		slog.Debug("breaker: call short-circuited", "name", b.cfg.Name)
		return Result[T]{Value: fallback, OK: false, Err: ErrOpen}
	}

	callCtx := ctx
	cancel := context.CancelFunc(func() {})
	if b.cfg.Timeout > 0 {
		callCtx, cancel = context.WithTimeout(ctx, b.cfg.Timeout)
	}
	defer cancel()

	type outcome struct {
		value T
		err   error
	}
	done := make(chan outcome, 1)
	go func() {
		v, err := fn(callCtx)
		done <- outcome{value: v, err: err}
	}()

	select {
	case out := <-done:
		b.record(out.err != nil)
		if out.err != nil {
			slog.Debug("breaker: call failed", "name", b.cfg.Name, "error", out.err)
			return Result[T]{Value: fallback, OK: false, Err: out.err}
		}
		return Result[T]{Value: out.value, OK: true}
	case <-callCtx.Done():
		// The caller's own context ending is not a port failure; only the
		// per-call timeout counts against the breaker.
		if err := ctx.Err(); err != nil {
			b.abandon()
			slog.Debug("breaker: call abandoned by caller", "name", b.cfg.Name, "error", err)
			return Result[T]{Value: fallback, OK: false, Err: err}
		}
		b.record(true)
		slog.Debug("breaker: call timed out", "name", b.cfg.Name, "timeout", b.cfg.Timeout)
		return Result[T]{Value: fallback, OK: false, Err: ErrTimeout}
	}
}
