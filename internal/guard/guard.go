// Package guard is the single error-containment chokepoint for the recorder.
// Every fallible operation in every other package runs through it: failures
// are counted, logged at warning level, and absorbed. When the global error
// count reaches its threshold the whole recorder trips to a terminal
// disabled state for the rest of the process lifetime.
package guard

import (
	"fmt"
	"log/slog"
	"sync/atomic"
)

const (
	// MaxGlobalErrors is the caught-error count that disables the recorder.
	MaxGlobalErrors = 10

	// warnEvery emits a health warning on every Nth caught error below the
	// threshold.
	warnEvery = 5
)

// Disable reasons.
const (
	ReasonErrorThreshold        = "error_threshold"
	ReasonNetworkErrorThreshold = "network_error_threshold"
	ReasonManual                = "manual"
)

// Breaker is the one-way circuit breaker. Transitions are Active → Disabled
// only; a disabled breaker stays disabled until the process restarts.
type Breaker struct {
	log       *slog.Logger
	errs      atomic.Int64
	disabled  atomic.Bool
	reason    atomic.Value // string
	onWarn    func(count int64, context string)
	onDisable func(reason string)
}

// NewBreaker creates an active breaker logging through log.
func NewBreaker(log *slog.Logger) *Breaker {
	if log == nil {
		log = slog.Default()
	}
	return &Breaker{log: log}
}

// OnWarn registers the hook invoked on every warnEvery-th caught error.
// Must be set before the breaker is shared.
func (b *Breaker) OnWarn(fn func(count int64, context string)) { b.onWarn = fn }

// OnDisable registers the hook invoked once when the breaker trips.
func (b *Breaker) OnDisable(fn func(reason string)) { b.onDisable = fn }

// Fail records a caught error. At MaxGlobalErrors the breaker trips; every
// warnEvery-th error below the threshold fires the warn hook.
func (b *Breaker) Fail(context string, err error) {
	n := b.errs.Add(1)
	b.log.Warn("recorder operation failed", "context", context, "err", err, "errors", n)
	if n >= MaxGlobalErrors {
		b.Disable(ReasonErrorThreshold)
		return
	}
	if n%warnEvery == 0 && b.onWarn != nil {
		b.onWarn(n, context)
	}
}

// Disable trips the breaker. Idempotent; only the first call records a
// reason and fires the disable hook.
func (b *Breaker) Disable(reason string) {
	if b.disabled.CompareAndSwap(false, true) {
		b.reason.Store(reason)
		b.log.Warn("recorder disabled", "reason", reason, "errors", b.errs.Load())
		if b.onDisable != nil {
			b.onDisable(reason)
		}
	}
}

// TripNetwork disables the recorder because consecutive network failures
// crossed their own threshold (tracked by the transport layer).
func (b *Breaker) TripNetwork() { b.Disable(ReasonNetworkErrorThreshold) }

// Disabled reports whether the breaker has tripped.
func (b *Breaker) Disabled() bool { return b.disabled.Load() }

// Reason returns the disable reason, or "" while active.
func (b *Breaker) Reason() string {
	if r, ok := b.reason.Load().(string); ok {
		return r
	}
	return ""
}

// ErrorCount returns the number of caught errors so far.
func (b *Breaker) ErrorCount() int64 { return b.errs.Load() }

// Do runs fn inside the boundary: panics become errors, errors are routed
// to Fail, and a disabled breaker short-circuits to a silent no-op. The
// error is returned so internal callers can branch, but it has already been
// counted and must not be re-raised across a public boundary.
func Do(b *Breaker, context string, fn func() error) error {
	if b.Disabled() {
		return nil
	}
	err := run(fn)
	if err != nil {
		b.Fail(context, err)
	}
	return err
}

// DoCritical is Do with exactly one retry before the failure is recorded.
func DoCritical(b *Breaker, context string, fn func() error) error {
	if b.Disabled() {
		return nil
	}
	err := run(fn)
	if err == nil {
		return nil
	}
	if err = run(fn); err != nil {
		b.Fail(context, err)
	}
	return err
}

// DoValue is Do for operations that produce a value. On failure the zero
// value is returned alongside the (already counted) error.
func DoValue[T any](b *Breaker, context string, fn func() (T, error)) (T, error) {
	var zero T
	if b.Disabled() {
		return zero, nil
	}
	var v T
	err := run(func() (e error) {
		v, e = fn()
		return e
	})
	if err != nil {
		b.Fail(context, err)
		return zero, err
	}
	return v, nil
}

// run executes fn, converting a panic into an error.
func run(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return fn()
}
