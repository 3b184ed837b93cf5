// Package retry runs operations up to a fixed number of attempts with a delay
// between attempts.
package retry

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	retrygo "github.com/avast/retry-go/v4"

	"github.com/gateway-fm/testnetbot/internal/apperr"
	"github.com/gateway-fm/testnetbot/internal/random"
)

// Strategy computes the wait before the next attempt. retry is the 0-indexed
// number of the inter-attempt gap (0 is the wait after the first failure).
type Strategy interface {
	Delay(retry int) time.Duration
}

type fixedDelay time.Duration

func (d fixedDelay) Delay(int) time.Duration { return time.Duration(d) }

// Fixed waits d between every pair of attempts.
func Fixed(d time.Duration) Strategy {
	return fixedDelay(d)
}

type exponentialDelay struct {
	base, cap time.Duration
}

func (e exponentialDelay) Delay(retry int) time.Duration {
	d := e.base
	for i := 0; i < retry && d < e.cap; i++ {
		d *= 2
	}
	return min(d, e.cap)
}

// Exponential waits min(cap, base*2^retry).
func Exponential(base, cap time.Duration) Strategy {
	return exponentialDelay{base: base, cap: cap}
}

type randomDelay struct {
	lo, hi time.Duration
	src    random.Source
}

func (r randomDelay) Delay(int) time.Duration {
	return random.Duration(r.src, r.lo, r.hi)
}

// RandomRange waits a uniformly chosen duration in [lo, hi].
func RandomRange(lo, hi time.Duration, src random.Source) Strategy {
	if src == nil {
		src = random.Default()
	}
	return randomDelay{lo: lo, hi: hi, src: src}
}

// Policy bounds how often and how patiently an operation is retried.
// A MaxAttempts below 1 runs the operation once.
type Policy struct {
	MaxAttempts int
	Delay       Strategy
}

func (p Policy) attempts() int {
	return max(p.MaxAttempts, 1)
}

func (p Policy) delay(retry int) time.Duration {
	if p.Delay == nil {
		return 0
	}
	return p.Delay.Delay(retry)
}

// Observer receives retry events. Implementations must be safe for concurrent use.
type Observer interface {
	// Retrying is called after a failed attempt that will be followed by another.
	Retrying(op string, attempt int, delay time.Duration, err error)
	// Exhausted is called once when the final attempt fails.
	Exhausted(op string, attempts int, err error)
}

// SleepFunc waits for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

// Sleep is the default SleepFunc.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Executor runs operations under a Policy.
type Executor struct {
	logger   *slog.Logger
	observer Observer
	sleep    SleepFunc
}

// Option configures an Executor.
type Option func(*Executor)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Executor) { e.logger = l }
}

// WithObserver registers an event observer.
func WithObserver(o Observer) Option {
	return func(e *Executor) { e.observer = o }
}

// WithSleep replaces the wait between attempts.
func WithSleep(s SleepFunc) Option {
	return func(e *Executor) { e.sleep = s }
}

// New creates an Executor.
func New(opts ...Option) *Executor {
	e := &Executor{
		logger: slog.Default(),
		sleep:  Sleep,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.logger == nil {
		e.logger = slog.Default()
	}
	if e.sleep == nil {
		e.sleep = Sleep
	}
	return e
}

// Run is Do for operations without a result.
func (e *Executor) Run(ctx context.Context, op string, p Policy, fn func(context.Context) error) error {
	_, err := Do(ctx, e, op, p, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

// Do calls fn until it succeeds or p.MaxAttempts attempts have failed.
// It waits between attempts but never after the last one. A panic in fn
// counts as a failed attempt. On exhaustion the last failure is returned
// as an apperr.KindExhaustedRetries error tagged with op.
// A nil Executor uses defaults.
func Do[T any](ctx context.Context, e *Executor, op string, p Policy, fn func(context.Context) (T, error)) (T, error) {
	if e == nil {
		e = New()
	}
	var zero T
	attempts := p.attempts()
	calls, gaps := 0, 0

	rctx, cancel := context.WithCancel(ctx)
	defer cancel()
	timer := &sleepTimer{ctx: rctx, sleep: e.sleep, cancel: cancel}

	result, err := retrygo.DoWithData(
		func() (T, error) {
			calls++
			return call(ctx, fn)
		},
		retrygo.Context(rctx),
		retrygo.Attempts(uint(attempts)),
		retrygo.LastErrorOnly(true),
		retrygo.WithTimer(timer),
		retrygo.DelayType(func(_ uint, err error, _ *retrygo.Config) time.Duration {
			delay := p.delay(gaps)
			gaps++
			if ctx.Err() != nil {
				return delay
			}
			e.logger.Warn("Operation failed, retrying",
				slog.String("operation", op),
				slog.Int("attempt", gaps),
				slog.Int("max_attempts", attempts),
				slog.Duration("delay", delay),
				slog.String("error", err.Error()),
			)
			if e.observer != nil {
				e.observer.Retrying(op, gaps, delay, err)
			}
			return delay
		}),
	)
	if err == nil {
		return result, nil
	}
	if ctx.Err() != nil {
		return zero, fmt.Errorf("%s: %w", op, ctx.Err())
	}
	if timer.err != nil {
		return zero, fmt.Errorf("%s: %w", op, timer.err)
	}

	e.logger.Warn("Operation failed, retries exhausted",
		slog.String("operation", op),
		slog.Int("attempts", calls),
		slog.String("error", err.Error()),
	)
	if e.observer != nil {
		e.observer.Exhausted(op, calls, err)
	}
	return zero, apperr.Exhausted(op, calls, err)
}

// sleepTimer adapts a SleepFunc to retry-go's Timer. A failed sleep cancels
// the retry context so the pending wait ends.
type sleepTimer struct {
	ctx    context.Context
	sleep  SleepFunc
	cancel context.CancelFunc
	err    error
}

func (t *sleepTimer) After(d time.Duration) <-chan time.Time {
	if err := t.sleep(t.ctx, d); err != nil {
		t.err = err
		t.cancel()
		return nil
	}
	ch := make(chan time.Time, 1)
	ch <- time.Now()
	return ch
}

func call[T any](ctx context.Context, fn func(context.Context) (T, error)) (result T, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return fn(ctx)
}
