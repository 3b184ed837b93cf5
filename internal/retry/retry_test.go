package retry

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/gateway-fm/testnetbot/internal/apperr"
	"github.com/gateway-fm/testnetbot/internal/random"
)

// recorder captures sleeps and observer events instead of waiting.
type recorder struct {
	mu        sync.Mutex
	sleeps    []time.Duration
	retries   []int
	exhausted int
}

func (r *recorder) sleep(_ context.Context, d time.Duration) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sleeps = append(r.sleeps, d)
	return nil
}

func (r *recorder) Retrying(_ string, attempt int, _ time.Duration, _ error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.retries = append(r.retries, attempt)
}

func (r *recorder) Exhausted(string, int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.exhausted++
}

func newTestExecutor(r *recorder) *Executor {
	return New(WithSleep(r.sleep), WithObserver(r))
}

func TestFixedPolicyPermanentFailure(t *testing.T) {
	tests := []struct {
		attempts int
		delay    time.Duration
	}{
		{1, 5 * time.Second},
		{3, 5 * time.Second},
		{5, 100 * time.Millisecond},
	}
	for _, tt := range tests {
		r := &recorder{}
		calls := 0
		errBoom := errors.New("boom")
		err := newTestExecutor(r).Run(context.Background(), "op", Policy{MaxAttempts: tt.attempts, Delay: Fixed(tt.delay)},
			func(context.Context) error {
				calls++
				return errBoom
			})

		if calls != tt.attempts {
			t.Errorf("attempts=%d: calls = %d", tt.attempts, calls)
		}
		if len(r.sleeps) != tt.attempts-1 {
			t.Fatalf("attempts=%d: sleeps = %d, want %d", tt.attempts, len(r.sleeps), tt.attempts-1)
		}
		var total time.Duration
		for _, d := range r.sleeps {
			total += d
		}
		if want := time.Duration(tt.attempts-1) * tt.delay; total != want {
			t.Errorf("attempts=%d: total sleep = %v, want %v", tt.attempts, total, want)
		}
		if !errors.Is(err, errBoom) {
			t.Errorf("attempts=%d: error does not wrap last failure: %v", tt.attempts, err)
		}
		if !apperr.IsKind(err, apperr.KindExhaustedRetries) {
			t.Errorf("attempts=%d: error kind = %v", tt.attempts, apperr.KindOf(err))
		}
		if r.exhausted != 1 || len(r.retries) != tt.attempts-1 {
			t.Errorf("attempts=%d: events retrying=%d exhausted=%d", tt.attempts, len(r.retries), r.exhausted)
		}
	}
}

func TestExponentialDelays(t *testing.T) {
	s := Exponential(2*time.Second, 10*time.Second)
	want := []time.Duration{2 * time.Second, 4 * time.Second, 8 * time.Second, 10 * time.Second, 10 * time.Second}
	for k, w := range want {
		if got := s.Delay(k); got != w {
			t.Errorf("Delay(%d) = %v, want %v", k, got, w)
		}
	}
	if got := s.Delay(200); got != 10*time.Second {
		t.Errorf("Delay(200) = %v, want cap", got)
	}
}

func TestExponentialPolicySleeps(t *testing.T) {
	r := &recorder{}
	_ = newTestExecutor(r).Run(context.Background(), "claim", Policy{MaxAttempts: 5, Delay: Exponential(2*time.Second, 10*time.Second)},
		func(context.Context) error { return errors.New("429") })

	want := []time.Duration{2 * time.Second, 4 * time.Second, 8 * time.Second, 10 * time.Second}
	if len(r.sleeps) != len(want) {
		t.Fatalf("sleeps = %v", r.sleeps)
	}
	for i := range want {
		if r.sleeps[i] != want[i] {
			t.Errorf("sleep[%d] = %v, want %v", i, r.sleeps[i], want[i])
		}
	}
}

func TestSucceedsOnAttemptK(t *testing.T) {
	for k := 1; k <= 4; k++ {
		r := &recorder{}
		calls := 0
		got, err := Do(context.Background(), newTestExecutor(r), "op", Policy{MaxAttempts: 4, Delay: Fixed(time.Second)},
			func(context.Context) (int, error) {
				calls++
				if calls < k {
					return 0, errors.New("not yet")
				}
				return 42, nil
			})
		if err != nil {
			t.Fatalf("k=%d: unexpected error: %v", k, err)
		}
		if got != 42 {
			t.Errorf("k=%d: result = %d", k, got)
		}
		if calls != k {
			t.Errorf("k=%d: calls = %d", k, calls)
		}
		if len(r.sleeps) != k-1 {
			t.Errorf("k=%d: sleeps = %d", k, len(r.sleeps))
		}
		if r.exhausted != 0 {
			t.Errorf("k=%d: exhausted event on success", k)
		}
	}
}

func TestPanicCountsAsFailure(t *testing.T) {
	r := &recorder{}
	calls := 0
	err := newTestExecutor(r).Run(context.Background(), "deploy", Policy{MaxAttempts: 2, Delay: Fixed(0)},
		func(context.Context) error {
			calls++
			panic("nil receipt")
		})
	if calls != 2 {
		t.Errorf("calls = %d, want 2", calls)
	}
	if !apperr.IsKind(err, apperr.KindExhaustedRetries) {
		t.Errorf("err = %v", err)
	}
}

func TestZeroAttemptsRunsOnce(t *testing.T) {
	calls := 0
	_ = New(WithSleep((&recorder{}).sleep)).Run(context.Background(), "op", Policy{}, func(context.Context) error {
		calls++
		return errors.New("x")
	})
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestContextCancelledDuringSleep(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	err := New().Run(ctx, "op", Policy{MaxAttempts: 3, Delay: Fixed(time.Hour)}, func(context.Context) error {
		calls++
		cancel()
		return errors.New("x")
	})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
	if calls != 1 {
		t.Errorf("calls = %d", calls)
	}
}

func TestRandomRangeUsesSource(t *testing.T) {
	r := &recorder{}
	_ = newTestExecutor(r).Run(context.Background(), "deploy",
		Policy{MaxAttempts: 3, Delay: RandomRange(500*time.Millisecond, 3*time.Second, random.NewSequence(0, 2500))},
		func(context.Context) error { return errors.New("x") })

	want := []time.Duration{500 * time.Millisecond, 3 * time.Second}
	for i := range want {
		if r.sleeps[i] != want[i] {
			t.Errorf("sleep[%d] = %v, want %v", i, r.sleeps[i], want[i])
		}
	}
}

func TestNilExecutor(t *testing.T) {
	got, err := Do(context.Background(), nil, "op", Policy{MaxAttempts: 1}, func(context.Context) (string, error) {
		return "ok", nil
	})
	if err != nil || got != "ok" {
		t.Errorf("got %q, %v", got, err)
	}
}

func TestRetryingAttemptNumbers(t *testing.T) {
	r := &recorder{}
	_ = newTestExecutor(r).Run(context.Background(), "bridge", Policy{MaxAttempts: 3, Delay: Fixed(5 * time.Second)},
		func(context.Context) error { return errors.New("x") })

	if len(r.retries) != 2 || r.retries[0] != 1 || r.retries[1] != 2 {
		t.Errorf("retrying attempts = %v, want [1 2]", r.retries)
	}
}

func TestSleepErrorStopsRetries(t *testing.T) {
	errSleep := errors.New("clock broken")
	calls := 0
	exec := New(WithSleep(func(context.Context, time.Duration) error { return errSleep }))
	err := exec.Run(context.Background(), "op", Policy{MaxAttempts: 3, Delay: Fixed(time.Second)}, func(context.Context) error {
		calls++
		return errors.New("x")
	})
	if !errors.Is(err, errSleep) {
		t.Errorf("err = %v, want sleep error", err)
	}
	if apperr.IsKind(err, apperr.KindExhaustedRetries) {
		t.Error("sleep failure reported as exhausted retries")
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}
