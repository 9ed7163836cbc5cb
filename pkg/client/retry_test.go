package client

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

// recordingRetrier builds a retrier whose waits are recorded instead of slept.
func recordingRetrier(class ErrorClass, policy Backoff) (*retrier, *[]time.Duration) {
	var waits []time.Duration
	r := &retrier{
		policy:   func(ErrorClass) Backoff { return policy },
		classify: func(error) ErrorClass { return class },
		wait: func(ctx context.Context, d time.Duration) error {
			waits = append(waits, d)
			return ctx.Err()
		},
		logger: zerolog.Nop(),
	}
	return r, &waits
}

func TestBackoffFor(t *testing.T) {
	tests := []struct {
		class ErrorClass
		want  Backoff
	}{
		{class: ErrorClassServer, want: Backoff{Attempts: 3, Initial: time.Second, Max: 10 * time.Second, Factor: 2}},
		{class: ErrorClassNetwork, want: Backoff{Attempts: 3, Initial: 2 * time.Second, Max: 30 * time.Second, Factor: 2}},
		{class: ErrorClassClient, want: DefaultBackoff()},
		{class: "", want: DefaultBackoff()},
	}

	for _, tt := range tests {
		t.Run(string(tt.class), func(t *testing.T) {
			if got := BackoffFor(tt.class); got != tt.want {
				t.Errorf("BackoffFor(%q) = %+v, want %+v", tt.class, got, tt.want)
			}
		})
	}
}

func TestBackoff_Delay(t *testing.T) {
	b := Backoff{Attempts: 6, Initial: 100 * time.Millisecond, Max: time.Second, Factor: 3}

	want := []time.Duration{
		100 * time.Millisecond,
		300 * time.Millisecond,
		900 * time.Millisecond,
		time.Second,
		time.Second,
	}
	for i, w := range want {
		if got := b.Delay(i + 1); got != w {
			t.Errorf("Delay(%d) = %v, want %v", i+1, got, w)
		}
	}
}

func TestJitter_Bounds(t *testing.T) {
	base := time.Second
	for range 200 {
		d := jitter(base)
		if d < 800*time.Millisecond || d > 1200*time.Millisecond {
			t.Fatalf("jitter(%v) = %v, want within ±20%%", base, d)
		}
	}
}

func TestRetrier_SucceedsFirstTry(t *testing.T) {
	r, waits := recordingRetrier(ErrorClassServer, BackoffFor(ErrorClassServer))

	calls := 0
	err := r.do(context.Background(), func() error {
		calls++
		return nil
	})

	if err != nil {
		t.Errorf("do() error = %v", err)
	}
	if calls != 1 || len(*waits) != 0 {
		t.Errorf("calls = %d, waits = %v; want 1 call and no waits", calls, *waits)
	}
}

func TestRetrier_SucceedsAfterRetries(t *testing.T) {
	r, waits := recordingRetrier(ErrorClassServer, Backoff{Attempts: 3, Initial: 10 * time.Millisecond, Max: time.Second, Factor: 2})

	calls := 0
	err := r.do(context.Background(), func() error {
		calls++
		if calls < 3 {
			return errors.New("503")
		}
		return nil
	})

	if err != nil {
		t.Errorf("do() error = %v", err)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
	if len(*waits) != 2 {
		t.Fatalf("waits = %v, want 2", *waits)
	}
	// second wait is twice the first, both ±20%
	if w := (*waits)[1]; w < 16*time.Millisecond || w > 24*time.Millisecond {
		t.Errorf("second wait = %v, want ~20ms", w)
	}
}

func TestRetrier_Exhausted(t *testing.T) {
	r, waits := recordingRetrier(ErrorClassNetwork, Backoff{Attempts: 3, Initial: time.Millisecond, Max: time.Millisecond, Factor: 2})

	down := errors.New("connection refused")
	calls := 0
	err := r.do(context.Background(), func() error {
		calls++
		return down
	})

	if !errors.Is(err, ErrRetryExhausted) {
		t.Errorf("error = %v, want ErrRetryExhausted", err)
	}
	if !errors.Is(err, down) {
		t.Errorf("error = %v, want last failure wrapped", err)
	}
	if calls != 3 || len(*waits) != 2 {
		t.Errorf("calls = %d, waits = %d; want 3 and 2", calls, len(*waits))
	}
}

func TestRetrier_SingleAttempt(t *testing.T) {
	r, waits := recordingRetrier(ErrorClassServer, Backoff{Attempts: 1, Initial: time.Second, Max: time.Second, Factor: 2})

	calls := 0
	err := r.do(context.Background(), func() error {
		calls++
		return errors.New("500")
	})

	if !errors.Is(err, ErrRetryExhausted) {
		t.Errorf("error = %v, want ErrRetryExhausted", err)
	}
	if calls != 1 || len(*waits) != 0 {
		t.Errorf("calls = %d, waits = %d; want 1 and 0", calls, len(*waits))
	}
}

func TestRetrier_NonRetryableClasses(t *testing.T) {
	for _, class := range []ErrorClass{ErrorClassClient, ErrorClassAuth, ErrorClassRateLimit, ErrorClassDecode} {
		t.Run(string(class), func(t *testing.T) {
			r, waits := recordingRetrier(class, DefaultBackoff())

			rejected := errors.New("rejected")
			calls := 0
			err := r.do(context.Background(), func() error {
				calls++
				return rejected
			})

			if calls != 1 || len(*waits) != 0 {
				t.Errorf("calls = %d, waits = %d; want 1 and 0", calls, len(*waits))
			}
			if errors.Is(err, ErrRetryExhausted) {
				t.Error("a failure that is never retried must not report exhaustion")
			}
			if !errors.Is(err, rejected) {
				t.Errorf("error = %v, want the original failure", err)
			}
		})
	}
}

func TestRetrier_ContextCancelledDuringWait(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	r, _ := recordingRetrier(ErrorClassServer, DefaultBackoff())

	calls := 0
	err := r.do(ctx, func() error {
		calls++
		cancel()
		return errors.New("502")
	})

	if !errors.Is(err, ErrContextCancelled) {
		t.Errorf("error = %v, want ErrContextCancelled", err)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestRetrier_PolicyFromFirstFailure(t *testing.T) {
	var asked []ErrorClass
	classes := []ErrorClass{ErrorClassNetwork, ErrorClassServer, ErrorClassServer}

	calls := 0
	r := &retrier{
		policy: func(class ErrorClass) Backoff {
			asked = append(asked, class)
			return Backoff{Attempts: 3, Initial: time.Millisecond, Max: time.Millisecond, Factor: 1}
		},
		classify: func(error) ErrorClass { return classes[calls-1] },
		wait:     func(context.Context, time.Duration) error { return nil },
		logger:   zerolog.Nop(),
	}

	_ = r.do(context.Background(), func() error {
		calls++
		return errors.New("down")
	})

	if len(asked) != 1 || asked[0] != ErrorClassNetwork {
		t.Errorf("policy asked for %v, want [network]", asked)
	}
}

func TestSleepCtx(t *testing.T) {
	if err := sleepCtx(context.Background(), time.Millisecond); err != nil {
		t.Errorf("sleepCtx() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := sleepCtx(ctx, time.Hour); !errors.Is(err, context.Canceled) {
		t.Errorf("sleepCtx() on cancelled context = %v, want context.Canceled", err)
	}
}

func TestConfig_BackoffFor(t *testing.T) {
	cfg := Config{MaxRetries: 5, InitialBackoff: 20 * time.Second}

	b := cfg.backoffFor(ErrorClassServer)
	if b.Attempts != 5 {
		t.Errorf("Attempts = %d, want 5", b.Attempts)
	}
	if b.Initial != 20*time.Second || b.Max != 20*time.Second {
		t.Errorf("Initial/Max = %v/%v, want 20s/20s", b.Initial, b.Max)
	}

	if got := (Config{}).backoffFor(ErrorClassNetwork); got != BackoffFor(ErrorClassNetwork) {
		t.Errorf("zero Config backoffFor = %+v, want class defaults", got)
	}
}
