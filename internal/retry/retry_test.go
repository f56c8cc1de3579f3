package retry

import (
	"context"
	"errors"
	"testing"
	"time"
)

var errTransient = errors.New("transient")

func TestDo(t *testing.T) {
	errFatal := errors.New("fatal")

	tests := []struct {
		name      string
		attempts  int
		failures  int
		fatal     bool
		wantCalls int
		wantErr   error
	}{
		{"first try", 3, 0, false, 1, nil},
		{"recovers", 5, 2, false, 3, nil},
		{"exhausted", 3, 10, false, 3, errTransient},
		{"permanent stops at once", 5, 10, true, 1, errFatal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			calls := 0
			err := Do(context.Background(), Policy{Attempts: tt.attempts, Initial: time.Millisecond}, func(context.Context) error {
				calls++
				if calls > tt.failures {
					return nil
				}
				if tt.fatal {
					return Permanent(errFatal)
				}
				return errTransient
			})
			if calls != tt.wantCalls {
				t.Errorf("calls = %d, want %d", calls, tt.wantCalls)
			}
			if tt.wantErr == nil && err != nil {
				t.Errorf("Do() error = %v", err)
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Errorf("Do() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestDo_BackoffIsCapped(t *testing.T) {
	var waits []time.Duration
	_ = Do(context.Background(), Policy{
		Attempts: 5,
		Initial:  time.Millisecond,
		Max:      3 * time.Millisecond,
		OnRetry:  func(_ int, wait time.Duration, _ error) { waits = append(waits, wait) },
	}, func(context.Context) error { return errTransient })

	want := []time.Duration{time.Millisecond, 2 * time.Millisecond, 3 * time.Millisecond, 3 * time.Millisecond}
	if len(waits) != len(want) {
		t.Fatalf("waits = %v, want %v", waits, want)
	}
	for i := range want {
		if waits[i] != want[i] {
			t.Errorf("waits[%d] = %v, want %v", i, waits[i], want[i])
		}
	}
}

func TestDo_ContextDone(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	err := Do(ctx, Policy{Initial: time.Hour}, func(context.Context) error {
		calls++
		cancel()
		return errTransient
	})
	if calls != 1 || !errors.Is(err, errTransient) {
		t.Errorf("Do() = %v after %d calls", err, calls)
	}
}

func TestPermanent_Nil(t *testing.T) {
	if Permanent(nil) != nil {
		t.Error("Permanent(nil) != nil")
	}
}
