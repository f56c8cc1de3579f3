package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/MrSnakeDoc/forest/internal/logger"
)

type countingRefresher struct {
	calls atomic.Int32
	err   error
}

func (c *countingRefresher) RefreshStatus(ctx context.Context) error {
	c.calls.Add(1)
	if _, ok := ctx.Deadline(); !ok {
		return errors.New("scan without deadline")
	}
	return c.err
}

type countingRestorer struct {
	calls atomic.Int32
}

func (c *countingRestorer) RestoreAll(context.Context) error {
	c.calls.Add(1)
	return nil
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met in time")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestStatusPoller(t *testing.T) {
	tests := []struct {
		name string
		err  error
	}{
		{name: "healthy supervisor"},
		{name: "supervisor down", err: errors.New("dial emperor stats: connection refused")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src := &countingRefresher{err: tt.err}
			p := NewStatusPoller(src, logger.Nop(), 10*time.Millisecond, time.Second)

			if err := p.Start(context.Background()); err != nil {
				t.Fatalf("Start() error = %v", err)
			}
			defer p.Stop()

			if got := src.calls.Load(); got < 1 {
				t.Fatalf("initial scan not run, calls = %d", got)
			}
			waitFor(t, func() bool { return src.calls.Load() >= 3 })
		})
	}
}

func TestStatusPoller_PollError(t *testing.T) {
	want := errors.New("boom")
	p := NewStatusPoller(&countingRefresher{err: want}, logger.Nop(), time.Minute, 0)
	if err := p.Poll(context.Background()); !errors.Is(err, want) {
		t.Errorf("Poll() error = %v, want %v", err, want)
	}
}

func TestReconciler(t *testing.T) {
	r := &countingRestorer{}
	trigger := make(chan struct{}, 1)
	rc := NewReconciler(r, logger.Nop(), time.Hour, trigger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := rc.Start(ctx); err != nil {
		t.Fatal(err)
	}
	defer rc.Stop()

	time.Sleep(20 * time.Millisecond)
	if got := r.calls.Load(); got != 0 {
		t.Fatalf("restore ran before the first tick, calls = %d", got)
	}

	trigger <- struct{}{}
	waitFor(t, func() bool { return r.calls.Load() == 1 })
}
