package alert

import (
	"context"
	"sync"
	"testing"
	"time"
)

type countingRunner struct {
	mu   sync.Mutex
	runs int
}

func (r *countingRunner) Run(context.Context, ...Pass) (*Report, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.runs++
	return &Report{}, nil
}

func (r *countingRunner) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.runs
}

func TestScheduler_RunsOnStartAndTick(t *testing.T) {
	r := &countingRunner{}
	s := NewScheduler(r, 20*time.Millisecond, time.Second)

	go s.Start(context.Background())
	time.Sleep(70 * time.Millisecond)
	s.Stop()

	if got := r.count(); got < 2 {
		t.Fatalf("expected at least 2 runs, got %d", got)
	}
}

func TestScheduler_StopsOnContextCancel(t *testing.T) {
	r := &countingRunner{}
	s := NewScheduler(r, time.Hour, time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Start(ctx)
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("scheduler did not stop after context cancel")
	}
	if got := r.count(); got != 1 {
		t.Fatalf("expected the initial run only, got %d", got)
	}
}
