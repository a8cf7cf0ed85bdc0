package exchange

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"

	"github.com/xtrntr/spot/internal/models"
)

type fakeMatcher struct {
	mu       sync.Mutex
	attempts []int64
	err      error
	errOnce  error
	done     chan struct{}
}

func (f *fakeMatcher) AttemptMatch(_ context.Context, orderID int64) (*models.Trade, error) {
	f.mu.Lock()
	f.attempts = append(f.attempts, orderID)
	err := f.err
	if f.errOnce != nil {
		err = f.errOnce
		f.errOnce = nil
	}
	f.mu.Unlock()
	if f.done != nil {
		f.done <- struct{}{}
	}
	return nil, err
}

func (f *fakeMatcher) seen() []int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]int64, len(f.attempts))
	copy(out, f.attempts)
	return out
}

func TestDispatcher_DeliversInOrder(t *testing.T) {
	matcher := &fakeMatcher{done: make(chan struct{})}
	d := NewDispatcher(matcher, 16, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go d.Run(ctx)

	for _, id := range []int64{7, 8, 9} {
		d.Enqueue(id)
	}
	for i := 0; i < 3; i++ {
		select {
		case <-matcher.done:
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for match attempts")
		}
	}

	got := matcher.seen()
	if len(got) != 3 || got[0] != 7 || got[1] != 8 || got[2] != 9 {
		t.Errorf("attempts = %v, want [7 8 9]", got)
	}
}

func TestDispatcher_SurvivesMatcherErrors(t *testing.T) {
	matcher := &fakeMatcher{done: make(chan struct{}), err: errors.New("boom")}
	d := NewDispatcher(matcher, 16, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go d.Run(ctx)

	d.Enqueue(1)
	d.Enqueue(2)
	for i := 0; i < 2; i++ {
		select {
		case <-matcher.done:
		case <-time.After(2 * time.Second):
			t.Fatal("dispatcher stopped after a matcher error")
		}
	}

	if got := matcher.seen(); len(got) != 2 {
		t.Errorf("attempts = %v, want both triggers delivered", got)
	}
}

func TestDispatcher_RequeuesTransientFailures(t *testing.T) {
	// First attempt hits a serialization conflict; the trigger must come
	// around again rather than being lost.
	matcher := &fakeMatcher{
		done:    make(chan struct{}),
		errOnce: &pgconn.PgError{Code: "40001"},
	}
	d := NewDispatcher(matcher, 16, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go d.Run(ctx)

	d.Enqueue(5)
	for i := 0; i < 2; i++ {
		select {
		case <-matcher.done:
		case <-time.After(2 * time.Second):
			t.Fatal("transient failure was not retried")
		}
	}

	got := matcher.seen()
	if len(got) != 2 || got[0] != 5 || got[1] != 5 {
		t.Errorf("attempts = %v, want [5 5]", got)
	}
}

func TestDispatcher_StopsOnCancel(t *testing.T) {
	matcher := &fakeMatcher{}
	d := NewDispatcher(matcher, 1, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() {
		d.Run(ctx)
		close(stopped)
	}()

	cancel()
	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
