package run

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"go.uber.org/zap"
)

func TestRun_ExitCodes(t *testing.T) {
	r := New(zap.NewNop())
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"clean", nil, 0},
		{"server closed", http.ErrServerClosed, 0},
		{"failure", errors.New("boom"), 1},
	}
	for _, tc := range tests {
		got := r.run(context.Background(), func(context.Context) error { return tc.err })
		if got != tc.want {
			t.Fatalf("%s: expected %d, got %d", tc.name, tc.want, got)
		}
	}
}

func TestRun_ContextCancelled(t *testing.T) {
	r := New(zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	got := r.run(ctx, func(ctx context.Context) error {
		<-ctx.Done()
		time.Sleep(10 * time.Millisecond)
		return errors.New("late")
	})
	if got != 0 {
		t.Fatalf("expected 0 on cancellation, got %d", got)
	}
}

func TestGraceful_BoundedContext(t *testing.T) {
	r := New(zap.NewNop())
	r.ShutdownTimeout = 50 * time.Millisecond
	var hadDeadline bool
	r.Graceful(func(ctx context.Context) error {
		_, hadDeadline = ctx.Deadline()
		return nil
	})
	if !hadDeadline {
		t.Fatal("expected shutdown context to carry a deadline")
	}
}
