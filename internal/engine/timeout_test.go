package engine

import (
	"context"
	"errors"
	"testing"

	"vibeline/internal/config"
)

func TestReadRetryReportsCancellation(t *testing.T) {
	e := Engine{Config: config.Default()}
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	err := e.withReadTimeout(ctx, func(context.Context) error {
		calls++
		cancel()
		return context.DeadlineExceeded
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected no retry after cancellation, got %d calls", calls)
	}
}

func TestReadRetryBudgetEndsInTimeout(t *testing.T) {
	e := Engine{Config: config.Default()}
	calls := 0
	err := e.withReadTimeout(context.Background(), func(context.Context) error {
		calls++
		return context.DeadlineExceeded
	})
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}
	if want := e.readRetries() + 1; calls != want {
		t.Fatalf("expected %d attempts, got %d", want, calls)
	}
}
