package engine

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"vibeline/internal/config"
	"vibeline/internal/events"
	"vibeline/internal/llm"
	"vibeline/internal/repo"
)

type Engine struct {
	DB        *sql.DB
	Repo      repo.Repo
	Events    events.Writer
	Config    *config.Config
	Completer llm.Completer
	Now       func() time.Time
}

func New(db *sql.DB, cfg *config.Config) Engine {
	return Engine{
		DB:     db,
		Repo:   repo.Repo{DB: db},
		Events: events.Writer{DB: db},
		Config: cfg,
		Now:    time.Now,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) nowRFC3339() string {
	return e.now().UTC().Format(time.RFC3339)
}

func (e Engine) storeTimeout() time.Duration {
	if e.Config != nil {
		return e.Config.StoreTimeout()
	}
	return 5 * time.Second
}

func (e Engine) readRetries() int {
	if e.Config != nil && e.Config.Store.ReadRetries > 0 {
		return e.Config.Store.ReadRetries
	}
	return 0
}

// withWriteTimeout bounds a non-idempotent store call. Writes are never
// retried so a timed-out assign or decide cannot take effect twice.
func (e Engine) withWriteTimeout(ctx context.Context, fn func(ctx context.Context) error) error {
	opCtx, cancel := context.WithTimeout(ctx, e.storeTimeout())
	defer cancel()
	err := fn(opCtx)
	if isDeadline(err, opCtx) {
		return ErrTimeout
	}
	return err
}

// withReadTimeout bounds an idempotent read, retrying a bounded number of
// times on timeout. Cancellation of the parent context stops the retries
// and is reported as cancellation, not as a timeout.
func (e Engine) withReadTimeout(ctx context.Context, fn func(ctx context.Context) error) error {
	attempts := e.readRetries() + 1
	for i := 0; i < attempts; i++ {
		opCtx, cancel := context.WithTimeout(ctx, e.storeTimeout())
		err := fn(opCtx)
		cancel()
		if !isDeadline(err, opCtx) {
			return err
		}
		if errors.Is(ctx.Err(), context.Canceled) {
			return ctx.Err()
		}
		if ctx.Err() != nil {
			break
		}
	}
	return ErrTimeout
}

func isDeadline(err error, ctx context.Context) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded)
}
