package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

const (
	sqlStateSerializationFailure = "40001"
	sqlStateDeadlockDetected     = "40P01"
	sqlStateExclusionViolation   = "23P01"
)

// TxBeginner is satisfied by *pgxpool.Pool and pgxmock pools.
type TxBeginner interface {
	BeginTx(ctx context.Context, txOptions pgx.TxOptions) (pgx.Tx, error)
}

// TxRunner executes callbacks in SERIALIZABLE transactions and retries the
// whole callback when Postgres reports a transient conflict.
type TxRunner struct {
	db         TxBeginner
	maxRetries int
	backoff    time.Duration
	onRetry    func(attempt int, err error)
}

func NewTxRunner(db TxBeginner, maxRetries int) *TxRunner {
	if maxRetries < 0 {
		maxRetries = 0
	}
	return &TxRunner{db: db, maxRetries: maxRetries, backoff: 20 * time.Millisecond}
}

// OnRetry registers a hook invoked before each retry.
func (r *TxRunner) OnRetry(fn func(attempt int, err error)) *TxRunner {
	r.onRetry = fn
	return r
}

func (r *TxRunner) Run(ctx context.Context, fn func(tx pgx.Tx) error) error {
	wait := r.backoff
	for attempt := 0; ; attempt++ {
		err := r.runOnce(ctx, fn)
		if err == nil {
			return nil
		}
		if !IsRetryable(err) || attempt >= r.maxRetries {
			return err
		}
		if r.onRetry != nil {
			r.onRetry(attempt+1, err)
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
		wait *= 2
	}
}

func (r *TxRunner) runOnce(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := r.db.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}

	if err := fn(tx); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// IsRetryable reports serialization failures and deadlocks.
func IsRetryable(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	return pgErr.Code == sqlStateSerializationFailure || pgErr.Code == sqlStateDeadlockDetected
}

// IsExclusionViolation reports a violated EXCLUDE constraint.
func IsExclusionViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == sqlStateExclusionViolation
}
