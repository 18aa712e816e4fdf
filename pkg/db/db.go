package db

import (
	"context"
	"errors"
	"time"

	errs "github.com/LambdaTest/janitor/pkg/errors"
	"github.com/LambdaTest/janitor/pkg/lumber"
	"github.com/avast/retry-go/v4"
	"github.com/jmoiron/sqlx"
)

// DB is a pool of zero or more underlying connections to
// the janitor database.
type DB struct {
	conn   *sqlx.DB
	logger lumber.Logger
}

// Execute runs fn with the connection pool and returns its error.
func (db *DB) Execute(fn func(conn *sqlx.DB) error) error {
	return fn(db.conn)
}

// ExecuteTransactionWithRetry runs fn in a transaction. The whole transaction is retried
// on deadlocks and lock wait timeouts, any other error is returned after rollback.
// Returned errors are mapped through errs.SQLError.
func (db *DB) ExecuteTransactionWithRetry(
	ctx context.Context,
	maxRetries uint,
	delay,
	maxJitter time.Duration,
	errorMsg string,
	fn func(tx *sqlx.Tx) error) error {
	err := retry.Do(func() error {
		return db.executeTransaction(ctx, fn)
	}, retry.Context(ctx),
		retry.LastErrorOnly(true),
		retry.Attempts(maxRetries),
		retry.Delay(delay),
		retry.MaxJitter(maxJitter),
		retry.RetryIf(transient),
		retry.OnRetry(func(n uint, err error) {
			db.logger.Warnf("%s, retry %d, error: %+v", errorMsg, n, err)
		}),
	)
	return errs.SQLError(err)
}

func transient(err error) bool {
	parsed := errs.SQLError(err)
	return errors.Is(parsed, errs.ErrDeadlock) || errors.Is(parsed, errs.ErrLockWaitTimeout)
}

// executeTransaction commits when fn succeeds and rolls back otherwise. A panic in fn
// rolls back and is re-raised.
func (db *DB) executeTransaction(ctx context.Context, fn func(tx *sqlx.Tx) error) (err error) {
	tx, err := db.conn.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}

	defer func() {
		if p := recover(); p != nil {
			db.rollback(tx)
			db.logger.Errorf("panic while executing query: %+v", p)
			panic(p)
		}
		if err != nil {
			// a cancelled context already rolled the transaction back, see BeginTxx
			if !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
				db.rollback(tx)
			}
			return
		}
		err = tx.Commit()
	}()
	err = fn(tx)
	return err
}

func (db *DB) rollback(tx *sqlx.Tx) {
	if rerr := tx.Rollback(); rerr != nil {
		db.logger.Errorf("error while performing rollback, %v", rerr)
	}
}

// Close closes the database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}
