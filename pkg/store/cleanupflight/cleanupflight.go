// Package cleanupflight persists cleanup flights in MySQL.
package cleanupflight

import (
	"context"
	"time"

	"github.com/LambdaTest/janitor/pkg/core"
	errs "github.com/LambdaTest/janitor/pkg/errors"
	"github.com/LambdaTest/janitor/pkg/lumber"
	"github.com/jmoiron/sqlx"
)

const (
	maxRetries = 3
	delay      = 250 * time.Millisecond
	maxJitter  = 100 * time.Millisecond
	errMsg     = "failed to perform cleanup flight transaction"
)

type cleanupFlightStore struct {
	db     core.DB
	logger lumber.Logger
}

// New returns a new CleanupFlightStore.
func New(db core.DB, logger lumber.Logger) core.CleanupFlightStore {
	return &cleanupFlightStore{db: db, logger: logger}
}

func (s *cleanupFlightStore) CreateInTx(ctx context.Context, tx *sqlx.Tx, flight *core.CleanupFlight) error {
	if _, err := tx.NamedExecContext(ctx, insertQuery, flight); err != nil {
		return errs.SQLError(err)
	}
	return nil
}

func (s *cleanupFlightStore) UpdateState(ctx context.Context, flightID string, state core.FlightState) error {
	return s.db.ExecuteTransactionWithRetry(ctx, maxRetries, delay, maxJitter, errMsg, func(tx *sqlx.Tx) error {
		res, err := tx.ExecContext(ctx, updateStateQuery, state, flightID)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			// rows affected is zero both for a missing flight and an unchanged state
			var exists bool
			if err := tx.GetContext(ctx, &exists, existsQuery, flightID); err != nil {
				return err
			}
			if !exists {
				return errs.ErrRowsNotFound
			}
		}
		return nil
	})
}

func (s *cleanupFlightStore) UpdateStateInTx(ctx context.Context,
	tx *sqlx.Tx,
	flightID string,
	from, to core.FlightState) (int64, error) {
	res, err := tx.ExecContext(ctx, transitionQuery, to, flightID, from)
	if err != nil {
		return 0, errs.SQLError(err)
	}
	return res.RowsAffected()
}

func (s *cleanupFlightStore) FindState(ctx context.Context, flightID string) (core.FlightState, error) {
	var state core.FlightState
	err := s.db.Execute(func(db *sqlx.DB) error {
		if err := db.GetContext(ctx, &state, selectStateQuery, flightID); err != nil {
			return errs.SQLError(err)
		}
		return nil
	})
	return state, err
}

const insertQuery = `INSERT
INTO
	cleanup_flight(flight_id,
	tracked_resource_id,
	flight_state)
VALUES (:flight_id,
:tracked_resource_id,
:flight_state)`

const updateStateQuery = `UPDATE cleanup_flight SET flight_state = ? WHERE flight_id = ?`

const transitionQuery = `UPDATE cleanup_flight SET flight_state = ? WHERE flight_id = ? AND flight_state = ?`

const existsQuery = `SELECT EXISTS(SELECT 1 FROM cleanup_flight WHERE flight_id = ?)`

const selectStateQuery = `SELECT flight_state FROM cleanup_flight WHERE flight_id = ?`
