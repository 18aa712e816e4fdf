// Package trackedresource persists tracked resources in MySQL.
package trackedresource

import (
	"context"
	"database/sql"
	"errors"
	"strings"
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
	errMsg     = "failed to perform tracked resource transaction"
)

type trackedResourceStore struct {
	db          core.DB
	labelStore  core.ResourceLabelStore
	flightStore core.CleanupFlightStore
	logger      lumber.Logger
}

// New returns a new TrackedResourceStore.
func New(db core.DB,
	labelStore core.ResourceLabelStore,
	flightStore core.CleanupFlightStore,
	logger lumber.Logger) core.TrackedResourceStore {
	return &trackedResourceStore{db: db, labelStore: labelStore, flightStore: flightStore, logger: logger}
}

func (s *trackedResourceStore) Create(ctx context.Context, resource *core.TrackedResource) error {
	return s.db.ExecuteTransactionWithRetry(ctx, maxRetries, delay, maxJitter, errMsg, func(tx *sqlx.Tx) error {
		return s.CreateInTx(ctx, tx, resource)
	})
}

func (s *trackedResourceStore) CreateInTx(ctx context.Context, tx *sqlx.Tx, resource *core.TrackedResource) error {
	if err := resource.EncodeIdentity(); err != nil {
		return err
	}
	if _, err := tx.NamedExecContext(ctx, insertQuery, resource); err != nil {
		return errs.SQLError(err)
	}
	if len(resource.Labels) == 0 {
		return nil
	}
	return s.labelStore.CreateInTx(ctx, tx, resource.ID, resource.Labels)
}

func (s *trackedResourceStore) Find(ctx context.Context, filter *core.ResourceFilter) ([]*core.TrackedResource, error) {
	var resources []*core.TrackedResource
	err := s.db.ExecuteTransactionWithRetry(ctx, maxRetries, delay, maxJitter, errMsg, func(tx *sqlx.Tx) (err error) {
		resources, err = s.FindInTx(ctx, tx, filter)
		return err
	})
	return resources, err
}

func (s *trackedResourceStore) FindInTx(ctx context.Context,
	tx *sqlx.Tx,
	filter *core.ResourceFilter) ([]*core.TrackedResource, error) {
	query, args, err := buildFindQuery(filter)
	if err != nil {
		return nil, err
	}
	rows, err := tx.QueryxContext(ctx, tx.Rebind(query), args...)
	if err != nil {
		return nil, errs.SQLError(err)
	}
	defer rows.Close()
	resources := make([]*core.TrackedResource, 0)
	ids := make([]string, 0)
	for rows.Next() {
		resource := new(core.TrackedResource)
		if err := rows.StructScan(resource); err != nil {
			return nil, errs.SQLError(err)
		}
		if err := resource.DecodeIdentity(); err != nil {
			return nil, err
		}
		resources = append(resources, resource)
		ids = append(ids, resource.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, errs.SQLError(err)
	}
	if len(ids) == 0 {
		return resources, nil
	}
	labels, err := s.labelStore.FindInTx(ctx, tx, ids...)
	if err != nil {
		return nil, err
	}
	for _, resource := range resources {
		resource.Labels = labels[resource.ID]
	}
	return resources, nil
}

func (s *trackedResourceStore) FindByID(ctx context.Context, id string) (*core.TrackedResource, error) {
	var resource *core.TrackedResource
	err := s.db.ExecuteTransactionWithRetry(ctx, maxRetries, delay, maxJitter, errMsg, func(tx *sqlx.Tx) (err error) {
		resource, err = s.FindByIDInTx(ctx, tx, id, false)
		if err != nil {
			return err
		}
		labels, err := s.labelStore.FindInTx(ctx, tx, id)
		if err != nil {
			return err
		}
		resource.Labels = labels[id]
		return nil
	})
	return resource, err
}

func (s *trackedResourceStore) FindByIDInTx(ctx context.Context,
	tx *sqlx.Tx,
	id string,
	forUpdate bool) (*core.TrackedResource, error) {
	query := selectByIDQuery
	if forUpdate {
		query += forUpdateClause
	}
	resource := new(core.TrackedResource)
	if err := tx.QueryRowxContext(ctx, query, id).StructScan(resource); err != nil {
		return nil, errs.SQLError(err)
	}
	if err := resource.DecodeIdentity(); err != nil {
		return nil, err
	}
	return resource, nil
}

func (s *trackedResourceStore) UpdateState(ctx context.Context, id string, state core.ResourceState) error {
	return s.db.ExecuteTransactionWithRetry(ctx, maxRetries, delay, maxJitter, errMsg, func(tx *sqlx.Tx) error {
		return s.UpdateStateInTx(ctx, tx, id, state)
	})
}

func (s *trackedResourceStore) UpdateStateInTx(ctx context.Context, tx *sqlx.Tx, id string, state core.ResourceState) error {
	if _, err := tx.ExecContext(ctx, updateStateQuery, state, id); err != nil {
		return errs.SQLError(err)
	}
	return nil
}

func (s *trackedResourceStore) ClaimForCleaning(ctx context.Context,
	now time.Time,
	flightID string) (*core.TrackedResource, error) {
	var claimed *core.TrackedResource
	err := s.db.ExecuteTransactionWithRetry(ctx, maxRetries, delay, maxJitter, errMsg, func(tx *sqlx.Tx) error {
		claimed = nil
		resource := new(core.TrackedResource)
		if err := tx.QueryRowxContext(ctx, claimQuery, core.ResourceReady, now).StructScan(resource); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return nil
			}
			return err
		}
		if err := resource.DecodeIdentity(); err != nil {
			// an undecodable row would otherwise block every later claim
			s.logger.Errorf("failed to decode identity of resource %s, marking it %s: %v", resource.ID, core.ResourceError, err)
			return s.UpdateStateInTx(ctx, tx, resource.ID, core.ResourceError)
		}
		if err := s.UpdateStateInTx(ctx, tx, resource.ID, core.ResourceCleaning); err != nil {
			return err
		}
		flight := &core.CleanupFlight{
			FlightID:          flightID,
			TrackedResourceID: resource.ID,
			State:             core.FlightInitiating,
		}
		if err := s.flightStore.CreateInTx(ctx, tx, flight); err != nil {
			return err
		}
		resource.State = core.ResourceCleaning
		claimed = resource
		return nil
	})
	if err != nil {
		return nil, err
	}
	return claimed, nil
}

type resourceFlightRow struct {
	core.TrackedResource
	core.CleanupFlight
}

func (s *trackedResourceStore) FindByFlightState(ctx context.Context,
	state core.FlightState,
	afterFlightID string,
	limit int) ([]*core.ResourceFlight, error) {
	pairs := make([]*core.ResourceFlight, 0)
	err := s.db.Execute(func(db *sqlx.DB) error {
		rows, err := db.QueryxContext(ctx, findByFlightStateQuery, state, afterFlightID, limit)
		if err != nil {
			return errs.SQLError(err)
		}
		defer rows.Close()
		for rows.Next() {
			row := new(resourceFlightRow)
			if err := rows.StructScan(row); err != nil {
				return errs.SQLError(err)
			}
			resource := row.TrackedResource
			if err := resource.DecodeIdentity(); err != nil {
				s.logger.Errorf("failed to decode identity of resource %s: %v", resource.ID, err)
				continue
			}
			flight := row.CleanupFlight
			pairs = append(pairs, &core.ResourceFlight{Resource: &resource, Flight: &flight})
		}
		return errs.SQLError(rows.Err())
	})
	return pairs, err
}

func (s *trackedResourceStore) CountByState(ctx context.Context) ([]*core.ResourceStateCount, error) {
	counts := make([]*core.ResourceStateCount, 0)
	err := s.db.Execute(func(db *sqlx.DB) error {
		if err := db.SelectContext(ctx, &counts, countByStateQuery); err != nil {
			return errs.SQLError(err)
		}
		return nil
	})
	return counts, err
}

func stateStrings(states []core.ResourceState) []string {
	s := make([]string, 0, len(states))
	for _, state := range states {
		s = append(s, string(state))
	}
	return s
}

func buildFindQuery(filter *core.ResourceFilter) (query string, args []interface{}, err error) {
	where := []string{"1 = 1"}
	arg := map[string]interface{}{}
	if filter.Identity != nil {
		key, err := core.IdentityKey(filter.Identity)
		if err != nil {
			return "", nil, err
		}
		where = append(where, "resource_key = :resource_key")
		arg["resource_key"] = key
	}
	if len(filter.AllowedStates) > 0 {
		where = append(where, "state IN (:allowed_states)")
		arg["allowed_states"] = stateStrings(filter.AllowedStates)
	}
	if len(filter.ForbiddenStates) > 0 {
		where = append(where, "state NOT IN (:forbidden_states)")
		arg["forbidden_states"] = stateStrings(filter.ForbiddenStates)
	}
	if filter.ExpiredBy != nil {
		where = append(where, "expiration <= :expired_by")
		arg["expired_by"] = *filter.ExpiredBy
	}
	query = selectQuery + " WHERE " + strings.Join(where, " AND ") + " ORDER BY expiration, id"
	if filter.Limit > 0 {
		query += " LIMIT :limit OFFSET :offset"
		arg["limit"] = filter.Limit
		arg["offset"] = filter.Offset
	}
	if filter.ForUpdate {
		query += forUpdateClause
	}
	query, args, err = sqlx.Named(query, arg)
	if err != nil {
		return "", nil, err
	}
	return sqlx.In(query, args...)
}

const insertQuery = `INSERT
INTO
	tracked_resource(id,
	resource_type,
	resource_key,
	resource_identity,
	state,
	creation,
	expiration,
	metadata)
VALUES (:id,
:resource_type,
:resource_key,
:resource_identity,
:state,
:creation,
:expiration,
:metadata)`

const selectColumns = `id,
	resource_type,
	resource_key,
	resource_identity,
	state,
	creation,
	expiration,
	metadata`

const selectQuery = `SELECT ` + selectColumns + ` FROM tracked_resource`

const selectByIDQuery = selectQuery + ` WHERE id = ?`

const forUpdateClause = ` FOR UPDATE`

const updateStateQuery = `UPDATE tracked_resource SET state = ? WHERE id = ?`

const claimQuery = selectQuery + `
WHERE
	state = ?
	AND expiration <= ?
ORDER BY
	expiration,
	id
LIMIT 1
FOR UPDATE SKIP LOCKED`

const findByFlightStateQuery = `SELECT
	r.id,
	r.resource_type,
	r.resource_key,
	r.resource_identity,
	r.state,
	r.creation,
	r.expiration,
	r.metadata,
	f.flight_id,
	f.tracked_resource_id,
	f.flight_state
FROM
	cleanup_flight f
JOIN tracked_resource r ON
	r.id = f.tracked_resource_id
WHERE
	f.flight_state = ?
	AND f.flight_id > ?
ORDER BY
	f.flight_id
LIMIT ?`

const countByStateQuery = `SELECT
	resource_type,
	state,
	COUNT(*) AS count
FROM
	tracked_resource
GROUP BY
	resource_type,
	state`
