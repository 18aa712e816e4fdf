// Package inmem keeps janitor state in process memory. It implements core.DB and the
// store interfaces with the same semantics as the MySQL stores, serializing every
// transaction behind one mutex. Store methods ending in InTx must only be called
// inside ExecuteTransactionWithRetry or Execute of the same DB.
package inmem

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/LambdaTest/janitor/pkg/core"
	errs "github.com/LambdaTest/janitor/pkg/errors"
	"github.com/jmoiron/sqlx"
)

// DB is an in-memory core.DB.
type DB struct {
	mu        sync.Mutex
	resources map[string]*core.TrackedResource
	flights   map[string]*core.CleanupFlight
}

// NewDB returns an empty in-memory database.
func NewDB() *DB {
	return &DB{
		resources: make(map[string]*core.TrackedResource),
		flights:   make(map[string]*core.CleanupFlight),
	}
}

// Close implements core.DB.
func (d *DB) Close() error {
	return nil
}

// Execute runs fn while holding the database lock. fn receives a nil connection.
func (d *DB) Execute(fn func(conn *sqlx.DB) error) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return fn(nil)
}

// ExecuteTransactionWithRetry runs fn while holding the database lock and restores the
// previous state when fn fails. fn receives a nil transaction. Transactions never
// conflict, so nothing is retried.
func (d *DB) ExecuteTransactionWithRetry(ctx context.Context,
	maxRetries uint,
	delay,
	maxJitter time.Duration,
	errorMsg string,
	fn func(tx *sqlx.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	resources, flights := d.snapshot()
	if err := fn(nil); err != nil {
		d.resources, d.flights = resources, flights
		return err
	}
	return nil
}

func (d *DB) snapshot() (map[string]*core.TrackedResource, map[string]*core.CleanupFlight) {
	resources := make(map[string]*core.TrackedResource, len(d.resources))
	for id, r := range d.resources {
		resources[id] = cloneResource(r)
	}
	flights := make(map[string]*core.CleanupFlight, len(d.flights))
	for id, f := range d.flights {
		flight := *f
		flights[id] = &flight
	}
	return resources, flights
}

func cloneResource(r *core.TrackedResource) *core.TrackedResource {
	c := *r
	if r.Labels != nil {
		c.Labels = make(map[string]string, len(r.Labels))
		for k, v := range r.Labels {
			c.Labels[k] = v
		}
	}
	return &c
}

// sortedResources returns the stored resources ordered by expiration then id.
func (d *DB) sortedResources() []*core.TrackedResource {
	resources := make([]*core.TrackedResource, 0, len(d.resources))
	for _, r := range d.resources {
		resources = append(resources, r)
	}
	sort.Slice(resources, func(i, j int) bool {
		if !resources[i].Expiration.Equal(resources[j].Expiration) {
			return resources[i].Expiration.Before(resources[j].Expiration)
		}
		return resources[i].ID < resources[j].ID
	})
	return resources
}

type trackedResourceStore struct {
	db *DB
}

// NewTrackedResourceStore returns a TrackedResourceStore backed by db.
func NewTrackedResourceStore(db *DB) core.TrackedResourceStore {
	return &trackedResourceStore{db: db}
}

func (s *trackedResourceStore) Create(ctx context.Context, resource *core.TrackedResource) error {
	return s.db.ExecuteTransactionWithRetry(ctx, 1, 0, 0, "", func(tx *sqlx.Tx) error {
		return s.CreateInTx(ctx, tx, resource)
	})
}

func (s *trackedResourceStore) CreateInTx(ctx context.Context, tx *sqlx.Tx, resource *core.TrackedResource) error {
	if err := resource.EncodeIdentity(); err != nil {
		return err
	}
	if _, ok := s.db.resources[resource.ID]; ok {
		return errs.ErrConflict
	}
	s.db.resources[resource.ID] = cloneResource(resource)
	return nil
}

func (s *trackedResourceStore) Find(ctx context.Context, filter *core.ResourceFilter) ([]*core.TrackedResource, error) {
	var resources []*core.TrackedResource
	err := s.db.Execute(func(conn *sqlx.DB) (err error) {
		resources, err = s.FindInTx(ctx, nil, filter)
		return err
	})
	return resources, err
}

func (s *trackedResourceStore) FindInTx(ctx context.Context,
	tx *sqlx.Tx,
	filter *core.ResourceFilter) ([]*core.TrackedResource, error) {
	key := ""
	if filter.Identity != nil {
		var err error
		if key, err = core.IdentityKey(filter.Identity); err != nil {
			return nil, err
		}
	}
	matched := make([]*core.TrackedResource, 0)
	for _, r := range s.db.sortedResources() {
		if key != "" && r.Key != key {
			continue
		}
		if len(filter.AllowedStates) > 0 && !containsState(filter.AllowedStates, r.State) {
			continue
		}
		if containsState(filter.ForbiddenStates, r.State) {
			continue
		}
		if filter.ExpiredBy != nil && r.Expiration.After(*filter.ExpiredBy) {
			continue
		}
		matched = append(matched, cloneResource(r))
	}
	if filter.Limit > 0 {
		if filter.Offset >= len(matched) {
			return []*core.TrackedResource{}, nil
		}
		end := filter.Offset + filter.Limit
		if end > len(matched) {
			end = len(matched)
		}
		matched = matched[filter.Offset:end]
	}
	return matched, nil
}

func containsState(states []core.ResourceState, state core.ResourceState) bool {
	for _, s := range states {
		if s == state {
			return true
		}
	}
	return false
}

func (s *trackedResourceStore) FindByID(ctx context.Context, id string) (*core.TrackedResource, error) {
	var resource *core.TrackedResource
	err := s.db.Execute(func(conn *sqlx.DB) (err error) {
		resource, err = s.FindByIDInTx(ctx, nil, id, false)
		return err
	})
	return resource, err
}

func (s *trackedResourceStore) FindByIDInTx(ctx context.Context,
	tx *sqlx.Tx,
	id string,
	forUpdate bool) (*core.TrackedResource, error) {
	r, ok := s.db.resources[id]
	if !ok {
		return nil, errs.ErrRowsNotFound
	}
	return cloneResource(r), nil
}

func (s *trackedResourceStore) UpdateState(ctx context.Context, id string, state core.ResourceState) error {
	return s.db.ExecuteTransactionWithRetry(ctx, 1, 0, 0, "", func(tx *sqlx.Tx) error {
		return s.UpdateStateInTx(ctx, tx, id, state)
	})
}

func (s *trackedResourceStore) UpdateStateInTx(ctx context.Context, tx *sqlx.Tx, id string, state core.ResourceState) error {
	if r, ok := s.db.resources[id]; ok {
		r.State = state
	}
	return nil
}

func (s *trackedResourceStore) ClaimForCleaning(ctx context.Context,
	now time.Time,
	flightID string) (*core.TrackedResource, error) {
	var claimed *core.TrackedResource
	err := s.db.ExecuteTransactionWithRetry(ctx, 1, 0, 0, "", func(tx *sqlx.Tx) error {
		for _, r := range s.db.sortedResources() {
			if r.State != core.ResourceReady || r.Expiration.After(now) {
				continue
			}
			if _, ok := s.db.flights[flightID]; ok {
				return errs.ErrConflict
			}
			r.State = core.ResourceCleaning
			s.db.flights[flightID] = &core.CleanupFlight{
				FlightID:          flightID,
				TrackedResourceID: r.ID,
				State:             core.FlightInitiating,
			}
			claimed = cloneResource(r)
			return nil
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return claimed, nil
}

func (s *trackedResourceStore) FindByFlightState(ctx context.Context,
	state core.FlightState,
	afterFlightID string,
	limit int) ([]*core.ResourceFlight, error) {
	pairs := make([]*core.ResourceFlight, 0)
	err := s.db.Execute(func(conn *sqlx.DB) error {
		ids := make([]string, 0)
		for id, f := range s.db.flights {
			if f.State == state && id > afterFlightID {
				ids = append(ids, id)
			}
		}
		sort.Strings(ids)
		for _, id := range ids {
			if len(pairs) >= limit {
				break
			}
			f := *s.db.flights[id]
			r, ok := s.db.resources[f.TrackedResourceID]
			if !ok {
				continue
			}
			pairs = append(pairs, &core.ResourceFlight{Resource: cloneResource(r), Flight: &f})
		}
		return nil
	})
	return pairs, err
}

func (s *trackedResourceStore) CountByState(ctx context.Context) ([]*core.ResourceStateCount, error) {
	type bucket struct {
		kind  core.ResourceKind
		state core.ResourceState
	}
	counts := make([]*core.ResourceStateCount, 0)
	err := s.db.Execute(func(conn *sqlx.DB) error {
		buckets := make(map[bucket]*core.ResourceStateCount)
		for _, r := range s.db.sortedResources() {
			b := bucket{kind: r.Kind, state: r.State}
			if _, ok := buckets[b]; !ok {
				buckets[b] = &core.ResourceStateCount{Kind: r.Kind, State: r.State}
				counts = append(counts, buckets[b])
			}
			buckets[b].Count++
		}
		return nil
	})
	return counts, err
}

type cleanupFlightStore struct {
	db *DB
}

// NewCleanupFlightStore returns a CleanupFlightStore backed by db.
func NewCleanupFlightStore(db *DB) core.CleanupFlightStore {
	return &cleanupFlightStore{db: db}
}

func (s *cleanupFlightStore) CreateInTx(ctx context.Context, tx *sqlx.Tx, flight *core.CleanupFlight) error {
	if _, ok := s.db.flights[flight.FlightID]; ok {
		return errs.ErrConflict
	}
	f := *flight
	s.db.flights[flight.FlightID] = &f
	return nil
}

func (s *cleanupFlightStore) UpdateState(ctx context.Context, flightID string, state core.FlightState) error {
	return s.db.ExecuteTransactionWithRetry(ctx, 1, 0, 0, "", func(tx *sqlx.Tx) error {
		f, ok := s.db.flights[flightID]
		if !ok {
			return errs.ErrRowsNotFound
		}
		f.State = state
		return nil
	})
}

func (s *cleanupFlightStore) UpdateStateInTx(ctx context.Context,
	tx *sqlx.Tx,
	flightID string,
	from, to core.FlightState) (int64, error) {
	f, ok := s.db.flights[flightID]
	if !ok || f.State != from {
		return 0, nil
	}
	f.State = to
	return 1, nil
}

func (s *cleanupFlightStore) FindState(ctx context.Context, flightID string) (core.FlightState, error) {
	var state core.FlightState
	err := s.db.Execute(func(conn *sqlx.DB) error {
		f, ok := s.db.flights[flightID]
		if !ok {
			return errs.ErrRowsNotFound
		}
		state = f.State
		return nil
	})
	return state, err
}
