package core

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"
	"gopkg.in/guregu/null.v4/zero"
)

// ResourceState is the lifecycle state of a tracked resource.
type ResourceState string

// Resource states.
const (
	ResourceReady      ResourceState = "READY"
	ResourceCleaning   ResourceState = "CLEANING"
	ResourceDone       ResourceState = "DONE"
	ResourceError      ResourceState = "ERROR"
	ResourceAbandoned  ResourceState = "ABANDONED"
	ResourceDuplicated ResourceState = "DUPLICATED"
)

// ResourceStates lists every resource state.
var ResourceStates = []ResourceState{
	ResourceReady,
	ResourceCleaning,
	ResourceDone,
	ResourceError,
	ResourceAbandoned,
	ResourceDuplicated,
}

// Valid reports whether s is a known resource state.
func (s ResourceState) Valid() bool {
	for _, state := range ResourceStates {
		if s == state {
			return true
		}
	}
	return false
}

// TrackedResource is a cloud resource janitor is responsible for deleting after it expires.
type TrackedResource struct {
	ID          string            `db:"id"`
	Identity    ResourceIdentity  `db:"-"`
	Kind        ResourceKind      `db:"resource_type"`
	Key         string            `db:"resource_key"`
	RawIdentity string            `db:"resource_identity"`
	State       ResourceState     `db:"state"`
	Creation    time.Time         `db:"creation"`
	Expiration  time.Time         `db:"expiration"`
	Metadata    zero.String       `db:"metadata"`
	Labels      map[string]string `db:"-"`
}

// EncodeIdentity fills the persisted identity columns from Identity.
func (r *TrackedResource) EncodeIdentity() error {
	raw, err := MarshalIdentity(r.Identity)
	if err != nil {
		return err
	}
	key, err := IdentityKey(r.Identity)
	if err != nil {
		return err
	}
	r.Kind = r.Identity.Kind()
	r.Key = key
	r.RawIdentity = string(raw)
	return nil
}

// DecodeIdentity restores Identity from the persisted identity columns.
func (r *TrackedResource) DecodeIdentity() error {
	identity, err := UnmarshalIdentity(r.Kind, []byte(r.RawIdentity))
	if err != nil {
		return err
	}
	r.Identity = identity
	return nil
}

// ResourceFilter selects tracked resources. Zero values do not filter.
type ResourceFilter struct {
	Identity        ResourceIdentity
	AllowedStates   []ResourceState
	ForbiddenStates []ResourceState
	ExpiredBy       *time.Time
	Offset          int
	Limit           int
	// ForUpdate locks the matched rows and the scanned identity range until the
	// transaction ends, so concurrent registrations of one identity serialize.
	ForUpdate bool
}

// ResourceStateCount is the number of resources of a kind in a state.
type ResourceStateCount struct {
	Kind  ResourceKind  `db:"resource_type"`
	State ResourceState `db:"state"`
	Count int64         `db:"count"`
}

// CreateResourceRequest is the payload registering a resource for cleanup.
type CreateResourceRequest struct {
	Identity   IdentityEnvelope  `json:"identity" binding:"required"`
	Creation   time.Time         `json:"creation" binding:"required"`
	Expiration time.Time         `json:"expiration" binding:"required"`
	Metadata   zero.String       `json:"metadata"`
	Labels     map[string]string `json:"labels"`
}

// TrackedResourceStore defines datastore operation for tracked resources.
type TrackedResourceStore interface {
	// Create persists a new resource and its labels.
	Create(ctx context.Context, resource *TrackedResource) error
	// CreateInTx persists a new resource and its labels within the transaction.
	CreateInTx(ctx context.Context, tx *sqlx.Tx, resource *TrackedResource) error
	// Find returns the resources matching the filter.
	Find(ctx context.Context, filter *ResourceFilter) ([]*TrackedResource, error)
	// FindInTx returns the resources matching the filter within the transaction.
	FindInTx(ctx context.Context, tx *sqlx.Tx, filter *ResourceFilter) ([]*TrackedResource, error)
	// FindByID returns the resource with the id.
	FindByID(ctx context.Context, id string) (*TrackedResource, error)
	// FindByIDInTx returns the resource with the id, locking the row when forUpdate is set.
	FindByIDInTx(ctx context.Context, tx *sqlx.Tx, id string, forUpdate bool) (*TrackedResource, error)
	// UpdateState sets the state of a resource.
	UpdateState(ctx context.Context, id string, state ResourceState) error
	// UpdateStateInTx sets the state of a resource within the transaction.
	UpdateStateInTx(ctx context.Context, tx *sqlx.Tx, id string, state ResourceState) error
	// ClaimForCleaning atomically moves one expired READY resource to CLEANING and records
	// a flight in INITIATING. Returns nil when nothing is eligible.
	ClaimForCleaning(ctx context.Context, now time.Time, flightID string) (*TrackedResource, error)
	// FindByFlightState returns resources paired with their flight in the given state,
	// ordered by flight id and starting after afterFlightID when it is not empty.
	FindByFlightState(ctx context.Context, state FlightState, afterFlightID string, limit int) ([]*ResourceFlight, error)
	// CountByState returns the number of resources per kind and state.
	CountByState(ctx context.Context) ([]*ResourceStateCount, error)
}

// ResourceLabelStore defines datastore operation for resource labels.
type ResourceLabelStore interface {
	// CreateInTx persists the labels of a resource within the transaction.
	CreateInTx(ctx context.Context, tx *sqlx.Tx, resourceID string, labels map[string]string) error
	// FindInTx returns the labels of the resources keyed by resource id.
	FindInTx(ctx context.Context, tx *sqlx.Tx, resourceIDs ...string) (map[string]map[string]string, error)
}

// ResourceLifecycleService registers resources and applies admin transitions.
type ResourceLifecycleService interface {
	// CreateResource registers a resource, resolving duplicates of the same identity.
	CreateResource(ctx context.Context, req *CreateResourceRequest) (*TrackedResource, error)
	// AbandonResource stops janitor from cleaning up the identity.
	AbandonResource(ctx context.Context, identity ResourceIdentity) error
	// BumpResource makes an abandoned or failed identity eligible for cleanup again.
	BumpResource(ctx context.Context, identity ResourceIdentity) error
	// UpdateResourceState dispatches an admin state change to abandon or bump.
	UpdateResourceState(ctx context.Context, identity ResourceIdentity, state ResourceState) error
	// GetResource returns the resource with the id.
	GetResource(ctx context.Context, id string) (*TrackedResource, error)
	// GetResources returns every resource registered for the identity.
	GetResources(ctx context.Context, identity ResourceIdentity) ([]*TrackedResource, error)
	// ListResources returns a page of resources.
	ListResources(ctx context.Context, filter *ResourceFilter) ([]*TrackedResource, error)
}
