package core

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"
)

// FlightState is the state of a cleanup flight as recorded by janitor.
type FlightState string

// Flight states.
const (
	FlightInitiating FlightState = "INITIATING"
	FlightInFlight   FlightState = "IN_FLIGHT"
	FlightFinishing  FlightState = "FINISHING"
	FlightFinished   FlightState = "FINISHED"
	FlightFatal      FlightState = "FATAL"
)

// CleanupFlight is one attempt at cleaning up a tracked resource.
type CleanupFlight struct {
	FlightID          string      `db:"flight_id"`
	TrackedResourceID string      `db:"tracked_resource_id"`
	State             FlightState `db:"flight_state"`
}

// ResourceFlight pairs a resource with one of its flights.
type ResourceFlight struct {
	Resource *TrackedResource
	Flight   *CleanupFlight
}

// CleanupFlightStore defines datastore operation for cleanup flights.
type CleanupFlightStore interface {
	// CreateInTx persists a new flight within the transaction.
	CreateInTx(ctx context.Context, tx *sqlx.Tx, flight *CleanupFlight) error
	// UpdateState sets the state of a flight.
	UpdateState(ctx context.Context, flightID string, state FlightState) error
	// UpdateStateInTx moves a flight from one state to another within the transaction
	// and returns the number of flights changed.
	UpdateStateInTx(ctx context.Context, tx *sqlx.Tx, flightID string, from, to FlightState) (int64, error)
	// FindState returns the state of a flight.
	FindState(ctx context.Context, flightID string) (FlightState, error)
}

// FlightManager claims expired resources and hands them to the workflow runtime.
type FlightManager interface {
	// SubmitFlight claims one expired resource and submits a flight for it.
	// ok is false when nothing was claimed.
	SubmitFlight(ctx context.Context, now time.Time) (flightID string, ok bool)
	// RecoverUnsubmittedFlights resubmits flights that were claimed but never reached the runtime.
	// It must not run concurrently with SubmitFlight.
	RecoverUnsubmittedFlights(ctx context.Context) int
}
