package core

import (
	"context"
	"time"

	jsoniter "github.com/json-iterator/go"
	"gopkg.in/guregu/null.v4/zero"
)

// RuntimeFlightStatus is the state of a flight as reported by the workflow runtime.
type RuntimeFlightStatus string

// Runtime flight statuses.
const (
	RuntimeFlightUnknown RuntimeFlightStatus = "unknown"
	RuntimeFlightActive  RuntimeFlightStatus = "active"
	RuntimeFlightSuccess RuntimeFlightStatus = "success"
	RuntimeFlightFatal   RuntimeFlightStatus = "fatal"
)

// FlightInputs is the input map of a cleanup flight.
type FlightInputs struct {
	ResourceID string
	Identity   ResourceIdentity
	Metadata   zero.String
}

type flightInputsJSON struct {
	ResourceID string           `json:"resource_id"`
	Identity   IdentityEnvelope `json:"identity"`
	Metadata   zero.String      `json:"metadata"`
}

// MarshalJSON encodes the inputs with the identity in its wire form.
func (f *FlightInputs) MarshalJSON() ([]byte, error) {
	env, err := NewIdentityEnvelope(f.Identity)
	if err != nil {
		return nil, err
	}
	return jsoniter.Marshal(&flightInputsJSON{ResourceID: f.ResourceID, Identity: *env, Metadata: f.Metadata})
}

// UnmarshalJSON decodes inputs encoded by MarshalJSON.
func (f *FlightInputs) UnmarshalJSON(data []byte) error {
	var v flightInputsJSON
	if err := jsoniter.Unmarshal(data, &v); err != nil {
		return err
	}
	identity, err := v.Identity.Identity()
	if err != nil {
		return err
	}
	f.ResourceID = v.ResourceID
	f.Identity = identity
	f.Metadata = v.Metadata
	return nil
}

// WorkflowRuntime durably executes flights.
type WorkflowRuntime interface {
	// CreateFlightID returns a new unique flight id.
	CreateFlightID() string
	// Submit durably enqueues a flight. Submitting a known flight id is a no-op.
	Submit(ctx context.Context, flightID, executorRef string, inputs *FlightInputs) error
	// GetFlightState returns the runtime status of a flight.
	GetFlightState(ctx context.Context, flightID string) (RuntimeFlightStatus, error)
	// QuietDown stops accepting flights and waits for running flights to finish.
	QuietDown(ctx context.Context, timeout time.Duration) error
	// Terminate cancels running flights and waits for them to exit.
	Terminate(ctx context.Context, timeout time.Duration) error
	// Healthy reports whether the runtime can accept flights.
	Healthy(ctx context.Context) bool
}

// FlightWorker executes submitted flights until the context is cancelled.
type FlightWorker interface {
	Run(ctx context.Context)
}
