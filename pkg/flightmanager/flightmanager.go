// Package flightmanager claims expired resources and hands cleanup flights to the workflow runtime.
package flightmanager

import (
	"context"
	"time"

	"github.com/LambdaTest/janitor/pkg/core"
	errs "github.com/LambdaTest/janitor/pkg/errors"
	"github.com/LambdaTest/janitor/pkg/lumber"
	"github.com/LambdaTest/janitor/pkg/metrics"
)

type manager struct {
	runtime       core.WorkflowRuntime
	resourceStore core.TrackedResourceStore
	registry      core.CleanupExecutorRegistry
	metrics       *metrics.Metrics
	recoveryLimit int
	logger        lumber.Logger
}

// New returns a new FlightManager.
func New(runtime core.WorkflowRuntime,
	resourceStore core.TrackedResourceStore,
	registry core.CleanupExecutorRegistry,
	m *metrics.Metrics,
	recoveryLimit int,
	logger lumber.Logger) core.FlightManager {
	return &manager{
		runtime:       runtime,
		resourceStore: resourceStore,
		registry:      registry,
		metrics:       m,
		recoveryLimit: recoveryLimit,
		logger:        logger,
	}
}

func (m *manager) SubmitFlight(ctx context.Context, now time.Time) (string, bool) {
	flightID := m.runtime.CreateFlightID()
	resource, err := m.resourceStore.ClaimForCleaning(ctx, now, flightID)
	if err != nil {
		m.logger.Errorf("failed to claim resource for cleanup, error: %v", err)
		return "", false
	}
	if resource == nil {
		return "", false
	}
	m.metrics.FlightSubmitted()
	// a failed submission leaves the flight INITIATING for startup recovery
	m.submit(ctx, flightID, resource)
	return flightID, true
}

// RecoverUnsubmittedFlights must not run concurrently with SubmitFlight: a flight claimed
// but not yet submitted would be seen as unknown and submitted twice.
func (m *manager) RecoverUnsubmittedFlights(ctx context.Context) int {
	pairs, err := m.resourceStore.FindByFlightState(ctx, core.FlightInitiating, "", m.recoveryLimit)
	if err != nil {
		m.logger.Errorf("failed to find %s flights, error: %v", core.FlightInitiating, err)
		return 0
	}
	if len(pairs) >= m.recoveryLimit {
		m.logger.Errorf("found at least %d %s flights, only the first %d are recovered in this run",
			m.recoveryLimit, core.FlightInitiating, m.recoveryLimit)
	}
	resubmitted := 0
	for _, pair := range pairs {
		flightID := pair.Flight.FlightID
		status, err := m.runtime.GetFlightState(ctx, flightID)
		if err != nil {
			m.logger.Errorf("failed to get runtime state of flight %s, error: %v", flightID, err)
			continue
		}
		if status != core.RuntimeFlightUnknown {
			continue
		}
		if m.submit(ctx, flightID, pair.Resource) {
			resubmitted++
		}
	}
	m.logger.Infof("recovered %d of %d %s flights", resubmitted, len(pairs), core.FlightInitiating)
	return resubmitted
}

func (m *manager) submit(ctx context.Context, flightID string, resource *core.TrackedResource) bool {
	inputs := &core.FlightInputs{
		ResourceID: resource.ID,
		Identity:   resource.Identity,
		Metadata:   resource.Metadata,
	}
	ref := m.executorRef(resource.Identity)
	if err := m.runtime.Submit(ctx, flightID, ref, inputs); err != nil {
		m.logger.Errorf("%v: flight %s, resource %s, error: %v", errs.ErrSubmission, flightID, resource.ID, err)
		return false
	}
	m.logger.Infof("submitted flight %s for resource %s using executor %s", flightID, resource.ID, ref)
	return true
}

// executorRef falls back to the resource kind when no executor is registered, the runtime
// then fails the flight and the resource ends in ERROR.
func (m *manager) executorRef(identity core.ResourceIdentity) string {
	ref, _, err := m.registry.Resolve(identity)
	if err != nil {
		m.logger.Warnf("no cleanup executor for kind %s, error: %v", identity.Kind(), err)
		return string(identity.Kind())
	}
	return ref
}
