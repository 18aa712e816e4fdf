package flightscheduler

import (
	"context"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/LambdaTest/janitor/config"
	"github.com/LambdaTest/janitor/pkg/core"
	errs "github.com/LambdaTest/janitor/pkg/errors"
	"github.com/LambdaTest/janitor/pkg/executor"
	"github.com/LambdaTest/janitor/pkg/flightmanager"
	"github.com/LambdaTest/janitor/pkg/flightrunner"
	"github.com/LambdaTest/janitor/pkg/lumber"
	"github.com/LambdaTest/janitor/pkg/metrics"
	"github.com/LambdaTest/janitor/pkg/store/inmem"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/guregu/null.v4/zero"
)

var now = time.Date(2026, 10, 17, 9, 0, 0, 0, time.UTC)

type executorFunc func(ctx context.Context, identity core.ResourceIdentity) core.StepResult

func (f executorFunc) CleanUp(ctx context.Context, identity core.ResourceIdentity, metadata zero.String) core.StepResult {
	return f(ctx, identity)
}

type fixture struct {
	scheduler *scheduler
	runtime   *flightrunner.InMemory
	resources core.TrackedResourceStore
	flights   core.CleanupFlightStore
	registry  *prometheus.Registry
}

func newFixture(t *testing.T, cleanup executorFunc) *fixture {
	logger, err := lumber.NewLogger(&lumber.LoggingConfig{EnableConsole: true, ConsoleLevel: lumber.Error}, false, lumber.InstanceZapLogger)
	require.NoError(t, err)
	cfg := &config.FlightConfig{
		SubmitInterval:    10 * time.Millisecond,
		ReconcileInterval: 10 * time.Millisecond,
		RecoveryLimit:     1000,
		ReconcileLimit:    1000,
		MaxAttempts:       2,
		Concurrency:       4,
		QuietDownTimeout:  time.Second,
		TerminateTimeout:  time.Second,
	}
	db := inmem.NewDB()
	resources := inmem.NewTrackedResourceStore(db)
	flights := inmem.NewCleanupFlightStore(db)
	executors := executor.NewRegistry(core.RetryPolicy{Interval: cfg.RetryInterval, MaxAttempts: cfg.MaxAttempts}, logger)
	executors.Register(core.KindKubernetesNamespace, "delete", cleanup)
	runtime := flightrunner.NewInMemory(flightrunner.NewBuilder(resources, flights, executors, logger), cfg.Concurrency, logger)
	registry := prometheus.NewRegistry()
	m := metrics.New(registry)
	manager := flightmanager.New(runtime, resources, executors, m, cfg.RecoveryLimit, logger)
	s := New(db, manager, runtime, resources, flights, m, cfg, logger).(*scheduler)
	s.now = func() time.Time { return now }
	return &fixture{scheduler: s, runtime: runtime, resources: resources, flights: flights, registry: registry}
}

func succeed(ctx context.Context, identity core.ResourceIdentity) core.StepResult {
	return core.StepSucceeded()
}

func fail(ctx context.Context, identity core.ResourceIdentity) core.StepResult {
	return core.StepFailed(errs.ErrPermanentExternal)
}

func (f *fixture) track(t *testing.T, id string) {
	require.NoError(t, f.resources.Create(context.Background(), &core.TrackedResource{
		ID:         id,
		Identity:   core.KubernetesNamespace{Namespace: id},
		State:      core.ResourceReady,
		Creation:   now.Add(-time.Hour),
		Expiration: now.Add(-time.Minute),
	}))
}

func (f *fixture) resourceState(t *testing.T, id string) core.ResourceState {
	r, err := f.resources.FindByID(context.Background(), id)
	require.NoError(t, err)
	return r.State
}

// flightOf returns the only flight of the resource in state.
func (f *fixture) flightOf(t *testing.T, state core.FlightState) string {
	pairs, err := f.resources.FindByFlightState(context.Background(), state, "", 10)
	require.NoError(t, err)
	require.Len(t, pairs, 1)
	return pairs[0].Flight.FlightID
}

// submitAndWait submits every expired resource and waits until the runtime
// reports a terminal status for each flight.
func (f *fixture) submitAndWait(t *testing.T) {
	ctx := context.Background()
	f.scheduler.submitPending(ctx)
	require.Eventually(t, func() bool {
		pairs, err := f.resources.FindByFlightState(ctx, core.FlightFinishing, "", 10)
		if err != nil || len(pairs) == 0 {
			return false
		}
		for _, pair := range pairs {
			status, err := f.runtime.GetFlightState(ctx, pair.Flight.FlightID)
			if err != nil || status == core.RuntimeFlightActive {
				return false
			}
		}
		return true
	}, 5*time.Second, 10*time.Millisecond)
}

func (f *fixture) assertCompleted(t *testing.T, outcome string, count int) {
	expected := `
# HELP janitor_flights_completed_total Cleanup flights reconciled by outcome
# TYPE janitor_flights_completed_total counter
janitor_flights_completed_total{outcome="` + outcome + `"} ` + strconv.Itoa(count) + `
`
	assert.NoError(t, testutil.GatherAndCompare(f.registry, strings.NewReader(expected), "janitor_flights_completed_total"))
}

func TestEndToEndSuccess(t *testing.T) {
	f := newFixture(t, succeed)
	f.track(t, "ci-1")

	f.submitAndWait(t)
	flightID := f.flightOf(t, core.FlightFinishing)
	f.scheduler.reconcile(context.Background())

	assert.Equal(t, core.ResourceDone, f.resourceState(t, "ci-1"))
	state, err := f.flights.FindState(context.Background(), flightID)
	require.NoError(t, err)
	assert.Equal(t, core.FlightFinished, state)
	f.assertCompleted(t, metrics.OutcomeSuccess, 1)
}

func TestEndToEndFatal(t *testing.T) {
	f := newFixture(t, fail)
	f.track(t, "ci-2")

	f.submitAndWait(t)
	flightID := f.flightOf(t, core.FlightFinishing)
	f.scheduler.reconcile(context.Background())

	assert.Equal(t, core.ResourceError, f.resourceState(t, "ci-2"))
	state, err := f.flights.FindState(context.Background(), flightID)
	require.NoError(t, err)
	assert.Equal(t, core.FlightFatal, state)
	f.assertCompleted(t, metrics.OutcomeFatal, 1)
}

func TestReconcileIsIdempotent(t *testing.T) {
	f := newFixture(t, succeed)
	f.track(t, "ci-3")
	f.submitAndWait(t)

	f.scheduler.reconcile(context.Background())
	f.scheduler.reconcile(context.Background())

	assert.Equal(t, core.ResourceDone, f.resourceState(t, "ci-3"))
	f.flightOf(t, core.FlightFinished)
	f.assertCompleted(t, metrics.OutcomeSuccess, 1)
}

func TestReconcileKeepsAbandonedResource(t *testing.T) {
	f := newFixture(t, succeed)
	f.track(t, "ci-4")
	f.submitAndWait(t)
	require.NoError(t, f.resources.UpdateState(context.Background(), "ci-4", core.ResourceAbandoned))

	f.scheduler.reconcile(context.Background())

	assert.Equal(t, core.ResourceAbandoned, f.resourceState(t, "ci-4"))
	f.flightOf(t, core.FlightFinished)
}

func TestReconcileSkipsUnknownFlights(t *testing.T) {
	f := newFixture(t, succeed)
	f.track(t, "ci-5")
	resource, err := f.resources.ClaimForCleaning(context.Background(), now, "lost-flight")
	require.NoError(t, err)
	require.NotNil(t, resource)
	require.NoError(t, f.flights.UpdateState(context.Background(), "lost-flight", core.FlightFinishing))

	f.scheduler.reconcile(context.Background())

	assert.Equal(t, core.ResourceCleaning, f.resourceState(t, "ci-5"))
	assert.Equal(t, "lost-flight", f.flightOf(t, core.FlightFinishing))
}

func TestReconcileMovesPastUnknownFlights(t *testing.T) {
	f := newFixture(t, succeed)
	f.scheduler.cfg.ReconcileLimit = 1
	ctx := context.Background()
	f.track(t, "ci-8")
	f.submitAndWait(t)
	finished := f.flightOf(t, core.FlightFinishing)

	// sorts ahead of every generated flight id and is never submitted
	f.track(t, "ci-9")
	lost, err := f.resources.ClaimForCleaning(ctx, now, "0000-lost")
	require.NoError(t, err)
	require.Equal(t, "ci-9", lost.ID)
	require.NoError(t, f.flights.UpdateState(ctx, "0000-lost", core.FlightFinishing))

	for i := 0; i < 3; i++ {
		f.scheduler.reconcile(ctx)
	}

	assert.Equal(t, core.ResourceDone, f.resourceState(t, "ci-8"))
	state, err := f.flights.FindState(ctx, finished)
	require.NoError(t, err)
	assert.Equal(t, core.FlightFinished, state)
	assert.Equal(t, core.ResourceCleaning, f.resourceState(t, "ci-9"))
	assert.Equal(t, "0000-lost", f.flightOf(t, core.FlightFinishing))
	f.assertCompleted(t, metrics.OutcomeSuccess, 1)
}

func TestInitializeUnhealthyRuntime(t *testing.T) {
	f := newFixture(t, succeed)
	require.NoError(t, f.runtime.QuietDown(context.Background(), time.Second))

	assert.Equal(t, errs.ErrRuntimeUnhealthy, f.scheduler.Initialize(context.Background()))
}

func TestRunAndShutdown(t *testing.T) {
	f := newFixture(t, succeed)
	ctx := context.Background()
	f.track(t, "ci-6")
	f.track(t, "ci-7")
	require.NoError(t, f.scheduler.Initialize(ctx))

	done := make(chan struct{})
	go func() {
		f.scheduler.Run(ctx)
		close(done)
	}()
	assert.Eventually(t, func() bool {
		resources, err := f.resources.Find(ctx, &core.ResourceFilter{AllowedStates: []core.ResourceState{core.ResourceDone}})
		return err == nil && len(resources) == 2
	}, 5*time.Second, 10*time.Millisecond)

	require.NoError(t, f.scheduler.Shutdown(ctx))
	<-done
	assert.False(t, f.runtime.Healthy(ctx))
}
