package flightrunner

import (
	"context"
	"sync"
	"time"

	"github.com/LambdaTest/janitor/pkg/core"
	errs "github.com/LambdaTest/janitor/pkg/errors"
	"github.com/LambdaTest/janitor/pkg/lumber"
	"github.com/LambdaTest/janitor/pkg/utils"
	"golang.org/x/sync/semaphore"
)

// InMemory is a core.WorkflowRuntime executing flights in goroutines of this
// process. Flights and their statuses do not survive a restart.
type InMemory struct {
	builder *Builder
	sem     *semaphore.Weighted
	logger  lumber.Logger

	mu       sync.Mutex
	statuses map[string]core.RuntimeFlightStatus
	quiesced bool

	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
}

// NewInMemory returns an in-memory runtime running at most concurrency flights at once.
func NewInMemory(builder *Builder, concurrency int, logger lumber.Logger) *InMemory {
	ctx, cancel := context.WithCancel(context.Background())
	return &InMemory{
		builder:  builder,
		sem:      semaphore.NewWeighted(int64(concurrency)),
		logger:   logger,
		statuses: make(map[string]core.RuntimeFlightStatus),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// CreateFlightID implements core.WorkflowRuntime.
func (r *InMemory) CreateFlightID() string {
	return utils.GenerateUUID()
}

// Submit implements core.WorkflowRuntime.
func (r *InMemory) Submit(ctx context.Context, flightID, executorRef string, inputs *core.FlightInputs) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.quiesced {
		return errs.ErrRuntimeQuiesced
	}
	if _, ok := r.statuses[flightID]; ok {
		return nil
	}
	r.statuses[flightID] = core.RuntimeFlightActive
	r.wg.Add(1)
	go r.execute(flightID, executorRef, inputs)
	return nil
}

func (r *InMemory) execute(flightID, executorRef string, inputs *core.FlightInputs) {
	defer r.wg.Done()
	if err := r.sem.Acquire(r.ctx, 1); err != nil {
		r.forget(flightID)
		return
	}
	defer r.sem.Release(1)

	fc := &core.FlightContext{FlightID: flightID, Inputs: inputs}
	status, err := runFlight(r.ctx, r.logger, fc, r.builder.Build(executorRef))
	if err != nil {
		r.logger.Warnf("flight %s interrupted, error: %v", flightID, err)
		r.forget(flightID)
		return
	}
	r.mu.Lock()
	r.statuses[flightID] = status
	r.mu.Unlock()
	r.logger.Infof("flight %s completed with status %s", flightID, status)
}

func (r *InMemory) forget(flightID string) {
	r.mu.Lock()
	delete(r.statuses, flightID)
	r.mu.Unlock()
}

// GetFlightState implements core.WorkflowRuntime.
func (r *InMemory) GetFlightState(ctx context.Context, flightID string) (core.RuntimeFlightStatus, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if status, ok := r.statuses[flightID]; ok {
		return status, nil
	}
	return core.RuntimeFlightUnknown, nil
}

// QuietDown implements core.WorkflowRuntime.
func (r *InMemory) QuietDown(ctx context.Context, timeout time.Duration) error {
	r.quiesce()
	return utils.WaitWithTimeout(ctx, &r.wg, timeout)
}

// Terminate implements core.WorkflowRuntime.
func (r *InMemory) Terminate(ctx context.Context, timeout time.Duration) error {
	r.quiesce()
	r.cancel()
	return utils.WaitWithTimeout(ctx, &r.wg, timeout)
}

func (r *InMemory) quiesce() {
	r.mu.Lock()
	r.quiesced = true
	r.mu.Unlock()
}

// Healthy implements core.WorkflowRuntime.
func (r *InMemory) Healthy(ctx context.Context) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return !r.quiesced
}
