// Package flightrunner is the workflow runtime adapter bundled with janitor. The
// scheduler only depends on core.WorkflowRuntime; this package provides the two
// implementations the binary wires: InMemory for development and tests, and Redis,
// which keeps submitted flights in a redis stream so they survive a restart. A
// deployment with its own durable workflow engine replaces this package behind
// that interface. The Builder turns a claimed resource into the ordered steps of
// its cleanup flight, and both runtimes execute them with runFlight.
package flightrunner

import (
	"context"
	"fmt"
	"time"

	"github.com/LambdaTest/janitor/pkg/core"
	errs "github.com/LambdaTest/janitor/pkg/errors"
	"github.com/LambdaTest/janitor/pkg/lumber"
	"github.com/pkg/errors"
)

const (
	initialStepName = "initial"
	finalStepName   = "final"
)

// bookkeeping steps only touch the database
var storeRetry = &core.RetryPolicy{Interval: 5 * time.Second, MaxAttempts: 5}

// Builder assembles the steps of a cleanup flight.
type Builder struct {
	resourceStore core.TrackedResourceStore
	flightStore   core.CleanupFlightStore
	registry      core.CleanupExecutorRegistry
	logger        lumber.Logger
}

// NewBuilder returns a new Builder.
func NewBuilder(resourceStore core.TrackedResourceStore,
	flightStore core.CleanupFlightStore,
	registry core.CleanupExecutorRegistry,
	logger lumber.Logger) *Builder {
	return &Builder{
		resourceStore: resourceStore,
		flightStore:   flightStore,
		registry:      registry,
		logger:        logger,
	}
}

// Build returns the steps of a flight: the initial step, the cleanup steps registered
// under executorRef and the final step. An unknown executorRef yields a step that
// always fails.
func (b *Builder) Build(executorRef string) []*core.StepDescriptor {
	steps := []*core.StepDescriptor{b.initialStep()}
	cleanup, err := b.registry.Steps(executorRef)
	if err != nil {
		b.logger.Errorf("no cleanup steps for executor %s, error: %v", executorRef, err)
		steps = append(steps, failingStep(executorRef, err))
	}
	for _, step := range cleanup {
		steps = append(steps, b.guard(step))
	}
	return append(steps, b.finalStep())
}

func (b *Builder) initialStep() *core.StepDescriptor {
	return &core.StepDescriptor{
		Name:  initialStepName,
		Retry: storeRetry,
		Run: func(ctx context.Context, fc *core.FlightContext) core.StepResult {
			return b.setFlightState(ctx, fc.FlightID, core.FlightInFlight)
		},
		Undo: func(ctx context.Context, fc *core.FlightContext) core.StepResult {
			return b.setFlightState(ctx, fc.FlightID, core.FlightFinishing)
		},
	}
}

func (b *Builder) finalStep() *core.StepDescriptor {
	return &core.StepDescriptor{
		Name:  finalStepName,
		Retry: storeRetry,
		Run: func(ctx context.Context, fc *core.FlightContext) core.StepResult {
			return b.setFlightState(ctx, fc.FlightID, core.FlightFinishing)
		},
	}
}

func (b *Builder) setFlightState(ctx context.Context, flightID string, state core.FlightState) core.StepResult {
	err := b.flightStore.UpdateState(ctx, flightID, state)
	switch {
	case err == nil:
		return core.StepSucceeded()
	case errors.Is(err, errs.ErrRowsNotFound):
		return core.StepFailed(errors.Wrapf(err, "flight %s", flightID))
	default:
		return core.StepRetry(errors.Wrapf(err, "failed to move flight %s to %s", flightID, state))
	}
}

// guard runs step only while the resource is CLEANING. An abandoned or duplicated
// resource is skipped.
func (b *Builder) guard(step *core.StepDescriptor) *core.StepDescriptor {
	return &core.StepDescriptor{
		Name:  step.Name,
		Retry: step.Retry,
		Undo:  step.Undo,
		Run: func(ctx context.Context, fc *core.FlightContext) core.StepResult {
			resource, err := b.resourceStore.FindByID(ctx, fc.Inputs.ResourceID)
			if err != nil {
				if errors.Is(err, errs.ErrRowsNotFound) {
					return core.StepFailed(errors.Wrapf(err, "resource %s", fc.Inputs.ResourceID))
				}
				return core.StepRetry(errors.Wrapf(err, "failed to load resource %s", fc.Inputs.ResourceID))
			}
			switch resource.State {
			case core.ResourceCleaning:
				return step.Run(ctx, fc)
			case core.ResourceAbandoned, core.ResourceDuplicated:
				b.logger.Infof("skipping step %s of flight %s, resource %s is %s", step.Name, fc.FlightID, resource.ID, resource.State)
				return core.StepSucceeded()
			default:
				return core.StepFailed(fmt.Errorf("%w: resource %s is %s", errs.ErrInvalidState, resource.ID, resource.State))
			}
		},
	}
}

func failingStep(executorRef string, err error) *core.StepDescriptor {
	return &core.StepDescriptor{
		Name: executorRef,
		Run: func(ctx context.Context, fc *core.FlightContext) core.StepResult {
			return core.StepFailed(errors.Wrapf(err, "executor %s", executorRef))
		},
	}
}
