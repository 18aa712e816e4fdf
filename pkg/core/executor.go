package core

import (
	"context"
	"time"

	"gopkg.in/guregu/null.v4/zero"
)

// StepStatus is the outcome kind of a flight step.
type StepStatus int

// Step outcomes.
const (
	StepSuccess StepStatus = iota
	StepRetryable
	StepFatal
)

// StepResult is the outcome of running a flight step.
type StepResult struct {
	Status StepStatus
	Err    error
}

// StepSucceeded returns a successful result.
func StepSucceeded() StepResult {
	return StepResult{Status: StepSuccess}
}

// StepRetry returns a result asking for the step to be retried.
func StepRetry(err error) StepResult {
	return StepResult{Status: StepRetryable, Err: err}
}

// StepFailed returns a result that aborts the flight.
func StepFailed(err error) StepResult {
	return StepResult{Status: StepFatal, Err: err}
}

// RetryPolicy retries a step at a fixed interval.
type RetryPolicy struct {
	Interval    time.Duration
	MaxAttempts uint
}

// FlightContext is passed to every step of a flight.
type FlightContext struct {
	FlightID string
	Inputs   *FlightInputs
}

// StepDescriptor is one step of a flight.
type StepDescriptor struct {
	Name  string
	Retry *RetryPolicy
	Run   func(ctx context.Context, fc *FlightContext) StepResult
	// Undo is optional and runs when a later step fails fatally.
	Undo func(ctx context.Context, fc *FlightContext) StepResult
}

// CleanupExecutor deletes one kind of cloud resource. CleanUp must be idempotent
// and treat an already deleted resource as success.
type CleanupExecutor interface {
	CleanUp(ctx context.Context, identity ResourceIdentity, metadata zero.String) StepResult
}

// CleanupExecutorRegistry resolves resource identities to cleanup steps.
type CleanupExecutorRegistry interface {
	// Resolve returns the executor reference and cleanup steps for the identity.
	Resolve(identity ResourceIdentity) (executorRef string, steps []*StepDescriptor, err error)
	// Steps returns the cleanup steps registered under an executor reference.
	Steps(executorRef string) ([]*StepDescriptor, error)
}
