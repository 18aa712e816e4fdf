package flightrunner

import (
	"context"
	"fmt"
	"time"

	"github.com/LambdaTest/janitor/pkg/core"
	errs "github.com/LambdaTest/janitor/pkg/errors"
	"github.com/LambdaTest/janitor/pkg/lumber"
	"github.com/avast/retry-go/v4"
	"github.com/pkg/errors"
)

// runFlight executes steps in order. When a step fails fatally, or runs out of
// attempts, the undo of every completed step runs in reverse order and the flight
// is fatal. A cancelled ctx interrupts the flight without undo and is returned as
// the error.
func runFlight(ctx context.Context, logger lumber.Logger, fc *core.FlightContext, steps []*core.StepDescriptor) (core.RuntimeFlightStatus, error) {
	for i, step := range steps {
		if err := ctx.Err(); err != nil {
			return core.RuntimeFlightActive, err
		}
		result := runStep(ctx, logger, fc, step)
		if result.Status == core.StepSuccess {
			continue
		}
		if err := ctx.Err(); err != nil {
			return core.RuntimeFlightActive, err
		}
		logger.Errorf("flight %s failed at step %s, error: %v", fc.FlightID, step.Name, result.Err)
		undo(ctx, logger, fc, steps[:i])
		return core.RuntimeFlightFatal, nil
	}
	return core.RuntimeFlightSuccess, nil
}

func undo(ctx context.Context, logger lumber.Logger, fc *core.FlightContext, completed []*core.StepDescriptor) {
	for i := len(completed) - 1; i >= 0; i-- {
		step := completed[i]
		if step.Undo == nil {
			continue
		}
		result := runStep(ctx, logger, fc, &core.StepDescriptor{
			Name:  step.Name + "/undo",
			Retry: step.Retry,
			Run:   step.Undo,
		})
		if result.Status != core.StepSuccess {
			logger.Errorf("flight %s failed to undo step %s, error: %v", fc.FlightID, step.Name, result.Err)
		}
	}
}

// runStep runs a step, retrying retryable results at a fixed interval. A retryable
// result left after the last attempt is turned into a fatal one.
func runStep(ctx context.Context, logger lumber.Logger, fc *core.FlightContext, step *core.StepDescriptor) core.StepResult {
	attempts, delay := uint(1), time.Duration(0)
	if step.Retry != nil && step.Retry.MaxAttempts > 0 {
		attempts, delay = step.Retry.MaxAttempts, step.Retry.Interval
	}
	result := core.StepRetry(fmt.Errorf("step %s did not run", step.Name))
	_ = retry.Do(func() error {
		result = step.Run(ctx, fc)
		switch result.Status {
		case core.StepSuccess:
			return nil
		case core.StepRetryable:
			return stepError(step, result)
		default:
			return &errs.ErrSkipRetry{Err: stepError(step, result)}
		}
	},
		retry.Context(ctx),
		retry.LastErrorOnly(true),
		retry.Attempts(attempts),
		retry.Delay(delay),
		retry.DelayType(retry.FixedDelay),
		retry.RetryIf(func(err error) bool {
			var skipErr *errs.ErrSkipRetry
			return !errors.As(err, &skipErr)
		}),
		retry.OnRetry(func(n uint, err error) {
			logger.Warnf("flight %s step %s retry %d, error: %v", fc.FlightID, step.Name, n, err)
		}))
	if result.Status == core.StepRetryable {
		return core.StepFailed(errors.Wrapf(stepError(step, result), "step %s gave up after %d attempts", step.Name, attempts))
	}
	return result
}

func stepError(step *core.StepDescriptor, result core.StepResult) error {
	if result.Err != nil {
		return result.Err
	}
	return fmt.Errorf("step %s returned status %d", step.Name, result.Status)
}
