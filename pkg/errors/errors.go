package errors

import (
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
)

// ValidationError represents the request payload validation error.
type ValidationError struct {
	Field  string `json:"field"`
	Reason string `json:"reason"`
}

var (
	// ErrNotFound is returned when a resource is not found.
	ErrNotFound = New("Not Found")

	// ErrConflict is returned when a resource with the same id already exists.
	ErrConflict = New("resource already exists")

	// ErrInvariantViolation is reported when more than one resource of an identity is
	// in a non-terminal state.
	ErrInvariantViolation = New("more than one non-terminal resource for identity")

	// ErrInvalidState is returned when a cleanup step finds the resource in a state it cannot act on.
	ErrInvalidState = New("resource is in an invalid state for cleanup")

	// ErrRetryableExternal is returned by executors for transient provider failures.
	ErrRetryableExternal = New("transient external failure")

	// ErrPermanentExternal is returned by executors for failures that will not heal on retry.
	ErrPermanentExternal = New("permanent external failure")

	// ErrSubmission is returned when a flight could not be handed to the workflow runtime.
	ErrSubmission = New("flight submission failed")

	// ErrInvalidTransition is returned when a requested state change is not allowed.
	ErrInvalidTransition = New("invalid state transition")

	// ErrRuntimeUnhealthy is returned when the workflow runtime is not ready to accept flights.
	ErrRuntimeUnhealthy = New("workflow runtime is unhealthy")

	// ErrRuntimeQuiesced is returned when a flight is submitted after the runtime was quieted down.
	ErrRuntimeQuiesced = New("workflow runtime is not accepting flights")

	// ErrUnsupportedResource is returned when no cleanup executor is registered for a resource kind.
	ErrUnsupportedResource = New("no cleanup executor registered for resource kind")

	// ErrUnknownResourceKind is returned when a serialized identity carries an unknown kind.
	ErrUnknownResourceKind = New("unknown resource kind")

	// ErrInvalidLoggerInstance is returned when logger instance is not supported.
	ErrInvalidLoggerInstance = New("Invalid logger instance")

	// ErrInvalidPerPage is returned when the limit is invalid in query params
	ErrInvalidPerPage = New("Invalid limit value")
)

// MissingInQueryErr is a error function corresponding to missing query params.
func MissingInQueryErr(key string) error {
	return New(fmt.Sprintf("Missing %s in request query parameters.", key))
}

// InvalidQueryErr is a error function corresponding to invalid queries.
func InvalidQueryErr(key string) error {
	return New(fmt.Sprintf("Invalid %s in request query parameters.", key))
}

// EntityNotFoundErr is a error function corresponding to missing entities.
func EntityNotFoundErr(entity, container string) error {
	return New(fmt.Sprintf("%s not found for given %s.", entity, container))
}

// ValidationErr is a error function corresponding to invalid request payloads.
func ValidationErr(err error) interface{} {
	var verr validator.ValidationErrors
	if errors.As(err, &verr) {
		return validationErr(verr)
	}
	return New(err.Error())
}

func validationErr(verr validator.ValidationErrors) []ValidationError {
	errs := []ValidationError{}
	for _, f := range verr {
		err := f.ActualTag()
		if f.Param() != "" {
			err = fmt.Sprintf("%s=%s", err, f.Param())
		}
		errs = append(errs, ValidationError{Field: f.Field(), Reason: err})
	}
	return errs
}
