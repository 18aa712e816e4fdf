package errors

var (
	// ErrTimeoutExceeded is returned when graceful timeout period exceeds.
	ErrTimeoutExceeded = New("Timeout exceeded")
	// ErrInvalidEnvironemt is returned when the env is incorrect.
	ErrInvalidEnvironemt = New("Invalid Environment")
	// ErrInvalidQueuePayload is returned when an ingestion message cannot be decoded.
	ErrInvalidQueuePayload = New("Invalid Queue Payload")
	// GenericErrorMessage is generic error message returned to clients
	GenericErrorMessage = New("Unexpected error. Please try again later.")
	// ErrAzureConfig is returned when missing values in azure blob config
	ErrAzureConfig = New("missing values in azure blob config")
	// ErrUnknownStorageAccount is returned when a container belongs to an account janitor has no key for.
	ErrUnknownStorageAccount = New("Unknown azure storage account")
)

// Error represents a json-encoded API error.
type Error struct {
	Message string `json:"message"`
}

func (e *Error) Error() string {
	return e.Message
}

// New returns a new error message.
func New(text string) error {
	return &Error{Message: text}
}

// ErrSkipRetry is returned when retry attempt needs to be skipped
type ErrSkipRetry struct {
	Err error
}

// Error gives a human-readable description of the error.
func (e *ErrSkipRetry) Error() string {
	return e.Err.Error()
}

// Unwrap returns the wrapped error.
func (e *ErrSkipRetry) Unwrap() error {
	return e.Err
}
