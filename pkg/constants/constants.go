package constants

import "time"

const (
	// ServiceName OpenTelemetry service name
	ServiceName = "janitor"
	// BinaryVersion is replaced at build time.
	BinaryVersion = "v0.1.0"
	// MysqlMaxIdleConnection max mysql idle connections.
	MysqlMaxIdleConnection = 25
	// MysqlMaxOpenConnection max mysql open connections.
	MysqlMaxOpenConnection = 25
	// MysqlMaxConnectionLifetime max mysql connection lifetime.
	MysqlMaxConnectionLifetime = 5 * time.Minute
	// DefaultShutDownDelay is the delay for graceful shutdown of all queue consumers
	DefaultShutDownDelay = 15e9 // 15 seconds, value is int64 nanoseconds due to issue in viper.
	// DefaultGracefulTimeout is default timeout for graceful shutdown of the app.
	DefaultGracefulTimeout = 5 * 6e10 // 5 minutes
	// DefaultSubmitInterval is the period of the claim and submit loop.
	DefaultSubmitInterval = 6e10 // 1 minute
	// DefaultReconcileInterval is the period of the reconciliation loop.
	DefaultReconcileInterval = 6e10 // 1 minute
	// DefaultRecoveryLimit caps the flights inspected by startup recovery.
	DefaultRecoveryLimit = 1000
	// DefaultReconcileLimit caps the finishing flights inspected per reconciliation pass.
	DefaultReconcileLimit = 1000
	// DefaultStepRetryInterval is the fixed delay between attempts of a cleanup step.
	DefaultStepRetryInterval = 3 * 6e10 // 3 minutes
	// DefaultStepMaxAttempts is the number of attempts of a retryable cleanup step.
	DefaultStepMaxAttempts = 5
	// DefaultFlightConcurrency is the number of flights a process executes at once.
	DefaultFlightConcurrency = 10
	// DefaultVisibilityTimeout is the time after which an unacknowledged flight is redelivered.
	DefaultVisibilityTimeout = 30 * 6e10 // 30 minutes
	// DefaultQuietDownTimeout is the time to wait for running flights on shutdown.
	DefaultQuietDownTimeout = 6e10 // 1 minute
	// DefaultTerminateTimeout is the time to wait for cancelled flights to exit.
	DefaultTerminateTimeout = 3e10 // 30 seconds
	// DefaultPageLimit is the page size of resource listings.
	DefaultPageLimit = 100
	// MaxPageLimit is the largest page size of resource listings.
	MaxPageLimit = 1000
	// Base10 is used in parsing ints from string
	Base10 = 10
	// BitSize32 represent bitSize 32 of integers in which the result of parsing strings must fit into
	BitSize32 = 32
)

// All possible env values
const (
	Dev   = "dev"
	Prod  = "prod"
	Stage = "stage"
)

// redis keys and streams used by the flight runtime, hash tagged so they share a cluster slot
const (
	// FlightStream is the redis stream flights are submitted to.
	FlightStream = "{janitor}:flights"
	// FlightStreamGroup is the consumer group executing flights.
	FlightStreamGroup = "janitor-flight-runners"
	// FlightStatusKeyPrefix prefixes the per-flight status hash.
	FlightStatusKeyPrefix = "{janitor}:flight:"
	// FlightStatusTTL is how long terminal flight statuses are kept.
	FlightStatusTTL = 7 * 24 * time.Hour
	// FlightStreamMaxLen approximate cap of the flight stream.
	FlightStreamMaxLen = 100000
)
