package core

import "context"

// Scheduler runs the periodic cleanup loops.
type Scheduler interface {
	// Initialize checks the runtime and recovers unsubmitted flights. It must complete before Run.
	Initialize(ctx context.Context) error
	// Run starts the periodic loops and blocks until ctx is cancelled.
	Run(ctx context.Context)
	// Shutdown stops the loops and drains the workflow runtime.
	Shutdown(ctx context.Context) error
}
