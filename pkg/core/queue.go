package core

import "context"

// QueueConsumer represents the queue consumer.
type QueueConsumer interface {
	// Run runs the queue consumer in background.
	Run(ctx context.Context)
	// Close closes the queue consumer
	Close() error
}
