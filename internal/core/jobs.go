package core

import (
	"context"
)

// JobDispatcher defines the contract for a system that can accept and queue
// background jobs for asynchronous processing. This interface decouples the
// event source (e.g., a webhook handler) from the job execution mechanism.
type JobDispatcher interface {
	// Dispatch accepts a RallyRequest and queues it for processing.
	// It returns an error if the job cannot be queued, for example, if the
	// queue is full, providing a mechanism for backpressure.
	Dispatch(ctx context.Context, req *RallyRequest) error
}

// Job represents a single, executable unit of work that can be processed by
// the application's job dispatcher. Each job is triggered by a RallyRequest
// and performs a specific task, such as running a rally headlessly.
type Job interface {
	// Run executes the job's logic. It receives a context for managing its
	// lifecycle and a RallyRequest containing the data needed to perform
	// its task. It returns an error if the job fails to complete.
	Run(ctx context.Context, req *RallyRequest) error
}
