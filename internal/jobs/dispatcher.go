// Package jobs defines background tasks such as webhook-triggered rallies.
package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/volleyhq/rally/internal/core"
)

// Dispatcher implements core.JobDispatcher and manages a pool of worker
// goroutines that run rallies for incoming requests.
type Dispatcher struct {
	rallyJob   core.Job                // Job implementation executed by each worker.
	jobQueue   chan *core.RallyRequest // Queue of accepted rally requests.
	maxWorkers int                     // Number of concurrent workers.
	wg         sync.WaitGroup          // Tracks active workers for graceful shutdown.
	logger     *slog.Logger            // Logger instance for the dispatcher.
}

// NewDispatcher initializes a dispatcher with a worker pool.
// If maxWorkers is 0 or negative, it defaults to 1.
func NewDispatcher(rallyJob core.Job, maxWorkers int, logger *slog.Logger) *Dispatcher {
	if maxWorkers <= 0 {
		maxWorkers = 1
	}
	d := &Dispatcher{
		rallyJob:   rallyJob,
		maxWorkers: maxWorkers,
		jobQueue:   make(chan *core.RallyRequest, 100),
		logger:     logger,
	}
	d.startWorkers()
	return d
}

// startWorkers launches maxWorkers goroutines to process jobs from the queue.
func (d *Dispatcher) startWorkers() {
	for i := range d.maxWorkers {
		d.wg.Add(1)
		go d.startWorker(i)
	}
}

// startWorker processes requests from the queue until it's closed.
func (d *Dispatcher) startWorker(workerID int) {
	defer d.wg.Done()
	d.logger.Info("starting rally worker", "id", workerID)

	for req := range d.jobQueue {
		d.processRequest(workerID, req)
	}

	d.logger.Info("shutting down rally worker", "id", workerID)
}

// processRequest logs and runs a rally job for a request.
func (d *Dispatcher) processRequest(workerID int, req *core.RallyRequest) {
	d.logger.Info("worker processing job",
		"worker_id", workerID,
		"repo", req.RepoFullName,
	)

	err := d.rallyJob.Run(context.Background(), req)
	if err != nil {
		d.logger.Error("rally job failed",
			"repo", req.RepoFullName,
			"pr", req.PRNumber,
			"error", err,
		)
	}
}

// Dispatch queues a rally request for processing by a worker.
func (d *Dispatcher) Dispatch(_ context.Context, req *core.RallyRequest) error {
	d.logger.Info("queuing rally job", "repo", req.RepoFullName, "pr", req.PRNumber)

	select {
	case d.jobQueue <- req:
		return nil
	default:
		return fmt.Errorf("job queue is full, cannot accept new rally job")
	}
}

// Stop gracefully shuts down the dispatcher, waiting for all workers to finish.
func (d *Dispatcher) Stop() {
	d.logger.Info("stopping dispatcher and waiting for rallies to finish")
	close(d.jobQueue)
	d.wg.Wait()
	d.logger.Info("all rally jobs have finished")
}
