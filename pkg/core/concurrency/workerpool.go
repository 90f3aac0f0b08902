package concurrency

import (
	"context"
	"errors"
)

var (
	// ErrQueueFull is returned by Submit when the task queue has no free slot.
	ErrQueueFull = errors.New("worker pool queue is full")
	// ErrNotRunning is returned by Submit before Start or after Stop.
	ErrNotRunning = errors.New("worker pool is not running")
)

// WorkerPool abstracts worker goroutine management
// Hides go func() calls and goroutine lifecycle from application code
type WorkerPool interface {
	// Start starts the worker pool
	Start() error

	// Stop stops accepting tasks and waits for queued and in-flight tasks
	// to finish. If ctx expires first, the task context is cancelled and
	// Stop returns the context error.
	Stop(ctx context.Context) error

	// Submit enqueues a task without blocking.
	// Returns ErrQueueFull when the queue is full.
	Submit(task Task) error

	// Workers returns the number of worker goroutines
	Workers() int

	// Pending returns the number of tasks queued or executing
	Pending() int

	// IsRunning returns true if the worker pool is running
	IsRunning() bool
}
