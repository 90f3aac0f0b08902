package concurrency

import (
	"context"

	"github.com/fluxorio/fluxsink/pkg/core/failfast"
)

// Task represents a unit of work executed by a WorkerPool
type Task interface {
	// Execute performs the task work
	Execute(ctx context.Context) error

	// Name identifies the task in logs (e.g. "flush:20110102")
	Name() string
}

// TaskFunc lets a plain function be submitted as a Task
type TaskFunc func(ctx context.Context) error

// Execute implements Task interface for TaskFunc
func (f TaskFunc) Execute(ctx context.Context) error {
	return f(ctx)
}

// Name returns a default name for TaskFunc
func (f TaskFunc) Name() string {
	return "task"
}

// NamedTask wraps a TaskFunc with a custom name
type NamedTask struct {
	name string
	task TaskFunc
}

// NewNamedTask creates a new NamedTask
func NewNamedTask(name string, task TaskFunc) *NamedTask {
	failfast.NotNil(task, "task")
	return &NamedTask{name: name, task: task}
}

// Execute implements Task interface
func (nt *NamedTask) Execute(ctx context.Context) error {
	return nt.task(ctx)
}

// Name returns the task name
func (nt *NamedTask) Name() string {
	return nt.name
}
