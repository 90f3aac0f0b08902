package concurrency

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/fluxorio/fluxsink/pkg/core"
)

// defaultWorkerPool implements WorkerPool
type defaultWorkerPool struct {
	workers  int
	taskChan chan Task
	wg       sync.WaitGroup
	mu       sync.RWMutex
	running  int32
	pending  int64
	ctx      context.Context
	cancel   context.CancelFunc
	logger   core.Logger
}

// WorkerPoolConfig configures a WorkerPool
type WorkerPoolConfig struct {
	Workers   int         // Number of worker goroutines
	QueueSize int         // Task queue size
	Logger    core.Logger // Receives task failures; nil discards them
}

// DefaultWorkerPoolConfig returns default worker pool configuration
func DefaultWorkerPoolConfig() WorkerPoolConfig {
	return WorkerPoolConfig{
		Workers:   4,
		QueueSize: 256,
	}
}

// NewWorkerPool creates a new WorkerPool
func NewWorkerPool(ctx context.Context, config WorkerPoolConfig) WorkerPool {
	if config.Workers < 1 {
		config.Workers = 1
	}
	if config.QueueSize < 1 {
		config.QueueSize = 100
	}
	if config.Logger == nil {
		config.Logger = core.NewNopLogger()
	}

	ctx, cancel := context.WithCancel(ctx)

	return &defaultWorkerPool{
		workers:  config.Workers,
		taskChan: make(chan Task, config.QueueSize),
		ctx:      ctx,
		cancel:   cancel,
		logger:   config.Logger,
	}
}

// Start implements WorkerPool interface
func (wp *defaultWorkerPool) Start() error {
	wp.mu.Lock()
	defer wp.mu.Unlock()

	if atomic.LoadInt32(&wp.running) == 1 {
		return fmt.Errorf("worker pool is already running")
	}
	if wp.ctx.Err() != nil {
		return fmt.Errorf("worker pool was stopped: %w", ErrNotRunning)
	}

	atomic.StoreInt32(&wp.running, 1)
	wp.wg.Add(wp.workers)

	for i := 0; i < wp.workers; i++ {
		go wp.worker(i)
	}

	return nil
}

// worker drains the queue until it is closed
func (wp *defaultWorkerPool) worker(id int) {
	defer wp.wg.Done()

	for task := range wp.taskChan {
		wp.run(id, task)
	}
}

func (wp *defaultWorkerPool) run(id int, task Task) {
	defer atomic.AddInt64(&wp.pending, -1)
	defer func() {
		if r := recover(); r != nil {
			wp.logger.Error("task panicked", "worker", id, "task", task.Name(), "panic", fmt.Sprint(r))
		}
	}()

	if err := task.Execute(wp.ctx); err != nil {
		wp.logger.Warn("task failed", "worker", id, "task", task.Name(), "error", err)
	}
}

// Stop implements WorkerPool interface
func (wp *defaultWorkerPool) Stop(ctx context.Context) error {
	wp.mu.Lock()
	if atomic.LoadInt32(&wp.running) == 0 {
		wp.mu.Unlock()
		wp.cancel()
		return nil
	}
	atomic.StoreInt32(&wp.running, 0)
	close(wp.taskChan)
	wp.mu.Unlock()

	done := make(chan struct{})
	go func() {
		wp.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		wp.cancel()
		return nil
	case <-ctx.Done():
		wp.cancel()
		return fmt.Errorf("stop timeout: %w", ctx.Err())
	}
}

// Submit implements WorkerPool interface
func (wp *defaultWorkerPool) Submit(task Task) error {
	if task == nil {
		return fmt.Errorf("task cannot be nil")
	}

	// Read lock keeps Stop from closing the channel mid-send.
	wp.mu.RLock()
	defer wp.mu.RUnlock()

	if atomic.LoadInt32(&wp.running) == 0 {
		return ErrNotRunning
	}

	atomic.AddInt64(&wp.pending, 1)
	select {
	case wp.taskChan <- task:
		return nil
	default:
		atomic.AddInt64(&wp.pending, -1)
		return ErrQueueFull
	}
}

// Workers implements WorkerPool interface
func (wp *defaultWorkerPool) Workers() int {
	return wp.workers
}

// Pending implements WorkerPool interface
func (wp *defaultWorkerPool) Pending() int {
	return int(atomic.LoadInt64(&wp.pending))
}

// IsRunning implements WorkerPool interface
func (wp *defaultWorkerPool) IsRunning() bool {
	return atomic.LoadInt32(&wp.running) == 1
}
