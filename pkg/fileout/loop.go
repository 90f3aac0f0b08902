package fileout

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/fluxorio/fluxsink/pkg/core/concurrency"
)

// ErrAlreadyStarted is returned by a second Start.
var ErrAlreadyStarted = errors.New("fileout: already started")

// loopState drives interval and size-triggered flushes.
type loopState struct {
	mu      sync.Mutex
	pool    concurrency.WorkerPool
	cancel  context.CancelFunc
	done    chan struct{}
	started bool

	sizeCh chan string

	queuedMu sync.Mutex
	queued   map[string]bool
}

func (l *loopState) init() {
	l.sizeCh = make(chan string, 64)
	l.queued = make(map[string]bool)
}

// trigger asks the loop to flush key soon. Dropped when the loop is not
// running or already has a backlog; the interval flush picks it up.
func (l *loopState) trigger(key string) {
	l.mu.Lock()
	started := l.started
	l.mu.Unlock()
	if !started {
		return
	}
	select {
	case l.sizeCh <- key:
	default:
	}
}

func (l *loopState) workerPool() concurrency.WorkerPool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.pool == nil || !l.pool.IsRunning() {
		return nil
	}
	return l.pool
}

// markQueued reports false when a flush for key is already queued.
func (l *loopState) markQueued(key string) bool {
	l.queuedMu.Lock()
	defer l.queuedMu.Unlock()
	if l.queued[key] {
		return false
	}
	l.queued[key] = true
	return true
}

func (l *loopState) unqueue(key string) {
	l.queuedMu.Lock()
	delete(l.queued, key)
	l.queuedMu.Unlock()
}

// Start runs the flush loop: every flush_interval all pending chunks are
// flushed, and a chunk reaching chunk_limit_size is flushed right away.
// Flushes run on a worker pool with at most one flush per bucket at a time.
func (o *Output) Start(ctx context.Context) error {
	o.emitMu.RLock()
	stopped := o.stopped
	o.emitMu.RUnlock()
	if stopped {
		return ErrStopped
	}

	l := &o.loop
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.started {
		return ErrAlreadyStarted
	}

	loopCtx, cancel := context.WithCancel(ctx)
	pool := concurrency.NewWorkerPool(loopCtx, concurrency.WorkerPoolConfig{
		Workers:   o.cfg.FlushWorkers,
		QueueSize: 256,
		Logger:    o.log,
	})
	if err := pool.Start(); err != nil {
		cancel()
		return err
	}

	l.pool = pool
	l.cancel = cancel
	l.done = make(chan struct{})
	l.started = true

	go o.run(loopCtx, l.done)
	o.log.Info("flush loop started", "interval", o.cfg.FlushInterval.String(), "workers", o.cfg.FlushWorkers)
	return nil
}

func (o *Output) run(ctx context.Context, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(o.cfg.FlushInterval.D())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := o.FlushAll(ctx); err != nil {
				o.log.Warn("interval flush incomplete", "error", err)
			}
		case key := <-o.loop.sizeCh:
			o.dispatch(key)
		}
	}
}

// dispatch queues a single-bucket flush unless one is already queued.
func (o *Output) dispatch(key string) {
	l := &o.loop
	pool := l.workerPool()
	if pool == nil || !l.markQueued(key) {
		return
	}
	task := concurrency.NewNamedTask("flush:"+key, func(ctx context.Context) error {
		defer l.unqueue(key)
		_, err := o.Flush(ctx, key)
		return err
	})
	if err := pool.Submit(task); err != nil {
		l.unqueue(key)
		o.log.Debug("size flush deferred to interval", "bucket", key, "error", err)
	}
}

// Stop ends the flush loop, waits for running flushes and flushes whatever
// is still buffered. The staging journal is closed afterwards. Emits that
// arrive once Stop has begun fail with ErrStopped.
func (o *Output) Stop(ctx context.Context) error {
	// Waits out in-flight emits so the final flush sees their data.
	o.emitMu.Lock()
	o.stopped = true
	o.emitMu.Unlock()

	l := &o.loop
	l.mu.Lock()
	if l.started {
		l.started = false
		l.cancel()
		done, pool := l.done, l.pool
		l.mu.Unlock()

		select {
		case <-done:
		case <-ctx.Done():
			return ctx.Err()
		}
		if err := pool.Stop(ctx); err != nil {
			o.log.Warn("flush workers did not drain", "error", err)
		}
	} else {
		l.mu.Unlock()
	}

	_, err := o.FlushAll(ctx)
	if o.journal != nil {
		if cerr := o.journal.Close(); cerr != nil {
			err = errors.Join(err, cerr)
		}
	}
	if err != nil {
		return err
	}
	o.log.Info("sink stopped", "flushes", o.Stats().Flushes)
	return nil
}
