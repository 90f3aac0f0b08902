package fileout

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/fluxorio/fluxsink/pkg/chunk"
	"github.com/fluxorio/fluxsink/pkg/core"
	"github.com/fluxorio/fluxsink/pkg/core/concurrency"
	"github.com/fluxorio/fluxsink/pkg/filewriter"
	"github.com/fluxorio/fluxsink/pkg/journal"
)

// maxCommitAttempts bounds re-resolution when other writers keep taking the
// resolved index between resolve and rename.
const maxCommitAttempts = 16

// Flush writes the pending chunk of key and returns the path written. An
// empty path with a nil error means there was nothing to flush. On failure
// the chunk's data goes back to the front of the buffer.
func (o *Output) Flush(ctx context.Context, key string) (string, error) {
	release, err := o.locks.acquire(ctx, key)
	if err != nil {
		return "", err
	}
	defer release()

	c := o.chunks.TakeForFlush(key)
	if c.Empty() {
		return "", nil
	}

	ctx, span := o.tracer.Start(ctx, "fileout.flush", trace.WithAttributes(
		attribute.String("fluxsink.bucket", key),
		attribute.Int("fluxsink.records", c.Records),
		attribute.Int("fluxsink.bytes", len(c.Data)),
	))
	defer span.End()

	start := time.Now()
	res, err := o.commit(ctx, c)
	o.metrics.RecordFlush(err, time.Since(start), res.Written, res.Raw)
	if err != nil {
		o.chunks.Requeue(key, c)
		o.updatePending()
		o.statsMu.Lock()
		o.failures++
		o.statsMu.Unlock()

		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		o.log.Error("flush failed, chunk requeued", "bucket", key, "bytes", len(c.Data), "error", err)
		return "", err
	}
	span.SetAttributes(attribute.String("fluxsink.path", res.Path))

	o.statsMu.Lock()
	o.flushes++
	o.written += res.Written
	o.lastPath = res.Path
	o.statsMu.Unlock()
	o.updatePending()

	if err := o.symlink.Update(res.Path); err != nil {
		o.metrics.RecordSymlinkFailure()
		span.AddEvent("symlink update failed")
		o.log.Warn("symlink update failed", "link", o.symlink.Path(), "path", res.Path, "error", err)
	}

	if o.onFlush != nil {
		o.onFlush(key, res.Path)
	}
	o.log.Debug("chunk flushed", "bucket", key, "path", res.Path, "records", c.Records, "bytes", res.Written)
	return res.Path, nil
}

func (o *Output) commit(ctx context.Context, c chunk.Chunk) (filewriter.Result, error) {
	if o.cfg.Append {
		r, err := o.resolver.Resolve(c.Key, true, 0)
		if err != nil {
			return filewriter.Result{}, err
		}
		return o.writer.Append(r.Path, c.Data, o.codec)
	}

	r, err := o.resolver.Resolve(c.Key, false, o.indexHint(c.Key))
	if err != nil {
		return filewriter.Result{}, err
	}
	st, err := o.writer.Stage(filepath.Dir(r.Path), filepath.Base(r.Path), c.Data, o.codec)
	if err != nil {
		return filewriter.Result{}, err
	}

	for attempt := 0; ; attempt++ {
		res, err := st.Commit(r.Path)
		if err == nil {
			o.setIndexHint(c.Key, r.Index+1)
			return res, nil
		}
		if !errors.Is(err, filewriter.ErrTargetExists) || attempt+1 >= maxCommitAttempts || ctx.Err() != nil {
			if errors.Is(err, filewriter.ErrTargetExists) {
				err = core.IOError("commit", r.Path, err)
			}
			return filewriter.Result{}, o.abortStaged(c.Key, st, err)
		}
		trace.SpanFromContext(ctx).AddEvent("target taken, re-resolving", trace.WithAttributes(attribute.String("fluxsink.path", r.Path)))
		if r, err = o.resolver.Resolve(c.Key, false, r.Index+1); err != nil {
			return filewriter.Result{}, o.abortStaged(c.Key, st, err)
		}
	}
}

// abortStaged removes an uncommitted temp file. The chunk is requeued by
// the caller, so the next flush stages it again.
func (o *Output) abortStaged(key string, st *filewriter.Staged, cause error) error {
	if err := st.Abort(); err != nil {
		o.log.Warn("staged chunk left in place", "bucket", key, "temp", st.TempPath(), "error", err)
	}
	return cause
}

func (o *Output) indexHint(key string) int {
	o.idxMu.Lock()
	defer o.idxMu.Unlock()
	return o.nextIndex[key]
}

func (o *Output) setIndexHint(key string, next int) {
	o.idxMu.Lock()
	defer o.idxMu.Unlock()
	if next > o.nextIndex[key] {
		o.nextIndex[key] = next
	}
}

// pruneIndexHints forgets hints for buckets with no pending data. The
// on-disk existence check still prevents reuse of an existing file for them.
func (o *Output) pruneIndexHints() {
	pending := make(map[string]struct{})
	for _, k := range o.chunks.Keys() {
		pending[k] = struct{}{}
	}
	o.idxMu.Lock()
	defer o.idxMu.Unlock()
	for k := range o.nextIndex {
		if _, ok := pending[k]; !ok {
			delete(o.nextIndex, k)
		}
	}
}

// FlushAll flushes every pending bucket in key order and returns the paths
// written. Errors of individual buckets are joined; buckets that failed stay
// buffered. When every bucket succeeds the staging journal is released up to
// the point where the flush started.
func (o *Output) FlushAll(ctx context.Context) ([]string, error) {
	var (
		mark    journal.Mark
		hasMark bool
	)
	if o.journal != nil {
		m, err := o.journal.Checkpoint()
		if err != nil {
			o.metrics.RecordJournalError()
			o.log.Warn("staging journal checkpoint failed", "error", err)
		} else {
			mark, hasMark = m, true
		}
	}
	failuresBefore := o.Stats().Failures

	keys := o.chunks.Keys()
	paths := make([]string, len(keys))
	errs := make([]error, len(keys))

	pool := o.loop.workerPool()
	var wg sync.WaitGroup
	for i, key := range keys {
		run := func(ctx context.Context) error {
			paths[i], errs[i] = o.Flush(ctx, key)
			return errs[i]
		}
		if pool != nil {
			wg.Add(1)
			task := concurrency.NewNamedTask("flush:"+key, func(ctx context.Context) error {
				defer wg.Done()
				return run(ctx)
			})
			if err := pool.Submit(task); err == nil {
				continue
			}
			wg.Done()
		}
		_ = run(ctx)
	}
	wg.Wait()

	var out []string
	for _, p := range paths {
		if p != "" {
			out = append(out, p)
		}
	}
	err := errors.Join(errs...)

	if hasMark && err == nil && o.Stats().Failures == failuresBefore {
		if rerr := o.journal.Release(mark); rerr != nil {
			o.metrics.RecordJournalError()
			o.log.Warn("staging journal release failed", "error", rerr)
		}
	}
	o.chunks.Prune()
	o.pruneIndexHints()
	return out, err
}
