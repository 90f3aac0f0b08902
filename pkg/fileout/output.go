// Package fileout is a time-bucketed local file sink.
//
// Records are bucketed by timestamp, formatted and buffered per bucket. A
// flush writes one bucket's buffer to a path derived from the configured
// template, optionally compressed, and then repoints the "latest" symlink.
package fileout

import (
	"errors"
	"sync"
	"time"

	"github.com/spf13/afero"
	"go.opentelemetry.io/otel/trace"

	"github.com/fluxorio/fluxsink/pkg/chunk"
	"github.com/fluxorio/fluxsink/pkg/compress"
	"github.com/fluxorio/fluxsink/pkg/core"
	"github.com/fluxorio/fluxsink/pkg/filewriter"
	"github.com/fluxorio/fluxsink/pkg/format"
	"github.com/fluxorio/fluxsink/pkg/journal"
	"github.com/fluxorio/fluxsink/pkg/observability/otel"
	prom "github.com/fluxorio/fluxsink/pkg/observability/prometheus"
	"github.com/fluxorio/fluxsink/pkg/pathtmpl"
	"github.com/fluxorio/fluxsink/pkg/symlink"
	"github.com/fluxorio/fluxsink/pkg/timeslice"
)

// ErrStopped is returned by Emit and Start once Stop has begun.
var ErrStopped = &core.Error{Code: core.CodeInvalidInput, Op: "emit", Err: errors.New("output stopped")}

// Output is one configured sink.
type Output struct {
	cfg     Config
	log     core.Logger
	metrics *prom.Metrics
	tracer  trace.Tracer
	fs      afero.Fs
	now     func() time.Time

	bucketer  *timeslice.Bucketer
	formatter format.Formatter
	codec     compress.Codec
	resolver  *pathtmpl.Resolver
	writer    *filewriter.Writer
	symlink   *symlink.Manager
	chunks    *chunk.Buffer
	journal   *journal.Journal

	locks   *keyLocks
	onFlush func(key, path string)

	// emitMu orders emits against Stop. Emits hold it shared.
	emitMu  sync.RWMutex
	stopped bool

	idxMu     sync.Mutex
	nextIndex map[string]int

	loop loopState

	statsMu  sync.Mutex
	flushes  int64
	failures int64
	written  int64
	lastPath string
}

// New validates cfg and builds an Output. Every configuration problem is
// reported here as a CONFIG error. Nothing is created on disk except the
// journal directory when journal_dir is set.
func New(cfg Config, opts ...Option) (*Output, error) {
	cfg = cfg.withDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	o := &Output{
		cfg:       cfg,
		log:       core.NewNopLogger(),
		fs:        afero.NewOsFs(),
		now:       time.Now,
		tracer:    otel.Tracer(),
		locks:     newKeyLocks(),
		nextIndex: make(map[string]int),
	}
	for _, opt := range opts {
		opt(o)
	}
	o.log = o.log.With("component", "fileout")

	loc, err := timeslice.ParseZone(cfg.zone())
	if err != nil {
		return nil, err
	}
	if o.bucketer, err = timeslice.NewWithLocation(loc, cfg.TimeSliceFormat); err != nil {
		return nil, err
	}

	tmpl, err := pathtmpl.Parse(cfg.Path)
	if err != nil {
		return nil, err
	}
	if o.codec, err = compress.Parse(cfg.Compress); err != nil {
		return nil, err
	}
	if cfg.Append && compress.Compressed(o.codec) {
		o.log.Warn("append with compression writes concatenated frames; readers must support multi-frame streams", "compress", o.codec.Name())
	}

	dirMode, err := parseMode("dir_permission", cfg.DirPermission)
	if err != nil {
		return nil, err
	}
	fileMode, err := parseMode("file_permission", cfg.FilePermission)
	if err != nil {
		return nil, err
	}

	if o.formatter == nil {
		if o.formatter, err = format.New(cfg.Format, formatOptions(cfg, loc)); err != nil {
			return nil, err
		}
	}

	if err := pathtmpl.CheckWritable(o.fs, tmpl.Dir); err != nil {
		return nil, err
	}

	o.writer = filewriter.New(o.fs, filewriter.Permissions{DirMode: dirMode, FileMode: fileMode})
	o.resolver = pathtmpl.NewResolver(o.fs, tmpl, pathtmpl.Options{
		CompressExt: o.codec.Ext(),
		Dirs:        o.writer,
	})
	o.symlink = symlink.New(o.fs, cfg.SymlinkPath)
	o.chunks = chunk.NewWithClock(o.now)

	if cfg.JournalDir != "" {
		if err := o.openJournal(); err != nil {
			return nil, err
		}
	}
	o.loop.init()
	return o, nil
}

func formatOptions(cfg Config, loc *time.Location) format.Options {
	fo := format.DefaultOptions()
	fo.Location = loc
	if cfg.TimeFormat != "" {
		fo.TimeFormat = cfg.TimeFormat
	}
	if cfg.OutputTime != nil {
		fo.OutputTime = *cfg.OutputTime
	}
	if cfg.OutputTag != nil {
		fo.OutputTag = *cfg.OutputTag
	}
	if cfg.Delimiter != "" {
		fo.Delimiter = cfg.Delimiter
	}
	fo.IncludeTimeKey = cfg.IncludeTimeKey
	if cfg.TimeKey != "" {
		fo.TimeKey = cfg.TimeKey
	}
	fo.TimeAsEpoch = cfg.TimeAsEpoch
	if cfg.MessageKey != "" {
		fo.MessageKey = cfg.MessageKey
	}
	if cfg.AddNewline != nil {
		fo.AddNewline = *cfg.AddNewline
	}
	return fo
}

func (o *Output) openJournal() error {
	jcfg := journal.DefaultConfig(o.cfg.JournalDir)
	jcfg.Fs = o.fs
	if o.cfg.JournalFsync {
		jcfg.Durability = journal.DurabilityFsync
	}
	j, err := journal.Open(jcfg)
	if err != nil {
		return err
	}
	records := 0
	err = j.Replay(func(key string, data []byte) error {
		o.chunks.Append(key, data)
		records++
		return nil
	})
	if err != nil {
		_ = j.Close()
		return err
	}
	if records > 0 {
		o.log.Info("replayed staging journal", "dir", o.cfg.JournalDir, "records", records, "bytes", o.chunks.TotalBytes())
	} else if err := j.Reset(); err != nil {
		// Nothing to recover; segments from earlier runs are dropped.
		_ = j.Close()
		return err
	}
	o.journal = j
	o.updatePending()
	return nil
}

// Config returns the effective configuration.
func (o *Output) Config() Config { return o.cfg }

// Emit buckets and formats rec and buffers the result. It never touches the
// output files.
func (o *Output) Emit(rec format.Record) error {
	p, err := o.formatter.Format(rec)
	if err != nil {
		o.metrics.RecordDrop("format")
		return &core.Error{Code: core.CodeInvalidInput, Op: "format", Err: err}
	}
	if err := o.EmitBytes(o.bucketer.Key(rec.Time), p); err != nil {
		return err
	}
	o.metrics.RecordEmit(rec.Tag)
	return nil
}

// EmitBytes buffers pre-formatted bytes under key.
func (o *Output) EmitBytes(key string, p []byte) error {
	if key == "" {
		o.metrics.RecordDrop("empty_key")
		return &core.Error{Code: core.CodeInvalidInput, Op: "emit", Err: errors.New("empty bucket key")}
	}
	if len(p) == 0 {
		return nil
	}

	o.emitMu.RLock()
	defer o.emitMu.RUnlock()
	if o.stopped {
		o.metrics.RecordDrop("stopped")
		return ErrStopped
	}

	size := o.chunks.Append(key, p)
	if o.journal != nil {
		if _, err := o.journal.Append(key, p); err != nil {
			o.metrics.RecordJournalError()
			o.log.Warn("staging journal append failed", "bucket", key, "error", err)
		}
	}
	o.updatePending()

	if limit := int64(o.cfg.ChunkLimitSize.Bytes()); limit > 0 && size >= limit {
		o.loop.trigger(key)
	}
	return nil
}

func (o *Output) updatePending() {
	if o.metrics == nil {
		return
	}
	o.metrics.UpdatePending(o.chunks.Len(), o.chunks.TotalBytes())
}
