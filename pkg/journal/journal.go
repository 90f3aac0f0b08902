// Package journal is an append-only staging log for buffered chunk data.
//
// Every formatted record accepted by the sink can be mirrored here before it
// reaches a file. After a restart the journal is replayed into the chunk
// buffer, so data that was buffered but never flushed is not lost. Segments
// are released once a flush covering them has succeeded.
package journal

import (
	"errors"
	"io"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/spf13/afero"

	"github.com/fluxorio/fluxsink/pkg/core"
)

// Seq is a monotonically increasing frame number.
type Seq uint64

// Mark identifies a segment boundary returned by Checkpoint.
type Mark int

// Durability specifies when Append is acknowledged.
type Durability int

const (
	// DurabilityMemory acknowledges after the frame is accepted into memory.
	DurabilityMemory Durability = iota
	// DurabilityFsync acknowledges after the active segment is fsync'd.
	DurabilityFsync
)

// Config configures a Journal.
type Config struct {
	Dir string
	// Fs defaults to the OS filesystem.
	Fs afero.Fs

	// MaxSegmentBytes triggers rotation when the active segment reaches this size.
	MaxSegmentBytes int64

	// MaxBufferedBytes bounds in-memory buffering. When exceeded, Append fails-fast.
	MaxBufferedBytes int64

	// QueueSize is the number of frames that may wait for the writer.
	QueueSize int

	Durability Durability
}

// DefaultConfig returns a conservative default config.
func DefaultConfig(dir string) Config {
	return Config{
		Dir:              dir,
		MaxSegmentBytes:  64 << 20, // 64MB
		MaxBufferedBytes: 8 << 20,  // 8MB
		QueueSize:        1024,
		Durability:       DurabilityMemory,
	}
}

// Stats exposes basic operational counters.
type Stats struct {
	// Current in-memory queued bytes awaiting the writer.
	BufferedBytes int64
	// Total bytes written to disk (best-effort).
	WrittenBytes int64
	// Total number of frames appended.
	AppendedFrames int64
	// Total rejected appends due to backpressure.
	RejectedAppends int64
	// Number of segment files on disk.
	Segments int
}

// Errors.
var (
	ErrClosed       = errors.New("journal closed")
	ErrInvalidData  = errors.New("journal: empty key or data")
	ErrBackpressure = errors.New("journal: buffer full")
	ErrKeyTooLong   = errors.New("journal: key longer than 65535 bytes")
)

type appendReq struct {
	seq   Seq
	key   string
	data  []byte
	ackCh chan error
}

// Journal writes frames through a bounded queue to a background writer that
// appends them to rotating segment files.
type Journal struct {
	cfg Config
	fs  afero.Fs

	mu     sync.Mutex
	closed bool

	nextSeq uint64 // atomic

	// active segment, guarded by mu
	active *segment

	appendCh chan appendReq
	chMu     sync.RWMutex
	writerWg sync.WaitGroup

	bufferedBytes   int64
	writtenBytes    int64
	appendedFrames  int64
	rejectedAppends int64
}

// Open creates dir if needed, recovers the sequence counter from existing
// segments and starts the background writer.
func Open(cfg Config) (*Journal, error) {
	if strings.TrimSpace(cfg.Dir) == "" {
		return nil, core.ConfigError("journal_dir", "dir is required")
	}
	def := DefaultConfig(cfg.Dir)
	if cfg.MaxSegmentBytes <= 0 {
		cfg.MaxSegmentBytes = def.MaxSegmentBytes
	}
	if cfg.MaxBufferedBytes <= 0 {
		cfg.MaxBufferedBytes = def.MaxBufferedBytes
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = def.QueueSize
	}
	if cfg.Fs == nil {
		cfg.Fs = afero.NewOsFs()
	}
	if err := cfg.Fs.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, core.PathError(cfg.Dir, err)
	}

	j := &Journal{cfg: cfg, fs: cfg.Fs}
	if err := j.recover(); err != nil {
		_ = j.Close()
		return nil, err
	}

	j.appendCh = make(chan appendReq, cfg.QueueSize)
	j.writerWg.Add(1)
	go j.writeLoop()
	return j, nil
}

func (j *Journal) recover() error {
	segs, err := listSegments(j.fs, j.cfg.Dir)
	if err != nil {
		return core.IOError("list", j.cfg.Dir, err)
	}
	var maxSeq Seq
	maxID := 0
	for _, s := range segs {
		if s.id > maxID {
			maxID = s.id
		}
		err := scanSegment(j.fs, s.path, func(seq Seq, _ string, _ []byte) error {
			if seq > maxSeq {
				maxSeq = seq
			}
			return nil
		})
		if err != nil {
			return core.IOError("scan", s.path, err)
		}
	}
	atomic.StoreUint64(&j.nextSeq, uint64(maxSeq+1))

	// New frames always start a fresh segment so a torn tail in an old one
	// never sits in front of good data.
	seg, err := openSegment(j.fs, j.cfg.Dir, maxID+1)
	if err != nil {
		return err
	}
	j.active = seg
	return nil
}

// Append queues one frame. It never blocks: a full queue or byte budget
// returns ErrBackpressure.
func (j *Journal) Append(key string, data []byte) (Seq, error) {
	if key == "" || len(data) == 0 {
		return 0, ErrInvalidData
	}
	if len(key) > 0xFFFF {
		return 0, ErrKeyTooLong
	}

	size := int64(len(data) + len(key))
	for {
		cur := atomic.LoadInt64(&j.bufferedBytes)
		if cur+size > j.cfg.MaxBufferedBytes {
			atomic.AddInt64(&j.rejectedAppends, 1)
			return 0, ErrBackpressure
		}
		if atomic.CompareAndSwapInt64(&j.bufferedBytes, cur, cur+size) {
			break
		}
	}

	j.chMu.RLock()
	defer j.chMu.RUnlock()
	if j.appendCh == nil {
		atomic.AddInt64(&j.bufferedBytes, -size)
		return 0, ErrClosed
	}

	seq := Seq(atomic.AddUint64(&j.nextSeq, 1) - 1)
	req := appendReq{
		seq:   seq,
		key:   key,
		data:  append([]byte(nil), data...), // copy
		ackCh: make(chan error, 1),
	}

	select {
	case j.appendCh <- req:
		atomic.AddInt64(&j.appendedFrames, 1)
	default:
		atomic.AddInt64(&j.rejectedAppends, 1)
		atomic.AddInt64(&j.bufferedBytes, -size)
		return 0, ErrBackpressure
	}

	if j.cfg.Durability == DurabilityMemory {
		return seq, nil
	}
	return seq, <-req.ackCh
}

func (j *Journal) writeLoop() {
	defer j.writerWg.Done()

	for req := range j.appendCh {
		if req.key == "" {
			req.ackCh <- nil
			continue
		}
		err := j.writeFrame(req)
		atomic.AddInt64(&j.bufferedBytes, -int64(len(req.data)+len(req.key)))
		req.ackCh <- err
	}
}

func (j *Journal) writeFrame(req appendReq) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.active == nil {
		return ErrClosed
	}

	frameLen := int64(headerSize + len(req.key) + len(req.data))
	if j.active.size > 0 && j.active.size+frameLen > j.cfg.MaxSegmentBytes {
		if err := j.rotateLocked(); err != nil {
			return err
		}
	}

	n, err := j.active.write(req.seq, req.key, req.data)
	atomic.AddInt64(&j.writtenBytes, int64(n))
	if err != nil {
		return core.IOError("journal write", j.active.path, err)
	}
	if j.cfg.Durability == DurabilityFsync {
		return j.active.sync()
	}
	return nil
}

func (j *Journal) rotateLocked() error {
	seg, err := openSegment(j.fs, j.cfg.Dir, j.active.id+1)
	if err != nil {
		return err
	}
	prev := j.active
	j.active = seg
	return prev.close(j.cfg.Durability == DurabilityFsync)
}

// Checkpoint seals the active segment. Frames accepted before the call live
// in segments older than the returned Mark.
func (j *Journal) Checkpoint() (Mark, error) {
	if err := j.drain(); err != nil {
		return 0, err
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.active == nil {
		return 0, ErrClosed
	}
	if j.active.size == 0 {
		return Mark(j.active.id), nil
	}
	if err := j.rotateLocked(); err != nil {
		return 0, err
	}
	return Mark(j.active.id), nil
}

// Release deletes every segment older than mark.
func (j *Journal) Release(mark Mark) error {
	segs, err := listSegments(j.fs, j.cfg.Dir)
	if err != nil {
		return core.IOError("list", j.cfg.Dir, err)
	}
	var errs []error
	for _, s := range segs {
		if s.id >= int(mark) {
			continue
		}
		if err := j.fs.Remove(s.path); err != nil {
			errs = append(errs, core.IOError("remove", s.path, err))
		}
	}
	return errors.Join(errs...)
}

// Reset drops every frame written so far.
func (j *Journal) Reset() error {
	if err := j.drain(); err != nil {
		return err
	}
	mark, err := j.Checkpoint()
	if err != nil {
		return err
	}
	return j.Release(mark)
}

// Replay calls fn for every intact frame in sequence order. A torn frame at
// the end of a segment is skipped.
func (j *Journal) Replay(fn func(key string, data []byte) error) error {
	if err := j.drain(); err != nil && !errors.Is(err, ErrClosed) {
		return err
	}
	if err := j.Sync(); err != nil && !errors.Is(err, ErrClosed) {
		return err
	}
	segs, err := listSegments(j.fs, j.cfg.Dir)
	if err != nil {
		return core.IOError("list", j.cfg.Dir, err)
	}
	for _, s := range segs {
		err := scanSegment(j.fs, s.path, func(_ Seq, key string, data []byte) error {
			return fn(key, data)
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// Sync flushes buffered frames of the active segment to stable storage.
func (j *Journal) Sync() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.active == nil {
		return ErrClosed
	}
	return j.active.sync()
}

// drain waits until the writer has consumed the queue.
func (j *Journal) drain() error {
	j.chMu.RLock()
	ch := j.appendCh
	j.chMu.RUnlock()
	if ch == nil {
		return ErrClosed
	}
	ack := make(chan error, 1)
	// a zero-length marker frame is never written
	select {
	case ch <- appendReq{ackCh: ack}:
	default:
		return ErrBackpressure
	}
	return <-ack
}

// Close stops the writer after it has written every queued frame.
func (j *Journal) Close() error {
	j.chMu.Lock()
	ch := j.appendCh
	j.appendCh = nil
	j.chMu.Unlock()

	if ch != nil {
		close(ch)
	}
	j.writerWg.Wait()

	j.mu.Lock()
	defer j.mu.Unlock()
	if j.closed {
		return nil
	}
	j.closed = true
	if j.active == nil {
		return nil
	}
	err := j.active.close(true)
	if err == nil && j.active.size == 0 {
		err = j.fs.Remove(j.active.path)
	}
	j.active = nil
	return err
}

// Stats returns a snapshot of the counters.
func (j *Journal) Stats() Stats {
	segs, _ := listSegments(j.fs, j.cfg.Dir)
	return Stats{
		BufferedBytes:   atomic.LoadInt64(&j.bufferedBytes),
		WrittenBytes:    atomic.LoadInt64(&j.writtenBytes),
		AppendedFrames:  atomic.LoadInt64(&j.appendedFrames),
		RejectedAppends: atomic.LoadInt64(&j.rejectedAppends),
		Segments:        len(segs),
	}
}

var _ io.Closer = (*Journal)(nil)
