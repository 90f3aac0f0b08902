// Package chunk accumulates formatted records per bucket key until they are
// flushed.
package chunk

import (
	"sort"
	"sync"
	"time"

	"github.com/fluxorio/fluxsink/pkg/core/failfast"
)

// Chunk is the data taken out of the buffer for one flush.
type Chunk struct {
	Key     string
	Data    []byte
	Records int
	Created time.Time
}

// Empty reports whether the chunk carries no data.
func (c Chunk) Empty() bool { return len(c.Data) == 0 }

type entry struct {
	mu      sync.Mutex
	data    []byte
	records int
	created time.Time
	dead    bool
}

// Buffer maps bucket keys to pending bytes. Appends to one key are ordered;
// different keys never contend on the same entry lock.
type Buffer struct {
	mu      sync.RWMutex
	entries map[string]*entry
	now     func() time.Time
}

// New creates an empty Buffer.
func New() *Buffer {
	return &Buffer{entries: make(map[string]*entry), now: time.Now}
}

// NewWithClock creates a Buffer stamping chunk creation with now.
func NewWithClock(now func() time.Time) *Buffer {
	b := New()
	if now != nil {
		b.now = now
	}
	return b
}

func (b *Buffer) entry(key string) *entry {
	b.mu.RLock()
	e := b.entries[key]
	b.mu.RUnlock()
	if e != nil {
		return e
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if e = b.entries[key]; e == nil {
		e = &entry{}
		b.entries[key] = e
	}
	return e
}

// Append copies p onto the chunk for key and returns the chunk's new size.
func (b *Buffer) Append(key string, p []byte) int64 {
	return b.AppendRecords(key, p, 1)
}

// AppendRecords is Append for a payload holding n records.
func (b *Buffer) AppendRecords(key string, p []byte, n int) int64 {
	for {
		e := b.entry(key)
		e.mu.Lock()
		if e.dead {
			e.mu.Unlock()
			continue
		}
		if len(e.data) == 0 {
			e.created = b.now()
		}
		e.data = append(e.data, p...)
		e.records += n
		size := int64(len(e.data))
		e.mu.Unlock()
		return size
	}
}

// TakeForFlush atomically removes and returns the data for key. Appends that
// race with the take land in a fresh chunk.
func (b *Buffer) TakeForFlush(key string) Chunk {
	b.mu.RLock()
	e := b.entries[key]
	b.mu.RUnlock()
	if e == nil {
		return Chunk{Key: key}
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	c := Chunk{Key: key, Data: e.data, Records: e.records, Created: e.created}
	e.data = nil
	e.records = 0
	e.created = time.Time{}
	return c
}

// Requeue puts a failed chunk back in front of anything appended since it was
// taken, so record order within the key is kept.
func (b *Buffer) Requeue(key string, c Chunk) {
	if c.Empty() {
		return
	}
	failfast.If(c.Key == "" || c.Key == key, "requeue of chunk %q under key %q", c.Key, key)
	for {
		e := b.entry(key)
		e.mu.Lock()
		if e.dead {
			e.mu.Unlock()
			continue
		}
		merged := make([]byte, 0, len(c.Data)+len(e.data))
		merged = append(merged, c.Data...)
		merged = append(merged, e.data...)
		e.data = merged
		e.records += c.Records
		if !c.Created.IsZero() {
			e.created = c.Created
		} else if e.created.IsZero() {
			e.created = b.now()
		}
		e.mu.Unlock()
		return
	}
}

// SizeOf returns the pending byte count for key.
func (b *Buffer) SizeOf(key string) int64 {
	b.mu.RLock()
	e := b.entries[key]
	b.mu.RUnlock()
	if e == nil {
		return 0
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return int64(len(e.data))
}

// Records returns the pending record count for key.
func (b *Buffer) Records(key string) int {
	b.mu.RLock()
	e := b.entries[key]
	b.mu.RUnlock()
	if e == nil {
		return 0
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.records
}

// CreatedAt returns when the pending chunk for key received its first bytes.
func (b *Buffer) CreatedAt(key string) (time.Time, bool) {
	b.mu.RLock()
	e := b.entries[key]
	b.mu.RUnlock()
	if e == nil {
		return time.Time{}, false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.data) == 0 {
		return time.Time{}, false
	}
	return e.created, true
}

// Keys returns the keys with pending data, sorted.
func (b *Buffer) Keys() []string {
	b.mu.RLock()
	keys := make([]string, 0, len(b.entries))
	for k, e := range b.entries {
		e.mu.Lock()
		if len(e.data) > 0 {
			keys = append(keys, k)
		}
		e.mu.Unlock()
	}
	b.mu.RUnlock()
	sort.Strings(keys)
	return keys
}

// TotalBytes sums pending bytes over every key.
func (b *Buffer) TotalBytes() int64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	var total int64
	for _, e := range b.entries {
		e.mu.Lock()
		total += int64(len(e.data))
		e.mu.Unlock()
	}
	return total
}

// Len returns the number of keys with pending data.
func (b *Buffer) Len() int {
	return len(b.Keys())
}

// Prune drops empty entries so long-running sinks do not keep one entry per
// historical bucket. It returns how many were removed.
func (b *Buffer) Prune() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	removed := 0
	for k, e := range b.entries {
		e.mu.Lock()
		if len(e.data) == 0 {
			e.dead = true
			delete(b.entries, k)
			removed++
		}
		e.mu.Unlock()
	}
	return removed
}
