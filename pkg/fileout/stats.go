package fileout

import (
	"time"

	"github.com/c2h5oh/datasize"

	"github.com/fluxorio/fluxsink/pkg/journal"
)

// Stats is a snapshot of an Output.
type Stats struct {
	PendingKeys    int
	PendingRecords int
	PendingBytes   datasize.ByteSize
	// OldestPending is the age of the oldest unflushed chunk.
	OldestPending time.Duration
	Flushes       int64
	Failures      int64
	BytesWritten  datasize.ByteSize
	LastPath      string
	Journal       *journal.Stats
}

// Stats returns current counters.
func (o *Output) Stats() Stats {
	o.statsMu.Lock()
	s := Stats{
		Flushes:      o.flushes,
		Failures:     o.failures,
		BytesWritten: datasize.ByteSize(o.written),
		LastPath:     o.lastPath,
	}
	o.statsMu.Unlock()

	s.PendingKeys = o.chunks.Len()
	s.PendingBytes = datasize.ByteSize(o.chunks.TotalBytes())
	now := o.now()
	for _, key := range o.chunks.Keys() {
		s.PendingRecords += o.chunks.Records(key)
		if created, ok := o.chunks.CreatedAt(key); ok {
			if age := now.Sub(created); age > s.OldestPending {
				s.OldestPending = age
			}
		}
	}
	if o.journal != nil {
		js := o.journal.Stats()
		s.Journal = &js
	}
	return s
}
