// Load generator for the file sink: concurrent producers emit records into
// one Output while the flush loop runs, then the totals are checked against
// what reached disk.
//
// Run: go run ./loadtest -dir /tmp/fluxsink-load -producers 8 -records 100000
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/c2h5oh/datasize"

	"github.com/fluxorio/fluxsink/pkg/config"
	"github.com/fluxorio/fluxsink/pkg/fileout"
	"github.com/fluxorio/fluxsink/pkg/format"
)

type loadConfig struct {
	dir       string
	producers int
	records   int
	buckets   int
	compress  string
	appendTo  bool
	limit     datasize.ByteSize
}

type result struct {
	emitted  int64
	emitErrs int64
	elapsed  time.Duration
	stats    fileout.Stats
	files    int
}

func main() {
	var lc loadConfig
	limit := flag.String("chunk-limit", "1MB", "chunk_limit_size")
	flag.StringVar(&lc.dir, "dir", filepath.Join("/tmp", "fluxsink-load"), "output directory")
	flag.IntVar(&lc.producers, "producers", 8, "concurrent producers")
	flag.IntVar(&lc.records, "records", 100000, "records per producer")
	flag.IntVar(&lc.buckets, "buckets", 4, "distinct hourly buckets")
	flag.StringVar(&lc.compress, "compress", "gz", "none, gz or zstd")
	flag.BoolVar(&lc.appendTo, "append", false, "append mode")
	flag.Parse()

	if err := lc.limit.UnmarshalText([]byte(*limit)); err != nil {
		log.Fatalf("chunk-limit: %v", err)
	}

	res, err := runLoad(context.Background(), lc)
	if err != nil {
		log.Fatalf("load run failed: %v", err)
	}
	rate := float64(res.emitted) / res.elapsed.Seconds()
	fmt.Printf("records=%d errors=%d elapsed=%s rate=%.0f/s\n", res.emitted, res.emitErrs, res.elapsed.Round(time.Millisecond), rate)
	fmt.Printf("flushes=%d failures=%d written=%s files=%d\n", res.stats.Flushes, res.stats.Failures, res.stats.BytesWritten.HumanReadable(), res.files)
}

func runLoad(ctx context.Context, lc loadConfig) (result, error) {
	if lc.buckets < 1 {
		lc.buckets = 1
	}
	cfg := fileout.DefaultConfig(filepath.Join(lc.dir, "load"))
	cfg.TimeSliceFormat = "%Y%m%d%H"
	cfg.UTC = true
	cfg.Compress = lc.compress
	cfg.Append = lc.appendTo
	cfg.ChunkLimitSize = lc.limit
	cfg.FlushInterval = config.Duration(200 * time.Millisecond)
	cfg.FlushWorkers = 4

	files := newFileCounter()
	out, err := fileout.New(cfg, fileout.WithFlushCallback(func(_, path string) { files.add(path) }))
	if err != nil {
		return result{}, err
	}
	if err := out.Start(ctx); err != nil {
		return result{}, err
	}

	base := time.Date(2011, 1, 2, 0, 0, 0, 0, time.UTC)
	var (
		wg       sync.WaitGroup
		emitErrs int64
	)
	start := time.Now()
	for p := 0; p < lc.producers; p++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			for i := 0; i < lc.records; i++ {
				rec := format.Record{
					Time:   base.Add(time.Duration(i%lc.buckets) * time.Hour),
					Tag:    "load",
					Fields: format.F("producer", p, "seq", i, "msg", "the quick brown fox"),
				}
				if err := out.Emit(rec); err != nil {
					atomic.AddInt64(&emitErrs, 1)
				}
			}
		}(p)
	}
	wg.Wait()

	stopCtx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	if err := out.Stop(stopCtx); err != nil {
		return result{}, err
	}
	return result{
		emitted:  int64(lc.producers * lc.records),
		emitErrs: atomic.LoadInt64(&emitErrs),
		elapsed:  time.Since(start),
		stats:    out.Stats(),
		files:    files.len(),
	}, nil
}

type fileCounter struct {
	mu    sync.Mutex
	paths map[string]struct{}
}

func newFileCounter() *fileCounter { return &fileCounter{paths: make(map[string]struct{})} }

func (c *fileCounter) add(p string) {
	c.mu.Lock()
	c.paths[p] = struct{}{}
	c.mu.Unlock()
}

func (c *fileCounter) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.paths)
}
