package fileout

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/fluxorio/fluxsink/pkg/compress"
	"github.com/fluxorio/fluxsink/pkg/format"
)

var eventTime = time.Date(2011, 1, 2, 13, 14, 15, 0, time.UTC)

func rec(kv ...interface{}) format.Record {
	return format.Record{Time: eventTime, Tag: "test", Fields: format.F(kv...)}
}

// gzConfig mirrors the classic out_file setup: gzip, UTC, default layout.
func gzConfig(dir string) Config {
	cfg := DefaultConfig(filepath.Join(dir, "out_file_test"))
	cfg.Compress = "gz"
	cfg.UTC = true
	return cfg
}

func newOutput(t *testing.T, cfg Config, opts ...Option) *Output {
	t.Helper()
	o, err := New(cfg, opts...)
	require.NoError(t, err)
	return o
}

func flushAll(t *testing.T, o *Output) []string {
	t.Helper()
	paths, err := o.FlushAll(context.Background())
	require.NoError(t, err)
	return paths
}

func readDecoded(t *testing.T, path string, c compress.Codec) string {
	t.Helper()
	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	data, err := c.Decode(raw)
	require.NoError(t, err)
	return string(data)
}

func glob(t *testing.T, pattern string) []string {
	t.Helper()
	m, err := filepath.Glob(pattern)
	require.NoError(t, err)
	return m
}
