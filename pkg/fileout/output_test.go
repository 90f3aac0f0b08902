package fileout

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fluxorio/fluxsink/pkg/compress"
	"github.com/fluxorio/fluxsink/pkg/core"
)

const (
	line1 = "2011-01-02T13:14:15Z\ttest\t{\"a\":1}\n"
	line2 = "2011-01-02T13:14:15Z\ttest\t{\"a\":2}\n"
)

func TestNew_BasicConfiguration(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test_path")
	o := newOutput(t, DefaultConfig(path))
	assert.Equal(t, path, o.Config().Path)
	assert.Equal(t, 2, o.Config().FlushWorkers)
	assert.Equal(t, "%Y%m%d", o.Config().TimeSliceFormat)
	assert.Equal(t, compress.None.Name(), o.codec.Name())
}

func TestNew_ConfigErrors(t *testing.T) {
	dir := t.TempDir()
	base := filepath.Join(dir, "out")
	tests := []struct {
		name string
		mod  func(*Config)
	}{
		{"missing path", func(c *Config) { c.Path = "" }},
		{"invalid timezone", func(c *Config) { c.Timezone = "Invalid/Invalid" }},
		{"bad compress", func(c *Config) { c.Compress = "lz4" }},
		{"bad format", func(c *Config) { c.Format = "csv" }},
		{"bad permission", func(c *Config) { c.FilePermission = "rw-r--r--" }},
		{"two placeholders", func(c *Config) { c.Path = filepath.Join(dir, "a.*.${bucket}") }},
		{"placeholder in dir", func(c *Config) { c.Path = filepath.Join(dir, "*", "out") }},
		{"slice format with separator", func(c *Config) { c.TimeSliceFormat = "%Y/%m/%d" }},
		{"strict compressed append", func(c *Config) {
			c.Append, c.Compress, c.StrictCompressedAppend = true, "gz", true
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig(base)
			tt.mod(&cfg)
			_, err := New(cfg)
			require.Error(t, err)
			assert.True(t, core.IsConfig(err), "got %v", err)
		})
	}
}

func TestNew_CreatesNothing(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "foo", "bar")
	newOutput(t, DefaultConfig(filepath.Join(dir, "out")))
	_, err := os.Stat(dir)
	assert.True(t, os.IsNotExist(err))
}

func TestNew_UnwritableDirectory_MemFs(t *testing.T) {
	fsys := afero.NewMemMapFs()
	require.NoError(t, fsys.MkdirAll("/srv/test_dir", 0o755))
	require.NoError(t, fsys.Chmod("/srv/test_dir", 0o555))

	_, err := New(DefaultConfig("/srv/test_dir/foo/bar/baz/out"), WithFs(fsys))
	require.Error(t, err)
	assert.True(t, core.IsConfig(err), "got %v", err)

	entries, err := afero.ReadDir(fsys, "/srv/test_dir")
	require.NoError(t, err)
	assert.Empty(t, entries)

	require.NoError(t, fsys.Chmod("/srv/test_dir", 0o755))
	_, err = New(DefaultConfig("/srv/test_dir/foo/bar/baz/out"), WithFs(fsys))
	assert.NoError(t, err)
}

func TestNew_UnwritableDirectory(t *testing.T) {
	if os.Geteuid() == 0 {
		t.Skip("root bypasses directory permissions")
	}
	dir := filepath.Join(t.TempDir(), "test_dir")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.Chmod(dir, 0o555))
	t.Cleanup(func() { _ = os.Chmod(dir, 0o755) })

	_, err := New(DefaultConfig(filepath.Join(dir, "foo", "bar", "baz", "out")))
	require.Error(t, err)
	assert.True(t, core.IsConfig(err))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestWrite_Basic(t *testing.T) {
	dir := t.TempDir()
	o := newOutput(t, gzConfig(dir))
	_, err := os.Stat(filepath.Join(dir, "out_file_test.20110102_0.log.gz"))
	require.True(t, os.IsNotExist(err))

	require.NoError(t, o.Emit(rec("a", 1)))
	require.NoError(t, o.Emit(rec("a", 2)))
	paths := flushAll(t, o)

	want := filepath.Join(dir, "out_file_test.20110102_0.log.gz")
	assert.Equal(t, []string{want}, paths)
	assert.Equal(t, line1+line2, readDecoded(t, want, compress.Gzip))
	assert.Equal(t, 0, o.Stats().PendingKeys)
}

func TestWrite_Timezones(t *testing.T) {
	tests := []struct {
		name  string
		local string
		mod   func(*Config)
		want  string
	}{
		{"utc", "", func(c *Config) { c.UTC = true }, "2011-01-02T13:14:15Z"},
		{"timezone UTC", "", func(c *Config) { c.Timezone = "UTC" }, "2011-01-02T13:14:15Z"},
		{"area name", "", func(c *Config) { c.Timezone = "Asia/Taipei" }, "2011-01-02T21:14:15+08:00"},
		{"offset", "", func(c *Config) { c.Timezone = "-03:30" }, "2011-01-02T09:44:15-03:30"},
		{"local default", "Asia/Taipei", func(c *Config) {}, "2011-01-02T21:14:15+08:00"},
		{"utc overrides local", "Asia/Taipei", func(c *Config) { c.UTC = true }, "2011-01-02T13:14:15Z"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.local != "" {
				loc, err := time.LoadLocation(tt.local)
				require.NoError(t, err)
				prev := time.Local
				time.Local = loc
				t.Cleanup(func() { time.Local = prev })
			}
			dir := t.TempDir()
			cfg := DefaultConfig(filepath.Join(dir, "out_file_test"))
			tt.mod(&cfg)
			o := newOutput(t, cfg)
			require.NoError(t, o.Emit(rec("a", 1)))
			paths := flushAll(t, o)
			require.Len(t, paths, 1)
			assert.Equal(t, tt.want+"\ttest\t{\"a\":1}\n", readDecoded(t, paths[0], compress.None))
		})
	}
}

func TestWrite_IndexIncrements(t *testing.T) {
	dir := t.TempDir()
	for i, want := range []string{"_0", "_1", "_2"} {
		o := newOutput(t, gzConfig(dir))
		require.NoError(t, o.Emit(rec("a", 1)))
		require.NoError(t, o.Emit(rec("a", 2)))
		paths := flushAll(t, o)

		path := filepath.Join(dir, "out_file_test.20110102"+want+".log.gz")
		assert.Equal(t, []string{path}, paths)
		assert.Equal(t, line1+line2, readDecoded(t, path, compress.Gzip))
		assert.Len(t, glob(t, filepath.Join(dir, "out_file_test.*")), i+1)
	}
}

func TestFlush_IndexNotReusedWithinProcess(t *testing.T) {
	dir := t.TempDir()
	o := newOutput(t, DefaultConfig(filepath.Join(dir, "out")))
	ctx := context.Background()

	require.NoError(t, o.Emit(rec("a", 1)))
	first, err := o.Flush(ctx, "20110102")
	require.NoError(t, err)
	require.NoError(t, os.Remove(first))

	require.NoError(t, o.Emit(rec("a", 2)))
	second, err := o.Flush(ctx, "20110102")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "out.20110102_1.log"), second)
}

func TestWrite_Append(t *testing.T) {
	for _, codec := range []string{"none", "gz", "zstd"} {
		t.Run(codec, func(t *testing.T) {
			dir := t.TempDir()
			cfg := DefaultConfig(filepath.Join(dir, "out_file_test"))
			cfg.UTC = true
			cfg.Append = true
			cfg.Compress = codec
			c, err := compress.Parse(codec)
			require.NoError(t, err)
			want := filepath.Join(dir, "out_file_test.20110102.log"+c.Ext())

			var expect string
			for i := 1; i <= 3; i++ {
				o := newOutput(t, cfg)
				require.NoError(t, o.Emit(rec("a", 1)))
				require.NoError(t, o.Emit(rec("a", 2)))
				assert.Equal(t, []string{want}, flushAll(t, o))
				expect += line1 + line2
				assert.Equal(t, expect, readDecoded(t, want, c))
			}
			assert.Len(t, glob(t, filepath.Join(dir, "out_file_test.*")), 1)
		})
	}
}

func TestWrite_Paths(t *testing.T) {
	tests := []struct {
		name   string
		path   string
		append bool
		want   string
	}{
		{"normal", "out_file_test", false, "out_file_test.2011-01-02-13_0.log"},
		{"normal with append", "out_file_test", true, "out_file_test.2011-01-02-13.log"},
		{"wildcard", "out_file_test.*.txt", false, "out_file_test.2011-01-02-13_0.txt"},
		{"wildcard with append", "out_file_test.*.txt", true, "out_file_test.2011-01-02-13.txt"},
		{"token", "out_file_test.${bucket}.txt", false, "out_file_test.2011-01-02-13_0.txt"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			cfg := DefaultConfig(filepath.Join(dir, tt.path))
			cfg.TimeSliceFormat = "%Y-%m-%d-%H"
			cfg.UTC = true
			cfg.Append = tt.append
			o := newOutput(t, cfg)
			require.NoError(t, o.Emit(rec("a", 1)))
			assert.Equal(t, []string{filepath.Join(dir, tt.want)}, flushAll(t, o))
		})
	}
}

func TestWrite_Formats(t *testing.T) {
	yes := true
	tests := []struct {
		name string
		mod  func(*Config)
		want string
	}{
		{"json", func(c *Config) { c.Format, c.IncludeTimeKey, c.TimeAsEpoch = "json", yes, yes },
			"{\"a\":1,\"time\":1293974055}\n{\"a\":2,\"time\":1293974055}\n"},
		{"ltsv", func(c *Config) { c.Format, c.IncludeTimeKey = "ltsv", yes },
			"a:1\ttime:2011-01-02T13:14:15Z\na:2\ttime:2011-01-02T13:14:15Z\n"},
		{"single_value", func(c *Config) { c.Format, c.MessageKey = "single_value", "a" },
			"1\n2\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := gzConfig(t.TempDir())
			tt.mod(&cfg)
			o := newOutput(t, cfg)
			require.NoError(t, o.Emit(rec("a", 1)))
			require.NoError(t, o.Emit(rec("a", 2)))
			paths := flushAll(t, o)
			require.Len(t, paths, 1)
			assert.Equal(t, tt.want, readDecoded(t, paths[0], compress.Gzip))
		})
	}
}

func TestWrite_Permissions(t *testing.T) {
	root := filepath.Join(t.TempDir(), "out_file_system")
	cfg := gzConfig(root)
	cfg.DirPermission = "750"
	cfg.FilePermission = "0620"
	o := newOutput(t, cfg)
	require.NoError(t, o.Emit(rec("a", 1)))
	require.NoError(t, o.Emit(rec("a", 2)))
	paths := flushAll(t, o)
	assert.Equal(t, []string{filepath.Join(root, "out_file_test.20110102_0.log.gz")}, paths)

	info, err := os.Stat(root)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o750), info.Mode().Perm())
	info, err = os.Stat(paths[0])
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o620), info.Mode().Perm())
}

func TestWrite_Symlink(t *testing.T) {
	dir := t.TempDir()
	cfg := gzConfig(dir)
	cfg.SymlinkPath = filepath.Join(dir, "current")
	o := newOutput(t, cfg)

	require.NoError(t, o.Emit(rec("a", 1)))
	first := flushAll(t, o)
	target, err := os.Readlink(cfg.SymlinkPath)
	require.NoError(t, err)
	assert.Equal(t, first[0], target)

	require.NoError(t, o.Emit(rec("a", 2)))
	second := flushAll(t, o)
	target, err = os.Readlink(cfg.SymlinkPath)
	require.NoError(t, err)
	assert.Equal(t, second[0], target)
	assert.Equal(t, line2, readDecoded(t, cfg.SymlinkPath, compress.Gzip))
}

func TestFlush_MultipleBuckets(t *testing.T) {
	dir := t.TempDir()
	o := newOutput(t, gzConfig(dir))
	require.NoError(t, o.Emit(rec("a", 1)))
	next := rec("a", 2)
	next.Time = eventTime.AddDate(0, 0, 1)
	require.NoError(t, o.Emit(next))
	assert.Equal(t, 2, o.Stats().PendingKeys)

	path, err := o.Flush(context.Background(), "20110103")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "out_file_test.20110103_0.log.gz"), path)
	assert.Equal(t, 1, o.Stats().PendingKeys)

	path, err = o.Flush(context.Background(), "20110104")
	require.NoError(t, err)
	assert.Empty(t, path)
}

func TestEmitBytes(t *testing.T) {
	dir := t.TempDir()
	o := newOutput(t, DefaultConfig(filepath.Join(dir, "raw")))
	require.NoError(t, o.EmitBytes("custom", []byte("x\n")))
	assert.Error(t, o.EmitBytes("", []byte("x\n")))

	paths := flushAll(t, o)
	assert.Equal(t, []string{filepath.Join(dir, "raw.custom_0.log")}, paths)
}

func TestStats_Pending(t *testing.T) {
	now := eventTime
	o := newOutput(t, DefaultConfig(filepath.Join(t.TempDir(), "out")),
		WithClock(func() time.Time { return now }))
	assert.Zero(t, o.Stats().OldestPending)

	require.NoError(t, o.EmitBytes("a", []byte("x\n")))
	now = now.Add(time.Minute)
	require.NoError(t, o.EmitBytes("b", []byte("y\n")))
	require.NoError(t, o.EmitBytes("b", []byte("z\n")))
	now = now.Add(time.Minute)

	s := o.Stats()
	assert.Equal(t, 2, s.PendingKeys)
	assert.Equal(t, 3, s.PendingRecords)
	assert.Equal(t, 2*time.Minute, s.OldestPending)

	_, err := o.Flush(context.Background(), "a")
	require.NoError(t, err)
	s = o.Stats()
	assert.Equal(t, 2, s.PendingRecords)
	assert.Equal(t, time.Minute, s.OldestPending)
}

func TestEmit_FormatFailure(t *testing.T) {
	o := newOutput(t, DefaultConfig(filepath.Join(t.TempDir(), "out")))
	err := o.Emit(rec("bad", make(chan int)))
	require.Error(t, err)
	assert.Equal(t, core.CodeInvalidInput, core.CodeOf(err))
	assert.Equal(t, 0, o.Stats().PendingKeys)
}
