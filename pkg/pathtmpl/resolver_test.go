package pathtmpl

import (
	"io/fs"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fluxorio/fluxsink/pkg/core"
)

func memResolver(t *testing.T, path string, ext string) (*Resolver, afero.Fs) {
	t.Helper()
	tmpl, err := Parse(path)
	require.NoError(t, err)
	fsys := afero.NewMemMapFs()
	return NewResolver(fsys, tmpl, Options{CompressExt: ext}), fsys
}

func TestFreeIndex_Pure(t *testing.T) {
	taken := map[string]bool{"f0": true, "f1": true, "f3": true}
	exists := func(p string) bool { return taken[p] }
	name := func(i int) string { return "f" + string(rune('0'+i)) }

	assert.Equal(t, 2, FreeIndex(exists, name, 0))
	assert.Equal(t, 2, FreeIndex(exists, name, 2))
	assert.Equal(t, 4, FreeIndex(exists, name, 3))
}

func TestResolve_AppendIsStable(t *testing.T) {
	r, fsys := memResolver(t, "/logs/out_file_test", ".gz")

	var first string
	for i := 0; i < 5; i++ {
		res, err := r.Resolve("20110102", true, 0)
		require.NoError(t, err)
		assert.Equal(t, 0, res.Index)
		assert.True(t, res.Append)
		if i == 0 {
			first = res.Path
			require.NoError(t, afero.WriteFile(fsys, res.Path, []byte("x"), 0o644))
		}
		assert.Equal(t, first, res.Path)
	}
	assert.Equal(t, "/logs/out_file_test.20110102.log.gz", first)
}

func TestResolve_NonAppendNeverReusesIndex(t *testing.T) {
	r, fsys := memResolver(t, "/logs/out_file_test", ".gz")

	seen := map[string]bool{}
	for i := 0; i < 4; i++ {
		res, err := r.Resolve("20110102", false, 0)
		require.NoError(t, err)
		assert.Equal(t, i, res.Index)
		assert.False(t, seen[res.Path])
		seen[res.Path] = true

		exists, err := afero.Exists(fsys, res.Path)
		require.NoError(t, err)
		assert.False(t, exists, "resolved path must not exist at resolution time")

		require.NoError(t, afero.WriteFile(fsys, res.Path, []byte("chunk"), 0o644))
	}
	assert.True(t, seen["/logs/out_file_test.20110102_3.log.gz"])
}

func TestResolve_StartIndex(t *testing.T) {
	r, _ := memResolver(t, "/logs/out.*.txt", "")
	res, err := r.Resolve("2011-01-02-13", false, 7)
	require.NoError(t, err)
	assert.Equal(t, "/logs/out.2011-01-02-13_7.txt", res.Path)
}

func TestResolve_CreatesDirectory(t *testing.T) {
	r, fsys := memResolver(t, "/a/b/c/out", "")
	_, err := r.Resolve("k", false, 0)
	require.NoError(t, err)
	ok, err := afero.DirExists(fsys, "/a/b/c")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestResolve_InjectedExists(t *testing.T) {
	tmpl, err := Parse("/logs/out")
	require.NoError(t, err)
	taken := map[string]bool{"/logs/out.k_0.log": true}
	r := NewResolver(afero.NewMemMapFs(), tmpl, Options{Exists: func(p string) bool { return taken[p] }})

	res, err := r.Resolve("k", false, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Index)
}

func TestResolve_DirectoryFailureIsPathError(t *testing.T) {
	tmpl, err := Parse("/ro/out")
	require.NoError(t, err)
	r := NewResolver(afero.NewReadOnlyFs(afero.NewMemMapFs()), tmpl, Options{})

	_, err = r.Resolve("k", false, 0)
	require.Error(t, err)
	assert.True(t, core.IsPath(err))
}

func TestResolve_EmptyKey(t *testing.T) {
	r, _ := memResolver(t, "/logs/out", "")
	_, err := r.Resolve("", true, 0)
	assert.Error(t, err)
}

func TestCheckWritable(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, CheckWritable(nil, filepath.Join(dir, "foo", "bar", "baz")))
	require.NoError(t, CheckWritable(nil, dir))

	file := filepath.Join(dir, "plain")
	require.NoError(t, os.WriteFile(file, nil, 0o644))
	err := CheckWritable(nil, filepath.Join(file, "sub"))
	require.Error(t, err)
	assert.True(t, core.IsConfig(err))
}

func TestCheckWritable_MemFs(t *testing.T) {
	fsys := afero.NewMemMapFs()
	require.NoError(t, fsys.MkdirAll("/srv/logs", 0o755))
	require.NoError(t, CheckWritable(fsys, "/srv/logs/foo/bar"))

	require.NoError(t, fsys.Chmod("/srv/logs", 0o555))
	err := CheckWritable(fsys, "/srv/logs/foo/bar")
	require.Error(t, err)
	assert.True(t, core.IsConfig(err), "got %v", err)
	assert.ErrorIs(t, err, fs.ErrPermission)

	ok, _ := afero.DirExists(fsys, "/srv/logs/foo")
	assert.False(t, ok)
}

func TestCheckWritable_ReadOnlyAncestor(t *testing.T) {
	if os.Geteuid() == 0 {
		t.Skip("root bypasses directory permissions")
	}
	dir := filepath.Join(t.TempDir(), "test_dir")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.Chmod(dir, 0o555))
	t.Cleanup(func() { _ = os.Chmod(dir, 0o755) })

	err := CheckWritable(nil, filepath.Join(dir, "foo", "bar", "baz"))
	require.Error(t, err)
	assert.True(t, core.IsConfig(err))

	_, statErr := os.Stat(filepath.Join(dir, "foo"))
	assert.True(t, os.IsNotExist(statErr), "no directory may be created by validation")
}
