package journal

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type frame struct {
	key  string
	data string
}

func replayAll(t *testing.T, j *Journal) []frame {
	t.Helper()
	var out []frame
	require.NoError(t, j.Replay(func(key string, data []byte) error {
		out = append(out, frame{key, string(data)})
		return nil
	}))
	return out
}

func fsyncConfig(dir string) Config {
	cfg := DefaultConfig(dir)
	cfg.Durability = DurabilityFsync
	return cfg
}

func TestJournal_AppendReplay(t *testing.T) {
	j, err := Open(fsyncConfig(t.TempDir()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = j.Close() })

	s1, err := j.Append("20110102", []byte("a\n"))
	require.NoError(t, err)
	s2, err := j.Append("20110103", []byte("b\n"))
	require.NoError(t, err)
	assert.Greater(t, s2, s1)

	assert.Equal(t, []frame{{"20110102", "a\n"}, {"20110103", "b\n"}}, replayAll(t, j))
}

func TestJournal_MemoryDurabilityReplaysQueued(t *testing.T) {
	j, err := Open(Config{Dir: "/j", Fs: afero.NewMemMapFs()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = j.Close() })

	for i := 0; i < 20; i++ {
		_, err := j.Append("k", []byte(fmt.Sprintf("%d", i)))
		require.NoError(t, err)
	}
	assert.Len(t, replayAll(t, j), 20)
}

func TestJournal_RecoveryAfterReopen(t *testing.T) {
	dir := t.TempDir()
	cfg := fsyncConfig(dir)
	cfg.MaxSegmentBytes = 64

	j1, err := Open(cfg)
	require.NoError(t, err)
	var last Seq
	for i := 0; i < 10; i++ {
		last, err = j1.Append("k", bytes.Repeat([]byte("x"), 16))
		require.NoError(t, err)
	}
	require.NoError(t, j1.Close())

	j2, err := Open(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = j2.Close() })

	assert.Len(t, replayAll(t, j2), 10)
	next, err := j2.Append("k", []byte("after"))
	require.NoError(t, err)
	assert.Greater(t, next, last)
	assert.Greater(t, j2.Stats().Segments, 2)
}

func TestJournal_TornTailIgnored(t *testing.T) {
	dir := t.TempDir()
	j1, err := Open(fsyncConfig(dir))
	require.NoError(t, err)
	_, err = j1.Append("k", []byte("good"))
	require.NoError(t, err)
	require.NoError(t, j1.Close())

	seg := segmentPath(dir, 1)
	f, err := os.OpenFile(seg, os.O_APPEND|os.O_WRONLY, 0o644)
	require.NoError(t, err)
	_, err = f.Write([]byte{9, 0, 0, 0, 0, 0, 0, 0, 100, 0})
	require.NoError(t, err)
	require.NoError(t, f.Close())

	j2, err := Open(fsyncConfig(dir))
	require.NoError(t, err)
	t.Cleanup(func() { _ = j2.Close() })
	assert.Equal(t, []frame{{"k", "good"}}, replayAll(t, j2))
}

func TestJournal_CheckpointRelease(t *testing.T) {
	j, err := Open(fsyncConfig(t.TempDir()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = j.Close() })

	_, err = j.Append("k", []byte("flushed"))
	require.NoError(t, err)
	mark, err := j.Checkpoint()
	require.NoError(t, err)
	_, err = j.Append("k", []byte("pending"))
	require.NoError(t, err)

	require.NoError(t, j.Release(mark))
	assert.Equal(t, []frame{{"k", "pending"}}, replayAll(t, j))

	require.NoError(t, j.Reset())
	assert.Empty(t, replayAll(t, j))
}

func TestJournal_Backpressure(t *testing.T) {
	cfg := DefaultConfig(t.TempDir())
	cfg.MaxBufferedBytes = 64
	j, err := Open(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = j.Close() })

	_, err = j.Append("k", bytes.Repeat([]byte("a"), 128))
	assert.ErrorIs(t, err, ErrBackpressure)
	assert.Equal(t, int64(1), j.Stats().RejectedAppends)
}

func TestJournal_InvalidInput(t *testing.T) {
	j, err := Open(Config{Dir: "/j", Fs: afero.NewMemMapFs()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = j.Close() })

	_, err = j.Append("", []byte("x"))
	assert.ErrorIs(t, err, ErrInvalidData)
	_, err = j.Append("k", nil)
	assert.ErrorIs(t, err, ErrInvalidData)
	_, err = j.Append(string(bytes.Repeat([]byte("k"), 70000)), []byte("x"))
	assert.ErrorIs(t, err, ErrKeyTooLong)
}

func TestJournal_AppendAfterClose(t *testing.T) {
	j, err := Open(Config{Dir: "/j", Fs: afero.NewMemMapFs()})
	require.NoError(t, err)
	require.NoError(t, j.Close())
	require.NoError(t, j.Close())

	_, err = j.Append("k", []byte("x"))
	assert.ErrorIs(t, err, ErrClosed)
}

func TestOpen_RequiresDir(t *testing.T) {
	_, err := Open(Config{})
	assert.Error(t, err)
}

func TestSegmentPath(t *testing.T) {
	assert.Equal(t, filepath.Join("d", "000007.jnl"), segmentPath("d", 7))
}
