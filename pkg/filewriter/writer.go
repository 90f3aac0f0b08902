// Package filewriter commits flushed chunks to disk.
//
// Non-append writes are staged under a hidden temporary name and renamed into
// place, so a reader never observes a partially written chunk file. Append
// writes go through O_APPEND and are rolled back by truncation when they fail.
package filewriter

import (
	"errors"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/spf13/afero"

	"github.com/fluxorio/fluxsink/pkg/compress"
	"github.com/fluxorio/fluxsink/pkg/core"
)

const (
	defaultDirMode  os.FileMode = 0o777
	defaultFileMode os.FileMode = 0o666
)

// ErrTargetExists is returned by Commit when another file took the target
// path after it was resolved. The staged file is kept for another attempt.
var ErrTargetExists = errors.New("target path already exists")

// Permissions for created files and directories. A zero mode leaves the
// umask-derived mode alone.
type Permissions struct {
	DirMode  os.FileMode
	FileMode os.FileMode
}

// Result describes one committed write.
type Result struct {
	Path    string
	Written int64 // bytes written to disk, after compression
	Raw     int64 // payload bytes before compression
	Created bool  // the file did not exist before this write
}

// Writer writes chunk payloads to an afero filesystem.
type Writer struct {
	fs   afero.Fs
	perm Permissions
}

// New creates a Writer.
func New(fsys afero.Fs, perm Permissions) *Writer {
	if fsys == nil {
		fsys = afero.NewOsFs()
	}
	return &Writer{fs: fsys, perm: perm}
}

// Fs returns the underlying filesystem.
func (w *Writer) Fs() afero.Fs { return w.fs }

// EnsureDir creates every missing component of dir. Only directories created
// here get DirMode applied; a concurrent creator winning the race is fine.
func (w *Writer) EnsureDir(dir string) error {
	dir = filepath.Clean(dir)
	var missing []string
	for cur := dir; ; {
		info, err := w.fs.Stat(cur)
		if err == nil {
			if !info.IsDir() {
				return core.PathError(dir, &fs.PathError{Op: "mkdir", Path: cur, Err: errors.New("not a directory")})
			}
			break
		}
		if !errors.Is(err, fs.ErrNotExist) {
			return core.PathError(dir, err)
		}
		missing = append(missing, cur)
		parent := filepath.Dir(cur)
		if parent == cur {
			break
		}
		cur = parent
	}

	mode := w.perm.DirMode
	if mode == 0 {
		mode = defaultDirMode
	}
	for i := len(missing) - 1; i >= 0; i-- {
		p := missing[i]
		if err := w.fs.Mkdir(p, mode); err != nil {
			if errors.Is(err, fs.ErrExist) {
				continue
			}
			return core.PathError(dir, err)
		}
		if w.perm.DirMode != 0 {
			if err := w.fs.Chmod(p, w.perm.DirMode); err != nil {
				return core.PathError(dir, err)
			}
		}
	}
	return nil
}

// Write stores data at path through codec. In non-append mode the final path
// must not exist yet; ErrTargetExists is returned if it does.
func (w *Writer) Write(path string, data []byte, appendMode bool, codec compress.Codec) (Result, error) {
	if appendMode {
		return w.Append(path, data, codec)
	}
	dir, base := filepath.Split(path)
	st, err := w.Stage(dir, base, data, codec)
	if err != nil {
		return Result{}, err
	}
	res, err := st.Commit(path)
	if err != nil {
		_ = st.Abort()
		return Result{}, err
	}
	return res, nil
}

// Append adds one encoded frame to path, creating it if needed.
func (w *Writer) Append(path string, data []byte, codec compress.Codec) (res Result, err error) {
	var pre int64
	created := false
	if info, statErr := w.fs.Stat(path); statErr == nil {
		pre = info.Size()
	} else if errors.Is(statErr, fs.ErrNotExist) {
		created = true
	} else {
		return Result{}, core.IOError("stat", path, statErr)
	}

	f, err := w.fs.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, w.fileMode())
	if err != nil {
		return Result{}, core.IOError("open", path, err)
	}
	defer func() {
		if err == nil {
			return
		}
		if created {
			_ = f.Close()
			_ = w.fs.Remove(path)
			return
		}
		_ = f.Truncate(pre)
		_ = f.Close()
	}()

	if created && w.perm.FileMode != 0 {
		if err = w.fs.Chmod(path, w.perm.FileMode); err != nil {
			return Result{}, core.IOError("chmod", path, err)
		}
	}

	cw := &countingWriter{w: f}
	if err = encode(codec, cw, data); err != nil {
		return Result{}, core.IOError("write", path, err)
	}
	if err = f.Sync(); err != nil {
		return Result{}, core.IOError("sync", path, err)
	}
	if err = f.Close(); err != nil {
		return Result{}, core.IOError("close", path, err)
	}
	return Result{Path: path, Written: cw.n, Raw: int64(len(data)), Created: created}, nil
}

func (w *Writer) fileMode() os.FileMode {
	if w.perm.FileMode != 0 {
		return w.perm.FileMode
	}
	return defaultFileMode
}

func encode(codec compress.Codec, dst io.Writer, data []byte) error {
	if codec == nil {
		codec = compress.None
	}
	enc, err := codec.Wrap(dst)
	if err != nil {
		return err
	}
	if err := writeFull(enc, data); err != nil {
		return err
	}
	return enc.Finish()
}

// writeFull retries short writes until p is consumed.
func writeFull(w io.Writer, p []byte) error {
	for len(p) > 0 {
		n, err := w.Write(p)
		if err != nil {
			return err
		}
		if n == 0 {
			return io.ErrShortWrite
		}
		p = p[n:]
	}
	return nil
}

type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}
