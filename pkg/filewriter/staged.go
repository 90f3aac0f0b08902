package filewriter

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/fluxorio/fluxsink/pkg/compress"
	"github.com/fluxorio/fluxsink/pkg/core"
)

// Staged is a fully written temporary file waiting to be renamed into place.
type Staged struct {
	w       *Writer
	tmp     string
	written int64
	raw     int64
	done    bool
}

// Stage encodes data into a hidden temporary file in dir named after hint.
func (w *Writer) Stage(dir, hint string, data []byte, codec compress.Codec) (*Staged, error) {
	tmp := filepath.Join(dir, "."+hint+"."+uuid.NewString()+".tmp")
	f, err := w.fs.OpenFile(tmp, os.O_CREATE|os.O_EXCL|os.O_WRONLY, w.fileMode())
	if err != nil {
		return nil, core.IOError("create", tmp, err)
	}
	st := &Staged{w: w, tmp: tmp, raw: int64(len(data))}
	fail := func(op string, err error) (*Staged, error) {
		_ = st.Abort()
		return nil, core.IOError(op, tmp, err)
	}
	cw := &countingWriter{w: f}
	if err := encode(codec, cw, data); err != nil {
		_ = f.Close()
		return fail("write", err)
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return fail("sync", err)
	}
	if err := f.Close(); err != nil {
		return fail("close", err)
	}
	if w.perm.FileMode != 0 {
		if err := w.fs.Chmod(tmp, w.perm.FileMode); err != nil {
			return fail("chmod", err)
		}
	}
	st.written = cw.n
	return st, nil
}

// TempPath is where the staged bytes currently live.
func (s *Staged) TempPath() string { return s.tmp }

// Commit renames the staged file to path. It refuses to replace an existing
// file and reports ErrTargetExists instead, keeping the staged file.
func (s *Staged) Commit(path string) (Result, error) {
	if s.done {
		return Result{}, core.IOError("commit", path, fs.ErrClosed)
	}
	if _, err := s.w.fs.Stat(path); err == nil {
		return Result{}, ErrTargetExists
	} else if !errors.Is(err, fs.ErrNotExist) {
		return Result{}, core.IOError("stat", path, err)
	}
	if err := s.w.fs.Rename(s.tmp, path); err != nil {
		return Result{}, core.IOError("rename", path, err)
	}
	s.done = true
	return Result{Path: path, Written: s.written, Raw: s.raw, Created: true}, nil
}

// Abort removes the staged file.
func (s *Staged) Abort() error {
	if s.done {
		return nil
	}
	s.done = true
	if err := s.w.fs.Remove(s.tmp); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return core.IOError("remove", s.tmp, err)
	}
	return nil
}
