package pathtmpl

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/spf13/afero"
	"golang.org/x/sys/unix"

	"github.com/fluxorio/fluxsink/pkg/core"
)

// Resolved is a concrete output path.
type Resolved struct {
	Path   string
	Index  int // always 0 in append mode
	Append bool
}

// DirCreator prepares the directory chain for a resolved path.
type DirCreator interface {
	EnsureDir(dir string) error
}

// Options tune a Resolver.
type Options struct {
	// CompressExt is appended to every file name (".gz", ".zst", "").
	CompressExt string
	// Dirs creates missing directories. Nil uses afero MkdirAll with DirMode.
	Dirs DirCreator
	// DirMode applies when Dirs is nil. Zero means 0o777 before umask.
	DirMode os.FileMode
	// Exists overrides the on-disk existence check.
	Exists func(path string) bool
}

// Resolver maps bucket keys to paths for one template.
type Resolver struct {
	fs     afero.Fs
	tmpl   Template
	opts   Options
	exists func(string) bool
}

// NewResolver builds a Resolver over fs.
func NewResolver(fsys afero.Fs, tmpl Template, opts Options) *Resolver {
	if fsys == nil {
		fsys = afero.NewOsFs()
	}
	r := &Resolver{fs: fsys, tmpl: tmpl, opts: opts, exists: opts.Exists}
	if r.exists == nil {
		r.exists = func(p string) bool {
			_, err := fsys.Stat(p)
			return err == nil || !errors.Is(err, fs.ErrNotExist)
		}
	}
	return r
}

// Candidate returns the path for key at index without touching the filesystem.
func (r *Resolver) Candidate(key string, index int, appendMode bool) string {
	if appendMode {
		return filepath.Join(r.tmpl.Dir, r.tmpl.Base(key)+r.opts.CompressExt)
	}
	return filepath.Join(r.tmpl.Dir, r.tmpl.Indexed(key, index)+r.opts.CompressExt)
}

// Resolve picks the output path for key.
//
// In append mode the path is a pure function of key. Otherwise the first
// index >= start whose path does not exist is returned. The directory chain is
// created before returning; failure is a PATH error.
func (r *Resolver) Resolve(key string, appendMode bool, start int) (Resolved, error) {
	if key == "" {
		return Resolved{}, &core.Error{Code: core.CodeInvalidInput, Op: "resolve", Err: errors.New("empty bucket key")}
	}
	if err := r.ensureDir(); err != nil {
		return Resolved{}, err
	}

	if appendMode {
		return Resolved{Path: r.Candidate(key, 0, true), Append: true}, nil
	}
	if start < 0 {
		start = 0
	}
	idx := FreeIndex(r.exists, func(i int) string { return r.Candidate(key, i, false) }, start)
	return Resolved{Path: r.Candidate(key, idx, false), Index: idx}, nil
}

func (r *Resolver) ensureDir() error {
	if r.opts.Dirs != nil {
		if err := r.opts.Dirs.EnsureDir(r.tmpl.Dir); err != nil {
			if core.CodeOf(err) != "" {
				return err
			}
			return core.PathError(r.tmpl.Dir, err)
		}
		return nil
	}
	mode := r.opts.DirMode
	if mode == 0 {
		mode = 0o777
	}
	if err := r.fs.MkdirAll(r.tmpl.Dir, mode); err != nil {
		return core.PathError(r.tmpl.Dir, err)
	}
	return nil
}

// FreeIndex returns the first index >= start whose candidate path does not
// exist. It touches no filesystem itself.
func FreeIndex(exists func(string) bool, candidate func(int) string, start int) int {
	i := start
	for exists(candidate(i)) {
		i++
	}
	return i
}

// CheckWritable verifies that dir either exists and is writable, or that its
// nearest existing ancestor is a writable directory. Nothing is created.
// On the OS filesystem the check asks the kernel; elsewhere it reads the
// owner permission bits.
func CheckWritable(fsys afero.Fs, dir string) error {
	if fsys == nil {
		fsys = afero.NewOsFs()
	}
	_, onOS := fsys.(*afero.OsFs)
	dir = filepath.Clean(dir)
	for {
		info, err := fsys.Stat(dir)
		switch {
		case err == nil:
			if !info.IsDir() {
				return core.ConfigError("path", "%s is not a directory", dir)
			}
			if onOS {
				if err := unix.Access(dir, unix.W_OK|unix.X_OK); err != nil {
					return core.WrapConfig("path", &fs.PathError{Op: "access", Path: dir, Err: err})
				}
			} else if info.Mode().Perm()&0o300 != 0o300 {
				return core.WrapConfig("path", &fs.PathError{Op: "access", Path: dir, Err: fs.ErrPermission})
			}
			return nil
		case errors.Is(err, fs.ErrNotExist):
			parent := filepath.Dir(dir)
			if parent == dir {
				return core.WrapConfig("path", err)
			}
			dir = parent
		default:
			return core.WrapConfig("path", err)
		}
	}
}
