// Package symlink keeps a stable link pointing at the newest output file.
package symlink

import (
	"errors"
	"io/fs"

	"github.com/google/uuid"
	"github.com/spf13/afero"

	"github.com/fluxorio/fluxsink/pkg/core"
)

// Manager owns one link path.
type Manager struct {
	fs   afero.Fs
	link string
}

// New creates a Manager. An empty linkPath disables it.
func New(fsys afero.Fs, linkPath string) *Manager {
	if fsys == nil {
		fsys = afero.NewOsFs()
	}
	return &Manager{fs: fsys, link: linkPath}
}

// Enabled reports whether a link path is configured.
func (m *Manager) Enabled() bool { return m != nil && m.link != "" }

// Path returns the configured link path.
func (m *Manager) Path() string { return m.link }

// Update points the link at target. A temporary link is created next to the
// final one and renamed over it, so readers see either the old or the new
// target and never a missing link.
func (m *Manager) Update(target string) error {
	if !m.Enabled() {
		return nil
	}
	linker, ok := m.fs.(afero.Linker)
	if !ok {
		return core.IOError("symlink", m.link, afero.ErrNoSymlink)
	}

	tmp := m.link + "." + uuid.NewString() + ".tmp"
	if err := linker.SymlinkIfPossible(target, tmp); err != nil {
		return core.IOError("symlink", tmp, err)
	}
	if err := m.fs.Rename(tmp, m.link); err != nil {
		if rmErr := m.fs.Remove(tmp); rmErr != nil && !errors.Is(rmErr, fs.ErrNotExist) {
			err = errors.Join(err, rmErr)
		}
		return core.IOError("rename", m.link, err)
	}
	return nil
}

// Current returns the link's target.
func (m *Manager) Current() (string, error) {
	if !m.Enabled() {
		return "", nil
	}
	reader, ok := m.fs.(afero.LinkReader)
	if !ok {
		return "", core.IOError("readlink", m.link, afero.ErrNoReadlink)
	}
	target, err := reader.ReadlinkIfPossible(m.link)
	if err != nil {
		return "", core.IOError("readlink", m.link, err)
	}
	return target, nil
}
