package journal

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/spf13/afero"

	"github.com/fluxorio/fluxsink/pkg/core"
)

// Frame layout (little endian):
//
//	[seq u64][len u32][keylen u16][key][data]
//
// len counts data bytes only.
const (
	headerSize = 8 + 4 + 2
	segmentExt = ".jnl"
	// frames larger than this are treated as corruption
	maxFrameData = 1 << 30
)

type segment struct {
	id   int
	path string
	file afero.File
	buf  *bufio.Writer
	size int64
}

func segmentPath(dir string, id int) string {
	return filepath.Join(dir, fmt.Sprintf("%06d%s", id, segmentExt))
}

func openSegment(fsys afero.Fs, dir string, id int) (*segment, error) {
	path := segmentPath(dir, id)
	f, err := fsys.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, core.IOError("open", path, err)
	}
	st, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, core.IOError("stat", path, err)
	}
	return &segment{
		id:   id,
		path: path,
		file: f,
		buf:  bufio.NewWriterSize(f, 256<<10), // 256KB buffer
		size: st.Size(),
	}, nil
}

func (s *segment) write(seq Seq, key string, data []byte) (int, error) {
	var hdr [headerSize]byte
	binary.LittleEndian.PutUint64(hdr[0:8], uint64(seq))
	binary.LittleEndian.PutUint32(hdr[8:12], uint32(len(data)))
	binary.LittleEndian.PutUint16(hdr[12:14], uint16(len(key)))

	total := 0
	for _, part := range [][]byte{hdr[:], []byte(key), data} {
		n, err := s.buf.Write(part)
		total += n
		if err != nil {
			return total, err
		}
	}
	s.size += int64(total)
	return total, nil
}

func (s *segment) sync() error {
	if err := s.buf.Flush(); err != nil {
		return core.IOError("flush", s.path, err)
	}
	if err := s.file.Sync(); err != nil {
		return core.IOError("sync", s.path, err)
	}
	return nil
}

func (s *segment) close(fsync bool) error {
	if err := s.buf.Flush(); err != nil {
		_ = s.file.Close()
		return core.IOError("flush", s.path, err)
	}
	if fsync {
		if err := s.file.Sync(); err != nil {
			_ = s.file.Close()
			return core.IOError("sync", s.path, err)
		}
	}
	if err := s.file.Close(); err != nil {
		return core.IOError("close", s.path, err)
	}
	return nil
}

type segInfo struct {
	id   int
	path string
}

func listSegments(fsys afero.Fs, dir string) ([]segInfo, error) {
	ents, err := afero.ReadDir(fsys, dir)
	if err != nil {
		return nil, err
	}
	var segs []segInfo
	for _, e := range ents {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if !strings.HasSuffix(name, segmentExt) {
			continue
		}
		id, err := strconv.Atoi(strings.TrimSuffix(name, segmentExt))
		if err != nil {
			continue
		}
		segs = append(segs, segInfo{id: id, path: filepath.Join(dir, name)})
	}
	sort.Slice(segs, func(i, j int) bool { return segs[i].id < segs[j].id })
	return segs, nil
}

// scanSegment calls fn for each complete frame in path and stops quietly at
// a torn tail.
func scanSegment(fsys afero.Fs, path string, fn func(seq Seq, key string, data []byte) error) error {
	f, err := fsys.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	r := bufio.NewReader(f)
	for {
		var hdr [headerSize]byte
		if _, err := io.ReadFull(r, hdr[:]); err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				return nil
			}
			return err
		}
		seq := Seq(binary.LittleEndian.Uint64(hdr[0:8]))
		n := binary.LittleEndian.Uint32(hdr[8:12])
		kn := binary.LittleEndian.Uint16(hdr[12:14])
		if n > maxFrameData {
			return nil
		}

		body := make([]byte, int(kn)+int(n))
		if _, err := io.ReadFull(r, body); err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				return nil
			}
			return err
		}
		if err := fn(seq, string(body[:kn]), body[kn:]); err != nil {
			return err
		}
	}
}
