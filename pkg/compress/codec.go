// Package compress provides the output codecs a sink can write through.
//
// Every codec produces self-contained frames: a gzip member or a zstd frame
// per flush. Appending a second frame to an existing file yields a valid
// multi-member stream that standard readers decode as the concatenation.
package compress

import (
	"io"
	"strings"

	"github.com/fluxorio/fluxsink/pkg/core"
)

// WriteFinisher is a writer that must be finished to flush trailing bytes.
// Finish is idempotent and does not close the underlying writer.
type WriteFinisher interface {
	io.Writer
	Finish() error
}

// Codec is one compression scheme.
type Codec interface {
	Name() string
	// Ext is appended to output file names.
	Ext() string
	// Wrap returns a writer compressing into w.
	Wrap(w io.Writer) (WriteFinisher, error)
	// Decode reads every frame in data and returns the concatenated payload.
	Decode(data []byte) ([]byte, error)
}

var (
	None Codec = identity{}
	Gzip Codec = gzipCodec{}
	Zstd Codec = zstdCodec{}
)

// Parse maps a configured compress value to a Codec.
func Parse(name string) (Codec, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "none", "text":
		return None, nil
	case "gz", "gzip":
		return Gzip, nil
	case "zstd", "zst":
		return Zstd, nil
	default:
		return nil, core.ConfigError("compress", "unsupported compression %q", name)
	}
}

// Compressed reports whether c changes the bytes written.
func Compressed(c Codec) bool {
	return c != nil && c.Ext() != ""
}

// Encode compresses p into dst as a single frame.
func Encode(c Codec, dst io.Writer, p []byte) (int, error) {
	if c == nil {
		c = None
	}
	w, err := c.Wrap(dst)
	if err != nil {
		return 0, err
	}
	n, err := w.Write(p)
	if err != nil {
		return n, err
	}
	return n, w.Finish()
}

type identity struct{}

func (identity) Name() string { return "text" }
func (identity) Ext() string  { return "" }

func (identity) Wrap(w io.Writer) (WriteFinisher, error) {
	return nopFinisher{w}, nil
}

func (identity) Decode(data []byte) ([]byte, error) {
	return append([]byte(nil), data...), nil
}

type nopFinisher struct{ io.Writer }

func (nopFinisher) Finish() error { return nil }
