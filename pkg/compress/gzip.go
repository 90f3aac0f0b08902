package compress

import (
	"bytes"
	"io"

	"github.com/klauspost/compress/gzip"
)

type gzipCodec struct{}

func (gzipCodec) Name() string { return "gzip" }
func (gzipCodec) Ext() string  { return ".gz" }

func (gzipCodec) Wrap(w io.Writer) (WriteFinisher, error) {
	return &gzipFinisher{zw: gzip.NewWriter(w)}, nil
}

func (gzipCodec) Decode(data []byte) ([]byte, error) {
	zr, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer zr.Close()
	zr.Multistream(true)
	return io.ReadAll(zr)
}

type gzipFinisher struct {
	zw   *gzip.Writer
	done bool
}

func (g *gzipFinisher) Write(p []byte) (int, error) { return g.zw.Write(p) }

func (g *gzipFinisher) Finish() error {
	if g.done {
		return nil
	}
	g.done = true
	return g.zw.Close()
}
