package compress

import (
	"io"

	"github.com/klauspost/compress/zstd"
)

type zstdCodec struct{}

func (zstdCodec) Name() string { return "zstd" }
func (zstdCodec) Ext() string  { return ".zst" }

func (zstdCodec) Wrap(w io.Writer) (WriteFinisher, error) {
	enc, err := zstd.NewWriter(w, zstd.WithEncoderConcurrency(1))
	if err != nil {
		return nil, err
	}
	return &zstdFinisher{enc: enc}, nil
}

func (zstdCodec) Decode(data []byte) ([]byte, error) {
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, err
	}
	defer dec.Close()
	return dec.DecodeAll(data, nil)
}

type zstdFinisher struct {
	enc  *zstd.Encoder
	done bool
}

func (z *zstdFinisher) Write(p []byte) (int, error) { return z.enc.Write(p) }

func (z *zstdFinisher) Finish() error {
	if z.done {
		return nil
	}
	z.done = true
	return z.enc.Close()
}
