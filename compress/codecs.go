package compress

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"

	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/s2"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// DefaultZstdLevel favors speed; payloads are small JSON documents.
const DefaultZstdLevel = 1

// maxDecoded caps the output of every Decode.
var maxDecoded int64 = 64 << 20

var errTooLarge = errors.New("decoded payload exceeds size limit")

type zstdCodec struct {
	enc *zstd.Encoder
	dec *zstd.Decoder
	err error
}

// Zstd returns a zstd codec at the given level (1 fastest .. 4 best).
func Zstd(level int) Codec {
	c := &zstdCodec{}
	c.enc, c.err = zstd.NewWriter(nil,
		zstd.WithEncoderLevel(zstd.EncoderLevelFromZstd(level)),
		zstd.WithEncoderConcurrency(1))
	if c.err == nil {
		c.dec, c.err = zstd.NewReader(nil,
			zstd.WithDecoderConcurrency(0),
			zstd.WithDecoderMaxMemory(uint64(maxDecoded)))
	}
	return c
}

func (c *zstdCodec) ID() byte     { return 'z' }
func (c *zstdCodec) Name() string { return "zstd" }

func (c *zstdCodec) Encode(src []byte) ([]byte, error) {
	if c.err != nil {
		return nil, c.err
	}
	return c.enc.EncodeAll(src, nil), nil
}

func (c *zstdCodec) Decode(src []byte) ([]byte, error) {
	if c.err != nil {
		return nil, c.err
	}
	return c.dec.DecodeAll(src, nil)
}

type s2Codec struct{}

func S2() Codec { return s2Codec{} }

func (s2Codec) ID() byte                          { return 's' }
func (s2Codec) Name() string                      { return "s2" }
func (s2Codec) Encode(src []byte) ([]byte, error) { return s2.Encode(nil, src), nil }

func (s2Codec) Decode(src []byte) ([]byte, error) {
	n, err := s2.DecodedLen(src)
	if err != nil {
		return nil, err
	}
	if int64(n) > maxDecoded {
		return nil, errTooLarge
	}
	return s2.Decode(nil, src)
}

var errIncompressible = errors.New("lz4: incompressible input")

// lz4 block format with the uncompressed length as a uvarint prefix.
type lz4Codec struct{}

func LZ4() Codec { return lz4Codec{} }

func (lz4Codec) ID() byte     { return '4' }
func (lz4Codec) Name() string { return "lz4" }

func (lz4Codec) Encode(src []byte) ([]byte, error) {
	dst := make([]byte, binary.MaxVarintLen64+lz4.CompressBlockBound(len(src)))
	hdr := binary.PutUvarint(dst, uint64(len(src)))
	n, err := lz4.CompressBlock(src, dst[hdr:], nil)
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, errIncompressible
	}
	return dst[:hdr+n], nil
}

func (lz4Codec) Decode(src []byte) ([]byte, error) {
	size, hdr := binary.Uvarint(src)
	if hdr <= 0 {
		return nil, errors.New("lz4: bad length header")
	}
	if size > uint64(maxDecoded) {
		return nil, errTooLarge
	}
	dst := make([]byte, size)
	n, err := lz4.UncompressBlock(src[hdr:], dst)
	if err != nil {
		return nil, err
	}
	if uint64(n) != size {
		return nil, io.ErrUnexpectedEOF
	}
	return dst, nil
}

// flateCodec is the portable fallback: plain DEFLATE, no assembly paths.
type flateCodec struct{}

func Flate() Codec { return flateCodec{} }

func (flateCodec) ID() byte     { return 'f' }
func (flateCodec) Name() string { return "flate" }

func (flateCodec) Encode(src []byte) ([]byte, error) {
	var buf bytes.Buffer
	w, err := flate.NewWriter(&buf, flate.DefaultCompression)
	if err != nil {
		return nil, err
	}
	if _, err := w.Write(src); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (flateCodec) Decode(src []byte) ([]byte, error) {
	r := flate.NewReader(bytes.NewReader(src))
	defer r.Close()
	out, err := io.ReadAll(io.LimitReader(r, maxDecoded+1))
	if err != nil {
		return nil, err
	}
	if int64(len(out)) > maxDecoded {
		return nil, errTooLarge
	}
	return out, nil
}
