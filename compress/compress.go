// Package compress shrinks large payloads before they are sealed and stored.
//
// Compressed output always starts with a 4-byte marker: 0x00 'U' 'Z' and the
// id of the codec that produced it. Readers use the marker, not the record's
// metadata flag, to decide whether and how to decompress, so any built-in
// codec's output stays readable whatever the configured default is. A custom
// codec that reuses a built-in id takes precedence over it inside its own
// Pipeline.
package compress

import (
	"bytes"
	"errors"
	"fmt"
)

// DefaultThreshold is the payload size above which compression is attempted.
const DefaultThreshold = 1024

var (
	markerPrefix = []byte{0x00, 'U', 'Z'}

	ErrUnknownCodec = errors.New("compress: unknown codec id")
	ErrCorrupt      = errors.New("compress: corrupt payload")
)

const markerLen = 4

// Codec is one compression algorithm.
type Codec interface {
	// ID is the byte written after the marker prefix.
	ID() byte
	Name() string
	Encode(src []byte) ([]byte, error)
	Decode(src []byte) ([]byte, error)
}

var registry = map[byte]Codec{}

func register(c Codec) { registry[c.ID()] = c }

func init() {
	register(Zstd(DefaultZstdLevel))
	register(S2())
	register(LZ4())
	register(Flate())
}

// ByName returns a built-in codec: "zstd", "s2", "lz4" or "flate".
func ByName(name string) (Codec, error) {
	for _, c := range registry {
		if c.Name() == name {
			return c, nil
		}
	}
	return nil, fmt.Errorf("compress: unknown codec %q", name)
}

// HasMarker reports whether b carries a compression marker.
func HasMarker(b []byte) bool {
	return len(b) >= markerLen && bytes.Equal(b[:len(markerPrefix)], markerPrefix)
}

// Pipeline applies a codec above a size threshold.
type Pipeline struct {
	Codec     Codec // default zstd
	Fallback  Codec // used when Codec fails; default flate
	Threshold int   // default DefaultThreshold
}

func (p Pipeline) codec() Codec {
	if p.Codec == nil {
		return registry['z']
	}
	return p.Codec
}

func (p Pipeline) fallback() Codec {
	if p.Fallback == nil {
		return registry['f']
	}
	return p.Fallback
}

func (p Pipeline) threshold() int {
	if p.Threshold <= 0 {
		return DefaultThreshold
	}
	return p.Threshold
}

// Compress returns the marked, compressed form of src and true, or src
// unchanged and false when src is at or below the threshold or compression
// would not make it smaller.
func (p Pipeline) Compress(src []byte) ([]byte, bool) {
	if len(src) <= p.threshold() {
		return src, false
	}
	for _, c := range []Codec{p.codec(), p.fallback()} {
		body, err := c.Encode(src)
		if err != nil {
			continue
		}
		if markerLen+len(body) >= len(src) {
			return src, false
		}
		out := make([]byte, 0, markerLen+len(body))
		out = append(out, markerPrefix...)
		out = append(out, c.ID())
		return append(out, body...), true
	}
	return src, false
}

// Decompress reverses Compress. Input without a marker is returned as is
// with ok=false. Only built-in codecs are consulted; use Pipeline.Decompress
// to read output of a custom codec.
func Decompress(src []byte) (out []byte, ok bool, err error) {
	return decompress(src, nil)
}

// Decompress reverses Compress. The pipeline's own codecs are tried before
// the built-in ones, so a custom codec reads back what it wrote.
func (p Pipeline) Decompress(src []byte) (out []byte, ok bool, err error) {
	return decompress(src, []Codec{p.Codec, p.Fallback})
}

func decompress(src []byte, own []Codec) ([]byte, bool, error) {
	if !HasMarker(src) {
		return src, false, nil
	}
	id := src[markerLen-1]
	c, found := registry[id]
	for _, o := range own {
		if o != nil && o.ID() == id {
			c, found = o, true
			break
		}
	}
	if !found {
		return nil, true, fmt.Errorf("%w: %q", ErrUnknownCodec, id)
	}
	out, err := c.Decode(src[markerLen:])
	if err != nil {
		return nil, true, fmt.Errorf("%w: %s: %v", ErrCorrupt, c.Name(), err)
	}
	return out, true, nil
}
