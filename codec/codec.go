// Package codec serializes caller values into the payload stored inside an
// envelope. The codec name is recorded with every record, so data written
// with one codec stays readable after the default changes.
package codec

import "fmt"

// Codec encodes/decodes arbitrary values to []byte for storage.
//
// Unmarshal into *any must produce JSON-like shapes (map[string]any, []any,
// float64/int64/uint64, string, bool, nil) so the query engine can walk
// dotted paths regardless of the codec.
type Codec interface {
	Name() string
	Marshal(v any) ([]byte, error)
	Unmarshal(b []byte, v any) error
}

var builtin = map[string]Codec{}

func register(c Codec) { builtin[c.Name()] = c }

func init() {
	register(JSON{})
	register(MustCBOR(false))
	register(Msgpack{})
	register(Protobuf{})
}

// ByName returns the built-in codec registered under name.
func ByName(name string) (Codec, error) {
	if name == "" {
		return JSON{}, nil
	}
	c, ok := builtin[name]
	if !ok {
		return nil, fmt.Errorf("codec: unknown format %q", name)
	}
	return c, nil
}
