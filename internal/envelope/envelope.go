// Package envelope frames a processed payload together with its metadata.
//
// Flat stores receive one JSON document:
//
//	{"$uds":1,"metadata":{...},"data":<payload>}
//
// where data is the payload's own JSON when it is plain json, or a base64
// string (signalled by "encoding":"base64") when it is encrypted,
// compressed or written by a binary codec. Structured stores receive the raw
// payload and the metadata JSON as two separate fields.
//
// Decode also recognizes two older shapes: envelopes written before the
// magic field existed (detected by a literal "metadata" object) and bare
// values with no envelope at all.
package envelope

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/unkn0wn-root/udstore/provider"
)

const (
	magicField   = "$uds"
	magicVersion = 1

	encodingBase64 = "base64"
)

// ErrMalformed is returned for bytes that fit none of the known shapes.
var ErrMalformed = errors.New("envelope: malformed record")

// Kind tells how a record was found in storage.
type Kind uint8

const (
	// KindEnvelope is a current flat envelope.
	KindEnvelope Kind = iota + 1
	// KindStructured is a payload with metadata stored alongside.
	KindStructured
	// KindPreMagic is an envelope written before the magic field existed.
	KindPreMagic
	// KindLegacy is a bare value without any envelope.
	KindLegacy
)

func (k Kind) String() string {
	switch k {
	case KindEnvelope:
		return "envelope"
	case KindStructured:
		return "structured"
	case KindPreMagic:
		return "pre-magic"
	case KindLegacy:
		return "legacy"
	}
	return "unknown"
}

// NeedsUpgrade reports whether the record should be rewritten in the
// current format.
func (k Kind) NeedsUpgrade() bool { return k == KindPreMagic || k == KindLegacy }

// Record is the storage-neutral form of a stored record.
type Record struct {
	Kind Kind
	Meta Metadata // zero for KindLegacy
	// Data is the processed payload: exactly what the read pipeline has to
	// open, decompress and unmarshal, in that order.
	Data []byte
}

type frame struct {
	Magic    int             `json:"$uds"`
	Encoding string          `json:"encoding,omitempty"`
	Metadata Metadata        `json:"metadata"`
	Data     json.RawMessage `json:"data"`
}

// Encode turns a record into what a provider stores. With separate set the
// metadata goes to Item.Meta and Data is stored verbatim.
func Encode(r Record, separate bool) (provider.Item, error) {
	if separate {
		meta, err := json.Marshal(r.Meta)
		if err != nil {
			return provider.Item{}, err
		}
		data := r.Data
		if data == nil {
			data = []byte{}
		}
		return provider.Item{Value: data, Meta: meta}, nil
	}

	f := frame{Magic: magicVersion, Metadata: r.Meta}
	if embeddable(r) {
		f.Data = r.Data
	} else {
		s, err := json.Marshal(base64.StdEncoding.EncodeToString(r.Data))
		if err != nil {
			return provider.Item{}, err
		}
		f.Encoding = encodingBase64
		f.Data = s
	}
	b, err := json.Marshal(f)
	if err != nil {
		return provider.Item{}, err
	}
	return provider.Item{Value: b}, nil
}

func embeddable(r Record) bool {
	if r.Meta.Encrypted || r.Meta.Compressed {
		return false
	}
	if r.Meta.Format != "" && r.Meta.Format != "json" {
		return false
	}
	return json.Valid(r.Data)
}

// Decode classifies and parses a stored item.
func Decode(it provider.Item) (Record, error) {
	if it.Meta != nil {
		var m Metadata
		if err := json.Unmarshal(it.Meta, &m); err != nil {
			return Record{}, fmt.Errorf("%w: metadata: %v", ErrMalformed, err)
		}
		return Record{Kind: KindStructured, Meta: m, Data: it.Value}, nil
	}

	v := bytes.TrimSpace(it.Value)
	if !json.Valid(v) {
		return Record{}, ErrMalformed
	}
	if len(v) == 0 || v[0] != '{' {
		return Record{Kind: KindLegacy, Data: v}, nil
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(v, &fields); err != nil {
		return Record{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if magic, ok := fields[magicField]; ok {
		return decodeFrame(v, magic)
	}
	if meta, ok := fields["metadata"]; ok && isObject(meta) {
		return decodePreMagic(fields)
	}
	return Record{Kind: KindLegacy, Data: v}, nil
}

func decodeFrame(v, magic json.RawMessage) (Record, error) {
	var ver int
	if err := json.Unmarshal(magic, &ver); err != nil || ver != magicVersion {
		return Record{}, fmt.Errorf("%w: unsupported envelope version %s", ErrMalformed, magic)
	}
	var f frame
	if err := json.Unmarshal(v, &f); err != nil {
		return Record{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	data, err := frameData(f.Encoding, f.Data)
	if err != nil {
		return Record{}, err
	}
	return Record{Kind: KindEnvelope, Meta: f.Metadata, Data: data}, nil
}

func decodePreMagic(fields map[string]json.RawMessage) (Record, error) {
	var m Metadata
	if err := json.Unmarshal(fields["metadata"], &m); err != nil {
		return Record{}, fmt.Errorf("%w: metadata: %v", ErrMalformed, err)
	}
	if m.Version == 0 {
		m.Version = 1
	}
	raw := bytes.TrimSpace(fields["data"])
	if len(raw) == 0 {
		raw = json.RawMessage("null")
	}
	encoding := ""
	if m.Encrypted || m.Compressed {
		// transformed payloads were always stored as base64 text
		encoding = encodingBase64
	}
	data, err := frameData(encoding, raw)
	if err != nil {
		return Record{}, err
	}
	return Record{Kind: KindPreMagic, Meta: m, Data: data}, nil
}

func frameData(encoding string, raw json.RawMessage) ([]byte, error) {
	switch encoding {
	case "":
		return raw, nil
	case encodingBase64:
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil, fmt.Errorf("%w: data: %v", ErrMalformed, err)
		}
		b, err := base64.StdEncoding.DecodeString(s)
		if err != nil {
			return nil, fmt.Errorf("%w: data: %v", ErrMalformed, err)
		}
		return b, nil
	}
	return nil, fmt.Errorf("%w: unknown encoding %q", ErrMalformed, encoding)
}

func isObject(raw json.RawMessage) bool {
	raw = bytes.TrimSpace(raw)
	return len(raw) > 0 && raw[0] == '{'
}
