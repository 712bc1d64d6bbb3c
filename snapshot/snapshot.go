// Package snapshot is the portable backup document.
//
// A document holds the live records of one or more namespaces as JSON
// values, along with the lifetime each record had left when it was taken.
// It carries no envelope data: restoring replays every value through the
// normal write path, so encryption and compression are applied afresh.
package snapshot

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
)

const (
	Format  = "udstore-backup"
	Version = 1
)

// ErrInvalid is wrapped by every validation failure.
var ErrInvalid = errors.New("snapshot: invalid document")

type Entry struct {
	Key   string          `json:"key"`
	Value json.RawMessage `json:"value"`
	// TTL is the remaining lifetime in milliseconds; 0 never expires.
	TTL       int64     `json:"ttl,omitempty"`
	Version   int       `json:"version,omitempty"`
	Backend   string    `json:"backend,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// Lifetime returns TTL as a duration.
func (e Entry) Lifetime() time.Duration { return time.Duration(e.TTL) * time.Millisecond }

type Document struct {
	Format     string             `json:"format"`
	Version    int                `json:"version"`
	ID         string             `json:"id"`
	CreatedAt  time.Time          `json:"createdAt"`
	Namespaces map[string][]Entry `json:"namespaces"`
}

func New(now time.Time) *Document {
	return &Document{
		Format:     Format,
		Version:    Version,
		ID:         uuid.Must(uuid.NewV7()).String(),
		CreatedAt:  now.UTC(),
		Namespaces: make(map[string][]Entry),
	}
}

// Add appends an entry to ns.
func (d *Document) Add(ns string, e Entry) {
	d.Namespaces[ns] = append(d.Namespaces[ns], e)
}

// Touch records ns as present even when it has no live records.
func (d *Document) Touch(ns string) {
	if _, ok := d.Namespaces[ns]; !ok {
		d.Namespaces[ns] = []Entry{}
	}
}

// Names returns the namespaces in the document, sorted.
func (d *Document) Names() []string {
	out := make([]string, 0, len(d.Namespaces))
	for ns := range d.Namespaces {
		out = append(out, ns)
	}
	sort.Strings(out)
	return out
}

func (d *Document) Len() int {
	n := 0
	for _, es := range d.Namespaces {
		n += len(es)
	}
	return n
}

func (d *Document) Marshal() ([]byte, error) {
	if err := d.Validate(); err != nil {
		return nil, err
	}
	return json.Marshal(d)
}

// Parse decodes and validates a document.
func Parse(b []byte) (*Document, error) {
	var d Document
	if err := json.Unmarshal(b, &d); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if err := d.Validate(); err != nil {
		return nil, err
	}
	return &d, nil
}

func (d *Document) Validate() error {
	switch {
	case d.Format != Format:
		return fmt.Errorf("%w: format %q", ErrInvalid, d.Format)
	case d.Version < 1 || d.Version > Version:
		return fmt.Errorf("%w: unsupported version %d", ErrInvalid, d.Version)
	case d.CreatedAt.IsZero():
		return fmt.Errorf("%w: missing createdAt", ErrInvalid)
	case d.Namespaces == nil:
		return fmt.Errorf("%w: missing namespaces", ErrInvalid)
	}
	if _, err := uuid.Parse(d.ID); err != nil {
		return fmt.Errorf("%w: id: %v", ErrInvalid, err)
	}
	for ns, entries := range d.Namespaces {
		if ns == "" {
			return fmt.Errorf("%w: empty namespace name", ErrInvalid)
		}
		seen := make(map[string]struct{}, len(entries))
		for i, e := range entries {
			if e.Key == "" {
				return fmt.Errorf("%w: %s[%d]: empty key", ErrInvalid, ns, i)
			}
			id := e.Backend + "\x00" + e.Key
			if _, dup := seen[id]; dup {
				return fmt.Errorf("%w: %s: duplicate key %q", ErrInvalid, ns, e.Key)
			}
			seen[id] = struct{}{}
			if len(e.Value) == 0 || !json.Valid(e.Value) {
				return fmt.Errorf("%w: %s/%s: value is not json", ErrInvalid, ns, e.Key)
			}
			if e.TTL < 0 {
				return fmt.Errorf("%w: %s/%s: negative ttl", ErrInvalid, ns, e.Key)
			}
		}
	}
	return nil
}
