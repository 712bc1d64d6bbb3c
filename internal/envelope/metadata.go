package envelope

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"
)

// Metadata travels with every record. Flags are written once by the write
// path and never inferred on read.
type Metadata struct {
	CreatedAt  time.Time
	UpdatedAt  time.Time
	Version    int
	Encrypted  bool
	Compressed bool
	// TTL is zero when the record never expires.
	TTL time.Duration
	// Checksum is the hex sha256 of the serialized payload before
	// compression and encryption. Set only for encrypted records.
	Checksum string
	// Format names the payload codec; empty means json.
	Format string
}

// ExpiresAt reports when the record stops being live.
func (m Metadata) ExpiresAt() (time.Time, bool) {
	if m.TTL <= 0 {
		return time.Time{}, false
	}
	return m.CreatedAt.Add(m.TTL), true
}

// Expired reports whether the record is logically absent at now.
func (m Metadata) Expired(now time.Time) bool {
	at, ok := m.ExpiresAt()
	return ok && !now.Before(at)
}

// Remaining returns the TTL left at now; 0 when the record has no TTL,
// negative when it already expired.
func (m Metadata) Remaining(now time.Time) time.Duration {
	at, ok := m.ExpiresAt()
	if !ok {
		return 0
	}
	return at.Sub(now)
}

// TTLMillis is the stored form of a TTL. It rounds up, so a positive TTL
// never becomes 0 (never expires).
func TTLMillis(d time.Duration) int64 {
	if d <= 0 {
		return 0
	}
	return int64((d + time.Millisecond - 1) / time.Millisecond)
}

// RoundTTL returns d as it will read back after being stored.
func RoundTTL(d time.Duration) time.Duration {
	return time.Duration(TTLMillis(d)) * time.Millisecond
}

type metadataJSON struct {
	CreatedAt  json.RawMessage `json:"createdAt"`
	UpdatedAt  json.RawMessage `json:"updatedAt"`
	Version    int             `json:"version"`
	Encrypted  bool            `json:"encrypted"`
	Compressed bool            `json:"compressed"`
	TTL        int64           `json:"ttl,omitempty"` // milliseconds
	Checksum   string          `json:"checksum,omitempty"`
	Format     string          `json:"format,omitempty"`
}

func (m Metadata) MarshalJSON() ([]byte, error) {
	created, err := json.Marshal(m.CreatedAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return nil, err
	}
	updated, err := json.Marshal(m.UpdatedAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return nil, err
	}
	return json.Marshal(metadataJSON{
		CreatedAt:  created,
		UpdatedAt:  updated,
		Version:    m.Version,
		Encrypted:  m.Encrypted,
		Compressed: m.Compressed,
		TTL:        TTLMillis(m.TTL),
		Checksum:   m.Checksum,
		Format:     m.Format,
	})
}

// UnmarshalJSON accepts timestamps as RFC 3339 strings or as unix
// milliseconds, the form records written before the magic field used.
func (m *Metadata) UnmarshalJSON(b []byte) error {
	var raw metadataJSON
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	created, err := parseTime(raw.CreatedAt)
	if err != nil {
		return fmt.Errorf("createdAt: %w", err)
	}
	updated, err := parseTime(raw.UpdatedAt)
	if err != nil {
		return fmt.Errorf("updatedAt: %w", err)
	}
	if updated.IsZero() {
		updated = created
	}
	*m = Metadata{
		CreatedAt:  created,
		UpdatedAt:  updated,
		Version:    raw.Version,
		Encrypted:  raw.Encrypted,
		Compressed: raw.Compressed,
		TTL:        time.Duration(raw.TTL) * time.Millisecond,
		Checksum:   raw.Checksum,
		Format:     raw.Format,
	}
	return nil
}

func parseTime(raw json.RawMessage) (time.Time, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return time.Time{}, nil
	}
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return time.Time{}, err
		}
		return time.Parse(time.RFC3339Nano, s)
	}
	var ms float64
	if err := json.Unmarshal(raw, &ms); err != nil {
		return time.Time{}, err
	}
	return time.UnixMilli(int64(ms)).UTC(), nil
}
