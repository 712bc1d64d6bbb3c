package udstore

import (
	"context"
	"time"

	"github.com/unkn0wn-root/udstore/codec"
	"github.com/unkn0wn-root/udstore/compress"
	"github.com/unkn0wn-root/udstore/internal/envelope"
	pr "github.com/unkn0wn-root/udstore/provider"
	"github.com/unkn0wn-root/udstore/seal"
)

// Metadata is the per-record metadata kept by the envelope.
type Metadata = envelope.Metadata

// Store is the namespaced record API. All methods are safe for concurrent
// use; operations on the same (namespace, key) apply in the order they were
// issued.
type Store interface {
	// Set creates or fully replaces a record. createdAt of a live record
	// is preserved; updatedAt always moves forward.
	Set(ctx context.Context, ns, key string, value any, opts ...SetOption) error
	// Get decodes the record into dst (a pointer, or nil to only probe).
	// Misses, expired records and unparseable records all report false.
	Get(ctx context.Context, ns, key string, dst any, opts ...GetOption) (bool, error)
	Delete(ctx context.Context, ns, key string, opts ...GetOption) error
	Exists(ctx context.Context, ns, key string, opts ...GetOption) (bool, error)

	// Bulk (order-agnostic; failures are joined, successes still apply)
	SetMultiple(ctx context.Context, ns string, items map[string]any, opts ...SetOption) error
	GetMultiple(ctx context.Context, ns string, keys []string, opts ...GetOption) (map[string]Entry, error)

	Query(ctx context.Context, ns string, q Query) ([]Entry, error)
	Clear(ctx context.Context, ns string, opts ...GetOption) error

	// Migrate moves every record of the namespaces (all when none given)
	// from one backend to another, key by key.
	Migrate(ctx context.Context, from, to string, namespaces ...string) (MigrateReport, error)
	Backup(ctx context.Context, namespaces ...string) ([]byte, error)
	Restore(ctx context.Context, snapshot []byte) (RestoreReport, error)

	Stats(ctx context.Context, namespaces ...string) (Stats, error)
	// Sweep deletes expired records on every backend now.
	Sweep(ctx context.Context) (int, error)
	Close(ctx context.Context) error
}

// IntegrityPolicy decides what a read does with a record that fails
// decryption or checksum verification.
type IntegrityPolicy uint8

const (
	// IntegrityFail returns an *IntegrityError.
	IntegrityFail IntegrityPolicy = iota
	// IntegrityReturn logs the fault and returns the value when one could
	// be recovered (checksum mismatch); otherwise it reports a miss.
	IntegrityReturn
	// IntegrityMissing reports the record as absent.
	IntegrityMissing
)

// Options configure a Store. Only Backends is required; others have
// sensible defaults.
type Options struct {
	Namespaces []Namespace            // nil => DefaultNamespaces()
	Backends   map[string]pr.Provider // role or name => provider
	// DefaultBackend serves namespaces without a Backend. "" => "durable"
	DefaultBackend string

	Codec codec.Codec // nil => codec.JSON

	// Cipher nil => a key generated for this process only. Records it
	// seals cannot be opened after a restart; use seal.FromSecret for a
	// stable key.
	Cipher            seal.Cipher
	DisableEncryption bool           // no cipher at all; sensitive writes fail
	Compressor        compress.Codec // nil => zstd, with flate as fallback
	CompressThreshold int            // 0 => 1024 bytes

	SweepInterval time.Duration // 0 => 1h, < 0 disables the background sweep
	Integrity     IntegrityPolicy
	// DisableLegacyMigration stops reads from rewriting old-format records.
	DisableLegacyMigration bool

	Logger      Logger           // if nil, NopLogger is used
	Hooks       Hooks            // if nil, NopHooks is used
	Now         func() time.Time // nil => time.Now
	Concurrency int              // bulk fan-out; 0 => 8
}

func New(opts Options) (Store, error) {
	return newStore(opts)
}

// GetAs reads a record into a new T.
func GetAs[T any](ctx context.Context, s Store, ns, key string, opts ...GetOption) (T, bool, error) {
	var v T
	ok, err := s.Get(ctx, ns, key, &v, opts...)
	if err != nil || !ok {
		var zero T
		return zero, false, err
	}
	return v, true, nil
}

// Entry is one live record as returned by GetMultiple and Query.
type Entry struct {
	Key string
	// Value is the payload decoded into JSON-like shapes
	// (map[string]any, []any, float64, string, bool, nil).
	Value   any
	Meta    Metadata
	Backend string

	payload []byte
	codec   codec.Codec
}

// Decode unmarshals the record's payload into dst.
func (e Entry) Decode(dst any) error {
	return e.codec.Unmarshal(e.payload, dst)
}

// SortOrder of Query results.
type SortOrder uint8

const (
	Asc SortOrder = iota
	Desc
)

// Query selects live records of one namespace: filter, then sort by a
// dotted path into Entry.Value, then Offset/Limit.
type Query struct {
	Filter    func(Entry) bool // nil keeps everything
	SortBy    string           // e.g. "score" or "company.name"; "" keeps key order
	SortOrder SortOrder
	Offset    int
	Limit     int    // 0 = no limit
	Backend   string // "" = namespace default
}

type MigrateReport struct {
	Moved   int
	Expired int // dropped instead of moved
	Skipped int // unreadable records left in the source
	Failed  int
}

type RestoreReport struct {
	Restored          int
	Failed            int
	SkippedNamespaces []string
}

// Usage counts records as found in storage, without decrypting them.
type Usage struct {
	Records    int64
	Bytes      int64
	Expired    int64 // expired but not yet removed
	Encrypted  int64
	Compressed int64
	Legacy     int64 // bare or pre-magic records awaiting migration
	Unreadable int64
}

func (u *Usage) add(o Usage) {
	u.Records += o.Records
	u.Bytes += o.Bytes
	u.Expired += o.Expired
	u.Encrypted += o.Encrypted
	u.Compressed += o.Compressed
	u.Legacy += o.Legacy
	u.Unreadable += o.Unreadable
}

type Stats struct {
	Total      Usage
	Backends   map[string]Usage
	Namespaces map[string]Usage
	// EncryptionEnabled is false when no cipher is available.
	EncryptionEnabled bool
}
