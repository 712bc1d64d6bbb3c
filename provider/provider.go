// Package provider defines the storage abstraction used by udstore.
//
// A Provider is a namespaced byte store. It never interprets the bytes it is
// given: envelopes, encryption and compression are all handled above this
// layer. Implementations MUST be byte-for-byte transparent: Get must return
// exactly the Item previously passed to Put for the same (namespace, key).
//
// Flat providers (bolt, bigcache, redis, consul) address records as
// "<prefix><ns>:<key>" inside one keyspace and receive the whole envelope in
// Item.Value. Structured providers (sqlite, postgres) keep one collection per
// namespace and report SeparateMetadata, in which case the engine hands them
// the payload and the metadata as two sibling fields.
package provider

import (
	"context"
	"errors"
)

var (
	// ErrCapacityExceeded is returned by Put when the store is full.
	// The engine reacts by sweeping expired records once and retrying.
	ErrCapacityExceeded = errors.New("provider: capacity exceeded")

	// ErrUnavailable marks a store that cannot serve requests at all
	// (closed, missing driver, unreachable server).
	ErrUnavailable = errors.New("provider: backend unavailable")
)

// Item is one stored record as the provider sees it.
type Item struct {
	// Value is the full envelope for flat providers, or the payload only
	// for providers that report SeparateMetadata.
	Value []byte
	// Meta holds the serialized metadata. Always nil for flat providers.
	Meta []byte
}

// Size returns the number of stored bytes.
func (it Item) Size() int64 { return int64(len(it.Value) + len(it.Meta)) }

// Capabilities describes what a provider supports.
type Capabilities struct {
	// SeparateMetadata is true when metadata is stored as a sibling field
	// instead of inside Value.
	SeparateMetadata bool
	// MaxValueSize is the largest Item.Size accepted; 0 means unlimited.
	MaxValueSize int64
	// Durable reports whether data survives a process restart.
	Durable bool
}

// Provider is the minimal namespaced byte store every backend implements.
// Implementations must be safe for concurrent use.
type Provider interface {
	// Name returns a short identifier of the implementation ("bolt", "sqlite", ...).
	Name() string

	// Get returns (item, true, nil) on hit; (Item{}, false, nil) on miss.
	Get(ctx context.Context, ns, key string) (Item, bool, error)

	// Put creates or fully replaces the record.
	// Returns ErrCapacityExceeded when the store has no room left.
	Put(ctx context.Context, ns, key string, it Item) error

	// Delete removes the record. Deleting a missing key is not an error.
	Delete(ctx context.Context, ns, key string) error

	// Keys lists every key of the namespace in ascending order.
	Keys(ctx context.Context, ns string) ([]string, error)

	// Clear removes every record of the namespace.
	Clear(ctx context.Context, ns string) error

	Capabilities() Capabilities

	// Close releases resources.
	Close(ctx context.Context) error
}
