package udstore

import "time"

// Hooks lightweight callbacks for high-signal events.
// Implementations MUST be cheap and non-blocking.
// The store calls them on hot paths.
type Hooks interface {
	// A record failed decryption or checksum verification.
	IntegrityFault(ns, key, backend string, err error)

	// A stored record matched no known shape, or its payload could not be
	// unmarshaled. Reads treat it as a miss; the record is left in place.
	ParseFault(ns, key, backend string, err error)

	// An expired record was deleted. lazy is true when a read found it,
	// false when the sweep did.
	Expired(ns, key, backend string, lazy bool)

	// A write hit the capacity limit; swept is the number of records the
	// sweep removed before the single retry. err is the retry's result.
	CapacityRetry(ns, key, backend string, swept int, err error)

	// A pre-envelope record was rewritten in the current format.
	// kind ∈ {"legacy", "pre-magic"}
	LegacyMigrated(ns, key, backend, kind string)

	// The compressed flag in metadata disagrees with the payload marker.
	CompressionMismatch(ns, key, backend string, flagged, marked bool)

	// Restore dropped a namespace the store does not know.
	RestoreSkipped(ns string, entries int)

	// No cipher could be created; encryption is off for this process.
	EncryptionDisabled(err error)

	// A sweep finished (background or explicit).
	SweepCompleted(removed int, took time.Duration, err error)
}

// NopHooks is the default no-op
type NopHooks struct{}

func (NopHooks) IntegrityFault(string, string, string, error)           {}
func (NopHooks) ParseFault(string, string, string, error)               {}
func (NopHooks) Expired(string, string, string, bool)                   {}
func (NopHooks) CapacityRetry(string, string, string, int, error)       {}
func (NopHooks) LegacyMigrated(string, string, string, string)          {}
func (NopHooks) CompressionMismatch(string, string, string, bool, bool) {}
func (NopHooks) RestoreSkipped(string, int)                             {}
func (NopHooks) EncryptionDisabled(error)                               {}
func (NopHooks) SweepCompleted(int, time.Duration, error)               {}

// MultiHooks forwards every event to each of its hooks in order.
type MultiHooks []Hooks

func (m MultiHooks) IntegrityFault(ns, key, be string, err error) {
	for _, h := range m {
		h.IntegrityFault(ns, key, be, err)
	}
}

func (m MultiHooks) ParseFault(ns, key, be string, err error) {
	for _, h := range m {
		h.ParseFault(ns, key, be, err)
	}
}

func (m MultiHooks) Expired(ns, key, be string, lazy bool) {
	for _, h := range m {
		h.Expired(ns, key, be, lazy)
	}
}

func (m MultiHooks) CapacityRetry(ns, key, be string, swept int, err error) {
	for _, h := range m {
		h.CapacityRetry(ns, key, be, swept, err)
	}
}

func (m MultiHooks) LegacyMigrated(ns, key, be, kind string) {
	for _, h := range m {
		h.LegacyMigrated(ns, key, be, kind)
	}
}

func (m MultiHooks) CompressionMismatch(ns, key, be string, flagged, marked bool) {
	for _, h := range m {
		h.CompressionMismatch(ns, key, be, flagged, marked)
	}
}

func (m MultiHooks) RestoreSkipped(ns string, entries int) {
	for _, h := range m {
		h.RestoreSkipped(ns, entries)
	}
}

func (m MultiHooks) EncryptionDisabled(err error) {
	for _, h := range m {
		h.EncryptionDisabled(err)
	}
}

func (m MultiHooks) SweepCompleted(removed int, took time.Duration, err error) {
	for _, h := range m {
		h.SweepCompleted(removed, took, err)
	}
}
