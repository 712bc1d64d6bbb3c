package udstore

import "time"

type setConfig struct {
	backend  string
	encrypt  *bool
	compress bool
	ttl      time.Duration
	ttlSet   bool
	version  int
}

// SetOption tunes a single write.
type SetOption func(*setConfig)

// WithBackend stores the record on the named backend instead of the
// namespace default.
func WithBackend(name string) SetOption {
	return func(c *setConfig) { c.backend = name }
}

// WithEncrypt overrides the namespace's encryption default. It cannot turn
// encryption off for a sensitive namespace.
func WithEncrypt(on bool) SetOption {
	return func(c *setConfig) { c.encrypt = &on }
}

// WithCompress allows (default) or forbids compression. Payloads at or
// below the threshold are never compressed.
func WithCompress(on bool) SetOption {
	return func(c *setConfig) { c.compress = on }
}

// WithTTL sets the record lifetime, counted from its creation.
// 0 means the record never expires.
func WithTTL(d time.Duration) SetOption {
	return func(c *setConfig) { c.ttl, c.ttlSet = d, true }
}

// WithVersion records the caller's schema version of the value (default 1).
func WithVersion(v int) SetOption {
	return func(c *setConfig) { c.version = v }
}

type getConfig struct {
	backend string
	migrate bool
}

// GetOption tunes reads, deletes and clears.
type GetOption func(*getConfig)

// FromBackend targets the named backend instead of the namespace default.
func FromBackend(name string) GetOption {
	return func(c *getConfig) { c.backend = name }
}

// WithMigrate controls whether a legacy record found by this read is
// rewritten in the current format. Defaults to the store setting.
func WithMigrate(on bool) GetOption {
	return func(c *getConfig) { c.migrate = on }
}
