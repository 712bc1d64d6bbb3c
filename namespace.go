package udstore

import "time"

// Backend roles used by the default namespace layout. Options.Backends maps
// these names (or any others) to providers.
const (
	BackendDurable    = "durable"
	BackendEphemeral  = "ephemeral"
	BackendStructured = "structured"
)

// Namespace is a named partition of records with its own placement and
// write policy.
type Namespace struct {
	Name string
	// Backend that serves the namespace unless a call names another one.
	// Empty means Options.DefaultBackend.
	Backend string
	// Sensitive namespaces are always encrypted; WithEncrypt(false) is ignored.
	Sensitive bool
	// Encrypt turns encryption on by default for this namespace.
	Encrypt bool
	// TTL applied when a Set does not pass WithTTL. 0 = never expires.
	TTL time.Duration
}

// DefaultNamespaces is the layout used when Options.Namespaces is nil.
func DefaultNamespaces() []Namespace {
	return []Namespace{
		{Name: "user", Backend: BackendDurable, Sensitive: true},
		{Name: "jobs", Backend: BackendStructured},
		{Name: "insights", Backend: BackendStructured},
		{Name: "settings", Backend: BackendDurable},
		{Name: "cache", Backend: BackendEphemeral, TTL: time.Hour},
	}
}
