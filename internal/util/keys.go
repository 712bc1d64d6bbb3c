package util

import (
	"crypto/sha256"
	"fmt"
	"strings"
)

// DefaultPrefix is prepended to every flat storage key.
const DefaultPrefix = "uds:"

// Separator ends the namespace part of a storage key. Namespace names may
// not contain it, or "a" with key "b:k" and "a:b" with key "k" would share
// a storage key.
const Separator = ":"

// ValidNamespace reports whether ns can be embedded in a storage key.
func ValidNamespace(ns string) bool {
	return ns != "" && !strings.Contains(ns, Separator)
}

// StorageKey returns "<prefix><ns>:<key>".
func StorageKey(prefix, ns, key string) string {
	return NamespacePrefix(prefix, ns) + key
}

// NamespacePrefix returns the prefix shared by every key of ns.
func NamespacePrefix(prefix, ns string) string {
	return prefix + ns + Separator
}

// TrimNamespace strips the namespace prefix from a storage key.
// ok is false when storageKey does not belong to ns.
func TrimNamespace(prefix, ns, storageKey string) (string, bool) {
	return strings.CutPrefix(storageKey, NamespacePrefix(prefix, ns))
}

// Identifier turns a namespace into a safe SQL identifier. Names that
// needed rewriting get a short hash suffix so two namespaces never collide.
func Identifier(prefix, ns string) string {
	var b strings.Builder
	b.Grow(len(prefix) + len(ns))
	b.WriteString(prefix)
	clean := true
	for _, r := range ns {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '_':
			b.WriteRune(r)
		case r >= 'A' && r <= 'Z':
			b.WriteRune(r + ('a' - 'A'))
			clean = false
		default:
			b.WriteByte('_')
			clean = false
		}
	}
	if clean {
		return b.String()
	}
	sum := sha256.Sum256([]byte(ns))
	return fmt.Sprintf("%s_%x", b.String(), sum[:4])
}
