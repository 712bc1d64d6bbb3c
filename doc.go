// Package udstore is a namespaced record store over heterogeneous backends.
//
// Every feature of an application gets the same key-value contract whether
// its namespace lives in an embedded file (bolt), an in-process cache
// (bigcache), a table per namespace (sqlite, postgres) or a remote server
// (redis, consul). Above the providers the store handles:
//   - Envelope: every record carries createdAt, updatedAt, version, ttl and
//     the encrypted/compressed flags. Bare values and envelopes written
//     before the magic field existed are still read and upgraded in place.
//   - Encryption: secretbox with a random nonce per record. Sensitive
//     namespaces are always encrypted. The default key lives only in this
//     process, so such records do not survive a restart unless a stable
//     key is configured (seal.FromSecret).
//   - Compression: payloads above a threshold are compressed when that
//     makes them smaller; a marker prefix tells the read path which codec
//     was used.
//   - Expiry: reads drop expired records lazily; a background sweep
//     removes the rest.
//
// Write path:
//
//	serialize -> checksum (if encrypting) -> compress -> encrypt -> envelope -> provider
//
// Read path:
//
//	provider -> envelope -> ttl -> decrypt -> decompress -> checksum -> deserialize
//
// Operations on the same (namespace, key) run in the order they were issued.
package udstore
