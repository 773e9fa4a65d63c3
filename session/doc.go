// Package session provides the session-scoped key-value storage used by the
// identity provider's token cache.
//
// Everything in a Store lives for one application session: entries may carry
// a TTL, and Clear wipes the whole store, not only the authentication
// records. Two backends are provided: MemoryStore (one process) and
// RedisStore (namespaced keys in a shared Redis).
package session
