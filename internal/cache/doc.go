// Package cache implements the local cache store: a SQLite-backed record
// table tracking each asset's resolution stage plus the namespaced raw and
// playable files materialized under the cache directory.
//
// The store holds a file lock on the cache directory so two processes never
// share (and race on) the same files. Records and files are ephemeral by
// design: the table is reset on open and each controller evicts its own
// asset on teardown. There is no LRU; eviction is driven solely by consumer
// teardown.
package cache
