// Package store provides the key-value persistence used by every other
// component.
//
// Callers treat a KV as an opaque map from key to bytes. Collections such as
// saved conversations are serialized wholesale and written under one key, so
// a write either lands completely or not at all.
//
// Implementations:
//
//   - SQLiteKV: a single `kv` table in a WAL-mode SQLite file (modernc.org/sqlite)
//   - MemoryKV: an in-memory map for tests, which also counts writes
//
// Get returns ErrNotFound for absent keys; Delete of an absent key is not an
// error.
package store
