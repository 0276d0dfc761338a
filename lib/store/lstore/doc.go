// Package lstore implements a local, in-memory, single-node key-value store based on the
// store.IStore interface. Data is stored entirely in memory and is not persisted
// between process restarts.
//
// Implementation Details:
//
//   - Storage: values live in an xsync.MapOf. Conditional writes (SetEIfUnset,
//     Expire) run inside Compute, so they are atomic per key.
//
//   - Deadlines: expireIn and deleteIn are seconds relative to the write. An
//     expired value is hidden from Get but still reported by Has, a deleted
//     value is hidden from both. Deadlines are evaluated on read; an optional
//     background sweep frees deleted entries.
//
// Usage Example:
//
//	s := lstore.NewLocalStore()
//	err := s.SetE("lock:db.coll", ownerID, 0, 30)
//	value, exists, err := s.Get("lock:db.coll")
//
// The local store backs the lock manager on shard nodes, the in-memory config
// store of `dshard serve` and most tests.
package lstore
