// Package meta persists sharding metadata: which collections are sharded, the
// chunk records of every sharded collection and an audit log of changes.
//
// The store is written against store.IStore, so the same code runs on top of
// the in-memory store, ZooKeeper or a remote config-store service. Writes are
// serialized through a lock manager lease stored next to the data, which makes
// it safe to share one config store between several routers.
//
// Versions: every saved chunk receives a lastmod value taken from a single
// counter. New values are max(previous+1, unixSeconds<<32), so lastmod is
// strictly increasing per store and roughly ordered by wall-clock time.
package meta
