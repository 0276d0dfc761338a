// Package memshard is an in-memory shard engine implementing shard.IShard.
//
// Every namespace keeps its documents in a skipmap ordered by shard key, with
// an insertion sequence number to allow duplicate shard key values. Structural
// changes of a namespace (migrations, drops) take the namespace write lock,
// plain inserts and reads only the read lock since the skipmap itself is
// safe for concurrent use.
//
// Namespace locks requested by routers are lock manager leases in a local
// store, so they expire on their own when a router dies while holding one.
//
// Migrations hand the documents of the moved range to the target shard through
// an optional peer directory. Without peers the documents are only removed
// locally, which is enough for tests and single node setups.
package memshard
