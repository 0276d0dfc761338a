// Package chunk implements the routing table of sharded collections.
//
// A sharded collection is partitioned into chunks: half-open shard key ranges
// [min, max) owned by exactly one shard. The chunks of a collection always
// cover the whole key space from the global minimum to the global maximum
// without gaps or overlaps.
//
// Key Components:
//
//   - Chunk: a handle to one range. Chunks can be split at an interior key and
//     migrated to another shard. SplitIfShould implements the auto split
//     heuristic driven by the number of bytes written to the chunk.
//
//   - Manager: owns the chunks of one collection in a B-tree keyed by chunk
//     max, so the chunk containing a key k is the first entry with max > k.
//     The Manager persists chunks through a meta.IMetaStore and sends
//     physical commands to shards through a shard.IDirectory.
//
//   - RangeManager: a second B-tree of merged ranges of adjacent chunks on the
//     same shard. Query routing works on ranges, which keeps the result small
//     for collections with many chunks. After a split or migration only the
//     affected span is rebuilt and merged with its neighbours.
//
//   - Registry: one Manager per sharded namespace.
//
// Versions:
//
//	Each saved chunk gets a lastmod version from the metadata store. The
//	version of a shard is the maximum lastmod of its chunks. A migration
//	always leaves the source shard with a strictly higher version, even when
//	the last chunk left it.
//
// Failures:
//
//	Errors are *Error values. Errors with Fatal set mean the enclosing
//	operation was aborted midway and must not be retried blindly: a routing
//	cache that is still inconsistent after a reload, an unreachable metadata
//	store, a namespace that could not be locked during drop, or a failed
//	migration that the auto split had decided on. Neither drop nor migrate
//	roll back partial work.
package chunk
