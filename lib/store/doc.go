// Package store provides the key-value abstraction the metadata layer and the
// lock manager are written against.
//
// Key Components:
//
//   - IStore Interface: The core abstraction defining operations for interacting with
//     a key-value store. All implementations share this common interface, allowing
//     the metadata store to switch between backends without code changes.
//
//   - Error System: A structured error reporting mechanism using typed error codes
//     and descriptive messages.
//
// Implementations:
//
//   - Local Store (lstore): An in-memory implementation backed by a concurrent
//     hash map. Expiration and deletion deadlines are evaluated lazily on read.
//     Available in the "github.com/ValentinKolb/dShard/lib/store/lstore" package.
//
//   - ZooKeeper Store (zkstore): A durable implementation that keeps every key in
//     its own znode below a configurable root. Keys with a deletion deadline are
//     created as ephemeral nodes and vanish with the owning session.
//     Available in the "github.com/ValentinKolb/dShard/lib/store/zkstore" package.
//
//   - RPC Store: A client for a remote config-store service, available in the
//     "github.com/ValentinKolb/dShard/rpc/client" package.
package store
