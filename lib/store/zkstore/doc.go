// Package zkstore implements store.IStore on top of ZooKeeper.
//
// Every key is kept in its own znode directly below the configured root. Keys
// are path-escaped so that keys containing '/' do not create nested nodes.
// The node data is an 8 byte big-endian expiry timestamp (unix seconds, 0 means
// never) followed by the value.
//
// ZooKeeper has no per-node deletion deadline without TTL nodes, which most
// deployments keep disabled. Writes with a non-zero deleteIn are therefore
// created as ephemeral nodes: they disappear when the session of the writer
// ends. This matches what the lock manager needs from deleteIn (locks of a
// crashed router go away) without depending on server configuration.
package zkstore
