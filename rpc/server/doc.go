// Package server implements the RPC server of a dshard node.
//
// A node hosts up to two services, each registered under its own service ID:
//
//   - the config store (common.ServiceConfigStore), an in-memory lstore or a
//     ZooKeeper backed zkstore, served by NewIStoreServerAdapter
//   - a shard (common.ServiceShard), a memshard engine served by
//     NewIShardServerAdapter. Peers from the configuration are reached through a
//     client.Directory when chunks are handed over.
//
// RPCServer.Handle decodes a frame, runs it on the matching adapter and encodes
// the response. Failures are always answered with an error message, the
// transport never sees them. Latencies are recorded in go-metrics timers named
// rpc.server.<message type>.
package server
