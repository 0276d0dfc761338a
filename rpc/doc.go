// Package rpc is the communication layer of dshard. It lets a router reach the
// config store and the shards of other nodes.
//
// The package is organized into several subpackages:
//
//   - common: the Message protocol, service IDs, configuration structures and logging.
//
//   - transport: network communication with pluggable implementations (TCP, HTTP).
//     Every frame carries the ID of the service it is meant for.
//
//   - serializer: converts Messages to bytes and back (JSON, GOB).
//
//   - client: remote implementations of store.IStore and shard.IShard plus a
//     shard.IDirectory that connects to shards by name.
//
//   - server: dispatches incoming frames to the services hosted by a node.
package rpc
