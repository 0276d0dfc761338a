// Package shard defines the command surface of a shard node (IShard) and the
// directory that resolves shard names to command clients (IDirectory).
//
// The chunk layer never talks to a storage engine directly. Every physical
// operation (median key, data size, migration, drop, ...) is a command sent to
// the shard that owns the data, either in process (memshard) or over RPC
// (rpc/client).
package shard
