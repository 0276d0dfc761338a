// Package cmd implements the dshard command line.
//
// The package is organized into several subpackages:
//
//   - serve: starts a node hosting the config store and/or a shard
//   - chunks: shards collections and inspects, routes, splits and moves chunks
//   - kv: raw access to the config store
//   - lock: acquires and releases namespace locks on a shard
//   - util: shared flag and configuration helpers (internal use)
//
// Every flag can also be set through an environment variable DSHARD_<FLAG>,
// .env and .env.local are loaded on start.
package cmd
