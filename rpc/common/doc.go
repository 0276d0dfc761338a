// Package common provides the data structures shared by the RPC client,
// server and transports of dshard.
//
// The package focuses on:
//   - Message protocol definition for key-value and shard commands
//   - Configuration structures for client and server components
//   - Custom logging implementation integrated with Dragonboat's logger package
//
// Key Components:
//
//   - Message: Core data structure for all RPC communication. One struct is
//     used for requests and responses; which fields are set depends on the
//     MessageType. Factory methods create the requests.
//
//   - MessageType: Enumeration of all supported operations, split into
//     key-value operations (config store service) and shard commands
//     (shard service).
//
//   - ServiceConfigStore, ServiceShard: the service IDs a request is addressed
//     to. Every transport carries the service ID next to the payload.
//
//   - ServerConfig / ClientConfig: node and client settings, filled by the CLI.
//
//   - InitLoggers: installs a logger factory producing "LEVEL | name | msg"
//     lines and sets the level of every dshard logger.
package common
