// Package transport defines the transport layer of the dshard RPC system.
//
// A transport moves opaque request and response payloads between a client and
// a server. Every request carries the ID of the service it is addressed to
// (see common.ServiceConfigStore and common.ServiceShard), the server
// transport passes that ID to its registered ServerHandleFunc.
//
// Implementations:
//
//   - http: one POST request per message, routed with chi
//   - tcp: length prefixed frames multiplexed over pooled connections (see base)
package transport
