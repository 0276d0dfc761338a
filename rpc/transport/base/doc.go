// Package base implements the connection handling shared by the stream based
// transports (currently tcp). A protocol only has to provide a connector that
// dials, listens and tunes sockets.
//
// Wire format: every request and response is one frame
//
//	serviceID (8 bytes) | requestID (8 bytes) | length (4 bytes) | payload
//
// all integers big endian. The response to a request carries the same
// requestID, so many requests can be in flight on one connection.
//
// Key Components:
//
//   - clientTransport: keeps ConnectionsPerEndpoint connections per endpoint
//     and picks one round robin per request. A reader goroutine per connection
//     hands responses to the waiting callers and reconnects after read errors.
//     Failed sends are retried with exponential backoff.
//
//   - serverTransport: accepts connections and serves each on its own
//     goroutine. Requests of one connection are handled by at most
//     WorkersPerConn concurrent workers, read buffers come from a sync.Pool.
//
// All exported methods are safe for concurrent use.
package base
