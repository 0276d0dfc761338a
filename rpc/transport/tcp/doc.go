// Package tcp implements the TCP transport of the dshard RPC system on top of
// the base package: the connectors only dial, listen and apply socket options
// (TCP_NODELAY, keep-alive, linger, buffer sizes). Framing, request
// multiplexing and retries live in base.
//
// The server reads requests into pooled 512 KB buffers.
package tcp
