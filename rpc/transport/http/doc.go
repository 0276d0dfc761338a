// Package http implements the HTTP transport of the dshard RPC system.
//
// Every message is sent as the body of a POST request to /{serviceId}; the
// response body holds the encoded response message. The server routes with
// chi (github.com/go-chi/chi/v5), recovers from handler panics and, at log
// level debug, logs every request with its status and duration.
//
// The client spreads requests round robin over all configured endpoints.
// A failed request is retried on the next endpoint up to RetryCount times.
// Endpoints without a scheme are treated as http://host:port.
//
// The client transport is safe for concurrent use.
package http
