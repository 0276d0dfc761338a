package transport

import (
	"github.com/ValentinKolb/dShard/rpc/common"
)

// --------------------------------------------------------------------------
// Server Transport
// --------------------------------------------------------------------------

// ServerHandleFunc is a function type that handles incoming requests.
// It is called by a server transport for every received request with the
// service ID the request is addressed to and returns the encoded response.
type ServerHandleFunc func(serviceID uint64, req []byte) (resp []byte)

// IRPCServerTransport is the interface for the server side of a transport
type IRPCServerTransport interface {
	// RegisterHandler registers the handler called for every request
	RegisterHandler(handler ServerHandleFunc)
	// Listen starts the transport and blocks while serving requests
	Listen(config common.ServerConfig) error
	// Close stops listening. Listen returns once the transport is closed.
	Close() error
}

// --------------------------------------------------------------------------
// Client Transport
// --------------------------------------------------------------------------

// IRPCClientTransport is the interface for the RPC client transport
type IRPCClientTransport interface {
	// Connect initializes the transport with the given configuration
	Connect(config common.ClientConfig) error
	// Send sends a request to a service and returns the response
	Send(serviceID uint64, req []byte) (resp []byte, err error)
	// Close closes the transport connection
	Close() error
}
