package server

import (
	"github.com/ValentinKolb/dShard/rpc/common"
)

// IRPCServerAdapter is the interface for all RPC server adapters
// It translates requests into calls on the backend it wraps and the results
// back into responses. Errors are reported in the Err field of the response.
type IRPCServerAdapter interface {
	// Handle handles a request and returns a response
	Handle(req *common.Message) (resp *common.Message)
}
