package client

import (
	"errors"
	"fmt"
	"time"

	"github.com/ValentinKolb/dShard/rpc/common"
	"github.com/ValentinKolb/dShard/rpc/serializer"
	"github.com/ValentinKolb/dShard/rpc/transport"
	"github.com/lni/dragonboat/v4/logger"
	gometrics "github.com/rcrowley/go-metrics"
)

var (
	Logger = logger.GetLogger("rpc")
)

// ErrRemote wraps every error reported by the server side of a call.
var ErrRemote = errors.New("remote error")

// rpcClientAdapter is a struct that stores all data needed for an implementation of an RPC client
// Used by the rpcStore and rpcShard with composition pattern
type rpcClientAdapter struct {
	serviceID  uint64
	config     common.ClientConfig
	transport  transport.IRPCClientTransport
	serializer serializer.IRPCSerializer
	metrics    gometrics.Registry
}

// invoke sends a request to the adapters service and records its latency
// in the timer rpc.client.<message type>.
func (a *rpcClientAdapter) invoke(req *common.Message) (*common.Message, error) {
	start := time.Now()
	defer gometrics.GetOrRegisterTimer("rpc.client."+req.MsgType.String(), a.metrics).UpdateSince(start)

	resp, err := invokeRPCRequest(a.serviceID, req, a.transport, a.serializer)
	if err != nil {
		gometrics.GetOrRegisterCounter("rpc.client.errors", a.metrics).Inc(1)
	}
	return resp, err
}

// Close closes the underlying transport.
func (a *rpcClientAdapter) Close() error {
	return a.transport.Close()
}

// invokeRPCRequest is a helper function used for all RPC Clients to send requests
// It takes a service ID, a request message, a transport layer and a serializer as parameters
// It returns a response message and an error if any occurs
// This method also checks if the response is an error response and if the type of the response is the expected type
func invokeRPCRequest(serviceID uint64, req *common.Message, transport transport.IRPCClientTransport, serializer serializer.IRPCSerializer) (*common.Message, error) {
	reqBytes, err := serializer.Serialize(*req)
	if err != nil {
		return nil, err
	}

	respBytes, err := transport.Send(serviceID, reqBytes)
	if err != nil {
		return nil, err
	}

	resp := &common.Message{}
	err = serializer.Deserialize(respBytes, resp)
	if err != nil {
		return nil, fmt.Errorf("rpc %s: can't decode response: %w", req.MsgType, err)
	}

	if resp.MsgType == common.MsgTError || resp.Err != "" {
		return nil, fmt.Errorf("%w: %s: %s", ErrRemote, req.MsgType, resp.Err)
	}

	if resp.MsgType != req.MsgType {
		return nil, fmt.Errorf("rpc %s: unexpected message type %s", req.MsgType, resp.MsgType)
	}

	return resp, nil
}
