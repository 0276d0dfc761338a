package server

import (
	"fmt"

	"github.com/ValentinKolb/dShard/lib/store"
	"github.com/ValentinKolb/dShard/rpc/common"
)

// NewIStoreServerAdapter exposes a store.IStore as the config store service.
func NewIStoreServerAdapter(store store.IStore) IRPCServerAdapter {
	return &iStoreServerAdapterImpl{store: store}
}

type iStoreServerAdapterImpl struct {
	store store.IStore
}

func (adapter *iStoreServerAdapterImpl) Handle(req *common.Message) *common.Message {
	if adapter.store == nil {
		return common.NewErrorResponse("handler: store is nil")
	}

	s := adapter.store
	switch req.MsgType {
	case common.MsgTKVSet:
		return common.NewResponse(req.MsgType, s.Set(req.Key, req.Value))
	case common.MsgTKVSetE:
		return common.NewResponse(req.MsgType, s.SetE(req.Key, req.Value, req.ExpireIn, req.DeleteIn))
	case common.MsgTKVSetEIfUnset:
		return common.NewResponse(req.MsgType, s.SetEIfUnset(req.Key, req.Value, req.ExpireIn, req.DeleteIn))
	case common.MsgTKVExpire:
		return common.NewResponse(req.MsgType, s.Expire(req.Key))
	case common.MsgTKVDelete:
		return common.NewResponse(req.MsgType, s.Delete(req.Key))
	case common.MsgTKVGet:
		val, ok, err := s.Get(req.Key)
		resp := common.NewResponse(req.MsgType, err)
		resp.Value, resp.Ok = val, ok
		return resp
	case common.MsgTKVHas:
		ok, err := s.Has(req.Key)
		resp := common.NewResponse(req.MsgType, err)
		resp.Ok = ok
		return resp
	default:
		return common.NewErrorResponse(
			fmt.Sprintf("RPC IStoreAdapter - Unsupported message type: %s", req.MsgType),
		)
	}
}
