package server

import (
	"fmt"

	"github.com/ValentinKolb/dShard/lib/shard"
	"github.com/ValentinKolb/dShard/lib/shardkey"
	"github.com/ValentinKolb/dShard/rpc/common"
)

// NewIShardServerAdapter exposes a shard.IShard as the shard service.
func NewIShardServerAdapter(shard shard.IShard) IRPCServerAdapter {
	return &iShardServerAdapterImpl{shard: shard}
}

type iShardServerAdapterImpl struct {
	shard shard.IShard
}

func filterOf(req *common.Message) shardkey.Filter {
	if req.Filter == nil {
		return shardkey.Filter{}
	}
	return *req.Filter
}

func (adapter *iShardServerAdapterImpl) Handle(req *common.Message) *common.Message {
	if adapter.shard == nil {
		return common.NewErrorResponse("handler: shard is nil")
	}

	s := adapter.shard
	switch req.MsgType {
	case common.MsgTShardInsert:
		return common.NewResponse(req.MsgType, s.Insert(req.NS, req.Fields, req.Docs))
	case common.MsgTShardFind:
		docs, err := s.Find(req.NS, filterOf(req))
		resp := common.NewResponse(req.MsgType, err)
		resp.Docs = docs
		return resp
	case common.MsgTShardFindOne:
		doc, ok, err := s.FindOne(req.NS, filterOf(req), req.Descending)
		resp := common.NewResponse(req.MsgType, err)
		if ok {
			resp.Docs, resp.Ok = []shardkey.Doc{doc}, true
		}
		return resp
	case common.MsgTShardCount:
		n, err := s.Count(req.NS, filterOf(req))
		resp := common.NewResponse(req.MsgType, err)
		resp.Size = n
		return resp
	case common.MsgTShardDataSize:
		n, err := s.DataSize(req.NS, filterOf(req), req.Size)
		resp := common.NewResponse(req.MsgType, err)
		resp.Size = n
		return resp
	case common.MsgTShardMedianKey:
		key, err := s.MedianKey(req.NS, filterOf(req))
		resp := common.NewResponse(req.MsgType, err)
		resp.ShardKey = key
		return resp
	case common.MsgTShardMoveStart:
		token, err := s.MoveChunkStart(req.NS, req.From, req.To, filterOf(req))
		resp := common.NewResponse(req.MsgType, err)
		resp.Token = token
		return resp
	case common.MsgTShardMoveFinish:
		return common.NewResponse(req.MsgType, s.MoveChunkFinish(req.NS, req.To, req.Version, req.Token))
	case common.MsgTShardMoveAbort:
		return common.NewResponse(req.MsgType, s.MoveChunkAbort(req.NS, req.Token))
	case common.MsgTShardDrop:
		return common.NewResponse(req.MsgType, s.DropCollection(req.NS))
	case common.MsgTShardSetVersion:
		return common.NewResponse(req.MsgType, s.SetVersion(req.NS, req.Version, req.Authoritative))
	case common.MsgTShardEnsureIndex:
		return common.NewResponse(req.MsgType, s.EnsureIndex(req.NS, req.Fields, req.Unique))
	case common.MsgTShardLock:
		owner, err := s.LockNamespace(req.NS, req.Timeout)
		resp := common.NewResponse(req.MsgType, err)
		resp.Value = owner
		return resp
	case common.MsgTShardUnlock:
		return common.NewResponse(req.MsgType, s.UnlockNamespace(req.NS, req.Value))
	case common.MsgTShardStats:
		stats, err := s.Stats()
		resp := common.NewResponse(req.MsgType, err)
		if err == nil {
			resp.Stats = &stats
		}
		return resp
	default:
		return common.NewErrorResponse(
			fmt.Sprintf("RPC IShardAdapter - Unsupported message type: %s", req.MsgType),
		)
	}
}
