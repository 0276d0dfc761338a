package client

import (
	"github.com/ValentinKolb/dShard/lib/shard"
	"github.com/ValentinKolb/dShard/lib/shardkey"
	"github.com/ValentinKolb/dShard/rpc/common"
	"github.com/ValentinKolb/dShard/rpc/serializer"
	"github.com/ValentinKolb/dShard/rpc/transport"
	gometrics "github.com/rcrowley/go-metrics"
)

// NewRPCShard creates a shard.IShard backed by the shard service of a dshard
// node. The transport is connected before returning.
func NewRPCShard(
	config common.ClientConfig,
	transport transport.IRPCClientTransport,
	serializer serializer.IRPCSerializer,
) (*RPCShard, error) {
	if err := transport.Connect(config); err != nil {
		return nil, err
	}

	return &RPCShard{
		rpcClientAdapter{
			serviceID:  common.ServiceShard,
			config:     config,
			transport:  transport,
			serializer: serializer,
			metrics:    gometrics.DefaultRegistry,
		},
	}, nil
}

// RPCShard forwards every shard command to a remote node.
type RPCShard struct {
	rpcClientAdapter
}

var _ shard.IShard = (*RPCShard)(nil)

// --------------------------------------------------------------------------
// Interface Methods (docu see the shard package in interface.go)
// --------------------------------------------------------------------------

func (s *RPCShard) Insert(ns string, keyFields []string, docs []shardkey.Doc) error {
	_, err := s.invoke(common.NewInsertRequest(ns, keyFields, docs))
	return err
}

func (s *RPCShard) Find(ns string, filter shardkey.Filter) ([]shardkey.Doc, error) {
	resp, err := s.invoke(common.NewFindRequest(ns, filter))
	if err != nil {
		return nil, err
	}
	return resp.Docs, nil
}

func (s *RPCShard) FindOne(ns string, filter shardkey.Filter, descending bool) (shardkey.Doc, bool, error) {
	resp, err := s.invoke(common.NewFindOneRequest(ns, filter, descending))
	if err != nil {
		return nil, false, err
	}
	if !resp.Ok || len(resp.Docs) == 0 {
		return nil, false, nil
	}
	return resp.Docs[0], true, nil
}

func (s *RPCShard) Count(ns string, filter shardkey.Filter) (int64, error) {
	resp, err := s.invoke(common.NewCountRequest(ns, filter))
	if err != nil {
		return 0, err
	}
	return resp.Size, nil
}

func (s *RPCShard) DataSize(ns string, filter shardkey.Filter, maxSize int64) (int64, error) {
	resp, err := s.invoke(common.NewDataSizeRequest(ns, filter, maxSize))
	if err != nil {
		return 0, err
	}
	return resp.Size, nil
}

func (s *RPCShard) MedianKey(ns string, filter shardkey.Filter) (shardkey.Key, error) {
	resp, err := s.invoke(common.NewMedianKeyRequest(ns, filter))
	if err != nil {
		return nil, err
	}
	return resp.ShardKey, nil
}

func (s *RPCShard) MoveChunkStart(ns, from, to string, filter shardkey.Filter) (string, error) {
	resp, err := s.invoke(common.NewMoveStartRequest(ns, from, to, filter))
	if err != nil {
		return "", err
	}
	return resp.Token, nil
}

func (s *RPCShard) MoveChunkFinish(ns, to string, newVersion uint64, token string) error {
	_, err := s.invoke(common.NewMoveFinishRequest(ns, to, newVersion, token))
	return err
}

func (s *RPCShard) MoveChunkAbort(ns, token string) error {
	_, err := s.invoke(common.NewMoveAbortRequest(ns, token))
	return err
}

func (s *RPCShard) DropCollection(ns string) error {
	_, err := s.invoke(common.NewDropRequest(ns))
	return err
}

func (s *RPCShard) SetVersion(ns string, version uint64, authoritative bool) error {
	_, err := s.invoke(common.NewSetVersionRequest(ns, version, authoritative))
	return err
}

func (s *RPCShard) EnsureIndex(ns string, keyFields []string, unique bool) error {
	_, err := s.invoke(common.NewEnsureIndexRequest(ns, keyFields, unique))
	return err
}

func (s *RPCShard) LockNamespace(ns string, timeout uint64) ([]byte, error) {
	resp, err := s.invoke(common.NewLockRequest(ns, timeout))
	if err != nil {
		return nil, err
	}
	return resp.Value, nil
}

func (s *RPCShard) UnlockNamespace(ns string, owner []byte) error {
	_, err := s.invoke(common.NewUnlockRequest(ns, owner))
	return err
}

func (s *RPCShard) Stats() (shard.Stats, error) {
	resp, err := s.invoke(common.NewStatsRequest())
	if err != nil {
		return shard.Stats{}, err
	}
	if resp.Stats == nil {
		return shard.Stats{}, nil
	}
	return *resp.Stats, nil
}
