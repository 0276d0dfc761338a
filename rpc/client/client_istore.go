package client

import (
	"github.com/ValentinKolb/dShard/lib/store"
	"github.com/ValentinKolb/dShard/rpc/common"
	"github.com/ValentinKolb/dShard/rpc/serializer"
	"github.com/ValentinKolb/dShard/rpc/transport"
	gometrics "github.com/rcrowley/go-metrics"
)

// NewRPCStore creates a store.IStore backed by the config store service of a
// dshard node. The transport is connected before returning.
func NewRPCStore(
	config common.ClientConfig,
	transport transport.IRPCClientTransport,
	serializer serializer.IRPCSerializer,
) (store.IStore, error) {
	if err := transport.Connect(config); err != nil {
		return nil, err
	}

	return &rpcStore{
		rpcClientAdapter{
			serviceID:  common.ServiceConfigStore,
			config:     config,
			transport:  transport,
			serializer: serializer,
			metrics:    gometrics.DefaultRegistry,
		},
	}, nil
}

type rpcStore struct {
	rpcClientAdapter
}

// --------------------------------------------------------------------------
// Interface Methods (docu see the store package in interface.go)
// --------------------------------------------------------------------------

func (i *rpcStore) Set(key string, value []byte) (err error) {
	_, err = i.invoke(common.NewSetRequest(key, value))
	return err
}

func (i *rpcStore) SetE(key string, value []byte, expireIn, deleteIn uint64) (err error) {
	_, err = i.invoke(common.NewSetERequest(key, value, expireIn, deleteIn))
	return err
}

func (i *rpcStore) SetEIfUnset(key string, value []byte, expireIn, deleteIn uint64) (err error) {
	_, err = i.invoke(common.NewSetEIfUnsetRequest(key, value, expireIn, deleteIn))
	return err
}

func (i *rpcStore) Expire(key string) (err error) {
	_, err = i.invoke(common.NewExpireRequest(key))
	return err
}

func (i *rpcStore) Delete(key string) (err error) {
	_, err = i.invoke(common.NewDeleteRequest(key))
	return err
}

func (i *rpcStore) Get(key string) (value []byte, loaded bool, err error) {
	resp, err := i.invoke(common.NewGetRequest(key))
	if err != nil {
		return nil, false, err
	}
	return resp.Value, resp.Ok, nil
}

func (i *rpcStore) Has(key string) (loaded bool, err error) {
	resp, err := i.invoke(common.NewHasRequest(key))
	if err != nil {
		return false, err
	}
	return resp.Ok, nil
}
