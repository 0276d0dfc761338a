package server

import (
	"fmt"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/ValentinKolb/dShard/lib/shard/memshard"
	"github.com/ValentinKolb/dShard/lib/store"
	"github.com/ValentinKolb/dShard/lib/store/lstore"
	"github.com/ValentinKolb/dShard/lib/store/zkstore"
	"github.com/ValentinKolb/dShard/rpc/client"
	"github.com/ValentinKolb/dShard/rpc/common"
	"github.com/ValentinKolb/dShard/rpc/serializer"
	"github.com/ValentinKolb/dShard/rpc/transport"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/puzpuzpuz/xsync/v3"
	gometrics "github.com/rcrowley/go-metrics"
)

var Logger = logger.GetLogger("rpc")

// NewRPCServer creates a new RPC server
// It takes a config, a server transport, a factory for client transports (used to
// reach peer shards during migrations) and a serializer as parameters
//
// Usage:
//
//	s := server.NewRPCServer(
//		*config,
//		tcp.NewTCPServerTransport(),
//		tcp.NewTCPClientTransport,
//		serializer.NewGOBSerializer(),
//	)
//
//	if err := s.Serve(); err != nil {
//		panic(err)
//	 }
func NewRPCServer(
	config common.ServerConfig,
	transport transport.IRPCServerTransport,
	clientTransport func() transport.IRPCClientTransport,
	serializer serializer.IRPCSerializer,
) *RPCServer {
	// https://github.com/golang/go/issues/17393
	if runtime.GOOS == "darwin" {
		signal.Ignore(syscall.Signal(0xd))
	}

	Logger.Infof("Created RPC Server")
	Logger.Infof(config.String())

	return &RPCServer{
		config:          config,
		transport:       transport,
		clientTransport: clientTransport,
		serializer:      serializer,
		services:        xsync.NewMapOf[uint64, IRPCServerAdapter](),
		metrics:         gometrics.DefaultRegistry,
	}
}

// RPCServer dispatches incoming requests to the services hosted by a node.
type RPCServer struct {
	config          common.ServerConfig
	transport       transport.IRPCServerTransport
	clientTransport func() transport.IRPCClientTransport
	serializer      serializer.IRPCSerializer
	services        *xsync.MapOf[uint64, IRPCServerAdapter]
	metrics         gometrics.Registry
	closers         []func()
}

// Register adds (or replaces) the adapter serving serviceID.
func (s *RPCServer) Register(serviceID uint64, adapter IRPCServerAdapter) {
	s.services.Store(serviceID, adapter)
}

// Handle decodes a request for serviceID, runs it and returns the encoded response.
// Failures before the adapter is reached are answered with an error response.
func (s *RPCServer) Handle(serviceID uint64, req []byte) []byte {
	var msg common.Message
	var respMsg *common.Message

	adapter, ok := s.services.Load(serviceID)
	if !ok {
		respMsg = common.NewErrorResponse(fmt.Sprintf("service %d not found", serviceID))
	} else if err := s.serializer.Deserialize(req, &msg); err != nil {
		respMsg = common.NewErrorResponse(fmt.Sprintf("failed to deserialize request: %s", err))
	} else {
		start := time.Now()
		respMsg = adapter.Handle(&msg)
		gometrics.GetOrRegisterTimer("rpc.server."+msg.MsgType.String(), s.metrics).UpdateSince(start)
		if respMsg.Err != "" {
			gometrics.GetOrRegisterCounter("rpc.server.errors", s.metrics).Inc(1)
			Logger.Debugf("%s on service %d failed: %s", msg.MsgType, serviceID, respMsg.Err)
		}
	}

	val, err := s.serializer.Serialize(*respMsg)
	if err != nil {
		Logger.Errorf("failed to serialize response: %v", err)
		val, _ = s.serializer.Serialize(*common.NewErrorResponse(fmt.Sprintf("failed to serialize response: %s", err)))
	}
	return val
}

func (s *RPCServer) newConfigStore() (store.IStore, error) {
	switch s.config.ConfigStore {
	case common.ConfigStoreMemory, "":
		return lstore.NewLocalStore(), nil
	case common.ConfigStoreZooKeeper:
		st, closeFn, err := zkstore.NewZKStore(zkstore.Config{
			Servers:        s.config.ZKServers,
			Root:           s.config.ZKRoot,
			SessionTimeout: time.Duration(s.config.TimeoutSecond) * time.Second,
		})
		if err != nil {
			return nil, err
		}
		s.closers = append(s.closers, closeFn)
		return st, nil
	default:
		return nil, fmt.Errorf("invalid config store type: %s", s.config.ConfigStore)
	}
}

func (s *RPCServer) init() error {
	if err := common.InitLoggers(s.config.LogLevel); err != nil {
		return err
	}

	/*
		Note: A node can host the config store, a shard or both. Each service is
		registered under its own service ID so clients can address them over a
		single transport.
	*/

	if s.config.HasService(common.ServiceTypeConfigStore) {
		st, err := s.newConfigStore()
		if err != nil {
			return fmt.Errorf("failed to create config store: %w", err)
		}
		s.Register(common.ServiceConfigStore, NewIStoreServerAdapter(st))
		Logger.Infof("created %s config store", s.config.ConfigStore)
	}

	if s.config.HasService(common.ServiceTypeShard) {
		if s.config.ShardName == "" {
			return fmt.Errorf("shard service needs a shard name")
		}
		engine := memshard.New(s.config.ShardName)
		if len(s.config.Peers) > 0 {
			if s.clientTransport == nil {
				return fmt.Errorf("peers configured but no client transport given")
			}
			peers := client.NewDirectory(s.config.Peers, common.ClientConfig{
				TimeoutSecond: int(s.config.TimeoutSecond),
				Transport: common.ClientTransportConfig{
					RetryCount:             3,
					ConnectionsPerEndpoint: 1,
					TCPNoDelay:             true,
				},
			}, s.clientTransport, s.serializer)
			engine.SetPeers(peers)
			s.closers = append(s.closers, func() { _ = peers.Close() })
		}
		s.Register(common.ServiceShard, NewIShardServerAdapter(engine))
		Logger.Infof("created shard %s with %d peers", s.config.ShardName, len(s.config.Peers))
	}

	if s.services.Size() == 0 {
		return fmt.Errorf("no services configured")
	}

	Logger.Infof("dshard setup completed successfully")

	s.transport.RegisterHandler(s.Handle)
	return nil
}

// Serve starts the RPC server
// This function will also initialize the services and start the transport layer
func (s *RPCServer) Serve() error {
	if err := s.init(); err != nil {
		return err
	}
	return s.transport.Listen(s.config)
}

// Close stops the transport and releases the backends.
func (s *RPCServer) Close() error {
	err := s.transport.Close()
	for _, c := range s.closers {
		c()
	}
	s.closers = nil
	return err
}
