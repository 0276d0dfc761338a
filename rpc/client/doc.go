// Package client implements RPC clients for the services of a dshard node.
//
// Key Components:
//
//   - NewRPCStore: a store.IStore forwarding every call to the config store
//     service. Wrapped with meta.NewKVMetaStore it holds the routing metadata.
//
//   - NewRPCShard: a shard.IShard forwarding every call to the shard service.
//
//   - Directory: a shard.IDirectory mapping shard names to endpoints. Clients are
//     connected lazily and cached.
//
// Errors reported by the server are wrapped in ErrRemote. Every call records its
// latency in a go-metrics timer named rpc.client.<message type>.
//
// Usage Example:
//
//	cfg := common.ClientConfig{
//		TimeoutSecond: 5,
//		Transport: common.ClientTransportConfig{
//			Endpoints:              []string{"localhost:8080"},
//			RetryCount:             3,
//			ConnectionsPerEndpoint: 1,
//		},
//	}
//	st, err := client.NewRPCStore(cfg, tcp.NewTCPClientTransport(), serializer.NewGOBSerializer())
//	if err != nil {
//		return err
//	}
//	dir := client.NewDirectory(peers, cfg, tcp.NewTCPClientTransport, serializer.NewGOBSerializer())
package client
