package client

import (
	"fmt"
	"sort"

	"github.com/ValentinKolb/dShard/lib/shard"
	"github.com/ValentinKolb/dShard/rpc/common"
	"github.com/ValentinKolb/dShard/rpc/serializer"
	"github.com/ValentinKolb/dShard/rpc/transport"
	"github.com/puzpuzpuz/xsync/v3"
)

// Directory resolves shard names to RPC clients. Clients are connected on
// first use and cached.
type Directory struct {
	endpoints    map[string]string
	config       common.ClientConfig
	newTransport func() transport.IRPCClientTransport
	serializer   serializer.IRPCSerializer
	clients      *xsync.MapOf[string, *RPCShard]
}

var _ shard.IDirectory = (*Directory)(nil)

// NewDirectory creates a directory for the given shard name -> endpoint map.
// newTransport is called once per shard.
func NewDirectory(
	endpoints map[string]string,
	config common.ClientConfig,
	newTransport func() transport.IRPCClientTransport,
	serializer serializer.IRPCSerializer,
) *Directory {
	eps := make(map[string]string, len(endpoints))
	for name, ep := range endpoints {
		eps[name] = ep
	}
	return &Directory{
		endpoints:    eps,
		config:       config,
		newTransport: newTransport,
		serializer:   serializer,
		clients:      xsync.NewMapOf[string, *RPCShard](),
	}
}

func (d *Directory) Get(name string) (shard.IShard, error) {
	if c, ok := d.clients.Load(name); ok {
		return c, nil
	}
	endpoint, ok := d.endpoints[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", shard.ErrUnknownShard, name)
	}

	c, err := NewRPCShard(d.config.WithEndpoint(endpoint), d.newTransport(), d.serializer)
	if err != nil {
		return nil, fmt.Errorf("can't connect to shard %s at %s: %w", name, endpoint, err)
	}
	actual, loaded := d.clients.LoadOrStore(name, c)
	if loaded {
		_ = c.Close()
	}
	return actual, nil
}

func (d *Directory) Names() []string {
	names := make([]string, 0, len(d.endpoints))
	for name := range d.endpoints {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Close closes all connected clients.
func (d *Directory) Close() error {
	d.clients.Range(func(name string, c *RPCShard) bool {
		if err := c.Close(); err != nil {
			Logger.Warningf("failed to close client of shard %s: %v", name, err)
		}
		d.clients.Delete(name)
		return true
	})
	return nil
}
