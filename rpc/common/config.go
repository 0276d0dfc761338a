package common

import (
	"fmt"
	"strconv"
	"strings"
)

// --------------------------------------------------------------------------
// RPC server configuration struct
// --------------------------------------------------------------------------

// ServiceType names a service a server can host.
type ServiceType string

const (
	ServiceTypeConfigStore ServiceType = "config"
	ServiceTypeShard       ServiceType = "shard"
)

// ConfigStoreType selects the backend of the config store service.
type ConfigStoreType string

const (
	ConfigStoreMemory    ConfigStoreType = "memory"
	ConfigStoreZooKeeper ConfigStoreType = "zookeeper"
)

// ServerTransportConfig holds the transport specific server settings.
type ServerTransportConfig struct {
	Endpoint        string
	WorkersPerConn  int
	BufferSize      int
	TCPNoDelay      bool
	TCPKeepAliveSec int
	TCPLingerSec    int
	WriteBufferSize int
	ReadBufferSize  int
}

// ServerConfig holds all configuration parameters of a dshard node.
type ServerConfig struct {
	// services hosted by this node
	Services []ServiceType

	// shard service settings
	ShardName string
	Peers     map[string]string // shard name -> endpoint, used to hand over documents

	// config store settings
	ConfigStore ConfigStoreType
	ZKServers   []string
	ZKRoot      string

	TimeoutSecond int64
	Transport     ServerTransportConfig

	// Logging configuration
	LogLevel string
}

// HasService reports whether the node hosts the given service.
func (c *ServerConfig) HasService(t ServiceType) bool {
	for _, s := range c.Services {
		if s == t {
			return true
		}
	}
	return false
}

// String returns a formatted string representation of the configuration
func (c *ServerConfig) String() string {
	var sb strings.Builder

	addSection := func(title string) {
		sb.WriteString("\n")
		sb.WriteString(fmt.Sprintf("%s\n", strings.ToUpper(title)))
	}

	addField := func(name, value string) {
		sb.WriteString(fmt.Sprintf("  %-22s: %s\n", name, value))
	}

	addSection("RPC Server")
	addField("Endpoint", c.Transport.Endpoint)
	addField("Timeout", fmt.Sprintf("%d sec", c.TimeoutSecond))
	addField("Workers Per Conn", strconv.Itoa(c.Transport.WorkersPerConn))

	addSection("Logging")
	addField("Log Level", c.LogLevel)

	addSection("Services")
	for _, s := range c.Services {
		switch s {
		case ServiceTypeConfigStore:
			addField(string(s), fmt.Sprintf("id %d, backend %s", ServiceConfigStore, c.ConfigStore))
		case ServiceTypeShard:
			addField(string(s), fmt.Sprintf("id %d, name %s", ServiceShard, c.ShardName))
		}
	}

	if c.HasService(ServiceTypeConfigStore) && c.ConfigStore == ConfigStoreZooKeeper {
		addSection("ZooKeeper")
		addField("Servers", strings.Join(c.ZKServers, ","))
		addField("Root", c.ZKRoot)
	}

	if len(c.Peers) > 0 {
		addSection("Peers")
		for _, name := range sortedNames(c.Peers) {
			addField(name, c.Peers[name])
		}
	}
	return sb.String()
}

// --------------------------------------------------------------------------
// RPC client configuration struct
// --------------------------------------------------------------------------

// ClientTransportConfig holds the transport specific client settings.
type ClientTransportConfig struct {
	Endpoints              []string
	RetryCount             int
	ConnectionsPerEndpoint int
	TCPNoDelay             bool
	TCPKeepAliveSec        int
}

type ClientConfig struct {
	TimeoutSecond int
	Transport     ClientTransportConfig
}

// String returns a formatted string representation of the client configuration
func (c *ClientConfig) String() string {
	var sb strings.Builder

	addSection := func(title string) {
		sb.WriteString("\n")
		sb.WriteString(fmt.Sprintf("%s\n", strings.ToUpper(title)))
	}

	addField := func(name, value string) {
		sb.WriteString(fmt.Sprintf("  %-22s: %s\n", name, value))
	}

	addSection("Client Configuration")
	addField("Timeout", fmt.Sprintf("%d sec", c.TimeoutSecond))
	addField("Retry Count", strconv.Itoa(c.Transport.RetryCount))
	addField("Connections Per Endpoint", strconv.Itoa(max(1, c.Transport.ConnectionsPerEndpoint)))

	addSection("Endpoints")
	for i, endpoint := range c.Transport.Endpoints {
		addField(strconv.Itoa(i), endpoint)
	}

	return sb.String()
}

// WithEndpoint returns a copy of the config talking to a single endpoint.
func (c ClientConfig) WithEndpoint(endpoint string) ClientConfig {
	c.Transport.Endpoints = []string{endpoint}
	return c
}
