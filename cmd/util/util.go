package util

import (
	"fmt"
	"sort"
	"strings"

	"github.com/ValentinKolb/dShard/rpc/common"
	"github.com/ValentinKolb/dShard/rpc/serializer"
	"github.com/ValentinKolb/dShard/rpc/transport"
	"github.com/ValentinKolb/dShard/rpc/transport/http"
	"github.com/ValentinKolb/dShard/rpc/transport/tcp"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const (
	// Wrap is the number of characters to Wrap the help text at
	Wrap int = 50

	// EnvPrefix is the prefix of all environment variables read by dshard
	EnvPrefix = "dshard"
)

// WrapString wraps a string at Wrap characters
func WrapString(text string) string {
	var wrappedLines []string
	var currentLine strings.Builder
	lineWidth := 0

	for _, word := range strings.Fields(text) {
		wordWidth := len(word)

		// Check if we need to wrap
		if lineWidth > 0 && lineWidth+1+wordWidth > Wrap {
			wrappedLines = append(wrappedLines, currentLine.String())
			currentLine.Reset()
			lineWidth = 0
		}

		if lineWidth > 0 {
			currentLine.WriteString(" ")
			lineWidth++
		}

		currentLine.WriteString(word)
		lineWidth += wordWidth
	}

	if currentLine.Len() > 0 {
		wrappedLines = append(wrappedLines, currentLine.String())
	}

	return strings.Join(wrappedLines, "\n")
}

// ParsePairs parses a comma-separated list of name=value pairs.
// Empty input yields an empty map.
func ParsePairs(s string) (map[string]string, error) {
	pairs := map[string]string{}
	if strings.TrimSpace(s) == "" {
		return pairs, nil
	}
	for _, p := range strings.Split(s, ",") {
		name, value, ok := strings.Cut(p, "=")
		name, value = strings.TrimSpace(name), strings.TrimSpace(value)
		if !ok || name == "" || value == "" {
			return nil, fmt.Errorf("invalid pair %q (expected name=value)", p)
		}
		if _, dup := pairs[name]; dup {
			return nil, fmt.Errorf("duplicate name %q", name)
		}
		pairs[name] = value
	}
	return pairs, nil
}

// FormatPairs is the inverse of ParsePairs, sorted by name.
func FormatPairs(pairs map[string]string) string {
	names := make([]string, 0, len(pairs))
	for n := range pairs {
		names = append(names, n)
	}
	sort.Strings(names)
	parts := make([]string, len(names))
	for i, n := range names {
		parts[i] = n + "=" + pairs[n]
	}
	return strings.Join(parts, ",")
}

// SetupRPCClientFlags adds common RPC connection flags to a command
func SetupRPCClientFlags(cmd *cobra.Command) {
	key := "timeout"
	cmd.PersistentFlags().Int(key, 10, WrapString("The timeout in seconds of the client"))

	key = "config-endpoint"
	cmd.PersistentFlags().String(key, "localhost:8080", WrapString("The address of the node serving the config store"))

	key = "shards"
	cmd.PersistentFlags().String(key, "", WrapString("Comma-separated list of shards in the format 'A=localhost:8081,B=localhost:8082'"))

	key = "transport-conn-per-endpoint"
	cmd.PersistentFlags().Int(key, 1, WrapString("Simultaneous connections per endpoint - for transports that support this feature"))

	key = "transport-retries"
	cmd.PersistentFlags().Int(key, 3, WrapString("How many times to retry the request"))

	key = "transport-tcp-nodelay"
	cmd.PersistentFlags().Bool(key, true, WrapString("Whether to enable TCP_NODELAY for the transport (only for tcp)"))

	key = "transport-tcp-keepalive"
	cmd.PersistentFlags().Int(key, 0, WrapString("The keepalive interval for the transport (in seconds, only for tcp)"))
}

// InitClientConfig initializes configuration from environment variables
func InitClientConfig() {
	_ = godotenv.Load(".env")
	_ = godotenv.Load(".env.local")

	viper.SetEnvPrefix(EnvPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv() // read in environment variables that match
}

// GetClientConfig reads client configuration from viper. Endpoints are left
// empty, they are set per target.
func GetClientConfig() common.ClientConfig {
	return common.ClientConfig{
		TimeoutSecond: viper.GetInt("timeout"),
		Transport: common.ClientTransportConfig{
			RetryCount:             viper.GetInt("transport-retries"),
			ConnectionsPerEndpoint: viper.GetInt("transport-conn-per-endpoint"),
			TCPNoDelay:             viper.GetBool("transport-tcp-nodelay"),
			TCPKeepAliveSec:        viper.GetInt("transport-tcp-keepalive"),
		},
	}
}

// GetShards reads the shard name -> endpoint map
func GetShards() (map[string]string, error) {
	shards, err := ParsePairs(viper.GetString("shards"))
	if err != nil {
		return nil, fmt.Errorf("invalid --shards: %w", err)
	}
	return shards, nil
}

// GetSerializer creates a serializer based on configuration
func GetSerializer() (serializer.IRPCSerializer, error) {
	return NewSerializer(viper.GetString("serializer"))
}

// NewSerializer creates the serializer with the given name
func NewSerializer(name string) (serializer.IRPCSerializer, error) {
	switch name {
	case "json":
		return serializer.NewJSONSerializer(), nil
	case "gob":
		return serializer.NewGOBSerializer(), nil
	default:
		return nil, fmt.Errorf("invalid serializer %s", name)
	}
}

// GetTransportFactory returns a constructor for client transports based on configuration
func GetTransportFactory() (func() transport.IRPCClientTransport, error) {
	return NewTransportFactory(viper.GetString("transport"))
}

// NewTransportFactory returns a constructor for client transports of the given kind
func NewTransportFactory(name string) (func() transport.IRPCClientTransport, error) {
	switch name {
	case "http":
		return http.NewHttpClientTransport, nil
	case "tcp":
		return tcp.NewTCPClientTransport, nil
	default:
		return nil, fmt.Errorf("invalid transport %s", name)
	}
}

// BindCommandFlags binds a command's flags to viper
func BindCommandFlags(cmd *cobra.Command) error {
	return viper.BindPFlags(cmd.Flags())
}
