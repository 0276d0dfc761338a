package serve

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	cmdUtil "github.com/ValentinKolb/dShard/cmd/util"
	"github.com/ValentinKolb/dShard/rpc/common"
	"github.com/ValentinKolb/dShard/rpc/server"
	"github.com/ValentinKolb/dShard/rpc/transport"
	"github.com/ValentinKolb/dShard/rpc/transport/http"
	"github.com/ValentinKolb/dShard/rpc/transport/tcp"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	serveCmdConfig = &common.ServerConfig{}
	ServeCmd       = &cobra.Command{
		Use:   "serve",
		Short: "Start a dshard node",
		Long: `Start a dshard node hosting the config store and/or a shard. The configuration can be set via command line flags or environment variables.
The format of the environment variables is DSHARD_<flag> (e.g. DSHARD_SHARD_NAME=A)`,
		PreRunE: processConfig,
		RunE:    run,
	}
)

func init() {
	cobra.OnInitialize(cmdUtil.InitClientConfig)

	key := "services"
	ServeCmd.PersistentFlags().String(key, "config,shard", cmdUtil.WrapString("Comma-separated list of services to host (config, shard)"))

	key = "shard-name"
	ServeCmd.PersistentFlags().String(key, "", cmdUtil.WrapString("Name of the shard hosted by this node (required for the shard service)"))

	key = "peers"
	ServeCmd.PersistentFlags().String(key, "", cmdUtil.WrapString("Other shards in the format 'B=localhost:8082,C=localhost:8083'. Needed to hand over documents when chunks move"))

	key = "config-store"
	ServeCmd.PersistentFlags().String(key, "memory", cmdUtil.WrapString("Backend of the config store (memory, zookeeper)"))

	key = "zk-servers"
	ServeCmd.PersistentFlags().String(key, "localhost:2181", cmdUtil.WrapString("Comma-separated list of ZooKeeper servers (only for the zookeeper config store)"))

	key = "zk-root"
	ServeCmd.PersistentFlags().String(key, "/dshard", cmdUtil.WrapString("Root node of the config store in ZooKeeper"))

	key = "timeout"
	ServeCmd.PersistentFlags().Int64(key, 5, cmdUtil.WrapString("Timeout in seconds for backend sessions and peer calls"))

	key = "endpoint"
	ServeCmd.PersistentFlags().String(key, "0.0.0.0:8080", cmdUtil.WrapString("The address on which the API will listen (e.g. localhost:8080)"))

	key = "workers-per-conn"
	ServeCmd.PersistentFlags().Int(key, 16, cmdUtil.WrapString("Maximum number of requests handled in parallel per connection (only for tcp)"))

	key = "log-level"
	ServeCmd.PersistentFlags().String(key, "info", cmdUtil.WrapString("LogLevel is the level at which logs will be output (debug, info, warn, error)"))

	key = "metrics-endpoint"
	ServeCmd.PersistentFlags().String(key, "", cmdUtil.WrapString("Address of the prometheus metrics endpoint (e.g. localhost:9090). Disabled if empty"))

	key = "metrics-log-interval"
	ServeCmd.PersistentFlags().Duration(key, 0, cmdUtil.WrapString("Interval at which the rpc timers are written to the log. Disabled if 0"))
}

// processConfig reads the configuration from the command line flags and environment variables and converts them to the server configuration
func processConfig(cmd *cobra.Command, _ []string) error {
	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		return err
	}

	cfg, err := buildConfig()
	if err != nil {
		return err
	}
	*serveCmdConfig = cfg
	return nil
}

func buildConfig() (common.ServerConfig, error) {
	cfg := common.ServerConfig{
		ShardName:     viper.GetString("shard-name"),
		ConfigStore:   common.ConfigStoreType(viper.GetString("config-store")),
		ZKRoot:        viper.GetString("zk-root"),
		TimeoutSecond: viper.GetInt64("timeout"),
		LogLevel:      viper.GetString("log-level"),
		Transport: common.ServerTransportConfig{
			Endpoint:       viper.GetString("endpoint"),
			WorkersPerConn: viper.GetInt("workers-per-conn"),
			TCPNoDelay:     true,
		},
	}

	for _, s := range strings.Split(viper.GetString("services"), ",") {
		switch svc := common.ServiceType(strings.TrimSpace(s)); svc {
		case common.ServiceTypeConfigStore, common.ServiceTypeShard:
			cfg.Services = append(cfg.Services, svc)
		default:
			return cfg, fmt.Errorf("invalid service: %s (expected one of: config, shard)", s)
		}
	}

	switch cfg.ConfigStore {
	case common.ConfigStoreMemory:
	case common.ConfigStoreZooKeeper:
		for _, s := range strings.Split(viper.GetString("zk-servers"), ",") {
			if s = strings.TrimSpace(s); s != "" {
				cfg.ZKServers = append(cfg.ZKServers, s)
			}
		}
		if len(cfg.ZKServers) == 0 && cfg.HasService(common.ServiceTypeConfigStore) {
			return cfg, fmt.Errorf("zk-servers is required for the zookeeper config store")
		}
	default:
		return cfg, fmt.Errorf("invalid config store: %s (expected one of: memory, zookeeper)", cfg.ConfigStore)
	}

	if cfg.HasService(common.ServiceTypeShard) && cfg.ShardName == "" {
		return cfg, fmt.Errorf("shard-name is required for the shard service")
	}

	peers, err := cmdUtil.ParsePairs(viper.GetString("peers"))
	if err != nil {
		return cfg, fmt.Errorf("invalid peers: %w", err)
	}
	cfg.Peers = peers

	return cfg, nil
}

// run starts the dshard node and blocks until it is stopped
func run(_ *cobra.Command, _ []string) error {
	s, err := cmdUtil.GetSerializer()
	if err != nil {
		return err
	}

	clientTransport, err := cmdUtil.GetTransportFactory()
	if err != nil {
		return err
	}

	var t transport.IRPCServerTransport
	switch viper.GetString("transport") {
	case "http":
		t = http.NewHttpServerTransport()
	case "tcp":
		t = tcp.NewTCPServerTransport()
	default:
		return fmt.Errorf("invalid transport %s", viper.GetString("transport"))
	}

	serv := server.NewRPCServer(*serveCmdConfig, t, clientTransport, s)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if endpoint := viper.GetString("metrics-endpoint"); endpoint != "" {
		metricsServer := startMetricsServer(endpoint)
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = metricsServer.Shutdown(shutdownCtx)
		}()
	}

	if interval := viper.GetDuration("metrics-log-interval"); interval > 0 {
		go logRPCMetrics(ctx, interval)
	}

	errCh := make(chan error, 1)
	go func() { errCh <- serv.Serve() }()

	select {
	case err := <-errCh:
		_ = serv.Close()
		return err
	case <-ctx.Done():
		server.Logger.Infof("shutting down")
		err := serv.Close()
		if serveErr := <-errCh; serveErr != nil && !errors.Is(serveErr, context.Canceled) {
			return serveErr
		}
		return err
	}
}
