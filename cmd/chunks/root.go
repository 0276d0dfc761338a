package chunks

import (
	"fmt"
	"os"

	"github.com/ValentinKolb/dShard/cmd/util"
	"github.com/ValentinKolb/dShard/lib/balancer"
	"github.com/ValentinKolb/dShard/lib/chunk"
	"github.com/ValentinKolb/dShard/lib/meta"
	"github.com/ValentinKolb/dShard/rpc/client"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	sess *session

	// ChunkCommands represents the chunk command group
	ChunkCommands = &cobra.Command{
		Use:   "chunks",
		Short: "Inspect and change the chunk layout of sharded collections",
		Long: `Inspect and change the chunk layout of sharded collections.
The routing metadata is read from the config store (--config-endpoint), shard commands are sent to the shards given with --shards.`,
		PersistentPreRunE: setupSession,
	}
)

func init() {
	cobra.OnInitialize(util.InitClientConfig)

	util.SetupRPCClientFlags(ChunkCommands)

	key := "max-chunk-size"
	ChunkCommands.PersistentFlags().Int64(key, chunk.DefaultMaxChunkSize, util.WrapString("Size in bytes above which chunks are split on insert"))

	key = "output"
	ChunkCommands.PersistentFlags().String(key, "text", util.WrapString("Output format (text, yaml)"))

	shardCmd.Flags().String("key", "", "Comma-separated shard key fields (e.g. x or region,id)")
	shardCmd.Flags().String("primary", "", "Shard holding the initial chunk")
	shardCmd.Flags().Bool("unique", false, "Whether the shard key is unique")
	_ = shardCmd.MarkFlagRequired("key")
	_ = shardCmd.MarkFlagRequired("primary")

	showCmd.Flags().Bool("changes", false, "Also print the change log of the collection")

	splitCmd.Flags().String("at", "", "Split point as JSON array (e.g. [50]). Picked automatically if empty")

	moveCmd.Flags().String("to", "", "Destination shard")
	_ = moveCmd.MarkFlagRequired("to")

	ChunkCommands.AddCommand(shardCmd)
	ChunkCommands.AddCommand(listCmd)
	ChunkCommands.AddCommand(showCmd)
	ChunkCommands.AddCommand(routeCmd)
	ChunkCommands.AddCommand(findCmd)
	ChunkCommands.AddCommand(splitCmd)
	ChunkCommands.AddCommand(moveCmd)
	ChunkCommands.AddCommand(insertCmd)
	ChunkCommands.AddCommand(dropCmd)
}

// setupSession connects to the config store and the shards
func setupSession(cmd *cobra.Command, _ []string) error {
	if err := util.BindCommandFlags(cmd); err != nil {
		return err
	}

	format := viper.GetString("output")
	if format != "text" && format != "yaml" {
		return fmt.Errorf("invalid output format %s (expected text or yaml)", format)
	}

	shards, err := util.GetShards()
	if err != nil {
		return err
	}

	s, err := util.GetSerializer()
	if err != nil {
		return err
	}

	newTransport, err := util.GetTransportFactory()
	if err != nil {
		return err
	}

	config := util.GetClientConfig()
	st, err := client.NewRPCStore(config.WithEndpoint(viper.GetString("config-endpoint")), newTransport(), s)
	if err != nil {
		return fmt.Errorf("can't connect to the config store: %w", err)
	}

	dir := client.NewDirectory(shards, config, newTransport, s)
	env := chunk.Env{
		Meta:   meta.NewKVMetaStore(st),
		Shards: dir,
		Picker: balancer.NewLeastLoaded(dir),
		Config: chunk.Config{MaxChunkSize: viper.GetInt64("max-chunk-size")},
	}

	sess, err = newSession(env, os.Stdout, format)
	return err
}
