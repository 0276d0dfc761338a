package cmd

import (
	"fmt"
	"os"

	"github.com/ValentinKolb/dShard/cmd/chunks"
	"github.com/ValentinKolb/dShard/cmd/kv"
	"github.com/ValentinKolb/dShard/cmd/lock"
	"github.com/ValentinKolb/dShard/cmd/serve"
	"github.com/ValentinKolb/dShard/cmd/util"
	"github.com/spf13/cobra"
)

const (
	Version = "0.3.0"
)

var (

	// RootCmd represents the base command when called without any subcommands
	RootCmd = &cobra.Command{
		Use:   "dshard",
		Short: "range sharding metadata and routing",
		Long: fmt.Sprintf(`dShard (v%s)

Keeps track of how sharded collections are partitioned into key ranges (chunks),
which shard owns each chunk and which shards a query has to visit.`, Version),
		SilenceUsage: true,
	}
	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print the version number of dShard",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("dShard v%s\n", Version)
		},
	}
)

func init() {
	RootCmd.AddCommand(serve.ServeCmd)
	RootCmd.AddCommand(chunks.ChunkCommands)
	RootCmd.AddCommand(kv.KeyValueCommands)
	RootCmd.AddCommand(lock.LockCommands)
	RootCmd.AddCommand(versionCmd)

	key := "serializer"
	RootCmd.PersistentFlags().String(key, "gob", util.WrapString("serializer to use (json, gob)"))
	key = "transport"
	RootCmd.PersistentFlags().String(key, "tcp", util.WrapString("transport to use (http, tcp)"))
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the RootCmd.
func Execute() {
	if err := RootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
