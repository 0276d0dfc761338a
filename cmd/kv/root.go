package kv

import (
	"github.com/ValentinKolb/dShard/cmd/util"
	"github.com/ValentinKolb/dShard/lib/store"
	"github.com/ValentinKolb/dShard/rpc/client"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	rpcStore store.IStore

	// KeyValueCommands represents the KV command group
	KeyValueCommands = &cobra.Command{
		Use:               "kv",
		Short:             "Perform raw key-value operations on the config store",
		Long:              "Perform raw key-value operations on the config store. Routing metadata lives under the keys coll/<ns>, chunks/<ns>, chunk/<id> and changelog/<ns>.",
		PersistentPreRunE: setupKVClient,
	}
)

func init() {
	cobra.OnInitialize(util.InitClientConfig)

	util.SetupRPCClientFlags(KeyValueCommands)

	KeyValueCommands.AddCommand(setCmd)
	KeyValueCommands.AddCommand(setECmd)
	KeyValueCommands.AddCommand(setEIfUnsetCmd)
	KeyValueCommands.AddCommand(getCmd)
	KeyValueCommands.AddCommand(exprCmd)
	KeyValueCommands.AddCommand(delCmd)
	KeyValueCommands.AddCommand(hasCmd)
}

// setupKVClient initializes the RPC store client
func setupKVClient(cmd *cobra.Command, _ []string) error {
	if err := util.BindCommandFlags(cmd); err != nil {
		return err
	}

	config := util.GetClientConfig()

	s, err := util.GetSerializer()
	if err != nil {
		return err
	}

	newTransport, err := util.GetTransportFactory()
	if err != nil {
		return err
	}

	rpcStore, err = client.NewRPCStore(
		config.WithEndpoint(viper.GetString("config-endpoint")),
		newTransport(),
		s,
	)

	return err
}
