package lock

import (
	"encoding/hex"
	"fmt"

	"github.com/ValentinKolb/dShard/cmd/util"
	"github.com/ValentinKolb/dShard/lib/shard"
	"github.com/ValentinKolb/dShard/rpc/client"
	"github.com/spf13/cobra"
)

var (
	directory      *client.Directory
	acquireTimeout uint64

	// LockCommands represents the lock command group
	LockCommands = &cobra.Command{
		Use:               "lock",
		Short:             "Acquire or release namespace locks on a shard",
		Long:              "Acquire or release the namespace lock a shard holds during splits, migrations and drops. Useful to clear a lock left behind by a crashed router.",
		PersistentPreRunE: setupLockClient,
	}

	// acquireCmd represents the acquire command
	acquireCmd = &cobra.Command{
		Use:   "acquire [shard] [ns]",
		Short: "Acquire a namespace lock",
		Args:  cobra.ExactArgs(2),
		RunE:  runAcquire,
	}

	// releaseCmd represents the release command
	releaseCmd = &cobra.Command{
		Use:   "release [shard] [ns] [ownerID]",
		Short: "Release a previously acquired namespace lock",
		Long:  "Release a namespace lock using the owner ID. The owner ID is the hex string returned by the acquire command.",
		Args:  cobra.ExactArgs(3),
		RunE:  runRelease,
	}
)

func init() {
	cobra.OnInitialize(util.InitClientConfig)

	LockCommands.AddCommand(acquireCmd)
	LockCommands.AddCommand(releaseCmd)

	util.SetupRPCClientFlags(LockCommands)

	acquireCmd.Flags().Uint64Var(&acquireTimeout, "lock-timeout", 30, "Lock timeout in seconds (0 for no timeout)")
}

// setupLockClient initializes the shard directory
func setupLockClient(cmd *cobra.Command, _ []string) error {
	if err := util.BindCommandFlags(cmd); err != nil {
		return err
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

	directory = client.NewDirectory(shards, util.GetClientConfig(), newTransport, s)
	return nil
}

// runAcquire handles the acquire lock command
func runAcquire(_ *cobra.Command, args []string) error {
	return acquire(directory, args[0], args[1], acquireTimeout)
}

// runRelease handles the release lock command
func runRelease(_ *cobra.Command, args []string) error {
	return release(directory, args[0], args[1], args[2])
}

func acquire(dir shard.IDirectory, name, ns string, timeout uint64) error {
	s, err := dir.Get(name)
	if err != nil {
		return err
	}

	ownerID, err := s.LockNamespace(ns, timeout)
	if err != nil {
		return fmt.Errorf("failed to acquire lock: %w", err)
	}

	fmt.Printf("acquired=true, ownerId=%s\n", hex.EncodeToString(ownerID))
	return nil
}

func release(dir shard.IDirectory, name, ns, ownerIDHex string) error {
	ownerID, err := hex.DecodeString(ownerIDHex)
	if err != nil {
		return fmt.Errorf("invalid owner ID format: %w", err)
	}

	s, err := dir.Get(name)
	if err != nil {
		return err
	}

	if err := s.UnlockNamespace(ns, ownerID); err != nil {
		return fmt.Errorf("failed to release lock: %w", err)
	}

	fmt.Println("released=true")
	return nil
}
