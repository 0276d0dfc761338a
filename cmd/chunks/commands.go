package chunks

import (
	"github.com/spf13/cobra"
)

var (
	shardCmd = &cobra.Command{
		Use:   "shard [ns]",
		Short: "Shards a collection",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			key, _ := cmd.Flags().GetString("key")
			primary, _ := cmd.Flags().GetString("primary")
			unique, _ := cmd.Flags().GetBool("unique")
			return sess.shardCollection(args[0], key, primary, unique)
		},
	}
	listCmd = &cobra.Command{
		Use:   "list",
		Short: "Lists all sharded collections",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return sess.list()
		},
	}
	showCmd = &cobra.Command{
		Use:   "show [ns]",
		Short: "Prints the chunks of a collection",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			changes, _ := cmd.Flags().GetBool("changes")
			return sess.show(args[0], changes)
		},
	}
	routeCmd = &cobra.Command{
		Use:   "route [ns] [query-json]",
		Short: "Prints the chunks and shards a query has to visit",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return sess.route(args[0], args[1])
		},
	}
	findCmd = &cobra.Command{
		Use:   "find [ns] [doc-json]",
		Short: "Prints the chunk owning a document",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return sess.find(args[0], args[1])
		},
	}
	splitCmd = &cobra.Command{
		Use:   "split [ns] [doc-json]",
		Short: "Splits the chunk owning a document",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			at, _ := cmd.Flags().GetString("at")
			return sess.split(args[0], args[1], at)
		},
	}
	moveCmd = &cobra.Command{
		Use:   "move [ns] [doc-json]",
		Short: "Moves the chunk owning a document to another shard",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			to, _ := cmd.Flags().GetString("to")
			return sess.move(args[0], args[1], to)
		},
	}
	insertCmd = &cobra.Command{
		Use:   "insert [ns] [doc-json]",
		Short: "Inserts a document on the owning shard and splits the chunk if needed",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return sess.insert(args[0], args[1])
		},
	}
	dropCmd = &cobra.Command{
		Use:   "drop [ns]",
		Short: "Drops a sharded collection on every shard",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return sess.drop(args[0])
		},
	}
)
