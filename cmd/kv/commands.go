package kv

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
)

// parseLifetimes reads the expireIn and deleteIn arguments (seconds)
func parseLifetimes(expireArg, deleteArg string) (expireIn, deleteIn uint64, err error) {
	if expireIn, err = strconv.ParseUint(expireArg, 10, 64); err != nil {
		return 0, 0, fmt.Errorf("expireIn must be a number: %w", err)
	}
	if deleteIn, err = strconv.ParseUint(deleteArg, 10, 64); err != nil {
		return 0, 0, fmt.Errorf("deleteIn must be a number: %w", err)
	}
	return expireIn, deleteIn, nil
}

// formatValue indents JSON values, metadata records are stored as JSON.
func formatValue(value []byte) string {
	var buf bytes.Buffer
	if json.Valid(value) && json.Indent(&buf, value, "", "  ") == nil {
		return buf.String()
	}
	return string(value)
}

var (
	setCmd = &cobra.Command{
		Use:   "set [key] [value]",
		Short: "Sets the value for a key",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := rpcStore.Set(args[0], []byte(args[1])); err != nil {
				return err
			}
			fmt.Println("set successfully")
			return nil
		},
	}
	setECmd = &cobra.Command{
		Use:   "setE [key] [value] [expireIn] [deleteIn]",
		Short: "Sets the value for a key with expiration and deletion time",
		Args:  cobra.ExactArgs(4),
		RunE: func(cmd *cobra.Command, args []string) error {
			expireIn, deleteIn, err := parseLifetimes(args[2], args[3])
			if err != nil {
				return err
			}
			if err := rpcStore.SetE(args[0], []byte(args[1]), expireIn, deleteIn); err != nil {
				return err
			}
			fmt.Println("setE successfully")
			return nil
		},
	}
	setEIfUnsetCmd = &cobra.Command{
		Use:   "setEIfUnset [key] [value] [expireIn] [deleteIn]",
		Short: "Sets the value for a key with expiration and deletion time if the key is not already set",
		Args:  cobra.ExactArgs(4),
		RunE: func(cmd *cobra.Command, args []string) error {
			expireIn, deleteIn, err := parseLifetimes(args[2], args[3])
			if err != nil {
				return err
			}
			if err := rpcStore.SetEIfUnset(args[0], []byte(args[1]), expireIn, deleteIn); err != nil {
				return err
			}
			fmt.Println("setEIfUnset successfully")
			return nil
		},
	}
	getCmd = &cobra.Command{
		Use:   "get [key]",
		Short: "Reads the value for a key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			value, ok, err := rpcStore.Get(args[0])
			if err != nil {
				return err
			}
			if !ok {
				fmt.Printf("key=%s, found=false\n", args[0])
				return nil
			}
			fmt.Println(formatValue(value))
			return nil
		},
	}
	exprCmd = &cobra.Command{
		Use:   "expr [key]",
		Short: "Expires the value for a key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := rpcStore.Expire(args[0]); err != nil {
				return err
			}
			fmt.Println("expire successfully")
			return nil
		},
	}
	delCmd = &cobra.Command{
		Use:   "del [key]",
		Short: "Deletes a key value pair",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := rpcStore.Delete(args[0]); err != nil {
				return err
			}
			fmt.Println("delete successfully")
			return nil
		},
	}
	hasCmd = &cobra.Command{
		Use:   "has [key]",
		Short: "Checks if a key exists",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			found, err := rpcStore.Has(args[0])
			if err != nil {
				return err
			}
			fmt.Printf("key=%s, found=%t\n", args[0], found)
			return nil
		},
	}
)
