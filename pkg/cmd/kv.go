package cmd

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/spf13/cobra"

	appcache "github.com/yeisme/fitsvault/pkg/cache"
	"github.com/yeisme/fitsvault/pkg/configs"
	"github.com/yeisme/fitsvault/pkg/internal/storage"
	"github.com/yeisme/fitsvault/pkg/internal/storage/kv"
)

var (
	kvCmd = &cobra.Command{
		Use:   "kv",
		Short: "inspect and clear the response and calibration cache",
	}

	kvTypesCmd = &cobra.Command{
		Use:     "types",
		Short:   "list cache backends, the configured one starred",
		Aliases: []string{"list", "ls"},
		Run: func(cmd *cobra.Command, args []string) {
			var current string
			if cfg := loadConfig(); cfg != nil {
				current = cfg.KV.GetKVType()
			}

			for _, t := range kv.GetRegisteredKVTypes() {
				fmt.Fprintln(cmd.OutOrStdout(), mark(string(t), current))
			}
		},
	}

	kvKeysCmd = &cobra.Command{
		Use:   "keys [pattern]",
		Short: "list keys matching a glob, e.g. 'calcache:*'",
		Args:  cobra.MaximumNArgs(1),
		RunE: withKV(func(ctx context.Context, cmd *cobra.Command, store kv.KVStore, args []string) error {
			pattern := ""
			if len(args) == 1 {
				pattern = args[0]
			}

			keys, err := store.Keys(ctx, pattern)
			if err != nil {
				return err
			}

			slices.Sort(keys)

			for _, k := range keys {
				fmt.Fprintln(cmd.OutOrStdout(), k)
			}

			return nil
		}),
	}

	kvGetCmd = &cobra.Command{
		Use:   "get <key>",
		Short: "print a cached value",
		Args:  cobra.ExactArgs(1),
		RunE: withKV(func(ctx context.Context, cmd *cobra.Command, store kv.KVStore, args []string) error {
			v, err := store.Get(ctx, args[0])
			if errors.Is(err, kv.ErrNotFound) {
				return fmt.Errorf("%s: not cached", args[0])
			}

			if err != nil {
				return err
			}

			fmt.Fprintln(cmd.OutOrStdout(), string(v))

			return nil
		}),
	}

	kvFlushCmd = &cobra.Command{
		Use:   "flush <prefix>",
		Short: "delete every key under a prefix, e.g. rc: or calcache:",
		Args:  cobra.ExactArgs(1),
		RunE: withKV(func(ctx context.Context, cmd *cobra.Command, store kv.KVStore, args []string) error {
			n, err := appcache.NewCache(store).DeletePrefix(ctx, args[0])
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %d deleted\n", args[0], n)

			return err
		}),
	}
)

type kvFunc func(ctx context.Context, cmd *cobra.Command, store kv.KVStore, args []string) error

// withKV memory 与单节点 groupcache 只在进程内有效，对它们执行命令没有意义.
func withKV(fn kvFunc) func(cmd *cobra.Command, args []string) error {
	return withManager(func(ctx context.Context, cmd *cobra.Command, cfg *configs.AppConfig, mgr *storage.Manager, args []string) error {
		switch kv.KVType(cfg.KV.GetKVType()) {
		case kv.KVTypeRedis, kv.KVTypeNATS:
		default:
			return fmt.Errorf("kv type %s is process-local, nothing to inspect from the CLI", cfg.KV.GetKVType())
		}

		kvc := mgr.GetKVClient()
		if kvc == nil {
			return fmt.Errorf("kv store not configured")
		}

		return fn(ctx, cmd, kvc.KVStore, args)
	})
}

// registerKVCommands 注册 kv 子命令.
func registerKVCommands() {
	kvCmd.AddCommand(kvTypesCmd, kvKeysCmd, kvGetCmd, kvFlushCmd)

	rootCmd.AddCommand(kvCmd)
}
