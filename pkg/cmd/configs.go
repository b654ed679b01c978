package cmd

import (
	"fmt"
	"slices"
	"strings"

	"github.com/bytedance/sonic"
	"github.com/spf13/cobra"

	"github.com/yeisme/fitsvault/pkg/configs"
)

// secretKeys 名称里带这些片段的配置项在输出时打码. 比较前去掉下划线并转小写.
var secretKeys = []string{"password", "secret", "token", "accesskey", "dsn"}

var (
	configCmd = &cobra.Command{
		Use:   "config",
		Short: "inspect the effective configuration",
	}

	configPathCmd = &cobra.Command{
		Use:   "path",
		Short: "print the config file in use",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := configs.InitConfig(configPath); err != nil {
				return err
			}

			used := configs.GetViper().ConfigFileUsed()
			if used == "" {
				used = "(defaults and " + configs.EnvPrefix + "_* environment only)"
			}

			fmt.Fprintln(cmd.OutOrStdout(), used)

			return nil
		},
	}

	configShowCmd = &cobra.Command{
		Use:     "show",
		Short:   "print the effective config as JSON, secrets masked",
		Aliases: []string{"debug"},
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := configs.InitConfig(configPath); err != nil {
				return err
			}

			if debug {
				configs.GetViper().Debug()
			}

			raw, err := sonic.Marshal(configs.GetConfig())
			if err != nil {
				return fmt.Errorf("marshal config: %w", err)
			}

			var tree map[string]any
			if err := sonic.Unmarshal(raw, &tree); err != nil {
				return fmt.Errorf("decode config: %w", err)
			}

			maskSecrets(tree)

			out, err := sonic.ConfigStd.MarshalIndent(tree, "", "  ")
			if err != nil {
				return fmt.Errorf("marshal config: %w", err)
			}

			fmt.Fprintln(cmd.OutOrStdout(), string(out))

			return nil
		},
	}

	configGetCmd = &cobra.Command{
		Use:   "get <key>",
		Short: "print one setting, e.g. queue.max_attempts",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := configs.InitConfig(configPath); err != nil {
				return err
			}

			v := configs.GetViper()
			if !v.IsSet(args[0]) {
				return fmt.Errorf("unknown config key %q", args[0])
			}

			if isSecret(args[0]) {
				fmt.Fprintln(cmd.OutOrStdout(), "******")
				return nil
			}

			fmt.Fprintln(cmd.OutOrStdout(), v.Get(args[0]))

			return nil
		},
	}

	configCheckCmd = &cobra.Command{
		Use:   "check",
		Short: "load and validate the config, exit non-zero on errors",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := configs.InitConfig(configPath); err != nil {
				return err
			}

			cfg := configs.GetConfig()
			fmt.Fprintf(cmd.OutOrStdout(), "ok: db=%s storage=%s kv=%s\n",
				cfg.DB.Redacted(), cfg.Storage.Mode, cfg.KV.GetKVType())

			return nil
		},
	}
)

func isSecret(key string) bool {
	key = strings.ToLower(strings.ReplaceAll(key, "_", ""))

	return slices.ContainsFunc(secretKeys, func(s string) bool { return strings.Contains(key, s) })
}

// maskSecrets 原地替换非空的敏感值.
func maskSecrets(m map[string]any) {
	for k, v := range m {
		switch val := v.(type) {
		case map[string]any:
			maskSecrets(val)
		case string:
			if val != "" && isSecret(k) {
				m[k] = "******"
			}
		}
	}
}

// registerConfigsCommands 注册 config 子命令.
func registerConfigsCommands() {
	configCmd.AddCommand(configPathCmd, configShowCmd, configGetCmd, configCheckCmd)

	rootCmd.AddCommand(configCmd)
}
