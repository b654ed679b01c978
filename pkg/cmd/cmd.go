// Package cmd contains the command line applications for the project.
package cmd

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/yeisme/fitsvault/pkg/app"
	"github.com/yeisme/fitsvault/pkg/configs"
	"github.com/yeisme/fitsvault/pkg/internal/storage"
)

var (
	// configPath 配置文件或配置目录.
	configPath string
	// debug 打印 viper 的调试信息.
	debug bool

	rootCmd = &cobra.Command{
		Use:           "fitsvault",
		Short:         "FITS data archive: catalog service, queue workers and admin tools",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}
)

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", ".", "config file or directory")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "print config debug information")

	registerServeCommands()
	registerWorkerCommands()
	registerEnqueueCommands()
	registerSweepCommands()
	registerConfigsCommands()
	registerDBCommands()
	registerKVCommands()
	registerMQCommands()
}

// bootstrap 加载配置并连接存储，调用方负责关闭 Manager.
func bootstrap(ctx context.Context) (*configs.AppConfig, *storage.Manager, error) {
	return app.Bootstrap(ctx, configPath)
}

// loadConfig 只加载配置，失败时返回 nil，供不需要连接存储的命令使用.
func loadConfig() *configs.AppConfig {
	if err := configs.InitConfig(configPath); err != nil {
		return nil
	}

	return configs.GetConfig()
}

// Execute 运行根命令. ctx 取消时长时间运行的子命令 (serve、worker、mq listen) 退出.
func Execute(ctx context.Context) error {
	return rootCmd.ExecuteContext(ctx)
}
