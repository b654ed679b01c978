package cmd

import (
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/yeisme/fitsvault/pkg/app"
)

var (
	// noJobs 不在服务进程内运行队列清扫与指标任务.
	noJobs bool

	serveCmd = &cobra.Command{
		Use:   "serve",
		Short: "run the HTTP catalog service",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, err := app.NewApp(ctx, configPath, !noJobs)
			if err != nil {
				return err
			}

			return a.Run(ctx)
		},
	}
)

// registerServeCommands 注册 serve 命令.
func registerServeCommands() {
	serveCmd.Flags().BoolVar(&noJobs, "no-jobs", false, "do not run queue sweep and gauge jobs in this process")

	rootCmd.AddCommand(serveCmd)
}
