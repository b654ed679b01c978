package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/yeisme/fitsvault/pkg/configs"
	"github.com/yeisme/fitsvault/pkg/internal/jobs"
	"github.com/yeisme/fitsvault/pkg/internal/storage"
	"github.com/yeisme/fitsvault/pkg/internal/workqueue"
)

var (
	sweepCmd = &cobra.Command{
		Use:   "sweep",
		Short: "reset stuck entries and re-arm transient failures once",
		RunE: withManager(func(ctx context.Context, cmd *cobra.Command, cfg *configs.AppConfig, mgr *storage.Manager, _ []string) error {
			res, err := jobs.Sweep(ctx, jobs.Deps{DB: mgr.GetDBClient().DB, Queue: cfg.Queue})
			if err != nil {
				return err
			}

			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "%-10s %6s %8s\n", "QUEUE", "RESET", "REARMED")

			for _, r := range res {
				fmt.Fprintf(w, "%-10s %6d %8d\n", r.Queue, r.Reset, r.Rearmd)
			}

			return nil
		}),
	}

	statusCmd = &cobra.Command{
		Use:   "status",
		Short: "print entry counts of every queue",
		RunE: withManager(func(ctx context.Context, cmd *cobra.Command, _ *configs.AppConfig, mgr *storage.Manager, _ []string) error {
			all, err := workqueue.StatusAll(ctx, mgr.GetDBClient().DB, time.Now())
			if err != nil {
				return err
			}

			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "%-10s %8s %8s %10s %7s\n", "QUEUE", "PENDING", "DEFERRED", "INPROGRESS", "FAILED")

			for _, st := range all {
				fmt.Fprintf(w, "%-10s %8d %8d %10d %7d\n", st.Queue, st.Pending, st.Deferred, st.InProgress, st.Failed)
			}

			return nil
		}),
	}
)

// registerSweepCommands 注册队列维护命令.
func registerSweepCommands() {
	rootCmd.AddCommand(sweepCmd, statusCmd)
}
