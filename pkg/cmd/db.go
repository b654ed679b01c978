package cmd

import (
	"context"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/yeisme/fitsvault/pkg/configs"
	"github.com/yeisme/fitsvault/pkg/internal/model"
	"github.com/yeisme/fitsvault/pkg/internal/storage"
	"github.com/yeisme/fitsvault/pkg/internal/storage/db"
)

var (
	dbCmd = &cobra.Command{
		Use:   "db",
		Short: "Database related commands",
	}

	dbListCmd = &cobra.Command{
		Use:   "ls",
		Short: "list registered database types and their locking support",
		Run: func(cmd *cobra.Command, args []string) {
			current := ""
			if cfg := loadConfig(); cfg != nil {
				current = string(cfg.DB.Type)
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "   TYPE\tFAMILY\tROW LOCKS\tSKIP LOCKED")

			for _, dbType := range db.GetRegisteredDBTypes() {
				d, _ := db.Lookup(dbType)
				fmt.Fprintf(w, "%s\t%s\t%v\t%v\n", mark(string(dbType), current), d.Family, d.RowLocks, d.SkipLocked)
			}

			_ = w.Flush()
		},
	}

	dbMigrateCmd = &cobra.Command{
		Use:   "migrate",
		Short: "create or update catalog tables and queue indexes",
		RunE: withManager(func(ctx context.Context, cmd *cobra.Command, _ *configs.AppConfig, mgr *storage.Manager, _ []string) error {
			if err := model.Migrate(mgr.GetDBClient().DB.WithContext(ctx)); err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "migrated %d tables\n", len(model.Models()))

			return nil
		}),
	}
)

// mark 在列表中标出当前配置使用的类型.
func mark(name, current string) string {
	if name == current {
		return " * " + name
	}

	return " - " + name
}

// registerDBCommands 注册数据库相关命令.
func registerDBCommands() {
	rootCmd.AddCommand(dbCmd)

	dbCmd.AddCommand(dbListCmd, dbMigrateCmd)
}
