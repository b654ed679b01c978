package cmd

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/yeisme/fitsvault/pkg/configs"
	"github.com/yeisme/fitsvault/pkg/internal/blob"
	"github.com/yeisme/fitsvault/pkg/internal/ingest"
	"github.com/yeisme/fitsvault/pkg/internal/model"
	"github.com/yeisme/fitsvault/pkg/internal/service"
	"github.com/yeisme/fitsvault/pkg/internal/storage"
	"github.com/yeisme/fitsvault/pkg/internal/worker"
	"github.com/yeisme/fitsvault/pkg/internal/workqueue"
)

// ingestFlags ingest 入队参数.
type ingestFlags struct {
	path     string
	force    bool
	forceMD5 bool
	noDefer  bool
	all      bool
	prefix   string
}

var (
	ingestOpts  ingestFlags
	destination string
	forcePrev   bool

	enqueueCmd = &cobra.Command{
		Use:   "enqueue",
		Short: "add entries to a work queue",
	}

	enqueueIngestCmd = &cobra.Command{
		Use:   "ingest [filename...]",
		Short: "queue files on storage for ingest",
		RunE: withManager(func(ctx context.Context, cmd *cobra.Command, cfg *configs.AppConfig, mgr *storage.Manager, args []string) error {
			names := args

			if ingestOpts.all || ingestOpts.prefix != "" {
				infos, err := mgr.GetBlobStore().List(ctx, ingestOpts.path, ingestOpts.prefix)
				if err != nil {
					return fmt.Errorf("list %q: %w", ingestOpts.path, err)
				}

				for _, info := range infos {
					names = append(names, info.Name)
				}
			}

			if len(names) == 0 {
				return fmt.Errorf("no files given, pass filenames or --all/--prefix")
			}

			d := worker.DepsFrom(mgr, cfg, "cli")
			enq := ingest.NewEnqueuer(d.DB, d.Store, cfg.Queue.IngestDelay, d.QueueOptions...)

			for _, name := range names {
				added, err := enq.Add(ctx, ingest.Request{
					Filename: name,
					Path:     ingestOpts.path,
					Force:    ingestOpts.force,
					ForceMD5: ingestOpts.forceMD5,
					NoDefer:  ingestOpts.noDefer,
				})
				if err != nil {
					return fmt.Errorf("enqueue %s: %w", name, err)
				}

				report(cmd.OutOrStdout(), name, added)
			}

			return nil
		}),
	}

	enqueueExportCmd = &cobra.Command{
		Use:   "export <filename...>",
		Short: "queue canonical files for export to a configured destination",
		Args:  cobra.MinimumNArgs(1),
		RunE: withManager(func(ctx context.Context, cmd *cobra.Command, cfg *configs.AppConfig, mgr *storage.Manager, args []string) error {
			dest, ok := cfg.Export.Destination(destination)
			if !ok {
				return fmt.Errorf("export destination %q is not configured", destination)
			}

			d := worker.DepsFrom(mgr, cfg, "cli")
			svc := service.New(d.DB, d.Store, cfg)
			q := workqueue.New[model.ExportQueueEntry](d.DB, d.QueueOptions...)

			for _, name := range args {
				df, _, err := svc.Canonical(ctx, blob.TrimCompressed(name))
				if err != nil {
					return err
				}

				added, err := q.Enqueue(ctx, workqueue.NewExportEntry(df.Filename, df.Path, dest.URL, dest.Priority))
				if err != nil {
					return fmt.Errorf("enqueue %s: %w", name, err)
				}

				report(cmd.OutOrStdout(), df.Filename, added)
			}

			return nil
		}),
	}

	enqueuePreviewCmd = &cobra.Command{
		Use:   "preview <filename...>",
		Short: "queue preview rendering for canonical files",
		Args:  cobra.MinimumNArgs(1),
		RunE: withManager(func(ctx context.Context, cmd *cobra.Command, cfg *configs.AppConfig, mgr *storage.Manager, args []string) error {
			d := worker.DepsFrom(mgr, cfg, "cli")
			svc := service.New(d.DB, d.Store, cfg)
			q := workqueue.New[model.PreviewQueueEntry](d.DB, d.QueueOptions...)

			for _, name := range args {
				df, _, err := svc.Canonical(ctx, blob.TrimCompressed(name))
				if err != nil {
					return err
				}

				added, err := q.Enqueue(ctx, workqueue.NewPreviewEntry(df.ID, df.Filename, forcePrev))
				if err != nil {
					return fmt.Errorf("enqueue %s: %w", name, err)
				}

				report(cmd.OutOrStdout(), df.Filename, added)
			}

			return nil
		}),
	}

	enqueueCalCacheCmd = &cobra.Command{
		Use:   "calcache <filename...>",
		Short: "queue calibration association refresh for canonical files",
		Args:  cobra.MinimumNArgs(1),
		RunE: withManager(func(ctx context.Context, cmd *cobra.Command, cfg *configs.AppConfig, mgr *storage.Manager, args []string) error {
			d := worker.DepsFrom(mgr, cfg, "cli")
			svc := service.New(d.DB, d.Store, cfg)
			q := workqueue.New[model.CalCacheQueueEntry](d.DB, d.QueueOptions...)

			for _, name := range args {
				df, h, err := svc.Canonical(ctx, blob.TrimCompressed(name))
				if err != nil {
					return err
				}

				if h.ID == 0 {
					return fmt.Errorf("%s has no header", name)
				}

				added, err := q.Enqueue(ctx, workqueue.NewCalCacheEntry(h.ID, df.Filename))
				if err != nil {
					return fmt.Errorf("enqueue %s: %w", name, err)
				}

				report(cmd.OutOrStdout(), df.Filename, added)
			}

			return nil
		}),
	}
)

// managerFunc 在已连接存储的上下文中执行的命令体.
type managerFunc func(ctx context.Context, cmd *cobra.Command, cfg *configs.AppConfig, mgr *storage.Manager, args []string) error

// withManager 为命令加载配置并连接存储，结束后关闭连接.
func withManager(fn managerFunc) func(cmd *cobra.Command, args []string) error {
	return func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		cfg, mgr, err := bootstrap(ctx)
		if err != nil {
			return err
		}
		defer mgr.Close()

		return fn(ctx, cmd, cfg, mgr, args)
	}
}

func report(w io.Writer, name string, added bool) {
	if added {
		fmt.Fprintf(w, "%s: queued\n", name)
		return
	}

	fmt.Fprintf(w, "%s: already queued\n", name)
}

// registerEnqueueCommands 注册入队命令.
func registerEnqueueCommands() {
	f := enqueueIngestCmd.Flags()
	f.StringVar(&ingestOpts.path, "path", "", "directory under the storage root")
	f.BoolVar(&ingestOpts.force, "force", false, "re-ingest even if the md5 is unchanged")
	f.BoolVar(&ingestOpts.forceMD5, "force-md5", false, "ignore lastmod and always compute the md5")
	f.BoolVar(&ingestOpts.noDefer, "no-defer", false, "skip the ingest delay window")
	f.BoolVar(&ingestOpts.all, "all", false, "queue every file under --path")
	f.StringVar(&ingestOpts.prefix, "prefix", "", "queue files under --path whose name starts with prefix")

	enqueueExportCmd.Flags().StringVarP(&destination, "destination", "d", "", "destination archive URL")
	_ = enqueueExportCmd.MarkFlagRequired("destination")

	enqueuePreviewCmd.Flags().BoolVar(&forcePrev, "force", false, "re-render existing previews")

	enqueueCmd.AddCommand(enqueueIngestCmd, enqueueExportCmd, enqueuePreviewCmd, enqueueCalCacheCmd)
	rootCmd.AddCommand(enqueueCmd)
}
