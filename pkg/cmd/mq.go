package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/yeisme/fitsvault/pkg/configs"
	"github.com/yeisme/fitsvault/pkg/internal/storage"
	mq "github.com/yeisme/fitsvault/pkg/internal/storage/mq"
	"github.com/yeisme/fitsvault/pkg/internal/workqueue"
	"github.com/yeisme/fitsvault/pkg/queue"
)

var (
	mqCmd = &cobra.Command{
		Use:   "mq",
		Short: "queue wakeup events",
	}

	mqTypesCmd = &cobra.Command{
		Use:     "types",
		Short:   "list event transports, the configured one starred",
		Aliases: []string{"list", "ls"},
		Run: func(cmd *cobra.Command, args []string) {
			var current string
			if cfg := loadConfig(); cfg != nil {
				current = string(cfg.MQ.Type)
			}

			for _, t := range mq.GetRegisteredMQTypes() {
				fmt.Fprintln(cmd.OutOrStdout(), mark(string(t), current))
			}
		},
	}

	notifyCount int

	mqNotifyCmd = &cobra.Command{
		Use:   "notify <queue>",
		Short: "wake the workers of a queue",
		Args:  cobra.ExactArgs(1),
		RunE: withEvents(func(ctx context.Context, cmd *cobra.Command, cfg *configs.AppConfig, client *mq.Client, args []string) error {
			name, err := parseQueue(args[0])
			if err != nil {
				return err
			}

			workqueue.NewMQNotifier(client, cfg.Events, "cli").NotifyCount(ctx, name, "", notifyCount)
			fmt.Fprintf(cmd.OutOrStdout(), "%s: notified (count=%d)\n", name, max(notifyCount, 1))

			return nil
		}),
	}

	mqListenCmd = &cobra.Command{
		Use:   "listen <queue>",
		Short: "print wakeups published for a queue until interrupted",
		Args:  cobra.ExactArgs(1),
		RunE: withEvents(func(ctx context.Context, cmd *cobra.Command, _ *configs.AppConfig, client *mq.Client, args []string) error {
			name, err := parseQueue(args[0])
			if err != nil {
				return err
			}

			msgs, err := client.Subscribe(ctx, queue.Topic(string(name)))
			if err != nil {
				return fmt.Errorf("subscribe %s: %w", name, err)
			}

			for m := range msgs {
				m.Ack()

				w, err := queue.Parse(m)
				if err != nil {
					fmt.Fprintf(cmd.ErrOrStderr(), "%s: %v\n", m.UUID, err)
					continue
				}

				fmt.Fprintf(cmd.OutOrStdout(), "%s %s target=%q producer=%s trace=%s\n",
					w.SentAt.Format(time.RFC3339), w.Queue, w.Target, w.Producer, w.TraceID)
			}

			return nil
		}),
	}
)

type eventsFunc func(ctx context.Context, cmd *cobra.Command, cfg *configs.AppConfig, client *mq.Client, args []string) error

func withEvents(fn eventsFunc) func(cmd *cobra.Command, args []string) error {
	return withManager(func(ctx context.Context, cmd *cobra.Command, cfg *configs.AppConfig, mgr *storage.Manager, args []string) error {
		client := mgr.GetMQClient()
		if client == nil {
			return fmt.Errorf("events are disabled, set events.enabled")
		}

		return fn(ctx, cmd, cfg, client, args)
	})
}

// registerMQCommands 注册 mq 子命令.
func registerMQCommands() {
	mqNotifyCmd.Flags().IntVarP(&notifyCount, "count", "n", 1, "number of new entries the wakeup stands for")

	mqCmd.AddCommand(mqTypesCmd, mqNotifyCmd, mqListenCmd)

	rootCmd.AddCommand(mqCmd)
}
