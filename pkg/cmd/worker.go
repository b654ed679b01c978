package cmd

import (
	"context"
	"fmt"
	"os/signal"
	"slices"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/yeisme/fitsvault/pkg/internal/model"
	"github.com/yeisme/fitsvault/pkg/internal/worker"
	"github.com/yeisme/fitsvault/pkg/internal/workqueue"
	"github.com/yeisme/fitsvault/pkg/log"
	"github.com/yeisme/fitsvault/pkg/metrics"
	"github.com/yeisme/fitsvault/pkg/queue"
	"github.com/yeisme/fitsvault/pkg/tracing"
)

var (
	// workers 并行消费循环数，0 表示使用配置.
	workers int
	// metricsAddr 覆盖 metrics.endpoint，同一主机上多个 worker 各用一个端口
	metricsAddr string

	workerCmd = &cobra.Command{
		Use:       "worker <ingest|export|preview|calcache|fileops>",
		Short:     "consume one work queue until SIGINT/SIGTERM",
		Args:      cobra.ExactArgs(1),
		ValidArgs: queueNames(),
		RunE: func(cmd *cobra.Command, args []string) error {
			name, err := parseQueue(args[0])
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			cfg, mgr, err := bootstrap(ctx)
			if err != nil {
				return err
			}
			defer mgr.Close()
			defer tracing.ShutdownTracer(context.WithoutCancel(ctx))

			if mcfg := cfg.Metrics; mcfg.Enabled {
				if metricsAddr != "" {
					mcfg.Endpoint = metricsAddr
				}

				if mcfg.Endpoint != "" {
					srv := metrics.StartMetricsServer(mcfg, nil)
					defer metrics.Shutdown(context.WithoutCancel(ctx), srv)
				}
			}

			consumer, err := worker.ForQueue(name, worker.DepsFrom(mgr, cfg, "worker-"+string(name)), cfg)
			if err != nil {
				return err
			}

			n := cfg.Queue.Workers
			if workers > 0 {
				n = workers
			}

			opts := []worker.Option{worker.WithWorkers(n), worker.WithPollInterval(cfg.Queue.PollInterval)}

			if mq := mgr.GetMQClient(); mq != nil && cfg.Events.QueueEnabled(string(name)) {
				wake, err := workqueue.Wakeups(ctx, mq, name)
				if err != nil {
					// 没有唤醒通知时退回轮询
					log.Logger().Warn().Err(err).Str("queue", string(name)).Msg("queue wakeups unavailable")
				} else {
					opts = append(opts, worker.WithWakeups(wake))
				}
			}

			return worker.NewSupervisor(consumer, opts...).Run(ctx)
		},
	}
)

func queueNames() []string {
	out := make([]string, 0, len(model.AllQueues))
	for _, q := range model.AllQueues {
		out = append(out, string(q))
	}

	return out
}

func parseQueue(s string) (model.QueueName, error) {
	if name, ok := queue.QueueOf(s); ok {
		s = name
	}

	if !slices.Contains(queueNames(), s) {
		return "", fmt.Errorf("unknown queue %q, expected one of %v", s, queueNames())
	}

	return model.QueueName(s), nil
}

// registerWorkerCommands 注册 worker 命令.
func registerWorkerCommands() {
	workerCmd.Flags().IntVarP(&workers, "workers", "w", 0, "parallel consumer loops (default from queue.workers)")
	workerCmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "listen address for /metrics (default from metrics.endpoint)")

	rootCmd.AddCommand(workerCmd)
}
