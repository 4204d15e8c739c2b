package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/sells-group/entity-enrich/internal/metrics"
	"github.com/sells-group/entity-enrich/internal/pipeline"
	"github.com/sells-group/entity-enrich/internal/schedule"
)

var scheduleInterval time.Duration

var scheduleCmd = &cobra.Command{
	Use:   "schedule",
	Short: "Run enrichment on a fixed interval until interrupted",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if err := cfg.Validate("schedule"); err != nil {
			return err
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		p := pipeline.New(cfg, st, metrics.New(prometheus.NewRegistry()), nil)
		files := p.DefaultFiles()

		interval := scheduleInterval
		if interval <= 0 {
			interval = cfg.Schedule.Interval()
		}

		s := schedule.New(interval, func(ctx context.Context) error {
			result, err := p.RunFile(ctx, files)
			if err != nil {
				return err
			}
			logStages(result)
			return nil
		})
		s.Run(ctx)
		return nil
	},
}

func init() {
	scheduleCmd.Flags().DurationVar(&scheduleInterval, "interval", 0, "time between runs (default from config)")
	rootCmd.AddCommand(scheduleCmd)
}
