package main

import (
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/entity-enrich/internal/metrics"
	"github.com/sells-group/entity-enrich/internal/model"
	"github.com/sells-group/entity-enrich/internal/pipeline"
	"github.com/sells-group/entity-enrich/internal/report"
)

var (
	runInput        string
	runOutput       string
	runReportFormat string
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Enrich a dataset once and print its completeness report",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		if err := cfg.Validate("run"); err != nil {
			return err
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		p := pipeline.New(cfg, st, metrics.New(prometheus.NewRegistry()), nil)

		files := p.DefaultFiles()
		if runInput != "" {
			files.Input = runInput
		}
		if runOutput != "" {
			files.Output = runOutput
		}

		result, err := p.RunFile(ctx, files)
		if err != nil {
			return eris.Wrap(err, "run")
		}

		logStages(result)
		return report.Write(os.Stdout, result.Report, runReportFormat)
	},
}

func logStages(result *pipeline.Result) {
	for _, s := range result.Stages {
		zap.L().Info("stage summary",
			zap.String("run_id", result.RunID),
			zap.String("stage", s.Name),
			zap.String("status", string(s.Status)),
			zap.Int("requested", s.Requested),
			zap.Int("merged", s.Merged),
			zap.Int64("primary_hits", s.Primary),
			zap.Int64("fallback_hits", s.Fallback),
			zap.Bool("fallback_engaged", s.Engaged),
			zap.String("circuit_state", s.Circuit),
		)
	}
	if n := len(result.Failures); n > 0 {
		zap.L().Warn("lookups ended in a fault", zap.Int("count", n),
			zap.String("hint", "entity-enrich runs show "+result.RunID))
	}
	if row, ok := result.Report.Attribute(model.ColLEI); ok {
		zap.L().Info("lei completeness", zap.Float64("percent", row.Completeness))
	}
}

func init() {
	runCmd.Flags().StringVar(&runInput, "input", "", "input CSV or XLSX (default from config)")
	runCmd.Flags().StringVar(&runOutput, "output", "", "output CSV or XLSX (default from config)")
	runCmd.Flags().StringVar(&runReportFormat, "report-format", report.FormatTable, "report format: table, csv, json, yaml")
	rootCmd.AddCommand(runCmd)
}
