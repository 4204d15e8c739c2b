package main

import (
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/entity-enrich/internal/dataset"
	"github.com/sells-group/entity-enrich/internal/report"
)

var (
	reportInput  string
	reportFormat string
)

var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Print the completeness report of a dataset without enriching it",
	RunE: func(cmd *cobra.Command, args []string) error {
		if reportInput != "" {
			cfg.Input.Path = reportInput
		}
		if err := cfg.Validate("report"); err != nil {
			return err
		}

		ds, err := dataset.Load(cfg.Input.Path, dataset.LoadOptions{Encoding: cfg.Input.Encoding})
		if err != nil {
			return eris.Wrap(err, "report")
		}
		return report.Write(os.Stdout, report.Completeness(ds), reportFormat)
	},
}

func init() {
	reportCmd.Flags().StringVar(&reportInput, "input", "", "dataset to measure (default from config)")
	reportCmd.Flags().StringVar(&reportFormat, "format", report.FormatTable, "report format: table, csv, json, yaml")
	rootCmd.AddCommand(reportCmd)
}
