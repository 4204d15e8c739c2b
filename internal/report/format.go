package report

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/entity-enrich/internal/model"
)

// Output formats.
const (
	FormatTable = "table"
	FormatCSV   = "csv"
	FormatJSON  = "json"
	FormatYAML  = "yaml"
)

// Formats lists the supported output formats.
var Formats = []string{FormatTable, FormatCSV, FormatJSON, FormatYAML}

var header = []string{"attribute", "non_missing", "missing", "completeness"}

// Write renders r to w in the given format.
func Write(w io.Writer, r *model.CompletenessReport, format string) error {
	switch format {
	case FormatTable, "":
		return writeTable(w, r)
	case FormatCSV:
		return writeCSV(w, r)
	case FormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return eris.Wrap(enc.Encode(r), "report: encode json")
	case FormatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(r); err != nil {
			return eris.Wrap(err, "report: encode yaml")
		}
		return eris.Wrap(enc.Close(), "report: close yaml encoder")
	default:
		return eris.Errorf("report: unknown format %q (want one of %v)", format, Formats)
	}
}

func writeTable(out io.Writer, r *model.CompletenessReport) error {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ATTRIBUTE\tNON_MISSING\tMISSING\tCOMPLETENESS")
	_, _ = fmt.Fprintln(w, "---------\t-----------\t-------\t------------")
	for _, row := range r.Rows {
		_, _ = fmt.Fprintf(w, "%s\t%d\t%d\t%.2f%%\n", row.Attribute, row.NonMissing, row.Missing, row.Completeness)
	}
	_, _ = fmt.Fprintf(w, "Total rows:\t%d\n", r.Total)
	return eris.Wrap(w.Flush(), "report: flush table")
}

func writeCSV(out io.Writer, r *model.CompletenessReport) error {
	w := csv.NewWriter(out)
	records := [][]string{header}
	for _, row := range r.Rows {
		records = append(records, []string{
			row.Attribute,
			strconv.Itoa(row.NonMissing),
			strconv.Itoa(row.Missing),
			strconv.FormatFloat(row.Completeness, 'f', 2, 64),
		})
	}
	return eris.Wrap(w.WriteAll(records), "report: write csv")
}

// DailyPath returns <dir>/summary_stats_YYYY_MM_DD.csv for day.
func DailyPath(dir string, day time.Time) string {
	return filepath.Join(dir, "summary_stats_"+day.Format("2006_01_02")+".csv")
}

// SaveDaily writes r as CSV to the daily summary file, replacing any earlier
// report from the same day.
func SaveDaily(dir string, r *model.CompletenessReport, day time.Time) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", eris.Wrapf(err, "report: create dir %s", dir)
	}
	path := DailyPath(dir, day)
	f, err := os.Create(path)
	if err != nil {
		return "", eris.Wrapf(err, "report: create %s", path)
	}
	if err := writeCSV(f, r); err != nil {
		_ = f.Close()
		return "", err
	}
	if err := f.Close(); err != nil {
		return "", eris.Wrapf(err, "report: close %s", path)
	}
	return path, nil
}
