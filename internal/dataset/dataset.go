// Package dataset loads and saves company spreadsheets in CSV and XLSX form.
package dataset

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/entity-enrich/internal/model"
)

// ErrMissingNameColumn is returned when the input has no entity_name column.
var ErrMissingNameColumn = eris.New("dataset: missing entity_name column")

// ErrUnsupportedFormat is returned for file extensions other than .csv and .xlsx.
var ErrUnsupportedFormat = eris.New("dataset: unsupported file format")

// columnAliases maps accepted input headers to their canonical column.
var columnAliases = map[string]string{
	"company_size": model.ColEmployees,
}

// OutputColumns are written first, in this order, followed by passthrough columns.
var OutputColumns = []string{
	model.ColEntityName,
	model.ColCleanedName,
	model.ColLEI,
	model.ColEntityType,
	model.ColIndustry,
	model.ColEmployees,
	model.ColFirmographicsSource,
}

// LoadOptions configures Load.
type LoadOptions struct {
	// Encoding is the CSV charset label (e.g. "windows-1252"). Empty means UTF-8.
	Encoding string
}

// Format returns "csv" or "xlsx" for path, based on its extension.
func Format(path string) (string, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv":
		return "csv", nil
	case ".xlsx":
		return "xlsx", nil
	default:
		return "", eris.Wrapf(ErrUnsupportedFormat, "dataset: %s", path)
	}
}

// Load reads a dataset from a CSV or XLSX file.
func Load(path string, opts LoadOptions) (*model.Dataset, error) {
	format, err := Format(path)
	if err != nil {
		return nil, err
	}

	var rows [][]string
	switch format {
	case "csv":
		f, err := os.Open(path)
		if err != nil {
			return nil, eris.Wrapf(err, "dataset: open %s", path)
		}
		defer f.Close() //nolint
		rows, err = readCSV(f, opts.Encoding)
		if err != nil {
			return nil, eris.Wrapf(err, "dataset: read %s", path)
		}
	case "xlsx":
		rows, err = readXLSX(path)
		if err != nil {
			return nil, eris.Wrapf(err, "dataset: read %s", path)
		}
	}

	return FromRows(rows)
}

// Save writes ds to path, creating parent directories. The format follows
// the extension.
func Save(ds *model.Dataset, path string) error {
	format, err := Format(path)
	if err != nil {
		return err
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return eris.Wrapf(err, "dataset: create dir %s", dir)
		}
	}

	rows := ToRows(ds)
	switch format {
	case "xlsx":
		return eris.Wrapf(writeXLSX(path, rows), "dataset: write %s", path)
	default:
		f, err := os.Create(path)
		if err != nil {
			return eris.Wrapf(err, "dataset: create %s", path)
		}
		if err := writeCSV(f, rows); err != nil {
			_ = f.Close()
			return eris.Wrapf(err, "dataset: write %s", path)
		}
		return eris.Wrapf(f.Close(), "dataset: close %s", path)
	}
}

// FromRows builds a dataset from a header row followed by data rows. Headers
// are matched case-insensitively. Blank rows between data rows are kept so
// the output lines up with the input; trailing blank rows are dropped.
func FromRows(rows [][]string) (*model.Dataset, error) {
	if len(rows) == 0 {
		return nil, eris.Wrap(ErrMissingNameColumn, "dataset: empty input")
	}

	header := make([]string, len(rows[0]))
	index := make(map[string]int, len(header))
	for i, h := range rows[0] {
		col := strings.ToLower(strings.TrimSpace(strings.TrimPrefix(h, "\ufeff")))
		if alias, ok := columnAliases[col]; ok {
			if _, taken := index[alias]; !taken {
				col = alias
			}
		}
		header[i] = col
		if _, dup := index[col]; !dup {
			index[col] = i
		}
	}
	if _, ok := index[model.ColEntityName]; !ok {
		return nil, ErrMissingNameColumn
	}

	body := rows[1:]
	for len(body) > 0 && blank(body[len(body)-1]) {
		body = body[:len(body)-1]
	}

	ds := &model.Dataset{Columns: header}
	for _, row := range body {
		cell := func(col string) (string, bool) {
			i, ok := index[col]
			if !ok || i >= len(row) {
				return "", false
			}
			return strings.TrimSpace(row[i]), true
		}
		optional := func(col string) *string {
			v, ok := cell(col)
			if !ok || v == "" {
				return nil
			}
			return model.StringPtr(v)
		}

		name, _ := cell(model.ColEntityName)
		rec := model.NewCompanyRecord(name)
		rec.LEI = optional(model.ColLEI)
		rec.EntityType = optional(model.ColEntityType)
		rec.IndustryClassification = optional(model.ColIndustry)
		rec.EmployeeCount = optional(model.ColEmployees)
		rec.FirmographicsSource, _ = cell(model.ColFirmographicsSource)

		for i, col := range header {
			if isOutputColumn(col) || col == "" || i >= len(row) {
				continue
			}
			if rec.Extra == nil {
				rec.Extra = make(map[string]string)
			}
			rec.Extra[col] = row[i]
		}
		ds.Records = append(ds.Records, rec)
	}
	return ds, nil
}

// ToRows renders ds as a header row followed by one row per record.
func ToRows(ds *model.Dataset) [][]string {
	extras := passthrough(ds.Columns)
	header := append(append([]string{}, OutputColumns...), extras...)

	rows := make([][]string, 0, ds.Len()+1)
	rows = append(rows, header)
	for _, rec := range ds.Records {
		row := []string{
			rec.RawName,
			rec.NormalizedName,
			model.Deref(rec.LEI),
			model.Deref(rec.EntityType),
			model.Deref(rec.IndustryClassification),
			model.Deref(rec.EmployeeCount),
			rec.FirmographicsSource,
		}
		for _, col := range extras {
			row = append(row, rec.Extra[col])
		}
		rows = append(rows, row)
	}
	return rows
}

func passthrough(columns []string) []string {
	var out []string
	seen := make(map[string]bool)
	for _, col := range columns {
		if col == "" || isOutputColumn(col) || seen[col] {
			continue
		}
		seen[col] = true
		out = append(out, col)
	}
	return out
}

func isOutputColumn(col string) bool {
	for _, c := range OutputColumns {
		if c == col {
			return true
		}
	}
	return false
}

func blank(row []string) bool {
	for _, c := range row {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}
