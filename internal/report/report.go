// Package report computes and renders per-attribute completeness of an
// enriched dataset.
package report

import (
	"math"

	"github.com/sells-group/entity-enrich/internal/model"
)

// Completeness counts, for each tracked attribute, how many rows hold a real
// value. Sentinels count as missing. Percentages are rounded to 2 decimals.
func Completeness(ds *model.Dataset) *model.CompletenessReport {
	total := ds.Len()
	r := &model.CompletenessReport{Total: total}

	for _, attr := range model.TrackedAttributes {
		present := 0
		for i := range ds.Records {
			if !model.IsMissing(value(&ds.Records[i], attr)) {
				present++
			}
		}
		r.Rows = append(r.Rows, model.AttributeCompleteness{
			Attribute:    attr,
			NonMissing:   present,
			Missing:      total - present,
			Completeness: percent(present, total),
		})
	}
	return r
}

func value(rec *model.CompanyRecord, attr string) *string {
	switch attr {
	case model.ColLEI:
		return rec.LEI
	case model.ColIndustry:
		return rec.IndustryClassification
	case model.ColEmployees:
		return rec.EmployeeCount
	case model.ColEntityType:
		return rec.EntityType
	default:
		return nil
	}
}

func percent(n, total int) float64 {
	if total == 0 {
		return 0
	}
	return math.Round(float64(n)/float64(total)*10000) / 100
}
