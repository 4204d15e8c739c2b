package model

// TrackedAttributes are the enriched columns measured by the completeness report.
var TrackedAttributes = []string{ColLEI, ColIndustry, ColEmployees, ColEntityType}

// AttributeCompleteness is one row of the completeness report.
type AttributeCompleteness struct {
	Attribute    string  `json:"attribute" yaml:"attribute"`
	NonMissing   int     `json:"non_missing" yaml:"non_missing"`
	Missing      int     `json:"missing" yaml:"missing"`
	Completeness float64 `json:"completeness" yaml:"completeness"`
}

// CompletenessReport summarizes how many rows carry a value for each tracked attribute.
type CompletenessReport struct {
	Total int                     `json:"total" yaml:"total"`
	Rows  []AttributeCompleteness `json:"rows" yaml:"rows"`
}

// Attribute returns the row for name, if present.
func (r *CompletenessReport) Attribute(name string) (AttributeCompleteness, bool) {
	for _, row := range r.Rows {
		if row.Attribute == name {
			return row, true
		}
	}
	return AttributeCompleteness{}, false
}
