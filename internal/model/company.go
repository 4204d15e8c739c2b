package model

import (
	"strings"

	"github.com/sells-group/entity-enrich/internal/normalize"
)

// Unknown is the sentinel written for firmographic fields that could not be resolved.
const Unknown = "N/A"

// Canonical column names used for load, save and completeness reporting.
const (
	ColEntityName          = "entity_name"
	ColCleanedName         = "cleaned_entity_name"
	ColLEI                 = "lei"
	ColEntityType          = "entity_type"
	ColIndustry            = "industry_classification"
	ColEmployees           = "n_employees"
	ColFirmographicsSource = "firmographics_source"
)

// CompanyRecord is one row of the dataset. Identity is its position.
type CompanyRecord struct {
	RawName                string            `json:"entity_name"`
	NormalizedName         string            `json:"cleaned_entity_name"`
	LEI                    *string           `json:"lei"`
	EntityType             *string           `json:"entity_type"`
	IndustryClassification *string           `json:"industry_classification"`
	EmployeeCount          *string           `json:"n_employees"`
	FirmographicsSource    string            `json:"firmographics_source,omitempty"`
	Extra                  map[string]string `json:"extra,omitempty"`
}

// NewCompanyRecord builds a record with its normalized name derived from raw.
func NewCompanyRecord(raw string) CompanyRecord {
	var r CompanyRecord
	r.SetRawName(raw)
	return r
}

// SetRawName replaces the raw name and recomputes the normalized name.
func (r *CompanyRecord) SetRawName(raw string) {
	r.RawName = raw
	r.NormalizedName = normalize.Name(raw)
}

// NeedsLEI reports whether the row has no identifier yet and can be looked up.
func (r *CompanyRecord) NeedsLEI() bool {
	return IsMissing(r.LEI) && r.NormalizedName != ""
}

// FirmographicsComplete reports whether all three firmographic fields hold real values.
func (r *CompanyRecord) FirmographicsComplete() bool {
	return !IsMissing(r.EntityType) && !IsMissing(r.IndustryClassification) && !IsMissing(r.EmployeeCount)
}

// MergeLEI fills the identifier only if it is still missing. Returns true if filled.
func (r *CompanyRecord) MergeLEI(lei *string) bool {
	if !IsMissing(r.LEI) || IsMissing(lei) {
		return false
	}
	v := *lei
	r.LEI = &v
	return true
}

// MergeFirmographics fills each missing firmographic field from f, leaving
// already-populated fields untouched. Unresolved fields become the Unknown
// sentinel. Returns the number of fields that received a real value.
func (r *CompanyRecord) MergeFirmographics(f Firmographics) int {
	filled := 0
	for _, pair := range []struct {
		dst **string
		val string
	}{
		{&r.EntityType, f.EntityType},
		{&r.IndustryClassification, f.IndustryClassification},
		{&r.EmployeeCount, f.EmployeeCount},
	} {
		if !IsMissing(*pair.dst) {
			continue
		}
		v := pair.val
		if isSentinel(v) {
			v = Unknown
		} else {
			filled++
		}
		*pair.dst = &v
	}
	if filled > 0 && f.Source != "" {
		r.FirmographicsSource = f.Source
	}
	return filled
}

// Dataset is the ordered collection of records for one run.
type Dataset struct {
	// Columns is the source header, lower-cased, in file order.
	Columns []string        `json:"columns"`
	Records []CompanyRecord `json:"records"`
}

// Len returns the number of rows.
func (d *Dataset) Len() int {
	return len(d.Records)
}

// Firmographics is the fixed-shape result of a firmographics lookup.
type Firmographics struct {
	EntityType             string `json:"entity_type"`
	IndustryClassification string `json:"industry_classification"`
	EmployeeCount          string `json:"n_employees"`
	Source                 string `json:"source,omitempty"`
}

// Firmographics sources.
const (
	SourcePrimary  = "primary"
	SourceFallback = "fallback"
)

// UnknownFirmographics returns the all-unknown record.
func UnknownFirmographics() Firmographics {
	return Firmographics{
		EntityType:             Unknown,
		IndustryClassification: Unknown,
		EmployeeCount:          Unknown,
	}
}

// OrUnknown returns s, or the Unknown sentinel if s is blank.
func OrUnknown(s string) string {
	if strings.TrimSpace(s) == "" {
		return Unknown
	}
	return s
}

// IsMissing reports whether v is nil or holds a missing-value sentinel.
func IsMissing(v *string) bool {
	return v == nil || isSentinel(*v)
}

func isSentinel(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "n/a", "na", "unknown", "nan", "null", "none":
		return true
	}
	return false
}

// StringPtr returns a pointer to s.
func StringPtr(s string) *string {
	return &s
}

// Deref returns the pointed-to string or "".
func Deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
