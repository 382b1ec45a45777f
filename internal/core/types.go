package core

import (
	"sort"
	"strings"
)

// FormatTag labels one facet of a detected file format (vendor or encoding).
type FormatTag string

const (
	TagMaccor FormatTag = "MACCOR"
	TagIvium  FormatTag = "IVIUM"
	TagCSV    FormatTag = "CSV"
	TagTSV    FormatTag = "TSV"
	TagExcel  FormatTag = "EXCEL"
	TagText   FormatTag = "TXT"
)

// TagSet is an immutable set of format tags.
// The zero value is the empty set, which Identify returns for files that are
// recognized but carry no time-series data.
type TagSet struct {
	tags []FormatTag // sorted, unique
}

// NewTagSet builds a TagSet from the given tags.
func NewTagSet(tags ...FormatTag) TagSet {
	seen := make(map[FormatTag]bool, len(tags))
	out := make([]FormatTag, 0, len(tags))
	for _, t := range tags {
		if t == "" || seen[t] {
			continue
		}
		seen[t] = true
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return TagSet{tags: out}
}

// Has reports whether tag is in the set.
func (s TagSet) Has(tag FormatTag) bool {
	for _, t := range s.tags {
		if t == tag {
			return true
		}
	}
	return false
}

// Contains reports whether every tag of other is in s.
func (s TagSet) Contains(other TagSet) bool {
	for _, t := range other.tags {
		if !s.Has(t) {
			return false
		}
	}
	return true
}

// Equal reports whether both sets hold the same tags.
func (s TagSet) Equal(other TagSet) bool {
	return len(s.tags) == len(other.tags) && s.Contains(other)
}

// Empty reports whether the set has no tags.
func (s TagSet) Empty() bool {
	return len(s.tags) == 0
}

// Tags returns a copy of the tags in sorted order.
func (s TagSet) Tags() []FormatTag {
	return append([]FormatTag(nil), s.tags...)
}

func (s TagSet) String() string {
	parts := make([]string, len(s.tags))
	for i, t := range s.tags {
		parts[i] = string(t)
	}
	return "{" + strings.Join(parts, ",") + "}"
}

// ColumnInfo describes a native column found in a file.
type ColumnInfo struct {
	HasData bool `json:"has_data"`
}

// ColumnCatalog maps native column names to their availability.
// Produced once per opened file by a driver's metadata load.
type ColumnCatalog map[string]ColumnInfo

// Available returns the native columns that contain data, sorted.
func (c ColumnCatalog) Available() []string {
	out := make([]string, 0, len(c))
	for name, info := range c {
		if info.HasData {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}

// ColumnMapping maps native column names to standard column names.
type ColumnMapping map[string]string

// Clone returns an independent copy of the mapping.
func (m ColumnMapping) Clone() ColumnMapping {
	out := make(ColumnMapping, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// Codomain returns the distinct standard names the mapping produces, sorted.
func (m ColumnMapping) Codomain() []string {
	seen := make(map[string]bool, len(m))
	out := make([]string, 0, len(m))
	for _, std := range m {
		if !seen[std] {
			seen[std] = true
			out = append(out, std)
		}
	}
	sort.Strings(out)
	return out
}

// Overrides maps standard column names to the native column that must supply them.
// An empty native name is a null entry and is ignored.
type Overrides map[string]string

// Metadata holds file-level values read by a driver.
type Metadata map[string]any

// Well-known metadata keys.
const (
	MetaTestStartDate = "Date of Test"
	MetaExperimentID  = "experiment_id"
)

// Merge returns a copy of m with extra applied on top.
func (m Metadata) Merge(extra Metadata) Metadata {
	out := make(Metadata, len(m)+len(extra))
	for k, v := range m {
		out[k] = v
	}
	for k, v := range extra {
		out[k] = v
	}
	return out
}

// RawRow is one data row from a driver, keyed by standard column name.
// Values are float64, int64, string, time.Time or nil.
type RawRow map[string]any

// Row is one normalized output row. A nil entry is the null marker.
type Row []any

// RawRows is a lazy, ordered sequence of raw rows produced by a driver.
// Close must release every resource and is safe to call more than once.
type RawRows interface {
	Next() bool
	Row() RawRow
	Err() error
	Close() error
}

// Rows is a lazy sequence of normalized rows.
type Rows interface {
	Next() bool
	Row() Row
	Err() error
	Close() error
	// Columns returns the standard column names in output order.
	Columns() []string
}
