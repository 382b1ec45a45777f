package core

// convert.go turns raw cell values from instrument exports into numbers and
// timestamps. Cyclers write numbers with stray whitespace, thousands
// separators in Excel exports, and dates with two- or four-digit years.

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// numericRegex matches integers, decimals and scientific notation after cleanup.
var numericRegex = regexp.MustCompile(`^[+-]?(\d+(\.\d*)?|\.\d+)([eE][+-]?\d+)?$`)

// TwoDigitYearPivot: two-digit years landing more than this many years in the
// future are moved back a century.
var TwoDigitYearPivot = 20

var (
	fourDigitYearLayouts = []string{
		"01/02/2006 15:04:05",
		"1/2/2006 15:04:05",
		"1/2/2006 3:04:05 PM",
		"01/02/2006 15:04",
		"01/02/2006",
		"1/2/2006",
		"2006-01-02 15:04:05",
		"2006-01-02T15:04:05",
		"2006-01-02T15:04:05Z07:00",
		"2006-01-02",
		"2006/01/02 15:04:05",
		"2006/01/02",
	}
	twoDigitYearLayouts = []string{
		"01/02/06 15:04:05",
		"1/2/06 15:04:05",
		"01/02/06",
		"1/2/06",
	}
)

// ToFloat converts a raw cell value to float64.
func ToFloat(v any) (float64, error) {
	switch x := v.(type) {
	case float64:
		return x, nil
	case float32:
		return float64(x), nil
	case int:
		return float64(x), nil
	case int64:
		return float64(x), nil
	case int32:
		return float64(x), nil
	case string:
		return parseNumber(x)
	case []byte:
		return parseNumber(string(x))
	case nil:
		return 0, fmt.Errorf("invalid number: null value")
	default:
		return 0, fmt.Errorf("invalid number: unsupported type %T", v)
	}
}

func parseNumber(s string) (float64, error) {
	s = strings.TrimSpace(s)
	s = strings.ReplaceAll(s, ",", "")
	if !numericRegex.MatchString(s) {
		return 0, fmt.Errorf("invalid number: %q", s)
	}
	return strconv.ParseFloat(s, 64)
}

// ToInt converts a raw cell value to int64, truncating fractional floats.
func ToInt(v any) (int64, error) {
	switch x := v.(type) {
	case int64:
		return x, nil
	case int:
		return int64(x), nil
	case int32:
		return int64(x), nil
	}
	f, err := ToFloat(v)
	if err != nil {
		return 0, err
	}
	return int64(f), nil
}

// CleanCell trims whitespace and strips the ="..." wrapper spreadsheet
// exports put around values they want kept as text.
func CleanCell(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, `="`) && strings.HasSuffix(s, `"`) && len(s) >= 3 {
		s = s[2 : len(s)-1]
	}
	return strings.TrimSpace(s)
}

// ParseNumericCell returns nil for an empty cell, an int64 for integral text and
// a float64 otherwise. Non-numeric text is returned trimmed.
func ParseNumericCell(s string) any {
	s = CleanCell(s)
	if s == "" {
		return nil
	}
	if i, err := strconv.ParseInt(s, 10, 64); err == nil {
		return i
	}
	if f, err := parseNumber(s); err == nil {
		return f
	}
	return s
}

// ParseDate parses the timestamp formats cyclers write in file headers.
func ParseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, fmt.Errorf("invalid date: empty")
	}

	for _, layout := range fourDigitYearLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}

	pivot := time.Now().Year() + TwoDigitYearPivot
	for _, layout := range twoDigitYearLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			if t.Year() > pivot {
				t = t.AddDate(-100, 0, 0)
			}
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid date: %q", s)
}
