package drivers

import (
	"strings"

	"github.com/JonMunkholm/cycler/internal/core"
)

const (
	maccorTodayPrefix = "Today's Date"
	maccorStateCol    = "State"
	maccorDischarge   = "D"
	minutesSuffix     = "(Min)"
)

// maccorMapping is shared by the text and Excel exports.
var maccorMapping = core.ColumnMapping{
	"Rec#":       core.ColSampleNo,
	"Cyc#":       core.ColCycleNo,
	"Step":       core.ColStepNo,
	"Test (Sec)": core.ColTestTime,
	"Test (Min)": core.ColTestTime,
	"Step (Sec)": core.ColStepTime,
	"Step (Min)": core.ColStepTime,
	"Amp-hr":     core.ColCapacity,
	"Watt-hr":    core.ColEnergy,
	"Amps":       core.ColAmps,
	"Volts":      core.ColVolts,
	"State":      core.ColState,
	"Temp 1":     core.ColTemperature,
}

// parseMaccorTitle reads the metadata cells of the first line of a Maccor
// export. A cell is either "key: value" or a bare "key:" whose value sits in
// the next cell. "Date of Test" is parsed to a time when possible.
func parseMaccorTitle(cells []string) core.Metadata {
	meta := core.Metadata{}
	for i := 0; i < len(cells); i++ {
		cell := strings.TrimSpace(cells[i])
		if cell == "" {
			continue
		}
		var key, value string
		if strings.HasPrefix(cell, maccorTodayPrefix) {
			key = maccorTodayPrefix
			value = strings.TrimLeft(strings.TrimPrefix(cell, maccorTodayPrefix), ": ")
		} else if k, v, ok := strings.Cut(cell, ":"); ok {
			key, value = strings.TrimSpace(k), strings.TrimSpace(v)
		} else {
			continue
		}
		if value == "" && i+1 < len(cells) {
			i++
			value = strings.TrimSpace(cells[i])
		}
		meta[key] = value
	}
	if s, ok := meta[core.MetaTestStartDate].(string); ok {
		if t, err := core.ParseDate(s); err == nil {
			meta[core.MetaTestStartDate] = t
		}
	}
	return meta
}

// isMaccorTitle reports whether cells look like a Maccor export's first line.
func isMaccorTitle(cells []string) bool {
	if len(cells) < 2 || !strings.HasPrefix(strings.TrimSpace(cells[0]), maccorTodayPrefix) {
		return false
	}
	for _, c := range cells[1:] {
		if strings.HasPrefix(strings.TrimSpace(c), core.MetaTestStartDate) {
			return true
		}
	}
	return false
}

// catalogBuilder tracks which header columns have data.
type catalogBuilder struct {
	header  []string
	hasData []bool
}

func newCatalogBuilder(header []string) *catalogBuilder {
	clean := make([]string, len(header))
	for i, h := range header {
		clean[i] = core.CleanCell(h)
	}
	return &catalogBuilder{header: clean, hasData: make([]bool, len(header))}
}

func (b *catalogBuilder) add(cells []string) {
	for i := range b.hasData {
		if i < len(cells) && core.CleanCell(cells[i]) != "" {
			b.hasData[i] = true
		}
	}
}

func (b *catalogBuilder) catalog() core.ColumnCatalog {
	c := make(core.ColumnCatalog, len(b.header))
	for i, h := range b.header {
		if h == "" {
			continue
		}
		// Duplicate headers: keep whichever copy has data.
		c[h] = core.ColumnInfo{HasData: c[h].HasData || b.hasData[i]}
	}
	return c
}

// rowBuilder turns data cells into raw rows for a fetch mapping.
// Maccor conventions apply when the header has them: amps are negated on
// discharge rows and minute columns are converted to seconds.
type rowBuilder struct {
	fields   []fetchField
	stateIdx int
}

type fetchField struct {
	idx     int
	std     string
	minutes bool
}

func newRowBuilder(header []string, fetch core.ColumnMapping) *rowBuilder {
	b := &rowBuilder{stateIdx: -1}
	seen := make(map[string]bool)
	for i, h := range header {
		h = core.CleanCell(h)
		if h == maccorStateCol && b.stateIdx < 0 {
			b.stateIdx = i
		}
		std, ok := fetch[h]
		if !ok || seen[h] {
			continue
		}
		seen[h] = true
		b.fields = append(b.fields, fetchField{idx: i, std: std, minutes: strings.HasSuffix(h, minutesSuffix)})
	}
	return b
}

func (b *rowBuilder) build(cells []string) core.RawRow {
	row := make(core.RawRow, len(b.fields))
	discharge := b.stateIdx >= 0 && b.stateIdx < len(cells) && core.CleanCell(cells[b.stateIdx]) == maccorDischarge

	for _, f := range b.fields {
		if _, set := row[f.std]; set && f.minutes {
			continue
		}
		var cell string
		if f.idx < len(cells) {
			cell = cells[f.idx]
		}
		v := core.ParseNumericCell(cell)
		if f.minutes {
			if m, err := core.ToFloat(v); err == nil {
				v = m * 60
			}
		}
		if f.std == core.ColAmps && discharge {
			v = negate(v)
		}
		row[f.std] = v
	}
	return row
}

func negate(v any) any {
	switch x := v.(type) {
	case int64:
		return -x
	case float64:
		return -x
	}
	return v
}
