package drivers

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/JonMunkholm/cycler/internal/core"
)

const (
	iviumMarker      = "Ivium"
	iviumDataSection = "primary_data"
	iviumStartKey    = "start"
)

// iviumColumns are the columns of the primary data block, in file order.
var iviumColumns = []string{"time/s", "I/A", "E/V"}

var iviumMapping = core.ColumnMapping{
	"time/s": core.ColTestTime,
	"I/A":    core.ColAmps,
	"E/V":    core.ColVolts,
}

// iviumText reads IviumSoft text exports: key=value metadata lines up to a
// primary_data marker, then the column count, the row count and whitespace
// separated numeric rows.
type iviumText struct{}

func (iviumText) Name() string         { return "ivium_text" }
func (iviumText) Priority() int        { return 40 }
func (iviumText) Tags() core.TagSet    { return core.NewTagSet(core.TagIvium, core.TagText) }
func (iviumText) Extensions() []string { return []string{".txt"} }

func (iviumText) ColumnMapping() core.ColumnMapping { return iviumMapping.Clone() }

func (iviumText) Detect(path string) bool {
	f, err := os.Open(path)
	if err != nil {
		return false
	}
	defer f.Close()

	sc := bufio.NewScanner(core.NewTextReader(f))
	return sc.Scan() && strings.Contains(sc.Text(), iviumMarker)
}

// iviumHeader is everything before the first data row.
type iviumHeader struct {
	meta    core.Metadata
	columns []string
	points  int
	line    int
}

func readIviumHeader(path string, sc *bufio.Scanner) (*iviumHeader, error) {
	h := &iviumHeader{meta: core.Metadata{}}

	for sc.Scan() {
		h.line++
		text := strings.TrimSpace(sc.Text())
		if h.line == 1 || text == "" {
			continue
		}
		if text == iviumDataSection {
			return h, h.readCounts(path, sc)
		}
		if k, v, ok := strings.Cut(text, "="); ok {
			h.meta[strings.TrimSpace(k)] = strings.TrimSpace(v)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, &core.ParseError{Path: path, Line: h.line, Err: err}
	}
	return nil, &core.ParseError{Path: path, Line: h.line, Err: fmt.Errorf("no %s section", iviumDataSection)}
}

func (h *iviumHeader) readCounts(path string, sc *bufio.Scanner) error {
	counts := make([]int, 2)
	for i := range counts {
		if !sc.Scan() {
			return &core.ParseError{Path: path, Line: h.line + 1, Err: io.ErrUnexpectedEOF}
		}
		h.line++
		n, err := strconv.Atoi(strings.TrimSpace(sc.Text()))
		if err != nil {
			return &core.ParseError{Path: path, Line: h.line, Err: err}
		}
		counts[i] = n
	}

	ncols := counts[0]
	if ncols <= 0 || ncols > len(iviumColumns) {
		return &core.ParseError{Path: path, Line: h.line - 1, Err: fmt.Errorf("unsupported column count %d", ncols)}
	}
	h.columns = iviumColumns[:ncols]
	h.points = counts[1]

	if s, ok := h.meta[iviumStartKey].(string); ok {
		if t, err := core.ParseDate(s); err == nil {
			h.meta[core.MetaTestStartDate] = t
		}
	}
	h.meta["points"] = int64(h.points)
	return nil
}

func (iviumText) open(path string) (*os.File, *bufio.Scanner, *iviumHeader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, nil, err
	}
	sc := bufio.NewScanner(core.NewTextReader(f))
	h, err := readIviumHeader(path, sc)
	if err != nil {
		f.Close()
		return nil, nil, nil, err
	}
	return f, sc, h, nil
}

func (d iviumText) LoadMetadata(path string) (core.Metadata, core.ColumnCatalog, error) {
	f, _, h, err := d.open(path)
	if err != nil {
		return nil, nil, err
	}
	defer f.Close()

	catalog := make(core.ColumnCatalog, len(h.columns))
	for _, c := range h.columns {
		catalog[c] = core.ColumnInfo{HasData: h.points > 0}
	}
	if _, ok := h.meta["Title"]; !ok {
		h.meta["Title"] = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	return h.meta, catalog, nil
}

func (d iviumText) LoadData(ctx context.Context, path string, fetch core.ColumnMapping) (core.RawRows, error) {
	f, sc, h, err := d.open(path)
	if err != nil {
		return nil, err
	}

	remaining := h.points
	read := func() ([]string, error) {
		if remaining <= 0 {
			return nil, io.EOF
		}
		for sc.Scan() {
			fields := strings.Fields(sc.Text())
			if len(fields) == 0 {
				continue
			}
			if len(fields) < len(h.columns) {
				return nil, fmt.Errorf("expected %d values, got %d", len(h.columns), len(fields))
			}
			remaining--
			return fields, nil
		}
		if err := sc.Err(); err != nil {
			return nil, err
		}
		return nil, io.EOF
	}

	return &textRows{
		ctx:     ctx,
		path:    path,
		closer:  f,
		line:    h.line,
		read:    read,
		builder: newRowBuilder(h.columns, fetch),
	}, nil
}

func (iviumText) DataLabels(path string, available []string, mapping core.ColumnMapping) ([]string, error) {
	return core.Labels(available, mapping), nil
}
