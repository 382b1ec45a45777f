package core

import (
	"bufio"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// fakeDriver reads a tiny comma-separated format used only in tests:
//
//	<magic>
//	<header>
//	<row>...
type fakeDriver struct {
	name     string
	magic    string
	priority int
	tags     TagSet
}

func init() {
	Register(fakeDriver{name: "fake_a", magic: "FAKE-A", priority: 1, tags: NewTagSet("FAKE", "A")})
	Register(fakeDriver{name: "fake_b", magic: "FAKE", priority: 2, tags: NewTagSet("FAKE", "B")})
}

func (d fakeDriver) Name() string         { return d.name }
func (d fakeDriver) Priority() int        { return d.priority }
func (d fakeDriver) Tags() TagSet         { return d.tags }
func (d fakeDriver) Extensions() []string { return []string{".cyc"} }

func (d fakeDriver) Detect(path string) bool {
	lines, err := readLines(path)
	return err == nil && len(lines) > 0 && strings.HasPrefix(lines[0], d.magic)
}

func (d fakeDriver) ColumnMapping() ColumnMapping {
	return ColumnMapping{"t": ColTestTime, "I": ColAmps, "V": ColVolts, "T1": ColTemperature}
}

func (d fakeDriver) LoadMetadata(path string) (Metadata, ColumnCatalog, error) {
	lines, err := readLines(path)
	if err != nil {
		return nil, nil, err
	}
	catalog := ColumnCatalog{}
	header := strings.Split(lines[1], ",")
	for i, h := range header {
		has := false
		for _, l := range lines[2:] {
			cells := strings.Split(l, ",")
			if i < len(cells) && cells[i] != "" {
				has = true
			}
		}
		catalog[h] = ColumnInfo{HasData: has}
	}
	return Metadata{MetaTestStartDate: "01/02/2020"}, catalog, nil
}

func (d fakeDriver) LoadData(ctx context.Context, path string, fetch ColumnMapping) (RawRows, error) {
	lines, err := readLines(path)
	if err != nil {
		return nil, err
	}
	header := strings.Split(lines[1], ",")
	var rows []RawRow
	for _, l := range lines[2:] {
		cells := strings.Split(l, ",")
		row := RawRow{}
		for i, h := range header {
			std, ok := fetch[h]
			if !ok {
				continue
			}
			row[std] = ParseNumericCell(cells[i])
		}
		rows = append(rows, row)
	}
	return &sliceRows{rows: rows}, nil
}

func (d fakeDriver) DataLabels(path string, available []string, mapping ColumnMapping) ([]string, error) {
	return Labels(available, mapping), nil
}

// sliceRows is an in-memory RawRows.
type sliceRows struct {
	rows   []RawRow
	i      int
	closed int
	err    error
}

func (s *sliceRows) Next() bool {
	if s.closed > 0 || s.i >= len(s.rows) {
		return false
	}
	s.i++
	return true
}

func (s *sliceRows) Row() RawRow { return s.rows[s.i-1] }
func (s *sliceRows) Err() error  { return s.err }
func (s *sliceRows) Close() error {
	s.closed++
	return nil
}

func readLines(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var lines []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		lines = append(lines, sc.Text())
	}
	return lines, sc.Err()
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}
	return path
}
