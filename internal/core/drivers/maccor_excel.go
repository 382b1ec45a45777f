package drivers

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/extrame/xls"
	"github.com/xuri/excelize/v2"

	"github.com/JonMunkholm/cycler/internal/core"
)

// maccorExcel reads Maccor exports saved as workbooks. The first sheet has the
// same layout as the text export: metadata row, header row, data rows.
// Detection is by extension only.
type maccorExcel struct{}

func (maccorExcel) Name() string         { return "maccor_excel" }
func (maccorExcel) Priority() int        { return 30 }
func (maccorExcel) Tags() core.TagSet    { return core.NewTagSet(core.TagMaccor, core.TagExcel) }
func (maccorExcel) Extensions() []string { return []string{".xlsx", ".xls"} }
func (maccorExcel) Detect(string) bool   { return true }

func (maccorExcel) ColumnMapping() core.ColumnMapping { return maccorMapping.Clone() }

// sheetReader iterates the first sheet of a workbook row by row.
type sheetReader interface {
	Read() ([]string, error)
	Close() error
}

// openBIFF opens legacy .xls workbooks. Tests replace it.
var openBIFF = openBIFFSheet

func openSheet(path string) (sheetReader, error) {
	if strings.EqualFold(filepath.Ext(path), ".xls") {
		return openBIFF(path)
	}
	return openXLSXSheet(path)
}

type xlsxSheet struct {
	file *excelize.File
	rows *excelize.Rows
}

func openXLSXSheet(path string) (sheetReader, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("open workbook: %w", err)
	}
	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		f.Close()
		return nil, &core.ParseError{Path: path, Err: errors.New("workbook has no sheets")}
	}
	rows, err := f.Rows(sheets[0])
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("read sheet %q: %w", sheets[0], err)
	}
	return &xlsxSheet{file: f, rows: rows}, nil
}

func (s *xlsxSheet) Read() ([]string, error) {
	if !s.rows.Next() {
		if err := s.rows.Error(); err != nil {
			return nil, err
		}
		return nil, io.EOF
	}
	return s.rows.Columns()
}

func (s *xlsxSheet) Close() error {
	return errors.Join(s.rows.Close(), s.file.Close())
}

// biffSheet reads the first sheet of a BIFF workbook. The sheet is parsed
// into memory on open; BIFF8 caps a sheet at 65536 rows.
type biffSheet struct {
	file  *os.File
	sheet *xls.WorkSheet
	next  int
	last  int
}

func openBIFFSheet(path string) (_ sheetReader, err error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open workbook: %w", err)
	}
	// The xls reader panics on some malformed compound documents.
	defer func() {
		if r := recover(); r != nil {
			f.Close()
			err = &core.ParseError{Path: path, Err: fmt.Errorf("malformed xls workbook: %v", r)}
		}
	}()

	wb, err := xls.OpenReader(f, "utf-8")
	if err != nil {
		f.Close()
		return nil, &core.ParseError{Path: path, Err: fmt.Errorf("open xls workbook: %w", err)}
	}
	if wb == nil {
		f.Close()
		return nil, &core.ParseError{Path: path, Err: errors.New("no workbook stream in compound document")}
	}
	sheet := wb.GetSheet(0)
	if sheet == nil {
		f.Close()
		return nil, &core.ParseError{Path: path, Err: errors.New("workbook has no sheets")}
	}
	return &biffSheet{file: f, sheet: sheet, last: int(sheet.MaxRow)}, nil
}

func (s *biffSheet) Read() ([]string, error) {
	if s.next > s.last {
		return nil, io.EOF
	}
	i := s.next
	s.next++
	return biffRow(s.sheet, i), nil
}

// biffRow returns the cells of row i. Rows with no cells are absent from the
// sheet and come back empty.
func biffRow(sheet *xls.WorkSheet, i int) (rec []string) {
	defer func() {
		if recover() != nil {
			rec = []string{}
		}
	}()
	row := sheet.Row(i)
	rec = make([]string, row.LastCol())
	for j := range rec {
		rec[j] = row.Col(j)
	}
	return rec
}

func (s *biffSheet) Close() error {
	return s.file.Close()
}

func (d maccorExcel) preamble(path string, s sheetReader) (core.Metadata, []string, error) {
	title, err := s.Read()
	if err != nil {
		return nil, nil, &core.ParseError{Path: path, Line: 1, Err: err}
	}
	header, err := s.Read()
	if err != nil {
		return nil, nil, &core.ParseError{Path: path, Line: 2, Err: fmt.Errorf("missing column header: %w", err)}
	}
	return parseMaccorTitle(title), header, nil
}

func (d maccorExcel) LoadMetadata(path string) (core.Metadata, core.ColumnCatalog, error) {
	s, err := openSheet(path)
	if err != nil {
		return nil, nil, err
	}
	defer s.Close()

	meta, header, err := d.preamble(path, s)
	if err != nil {
		return nil, nil, err
	}

	cb := newCatalogBuilder(header)
	for i := 0; i < catalogSampleRows; i++ {
		rec, err := s.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, nil, &core.ParseError{Path: path, Line: i + 3, Err: err}
		}
		cb.add(rec)
	}
	return meta, cb.catalog(), nil
}

func (d maccorExcel) LoadData(ctx context.Context, path string, fetch core.ColumnMapping) (core.RawRows, error) {
	s, err := openSheet(path)
	if err != nil {
		return nil, err
	}
	_, header, err := d.preamble(path, s)
	if err != nil {
		s.Close()
		return nil, err
	}
	return &textRows{
		ctx:     ctx,
		path:    path,
		closer:  s,
		line:    2,
		read:    s.Read,
		builder: newRowBuilder(header, fetch),
	}, nil
}

func (maccorExcel) DataLabels(path string, available []string, mapping core.ColumnMapping) ([]string, error) {
	return core.Labels(available, mapping), nil
}
