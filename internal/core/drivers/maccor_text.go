package drivers

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/JonMunkholm/cycler/internal/core"
)

// maccorText reads Maccor delimited text exports. The first line holds
// "key: value" metadata cells, the second the column header.
type maccorText struct {
	delim    rune
	encoding core.FormatTag
	priority int
}

func newMaccorText(delim rune, encoding core.FormatTag, priority int) maccorText {
	return maccorText{delim: delim, encoding: encoding, priority: priority}
}

func (d maccorText) Name() string {
	return "maccor_text_" + strings.ToLower(string(d.encoding))
}

func (d maccorText) Priority() int { return d.priority }

func (d maccorText) Tags() core.TagSet { return core.NewTagSet(core.TagMaccor, d.encoding) }

func (d maccorText) Extensions() []string {
	if d.delim == ',' {
		return []string{".csv"}
	}
	return []string{".csv", ".txt"}
}

func (d maccorText) ColumnMapping() core.ColumnMapping { return maccorMapping.Clone() }

func (d maccorText) Detect(path string) bool {
	f, r, err := d.open(path)
	if err != nil {
		return false
	}
	defer f.Close()

	title, err := r.Read()
	return err == nil && isMaccorTitle(title)
}

func (d maccorText) open(path string) (*os.File, *csv.Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, err
	}
	r := csv.NewReader(core.NewTextReader(f))
	r.Comma = d.delim
	r.FieldsPerRecord = -1
	r.LazyQuotes = true
	r.ReuseRecord = true
	return f, r, nil
}

// readPreamble consumes the title and header lines.
func (d maccorText) readPreamble(path string, r *csv.Reader) (core.Metadata, []string, error) {
	title, err := r.Read()
	if err != nil {
		return nil, nil, &core.ParseError{Path: path, Line: 1, Err: err}
	}
	meta := parseMaccorTitle(title)

	header, err := r.Read()
	if err != nil {
		return nil, nil, &core.ParseError{Path: path, Line: 2, Err: fmt.Errorf("missing column header: %w", err)}
	}
	return meta, append([]string(nil), header...), nil
}

func (d maccorText) LoadMetadata(path string) (core.Metadata, core.ColumnCatalog, error) {
	f, r, err := d.open(path)
	if err != nil {
		return nil, nil, err
	}
	defer f.Close()

	meta, header, err := d.readPreamble(path, r)
	if err != nil {
		return nil, nil, err
	}

	cb := newCatalogBuilder(header)
	for i := 0; i < catalogSampleRows; i++ {
		rec, err := r.Read()
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

func (d maccorText) LoadData(ctx context.Context, path string, fetch core.ColumnMapping) (core.RawRows, error) {
	f, r, err := d.open(path)
	if err != nil {
		return nil, err
	}
	_, header, err := d.readPreamble(path, r)
	if err != nil {
		f.Close()
		return nil, err
	}
	return &textRows{
		ctx:     ctx,
		path:    path,
		closer:  f,
		line:    2,
		read:    r.Read,
		builder: newRowBuilder(header, fetch),
	}, nil
}

func (d maccorText) DataLabels(path string, available []string, mapping core.ColumnMapping) ([]string, error) {
	return core.Labels(available, mapping), nil
}

// textRows streams records from a delimited reader.
type textRows struct {
	ctx     context.Context
	path    string
	closer  io.Closer
	read    func() ([]string, error)
	builder *rowBuilder
	line    int
	count   int
	row     core.RawRow
	err     error
	closed  bool
}

func (t *textRows) Next() bool {
	if t.closed {
		return false
	}
	for {
		if t.count%ContextCheckInterval == 0 {
			if err := t.ctx.Err(); err != nil {
				return t.fail(err)
			}
		}
		rec, err := t.read()
		t.line++
		if errors.Is(err, io.EOF) {
			t.Close()
			return false
		}
		if err != nil {
			return t.fail(&core.ParseError{Path: t.path, Line: t.line, Err: err})
		}
		if blank(rec) {
			continue
		}
		t.count++
		t.row = t.builder.build(rec)
		return true
	}
}

func (t *textRows) fail(err error) bool {
	t.err = err
	t.Close()
	return false
}

func (t *textRows) Row() core.RawRow { return t.row }
func (t *textRows) Err() error       { return t.err }

func (t *textRows) Close() error {
	if t.closed {
		return nil
	}
	t.closed = true
	t.row = nil
	return t.closer.Close()
}

func blank(rec []string) bool {
	for _, c := range rec {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}
