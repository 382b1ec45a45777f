package core

// export.go serializes normalized rows in PostgreSQL COPY text format:
// tab-separated fields, one row per line, \N for null.

import (
	"bytes"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
	"time"
)

// NullMarker is the COPY text representation of null.
const NullMarker = `\N`

var copyEscaper = strings.NewReplacer(
	`\`, `\\`,
	"\t", `\t`,
	"\n", `\n`,
	"\r", `\r`,
)

// FormatValue renders one field in COPY text format.
func FormatValue(v any) string {
	switch x := v.(type) {
	case nil:
		return NullMarker
	case float64:
		return formatFloat(x, 64)
	case float32:
		return formatFloat(float64(x), 32)
	case int64:
		return strconv.FormatInt(x, 10)
	case int:
		return strconv.Itoa(x)
	case int32:
		return strconv.FormatInt(int64(x), 10)
	case bool:
		if x {
			return "t"
		}
		return "f"
	case time.Time:
		return x.Format(time.RFC3339Nano)
	case string:
		return copyEscaper.Replace(x)
	case fmt.Stringer:
		return copyEscaper.Replace(x.String())
	default:
		return copyEscaper.Replace(fmt.Sprint(x))
	}
}

func formatFloat(f float64, bits int) string {
	switch {
	case math.IsNaN(f):
		return "NaN"
	case math.IsInf(f, 1):
		return "Infinity"
	case math.IsInf(f, -1):
		return "-Infinity"
	}
	return strconv.FormatFloat(f, 'f', -1, bits)
}

// AppendTSV appends the COPY text line for row to buf.
func AppendTSV(buf []byte, row Row) []byte {
	for i, v := range row {
		if i > 0 {
			buf = append(buf, '\t')
		}
		buf = append(buf, FormatValue(v)...)
	}
	return append(buf, '\n')
}

// WriteTSV writes row as one COPY text line.
func WriteTSV(w io.Writer, row Row) error {
	_, err := w.Write(AppendTSV(nil, row))
	return err
}

// NewTSVReader exposes rows as a COPY text byte stream. Rows are pulled only
// as the consumer reads. Closing the reader closes rows.
func NewTSVReader(rows Rows) io.ReadCloser {
	return &tsvReader{rows: rows}
}

type tsvReader struct {
	rows Rows
	buf  bytes.Buffer
	line []byte
	err  error
	n    int64
}

func (r *tsvReader) Read(p []byte) (int, error) {
	for r.buf.Len() == 0 {
		if r.err != nil {
			return 0, r.err
		}
		if !r.rows.Next() {
			r.err = r.rows.Err()
			if r.err == nil {
				r.err = io.EOF
			}
			continue
		}
		r.line = AppendTSV(r.line[:0], r.rows.Row())
		r.buf.Write(r.line)
		r.n++
	}
	return r.buf.Read(p)
}

func (r *tsvReader) Close() error {
	return r.rows.Close()
}

// RowCount returns how many rows have been pulled through a reader created by
// NewTSVReader. Other readers report -1.
func RowCount(rc io.Reader) int64 {
	if r, ok := rc.(*tsvReader); ok {
		return r.n
	}
	return -1
}
