// Package export writes normalized row streams as Parquet files.
package export

import (
	"encoding/json"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"

	writerfile "github.com/xitongsys/parquet-go-source/writerfile"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/writer"

	"github.com/JonMunkholm/cycler/internal/core"
)

// RowGroupSize bounds how much the writer buffers before flushing a row group.
var RowGroupSize int64 = 16 * 1024 * 1024

const writerParallelism = 4

// physicalTypes gives the Parquet type of each standard column.
// Columns not listed are written as DOUBLE.
var physicalTypes = map[string]string{
	core.ColExperimentID: "INT64",
	core.ColSampleNo:     "INT64",
	core.ColCycleNo:      "INT64",
	core.ColStepNo:       "INT64",
	core.ColState:        "BYTE_ARRAY",
}

func physicalType(col string) string {
	if t, ok := physicalTypes[col]; ok {
		return t
	}
	return "DOUBLE"
}

// Schema builds the JSON schema definition parquet-go expects.
func Schema(columns []string) string {
	fields := make([]map[string]string, 0, len(columns))
	for _, c := range columns {
		tag := fmt.Sprintf("name=%s, type=%s, repetitiontype=OPTIONAL", c, physicalType(c))
		if physicalType(c) == "BYTE_ARRAY" {
			tag += ", convertedtype=UTF8"
		}
		fields = append(fields, map[string]string{"Tag": tag})
	}
	out := map[string]any{
		"Tag":    "name=parquet_go_root, repetitiontype=REQUIRED",
		"Fields": fields,
	}
	b, _ := json.Marshal(out)
	return string(b)
}

// projectRow converts a row into the JSON record for the schema.
// Values that cannot be represented become null.
func projectRow(columns []string, row core.Row) (string, error) {
	rec := make(map[string]any, len(columns))
	for i, c := range columns {
		rec[c] = coerce(physicalType(c), row[i])
	}
	b, err := json.Marshal(rec)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func coerce(typ string, v any) any {
	if v == nil {
		return nil
	}
	switch typ {
	case "INT64":
		n, err := core.ToInt(v)
		if err != nil {
			return nil
		}
		return n
	case "BYTE_ARRAY":
		if s, ok := v.(string); ok {
			return s
		}
		return fmt.Sprint(v)
	default:
		f, err := core.ToFloat(v)
		if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
			return nil
		}
		return f
	}
}

// WriteParquet drains rows into w as a Snappy-compressed Parquet file.
// rows is closed before returning.
func WriteParquet(w io.Writer, rows core.Rows) (int64, error) {
	defer rows.Close()

	columns := rows.Columns()
	pfw := writerfile.NewWriterFile(w)
	pw, err := writer.NewJSONWriter(Schema(columns), pfw, writerParallelism)
	if err != nil {
		return 0, fmt.Errorf("create parquet writer: %w", err)
	}
	pw.CompressionType = parquet.CompressionCodec_SNAPPY
	pw.RowGroupSize = RowGroupSize

	var n int64
	for rows.Next() {
		rec, err := projectRow(columns, rows.Row())
		if err != nil {
			_ = pw.WriteStop()
			return n, fmt.Errorf("encode row %d: %w", n+1, err)
		}
		if err := pw.Write(rec); err != nil {
			_ = pw.WriteStop()
			return n, fmt.Errorf("write row %d: %w", n+1, err)
		}
		n++
	}
	if err := rows.Err(); err != nil {
		_ = pw.WriteStop()
		return n, err
	}
	if err := pw.WriteStop(); err != nil {
		return n, fmt.Errorf("finish parquet file: %w", err)
	}
	return n, nil
}

// WriteParquetFile writes rows to path atomically: a temp file is renamed into
// place only after the writer finishes.
func WriteParquetFile(path string, rows core.Rows) (int64, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		rows.Close()
		return 0, err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".parquet-*")
	if err != nil {
		rows.Close()
		return 0, err
	}
	defer os.Remove(tmp.Name()) // No-op after a successful rename

	n, err := WriteParquet(tmp, rows)
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return n, err
	}
	return n, os.Rename(tmp.Name(), path)
}
