package web

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/JonMunkholm/cycler/internal/core"
	"github.com/JonMunkholm/cycler/internal/export"
	"github.com/JonMunkholm/cycler/internal/logging"
)

// DefaultExportColumns is used when the request names no columns.
var DefaultExportColumns = []string{
	core.ColSampleNo,
	core.ColTestTime,
	core.ColVolts,
	core.ColAmps,
	core.ColCapacity,
	core.ColPower,
	core.ColTemperature,
}

func parseColumns(raw string) ([]string, error) {
	if strings.TrimSpace(raw) == "" {
		return DefaultExportColumns, nil
	}
	var cols []string
	for _, c := range strings.Split(raw, ",") {
		c = strings.TrimSpace(c)
		if c == "" {
			continue
		}
		cols = append(cols, c)
	}
	if len(cols) == 0 {
		return nil, fmt.Errorf("%w: no columns requested", errBadRequest)
	}
	return cols, nil
}

// handleExport streams a file's normalized rows as PostgreSQL COPY text
// (format=tsv, the default) or Parquet (format=parquet).
//
// Errors found before the first row get a JSON error response. Once rows are
// flowing the status is already sent, so a later failure aborts the
// connection and the client sees a truncated body.
func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	format := r.URL.Query().Get("format")
	if format == "" {
		format = "tsv"
	}
	if format != "tsv" && format != "parquet" {
		respondError(w, r, fmt.Errorf("%w: format must be tsv or parquet", errBadRequest))
		return
	}
	columns, err := parseColumns(r.URL.Query().Get("columns"))
	if err != nil {
		respondError(w, r, err)
		return
	}

	f, err := s.openFile(r)
	if err != nil {
		respondError(w, r, err)
		return
	}

	if err := s.limiter.Acquire(r.Context()); err != nil {
		if errors.Is(err, core.ErrTooManyExports) {
			w.Header().Set("Retry-After", "5")
		}
		respondError(w, r, err)
		return
	}
	defer s.limiter.Release()

	rows, err := f.Rows(r.Context(), columns)
	if err != nil {
		respondError(w, r, err)
		return
	}
	defer rows.Close()

	log := logging.WithFields(r.Context(), "path", f.Path(), "format", format)
	base := strings.TrimSuffix(filepath.Base(f.Path()), filepath.Ext(f.Path()))
	w.Header().Set("X-Columns", strings.Join(columns, ","))

	var n int64
	switch format {
	case "parquet":
		w.Header().Set("Content-Type", "application/vnd.apache.parquet")
		w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s.parquet"`, base))
		n, err = export.WriteParquet(w, rows)
	default:
		w.Header().Set("Content-Type", "text/tab-separated-values; charset=utf-8")
		w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s.tsv"`, base))
		tsv := core.NewTSVReader(rows)
		_, err = io.Copy(w, tsv)
		n = core.RowCount(tsv)
	}
	if err != nil {
		log.Error("export aborted", "rows", n, "error", err, "code", core.Describe(err).Code)
		panic(http.ErrAbortHandler)
	}
	log.Info("export completed", "rows", n)
}
