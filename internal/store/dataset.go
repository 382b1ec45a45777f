package store

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/JonMunkholm/cycler/internal/core"
)

// ErrDatasetExists is returned when a data set with the same name and date is
// already loaded.
var ErrDatasetExists = errors.New("dataset already exists")

// TimeseriesTable is where normalized rows are copied.
var TimeseriesTable = pgx.Identifier{"experiment", "timeseries_data"}

// dbColumns maps standard columns onto timeseries_data columns.
var dbColumns = map[string]string{
	core.ColExperimentID: "dataset_id",
	core.ColSampleNo:     "sample_no",
	core.ColTestTime:     "test_time",
	core.ColVolts:        "volts",
	core.ColAmps:         "amps",
	core.ColCapacity:     "capacity",
	core.ColPower:        "power",
	core.ColTemperature:  "temperature",
	core.ColEnergy:       "energy",
	core.ColCycleNo:      "cycle_no",
	core.ColStepNo:       "step_no",
	core.ColStepTime:     "step_time",
	core.ColState:        "state",
}

// DefaultColumns is the column set loaded for every harvested file.
var DefaultColumns = []string{
	core.ColExperimentID,
	core.ColSampleNo,
	core.ColTestTime,
	core.ColVolts,
	core.ColAmps,
	core.ColCapacity,
	core.ColPower,
	core.ColTemperature,
}

// Dataset is one loaded file.
type Dataset struct {
	ID         int64          `json:"id"`
	Name       string         `json:"name"`
	Date       time.Time      `json:"date"`
	Type       string         `json:"type"`
	Harvester  string         `json:"harvester"`
	SourcePath string         `json:"source_path"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
}

// ImportResult reports a committed import.
type ImportResult struct {
	DatasetID int64
	Rows      int64
}

// CopySQL builds the COPY statement for the given standard columns.
// experiment_id must be among them so rows land under their data set.
func CopySQL(columns []string) (string, error) {
	names := make([]string, len(columns))
	hasID := false
	for i, c := range columns {
		db, ok := dbColumns[c]
		if !ok {
			return "", fmt.Errorf("%w: column %q has no table column", core.ErrMissingRequiredInput, c)
		}
		if c == core.ColExperimentID {
			hasID = true
		}
		names[i] = pgx.Identifier{db}.Sanitize()
	}
	if !hasID {
		return "", fmt.Errorf("copy columns must include %s", core.ColExperimentID)
	}
	return fmt.Sprintf("COPY %s (%s) FROM STDIN", TimeseriesTable.Sanitize(), strings.Join(names, ", ")), nil
}

// RowSource opens the normalized rows of a file once its data set id is known.
type RowSource func(ctx context.Context, datasetID int64) (core.Rows, error)

// Import registers ds and copies its rows in a single transaction. Nothing is
// written if any row fails. Returns ErrDatasetExists when ds was loaded before.
func (s *Store) Import(ctx context.Context, ds Dataset, columns []string, open RowSource) (ImportResult, error) {
	copySQL, err := CopySQL(columns)
	if err != nil {
		return ImportResult{}, err
	}

	var res ImportResult
	err = s.inTx(ctx, func(tx pgx.Tx) error {
		id, err := insertDataset(ctx, tx, ds)
		if err != nil {
			return err
		}
		res.DatasetID = id

		rows, err := open(ctx, id)
		if err != nil {
			return err
		}
		r := &sourceReader{ReadCloser: core.NewTSVReader(rows)}
		defer r.Close()

		tag, err := tx.Conn().PgConn().CopyFrom(ctx, r, copySQL)
		if err != nil {
			return copyError(r.err, err)
		}
		res.Rows = tag.RowsAffected()
		return nil
	})
	if err != nil {
		return ImportResult{}, err
	}
	return res, nil
}

// sourceReader keeps the first failure of the row source. CopyFrom reports a
// reader failure as the server's CopyFail error, which drops its type.
type sourceReader struct {
	io.ReadCloser
	err error
}

func (r *sourceReader) Read(p []byte) (int, error) {
	n, err := r.ReadCloser.Read(p)
	if err != nil && r.err == nil && !errors.Is(err, io.EOF) {
		r.err = err
	}
	return n, err
}

// copyError prefers the row source failure over the COPY error it caused.
func copyError(readErr, copyErr error) error {
	if readErr != nil {
		return fmt.Errorf("copy rows: %w", readErr)
	}
	return fmt.Errorf("copy rows: %w", copyErr)
}

func insertDataset(ctx context.Context, db DBTX, ds Dataset) (int64, error) {
	meta := ds.Metadata
	if meta == nil {
		meta = map[string]any{}
	}
	var id int64
	err := db.QueryRow(ctx, `
		INSERT INTO experiment.dataset (name, date, dataset_type, harvester, source_path, metadata)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (name, date) DO NOTHING
		RETURNING id
	`, ds.Name, ds.Date, ds.Type, ds.Harvester, ds.SourcePath, meta).Scan(&id)
	if isNoRows(err) {
		return 0, fmt.Errorf("%w: %s at %s", ErrDatasetExists, ds.Name, ds.Date.Format(time.RFC3339))
	}
	if err != nil {
		return 0, fmt.Errorf("failed to insert dataset: %w", err)
	}
	return id, nil
}

// DatasetMetadata converts file metadata into JSON-friendly values.
func DatasetMetadata(meta core.Metadata) map[string]any {
	out := make(map[string]any, len(meta))
	for k, v := range meta {
		if t, ok := v.(time.Time); ok {
			out[k] = t.Format(time.RFC3339)
			continue
		}
		out[k] = v
	}
	return out
}
