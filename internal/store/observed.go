package store

import (
	"context"
	"fmt"
	"time"
)

// FileState is the harvest state of an observed file.
type FileState string

const (
	// FileUnstable: seen, but size or mtime changed recently.
	FileUnstable FileState = "unstable"
	// FileStable: unchanged for the stability window, ready to import.
	FileStable FileState = "stable"
	// FileImported: loaded into a data set.
	FileImported FileState = "imported"
	// FileSkipped: recognized but not loadable, or already loaded elsewhere.
	FileSkipped FileState = "skipped"
	// FileFailed: import failed; retried only after the file changes.
	FileFailed FileState = "failed"
)

// ObservedFile is the harvester's record of one path.
type ObservedFile struct {
	Harvester string    `json:"harvester"`
	Path      string    `json:"path"`
	Size      int64     `json:"size"`
	ModTime   time.Time `json:"mod_time"`
	State     FileState `json:"state"`
	DatasetID *int64    `json:"dataset_id,omitempty"`
	Error     string    `json:"error,omitempty"`
	LastSeen  time.Time `json:"last_seen"`
}

// Changed reports whether size or mtime differ from the record.
func (o *ObservedFile) Changed(size int64, modTime time.Time) bool {
	return o.Size != size || !o.ModTime.Equal(modTime)
}

// GetObservedFile returns the record for path, or nil if none.
func (s *Store) GetObservedFile(ctx context.Context, harvester, path string) (*ObservedFile, error) {
	var o ObservedFile
	err := s.pool.QueryRow(ctx, `
		SELECT harvester, path, size, mod_time, state, dataset_id, error, last_seen
		FROM harvest.observed_file
		WHERE harvester = $1 AND path = $2
	`, harvester, path).Scan(&o.Harvester, &o.Path, &o.Size, &o.ModTime, &o.State, &o.DatasetID, &o.Error, &o.LastSeen)
	if isNoRows(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get observed file: %w", err)
	}
	return &o, nil
}

// UpsertObservedFile inserts or replaces the record for o.Path.
func (s *Store) UpsertObservedFile(ctx context.Context, o ObservedFile) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO harvest.observed_file (harvester, path, size, mod_time, state, dataset_id, error, last_seen)
		VALUES ($1, $2, $3, $4, $5, $6, $7, now())
		ON CONFLICT (harvester, path) DO UPDATE
		SET size = EXCLUDED.size,
		    mod_time = EXCLUDED.mod_time,
		    state = EXCLUDED.state,
		    dataset_id = EXCLUDED.dataset_id,
		    error = EXCLUDED.error,
		    last_seen = now()
	`, o.Harvester, o.Path, o.Size, o.ModTime, string(o.State), o.DatasetID, o.Error)
	if err != nil {
		return fmt.Errorf("failed to upsert observed file: %w", err)
	}
	return nil
}

// ListObservedFiles returns the harvester's records, optionally filtered by state.
func (s *Store) ListObservedFiles(ctx context.Context, harvester string, state FileState) ([]ObservedFile, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT harvester, path, size, mod_time, state, dataset_id, error, last_seen
		FROM harvest.observed_file
		WHERE harvester = $1 AND ($2 = '' OR state = $2)
		ORDER BY path
	`, harvester, string(state))
	if err != nil {
		return nil, fmt.Errorf("failed to list observed files: %w", err)
	}
	defer rows.Close()

	var out []ObservedFile
	for rows.Next() {
		var o ObservedFile
		if err := rows.Scan(&o.Harvester, &o.Path, &o.Size, &o.ModTime, &o.State, &o.DatasetID, &o.Error, &o.LastSeen); err != nil {
			return nil, fmt.Errorf("failed to scan observed file: %w", err)
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

// CountByState summarizes the harvester's records.
func (s *Store) CountByState(ctx context.Context, harvester string) (map[FileState]int64, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT state, count(*) FROM harvest.observed_file
		WHERE harvester = $1
		GROUP BY state
	`, harvester)
	if err != nil {
		return nil, fmt.Errorf("failed to count observed files: %w", err)
	}
	defer rows.Close()

	out := make(map[FileState]int64)
	for rows.Next() {
		var st FileState
		var n int64
		if err := rows.Scan(&st, &n); err != nil {
			return nil, fmt.Errorf("failed to scan state count: %w", err)
		}
		out[st] = n
	}
	return out, rows.Err()
}
