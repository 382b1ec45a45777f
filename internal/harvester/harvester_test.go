package harvester

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JonMunkholm/cycler/internal/archive"
	"github.com/JonMunkholm/cycler/internal/core"
	_ "github.com/JonMunkholm/cycler/internal/core/drivers"
	"github.com/JonMunkholm/cycler/internal/store"
)

const iviumFile = "Ivium datafile\n" +
	"Title=cell 3\n" +
	"start=2021-07-05 16:47:26\n" +
	"primary_data\n" +
	"3\n" +
	"3\n" +
	"  0.000000E+00  0.000000E+00  1.000000E+00\n" +
	"  1.000000E+00  2.000000E+00  1.000000E+00\n" +
	"  2.000000E+00  4.000000E+00  1.000000E+00\n"

const wantTSV = "7\t1\t0\t1\t0\t0\t0\t\\N\n" +
	"7\t2\t1\t1\t2\t1\t2\t\\N\n" +
	"7\t3\t2\t1\t4\t4\t4\t\\N\n"

type fakeStore struct {
	mu        sync.Mutex
	observed  map[string]store.ObservedFile
	datasets  []store.Dataset
	copied    map[string]string
	nextID    int64
	importErr error
	imports   int

	// When set, Import signals started and then blocks until gate is closed.
	started chan struct{}
	gate    chan struct{}
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		observed: make(map[string]store.ObservedFile),
		copied:   make(map[string]string),
		nextID:   7,
	}
}

func (s *fakeStore) GetObservedFile(_ context.Context, _, path string) (*store.ObservedFile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.observed[path]
	if !ok {
		return nil, nil
	}
	return &o, nil
}

func (s *fakeStore) UpsertObservedFile(_ context.Context, o store.ObservedFile) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.observed[o.Path] = o
	return nil
}

func (s *fakeStore) Import(ctx context.Context, ds store.Dataset, _ []string, open store.RowSource) (store.ImportResult, error) {
	s.mu.Lock()
	s.imports++
	if s.importErr != nil {
		s.mu.Unlock()
		return store.ImportResult{}, s.importErr
	}
	for _, d := range s.datasets {
		if d.Name == ds.Name && d.Date.Equal(ds.Date) {
			s.mu.Unlock()
			return store.ImportResult{}, store.ErrDatasetExists
		}
	}
	id := s.nextID
	s.nextID++
	s.mu.Unlock()

	if s.gate != nil {
		close(s.started)
		select {
		case <-s.gate:
		case <-ctx.Done():
			return store.ImportResult{}, ctx.Err()
		}
	}

	rows, err := open(ctx, id)
	if err != nil {
		return store.ImportResult{}, err
	}
	r := core.NewTSVReader(rows)
	defer r.Close()
	b, err := io.ReadAll(r)
	if err != nil {
		return store.ImportResult{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	ds.ID = id
	s.datasets = append(s.datasets, ds)
	s.copied[ds.SourcePath] = string(b)
	return store.ImportResult{DatasetID: id, Rows: core.RowCount(r)}, nil
}

func (s *fakeStore) CountByState(_ context.Context, _ string) (map[store.FileState]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[store.FileState]int64)
	for _, o := range s.observed {
		out[o.State]++
	}
	return out, nil
}

func (s *fakeStore) ListObservedFiles(_ context.Context, _ string, state store.FileState) ([]store.ObservedFile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []store.ObservedFile
	for _, o := range s.observed {
		if state == "" || o.State == state {
			out = append(out, o)
		}
	}
	return out, nil
}

func (s *fakeStore) state(path string) store.FileState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.observed[path].State
}

type fakeArchiver struct {
	mu    sync.Mutex
	paths []string
}

func (a *fakeArchiver) Archive(_ context.Context, path string, id int64) (archive.Object, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.paths = append(a.paths, path)
	return archive.Object{Bucket: "raw", Key: filepath.Base(path)}, nil
}

// writeOld writes a file whose mtime is an hour in the past.
func writeOld(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	old := time.Now().Add(-time.Hour)
	require.NoError(t, os.Chtimes(path, old, old))
	return path
}

func newTestHarvester(t *testing.T, st Store, mutate func(*Options)) *Harvester {
	t.Helper()
	opts := Options{
		Name:          "test",
		Roots:         []string{t.TempDir()},
		Schedule:      "@every 1h",
		StableAge:     time.Minute,
		MaxConcurrent: 2,
		FileTimeout:   10 * time.Second,
	}
	if mutate != nil {
		mutate(&opts)
	}
	return New(opts, st, core.NewLimiter(2, time.Second), nil, nil)
}

func TestRunPass_ImportsSettledFile(t *testing.T) {
	st := newFakeStore()
	arch := &fakeArchiver{}
	parquetDir := t.TempDir()
	h := newTestHarvester(t, st, func(o *Options) { o.ParquetDir = parquetDir })
	h.archiver = arch
	path := writeOld(t, h.Roots()[0], "rig-1/cell3.txt", iviumFile)

	res, err := h.RunPass(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), res.Seen)
	assert.Equal(t, int64(1), res.Imported)
	assert.NotEmpty(t, res.RunID)

	assert.Equal(t, store.FileImported, st.state(path))
	assert.Equal(t, wantTSV, st.copied[path])

	require.Len(t, st.datasets, 1)
	ds := st.datasets[0]
	assert.Equal(t, "cell3.txt", ds.Name)
	assert.Equal(t, "test", ds.Harvester)
	assert.Equal(t, core.NewTagSet(core.TagIvium, core.TagText).String(), ds.Type)
	assert.True(t, ds.Date.Equal(time.Date(2021, 7, 5, 16, 47, 26, 0, time.UTC)), "date = %v", ds.Date)

	assert.FileExists(t, filepath.Join(parquetDir, "7.parquet"))
	assert.Equal(t, []string{path}, arch.paths)
}

func TestRunPass_WaitsForUnstableFile(t *testing.T) {
	st := newFakeStore()
	h := newTestHarvester(t, st, func(o *Options) { o.StableAge = time.Hour })
	path := filepath.Join(h.Roots()[0], "cell.txt")
	require.NoError(t, os.WriteFile(path, []byte(iviumFile), 0o644))

	res, err := h.RunPass(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), res.Waiting)
	assert.Equal(t, store.FileUnstable, st.state(path))
	assert.Zero(t, st.imports)
}

func TestRunPass_DoesNotReimportUnchangedFiles(t *testing.T) {
	st := newFakeStore()
	h := newTestHarvester(t, st, nil)
	writeOld(t, h.Roots()[0], "cell.txt", iviumFile)

	_, err := h.RunPass(context.Background())
	require.NoError(t, err)
	res, err := h.RunPass(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, st.imports)
	assert.Zero(t, res.Imported)
}

func TestRunPass_DuplicateDatasetIsSkipped(t *testing.T) {
	st := newFakeStore()
	h := newTestHarvester(t, st, nil)
	a := writeOld(t, h.Roots()[0], "a/cell.txt", iviumFile)
	_, err := h.RunPass(context.Background())
	require.NoError(t, err)

	// Same name and test date in another directory.
	b := writeOld(t, h.Roots()[0], "b/cell.txt", iviumFile)
	res, err := h.RunPass(context.Background())
	require.NoError(t, err)

	assert.Equal(t, store.FileImported, st.state(a))
	assert.Equal(t, store.FileSkipped, st.state(b))
	assert.Equal(t, int64(1), res.Skipped)
}

func TestRunPass_FailedFileRetriedOnlyWhenChanged(t *testing.T) {
	st := newFakeStore()
	st.importErr = errors.New("connection refused")
	h := newTestHarvester(t, st, nil)
	path := writeOld(t, h.Roots()[0], "cell.txt", iviumFile)

	res, err := h.RunPass(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), res.Failed)
	assert.Equal(t, store.FileFailed, st.state(path))
	assert.Contains(t, st.observed[path].Error, "connection refused")

	status, err := h.Status(context.Background())
	require.NoError(t, err)
	require.Len(t, status.Failed, 1)
	assert.Equal(t, path, status.Failed[0].Path)

	st.importErr = nil
	_, err = h.RunPass(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, st.imports, "unchanged failed file must not be retried")

	touched := time.Now().Add(-30 * time.Minute)
	require.NoError(t, os.Chtimes(path, touched, touched))
	_, err = h.RunPass(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, st.imports)
	assert.Equal(t, store.FileImported, st.state(path))
}

func TestRunPass_FailureRecordsErrorCode(t *testing.T) {
	st := newFakeStore()
	st.importErr = fmt.Errorf("copy rows: %w", &core.MissingInputError{Column: core.ColTemperature, Row: 3})
	h := newTestHarvester(t, st, nil)
	path := writeOld(t, h.Roots()[0], "cell.txt", iviumFile)

	_, err := h.RunPass(context.Background())
	require.NoError(t, err)
	assert.Equal(t, store.FileFailed, st.state(path))
	msg := st.observed[path].Error
	assert.Contains(t, msg, `column "temperature" at row 3`)
	assert.Contains(t, msg, "(Code: COL001)")
}

func TestFailureText_UnknownError(t *testing.T) {
	assert.Equal(t, "mystery", failureText(errors.New("mystery")))
}

func TestRunPass_IgnoresUnclaimedAndSettingsFiles(t *testing.T) {
	st := newFakeStore()
	h := newTestHarvester(t, st, nil)
	root := h.Roots()[0]
	writeOld(t, root, "notes.md", "hello")
	writeOld(t, root, ".hidden/cell.txt", iviumFile)
	settings := writeOld(t, root, "cell.mps.txt", "settings")

	res, err := h.RunPass(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), res.Seen)
	assert.Equal(t, store.FileSkipped, st.state(settings))
	assert.Zero(t, st.imports)
}

func TestRunPass_UnsupportedContentIsSkipped(t *testing.T) {
	st := newFakeStore()
	h := newTestHarvester(t, st, nil)
	path := writeOld(t, h.Roots()[0], "random.txt", "just some text\n")

	_, err := h.RunPass(context.Background())
	require.NoError(t, err)
	assert.Equal(t, store.FileSkipped, st.state(path))
	assert.Contains(t, st.observed[path].Error, core.ErrUnsupportedFormat.Error())
}

func TestRunPass_Exclusive(t *testing.T) {
	h := newTestHarvester(t, newFakeStore(), nil)
	h.passing.Store(true)
	_, err := h.RunPass(context.Background())
	assert.ErrorIs(t, err, ErrPassRunning)
}

func TestHarvestFile(t *testing.T) {
	st := newFakeStore()
	h := newTestHarvester(t, st, func(o *Options) { o.StableAge = time.Hour })
	path := filepath.Join(h.Roots()[0], "cell.txt")
	require.NoError(t, os.WriteFile(path, []byte(iviumFile), 0o644))

	out, err := h.HarvestFile(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, store.FileImported, out.State)
	require.NotNil(t, out.DatasetID)
	assert.Equal(t, int64(7), *out.DatasetID)

	_, err = h.HarvestFile(context.Background(), filepath.Join(h.Roots()[0], "missing.txt"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestStatus(t *testing.T) {
	st := newFakeStore()
	h := newTestHarvester(t, st, nil)
	writeOld(t, h.Roots()[0], "cell.txt", iviumFile)

	s, err := h.Status(context.Background())
	require.NoError(t, err)
	assert.Nil(t, s.LastPass)
	assert.Equal(t, 2, s.Exports.MaxConcurrent)

	_, err = h.RunPass(context.Background())
	require.NoError(t, err)

	s, err = h.Status(context.Background())
	require.NoError(t, err)
	require.NotNil(t, s.LastPass)
	assert.Equal(t, int64(1), s.LastPass.Imported)
	assert.Equal(t, int64(1), s.Files[store.FileImported])
	assert.False(t, s.PassRunning)
}

func TestRun_StopsOnCancel(t *testing.T) {
	st := newFakeStore()
	h := newTestHarvester(t, st, func(o *Options) { o.Watch = true })
	writeOld(t, h.Roots()[0], "cell.txt", iviumFile)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.Run(ctx, time.Second) }()

	require.Eventually(t, func() bool {
		s, _ := h.Status(context.Background())
		return s.LastPass != nil
	}, 5*time.Second, 10*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
	assert.Equal(t, 1, st.imports)
}

func TestRun_InFlightImportFinishesAfterCancel(t *testing.T) {
	st := newFakeStore()
	st.started = make(chan struct{})
	st.gate = make(chan struct{})
	h := newTestHarvester(t, st, nil)
	path := writeOld(t, h.Roots()[0], "cell.txt", iviumFile)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.Run(ctx, 5*time.Second) }()

	select {
	case <-st.started:
	case <-time.After(5 * time.Second):
		t.Fatal("import did not start")
	}
	cancel()

	select {
	case <-done:
		t.Fatal("Run returned while an import was still running")
	case <-time.After(100 * time.Millisecond):
	}

	close(st.gate)
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after the import finished")
	}
	assert.Equal(t, store.FileImported, st.state(path))
	assert.Equal(t, wantTSV, st.copied[path])
}

func TestRun_DrainTimeoutCancelsImport(t *testing.T) {
	st := newFakeStore()
	st.started = make(chan struct{})
	st.gate = make(chan struct{})
	h := newTestHarvester(t, st, nil)
	path := writeOld(t, h.Roots()[0], "cell.txt", iviumFile)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.Run(ctx, 50*time.Millisecond) }()

	<-st.started
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after the drain timeout")
	}
	require.Eventually(t, func() bool {
		return st.state(path) == store.FileFailed
	}, 5*time.Second, 10*time.Millisecond)
}

func TestRun_InvalidSchedule(t *testing.T) {
	h := newTestHarvester(t, newFakeStore(), func(o *Options) { o.Schedule = "whenever" })
	err := h.Run(context.Background(), time.Second)
	assert.ErrorContains(t, err, "invalid harvest schedule")
}
