// Package harvester scans directories for instrument files and loads each
// settled file into the database as one data set.
//
// A pass walks every root, records what it sees in the observed-file table
// and imports the files whose mtime is older than the stability window.
// Passes run on a cron schedule, on demand, and optionally on filesystem
// events.
package harvester

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"golang.org/x/sync/errgroup"

	"github.com/JonMunkholm/cycler/internal/archive"
	"github.com/JonMunkholm/cycler/internal/core"
	"github.com/JonMunkholm/cycler/internal/export"
	"github.com/JonMunkholm/cycler/internal/logging"
	"github.com/JonMunkholm/cycler/internal/store"
)

// ErrPassRunning is returned when a pass is requested while one is in progress.
var ErrPassRunning = errors.New("harvest pass already running")

// Store is the persistence the harvester needs.
type Store interface {
	GetObservedFile(ctx context.Context, harvester, path string) (*store.ObservedFile, error)
	UpsertObservedFile(ctx context.Context, o store.ObservedFile) error
	Import(ctx context.Context, ds store.Dataset, columns []string, open store.RowSource) (store.ImportResult, error)
	CountByState(ctx context.Context, harvester string) (map[store.FileState]int64, error)
	ListObservedFiles(ctx context.Context, harvester string, state store.FileState) ([]store.ObservedFile, error)
}

// Archiver keeps a copy of an imported file.
type Archiver interface {
	Archive(ctx context.Context, path string, datasetID int64) (archive.Object, error)
}

// Options configures a Harvester.
type Options struct {
	Name          string
	Roots         []string
	Schedule      string
	Watch         bool
	StableAge     time.Duration
	MaxConcurrent int
	FileTimeout   time.Duration
	ParquetDir    string
	Columns       []string
}

// Harvester runs harvest passes.
type Harvester struct {
	opts      Options
	store     Store
	limiter   *core.Limiter
	overrides *OverrideFile
	archiver  Archiver
	now       func() time.Time

	guard   runningGuard
	passing atomic.Bool

	mu   sync.Mutex
	last *PassResult
}

// New builds a harvester. limiter is shared with the HTTP API so the total
// number of open exports stays bounded; archiver may be nil.
func New(opts Options, st Store, limiter *core.Limiter, overrides *OverrideFile, archiver Archiver) *Harvester {
	if opts.MaxConcurrent <= 0 {
		opts.MaxConcurrent = core.DefaultMaxConcurrentExports
	}
	if len(opts.Columns) == 0 {
		opts.Columns = store.DefaultColumns
	}
	if overrides == nil {
		overrides = &OverrideFile{}
	}
	if limiter == nil {
		limiter = core.NewLimiter(opts.MaxConcurrent, core.DefaultMaxWaitTime)
	}
	return &Harvester{
		opts:      opts,
		store:     st,
		limiter:   limiter,
		overrides: overrides,
		archiver:  archiver,
		now:       time.Now,
	}
}

// Overrides returns the column overrides applied to path.
func (h *Harvester) Overrides(path string) core.Overrides {
	return h.overrides.For(path)
}

// Roots returns the configured root directories.
func (h *Harvester) Roots() []string {
	return h.opts.Roots
}

// Run schedules passes and blocks until ctx is cancelled. A first pass runs
// immediately. Cancelling ctx stops new passes and new imports; imports
// already running keep their own context until drain expires.
func (h *Harvester) Run(ctx context.Context, drain time.Duration) error {
	work, cancelWork := context.WithCancel(context.WithoutCancel(ctx))
	defer cancelWork()

	c := cron.New()
	if _, err := c.AddFunc(h.opts.Schedule, func() { h.runLogged(ctx, work, "schedule") }); err != nil {
		return fmt.Errorf("invalid harvest schedule %q: %w", h.opts.Schedule, err)
	}
	c.Start()

	var w *watcher
	if h.opts.Watch {
		var err error
		if w, err = h.watch(ctx, work); err != nil {
			c.Stop()
			return err
		}
	}

	slog.Info("harvester started",
		"name", h.opts.Name,
		"roots", h.opts.Roots,
		"schedule", h.opts.Schedule,
		"watch", h.opts.Watch,
	)
	go h.runLogged(ctx, work, "startup")

	<-ctx.Done()

	c.Stop()
	if w != nil {
		w.Close()
	}

	waitCtx, cancel := context.WithTimeout(context.Background(), drain)
	defer cancel()
	if err := h.waitIdle(waitCtx); err != nil {
		slog.Warn("harvest imports did not finish before drain timeout",
			"importing", h.guard.Running(),
			"drain", drain,
		)
	}
	cancelWork()
	slog.Info("harvester stopped")
	return nil
}

// waitIdle blocks until no pass and no import is running, or ctx is done.
func (h *Harvester) waitIdle(ctx context.Context) error {
	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()

	for h.passing.Load() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
	h.guard.WaitAll(ctx)
	return ctx.Err()
}

func (h *Harvester) runLogged(stop, work context.Context, trigger string) {
	res, err := h.runPass(stop, work)
	if errors.Is(err, ErrPassRunning) {
		slog.Debug("harvest pass skipped", "trigger", trigger, "reason", err)
		return
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("harvest pass failed", "trigger", trigger, "error", err)
		return
	}
	slog.Info("harvest pass completed",
		"trigger", trigger,
		"run_id", res.RunID,
		"seen", res.Seen,
		"waiting", res.Waiting,
		"imported", res.Imported,
		"skipped", res.Skipped,
		"failed", res.Failed,
		"duration_ms", res.Duration.Milliseconds(),
	)
}

// PassResult summarizes one pass.
type PassResult struct {
	RunID    string        `json:"run_id"`
	Started  time.Time     `json:"started"`
	Duration time.Duration `json:"duration"`
	Seen     int64         `json:"seen"`
	Waiting  int64         `json:"waiting"`
	Imported int64         `json:"imported"`
	Skipped  int64         `json:"skipped"`
	Failed   int64         `json:"failed"`
}

type passCounters struct {
	seen, waiting, imported, skipped, failed atomic.Int64
}

func (c *passCounters) add(st store.FileState) {
	switch st {
	case store.FileImported:
		c.imported.Add(1)
	case store.FileSkipped:
		c.skipped.Add(1)
	case store.FileFailed:
		c.failed.Add(1)
	case store.FileUnstable:
		c.waiting.Add(1)
	}
}

// RunPass scans every root once and imports settled files. Only one pass runs
// at a time; a concurrent call returns ErrPassRunning.
func (h *Harvester) RunPass(ctx context.Context) (PassResult, error) {
	return h.runPass(ctx, ctx)
}

// runPass walks the roots until stop is cancelled. Store calls and imports use
// work, so a file already being imported finishes after stop.
func (h *Harvester) runPass(stop, work context.Context) (PassResult, error) {
	if stop.Err() != nil {
		return PassResult{}, stop.Err()
	}
	if !h.passing.CompareAndSwap(false, true) {
		return PassResult{}, ErrPassRunning
	}
	defer h.passing.Store(false)

	res := PassResult{RunID: uuid.NewString(), Started: h.now()}
	var counts passCounters

	g, gctx := errgroup.WithContext(work)
	g.SetLimit(h.opts.MaxConcurrent)

	for _, root := range h.opts.Roots {
		err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				slog.Warn("harvest walk error", "path", path, "error", err)
				if d != nil && d.IsDir() && path != root {
					return fs.SkipDir
				}
				return nil
			}
			if err := stop.Err(); err != nil {
				return err
			}
			if gctx.Err() != nil {
				return gctx.Err()
			}
			if d.IsDir() {
				if path != root && strings.HasPrefix(d.Name(), ".") {
					return fs.SkipDir
				}
				return nil
			}
			if !candidate(path) {
				return nil
			}
			info, err := d.Info()
			if err != nil {
				return nil
			}
			counts.seen.Add(1)
			g.Go(func() error {
				st := h.visit(gctx, path, info.Size(), info.ModTime())
				counts.add(st)
				return nil
			})
			return nil
		})
		if err != nil && !errors.Is(err, context.Canceled) {
			slog.Error("harvest root failed", "root", root, "error", err)
		}
	}
	_ = g.Wait()

	res.Duration = h.now().Sub(res.Started)
	res.Seen = counts.seen.Load()
	res.Waiting = counts.waiting.Load()
	res.Imported = counts.imported.Load()
	res.Skipped = counts.skipped.Load()
	res.Failed = counts.failed.Load()

	h.mu.Lock()
	h.last = &res
	h.mu.Unlock()

	return res, stop.Err()
}

// candidate reports whether some driver claims the file's extension.
func candidate(path string) bool {
	if strings.HasPrefix(filepath.Base(path), ".") {
		return false
	}
	return len(core.DriversFor(filepath.Ext(path))) > 0
}

// visit applies the stability decision to one file and imports it when due.
// It returns the state recorded for the file, or "" when nothing changed.
func (h *Harvester) visit(ctx context.Context, path string, size int64, modTime time.Time) store.FileState {
	rec, err := h.store.GetObservedFile(ctx, h.opts.Name, path)
	if err != nil {
		slog.Error("read observed file", "path", path, "error", err)
		return ""
	}

	switch decide(rec, size, modTime, h.now(), h.opts.StableAge) {
	case actionNone:
		return ""
	case actionWait:
		if rec != nil && rec.State == store.FileUnstable && !rec.Changed(size, modTime) {
			return store.FileUnstable
		}
		h.record(ctx, store.ObservedFile{Path: path, Size: size, ModTime: modTime, State: store.FileUnstable})
		return store.FileUnstable
	}

	if !h.guard.TryLock(path) {
		return ""
	}
	defer h.guard.Unlock(path)

	out := h.harvestFile(ctx, path)
	out.Size, out.ModTime = size, modTime
	h.record(ctx, out)
	return out.State
}

func (h *Harvester) record(ctx context.Context, o store.ObservedFile) {
	o.Harvester = h.opts.Name
	if err := h.store.UpsertObservedFile(ctx, o); err != nil {
		slog.Error("record observed file", "path", o.Path, "state", o.State, "error", err)
	}
}

// HarvestFile imports one file now, regardless of its recorded state.
func (h *Harvester) HarvestFile(ctx context.Context, path string) (store.ObservedFile, error) {
	info, err := os.Stat(path)
	if err != nil {
		return store.ObservedFile{}, err
	}
	if !h.guard.TryLock(path) {
		return store.ObservedFile{}, fmt.Errorf("%s is already being harvested", path)
	}
	defer h.guard.Unlock(path)

	out := h.harvestFile(ctx, path)
	out.Size, out.ModTime = info.Size(), info.ModTime()
	h.record(ctx, out)
	return out, nil
}

// harvestFile loads path as a new data set. Failures are reported in the
// returned record rather than as an error.
func (h *Harvester) harvestFile(ctx context.Context, path string) (out store.ObservedFile) {
	out = store.ObservedFile{Path: path}
	log := logging.WithFields(ctx, "path", path, "harvester", h.opts.Name)
	start := h.now()

	defer func() {
		if r := recover(); r != nil {
			log.Error("panic in harvest", "panic", r)
			out.State = store.FileFailed
			out.Error = fmt.Sprintf("internal error: %v", r)
		}
	}()

	if h.opts.FileTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.opts.FileTimeout)
		defer cancel()
	}

	if err := h.limiter.Acquire(ctx); err != nil {
		log.Warn("no export slot", "error", err)
		out.State, out.Error = store.FileFailed, failureText(err)
		return out
	}
	defer h.limiter.Release()

	f, err := core.OpenInputFile(path, h.overrides.For(path), nil)
	if errors.Is(err, core.ErrNotIngestible) || errors.Is(err, core.ErrUnsupportedFormat) {
		log.Debug("file skipped", "reason", err)
		out.State, out.Error = store.FileSkipped, err.Error()
		return out
	}
	if err != nil {
		log.Error("open failed", "error", err)
		out.State, out.Error = store.FileFailed, failureText(err)
		return out
	}

	ds := h.dataset(f, log)
	res, err := h.store.Import(ctx, ds, h.opts.Columns, func(ctx context.Context, id int64) (core.Rows, error) {
		return withID(f, id).Rows(ctx, h.opts.Columns)
	})
	if errors.Is(err, store.ErrDatasetExists) {
		log.Info("dataset already loaded", "dataset", ds.Name, "date", ds.Date)
		out.State, out.Error = store.FileSkipped, err.Error()
		return out
	}
	if err != nil {
		log.Error("import failed", "error", err, "code", core.Describe(err).Code, "known", core.IsKnown(err))
		out.State, out.Error = store.FileFailed, failureText(err)
		return out
	}

	id := res.DatasetID
	out.State, out.DatasetID = store.FileImported, &id
	log = log.With("dataset_id", id)
	log.Info("file imported",
		"rows", res.Rows,
		"tags", f.Tags().String(),
		"duration_ms", h.now().Sub(start).Milliseconds(),
	)

	h.mirror(ctx, f, id, log)
	h.archive(ctx, path, id, log)
	return out
}

func withID(f *core.InputFile, id int64) *core.InputFile {
	return f.WithMetadata(core.Metadata{core.MetaExperimentID: id})
}

// dataset describes f for registration. Files without a test start date are
// dated by their mtime.
func (h *Harvester) dataset(f *core.InputFile, log *slog.Logger) store.Dataset {
	date, err := f.TestStartDate()
	if err != nil {
		log.Warn("no test start date, using file mtime", "error", err)
		if info, serr := os.Stat(f.Path()); serr == nil {
			date = info.ModTime().UTC()
		}
	}
	return store.Dataset{
		Name:       filepath.Base(f.Path()),
		Date:       date,
		Type:       f.Tags().String(),
		Harvester:  h.opts.Name,
		SourcePath: f.Path(),
		Metadata:   store.DatasetMetadata(f.Metadata()),
	}
}

// mirror writes the imported rows as <dir>/<id>.parquet.
func (h *Harvester) mirror(ctx context.Context, f *core.InputFile, id int64, log *slog.Logger) {
	if h.opts.ParquetDir == "" {
		return
	}
	rows, err := withID(f, id).Rows(ctx, h.opts.Columns)
	if err != nil {
		log.Error("parquet mirror failed", "error", err)
		return
	}
	dest := filepath.Join(h.opts.ParquetDir, fmt.Sprintf("%d.parquet", id))
	n, err := export.WriteParquetFile(dest, rows)
	if err != nil {
		log.Error("parquet mirror failed", "file", dest, "error", err)
		return
	}
	log.Debug("parquet mirror written", "file", dest, "rows", n)
}

func (h *Harvester) archive(ctx context.Context, path string, id int64, log *slog.Logger) {
	if h.archiver == nil {
		return
	}
	obj, err := h.archiver.Archive(ctx, path, id)
	if err != nil {
		log.Error("archive failed", "error", err)
		return
	}
	log.Debug("file archived", "bucket", obj.Bucket, "key", obj.Key)
}

// Status is a snapshot of harvester activity.
type Status struct {
	Name        string                    `json:"name"`
	Roots       []string                  `json:"roots"`
	PassRunning bool                      `json:"pass_running"`
	Importing   int                       `json:"importing"`
	Exports     core.LimiterStatus        `json:"exports"`
	LastPass    *PassResult               `json:"last_pass,omitempty"`
	Files       map[store.FileState]int64 `json:"files,omitempty"`
	Failed      []store.ObservedFile      `json:"failed,omitempty"`
}

// Status reports current activity, per-state file counts and the files that
// failed to import.
func (h *Harvester) Status(ctx context.Context) (Status, error) {
	h.mu.Lock()
	last := h.last
	h.mu.Unlock()

	st := Status{
		Name:        h.opts.Name,
		Roots:       h.opts.Roots,
		PassRunning: h.passing.Load(),
		Importing:   h.guard.Running(),
		Exports:     h.limiter.Status(),
		LastPass:    last,
	}
	files, err := h.store.CountByState(ctx, h.opts.Name)
	if err != nil {
		return st, err
	}
	st.Files = files

	if files[store.FileFailed] > 0 {
		failed, err := h.store.ListObservedFiles(ctx, h.opts.Name, store.FileFailed)
		if err != nil {
			return st, err
		}
		st.Failed = failed
	}
	return st, nil
}

// failureText is the error recorded on a failed file. Errors with a known code
// carry the operator message and action.
func failureText(err error) string {
	if !core.IsKnown(err) {
		return err.Error()
	}
	return err.Error() + ": " + core.FormatError(err)
}
