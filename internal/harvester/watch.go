package harvester

import (
	"context"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// WatchDebounce is how long the watcher waits for events to stop before
// starting a pass.
var WatchDebounce = 500 * time.Millisecond

// watcher triggers passes from filesystem events. A burst of events starts
// one pass after WatchDebounce, and a follow-up pass once the stability window
// has passed so files written during the burst are picked up.
type watcher struct {
	fsw    *fsnotify.Watcher
	cancel context.CancelFunc
	done   chan struct{}

	mu       sync.Mutex
	debounce *time.Timer
	followUp *time.Timer
}

func (h *Harvester) watch(ctx, work context.Context) (*watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	for _, root := range h.opts.Roots {
		addTree(fsw, root)
	}

	wctx, cancel := context.WithCancel(ctx)
	w := &watcher{fsw: fsw, cancel: cancel, done: make(chan struct{})}

	go func() {
		defer close(w.done)
		for {
			select {
			case <-wctx.Done():
				return
			case event, ok := <-fsw.Events:
				if !ok {
					return
				}
				if event.Has(fsnotify.Create) && isDir(event.Name) {
					addTree(fsw, event.Name)
				}
				if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
					continue
				}
				if !isDir(event.Name) && !candidate(event.Name) {
					continue
				}
				w.schedule(func() { h.runLogged(wctx, work, "watch") }, h.opts.StableAge)
			case err, ok := <-fsw.Errors:
				if !ok {
					return
				}
				slog.Warn("harvest watcher error", "error", err)
			}
		}
	}()

	slog.Info("harvest watcher started", "roots", h.opts.Roots)
	return w, nil
}

func (w *watcher) schedule(pass func(), stableAge time.Duration) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.debounce != nil {
		w.debounce.Stop()
	}
	w.debounce = time.AfterFunc(WatchDebounce, pass)

	if stableAge > 0 {
		if w.followUp != nil {
			w.followUp.Stop()
		}
		w.followUp = time.AfterFunc(stableAge+WatchDebounce, pass)
	}
}

func (w *watcher) Close() error {
	w.cancel()
	err := w.fsw.Close()
	<-w.done

	w.mu.Lock()
	defer w.mu.Unlock()
	for _, t := range []*time.Timer{w.debounce, w.followUp} {
		if t != nil {
			t.Stop()
		}
	}
	return err
}

// addTree watches dir and every non-hidden directory below it.
func addTree(fsw *fsnotify.Watcher, dir string) {
	_ = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil || !d.IsDir() {
			return nil
		}
		if path != dir && strings.HasPrefix(d.Name(), ".") {
			return fs.SkipDir
		}
		if err := fsw.Add(path); err != nil {
			slog.Warn("cannot watch directory", "path", path, "error", err)
		}
		return nil
	})
}

func isDir(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}
