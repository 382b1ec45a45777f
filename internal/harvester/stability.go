package harvester

import (
	"time"

	"github.com/JonMunkholm/cycler/internal/store"
)

type action int

const (
	// actionNone: the file was already handled and has not changed.
	actionNone action = iota
	// actionWait: the file is still being written; record it as unstable.
	actionWait
	// actionImport: the file has settled and should be loaded.
	actionImport
)

func (a action) String() string {
	switch a {
	case actionWait:
		return "wait"
	case actionImport:
		return "import"
	default:
		return "none"
	}
}

// decide picks what to do with a file given its previous record, which is nil
// for a file never seen before. A file settles once its mtime is at least
// stableAge old. Files that were imported, skipped or failed are left alone
// until their size or mtime change.
func decide(rec *store.ObservedFile, size int64, modTime, now time.Time, stableAge time.Duration) action {
	if rec != nil && !rec.Changed(size, modTime) {
		switch rec.State {
		case store.FileImported, store.FileSkipped, store.FileFailed:
			return actionNone
		}
	}
	if now.Sub(modTime) < stableAge {
		return actionWait
	}
	return actionImport
}
