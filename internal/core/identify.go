package core

import (
	"fmt"
	"os"
	"path/filepath"
)

// Identify determines the format tags of the file at path.
//
// A path that cannot be stat'ed returns the os.Stat error wrapped, so a missing
// file matches fs.ErrNotExist rather than ErrUnsupportedFormat. Files ending in
// a registered ignored suffix (Bio-Logic ".mps.txt" settings by default) return
// an empty TagSet and no error. Otherwise the drivers that claim the extension
// are tried in priority order and the first match wins.
func Identify(path string) (TagSet, error) {
	if _, err := os.Stat(path); err != nil {
		return TagSet{}, fmt.Errorf("identify %s: %w", path, err)
	}
	if isIgnored(path) {
		return TagSet{}, nil
	}

	ext := filepath.Ext(path)
	for _, d := range DriversFor(ext) {
		if d.Detect(path) {
			return d.Tags(), nil
		}
	}
	return TagSet{}, fmt.Errorf("%w: %s", ErrUnsupportedFormat, path)
}
