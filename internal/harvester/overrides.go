package harvester

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/JonMunkholm/cycler/internal/core"
)

// OverrideFile is the YAML column override file. Columns applies to every
// file; each matching Files entry is layered on top in order.
//
//	columns: {temperature: "Temp 1"}
//	files:
//	  - match: "*/rig-2/*"
//	    columns: {amps: "Current (A)"}
type OverrideFile struct {
	Columns map[string]string `yaml:"columns"`
	Files   []FileOverride    `yaml:"files"`
}

// FileOverride applies Columns to paths matching the Match glob.
type FileOverride struct {
	Match   string            `yaml:"match"`
	Columns map[string]string `yaml:"columns"`
}

// LoadOverrides reads an override file. An empty path yields no overrides.
func LoadOverrides(name string) (*OverrideFile, error) {
	if name == "" {
		return &OverrideFile{}, nil
	}
	data, err := os.ReadFile(name)
	if err != nil {
		return nil, fmt.Errorf("read overrides: %w", err)
	}
	o, err := ParseOverrides(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	return o, nil
}

// ParseOverrides decodes and validates override YAML.
func ParseOverrides(data []byte) (*OverrideFile, error) {
	var o OverrideFile
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&o); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("parse overrides: %w", err)
	}

	var errs []error
	errs = append(errs, checkColumns("columns", o.Columns)...)
	for i, f := range o.Files {
		where := fmt.Sprintf("files[%d]", i)
		if f.Match == "" {
			errs = append(errs, fmt.Errorf("%s: match is required", where))
		} else if _, err := path.Match(f.Match, ""); err != nil {
			errs = append(errs, fmt.Errorf("%s: bad pattern %q: %w", where, f.Match, err))
		}
		errs = append(errs, checkColumns(where, f.Columns)...)
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return &o, nil
}

func checkColumns(where string, cols map[string]string) []error {
	var errs []error
	for std := range cols {
		if !core.IsStandardColumn(std) {
			errs = append(errs, fmt.Errorf("%s: %q is not a standard column", where, std))
		}
	}
	return errs
}

// For returns the overrides that apply to p.
func (o *OverrideFile) For(p string) core.Overrides {
	out := make(core.Overrides)
	if o == nil {
		return out
	}
	for std, native := range o.Columns {
		out[std] = native
	}
	for _, f := range o.Files {
		if !matchPath(f.Match, p) {
			continue
		}
		for std, native := range f.Columns {
			out[std] = native
		}
	}
	return out
}

// matchPath reports whether pattern matches p or any trailing run of its
// path elements, so "*/rig-2/*" matches /data/maccor/rig-2/cell.csv.
func matchPath(pattern, p string) bool {
	p = strings.TrimPrefix(filepath.ToSlash(p), "/")
	for {
		if ok, _ := path.Match(pattern, p); ok {
			return true
		}
		i := strings.IndexByte(p, '/')
		if i < 0 {
			return false
		}
		p = p[i+1:]
	}
}
