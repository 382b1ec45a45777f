package core

import (
	"context"
	"fmt"
	"time"
)

// InputFile is an identified instrument file with its metadata loaded.
// Its tags are assigned once at open and never re-derived.
type InputFile struct {
	path      string
	tags      TagSet
	driver    Driver
	meta      Metadata
	catalog   ColumnCatalog
	overrides Overrides
}

// OpenInputFile identifies path, picks its driver and loads its metadata.
// extra is merged over the file's own metadata, e.g. to inject an experiment id.
func OpenInputFile(path string, overrides Overrides, extra Metadata) (*InputFile, error) {
	tags, err := Identify(path)
	if err != nil {
		return nil, err
	}
	if tags.Empty() {
		return nil, fmt.Errorf("%w: %s", ErrNotIngestible, path)
	}

	d, err := DriverForTags(tags)
	if err != nil {
		return nil, err
	}

	meta, catalog, err := d.LoadMetadata(path)
	if err != nil {
		return nil, fmt.Errorf("load metadata %s: %w", path, err)
	}

	return &InputFile{
		path:      path,
		tags:      tags,
		driver:    d,
		meta:      meta.Merge(extra),
		catalog:   catalog,
		overrides: overrides,
	}, nil
}

func (f *InputFile) Path() string           { return f.path }
func (f *InputFile) Tags() TagSet           { return f.tags }
func (f *InputFile) Driver() Driver         { return f.driver }
func (f *InputFile) Catalog() ColumnCatalog { return f.catalog }

// Metadata returns a copy of the file metadata.
func (f *InputFile) Metadata() Metadata {
	return f.meta.Merge(nil)
}

// WithMetadata returns a copy of f with extra merged over its metadata.
// The file is not re-identified.
func (f *InputFile) WithMetadata(extra Metadata) *InputFile {
	cp := *f
	cp.meta = f.meta.Merge(extra)
	return &cp
}

// TestStartDate returns the "Date of Test" metadata value.
func (f *InputFile) TestStartDate() (time.Time, error) {
	v, ok := f.meta[MetaTestStartDate]
	if !ok {
		return time.Time{}, fmt.Errorf("%s: no %q in metadata", f.path, MetaTestStartDate)
	}
	switch t := v.(type) {
	case time.Time:
		return t, nil
	case string:
		return ParseDate(t)
	default:
		return time.Time{}, fmt.Errorf("%s: %q has type %T", f.path, MetaTestStartDate, v)
	}
}

// Resolve matches wanted standard columns against this file.
func (f *InputFile) Resolve(wanted []string) Resolution {
	return Resolve(wanted, f.driver.ColumnMapping(), f.overrides, f.catalog)
}

// DataLabels describes the columns of the file that carry data. Labels follow
// the column overrides the file was opened with.
func (f *InputFile) DataLabels() ([]string, error) {
	mapping := EffectiveMapping(f.driver.ColumnMapping(), f.overrides)
	return f.driver.DataLabels(f.path, f.catalog.Available(), mapping)
}

// Rows opens a fresh stream of normalized rows for the required columns.
// Every call reads the file from the start. The caller must Close the result.
func (f *InputFile) Rows(ctx context.Context, required []string) (Rows, error) {
	plan, err := Plan(required, f.Resolve, f.meta)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", f.path, err)
	}
	raw, err := f.driver.LoadData(ctx, f.path, plan.Fetch)
	if err != nil {
		return nil, fmt.Errorf("load data %s: %w", f.path, err)
	}
	return NormalizeRows(required, f.meta, raw), nil
}
