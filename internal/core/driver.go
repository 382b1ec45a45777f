package core

import "context"

// Driver reads one instrument file format.
//
// Drivers register themselves from init() with [Register]. The registry is
// consulted in ascending Priority when identifying a file, so a driver with a
// cheaper or more specific check should carry a lower number.
type Driver interface {
	// Name is the unique registry key, e.g. "maccor_text_tsv".
	Name() string

	// Priority orders content checks; lower runs first.
	Priority() int

	// Tags is the format tag set assigned to files this driver detects.
	Tags() TagSet

	// Extensions lists lower-case file extensions (".csv") this driver claims.
	Extensions() []string

	// Detect inspects the file content. Only called for claimed extensions.
	Detect(path string) bool

	// LoadMetadata reads file-level values and the native column catalog.
	LoadMetadata(path string) (Metadata, ColumnCatalog, error)

	// ColumnMapping returns the driver's intrinsic native -> standard mapping.
	ColumnMapping() ColumnMapping

	// LoadData opens the file and streams rows holding only the fetch columns,
	// keyed by their standard names, in file order.
	LoadData(ctx context.Context, path string, fetch ColumnMapping) (RawRows, error)

	// DataLabels describes the columns with data for display, naming each by
	// the standard column it supplies under mapping.
	DataLabels(path string, available []string, mapping ColumnMapping) ([]string, error)
}

// LabelFor formats a native column name for display, adding the standard
// name it maps to when there is one.
func LabelFor(native string, mapping ColumnMapping) string {
	if std, ok := mapping[native]; ok && std != native {
		return native + " (" + std + ")"
	}
	return native
}

// Labels applies LabelFor to every available column.
func Labels(available []string, mapping ColumnMapping) []string {
	out := make([]string, len(available))
	for i, native := range available {
		out[i] = LabelFor(native, mapping)
	}
	return out
}
