// Package core turns battery-cycler output files into a normalized row stream.
//
// This package is independent of storage and transport. The harvester, the
// HTTP API and tests all drive it the same way.
//
// # Pipeline
//
//  1. [Identify] picks the format tags of a file by extension and a content check.
//  2. The matching [Driver] loads file metadata and the native column catalog.
//  3. [Resolve] decides which native columns to read for the requested
//     standard columns; [Plan] adds what synthesis needs and fails early.
//  4. The driver streams raw rows ([RawRows]), one in memory at a time.
//  5. A [Normalizer] fills the requested columns in order, synthesizing
//     sample_no, capacity (trapezoidal integration of amps over test_time),
//     power, temperature and experiment_id when the file lacks them.
//  6. [NewTSVReader] renders the rows in PostgreSQL COPY text format.
//
// [InputFile] bundles steps 1-5 for one path.
//
// # Drivers
//
// Drivers register at init time with [Register] and are consulted in
// ascending priority:
//
//	func init() {
//	    core.Register(maccorText{delim: '\t', priority: 20})
//	}
//
// The concrete drivers live in package drivers; import it for side effects.
//
// # Error Handling
//
// Failures are returned as sentinel-matching errors ([ErrUnsupportedFormat],
// [ErrMissingRequiredInput], [ErrOutOfOrder]) and mapped to stable codes by
// [Describe] for API responses.
package core
