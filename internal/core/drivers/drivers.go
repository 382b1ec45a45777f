// Package drivers registers the instrument format drivers with the core registry.
// Import this package for side effects to make every format available:
//
//	import _ "github.com/JonMunkholm/cycler/internal/core/drivers"
package drivers

import "github.com/JonMunkholm/cycler/internal/core"

// ContextCheckInterval is how often (in rows) LoadData checks for cancellation.
var ContextCheckInterval = 100

// catalogSampleRows is how many data rows are inspected to decide whether a
// column carries data.
const catalogSampleRows = 100

func init() {
	core.Register(newMaccorText(',', core.TagCSV, 10))
	core.Register(newMaccorText('\t', core.TagTSV, 20))
	core.Register(maccorExcel{})
	core.Register(iviumText{})
}
