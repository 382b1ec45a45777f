package core

import "fmt"

// Resolution is the outcome of matching wanted standard columns against a file.
type Resolution struct {
	// Fetch maps the native columns to read onto their standard names.
	Fetch ColumnMapping
	// Direct lists wanted columns supplied by Fetch, in wanted order.
	Direct []string
	// Missing lists wanted columns the file cannot supply, in wanted order.
	Missing []string
}

// Resolve decides which native columns to read for the wanted standard columns.
//
// Overrides replace the intrinsic mapping for the standard names they name.
// A native column is selected only if its standard name is wanted and the
// catalog marks it as having data.
func Resolve(wanted []string, intrinsic ColumnMapping, overrides Overrides, catalog ColumnCatalog) Resolution {
	effective := EffectiveMapping(intrinsic, overrides)

	want := make(map[string]bool, len(wanted))
	for _, w := range wanted {
		want[w] = true
	}

	fetch := make(ColumnMapping)
	supplied := make(map[string]bool)
	for native, std := range effective {
		if !want[std] {
			continue
		}
		if info, ok := catalog[native]; !ok || !info.HasData {
			continue
		}
		fetch[native] = std
		supplied[std] = true
	}

	res := Resolution{Fetch: fetch}
	seen := make(map[string]bool, len(wanted))
	for _, w := range wanted {
		if seen[w] {
			continue
		}
		seen[w] = true
		if supplied[w] {
			res.Direct = append(res.Direct, w)
		} else {
			res.Missing = append(res.Missing, w)
		}
	}
	return res
}

// EffectiveMapping applies overrides on top of the intrinsic mapping.
// An override drops every intrinsic native column mapped to the same standard name.
func EffectiveMapping(intrinsic ColumnMapping, overrides Overrides) ColumnMapping {
	effective := intrinsic.Clone()
	for std, native := range overrides {
		if native == "" {
			continue
		}
		for n, s := range effective {
			if s == std {
				delete(effective, n)
			}
		}
	}
	for std, native := range overrides {
		if native == "" {
			continue
		}
		effective[native] = std
	}
	return effective
}

// Plan resolves the required columns plus whatever the normalizer needs to
// synthesize the ones the file lacks. It fails before any row is read when a
// required column can be neither fetched nor synthesized.
func Plan(required []string, resolve func(wanted []string) Resolution, meta Metadata) (Resolution, error) {
	first := resolve(required)

	wanted := append([]string(nil), required...)
	inWanted := make(map[string]bool, len(required))
	for _, r := range required {
		inWanted[r] = true
	}

	needs := make(map[string][]string)
	for _, col := range first.Missing {
		if !CanSynthesize(col) {
			return Resolution{}, &MissingInputError{Column: col}
		}
		if col == ColExperimentID {
			if _, ok := meta[MetaExperimentID]; !ok {
				return Resolution{}, &MissingInputError{Column: col}
			}
		}
		deps := SynthesisDependencies(col)
		needs[col] = deps
		for _, d := range deps {
			if !inWanted[d] {
				inWanted[d] = true
				wanted = append(wanted, d)
			}
		}
	}

	if len(wanted) == len(required) {
		return first, nil
	}

	res := resolve(wanted)
	direct := make(map[string]bool, len(res.Direct))
	for _, d := range res.Direct {
		direct[d] = true
	}
	for _, col := range first.Missing {
		for _, dep := range needs[col] {
			if !direct[dep] {
				return Resolution{}, fmt.Errorf("cannot compute %s: %w", col, &MissingInputError{Column: dep})
			}
		}
	}
	return res, nil
}
