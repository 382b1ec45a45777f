package core

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

var (
	registry   = make(map[string]Driver)
	registryMu sync.RWMutex

	// ignoredSuffixes are recognized file name endings that carry no data.
	ignoredSuffixes = []string{".mps.txt"}
)

// Register adds a driver to the registry.
// Panics if a driver with the same name is already registered.
func Register(d Driver) {
	registryMu.Lock()
	defer registryMu.Unlock()

	if _, exists := registry[d.Name()]; exists {
		panic(fmt.Sprintf("driver already registered: %s", d.Name()))
	}
	registry[d.Name()] = d
}

// Drivers returns all registered drivers sorted by priority, then name.
func Drivers() []Driver {
	registryMu.RLock()
	defer registryMu.RUnlock()

	result := make([]Driver, 0, len(registry))
	for _, d := range registry {
		result = append(result, d)
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].Priority() != result[j].Priority() {
			return result[i].Priority() < result[j].Priority()
		}
		return result[i].Name() < result[j].Name()
	})
	return result
}

// DriversFor returns the drivers claiming ext, in priority order.
func DriversFor(ext string) []Driver {
	ext = strings.ToLower(ext)
	var result []Driver
	for _, d := range Drivers() {
		for _, e := range d.Extensions() {
			if e == ext {
				result = append(result, d)
				break
			}
		}
	}
	return result
}

// DriverForTags returns the highest-priority driver whose tag set equals tags.
func DriverForTags(tags TagSet) (Driver, error) {
	for _, d := range Drivers() {
		if d.Tags().Equal(tags) {
			return d, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrNoDriver, tags)
}

// RegisterIgnoredSuffix marks files ending in suffix as recognized but not
// ingestible. Matching is case-insensitive.
func RegisterIgnoredSuffix(suffix string) {
	registryMu.Lock()
	defer registryMu.Unlock()

	suffix = strings.ToLower(suffix)
	for _, s := range ignoredSuffixes {
		if s == suffix {
			return
		}
	}
	ignoredSuffixes = append(ignoredSuffixes, suffix)
}

func isIgnored(path string) bool {
	registryMu.RLock()
	defer registryMu.RUnlock()

	lower := strings.ToLower(path)
	for _, s := range ignoredSuffixes {
		if strings.HasSuffix(lower, s) {
			return true
		}
	}
	return false
}

// DriverCount returns the number of registered drivers.
func DriverCount() int {
	registryMu.RLock()
	defer registryMu.RUnlock()
	return len(registry)
}

// unregister removes a driver. Used by tests that install fakes.
func unregister(name string) {
	registryMu.Lock()
	defer registryMu.Unlock()
	delete(registry, name)
}
