package harvester

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JonMunkholm/cycler/internal/core"
)

const overridesYAML = `
columns:
  temperature: "Temp 1"
files:
  - match: "*/rig-2/*"
    columns:
      amps: "Current (A)"
  - match: "*.xlsx"
    columns:
      temperature: "Aux T"
`

func TestParseOverrides(t *testing.T) {
	o, err := ParseOverrides([]byte(overridesYAML))
	require.NoError(t, err)

	assert.Equal(t, core.Overrides{core.ColTemperature: "Temp 1"}, o.For("/data/rig-1/cell.csv"))
	assert.Equal(t, core.Overrides{
		core.ColTemperature: "Temp 1",
		core.ColAmps:        "Current (A)",
	}, o.For("/data/rig-2/cell.csv"))
	assert.Equal(t, core.Overrides{
		core.ColTemperature: "Aux T",
		core.ColAmps:        "Current (A)",
	}, o.For("/data/rig-2/cell.xlsx"), "later entries win")
}

func TestParseOverrides_Empty(t *testing.T) {
	o, err := ParseOverrides(nil)
	require.NoError(t, err)
	assert.Empty(t, o.For("/data/cell.csv"))
}

func TestParseOverrides_Invalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{"unknown standard column", "columns: {current: I}", `"current" is not a standard column`},
		{"unknown file column", "files: [{match: '*', columns: {watts: P}}]", `files[0]: "watts"`},
		{"missing match", "files: [{columns: {amps: I}}]", "match is required"},
		{"bad pattern", "files: [{match: '[', columns: {amps: I}}]", "bad pattern"},
		{"unknown field", "colums: {amps: I}", "colums"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseOverrides([]byte(tt.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestLoadOverrides(t *testing.T) {
	o, err := LoadOverrides("")
	require.NoError(t, err)
	assert.Empty(t, o.For("x.csv"))

	path := filepath.Join(t.TempDir(), "overrides.yaml")
	require.NoError(t, os.WriteFile(path, []byte(overridesYAML), 0o644))
	o, err = LoadOverrides(path)
	require.NoError(t, err)
	assert.Len(t, o.Files, 2)

	_, err = LoadOverrides(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestMatchPath(t *testing.T) {
	tests := []struct {
		pattern string
		path    string
		want    bool
	}{
		{"*/rig-2/*", "/data/maccor/rig-2/cell.csv", true},
		{"*/rig-2/*", "rig-2/cell.csv", false},
		{"rig-2/*", "/data/rig-2/cell.csv", true},
		{"*.xlsx", "/data/rig-2/cell.xlsx", true},
		{"*.xlsx", "/data/rig-2/cell.csv", false},
		{"/data/*/cell.csv", "/data/rig-2/cell.csv", false},
		{"data/*/cell.csv", "/data/rig-2/cell.csv", true},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, matchPath(tt.pattern, tt.path), "matchPath(%q, %q)", tt.pattern, tt.path)
	}
}

func TestOverridesNilReceiver(t *testing.T) {
	var o *OverrideFile
	assert.Empty(t, o.For("/data/a.csv"))
}
