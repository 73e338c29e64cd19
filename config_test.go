package pftrc_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/melatonin-dev/pftrc"
	"github.com/melatonin-dev/pftrc/pfbackend"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig(t *testing.T) {
	t.Parallel()

	want := pfbackend.Config{
		Buffers: []pfbackend.BufferConfig{{SizeKB: 2048}, {SizeKB: 512}},
		DataSources: []pfbackend.DataSourceConfig{
			{Name: "track_event", TargetBuffer: 0, EnabledCategories: []string{"dsp"}},
			{Name: "track_event", TargetBuffer: 1, DisabledCategories: []string{"dsp"}},
		},
		DurationMS: 5000,
	}

	for name, contents := range map[string]string{
		"config.yaml": `
buffers:
  - size_kb: 2048
  - size_kb: 512
data_sources:
  - name: track_event
    enabled_categories: [dsp]
  - name: track_event
    target_buffer: 1
    disabled_categories: [dsp]
duration_ms: 5000
`,
		"config.toml": `
duration_ms = 5000

[[buffers]]
size_kb = 2048

[[buffers]]
size_kb = 512

[[data_sources]]
name = "track_event"
enabled_categories = ["dsp"]

[[data_sources]]
name = "track_event"
target_buffer = 1
disabled_categories = ["dsp"]
`,
		"config.json": `{
  "buffers": [{"size_kb": 2048}, {"size_kb": 512}],
  "data_sources": [
    {"name": "track_event", "enabled_categories": ["dsp"]},
    {"name": "track_event", "target_buffer": 1, "disabled_categories": ["dsp"]}
  ],
  "duration_ms": 5000
}`,
	} {
		name, contents := name, contents
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			path := filepath.Join(t.TempDir(), name)
			require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
			have, err := pftrc.LoadConfig(path)
			require.NoError(t, err)
			require.Equal(t, want, have)
		})
	}
}

func TestLoadConfigErrors(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()

	_, err := pftrc.LoadConfig(filepath.Join(dir, "missing.yaml"))
	require.Error(t, err)

	for name, contents := range map[string]string{
		"bad.yaml":    "buffers: [",
		"bad.toml":    "buffers = ",
		"bad.json":    "{",
		"config.ini":  "[buffers]",
		"empty.yaml":  "data_sources: [{name: track_event}]",
		"ftrace.yaml": "buffers: [{size_kb: 1}]\ndata_sources: [{name: linux.ftrace}]",
	} {
		path := filepath.Join(dir, name)
		require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
		_, err := pftrc.LoadConfig(path)
		require.Error(t, err, name)
	}
}
