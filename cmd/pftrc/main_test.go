package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	jsoniter "github.com/json-iterator/go"
	"github.com/melatonin-dev/pftrc/pfproto"
)

func runCommand(t *testing.T, stdin string, args ...string) string {
	t.Helper()

	var stdout, stderr bytes.Buffer
	if err := exec(context.Background(), strings.NewReader(stdin), &stdout, &stderr, args); err != nil {
		t.Fatalf("%s: %v\n%s", strings.Join(args, " "), err, stderr.String())
	}
	return stdout.String()
}

func TestLabel(t *testing.T) {
	t.Parallel()

	have := runCommand(t, "", "label", "--dialect", "gcc",
		"void AudioProcessor::processBlock(juce::AudioBuffer<float>&, juce::MidiBuffer&)",
		"int szudzikPair(int, int)",
	)
	assertEqual(t, "AudioProcessor::processBlock\nszudzikPair\n", have)

	have = runCommand(t, strings.Join([]string{
		"github.com/acme/synth.(*Voice).Render",
		"main.main.func1",
		"",
	}, "\n"), "label", "--dialect", "go")
	assertEqual(t, "Voice::Render\nmain\n", have)
}

func TestRecordInspectExport(t *testing.T) {
	dir := t.TempDir()

	out := runCommand(t, "", "--log", "none", "record", "--events", "100", "--buffer-kb", "1024", "--dir", dir, "--debug-mode")
	path := strings.TrimSpace(out)
	assertEqual(t, dir, filepath.Dir(path))
	if !strings.HasPrefix(filepath.Base(path), "perfetto-DEBUG-") {
		t.Fatalf("unexpected file name %s", path)
	}

	var summary pfproto.Summary
	if err := jsoniter.UnmarshalFromString(runCommand(t, "", "--log", "none", "inspect", path), &summary); err != nil {
		t.Fatal(err)
	}
	assertEqual(t, 1, summary.Descriptors)
	assertEqual(t, 100, summary.Slices)
	assertEqual(t, 0, summary.Unbalanced)
	assertEqual(t, []pfproto.NameCount{{Name: "szudzikPair", Count: 100}}, summary.Names)
	assertEqual(t, []string{"pftrc"}, summary.Processes)

	packets := strings.Split(strings.TrimSpace(runCommand(t, "", "--log", "none", "inspect", "--packets", path)), "\n")
	assertEqual(t, 201, len(packets))

	exported := filepath.Join(dir, "trace.json")
	runCommand(t, "", "--log", "none", "export", "--out", exported, path)

	data, err := os.ReadFile(exported)
	if err != nil {
		t.Fatal(err)
	}
	var ct pfproto.ChromeTrace
	if err := jsoniter.Unmarshal(data, &ct); err != nil {
		t.Fatal(err)
	}
	assertEqual(t, 201, len(ct.TraceEvents))
	assertEqual(t, "process_name", ct.TraceEvents[0].Name)
	assertEqual(t, pfproto.PhaseBegin, ct.TraceEvents[1].Phase)
	assertEqual(t, "szudzikPair", ct.TraceEvents[1].Name)
}

func TestRecordJSONFormat(t *testing.T) {
	dir := t.TempDir()

	out := runCommand(t, "", "--log", "none", "record", "--events", "3", "--dir", dir, "--format", "json")
	path := strings.TrimSpace(out)
	assertEqual(t, ".json", filepath.Ext(path))

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	var ct pfproto.ChromeTrace
	if err := jsoniter.Unmarshal(data, &ct); err != nil {
		t.Fatal(err)
	}
	assertEqual(t, 7, len(ct.TraceEvents))
}

func TestRecordConfigFile(t *testing.T) {
	dir := t.TempDir()

	config := filepath.Join(dir, "trace.toml")
	if err := os.WriteFile(config, []byte(`
[[buffers]]
size_kb = 64

[[data_sources]]
name = "track_event"
disabled_categories = ["dsp"]
`), 0o644); err != nil {
		t.Fatal(err)
	}

	path := strings.TrimSpace(runCommand(t, "", "--log", "none", "record", "--events", "10", "--dir", dir, "--config", config))

	var summary pfproto.Summary
	if err := jsoniter.UnmarshalFromString(runCommand(t, "", "--log", "none", "inspect", path), &summary); err != nil {
		t.Fatal(err)
	}
	assertEqual(t, 0, summary.Events)
}

func TestErrors(t *testing.T) {
	t.Parallel()

	for _, args := range [][]string{
		{"inspect"},
		{"inspect", filepath.Join(t.TempDir(), "missing.pftrace")},
		{"export", "a", "b"},
		{"record", "--events", "-1"},
		{"record", "--buffer-kb", "0"},
		{"record", "--buffer-kb", "4294967296"},
		{"ctl", "start", "--buffer-kb", "4294967296"},
		{"label", "--dialect", "fortran"},
		{"--log", "loud"},
	} {
		var stdout, stderr bytes.Buffer
		if err := exec(context.Background(), strings.NewReader(""), &stdout, &stderr, args); err == nil {
			t.Errorf("%v: want error, have none", args)
		}
	}
}

func assertEqual[T any](t *testing.T, want, have T) {
	t.Helper()
	if !cmp.Equal(want, have) {
		t.Fatal(cmp.Diff(want, have))
	}
}
