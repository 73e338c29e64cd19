//go:build !perfetto_debug

package pftrc

// BuildMode is the mode embedded in trace file names by default. Build with
// -tags perfetto_debug to mark traces as coming from a debug build.
const BuildMode = ModeRelease
