//go:build !perfetto

package pftrace

// Enabled reports whether event emission is compiled in.
const Enabled = false

// DSP starts a slice in the dsp category, named after the caller. Call the
// returned func to end it.
func DSP(args ...any) func() { return noop }

// Component starts a slice in the component category, named after the
// caller. Call the returned func to end it.
func Component(args ...any) func() { return noop }

// Event starts a slice with an explicit category and name. Call the returned
// func to end it.
func Event(category, name string, args ...any) func() { return noop }

// Instant records a zero-duration event.
func Instant(category, name string, args ...any) {}

// Label returns the normalized name of a function on the call stack. Label(0)
// names the function that calls Label.
func Label(skip int) string { return "" }

// Track records events on a timeline of its own. The package-level functions
// record on the process track, which suits one goroutine at a time. Each
// goroutine whose slices can overlap with another's should own a Track.
type Track struct{}

// NewTrack returns a track with the given name, typically naming a worker.
func NewTrack(name string) *Track { return nil }

// DSP is like the package-level DSP, on the track.
func (t *Track) DSP(args ...any) func() { return noop }

// Component is like the package-level Component, on the track.
func (t *Track) Component(args ...any) func() { return noop }

// Event is like the package-level Event, on the track.
func (t *Track) Event(category, name string, args ...any) func() { return noop }

// Instant is like the package-level Instant, on the track.
func (t *Track) Instant(category, name string, args ...any) {}

func noop() {}
