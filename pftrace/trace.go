//go:build perfetto

package pftrace

import (
	"sync"
	"sync/atomic"

	"github.com/go-stack/stack"
	"github.com/melatonin-dev/pftrc"
	"github.com/melatonin-dev/pftrc/pfbackend"
	"github.com/melatonin-dev/pftrc/pfproto"
	"github.com/melatonin-dev/pftrc/pfsig"
)

// Enabled reports whether event emission is compiled in.
const Enabled = true

var override atomic.Pointer[pfbackend.Tracing]

// SetTracing routes events to t instead of the backend of the default
// session. Passing nil restores the default.
func SetTracing(t *pfbackend.Tracing) {
	override.Store(t)
}

func tracing() *pfbackend.Tracing {
	if t := override.Load(); t != nil {
		return t
	}
	return pftrc.Default().Tracing()
}

// DSP starts a slice in the dsp category, named after the caller. Call the
// returned func to end it.
func DSP(args ...any) func() {
	t := tracing()
	if !t.Enabled(pfbackend.CategoryDSP) {
		return noop
	}
	return begin(t, pfbackend.CategoryDSP, label(1), args)
}

// Component starts a slice in the component category, named after the
// caller. Call the returned func to end it.
func Component(args ...any) func() {
	t := tracing()
	if !t.Enabled(pfbackend.CategoryComponent) {
		return noop
	}
	return begin(t, pfbackend.CategoryComponent, label(1), args)
}

// Event starts a slice with an explicit category and name. Call the returned
// func to end it.
func Event(category, name string, args ...any) func() {
	t := tracing()
	if !t.Enabled(category) {
		return noop
	}
	return begin(t, category, name, args)
}

// Instant records a zero-duration event.
func Instant(category, name string, args ...any) {
	t := tracing()
	if !t.Enabled(category) {
		return
	}
	t.Instant(category, name, pfproto.Annotations(args...)...)
}

// Label returns the normalized name of a function on the call stack. Label(0)
// names the function that calls Label.
func Label(skip int) string {
	return label(skip + 1)
}

// Track records events on a timeline of its own. The package-level functions
// record on the process track, which suits one goroutine at a time. Each
// goroutine whose slices can overlap with another's should own a Track.
type Track struct {
	tr *pfbackend.Track
}

// NewTrack returns a track with the given name, typically naming a worker.
func NewTrack(name string) *Track {
	return &Track{tr: tracing().NewTrack(name)}
}

// DSP is like the package-level DSP, on the track.
func (t *Track) DSP(args ...any) func() {
	if !t.tr.Enabled(pfbackend.CategoryDSP) {
		return noop
	}
	return begin(t.tr, pfbackend.CategoryDSP, label(1), args)
}

// Component is like the package-level Component, on the track.
func (t *Track) Component(args ...any) func() {
	if !t.tr.Enabled(pfbackend.CategoryComponent) {
		return noop
	}
	return begin(t.tr, pfbackend.CategoryComponent, label(1), args)
}

// Event is like the package-level Event, on the track.
func (t *Track) Event(category, name string, args ...any) func() {
	if !t.tr.Enabled(category) {
		return noop
	}
	return begin(t.tr, category, name, args)
}

// Instant is like the package-level Instant, on the track.
func (t *Track) Instant(category, name string, args ...any) {
	if !t.tr.Enabled(category) {
		return
	}
	t.tr.Instant(category, name, pfproto.Annotations(args...)...)
}

type slicer interface {
	Begin(category, name string, annotations ...pfproto.Annotation)
	End(category string)
}

func begin(s slicer, category, name string, args []any) func() {
	s.Begin(category, name, pfproto.Annotations(args...)...)
	return func() { s.End(category) }
}

// labels is keyed by call site PC, since inlined functions share the entry
// PC of their caller.
var labels sync.Map

func label(skip int) string {
	frame := stack.Caller(skip + 1).Frame()
	if frame.Function == "" {
		return "unknown"
	}

	if v, ok := labels.Load(frame.PC); ok {
		return v.(string)
	}

	s := pfsig.Normalize(frame.Function, pfsig.DialectGo)
	labels.Store(frame.PC, s)
	return s
}

func noop() {}
