package pfbackend

import (
	"math/rand/v2"

	"github.com/melatonin-dev/pftrc/pfproto"
)

// Track is a thread track: a timeline of its own, nested under the process
// track in the trace. Slices on one track must nest, so every goroutine that
// emits slices overlapping in time with another goroutine's needs a Track.
// A Track shouldn't be used by more than one goroutine at a time.
type Track struct {
	t    *Tracing
	uuid uint64
	tid  int32
	name string
}

// NewTrack returns a new thread track with the given name. Tracks live as long
// as the Tracing, and every trace read back describes all of them, so create
// one per long-lived worker rather than one per call.
func (t *Tracing) NewTrack(name string) *Track {
	t.mtx.Lock()
	defer t.mtx.Unlock()

	tr := &Track{
		t:    t,
		uuid: rand.Uint64() | 1,
		tid:  t.pid + int32(len(t.tracks)) + 1,
		name: name,
	}
	t.tracks = append(t.tracks, tr)
	return tr
}

// Name of the track.
func (tr *Track) Name() string {
	return tr.name
}

// Enabled is equivalent to Tracing.Enabled.
func (tr *Track) Enabled(category string) bool {
	return tr.t.Enabled(category)
}

// Begin starts a slice on the track.
func (tr *Track) Begin(category, name string, annotations ...pfproto.Annotation) {
	tr.t.emit(tr, pfproto.TypeSliceBegin, category, name, annotations)
}

// End finishes the most recent slice on the track.
func (tr *Track) End(category string) {
	tr.t.emit(tr, pfproto.TypeSliceEnd, category, "", nil)
}

// Instant records a zero-duration event on the track.
func (tr *Track) Instant(category, name string, annotations ...pfproto.Annotation) {
	tr.t.emit(tr, pfproto.TypeInstant, category, name, annotations)
}

func (tr *Track) descriptor() *pfproto.TrackDescriptor {
	return &pfproto.TrackDescriptor{
		UUID:   tr.uuid,
		Parent: tr.t.track,
		Name:   tr.name,
		Thread: &pfproto.ThreadDescriptor{
			PID:        tr.t.pid,
			TID:        tr.tid,
			ThreadName: tr.name,
		},
	}
}
