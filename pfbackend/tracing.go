// Package pfbackend is an in-process tracing backend that records track
// events and serializes them in the Perfetto trace format.
//
// The model follows the Perfetto SDK. The process initializes tracing once
// and registers its categories. It then creates sessions from a [Config],
// starts and stops them, and reads back the serialized trace of a stopped
// session. Events emitted with [Tracing.Begin], [Tracing.End] and
// [Tracing.Instant] are written to every started session whose config enables
// the event's category. They are recorded on the process track, which plays
// the part of the main thread. Goroutines whose slices overlap in time with
// others emit on a thread track of their own, see [Tracing.NewTrack].
//
// Emitting events is safe from any number of goroutines. Session control is
// expected to happen from one goroutine at a time.
package pfbackend

import (
	"context"
	"math/rand/v2"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/melatonin-dev/pftrc/internal/pfpubsub"
	"github.com/melatonin-dev/pftrc/pfproto"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// BackendType selects where trace data is recorded. Only the in-process
// backend is implemented.
type BackendType uint8

const (
	InProcess BackendType = 1 << iota
	System
)

// InitArgs configures a Tracing instance.
type InitArgs struct {
	// Backends must include InProcess.
	Backends BackendType

	// ProcessName is used to describe the process track. Optional, the
	// default is the base name of the executable.
	ProcessName string

	// Logger receives diagnostic messages. Optional.
	Logger logrus.FieldLogger
}

var (
	// ErrNotInitialized is returned when tracing is used before Initialize.
	ErrNotInitialized = errors.New("tracing not initialized")

	// ErrUnsupportedBackend is returned by Initialize when the in-process
	// backend isn't selected.
	ErrUnsupportedBackend = errors.New("unsupported tracing backend")

	// ErrInvalidState is returned when a session operation is called out of
	// order, e.g. reading a session that was never stopped.
	ErrInvalidState = errors.New("invalid session state")
)

// sequenceID is the trusted packet sequence used for every packet.
const sequenceID = 1

// Tracing is an initialized tracing backend.
type Tracing struct {
	logger      logrus.FieldLogger
	track       uint64
	pid         int32
	processName string
	cmdline     []string

	seq    atomic.Uint64
	active atomic.Int32

	mtx        sync.RWMutex
	categories map[string]Category
	sessions   map[*Session]struct{}
	tracks     []*Track

	broker *pfpubsub.Broker[Event]
}

// New returns a tracing backend that is independent of the process-wide one.
// Most programs should use Initialize.
func New(args InitArgs) (*Tracing, error) {
	if args.Backends&InProcess == 0 {
		return nil, errors.Wrapf(ErrUnsupportedBackend, "backends %#x", args.Backends)
	}

	if args.Logger == nil {
		args.Logger = logrus.StandardLogger()
	}

	if args.ProcessName == "" && len(os.Args) > 0 {
		args.ProcessName = filepath.Base(os.Args[0])
	}

	return &Tracing{
		logger:      args.Logger,
		track:       rand.Uint64() | 1, // zero means "no track"
		pid:         int32(os.Getpid()),
		processName: args.ProcessName,
		cmdline:     append([]string(nil), os.Args...),
		categories:  map[string]Category{},
		sessions:    map[*Session]struct{}{},
		broker:      pfpubsub.NewBroker[Event](),
	}, nil
}

var (
	globalMtx sync.Mutex
	global    atomic.Pointer[Tracing]
)

// Initialize the process-wide tracing backend. The first successful call
// creates it, later calls return the same instance and ignore args.
func Initialize(args InitArgs) (*Tracing, error) {
	globalMtx.Lock()
	defer globalMtx.Unlock()

	if t := global.Load(); t != nil {
		return t, nil
	}

	t, err := New(args)
	if err != nil {
		return nil, err
	}

	global.Store(t)
	return t, nil
}

// Global returns the process-wide tracing backend, or nil if Initialize
// hasn't been called yet.
func Global() *Tracing {
	return global.Load()
}

// Register makes the categories available for recording. Registering a
// category again updates its description.
func (t *Tracing) Register(categories ...Category) {
	t.mtx.Lock()
	defer t.mtx.Unlock()

	for _, c := range categories {
		t.categories[c.Name] = c
	}
}

// Categories returns the registered categories, sorted by name.
func (t *Tracing) Categories() []Category {
	t.mtx.RLock()
	defer t.mtx.RUnlock()

	cs := make([]Category, 0, len(t.categories))
	for _, c := range t.categories {
		cs = append(cs, c)
	}
	sort.Slice(cs, func(i, j int) bool { return cs[i].Name < cs[j].Name })
	return cs
}

// Enabled reports whether an event in the category would be recorded or
// streamed right now. Callers can use it to skip expensive annotations.
func (t *Tracing) Enabled(category string) bool {
	if t.active.Load() == 0 && !t.broker.Active() {
		return false
	}

	t.mtx.RLock()
	defer t.mtx.RUnlock()

	_, ok := t.categories[category]
	return ok
}

// Begin starts a slice with the given name on the process track. Slices nest,
// and each Begin must be matched by an End in the same category.
func (t *Tracing) Begin(category, name string, annotations ...pfproto.Annotation) {
	t.emit(nil, pfproto.TypeSliceBegin, category, name, annotations)
}

// End finishes the most recent slice on the process track.
func (t *Tracing) End(category string) {
	t.emit(nil, pfproto.TypeSliceEnd, category, "", nil)
}

// Instant records a zero-duration event on the process track.
func (t *Tracing) Instant(category, name string, annotations ...pfproto.Annotation) {
	t.emit(nil, pfproto.TypeInstant, category, name, annotations)
}

// Flush waits for events that are being written concurrently to land in their
// session buffers.
func (t *Tracing) Flush() {
	t.mtx.Lock()
	defer t.mtx.Unlock()
}

// Subscribe streams every emitted event accepted by allow to ch, until the
// context is canceled. Events are streamed even when no session is active.
// Slow receivers lose events rather than blocking emitters.
func (t *Tracing) Subscribe(ctx context.Context, allow func(Event) bool, ch chan<- Event) (StreamStats, error) {
	return t.broker.Subscribe(ctx, allow, ch)
}

// StreamStats returns the current stats of the subscription on ch.
func (t *Tracing) StreamStats(ch chan<- Event) (StreamStats, error) {
	return t.broker.Stats(ch)
}

// StreamStats counts what happened to the events offered to one subscriber.
type StreamStats = pfpubsub.Stats

// emit records an event on the track, or on the process track if track is nil.
func (t *Tracing) emit(track *Track, typ pfproto.EventType, category, name string, annotations []pfproto.Annotation) {
	recording, streaming := t.active.Load() > 0, t.broker.Active()
	if !recording && !streaming {
		return
	}

	t.mtx.RLock()
	defer t.mtx.RUnlock()

	if _, ok := t.categories[category]; !ok {
		return
	}

	var (
		now       = time.Now()
		uuid      = t.track
		trackName string
	)
	if track != nil {
		uuid, trackName = track.uuid, track.name
	}

	if recording {
		packet := pfproto.AppendPacket(nil, &pfproto.Packet{
			Timestamp:  uint64(now.UnixNano()),
			SequenceID: sequenceID,
			TrackEvent: &pfproto.TrackEvent{
				Type:        typ,
				TrackUUID:   uuid,
				Categories:  []string{category},
				Name:        name,
				Annotations: annotations,
			},
		})
		for s := range t.sessions {
			s.write(now, category, packet)
		}
	}

	if streaming {
		t.broker.Publish(Event{
			Seq:         t.seq.Add(1),
			When:        now.UTC(),
			Type:        typ,
			Category:    category,
			Name:        name,
			Track:       trackName,
			Annotations: annotations,
		})
	}
}

// descriptors are the first packets of every trace read back from a session:
// the process track, followed by every thread track.
func (t *Tracing) descriptors() []byte {
	b := pfproto.AppendPacket(nil, &pfproto.Packet{
		SequenceID:    sequenceID,
		SequenceFlags: pfproto.SeqIncrementalStateCleared,
		TrackDescriptor: &pfproto.TrackDescriptor{
			UUID: t.track,
			Name: t.processName,
			Process: &pfproto.ProcessDescriptor{
				PID:         t.pid,
				ProcessName: t.processName,
				Cmdline:     t.cmdline,
			},
		},
	})

	t.mtx.RLock()
	defer t.mtx.RUnlock()

	for _, tr := range t.tracks {
		b = pfproto.AppendPacket(b, &pfproto.Packet{
			SequenceID:      sequenceID,
			TrackDescriptor: tr.descriptor(),
		})
	}

	return b
}

func (t *Tracing) addSession(s *Session) {
	t.mtx.Lock()
	defer t.mtx.Unlock()

	if _, ok := t.sessions[s]; ok {
		return
	}
	t.sessions[s] = struct{}{}
	t.active.Add(1)
}

func (t *Tracing) removeSession(s *Session) {
	t.mtx.Lock()
	defer t.mtx.Unlock()

	if _, ok := t.sessions[s]; !ok {
		return
	}
	delete(t.sessions, s)
	t.active.Add(-1)
}
