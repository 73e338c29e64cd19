package pfbackend

import (
	"context"
	"time"

	"github.com/melatonin-dev/pftrc/internal/pfringbuf"
	"github.com/melatonin-dev/pftrc/internal/pfutil"
	"github.com/melatonin-dev/pftrc/pfproto"
	"github.com/oklog/ulid/v2"
	"github.com/pkg/errors"
)

type sessionState uint8

const (
	stateNew sessionState = iota
	stateConfigured
	stateStarted
	stateStopped
)

func (s sessionState) String() string {
	switch s {
	case stateNew:
		return "new"
	case stateConfigured:
		return "configured"
	case stateStarted:
		return "started"
	case stateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Session records events into its own buffers between StartBlocking and
// StopBlocking. Sessions are single use.
type Session struct {
	t        *Tracing
	id       ulid.ULID
	state    sessionState
	cfg      Config
	buffers  []*pfringbuf.RingBuffer[[]byte]
	routes   []route
	started  time.Time
	deadline time.Time // zero means no limit
}

type route struct {
	ds  DataSourceConfig
	buf *pfringbuf.RingBuffer[[]byte]
}

// NewTrace returns a new, unconfigured session.
func (t *Tracing) NewTrace() *Session {
	return &Session{
		t:  t,
		id: ulid.Make(),
	}
}

// ID returns the unique ID of the session.
func (s *Session) ID() string {
	return s.id.String()
}

// Setup validates and applies the config. It must be called before
// StartBlocking, and may be called again to replace the config until then.
func (s *Session) Setup(cfg Config) error {
	switch s.state {
	case stateNew, stateConfigured:
	default:
		return errors.Wrapf(ErrInvalidState, "setup: session is %s", s.state)
	}

	if err := cfg.Validate(); err != nil {
		return errors.Wrap(err, "invalid config")
	}

	s.cfg = cfg
	s.state = stateConfigured
	return nil
}

// StartBlocking allocates the session buffers and starts recording. It returns
// once the session is receiving events.
func (s *Session) StartBlocking(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if s.state != stateConfigured {
		return errors.Wrapf(ErrInvalidState, "start: session is %s", s.state)
	}

	s.buffers = make([]*pfringbuf.RingBuffer[[]byte], len(s.cfg.Buffers))
	for i, b := range s.cfg.Buffers {
		s.buffers[i] = pfringbuf.NewBytes(int(b.SizeKB) * 1024)
	}

	s.routes = make([]route, len(s.cfg.DataSources))
	for i, ds := range s.cfg.DataSources {
		s.routes[i] = route{ds: ds, buf: s.buffers[ds.TargetBuffer]}
	}

	s.started = time.Now()
	if d := s.cfg.Duration(); d > 0 {
		s.deadline = s.started.Add(d)
	}
	s.state = stateStarted

	s.t.addSession(s)

	s.t.logger.WithField("session", s.ID()).Debugf("tracing session started, %d buffer(s)", len(s.buffers))

	return nil
}

// StopBlocking stops recording. Events emitted concurrently with the stop are
// either fully recorded or not at all. Stopping a stopped session is a no-op.
func (s *Session) StopBlocking(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	switch s.state {
	case stateStarted:
	case stateStopped:
		return nil
	default:
		return errors.Wrapf(ErrInvalidState, "stop: session is %s", s.state)
	}

	s.t.removeSession(s)
	s.state = stateStopped

	stats := s.Stats()
	s.t.logger.WithField("session", s.ID()).Debugf("tracing session stopped after %s, %d packet(s), %d dropped", pfutil.HumanizeDuration(time.Since(s.started)), stats.Packets, stats.Dropped)
	if stats.Dropped > 0 {
		s.t.logger.WithField("session", s.ID()).Warnf("%d packet(s) dropped, consider a larger buffer", stats.Dropped)
	}

	return nil
}

// ReadTraceBlocking returns the complete serialized trace of a stopped
// session: descriptors for the process track and every thread track, followed
// by the contents of each buffer in order. In a buffer that dropped its oldest
// packets, the first packet kept is flagged with PreviousPacketDropped, and
// slice ends whose begin was dropped are left out.
func (s *Session) ReadTraceBlocking(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if s.state != stateStopped {
		return nil, errors.Wrapf(ErrInvalidState, "read: session is %s", s.state)
	}

	stats := s.Stats()
	data := make([]byte, 0, stats.Bytes+256)
	data = append(data, s.t.descriptors()...)
	for i, buf := range s.buffers {
		if _, _, drops := buf.Stats(); drops > 0 {
			var err error
			if data, err = appendAfterDrops(data, buf); err != nil {
				return nil, errors.Wrapf(err, "buffer %d", i)
			}
			continue
		}
		buf.Walk(func(packet []byte) error {
			data = append(data, packet...)
			return nil
		})
	}

	return data, nil
}

func appendAfterDrops(dst []byte, buf *pfringbuf.RingBuffer[[]byte]) ([]byte, error) {
	var (
		first = true
		depth = map[uint64]int{}
	)
	err := buf.Walk(func(packet []byte) error {
		packets, err := pfproto.Decode(packet)
		if err != nil {
			return err
		}
		if len(packets) != 1 {
			return errors.Errorf("want 1 packet per entry, have %d", len(packets))
		}

		p := packets[0]
		if ev := p.TrackEvent; ev != nil {
			switch ev.Type {
			case pfproto.TypeSliceBegin:
				depth[ev.TrackUUID]++
			case pfproto.TypeSliceEnd:
				if depth[ev.TrackUUID] <= 0 {
					return nil // begin was dropped
				}
				depth[ev.TrackUUID]--
			}
		}

		if first {
			first = false
			p.PreviousPacketDropped = true
			dst = pfproto.AppendPacket(dst, &p)
			return nil
		}

		dst = append(dst, packet...)
		return nil
	})
	return dst, err
}

// SessionStats summarizes the buffers of a session.
type SessionStats struct {
	Packets int    `json:"packets"`
	Bytes   int    `json:"bytes"`
	Limit   int    `json:"limit"`
	Dropped uint64 `json:"dropped"`
}

// Stats returns the current buffer usage of the session.
func (s *Session) Stats() SessionStats {
	var stats SessionStats
	for _, buf := range s.buffers {
		count, used, drops := buf.Stats()
		stats.Packets += count
		stats.Bytes += used
		stats.Limit += buf.Limit()
		stats.Dropped += drops
	}
	return stats
}

// write is called by the backend, with its read lock held, for every event
// while the session is started.
func (s *Session) write(now time.Time, category string, packet []byte) {
	if !s.deadline.IsZero() && now.After(s.deadline) {
		return
	}

	var written []*pfringbuf.RingBuffer[[]byte]
	for _, r := range s.routes {
		if !r.ds.enables(category) {
			continue
		}
		if contains(written, r.buf) {
			continue // two data sources on one buffer record once
		}
		r.buf.Add(packet)
		written = append(written, r.buf)
	}
}

func contains[T comparable](s []T, v T) bool {
	for _, x := range s {
		if x == v {
			return true
		}
	}
	return false
}
