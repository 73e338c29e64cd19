package pftrc

import (
	"context"
	"sync"
	"time"

	"github.com/melatonin-dev/pftrc/pfbackend"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// Category names recognized by default.
const (
	CategoryComponent = pfbackend.CategoryComponent
	CategoryDSP       = pfbackend.CategoryDSP
)

// DefaultBufferSizeKB is the buffer size used by Begin when passed zero.
const DefaultBufferSizeKB = pfbackend.DefaultBufferSizeKB

var (
	// ErrSessionActive is returned by Begin when a session is already active.
	ErrSessionActive = errors.New("tracing session already active")

	// ErrNoSession is returned by End when no session is active.
	ErrNoSession = errors.New("no active tracing session")
)

// Session owns at most one active tracing session, and writes the captured
// trace to a file when it ends.
type Session struct {
	tracing *pfbackend.Tracing
	active  *pfbackend.Session
	logger  logrus.FieldLogger
	dir     func() (string, error)
	now     func() time.Time
	mode    Mode
	format  Format
	last    string
}

// Option configures a Session.
type Option func(*Session)

// WithLogger sets the logger for diagnostic messages. The default is the
// logrus standard logger.
func WithLogger(logger logrus.FieldLogger) Option {
	return func(s *Session) { s.logger = logger }
}

// WithTracing sets the tracing backend. The default is the process-wide
// backend, initialized on demand.
func WithTracing(t *pfbackend.Tracing) Option {
	return func(s *Session) { s.tracing = t }
}

// WithDirectory sets the function that chooses the output directory. The
// default is DefaultDirectory.
func WithDirectory(dir func() (string, error)) Option {
	return func(s *Session) { s.dir = dir }
}

// WithStaticDirectory writes trace files to dir.
func WithStaticDirectory(dir string) Option {
	return WithDirectory(func() (string, error) { return dir, nil })
}

// WithClock sets the clock used to timestamp file names.
func WithClock(now func() time.Time) Option {
	return func(s *Session) { s.now = now }
}

// WithMode overrides the build mode embedded in file names.
func WithMode(mode Mode) Option {
	return func(s *Session) { s.mode = mode }
}

// WithFormat sets the output file format. The default is FormatProto.
func WithFormat(format Format) Option {
	return func(s *Session) { s.format = format }
}

// NewSession returns an idle session. Unless WithTracing is given, the
// process-wide backend is initialized. The default categories are registered
// with the backend in either case.
func NewSession(opts ...Option) (*Session, error) {
	s := &Session{
		logger: logrus.StandardLogger(),
		dir:    DefaultDirectory,
		now:    time.Now,
		mode:   BuildMode,
		format: FormatProto,
	}
	for _, opt := range opts {
		opt(s)
	}

	if s.tracing == nil {
		t, err := pfbackend.Initialize(pfbackend.InitArgs{
			Backends: pfbackend.InProcess,
			Logger:   s.logger,
		})
		if err != nil {
			return nil, errors.Wrap(err, "initialize tracing")
		}
		s.tracing = t
	}

	s.tracing.Register(pfbackend.DefaultCategories...)

	return s, nil
}

var (
	defaultOnce    sync.Once
	defaultSession *Session
)

// Default returns the process-wide session, creating it on first use. It
// panics if the tracing backend can't be initialized.
func Default() *Session {
	defaultOnce.Do(func() {
		s, err := NewSession()
		if err != nil {
			panic(errors.Wrap(err, "create default tracing session"))
		}
		defaultSession = s
	})
	return defaultSession
}

// Begin starts a session with one buffer of the given size, recording track
// events in every registered category. A size of zero means
// DefaultBufferSizeKB. Begin returns once recording has started.
func (s *Session) Begin(ctx context.Context, bufferSizeKB uint32) error {
	if bufferSizeKB == 0 {
		bufferSizeKB = DefaultBufferSizeKB
	}
	return s.BeginWithConfig(ctx, pfbackend.NewConfig(bufferSizeKB))
}

// BeginWithConfig starts a session with a custom config.
func (s *Session) BeginWithConfig(ctx context.Context, cfg pfbackend.Config) error {
	if s.active != nil {
		return ErrSessionActive
	}

	session := s.tracing.NewTrace()
	if err := session.Setup(cfg); err != nil {
		return errors.Wrap(err, "set up tracing session")
	}
	if err := session.StartBlocking(ctx); err != nil {
		return errors.Wrap(err, "start tracing session")
	}

	s.active = session
	s.logger.WithField("session", session.ID()).Debugf("tracing started")

	return nil
}

// End stops the active session and writes the trace to a new file, returning
// its path. If the context is done before the trace has been read back, End
// returns the error and the session stays active, so End can be called again.
// Once the trace is read back the session is idle, whether or not the write
// succeeds. If the file can't be written, End logs the problem, removes any
// partial file, and returns an empty path along with the error.
func (s *Session) End(ctx context.Context) (string, error) {
	session := s.active
	if session == nil {
		return "", ErrNoSession
	}

	// Make sure the last event is closed.
	s.tracing.Flush()

	if err := session.StopBlocking(ctx); err != nil {
		return "", errors.Wrap(err, "stop tracing session")
	}

	data, err := session.ReadTraceBlocking(ctx)
	if err != nil {
		return "", errors.Wrap(err, "read trace")
	}

	s.active = nil

	path, err := s.writeFile(data)
	if err != nil {
		return "", err
	}

	s.last = path
	return path, nil
}

// Active reports whether a session is active.
func (s *Session) Active() bool {
	return s.active != nil
}

// ID returns the ID of the active session, or the empty string.
func (s *Session) ID() string {
	if s.active == nil {
		return ""
	}
	return s.active.ID()
}

// Stats returns the buffer usage of the active session.
func (s *Session) Stats() pfbackend.SessionStats {
	if s.active == nil {
		return pfbackend.SessionStats{}
	}
	return s.active.Stats()
}

// LastFile returns the path of the most recently written trace file, or the
// empty string.
func (s *Session) LastFile() string {
	return s.last
}

// Tracing returns the backend that the session records from.
func (s *Session) Tracing() *pfbackend.Tracing {
	return s.tracing
}
