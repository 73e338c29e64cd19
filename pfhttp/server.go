// Package pfhttp provides remote control of a tracing session over HTTP.
//
// A [Server] starts and stops a [pftrc.Session], serves the most recent trace
// file, and streams live events as server-sent events. A [Client] drives a
// server, including one listening on a Unix domain socket.
package pfhttp

import (
	"context"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/bernerdschaefer/eventsource"
	jsoniter "github.com/json-iterator/go"
	"github.com/melatonin-dev/pftrc"
	"github.com/melatonin-dev/pftrc/pfbackend"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const maxRequestBodySizeBytes = 1 * 1024 * 1024 // 1MB

// Status describes the session controlled by a server.
type Status struct {
	Active   bool                   `json:"active"`
	ID       string                 `json:"id,omitempty"`
	Stats    pfbackend.SessionStats `json:"stats"`
	LastFile string                 `json:"last_file,omitempty"`
}

// StopResponse is returned when a session is stopped and its trace written.
type StopResponse struct {
	ID   string `json:"id"`
	Path string `json:"path"`
	Size int64  `json:"size"`
}

// Server implements the HTTP control API over a session.
//
//	POST /start?buffer_kb=N   start a session, optionally with a JSON config body
//	POST /stop                stop the session and write the trace file
//	GET  /status              describe the session
//	GET  /last                download the most recent trace file
//	GET  /stream              live events, as text/event-stream
type Server struct {
	mtx     sync.Mutex // serializes session control
	session *pftrc.Session
	tracing *pfbackend.Tracing
	logger  logrus.FieldLogger
	mux     *http.ServeMux
}

var _ http.Handler = (*Server)(nil)

// NewServer returns a server controlling the session. Events are streamed
// from tracing, or from the session's backend if tracing is nil. A nil logger
// means the logrus standard logger.
func NewServer(session *pftrc.Session, tracing *pfbackend.Tracing, logger logrus.FieldLogger) *Server {
	if tracing == nil {
		tracing = session.Tracing()
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	s := &Server{
		session: session,
		tracing: tracing,
		logger:  logger.WithField("component", "pfhttp"),
		mux:     http.NewServeMux(),
	}

	s.mux.HandleFunc("POST /start", s.handleStart)
	s.mux.HandleFunc("POST /stop", s.handleStop)
	s.mux.HandleFunc("GET /status", s.handleStatus)
	s.mux.HandleFunc("GET /last", s.handleLast)
	s.mux.HandleFunc("GET /stream", s.handleStream)

	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// Shutdown ends the active session, if any, and writes its trace. It's meant
// to be called once the HTTP server has stopped accepting requests.
func (s *Server) Shutdown(ctx context.Context) (string, error) {
	s.mtx.Lock()
	defer s.mtx.Unlock()

	if !s.session.Active() {
		return "", nil
	}

	return s.session.End(ctx)
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	var (
		ctx      = r.Context()
		bufferKB = uint32(pftrc.DefaultBufferSizeKB)
	)

	if raw := r.URL.Query().Get("buffer_kb"); raw != "" {
		v, err := parseUint32(raw)
		if err != nil {
			respondError(w, errors.Wrapf(err, "invalid buffer_kb %q", raw), http.StatusBadRequest)
			return
		}
		bufferKB = v
	}

	cfg := pfbackend.NewConfig(bufferKB)

	if requestHasContentType(r, "application/json") {
		body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxRequestBodySizeBytes))
		if err != nil {
			respondError(w, errors.Wrap(err, "read config"), http.StatusBadRequest)
			return
		}
		if cfg, err = pftrc.ParseConfig(body, "json"); err != nil {
			respondError(w, err, http.StatusBadRequest)
			return
		}
	}

	s.mtx.Lock()
	defer s.mtx.Unlock()

	switch err := s.session.BeginWithConfig(ctx, cfg); {
	case errors.Is(err, pftrc.ErrSessionActive):
		respondError(w, err, http.StatusConflict)
		return
	case err != nil:
		s.logger.WithError(err).Errorf("start session")
		respondError(w, err, http.StatusInternalServerError)
		return
	}

	s.logger.WithField("session", s.session.ID()).Infof("session started")

	respondJSON(w, http.StatusOK, s.status())
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	s.mtx.Lock()
	defer s.mtx.Unlock()

	id := s.session.ID()

	path, err := s.session.End(ctx)
	switch {
	case errors.Is(err, pftrc.ErrNoSession):
		respondError(w, err, http.StatusConflict)
		return
	case err != nil:
		respondError(w, err, http.StatusInternalServerError)
		return
	}

	res := StopResponse{ID: id, Path: path}
	if fi, err := os.Stat(path); err == nil {
		res.Size = fi.Size()
	}

	s.logger.WithField("session", id).Infof("session stopped")

	respondJSON(w, http.StatusOK, res)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.mtx.Lock()
	defer s.mtx.Unlock()

	respondJSON(w, http.StatusOK, s.status())
}

func (s *Server) handleLast(w http.ResponseWriter, r *http.Request) {
	s.mtx.Lock()
	path := s.session.LastFile()
	s.mtx.Unlock()

	if path == "" {
		respondError(w, errors.New("no trace file written yet"), http.StatusNotFound)
		return
	}

	w.Header().Set("content-disposition", `attachment; filename="`+filepath.Base(path)+`"`)
	http.ServeFile(w, r, path)
}

// status must be called with the mutex held.
func (s *Server) status() Status {
	return Status{
		Active:   s.session.Active(),
		ID:       s.session.ID(),
		Stats:    s.session.Stats(),
		LastFile: s.session.LastFile(),
	}
}

func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	if !requestExplicitlyAccepts(r, "text/event-stream") {
		err := errors.Errorf("invalid request Accept header (%s)", r.Header.Get("accept"))
		respondError(w, err, http.StatusBadRequest)
		return
	}

	var (
		query      = r.URL.Query()
		categories = query["category"]
		interval   = parseDefault(query.Get("stats"), time.ParseDuration, 10*time.Second)
		sendbuf    = parseRange(query.Get("sendbuf"), strconv.Atoi, 1, 100, 100000)
		eventc     = make(chan pfbackend.Event, sendbuf)
		donec      = make(chan struct{})
		logger     = s.logger.WithField("remote", r.RemoteAddr)
	)

	if interval < time.Second {
		interval = time.Second
	}

	allow := func(ev pfbackend.Event) bool {
		if len(categories) == 0 {
			return true
		}
		for _, c := range categories {
			if c == ev.Category {
				return true
			}
		}
		return false
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	go func() {
		defer close(donec)
		stats, err := s.tracing.Subscribe(ctx, allow, eventc)
		logger.Debugf("stream done, %s, error=%v", stats, err)
	}()
	defer func() {
		cancel()
		<-donec
	}()

	eventsource.Handler(func(lastId string, encoder *eventsource.Encoder, stop <-chan bool) {
		logger.Debugf("stream started, categories %v, send buffer %d", categories, sendbuf)

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		initc := make(chan struct{}, 1)
		initc <- struct{}{}

		for {
			select {
			case <-initc:
				data, err := json.Marshal(map[string]any{
					"categories": categories,
					"sendbuf":    cap(eventc),
				})
				if err != nil {
					logger.WithError(err).Errorf("JSON marshal init")
					continue
				}
				if err := encoder.Encode(eventsource.Event{Type: "init", Data: data}); err != nil {
					logger.WithError(err).Errorf("encode init")
					continue
				}

			case <-ticker.C:
				stats, err := s.tracing.StreamStats(eventc)
				if err != nil {
					continue // not subscribed yet
				}
				data, err := json.Marshal(stats)
				if err != nil {
					logger.WithError(err).Errorf("JSON marshal stats")
					continue
				}
				if err := encoder.Encode(eventsource.Event{Type: "stats", Data: data}); err != nil {
					logger.WithError(err).Errorf("encode stats")
					continue
				}

			case ev := <-eventc:
				data, err := json.Marshal(ev)
				if err != nil {
					logger.WithError(err).Errorf("JSON marshal event")
					continue
				}
				if err := encoder.Encode(eventsource.Event{
					Type: "event",
					ID:   strconv.FormatUint(ev.Seq, 10),
					Data: data,
				}); err != nil {
					logger.WithError(err).Errorf("encode event")
					continue
				}

			case <-donec:
				return

			case <-stop:
				logger.Debugf("stopping: stop signal")
				return

			case <-ctx.Done():
				return
			}
		}
	}).ServeHTTP(w, r)
}
