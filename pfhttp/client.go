package pfhttp

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/bernerdschaefer/eventsource"
	"github.com/melatonin-dev/pftrc/pfbackend"
	"github.com/peterbourgon/unixtransport"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// HTTPClient is the subset of *http.Client used by the client.
type HTTPClient interface {
	Do(*http.Request) (*http.Response, error)
}

var _ HTTPClient = (*http.Client)(nil)

// Client drives a remote Server.
type Client struct {
	client HTTPClient
	uri    string
	logger logrus.FieldLogger
}

// NewClient returns a client for the server at uri. URIs without a scheme are
// treated as http, and unix:// URIs address a Unix domain socket. A nil client
// means a default client that supports both.
func NewClient(client HTTPClient, uri string, logger logrus.FieldLogger) *Client {
	if client == nil {
		client = &http.Client{Transport: defaultTransport()}
	}

	if !strings.Contains(uri, "://") {
		uri = "http://" + uri
	}

	if logger == nil {
		logger = logrus.StandardLogger()
	}

	return &Client{
		client: client,
		uri:    strings.TrimSuffix(uri, "/"),
		logger: logger,
	}
}

var registerOnce sync.Once

// defaultTransport is http.DefaultTransport with the Unix socket schemes
// registered. The stream client can't be given a client of its own, so the
// registration has to be on the default transport.
func defaultTransport() http.RoundTripper {
	registerOnce.Do(func() {
		if t, ok := http.DefaultTransport.(*http.Transport); ok {
			unixtransport.Register(t)
		}
	})
	return http.DefaultTransport
}

// endpoint returns the URL of the API path on the server. Unix socket URIs
// separate the socket path from the request path with a colon.
func (c *Client) endpoint(path string) string {
	uri := c.uri
	if isUnix(uri) && !strings.Contains(uri[strings.Index(uri, "://")+3:], ":") {
		uri += ":"
	}
	return uri + path
}

func isUnix(uri string) bool {
	return strings.HasPrefix(uri, "unix://") || strings.HasPrefix(uri, "http+unix://") || strings.HasPrefix(uri, "https+unix://")
}

// Start a session with one buffer of the given size. Zero means the server
// default.
func (c *Client) Start(ctx context.Context, bufferSizeKB uint32) (*Status, error) {
	uri := c.endpoint("/start")
	if bufferSizeKB > 0 {
		uri += "?buffer_kb=" + strconv.FormatUint(uint64(bufferSizeKB), 10)
	}

	var status Status
	if err := c.do(ctx, "POST", uri, nil, &status); err != nil {
		return nil, errors.Wrap(err, "start")
	}

	return &status, nil
}

// StartWithConfig starts a session with a custom config.
func (c *Client) StartWithConfig(ctx context.Context, cfg pfbackend.Config) (*Status, error) {
	body, err := json.Marshal(cfg)
	if err != nil {
		return nil, errors.Wrap(err, "encode config")
	}

	var status Status
	if err := c.do(ctx, "POST", c.endpoint("/start"), body, &status); err != nil {
		return nil, errors.Wrap(err, "start")
	}

	return &status, nil
}

// Stop the session, returning the path of the trace file on the server.
func (c *Client) Stop(ctx context.Context) (*StopResponse, error) {
	var res StopResponse
	if err := c.do(ctx, "POST", c.endpoint("/stop"), nil, &res); err != nil {
		return nil, errors.Wrap(err, "stop")
	}
	return &res, nil
}

// Status of the session.
func (c *Client) Status(ctx context.Context) (*Status, error) {
	var status Status
	if err := c.do(ctx, "GET", c.endpoint("/status"), nil, &status); err != nil {
		return nil, errors.Wrap(err, "status")
	}
	return &status, nil
}

// Last copies the most recent trace file to w.
func (c *Client) Last(ctx context.Context, w io.Writer) (int64, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", c.endpoint("/last"), nil)
	if err != nil {
		return 0, errors.Wrap(err, "create HTTP request")
	}

	res, err := c.client.Do(req)
	if err != nil {
		return 0, errors.Wrap(err, "execute HTTP request")
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		return 0, responseError(res)
	}

	n, err := io.Copy(w, res.Body)
	if err != nil {
		return n, errors.Wrap(err, "read trace")
	}

	return n, nil
}

func (c *Client) do(ctx context.Context, method, uri string, body []byte, dst any) error {
	req, err := http.NewRequestWithContext(ctx, method, uri, bytes.NewReader(body))
	if err != nil {
		return errors.Wrap(err, "create HTTP request")
	}

	if len(body) > 0 {
		req.Header.Set("content-type", "application/json; charset=utf-8")
	}

	res, err := c.client.Do(req)
	if err != nil {
		return errors.Wrap(err, "execute HTTP request")
	}
	defer func() {
		io.Copy(io.Discard, res.Body)
		res.Body.Close()
	}()

	if res.StatusCode != http.StatusOK {
		return responseError(res)
	}

	if err := json.NewDecoder(res.Body).Decode(dst); err != nil {
		return errors.Wrap(err, "decode response")
	}

	return nil
}

// StatusError is returned when the server responds with an error.
type StatusError struct {
	Code    int
	Message string
}

// Error implements the error interface.
func (e *StatusError) Error() string {
	if e.Message == "" {
		return "HTTP response " + strconv.Itoa(e.Code) + " " + http.StatusText(e.Code)
	}
	return "HTTP response " + strconv.Itoa(e.Code) + ": " + e.Message
}

func responseError(res *http.Response) error {
	var er errorResponse
	body, _ := io.ReadAll(io.LimitReader(res.Body, 64*1024))
	json.Unmarshal(body, &er)
	return &StatusError{Code: res.StatusCode, Message: er.Error}
}

// Stream live events in the given categories, or all categories if none are
// given, to ch. Stream reconnects after errors, and returns when the context
// is canceled.
func (c *Client) Stream(ctx context.Context, categories []string, ch chan<- pfbackend.Event) error {
	// EventSource reuses the request over reconnects, and treats context
	// cancelation as recoverable, so the request carries no context.
	uri, err := url.Parse(c.endpoint("/stream"))
	if err != nil {
		return errors.Wrap(err, "parse URI")
	}
	query := uri.Query()
	for _, category := range categories {
		query.Add("category", category)
	}
	query.Set("sendbuf", strconv.Itoa(cap(ch)+1))
	uri.RawQuery = query.Encode()

	req, err := http.NewRequest("GET", uri.String(), nil)
	if err != nil {
		return errors.Wrap(err, "create HTTP request")
	}

	if isUnix(c.uri) {
		defaultTransport()
	}

	es := eventsource.New(req, time.Second)
	go func() {
		<-ctx.Done()
		es.Close()
	}()

	for {
		ev, err := es.Read()
		if errors.Is(err, eventsource.ErrClosed) {
			return nil
		}
		if err != nil {
			return errors.Wrap(err, "read server-sent event")
		}

		switch ev.Type {
		case "init":
			c.logger.Debugf("stream connected: %s", ev.Data)

		case "stats":
			var stats pfbackend.StreamStats
			if err := json.Unmarshal(ev.Data, &stats); err != nil {
				return errors.Wrap(err, "invalid stats event")
			}
			c.logger.Debugf("stream stats: %s", stats)

		case "event":
			var event pfbackend.Event
			if err := json.Unmarshal(ev.Data, &event); err != nil {
				return errors.Wrap(err, "decode event")
			}
			select {
			case ch <- event:
			case <-ctx.Done():
				return nil
			}

		default:
			c.logger.Debugf("unknown stream event type %q", ev.Type)
		}
	}
}
