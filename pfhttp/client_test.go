package pfhttp_test

import (
	"context"
	"net/http"
	"path/filepath"
	"testing"

	"github.com/melatonin-dev/pftrc"
	"github.com/melatonin-dev/pftrc/pfbackend"
	"github.com/melatonin-dev/pftrc/pfhttp"
	"github.com/peterbourgon/unixtransport/unixproxy"
	logtest "github.com/sirupsen/logrus/hooks/test"
)

func TestUnixSocket(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	tracing, err := pfbackend.New(pfbackend.InitArgs{Backends: pfbackend.InProcess})
	if err != nil {
		t.Fatal(err)
	}

	logger, _ := logtest.NewNullLogger()
	session, err := pftrc.NewSession(
		pftrc.WithTracing(tracing),
		pftrc.WithLogger(logger),
		pftrc.WithStaticDirectory(t.TempDir()),
	)
	if err != nil {
		t.Fatal(err)
	}

	uri := "unix://" + filepath.Join(t.TempDir(), "pftrc.sock")
	ln, err := unixproxy.ListenURI(ctx, uri)
	if err != nil {
		t.Fatal(err)
	}

	httpServer := &http.Server{Handler: pfhttp.NewServer(session, tracing, logger)}
	go httpServer.Serve(ln)
	defer httpServer.Close()

	client := pfhttp.NewClient(nil, uri, logger)

	status, err := client.Start(ctx, 8)
	if err != nil {
		t.Fatal(err)
	}
	assertEqual(t, true, status.Active)

	res, err := client.Stop(ctx)
	if err != nil {
		t.Fatal(err)
	}
	assertEqual(t, "perfetto-", filepath.Base(res.Path)[:9])
}
