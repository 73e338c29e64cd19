package main

import (
	"context"
	"net/http"
	"syscall"
	"time"

	"github.com/melatonin-dev/pftrc"
	"github.com/melatonin-dev/pftrc/pfbackend"
	"github.com/melatonin-dev/pftrc/pfhttp"
	"github.com/oklog/run"
	"github.com/peterbourgon/ff/v4"
	"github.com/peterbourgon/ff/v4/ffval"
	"github.com/peterbourgon/unixtransport/unixproxy"
	"github.com/pkg/errors"
)

type serveConfig struct {
	*rootConfig

	listenAddr string
	dir        string
	format     string
	workload   bool
}

func (cfg *serveConfig) register(fs *ff.FlagSet) {
	fs.AddFlag(ff.FlagConfig{
		LongName: "listen-addr",
		Value:    ffval.NewValueDefault(&cfg.listenAddr, "localhost:8711"),
		Usage:    "HTTP listen address, or unix:///path/to/socket",
	})
	fs.AddFlag(ff.FlagConfig{
		ShortName:   'd',
		LongName:    "dir",
		Value:       ffval.NewValue(&cfg.dir),
		Usage:       "output directory (default Downloads, or Desktop on Windows)",
		Placeholder: "DIR",
	})
	fs.AddFlag(ff.FlagConfig{
		ShortName:   'f',
		LongName:    "format",
		Value:       ffval.NewEnum(&cfg.format, "proto", "json"),
		Usage:       "output file format: proto, json",
		Placeholder: "FORMAT",
	})
	fs.AddFlag(ff.FlagConfig{
		LongName:  "workload",
		Value:     ffval.NewValue(&cfg.workload),
		Usage:     "continuously run the record workload, so there's something to trace",
		NoDefault: true,
	})
}

func (cfg *serveConfig) Exec(ctx context.Context, args []string) error {
	format, err := pftrc.ParseFormat(cfg.format)
	if err != nil {
		return err
	}

	tracing, err := pfbackend.Initialize(pfbackend.InitArgs{
		Backends:    pfbackend.InProcess,
		ProcessName: "pftrc",
		Logger:      cfg.logger,
	})
	if err != nil {
		return errors.Wrap(err, "initialize tracing")
	}

	opts := []pftrc.Option{
		pftrc.WithTracing(tracing),
		pftrc.WithLogger(cfg.logger),
		pftrc.WithFormat(format),
	}
	if cfg.dir != "" {
		opts = append(opts, pftrc.WithStaticDirectory(cfg.dir))
	}

	session, err := pftrc.NewSession(opts...)
	if err != nil {
		return err
	}

	ln, err := unixproxy.ListenURI(ctx, cfg.listenAddr)
	if err != nil {
		return errors.Wrap(err, "listen")
	}

	cfg.logger.Infof("listening on %s", cfg.listenAddr)

	var (
		server     = pfhttp.NewServer(session, tracing, cfg.logger)
		httpServer = &http.Server{Handler: server}
		g          run.Group
	)

	{
		g.Add(func() error {
			return httpServer.Serve(ln)
		}, func(error) {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			httpServer.Shutdown(ctx)
		})
	}

	if cfg.workload {
		ctx, cancel := context.WithCancel(ctx)
		g.Add(func() error {
			w := &recordConfig{rootConfig: cfg.rootConfig, events: 1000, interval: time.Millisecond}
			for ctx.Err() == nil {
				w.workload(ctx, tracing)
			}
			return ctx.Err()
		}, func(error) {
			cancel()
		})
	}

	{
		g.Add(run.SignalHandler(ctx, syscall.SIGINT, syscall.SIGTERM))
	}

	runErr := g.Run()

	// The HTTP server is down, so the session can be ended safely.
	path, err := server.Shutdown(context.Background())
	switch {
	case err != nil:
		cfg.logger.WithError(err).Errorf("end active session")
	case path != "":
		cfg.logger.Infof("active session ended, trace written to %s", path)
	}

	return runErr
}
