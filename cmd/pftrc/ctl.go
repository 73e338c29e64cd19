package main

import (
	"context"
	"fmt"
	"os"
	"syscall"

	"github.com/melatonin-dev/pftrc"
	"github.com/melatonin-dev/pftrc/internal/pfutil"
	"github.com/melatonin-dev/pftrc/pfbackend"
	"github.com/melatonin-dev/pftrc/pfhttp"
	"github.com/oklog/run"
	"github.com/peterbourgon/ff/v4"
	"github.com/peterbourgon/ff/v4/ffval"
	"github.com/pkg/errors"
)

type ctlConfig struct {
	*rootConfig

	uri        string
	bufferKB   int
	configFile string
	out        string
	categories []string
}

func (cfg *ctlConfig) register(fs *ff.FlagSet) {
	fs.AddFlag(ff.FlagConfig{
		ShortName:   'u',
		LongName:    "uri",
		Value:       ffval.NewValueDefault(&cfg.uri, "localhost:8711"),
		Usage:       "server URI, e.g. localhost:8711 or unix:///tmp/pftrc.sock",
		Placeholder: "URI",
	})
}

func (cfg *ctlConfig) registerStart(fs *ff.FlagSet) {
	fs.AddFlag(ff.FlagConfig{
		LongName: "buffer-kb",
		Value:    ffval.NewValue(&cfg.bufferKB),
		Usage:    "trace buffer size in KB (default server default)",
	})
	fs.AddFlag(ff.FlagConfig{
		ShortName:   'c',
		LongName:    "config",
		Value:       ffval.NewValue(&cfg.configFile),
		Usage:       "trace config file (.yaml, .toml, .json), overrides --buffer-kb",
		Placeholder: "FILE",
	})
}

func (cfg *ctlConfig) registerLast(fs *ff.FlagSet) {
	fs.AddFlag(ff.FlagConfig{
		LongName:    "out",
		Value:       ffval.NewValue(&cfg.out),
		Usage:       "output file (default the server's file name, in the current directory)",
		Placeholder: "FILE",
	})
}

func (cfg *ctlConfig) registerStream(fs *ff.FlagSet) {
	fs.AddFlag(ff.FlagConfig{
		ShortName:   'c',
		LongName:    "category",
		Value:       ffval.NewUniqueList(&cfg.categories),
		Usage:       "only stream events in this category (repeatable)",
		Placeholder: "CATEGORY",
	})
}

func (cfg *ctlConfig) client() *pfhttp.Client {
	return pfhttp.NewClient(nil, cfg.uri, cfg.logger)
}

func (cfg *ctlConfig) start(ctx context.Context, args []string) error {
	var (
		status *pfhttp.Status
		err    error
	)
	switch {
	case cfg.configFile != "":
		traceConfig, cfgErr := pftrc.LoadConfig(cfg.configFile)
		if cfgErr != nil {
			return cfgErr
		}
		status, err = cfg.client().StartWithConfig(ctx, traceConfig)
	default:
		sizeKB, kbErr := bufferKB(cfg.bufferKB)
		if kbErr != nil {
			return kbErr
		}
		status, err = cfg.client().Start(ctx, sizeKB)
	}
	if err != nil {
		return err
	}

	cfg.logger.Infof("session %s started, buffer %s", status.ID, pfutil.HumanizeBytes(status.Stats.Limit))

	return cfg.encoder()(status)
}

func (cfg *ctlConfig) stop(ctx context.Context, args []string) error {
	res, err := cfg.client().Stop(ctx)
	if err != nil {
		return err
	}

	cfg.logger.Infof("session %s stopped, wrote %s (%s)", res.ID, res.Path, pfutil.HumanizeBytes(res.Size))

	return cfg.encoder()(res)
}

func (cfg *ctlConfig) status(ctx context.Context, args []string) error {
	status, err := cfg.client().Status(ctx)
	if err != nil {
		return err
	}
	return cfg.encoder()(status)
}

func (cfg *ctlConfig) last(ctx context.Context, args []string) error {
	client := cfg.client()

	out := cfg.out
	if out == "" {
		status, err := client.Status(ctx)
		if err != nil {
			return err
		}
		if status.LastFile == "" {
			return errors.New("no trace file written yet")
		}
		out = baseName(status.LastFile)
	}

	f, err := os.Create(out)
	if err != nil {
		return errors.Wrap(err, "create output file")
	}

	n, err := client.Last(ctx, f)
	if err != nil {
		f.Close()
		os.Remove(out)
		return err
	}
	if err := f.Close(); err != nil {
		return errors.Wrap(err, "close output file")
	}

	fmt.Fprintln(cfg.stdout, out)
	cfg.logger.Infof("wrote %s (%s)", out, pfutil.HumanizeBytes(n))

	return nil
}

func (cfg *ctlConfig) stream(ctx context.Context, args []string) error {
	var (
		events = make(chan pfbackend.Event, 1000)
		encode = cfg.encoder()
		g      run.Group
	)

	{
		ctx, cancel := context.WithCancel(ctx)
		g.Add(func() error {
			return cfg.client().Stream(ctx, cfg.categories, events)
		}, func(error) {
			cancel()
		})
	}

	{
		ctx, cancel := context.WithCancel(ctx)
		g.Add(func() error {
			var count uint64
			for {
				select {
				case ev := <-events:
					count++
					encode(ev)
				case <-ctx.Done():
					cfg.logger.Debugf("emitted event count %d", count)
					return ctx.Err()
				}
			}
		}, func(error) {
			cancel()
		})
	}

	{
		g.Add(run.SignalHandler(ctx, syscall.SIGINT, syscall.SIGTERM))
	}

	return g.Run()
}

// baseName returns the last element of a path written by the server, which
// may use either separator.
func baseName(path string) string {
	for i := len(path) - 1; i >= 0; i-- {
		if path[i] == '/' || path[i] == '\\' {
			return path[i+1:]
		}
	}
	return path
}
