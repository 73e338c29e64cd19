package main

import (
	"context"
	"fmt"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/go-stack/stack"
	"github.com/melatonin-dev/pftrc"
	"github.com/melatonin-dev/pftrc/pfbackend"
	"github.com/melatonin-dev/pftrc/pfproto"
	"github.com/melatonin-dev/pftrc/pfsig"
	"github.com/oklog/run"
	"github.com/peterbourgon/ff/v4"
	"github.com/peterbourgon/ff/v4/ffval"
	"github.com/pkg/errors"
)

type recordConfig struct {
	*rootConfig

	events     int
	bufferKB   int
	dir        string
	configFile string
	format     string
	debugMode  bool
	interval   time.Duration
}

func (cfg *recordConfig) register(fs *ff.FlagSet) {
	fs.AddFlag(ff.FlagConfig{
		ShortName: 'n',
		LongName:  "events",
		Value:     ffval.NewValueDefault(&cfg.events, 10000),
		Usage:     "number of workload calls to trace",
	})
	fs.AddFlag(ff.FlagConfig{
		LongName: "buffer-kb",
		Value:    ffval.NewValueDefault(&cfg.bufferKB, pftrc.DefaultBufferSizeKB),
		Usage:    "trace buffer size in KB",
	})
	fs.AddFlag(ff.FlagConfig{
		ShortName:   'd',
		LongName:    "dir",
		Value:       ffval.NewValue(&cfg.dir),
		Usage:       "output directory (default Downloads, or Desktop on Windows)",
		Placeholder: "DIR",
	})
	fs.AddFlag(ff.FlagConfig{
		ShortName:   'c',
		LongName:    "config",
		Value:       ffval.NewValue(&cfg.configFile),
		Usage:       "trace config file (.yaml, .toml, .json), overrides --buffer-kb",
		Placeholder: "FILE",
	})
	fs.AddFlag(ff.FlagConfig{
		ShortName:   'f',
		LongName:    "format",
		Value:       ffval.NewEnum(&cfg.format, "proto", "json"),
		Usage:       "output file format: proto, json",
		Placeholder: "FORMAT",
	})
	fs.AddFlag(ff.FlagConfig{
		LongName:  "debug-mode",
		Value:     ffval.NewValue(&cfg.debugMode),
		Usage:     "name the file as a DEBUG build trace",
		NoDefault: true,
	})
	fs.AddFlag(ff.FlagConfig{
		LongName: "interval",
		Value:    ffval.NewValue(&cfg.interval),
		Usage:    "pause between workload calls",
	})
}

func (cfg *recordConfig) Exec(ctx context.Context, args []string) error {
	if cfg.events < 0 {
		return errors.Errorf("invalid --events %d", cfg.events)
	}
	sizeKB, err := bufferKB(cfg.bufferKB)
	if err != nil {
		return err
	}
	if sizeKB == 0 {
		return errors.Errorf("invalid --buffer-kb %d", cfg.bufferKB)
	}

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
	if cfg.debugMode {
		opts = append(opts, pftrc.WithMode(pftrc.ModeDebug))
	}

	session, err := pftrc.NewSession(opts...)
	if err != nil {
		return err
	}

	traceConfig := pfbackend.NewConfig(sizeKB)
	if cfg.configFile != "" {
		if traceConfig, err = pftrc.LoadConfig(cfg.configFile); err != nil {
			return err
		}
	}

	if err := session.BeginWithConfig(ctx, traceConfig); err != nil {
		return err
	}

	cfg.logger.Debugf("session %s started", session.ID())

	var g run.Group

	{
		ctx, cancel := context.WithCancel(ctx)
		g.Add(func() error {
			return cfg.workload(ctx, tracing)
		}, func(error) {
			cancel()
		})
	}

	{
		g.Add(run.SignalHandler(ctx, syscall.SIGINT, syscall.SIGTERM))
	}

	workloadErr := g.Run()

	var sigErr run.SignalError
	if errors.As(workloadErr, &sigErr) {
		cfg.logger.Infof("%s, writing partial trace", sigErr.Signal)
		workloadErr = nil
	}

	path, err := session.End(context.Background())
	if err != nil {
		return err
	}

	fmt.Fprintln(cfg.stdout, path)

	return workloadErr
}

// workload calls szudzikPair the configured number of times, tracing each
// call in the dsp category. It returns nil once every call is done.
func (cfg *recordConfig) workload(ctx context.Context, tracing *pfbackend.Tracing) error {
	var sum int
	for i := 0; i < cfg.events; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		sum += szudzikPair(tracing, i, cfg.events-i)
		if cfg.interval > 0 {
			contextSleep(ctx, cfg.interval)
		}
	}
	cfg.logger.Debugf("workload done, %d call(s), checksum %d", cfg.events, sum)
	return nil
}

var szudzikLabel atomic.Pointer[string]

// szudzikPair maps two integers to one, with the integers mapped to naturals
// first. It's traced as a slice named after itself.
func szudzikPair(tracing *pfbackend.Tracing, a, b int) int {
	label := szudzikLabel.Load()
	if label == nil {
		s := pfsig.Normalize(stack.Caller(0).Frame().Function, pfsig.DialectGo)
		label = &s
		szudzikLabel.Store(label)
	}

	tracing.Begin(pfbackend.CategoryDSP, *label, pfproto.Annotation{Name: "a", Value: a}, pfproto.Annotation{Name: "b", Value: b})
	defer tracing.End(pfbackend.CategoryDSP)

	A, B := natural(a), natural(b)
	if A >= B {
		return A*A + A + B
	}
	return A + B*B
}

func natural(x int) int {
	if x >= 0 {
		return 2 * x
	}
	return -2*x - 1
}

func contextSleep(ctx context.Context, d time.Duration) {
	select {
	case <-time.After(d):
	case <-ctx.Done():
	}
}
