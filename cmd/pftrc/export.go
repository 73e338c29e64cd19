package main

import (
	"context"
	"os"

	"github.com/melatonin-dev/pftrc/internal/pfutil"
	"github.com/melatonin-dev/pftrc/pfproto"
	"github.com/peterbourgon/ff/v4"
	"github.com/peterbourgon/ff/v4/ffval"
	"github.com/pkg/errors"
)

type exportConfig struct {
	*rootConfig

	out string
}

func (cfg *exportConfig) register(fs *ff.FlagSet) {
	fs.AddFlag(ff.FlagConfig{
		LongName:    "out",
		Value:       ffval.NewValue(&cfg.out),
		Usage:       "output file (default stdout)",
		Placeholder: "FILE",
	})
}

func (cfg *exportConfig) Exec(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return errors.Errorf("exactly one trace file is required")
	}

	data, err := os.ReadFile(args[0])
	if err != nil {
		return errors.Wrap(err, "read trace")
	}

	out, err := pfproto.ConvertToChromeJSON(data)
	if err != nil {
		return errors.Wrap(err, args[0])
	}

	if cfg.out == "" {
		_, err := cfg.stdout.Write(out)
		return err
	}

	if err := os.WriteFile(cfg.out, out, 0o644); err != nil {
		return errors.Wrap(err, "write output")
	}

	cfg.logger.Infof("wrote %s (%s)", cfg.out, pfutil.HumanizeBytes(len(out)))

	return nil
}
