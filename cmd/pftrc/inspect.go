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

type inspectConfig struct {
	*rootConfig

	packets bool
}

func (cfg *inspectConfig) register(fs *ff.FlagSet) {
	fs.AddFlag(ff.FlagConfig{
		ShortName: 'p',
		LongName:  "packets",
		Value:     ffval.NewValue(&cfg.packets),
		Usage:     "print every decoded packet instead of a summary",
		NoDefault: true,
	})
}

func (cfg *inspectConfig) Exec(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return errors.Errorf("exactly one trace file is required")
	}

	data, err := os.ReadFile(args[0])
	if err != nil {
		return errors.Wrap(err, "read trace")
	}

	packets, err := pfproto.Decode(data)
	if err != nil {
		return errors.Wrap(err, args[0])
	}

	encode := cfg.encoder()

	if cfg.packets {
		for _, p := range packets {
			if err := encode(p); err != nil {
				return err
			}
		}
		return nil
	}

	summary := pfproto.Summarize(packets)
	cfg.logger.Infof("%s: %s, %d packet(s), %d event(s) over %s", args[0], pfutil.HumanizeBytes(len(data)), summary.Packets, summary.Events, pfutil.HumanizeDuration(summary.Span))
	if summary.Unbalanced > 0 {
		cfg.logger.Warnf("%d unbalanced slice event(s)", summary.Unbalanced)
	}
	if summary.Dropped {
		cfg.logger.Warnf("trace has dropped packets")
	}

	return encode(summary)
}
