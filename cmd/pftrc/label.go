package main

import (
	"bufio"
	"context"
	"fmt"

	"github.com/melatonin-dev/pftrc/pfsig"
	"github.com/peterbourgon/ff/v4"
	"github.com/pkg/errors"
)

type labelConfig struct {
	*rootConfig

	dialect pfsig.Dialect
}

func (cfg *labelConfig) register(fs *ff.FlagSet) {
	fs.AddFlag(ff.FlagConfig{
		LongName:    "dialect",
		Value:       &cfg.dialect,
		Usage:       "signature grammar: auto, gcc, msvc, go",
		Placeholder: "DIALECT",
	})
}

func (cfg *labelConfig) Exec(ctx context.Context, args []string) error {
	if len(args) > 0 {
		for _, raw := range args {
			fmt.Fprintln(cfg.stdout, pfsig.Normalize(raw, cfg.dialect))
		}
		return nil
	}

	var (
		s   = bufio.NewScanner(cfg.stdin)
		buf []byte
	)
	for s.Scan() {
		buf = pfsig.Append(buf[:0], s.Text(), cfg.dialect)
		buf = append(buf, '\n')
		if _, err := cfg.stdout.Write(buf); err != nil {
			return err
		}
	}
	if err := s.Err(); err != nil {
		return errors.Wrap(err, "read stdin")
	}

	return nil
}
