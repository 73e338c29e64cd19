package main

import (
	"io"
	"math"

	jsoniter "github.com/json-iterator/go"
	"github.com/peterbourgon/ff/v4"
	"github.com/peterbourgon/ff/v4/ffval"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

type rootConfig struct {
	stdin  io.Reader
	stdout io.Writer
	stderr io.Writer

	logLevel string
	output   string

	logger *logrus.Logger
}

func (cfg *rootConfig) registerBaseFlags(fs *ff.FlagSet) {
	fs.AddFlag(ff.FlagConfig{
		ShortName:   'l',
		LongName:    "log",
		Value:       ffval.NewEnum(&cfg.logLevel, "info", "i", "debug", "d", "trace", "t", "none", "n"),
		Usage:       "log level: i/info, d/debug, t/trace, n/none",
		Placeholder: "LEVEL",
	})
	fs.AddFlag(ff.FlagConfig{
		ShortName:   'o',
		LongName:    "output",
		Value:       ffval.NewEnum(&cfg.output, "ndjson", "prettyjson"),
		Usage:       "output format: ndjson, prettyjson",
		Placeholder: "FORMAT",
	})
}

func (cfg *rootConfig) setupLogger() error {
	logger := logrus.New()
	logger.SetOutput(cfg.stderr)
	logger.SetFormatter(&logrus.TextFormatter{DisableTimestamp: true})

	switch cfg.logLevel {
	case "n", "none":
		logger.SetOutput(io.Discard)
	case "i", "info":
		logger.SetLevel(logrus.InfoLevel)
	case "d", "debug":
		logger.SetLevel(logrus.DebugLevel)
	case "t", "trace":
		logger.SetLevel(logrus.TraceLevel)
	default:
		return errors.Errorf("invalid log level %q", cfg.logLevel)
	}

	cfg.logger = logger
	return nil
}

// encoder returns a func that writes values to stdout in the selected output
// format.
func (cfg *rootConfig) encoder() func(v any) error {
	enc := jsoniter.ConfigCompatibleWithStandardLibrary.NewEncoder(cfg.stdout)
	if cfg.output == "prettyjson" {
		enc.SetIndent("", "    ")
	}
	return enc.Encode
}

// bufferKB converts a --buffer-kb flag value to the size type of the trace
// config, rejecting values that don't fit.
func bufferKB(kb int) (uint32, error) {
	if kb < 0 || uint64(kb) > math.MaxUint32 {
		return 0, errors.Errorf("invalid --buffer-kb %d", kb)
	}
	return uint32(kb), nil
}
