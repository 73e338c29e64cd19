package pftrc

import (
	"os"
	"path/filepath"
	"strings"

	jsoniter "github.com/json-iterator/go"
	"github.com/melatonin-dev/pftrc/pfbackend"
	"github.com/pelletier/go-toml"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// LoadConfig reads a tracing session config from a YAML, TOML, or JSON file,
// chosen by file extension. The result is validated.
//
// A minimal YAML config looks like
//
//	buffers:
//	  - size_kb: 80000
//	data_sources:
//	  - name: track_event
//	    enabled_categories: [dsp]
func LoadConfig(path string) (pfbackend.Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return pfbackend.Config{}, errors.Wrap(err, "read config")
	}

	cfg, err := ParseConfig(data, filepath.Ext(path))
	if err != nil {
		return pfbackend.Config{}, errors.Wrap(err, path)
	}

	return cfg, nil
}

// ParseConfig parses and validates a tracing session config. The format is
// given as a file extension, with or without the leading dot.
func ParseConfig(data []byte, format string) (pfbackend.Config, error) {
	var cfg pfbackend.Config

	switch strings.ToLower(strings.TrimPrefix(format, ".")) {
	case "yaml", "yml":
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, errors.Wrap(err, "parse YAML")
		}
	case "toml":
		if err := toml.Unmarshal(data, &cfg); err != nil {
			return cfg, errors.Wrap(err, "parse TOML")
		}
	case "json":
		if err := jsoniter.ConfigCompatibleWithStandardLibrary.Unmarshal(data, &cfg); err != nil {
			return cfg, errors.Wrap(err, "parse JSON")
		}
	default:
		return cfg, errors.Errorf("unsupported config format %q", format)
	}

	if err := cfg.Validate(); err != nil {
		return cfg, errors.Wrap(err, "invalid config")
	}

	return cfg, nil
}
