package pfbackend

import (
	"time"

	"github.com/pkg/errors"
)

// TrackEventDataSource is the name of the data source that records track
// events. It's the only data source this backend implements.
const TrackEventDataSource = "track_event"

// DefaultBufferSizeKB is the buffer size used when none is specified.
const DefaultBufferSizeKB = 80000

// Config describes a tracing session: the buffers that hold trace data, and
// the data sources that write into them.
type Config struct {
	Buffers     []BufferConfig     `yaml:"buffers" toml:"buffers" json:"buffers"`
	DataSources []DataSourceConfig `yaml:"data_sources" toml:"data_sources" json:"data_sources"`

	// DurationMS, if non-zero, stops recording events that many milliseconds
	// after the session is started. The session must still be stopped.
	DurationMS uint32 `yaml:"duration_ms" toml:"duration_ms" json:"duration_ms,omitempty"`
}

// BufferConfig is one trace buffer.
type BufferConfig struct {
	SizeKB uint32 `yaml:"size_kb" toml:"size_kb" json:"size_kb"`
}

// DataSourceConfig enables a data source and routes it to a buffer.
//
// For the track event data source, an empty EnabledCategories enables every
// registered category. DisabledCategories always wins.
type DataSourceConfig struct {
	Name               string   `yaml:"name" toml:"name" json:"name"`
	TargetBuffer       uint32   `yaml:"target_buffer" toml:"target_buffer" json:"target_buffer"`
	EnabledCategories  []string `yaml:"enabled_categories" toml:"enabled_categories" json:"enabled_categories,omitempty"`
	DisabledCategories []string `yaml:"disabled_categories" toml:"disabled_categories" json:"disabled_categories,omitempty"`
}

// NewConfig returns a config with one buffer of the given size, and the track
// event data source writing to it.
func NewConfig(bufferSizeKB uint32) Config {
	return Config{
		Buffers:     []BufferConfig{{SizeKB: bufferSizeKB}},
		DataSources: []DataSourceConfig{{Name: TrackEventDataSource}},
	}
}

// Validate checks the config for problems that would make a session useless.
func (cfg *Config) Validate() error {
	if len(cfg.Buffers) == 0 {
		return errors.New("at least one buffer is required")
	}
	for i, b := range cfg.Buffers {
		if b.SizeKB == 0 {
			return errors.Errorf("buffer %d: size must be greater than zero", i)
		}
	}

	var trackEvents int
	for i, ds := range cfg.DataSources {
		if ds.Name != TrackEventDataSource {
			return errors.Errorf("data source %d: unsupported data source %q", i, ds.Name)
		}
		if int(ds.TargetBuffer) >= len(cfg.Buffers) {
			return errors.Errorf("data source %d: target buffer %d doesn't exist", i, ds.TargetBuffer)
		}
		trackEvents++
	}
	if trackEvents == 0 {
		return errors.Errorf("the %s data source is required", TrackEventDataSource)
	}

	return nil
}

// Duration returns the configured duration limit, or zero.
func (cfg *Config) Duration() time.Duration {
	return time.Duration(cfg.DurationMS) * time.Millisecond
}

// enables reports whether the data source records events in the category.
func (ds *DataSourceConfig) enables(category string) bool {
	for _, c := range ds.DisabledCategories {
		if c == category {
			return false
		}
	}
	if len(ds.EnabledCategories) == 0 {
		return true
	}
	for _, c := range ds.EnabledCategories {
		if c == category || c == "*" {
			return true
		}
	}
	return false
}
