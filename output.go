package pftrc

import (
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/melatonin-dev/pftrc/internal/pfutil"
	"github.com/melatonin-dev/pftrc/pfproto"
	"github.com/pkg/errors"
)

// Mode is the build mode embedded in trace file names, so that traces of
// optimized and unoptimized builds aren't confused.
type Mode uint8

const (
	ModeRelease Mode = iota
	ModeDebug
)

// String implements fmt.Stringer.
func (m Mode) String() string {
	if m == ModeDebug {
		return "DEBUG"
	}
	return "RELEASE"
}

// Format is the encoding of written trace files.
type Format uint8

const (
	// FormatProto is the native Perfetto protobuf format.
	FormatProto Format = iota

	// FormatJSON is the Chrome trace event JSON format.
	FormatJSON
)

// String implements fmt.Stringer.
func (f Format) String() string {
	if f == FormatJSON {
		return "json"
	}
	return "proto"
}

// Ext returns the file extension for the format, including the dot.
func (f Format) Ext() string {
	if f == FormatJSON {
		return ".json"
	}
	return ".pftrace"
}

// ParseFormat parses "proto" (or "pftrace") and "json".
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "proto", "pftrace":
		return FormatProto, nil
	case "json":
		return FormatJSON, nil
	default:
		return FormatProto, errors.Errorf("unknown format %q", s)
	}
}

// TimestampLayout is the time layout used in trace file names.
const TimestampLayout = "2006-01-02_1504"

// Filename returns the name of a trace file written at t.
func Filename(mode Mode, format Format, t time.Time) string {
	return "perfetto-" + mode.String() + "-" + t.Format(TimestampLayout) + format.Ext()
}

// DefaultDirectory returns the directory trace files are written to: the
// user's Desktop on Windows, and the user's Downloads directory elsewhere.
// The directory isn't created if it doesn't exist.
func DefaultDirectory() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", errors.Wrap(err, "find home directory")
	}
	if runtime.GOOS == "windows" {
		return filepath.Join(home, "Desktop"), nil
	}
	return filepath.Join(home, "Downloads"), nil
}

func (s *Session) writeFile(data []byte) (string, error) {
	dir, err := s.dir()
	if err != nil {
		s.logger.WithError(err).Error("Failed to write perfetto trace file. Couldn't find the output directory.")
		return "", errors.Wrap(err, "resolve output directory")
	}

	if s.format == FormatJSON {
		if data, err = pfproto.ConvertToChromeJSON(data); err != nil {
			s.logger.WithError(err).Error("Failed to convert perfetto trace to JSON.")
			return "", err
		}
	}

	path := filepath.Join(dir, Filename(s.mode, s.format, s.now()))

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		s.logger.WithError(err).Error("Failed to write perfetto trace file. Check for missing permissions.")
		return "", errors.Wrap(err, "create trace file")
	}

	if _, err := f.WriteAt(data, 0); err != nil {
		f.Close()
		os.Remove(path)
		s.logger.WithError(err).Errorf("Failed to write perfetto trace file %s.", path)
		return "", errors.Wrap(err, "write trace file")
	}

	if err := f.Close(); err != nil {
		os.Remove(path)
		s.logger.WithError(err).Errorf("Failed to write perfetto trace file %s.", path)
		return "", errors.Wrap(err, "close trace file")
	}

	s.logger.WithField("size", pfutil.HumanizeBytes(len(data))).Infof("Wrote perfetto trace to: %s", path)

	return path, nil
}
