package pftrc_test

import (
	"context"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/melatonin-dev/pftrc"
	"github.com/melatonin-dev/pftrc/pfbackend"
	"github.com/melatonin-dev/pftrc/pfproto"
	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/require"
)

var fileNameRegexp = regexp.MustCompile(`^perfetto-(DEBUG|RELEASE)-\d{4}-\d{2}-\d{2}_\d{4}\.pftrace$`)

func fixedClock() time.Time {
	return time.Date(2024, 3, 1, 13, 42, 59, 0, time.UTC)
}

type fixture struct {
	tracing *pfbackend.Tracing
	session *pftrc.Session
	hook    *logtest.Hook
	dir     string
}

func newFixture(t *testing.T, opts ...pftrc.Option) *fixture {
	t.Helper()

	tracing, err := pfbackend.New(pfbackend.InitArgs{Backends: pfbackend.InProcess})
	require.NoError(t, err)

	logger, hook := logtest.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)

	dir := t.TempDir()
	session, err := pftrc.NewSession(append([]pftrc.Option{
		pftrc.WithTracing(tracing),
		pftrc.WithLogger(logger),
		pftrc.WithStaticDirectory(dir),
		pftrc.WithClock(fixedClock),
	}, opts...)...)
	require.NoError(t, err)

	return &fixture{tracing: tracing, session: session, hook: hook, dir: dir}
}

func szudzikPair(tr *pfbackend.Tracing, a, b int) int {
	tr.Begin(pftrc.CategoryDSP, "szudzikPair")
	defer tr.End(pftrc.CategoryDSP)

	A, B := 2*a, 2*b
	if a < 0 {
		A = -2*a - 1
	}
	if b < 0 {
		B = -2*b - 1
	}
	if A >= B {
		return A*A + A + B
	}
	return A + B*B
}

func TestSessionEndToEnd(t *testing.T) {
	t.Parallel()

	var (
		ctx = context.Background()
		f   = newFixture(t, pftrc.WithMode(pftrc.ModeDebug))
		n   = 100
	)

	require.False(t, f.session.Active())
	require.NoError(t, f.session.Begin(ctx, 1024))
	require.True(t, f.session.Active())
	require.Len(t, f.session.ID(), 26)

	for i := 0; i < n; i++ {
		szudzikPair(f.tracing, i, -i)
	}
	stats := f.session.Stats()
	require.Equal(t, 2*n, stats.Packets)

	path, err := f.session.End(ctx)
	require.NoError(t, err)
	require.False(t, f.session.Active())
	require.Empty(t, f.session.ID())
	require.Equal(t, path, f.session.LastFile())

	require.Equal(t, f.dir, filepath.Dir(path))
	require.Equal(t, "perfetto-DEBUG-2024-03-01_1342.pftrace", filepath.Base(path))
	require.Regexp(t, fileNameRegexp, filepath.Base(path))

	entries, err := os.ReadDir(f.dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	packets, err := pfproto.Decode(data)
	require.NoError(t, err)

	// The file holds exactly what the backend read back: the process track
	// descriptor followed by every buffered packet.
	fi, err := os.Stat(path)
	require.NoError(t, err)
	require.Equal(t, int64(len(data)), fi.Size())
	require.Equal(t, len(pfproto.AppendPacket(nil, &packets[0]))+stats.Bytes, len(data))

	summary := pfproto.Summarize(packets)
	require.Equal(t, 1, summary.Descriptors)
	require.Equal(t, n, summary.Slices)
	require.Equal(t, 0, summary.Unbalanced)
	require.Equal(t, []pfproto.NameCount{{Name: "szudzikPair", Count: n}}, summary.Names)

	info := f.hook.LastEntry()
	require.NotNil(t, info)
	require.Equal(t, logrus.InfoLevel, info.Level)
	require.Equal(t, "Wrote perfetto trace to: "+path, info.Message)
}

func TestSessionEndUnwritable(t *testing.T) {
	t.Parallel()

	var (
		ctx     = context.Background()
		missing = filepath.Join(t.TempDir(), "does", "not", "exist")
		f       = newFixture(t, pftrc.WithStaticDirectory(missing))
	)

	require.NoError(t, f.session.Begin(ctx, 64))
	f.tracing.Instant(pftrc.CategoryComponent, "paint")

	path, err := f.session.End(ctx)
	require.Error(t, err)
	require.Empty(t, path)
	require.False(t, f.session.Active())
	require.Empty(t, f.session.LastFile())

	_, statErr := os.Stat(missing)
	require.True(t, os.IsNotExist(statErr))

	entry := f.hook.LastEntry()
	require.NotNil(t, entry)
	require.Equal(t, logrus.ErrorLevel, entry.Level)
	require.Contains(t, entry.Message, "Check for missing permissions")

	// A failed write doesn't prevent the next session.
	require.NoError(t, f.session.Begin(ctx, 64))
	_, err = f.session.End(ctx)
	require.Error(t, err)
}

func TestSessionEndDirectoryError(t *testing.T) {
	t.Parallel()

	var (
		ctx = context.Background()
		f   = newFixture(t, pftrc.WithDirectory(func() (string, error) { return "", os.ErrPermission }))
	)

	require.NoError(t, f.session.Begin(ctx, 64))
	path, err := f.session.End(ctx)
	require.ErrorIs(t, err, os.ErrPermission)
	require.Empty(t, path)
}

func TestSessionStates(t *testing.T) {
	t.Parallel()

	var (
		ctx = context.Background()
		f   = newFixture(t)
	)

	_, err := f.session.End(ctx)
	require.ErrorIs(t, err, pftrc.ErrNoSession)

	require.Error(t, f.session.BeginWithConfig(ctx, pfbackend.Config{}))
	require.False(t, f.session.Active())

	require.NoError(t, f.session.Begin(ctx, 0))
	require.Equal(t, pftrc.DefaultBufferSizeKB*1024, f.session.Stats().Limit)
	require.ErrorIs(t, f.session.Begin(ctx, 64), pftrc.ErrSessionActive)

	path, err := f.session.End(ctx)
	require.NoError(t, err)
	require.Equal(t, "perfetto-RELEASE-2024-03-01_1342.pftrace", filepath.Base(path))

	_, err = f.session.End(ctx)
	require.ErrorIs(t, err, pftrc.ErrNoSession)
	require.Equal(t, pfbackend.SessionStats{}, f.session.Stats())
}

func TestSessionEndCanceled(t *testing.T) {
	t.Parallel()

	var (
		ctx         = context.Background()
		f           = newFixture(t)
		canceled, c = context.WithCancel(ctx)
	)
	c()

	require.NoError(t, f.session.Begin(ctx, 64))
	id := f.session.ID()

	path, err := f.session.End(canceled)
	require.ErrorIs(t, err, context.Canceled)
	require.Empty(t, path)
	require.True(t, f.session.Active())
	require.Equal(t, id, f.session.ID())
	require.True(t, f.tracing.Enabled(pftrc.CategoryDSP))
	require.ErrorIs(t, f.session.Begin(ctx, 64), pftrc.ErrSessionActive)

	entries, err := os.ReadDir(f.dir)
	require.NoError(t, err)
	require.Empty(t, entries)

	// Still recording, and a retry stops it for real.
	f.tracing.Instant(pftrc.CategoryComponent, "paint")

	path, err = f.session.End(ctx)
	require.NoError(t, err)
	require.False(t, f.session.Active())
	require.False(t, f.tracing.Enabled(pftrc.CategoryDSP))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	packets, err := pfproto.Decode(data)
	require.NoError(t, err)
	require.Equal(t, []pfproto.NameCount{{Name: "paint", Count: 1}}, pfproto.Summarize(packets).Names)
}

func TestSessionCustomConfig(t *testing.T) {
	t.Parallel()

	var (
		ctx = context.Background()
		f   = newFixture(t)
	)

	cfg := pfbackend.NewConfig(64)
	cfg.DataSources[0].EnabledCategories = []string{pftrc.CategoryComponent}
	require.NoError(t, f.session.BeginWithConfig(ctx, cfg))

	f.tracing.Instant(pftrc.CategoryDSP, "filtered")
	f.tracing.Instant(pftrc.CategoryComponent, "kept")

	path, err := f.session.End(ctx)
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	packets, err := pfproto.Decode(data)
	require.NoError(t, err)
	require.Equal(t, []pfproto.NameCount{{Name: "kept", Count: 1}}, pfproto.Summarize(packets).Names)
}

func TestSessionJSONFormat(t *testing.T) {
	t.Parallel()

	var (
		ctx = context.Background()
		f   = newFixture(t, pftrc.WithFormat(pftrc.FormatJSON))
	)

	require.NoError(t, f.session.Begin(ctx, 64))
	f.tracing.Begin(pftrc.CategoryDSP, "AudioProcessor::processBlock")
	f.tracing.End(pftrc.CategoryDSP)

	path, err := f.session.End(ctx)
	require.NoError(t, err)
	require.True(t, strings.HasSuffix(path, ".json"), path)

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var ct pfproto.ChromeTrace
	require.NoError(t, jsoniter.Unmarshal(data, &ct))
	require.Len(t, ct.TraceEvents, 3)
	require.Equal(t, "AudioProcessor::processBlock", ct.TraceEvents[1].Name)
}

func TestFilename(t *testing.T) {
	t.Parallel()

	for _, tc := range []struct {
		mode   pftrc.Mode
		format pftrc.Format
		want   string
	}{
		{pftrc.ModeDebug, pftrc.FormatProto, "perfetto-DEBUG-2024-03-01_1342.pftrace"},
		{pftrc.ModeRelease, pftrc.FormatProto, "perfetto-RELEASE-2024-03-01_1342.pftrace"},
		{pftrc.ModeRelease, pftrc.FormatJSON, "perfetto-RELEASE-2024-03-01_1342.json"},
	} {
		have := pftrc.Filename(tc.mode, tc.format, fixedClock())
		require.Equal(t, tc.want, have)
	}

	for _, s := range []string{"proto", "pftrace", "", "JSON"} {
		_, err := pftrc.ParseFormat(s)
		require.NoError(t, err, s)
	}
	_, err := pftrc.ParseFormat("xml")
	require.Error(t, err)
}

func TestDefaultDirectory(t *testing.T) {
	t.Parallel()

	dir, err := pftrc.DefaultDirectory()
	if err != nil {
		t.Skipf("no home directory: %v", err)
	}
	switch base := filepath.Base(dir); base {
	case "Downloads", "Desktop":
	default:
		t.Fatalf("unexpected default directory %s", dir)
	}
}

func TestDefault(t *testing.T) {
	s1 := pftrc.Default()
	s2 := pftrc.Default()
	require.Same(t, s1, s2)
	require.Same(t, pfbackend.Global(), s1.Tracing())
	require.False(t, s1.Active())
}
