package pfsig_test

import (
	"runtime"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/melatonin-dev/pftrc/pfsig"
	"github.com/pkg/errors"
)

func assertEqual[T any](t *testing.T, have, want T) {
	t.Helper()
	if !cmp.Equal(have, want) {
		t.Fatal(cmp.Diff(have, want))
	}
}

func TestNormalize(t *testing.T) {
	t.Parallel()

	for _, tc := range []struct {
		name    string
		raw     string
		dialect pfsig.Dialect
		want    string
	}{
		{
			name:    "gcc method",
			raw:     "void AudioProcessor::processBlock(Buffer&, MidiBuffer&)::(anon)::operator()()",
			dialect: pfsig.DialectGCC,
			want:    "AudioProcessor::processBlock",
		},
		{
			name:    "gcc auto return type",
			raw:     "auto AudioProcessor::processBlock(juce::AudioBuffer<float> &, juce::MidiBuffer &)::(anonymous class)::operator()() const",
			dialect: pfsig.DialectGCC,
			want:    "AudioProcessor::processBlock",
		},
		{
			name:    "gcc free function",
			raw:     "int szudzikPair(int, int)",
			dialect: pfsig.DialectGCC,
			want:    "szudzikPair",
		},
		{
			name:    "gcc template class keeps brackets",
			raw:     "void Foo<int>::bar() [with T = int]",
			dialect: pfsig.DialectGCC,
			want:    "Foo<int>::bar",
		},
		{
			name:    "gcc leading underscore is not a calling convention",
			raw:     "void _impl::run()",
			dialect: pfsig.DialectGCC,
			want:    "_impl::run",
		},
		{
			name:    "msvc lambda",
			raw:     "void __cdecl AudioProcessor::processBlock::<lambda_1>::operator",
			dialect: pfsig.DialectMSVC,
			want:    "AudioProcessor::processBlock",
		},
		{
			name:    "msvc lambda with arguments",
			raw:     "void __cdecl AudioProcessor::processBlock::<lambda_1>::operator ()(void) const",
			dialect: pfsig.DialectMSVC,
			want:    "AudioProcessor::processBlock",
		},
		{
			name:    "msvc plain method",
			raw:     "void __cdecl Editor::paint(class juce::Graphics &)",
			dialect: pfsig.DialectMSVC,
			want:    "Editor::paint",
		},
		{
			name:    "msvc template without dangling qualifier",
			raw:     "void __cdecl Foo<int>::bar(void)",
			dialect: pfsig.DialectMSVC,
			want:    "Foo",
		},
		{
			name:    "auto gcc",
			raw:     "void AudioProcessor::processBlock(Buffer&, MidiBuffer&)::(anon)::operator()()",
			dialect: pfsig.DialectAuto,
			want:    "AudioProcessor::processBlock",
		},
		{
			name:    "auto msvc",
			raw:     "void __cdecl AudioProcessor::processBlock::<lambda_1>::operator",
			dialect: pfsig.DialectAuto,
			want:    "AudioProcessor::processBlock",
		},
		{
			name:    "auto underscore identifier",
			raw:     "void _private(int)",
			dialect: pfsig.DialectAuto,
			want:    "_private",
		},
		{
			name:    "no arguments",
			raw:     "int main",
			dialect: pfsig.DialectAuto,
			want:    "main",
		},
		{
			name:    "no space",
			raw:     "main",
			dialect: pfsig.DialectAuto,
			want:    "main",
		},
		{
			name:    "empty",
			raw:     "",
			dialect: pfsig.DialectMSVC,
			want:    "",
		},
		{
			name:    "trailing space",
			raw:     "int ",
			dialect: pfsig.DialectAuto,
			want:    "",
		},
		{
			name:    "short lambda marker",
			raw:     "v :<",
			dialect: pfsig.DialectMSVC,
			want:    ":",
		},
		{
			name:    "only a lambda marker",
			raw:     "v ::<lambda_1>",
			dialect: pfsig.DialectMSVC,
			want:    "",
		},
		{
			name:    "calling convention at end",
			raw:     "void __cdecl",
			dialect: pfsig.DialectMSVC,
			want:    "__cdecl",
		},
		{
			name:    "third bracket style",
			raw:     "void Foo::bar[baz]",
			dialect: pfsig.DialectAuto,
			want:    "Foo::bar[baz]",
		},
		{
			name:    "go pointer method closure",
			raw:     "github.com/acme/audio.(*Processor).ProcessBlock.func1.2",
			dialect: pfsig.DialectGo,
			want:    "Processor::ProcessBlock",
		},
		{
			name:    "go value method",
			raw:     "github.com/acme/audio.Buffer.Len",
			dialect: pfsig.DialectGo,
			want:    "Buffer::Len",
		},
		{
			name:    "go function",
			raw:     "main.szudzikPair",
			dialect: pfsig.DialectGo,
			want:    "szudzikPair",
		},
		{
			name:    "go main",
			raw:     "main.main",
			dialect: pfsig.DialectGo,
			want:    "main",
		},
		{
			name:    "go generic",
			raw:     "github.com/acme/box.(*Box[...]).Put",
			dialect: pfsig.DialectGo,
			want:    "Box::Put",
		},
		{
			name:    "go escaped package",
			raw:     "gopkg.in/yaml%2ev3.(*Decoder).Decode",
			dialect: pfsig.DialectGo,
			want:    "Decoder::Decode",
		},
		{
			name:    "go method value",
			raw:     "net/http.(*Server).Serve-fm",
			dialect: pfsig.DialectGo,
			want:    "Server::Serve",
		},
		{
			name:    "go goroutine wrapper",
			raw:     "main.run.gowrap1",
			dialect: pfsig.DialectGo,
			want:    "run",
		},
		{
			name:    "go package closure",
			raw:     "main.func1",
			dialect: pfsig.DialectGo,
			want:    "func1",
		},
		{
			name:    "go unqualified",
			raw:     "szudzikPair",
			dialect: pfsig.DialectGo,
			want:    "szudzikPair",
		},
		{
			name:    "go deep nesting keeps length bound",
			raw:     "p.a.b.c.d",
			dialect: pfsig.DialectGo,
			want:    "a.b.c.d",
		},
	} {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			have := pfsig.Normalize(tc.raw, tc.dialect)
			assertEqual(t, have, tc.want)
			assertEqual(t, string(pfsig.Append([]byte("x"), tc.raw, tc.dialect)), "x"+tc.want)
		})
	}
}

func TestNormalizeRuntimeName(t *testing.T) {
	t.Parallel()

	pc, _, _, ok := runtime.Caller(0)
	if !ok {
		t.Fatal("runtime.Caller failed")
	}
	name := runtime.FuncForPC(pc).Name()
	assertEqual(t, pfsig.Normalize(name, pfsig.DialectGo), "TestNormalizeRuntimeName")

	func() {
		pc, _, _, _ := runtime.Caller(0)
		name := runtime.FuncForPC(pc).Name()
		assertEqual(t, pfsig.Normalize(name, pfsig.DialectGo), "TestNormalizeRuntimeName")
	}()
}

func TestParseDialect(t *testing.T) {
	t.Parallel()

	for _, d := range []pfsig.Dialect{pfsig.DialectAuto, pfsig.DialectGCC, pfsig.DialectMSVC, pfsig.DialectGo} {
		have, err := pfsig.ParseDialect(strings.ToUpper(d.String()))
		if err != nil {
			t.Fatalf("%s: %v", d, err)
		}
		assertEqual(t, have, d)
	}

	var d pfsig.Dialect
	if err := d.Set("clang"); err != nil {
		t.Fatal(err)
	}
	assertEqual(t, d, pfsig.DialectGCC)

	err := d.Set("borland")
	if err == nil {
		t.Fatal("want error for unknown dialect")
	}
	assertEqual(t, err.Error(), `unknown dialect "borland"`)
	if _, ok := err.(interface{ StackTrace() errors.StackTrace }); !ok {
		t.Errorf("want error with stack trace, have %T", err)
	}
	assertEqual(t, d, pfsig.DialectGCC)
	assertEqual(t, pfsig.Dialect(99).String(), "Dialect(99)")
}

func FuzzNormalize(f *testing.F) {
	for _, seed := range []string{
		"",
		" ",
		"int main",
		"void AudioProcessor::processBlock(Buffer&, MidiBuffer&)::(anon)::operator()()",
		"void __cdecl AudioProcessor::processBlock::<lambda_1>::operator",
		"v ::<",
		"_ _ _<",
		"github.com/acme/audio.(*Processor).ProcessBlock.func1.2",
		"p.[[[",
		"p.a.b.c.d.e.f",
	} {
		f.Add(seed)
	}

	f.Fuzz(func(t *testing.T, raw string) {
		for _, d := range []pfsig.Dialect{pfsig.DialectAuto, pfsig.DialectGCC, pfsig.DialectMSVC, pfsig.DialectGo} {
			first := pfsig.Normalize(raw, d)
			if len(first) > len(raw) {
				t.Fatalf("%s: label %q longer than input %q", d, first, raw)
			}
			if second := pfsig.Normalize(raw, d); second != first {
				t.Fatalf("%s: not deterministic: %q != %q", d, first, second)
			}
		}
	})
}

func BenchmarkNormalize(b *testing.B) {
	const raw = "auto AudioProcessor::processBlock(juce::AudioBuffer<float> &, juce::MidiBuffer &)::(anonymous class)::operator()() const"
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		_ = pfsig.Normalize(raw, pfsig.DialectGCC)
	}
}
