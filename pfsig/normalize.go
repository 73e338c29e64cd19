// Package pfsig derives short display labels, like "AudioProcessor::processBlock",
// from the fully-qualified function signatures that toolchains synthesize.
//
// Without it, a trace event named after its enclosing function carries the
// whole signature, e.g.
//
//	auto AudioProcessor::processBlock(juce::AudioBuffer<float> &, juce::MidiBuffer &)::(anonymous class)::operator()() const
//
// which is unreadable in a trace viewer. The label keeps only the qualified
// name. Normalization is pure and total: it never panics, never reads outside
// the input, and never produces a label longer than its input. Inputs that
// don't match the selected dialect produce a best-effort label.
//
// Labels are meant to be computed once per call site and reused, see
// package pftrace.
package pfsig

import (
	"strings"
)

// Normalize returns the display label for the raw signature in dialect d.
// For the C++ dialects the label is a substring of raw, and no allocation
// takes place.
func Normalize(raw string, d Dialect) string {
	if d == DialectGo {
		return string(appendGo(make([]byte, 0, len(raw)), raw))
	}
	start, end := labelBounds(raw, d)
	return raw[start:end]
}

// Append is like Normalize, but appends the label to dst and returns the
// extended buffer.
func Append(dst []byte, raw string, d Dialect) []byte {
	if d == DialectGo {
		return appendGo(dst, raw)
	}
	start, end := labelBounds(raw, d)
	return append(dst, raw[start:end]...)
}

// labelBounds returns the half-open range of raw holding the qualified name.
// Both bounds are always within [0, len(raw)], and start <= end.
func labelBounds(raw string, d Dialect) (start, end int) {
	// The first space separates the return type from the qualified name. A
	// signature without one is returned as-is.
	space := strings.IndexByte(raw, ' ')
	if space < 0 {
		return 0, len(raw)
	}
	start = space + 1

	stops := "(<"
	switch d {
	case DialectGCC:
		stops = "("
	default:
		start = skipCallingConvention(raw, start)
	}

	end = len(raw)
	i := strings.IndexAny(raw[start:], stops)
	if i < 0 {
		return start, end // e.g. "int main"
	}
	end = start + i

	// A lambda marker is qualified by the function it lives in, which leaves a
	// dangling "::" in front of the '<'.
	if raw[end] == '<' && end-start >= 2 && raw[end-2:end] == "::" {
		end -= 2
	}

	return start, end
}

// skipCallingConvention returns the index just past a token like "__cdecl "
// beginning at i, or i itself if there is no such token. The token must start
// with an underscore and end in a space before any argument list or template
// bracket, so identifiers that merely begin with an underscore are kept.
func skipCallingConvention(raw string, i int) int {
	if i >= len(raw) || raw[i] != '_' {
		return i
	}
	for j := i + 1; j < len(raw); j++ {
		switch raw[j] {
		case ' ':
			return j + 1
		case '(', '<', ':':
			return i
		}
	}
	return i
}

// appendGo appends the label for a Go function name. The package path and
// name are dropped, receivers lose their decoration, generic instantiations
// and closure suffixes are removed, and the remaining segments are joined
// with "::".
func appendGo(dst []byte, raw string) []byte {
	name := raw
	if strings.IndexByte(name, '[') >= 0 {
		name = stripInstantiations(name)
	}

	// Dots in the last import path element are escaped by the runtime, so the
	// first dot after the last slash ends the package name.
	if i := strings.LastIndexByte(name, '/'); i >= 0 {
		name = name[i+1:]
	}
	dot := strings.IndexByte(name, '.')
	if dot < 0 {
		return append(dst, raw...)
	}
	name = name[dot+1:]

	var (
		segs [4]string
		keep = segs[:0]
		size int
	)
	for _, seg := range strings.Split(name, ".") {
		seg = strings.TrimSuffix(seg, "-fm") // method values
		if isClosure(seg) {
			break
		}
		seg = strings.TrimPrefix(seg, "(")
		seg = strings.TrimPrefix(seg, "*")
		seg = strings.TrimSuffix(seg, ")")
		if seg == "" {
			continue
		}
		keep = append(keep, seg)
		size += len(seg)
	}

	if len(keep) == 0 {
		return append(dst, name...)
	}

	// Joining with "::" grows each separator by one byte. For ordinary
	// functions and methods the dropped package name pays for that, but keep
	// the length bound for anything deeper.
	sep := "::"
	if size+len(sep)*(len(keep)-1) > len(raw) {
		sep = "."
	}

	for i, seg := range keep {
		if i > 0 {
			dst = append(dst, sep...)
		}
		dst = append(dst, seg...)
	}
	return dst
}

// isClosure reports whether seg names an anonymous function, which in
// runtime names looks like "func1", "gowrap2", or a bare number for closures
// nested in other closures.
func isClosure(seg string) bool {
	switch {
	case strings.HasPrefix(seg, "func"):
		return isDigits(seg[len("func"):])
	case strings.HasPrefix(seg, "gowrap"):
		return isDigits(seg[len("gowrap"):])
	default:
		return isDigits(seg)
	}
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

// stripInstantiations removes bracketed type arguments, e.g. "[...]". An
// unbalanced ']' is kept, an unbalanced '[' drops the rest of the name.
func stripInstantiations(s string) string {
	var (
		b     strings.Builder
		depth int
	)
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		switch c := s[i]; {
		case c == '[':
			depth++
		case c == ']' && depth > 0:
			depth--
		case depth == 0:
			b.WriteByte(c)
		}
	}
	return b.String()
}
