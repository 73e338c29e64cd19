package pfsig

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
)

// Dialect selects the grammar of the raw signatures given to [Normalize].
type Dialect uint8

const (
	// DialectAuto accepts both C++ grammars: a leading calling convention is
	// skipped when present, and the label ends at the first '(' or '<'.
	DialectAuto Dialect = iota

	// DialectGCC is the __PRETTY_FUNCTION__ grammar of GCC and Clang:
	// "<ret> <qualified>(<args>) <quals>".
	DialectGCC

	// DialectMSVC is the __FUNCSIG__ grammar of MSVC, where lambdas show up as
	// "<ret> <callconv> <qualified>::<lambda_1>::operator ...".
	DialectMSVC

	// DialectGo is the grammar of runtime.Frame.Function, e.g.
	// "github.com/acme/audio.(*Processor).ProcessBlock.func1".
	DialectGo
)

var dialectNames = [...]string{
	DialectAuto: "auto",
	DialectGCC:  "gcc",
	DialectMSVC: "msvc",
	DialectGo:   "go",
}

// String implements fmt.Stringer.
func (d Dialect) String() string {
	if int(d) < len(dialectNames) {
		return dialectNames[d]
	}
	return fmt.Sprintf("Dialect(%d)", d)
}

// ParseDialect parses the name of a dialect. "clang" is accepted as an alias
// for "gcc".
func ParseDialect(s string) (Dialect, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "auto":
		return DialectAuto, nil
	case "gcc", "clang":
		return DialectGCC, nil
	case "msvc":
		return DialectMSVC, nil
	case "go":
		return DialectGo, nil
	default:
		return DialectAuto, errors.Errorf("unknown dialect %q", s)
	}
}

// Set implements flag.Value.
func (d *Dialect) Set(s string) error {
	v, err := ParseDialect(s)
	if err != nil {
		return err
	}
	*d = v
	return nil
}
