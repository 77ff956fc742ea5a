package generation

import (
	"fmt"
	"iter"
	"strings"

	"github.com/dmitrijs2005/chatkeeper/internal/common"
)

// ErrorPrefix starts the wire form of an error fragment.
const ErrorPrefix = "Error: "

type FragmentKind int

const (
	FragmentToken FragmentKind = iota
	FragmentError
)

// Fragment is one unit of generation output: either a token of text or the
// terminal error of the sequence.
type Fragment struct {
	Kind FragmentKind
	Text string
}

func Token(s string) Fragment {
	return Fragment{Kind: FragmentToken, Text: s}
}

func Errorf(format string, args ...any) Fragment {
	return Fragment{Kind: FragmentError, Text: fmt.Sprintf(format, args...)}
}

func (f Fragment) IsError() bool { return f.Kind == FragmentError }

// String renders the fragment as streamed to clients.
func (f Fragment) String() string {
	if f.IsError() {
		return ErrorPrefix + f.Text
	}
	return f.Text
}

// Collect drains seq into a single string. An error fragment ends collection
// with an error wrapping common.ErrProvider; tokens seen before it are
// returned alongside.
func Collect(seq iter.Seq[Fragment]) (string, error) {
	var sb strings.Builder
	for f := range seq {
		if f.IsError() {
			return sb.String(), fmt.Errorf("%w: %s", common.ErrProvider, f.Text)
		}
		sb.WriteString(f.Text)
	}
	return sb.String(), nil
}
