package clone3

import "fmt"

// Kind discriminates the side of a duplication
type Kind int

// Outcome kinds. The zero Kind means no process was created.
const (
	KindNone Kind = iota
	KindChild
	KindParent
)

// Outcome is the result of a successful duplication. Each side consumes
// only its own variant: Pid and Tid are set for KindParent only.
type Outcome struct {
	Kind Kind
	Pid  int
	Tid  int
}

// IsChild reports whether the caller is the new process.
//
//go:nosplit
func (o Outcome) IsChild() bool {
	return o.Kind == KindChild
}

// IsParent reports whether the caller is the original process.
//
//go:nosplit
func (o Outcome) IsParent() bool {
	return o.Kind == KindParent
}

func (o Outcome) String() string {
	switch o.Kind {
	case KindChild:
		return "child"
	case KindParent:
		return fmt.Sprintf("parent(pid=%d,tid=%d)", o.Pid, o.Tid)
	default:
		return "none"
	}
}
