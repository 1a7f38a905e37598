package colony

import (
	"fmt"
	"strings"

	bt "github.com/joeycumines/go-behaviortree"
)

// actKind tags the variant held by an Act.
type actKind uint8

const (
	kindLeaf actKind = iota
	kindSequence
	kindSelect
	kindDomain
	kindTryElse
	kindNode
)

func (k actKind) String() string {
	switch k {
	case kindLeaf:
		return "Wrap"
	case kindSequence:
		return "Sequence"
	case kindSelect:
		return "Select"
	case kindDomain:
		return "Domain"
	case kindTryElse:
		return "TryElse"
	case kindNode:
		return "Node"
	default:
		return "Unknown"
	}
}

// Act is a behavior tree node. Every node owns its children exclusively; build a new
// tree per task instead of sharing subtrees.
//
// Tick resumes from the node's saved state while it is Running and resets the node
// once it returns a terminal status, so the next Tick starts from scratch.
type Act struct {
	Name string

	kind     actKind
	children []*Act
	factory  func() Routine
	guard    func() bool
	node     bt.Node
	// terminal is the Sequence polarity or the Domain result when the guard is false
	terminal Status

	entered bool
	open    bool
	cursor  int
	routine Routine
}

// Wrap adapts a routine factory into a leaf. A fresh routine is created every time
// the leaf is entered.
func Wrap(name string, factory func() Routine) *Act {
	return &Act{Name: name, kind: kindLeaf, factory: factory}
}

// Do wraps a single-tick function as a leaf.
func Do(name string, fn func() Status) *Act {
	return Wrap(name, func() Routine { return RoutineFunc(fn) })
}

// Condition is a leaf that succeeds when fn returns true and fails otherwise.
func Condition(name string, fn func() bool) *Act {
	return Do(name, func() Status {
		if fn() {
			return Success
		}
		return Failure
	})
}

// Always is a leaf that returns st.
func Always(st Status) *Act {
	return Do("Always", func() Status { return st })
}

// Sequence ticks children in order and succeeds when all of them succeed.
func Sequence(children ...*Act) *Act {
	return SequenceOf(Success, children...)
}

// SequenceOf is a Sequence that returns polarity, instead of Success, when every
// child succeeded. It expresses cleanup branches that must still report Failure.
func SequenceOf(polarity Status, children ...*Act) *Act {
	return &Act{Name: "Sequence", kind: kindSequence, children: children, terminal: polarity}
}

// Select ticks children in order until one succeeds.
func Select(children ...*Act) *Act {
	return &Act{Name: "Select", kind: kindSelect, children: children}
}

// Domain evaluates guard once when entered. If it is false the node fails without
// entering child; otherwise it delegates to child.
func Domain(guard func() bool, child *Act) *Act {
	return DomainOr(guard, Failure, child)
}

// DomainOr is a Domain that returns fallback when the guard is false. A nil child
// makes the node a pure guard that returns Success when the guard holds.
func DomainOr(guard func() bool, fallback Status, child *Act) *Act {
	a := &Act{Name: "Domain", kind: kindDomain, guard: guard, terminal: fallback}
	if child != nil {
		a.children = []*Act{child}
	}
	return a
}

// TryElse runs a; if a fails, it runs b from scratch and returns b's result.
func TryElse(a, b *Act) *Act {
	return &Act{Name: "TryElse", kind: kindTryElse, children: []*Act{a, b}}
}

// Or is TryElse(a, b).
func (a *Act) Or(b *Act) *Act {
	return TryElse(a, b)
}

// FromNode wraps a go-behaviortree node as a leaf. A node error is reported as Failure.
func FromNode(name string, n bt.Node) *Act {
	return &Act{Name: name, kind: kindNode, node: n}
}

// Named sets the diagnostic name and returns the node.
func (a *Act) Named(name string) *Act {
	a.Name = name
	return a
}

// Children returns the node's children.
func (a *Act) Children() []*Act {
	return a.children
}

// Tick advances the node by one tick.
func (a *Act) Tick() Status {
	if !a.entered {
		a.enter()
	}
	st := a.step()
	if st != Running {
		a.Reset()
	}
	return st
}

func (a *Act) enter() {
	a.entered = true
	a.cursor = 0
	switch a.kind {
	case kindLeaf:
		if a.factory != nil {
			a.routine = a.factory()
		}
	case kindDomain:
		a.open = a.guard == nil || a.guard()
	}
}

func (a *Act) step() Status {
	switch a.kind {
	case kindLeaf:
		if a.routine == nil {
			return Failure
		}
		return normalize(a.routine.Step())

	case kindSequence:
		for a.cursor < len(a.children) {
			switch a.children[a.cursor].Tick() {
			case Running:
				return Running
			case Success:
				a.cursor++
			default:
				return Failure
			}
		}
		return a.terminal

	case kindSelect:
		for a.cursor < len(a.children) {
			switch a.children[a.cursor].Tick() {
			case Running:
				return Running
			case Success:
				return Success
			default:
				a.cursor++
			}
		}
		return Failure

	case kindDomain:
		if !a.open {
			return a.terminal
		}
		if len(a.children) == 0 {
			return Success
		}
		return a.children[0].Tick()

	case kindTryElse:
		if a.cursor == 0 {
			st := a.children[0].Tick()
			if st != Failure {
				return st
			}
			a.cursor = 1
		}
		return a.children[1].Tick()

	case kindNode:
		if a.node == nil {
			return Failure
		}
		tick, kids := a.node()
		if tick == nil {
			return Failure
		}
		st, err := tick(kids)
		if err != nil {
			return Failure
		}
		return normalize(st)
	}
	return Failure
}

// normalize maps unknown statuses to Failure.
func normalize(st Status) Status {
	switch st {
	case Running, Success, Failure:
		return st
	default:
		return Failure
	}
}

// Reset discards the resume state of the node and its subtree.
func (a *Act) Reset() {
	a.entered = false
	a.open = false
	a.cursor = 0
	a.routine = nil
	for _, c := range a.children {
		if c.entered {
			c.Reset()
		}
	}
}

// Cancel aborts the node mid-flight. Live routines implementing Canceler are told
// before the state is discarded.
func (a *Act) Cancel() {
	if c, ok := a.routine.(Canceler); ok {
		c.Cancel()
	}
	for _, c := range a.children {
		if c.entered {
			c.Cancel()
		}
	}
	a.Reset()
}

// Suspended reports whether the node is mid-execution.
func (a *Act) Suspended() bool {
	return a.entered
}

// Node exposes the tree as a go-behaviortree node.
func (a *Act) Node() bt.Node {
	return bt.New(func([]bt.Node) (bt.Status, error) {
		return a.Tick(), nil
	})
}

// String renders the tree, marking nodes that are mid-execution.
func (a *Act) String() string {
	var sb strings.Builder
	a.write(&sb, 0)
	return sb.String()
}

func (a *Act) write(sb *strings.Builder, depth int) {
	mark := ""
	if a.entered {
		mark = " *"
	}
	fmt.Fprintf(sb, "%s%s(%s)%s\n", strings.Repeat("  ", depth), a.kind, a.Name, mark)
	for _, c := range a.children {
		c.write(sb, depth+1)
	}
}
