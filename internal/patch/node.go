package patch

import (
	"github.com/vk/patchflow/internal/attr"
	"github.com/vk/patchflow/internal/msg"
	"github.com/vk/patchflow/internal/operator"
)

// NodeID is an arena index, unique within one Patch and never reused.
type NodeID uint32

// Kind distinguishes operator nodes from literal (message) nodes.
type Kind uint8

const (
	// KindOperator nodes run an operator from the registry.
	KindOperator Kind = iota
	// KindLiteral nodes store a message.
	KindLiteral
)

func (k Kind) String() string {
	if k == KindLiteral {
		return "message"
	}
	return "object"
}

// Literal inlet indices.
const (
	TriggerInlet = 0
	ReplaceInlet = 1
)

// IOlet is an inlet or outlet: an ordered attachment point for connections.
type IOlet struct {
	Name        string
	Domain      operator.Domain
	Hot         bool
	Connections []*Connection
	// LastMessage is the most recent value received. Only inlets use it.
	LastMessage msg.Message
}

// Connection is a directed edge from one outlet to one inlet.
type Connection struct {
	Source           NodeID
	SourceOutlet     int
	Destination      NodeID
	DestinationInlet int
}

// Node is a graph vertex.
type Node struct {
	ID   NodeID
	Kind Kind
	// Text is the operator definition or the literal's source text.
	Text string
	// Operator is the name from the definition; empty for literals.
	Operator string
	// Resolved is false when the registry does not know Operator.
	Resolved bool
	Args     []msg.Message
	Attrs    *attr.Bag
	// Message is the value stored by a literal node.
	Message msg.Message
	// Numeric literals emit their stored value untouched by piping.
	Numeric bool

	Inlets  []*IOlet
	Outlets []*IOlet
	// SubPatch is owned exclusively by this node.
	SubPatch *Patch

	def *operator.Definition
}

// Definition returns the operator definition, or nil for literals and
// unresolved operators.
func (n *Node) Definition() *operator.Definition { return n.def }

// IsPlaceholder reports whether n is an `in N` or `out N` node.
func (n *Node) IsPlaceholder() bool {
	return n.def != nil && n.def.Flags&(operator.Inlet|operator.Outlet) != 0
}

// PlaceholderIndex returns N for an `in N`/`out N` node, or 0.
func (n *Node) PlaceholderIndex() int {
	if !n.IsPlaceholder() {
		return 0
	}
	if len(n.Args) > 0 {
		if f, ok := msg.Float(n.Args[0]); ok && f >= 1 {
			return int(f)
		}
	}
	return 1
}

func (n *Node) connections() []*Connection {
	var out []*Connection
	for _, io := range n.Inlets {
		out = append(out, io.Connections...)
	}
	for _, io := range n.Outlets {
		out = append(out, io.Connections...)
	}
	return out
}
