package subpatch

import (
	"github.com/vk/patchflow/internal/attr"
	"github.com/vk/patchflow/internal/msg"
	"github.com/vk/patchflow/internal/operator"
)

// Module implements the operator.Module interface for this package.
type Module struct{}

// placeholderAttrs selects the domain an `in N` or `out N` node exposes on
// the owning subpatch node.
var placeholderAttrs = attr.Schema{
	attr.String("type", "control", "control", "signal"),
}

// passThrough forwards the incoming message unchanged on the only outlet.
func passThrough(n *operator.Node) (operator.Behavior, error) {
	return operator.BehaviorFunc(func(m msg.Message) ([]msg.Message, error) {
		return []msg.Message{m}, nil
	}), nil
}

// Register registers the subpatch operators with the registry.
func (m *Module) Register(r *operator.Registry) {
	r.Register(&operator.Definition{
		Name:        "subpatch",
		Description: "Owns a nested patch. Its ports mirror the in/out nodes inside.",
		Flags:       operator.Subpatch,
	}, "p")
	r.Register(&operator.Definition{
		Name:        "in",
		Description: "Inlet N of the enclosing subpatch.",
		Outlets:     []operator.Port{operator.ControlPort("out")},
		Attributes:  placeholderAttrs,
		Flags:       operator.Inlet,
		New:         passThrough,
	})
	r.Register(&operator.Definition{
		Name:        "out",
		Description: "Outlet N of the enclosing subpatch.",
		Inlets:      []operator.Port{operator.ControlPort("in")},
		Attributes:  placeholderAttrs,
		Flags:       operator.Outlet,
		New:         passThrough,
	})
}
