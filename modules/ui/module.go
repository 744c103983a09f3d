// Package ui holds operators whose effect lives in the authoring context.
// The evaluation context never runs them; it hands their inlet values back
// as main-thread instructions.
package ui

import (
	"context"
	"fmt"

	"github.com/vk/patchflow/internal/attr"
	"github.com/vk/patchflow/internal/ctxlog"
	"github.com/vk/patchflow/internal/msg"
	"github.com/vk/patchflow/internal/operator"
	"github.com/zclconf/go-cty/cty"
)

// Module implements the operator.Module interface for this package.
type Module struct{}

const authoring = operator.NeedsMainThread | operator.SkipCompilation

// Print logs each message it receives.
func Print(ctx context.Context, n *operator.Node, m msg.Message) ([]msg.Message, error) {
	label := n.Attrs.String("label")
	ctxlog.FromContext(ctx).Info("🖨️  "+label+": "+msg.Format(m), "node", n.Address)
	return nil, nil
}

// Button flashes and sends a bang for any input.
func Button(_ context.Context, _ *operator.Node, _ msg.Message) ([]msg.Message, error) {
	return []msg.Message{msg.Bang}, nil
}

// Toggle flips its state on bang and follows numbers otherwise.
func Toggle(_ context.Context, n *operator.Node, m msg.Message) ([]msg.Message, error) {
	on := !n.Attrs.Bool("value")
	if f, ok := m.(float64); ok {
		on = f != 0
	}
	if err := n.Attrs.Set("value", cty.BoolVal(on)); err != nil {
		return nil, err
	}
	if on {
		return []msg.Message{1.0}, nil
	}
	return []msg.Message{0.0}, nil
}

// AttrUI turns a value into an attribute message for the attribute named by
// its first argument, e.g. `attrui max` sends "max 8".
func AttrUI(_ context.Context, n *operator.Node, m msg.Message) ([]msg.Message, error) {
	name, ok := n.Arg(0).(string)
	if !ok || name == "" {
		return nil, fmt.Errorf("attrui: no attribute name")
	}
	if !msg.Defined(m) || msg.IsBang(m) {
		return nil, nil
	}
	return []msg.Message{name + " " + msg.Format(m)}, nil
}

// Register registers the authoring-side operators with the registry.
func (m *Module) Register(r *operator.Registry) {
	r.Register(&operator.Definition{
		Name:        "print",
		Description: "logs incoming messages",
		Inlets:      []operator.Port{operator.ControlPort("in")},
		Attributes:  attr.Schema{attr.String("label", "print")},
		Flags:       authoring,
		Local:       Print,
	})
	r.Register(&operator.Definition{
		Name:        "button",
		Description: "sends a bang",
		Inlets:      []operator.Port{operator.ControlPort("in")},
		Outlets:     []operator.Port{operator.ControlPort("bang")},
		Flags:       authoring,
		Local:       Button,
	}, "bang")
	r.Register(&operator.Definition{
		Name:        "toggle",
		Description: "switches between 0 and 1",
		Inlets:      []operator.Port{operator.ControlPort("in")},
		Outlets:     []operator.Port{operator.ControlPort("state")},
		Attributes:  attr.Schema{attr.Bool("value", false)},
		Flags:       authoring,
		Local:       Toggle,
	}, "tgl")
	r.Register(&operator.Definition{
		Name:        "attrui",
		Description: "edits one attribute of the connected node",
		Inlets:      []operator.Port{operator.ControlPort("value")},
		Outlets:     []operator.Port{operator.ControlPort("message")},
		Flags:       authoring,
		Local:       AttrUI,
	})
}
