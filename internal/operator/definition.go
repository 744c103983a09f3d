package operator

import (
	"context"

	"github.com/vk/patchflow/internal/attr"
	"github.com/vk/patchflow/internal/fragment"
	"github.com/vk/patchflow/internal/msg"
)

// Domain is the kind of data a port carries.
type Domain uint8

const (
	// Control ports carry discrete messages.
	Control Domain = iota
	// Signal ports carry a per-sample stream.
	Signal
)

// String implements fmt.Stringer.
func (d Domain) String() string {
	if d == Signal {
		return "signal"
	}
	return "control"
}

// Port describes one inlet or outlet.
type Port struct {
	Name   string
	Domain Domain
	// Default feeds an unconnected signal inlet.
	Default float64
}

// ControlPort and SignalPort are shorthands for Port literals.
func ControlPort(name string) Port { return Port{Name: name, Domain: Control} }

// SignalPort declares a signal port with a default value.
func SignalPort(name string, def float64) Port { return Port{Name: name, Domain: Signal, Default: def} }

// Flags tune how the compiler and the VM treat an operator.
type Flags uint16

const (
	// SkipCompilation excludes the node from compiled programs.
	SkipCompilation Flags = 1 << iota
	// NeedsMainThread routes evaluation to the authoring context.
	NeedsMainThread
	// LoadAtStart bangs the node once when a program is first loaded.
	LoadAtStart
	// PublishValue emits every first-outlet output as an OnNewValue event.
	PublishValue
	// Output marks a terminal audio node. Each inlet is one channel.
	Output
	// History opens a feedback boundary in signal graphs.
	History
	// Param exposes a control-rate value to the signal graph.
	Param
	// Subpatch owns a nested patch.
	Subpatch
	// Inlet and Outlet are the pass-through placeholders inside a subpatch.
	Inlet
	Outlet
	// Send broadcasts to every Receive node sharing its first argument.
	Send
	Receive
)

// Has reports whether all bits of mask are set.
func (f Flags) Has(mask Flags) bool { return f&mask == mask }

// Node is the per-instance data a behavior works with. Args holds the
// argument cache: Args[i] is the latest value of inlet i+1, seeded from the
// textual definition.
type Node struct {
	Address string
	Args    []msg.Message
	Attrs   *attr.Bag
}

// Arg returns Args[i] or nil.
func (n *Node) Arg(i int) msg.Message {
	if i < 0 || i >= len(n.Args) {
		return nil
	}
	return n.Args[i]
}

// FloatArg returns Args[i] as a number, or def.
func (n *Node) FloatArg(i int, def float64) float64 {
	if f, ok := msg.Float(n.Arg(i)); ok {
		return f
	}
	return def
}

// Behavior evaluates a message arriving on the hot inlet. The result holds
// one entry per outlet; nil entries produce no output.
type Behavior interface {
	Evaluate(m msg.Message) ([]msg.Message, error)
}

// BehaviorFunc adapts a function to Behavior.
type BehaviorFunc func(m msg.Message) ([]msg.Message, error)

// Evaluate implements Behavior.
func (f BehaviorFunc) Evaluate(m msg.Message) ([]msg.Message, error) { return f(m) }

// Constructor builds the behavior of one node instance.
type Constructor func(n *Node) (Behavior, error)

// SynthInput is handed to a Synthesizer for one node in one context.
type SynthInput struct {
	Node    *Node
	Inputs  []*fragment.Fragment
	Context *fragment.Context
	// ParamSlot is the engine parameter slot assigned to Param operators.
	ParamSlot int
}

// Synthesizer emits the signal code of a node. Input fragments are given in
// inlet order; unconnected inlets are fed by constant fragments.
type Synthesizer func(in SynthInput) (fragment.Emission, error)

// LocalFunc runs a NeedsMainThread node inside the authoring context. The
// returned messages are sent along the node's outlets.
type LocalFunc func(ctx context.Context, n *Node, m msg.Message) ([]msg.Message, error)

// Definition is everything the system knows about one operator.
type Definition struct {
	Name        string
	Description string
	Inlets      []Port
	Outlets     []Port
	Attributes  attr.Schema
	Flags       Flags
	// ElementKind is the view type used for the node's shared buffers.
	ElementKind msg.ElementKind

	New   Constructor
	Synth Synthesizer
	Local LocalFunc
	// Channel maps an inlet of an Output operator to an output channel. Nil
	// means the inlet index.
	Channel func(n *Node, inlet int) int
}

// OutputChannel returns the channel fed by inlet of n.
func (d *Definition) OutputChannel(n *Node, inlet int) int {
	if d.Channel == nil {
		return inlet
	}
	return d.Channel(n, inlet)
}

// IsSignal reports whether the operator produces a signal outlet.
func (d *Definition) IsSignal() bool {
	for _, p := range d.Outlets {
		if p.Domain == Signal {
			return true
		}
	}
	return false
}
