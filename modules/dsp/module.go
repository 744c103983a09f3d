package dsp

import (
	"math"

	"github.com/vk/patchflow/internal/operator"
)

// Module implements the operator.Module interface for this package.
type Module struct{}

func sig(name string) operator.Port { return operator.SignalPort(name, 0) }

var mono = []operator.Port{sig("out")}

// Register registers the signal operators with the registry.
func (m *Module) Register(r *operator.Registry) {
	binaries := []struct {
		name, fn, alias string
		op              func(a, b float64) float64
	}{
		{"add~", "add", "+~", func(a, b float64) float64 { return a + b }},
		{"sub~", "sub", "-~", func(a, b float64) float64 { return a - b }},
		{"mul~", "mul", "*~", func(a, b float64) float64 { return a * b }},
		{"div~", "div", "/~", safeDiv},
		{"min~", "min", "", math.Min},
		{"max~", "max", "", math.Max},
		{"pow~", "pow", "", math.Pow},
	}
	for _, b := range binaries {
		var aliases []string
		if b.alias != "" {
			aliases = append(aliases, b.alias)
		}
		r.Register(&operator.Definition{
			Name:    b.name,
			Inlets:  []operator.Port{sig("a"), sig("b")},
			Outlets: mono,
			Synth:   binary(b.fn, b.op),
		}, aliases...)
	}

	unaries := []struct {
		name, fn string
		op       func(float64) float64
	}{
		{"tanh~", "tanh", math.Tanh},
		{"abs~", "abs", math.Abs},
		{"sin~", "sin", math.Sin},
	}
	for _, u := range unaries {
		r.Register(&operator.Definition{
			Name:    u.name,
			Inlets:  []operator.Port{sig("in")},
			Outlets: mono,
			Synth:   unary(u.fn, u.op),
		})
	}

	r.Register(&operator.Definition{
		Name:        "clip~",
		Description: "limits a signal to a range",
		Inlets:      []operator.Port{sig("in"), operator.SignalPort("min", -1), operator.SignalPort("max", 1)},
		Outlets:     mono,
		Synth:       synthClip,
	})
	r.Register(&operator.Definition{
		Name:        "sig~",
		Description: "a constant signal",
		Outlets:     mono,
		Synth:       synthSig,
	})
	r.Register(&operator.Definition{
		Name:        "phasor~",
		Description: "ramp from 0 to 1 at the given frequency",
		Inlets:      []operator.Port{operator.SignalPort("freq", 1)},
		Outlets:     mono,
		Synth:       synthPhasor,
	})
	r.Register(&operator.Definition{
		Name:        "cycle~",
		Description: "sine oscillator",
		Inlets:      []operator.Port{operator.SignalPort("freq", 440)},
		Outlets:     mono,
		Synth:       synthCycle,
	})
	r.Register(&operator.Definition{
		Name:        "param",
		Description: "exposes a control value to the signal graph; `param name default`",
		Inlets:      []operator.Port{operator.ControlPort("value")},
		Outlets:     mono,
		Flags:       operator.Param,
		Synth:       synthParam,
	})
	r.Register(&operator.Definition{
		Name:        "history",
		Description: "one-sample delay that breaks feedback loops; `history init`",
		Inlets:      []operator.Port{sig("in")},
		Outlets:     mono,
		Flags:       operator.History,
	})
	r.Register(&operator.Definition{
		Name:        "dac~",
		Description: "stereo output",
		Inlets:      []operator.Port{sig("left"), sig("right")},
		Flags:       operator.Output,
	})
	r.Register(&operator.Definition{
		Name:        "out~",
		Description: "writes to the output channel given as argument, counted from 1",
		Inlets:      []operator.Port{sig("in")},
		Flags:       operator.Output,
		Channel: func(n *operator.Node, _ int) int {
			return max(int(n.FloatArg(0, 1))-1, 0)
		},
	})
}
