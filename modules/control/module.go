package control

import (
	"github.com/vk/patchflow/internal/operator"
)

// Module implements the operator.Module interface for this package.
type Module struct{}

// Register registers the control-rate operators with the registry.
func (m *Module) Register(r *operator.Registry) {
	r.Register(&operator.Definition{
		Name:        "counter",
		Description: "counts between min and max, with a carry bang on the second outlet",
		Inlets:      []operator.Port{operator.ControlPort("in")},
		Outlets:     []operator.Port{operator.ControlPort("value"), operator.ControlPort("carry")},
		Attributes:  counterAttrs,
		New:         NewCounter,
	})

	for _, op := range arithmetic {
		r.Register(&operator.Definition{
			Name:        op.name,
			Description: op.desc,
			Inlets:      []operator.Port{operator.ControlPort("left"), operator.ControlPort("right")},
			Outlets:     []operator.Port{operator.ControlPort("result")},
			New:         binaryOp(op.name, op.fn),
		})
	}

	r.Register(&operator.Definition{
		Name:        "float",
		Description: "stores a number and sends it on bang",
		Inlets:      []operator.Port{operator.ControlPort("in"), operator.ControlPort("set")},
		Outlets:     []operator.Port{operator.ControlPort("out")},
		New:         newFloat,
	}, "f")
	r.Register(&operator.Definition{
		Name:        "gate",
		Description: "routes messages to the outlet selected by the control inlet",
		Inlets:      []operator.Port{operator.ControlPort("msg"), operator.ControlPort("control")},
		Outlets:     []operator.Port{operator.ControlPort("out 1"), operator.ControlPort("out 2")},
		New:         newGate(2),
	})
	r.Register(&operator.Definition{
		Name:        "pack",
		Description: "packs inlets into a list",
		Inlets:      []operator.Port{operator.ControlPort("a"), operator.ControlPort("b")},
		Outlets:     []operator.Port{operator.ControlPort("list")},
		New:         newPack,
	}, "pak")
	r.Register(&operator.Definition{
		Name:        "unpack",
		Description: "unpacks a list into outlets",
		Inlets:      []operator.Port{operator.ControlPort("list")},
		Outlets:     []operator.Port{operator.ControlPort("a"), operator.ControlPort("b")},
		New:         newUnpack(2),
	})
	r.Register(&operator.Definition{
		Name:        "loadbang",
		Description: "sends a bang when the program is first loaded",
		Inlets:      []operator.Port{operator.ControlPort("in")},
		Outlets:     []operator.Port{operator.ControlPort("bang")},
		Flags:       operator.LoadAtStart,
		New:         newLoadbang,
	})
	r.Register(&operator.Definition{
		Name:        "send",
		Description: "publishes messages to every subscriber of a topic",
		Inlets:      []operator.Port{operator.ControlPort("message"), operator.ControlPort("topic")},
		Flags:       operator.Send,
		New:         newSend,
	}, "s")
	r.Register(&operator.Definition{
		Name:        "subscribe",
		Description: "outputs messages published to a topic",
		Inlets:      []operator.Port{operator.ControlPort("topic")},
		Outlets:     []operator.Port{operator.ControlPort("out")},
		Flags:       operator.Receive,
		New:         newSubscribe,
	}, "receive", "r")
}
