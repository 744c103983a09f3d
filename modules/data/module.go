package data

import (
	"fmt"

	"github.com/vk/patchflow/internal/msg"
	"github.com/vk/patchflow/internal/operator"
)

// Module implements the operator.Module interface for this package.
type Module struct{}

const defaultBufferSize = 16

// newBuffer returns a constructor for a buffer of the given element kind.
// The size comes from the first argument. A list writes its elements from
// index 0, `set i v` writes one element, `clear` zeroes the region and a bang
// only republishes it. Every accepted message sends the live buffer.
func newBuffer(kind msg.ElementKind) operator.Constructor {
	return func(n *operator.Node) (operator.Behavior, error) {
		size := int(n.FloatArg(0, defaultBufferSize))
		if size <= 0 {
			return nil, fmt.Errorf("buffer: size must be positive, got %d", size)
		}
		buf := msg.NewSharedBuffer(kind, size)
		return operator.BehaviorFunc(func(m msg.Message) ([]msg.Message, error) {
			switch v := m.(type) {
			case []msg.Message:
				if len(v) == 3 && v[0] == "set" {
					i, ok := msg.Float(v[1])
					if !ok || int(i) < 0 || int(i) >= size {
						return nil, fmt.Errorf("buffer: index %s out of range", msg.Format(v[1]))
					}
					if err := write(buf, int(i), v[2]); err != nil {
						return nil, err
					}
					break
				}
				for i, e := range v {
					if i >= size {
						break
					}
					if err := write(buf, i, e); err != nil {
						return nil, err
					}
				}
			case string:
				switch {
				case v == "clear":
					clear(buf.Bytes())
				case msg.IsBang(v):
				default:
					return nil, fmt.Errorf("buffer: unsupported message %q", v)
				}
			default:
				return nil, fmt.Errorf("buffer: unsupported message %s", msg.Format(m))
			}
			return []msg.Message{buf}, nil
		}), nil
	}
}

func write(buf *msg.SharedBuffer, i int, v msg.Message) error {
	f, ok := msg.Float(v)
	if !ok {
		return fmt.Errorf("buffer: element %d is not a number", i)
	}
	switch buf.Kind {
	case msg.Uint8:
		buf.Uint8()[i] = uint8(min(max(f, 0), 255))
	case msg.Float32:
		buf.Float32()[i] = float32(f)
	}
	return nil
}

// newNumber shows the last number it received and passes it on.
func newNumber(n *operator.Node) (operator.Behavior, error) {
	var last msg.Message = 0.0
	return operator.BehaviorFunc(func(m msg.Message) ([]msg.Message, error) {
		if !msg.IsBang(m) {
			if _, ok := msg.Float(m); !ok {
				return nil, fmt.Errorf("number: expected a number, got %s", msg.Format(m))
			}
			last = m
		}
		return []msg.Message{last}, nil
	}), nil
}

// Register registers the data operators with the registry.
func (m *Module) Register(r *operator.Registry) {
	r.Register(&operator.Definition{
		Name:        "buffer",
		Description: "a float32 region shared with the authoring context; `buffer size`",
		Inlets:      []operator.Port{operator.ControlPort("in")},
		Outlets:     []operator.Port{operator.ControlPort("buffer")},
		ElementKind: msg.Float32,
		New:         newBuffer(msg.Float32),
	})
	r.Register(&operator.Definition{
		Name:        "bytes",
		Description: "a uint8 region shared with the authoring context; `bytes size`",
		Inlets:      []operator.Port{operator.ControlPort("in")},
		Outlets:     []operator.Port{operator.ControlPort("buffer")},
		ElementKind: msg.Uint8,
		New:         newBuffer(msg.Uint8),
	})
	r.Register(&operator.Definition{
		Name:        "number",
		Description: "displays and forwards numbers",
		Inlets:      []operator.Port{operator.ControlPort("in")},
		Outlets:     []operator.Port{operator.ControlPort("out")},
		Flags:       operator.PublishValue,
		New:         newNumber,
	}, "value")
}
