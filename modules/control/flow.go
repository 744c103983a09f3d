package control

import (
	"fmt"

	"github.com/vk/patchflow/internal/msg"
	"github.com/vk/patchflow/internal/operator"
)

// newFloat stores a number. Numbers are stored and sent, a bang sends the
// stored value, the cold inlet stores without sending.
func newFloat(n *operator.Node) (operator.Behavior, error) {
	return operator.BehaviorFunc(func(m msg.Message) ([]msg.Message, error) {
		if !msg.IsBang(m) {
			f, ok := msg.Float(m)
			if !ok {
				return nil, fmt.Errorf("float: expected a number, got %s", msg.Format(m))
			}
			n.Args[0] = f
		}
		return []msg.Message{n.FloatArg(0, 0)}, nil
	}), nil
}

// newGate sends the message to outlet Args[0]-1 and drops it when the
// control value is 0 or out of range.
func newGate(outlets int) operator.Constructor {
	return func(n *operator.Node) (operator.Behavior, error) {
		return operator.BehaviorFunc(func(m msg.Message) ([]msg.Message, error) {
			out := make([]msg.Message, outlets)
			k := int(n.FloatArg(0, 0))
			if k >= 1 && k <= outlets {
				out[k-1] = m
			}
			return out, nil
		}), nil
	}
}

// newPack prepends the hot value to the cold inlet cache. "clear" empties
// the cache.
func newPack(n *operator.Node) (operator.Behavior, error) {
	return operator.BehaviorFunc(func(m msg.Message) ([]msg.Message, error) {
		if m == "clear" {
			for i := range n.Args {
				n.Args[i] = nil
			}
			return nil, nil
		}
		list := make([]msg.Message, 0, len(n.Args)+1)
		list = append(list, m)
		list = append(list, n.Args...)
		return []msg.Message{list}, nil
	}), nil
}

// newUnpack spreads a list over the outlets. Extra elements are dropped.
func newUnpack(outlets int) operator.Constructor {
	return func(n *operator.Node) (operator.Behavior, error) {
		return operator.BehaviorFunc(func(m msg.Message) ([]msg.Message, error) {
			list, ok := m.([]msg.Message)
			if !ok {
				return nil, nil
			}
			out := make([]msg.Message, outlets)
			copy(out, list)
			return out, nil
		}), nil
	}
}

func newLoadbang(n *operator.Node) (operator.Behavior, error) {
	return operator.BehaviorFunc(func(msg.Message) ([]msg.Message, error) {
		return []msg.Message{msg.Bang}, nil
	}), nil
}

// newSend has no outlets; the VM delivers the message to every subscriber
// of the topic held in Args[0].
func newSend(n *operator.Node) (operator.Behavior, error) {
	return operator.BehaviorFunc(func(msg.Message) ([]msg.Message, error) {
		return nil, nil
	}), nil
}

// newSubscribe renames the topic when a string arrives on its inlet.
// Published messages bypass Evaluate and leave through the outlet directly.
func newSubscribe(n *operator.Node) (operator.Behavior, error) {
	return operator.BehaviorFunc(func(m msg.Message) ([]msg.Message, error) {
		if s, ok := m.(string); ok && !msg.IsBang(m) {
			if len(n.Args) == 0 {
				n.Args = append(n.Args, nil)
			}
			n.Args[0] = s
		}
		return nil, nil
	}), nil
}
