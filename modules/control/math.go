package control

import (
	"fmt"
	"math"

	"github.com/vk/patchflow/internal/msg"
	"github.com/vk/patchflow/internal/operator"
)

// binaryOp applies fn to the hot value and the cold right operand (Args[0]).
// A bang repeats the last computation; lists are mapped element-wise.
func binaryOp(name string, fn func(a, b float64) float64) operator.Constructor {
	return func(n *operator.Node) (operator.Behavior, error) {
		var left msg.Message = 0.0
		return operator.BehaviorFunc(func(m msg.Message) ([]msg.Message, error) {
			if !msg.IsBang(m) {
				left = m
			}
			right := n.FloatArg(0, 0)
			switch v := left.(type) {
			case []msg.Message:
				out := make([]msg.Message, len(v))
				for i, e := range v {
					a, ok := msg.Float(e)
					if !ok {
						return nil, fmt.Errorf("%s: list element %d is not a number", name, i)
					}
					out[i] = fn(a, right)
				}
				return []msg.Message{out}, nil
			default:
				a, ok := msg.Float(v)
				if !ok {
					return nil, fmt.Errorf("%s: expected a number, got %s", name, msg.Format(v))
				}
				return []msg.Message{fn(a, right)}, nil
			}
		}), nil
	}
}

func boolean(ok bool) float64 {
	if ok {
		return 1
	}
	return 0
}

var arithmetic = []struct {
	name string
	fn   func(a, b float64) float64
	desc string
}{
	{"+", func(a, b float64) float64 { return a + b }, "adds two messages together"},
	{"-", func(a, b float64) float64 { return a - b }, "subtracts the right operand"},
	{"*", func(a, b float64) float64 { return a * b }, "multiplies two messages together"},
	{"/", func(a, b float64) float64 {
		if b == 0 {
			return 0
		}
		return a / b
	}, "divides by the right operand; division by zero yields 0"},
	{"%", func(a, b float64) float64 {
		if b == 0 {
			return 0
		}
		return math.Mod(a, b)
	}, "remainder of division by the right operand"},
	{"==", func(a, b float64) float64 { return boolean(a == b) }, "outputs 1 when both operands are equal"},
	{"<", func(a, b float64) float64 { return boolean(a < b) }, "outputs 1 when the left operand is smaller"},
	{">", func(a, b float64) float64 { return boolean(a > b) }, "outputs 1 when the left operand is larger"},
}
