package dsp

import (
	"fmt"
	"math"
	"strings"

	"github.com/vk/patchflow/internal/fragment"
	"github.com/vk/patchflow/internal/operator"
)

// call renders `name(v1, v2)` from the input variables.
func call(name string, inputs []*fragment.Fragment) string {
	vars := make([]string, len(inputs))
	for i, f := range inputs {
		vars[i] = f.Variable
	}
	return fmt.Sprintf("%s(%s)", name, strings.Join(vars, ", "))
}

func arity(in operator.SynthInput, want int) error {
	if len(in.Inputs) != want {
		return fmt.Errorf("expected %d inputs, got %d", want, len(in.Inputs))
	}
	return nil
}

func binary(name string, fn func(a, b float64) float64) operator.Synthesizer {
	return func(in operator.SynthInput) (fragment.Emission, error) {
		if err := arity(in, 2); err != nil {
			return fragment.Emission{}, err
		}
		return fragment.Emission{
			Code: call(name, in.Inputs),
			Kernel: func(_ fragment.Env, _ []float64, x []float64) float64 {
				return fn(x[0], x[1])
			},
		}, nil
	}
}

func unary(name string, fn func(a float64) float64) operator.Synthesizer {
	return func(in operator.SynthInput) (fragment.Emission, error) {
		if err := arity(in, 1); err != nil {
			return fragment.Emission{}, err
		}
		return fragment.Emission{
			Code: call(name, in.Inputs),
			Kernel: func(_ fragment.Env, _ []float64, x []float64) float64 {
				return fn(x[0])
			},
		}, nil
	}
}

// Constant emits a literal value. The compiler uses it for unconnected
// signal inlets.
func Constant(v float64) fragment.Emission {
	return fragment.Emission{
		Code: fmt.Sprintf("%g", v),
		Kernel: func(fragment.Env, []float64, []float64) float64 {
			return v
		},
	}
}

func synthSig(in operator.SynthInput) (fragment.Emission, error) {
	return Constant(in.Node.FloatArg(0, 0)), nil
}

func synthParam(in operator.SynthInput) (fragment.Emission, error) {
	slot := in.ParamSlot
	return fragment.Emission{
		Code: fmt.Sprintf("param(%d)", slot),
		Kernel: func(env fragment.Env, _ []float64, _ []float64) float64 {
			return env.Param(slot)
		},
	}, nil
}

// synthPhasor ramps from 0 to 1 at the input frequency. state[0] is the
// phase.
func synthPhasor(in operator.SynthInput) (fragment.Emission, error) {
	if err := arity(in, 1); err != nil {
		return fragment.Emission{}, err
	}
	return fragment.Emission{
		Code:  call("phasor", in.Inputs),
		State: 1,
		Kernel: func(env fragment.Env, state []float64, x []float64) float64 {
			out := state[0]
			state[0] = wrap(state[0] + x[0]/env.SampleRate())
			return out
		},
	}, nil
}

// synthCycle is a sine oscillator driven by its own phase accumulator.
func synthCycle(in operator.SynthInput) (fragment.Emission, error) {
	if err := arity(in, 1); err != nil {
		return fragment.Emission{}, err
	}
	return fragment.Emission{
		Code:  call("cycle", in.Inputs),
		State: 1,
		Kernel: func(env fragment.Env, state []float64, x []float64) float64 {
			out := math.Sin(2 * math.Pi * state[0])
			state[0] = wrap(state[0] + x[0]/env.SampleRate())
			return out
		},
	}, nil
}

// synthClip limits the first input to the range of the other two.
func synthClip(in operator.SynthInput) (fragment.Emission, error) {
	if err := arity(in, 3); err != nil {
		return fragment.Emission{}, err
	}
	return fragment.Emission{
		Code: call("clamp", in.Inputs),
		Kernel: func(_ fragment.Env, _ []float64, x []float64) float64 {
			lo, hi := x[1], x[2]
			if lo > hi {
				lo, hi = hi, lo
			}
			return min(max(x[0], lo), hi)
		},
	}, nil
}

func wrap(phase float64) float64 {
	phase -= math.Floor(phase)
	return phase
}

func safeDiv(a, b float64) float64 {
	if b == 0 {
		return 0
	}
	return a / b
}
