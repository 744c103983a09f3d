package render

import (
	"math"
	"sync/atomic"

	"github.com/vk/patchflow/internal/compiler"
	"github.com/vk/patchflow/internal/fragment"
)

type step struct {
	kernel fragment.Kernel
	state  []float64
	deps   [][]float64
	in     []float64
	out    []float64
}

type lane struct {
	simd  bool
	steps []step
}

type route struct {
	channel int
	buf     []float64
}

// plan is a program prepared for rendering. It is also the kernels' Env.
type plan struct {
	prog       *compiler.Program
	sampleRate float64
	lanes      []lane
	outputs    []route
	params     []atomic.Uint64
}

func (p *plan) SampleRate() float64 { return p.sampleRate }

func (p *plan) Param(slot int) float64 {
	if slot < 0 || slot >= len(p.params) {
		return 0
	}
	return math.Float64frombits(p.params[slot].Load())
}

func (p *plan) setParam(slot int, v float64) {
	if slot >= 0 && slot < len(p.params) {
		p.params[slot].Store(math.Float64bits(v))
	}
}

// slotFor maps slot of plan from onto p by parameter name. Updates queued
// before any plan existed have no slot.
func (p *plan) slotFor(from *plan, slot int) (int, bool) {
	if p == nil || from == nil {
		return -1, false
	}
	if from == p {
		return slot, true
	}
	for _, old := range from.prog.Params {
		if old.Slot != slot {
			continue
		}
		for _, s := range p.prog.Params {
			if s.Name == old.Name {
				return s.Slot, true
			}
		}
	}
	return -1, false
}

// newPlan allocates everything a block needs. Parameter values of prev are
// carried over by name.
func newPlan(prog *compiler.Program, sampleRate float64, block int, prev *plan) *plan {
	p := &plan{prog: prog, sampleRate: sampleRate, params: make([]atomic.Uint64, len(prog.Params))}
	for _, slot := range prog.Params {
		v := slot.Default
		if prev != nil {
			for _, old := range prev.prog.Params {
				if old.Name == slot.Name {
					v = prev.Param(old.Slot)
					break
				}
			}
		}
		p.setParam(slot.Slot, v)
	}

	bufs := make(map[*fragment.Fragment][]float64)
	states := make(map[*fragment.Fragment][]float64)
	stateOf := func(f *fragment.Fragment) []float64 {
		if s, ok := states[f]; ok {
			return s
		}
		s := make([]float64, max(f.State, len(f.Init)))
		copy(s, f.Init)
		states[f] = s
		return s
	}
	for _, l := range prog.Lanes {
		for _, f := range l.Fragments {
			bufs[f] = make([]float64, block)
		}
	}
	for _, l := range prog.Lanes {
		ln := lane{simd: l.Context.IsSIMD}
		for _, f := range l.Fragments {
			owner := f
			if f.StateOwner != nil {
				owner = f.StateOwner
			}
			st := step{
				kernel: f.Kernel,
				state:  stateOf(owner),
				in:     make([]float64, len(f.Dependencies)),
				out:    bufs[f],
			}
			for _, d := range f.Dependencies {
				buf, ok := bufs[d]
				if !ok {
					buf = make([]float64, block)
				}
				st.deps = append(st.deps, buf)
			}
			ln.steps = append(ln.steps, st)
		}
		p.lanes = append(p.lanes, ln)
	}
	for _, o := range prog.Outputs {
		if buf, ok := bufs[o.Fragment]; ok {
			p.outputs = append(p.outputs, route{channel: o.Channel, buf: buf})
		}
	}
	return p
}

func (s *step) run(env fragment.Env, i int) {
	for k, d := range s.deps {
		s.in[k] = d[i]
	}
	if s.kernel == nil {
		s.out[i] = 0
		return
	}
	s.out[i] = s.kernel(env, s.state, s.in)
}

// render fills every fragment buffer for frames samples. Scalar lanes run
// all their fragments for one sample before the next; SIMD lanes run each
// fragment over the whole block.
func (p *plan) render(frames int) {
	for li := range p.lanes {
		l := &p.lanes[li]
		if l.simd {
			for si := range l.steps {
				s := &l.steps[si]
				for i := range frames {
					s.run(p, i)
				}
			}
			continue
		}
		for i := range frames {
			for si := range l.steps {
				l.steps[si].run(p, i)
			}
		}
	}
}
