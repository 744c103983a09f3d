// Package fragment models the units of signal code emitted by the compiler
// and the evaluation lanes (contexts) they run in.
//
// A Context is either SIMD, meaning each fragment runs over the whole block
// before the next one starts, or scalar, meaning all fragments of the context
// run for one sample before moving to the next. History contexts are scalar
// lanes that keep persistent per-sample state for the context that requested
// them; they are scheduled before it.
package fragment

import (
	"fmt"
	"slices"
)

// Env is what a kernel may observe about the rendering engine.
type Env interface {
	SampleRate() float64
	Param(slot int) float64
}

// Kernel computes one output sample. state is the fragment's persistent
// storage and in holds the current sample of each dependency, in order.
// Kernels run on the real-time path and must not allocate.
type Kernel func(env Env, state []float64, in []float64) float64

// Context identifies one evaluation lane of a compiled program.
type Context struct {
	ID     int
	IsSIMD bool
	// HistoryContext is the lane this one keeps state for, if any.
	HistoryContext *Context

	fragments []*Fragment
}

// Fragments returns every fragment emitted into the context, in emission
// order.
func (c *Context) Fragments() []*Fragment { return c.fragments }

func (c *Context) String() string {
	kind := "scalar"
	if c.IsSIMD {
		kind = "simd"
	}
	if c.HistoryContext != nil {
		return fmt.Sprintf("ctx%d(%s, history of ctx%d)", c.ID, kind, c.HistoryContext.ID)
	}
	return fmt.Sprintf("ctx%d(%s)", c.ID, kind)
}

// Fragment is one emitted unit of code plus its dependency edges.
type Fragment struct {
	// ID doubles as the sequence index; dependencies always have a smaller ID.
	ID           int
	Variable     string
	Code         string
	Context      *Context
	Dependencies []*Fragment
	// Node is the canonical address of the node that produced the fragment.
	Node string

	Kernel Kernel
	// State is the number of persistent slots the kernel needs.
	State int
	// Init seeds the persistent slots.
	Init []float64
	// StateOwner makes the fragment operate on another fragment's slots.
	StateOwner *Fragment
	// Loop marks a fragment that closes an unbroken feedback cycle.
	Loop bool
}

func (f *Fragment) String() string {
	return fmt.Sprintf("%s = %s", f.Variable, f.Code)
}

// Emission is what an operator hands back when asked for code.
type Emission struct {
	Code   string
	Kernel Kernel
	State  int
	Init   []float64
}

// Graph allocates contexts and fragments for one compile.
type Graph struct {
	contexts  []*Context
	fragments []*Fragment
}

// NewGraph returns an empty graph.
func NewGraph() *Graph {
	return &Graph{}
}

// NewContext allocates a context.
func (g *Graph) NewContext(simd bool, history *Context) *Context {
	ctx := &Context{ID: len(g.contexts), IsSIMD: simd, HistoryContext: history}
	g.contexts = append(g.contexts, ctx)
	return ctx
}

// Emit creates a fragment in ctx.
func (g *Graph) Emit(ctx *Context, node string, e Emission, deps []*Fragment) *Fragment {
	id := len(g.fragments)
	f := &Fragment{
		ID:           id,
		Variable:     fmt.Sprintf("v%d", id),
		Code:         e.Code,
		Context:      ctx,
		Dependencies: slices.Clone(deps),
		Node:         node,
		Kernel:       e.Kernel,
		State:        e.State,
		Init:         slices.Clone(e.Init),
	}
	g.fragments = append(g.fragments, f)
	ctx.fragments = append(ctx.fragments, f)
	return f
}

// Contexts returns all contexts in allocation order.
func (g *Graph) Contexts() []*Context { return g.contexts }

// Fragments returns all fragments in emission order.
func (g *Graph) Fragments() []*Fragment { return g.fragments }
