package compiler

import (
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/vk/patchflow/internal/fragment"
	"github.com/vk/patchflow/internal/msg"
	"github.com/vk/patchflow/internal/nodeid"
	"github.com/vk/patchflow/internal/operator"
	"github.com/vk/patchflow/internal/patch"
)

// errDropped wraps a failure that was already reported where it happened.
// Dependents fail with it without adding diagnostics of their own.
type errDropped struct{ cause error }

func (e *errDropped) Error() string { return e.cause.Error() }
func (e *errDropped) Unwrap() error { return e.cause }

type visitKey struct {
	node string
	ctx  int
}

type outletKey struct {
	node   string
	outlet int
	ctx    int
}

// signalCompiler walks backwards from the output nodes. Every (node,
// context) pair on the current path sits on the stack; meeting one again is a
// feedback cycle.
type signalCompiler struct {
	root  *patch.Patch
	graph *fragment.Graph
	memo  *fragment.Memo
	simd  *fragment.Context
	diags *Diagnostics

	onStack  map[visitKey]int
	path     []string
	failed   map[outletKey]error
	cycles   map[string]bool
	loops    []*fragment.Fragment
	lanes    map[*fragment.Context]*fragment.Context
	writes   map[*fragment.Fragment]*fragment.Fragment
	params   []ParamSlot
	paramFor map[string]int
}

func newSignalCompiler(root *patch.Patch, diags *Diagnostics) *signalCompiler {
	g := fragment.NewGraph()
	return &signalCompiler{
		root:     root,
		graph:    g,
		memo:     fragment.NewMemo(),
		simd:     g.NewContext(true, nil),
		diags:    diags,
		onStack:  make(map[visitKey]int),
		failed:   make(map[outletKey]error),
		cycles:   make(map[string]bool),
		lanes:    make(map[*fragment.Context]*fragment.Context),
		writes:   make(map[*fragment.Fragment]*fragment.Fragment),
		paramFor: make(map[string]int),
	}
}

// sibling addresses node id in the same patch as addr.
func sibling(addr nodeid.Address, id patch.NodeID) nodeid.Address {
	parent, ok := addr.Parent()
	if !ok {
		parent = nodeid.Root()
	}
	return parent.Child(uint32(id))
}

func instance(addr nodeid.Address, n *patch.Node) *operator.Node {
	return &operator.Node{Address: addr.String(), Args: n.Args, Attrs: n.Attrs}
}

// compile fills outputs for every Output node in the tree.
func (c *signalCompiler) compile() []Output {
	var outputs []Output
	c.root.Walk(func(addr nodeid.Address, n *patch.Node) bool {
		def := n.Definition()
		if def == nil || !def.Flags.Has(operator.Output) {
			return true
		}
		owner, _, _ := c.root.Resolve(addr)
		for inlet, io := range n.Inlets {
			if len(io.Connections) == 0 {
				continue
			}
			f, err := c.compileInlet(owner, addr, n, inlet, c.simd)
			if err != nil {
				continue
			}
			outputs = append(outputs, Output{
				Channel:  def.OutputChannel(instance(addr, n), inlet),
				Node:     addr.String(),
				Fragment: f,
			})
		}
		return true
	})
	return outputs
}

// fail records err as the origin of a dropped branch.
func (c *signalCompiler) fail(sev Severity, err error) error {
	c.diags.add(sev, err)
	return &errDropped{cause: err}
}

func propagate(err error) error {
	var dropped *errDropped
	if errors.As(err, &dropped) {
		return dropped
	}
	return &errDropped{cause: err}
}

// compileInlet returns the fragment feeding inlet of n. Unconnected inlets
// become constants, several connections are summed.
func (c *signalCompiler) compileInlet(owner *patch.Patch, addr nodeid.Address, n *patch.Node, inlet int, ctx *fragment.Context) (*fragment.Fragment, error) {
	io := n.Inlets[inlet]
	if len(io.Connections) == 0 {
		return c.constant(addr, n, inlet, ctx), nil
	}
	var inputs []*fragment.Fragment
	for _, conn := range io.Connections {
		src, ok := owner.Node(conn.Source)
		if !ok {
			return nil, c.fail(Warning, &StructuralError{Node: addr.String(), Reason: fmt.Sprintf("dangling connection from %d", conn.Source)})
		}
		srcAddr := sibling(addr, conn.Source)
		if src.Kind == patch.KindLiteral || (src.Resolved && src.Outlets[conn.SourceOutlet].Domain != operator.Signal) {
			return nil, c.fail(Error, &TypeError{Node: addr.String(), Inlet: inlet,
				Err: fmt.Errorf("control outlet of %s connected to a signal inlet", srcAddr)})
		}
		f, err := c.compileOutlet(owner, srcAddr, src, conn.SourceOutlet, ctx)
		if err != nil {
			return nil, propagate(err)
		}
		inputs = append(inputs, f)
	}
	if len(inputs) == 1 {
		return inputs[0], nil
	}
	vars := make([]string, len(inputs))
	for i, f := range inputs {
		vars[i] = f.Variable
	}
	return c.graph.Emit(ctx, addr.String(), fragment.Emission{
		Code:   "sum(" + strings.Join(vars, ", ") + ")",
		Kernel: sum,
	}, inputs), nil
}

func sum(_ fragment.Env, _ []float64, in []float64) float64 {
	var s float64
	for _, v := range in {
		s += v
	}
	return s
}

func (c *signalCompiler) constant(addr nodeid.Address, n *patch.Node, inlet int, ctx *fragment.Context) *fragment.Fragment {
	def := 0.0
	if d := n.Definition(); d != nil && inlet < len(d.Inlets) {
		def = d.Inlets[inlet].Default
	}
	v := def
	if inlet > 0 && inlet-1 < len(n.Args) {
		if f, ok := msg.Float(n.Args[inlet-1]); ok {
			v = f
		}
	}
	return c.graph.Emit(ctx, addr.String(), fragment.Emission{
		Code: fmt.Sprintf("%g", v),
		Kernel: func(fragment.Env, []float64, []float64) float64 {
			return v
		},
	}, nil)
}

// compileOutlet returns the fragment producing outlet of n in ctx.
func (c *signalCompiler) compileOutlet(owner *patch.Patch, addr nodeid.Address, n *patch.Node, outlet int, ctx *fragment.Context) (*fragment.Fragment, error) {
	key := addr.String()
	if !n.Resolved {
		// Reported once per node by the control pass.
		return nil, &errDropped{cause: &StructuralError{Node: key, Reason: fmt.Sprintf("unknown operator %q", n.Operator)}}
	}
	def := n.Definition()

	// Subpatches and their placeholders are routed through, they emit no code.
	switch {
	case def.Flags.Has(operator.Subpatch):
		ph, ok := n.SubPatch.Placeholder(false, outlet+1)
		if !ok {
			return nil, c.fail(Warning, &StructuralError{Node: key, Reason: fmt.Sprintf("subpatch has no out %d", outlet+1)})
		}
		return c.hop(fmt.Sprintf("%s:%d", key, outlet), ctx, func() (*fragment.Fragment, error) {
			return c.compileInlet(n.SubPatch, addr.Child(uint32(ph.ID)), ph, 0, ctx)
		})
	case def.Flags.Has(operator.Inlet):
		parent, parentID, ok := owner.Parent()
		if !ok {
			return nil, c.fail(Warning, &StructuralError{Node: key, Reason: "in node outside a subpatch"})
		}
		parentAddr, _ := addr.Parent()
		sub, _ := parent.Node(parentID)
		k := n.PlaceholderIndex() - 1
		if k >= len(sub.Inlets) {
			return nil, c.fail(Warning, &StructuralError{Node: key, Reason: fmt.Sprintf("subpatch has no inlet %d", k)})
		}
		return c.hop(key, ctx, func() (*fragment.Fragment, error) {
			return c.compileInlet(parent, parentAddr, sub, k, ctx)
		})
	}

	if err, ok := c.failed[outletKey{key, outlet, ctx.ID}]; ok {
		return nil, err
	}
	if f, ok := c.memo.Lookup(key, outlet, ctx); ok {
		return f, nil
	}
	if idx, ok := c.onStack[visitKey{key, ctx.ID}]; ok {
		return nil, c.loop(key, idx, ctx)
	}

	f, err := c.synthesize(owner, addr, n, def, outlet, ctx)
	if err != nil {
		err = propagate(err)
		c.failed[outletKey{key, outlet, ctx.ID}] = err
		return nil, err
	}
	return f, nil
}

// hop follows a routing step that emits no code. The step stays on the visit
// stack while next runs so a cycle made only of hops is still closed.
func (c *signalCompiler) hop(key string, ctx *fragment.Context, next func() (*fragment.Fragment, error)) (*fragment.Fragment, error) {
	if idx, ok := c.onStack[visitKey{key, ctx.ID}]; ok {
		return nil, c.loop(key, idx, ctx)
	}
	c.push(key, ctx)
	defer c.pop(key, ctx)
	return next()
}

func (c *signalCompiler) push(key string, ctx *fragment.Context) {
	c.onStack[visitKey{key, ctx.ID}] = len(c.path)
	c.path = append(c.path, key)
}

func (c *signalCompiler) pop(key string, ctx *fragment.Context) {
	delete(c.onStack, visitKey{key, ctx.ID})
	c.path = c.path[:len(c.path)-1]
}

func (c *signalCompiler) synthesize(owner *patch.Patch, addr nodeid.Address, n *patch.Node, def *operator.Definition, outlet int, ctx *fragment.Context) (*fragment.Fragment, error) {
	key := addr.String()
	switch {
	case def.Flags.Has(operator.SkipCompilation):
		return nil, c.fail(Error, &TypeError{Node: key, Inlet: -1, Err: errors.New("operator runs in the authoring context and has no signal output")})
	case outlet >= len(def.Outlets) || def.Outlets[outlet].Domain != operator.Signal:
		return nil, c.fail(Error, &TypeError{Node: key, Inlet: -1, Err: fmt.Errorf("outlet %d is not a signal outlet", outlet)})
	case outlet > 0:
		return nil, c.fail(Error, &TypeError{Node: key, Inlet: -1, Err: errors.New("only the first outlet carries a signal")})
	case def.Flags.Has(operator.History):
		return c.history(owner, addr, n, ctx)
	}

	c.push(key, ctx)
	defer c.pop(key, ctx)

	var inputs []*fragment.Fragment
	for inlet, port := range def.Inlets {
		if port.Domain != operator.Signal {
			continue
		}
		f, err := c.compileInlet(owner, addr, n, inlet, ctx)
		if err != nil {
			return nil, err
		}
		inputs = append(inputs, f)
	}

	in := operator.SynthInput{Node: instance(addr, n), Inputs: inputs, Context: ctx}
	if def.Flags.Has(operator.Param) {
		in.ParamSlot = c.paramSlot(key, n)
	}
	e, err := def.Synth(in)
	if err != nil {
		return nil, c.fail(Error, &TypeError{Node: key, Inlet: -1, Err: err})
	}
	f := c.graph.Emit(ctx, key, e, inputs)
	c.memo.Store(key, outlet, f)
	return f, nil
}

// historyLane returns the scalar feedback lane serving ctx. Every history node
// reached from the same context shares one lane, so nested and mutually
// dependent histories resolve through the memo instead of opening new lanes.
func (c *signalCompiler) historyLane(ctx *fragment.Context) *fragment.Context {
	if ctx.HistoryContext != nil {
		return ctx
	}
	if h, ok := c.lanes[ctx]; ok {
		return h
	}
	h := c.graph.NewContext(false, ctx)
	c.lanes[ctx] = h
	return h
}

// history emits the read of the node's state before compiling its input, so
// a path leading back to the node finds the read in the memo. The write runs
// after the input within the same sample.
func (c *signalCompiler) history(owner *patch.Patch, addr nodeid.Address, n *patch.Node, ctx *fragment.Context) (*fragment.Fragment, error) {
	key := addr.String()
	lane := c.historyLane(ctx)
	init := 0.0
	if len(n.Args) > 0 {
		if f, ok := msg.Float(n.Args[0]); ok {
			init = f
		}
	}
	read := c.graph.Emit(lane, key, fragment.Emission{
		Code:  fmt.Sprintf("history(%g)", init),
		State: 1,
		Init:  []float64{init},
		Kernel: func(_ fragment.Env, state []float64, _ []float64) float64 {
			return state[0]
		},
	}, nil)
	c.memo.Store(key, 0, read)

	input, err := c.compileInlet(owner, addr, n, 0, lane)
	if err != nil {
		return nil, err
	}
	write := c.graph.Emit(lane, key, fragment.Emission{
		Code: fmt.Sprintf("%s := %s", read.Variable, input.Variable),
		Kernel: func(_ fragment.Env, state []float64, in []float64) float64 {
			state[0] = in[0]
			return in[0]
		},
	}, []*fragment.Fragment{input})
	write.StateOwner = read
	c.writes[read] = write
	return read, nil
}

// loop reports the cycle closed at path[idx:] once and returns the error
// dependents fail with.
func (c *signalCompiler) loop(key string, idx int, ctx *fragment.Context) error {
	cycle := slices.Clone(c.path[idx:])
	start := 0
	for i, node := range cycle {
		if node < cycle[start] {
			start = i
		}
	}
	cycle = append(cycle[start:], cycle[:start]...)

	err := &LoopError{Cycle: cycle}
	id := strings.Join(cycle, ",")
	if c.cycles[id] {
		return &errDropped{cause: err}
	}
	c.cycles[id] = true

	marker := c.graph.Emit(ctx, key, fragment.Emission{Code: "loop(" + strings.Join(cycle, ", ") + ")"}, nil)
	marker.Loop = true
	c.loops = append(c.loops, marker)
	return c.fail(Warning, err)
}

func (c *signalCompiler) paramSlot(key string, n *patch.Node) int {
	if slot, ok := c.paramFor[key]; ok {
		return slot
	}
	slot := len(c.params)
	name := key
	if len(n.Args) > 0 {
		if s, ok := n.Args[0].(string); ok && s != "" {
			name = s
		}
	}
	def := 0.0
	if len(n.Args) > 1 {
		if f, ok := msg.Float(n.Args[1]); ok {
			def = f
		}
	}
	c.params = append(c.params, ParamSlot{Name: name, Node: key, Slot: slot, Default: def})
	c.paramFor[key] = slot
	return slot
}

// schedule keeps the fragments the outputs need, plus the writes of every
// history read they use, and orders contexts so dependencies run first.
func (c *signalCompiler) schedule(outputs []Output) []Lane {
	keep := make(map[*fragment.Fragment]bool)
	var mark func(f *fragment.Fragment)
	mark = func(f *fragment.Fragment) {
		if keep[f] {
			return
		}
		keep[f] = true
		for _, d := range f.Dependencies {
			mark(d)
		}
	}
	for _, o := range outputs {
		mark(o.Fragment)
	}
	for changed := true; changed; {
		changed = false
		for read, write := range c.writes {
			if keep[read] && !keep[write] {
				mark(write)
				changed = true
			}
		}
	}

	ordered, looped := fragment.Order(c.graph.Contexts())
	for _, ctx := range looped {
		c.diags.add(Warning, &LoopError{Cycle: []string{ctx.String()}})
	}

	var lanes []Lane
	for _, ctx := range ordered {
		if fragment.InLoop(ctx) {
			c.diags.add(Warning, &LoopError{Cycle: []string{ctx.String()}})
			continue
		}
		var frags []*fragment.Fragment
		for _, f := range ctx.Fragments() {
			if keep[f] {
				frags = append(frags, f)
			}
		}
		if len(frags) == 0 {
			continue
		}
		slices.SortFunc(frags, func(a, b *fragment.Fragment) int { return a.ID - b.ID })
		lanes = append(lanes, Lane{Context: ctx, Fragments: frags})
	}
	return lanes
}
