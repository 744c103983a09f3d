package vm

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/vk/patchflow/internal/compiler"
	"github.com/vk/patchflow/internal/ctxlog"
	"github.com/vk/patchflow/internal/msg"
	"github.com/vk/patchflow/internal/operator"
)

// MaxDispatchDepth bounds how often one pass re-enters routines at run time.
const MaxDispatchDepth = 4096

// Counters receives the message and instruction counts of every pass.
type Counters interface {
	CountMessages(n int)
	CountInstructions(n int)
}

// Option configures a VM.
type Option func(*VM)

// WithCounters reports pass statistics to c.
func WithCounters(c Counters) Option {
	return func(v *VM) { v.counters = c }
}

// VM interprets compiled control routines.
type VM struct {
	registry *operator.Registry
	program  atomic.Pointer[compiler.Program]
	nodes    map[string]*nodeState
	order    []string
	counters Counters
	branches int
}

// New creates a VM that instantiates operators from reg.
func New(reg *operator.Registry, opts ...Option) *VM {
	v := &VM{
		registry: reg,
		nodes:    make(map[string]*nodeState),
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Load makes prog the program used by the next pass.
func (v *VM) Load(prog *compiler.Program) {
	v.program.Store(prog)
}

// Program returns the loaded program, or nil.
func (v *VM) Program() *compiler.Program {
	return v.program.Load()
}

// Receive delivers m to inlet of the node at addr and runs the pass to
// completion. Failures inside nodes are reported in Result.Errors; the
// returned error is for deliveries that could not start.
func (v *VM) Receive(ctx context.Context, addr string, inlet int, m msg.Message) (*Result, error) {
	prog := v.program.Load()
	if prog == nil {
		return nil, ErrNoProgram
	}
	if _, ok := v.nodes[addr]; !ok {
		return nil, fmt.Errorf("receive on %s: %w", addr, ErrUnknownNode)
	}
	p := v.newPass(ctx, prog)
	p.enter(addr, inlet, m)
	return p.finish(), nil
}

// Emit sends m out of outlet of the node at addr, as if the node had
// produced it. The authoring context uses it for the outputs of operators it
// runs locally.
func (v *VM) Emit(ctx context.Context, addr string, outlet int, m msg.Message) (*Result, error) {
	prog := v.program.Load()
	if prog == nil {
		return nil, ErrNoProgram
	}
	p := v.newPass(ctx, prog)
	p.emit(addr, outlet, m)
	return p.finish(), nil
}

// LoadBang bangs every node whose operator runs at load.
func (v *VM) LoadBang(ctx context.Context) (*Result, error) {
	prog := v.program.Load()
	if prog == nil {
		return nil, ErrNoProgram
	}
	res := &Result{}
	for _, addr := range prog.LoadBang {
		r, err := v.Receive(ctx, addr, 0, msg.Bang)
		if err != nil {
			ctxlog.FromContext(ctx).Warn("⚠️ Loadbang skipped.", "node", addr, "error", err)
			continue
		}
		res.Merge(r)
	}
	return res, nil
}

func (v *VM) newPass(ctx context.Context, prog *compiler.Program) *pass {
	return &pass{vm: v, prog: prog, ctx: ctx, res: &Result{}}
}
