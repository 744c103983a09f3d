package vm

import (
	"context"
	"errors"

	"github.com/vk/patchflow/internal/compiler"
	"github.com/vk/patchflow/internal/ctxlog"
	"github.com/vk/patchflow/internal/msg"
	"github.com/vk/patchflow/internal/operator"
)

// pass is one synchronous evaluation started by a single delivery.
type pass struct {
	vm     *VM
	prog   *compiler.Program
	ctx    context.Context
	res    *Result
	depth  int
	branch *BranchingContext
}

func (p *pass) finish() *Result {
	if c := p.vm.counters; c != nil {
		c.CountMessages(p.res.Messages)
		c.CountInstructions(p.res.Instructions)
	}
	return p.res
}

// enter runs the routine compiled for the node inlet. Nodes without one are
// handled directly.
func (p *pass) enter(addr string, inlet int, m msg.Message) {
	if r, ok := p.prog.Routines[compiler.Key{Node: addr, Port: inlet}]; ok {
		p.routine(r, m, nil)
		return
	}
	st, ok := p.vm.nodes[addr]
	if !ok {
		p.fail(addr, inlet, ErrUnknownNode)
		return
	}
	if st.flags().Has(operator.NeedsMainThread) {
		p.target([]compiler.Instruction{{Op: compiler.OpMainThread, Node: addr, Inlet: inlet}}, m, nil)
		return
	}
	st.store(inlet, m)
	p.res.Messages++
}

// emit sends m out of a node outlet through the outlet's emitter.
func (p *pass) emit(addr string, outlet int, m msg.Message) {
	r, ok := p.prog.Emitters[compiler.Key{Node: addr, Port: outlet}]
	if !ok {
		return
	}
	outs := make([]msg.Message, outlet+1)
	outs[outlet] = m
	p.routine(r, m, outs)
}

// routine runs r with a fresh register file. Register 0 holds preloaded
// outputs for emitters.
func (p *pass) routine(r *compiler.Routine, m msg.Message, preload []msg.Message) {
	regs := make([][]msg.Message, max(r.Registers, 1))
	regs[0] = preload
	p.target(r.Instructions, m, regs)
}

// target runs one instruction list. A failure abandons the rest of this
// list only.
func (p *pass) target(ins []compiler.Instruction, m msg.Message, regs [][]msg.Message) {
	var cur *compiler.Instruction
	defer func() {
		if r := recover(); r != nil {
			if cur == nil {
				p.fail("", 0, &panicError{value: r})
				return
			}
			p.fail(cur.Node, cur.Inlet, &panicError{value: r})
		}
	}()
	for i := range ins {
		cur = &ins[i]
		p.res.Instructions++
		if err := p.step(cur, m, regs); err != nil {
			p.fail(cur.Node, cur.Inlet, err)
			return
		}
	}
}

func (p *pass) node(addr string) (*nodeState, error) {
	st, ok := p.vm.nodes[addr]
	if !ok {
		return nil, ErrUnknownNode
	}
	return st, nil
}

func (p *pass) step(in *compiler.Instruction, m msg.Message, regs [][]msg.Message) error {
	if in.Op == compiler.OpBranch {
		p.fanOut(in, m, regs)
		return nil
	}
	if in.Op == compiler.OpDispatch {
		return p.dispatch(func() { p.enter(in.Node, in.Inlet, m) })
	}

	st, err := p.node(in.Node)
	if err != nil {
		return err
	}
	p.res.Messages++
	switch in.Op {
	case compiler.OpEvaluate:
		outs, err := p.evaluate(st, in.Inlet, m)
		if err != nil {
			return err
		}
		regs[in.Register] = outs
	case compiler.OpStore:
		st.store(in.Inlet, m)
	case compiler.OpPipe:
		st.store(in.Inlet, m)
		regs[in.Register] = []msg.Message{st.pipe(m)}
	case compiler.OpReplace:
		st.replace(m)
		rm := ReplaceMessage{Node: st.address, Message: msg.Plain(m)}
		if b, ok := m.(*msg.SharedBuffer); ok {
			rm.SharedBuffer = b
		}
		p.res.ReplaceMessages = append(p.res.ReplaceMessages, rm)
	case compiler.OpMainThread:
		st.store(in.Inlet, m)
		inlets := make([]msg.Message, max(len(st.last), in.Inlet+1))
		inlets[in.Inlet] = m
		p.res.MainThreadInstructions = append(p.res.MainThreadInstructions, MainThreadInstruction{
			Node:          st.address,
			InletMessages: inlets,
		})
	case compiler.OpPublish:
		st.store(in.Inlet, m)
		return p.dispatch(func() { p.publish(st.topic(), m) })
	}
	return nil
}

// fanOut opens a branching context and delivers each outlet's output to its
// targets, in the order the compiler laid out.
func (p *pass) fanOut(in *compiler.Instruction, m msg.Message, regs [][]msg.Message) {
	var outs []msg.Message
	if in.Register == compiler.PassRegister {
		outs = []msg.Message{m}
	} else {
		outs = regs[in.Register]
	}
	p.vm.branches++
	parent := p.branch
	p.branch = &BranchingContext{ID: p.vm.branches, Parent: parent, Node: in.Node, Outputs: outs}
	defer func() { p.branch = parent }()

	for _, b := range in.Branches {
		if b.Outlet >= len(outs) || !msg.Defined(outs[b.Outlet]) {
			continue
		}
		for _, t := range b.Targets {
			p.target(t, outs[b.Outlet], regs)
		}
	}
}

func (p *pass) dispatch(fn func()) error {
	if p.depth >= MaxDispatchDepth {
		return ErrDispatchDepth
	}
	p.depth++
	defer func() { p.depth-- }()
	fn()
	return nil
}

// publish hands m to the first outlet of every subscriber of topic, in
// registration order.
func (p *pass) publish(topic string, m msg.Message) {
	for _, addr := range p.vm.order {
		st := p.vm.nodes[addr]
		if st.flags().Has(operator.Receive) && st.topic() == topic {
			p.emit(addr, 0, m)
		}
	}
}

func (p *pass) evaluate(st *nodeState, inlet int, m msg.Message) ([]msg.Message, error) {
	st.store(inlet, m)
	def := st.def
	if def == nil || st.inst == nil {
		return nil, errors.New("node has no operator")
	}
	if name, value, ok := operator.ParseAttributeMessage(def.Attributes, m); ok {
		if err := st.inst.Attrs.SetText(name, value); err != nil {
			return nil, err
		}
		p.res.AttributeUpdates = append(p.res.AttributeUpdates, AttributeUpdate{Node: st.address, Name: name, Value: value})
		return nil, nil
	}
	if def.Flags.Has(operator.Param) {
		if f, ok := msg.Float(m); ok {
			if slot, ok := p.prog.Param(st.address); ok {
				p.res.ParamUpdates = append(p.res.ParamUpdates, ParamUpdate{Slot: slot.Slot, Value: f})
			}
		}
	}
	if st.behavior == nil {
		return nil, nil
	}

	outs, err := st.behavior.Evaluate(m)
	if err != nil {
		return nil, err
	}
	if def.Flags.Has(operator.PublishValue) && len(outs) > 0 && msg.Defined(outs[0]) {
		p.res.OnNewValue = append(p.res.OnNewValue, NewValue{Node: st.address, Value: msg.Plain(outs[0])})
	}
	for _, o := range outs {
		if b, ok := o.(*msg.SharedBuffer); ok {
			kind := def.ElementKind
			if kind == msg.KindNone {
				kind = b.Kind
			}
			p.res.OnNewSharedBuffer = append(p.res.OnNewSharedBuffer, NewSharedBuffer{Node: st.address, Kind: kind, Buffer: b})
			break
		}
	}
	return outs, nil
}

func (p *pass) fail(node string, inlet int, err error) {
	re := &RuntimeError{Node: node, Inlet: inlet, Branch: p.branch.Path(), Err: err}
	p.res.Errors = append(p.res.Errors, re)
	ctxlog.FromContext(p.ctx).Error("💥 Node evaluation failed.", "node", node, "inlet", inlet, "error", err)
}

func (s *nodeState) pipe(m msg.Message) msg.Message {
	if s.numeric {
		return s.message
	}
	return msg.Substitute(s.message, m)
}

func (s *nodeState) replace(m msg.Message) {
	s.message = m
	_, s.numeric = m.(float64)
}
