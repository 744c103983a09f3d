package compiler

import (
	"fmt"

	"github.com/vk/patchflow/internal/nodeid"
	"github.com/vk/patchflow/internal/operator"
	"github.com/vk/patchflow/internal/patch"
)

// maxInlineDepth bounds how deep downstream propagation is unfolded into one
// routine. Deeper targets are reached through Dispatch.
const maxInlineDepth = 64

// controlCompiler unfolds message propagation into instruction trees, one per
// node inlet. Nodes already on the path being unfolded are re-entered with
// Dispatch, which keeps compilation finite for cyclic message graphs.
type controlCompiler struct {
	root     *patch.Patch
	diags    *Diagnostics
	onPath   map[Key]bool
	depth    int
	regs     int
	reported map[string]bool
}

func newControlCompiler(root *patch.Patch, diags *Diagnostics) *controlCompiler {
	return &controlCompiler{
		root:     root,
		diags:    diags,
		onPath:   make(map[Key]bool),
		reported: make(map[string]bool),
	}
}

func (c *controlCompiler) report(sev Severity, node string, err error) {
	if c.reported[node] {
		return
	}
	c.reported[node] = true
	c.diags.add(sev, err)
}

// compile returns the routines, emitters and load-time nodes of the tree.
func (c *controlCompiler) compile() (routines, emitters map[Key]*Routine, loadbang []string) {
	routines = make(map[Key]*Routine)
	emitters = make(map[Key]*Routine)

	c.root.Walk(func(addr nodeid.Address, n *patch.Node) bool {
		key := addr.String()
		if n.Kind == patch.KindOperator && !n.Resolved {
			c.report(Warning, key, &StructuralError{Node: key, Reason: fmt.Sprintf("unknown operator %q", n.Operator)})
			return true
		}
		if n.IsPlaceholder() {
			return true
		}
		// Skip-compilation nodes get no routines; deliveries to them are
		// handled directly by the VM. Their outlets still need emitters for
		// outputs coming back from the authoring context.
		skip := false
		if def := n.Definition(); def != nil {
			skip = def.Flags.Has(operator.SkipCompilation)
			if def.Flags.Has(operator.LoadAtStart) {
				loadbang = append(loadbang, key)
			}
		}
		for inlet, io := range n.Inlets {
			if skip {
				break
			}
			if io.Domain == operator.Signal {
				continue
			}
			k := Key{Node: key, Port: inlet}
			routines[k] = c.routine(k, func() []Instruction { return c.deliver(addr, inlet) })
		}
		for outlet, io := range n.Outlets {
			if io.Domain == operator.Signal {
				continue
			}
			k := Key{Node: key, Port: outlet}
			onPath := Key{Node: key, Port: 0}
			emitters[k] = c.routine(k, func() []Instruction {
				c.onPath[onPath] = true
				defer delete(c.onPath, onPath)
				targets := c.outletTargets(addr, n, outlet)
				if len(targets) == 0 {
					return nil
				}
				return []Instruction{{
					Op:       OpBranch,
					Node:     key,
					Register: 0,
					Branches: []Branch{{Outlet: outlet, Targets: targets}},
				}}
			})
		}
		return true
	})
	return routines, emitters, loadbang
}

// routine compiles one instruction list with a fresh register file. Register
// 0 is reserved for emitters.
func (c *controlCompiler) routine(k Key, build func() []Instruction) *Routine {
	c.regs = 1
	ins := build()
	return &Routine{Key: k, Instructions: ins, Registers: c.regs}
}

func (c *controlCompiler) register() int {
	r := c.regs
	c.regs++
	return r
}

// deliver compiles what a message arriving at inlet of the node at addr does.
func (c *controlCompiler) deliver(addr nodeid.Address, inlet int) []Instruction {
	owner, n, ok := c.root.Resolve(addr)
	key := addr.String()
	if !ok {
		c.report(Warning, key, &StructuralError{Node: key, Reason: "connection to a missing node"})
		return nil
	}
	k := Key{Node: key, Port: inlet}

	if n.Kind == patch.KindLiteral {
		if inlet == patch.ReplaceInlet {
			return []Instruction{{Op: OpReplace, Node: key, Inlet: inlet}}
		}
		if c.onPath[k] || c.depth >= maxInlineDepth {
			return []Instruction{{Op: OpDispatch, Node: key, Inlet: inlet}}
		}
		reg := c.register()
		out := []Instruction{{Op: OpPipe, Node: key, Inlet: inlet, Register: reg}}
		return append(out, c.branch(k, addr, n, reg)...)
	}
	if !n.Resolved {
		c.report(Warning, key, &StructuralError{Node: key, Reason: fmt.Sprintf("unknown operator %q", n.Operator)})
		return nil
	}
	def := n.Definition()

	switch {
	case def.Flags.Has(operator.Subpatch), def.Flags.Has(operator.Outlet):
		targets := c.targets(owner, addr, n, inlet)
		if len(targets) == 0 {
			return nil
		}
		return []Instruction{{
			Op:       OpBranch,
			Node:     key,
			Register: PassRegister,
			Branches: []Branch{{Outlet: 0, Targets: targets}},
		}}
	case def.Flags.Has(operator.NeedsMainThread):
		return []Instruction{{Op: OpMainThread, Node: key, Inlet: inlet}}
	case def.Flags.Has(operator.SkipCompilation), c.onPath[k], c.depth >= maxInlineDepth:
		return []Instruction{{Op: OpDispatch, Node: key, Inlet: inlet}}
	case inlet > 0:
		return []Instruction{{Op: OpStore, Node: key, Inlet: inlet}}
	case def.Flags.Has(operator.Send):
		return []Instruction{{Op: OpPublish, Node: key, Inlet: inlet}}
	}

	reg := c.register()
	out := []Instruction{{Op: OpEvaluate, Node: key, Inlet: inlet, Register: reg}}
	return append(out, c.branch(k, addr, n, reg)...)
}

// branch emits the propagation of the outputs in reg, rightmost outlet
// first.
func (c *controlCompiler) branch(k Key, addr nodeid.Address, n *patch.Node, reg int) []Instruction {
	c.onPath[k] = true
	c.depth++
	defer func() {
		delete(c.onPath, k)
		c.depth--
	}()

	var branches []Branch
	for outlet := len(n.Outlets) - 1; outlet >= 0; outlet-- {
		if n.Outlets[outlet].Domain == operator.Signal {
			continue
		}
		if targets := c.outletTargets(addr, n, outlet); len(targets) > 0 {
			branches = append(branches, Branch{Outlet: outlet, Targets: targets})
		}
	}
	if len(branches) == 0 {
		return nil
	}
	return []Instruction{{Op: OpBranch, Node: k.Node, Register: reg, Branches: branches}}
}

// outletTargets compiles one instruction list per connection leaving outlet.
func (c *controlCompiler) outletTargets(addr nodeid.Address, n *patch.Node, outlet int) [][]Instruction {
	var targets [][]Instruction
	for _, conn := range n.Outlets[outlet].Connections {
		dst := sibling(addr, conn.Destination)
		owner, dn, ok := c.root.Resolve(dst)
		if !ok {
			c.report(Warning, dst.String(), &StructuralError{Node: dst.String(), Reason: "connection to a missing node"})
			continue
		}
		targets = append(targets, c.targets(owner, dst, dn, conn.DestinationInlet)...)
	}
	return targets
}

// targets resolves subpatch boundaries: a subpatch inlet continues at the
// matching `in` node inside, an `out` node continues at the parent's outlet.
func (c *controlCompiler) targets(owner *patch.Patch, addr nodeid.Address, n *patch.Node, inlet int) [][]Instruction {
	def := n.Definition()
	if def != nil && def.Flags&(operator.Subpatch|operator.Outlet) != 0 {
		k := Key{Node: addr.String(), Port: inlet}
		if c.onPath[k] {
			c.report(Warning, k.String(), &LoopError{Cycle: []string{k.Node}})
			return nil
		}
		c.onPath[k] = true
		defer delete(c.onPath, k)
	}
	switch {
	case def != nil && def.Flags.Has(operator.Subpatch):
		ph, ok := n.SubPatch.Placeholder(true, inlet+1)
		if !ok {
			return nil
		}
		return c.outletTargets(addr.Child(uint32(ph.ID)), ph, 0)
	case def != nil && def.Flags.Has(operator.Outlet):
		parent, parentID, ok := owner.Parent()
		if !ok {
			c.report(Warning, addr.String(), &StructuralError{Node: addr.String(), Reason: "out node outside a subpatch"})
			return nil
		}
		parentAddr, _ := addr.Parent()
		sub, _ := parent.Node(parentID)
		k := n.PlaceholderIndex() - 1
		if k >= len(sub.Outlets) {
			return nil
		}
		return c.outletTargets(parentAddr, sub, k)
	}
	if ins := c.deliver(addr, inlet); len(ins) > 0 {
		return [][]Instruction{ins}
	}
	return nil
}
