package vm

import (
	"errors"
	"fmt"
	"slices"

	"github.com/vk/patchflow/internal/attr"
	"github.com/vk/patchflow/internal/msg"
	"github.com/vk/patchflow/internal/nodeid"
	"github.com/vk/patchflow/internal/operator"
	"github.com/vk/patchflow/internal/patch"
)

// NodeSpec is the plain description of a node the VM instantiates.
type NodeSpec struct {
	Address string `msgpack:"address"`
	// Text is the operator definition, or the source text of a literal.
	Text string `msgpack:"text"`
	// Args overrides the argument cache parsed from Text when non-nil.
	Args       []msg.Message  `msgpack:"args,omitempty"`
	Attributes map[string]any `msgpack:"attributes,omitempty"`
	// Message is a literal's stored value.
	Message msg.Message `msgpack:"message,omitempty"`
	Inlets  int         `msgpack:"inlets"`
}

// Specs lists the object and message nodes of a patch tree. Placeholders and
// subpatch nodes are included so addresses resolve.
func Specs(p *patch.Patch) (objects, messages []NodeSpec) {
	p.Walk(func(addr nodeid.Address, n *patch.Node) bool {
		spec := NodeSpec{
			Address: addr.String(),
			Text:    n.Text,
			Inlets:  len(n.Inlets),
		}
		if n.Kind == patch.KindLiteral {
			spec.Message = msg.Plain(n.Message)
			messages = append(messages, spec)
			return true
		}
		spec.Args = slices.Clone(n.Args)
		spec.Attributes = n.Attrs.Raw()
		objects = append(objects, spec)
		return true
	})
	return objects, messages
}

// nodeState is the VM-side instance of a node.
type nodeState struct {
	address string
	text    string
	literal bool
	numeric bool
	message msg.Message

	def      *operator.Definition
	inst     *operator.Node
	behavior operator.Behavior
	last     []msg.Message
}

func (s *nodeState) flags() operator.Flags {
	if s.def == nil {
		return 0
	}
	return s.def.Flags
}

// store writes m into inlet's cache. Inlets past 0 also update the argument
// cache behaviors read.
func (s *nodeState) store(inlet int, m msg.Message) {
	for len(s.last) <= inlet {
		s.last = append(s.last, nil)
	}
	s.last[inlet] = m
	if inlet == 0 || s.inst == nil {
		return
	}
	for len(s.inst.Args) < inlet {
		s.inst.Args = append(s.inst.Args, nil)
	}
	s.inst.Args[inlet-1] = m
}

// topic is the name a send or subscribe node is bound to.
func (s *nodeState) topic() string {
	if s.inst == nil {
		return ""
	}
	return msg.Format(s.inst.Arg(0))
}

// RegisterNodes instantiates the given nodes. Registering an address again
// with unchanged text keeps its state, so the call is idempotent per node.
// Nodes that fail to instantiate are still registered, without a behavior,
// and reported in the returned error.
func (v *VM) RegisterNodes(objects, messages []NodeSpec) error {
	var errs []error
	for _, spec := range messages {
		if cur, ok := v.nodes[spec.Address]; ok && cur.literal && cur.text == spec.Text {
			continue
		}
		m := spec.Message
		if m == nil {
			m = msg.Parse(spec.Text)
		}
		_, numeric := m.(float64)
		v.put(&nodeState{
			address: spec.Address,
			text:    spec.Text,
			literal: true,
			numeric: numeric,
			message: m,
			last:    make([]msg.Message, max(spec.Inlets, 2)),
		})
	}
	for _, spec := range objects {
		if cur, ok := v.nodes[spec.Address]; ok && !cur.literal && cur.text == spec.Text {
			if err := cur.refreshAttributes(spec.Attributes); err != nil {
				errs = append(errs, fmt.Errorf("register %s: %w", spec.Address, err))
			}
			continue
		}
		st, err := v.instantiate(spec)
		if err != nil {
			errs = append(errs, fmt.Errorf("register %s: %w", spec.Address, err))
		}
		v.put(st)
	}
	return errors.Join(errs...)
}

func (v *VM) put(st *nodeState) {
	if _, ok := v.nodes[st.address]; !ok {
		v.order = append(v.order, st.address)
	}
	v.nodes[st.address] = st
}

func (v *VM) instantiate(spec NodeSpec) (*nodeState, error) {
	st := &nodeState{
		address: spec.Address,
		text:    spec.Text,
		last:    make([]msg.Message, spec.Inlets),
	}
	t, err := operator.ParseText(spec.Text)
	if err != nil {
		return st, err
	}
	def, ok := v.registry.Lookup(t.Name)
	if !ok {
		return st, fmt.Errorf("unknown operator %q", t.Name)
	}
	st.def = def
	inst, err := operator.Instantiate(def, spec.Address, t)
	if err != nil {
		return st, err
	}
	if spec.Attributes != nil {
		bag, err := attr.FromRaw(def.Attributes, spec.Attributes)
		if err != nil {
			return st, err
		}
		inst.Attrs = bag
	}
	if spec.Args != nil {
		inst.Args = slices.Clone(spec.Args)
	}
	st.inst = inst
	if len(st.last) < len(def.Inlets) {
		st.last = make([]msg.Message, len(def.Inlets))
	}
	if def.New != nil {
		b, err := def.New(inst)
		if err != nil {
			return st, err
		}
		st.behavior = b
	}
	return st, nil
}

// refreshAttributes replaces the attribute bag of a kept node. Behaviors read
// attributes from the instance, so their state survives the edit.
func (s *nodeState) refreshAttributes(raw map[string]any) error {
	if s.inst == nil || s.def == nil || raw == nil {
		return nil
	}
	bag, err := attr.FromRaw(s.def.Attributes, raw)
	if err != nil {
		return err
	}
	s.inst.Attrs = bag
	return nil
}

// Sync registers every node of p and forgets nodes no longer in it.
func (v *VM) Sync(p *patch.Patch) error {
	objects, messages := Specs(p)
	err := v.RegisterNodes(objects, messages)

	keep := make(map[string]bool, len(objects)+len(messages))
	for _, s := range objects {
		keep[s.Address] = true
	}
	for _, s := range messages {
		keep[s.Address] = true
	}
	v.order = slices.DeleteFunc(v.order, func(addr string) bool {
		if keep[addr] {
			return false
		}
		delete(v.nodes, addr)
		return true
	})
	return err
}

// Len returns the number of registered nodes.
func (v *VM) Len() int { return len(v.nodes) }

// Value returns a literal's stored value.
func (v *VM) Value(addr string) (msg.Message, bool) {
	st, ok := v.nodes[addr]
	if !ok || !st.literal {
		return nil, false
	}
	return st.message, true
}

// Args returns the argument cache of an operator node.
func (v *VM) Args(addr string) ([]msg.Message, bool) {
	st, ok := v.nodes[addr]
	if !ok || st.inst == nil {
		return nil, false
	}
	return slices.Clone(st.inst.Args), true
}
