package patch

import (
	"errors"
	"fmt"
	"slices"

	"github.com/vk/patchflow/internal/attr"
	"github.com/vk/patchflow/internal/msg"
	"github.com/vk/patchflow/internal/nodeid"
	"github.com/vk/patchflow/internal/operator"
)

var (
	// ErrNodeNotFound is returned for ids that are not in the arena.
	ErrNodeNotFound = errors.New("node not found")
	// ErrPortOutOfRange is returned for inlet or outlet indices a node lacks.
	ErrPortOutOfRange = errors.New("port out of range")
	// ErrDuplicateConnection is returned when the exact edge already exists.
	ErrDuplicateConnection = errors.New("connection already exists")
)

// ChangeKind classifies a mutation for the compile trigger.
type ChangeKind uint8

const (
	// ChangeStructure alters topology or operator definitions.
	ChangeStructure ChangeKind = iota
	// ChangeValue alters stored values only.
	ChangeValue
)

// Change describes one notified mutation.
type Change struct {
	Kind ChangeKind
	Node NodeID
}

// Patch is an arena of nodes. Nodes are addressed by NodeID; a subpatch keeps
// a weak lookup of the node that owns it.
type Patch struct {
	registry   *operator.Registry
	nodes      map[NodeID]*Node
	order      []NodeID
	next       NodeID
	parent     *Patch
	parentNode NodeID

	// OnChange is called for notified mutations. Subpatches forward to the
	// root's hook.
	OnChange func(Change)
}

// New creates an empty top-level patch resolving operators through reg.
func New(reg *operator.Registry) *Patch {
	return &Patch{registry: reg, nodes: make(map[NodeID]*Node)}
}

// Parent returns the patch containing the owning node and that node's id.
func (p *Patch) Parent() (*Patch, NodeID, bool) {
	if p.parent == nil {
		return nil, 0, false
	}
	return p.parent, p.parentNode, true
}

// Registry returns the operator registry used to resolve definitions.
func (p *Patch) Registry() *operator.Registry { return p.registry }

func (p *Patch) root() *Patch {
	r := p
	for r.parent != nil {
		r = r.parent
	}
	return r
}

func (p *Patch) notify(kind ChangeKind, id NodeID) {
	if r := p.root(); r.OnChange != nil {
		r.OnChange(Change{Kind: kind, Node: id})
	}
}

// Node returns the node with the given id.
func (p *Patch) Node(id NodeID) (*Node, bool) {
	n, ok := p.nodes[id]
	return n, ok
}

// Nodes returns all nodes in creation order.
func (p *Patch) Nodes() []*Node {
	out := make([]*Node, 0, len(p.order))
	for _, id := range p.order {
		out = append(out, p.nodes[id])
	}
	return out
}

// ObjectNodes returns the operator nodes in creation order.
func (p *Patch) ObjectNodes() []*Node { return p.filter(KindOperator) }

// MessageNodes returns the literal nodes in creation order.
func (p *Patch) MessageNodes() []*Node { return p.filter(KindLiteral) }

func (p *Patch) filter(kind Kind) []*Node {
	var out []*Node
	for _, id := range p.order {
		if n := p.nodes[id]; n.Kind == kind {
			out = append(out, n)
		}
	}
	return out
}

// Len returns the number of nodes directly in this patch.
func (p *Patch) Len() int { return len(p.order) }

// AddObject creates an operator node from its textual definition. Unknown
// operators are kept with one control inlet and outlet so the graph survives;
// the compiler reports them.
func (p *Patch) AddObject(text string) (*Node, error) {
	n, err := p.buildObject(text)
	if err != nil {
		return nil, err
	}
	p.adopt(n)
	p.syncOwnerPorts()
	p.notify(ChangeStructure, n.ID)
	return n, nil
}

func (p *Patch) buildObject(text string) (*Node, error) {
	t, err := operator.ParseText(text)
	if err != nil {
		return nil, err
	}
	n := &Node{Kind: KindOperator, Text: text, Operator: t.Name}
	def, ok := p.registry.Lookup(t.Name)
	if !ok {
		n.Args = t.Args
		n.Attrs = attr.NewBag(nil)
		for _, a := range t.Attrs {
			_ = n.Attrs.SetText(a.Name, a.Value)
		}
		n.Inlets = []*IOlet{{Name: "in", Hot: true}}
		n.Outlets = []*IOlet{{Name: "out"}}
		return n, nil
	}
	inst, err := operator.Instantiate(def, "", t)
	if err != nil {
		return nil, err
	}
	n.def = def
	n.Resolved = true
	n.Operator = def.Name
	n.Args = inst.Args
	n.Attrs = inst.Attrs

	domain := func(d operator.Domain) operator.Domain {
		if def.Flags&(operator.Inlet|operator.Outlet) != 0 && n.Attrs.String("type") == "signal" {
			return operator.Signal
		}
		return d
	}
	for i, port := range def.Inlets {
		n.Inlets = append(n.Inlets, &IOlet{Name: port.Name, Domain: domain(port.Domain), Hot: i == 0})
	}
	for _, port := range def.Outlets {
		n.Outlets = append(n.Outlets, &IOlet{Name: port.Name, Domain: domain(port.Domain)})
	}
	if def.Flags.Has(operator.Subpatch) {
		n.SubPatch = &Patch{registry: p.registry, nodes: make(map[NodeID]*Node)}
	}
	return n, nil
}

// AddMessage creates a literal node holding the parsed text.
func (p *Patch) AddMessage(text string) *Node {
	n := buildMessage(text)
	p.adopt(n)
	p.notify(ChangeStructure, n.ID)
	return n
}

func buildMessage(text string) *Node {
	m := msg.Parse(text)
	_, numeric := m.(float64)
	return &Node{
		Kind:    KindLiteral,
		Text:    text,
		Message: m,
		Numeric: numeric,
		Attrs:   attr.NewBag(nil),
		Inlets: []*IOlet{
			{Name: "trigger", Hot: true},
			{Name: "replace"},
		},
		Outlets: []*IOlet{{Name: "out"}},
	}
}

// SetMessage replaces a literal's stored value. It is a value change, not a
// structural one.
func (p *Patch) SetMessage(id NodeID, m msg.Message, notify bool) error {
	n, ok := p.nodes[id]
	if !ok {
		return fmt.Errorf("set message on %d: %w", id, ErrNodeNotFound)
	}
	if n.Kind != KindLiteral {
		return fmt.Errorf("set message on %d: node is not a message", id)
	}
	n.Message = m
	n.Text = msg.Format(m)
	if notify {
		p.notify(ChangeValue, id)
	}
	return nil
}

// SetAttribute stores a textual attribute value on an operator node.
func (p *Patch) SetAttribute(id NodeID, name, value string, notify bool) error {
	n, ok := p.nodes[id]
	if !ok {
		return fmt.Errorf("set attribute on %d: %w", id, ErrNodeNotFound)
	}
	if err := n.Attrs.SetText(name, value); err != nil {
		return err
	}
	if notify {
		p.notify(ChangeStructure, id)
	}
	return nil
}

// adopt inserts n with a fresh arena id and takes ownership of its subpatch.
func (p *Patch) adopt(n *Node) NodeID {
	n.ID = p.next
	p.next++
	p.insert(n)
	return n.ID
}

func (p *Patch) insert(n *Node) {
	p.nodes[n.ID] = n
	p.order = append(p.order, n.ID)
	if n.SubPatch != nil {
		n.SubPatch.parent = p
		n.SubPatch.parentNode = n.ID
	}
}

func (p *Patch) detach(id NodeID) *Node {
	n := p.nodes[id]
	delete(p.nodes, id)
	p.order = slices.DeleteFunc(p.order, func(x NodeID) bool { return x == id })
	return n
}

// Connect adds an edge from src's outlet to dst's inlet. Domains are not
// checked here; mismatches are compile-time type errors.
func (p *Patch) Connect(src NodeID, outlet int, dst NodeID, inlet int, notify bool) (*Connection, error) {
	s, ok := p.nodes[src]
	if !ok {
		return nil, fmt.Errorf("connect source %d: %w", src, ErrNodeNotFound)
	}
	d, ok := p.nodes[dst]
	if !ok {
		return nil, fmt.Errorf("connect destination %d: %w", dst, ErrNodeNotFound)
	}
	if outlet < 0 || outlet >= len(s.Outlets) {
		return nil, fmt.Errorf("connect %d:%d: outlet %w", src, outlet, ErrPortOutOfRange)
	}
	if inlet < 0 || inlet >= len(d.Inlets) {
		return nil, fmt.Errorf("connect %d:%d: inlet %w", dst, inlet, ErrPortOutOfRange)
	}
	for _, c := range s.Outlets[outlet].Connections {
		if c.Destination == dst && c.DestinationInlet == inlet {
			return nil, fmt.Errorf("connect %d:%d -> %d:%d: %w", src, outlet, dst, inlet, ErrDuplicateConnection)
		}
	}
	c := &Connection{Source: src, SourceOutlet: outlet, Destination: dst, DestinationInlet: inlet}
	s.Outlets[outlet].Connections = append(s.Outlets[outlet].Connections, c)
	d.Inlets[inlet].Connections = append(d.Inlets[inlet].Connections, c)
	if notify {
		p.notify(ChangeStructure, dst)
	}
	return c, nil
}

// Disconnect removes c from both its source outlet and destination inlet.
// Unknown connections are ignored.
func (p *Patch) Disconnect(c *Connection, notify bool) {
	if c == nil {
		return
	}
	removed := false
	if s, ok := p.nodes[c.Source]; ok && c.SourceOutlet < len(s.Outlets) {
		io := s.Outlets[c.SourceOutlet]
		before := len(io.Connections)
		io.Connections = slices.DeleteFunc(io.Connections, func(x *Connection) bool { return x == c })
		removed = removed || len(io.Connections) != before
	}
	if d, ok := p.nodes[c.Destination]; ok && c.DestinationInlet < len(d.Inlets) {
		io := d.Inlets[c.DestinationInlet]
		before := len(io.Connections)
		io.Connections = slices.DeleteFunc(io.Connections, func(x *Connection) bool { return x == c })
		removed = removed || len(io.Connections) != before
	}
	if removed && notify {
		p.notify(ChangeStructure, c.Destination)
	}
}

// Connections returns every edge in the patch, ordered by source node and
// outlet.
func (p *Patch) Connections() []*Connection {
	var out []*Connection
	for _, id := range p.order {
		for _, io := range p.nodes[id].Outlets {
			out = append(out, io.Connections...)
		}
	}
	return out
}

// RemoveNode disconnects every edge touching the node, then deletes it along
// with any subpatch it owns.
func (p *Patch) RemoveNode(id NodeID, notify bool) error {
	n, ok := p.nodes[id]
	if !ok {
		return fmt.Errorf("remove %d: %w", id, ErrNodeNotFound)
	}
	for _, c := range n.connections() {
		p.Disconnect(c, false)
	}
	p.detach(id)
	if n.IsPlaceholder() {
		p.syncOwnerPorts()
	}
	if notify {
		p.notify(ChangeStructure, id)
	}
	return nil
}

// Resolve walks addr from this patch down through subpatches.
func (p *Patch) Resolve(addr nodeid.Address) (*Patch, *Node, bool) {
	cur := p
	for i, id := range addr.Path {
		n, ok := cur.nodes[NodeID(id)]
		if !ok {
			return nil, nil, false
		}
		if i == len(addr.Path)-1 {
			return cur, n, true
		}
		if n.SubPatch == nil {
			return nil, nil, false
		}
		cur = n.SubPatch
	}
	return nil, nil, false
}

// Walk visits every node depth-first in creation order, passing its address
// relative to p. Returning false from fn stops descent into that node's
// subpatch.
func (p *Patch) Walk(fn func(addr nodeid.Address, n *Node) bool) {
	p.walk(nodeid.Root(), fn)
}

func (p *Patch) walk(prefix nodeid.Address, fn func(nodeid.Address, *Node) bool) {
	for _, id := range p.order {
		n := p.nodes[id]
		addr := prefix.Child(uint32(id))
		if fn(addr, n) && n.SubPatch != nil {
			n.SubPatch.walk(addr, fn)
		}
	}
}

// Placeholder finds the `in N` (inlet true) or `out N` node with index k.
func (p *Patch) Placeholder(inlet bool, k int) (*Node, bool) {
	flag := operator.Outlet
	if inlet {
		flag = operator.Inlet
	}
	for _, id := range p.order {
		n := p.nodes[id]
		if n.def != nil && n.def.Flags.Has(flag) && n.PlaceholderIndex() == k {
			return n, true
		}
	}
	return nil, false
}

// syncOwnerPorts resizes the owning node's inlets and outlets to match the
// placeholders inside p. Ports that disappear lose their connections.
func (p *Patch) syncOwnerPorts() {
	if p.parent == nil {
		return
	}
	owner, ok := p.parent.nodes[p.parentNode]
	if !ok {
		return
	}
	owner.Inlets = p.parent.resizePorts(owner, owner.Inlets, p.placeholderDomains(operator.Inlet), true)
	owner.Outlets = p.parent.resizePorts(owner, owner.Outlets, p.placeholderDomains(operator.Outlet), false)
}

func (p *Patch) placeholderDomains(flag operator.Flags) []operator.Domain {
	var domains []operator.Domain
	for _, id := range p.order {
		n := p.nodes[id]
		if n.def == nil || !n.def.Flags.Has(flag) {
			continue
		}
		k := n.PlaceholderIndex()
		for len(domains) < k {
			domains = append(domains, operator.Control)
		}
		if n.Attrs.String("type") == "signal" {
			domains[k-1] = operator.Signal
		}
	}
	return domains
}

func (p *Patch) resizePorts(owner *Node, ports []*IOlet, domains []operator.Domain, inlets bool) []*IOlet {
	for i := len(domains); i < len(ports); i++ {
		for _, c := range slices.Clone(ports[i].Connections) {
			p.Disconnect(c, false)
		}
	}
	out := make([]*IOlet, len(domains))
	for i, d := range domains {
		if i < len(ports) {
			out[i] = ports[i]
		} else {
			name := fmt.Sprintf("out %d", i+1)
			if inlets {
				name = fmt.Sprintf("in %d", i+1)
			}
			out[i] = &IOlet{Name: name, Hot: inlets}
		}
		out[i].Domain = d
	}
	return out
}
