package patch

import (
	"errors"
	"fmt"
	"slices"

	"github.com/vk/patchflow/internal/operator"
)

// endpoint is one side of a connection.
type endpoint struct {
	node NodeID
	port int
}

// crossing groups the boundary edges that share one endpoint outside (for
// inbound edges) or inside (for outbound edges) the selection.
type crossing struct {
	shared  endpoint
	others  []endpoint
	domain  operator.Domain
	ordinal int
}

// Encapsulate moves the selected nodes into a new subpatch owned by a new
// `subpatch` node. Edges crossing the selection boundary are rerouted: every
// distinct external source feeding the selection gets an `in N` node, every
// distinct internal source feeding the outside gets an `out N` node. Existing
// placeholders among the selection are reused by index.
func (p *Patch) Encapsulate(ids []NodeID) (*Node, error) {
	if len(ids) == 0 {
		return nil, errors.New("encapsulate: empty selection")
	}
	selected := make(map[NodeID]bool, len(ids))
	for _, id := range ids {
		if _, ok := p.nodes[id]; !ok {
			return nil, fmt.Errorf("encapsulate %d: %w", id, ErrNodeNotFound)
		}
		selected[id] = true
	}
	if _, ok := p.registry.Lookup("subpatch"); !ok {
		return nil, errors.New("encapsulate: no subpatch operator registered")
	}

	var inbound, outbound []*crossing
	for _, id := range p.order {
		if !selected[id] {
			continue
		}
		n := p.nodes[id]
		for inlet, io := range n.Inlets {
			for _, c := range io.Connections {
				if selected[c.Source] {
					continue
				}
				src := endpoint{c.Source, c.SourceOutlet}
				group := findCrossing(inbound, src)
				if group == nil {
					group = &crossing{shared: src, domain: io.Domain, ordinal: len(inbound) + 1}
					inbound = append(inbound, group)
				}
				group.others = append(group.others, endpoint{id, inlet})
			}
		}
		for outlet, io := range n.Outlets {
			for _, c := range io.Connections {
				if selected[c.Destination] {
					continue
				}
				src := endpoint{id, outlet}
				group := findCrossing(outbound, src)
				if group == nil {
					group = &crossing{shared: src, domain: io.Domain, ordinal: len(outbound) + 1}
					outbound = append(outbound, group)
				}
				group.others = append(group.others, endpoint{c.Destination, c.DestinationInlet})
			}
		}
	}

	// Cut the boundary before anything moves.
	for _, id := range ids {
		for _, c := range p.nodes[id].connections() {
			if !selected[c.Source] || !selected[c.Destination] {
				p.Disconnect(c, false)
			}
		}
	}

	sub, err := p.buildObject("subpatch")
	if err != nil {
		return nil, err
	}
	p.adopt(sub)
	child := sub.SubPatch

	remap := make(map[NodeID]NodeID, len(ids))
	var moved []*Node
	for _, id := range slices.Clone(p.order) {
		if !selected[id] {
			continue
		}
		n := p.detach(id)
		remap[id] = child.adopt(n)
		moved = append(moved, n)
	}
	for _, n := range moved {
		for _, io := range n.Outlets {
			for _, c := range io.Connections {
				c.Source = remap[c.Source]
				c.Destination = remap[c.Destination]
			}
		}
	}
	child.syncOwnerPorts()

	for _, group := range inbound {
		ph, err := child.placeholderFor(true, group.ordinal, group.domain)
		if err != nil {
			return nil, err
		}
		if _, err := p.Connect(group.shared.node, group.shared.port, sub.ID, group.ordinal-1, false); err != nil {
			return nil, err
		}
		for _, dst := range group.others {
			if _, err := child.Connect(ph.ID, 0, remap[dst.node], dst.port, false); err != nil && !errors.Is(err, ErrDuplicateConnection) {
				return nil, err
			}
		}
	}
	for _, group := range outbound {
		ph, err := child.placeholderFor(false, group.ordinal, group.domain)
		if err != nil {
			return nil, err
		}
		if _, err := child.Connect(remap[group.shared.node], group.shared.port, ph.ID, 0, false); err != nil && !errors.Is(err, ErrDuplicateConnection) {
			return nil, err
		}
		for _, dst := range group.others {
			if _, err := p.Connect(sub.ID, group.ordinal-1, dst.node, dst.port, false); err != nil {
				return nil, err
			}
		}
	}
	child.syncOwnerPorts()

	p.notify(ChangeStructure, sub.ID)
	return sub, nil
}

func findCrossing(groups []*crossing, shared endpoint) *crossing {
	for _, g := range groups {
		if g.shared == shared {
			return g
		}
	}
	return nil
}

// placeholderFor returns the existing `in k`/`out k` node or creates one, and
// resizes the owner's ports to expose it.
func (p *Patch) placeholderFor(inlet bool, k int, domain operator.Domain) (*Node, error) {
	if n, ok := p.Placeholder(inlet, k); ok {
		return n, nil
	}
	name := "out"
	if inlet {
		name = "in"
	}
	text := fmt.Sprintf("%s %d", name, k)
	if domain == operator.Signal {
		text += " @type signal"
	}
	n, err := p.buildObject(text)
	if err != nil {
		return nil, err
	}
	if !n.IsPlaceholder() {
		return nil, fmt.Errorf("encapsulate: operator %q is not a placeholder", name)
	}
	p.adopt(n)
	p.syncOwnerPorts()
	return n, nil
}

// Expand dissolves a subpatch node, moving its inner nodes back into p and
// wiring every path that crossed an `in N` or `out N` node directly. It
// returns the new ids of the moved nodes in their original order.
func (p *Patch) Expand(id NodeID) ([]NodeID, error) {
	sub, ok := p.nodes[id]
	if !ok {
		return nil, fmt.Errorf("expand %d: %w", id, ErrNodeNotFound)
	}
	if sub.SubPatch == nil {
		return nil, fmt.Errorf("expand %d: node has no subpatch", id)
	}
	child := sub.SubPatch

	external := func(ports []*IOlet, k int, inbound bool) []endpoint {
		if k < 1 || k > len(ports) {
			return nil
		}
		var out []endpoint
		for _, c := range ports[k-1].Connections {
			if inbound {
				out = append(out, endpoint{c.Source, c.SourceOutlet})
			} else {
				out = append(out, endpoint{c.Destination, c.DestinationInlet})
			}
		}
		return out
	}

	movedIDs := make(map[NodeID]NodeID)
	type edge struct{ from, to endpoint }
	var pending []edge
	var movedOrder []NodeID

	// Resolve every inner edge to edges between outer or moved nodes. New ids
	// are assigned in order, so they are known before the move.
	next := p.next
	for _, cid := range child.order {
		if !child.nodes[cid].IsPlaceholder() {
			movedIDs[cid] = next
			movedOrder = append(movedOrder, next)
			next++
		}
	}
	for _, c := range child.Connections() {
		srcNode := child.nodes[c.Source]
		dstNode := child.nodes[c.Destination]

		var sources, targets []endpoint
		if srcNode.IsPlaceholder() {
			sources = external(sub.Inlets, srcNode.PlaceholderIndex(), true)
		} else {
			sources = []endpoint{{movedIDs[c.Source], c.SourceOutlet}}
		}
		if dstNode.IsPlaceholder() {
			targets = external(sub.Outlets, dstNode.PlaceholderIndex(), false)
		} else {
			targets = []endpoint{{movedIDs[c.Destination], c.DestinationInlet}}
		}
		for _, s := range sources {
			for _, t := range targets {
				pending = append(pending, edge{s, t})
			}
		}
	}

	if err := p.RemoveNode(id, false); err != nil {
		return nil, err
	}
	for _, cid := range slices.Clone(child.order) {
		n := child.detach(cid)
		if n.IsPlaceholder() {
			continue
		}
		for _, io := range n.Inlets {
			io.Connections = nil
		}
		for _, io := range n.Outlets {
			io.Connections = nil
		}
		p.adopt(n)
	}
	for _, e := range pending {
		if _, err := p.Connect(e.from.node, e.from.port, e.to.node, e.to.port, false); err != nil && !errors.Is(err, ErrDuplicateConnection) {
			return nil, err
		}
	}

	p.notify(ChangeStructure, id)
	return movedOrder, nil
}
