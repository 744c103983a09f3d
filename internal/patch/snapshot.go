package patch

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/vk/patchflow/internal/attr"
	"github.com/vk/patchflow/internal/msg"
	"github.com/vmihailenco/msgpack/v5"
	"lukechampine.com/blake3"
)

// Snapshot is a plain-data copy of a patch tree. It contains no pointers into
// the live graph and survives a msgpack round trip unchanged.
type Snapshot struct {
	Next        uint32               `msgpack:"next"`
	Nodes       []NodeSnapshot       `msgpack:"nodes"`
	Connections []ConnectionSnapshot `msgpack:"connections"`
}

// NodeSnapshot is the plain-data form of a Node.
type NodeSnapshot struct {
	ID           uint32         `msgpack:"id"`
	Kind         Kind           `msgpack:"kind"`
	Text         string         `msgpack:"text"`
	Args         []any          `msgpack:"args,omitempty"`
	Attributes   map[string]any `msgpack:"attributes,omitempty"`
	Message      any            `msgpack:"message,omitempty"`
	LastMessages []any          `msgpack:"last_messages,omitempty"`
	SubPatch     *Snapshot      `msgpack:"subpatch,omitempty"`
}

// ConnectionSnapshot is the plain-data form of a Connection.
type ConnectionSnapshot struct {
	Source           uint32 `msgpack:"source"`
	SourceOutlet     int    `msgpack:"source_outlet"`
	Destination      uint32 `msgpack:"destination"`
	DestinationInlet int    `msgpack:"destination_inlet"`
}

// Snapshot captures the patch tree. Shared buffers held as inlet values are
// dropped because they cannot cross a structured copy.
func (p *Patch) Snapshot() *Snapshot {
	s := &Snapshot{Next: uint32(p.next)}
	for _, id := range p.order {
		n := p.nodes[id]
		ns := NodeSnapshot{
			ID:         uint32(n.ID),
			Kind:       n.Kind,
			Text:       n.Text,
			Attributes: n.Attrs.Raw(),
			Message:    msg.Plain(n.Message),
		}
		for _, a := range n.Args {
			ns.Args = append(ns.Args, msg.Plain(a))
		}
		hasLast := false
		last := make([]any, len(n.Inlets))
		for i, io := range n.Inlets {
			last[i] = msg.Plain(io.LastMessage)
			hasLast = hasLast || last[i] != nil
		}
		if hasLast {
			ns.LastMessages = last
		}
		if n.SubPatch != nil {
			ns.SubPatch = n.SubPatch.Snapshot()
		}
		s.Nodes = append(s.Nodes, ns)
	}
	for _, c := range p.Connections() {
		s.Connections = append(s.Connections, ConnectionSnapshot{
			Source:           uint32(c.Source),
			SourceOutlet:     c.SourceOutlet,
			Destination:      uint32(c.Destination),
			DestinationInlet: c.DestinationInlet,
		})
	}
	return s
}

// FromSnapshot rebuilds a patch tree, keeping the original arena ids.
func FromSnapshot(p *Patch, s *Snapshot) error {
	if s == nil {
		return errors.New("nil snapshot")
	}
	if len(p.order) > 0 {
		return errors.New("restore into a non-empty patch")
	}
	for _, ns := range s.Nodes {
		n, err := p.restoreNode(ns)
		if err != nil {
			return fmt.Errorf("restore node %d: %w", ns.ID, err)
		}
		n.ID = NodeID(ns.ID)
		if _, exists := p.nodes[n.ID]; exists {
			return fmt.Errorf("restore node %d: duplicate id", ns.ID)
		}
		p.insert(n)
		if n.SubPatch != nil && ns.SubPatch != nil {
			if err := FromSnapshot(n.SubPatch, ns.SubPatch); err != nil {
				return fmt.Errorf("restore subpatch of %d: %w", ns.ID, err)
			}
			n.SubPatch.syncOwnerPorts()
		}
		// Inlet values apply after the subpatch sized the ports.
		for i, m := range ns.LastMessages {
			if i < len(n.Inlets) {
				n.Inlets[i].LastMessage = m
			}
		}
		if n.ID >= p.next {
			p.next = n.ID + 1
		}
	}
	if NodeID(s.Next) > p.next {
		p.next = NodeID(s.Next)
	}
	for _, cs := range s.Connections {
		if _, err := p.Connect(NodeID(cs.Source), cs.SourceOutlet, NodeID(cs.Destination), cs.DestinationInlet, false); err != nil {
			return fmt.Errorf("restore connection: %w", err)
		}
	}
	return nil
}

func (p *Patch) restoreNode(ns NodeSnapshot) (*Node, error) {
	if ns.Kind == KindLiteral {
		n := buildMessage(ns.Text)
		n.Message = ns.Message
		return n, nil
	}
	n, err := p.buildObject(ns.Text)
	if err != nil {
		return nil, err
	}
	if len(ns.Args) > 0 {
		n.Args = append([]msg.Message(nil), ns.Args...)
	}
	if ns.Attributes != nil {
		bag, err := attr.FromRaw(n.Attrs.Schema(), ns.Attributes)
		if err != nil {
			return nil, err
		}
		n.Attrs = bag
	}
	return n, nil
}

// Merge imports a snapshot into p under fresh arena ids and returns the
// mapping from snapshot ids to new ids. Ids are remapped explicitly; nothing
// relies on them being globally unique.
func (p *Patch) Merge(s *Snapshot) (map[NodeID]NodeID, error) {
	staging := New(p.registry)
	if err := FromSnapshot(staging, s); err != nil {
		return nil, err
	}
	remap := make(map[NodeID]NodeID, len(staging.order))
	var moved []*Node
	for _, id := range staging.order {
		n := staging.nodes[id]
		remap[id] = p.adopt(n)
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
	p.syncOwnerPorts()
	p.notify(ChangeStructure, 0)
	return remap, nil
}

// Encode serializes the snapshot as msgpack.
func (s *Snapshot) Encode() ([]byte, error) {
	return msgpack.Marshal(s)
}

// DecodeSnapshot parses msgpack produced by Encode.
func DecodeSnapshot(data []byte) (*Snapshot, error) {
	var s Snapshot
	if err := msgpack.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}
	return &s, nil
}

// Clone returns a structured copy: the snapshot is encoded and decoded, so
// the result shares no memory with s.
func (s *Snapshot) Clone() (*Snapshot, error) {
	data, err := s.Encode()
	if err != nil {
		return nil, err
	}
	return DecodeSnapshot(data)
}

// fingerprintNode keeps only what changes the compiled program.
type fingerprintNode struct {
	ID         uint32           `msgpack:"id"`
	Kind       Kind             `msgpack:"kind"`
	Text       string           `msgpack:"text,omitempty"`
	Attributes map[string]any   `msgpack:"attributes,omitempty"`
	Sub        *fingerprintTree `msgpack:"sub,omitempty"`
}

type fingerprintTree struct {
	Nodes       []fingerprintNode    `msgpack:"nodes"`
	Connections []ConnectionSnapshot `msgpack:"connections"`
}

func (s *Snapshot) structure() *fingerprintTree {
	t := &fingerprintTree{Connections: s.Connections}
	for _, n := range s.Nodes {
		fn := fingerprintNode{ID: n.ID, Kind: n.Kind}
		if n.Kind == KindOperator {
			fn.Text = n.Text
			fn.Attributes = n.Attributes
		}
		if n.SubPatch != nil {
			fn.Sub = n.SubPatch.structure()
		}
		t.Nodes = append(t.Nodes, fn)
	}
	return t
}

// Fingerprint hashes the structure of the patch tree: operators, attributes
// and connections. Literal values and inlet history do not contribute, so two
// snapshots with equal fingerprints compile to equivalent programs.
func (s *Snapshot) Fingerprint() ([32]byte, error) {
	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)
	enc.SetSortMapKeys(true)
	if err := enc.Encode(s.structure()); err != nil {
		return [32]byte{}, fmt.Errorf("fingerprint: %w", err)
	}
	return blake3.Sum256(buf.Bytes()), nil
}
