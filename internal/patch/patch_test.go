package patch

import (
	"fmt"
	"sort"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vk/patchflow/internal/attr"
	"github.com/vk/patchflow/internal/msg"
	"github.com/vk/patchflow/internal/nodeid"
	"github.com/vk/patchflow/internal/operator"
)

func testRegistry() *operator.Registry {
	r := operator.New()
	placeholderAttrs := attr.Schema{attr.String("type", "control", "control", "signal")}
	r.Register(&operator.Definition{Name: "subpatch", Flags: operator.Subpatch})
	r.Register(&operator.Definition{
		Name:       "in",
		Outlets:    []operator.Port{operator.ControlPort("out")},
		Attributes: placeholderAttrs,
		Flags:      operator.Inlet,
	})
	r.Register(&operator.Definition{
		Name:       "out",
		Inlets:     []operator.Port{operator.ControlPort("in")},
		Attributes: placeholderAttrs,
		Flags:      operator.Outlet,
	})
	r.Register(&operator.Definition{
		Name:    "+",
		Inlets:  []operator.Port{operator.ControlPort("a"), operator.ControlPort("b")},
		Outlets: []operator.Port{operator.ControlPort("sum")},
	})
	r.Register(&operator.Definition{
		Name:    "osc~",
		Inlets:  []operator.Port{operator.SignalPort("freq", 440)},
		Outlets: []operator.Port{operator.SignalPort("out", 0)},
	})
	return r
}

func mustObject(t *testing.T, p *Patch, text string) *Node {
	t.Helper()
	n, err := p.AddObject(text)
	require.NoError(t, err)
	return n
}

func mustConnect(t *testing.T, p *Patch, src *Node, outlet int, dst *Node, inlet int) *Connection {
	t.Helper()
	c, err := p.Connect(src.ID, outlet, dst.ID, inlet, false)
	require.NoError(t, err)
	return c
}

// topology renders the edges of p by node text, so two patches with different
// arena ids but the same wiring compare equal.
func topology(p *Patch) []string {
	var edges []string
	for _, c := range p.Connections() {
		s, _ := p.Node(c.Source)
		d, _ := p.Node(c.Destination)
		edges = append(edges, fmt.Sprintf("%s:%d -> %s:%d", s.Text, c.SourceOutlet, d.Text, c.DestinationInlet))
	}
	sort.Strings(edges)
	return edges
}

func TestConnect_Validation(t *testing.T) {
	p := New(testRegistry())
	a := mustObject(t, p, "+ 1")
	b := mustObject(t, p, "+ 2")

	_, err := p.Connect(a.ID, 3, b.ID, 0, false)
	require.ErrorIs(t, err, ErrPortOutOfRange)
	_, err = p.Connect(a.ID, 0, 99, 0, false)
	require.ErrorIs(t, err, ErrNodeNotFound)

	mustConnect(t, p, a, 0, b, 1)
	_, err = p.Connect(a.ID, 0, b.ID, 1, false)
	require.ErrorIs(t, err, ErrDuplicateConnection)
}

func TestDisconnect_RemovesFromBothEndpoints(t *testing.T) {
	p := New(testRegistry())
	a := mustObject(t, p, "+ 1")
	b := mustObject(t, p, "+ 2")

	ab := mustConnect(t, p, a, 0, b, 0)
	ba := mustConnect(t, p, b, 0, a, 1)

	for _, c := range []*Connection{ab, ba} {
		p.Disconnect(c, false)
		for _, n := range []*Node{a, b} {
			for _, io := range append(append([]*IOlet{}, n.Inlets...), n.Outlets...) {
				assert.NotContains(t, io.Connections, c, "connection left behind on node %d", n.ID)
			}
		}
	}
	assert.Empty(t, p.Connections())

	// A second disconnect of the same edge is harmless.
	p.Disconnect(ab, false)
}

func TestRemoveNode_CascadesConnections(t *testing.T) {
	p := New(testRegistry())
	a := mustObject(t, p, "+ 1")
	b := mustObject(t, p, "+ 2")
	c := mustObject(t, p, "+ 3")
	mustConnect(t, p, a, 0, b, 0)
	mustConnect(t, p, b, 0, c, 0)
	mustConnect(t, p, c, 0, b, 1)

	require.NoError(t, p.RemoveNode(b.ID, false))

	_, ok := p.Node(b.ID)
	assert.False(t, ok)
	assert.Empty(t, a.Outlets[0].Connections)
	assert.Empty(t, c.Inlets[0].Connections)
	assert.Empty(t, c.Outlets[0].Connections)
	assert.Empty(t, p.Connections())

	require.ErrorIs(t, p.RemoveNode(b.ID, false), ErrNodeNotFound)
}

func TestArenaIDs_AreNeverReused(t *testing.T) {
	p := New(testRegistry())
	a := mustObject(t, p, "+")
	require.NoError(t, p.RemoveNode(a.ID, false))
	b := mustObject(t, p, "+")
	assert.Greater(t, b.ID, a.ID)
}

func TestAddObject_UnknownOperatorIsKept(t *testing.T) {
	p := New(testRegistry())
	n := mustObject(t, p, "mystery 1 @color red")
	assert.False(t, n.Resolved)
	assert.Equal(t, "mystery", n.Operator)
	assert.Len(t, n.Inlets, 1)
	assert.Len(t, n.Outlets, 1)
	assert.Equal(t, "red", n.Attrs.String("color"))
}

func TestAddMessage(t *testing.T) {
	p := New(testRegistry())
	num := p.AddMessage("42")
	text := p.AddMessage("freq $1")

	assert.True(t, num.Numeric)
	assert.Equal(t, 42.0, num.Message)
	assert.False(t, text.Numeric)
	assert.Len(t, text.Inlets, 2)
	assert.Equal(t, []*Node{num, text}, p.MessageNodes())
	assert.Empty(t, p.ObjectNodes())
}

func TestEncapsulateExpand_RoundTrip(t *testing.T) {
	p := New(testRegistry())
	src := mustObject(t, p, "+ 1")
	x := mustObject(t, p, "+ 2")
	y := mustObject(t, p, "+ 3")
	sink := mustObject(t, p, "+ 4")
	other := mustObject(t, p, "+ 5")

	mustConnect(t, p, src, 0, x, 0)
	mustConnect(t, p, src, 0, y, 1)
	mustConnect(t, p, x, 0, y, 0)
	mustConnect(t, p, y, 0, sink, 0)
	mustConnect(t, p, y, 0, other, 1)
	before := topology(p)

	sub, err := p.Encapsulate([]NodeID{x.ID, y.ID})
	require.NoError(t, err)

	// One external source and one internal source cross the boundary.
	require.Len(t, sub.Inlets, 1)
	require.Len(t, sub.Outlets, 1)
	assert.Equal(t, 4, p.Len(), "src, sink, other and the subpatch node remain")
	assert.Equal(t, []string{
		"+ 1:0 -> subpatch:0",
		"subpatch:0 -> + 4:0",
		"subpatch:0 -> + 5:1",
	}, topology(p))
	assert.Equal(t, []string{
		"+ 2:0 -> + 3:0",
		"+ 3:0 -> out 1:0",
		"in 1:0 -> + 2:0",
		"in 1:0 -> + 3:1",
	}, topology(sub.SubPatch))

	_, err = p.Expand(sub.ID)
	require.NoError(t, err)

	if diff := cmp.Diff(before, topology(p)); diff != "" {
		t.Errorf("topology changed across encapsulate/expand (-before +after):\n%s", diff)
	}
}

func TestEncapsulate_ReusesPlaceholdersByIndex(t *testing.T) {
	p := New(testRegistry())
	a := mustObject(t, p, "+ 1")
	existing := mustObject(t, p, "in 1")
	inner := mustObject(t, p, "+ 2")
	mustConnect(t, p, a, 0, inner, 0)

	sub, err := p.Encapsulate([]NodeID{existing.ID, inner.ID})
	require.NoError(t, err)

	var ins int
	for _, n := range sub.SubPatch.Nodes() {
		if n.Operator == "in" {
			ins++
		}
	}
	assert.Equal(t, 1, ins, "the selected `in 1` must be reused, not duplicated")
	ph, ok := sub.SubPatch.Placeholder(true, 1)
	require.True(t, ok)
	assert.Same(t, existing, ph)
	assert.Len(t, ph.Outlets[0].Connections, 1)
}

func TestEncapsulate_SignalDomainPlaceholders(t *testing.T) {
	p := New(testRegistry())
	osc := mustObject(t, p, "osc~")
	inner := mustObject(t, p, "osc~")
	mustConnect(t, p, osc, 0, inner, 0)

	sub, err := p.Encapsulate([]NodeID{inner.ID})
	require.NoError(t, err)
	require.Len(t, sub.Inlets, 1)
	assert.Equal(t, operator.Signal, sub.Inlets[0].Domain)
}

func TestRemovePlaceholder_ShrinksOwnerPorts(t *testing.T) {
	p := New(testRegistry())
	sub := mustObject(t, p, "subpatch")
	src := mustObject(t, p, "+")
	mustObject(t, sub.SubPatch, "in 1")
	mustObject(t, sub.SubPatch, "in 2")
	require.Len(t, sub.Inlets, 2)

	mustConnect(t, p, src, 0, sub, 1)
	inner, _ := sub.SubPatch.Placeholder(true, 2)
	require.NoError(t, sub.SubPatch.RemoveNode(inner.ID, false))

	assert.Len(t, sub.Inlets, 1)
	assert.Empty(t, src.Outlets[0].Connections, "edges into a vanished port are dropped")
}

func TestResolveAndWalk(t *testing.T) {
	p := New(testRegistry())
	top := mustObject(t, p, "+")
	sub := mustObject(t, p, "subpatch")
	inner := mustObject(t, sub.SubPatch, "+ 9")

	addr := nodeid.New(uint32(sub.ID), uint32(inner.ID))
	owner, n, ok := p.Resolve(addr)
	require.True(t, ok)
	assert.Same(t, inner, n)
	assert.Same(t, sub.SubPatch, owner)

	parent, parentID, ok := owner.Parent()
	require.True(t, ok)
	assert.Same(t, p, parent)
	assert.Equal(t, sub.ID, parentID)

	var seen []string
	p.Walk(func(a nodeid.Address, _ *Node) bool {
		seen = append(seen, a.String())
		return true
	})
	assert.Equal(t, []string{
		fmt.Sprint(top.ID),
		fmt.Sprint(sub.ID),
		fmt.Sprintf("%d/%d", sub.ID, inner.ID),
	}, seen)

	_, _, ok = p.Resolve(nodeid.New(uint32(top.ID), 0))
	assert.False(t, ok)
}

func TestOnChange_ForwardsFromSubpatches(t *testing.T) {
	p := New(testRegistry())
	var changes []Change
	p.OnChange = func(c Change) { changes = append(changes, c) }

	sub := mustObject(t, p, "subpatch")
	inner := mustObject(t, sub.SubPatch, "+")
	require.NoError(t, p.SetAttribute(sub.ID, "label", "voice", true))
	lit := p.AddMessage("1")
	require.NoError(t, p.SetMessage(lit.ID, 2.0, true))

	require.Len(t, changes, 5)
	assert.Equal(t, Change{Kind: ChangeStructure, Node: inner.ID}, changes[1])
	assert.Equal(t, ChangeValue, changes[4].Kind)
}

func TestSnapshot_RestoreKeepsIDsAndValues(t *testing.T) {
	p := New(testRegistry())
	a := mustObject(t, p, "+ 1")
	lit := p.AddMessage("bang")
	sub := mustObject(t, p, "subpatch")
	in1 := mustObject(t, sub.SubPatch, "in 1")
	inner := mustObject(t, sub.SubPatch, "+ 7")
	mustConnect(t, sub.SubPatch, in1, 0, inner, 0)
	mustConnect(t, p, lit, 0, a, 0)
	mustConnect(t, p, a, 0, sub, 0)
	a.Inlets[1].LastMessage = 5.0
	a.Args[0] = 5.0
	a.Inlets[0].LastMessage = msg.NewSharedBuffer(msg.Uint8, 4)

	snap, err := p.Snapshot().Clone()
	require.NoError(t, err)

	restored := New(testRegistry())
	require.NoError(t, FromSnapshot(restored, snap))

	assert.Equal(t, topology(p), topology(restored))
	ra, ok := restored.Node(a.ID)
	require.True(t, ok)
	assert.Equal(t, 5.0, ra.Inlets[1].LastMessage)
	assert.Nil(t, ra.Inlets[0].LastMessage, "shared buffers do not survive a structured copy")
	assert.Equal(t, []msg.Message{5.0}, ra.Args)

	rsub, _ := restored.Node(sub.ID)
	assert.Len(t, rsub.Inlets, 1)
	assert.Equal(t, topology(sub.SubPatch), topology(rsub.SubPatch))

	// New ids continue after the restored arena.
	fresh := mustObject(t, restored, "+")
	assert.Greater(t, fresh.ID, sub.ID)
}

func TestFingerprint_TracksStructureOnly(t *testing.T) {
	p := New(testRegistry())
	a := mustObject(t, p, "+ 1")
	lit := p.AddMessage("1")
	mustConnect(t, p, lit, 0, a, 0)

	base, err := p.Snapshot().Fingerprint()
	require.NoError(t, err)

	require.NoError(t, p.SetMessage(lit.ID, 99.0, false))
	a.Inlets[1].LastMessage = 3.0
	afterValue, err := p.Snapshot().Fingerprint()
	require.NoError(t, err)
	assert.Equal(t, base, afterValue)

	require.NoError(t, p.SetAttribute(a.ID, "label", "sum", false))
	afterAttr, err := p.Snapshot().Fingerprint()
	require.NoError(t, err)
	assert.NotEqual(t, base, afterAttr)

	b := mustObject(t, p, "+ 2")
	mustConnect(t, p, a, 0, b, 0)
	afterEdge, err := p.Snapshot().Fingerprint()
	require.NoError(t, err)
	assert.NotEqual(t, afterAttr, afterEdge)
}

func TestMerge_RemapsIDs(t *testing.T) {
	donor := New(testRegistry())
	x := mustObject(t, donor, "+ 1")
	y := mustObject(t, donor, "+ 2")
	mustConnect(t, donor, x, 0, y, 0)

	p := New(testRegistry())
	mustObject(t, p, "+ 0")
	mustObject(t, p, "+ 0")

	remap, err := p.Merge(donor.Snapshot())
	require.NoError(t, err)
	require.Len(t, remap, 2)
	assert.NotEqual(t, x.ID, remap[x.ID])
	assert.Equal(t, 4, p.Len())
	assert.Contains(t, topology(p), "+ 1:0 -> + 2:0")

	merged, ok := p.Node(remap[y.ID])
	require.True(t, ok)
	require.Len(t, merged.Inlets[0].Connections, 1)
	assert.Equal(t, remap[x.ID], merged.Inlets[0].Connections[0].Source)
}
