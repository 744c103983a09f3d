package fragment

// memoKey identifies the output of one node outlet.
type memoKey struct {
	node   string
	outlet int
}

// Memo records emitted fragments so no (node, outlet, context) triple is
// compiled twice.
type Memo struct {
	entries map[memoKey][]*Fragment
}

// NewMemo returns an empty memo.
func NewMemo() *Memo {
	return &Memo{entries: make(map[memoKey][]*Fragment)}
}

// Lookup returns a fragment usable from ctx: an exact match on the context
// first, then any fragment whose context is Compatible with ctx.
func (m *Memo) Lookup(node string, outlet int, ctx *Context) (*Fragment, bool) {
	list := m.entries[memoKey{node, outlet}]
	for _, f := range list {
		if f.Context == ctx {
			return f, true
		}
	}
	for _, f := range list {
		if Compatible(f.Context, ctx) {
			return f, true
		}
	}
	return nil, false
}

// Store records f as the output of node's outlet in f's context.
func (m *Memo) Store(node string, outlet int, f *Fragment) {
	k := memoKey{node, outlet}
	m.entries[k] = append(m.entries[k], f)
}

// Len returns the number of stored fragments.
func (m *Memo) Len() int {
	n := 0
	for _, list := range m.entries {
		n += len(list)
	}
	return n
}
