// internal/nodeid/types.go
package nodeid

// Address is the structured representation of a node's location in a patch
// tree. Each element of Path is an arena index: every element but the last
// names a subpatch-owning node, the last names the node itself.
type Address struct {
	Path []uint32
}

// New builds an address from arena indices, outermost first.
func New(ids ...uint32) Address {
	path := make([]uint32, len(ids))
	copy(path, ids)
	return Address{Path: path}
}

// Root returns the empty address, which denotes the top-level patch itself.
func Root() Address {
	return Address{}
}
