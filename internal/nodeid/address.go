// internal/nodeid/address.go
package nodeid

import (
	"slices"
	"strconv"
	"strings"
)

// String serializes the Address into its canonical path string representation.
func (a Address) String() string {
	var sb strings.Builder
	for i, id := range a.Path {
		if i > 0 {
			sb.WriteRune('/')
		}
		sb.WriteString(strconv.FormatUint(uint64(id), 10))
	}
	return sb.String()
}

// Equal reports whether both addresses name the same node.
func (a Address) Equal(other Address) bool {
	return slices.Equal(a.Path, other.Path)
}

// IsRoot reports whether a denotes the top-level patch.
func (a Address) IsRoot() bool {
	return len(a.Path) == 0
}

// Child returns the address of node id inside the subpatch owned by a.
func (a Address) Child(id uint32) Address {
	path := make([]uint32, len(a.Path), len(a.Path)+1)
	copy(path, a.Path)
	return Address{Path: append(path, id)}
}

// Parent returns the address of the node owning the subpatch a lives in.
// The second result is false for top-level nodes.
func (a Address) Parent() (Address, bool) {
	if len(a.Path) <= 1 {
		return Address{}, false
	}
	return New(a.Path[:len(a.Path)-1]...), true
}

// Leaf returns the arena index of the node within its own patch.
func (a Address) Leaf() uint32 {
	if len(a.Path) == 0 {
		return 0
	}
	return a.Path[len(a.Path)-1]
}

// Depth is the number of patches between the root and the node.
func (a Address) Depth() int {
	return len(a.Path)
}
