package vm

import "github.com/vk/patchflow/internal/msg"

// BranchingContext is opened for every branch instruction a pass runs. It
// holds the outputs being fanned out and links to the context it was opened
// in.
type BranchingContext struct {
	ID      int
	Parent  *BranchingContext
	Node    string
	Outputs []msg.Message
}

// Path returns the ids from the outermost context down to c.
func (c *BranchingContext) Path() []int {
	var n int
	for b := c; b != nil; b = b.Parent {
		n++
	}
	path := make([]int, n)
	for b := c; b != nil; b = b.Parent {
		n--
		path[n] = b.ID
	}
	return path
}
