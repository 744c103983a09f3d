package compiler

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/vk/patchflow/internal/fragment"
)

// Program is the immutable result of one compile. The signal half is a list
// of lanes in execution order; the control half maps each node inlet to the
// instructions a message arriving there runs.
type Program struct {
	ID          uuid.UUID
	Fingerprint [32]byte

	Lanes   []Lane
	Outputs []Output
	Params  []ParamSlot
	// Loops holds the fragments that closed a feedback cycle. They are never
	// part of a lane.
	Loops []*fragment.Fragment

	Routines map[Key]*Routine
	Emitters map[Key]*Routine
	// LoadBang lists the nodes banged when the program is first loaded.
	LoadBang []string

	Diagnostics Diagnostics
}

// Lane is one context and the fragments it runs, in sequence order.
type Lane struct {
	Context   *fragment.Context
	Fragments []*fragment.Fragment
}

// Output binds a fragment to an output channel. Several outputs may share a
// channel; they are summed.
type Output struct {
	Channel  int
	Node     string
	Fragment *fragment.Fragment
}

// ParamSlot is a control value exposed to the signal graph.
type ParamSlot struct {
	Name    string
	Node    string
	Slot    int
	Default float64
}

// FragmentCount returns the number of fragments across all lanes.
func (p *Program) FragmentCount() int {
	n := 0
	for _, l := range p.Lanes {
		n += len(l.Fragments)
	}
	return n
}

// Channels returns one more than the highest output channel.
func (p *Program) Channels() int {
	n := 0
	for _, o := range p.Outputs {
		n = max(n, o.Channel+1)
	}
	return n
}

// Param returns the slot of the param node at address node.
func (p *Program) Param(node string) (ParamSlot, bool) {
	for _, s := range p.Params {
		if s.Node == node {
			return s, true
		}
	}
	return ParamSlot{}, false
}

// Op is a control instruction opcode.
type Op uint8

const (
	// OpEvaluate runs the node's behavior on the incoming message and keeps
	// the outputs in Register.
	OpEvaluate Op = iota
	// OpStore writes the message into a cold inlet.
	OpStore
	// OpPipe substitutes the message into a literal's stored value.
	OpPipe
	// OpReplace overwrites a literal's stored value.
	OpReplace
	// OpBranch sends the outputs held in Register along each outlet.
	OpBranch
	// OpMainThread hands the message to the authoring context.
	OpMainThread
	// OpDispatch re-enters the routine of Node and Inlet at run time.
	OpDispatch
	// OpPublish delivers the message to the subscribers of Node's topic.
	OpPublish
)

var opNames = [...]string{"evaluate", "store", "pipe", "replace", "branch", "main-thread", "dispatch", "publish"}

func (o Op) String() string {
	if int(o) < len(opNames) {
		return opNames[o]
	}
	return fmt.Sprintf("op(%d)", o)
}

// PassRegister makes a Branch read the pass's incoming message as the
// output of outlet 0.
const PassRegister = -1

// Instruction is one step of a routine.
type Instruction struct {
	Op       Op
	Node     string
	Inlet    int
	Register int
	Branches []Branch
}

// Branch fans the output of one outlet out to its targets. Each target is
// its own instruction list, so a failure in one leaves the others running.
type Branch struct {
	Outlet  int
	Targets [][]Instruction
}

// Key names a node port: an inlet for routines, an outlet for emitters.
type Key struct {
	Node string
	Port int
}

func (k Key) String() string { return fmt.Sprintf("%s:%d", k.Node, k.Port) }

// Routine is a compiled instruction list. Registers is the size of the
// register file a pass needs.
type Routine struct {
	Key          Key
	Instructions []Instruction
	Registers    int
}
