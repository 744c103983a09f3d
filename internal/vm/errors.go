package vm

import (
	"errors"
	"fmt"
)

var (
	// ErrNoProgram is returned when a message arrives before Load.
	ErrNoProgram = errors.New("no program loaded")
	// ErrUnknownNode is returned for addresses that were never registered.
	ErrUnknownNode = errors.New("unknown node")
	// ErrDispatchDepth stops a pass that re-entered nodes too many times.
	ErrDispatchDepth = errors.New("dispatch depth exceeded")
)

// RuntimeError is a failure inside one node evaluation. The pass stops
// propagating past the node; sibling branches keep running.
type RuntimeError struct {
	Node  string
	Inlet int
	// Branch is the chain of branching context ids the node was reached
	// through, outermost first.
	Branch []int
	Err    error
}

func (e *RuntimeError) Error() string {
	return fmt.Sprintf("node %s inlet %d: %v", e.Node, e.Inlet, e.Err)
}

func (e *RuntimeError) Unwrap() error { return e.Err }

// panicError carries a recovered panic value.
type panicError struct{ value any }

func (e *panicError) Error() string { return fmt.Sprintf("panic: %v", e.value) }
