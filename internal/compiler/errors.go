package compiler

import (
	"errors"
	"fmt"
	"strings"
)

// StructuralError reports a reference that does not resolve: an unknown
// operator, a dangling connection or a missing subpatch port.
type StructuralError struct {
	Node   string
	Reason string
}

func (e *StructuralError) Error() string {
	return fmt.Sprintf("node %s: %s", e.Node, e.Reason)
}

// LoopError reports a feedback cycle with no history node on it. Cycle lists
// the node addresses on the cycle, starting from the smallest.
type LoopError struct {
	Cycle []string
}

func (e *LoopError) Error() string {
	return fmt.Sprintf("feedback loop without history: %s", strings.Join(e.Cycle, " -> "))
}

// TypeError reports an operator that cannot be compiled with the inputs it
// was given.
type TypeError struct {
	Node  string
	Inlet int
	Err   error
}

func (e *TypeError) Error() string {
	if e.Inlet >= 0 {
		return fmt.Sprintf("node %s inlet %d: %v", e.Node, e.Inlet, e.Err)
	}
	return fmt.Sprintf("node %s: %v", e.Node, e.Err)
}

func (e *TypeError) Unwrap() error { return e.Err }

// Severity ranks a diagnostic.
type Severity uint8

const (
	// Warning diagnostics drop a branch but leave the program usable.
	Warning Severity = iota
	// Error diagnostics mark a node that cannot compile.
	Error
)

func (s Severity) String() string {
	if s == Error {
		return "error"
	}
	return "warning"
}

// Diagnostic is one problem found while compiling.
type Diagnostic struct {
	Severity Severity
	Err      error
}

func (d Diagnostic) String() string { return fmt.Sprintf("%s: %v", d.Severity, d.Err) }

// Diagnostics is the list reported alongside a program.
type Diagnostics []Diagnostic

// Err joins the diagnostics into one error, or returns nil.
func (ds Diagnostics) Err() error {
	errs := make([]error, len(ds))
	for i, d := range ds {
		errs[i] = d.Err
	}
	return errors.Join(errs...)
}

// HasErrors reports whether any diagnostic has Error severity.
func (ds Diagnostics) HasErrors() bool {
	for _, d := range ds {
		if d.Severity == Error {
			return true
		}
	}
	return false
}

func (ds *Diagnostics) add(sev Severity, err error) {
	*ds = append(*ds, Diagnostic{Severity: sev, Err: err})
}
