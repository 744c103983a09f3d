// Package vm runs the control half of a compiled program.
//
// A message delivered to a node inlet runs the routine the compiler built for
// that inlet: the node is evaluated and its outputs are propagated depth-first
// through the graph before Receive returns. Everything the authoring context
// has to know about is collected in a Result: instructions for operators that
// run there, replaced literal values, published values and shared buffers.
//
// A VM is owned by a single goroutine, the evaluation context. Load may be
// called between passes; a running pass keeps the program it started with.
package vm
