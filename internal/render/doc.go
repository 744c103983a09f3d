// Package render executes the signal half of a compiled program on the
// real-time path.
//
// Load prepares a plan off the real-time thread: one block buffer per
// fragment, persistent state and the output routing. Process renders a block
// from the current plan without allocating, locking or logging. Parameter
// and tempo changes reach the renderer through a single-producer ring that
// Process drains at the start of every block.
package render
