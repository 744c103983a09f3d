// Package operator provides the string-keyed table of node behaviors.
//
// The Registry stores one Definition per operator name. A Definition carries
// the port layout, the attribute schema and up to three implementations: a
// control-rate Constructor evaluated by the VM, a Synthesizer that emits
// signal fragments for the compiler, and a LocalFunc for operators that must
// run in the authoring context.
//
// Operator packages under modules/ implement Module and are registered at
// application start. Duplicate names are programmer errors and panic.
package operator
