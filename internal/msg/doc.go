// Package msg defines the values that travel along control connections.
//
// A Message is one of:
//
//   - nil, meaning "undefined" (no output on that outlet)
//   - float64
//   - string, where "bang" is the trigger token
//   - []Message, a list
//   - *SharedBuffer, a live memory region handed over without copying
//
// Plain values survive a structured copy across execution contexts; shared
// buffers are the one deliberate exception and are passed by reference.
package msg
