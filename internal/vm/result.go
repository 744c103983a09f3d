package vm

import (
	"github.com/vk/patchflow/internal/msg"
)

// MainThreadInstruction asks the authoring context to run a node there.
// InletMessages has one entry per inlet; nil entries did not receive
// anything in this pass.
type MainThreadInstruction struct {
	Node          string        `msgpack:"node"`
	InletMessages []msg.Message `msgpack:"inlet_messages"`
}

// ReplaceMessage reports a literal whose stored value changed.
type ReplaceMessage struct {
	Node         string            `msgpack:"node"`
	Message      msg.Message       `msgpack:"message,omitempty"`
	SharedBuffer *msg.SharedBuffer `msgpack:"-"`
}

// NewValue is a cheap-to-copy result a node publishes.
type NewValue struct {
	Node  string      `msgpack:"node"`
	Value msg.Message `msgpack:"value"`
}

// NewSharedBuffer hands a live buffer to the authoring context, which views
// it with Kind.
type NewSharedBuffer struct {
	Node   string            `msgpack:"node"`
	Kind   msg.ElementKind   `msgpack:"kind"`
	Buffer *msg.SharedBuffer `msgpack:"-"`
}

// AttributeUpdate reports an attribute set by an attribute message.
type AttributeUpdate struct {
	Node  string `msgpack:"node"`
	Name  string `msgpack:"name"`
	Value string `msgpack:"value"`
}

// ParamUpdate is a control value bound for the signal graph.
type ParamUpdate struct {
	Slot  int     `msgpack:"slot"`
	Value float64 `msgpack:"value"`
}

// Result collects the effects of one or more passes.
type Result struct {
	MainThreadInstructions []MainThreadInstruction
	ReplaceMessages        []ReplaceMessage
	OnNewValue             []NewValue
	OnNewSharedBuffer      []NewSharedBuffer
	AttributeUpdates       []AttributeUpdate
	ParamUpdates           []ParamUpdate

	// Messages counts deliveries to nodes, Instructions the instructions
	// run.
	Messages     int
	Instructions int
	// Errors holds one *RuntimeError per failed node invocation.
	Errors []error
}

// Empty reports whether the result carries nothing for the authoring
// context.
func (r *Result) Empty() bool {
	return len(r.MainThreadInstructions) == 0 &&
		len(r.ReplaceMessages) == 0 &&
		len(r.OnNewValue) == 0 &&
		len(r.OnNewSharedBuffer) == 0 &&
		len(r.AttributeUpdates) == 0 &&
		len(r.ParamUpdates) == 0
}

// Merge appends other to r.
func (r *Result) Merge(other *Result) {
	if other == nil {
		return
	}
	r.MainThreadInstructions = append(r.MainThreadInstructions, other.MainThreadInstructions...)
	r.ReplaceMessages = append(r.ReplaceMessages, other.ReplaceMessages...)
	r.OnNewValue = append(r.OnNewValue, other.OnNewValue...)
	r.OnNewSharedBuffer = append(r.OnNewSharedBuffer, other.OnNewSharedBuffer...)
	r.AttributeUpdates = append(r.AttributeUpdates, other.AttributeUpdates...)
	r.ParamUpdates = append(r.ParamUpdates, other.ParamUpdates...)
	r.Messages += other.Messages
	r.Instructions += other.Instructions
	r.Errors = append(r.Errors, other.Errors...)
}
