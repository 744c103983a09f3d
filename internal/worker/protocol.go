package worker

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/vk/patchflow/internal/compiler"
	"github.com/vk/patchflow/internal/msg"
	"github.com/vk/patchflow/internal/patch"
	"github.com/vk/patchflow/internal/vm"
	"github.com/vmihailenco/msgpack/v5"
)

// RequestType selects what a Request asks the worker to do.
type RequestType string

const (
	// RequestInit loads a patch, compiles it and bangs the load-at-start
	// nodes.
	RequestInit RequestType = "init"
	// RequestRecompile compiles the posted patch unconditionally.
	RequestRecompile RequestType = "recompile"
	// RequestGraphUpdate replaces the patch and compiles only when its
	// structure changed.
	RequestGraphUpdate RequestType = "graphUpdate"
	// RequestMessage delivers Message to inlet Port of Node.
	RequestMessage RequestType = "message"
	// RequestEmit sends Message out of outlet Port of Node. The authoring
	// context uses it for the outputs of nodes it ran.
	RequestEmit RequestType = "emit"
	// RequestLoadBang bangs the load-at-start nodes again.
	RequestLoadBang RequestType = "loadbang"
)

// Request is one message from the authoring context.
type Request struct {
	Type RequestType `msgpack:"type"`
	// Payload is an encoded patch.Snapshot for the graph requests.
	Payload []byte      `msgpack:"payload,omitempty"`
	Node    string      `msgpack:"node,omitempty"`
	Port    int         `msgpack:"port,omitempty"`
	Message msg.Message `msgpack:"message,omitempty"`
}

// GraphRequest encodes p as a structured copy for a graph request.
func GraphRequest(typ RequestType, p *patch.Patch) (Request, error) {
	payload, err := p.Snapshot().Encode()
	if err != nil {
		return Request{}, fmt.Errorf("encode %s request: %w", typ, err)
	}
	return Request{Type: typ, Payload: payload}, nil
}

// EventType tags the populated field of an Event.
type EventType string

const (
	EventReplaceMessages        EventType = "replaceMessages"
	EventMainThreadInstructions EventType = "mainThreadInstructions"
	EventNewValue               EventType = "onNewValue"
	EventNewSharedBuffer        EventType = "onNewSharedBuffer"
	EventAttributeUpdates       EventType = "attributeUpdates"
	EventDiagnostics            EventType = "diagnostics"
)

// Diagnostic is a compile diagnostic or a runtime failure in plain form.
type Diagnostic struct {
	Severity string `msgpack:"severity"`
	Node     string `msgpack:"node,omitempty"`
	Message  string `msgpack:"message"`
}

// Event is one message to the authoring context. Exactly the field named by
// Type is set.
type Event struct {
	Type    EventType `msgpack:"type"`
	Program uuid.UUID `msgpack:"program"`

	ReplaceMessages        []vm.ReplaceMessage        `msgpack:"replace_messages,omitempty"`
	MainThreadInstructions []vm.MainThreadInstruction `msgpack:"main_thread_instructions,omitempty"`
	Values                 []vm.NewValue              `msgpack:"values,omitempty"`
	SharedBuffers          []vm.NewSharedBuffer       `msgpack:"shared_buffers,omitempty"`
	AttributeUpdates       []vm.AttributeUpdate       `msgpack:"attribute_updates,omitempty"`
	Diagnostics            []Diagnostic               `msgpack:"diagnostics,omitempty"`
}

// Encode serializes the event as msgpack. Shared buffers are not encoded.
func (e Event) Encode() ([]byte, error) {
	return msgpack.Marshal(e)
}

// events splits a result into one event per populated kind.
func events(program uuid.UUID, res *vm.Result) []Event {
	var out []Event
	if len(res.ReplaceMessages) > 0 {
		out = append(out, Event{Type: EventReplaceMessages, Program: program, ReplaceMessages: res.ReplaceMessages})
	}
	if len(res.MainThreadInstructions) > 0 {
		out = append(out, Event{Type: EventMainThreadInstructions, Program: program, MainThreadInstructions: res.MainThreadInstructions})
	}
	if len(res.OnNewValue) > 0 {
		out = append(out, Event{Type: EventNewValue, Program: program, Values: res.OnNewValue})
	}
	if len(res.OnNewSharedBuffer) > 0 {
		out = append(out, Event{Type: EventNewSharedBuffer, Program: program, SharedBuffers: res.OnNewSharedBuffer})
	}
	if len(res.AttributeUpdates) > 0 {
		out = append(out, Event{Type: EventAttributeUpdates, Program: program, AttributeUpdates: res.AttributeUpdates})
	}
	if len(res.Errors) > 0 {
		ev := Event{Type: EventDiagnostics, Program: program}
		for _, err := range res.Errors {
			d := Diagnostic{Severity: "runtime", Message: err.Error()}
			var re *vm.RuntimeError
			if errors.As(err, &re) {
				d.Node = re.Node
			}
			ev.Diagnostics = append(ev.Diagnostics, d)
		}
		out = append(out, ev)
	}
	return out
}

func compileDiagnostics(prog *compiler.Program) []Diagnostic {
	var out []Diagnostic
	for _, d := range prog.Diagnostics {
		out = append(out, Diagnostic{Severity: d.Severity.String(), Node: diagnosticNode(d.Err), Message: d.Err.Error()})
	}
	return out
}

func diagnosticNode(err error) string {
	switch e := err.(type) {
	case *compiler.StructuralError:
		return e.Node
	case *compiler.TypeError:
		return e.Node
	case *compiler.LoopError:
		if len(e.Cycle) > 0 {
			return e.Cycle[0]
		}
	}
	return ""
}
