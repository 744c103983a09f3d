package authoring

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/vk/patchflow/internal/ctxlog"
	"github.com/vk/patchflow/internal/msg"
	"github.com/vk/patchflow/internal/nodeid"
	"github.com/vk/patchflow/internal/operator"
	"github.com/vk/patchflow/internal/patch"
	"github.com/vk/patchflow/internal/vm"
	"github.com/vk/patchflow/internal/worker"
)

// Poster delivers requests to the evaluation context.
type Poster interface {
	Post(ctx context.Context, req worker.Request) error
}

// BufferView is the typed view of a shared buffer a node published.
type BufferView struct {
	Kind   msg.ElementKind
	Buffer *msg.SharedBuffer
}

// Float32 returns the buffer as float32 elements, or nil for other kinds.
func (v BufferView) Float32() []float32 {
	if v.Kind != msg.Float32 || v.Buffer == nil {
		return nil
	}
	return v.Buffer.Float32()
}

// Uint8 returns the buffer as bytes, or nil for other kinds.
func (v BufferView) Uint8() []uint8 {
	if v.Kind != msg.Uint8 || v.Buffer == nil {
		return nil
	}
	return v.Buffer.Uint8()
}

// Session owns a patch and keeps the evaluation context in step with it.
// All methods must be called from one goroutine except Diagnostics, Value and
// Buffer.
type Session struct {
	patch  *patch.Patch
	worker Poster

	dirty   bool
	program uuid.UUID

	mu          sync.RWMutex
	values      map[string]msg.Message
	buffers     map[string]BufferView
	diagnostics []worker.Diagnostic
}

// New creates a session over p. Structural changes to p made with notify set
// are posted on the next Flush.
func New(p *patch.Patch, w Poster) *Session {
	s := &Session{
		patch:   p,
		worker:  w,
		values:  make(map[string]msg.Message),
		buffers: make(map[string]BufferView),
	}
	p.OnChange = func(patch.Change) { s.dirty = true }
	return s
}

// Patch returns the live patch.
func (s *Session) Patch() *patch.Patch { return s.patch }

// Start posts the patch for its first compile.
func (s *Session) Start(ctx context.Context) error {
	s.dirty = false
	return s.postGraph(ctx, worker.RequestInit)
}

// Flush posts the patch if it changed since the last post.
func (s *Session) Flush(ctx context.Context) error {
	if !s.dirty {
		return nil
	}
	s.dirty = false
	return s.postGraph(ctx, worker.RequestGraphUpdate)
}

// Recompile posts the patch for an unconditional compile.
func (s *Session) Recompile(ctx context.Context) error {
	s.dirty = false
	return s.postGraph(ctx, worker.RequestRecompile)
}

func (s *Session) postGraph(ctx context.Context, typ worker.RequestType) error {
	req, err := worker.GraphRequest(typ, s.patch)
	if err != nil {
		return err
	}
	return s.worker.Post(ctx, req)
}

// Send delivers m to inlet of the node at addr in the evaluation context.
func (s *Session) Send(ctx context.Context, addr string, inlet int, m msg.Message) error {
	return s.worker.Post(ctx, worker.Request{Type: worker.RequestMessage, Node: addr, Port: inlet, Message: m})
}

// Pump applies events until the stream closes or ctx is done.
func (s *Session) Pump(ctx context.Context, events <-chan worker.Event) error {
	logger := ctxlog.FromContext(ctx)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			if err := s.Apply(ctx, ev); err != nil {
				logger.Warn("⚠️ Event not applied.", "type", ev.Type, "error", err)
			}
		}
	}
}

// Apply updates the session from one event. Events of a superseded program
// still apply; the latest write wins.
func (s *Session) Apply(ctx context.Context, ev worker.Event) error {
	if ev.Program != uuid.Nil && ev.Program != s.program {
		s.program = ev.Program
		ctxlog.FromContext(ctx).Debug("Program changed.", "program", ev.Program)
	}
	switch ev.Type {
	case worker.EventReplaceMessages:
		return s.replace(ev.ReplaceMessages)
	case worker.EventMainThreadInstructions:
		return s.mainThread(ctx, ev.MainThreadInstructions)
	case worker.EventNewValue:
		s.mu.Lock()
		for _, v := range ev.Values {
			s.values[v.Node] = v.Value
		}
		s.mu.Unlock()
	case worker.EventNewSharedBuffer:
		s.mu.Lock()
		for _, b := range ev.SharedBuffers {
			s.buffers[b.Node] = BufferView{Kind: b.Kind, Buffer: b.Buffer}
		}
		s.mu.Unlock()
	case worker.EventAttributeUpdates:
		return s.attributes(ev.AttributeUpdates)
	case worker.EventDiagnostics:
		logger := ctxlog.FromContext(ctx)
		for _, d := range ev.Diagnostics {
			logger.Warn("⚠️ "+d.Message, "severity", d.Severity, "node", d.Node)
		}
		s.mu.Lock()
		s.diagnostics = append(s.diagnostics, ev.Diagnostics...)
		s.mu.Unlock()
	default:
		return fmt.Errorf("unknown event type %q", ev.Type)
	}
	return nil
}

func (s *Session) resolve(addr string) (*patch.Patch, *patch.Node, error) {
	a, err := nodeid.Parse(addr)
	if err != nil {
		return nil, nil, err
	}
	owner, n, ok := s.patch.Resolve(a)
	if !ok {
		return nil, nil, fmt.Errorf("node %s: %w", addr, patch.ErrNodeNotFound)
	}
	return owner, n, nil
}

func (s *Session) replace(updates []vm.ReplaceMessage) error {
	for _, u := range updates {
		owner, n, err := s.resolve(u.Node)
		if err != nil {
			return err
		}
		m := u.Message
		if u.SharedBuffer != nil {
			m = u.SharedBuffer
		}
		if err := owner.SetMessage(n.ID, m, false); err != nil {
			return err
		}
	}
	return nil
}

func (s *Session) attributes(updates []vm.AttributeUpdate) error {
	for _, u := range updates {
		owner, n, err := s.resolve(u.Node)
		if err != nil {
			return err
		}
		if err := owner.SetAttribute(n.ID, u.Name, u.Value, false); err != nil {
			return err
		}
	}
	return nil
}

// mainThread caches every delivered inlet value and runs the node when its
// hot inlet received something. Outputs go back through the evaluation
// context, rightmost outlet first.
func (s *Session) mainThread(ctx context.Context, instructions []vm.MainThreadInstruction) error {
	for _, ins := range instructions {
		_, n, err := s.resolve(ins.Node)
		if err != nil {
			return err
		}
		for i, m := range ins.InletMessages {
			if m == nil || i >= len(n.Inlets) {
				continue
			}
			n.Inlets[i].LastMessage = m
			if i == 0 {
				continue
			}
			for len(n.Args) < i {
				n.Args = append(n.Args, nil)
			}
			n.Args[i-1] = m
		}
		if len(ins.InletMessages) == 0 || ins.InletMessages[0] == nil {
			continue
		}
		def := n.Definition()
		if def == nil || def.Local == nil {
			continue
		}
		outs, err := def.Local(ctx, &operator.Node{Address: ins.Node, Args: n.Args, Attrs: n.Attrs}, ins.InletMessages[0])
		if err != nil {
			return fmt.Errorf("run %s locally: %w", ins.Node, err)
		}
		for outlet := len(outs) - 1; outlet >= 0; outlet-- {
			if !msg.Defined(outs[outlet]) {
				continue
			}
			req := worker.Request{Type: worker.RequestEmit, Node: ins.Node, Port: outlet, Message: outs[outlet]}
			if err := s.worker.Post(ctx, req); err != nil {
				return err
			}
		}
	}
	return nil
}

// Program returns the id of the program the latest event came from.
func (s *Session) Program() uuid.UUID { return s.program }

// Value returns the latest value a node published.
func (s *Session) Value(addr string) (msg.Message, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.values[addr]
	return v, ok
}

// Buffer returns the latest shared buffer a node published.
func (s *Session) Buffer(addr string) (BufferView, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.buffers[addr]
	return b, ok
}

// Diagnostics returns every diagnostic received so far.
func (s *Session) Diagnostics() []worker.Diagnostic {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]worker.Diagnostic(nil), s.diagnostics...)
}
