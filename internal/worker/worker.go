package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/vk/patchflow/internal/compiler"
	"github.com/vk/patchflow/internal/ctxlog"
	"github.com/vk/patchflow/internal/operator"
	"github.com/vk/patchflow/internal/patch"
	"github.com/vk/patchflow/internal/render"
	"github.com/vk/patchflow/internal/telemetry"
	"github.com/vk/patchflow/internal/vm"
)

// ErrStopped is returned by Post once the worker has exited.
var ErrStopped = errors.New("worker stopped")

// Config wires a worker to the rest of the runtime. Only Registry is
// required.
type Config struct {
	Registry *operator.Registry
	// Engine receives every compiled program and the parameter updates.
	Engine *render.Engine
	// Segment counts messages and instructions.
	Segment *telemetry.Segment
	// Load measures the time spent handling requests.
	Load *telemetry.LoadMeter
	// QueueSize is the capacity of the request queue and of the event channel.
	// Events beyond it wait in an unbounded outbox so the worker never blocks
	// on its reader.
	QueueSize int
}

// Worker runs the evaluation context on one goroutine.
type Worker struct {
	cfg      Config
	vm       *vm.VM
	requests chan Request
	events   chan Event
	done     chan struct{}

	outMu  sync.Mutex
	outbox []Event
	wake   chan struct{}

	program     atomic.Pointer[compiler.Program]
	fingerprint [32]byte
	compiled    bool
	nodes       atomic.Int64
}

// New creates a worker. Call Run to start it.
func New(cfg Config) *Worker {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 64
	}
	var opts []vm.Option
	if cfg.Segment != nil {
		opts = append(opts, vm.WithCounters(cfg.Segment))
	}
	return &Worker{
		cfg:      cfg,
		vm:       vm.New(cfg.Registry, opts...),
		requests: make(chan Request, cfg.QueueSize),
		events:   make(chan Event, cfg.QueueSize),
		done:     make(chan struct{}),
		wake:     make(chan struct{}, 1),
	}
}

// Events returns the stream of events. It is closed when Run returns.
func (w *Worker) Events() <-chan Event { return w.events }

// Program returns the program compiled last, or nil.
func (w *Worker) Program() *compiler.Program { return w.program.Load() }

// Nodes returns the number of registered nodes. It is safe to call from any
// goroutine.
func (w *Worker) Nodes() int { return int(w.nodes.Load()) }

// Post queues a request. It blocks while the queue is full.
func (w *Worker) Post(ctx context.Context, req Request) error {
	select {
	case <-w.done:
		return ErrStopped
	default:
	}
	select {
	case w.requests <- req:
		return nil
	case <-w.done:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run handles requests until ctx is done. Request failures are logged and
// reported as diagnostics; they never stop the worker.
func (w *Worker) Run(ctx context.Context) error {
	logger := ctxlog.FromContext(ctx)
	logger.Debug("Worker started.")
	delivered := make(chan struct{})
	go func() {
		defer close(delivered)
		w.deliver(ctx)
	}()
	defer func() {
		close(w.done)
		<-delivered
		logger.Debug("Worker finished.")
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case req := <-w.requests:
			if err := w.handle(ctx, req); err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				logger.Error("💥 Request failed.", "type", req.Type, "node", req.Node, "error", err)
				w.send(Event{Type: EventDiagnostics, Program: w.programID(), Diagnostics: []Diagnostic{{
					Severity: compiler.Error.String(),
					Node:     req.Node,
					Message:  err.Error(),
				}}})
			}
		}
	}
}

func (w *Worker) handle(ctx context.Context, req Request) error {
	if w.cfg.Load != nil {
		defer w.cfg.Load.Track()()
	}
	switch req.Type {
	case RequestInit:
		if err := w.update(ctx, req.Payload, true); err != nil {
			return err
		}
		return w.pass(ctx, func() (*vm.Result, error) { return w.vm.LoadBang(ctx) })
	case RequestRecompile:
		return w.update(ctx, req.Payload, true)
	case RequestGraphUpdate:
		return w.update(ctx, req.Payload, false)
	case RequestMessage:
		return w.pass(ctx, func() (*vm.Result, error) { return w.vm.Receive(ctx, req.Node, req.Port, req.Message) })
	case RequestEmit:
		return w.pass(ctx, func() (*vm.Result, error) { return w.vm.Emit(ctx, req.Node, req.Port, req.Message) })
	case RequestLoadBang:
		return w.pass(ctx, func() (*vm.Result, error) { return w.vm.LoadBang(ctx) })
	default:
		return fmt.Errorf("unknown request type %q", req.Type)
	}
}

// update replaces the worker's patch with the posted snapshot. Unless force
// is set, a snapshot with the current fingerprint only refreshes node state.
func (w *Worker) update(ctx context.Context, payload []byte, force bool) error {
	snap, err := patch.DecodeSnapshot(payload)
	if err != nil {
		return err
	}
	fp, err := snap.Fingerprint()
	if err != nil {
		return err
	}
	p := patch.New(w.cfg.Registry)
	if err := patch.FromSnapshot(p, snap); err != nil {
		return fmt.Errorf("restore patch: %w", err)
	}

	logger := ctxlog.FromContext(ctx)
	if err := w.vm.Sync(p); err != nil {
		logger.Warn("⚠️ Some nodes failed to instantiate.", "error", err)
	}
	w.nodes.Store(int64(w.vm.Len()))

	if !force && w.compiled && fp == w.fingerprint {
		logger.Debug("Structure unchanged, compile skipped.")
		return nil
	}
	prog, err := compiler.Compile(ctx, p)
	if err != nil {
		return err
	}
	w.fingerprint, w.compiled = fp, true
	w.vm.Load(prog)
	w.program.Store(prog)
	if w.cfg.Engine != nil {
		w.cfg.Engine.Load(ctx, prog)
	}
	if diags := compileDiagnostics(prog); len(diags) > 0 {
		w.send(Event{Type: EventDiagnostics, Program: prog.ID, Diagnostics: diags})
	}
	return nil
}

// pass runs fn and forwards its effects.
func (w *Worker) pass(ctx context.Context, fn func() (*vm.Result, error)) error {
	res, err := fn()
	if err != nil {
		return err
	}
	if w.cfg.Engine != nil {
		for _, u := range res.ParamUpdates {
			if !w.cfg.Engine.SetParam(u.Slot, u.Value) {
				ctxlog.FromContext(ctx).Warn("⚠️ Render control queue full, parameter update dropped.", "slot", u.Slot)
			}
		}
	}
	for _, ev := range events(w.programID(), res) {
		w.send(ev)
	}
	return nil
}

func (w *Worker) programID() uuid.UUID {
	if p := w.program.Load(); p != nil {
		return p.ID
	}
	return uuid.Nil
}

// send queues ev for delivery. It never blocks, so a reader that is itself
// waiting on Post cannot stall the worker.
func (w *Worker) send(ev Event) {
	w.outMu.Lock()
	w.outbox = append(w.outbox, ev)
	w.outMu.Unlock()
	select {
	case w.wake <- struct{}{}:
	default:
	}
}

func (w *Worker) takeOutbox() []Event {
	w.outMu.Lock()
	defer w.outMu.Unlock()
	batch := w.outbox
	w.outbox = nil
	return batch
}

// deliver moves queued events to the events channel in order until ctx is
// done, then closes it.
func (w *Worker) deliver(ctx context.Context) {
	defer close(w.events)
	for {
		batch := w.takeOutbox()
		for _, ev := range batch {
			select {
			case w.events <- ev:
			case <-ctx.Done():
				return
			}
		}
		if len(batch) > 0 {
			continue
		}
		select {
		case <-w.wake:
		case <-ctx.Done():
			return
		}
	}
}
