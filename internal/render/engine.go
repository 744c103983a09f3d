package render

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync/atomic"
	"time"

	"github.com/vk/patchflow/internal/compiler"
	"github.com/vk/patchflow/internal/ctxlog"
	"github.com/vk/patchflow/internal/ringbuf"
	"github.com/vk/patchflow/internal/telemetry"
)

// Config sizes the renderer.
type Config struct {
	SampleRate int
	BlockSize  int
	Channels   int
	// Deadline is the time budget of one block. Zero means the block
	// period.
	Deadline time.Duration
	// ControlCapacity is the size of the control ring.
	ControlCapacity int
}

// Validate checks that the configuration can render.
func (c Config) Validate() error {
	var errs []error
	if c.SampleRate <= 0 {
		errs = append(errs, fmt.Errorf("sample rate must be positive, got %d", c.SampleRate))
	}
	if c.BlockSize <= 0 {
		errs = append(errs, fmt.Errorf("block size must be positive, got %d", c.BlockSize))
	}
	if c.Channels <= 0 {
		errs = append(errs, fmt.Errorf("channels must be positive, got %d", c.Channels))
	}
	return errors.Join(errs...)
}

// Period is the wall-clock length of one block.
func (c Config) Period() time.Duration {
	return time.Duration(float64(c.BlockSize) / float64(c.SampleRate) * float64(time.Second))
}

// ControlKind selects what a Control message changes.
type ControlKind uint8

const (
	// SetParam sets parameter slot Index to Value.
	SetParam ControlKind = iota
	// SetTempo sets the tempo in beats per minute.
	SetTempo
)

// Control is a configuration message for the renderer.
type Control struct {
	Kind  ControlKind
	Index int
	Value float64

	// plan is the plan Index refers to, current when the message was queued.
	plan *plan
}

// Engine renders blocks from the most recently loaded program.
type Engine struct {
	cfg      Config
	deadline time.Duration
	plan     atomic.Pointer[plan]
	control  *ringbuf.Ring[Control]
	segment  *telemetry.Segment

	tempo    atomic.Uint64
	frames   atomic.Uint64
	dropouts atomic.Uint64
}

// New creates an engine. seg may be nil.
func New(cfg Config, seg *telemetry.Segment) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	capacity := cfg.ControlCapacity
	if capacity <= 0 {
		capacity = 256
	}
	ring, err := ringbuf.New[Control](capacity)
	if err != nil {
		return nil, err
	}
	e := &Engine{cfg: cfg, deadline: cfg.Deadline, control: ring, segment: seg}
	if e.deadline <= 0 {
		e.deadline = cfg.Period()
	}
	e.tempo.Store(math.Float64bits(120))
	if seg != nil {
		seg.SetAudioConfig(cfg.BlockSize, cfg.SampleRate)
	}
	return e, nil
}

// Config returns the engine configuration.
func (e *Engine) Config() Config { return e.cfg }

// Load prepares prog and makes it current for the next block.
func (e *Engine) Load(ctx context.Context, prog *compiler.Program) {
	if prog == nil {
		e.plan.Store(nil)
		return
	}
	p := newPlan(prog, float64(e.cfg.SampleRate), e.cfg.BlockSize, e.plan.Load())
	dropped := 0
	for _, o := range prog.Outputs {
		if o.Channel >= e.cfg.Channels {
			dropped++
		}
	}
	e.plan.Store(p)
	ctxlog.FromContext(ctx).Debug("Render plan loaded.",
		"program", prog.ID,
		"lanes", len(p.lanes),
		"outputs", len(p.outputs),
		"unrouted_outputs", dropped,
	)
}

// SetParam queues a change of slot in the plan loaded last. A Load before
// the message is drained moves it to the slot of the same name. It reports
// false when the control ring is full.
func (e *Engine) SetParam(slot int, v float64) bool {
	return e.control.Push(Control{Kind: SetParam, Index: slot, Value: v, plan: e.plan.Load()})
}

// SetTempo queues a tempo change.
func (e *Engine) SetTempo(bpm float64) bool {
	return e.control.Push(Control{Kind: SetTempo, Value: bpm})
}

// Tempo returns the tempo applied at the last block.
func (e *Engine) Tempo() float64 { return math.Float64frombits(e.tempo.Load()) }

// Frames returns the number of frames rendered.
func (e *Engine) Frames() uint64 { return e.frames.Load() }

// Dropouts returns the number of blocks that failed or missed the deadline.
func (e *Engine) Dropouts() uint64 { return e.dropouts.Load() }

// Process renders len(out[0]) frames into out, one slice per channel.
func (e *Engine) Process(out [][]float32) {
	start := time.Now()
	for _, ch := range out {
		clear(ch)
	}
	if len(out) == 0 {
		return
	}
	frames := len(out[0])

	p := e.plan.Load()
	e.drain(p)
	if p != nil {
		for off := 0; off < frames; off += e.cfg.BlockSize {
			n := min(e.cfg.BlockSize, frames-off)
			if !e.block(p, out, off, n) {
				for _, ch := range out {
					clear(ch)
				}
				e.dropout()
				break
			}
		}
	}
	e.frames.Add(uint64(frames))
	if time.Since(start) > e.deadline {
		e.dropout()
	}
}

func (e *Engine) drain(p *plan) {
	for {
		c, ok := e.control.Pop()
		if !ok {
			return
		}
		switch c.Kind {
		case SetParam:
			if slot, ok := p.slotFor(c.plan, c.Index); ok {
				p.setParam(slot, c.Value)
			}
		case SetTempo:
			e.tempo.Store(math.Float64bits(c.Value))
		}
	}
}

// block renders n frames at offset off. A panicking kernel fails the block.
func (e *Engine) block(p *plan, out [][]float32, off, n int) (ok bool) {
	defer func() {
		if recover() != nil {
			ok = false
		}
	}()
	p.render(n)
	for _, r := range p.outputs {
		if r.channel >= len(out) {
			continue
		}
		dst := out[r.channel][off : off+n]
		for i := range dst {
			dst[i] += float32(r.buf[i])
		}
	}
	return true
}

func (e *Engine) dropout() {
	e.dropouts.Add(1)
	if e.segment != nil {
		e.segment.CountDropout()
	}
}
