package render

import (
	"context"
	"encoding/binary"
	"io"
	"math"
	"time"

	"github.com/vk/patchflow/internal/ctxlog"
)

// Sink consumes one rendered block.
type Sink func(out [][]float32) error

// Clock drives an engine at its block period when no audio device does.
type Clock struct {
	Engine *Engine
	Sink   Sink
}

// Run renders blocks until ctx is done or the sink fails.
func (c *Clock) Run(ctx context.Context) error {
	cfg := c.Engine.Config()
	out := make([][]float32, cfg.Channels)
	for i := range out {
		out[i] = make([]float32, cfg.BlockSize)
	}
	logger := ctxlog.FromContext(ctx)
	logger.Debug("Render clock started.", "period", cfg.Period(), "block_size", cfg.BlockSize)

	ticker := time.NewTicker(cfg.Period())
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			logger.Debug("Render clock stopped.", "frames", c.Engine.Frames(), "dropouts", c.Engine.Dropouts())
			return ctx.Err()
		case <-ticker.C:
			c.Engine.Process(out)
			if c.Sink == nil {
				continue
			}
			if err := c.Sink(out); err != nil {
				return err
			}
		}
	}
}

// RawWriter writes blocks to w as interleaved little-endian float32 frames.
func RawWriter(w io.Writer) Sink {
	var frame []byte
	return func(out [][]float32) error {
		if len(out) == 0 {
			return nil
		}
		n := len(out[0]) * len(out) * 4
		if cap(frame) < n {
			frame = make([]byte, n)
		}
		frame = frame[:n]
		k := 0
		for i := range out[0] {
			for _, ch := range out {
				binary.LittleEndian.PutUint32(frame[k:], math.Float32bits(ch[i]))
				k += 4
			}
		}
		_, err := w.Write(frame)
		return err
	}
}
