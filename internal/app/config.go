package app

import (
	"errors"
	"io"
	"time"
)

// RunOptions selects the patch to run and where its audio goes.
type RunOptions struct {
	// Paths are patch files, directories or glob patterns.
	Paths []string
	// Patch names the patch to run. Empty picks the first one loaded.
	Patch string
	// Duration stops the run after the given time. Zero runs until the
	// context is cancelled.
	Duration time.Duration
	// Audio receives interleaved little-endian float32 frames. Nil
	// discards the rendered output.
	Audio io.Writer
}

// Validate checks the options before anything is started.
func (o RunOptions) Validate() error {
	if len(o.Paths) == 0 {
		return errors.New("at least one patch path is required")
	}
	if o.Duration < 0 {
		return errors.New("duration must not be negative")
	}
	return nil
}

// WatchOptions configures the telemetry reader.
type WatchOptions struct {
	// Path is the telemetry file of a running engine. Empty falls back to
	// the configured path.
	Path     string
	Interval time.Duration
	// Count stops after that many samples. Zero reads until cancelled.
	Count int
}
