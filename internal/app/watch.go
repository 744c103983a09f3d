package app

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/vk/patchflow/internal/ctxlog"
	"github.com/vk/patchflow/internal/telemetry"
)

// Watch maps the telemetry segment of a running engine and prints one line
// per published sample. Samples whose sequence has not moved are skipped.
func (a *App) Watch(ctx context.Context, w io.Writer, opts WatchOptions) error {
	ctx = ctxlog.WithLogger(ctx, a.logger)
	path := opts.Path
	if path == "" {
		path = a.config.Telemetry.Path
	}
	if path == "" {
		return fmt.Errorf("no telemetry path configured")
	}
	interval := opts.Interval
	if interval <= 0 {
		interval = a.config.Telemetry.Interval
	}

	// Open would create a missing file; a watcher only reads existing ones.
	if _, err := os.Stat(path); err != nil {
		return fmt.Errorf("telemetry file: %w", err)
	}
	seg, err := telemetry.Open(path, a.config.Telemetry.Size)
	if err != nil {
		return err
	}
	defer seg.Close()
	a.logger.Debug("Watching telemetry.", "path", path, "interval", interval)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	var prev telemetry.Sample
	seen := 0
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			s := seg.Sample()
			if s.Sequence == prev.Sequence && seen > 0 {
				continue
			}
			fmt.Fprintln(w, formatSample(prev, s, seen > 0))
			prev = s
			seen++
			if opts.Count > 0 && seen >= opts.Count {
				return nil
			}
		}
	}
}

// formatSample renders s as one line of name=value pairs. With a previous
// sample, the running counters are followed by their rate per second.
func formatSample(prev, s telemetry.Sample, rates bool) string {
	var b strings.Builder
	fmt.Fprintf(&b, "seq=%d", s.Sequence)
	for _, m := range telemetry.Metrics() {
		fmt.Fprintf(&b, " %s=%g", m, s.Value(m))
	}
	if rates {
		fmt.Fprintf(&b, " messages_per_sec=%g instructions_per_sec=%g",
			telemetry.Rate(prev, s, telemetry.MessageCount),
			telemetry.Rate(prev, s, telemetry.InstructionCount))
	}
	return b.String()
}
