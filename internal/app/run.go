package app

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/vk/patchflow/internal/authoring"
	"github.com/vk/patchflow/internal/ctxlog"
	"github.com/vk/patchflow/internal/render"
	"github.com/vk/patchflow/internal/telemetry"
	"github.com/vk/patchflow/internal/uplink"
	"github.com/vk/patchflow/internal/worker"
)

// Run loads the selected patch and renders it until ctx is done or the
// requested duration elapses.
func (a *App) Run(ctx context.Context, opts RunOptions) error {
	ctx = ctxlog.WithLogger(ctx, a.logger)
	a.logger.Debug("App.Run method started.")
	if err := opts.Validate(); err != nil {
		return err
	}
	if opts.Duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Duration)
		defer cancel()
	}

	a.startHealthcheckServer(ctx)
	defer a.closeHealthcheckServer(ctx)

	patches, err := a.LoadPatches(ctx, opts.Paths...)
	if err != nil {
		return err
	}
	named, err := selectPatch(patches, opts.Patch)
	if err != nil {
		return err
	}
	a.logger.Debug("Patch selected.", "patch", named.Name, "file", named.File, "nodes", named.Patch.Len())

	seg, err := a.openSegment()
	if err != nil {
		return err
	}
	defer seg.Close()

	engine, err := render.New(render.Config{
		SampleRate: a.config.Audio.SampleRate,
		BlockSize:  a.config.Audio.BlockSize,
		Channels:   a.config.Audio.Channels,
		Deadline:   a.config.Audio.Deadline,
	}, seg)
	if err != nil {
		return fmt.Errorf("failed to create renderer: %w", err)
	}
	if !engine.SetTempo(a.config.Audio.Tempo) {
		a.logger.Warn("⚠️ Render control queue full, initial tempo dropped.", "tempo", a.config.Audio.Tempo)
	}
	a.watchEngine(engine)

	meter := &telemetry.LoadMeter{}
	w := worker.New(worker.Config{Registry: a.registry, Engine: engine, Segment: seg, Load: meter})
	session := authoring.New(named.Patch, w)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	var wg sync.WaitGroup
	errs := make(chan error, 4)
	start := func(name string, fn func(context.Context) error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := fn(ctx); err != nil && !isStop(err) {
				errs <- fmt.Errorf("%s: %w", name, err)
				cancel()
			}
		}()
	}

	events := w.Events()
	if up := a.dialUplink(ctx); up != nil {
		defer up.Close()
		events = up.Relay(ctx, events)
		start("uplink", func(ctx context.Context) error {
			return up.Stream(ctx, seg, a.config.Telemetry.Interval)
		})
	}
	start("worker", w.Run)
	start("session", func(ctx context.Context) error { return session.Pump(ctx, events) })
	reporter := &telemetry.Reporter{Segment: seg, Interval: a.config.Telemetry.Interval, Worker: meter, Nodes: w.Nodes}
	start("telemetry", reporter.Run)

	if err := session.Start(ctx); err != nil && !isStop(err) {
		cancel()
		wg.Wait()
		return fmt.Errorf("failed to start patch: %w", err)
	}

	a.logger.Info("🚀 Patch running.", "patch", named.Name, "sample_rate", a.config.Audio.SampleRate, "block_size", a.config.Audio.BlockSize, "tempo", a.config.Audio.Tempo)
	clock := &render.Clock{Engine: engine}
	if opts.Audio != nil {
		clock.Sink = render.RawWriter(opts.Audio)
	}
	runErr := clock.Run(ctx)
	cancel()
	wg.Wait()
	close(errs)

	var all []error
	if runErr != nil && !isStop(runErr) {
		all = append(all, fmt.Errorf("render: %w", runErr))
	}
	for err := range errs {
		all = append(all, err)
	}
	a.logger.Info("🏁 Patch stopped.", "patch", named.Name, "frames", engine.Frames(), "dropouts", engine.Dropouts())
	a.logger.Debug("App.Run method finished.")
	return errors.Join(all...)
}

func (a *App) openSegment() (*telemetry.Segment, error) {
	t := a.config.Telemetry
	if t.Path == "" {
		return telemetry.New(t.Size)
	}
	a.logger.Debug("Mapping telemetry segment.", "path", t.Path, "size", t.Size)
	return telemetry.Open(t.Path, t.Size)
}

// dialUplink connects the configured uplink. A failed connection is logged
// and the run continues without one.
func (a *App) dialUplink(ctx context.Context) *uplink.Uplink {
	u := a.config.Uplink
	if u.URL == "" {
		return nil
	}
	up, err := uplink.Dial(ctx, uplink.Config{
		URL:                u.URL,
		Namespace:          u.Namespace,
		InsecureSkipVerify: u.InsecureSkipVerify,
		ConnectTimeout:     u.ConnectTimeout,
	})
	if err != nil {
		a.logger.Warn("⚠️ Uplink unavailable, continuing without it.", "url", u.URL, "error", err)
		return nil
	}
	return up
}

func isStop(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
