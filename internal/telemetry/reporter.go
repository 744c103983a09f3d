package telemetry

import (
	"context"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/vk/patchflow/internal/ctxlog"
)

// LoadMeter accumulates the time a context spends busy.
type LoadMeter struct {
	busy atomic.Int64
}

// Track starts a busy interval and returns the function that ends it.
func (l *LoadMeter) Track() func() {
	start := time.Now()
	return func() { l.busy.Add(int64(time.Since(start))) }
}

// Take returns the busy fraction of elapsed and resets the meter.
func (l *LoadMeter) Take(elapsed time.Duration) float32 {
	busy := l.busy.Swap(0)
	if elapsed <= 0 {
		return 0
	}
	return float32(min(max(float64(busy)/float64(elapsed), 0), 1))
}

// Reporter publishes the slow-moving metrics on a fixed interval.
type Reporter struct {
	Segment  *Segment
	Interval time.Duration
	// Worker measures the evaluation context. Nil leaves the slot alone.
	Worker *LoadMeter
	// Nodes returns the number of active nodes. Nil leaves the slot alone.
	Nodes func() int
}

// Report publishes one sample.
func (r *Reporter) Report(elapsed time.Duration) {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)
	r.Segment.SetFloat(MemoryUsageMB, float32(mem.HeapAlloc)/(1<<20))
	if r.Worker != nil {
		r.Segment.SetFloat(WorkerThreadLoad, r.Worker.Take(elapsed))
	}
	if r.Nodes != nil {
		r.Segment.SetInt(ActiveNodeCount, int32(r.Nodes()))
	}
	r.Segment.Publish(time.Now())
}

// Run reports until ctx is done.
func (r *Reporter) Run(ctx context.Context) error {
	interval := r.Interval
	if interval <= 0 {
		interval = time.Second
	}
	logger := ctxlog.FromContext(ctx)
	logger.Debug("Telemetry reporter started.", "interval", interval)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	last := time.Now()
	for {
		select {
		case <-ctx.Done():
			logger.Debug("Telemetry reporter stopped.")
			return ctx.Err()
		case now := <-ticker.C:
			r.Report(now.Sub(last))
			last = now
		}
	}
}
