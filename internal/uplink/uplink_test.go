package uplink_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vk/patchflow/internal/telemetry"
	"github.com/vk/patchflow/internal/testutil"
	"github.com/vk/patchflow/internal/uplink"
	"github.com/vk/patchflow/internal/vm"
	"github.com/vk/patchflow/internal/worker"
)

type emitted struct {
	event string
	body  any
}

type capture struct {
	mu  sync.Mutex
	got []emitted
}

func (c *capture) emit(event string, args ...any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.got = append(c.got, emitted{event: event, body: args[0]})
}

func (c *capture) all() []emitted {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]emitted(nil), c.got...)
}

func TestUplink_EventIsPlainData(t *testing.T) {
	t.Parallel()
	// --- Arrange ---
	c := &capture{}
	u := uplink.New(c.emit)
	id := uuid.New()

	// --- Act ---
	err := u.Event(worker.Event{
		Type:    worker.EventNewValue,
		Program: id,
		Values:  []vm.NewValue{{Node: "1/2", Value: 3.5}},
	})

	// --- Assert ---
	require.NoError(t, err)
	got := c.all()
	require.Len(t, got, 1)
	assert.Equal(t, uplink.EventName, got[0].event)
	want := map[string]any{
		"type":    "onNewValue",
		"program": id.String(),
		"values":  []any{map[string]any{"node": "1/2", "value": 3.5}},
	}
	if diff := cmp.Diff(want, got[0].body); diff != "" {
		t.Errorf("event body mismatch (-want +got):\n%s", diff)
	}
}

func TestUplink_TelemetryKeysMetricsByName(t *testing.T) {
	t.Parallel()
	// --- Arrange ---
	c := &capture{}
	u := uplink.New(c.emit)
	seg, err := telemetry.New(telemetry.DefaultSize)
	require.NoError(t, err)
	seg.SetAudioConfig(128, 44100)
	seg.Publish(time.Unix(10, 0))

	// --- Act ---
	u.Telemetry(seg.Sample())

	// --- Assert ---
	got := c.all()
	require.Len(t, got, 1)
	assert.Equal(t, uplink.TelemetryName, got[0].event)
	body := got[0].body.(map[string]any)
	assert.Equal(t, int32(1), body["sequence"])
	metrics := body["metrics"].(map[string]float64)
	assert.Equal(t, 44100.0, metrics["audio_sample_rate"])
	assert.Equal(t, 128.0, metrics["audio_buffer_size"])
	assert.Len(t, metrics, len(telemetry.Metrics()))
}

func TestUplink_RelayForwardsAndMirrors(t *testing.T) {
	t.Parallel()
	// --- Arrange ---
	ctx, _ := testutil.Context(t)
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	c := &capture{}
	u := uplink.New(c.emit)
	in := make(chan worker.Event, 2)
	in <- worker.Event{Type: worker.EventDiagnostics, Diagnostics: []worker.Diagnostic{{Severity: "warning", Message: "x"}}}
	in <- worker.Event{Type: worker.EventAttributeUpdates, AttributeUpdates: []vm.AttributeUpdate{{Node: "0", Name: "max", Value: "4"}}}
	close(in)

	// --- Act ---
	var types []worker.EventType
	for ev := range u.Relay(ctx, in) {
		types = append(types, ev.Type)
	}

	// --- Assert ---
	assert.Equal(t, []worker.EventType{worker.EventDiagnostics, worker.EventAttributeUpdates}, types)
	assert.Len(t, c.all(), 2)
}

func TestUplink_StreamStopsWithContext(t *testing.T) {
	t.Parallel()
	// --- Arrange ---
	c := &capture{}
	u := uplink.New(c.emit)
	seg, err := telemetry.New(telemetry.DefaultSize)
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())

	// --- Act ---
	done := make(chan error)
	go func() { done <- u.Stream(ctx, seg, time.Millisecond) }()
	require.Eventually(t, func() bool { return len(c.all()) >= 2 }, time.Second, time.Millisecond)
	cancel()

	// --- Assert ---
	assert.ErrorIs(t, <-done, context.Canceled)
}
