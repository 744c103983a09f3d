package integrationtests

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/vk/patchflow/internal/authoring"
	"github.com/vk/patchflow/internal/loader"
	"github.com/vk/patchflow/internal/msg"
	"github.com/vk/patchflow/internal/render"
	"github.com/vk/patchflow/internal/telemetry"
	"github.com/vk/patchflow/internal/testutil"
	"github.com/vk/patchflow/internal/worker"
)

const blockSize = 16

// rig runs one patch through the whole engine: a worker evaluating its
// control graph, a session applying the events, and a renderer pulled by the
// test one block at a time.
type rig struct {
	ctx     context.Context
	logs    *testutil.SafeBuffer
	session *authoring.Session
	worker  *worker.Worker
	engine  *render.Engine
	segment *telemetry.Segment
	out     [][]float32
}

func startPatch(t *testing.T, src string) *rig {
	t.Helper()
	ctx, logs := testutil.Context(t)
	ctx, cancel := context.WithCancel(ctx)

	reg := testutil.Registry()
	patches, err := loader.New(reg).Parse([]byte(src), "patch.hcl")
	require.NoError(t, err)
	require.Len(t, patches, 1)

	seg, err := telemetry.New(telemetry.DefaultSize)
	require.NoError(t, err)
	engine, err := render.New(render.Config{SampleRate: 48000, BlockSize: blockSize, Channels: 2}, seg)
	require.NoError(t, err)
	w := worker.New(worker.Config{Registry: reg, Engine: engine, Segment: seg})
	session := authoring.New(patches[0].Patch, w)

	done := make(chan struct{}, 2)
	go func() { _ = w.Run(ctx); done <- struct{}{} }()
	go func() { _ = session.Pump(ctx, w.Events()); done <- struct{}{} }()
	t.Cleanup(func() {
		cancel()
		<-done
		<-done
	})
	require.NoError(t, session.Start(ctx))

	return &rig{
		ctx:     ctx,
		logs:    logs,
		session: session,
		worker:  w,
		engine:  engine,
		segment: seg,
		out:     [][]float32{make([]float32, blockSize), make([]float32, blockSize)},
	}
}

func (r *rig) send(t *testing.T, addr string, inlet int, m msg.Message) {
	t.Helper()
	require.NoError(t, r.session.Send(r.ctx, addr, inlet, m))
}

// eventuallyValue waits until the session has seen want published by addr.
func (r *rig) eventuallyValue(t *testing.T, addr string, want msg.Message) {
	t.Helper()
	require.Eventually(t, func() bool {
		got, ok := r.session.Value(addr)
		return ok && got == want
	}, testTimeout, testTick, "value of %s never became %v", addr, want)
}

// eventuallyRenders waits until the last sample of a block on channel is
// want.
func (r *rig) eventuallyRenders(t *testing.T, channel int, want float32) {
	t.Helper()
	require.Eventually(t, func() bool {
		r.engine.Process(r.out)
		return r.out[channel][blockSize-1] == want
	}, testTimeout, testTick, "channel %d never rendered %v", channel, want)
}

const (
	testTimeout = 2 * time.Second
	testTick    = 5 * time.Millisecond
)
