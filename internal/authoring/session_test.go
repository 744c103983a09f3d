package authoring_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vk/patchflow/internal/authoring"
	"github.com/vk/patchflow/internal/msg"
	"github.com/vk/patchflow/internal/operator"
	"github.com/vk/patchflow/internal/patch"
	"github.com/vk/patchflow/internal/testutil"
	"github.com/vk/patchflow/internal/vm"
	"github.com/vk/patchflow/internal/worker"
)

type recorder struct {
	mu   sync.Mutex
	reqs []worker.Request
}

func (r *recorder) Post(_ context.Context, req worker.Request) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reqs = append(r.reqs, req)
	return nil
}

func (r *recorder) requests() []worker.Request {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]worker.Request(nil), r.reqs...)
}

// echo is a two-inlet authoring operator that records each invocation and
// answers on both outlets.
type echo struct {
	calls []msg.Message
	args  [][]msg.Message
}

func (p *echo) Register(r *operator.Registry) {
	r.Register(&operator.Definition{
		Name:    "echo",
		Inlets:  []operator.Port{operator.ControlPort("in"), operator.ControlPort("arg")},
		Outlets: []operator.Port{operator.ControlPort("left"), operator.ControlPort("right")},
		Flags:   operator.NeedsMainThread | operator.SkipCompilation,
		Local: func(_ context.Context, n *operator.Node, m msg.Message) ([]msg.Message, error) {
			p.calls = append(p.calls, m)
			p.args = append(p.args, append([]msg.Message(nil), n.Args...))
			return []msg.Message{"left", "right"}, nil
		},
	})
}

func session(t *testing.T) (*authoring.Session, *testutil.Builder, *recorder, *echo) {
	t.Helper()
	pr := &echo{}
	reg := operator.NewWith(append(testutil.Modules(), pr)...)
	b := testutil.NewBuilderWith(t, reg)
	rec := &recorder{}
	return authoring.New(b.Patch, rec), b, rec, pr
}

func TestSession_StartPostsStructuredCopy(t *testing.T) {
	t.Parallel()
	// --- Arrange ---
	ctx, _ := testutil.Context(t)
	s, b, rec, _ := session(t)
	b.Connect(b.Message("bang"), 0, b.Object("print"), 0)

	// --- Act ---
	require.NoError(t, s.Start(ctx))

	// --- Assert ---
	reqs := rec.requests()
	require.Len(t, reqs, 1)
	assert.Equal(t, worker.RequestInit, reqs[0].Type)
	snap, err := patch.DecodeSnapshot(reqs[0].Payload)
	require.NoError(t, err)
	assert.Len(t, snap.Nodes, 2)
	assert.Len(t, snap.Connections, 1)
}

func TestSession_FlushPostsOnlyAfterChanges(t *testing.T) {
	t.Parallel()
	// --- Arrange ---
	ctx, _ := testutil.Context(t)
	s, b, rec, _ := session(t)
	require.NoError(t, s.Start(ctx))

	// --- Act ---
	require.NoError(t, s.Flush(ctx))
	b.Object("number")
	require.NoError(t, s.Flush(ctx))
	require.NoError(t, s.Flush(ctx))

	// --- Assert ---
	reqs := rec.requests()
	require.Len(t, reqs, 2)
	assert.Equal(t, worker.RequestGraphUpdate, reqs[1].Type)
}

func TestSession_MainThreadWithoutHotInletOnlyUpdatesCaches(t *testing.T) {
	t.Parallel()
	// --- Arrange ---
	ctx, _ := testutil.Context(t)
	s, b, rec, pr := session(t)
	n := b.Object("echo")

	// --- Act ---
	err := s.Apply(ctx, worker.Event{
		Type:                   worker.EventMainThreadInstructions,
		MainThreadInstructions: []vm.MainThreadInstruction{{Node: "0", InletMessages: []msg.Message{nil, 7.0}}},
	})

	// --- Assert ---
	require.NoError(t, err)
	assert.Empty(t, pr.calls, "the operator is not invoked")
	assert.Empty(t, rec.requests())
	assert.Nil(t, n.Inlets[0].LastMessage)
	assert.Equal(t, 7.0, n.Inlets[1].LastMessage)
	assert.Equal(t, []msg.Message{7.0}, n.Args)
}

func TestSession_MainThreadRunsOperatorAndEmitsRightToLeft(t *testing.T) {
	t.Parallel()
	// --- Arrange ---
	ctx, _ := testutil.Context(t)
	s, b, rec, pr := session(t)
	n := b.Object("echo 3")

	// --- Act ---
	err := s.Apply(ctx, worker.Event{
		Type:                   worker.EventMainThreadInstructions,
		MainThreadInstructions: []vm.MainThreadInstruction{{Node: "0", InletMessages: []msg.Message{msg.Bang, nil}}},
	})

	// --- Assert ---
	require.NoError(t, err)
	assert.Equal(t, []msg.Message{msg.Bang}, pr.calls)
	assert.Equal(t, [][]msg.Message{{3.0}}, pr.args)
	assert.Equal(t, msg.Bang, n.Inlets[0].LastMessage)
	assert.Equal(t, []worker.Request{
		{Type: worker.RequestEmit, Node: "0", Port: 1, Message: "right"},
		{Type: worker.RequestEmit, Node: "0", Port: 0, Message: "left"},
	}, rec.requests())
}

func TestSession_ToggleKeepsItsStateInThePatch(t *testing.T) {
	t.Parallel()
	// --- Arrange ---
	ctx, _ := testutil.Context(t)
	s, b, rec, _ := session(t)
	n := b.Object("toggle")
	bang := worker.Event{
		Type:                   worker.EventMainThreadInstructions,
		MainThreadInstructions: []vm.MainThreadInstruction{{Node: "0", InletMessages: []msg.Message{msg.Bang}}},
	}

	// --- Act ---
	require.NoError(t, s.Apply(ctx, bang))
	require.NoError(t, s.Apply(ctx, bang))

	// --- Assert ---
	assert.False(t, n.Attrs.Bool("value"))
	reqs := rec.requests()
	require.Len(t, reqs, 2)
	assert.Equal(t, 1.0, reqs[0].Message)
	assert.Equal(t, 0.0, reqs[1].Message)
}

func TestSession_AppliesEvents(t *testing.T) {
	t.Parallel()
	buf := msg.NewSharedBuffer(msg.Float32, 2)
	buf.Float32()[1] = 0.5

	testCases := []struct {
		name   string
		event  worker.Event
		assert func(t *testing.T, s *authoring.Session, lit, counter *patch.Node)
	}{
		{
			name:  "replace messages",
			event: worker.Event{Type: worker.EventReplaceMessages, ReplaceMessages: []vm.ReplaceMessage{{Node: "0", Message: 42.0}}},
			assert: func(t *testing.T, _ *authoring.Session, lit, _ *patch.Node) {
				assert.Equal(t, 42.0, lit.Message)
				assert.Equal(t, "42", lit.Text)
			},
		},
		{
			name:  "attribute updates",
			event: worker.Event{Type: worker.EventAttributeUpdates, AttributeUpdates: []vm.AttributeUpdate{{Node: "1", Name: "max", Value: "4"}}},
			assert: func(t *testing.T, _ *authoring.Session, _, counter *patch.Node) {
				assert.Equal(t, 4.0, counter.Attrs.Number("max"))
			},
		},
		{
			name:  "new values",
			event: worker.Event{Type: worker.EventNewValue, Values: []vm.NewValue{{Node: "1", Value: 3.0}}},
			assert: func(t *testing.T, s *authoring.Session, _, _ *patch.Node) {
				v, ok := s.Value("1")
				require.True(t, ok)
				assert.Equal(t, 3.0, v)
			},
		},
		{
			name:  "shared buffers",
			event: worker.Event{Type: worker.EventNewSharedBuffer, SharedBuffers: []vm.NewSharedBuffer{{Node: "1", Kind: msg.Float32, Buffer: buf}}},
			assert: func(t *testing.T, s *authoring.Session, _, _ *patch.Node) {
				view, ok := s.Buffer("1")
				require.True(t, ok)
				assert.Equal(t, []float32{0, 0.5}, view.Float32())
				assert.Nil(t, view.Uint8())
			},
		},
		{
			name:  "diagnostics",
			event: worker.Event{Type: worker.EventDiagnostics, Diagnostics: []worker.Diagnostic{{Severity: "warning", Node: "1", Message: "odd"}}},
			assert: func(t *testing.T, s *authoring.Session, _, _ *patch.Node) {
				assert.Equal(t, []worker.Diagnostic{{Severity: "warning", Node: "1", Message: "odd"}}, s.Diagnostics())
			},
		},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			// --- Arrange ---
			ctx, _ := testutil.Context(t)
			s, b, _, _ := session(t)
			lit := b.Message("1")
			counter := b.Object("counter")

			// --- Act ---
			err := s.Apply(ctx, tc.event)

			// --- Assert ---
			require.NoError(t, err)
			tc.assert(t, s, lit, counter)
		})
	}
}

func TestSession_ApplyRejectsUnknownNodes(t *testing.T) {
	t.Parallel()
	// --- Arrange ---
	ctx, _ := testutil.Context(t)
	s, _, _, _ := session(t)

	// --- Act ---
	err := s.Apply(ctx, worker.Event{Type: worker.EventReplaceMessages, ReplaceMessages: []vm.ReplaceMessage{{Node: "9", Message: 1.0}}})

	// --- Assert ---
	assert.ErrorIs(t, err, patch.ErrNodeNotFound)
}

func TestSession_RoundTripThroughWorker(t *testing.T) {
	t.Parallel()
	// --- Arrange ---
	ctx, _ := testutil.Context(t)
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	b := testutil.NewBuilder(t)
	trigger := b.Message("bang")
	button := b.Object("button")
	counter := b.Object("counter")
	b.Connect(trigger, 0, button, 0)
	b.Connect(button, 0, counter, 0)
	b.Connect(counter, 0, b.Object("number"), 0)

	w := worker.New(worker.Config{Registry: b.Patch.Registry()})
	go func() { _ = w.Run(ctx) }()
	s := authoring.New(b.Patch, w)
	go func() { _ = s.Pump(ctx, w.Events()) }()

	// --- Act ---
	require.NoError(t, s.Start(ctx))
	require.NoError(t, s.Send(ctx, "0", 0, msg.Bang))

	// --- Assert ---
	require.Eventually(t, func() bool {
		v, ok := s.Value("3")
		return ok && v == 1.0
	}, 2*time.Second, 5*time.Millisecond, "the button's bang comes back through the counter")
}

func TestSession_SustainedTrafficKeepsFlowing(t *testing.T) {
	t.Parallel()
	testCases := []struct {
		name  string
		queue int
		posts int
	}{
		{name: "default queue", posts: 5000},
		{name: "single slot queue", queue: 1, posts: 200},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			// --- Arrange ---
			ctx, _ := testutil.Context(t)
			ctx, cancel := context.WithCancel(ctx)
			defer cancel()

			b := testutil.NewBuilder(t)
			button := b.Object("button")
			counter := b.Object("counter @max 100000")
			b.Connect(button, 0, counter, 0)
			b.Connect(counter, 0, b.Object("number"), 0)

			w := worker.New(worker.Config{Registry: b.Patch.Registry(), QueueSize: tc.queue})
			go func() { _ = w.Run(ctx) }()
			s := authoring.New(b.Patch, w)
			go func() { _ = s.Pump(ctx, w.Events()) }()
			require.NoError(t, s.Start(ctx))

			// --- Act ---
			posted := make(chan error, 1)
			go func() {
				for i := 0; i < tc.posts; i++ {
					if err := s.Send(ctx, "0", 0, msg.Bang); err != nil {
						posted <- err
						return
					}
				}
				posted <- nil
			}()

			// --- Assert ---
			select {
			case err := <-posted:
				require.NoError(t, err)
			case <-time.After(10 * time.Second):
				t.Fatal("posting stalled")
			}
			require.Eventually(t, func() bool {
				v, ok := s.Value("2")
				return ok && v == float64(tc.posts)
			}, 10*time.Second, 5*time.Millisecond, "every bang reaches the counter")
		})
	}
}
