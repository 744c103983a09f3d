package testutil

import (
	"bytes"
	"context"
	"log/slog"
	"os"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/vk/patchflow/internal/ctxlog"
	"github.com/vk/patchflow/internal/operator"
	"github.com/vk/patchflow/internal/patch"
	"github.com/vk/patchflow/modules/control"
	"github.com/vk/patchflow/modules/data"
	"github.com/vk/patchflow/modules/dsp"
	"github.com/vk/patchflow/modules/subpatch"
	"github.com/vk/patchflow/modules/ui"
)

// SafeBuffer is a thread-safe buffer for capturing log output in tests.
type SafeBuffer struct {
	b  bytes.Buffer
	mu sync.Mutex
}

// Write implements the io.Writer interface for SafeBuffer.
func (b *SafeBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.b.Write(p)
}

// String implements the fmt.Stringer interface for SafeBuffer.
func (b *SafeBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.b.String()
}

// Context returns a context carrying a debug logger that writes into the
// returned buffer. Set PATCHFLOW_TEST_LOGS=true to dump it after the test.
func Context(t *testing.T) (context.Context, *SafeBuffer) {
	t.Helper()
	buf := &SafeBuffer{}
	logger := slog.New(slog.NewTextHandler(buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	t.Cleanup(func() {
		if os.Getenv("PATCHFLOW_TEST_LOGS") == "true" {
			t.Logf("--- Full Log Output for %s ---\n%s", t.Name(), buf.String())
		}
	})
	return ctxlog.WithLogger(context.Background(), logger), buf
}

// Modules returns every operator module shipped with patchflow.
func Modules() []operator.Module {
	return []operator.Module{
		&subpatch.Module{},
		&control.Module{},
		&dsp.Module{},
		&data.Module{},
		&ui.Module{},
	}
}

// Registry returns a registry with all modules registered.
func Registry() *operator.Registry {
	return operator.NewWith(Modules()...)
}

// Builder adds nodes and connections to a patch, failing the test on error.
type Builder struct {
	t     *testing.T
	Patch *patch.Patch
}

// NewBuilder starts a patch on the full registry.
func NewBuilder(t *testing.T) *Builder {
	return NewBuilderWith(t, Registry())
}

// NewBuilderWith starts a patch on reg.
func NewBuilderWith(t *testing.T, reg *operator.Registry) *Builder {
	return &Builder{t: t, Patch: patch.New(reg)}
}

// In returns a builder for a subpatch.
func (b *Builder) In(n *patch.Node) *Builder {
	b.t.Helper()
	require.NotNil(b.t, n.SubPatch, "node %d has no subpatch", n.ID)
	return &Builder{t: b.t, Patch: n.SubPatch}
}

// Object adds an operator node.
func (b *Builder) Object(text string) *patch.Node {
	b.t.Helper()
	n, err := b.Patch.AddObject(text)
	require.NoError(b.t, err)
	return n
}

// Message adds a literal node.
func (b *Builder) Message(text string) *patch.Node {
	return b.Patch.AddMessage(text)
}

// Connect wires src's outlet to dst's inlet.
func (b *Builder) Connect(src *patch.Node, outlet int, dst *patch.Node, inlet int) {
	b.t.Helper()
	_, err := b.Patch.Connect(src.ID, outlet, dst.ID, inlet, false)
	require.NoError(b.t, err)
}
