package ui

import (
	"bytes"
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vk/patchflow/internal/ctxlog"
	"github.com/vk/patchflow/internal/msg"
	"github.com/vk/patchflow/internal/operator"
)

func node(t *testing.T, r *operator.Registry, text string) (*operator.Definition, *operator.Node) {
	t.Helper()
	parsed, err := operator.ParseText(text)
	require.NoError(t, err)
	def, ok := r.Lookup(parsed.Name)
	require.True(t, ok)
	n, err := operator.Instantiate(def, "4", parsed)
	require.NoError(t, err)
	return def, n
}

func TestModule_AllOperatorsRunInAuthoring(t *testing.T) {
	r := operator.NewWith(&Module{})
	require.NoError(t, r.Validate())
	for _, name := range r.Names() {
		def, _ := r.Lookup(name)
		assert.True(t, def.Flags.Has(operator.NeedsMainThread|operator.SkipCompilation), name)
	}
}

func TestPrint_LogsThroughContextLogger(t *testing.T) {
	var buf bytes.Buffer
	ctx := ctxlog.WithLogger(context.Background(), slog.New(slog.NewTextHandler(&buf, nil)))
	r := operator.NewWith(&Module{})
	def, n := node(t, r, "print @label freq")

	out, err := def.Local(ctx, n, 440.0)
	require.NoError(t, err)
	assert.Nil(t, out)
	assert.Contains(t, buf.String(), "freq: 440")
	assert.Contains(t, buf.String(), "node=4")
}

func TestToggle(t *testing.T) {
	r := operator.NewWith(&Module{})
	def, n := node(t, r, "toggle")

	out, err := def.Local(context.Background(), n, msg.Bang)
	require.NoError(t, err)
	assert.Equal(t, []msg.Message{1.0}, out)
	out, err = def.Local(context.Background(), n, msg.Bang)
	require.NoError(t, err)
	assert.Equal(t, []msg.Message{0.0}, out)
	out, err = def.Local(context.Background(), n, 5.0)
	require.NoError(t, err)
	assert.Equal(t, []msg.Message{1.0}, out)
}

func TestAttrUI(t *testing.T) {
	r := operator.NewWith(&Module{})
	def, n := node(t, r, "attrui max")

	out, err := def.Local(context.Background(), n, 8.0)
	require.NoError(t, err)
	assert.Equal(t, []msg.Message{"max 8"}, out)

	_, bare := node(t, r, "attrui")
	_, err = def.Local(context.Background(), bare, 8.0)
	assert.Error(t, err)
}
