package data

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vk/patchflow/internal/msg"
	"github.com/vk/patchflow/internal/operator"
)

func behavior(t *testing.T, text string) operator.Behavior {
	t.Helper()
	r := operator.NewWith(&Module{})
	parsed, err := operator.ParseText(text)
	require.NoError(t, err)
	def, ok := r.Lookup(parsed.Name)
	require.True(t, ok)
	n, err := operator.Instantiate(def, "2", parsed)
	require.NoError(t, err)
	b, err := def.New(n)
	require.NoError(t, err)
	return b
}

func TestBuffer_Float32(t *testing.T) {
	b := behavior(t, "buffer 4")

	out, err := b.Evaluate([]msg.Message{1.0, 0.5, 0.25, 0.125, 9.0})
	require.NoError(t, err)
	require.Len(t, out, 1)
	buf, ok := out[0].(*msg.SharedBuffer)
	require.True(t, ok)
	assert.Equal(t, []float32{1, 0.5, 0.25, 0.125}, buf.Float32())

	out, err = b.Evaluate([]msg.Message{"set", 1.0, 2.0})
	require.NoError(t, err)
	assert.Same(t, buf, out[0], "the same live region is republished")
	assert.Equal(t, float32(2), buf.Float32()[1])

	_, err = b.Evaluate("clear")
	require.NoError(t, err)
	assert.Equal(t, []float32{0, 0, 0, 0}, buf.Float32())

	_, err = b.Evaluate([]msg.Message{"set", 7.0, 1.0})
	assert.Error(t, err)
}

func TestBuffer_Uint8Clamps(t *testing.T) {
	b := behavior(t, "bytes 3")
	out, err := b.Evaluate([]msg.Message{-4.0, 12.0, 300.0})
	require.NoError(t, err)
	buf := out[0].(*msg.SharedBuffer)
	assert.Equal(t, msg.Uint8, buf.Kind)
	assert.Equal(t, []uint8{0, 12, 255}, buf.Uint8())
}

func TestNumber(t *testing.T) {
	b := behavior(t, "number")
	out, err := b.Evaluate(3.0)
	require.NoError(t, err)
	assert.Equal(t, []msg.Message{3.0}, out)
	out, err = b.Evaluate(msg.Bang)
	require.NoError(t, err)
	assert.Equal(t, []msg.Message{3.0}, out)
	_, err = b.Evaluate("x")
	assert.Error(t, err)
}
