package attr

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zclconf/go-cty/cty"
)

var counterSchema = Schema{
	Number("min", 0),
	Number("max", 16),
	String("dir", "up", "up", "down", "up-down"),
	Bool("hidden", false),
}

func TestNewBag_Defaults(t *testing.T) {
	b := NewBag(counterSchema)
	assert.Equal(t, 16.0, b.Number("max"))
	assert.Equal(t, "up", b.String("dir"))
	assert.False(t, b.Bool("hidden"))
	assert.Equal(t, []string{"dir", "hidden", "max", "min"}, b.Keys())
}

func TestBag_SetValidatesAgainstSchema(t *testing.T) {
	testCases := []struct {
		name    string
		key     string
		value   cty.Value
		wantErr bool
	}{
		{name: "number from string", key: "max", value: cty.StringVal("8")},
		{name: "number rejects text", key: "max", value: cty.StringVal("lots"), wantErr: true},
		{name: "enum accepts option", key: "dir", value: cty.StringVal("up-down")},
		{name: "enum rejects other", key: "dir", value: cty.StringVal("sideways"), wantErr: true},
		{name: "null rejected", key: "min", value: cty.NullVal(cty.Number), wantErr: true},
		{name: "unknown key keeps raw string", key: "label", value: cty.StringVal("kick")},
		{name: "unknown key rejects list", key: "label", value: cty.ListVal([]cty.Value{cty.StringVal("a")}), wantErr: true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			b := NewBag(counterSchema)
			err := b.Set(tc.key, tc.value)
			if tc.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.True(t, b.Has(tc.key))
		})
	}
}

func TestBag_SetText(t *testing.T) {
	b := NewBag(counterSchema)
	require.NoError(t, b.SetText("min", "3"))
	require.NoError(t, b.SetText("color", "red"))
	require.NoError(t, b.SetText("size", "12"))

	assert.Equal(t, 3.0, b.Number("min"))
	assert.Equal(t, "red", b.String("color"))
	assert.Equal(t, 12.0, b.Number("size"))
}

func TestBag_RawRoundTrip(t *testing.T) {
	b := NewBag(counterSchema)
	require.NoError(t, b.SetText("dir", "down"))
	require.NoError(t, b.SetText("label", "lead"))

	restored, err := FromRaw(counterSchema, b.Raw())
	require.NoError(t, err)
	assert.Equal(t, b.Raw(), restored.Raw())
}

func TestBag_CloneIsIndependent(t *testing.T) {
	b := NewBag(counterSchema)
	c := b.Clone()
	require.NoError(t, c.SetText("max", "4"))
	assert.Equal(t, 16.0, b.Number("max"))
	assert.Equal(t, 4.0, c.Number("max"))
}
