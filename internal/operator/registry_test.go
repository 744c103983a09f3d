package operator

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vk/patchflow/internal/attr"
	"github.com/vk/patchflow/internal/msg"
	"github.com/zclconf/go-cty/cty"
)

type stubModule struct{ defs []*Definition }

func (m stubModule) Register(r *Registry) {
	for _, d := range m.defs {
		r.Register(d)
	}
}

func TestRegistry_RegisterAndLookup(t *testing.T) {
	r := New()
	def := &Definition{Name: "add", Inlets: []Port{ControlPort("a"), ControlPort("b")}}
	r.Register(def, "+")

	got, ok := r.Lookup("+")
	require.True(t, ok)
	assert.Same(t, def, got)

	_, ok = r.Lookup("missing")
	assert.False(t, ok)
	assert.Equal(t, []string{"add"}, r.Names())
}

func TestRegistry_DuplicatePanics(t *testing.T) {
	r := New()
	r.Register(&Definition{Name: "x"}, "y")
	assert.Panics(t, func() { r.Register(&Definition{Name: "x"}) })
	assert.Panics(t, func() { r.Register(&Definition{Name: "y"}) })
	assert.Panics(t, func() { r.Register(&Definition{Name: "z"}, "y") })
}

func TestRegistry_Validate(t *testing.T) {
	testCases := []struct {
		name    string
		def     *Definition
		wantErr string
	}{
		{
			name: "valid control operator",
			def:  &Definition{Name: "ok", New: func(*Node) (Behavior, error) { return nil, nil }},
		},
		{
			name:    "main thread without local",
			def:     &Definition{Name: "ui", Flags: NeedsMainThread},
			wantErr: "no local function",
		},
		{
			name:    "signal without synth",
			def:     &Definition{Name: "osc~", Outlets: []Port{SignalPort("out", 0)}},
			wantErr: "no synthesizer",
		},
		{
			name: "default type mismatch",
			def: &Definition{Name: "bad", Attributes: attr.Schema{
				{Name: "n", Type: cty.Number, Default: cty.StringVal("x")},
			}},
			wantErr: "default of attribute 'n'",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			r := NewWith(stubModule{defs: []*Definition{tc.def}})
			err := r.Validate()
			if tc.wantErr == "" {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.wantErr)
		})
	}
}

func TestParseText(t *testing.T) {
	testCases := []struct {
		name    string
		text    string
		want    Text
		wantErr bool
	}{
		{
			name: "name only",
			text: "counter",
			want: Text{Name: "counter"},
		},
		{
			name: "args and attrs",
			text: "counter 3 @max 8 @dir up-down",
			want: Text{
				Name:  "counter",
				Args:  []msg.Message{3.0},
				Attrs: []AttrToken{{Name: "max", Value: "8"}, {Name: "dir", Value: "up-down"}},
			},
		},
		{
			name: "multi word attribute",
			text: "print @label two words",
			want: Text{Name: "print", Attrs: []AttrToken{{Name: "label", Value: "two words"}}},
		},
		{name: "empty", text: "  ", wantErr: true},
		{name: "dangling attribute", text: "counter @max", wantErr: true},
		{name: "nameless attribute", text: "counter @ 3", wantErr: true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := ParseText(tc.text)
			if tc.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestInstantiate_SeedsArgumentCache(t *testing.T) {
	def := &Definition{
		Name:       "mul",
		Inlets:     []Port{ControlPort("a"), ControlPort("b"), ControlPort("c")},
		Attributes: attr.Schema{attr.Number("scale", 1)},
	}
	text, err := ParseText("mul 2 @scale 4")
	require.NoError(t, err)

	n, err := Instantiate(def, "1", text)
	require.NoError(t, err)
	assert.Equal(t, []msg.Message{2.0, nil}, n.Args)
	assert.Equal(t, 4.0, n.Attrs.Number("scale"))
	assert.Equal(t, 2.0, n.FloatArg(0, 0))
	assert.Equal(t, 9.0, n.FloatArg(1, 9))
}

func TestParseAttributeMessage(t *testing.T) {
	schema := attr.Schema{attr.Number("min", 0)}

	name, value, ok := ParseAttributeMessage(schema, "min 4")
	require.True(t, ok)
	assert.Equal(t, "min", name)
	assert.Equal(t, "4", value)

	_, _, ok = ParseAttributeMessage(schema, "max 4")
	assert.False(t, ok)
	_, _, ok = ParseAttributeMessage(schema, "bang")
	assert.False(t, ok)
	_, _, ok = ParseAttributeMessage(schema, 4.0)
	assert.False(t, ok)
}
