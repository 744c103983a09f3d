// Package attr implements typed attribute bags for operator nodes.
//
// Each operator declares a Schema of recognised keys. Values are held as
// cty.Value and converted to the declared type when set, so a bad value is
// rejected at authoring time rather than surfacing during evaluation. Keys
// outside the schema are kept as raw string or number values.
package attr

import (
	"fmt"
	"slices"
	"strconv"

	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/convert"
	"github.com/zclconf/go-cty/cty/gocty"
)

// Spec declares one recognised attribute.
type Spec struct {
	Name    string
	Type    cty.Type
	Default cty.Value
	// Options restricts string attributes to an enumerated set.
	Options []string
}

// Schema is the ordered set of attributes an operator understands.
type Schema []Spec

// Lookup finds the spec for name.
func (s Schema) Lookup(name string) (Spec, bool) {
	for _, spec := range s {
		if spec.Name == name {
			return spec, true
		}
	}
	return Spec{}, false
}

// Number is a shorthand for a numeric attribute spec.
func Number(name string, def float64) Spec {
	return Spec{Name: name, Type: cty.Number, Default: cty.NumberFloatVal(def)}
}

// String is a shorthand for a string attribute spec.
func String(name, def string, options ...string) Spec {
	return Spec{Name: name, Type: cty.String, Default: cty.StringVal(def), Options: options}
}

// Bool is a shorthand for a boolean attribute spec.
func Bool(name string, def bool) Spec {
	return Spec{Name: name, Type: cty.Bool, Default: cty.BoolVal(def)}
}

// Bag holds the attribute values of one node.
type Bag struct {
	schema Schema
	values map[string]cty.Value
}

// NewBag creates a bag populated with the schema defaults.
func NewBag(schema Schema) *Bag {
	b := &Bag{schema: schema, values: make(map[string]cty.Value, len(schema))}
	for _, spec := range schema {
		if spec.Default != cty.NilVal {
			b.values[spec.Name] = spec.Default
		}
	}
	return b
}

// Schema returns the schema the bag validates against.
func (b *Bag) Schema() Schema { return b.schema }

// Set validates v against the schema and stores it.
func (b *Bag) Set(name string, v cty.Value) error {
	if v == cty.NilVal || v.IsNull() || !v.IsKnown() {
		return fmt.Errorf("attribute %q: value must be known and non-null", name)
	}
	spec, ok := b.schema.Lookup(name)
	if !ok {
		raw, err := rawValue(v)
		if err != nil {
			return fmt.Errorf("attribute %q: %w", name, err)
		}
		b.values[name] = raw
		return nil
	}
	converted, err := convert.Convert(v, spec.Type)
	if err != nil {
		return fmt.Errorf("attribute %q: %w", name, err)
	}
	if len(spec.Options) > 0 && spec.Type == cty.String {
		if !slices.Contains(spec.Options, converted.AsString()) {
			return fmt.Errorf("attribute %q: %q is not one of %v", name, converted.AsString(), spec.Options)
		}
	}
	b.values[name] = converted
	return nil
}

// SetText parses a textual value (as typed after "@name" in an operator
// definition) and stores it.
func (b *Bag) SetText(name, text string) error {
	return b.Set(name, textValue(text))
}

// Has reports whether name has a value.
func (b *Bag) Has(name string) bool {
	_, ok := b.values[name]
	return ok
}

// Get returns the stored value or cty.NilVal.
func (b *Bag) Get(name string) cty.Value {
	return b.values[name]
}

// Number returns a numeric attribute, or 0 when unset or not a number.
func (b *Bag) Number(name string) float64 {
	v, ok := b.values[name]
	if !ok {
		return 0
	}
	if v.Type() != cty.Number {
		var err error
		if v, err = convert.Convert(v, cty.Number); err != nil {
			return 0
		}
	}
	var f float64
	if err := gocty.FromCtyValue(v, &f); err != nil {
		return 0
	}
	return f
}

// String returns a string attribute, or "" when unset.
func (b *Bag) String(name string) string {
	v, ok := b.values[name]
	if !ok {
		return ""
	}
	s, err := convert.Convert(v, cty.String)
	if err != nil {
		return ""
	}
	return s.AsString()
}

// Bool returns a boolean attribute, or false when unset.
func (b *Bag) Bool(name string) bool {
	v, ok := b.values[name]
	if !ok {
		return false
	}
	bv, err := convert.Convert(v, cty.Bool)
	if err != nil {
		return false
	}
	return bv.True()
}

// Keys returns the stored attribute names in sorted order.
func (b *Bag) Keys() []string {
	keys := make([]string, 0, len(b.values))
	for k := range b.values {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

// Clone returns an independent copy. cty values are immutable, so a shallow
// map copy is enough.
func (b *Bag) Clone() *Bag {
	out := &Bag{schema: b.schema, values: make(map[string]cty.Value, len(b.values))}
	for k, v := range b.values {
		out.values[k] = v
	}
	return out
}

// Raw exports the bag as plain Go values (float64, string, bool).
func (b *Bag) Raw() map[string]any {
	out := make(map[string]any, len(b.values))
	for k, v := range b.values {
		switch v.Type() {
		case cty.Number:
			out[k] = b.Number(k)
		case cty.Bool:
			out[k] = v.True()
		default:
			out[k] = b.String(k)
		}
	}
	return out
}

// FromRaw rebuilds a bag from Raw output. Values the schema rejects are
// reported, the rest are kept.
func FromRaw(schema Schema, raw map[string]any) (*Bag, error) {
	b := NewBag(schema)
	var firstErr error
	keys := make([]string, 0, len(raw))
	for k := range raw {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	for _, k := range keys {
		v, err := goValue(raw[k])
		if err == nil {
			err = b.Set(k, v)
		}
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return b, firstErr
}

func textValue(text string) cty.Value {
	if f, err := strconv.ParseFloat(text, 64); err == nil {
		return cty.NumberFloatVal(f)
	}
	return cty.StringVal(text)
}

func rawValue(v cty.Value) (cty.Value, error) {
	switch v.Type() {
	case cty.Number, cty.String:
		return v, nil
	case cty.Bool:
		return convert.Convert(v, cty.String)
	}
	return cty.NilVal, fmt.Errorf("unrecognised attribute must be a string or number, got %s", v.Type().FriendlyName())
}

func goValue(v any) (cty.Value, error) {
	switch x := v.(type) {
	case float64:
		return cty.NumberFloatVal(x), nil
	case int:
		return cty.NumberIntVal(int64(x)), nil
	case int64:
		return cty.NumberIntVal(x), nil
	case string:
		return cty.StringVal(x), nil
	case bool:
		return cty.BoolVal(x), nil
	}
	return cty.NilVal, fmt.Errorf("unsupported attribute value %T", v)
}
