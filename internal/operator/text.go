package operator

import (
	"fmt"
	"strings"

	"github.com/vk/patchflow/internal/attr"
	"github.com/vk/patchflow/internal/msg"
)

// Text is a parsed operator definition such as `counter 0 @max 8 @dir up-down`.
type Text struct {
	Name  string
	Args  []msg.Message
	Attrs []AttrToken
}

// AttrToken is one `@name value` pair from a definition.
type AttrToken struct {
	Name  string
	Value string
}

// ParseText splits an operator definition into its name, positional
// arguments and attribute tokens. Attribute values run until the next
// `@name` token, so `@label two words` keeps both words.
func ParseText(text string) (Text, error) {
	fields := strings.Fields(text)
	if len(fields) == 0 {
		return Text{}, fmt.Errorf("empty operator definition")
	}
	out := Text{Name: fields[0]}
	i := 1
	for ; i < len(fields) && !strings.HasPrefix(fields[i], "@"); i++ {
		out.Args = append(out.Args, msg.Parse(fields[i]))
	}
	for i < len(fields) {
		name := strings.TrimPrefix(fields[i], "@")
		if name == "" {
			return Text{}, fmt.Errorf("attribute without a name in %q", text)
		}
		i++
		var value []string
		for ; i < len(fields) && !strings.HasPrefix(fields[i], "@"); i++ {
			value = append(value, fields[i])
		}
		if len(value) == 0 {
			return Text{}, fmt.Errorf("attribute @%s has no value", name)
		}
		out.Attrs = append(out.Attrs, AttrToken{Name: name, Value: strings.Join(value, " ")})
	}
	return out, nil
}

// Instantiate builds the per-instance node data of def from parsed text.
func Instantiate(def *Definition, address string, t Text) (*Node, error) {
	n := &Node{Address: address, Attrs: attr.NewBag(def.Attributes)}
	n.Args = append(n.Args, t.Args...)
	for len(n.Args) < len(def.Inlets)-1 {
		n.Args = append(n.Args, nil)
	}
	for _, a := range t.Attrs {
		if err := n.Attrs.SetText(a.Name, a.Value); err != nil {
			return nil, fmt.Errorf("%s: %w", def.Name, err)
		}
	}
	return n, nil
}

// ParseAttributeMessage recognises `name value` messages addressed to a
// declared attribute of schema.
func ParseAttributeMessage(schema attr.Schema, m msg.Message) (name, value string, ok bool) {
	s, isString := m.(string)
	if !isString {
		return "", "", false
	}
	name, value, found := strings.Cut(strings.TrimSpace(s), " ")
	if !found {
		return "", "", false
	}
	if _, declared := schema.Lookup(name); !declared {
		return "", "", false
	}
	return name, strings.TrimSpace(value), true
}
