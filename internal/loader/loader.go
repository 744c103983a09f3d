package loader

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"
	"github.com/vk/patchflow/internal/ctxlog"
	"github.com/vk/patchflow/internal/fsutil"
	"github.com/vk/patchflow/internal/operator"
	"github.com/vk/patchflow/internal/patch"
	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/convert"
	"github.com/zclconf/go-cty/cty/gocty"
)

// Extension is the suffix of patch files.
const Extension = ".hcl"

// Named is one patch read from a file.
type Named struct {
	Name  string
	File  string
	Patch *patch.Patch
}

// Loader builds patches against an operator registry.
type Loader struct {
	registry *operator.Registry
}

// New creates a loader resolving operators through reg.
func New(reg *operator.Registry) *Loader {
	return &Loader{registry: reg}
}

// Load discovers the patch files named by args (files, directories or
// doublestar globs) and builds every patch in them. Errors are returned as
// hcl.Diagnostics when they point into a file.
func (l *Loader) Load(ctx context.Context, args ...string) ([]*Named, error) {
	logger := ctxlog.FromContext(ctx)
	logger.Debug("Patch loader started.", "arg_count", len(args))

	files, err := fsutil.FindFiles(Extension, args...)
	if err != nil {
		return nil, err
	}
	logger.Debug("Discovered patch files.", "count", len(files))

	parser := hclparse.NewParser()
	var out []*Named
	var diags hcl.Diagnostics
	for _, file := range files {
		src, err := os.ReadFile(file)
		if err != nil {
			return nil, err
		}
		patches, d := l.parse(parser, src, file)
		diags = append(diags, d...)
		out = append(out, patches...)
	}
	if diags.HasErrors() {
		return nil, diags
	}
	logger.Debug("Patch loading complete.", "patches", len(out))
	return out, nil
}

// Parse builds the patches in one HCL document.
func (l *Loader) Parse(src []byte, filename string) ([]*Named, error) {
	patches, diags := l.parse(hclparse.NewParser(), src, filename)
	if diags.HasErrors() {
		return nil, diags
	}
	return patches, nil
}

func (l *Loader) parse(parser *hclparse.Parser, src []byte, filename string) ([]*Named, hcl.Diagnostics) {
	file, diags := parser.ParseHCL(src, filename)
	if diags.HasErrors() {
		return nil, diags
	}
	var root fileRoot
	if diags := gohcl.DecodeBody(file.Body, nil, &root); diags.HasErrors() {
		return nil, diags
	}

	var out []*Named
	seen := make(map[string]bool)
	for _, pb := range root.Patches {
		if seen[pb.Name] {
			diags = append(diags, &hcl.Diagnostic{
				Severity: hcl.DiagError,
				Summary:  "Duplicate patch",
				Detail:   fmt.Sprintf("A patch named %q is already defined in this file.", pb.Name),
				Subject:  rangeOf(pb.Body),
			})
			continue
		}
		seen[pb.Name] = true
		p := patch.New(l.registry)
		diags = append(diags, build(p, pb.Body)...)
		out = append(out, &Named{Name: pb.Name, File: filename, Patch: p})
	}
	return out, diags
}

// build adds the nodes of body to p, subpatches included, then the
// connections between them.
func build(p *patch.Patch, body hcl.Body) hcl.Diagnostics {
	var g graphBody
	diags := gohcl.DecodeBody(body, nil, &g)
	if diags.HasErrors() {
		return diags
	}

	names := make(map[string]*patch.Node)
	claim := func(name string, subject *hcl.Range) bool {
		if _, dup := names[name]; dup {
			diags = append(diags, &hcl.Diagnostic{
				Severity: hcl.DiagError,
				Summary:  "Duplicate node name",
				Detail:   fmt.Sprintf("A node named %q is already defined in this patch.", name),
				Subject:  subject,
			})
			return false
		}
		return true
	}

	for _, ob := range g.Objects {
		subject := ob.Text.Range().Ptr()
		if !claim(ob.Name, subject) {
			continue
		}
		text, d := stringValue(ob.Text)
		diags = append(diags, d...)
		if d.HasErrors() {
			continue
		}
		n, err := p.AddObject(text)
		if err != nil {
			diags = append(diags, errorAt("Invalid operator definition", err, subject))
			continue
		}
		names[ob.Name] = n
		diags = append(diags, setAttributes(n, ob.Attributes)...)

		var sub subpatchBlock
		d = gohcl.DecodeBody(ob.Remain, nil, &sub)
		diags = append(diags, d...)
		if sub.Patch == nil || d.HasErrors() {
			continue
		}
		if n.SubPatch == nil {
			diags = append(diags, errorAt("Unexpected patch block", fmt.Errorf("operator %q does not own a subpatch", n.Operator), subject))
			continue
		}
		diags = append(diags, build(n.SubPatch, sub.Patch.Body)...)
	}

	for _, mb := range g.Messages {
		subject := mb.Value.Range().Ptr()
		if !claim(mb.Name, subject) {
			continue
		}
		text, d := messageText(mb.Value)
		diags = append(diags, d...)
		if d.HasErrors() {
			continue
		}
		names[mb.Name] = p.AddMessage(text)
	}

	for _, cb := range g.Connections {
		src, outlet, d := endpoint(cb.From, names)
		diags = append(diags, d...)
		dst, inlet, d2 := endpoint(cb.To, names)
		diags = append(diags, d2...)
		if d.HasErrors() || d2.HasErrors() {
			continue
		}
		if _, err := p.Connect(src.ID, outlet, dst.ID, inlet, false); err != nil {
			diags = append(diags, errorAt("Invalid connection", err, cb.From.Range().Ptr()))
		}
	}
	return diags
}

func setAttributes(n *patch.Node, expr hcl.Expression) hcl.Diagnostics {
	if expr == nil {
		return nil
	}
	v, diags := expr.Value(nil)
	if diags.HasErrors() || v.IsNull() {
		return diags
	}
	if !v.Type().IsObjectType() && !v.Type().IsMapType() {
		return append(diags, errorAt("Invalid attributes", fmt.Errorf("expected an object, got %s", v.Type().FriendlyName()), expr.Range().Ptr()))
	}
	for it := v.ElementIterator(); it.Next(); {
		k, val := it.Element()
		if err := n.Attrs.Set(k.AsString(), val); err != nil {
			diags = append(diags, errorAt("Invalid attribute value", err, expr.Range().Ptr()))
		}
	}
	return diags
}

func stringValue(expr hcl.Expression) (string, hcl.Diagnostics) {
	v, diags := expr.Value(nil)
	if diags.HasErrors() {
		return "", diags
	}
	var s string
	if err := gocty.FromCtyValue(v, &s); err != nil {
		return "", append(diags, errorAt("Invalid value", err, expr.Range().Ptr()))
	}
	return s, diags
}

// messageText renders a message value as the text a message node parses.
// Tuples and lists become space separated atoms.
func messageText(expr hcl.Expression) (string, hcl.Diagnostics) {
	v, diags := expr.Value(nil)
	if diags.HasErrors() {
		return "", diags
	}
	if v.IsNull() {
		return "", diags
	}
	if v.Type().IsTupleType() || v.Type().IsListType() {
		var parts []string
		for it := v.ElementIterator(); it.Next(); {
			_, el := it.Element()
			s, err := atom(el)
			if err != nil {
				return "", append(diags, errorAt("Invalid message", err, expr.Range().Ptr()))
			}
			parts = append(parts, s)
		}
		return strings.Join(parts, " "), diags
	}
	s, err := atom(v)
	if err != nil {
		return "", append(diags, errorAt("Invalid message", err, expr.Range().Ptr()))
	}
	return s, diags
}

func atom(v cty.Value) (string, error) {
	if v.Type() == cty.Number {
		f, _ := v.AsBigFloat().Float64()
		return strconv.FormatFloat(f, 'g', -1, 64), nil
	}
	s, err := convert.Convert(v, cty.String)
	if err != nil {
		return "", err
	}
	return s.AsString(), nil
}

// endpoint resolves `name` or `name:port`.
func endpoint(expr hcl.Expression, names map[string]*patch.Node) (*patch.Node, int, hcl.Diagnostics) {
	text, diags := stringValue(expr)
	if diags.HasErrors() {
		return nil, 0, diags
	}
	name, port := text, 0
	if i := strings.LastIndexByte(text, ':'); i >= 0 {
		n, err := strconv.Atoi(text[i+1:])
		if err != nil || n < 0 {
			return nil, 0, append(diags, errorAt("Invalid endpoint", fmt.Errorf("bad port in %q", text), expr.Range().Ptr()))
		}
		name, port = text[:i], n
	}
	n, ok := names[name]
	if !ok {
		return nil, 0, append(diags, errorAt("Unknown node", fmt.Errorf("no node named %q in this patch", name), expr.Range().Ptr()))
	}
	return n, port, diags
}

func errorAt(summary string, err error, subject *hcl.Range) *hcl.Diagnostic {
	return &hcl.Diagnostic{Severity: hcl.DiagError, Summary: summary, Detail: err.Error(), Subject: subject}
}

func rangeOf(body hcl.Body) *hcl.Range {
	if body == nil {
		return nil
	}
	r := body.MissingItemRange()
	return &r
}
