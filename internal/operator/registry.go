package operator

import (
	"fmt"
	"log/slog"
	"slices"
	"sort"
	"strings"

	"github.com/zclconf/go-cty/cty"
)

// Module is the interface that every operator package implements to be
// registered.
type Module interface {
	Register(r *Registry)
}

// Registry maps operator names and aliases to their definitions for a single
// application instance.
type Registry struct {
	definitions map[string]*Definition
	aliases     map[string]string
}

// New creates and initializes a new Registry instance.
func New() *Registry {
	return &Registry{
		definitions: make(map[string]*Definition),
		aliases:     make(map[string]string),
	}
}

// NewWith creates a registry and registers every module into it.
func NewWith(modules ...Module) *Registry {
	r := New()
	for _, m := range modules {
		m.Register(r)
	}
	return r
}

// Register adds an operator definition. Registering a name twice is a
// programmer error.
func (r *Registry) Register(def *Definition, aliases ...string) {
	if def == nil || def.Name == "" {
		panic("operator definition must have a name")
	}
	if _, exists := r.definitions[def.Name]; exists {
		panic(fmt.Sprintf("operator '%s' already registered", def.Name))
	}
	if _, exists := r.aliases[def.Name]; exists {
		panic(fmt.Sprintf("operator '%s' already registered as an alias", def.Name))
	}
	slog.Debug("Registering operator.", "name", def.Name)
	r.definitions[def.Name] = def
	for _, alias := range aliases {
		if _, exists := r.definitions[alias]; exists {
			panic(fmt.Sprintf("alias '%s' collides with an operator", alias))
		}
		if _, exists := r.aliases[alias]; exists {
			panic(fmt.Sprintf("alias '%s' already registered", alias))
		}
		r.aliases[alias] = def.Name
	}
}

// Lookup resolves a name or alias.
func (r *Registry) Lookup(name string) (*Definition, bool) {
	if def, ok := r.definitions[name]; ok {
		return def, true
	}
	if canonical, ok := r.aliases[name]; ok {
		return r.definitions[canonical], true
	}
	return nil, false
}

// Names returns the canonical operator names, sorted.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.definitions))
	for n := range r.definitions {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Validate checks that every definition is internally consistent.
func (r *Registry) Validate() error {
	var errs []string
	for _, name := range r.Names() {
		def := r.definitions[name]
		switch {
		case def.Flags.Has(NeedsMainThread) && def.Local == nil:
			errs = append(errs, fmt.Sprintf("operator '%s': main-thread operator has no local function", name))
		case def.Flags.Has(Output) && def.IsSignal():
			errs = append(errs, fmt.Sprintf("operator '%s': output operators cannot have signal outlets", name))
		case def.IsSignal() && def.Synth == nil && !def.Flags.Has(History) && !def.passThrough():
			errs = append(errs, fmt.Sprintf("operator '%s': signal operator has no synthesizer", name))
		}
		for _, spec := range def.Attributes {
			if spec.Default == cty.NilVal || spec.Default.IsNull() {
				continue
			}
			if !spec.Default.Type().Equals(spec.Type) {
				errs = append(errs, fmt.Sprintf("operator '%s': default of attribute '%s' is %s, want %s",
					name, spec.Name, spec.Default.Type().FriendlyName(), spec.Type.FriendlyName()))
			}
		}
	}
	if len(errs) > 0 {
		slices.Sort(errs)
		return fmt.Errorf("operator registry validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

func (d *Definition) passThrough() bool {
	return d.Flags&(Subpatch|Inlet|Outlet) != 0
}
