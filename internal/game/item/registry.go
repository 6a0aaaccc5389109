package item

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// Registry holds all loaded item templates indexed by name and alias.
type Registry struct {
	templates map[string]*Template
	aliases   map[string]string
}

// NewRegistry returns an empty Registry.
//
// Postcondition: all internal maps are initialised.
func NewRegistry() *Registry {
	return &Registry{
		templates: make(map[string]*Template),
		aliases:   make(map[string]string),
	}
}

// Register adds t to the registry.
//
// Precondition: t must not be nil and must pass Validate.
// Postcondition: Get(t.Name) and every Lookup(alias) return t; returns error if
// the name or an alias is already taken.
func (r *Registry) Register(t *Template) error {
	if err := t.Validate(); err != nil {
		return fmt.Errorf("item: Registry.Register: %w", err)
	}
	if _, exists := r.templates[t.Name]; exists {
		return fmt.Errorf("item: Registry.Register: item %q already registered", t.Name)
	}
	for _, a := range t.Aliases {
		key := strings.ToLower(a)
		if owner, taken := r.aliases[key]; taken {
			return fmt.Errorf("item: Registry.Register: alias %q of %q already used by %q", a, t.Name, owner)
		}
	}
	r.templates[t.Name] = t
	for _, a := range t.Aliases {
		r.aliases[strings.ToLower(a)] = t.Name
	}
	return nil
}

// Get returns the template with the exact name.
func (r *Registry) Get(name string) (*Template, bool) {
	t, ok := r.templates[name]
	return t, ok
}

// Lookup resolves a user-supplied name or alias, case-insensitively.
func (r *Registry) Lookup(query string) (*Template, bool) {
	if t, ok := r.templates[query]; ok {
		return t, true
	}
	q := strings.ToLower(strings.TrimSpace(query))
	if t, ok := r.templates[q]; ok {
		return t, true
	}
	if name, ok := r.aliases[q]; ok {
		return r.templates[name], true
	}
	return nil, false
}

// AmmoFor returns every ammunition template that fits weaponName, best first:
// higher penetration wins, then higher damage, then name.
func (r *Registry) AmmoFor(weaponName string) []*Template {
	var out []*Template
	for _, t := range r.templates {
		if t.Fits(weaponName) {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i].Kind.(Ammunition), out[j].Kind.(Ammunition)
		if a.Penetration != b.Penetration {
			return a.Penetration > b.Penetration
		}
		if a.Damage != b.Damage {
			return a.Damage > b.Damage
		}
		return out[i].Name < out[j].Name
	})
	return out
}

// Names returns all registered template names in sorted order.
func (r *Registry) Names() []string {
	out := make([]string, 0, len(r.templates))
	for n := range r.templates {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// Len returns the number of registered templates.
func (r *Registry) Len() int {
	return len(r.templates)
}

// LoadItems reads every .yaml file in dir. Each file holds a list of templates.
//
// Precondition: dir must be a readable directory.
// Postcondition: Returns a populated Registry or the first error encountered.
func LoadItems(dir string) (*Registry, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("LoadItems: cannot read directory %q: %w", dir, err)
	}
	reg := NewRegistry()
	for _, e := range entries {
		if e.IsDir() || (filepath.Ext(e.Name()) != ".yaml" && filepath.Ext(e.Name()) != ".yml") {
			continue
		}
		path := filepath.Join(dir, e.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("LoadItems: reading %q: %w", path, err)
		}
		var templates []*Template
		if err := yaml.Unmarshal(data, &templates); err != nil {
			return nil, fmt.Errorf("LoadItems: parsing %q: %w", path, err)
		}
		for _, t := range templates {
			if err := reg.Register(t); err != nil {
				return nil, fmt.Errorf("LoadItems: %q: %w", path, err)
			}
		}
	}
	return reg, nil
}
