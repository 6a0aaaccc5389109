// Package npc provides NPC template definitions and the per-channel NPC
// lifecycle: spawning, death, loot drops and respawn scheduling.
package npc

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/cory-johannsen/raidbot/internal/game/loot"
)

// Kind is the NPC archetype.
type Kind string

const (
	// KindWalker NPCs fight unarmed with their base damage.
	KindWalker Kind = "walker"
	// KindRaider NPCs carry a weapon and drop it on death.
	KindRaider Kind = "raider"
	// KindBoss NPCs are raiders that count toward boss kills.
	KindBoss Kind = "boss"
)

// Template defines a reusable NPC archetype loaded from YAML.
type Template struct {
	ID      string `yaml:"id"`
	Display string `yaml:"display"`
	Kind    Kind   `yaml:"type"`
	Health  int    `yaml:"health"`
	XP      int    `yaml:"xp"`
	// Damage is the unarmed base damage used when no weapon is carried.
	Damage int    `yaml:"damage"`
	Weapon string `yaml:"weapon"`
	Ammo   string `yaml:"ammo"`
	Armor  string `yaml:"armor"`
	Helmet string `yaml:"helmet"`
	// Quotes are shouted in presence announcements.
	Quotes []string   `yaml:"quotes"`
	Drops  loot.Table `yaml:"drops"`
}

// CarriesWeapon reports whether the NPC fights with, and drops, a weapon.
func (t *Template) CarriesWeapon() bool {
	return (t.Kind == KindRaider || t.Kind == KindBoss) && t.Weapon != ""
}

// Validate checks that the template satisfies basic invariants. References
// to item templates are checked by the content catalog.
//
// Precondition: t must not be nil.
// Postcondition: Returns nil iff ID and Display are non-empty, Kind is known,
// Health >= 1, XP >= 0, the NPC can deal damage, and the drop table is valid.
func (t *Template) Validate() error {
	if t.ID == "" {
		return fmt.Errorf("npc template: id must not be empty")
	}
	if t.Display == "" {
		return fmt.Errorf("npc template %q: display must not be empty", t.ID)
	}
	switch t.Kind {
	case KindWalker, KindRaider, KindBoss:
	default:
		return fmt.Errorf("npc template %q: unknown type %q", t.ID, t.Kind)
	}
	if t.Health < 1 {
		return fmt.Errorf("npc template %q: health must be >= 1", t.ID)
	}
	if t.XP < 0 {
		return fmt.Errorf("npc template %q: xp must be >= 0", t.ID)
	}
	if t.Kind != KindWalker && t.Weapon == "" {
		return fmt.Errorf("npc template %q: %s must carry a weapon", t.ID, t.Kind)
	}
	if t.Weapon == "" && t.Damage < 1 {
		return fmt.Errorf("npc template %q: unarmed npc must have damage >= 1", t.ID)
	}
	if err := t.Drops.Validate(); err != nil {
		return fmt.Errorf("npc template %q: %w", t.ID, err)
	}
	return nil
}

// LoadTemplateFromBytes parses a single NPC template from raw YAML bytes.
//
// Precondition: data must be valid YAML for a single Template.
// Postcondition: Returns a validated *Template, or an error.
func LoadTemplateFromBytes(data []byte) (*Template, error) {
	var tmpl Template
	if err := yaml.Unmarshal(data, &tmpl); err != nil {
		return nil, fmt.Errorf("parsing template YAML: %w", err)
	}
	if err := tmpl.Validate(); err != nil {
		return nil, err
	}
	return &tmpl, nil
}

// LoadTemplates reads all *.yaml files in dir and returns the parsed templates.
//
// Precondition: dir must be a readable directory.
// Postcondition: Returns all templates or an error on the first parse or validate
// failure; on error, the partial result is discarded.
func LoadTemplates(dir string) ([]*Template, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("reading npc dir %q: %w", dir, err)
	}

	var templates []*Template
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".yaml") {
			continue
		}

		path := filepath.Join(dir, entry.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading %q: %w", path, err)
		}

		tmpl, err := LoadTemplateFromBytes(data)
		if err != nil {
			return nil, fmt.Errorf("loading %q: %w", path, err)
		}
		templates = append(templates, tmpl)
	}
	return templates, nil
}

// Registry indexes templates by id.
type Registry struct {
	byID map[string]*Template
}

// NewRegistry indexes templates.
//
// Postcondition: returns an error on a duplicate id.
func NewRegistry(templates []*Template) (*Registry, error) {
	r := &Registry{byID: make(map[string]*Template, len(templates))}
	for _, t := range templates {
		if _, ok := r.byID[t.ID]; ok {
			return nil, fmt.Errorf("npc template %q defined twice", t.ID)
		}
		r.byID[t.ID] = t
	}
	return r, nil
}

// Get returns the template with the given id.
func (r *Registry) Get(id string) (*Template, bool) {
	t, ok := r.byID[id]
	return t, ok
}

// All returns every template sorted by id.
func (r *Registry) All() []*Template {
	out := make([]*Template, 0, len(r.byID))
	for _, t := range r.byID {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
