// Package content loads the static game content (items, NPC templates and
// locations) and checks every reference between them.
package content

import (
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/cory-johannsen/raidbot/internal/config"
	"github.com/cory-johannsen/raidbot/internal/game/item"
	"github.com/cory-johannsen/raidbot/internal/game/location"
	"github.com/cory-johannsen/raidbot/internal/game/npc"
)

// Catalog is the cross-referenced content set the engine runs on.
type Catalog struct {
	Items     *item.Registry
	NPCs      *npc.Registry
	Locations *location.Registry
}

// Load reads the content directories named by cfg and validates the result.
//
// Precondition: the items, npcs and locations directories are readable.
// Postcondition: returns a Catalog whose references all resolve, or an error
// listing every broken reference.
func Load(cfg config.ContentConfig, logger *zap.Logger) (*Catalog, error) {
	items, err := item.LoadItems(cfg.ItemsDir)
	if err != nil {
		return nil, err
	}
	templates, err := npc.LoadTemplates(cfg.NPCsDir)
	if err != nil {
		return nil, err
	}
	npcs, err := npc.NewRegistry(templates)
	if err != nil {
		return nil, err
	}
	locations, err := location.LoadLocations(cfg.LocationsDir)
	if err != nil {
		return nil, err
	}
	c := &Catalog{Items: items, NPCs: npcs, Locations: locations}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	logger.Info("content loaded",
		zap.Int("items", items.Len()),
		zap.Int("npcs", len(npcs.All())),
		zap.Int("locations", len(locations.All())),
	)
	return c, nil
}

// Validate checks that NPC equipment and drops name known items of the right
// kind, that spawn lists name known NPCs and that evac keys are keys.
//
// Postcondition: returns nil iff every reference resolves; otherwise the
// error joins one entry per broken reference.
func (c *Catalog) Validate() error {
	var errs []error
	for _, t := range c.NPCs.All() {
		errs = append(errs, c.validateNPC(t)...)
	}
	for _, l := range c.Locations.All() {
		for _, ch := range l.Channels {
			if s := ch.NPCSpawns; s != nil {
				for _, id := range s.NPCs {
					if _, ok := c.NPCs.Get(id); !ok {
						errs = append(errs, fmt.Errorf("location %q channel %q: unknown npc %q", l.ID, ch.Name, id))
					}
				}
			}
			if ch.Evac != nil && ch.Evac.RequiresKey != "" {
				if err := c.expect(ch.Evac.RequiresKey, item.TypeKey); err != nil {
					errs = append(errs, fmt.Errorf("location %q channel %q evac: %w", l.ID, ch.Name, err))
				}
			}
		}
	}
	return errors.Join(errs...)
}

func (c *Catalog) validateNPC(t *npc.Template) []error {
	var errs []error
	fail := func(err error) {
		errs = append(errs, fmt.Errorf("npc template %q: %w", t.ID, err))
	}
	if t.Weapon != "" {
		w, ok := c.Items.Get(t.Weapon)
		switch {
		case !ok:
			fail(fmt.Errorf("unknown weapon %q", t.Weapon))
		default:
			stats, isWeapon := w.Weapon()
			if !isWeapon {
				fail(fmt.Errorf("%q is not a weapon", t.Weapon))
			} else if stats.Ranged && t.Ammo == "" {
				fail(fmt.Errorf("ranged weapon %q needs ammo", t.Weapon))
			}
		}
	}
	if t.Ammo != "" {
		a, ok := c.Items.Get(t.Ammo)
		switch {
		case !ok:
			fail(fmt.Errorf("unknown ammo %q", t.Ammo))
		case a.Kind.TypeName() != item.TypeAmmunition:
			fail(fmt.Errorf("%q is not ammunition", t.Ammo))
		case t.Weapon != "" && !a.Fits(t.Weapon):
			fail(fmt.Errorf("ammo %q does not fit %q", t.Ammo, t.Weapon))
		}
	}
	if t.Armor != "" {
		if err := c.expect(t.Armor, item.TypeBodyArmor); err != nil {
			fail(err)
		}
	}
	if t.Helmet != "" {
		if err := c.expect(t.Helmet, item.TypeHelmet); err != nil {
			fail(err)
		}
	}
	for _, name := range t.Drops.Items() {
		if _, ok := c.Items.Get(name); !ok {
			fail(fmt.Errorf("drop table names unknown item %q", name))
		}
	}
	return errs
}

// expect checks that name is a known item of type typeName.
func (c *Catalog) expect(name, typeName string) error {
	t, ok := c.Items.Get(name)
	if !ok {
		return fmt.Errorf("unknown item %q", name)
	}
	if got := t.Kind.TypeName(); got != typeName {
		return fmt.Errorf("item %q is a %s, want %s", name, got, typeName)
	}
	return nil
}
