package inventory

import (
	"sort"

	"github.com/cory-johannsen/raidbot/internal/game"
	"github.com/cory-johannsen/raidbot/internal/game/item"
	"github.com/cory-johannsen/raidbot/internal/game/model"
)

// Entry pairs an instance with its template.
type Entry struct {
	Item     model.ItemInstance
	Template *item.Template
}

// Loadout is the combat view of a backpack.
type Loadout struct {
	Entries []Entry
	Weapon  *Entry
	Armor   *Entry
	Helmet  *Entry
}

// Loadout resolves the templates of a backpack and finds the equipped pieces.
// When several items claim one slot the first in backpack order wins.
//
// Postcondition: returns a game.ErrInvariant error when an item references a
// template missing from the registry.
func (m *Mutator) Loadout(backpack []model.ItemInstance) (*Loadout, error) {
	l := &Loadout{Entries: make([]Entry, 0, len(backpack))}
	for _, it := range backpack {
		tmpl, ok := m.items.Get(it.Template)
		if !ok {
			return nil, game.Invariantf("inventory: item %s references unknown template %q", it.ID, it.Template)
		}
		l.Entries = append(l.Entries, Entry{Item: it, Template: tmpl})
	}
	for i := range l.Entries {
		e := &l.Entries[i]
		if !e.Item.Equipped {
			continue
		}
		switch e.Template.Slot() {
		case item.SlotWeapon:
			if l.Weapon == nil {
				l.Weapon = e
			}
		case item.SlotArmor:
			if l.Armor == nil {
				l.Armor = e
			}
		case item.SlotHelmet:
			if l.Helmet == nil {
				l.Helmet = e
			}
		case item.SlotBackpack, item.SlotNone:
		}
	}
	return l, nil
}

// BestAmmo returns the compatible ammunition with the highest penetration,
// then the highest damage, or nil.
func (l *Loadout) BestAmmo(weaponName string) *Entry {
	var best *Entry
	for i := range l.Entries {
		e := &l.Entries[i]
		if !e.Template.Fits(weaponName) {
			continue
		}
		if best == nil || betterAmmo(e.Template, best.Template) {
			best = e
		}
	}
	return best
}

func betterAmmo(a, b *item.Template) bool {
	x, y := a.Kind.(item.Ammunition), b.Kind.(item.Ammunition)
	if x.Penetration != y.Penetration {
		return x.Penetration > y.Penetration
	}
	return x.Damage > y.Damage
}

// Matching returns the entries of templateName ordered by remaining
// durability, highest first.
func (l *Loadout) Matching(templateName string) []Entry {
	var out []Entry
	for _, e := range l.Entries {
		if e.Template.Name == templateName {
			out = append(out, e)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return durabilityOf(out[i].Item) > durabilityOf(out[j].Item)
	})
	return out
}

// BestKey returns the highest-durability instance of the key template, or nil.
func (l *Loadout) BestKey(templateName string) *Entry {
	keys := l.Matching(templateName)
	if len(keys) == 0 {
		return nil
	}
	return &keys[0]
}

// Len returns the number of items.
func (l *Loadout) Len() int {
	return len(l.Entries)
}

func durabilityOf(it model.ItemInstance) int {
	if it.Durability == nil {
		return 0
	}
	return *it.Durability
}
