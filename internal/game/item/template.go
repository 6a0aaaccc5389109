// Package item defines the static item templates of the game as a closed
// tagged variant: every Template carries exactly one Kind payload, and all
// behavior that depends on the item type dispatches with a type switch over
// the payload.
package item

import (
	"errors"
	"fmt"
	"time"

	"gopkg.in/yaml.v3"
)

// Type names used in content files.
const (
	TypeRangedWeapon    = "ranged_weapon"
	TypeMeleeWeapon     = "melee_weapon"
	TypeThrowableWeapon = "throwable_weapon"
	TypeBodyArmor       = "body_armor"
	TypeHelmet          = "helmet"
	TypeAmmunition      = "ammunition"
	TypeMedical         = "medical"
	TypeStimulant       = "stimulant"
	TypeBackpack        = "backpack"
	TypeKey             = "key"
	TypeCollectible     = "collectible"
	TypeFood            = "food"
)

// Kind is the variant payload of a Template. The interface is sealed: only
// the payload types in this package implement it.
type Kind interface {
	TypeName() string
	sealed()
}

// RangedWeapon fires Ammunition; damage and penetration come from the ammo.
type RangedWeapon struct {
	Accuracy   int
	Durability int
	FireRate   time.Duration
}

// MeleeWeapon deals its own damage.
type MeleeWeapon struct {
	Damage      int
	Penetration float64
	Accuracy    int
	Durability  int
	FireRate    time.Duration
}

// ThrowableWeapon is used up by a single attack.
type ThrowableWeapon struct {
	Damage      int
	Penetration float64
	Accuracy    int
	SpreadLimbs int
	FireRate    time.Duration
}

// BodyArmor protects the chest.
type BodyArmor struct {
	Level      int
	Durability int
}

// Helmet protects the head.
type Helmet struct {
	Level      int
	Durability int
}

// Ammunition fits the ranged weapons named in AmmoFor.
type Ammunition struct {
	Damage      int
	Penetration float64
	AmmoFor     []string
	SpreadLimbs int
}

// Medical restores health.
type Medical struct {
	Heals      int
	Durability int
}

// Stimulant is a consumable boost.
type Stimulant struct{}

// Backpack adds carrying slots.
type Backpack struct {
	Slots int
}

// Key opens evac points and locked channels.
type Key struct {
	Durability int
}

// Collectible has no combat use.
type Collectible struct{}

// Food is a consumable.
type Food struct{}

func (RangedWeapon) TypeName() string    { return TypeRangedWeapon }
func (MeleeWeapon) TypeName() string     { return TypeMeleeWeapon }
func (ThrowableWeapon) TypeName() string { return TypeThrowableWeapon }
func (BodyArmor) TypeName() string       { return TypeBodyArmor }
func (Helmet) TypeName() string          { return TypeHelmet }
func (Ammunition) TypeName() string      { return TypeAmmunition }
func (Medical) TypeName() string         { return TypeMedical }
func (Stimulant) TypeName() string       { return TypeStimulant }
func (Backpack) TypeName() string        { return TypeBackpack }
func (Key) TypeName() string             { return TypeKey }
func (Collectible) TypeName() string     { return TypeCollectible }
func (Food) TypeName() string            { return TypeFood }

func (RangedWeapon) sealed()    {}
func (MeleeWeapon) sealed()     {}
func (ThrowableWeapon) sealed() {}
func (BodyArmor) sealed()       {}
func (Helmet) sealed()          {}
func (Ammunition) sealed()      {}
func (Medical) sealed()         {}
func (Stimulant) sealed()       {}
func (Backpack) sealed()        {}
func (Key) sealed()             {}
func (Collectible) sealed()     {}
func (Food) sealed()            {}

// Template is an immutable item definition.
type Template struct {
	Name        string
	Aliases     []string
	Description string
	SlotsUsed   int
	ItemLevel   int
	Kind        Kind
}

// rawTemplate is the flat content-file form of a Template.
type rawTemplate struct {
	Name        string   `yaml:"name"`
	Type        string   `yaml:"type"`
	Aliases     []string `yaml:"aliases"`
	Description string   `yaml:"description"`
	SlotsUsed   int      `yaml:"slots_used"`
	ItemLevel   int      `yaml:"item_level"`
	Damage      int      `yaml:"damage"`
	Penetration float64  `yaml:"penetration"`
	Accuracy    int      `yaml:"accuracy"`
	Durability  int      `yaml:"durability"`
	FireRate    int      `yaml:"fire_rate"`
	Level       int      `yaml:"level"`
	AmmoFor     []string `yaml:"ammo_for"`
	SpreadLimbs int      `yaml:"spreads_damage_to_limbs"`
	Heals       int      `yaml:"heals"`
	Slots       int      `yaml:"slots"`
}

// UnmarshalYAML decodes the flat content form and builds the variant payload
// selected by the type field.
func (t *Template) UnmarshalYAML(node *yaml.Node) error {
	var raw rawTemplate
	if err := node.Decode(&raw); err != nil {
		return err
	}
	fireRate := time.Duration(raw.FireRate) * time.Second

	var kind Kind
	switch raw.Type {
	case TypeRangedWeapon:
		kind = RangedWeapon{Accuracy: raw.Accuracy, Durability: raw.Durability, FireRate: fireRate}
	case TypeMeleeWeapon:
		kind = MeleeWeapon{Damage: raw.Damage, Penetration: raw.Penetration, Accuracy: raw.Accuracy, Durability: raw.Durability, FireRate: fireRate}
	case TypeThrowableWeapon:
		kind = ThrowableWeapon{Damage: raw.Damage, Penetration: raw.Penetration, Accuracy: raw.Accuracy, SpreadLimbs: raw.SpreadLimbs, FireRate: fireRate}
	case TypeBodyArmor:
		kind = BodyArmor{Level: raw.Level, Durability: raw.Durability}
	case TypeHelmet:
		kind = Helmet{Level: raw.Level, Durability: raw.Durability}
	case TypeAmmunition:
		kind = Ammunition{Damage: raw.Damage, Penetration: raw.Penetration, AmmoFor: raw.AmmoFor, SpreadLimbs: raw.SpreadLimbs}
	case TypeMedical:
		kind = Medical{Heals: raw.Heals, Durability: raw.Durability}
	case TypeStimulant:
		kind = Stimulant{}
	case TypeBackpack:
		kind = Backpack{Slots: raw.Slots}
	case TypeKey:
		kind = Key{Durability: raw.Durability}
	case TypeCollectible:
		kind = Collectible{}
	case TypeFood:
		kind = Food{}
	default:
		return fmt.Errorf("item %q: unknown type %q", raw.Name, raw.Type)
	}

	*t = Template{
		Name:        raw.Name,
		Aliases:     raw.Aliases,
		Description: raw.Description,
		SlotsUsed:   raw.SlotsUsed,
		ItemLevel:   raw.ItemLevel,
		Kind:        kind,
	}
	return nil
}

// Validate checks the template invariants.
//
// Postcondition: Returns nil iff the name is set, slots are non-negative, and
// the payload's numeric fields are in range.
func (t *Template) Validate() error {
	var errs []error
	if t.Name == "" {
		errs = append(errs, errors.New("name must not be empty"))
	}
	if t.SlotsUsed < 0 {
		errs = append(errs, errors.New("slots_used must be >= 0"))
	}
	if t.Kind == nil {
		errs = append(errs, errors.New("type must be set"))
	}
	checkAccuracy := func(a int) {
		if a < 0 || a > 100 {
			errs = append(errs, fmt.Errorf("accuracy must be 0-100, got %d", a))
		}
	}
	checkDurability := func(d int) {
		if d < 1 {
			errs = append(errs, fmt.Errorf("durability must be >= 1, got %d", d))
		}
	}
	checkLevel := func(l int) {
		if l < 1 || l > 6 {
			errs = append(errs, fmt.Errorf("level must be 1-6, got %d", l))
		}
	}
	switch k := t.Kind.(type) {
	case RangedWeapon:
		checkAccuracy(k.Accuracy)
		checkDurability(k.Durability)
	case MeleeWeapon:
		checkAccuracy(k.Accuracy)
		checkDurability(k.Durability)
	case ThrowableWeapon:
		checkAccuracy(k.Accuracy)
	case BodyArmor:
		checkLevel(k.Level)
		checkDurability(k.Durability)
	case Helmet:
		checkLevel(k.Level)
		checkDurability(k.Durability)
	case Ammunition:
		if len(k.AmmoFor) == 0 {
			errs = append(errs, errors.New("ammo_for must name at least one weapon"))
		}
	case Key:
		checkDurability(k.Durability)
	case Medical, Stimulant, Backpack, Collectible, Food, nil:
	}
	if len(errs) > 0 {
		return fmt.Errorf("item %q validation failed: %v", t.Name, errs)
	}
	return nil
}

// MaxDurability returns the durability capacity of the template and whether it
// tracks durability at all.
func (t *Template) MaxDurability() (int, bool) {
	switch k := t.Kind.(type) {
	case RangedWeapon:
		return k.Durability, true
	case MeleeWeapon:
		return k.Durability, true
	case ThrowableWeapon:
		return 1, true
	case BodyArmor:
		return k.Durability, true
	case Helmet:
		return k.Durability, true
	case Key:
		return k.Durability, true
	case Medical:
		return k.Durability, k.Durability > 0
	case Ammunition, Stimulant, Backpack, Collectible, Food:
		return 0, false
	}
	panic(fmt.Sprintf("item: unhandled kind %T", t.Kind))
}

// Slot is the equipment slot an item occupies when equipped.
type Slot string

const (
	SlotNone     Slot = ""
	SlotWeapon   Slot = "weapon"
	SlotArmor    Slot = "armor"
	SlotHelmet   Slot = "helmet"
	SlotBackpack Slot = "backpack"
)

// Slot returns the equipment slot of the template.
func (t *Template) Slot() Slot {
	switch t.Kind.(type) {
	case RangedWeapon, MeleeWeapon, ThrowableWeapon:
		return SlotWeapon
	case BodyArmor:
		return SlotArmor
	case Helmet:
		return SlotHelmet
	case Backpack:
		return SlotBackpack
	case Ammunition, Medical, Stimulant, Key, Collectible, Food:
		return SlotNone
	}
	panic(fmt.Sprintf("item: unhandled kind %T", t.Kind))
}

// WeaponStats is the combat view of an equipped weapon.
type WeaponStats struct {
	// Ranged weapons draw Damage, Penetration and SpreadLimbs from ammunition.
	Ranged      bool
	Damage      int
	Penetration float64
	Accuracy    int
	SpreadLimbs int
	FireRate    time.Duration
	// Consumed is set for weapons used up by the attack itself.
	Consumed bool
}

// Weapon returns the combat stats of a weapon template.
//
// Postcondition: ok is false for every non-weapon kind.
func (t *Template) Weapon() (WeaponStats, bool) {
	switch k := t.Kind.(type) {
	case RangedWeapon:
		return WeaponStats{Ranged: true, Accuracy: k.Accuracy, FireRate: k.FireRate}, true
	case MeleeWeapon:
		return WeaponStats{Damage: k.Damage, Penetration: k.Penetration, Accuracy: k.Accuracy, FireRate: k.FireRate}, true
	case ThrowableWeapon:
		return WeaponStats{
			Damage: k.Damage, Penetration: k.Penetration, Accuracy: k.Accuracy,
			SpreadLimbs: k.SpreadLimbs, FireRate: k.FireRate, Consumed: true,
		}, true
	case BodyArmor, Helmet, Ammunition, Medical, Stimulant, Backpack, Key, Collectible, Food:
		return WeaponStats{}, false
	}
	panic(fmt.Sprintf("item: unhandled kind %T", t.Kind))
}

// ArmorLevel returns the protection level of armor and helmet templates.
func (t *Template) ArmorLevel() (int, bool) {
	switch k := t.Kind.(type) {
	case BodyArmor:
		return k.Level, true
	case Helmet:
		return k.Level, true
	case RangedWeapon, MeleeWeapon, ThrowableWeapon, Ammunition, Medical, Stimulant, Backpack, Key, Collectible, Food:
		return 0, false
	}
	panic(fmt.Sprintf("item: unhandled kind %T", t.Kind))
}

// Fits reports whether ammunition template t can be fired from weaponName.
func (t *Template) Fits(weaponName string) bool {
	ammo, ok := t.Kind.(Ammunition)
	if !ok {
		return false
	}
	for _, w := range ammo.AmmoFor {
		if w == weaponName {
			return true
		}
	}
	return false
}
