// Package loot implements rarity-tiered loot tables and the per-roll drop draw.
package loot

import (
	"fmt"

	"github.com/cory-johannsen/raidbot/internal/game/dice"
)

// Tier is a rarity tier of a loot table.
type Tier string

const (
	TierCommon   Tier = "common"
	TierUncommon Tier = "uncommon"
	TierRare     Tier = "rare"
	TierRarest   Tier = "rarest"
)

// Default band widths. Common takes whatever remains.
const (
	DefaultUncommonChance = 0.25
	DefaultRareChance     = 0.15
	DefaultRarestChance   = 0.05
)

// Pool is the candidate item list of one tier plus the XP it awards.
type Pool struct {
	Items []string `yaml:"items"`
	XP    int      `yaml:"xp"`
}

// Chances overrides the band widths of the non-common tiers.
type Chances struct {
	Uncommon float64 `yaml:"uncommon"`
	Rare     float64 `yaml:"rare"`
	Rarest   float64 `yaml:"rarest"`
}

// Table is a rarity-tiered loot configuration.
type Table struct {
	Common   Pool     `yaml:"common"`
	Uncommon Pool     `yaml:"uncommon"`
	Rare     Pool     `yaml:"rare"`
	Rarest   *Pool    `yaml:"rarest"`
	Rolls    int      `yaml:"rolls"`
	Chances  *Chances `yaml:"chances"`
}

// Band is one tier's slice of the unit interval: draws in [Lower, Upper) select Tier.
type Band struct {
	Tier  Tier
	Lower float64
	Upper float64
}

// Drop is the result of one successful roll.
type Drop struct {
	Tier Tier
	Item string
	XP   int
}

// Validate checks the table invariants.
//
// Postcondition: Returns nil iff Rolls >= 0, every chance is in [0, 1], and the
// non-common chances sum to at most 1.
func (t *Table) Validate() error {
	if t.Rolls < 0 {
		return fmt.Errorf("loot table: rolls must be >= 0, got %d", t.Rolls)
	}
	c := t.chances()
	for name, v := range map[string]float64{"uncommon": c.Uncommon, "rare": c.Rare, "rarest": c.Rarest} {
		if v < 0 || v > 1 {
			return fmt.Errorf("loot table: %s chance must be in [0, 1], got %f", name, v)
		}
	}
	total := c.Uncommon + c.Rare
	if t.Rarest != nil {
		total += c.Rarest
	}
	if total > 1 {
		return fmt.Errorf("loot table: tier chances sum to %f, must be <= 1", total)
	}
	return nil
}

func (t *Table) chances() Chances {
	if t.Chances != nil {
		return *t.Chances
	}
	return Chances{
		Uncommon: DefaultUncommonChance,
		Rare:     DefaultRareChance,
		Rarest:   DefaultRarestChance,
	}
}

// Bands returns the cumulative probability bands, rarest first. A table
// without a rarest tier folds that width into common.
//
// Precondition: t passed Validate.
// Postcondition: bands are contiguous, start at 0, and the last ends at 1.
func (t *Table) Bands() []Band {
	c := t.chances()
	var bands []Band
	lower := 0.0
	add := func(tier Tier, width float64) {
		bands = append(bands, Band{Tier: tier, Lower: lower, Upper: lower + width})
		lower += width
	}
	if t.Rarest != nil {
		add(TierRarest, c.Rarest)
	}
	add(TierRare, c.Rare)
	add(TierUncommon, c.Uncommon)
	bands = append(bands, Band{Tier: TierCommon, Lower: lower, Upper: 1})
	return bands
}

// Pool returns the pool for tier, or nil when the table has no such tier.
func (t *Table) Pool(tier Tier) *Pool {
	switch tier {
	case TierCommon:
		return &t.Common
	case TierUncommon:
		return &t.Uncommon
	case TierRare:
		return &t.Rare
	case TierRarest:
		return t.Rarest
	}
	return nil
}

// SelectTier returns the tier whose band contains draw.
//
// Precondition: 0 <= draw < 1.
func (t *Table) SelectTier(draw float64) Tier {
	for _, b := range t.Bands() {
		if draw < b.Upper {
			return b.Tier
		}
	}
	return TierCommon
}

// Roll performs one draw. An empty tier yields nothing; there is no fallback
// to another tier.
//
// Precondition: src must be non-nil; t passed Validate.
// Postcondition: ok is false iff the selected tier has no items.
func (t *Table) Roll(src dice.Source) (Drop, bool) {
	tier := t.SelectTier(dice.Unit(src))
	pool := t.Pool(tier)
	if pool == nil || len(pool.Items) == 0 {
		return Drop{}, false
	}
	return Drop{Tier: tier, Item: dice.Pick(src, pool.Items), XP: pool.XP}, true
}

// RollAll performs Rolls independent draws and returns the successful ones.
// Duplicate items across rolls are allowed.
//
// Postcondition: len(result) <= t.Rolls.
func (t *Table) RollAll(src dice.Source) []Drop {
	drops := make([]Drop, 0, t.Rolls)
	for i := 0; i < t.Rolls; i++ {
		if d, ok := t.Roll(src); ok {
			drops = append(drops, d)
		}
	}
	return drops
}

// Items returns every item name referenced by the table.
func (t *Table) Items() []string {
	var out []string
	for _, tier := range []Tier{TierCommon, TierUncommon, TierRare, TierRarest} {
		if p := t.Pool(tier); p != nil {
			out = append(out, p.Items...)
		}
	}
	return out
}
