// Package damage resolves a single hit: which body part it lands on, the part
// multiplier, and how much of the damage armor absorbs. It performs no I/O; the
// only input besides the stats is the random source.
package damage

import (
	"math"

	"github.com/cory-johannsen/raidbot/internal/game/dice"
)

// Protection describes a worn armor piece as seen by the damage model.
type Protection struct {
	// Level is the armor protection level (1..6).
	Level int
}

// Input carries every stat a hit depends on.
type Input struct {
	// BaseDamage is the weapon or ammunition damage before part and armor.
	BaseDamage int
	// Penetration is compared against the armor level.
	Penetration float64
	// Accuracy is the percent chance (0..100) of landing on Target.
	Accuracy int
	// Target is the requested body part; PartNone for an untargeted attack.
	Target Part
	// Armor is consulted on chest hits; nil when not worn.
	Armor *Protection
	// Helmet is consulted on head hits; nil when not worn.
	Helmet *Protection
	// SpreadLimbs, when > 1, splits the final damage across that many limbs
	// for reporting.
	SpreadLimbs int
}

// LimbShare is one limb's part of a spread hit.
type LimbShare struct {
	Part   Part
	Damage int
}

// Hit is the outcome of Resolve.
//
// Invariant: Final >= 0; Reduced >= 0; Missed implies Final == 0 and Reduced == 0.
type Hit struct {
	Final    int
	Reduced  int
	Part     Part
	Accurate bool
	// Missed is set when a targeted attack failed its accuracy roll. A missed
	// attack has no effect even if the drawn part happens to equal the target.
	Missed bool
	Limbs  []LimbShare
}

// Resolve computes the outcome of one hit.
//
// Draw order: a targeted attack first draws the accuracy roll, then draws a
// random part only if inaccurate; an untargeted attack draws the part only.
//
// Precondition: src must be non-nil; in.BaseDamage >= 0.
// Postcondition: Returns a Hit satisfying the Hit invariants.
func Resolve(src dice.Source, in Input) Hit {
	var hit Hit
	if in.Target != PartNone {
		hit.Accurate = dice.Percent(src) < in.Accuracy
		if hit.Accurate {
			hit.Part = in.Target
		} else {
			hit.Part = partForRoll(dice.Percent(src))
			hit.Missed = true
			return hit
		}
	} else {
		hit.Part = partForRoll(dice.Percent(src))
	}

	partDamage := int(math.Round(float64(in.BaseDamage) * hit.Part.Multiplier()))
	if partDamage < 0 {
		partDamage = 0
	}

	var armor *Protection
	switch hit.Part {
	case PartChest:
		armor = in.Armor
	case PartHead:
		armor = in.Helmet
	}
	if armor != nil {
		frac := ReductionFraction(armor.Level, in.Penetration)
		hit.Reduced = int(math.Round(float64(partDamage) * frac))
	}
	hit.Final = partDamage - hit.Reduced

	if in.SpreadLimbs > 1 {
		hit.Limbs = Spread(hit.Final, in.SpreadLimbs)
	}
	return hit
}

// ReductionFraction returns the share of damage absorbed by armor of the given
// level against the given penetration.
//
// Postcondition: result == 0 when penetration >= level; otherwise result is
// strictly increasing in (level - penetration) and always < 1.
func ReductionFraction(level int, penetration float64) float64 {
	gap := float64(level) - penetration
	if gap <= 0 {
		return 0
	}
	return gap / (gap + 1)
}

// Spread divides total evenly over n limbs, giving any remainder to the first
// limbs in spread order.
//
// Precondition: n >= 1; total >= 0.
// Postcondition: the shares sum to total.
func Spread(total, n int) []LimbShare {
	if n > len(spreadOrder) {
		n = len(spreadOrder)
	}
	shares := make([]LimbShare, n)
	base, rem := total/n, total%n
	for i := 0; i < n; i++ {
		d := base
		if i < rem {
			d++
		}
		shares[i] = LimbShare{Part: spreadOrder[i], Damage: d}
	}
	return shares
}

// WearsArmor reports whether a hit with the given penetration degrades armor of
// the given level. Penetration below half the level causes no wear.
func WearsArmor(level int, penetration float64) bool {
	return penetration >= float64(level)/2
}
