package damage

import (
	"fmt"
	"strings"
)

// Part is a body part an attack can land on.
type Part int

const (
	// PartNone marks an untargeted attack.
	PartNone Part = iota
	PartHead
	PartChest
	PartArm
	PartLeg
)

// String returns the lower-case part name.
func (p Part) String() string {
	switch p {
	case PartHead:
		return "head"
	case PartChest:
		return "chest"
	case PartArm:
		return "arm"
	case PartLeg:
		return "leg"
	default:
		return "none"
	}
}

// Multiplier returns the damage multiplier applied to base damage for hits on p.
func (p Part) Multiplier() float64 {
	switch p {
	case PartHead:
		return 1.5
	case PartChest:
		return 1.0
	case PartArm, PartLeg:
		return 0.5
	default:
		return 0
	}
}

// ParsePart converts a part name to a Part. The empty string yields PartNone.
//
// Postcondition: Returns an error for any name other than "", head, chest, arm, leg.
func ParsePart(name string) (Part, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "":
		return PartNone, nil
	case "head":
		return PartHead, nil
	case "chest":
		return PartChest, nil
	case "arm", "arms":
		return PartArm, nil
	case "leg", "legs":
		return PartLeg, nil
	}
	return PartNone, fmt.Errorf("unknown body part %q", name)
}

// partWeight is one entry of the untargeted hit distribution, in percent.
type partWeight struct {
	part   Part
	weight int
}

// hitDistribution is the fixed distribution for untargeted hits. Weights sum to 100.
var hitDistribution = []partWeight{
	{PartHead, 10},
	{PartChest, 50},
	{PartArm, 20},
	{PartLeg, 20},
}

// partForRoll maps a percent roll in [0, 100) onto hitDistribution.
func partForRoll(roll int) Part {
	acc := 0
	for _, pw := range hitDistribution {
		acc += pw.weight
		if roll < acc {
			return pw.part
		}
	}
	return PartLeg
}

// spreadOrder is the order limbs receive shares of spread damage.
var spreadOrder = []Part{PartChest, PartArm, PartLeg, PartHead}
