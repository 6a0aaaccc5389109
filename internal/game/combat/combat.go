// Package combat resolves attacks against NPCs and players inside a raid.
package combat

import (
	"time"

	"github.com/cory-johannsen/raidbot/internal/game/damage"
	"github.com/cory-johannsen/raidbot/internal/game/model"
	"github.com/cory-johannsen/raidbot/internal/game/npc"
	"github.com/cory-johannsen/raidbot/internal/game/progress"
	"github.com/cory-johannsen/raidbot/internal/scripting"
)

// CooldownAttack is the cooldown kind gating attacks.
const CooldownAttack = "attack"

// Kind distinguishes player targets from NPC targets.
type Kind int

const (
	KindNPC Kind = iota
	KindPlayer
)

// String returns the metric label of the kind.
func (k Kind) String() string {
	if k == KindPlayer {
		return "player"
	}
	return "npc"
}

// Request is one attack command.
type Request struct {
	ActorID   string
	ChannelID string
	// TargetPlayerID selects a player target; empty attacks the channel's NPC.
	TargetPlayerID string
	// Part is the aimed body part; damage.PartNone for an unaimed attack.
	Part damage.Part
}

// Wear reports durability spent on one item by an attack.
type Wear struct {
	Template  string
	Remaining int
	// Broken is set when the item reached zero durability and was deleted.
	Broken bool
}

// Strike is one resolved blow with its side effects on the defender.
type Strike struct {
	Hit damage.Hit
	// Armor is the defender's worn piece that absorbed the hit, nil when
	// nothing was worn down.
	Armor *Wear
	// Health is the defender's health after the blow, floored at zero.
	Health    int
	MaxHealth int
	Killed    bool
}

// Result is the outcome of a successful Attack.
type Result struct {
	Target Kind
	// TargetID is the NPC template id or the target player id.
	TargetID string
	Strike   Strike
	// Weapon reports wear on the actor's weapon. A thrown weapon is always
	// reported broken.
	Weapon Wear
	// Ammo names the ammunition spent, empty for weapons that use none.
	Ammo     string
	Cooldown time.Duration

	// Death is set when an NPC target was killed.
	Death *npc.Death
	// Dropped lists the items a killed player target spilled.
	Dropped []model.ItemInstance
	// Credit is the killer credit awarded, zero when nothing died.
	Credit progress.Outcome
	// Bonus is the scripted xp included in Credit.XP.
	Bonus int

	// Retaliation is set when a surviving NPC struck back.
	Retaliation *Retaliation
}

// Retaliation is an NPC's answer to an attack it survived.
type Retaliation struct {
	Strike Strike
	// Dropped lists the actor's items spilled when the retaliation killed
	// the actor.
	Dropped []model.ItemInstance
}

// Outcome returns the metric label of the attack.
func (r *Result) Outcome() string {
	switch {
	case r.Strike.Hit.Missed:
		return "miss"
	case r.Strike.Killed:
		return "kill"
	default:
		return "hit"
	}
}

// Bonuses awards scripted kill xp.
type Bonuses interface {
	KillBonus(hook string, k scripting.Kill) int
}

// Raids releases the raid timers of a player removed from a raid by death.
type Raids interface {
	Forget(playerID string)
}

// applyDamage lowers health by amount, flooring at zero, and reports whether
// the defender died.
//
// Precondition: amount >= 0.
func applyDamage(health *int, amount int) bool {
	*health -= amount
	if *health <= 0 {
		*health = 0
		return true
	}
	return false
}
