package combat

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/cory-johannsen/raidbot/internal/game/damage"
	"github.com/cory-johannsen/raidbot/internal/game/inventory"
	"github.com/cory-johannsen/raidbot/internal/game/item"
	"github.com/cory-johannsen/raidbot/internal/game/location"
	"github.com/cory-johannsen/raidbot/internal/game/model"
	"github.com/cory-johannsen/raidbot/internal/game/npc"
	"github.com/cory-johannsen/raidbot/internal/game/progress"
	"github.com/cory-johannsen/raidbot/internal/scripting"
	"github.com/cory-johannsen/raidbot/internal/storage"
)

// resolve applies a validated attack inside tx.
//
// Precondition: sc was loaded by tx.
func (o *Orchestrator) resolve(ctx context.Context, tx storage.Tx, sc *scene, part damage.Part) (*Result, error) {
	out := &Result{Cooldown: sc.stats.FireRate}
	in := damage.Input{
		BaseDamage:  sc.stats.Damage,
		Penetration: sc.stats.Penetration,
		Accuracy:    sc.stats.Accuracy,
		Target:      part,
		SpreadLimbs: sc.stats.SpreadLimbs,
	}
	if sc.ammo != nil {
		k := sc.ammo.Template.Kind.(item.Ammunition)
		in.BaseDamage, in.Penetration, in.SpreadLimbs = k.Damage, k.Penetration, k.SpreadLimbs
	}
	if sc.target != nil {
		out.Target, out.TargetID = KindPlayer, sc.target.ID
		in.Armor, in.Helmet = protection(sc.targetLoadout)
	} else {
		out.Target, out.TargetID = KindNPC, sc.template.ID
		var err error
		if in.Armor, in.Helmet, err = o.NPCs.Protection(sc.template); err != nil {
			return nil, err
		}
	}
	out.Strike.Hit = damage.Resolve(o.Source, in)

	if sc.ammo != nil {
		if err := o.Items.Consume(ctx, tx, sc.ammo.Item); err != nil {
			return nil, err
		}
		out.Ammo = sc.ammo.Template.Name
	}
	out.Weapon.Template = sc.weapon.Template.Name
	if sc.stats.Consumed {
		if err := o.Items.Consume(ctx, tx, sc.weapon.Item); err != nil {
			return nil, err
		}
		out.Weapon.Broken = true
	} else {
		w, err := o.Items.Wear(ctx, tx, sc.weapon.Item, 1)
		if err != nil {
			return nil, err
		}
		out.Weapon.Remaining, out.Weapon.Broken = w.Remaining, w.Broken
	}
	if err := tx.SetCooldown(ctx, model.Cooldown{
		PlayerID:  sc.actor.ID,
		Kind:      CooldownAttack,
		ExpiresAt: o.Now().Add(sc.stats.FireRate),
	}); err != nil {
		return nil, fmt.Errorf("combat: setting cooldown: %w", err)
	}

	if sc.target != nil {
		if !out.Strike.Hit.Missed {
			var err error
			if out.Strike.Armor, err = o.wearArmor(ctx, tx, sc.targetLoadout, out.Strike.Hit.Part, in.Penetration); err != nil {
				return nil, err
			}
		}
		return out, o.hitPlayer(ctx, tx, sc, out)
	}
	return out, o.hitNPC(ctx, tx, sc, out)
}

// protection returns the equipped armor of a player loadout.
func protection(l *inventory.Loadout) (armor, helmet *damage.Protection) {
	level := func(e *inventory.Entry) *damage.Protection {
		if e == nil {
			return nil
		}
		lv, _ := e.Template.ArmorLevel()
		return &damage.Protection{Level: lv}
	}
	return level(l.Armor), level(l.Helmet)
}

// wearArmor spends one durability of the piece covering part when the
// penetration is high enough to wear it.
func (o *Orchestrator) wearArmor(ctx context.Context, tx storage.Tx, l *inventory.Loadout, part damage.Part, penetration float64) (*Wear, error) {
	var piece *inventory.Entry
	switch part {
	case damage.PartHead:
		piece = l.Helmet
	case damage.PartChest:
		piece = l.Armor
	case damage.PartNone, damage.PartArm, damage.PartLeg:
	}
	if piece == nil {
		return nil, nil
	}
	level, _ := piece.Template.ArmorLevel()
	if !damage.WearsArmor(level, penetration) {
		return nil, nil
	}
	w, err := o.Items.Wear(ctx, tx, piece.Item, 1)
	if err != nil {
		return nil, err
	}
	return &Wear{Template: piece.Template.Name, Remaining: w.Remaining, Broken: w.Broken}, nil
}

func (o *Orchestrator) hitNPC(ctx context.Context, tx storage.Tx, sc *scene, out *Result) error {
	n := sc.npc
	out.Strike.MaxHealth = sc.template.Health
	out.Strike.Killed = applyDamage(&n.Health, out.Strike.Hit.Final)
	out.Strike.Health = n.Health
	if !out.Strike.Killed {
		if err := tx.UpdateNPC(ctx, *n); err != nil {
			return fmt.Errorf("combat: damaging npc in %s: %w", n.ChannelID, err)
		}
		return o.retaliate(ctx, tx, sc, out)
	}

	death, err := o.NPCs.HandleDeath(ctx, tx, n)
	if err != nil {
		return err
	}
	out.Death = death
	kill := progress.KillNPC
	if sc.template.Kind == npc.KindBoss {
		kill = progress.KillBoss
	}
	out.Bonus = o.bonus(scripting.HookNPCKill, scripting.Kill{
		LocationID: sc.res.Location.ID,
		ChannelID:  n.ChannelID,
		KillerID:   sc.actor.ID,
		VictimID:   sc.template.ID,
		Boss:       kill == progress.KillBoss,
		Items:      len(death.Dropped),
		XP:         death.XP,
	})
	if out.Credit, err = progress.Credit(ctx, tx, sc.actor, sc.quests, kill, death.XP+out.Bonus); err != nil {
		return err
	}

	channelID, msg := n.ChannelID, fmt.Sprintf("%s killed the %s.", sc.actor.ID, sc.template.Display)
	tx.AfterCommit(func() {
		o.Logger.Info("npc killed",
			zap.String("channel", channelID),
			zap.String("template", sc.template.ID),
			zap.String("killer", sc.actor.ID),
			zap.Int("xp", out.Credit.XP),
		)
		o.send(channelID, msg)
	})
	return nil
}

func (o *Orchestrator) hitPlayer(ctx context.Context, tx storage.Tx, sc *scene, out *Result) error {
	victim := sc.target
	out.Strike.MaxHealth = victim.MaxHealth
	out.Strike.Killed = applyDamage(&victim.Health, out.Strike.Hit.Final)
	out.Strike.Health = victim.Health
	if !out.Strike.Killed {
		if err := tx.UpdatePlayer(ctx, victim); err != nil {
			return fmt.Errorf("combat: damaging %s: %w", victim.ID, err)
		}
		return nil
	}

	dropped, err := o.killPlayer(ctx, tx, sc.res, victim, sc.targetSession, "You were killed by "+sc.actor.ID)
	if err != nil {
		return err
	}
	out.Dropped = dropped
	xp := progress.PlayerKillXP(len(dropped))
	out.Bonus = o.bonus(scripting.HookPlayerKill, scripting.Kill{
		LocationID: sc.res.Location.ID,
		ChannelID:  sc.res.ID(),
		KillerID:   sc.actor.ID,
		VictimID:   victim.ID,
		Items:      len(dropped),
		XP:         xp,
	})
	if out.Credit, err = progress.Credit(ctx, tx, sc.actor, sc.quests, progress.KillPlayer, xp+out.Bonus); err != nil {
		return err
	}

	channelID, msg := sc.res.ID(), fmt.Sprintf("%s killed %s.", sc.actor.ID, victim.ID)
	tx.AfterCommit(func() { o.send(channelID, msg) })
	return nil
}

// retaliate lets a surviving NPC strike the actor at a random part.
// A retaliation kill awards no killer credit.
func (o *Orchestrator) retaliate(ctx context.Context, tx storage.Tx, sc *scene, out *Result) error {
	atk, err := o.NPCs.AttackOf(sc.template)
	if err != nil {
		return err
	}
	armor, helmet := protection(sc.loadout)
	r := &Retaliation{}
	r.Strike.Hit = damage.Resolve(o.Source, damage.Input{
		BaseDamage:  atk.Damage,
		Penetration: atk.Penetration,
		Armor:       armor,
		Helmet:      helmet,
		SpreadLimbs: atk.SpreadLimbs,
	})
	out.Retaliation = r
	if r.Strike.Armor, err = o.wearArmor(ctx, tx, sc.loadout, r.Strike.Hit.Part, atk.Penetration); err != nil {
		return err
	}

	actor := sc.actor
	r.Strike.MaxHealth = actor.MaxHealth
	r.Strike.Killed = applyDamage(&actor.Health, r.Strike.Hit.Final)
	r.Strike.Health = actor.Health
	if !r.Strike.Killed {
		if err := tx.UpdatePlayer(ctx, actor); err != nil {
			return fmt.Errorf("combat: damaging %s: %w", actor.ID, err)
		}
		return nil
	}
	r.Dropped, err = o.killPlayer(ctx, tx, sc.res, actor, sc.session, "You were killed by a "+sc.template.Display)
	return err
}

// killPlayer runs the player death path: the backpack spills onto the
// channel's ground, the death is recorded and the raid session ends. After
// commit the victim's raid timers are released and the victim is told and
// kicked.
//
// Precondition: victim and its session and backpack were locked by tx.
func (o *Orchestrator) killPlayer(ctx context.Context, tx storage.Tx, res location.Resolved, victim *model.Player, session *model.RaidSession, cause string) ([]model.ItemInstance, error) {
	backpack, err := tx.LockBackpack(ctx, victim.ID)
	if err != nil {
		return nil, err
	}
	moved, err := o.Items.SpillBackpack(ctx, tx, backpack, res.ID())
	if err != nil {
		return nil, err
	}
	if err := progress.Died(ctx, tx, victim); err != nil {
		return nil, err
	}
	if err := tx.DeleteSession(ctx, victim.ID); err != nil {
		return nil, fmt.Errorf("combat: ending raid of %s: %w", victim.ID, err)
	}

	playerID, instanceID, locationID := victim.ID, session.InstanceID, res.Location.ID
	msg := fmt.Sprintf("%s and dropped %d items in %s.", cause, len(moved), res.Channel.Name)
	tx.AfterCommit(func() {
		if o.Raids != nil {
			o.Raids.Forget(playerID)
		}
		o.Metrics.Raid("death", locationID)
		o.Logger.Info("player died",
			zap.String("player", playerID),
			zap.String("instance", instanceID),
			zap.Int("dropped", len(moved)),
		)
		o.expel(playerID, instanceID, msg)
	})
	return moved, nil
}

func (o *Orchestrator) bonus(hook string, k scripting.Kill) int {
	if o.Bonuses == nil {
		return 0
	}
	return o.Bonuses.KillBonus(hook, k)
}
