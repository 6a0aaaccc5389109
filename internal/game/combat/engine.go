package combat

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/cory-johannsen/raidbot/internal/game"
	"github.com/cory-johannsen/raidbot/internal/game/dice"
	"github.com/cory-johannsen/raidbot/internal/game/inventory"
	"github.com/cory-johannsen/raidbot/internal/game/item"
	"github.com/cory-johannsen/raidbot/internal/game/location"
	"github.com/cory-johannsen/raidbot/internal/game/model"
	"github.com/cory-johannsen/raidbot/internal/game/npc"
	"github.com/cory-johannsen/raidbot/internal/notify"
	"github.com/cory-johannsen/raidbot/internal/observability"
	"github.com/cory-johannsen/raidbot/internal/storage"
)

// Deps collects the collaborators of an Orchestrator.
type Deps struct {
	Store     storage.Store
	Locations *location.Registry
	Items     *inventory.Mutator
	NPCs      *npc.Lifecycle
	Notifier  notify.Notifier
	Source    dice.Source
	Logger    *zap.Logger
	// Raids may be nil when no raid timers exist.
	Raids Raids
	// Bonuses may be nil.
	Bonuses Bonuses
	// Metrics may be nil.
	Metrics *observability.Metrics
	// Now defaults to time.Now.
	Now func() time.Time
}

// Orchestrator runs attack commands.
type Orchestrator struct {
	Deps
}

// NewOrchestrator returns an Orchestrator.
//
// Precondition: every field of d except Raids, Bonuses, Metrics and Now must
// be set.
func NewOrchestrator(d Deps) *Orchestrator {
	if d.Now == nil {
		d.Now = time.Now
	}
	return &Orchestrator{Deps: d}
}

// scene is everything one attack reads, loaded under the transaction's locks.
type scene struct {
	res     location.Resolved
	actor   *model.Player
	session *model.RaidSession
	loadout *inventory.Loadout
	weapon  *inventory.Entry
	stats   item.WeaponStats
	ammo    *inventory.Entry
	quests  []model.Quest

	target        *model.Player
	targetSession *model.RaidSession
	targetLoadout *inventory.Loadout

	npc      *model.NPC
	template *npc.Template
}

// Attack resolves one attack of req.ActorID in req.ChannelID.
//
// Preconditions are checked in a read pass that never mutates; any failure
// there is a validation rejection. The attack then runs in one transaction
// that locks every row it touches and re-checks the preconditions. A
// precondition that no longer holds under the locks, or a store conflict,
// yields a retryable rejection and nothing is written.
//
// Postcondition: notifications and timers take effect only after commit.
func (o *Orchestrator) Attack(ctx context.Context, req Request) (*Result, error) {
	defer o.Metrics.ObserveCommand("attack", time.Now())
	out, err := o.attack(ctx, req)
	if err != nil {
		o.failed(req, err)
		return nil, err
	}
	o.Metrics.Attack(out.Target.String(), out.Outcome())
	return out, nil
}

func (o *Orchestrator) attack(ctx context.Context, req Request) (*Result, error) {
	tx, err := o.Store.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("combat: begin: %w", err)
	}
	_, err = o.load(ctx, tx, req, o.Now())
	_ = tx.Rollback(ctx)
	if err != nil {
		return nil, raceLost(err)
	}

	var out *Result
	err = storage.WithTx(ctx, o.Store, func(tx storage.Tx) error {
		sc, err := o.load(ctx, tx, req, o.Now())
		if r, ok := game.AsRejection(err); ok {
			return game.RaceLost(r.Code, "%s", r.Message)
		}
		if err != nil {
			return err
		}
		out, err = o.resolve(ctx, tx, sc, req.Part)
		return err
	})
	if err != nil {
		return nil, raceLost(err)
	}
	return out, nil
}

// raceLost turns a store conflict into a retryable rejection.
func raceLost(err error) error {
	if errors.Is(err, storage.ErrConflict) {
		return game.RaceLost(game.CodeConflict, "Someone else acted first, try again.")
	}
	return err
}

func (o *Orchestrator) failed(req Request, err error) {
	if r, ok := game.AsRejection(err); ok {
		o.Metrics.Rejected("attack", string(r.Code))
		o.Logger.Debug("attack rejected",
			zap.String("actor", req.ActorID),
			zap.String("channel", req.ChannelID),
			zap.String("code", string(r.Code)),
			zap.Bool("retryable", r.Retryable),
		)
		return
	}
	o.Logger.Error("attack failed",
		zap.String("actor", req.ActorID),
		zap.String("channel", req.ChannelID),
		zap.Error(err),
	)
}

// lockPlayers locks the actor and, for a player attack, the target in
// ascending id order. A missing player is reported by a nil map entry.
func lockPlayers(ctx context.Context, tx storage.Tx, ids []string) (map[string]*model.Player, error) {
	players, err := tx.LockPlayers(ctx, ids...)
	if err == nil || !errors.Is(err, storage.ErrNotFound) {
		return players, err
	}
	sorted := append([]string(nil), ids...)
	sort.Strings(sorted)
	players = make(map[string]*model.Player, len(ids))
	for _, id := range sorted {
		p, err := tx.LockPlayer(ctx, id)
		if errors.Is(err, storage.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		players[id] = p
	}
	return players, nil
}

// load locks and reads every row of the attack in lock order and checks the
// preconditions in command order: raid membership, cooldown, weapon, ammo,
// target.
func (o *Orchestrator) load(ctx context.Context, tx storage.Tx, req Request, now time.Time) (*scene, error) {
	self := req.TargetPlayerID != "" && req.TargetPlayerID == req.ActorID
	pvp := req.TargetPlayerID != "" && !self

	ids := []string{req.ActorID}
	if pvp {
		ids = append(ids, req.TargetPlayerID)
	}
	players, err := lockPlayers(ctx, tx, ids)
	if err != nil {
		return nil, err
	}
	sc := &scene{actor: players[req.ActorID]}
	if sc.actor == nil {
		return nil, game.Reject(game.CodeNotInRaid, "You are not in a raid.")
	}

	sc.session, err = tx.LockSession(ctx, req.ActorID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, game.Reject(game.CodeNotInRaid, "You are not in a raid.")
	}
	if err != nil {
		return nil, err
	}
	res, ok := o.Locations.Resolve(req.ChannelID)
	if !ok || res.Instance != sc.session.InstanceID {
		return nil, game.Reject(game.CodeWrongChannel, "You can only fight inside your own raid.")
	}
	sc.res = res

	if pvp {
		if sc.target = players[req.TargetPlayerID]; sc.target != nil {
			sc.targetSession, err = tx.LockSession(ctx, req.TargetPlayerID)
			if err != nil && !errors.Is(err, storage.ErrNotFound) {
				return nil, err
			}
		}
	}

	cd, err := tx.LockCooldown(ctx, req.ActorID, CooldownAttack)
	switch {
	case err == nil:
		if cd.Active(now) {
			return nil, game.Reject(game.CodeCooldown, "You can attack again in %s.", remaining(cd.ExpiresAt.Sub(now)))
		}
	case !errors.Is(err, storage.ErrNotFound):
		return nil, err
	}

	backpack, err := tx.LockBackpack(ctx, req.ActorID)
	if err != nil {
		return nil, err
	}
	if sc.loadout, err = o.Items.Loadout(backpack); err != nil {
		return nil, err
	}
	if sc.weapon = sc.loadout.Weapon; sc.weapon == nil {
		return nil, game.Reject(game.CodeNoWeapon, "You have no weapon equipped.")
	}
	sc.stats, _ = sc.weapon.Template.Weapon()
	if sc.stats.Ranged {
		if sc.ammo = sc.loadout.BestAmmo(sc.weapon.Template.Name); sc.ammo == nil {
			return nil, game.Reject(game.CodeNoAmmo, "You have no ammunition for your %s.", sc.weapon.Template.Name)
		}
	}

	if sc.target != nil {
		tb, err := tx.LockBackpack(ctx, sc.target.ID)
		if err != nil {
			return nil, err
		}
		if sc.targetLoadout, err = o.Items.Loadout(tb); err != nil {
			return nil, err
		}
	}
	if sc.quests, err = tx.LockQuests(ctx, req.ActorID); err != nil {
		return nil, err
	}

	switch {
	case self:
		return nil, game.Reject(game.CodeSelfTarget, "You cannot attack yourself.")
	case pvp:
		if sc.target == nil || sc.targetSession == nil || sc.targetSession.InstanceID != sc.session.InstanceID {
			return nil, game.Reject(game.CodeTargetNotFound, "%s is not in your raid.", req.TargetPlayerID)
		}
	default:
		sc.npc, err = tx.LockNPC(ctx, req.ChannelID)
		if errors.Is(err, storage.ErrNotFound) {
			return nil, game.Reject(game.CodeTargetNotFound, "There is nothing to attack here.")
		}
		if err != nil {
			return nil, err
		}
		if sc.template, err = o.NPCs.Template(sc.npc.TemplateID); err != nil {
			return nil, err
		}
	}
	return sc, nil
}

// remaining rounds a cooldown up to whole seconds.
func remaining(d time.Duration) time.Duration {
	return ((d + time.Second - 1) / time.Second) * time.Second
}

// send posts msg to a channel, logging failures.
func (o *Orchestrator) send(channelID, msg string) {
	if err := o.Notifier.Send(context.Background(), channelID, msg); err != nil {
		o.notifyFailed(notify.KindMessage, err)
	}
}

// expel tells a dead player why and removes them from the raid instance.
func (o *Orchestrator) expel(playerID, instanceID, msg string) {
	ctx := context.Background()
	if err := o.Notifier.Direct(ctx, playerID, msg); err != nil {
		o.notifyFailed(notify.KindDirect, err)
	}
	if err := o.Notifier.Kick(ctx, playerID, instanceID, "killed"); err != nil {
		o.notifyFailed(notify.KindKick, err)
	}
}

func (o *Orchestrator) notifyFailed(kind notify.Kind, err error) {
	o.Metrics.NotificationFailed(string(kind))
	o.Logger.Warn("combat notification failed", zap.String("kind", string(kind)), zap.Error(err))
}
