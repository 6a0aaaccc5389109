package npc

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/cory-johannsen/raidbot/internal/game"
	"github.com/cory-johannsen/raidbot/internal/game/damage"
	"github.com/cory-johannsen/raidbot/internal/game/dice"
	"github.com/cory-johannsen/raidbot/internal/game/inventory"
	"github.com/cory-johannsen/raidbot/internal/game/item"
	"github.com/cory-johannsen/raidbot/internal/game/location"
	"github.com/cory-johannsen/raidbot/internal/game/loot"
	"github.com/cory-johannsen/raidbot/internal/game/model"
	"github.com/cory-johannsen/raidbot/internal/game/schedule"
	"github.com/cory-johannsen/raidbot/internal/notify"
	"github.com/cory-johannsen/raidbot/internal/observability"
	"github.com/cory-johannsen/raidbot/internal/storage"
)

// DefaultPresenceInterval is how often a live NPC announces itself.
const DefaultPresenceInterval = 2 * time.Minute

// RespawnKey is the scheduler key of a channel's respawn timer.
func RespawnKey(channelID string) string {
	return "npc:respawn:" + channelID
}

// PresenceKey is the scheduler key of a channel's presence announcement.
func PresenceKey(channelID string) string {
	return "npc:presence:" + channelID
}

// Deps collects the collaborators of a Lifecycle.
type Deps struct {
	Store     storage.Store
	Templates *Registry
	Locations *location.Registry
	Items     *inventory.Mutator
	Scheduler schedule.Scheduler
	Notifier  notify.Notifier
	Source    dice.Source
	Logger    *zap.Logger
	// Metrics may be nil.
	Metrics *observability.Metrics
	// PresenceInterval defaults to DefaultPresenceInterval.
	PresenceInterval time.Duration
	// Now defaults to time.Now.
	Now func() time.Time
}

// Lifecycle owns NPC existence per channel.
//
// States: Absent (respawn pending) → Spawned → Dead → Absent. The store
// enforces at most one NPC per channel; the scheduler holds at most one
// respawn timer per channel.
type Lifecycle struct {
	Deps
}

// NewLifecycle returns a Lifecycle.
//
// Precondition: every field of d except Metrics, PresenceInterval and Now
// must be set.
func NewLifecycle(d Deps) *Lifecycle {
	if d.PresenceInterval <= 0 {
		d.PresenceInterval = DefaultPresenceInterval
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	return &Lifecycle{Deps: d}
}

// Template resolves the template of a live NPC.
//
// Postcondition: returns a game.ErrInvariant error for an unknown id.
func (l *Lifecycle) Template(id string) (*Template, error) {
	t, ok := l.Templates.Get(id)
	if !ok {
		return nil, game.Invariantf("npc: unknown template %q", id)
	}
	return t, nil
}

func (l *Lifecycle) spawnChannel(channelID string) (location.Resolved, error) {
	res, ok := l.Locations.Resolve(channelID)
	if !ok {
		return location.Resolved{}, game.Invariantf("npc: unknown channel %q", channelID)
	}
	if res.Channel.NPCSpawns == nil || len(res.Channel.NPCSpawns.NPCs) == 0 {
		return location.Resolved{}, game.Invariantf("npc: channel %q does not spawn npcs", channelID)
	}
	return res, nil
}

// Spawn places a fresh NPC in channelID unless one is already present. The
// template is drawn uniformly from the channel's spawn list.
//
// Postcondition: when spawned is true the NPC has full health and its
// presence announcement is armed.
func (l *Lifecycle) Spawn(ctx context.Context, channelID string) (n *model.NPC, spawned bool, err error) {
	res, err := l.spawnChannel(channelID)
	if err != nil {
		return nil, false, err
	}
	tmpl, err := l.Template(dice.Pick(l.Source, res.Channel.NPCSpawns.NPCs))
	if err != nil {
		return nil, false, err
	}
	rec := model.NPC{ChannelID: channelID, TemplateID: tmpl.ID, Health: tmpl.Health, SpawnedAt: l.Now()}

	err = storage.WithTx(ctx, l.Store, func(tx storage.Tx) error {
		ok, err := tx.InsertNPC(ctx, rec)
		if err != nil {
			return err
		}
		spawned = ok
		if ok {
			tx.AfterCommit(func() {
				l.Scheduler.Cancel(RespawnKey(channelID))
				l.Metrics.Spawned()
				l.Logger.Info("npc spawned",
					zap.String("channel", channelID),
					zap.String("template", tmpl.ID),
				)
				l.announce(channelID)
			})
		}
		return nil
	})
	if err != nil {
		return nil, false, fmt.Errorf("npc: spawning in %s: %w", channelID, err)
	}
	if !spawned {
		return nil, false, nil
	}
	return &rec, true, nil
}

// announce posts the presence message of the channel's NPC and re-arms
// itself. It stops once the channel is empty.
func (l *Lifecycle) announce(channelID string) {
	ctx := context.Background()
	n, err := l.Store.NPC(ctx, channelID)
	if errors.Is(err, storage.ErrNotFound) {
		return
	}
	if err != nil {
		l.Logger.Warn("presence lookup failed", zap.String("channel", channelID), zap.Error(err))
		return
	}
	tmpl, err := l.Template(n.TemplateID)
	if err != nil {
		l.Logger.Error("presence template lookup failed", zap.String("channel", channelID), zap.Error(err))
		return
	}
	msg := fmt.Sprintf("A %s is in this area with %d/%d health.", tmpl.Display, n.Health, tmpl.Health)
	if len(tmpl.Quotes) > 0 {
		msg = fmt.Sprintf("%s %q", msg, dice.Pick(l.Source, tmpl.Quotes))
	}
	if err := l.Notifier.Send(ctx, channelID, msg); err != nil {
		l.Metrics.NotificationFailed(string(notify.KindMessage))
		l.Logger.Warn("presence announcement failed", zap.String("channel", channelID), zap.Error(err))
	}
	l.Scheduler.ScheduleOnce(PresenceKey(channelID), l.PresenceInterval, func() { l.announce(channelID) })
}

// Death is the outcome of HandleDeath.
type Death struct {
	Template *Template
	// Dropped lists every item placed on the ground, equipment first.
	Dropped []model.ItemInstance
	// Loot lists the successful loot-table draws.
	Loot []loot.Drop
	// XP is the template xp plus the xp of every loot tier drawn.
	XP int
}

// HandleDeath performs the Dead transition inside the caller's transaction:
// equipment and loot drops go to the channel's ground with partial
// durability, the NPC row is deleted, and on commit the presence
// announcement stops and the respawn timer is armed.
//
// Precondition: n was locked by tx.
// Postcondition: nothing is observable unless tx commits.
func (l *Lifecycle) HandleDeath(ctx context.Context, tx storage.Tx, n *model.NPC) (*Death, error) {
	tmpl, err := l.Template(n.TemplateID)
	if err != nil {
		return nil, err
	}
	d := &Death{Template: tmpl, XP: tmpl.XP}
	ground := inventory.OnGround(n.ChannelID)

	drop := func(name string, partial bool) error {
		t, ok := l.Items.Items().Get(name)
		if !ok {
			return game.Invariantf("npc %q: unknown item %q", tmpl.ID, name)
		}
		var dur *int
		if max, tracked := t.MaxDurability(); tracked && partial {
			dur = model.IntPtr(inventory.RandomDurability(l.Source, max))
		}
		it, err := l.Items.Create(ctx, tx, name, dur, ground)
		if err != nil {
			return err
		}
		d.Dropped = append(d.Dropped, it)
		return nil
	}

	if tmpl.Armor != "" {
		if err := drop(tmpl.Armor, true); err != nil {
			return nil, err
		}
	}
	if tmpl.Helmet != "" {
		if err := drop(tmpl.Helmet, true); err != nil {
			return nil, err
		}
	}
	if tmpl.CarriesWeapon() {
		if tmpl.Ammo != "" {
			for i, count := 0, dice.Between(l.Source, 1, 3); i < count; i++ {
				if err := drop(tmpl.Ammo, false); err != nil {
					return nil, err
				}
			}
		}
		if err := drop(tmpl.Weapon, true); err != nil {
			return nil, err
		}
	}
	d.Loot = tmpl.Drops.RollAll(l.Source)
	for _, ld := range d.Loot {
		if err := drop(ld.Item, true); err != nil {
			return nil, err
		}
		d.XP += ld.XP
	}

	if err := tx.DeleteNPC(ctx, n.ChannelID); err != nil {
		return nil, fmt.Errorf("npc: deleting %s: %w", n.ChannelID, err)
	}
	channelID := n.ChannelID
	tx.AfterCommit(func() {
		l.Scheduler.Cancel(PresenceKey(channelID))
		l.Metrics.Killed(tmpl.ID)
		if err := l.ScheduleRespawn(channelID); err != nil {
			l.Logger.Error("arming respawn failed", zap.String("channel", channelID), zap.Error(err))
		}
	})
	return d, nil
}

// ScheduleRespawn arms the channel's respawn timer with a delay drawn
// uniformly from the channel's cooldown window, replacing any pending one.
func (l *Lifecycle) ScheduleRespawn(channelID string) error {
	res, err := l.spawnChannel(channelID)
	if err != nil {
		return err
	}
	lo, hi := res.Channel.NPCSpawns.Window()
	delay := time.Duration(dice.Between(l.Source, int(lo/time.Second), int(hi/time.Second))) * time.Second
	l.Scheduler.ScheduleOnce(RespawnKey(channelID), delay, func() {
		if _, _, err := l.Spawn(context.Background(), channelID); err != nil {
			l.Logger.Error("respawn failed", zap.String("channel", channelID), zap.Error(err))
		}
	})
	l.Logger.Debug("respawn scheduled", zap.String("channel", channelID), zap.Duration("delay", delay))
	return nil
}

// Reset clears the channel: the NPC, if any, is removed without drops, its
// presence announcement stops, and the respawn timer restarts. It serves
// resets requested from outside the engine, such as the chat platform
// recreating the channel.
func (l *Lifecycle) Reset(ctx context.Context, channelID string) error {
	if _, err := l.spawnChannel(channelID); err != nil {
		return err
	}
	err := storage.WithTx(ctx, l.Store, func(tx storage.Tx) error {
		_, err := tx.LockNPC(ctx, channelID)
		if errors.Is(err, storage.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		return tx.DeleteNPC(ctx, channelID)
	})
	if err != nil {
		return fmt.Errorf("npc: resetting %s: %w", channelID, err)
	}
	l.Scheduler.Cancel(PresenceKey(channelID))
	return l.ScheduleRespawn(channelID)
}

// Bootstrap spawns an NPC into every empty spawn channel and re-arms the
// presence announcement of channels that already hold one. It returns the
// number of NPCs spawned.
func (l *Lifecycle) Bootstrap(ctx context.Context) (int, error) {
	spawned := 0
	for _, res := range l.Locations.SpawnChannels() {
		id := res.ID()
		_, err := l.Store.NPC(ctx, id)
		switch {
		case err == nil:
			l.Scheduler.ScheduleOnce(PresenceKey(id), l.PresenceInterval, func() { l.announce(id) })
			continue
		case !errors.Is(err, storage.ErrNotFound):
			return spawned, fmt.Errorf("npc: bootstrap lookup %s: %w", id, err)
		}
		_, ok, err := l.Spawn(ctx, id)
		if err != nil {
			return spawned, err
		}
		if ok {
			spawned++
		}
	}
	l.Logger.Info("npc bootstrap complete", zap.Int("spawned", spawned))
	return spawned, nil
}

// SearchResult is the read-only view of a channel.
type SearchResult struct {
	NPC      *model.NPC
	Template *Template
	Ground   []model.ItemInstance
}

// Search reports the NPC present in channelID, if any, and the items lying
// on its ground.
func (l *Lifecycle) Search(ctx context.Context, channelID string) (*SearchResult, error) {
	if _, ok := l.Locations.Resolve(channelID); !ok {
		return nil, game.Invariantf("npc: unknown channel %q", channelID)
	}
	out := &SearchResult{}
	n, err := l.Store.NPC(ctx, channelID)
	switch {
	case err == nil:
		tmpl, err := l.Template(n.TemplateID)
		if err != nil {
			return nil, err
		}
		out.NPC, out.Template = n, tmpl
	case !errors.Is(err, storage.ErrNotFound):
		return nil, fmt.Errorf("npc: searching %s: %w", channelID, err)
	}
	ground, err := l.Store.Ground(ctx, channelID)
	if err != nil {
		return nil, fmt.Errorf("npc: searching ground of %s: %w", channelID, err)
	}
	out.Ground = ground
	return out, nil
}

// Protection returns the armor the NPC wears, as the damage model sees it.
// NPC armor is a template property and never wears down.
func (l *Lifecycle) Protection(t *Template) (armor, helmet *damage.Protection, err error) {
	level := func(name string) (*damage.Protection, error) {
		if name == "" {
			return nil, nil
		}
		it, ok := l.Items.Items().Get(name)
		if !ok {
			return nil, game.Invariantf("npc %q: unknown armor %q", t.ID, name)
		}
		lv, ok := it.ArmorLevel()
		if !ok {
			return nil, game.Invariantf("npc %q: %q is not armor", t.ID, name)
		}
		return &damage.Protection{Level: lv}, nil
	}
	if armor, err = level(t.Armor); err != nil {
		return nil, nil, err
	}
	if helmet, err = level(t.Helmet); err != nil {
		return nil, nil, err
	}
	return armor, helmet, nil
}

// Attack describes how an NPC strikes back.
type Attack struct {
	// Weapon is the weapon template, nil for unarmed NPCs.
	Weapon      *item.Template
	Damage      int
	Penetration float64
	SpreadLimbs int
}

// AttackOf resolves the NPC's attack stats: ranged weapons use their ammo,
// melee and throwable weapons their own stats, unarmed NPCs their base damage.
func (l *Lifecycle) AttackOf(t *Template) (Attack, error) {
	if !t.CarriesWeapon() {
		return Attack{Damage: t.Damage}, nil
	}
	w, ok := l.Items.Items().Get(t.Weapon)
	if !ok {
		return Attack{}, game.Invariantf("npc %q: unknown weapon %q", t.ID, t.Weapon)
	}
	stats, ok := w.Weapon()
	if !ok {
		return Attack{}, game.Invariantf("npc %q: %q is not a weapon", t.ID, t.Weapon)
	}
	a := Attack{Weapon: w, Damage: stats.Damage, Penetration: stats.Penetration, SpreadLimbs: stats.SpreadLimbs}
	if stats.Ranged {
		ammo, ok := l.Items.Items().Get(t.Ammo)
		if !ok {
			return Attack{}, game.Invariantf("npc %q: unknown ammo %q", t.ID, t.Ammo)
		}
		k, ok := ammo.Kind.(item.Ammunition)
		if !ok {
			return Attack{}, game.Invariantf("npc %q: %q is not ammunition", t.ID, t.Ammo)
		}
		a.Damage, a.Penetration, a.SpreadLimbs = k.Damage, k.Penetration, k.SpreadLimbs
	}
	return a, nil
}
