package combat_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/cory-johannsen/raidbot/internal/game"
	"github.com/cory-johannsen/raidbot/internal/game/combat"
	"github.com/cory-johannsen/raidbot/internal/game/damage"
	"github.com/cory-johannsen/raidbot/internal/game/dice"
	"github.com/cory-johannsen/raidbot/internal/game/inventory"
	"github.com/cory-johannsen/raidbot/internal/game/model"
	"github.com/cory-johannsen/raidbot/internal/game/npc"
	"github.com/cory-johannsen/raidbot/internal/game/schedule"
	"github.com/cory-johannsen/raidbot/internal/notify"
	"github.com/cory-johannsen/raidbot/internal/scripting"
	"github.com/cory-johannsen/raidbot/internal/storage"
	"github.com/cory-johannsen/raidbot/internal/storage/memory"
	"github.com/cory-johannsen/raidbot/internal/testutil"
)

var start = time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

type forgetful struct {
	mu     sync.Mutex
	forgot []string
}

func (f *forgetful) Forget(playerID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.forgot = append(f.forgot, playerID)
}

type flatBonus int

func (b flatBonus) KillBonus(string, scripting.Kill) int { return int(b) }

// racingStore runs before ahead of the second transaction it opens, so a
// concurrent writer can change state between the read pass and the attack.
type racingStore struct {
	*memory.Store
	mu     sync.Mutex
	begins int
	before func()
}

func (s *racingStore) Begin(ctx context.Context) (storage.Tx, error) {
	s.mu.Lock()
	s.begins++
	run := s.begins == 2 && s.before != nil
	s.mu.Unlock()
	if run {
		s.before()
	}
	return s.Store.Begin(ctx)
}

type env struct {
	ctx   context.Context
	store *memory.Store
	sched *schedule.Manual
	rec   *notify.Recorder
	mut   *inventory.Mutator
	life  *npc.Lifecycle
	raids *forgetful
	orch  *combat.Orchestrator
}

// newEnv wires an Orchestrator over a memory store. Every draw returns 0:
// targeted attacks are accurate, untargeted ones land on the head, loot rolls
// select the rare tier and respawns take the shortest delay.
func newEnv(t *testing.T) *env {
	t.Helper()
	content := testutil.NewContent(t)
	e := &env{
		ctx:   context.Background(),
		store: memory.New(),
		sched: schedule.NewManual(start),
		rec:   notify.NewRecorder(),
		raids: &forgetful{},
	}
	src := dice.NewSequence(0)
	e.mut = inventory.NewMutator(content.Items, zap.NewNop())
	e.mut.SetClock(e.sched.Now)
	notifier := notify.NewNotifier(e.rec)
	e.life = npc.NewLifecycle(npc.Deps{
		Store:     e.store,
		Templates: content.NPCs,
		Locations: content.Locations,
		Items:     e.mut,
		Scheduler: e.sched,
		Notifier:  notifier,
		Source:    src,
		Logger:    zap.NewNop(),
		Now:       e.sched.Now,
	})
	e.orch = combat.NewOrchestrator(combat.Deps{
		Store:     e.store,
		Locations: content.Locations,
		Items:     e.mut,
		NPCs:      e.life,
		Notifier:  notifier,
		Source:    src,
		Logger:    zap.NewNop(),
		Raids:     e.raids,
		Now:       e.sched.Now,
	})
	return e
}

func (e *env) player(t *testing.T, id string, health int) {
	t.Helper()
	require.NoError(t, e.store.CreatePlayer(e.ctx, model.Player{ID: id, Health: health, MaxHealth: 100, Level: 1}))
}

func (e *env) join(t *testing.T, id, instance string) {
	t.Helper()
	require.NoError(t, storage.WithTx(e.ctx, e.store, func(tx storage.Tx) error {
		return tx.InsertSession(e.ctx, model.RaidSession{
			ID: uuid.New(), PlayerID: id, LocationID: "suburbs", InstanceID: instance,
			StartedAt: start, ExpiresAt: start.Add(30 * time.Minute),
		})
	}))
}

func (e *env) give(t *testing.T, id, tmpl string, durability *int, equipped bool) model.ItemInstance {
	t.Helper()
	var it model.ItemInstance
	require.NoError(t, storage.WithTx(e.ctx, e.store, func(tx storage.Tx) error {
		var err error
		if it, err = e.mut.Create(e.ctx, tx, tmpl, durability, inventory.InBackpack(id)); err != nil {
			return err
		}
		if !equipped {
			return nil
		}
		it.Equipped = true
		return tx.UpdateItem(e.ctx, it)
	}))
	return it
}

func (e *env) spawn(t *testing.T, channelID string) {
	t.Helper()
	_, ok, err := e.life.Spawn(e.ctx, channelID)
	require.NoError(t, err)
	require.True(t, ok)
}

func (e *env) setNPCHealth(t *testing.T, channelID string, health int) {
	t.Helper()
	require.NoError(t, storage.WithTx(e.ctx, e.store, func(tx storage.Tx) error {
		n, err := tx.LockNPC(e.ctx, channelID)
		if err != nil {
			return err
		}
		n.Health = health
		return tx.UpdateNPC(e.ctx, *n)
	}))
}

func (e *env) backpack(t *testing.T, id string) []model.ItemInstance {
	t.Helper()
	bp, err := e.store.Backpack(e.ctx, id)
	require.NoError(t, err)
	return bp
}

func (e *env) get(t *testing.T, id string) *model.Player {
	t.Helper()
	p, err := e.store.Player(e.ctx, id)
	require.NoError(t, err)
	return p
}

func requireRejection(t *testing.T, err error, code game.Code, retryable bool) {
	t.Helper()
	require.Error(t, err)
	r, ok := game.AsRejection(err)
	require.True(t, ok, "expected a rejection, got %v", err)
	assert.Equal(t, code, r.Code)
	assert.Equal(t, retryable, r.Retryable)
}

func TestAttack_WeaponWithOneDurabilityBreaks(t *testing.T) {
	e := newEnv(t)
	e.player(t, "alice", 100)
	e.join(t, "alice", "sub1")
	e.give(t, "alice", "wooden_bat", model.IntPtr(1), true)
	e.spawn(t, "sub1/backyard")

	res, err := e.orch.Attack(e.ctx, combat.Request{ActorID: "alice", ChannelID: "sub1/backyard", Part: damage.PartChest})
	require.NoError(t, err)

	assert.Equal(t, combat.KindNPC, res.Target)
	assert.Equal(t, "walker", res.TargetID)
	assert.True(t, res.Strike.Hit.Accurate)
	assert.Equal(t, damage.PartChest, res.Strike.Hit.Part)
	assert.Equal(t, 20, res.Strike.Hit.Final)
	assert.Equal(t, 40, res.Strike.Health)
	assert.False(t, res.Strike.Killed)
	assert.Equal(t, combat.Wear{Template: "wooden_bat", Broken: true}, res.Weapon)
	assert.Equal(t, 2*time.Second, res.Cooldown)
	assert.Empty(t, e.backpack(t, "alice"), "a broken weapon is deleted")

	n, err := e.store.NPC(e.ctx, "sub1/backyard")
	require.NoError(t, err)
	assert.Equal(t, 40, n.Health)

	require.NotNil(t, res.Retaliation, "a surviving walker strikes back")
	assert.Equal(t, damage.PartHead, res.Retaliation.Strike.Hit.Part)
	assert.Equal(t, 15, res.Retaliation.Strike.Hit.Final)
	assert.Equal(t, 85, e.get(t, "alice").Health)
	assert.Equal(t, "hit", res.Outcome())
}

func TestAttack_LethalHitKillsNPCAndCreditsKiller(t *testing.T) {
	e := newEnv(t)
	e.orch.Bonuses = flatBonus(5)
	e.player(t, "alice", 100)
	e.join(t, "alice", "sub1")
	e.give(t, "alice", "frag_grenade", nil, true)
	e.spawn(t, "sub1/backyard")

	npcQuest := model.Quest{ID: uuid.New(), PlayerID: "alice", Type: model.QuestNPCKills, Goal: 1}
	pvpQuest := model.Quest{ID: uuid.New(), PlayerID: "alice", Type: model.QuestPlayerKills, Goal: 1}
	require.NoError(t, e.store.InsertQuest(e.ctx, npcQuest))
	require.NoError(t, e.store.InsertQuest(e.ctx, pvpQuest))

	res, err := e.orch.Attack(e.ctx, combat.Request{ActorID: "alice", ChannelID: "sub1/backyard", Part: damage.PartHead})
	require.NoError(t, err)

	assert.Equal(t, 90, res.Strike.Hit.Final)
	assert.Len(t, res.Strike.Hit.Limbs, 4)
	assert.True(t, res.Strike.Killed)
	assert.Zero(t, res.Strike.Health)
	assert.True(t, res.Weapon.Broken, "a thrown weapon is used up")
	assert.Nil(t, res.Retaliation)
	assert.Equal(t, "kill", res.Outcome())

	require.NotNil(t, res.Death)
	assert.Len(t, res.Death.Loot, 2)
	assert.Equal(t, 40, res.Death.XP)
	assert.Equal(t, 5, res.Bonus)
	assert.Equal(t, 45, res.Credit.XP)
	require.Len(t, res.Credit.Completed, 1)
	assert.Equal(t, npcQuest.ID, res.Credit.Completed[0].ID)

	alice := e.get(t, "alice")
	assert.Equal(t, 45, alice.XP)
	assert.Equal(t, 1, alice.NPCKills)
	assert.Zero(t, alice.BossKills)

	_, err = e.store.NPC(e.ctx, "sub1/backyard")
	assert.ErrorIs(t, err, storage.ErrNotFound)
	ground, err := e.store.Ground(e.ctx, "sub1/backyard")
	require.NoError(t, err)
	assert.Len(t, ground, 2)
	assert.Empty(t, e.backpack(t, "alice"))

	due, ok := e.sched.Due(npc.RespawnKey("sub1/backyard"))
	require.True(t, ok)
	assert.Equal(t, start.Add(60*time.Second), due)
	assert.False(t, e.sched.Pending(npc.PresenceKey("sub1/backyard")))

	e.sched.Advance(60 * time.Second)
	_, err = e.store.NPC(e.ctx, "sub1/backyard")
	assert.NoError(t, err, "walker respawned")
}

func TestAttack_RangedConsumesBestAmmoAndArmorBlocksNPCShots(t *testing.T) {
	e := newEnv(t)
	e.player(t, "alice", 100)
	e.join(t, "alice", "sub1")
	glock := e.give(t, "alice", "glock-17", model.IntPtr(10), true)
	e.give(t, "alice", "9mm_fmj", nil, false)
	e.give(t, "alice", "9mm_ap", nil, false)
	e.give(t, "alice", "paca", nil, true)
	e.give(t, "alice", "cloth_helmet", nil, true)
	e.spawn(t, "sub1/red-house")

	res, err := e.orch.Attack(e.ctx, combat.Request{ActorID: "alice", ChannelID: "sub1/red-house", Part: damage.PartChest})
	require.NoError(t, err)
	assert.Equal(t, "9mm_ap", res.Ammo)
	assert.Equal(t, 25, res.Strike.Hit.Final, "ap rounds defeat level 2 armor")
	assert.Nil(t, res.Strike.Armor, "npc armor never wears")
	assert.Equal(t, 9, res.Weapon.Remaining)

	require.NotNil(t, res.Retaliation)
	r := res.Retaliation.Strike
	assert.Equal(t, damage.PartHead, r.Hit.Part)
	// fmj 30 * 1.5 = 45 against a level 1 helmet, which 2.5 penetration defeats.
	assert.Equal(t, 45, r.Hit.Final)
	require.NotNil(t, r.Armor)
	assert.Equal(t, "cloth_helmet", r.Armor.Template)
	assert.Equal(t, 9, r.Armor.Remaining)
	assert.Equal(t, 55, e.get(t, "alice").Health)

	names := map[string]int{}
	for _, it := range e.backpack(t, "alice") {
		names[it.Template]++
		if it.ID == glock.ID {
			assert.Equal(t, 9, *it.Durability)
		}
	}
	assert.Equal(t, map[string]int{"glock-17": 1, "9mm_fmj": 1, "paca": 1, "cloth_helmet": 1}, names)
}

func TestAttack_RetaliationKillRunsDeathPathWithoutCredit(t *testing.T) {
	e := newEnv(t)
	e.player(t, "alice", 10)
	e.join(t, "alice", "sub1")
	e.give(t, "alice", "wooden_bat", nil, true)
	e.give(t, "alice", "gold_watch", nil, false)
	e.spawn(t, "sub1/backyard")

	res, err := e.orch.Attack(e.ctx, combat.Request{ActorID: "alice", ChannelID: "sub1/backyard", Part: damage.PartLeg})
	require.NoError(t, err)
	require.NotNil(t, res.Retaliation)
	assert.True(t, res.Retaliation.Strike.Killed)
	assert.Len(t, res.Retaliation.Dropped, 2)

	alice := e.get(t, "alice")
	assert.Equal(t, 1, alice.Deaths)
	assert.Equal(t, 100, alice.Health, "health is restored on death")
	assert.Zero(t, alice.XP)
	_, err = e.store.Session(e.ctx, "alice")
	assert.ErrorIs(t, err, storage.ErrNotFound)
	assert.Empty(t, e.backpack(t, "alice"))
	ground, err := e.store.Ground(e.ctx, "sub1/backyard")
	require.NoError(t, err)
	assert.Len(t, ground, 2)

	assert.Equal(t, []string{"alice"}, e.raids.forgot)
	kicks := e.rec.OfKind(notify.KindKick)
	require.Len(t, kicks, 1)
	assert.Equal(t, "sub1", kicks[0].InstanceID)
	dms := e.rec.OfKind(notify.KindDirect)
	require.Len(t, dms, 1)
	assert.Contains(t, dms[0].Message, "Walker")
}

func TestAttack_PlayerKillSpillsBackpackAndKicksVictim(t *testing.T) {
	e := newEnv(t)
	e.player(t, "alice", 100)
	e.player(t, "bob", 20)
	e.join(t, "alice", "sub1")
	e.join(t, "bob", "sub1")
	e.give(t, "alice", "glock-17", nil, true)
	e.give(t, "alice", "9mm_ap", nil, false)
	e.give(t, "bob", "paca", nil, true)
	e.give(t, "bob", "gold_watch", nil, false)
	require.NoError(t, e.store.InsertQuest(e.ctx, model.Quest{ID: uuid.New(), PlayerID: "alice", Type: model.QuestAnyKills, Goal: 3}))

	res, err := e.orch.Attack(e.ctx, combat.Request{ActorID: "alice", ChannelID: "sub1/road", TargetPlayerID: "bob", Part: damage.PartChest})
	require.NoError(t, err)

	assert.Equal(t, combat.KindPlayer, res.Target)
	assert.True(t, res.Strike.Killed)
	require.NotNil(t, res.Strike.Armor)
	assert.Equal(t, 29, res.Strike.Armor.Remaining)
	require.Len(t, res.Dropped, 2)
	assert.Equal(t, 35, res.Credit.XP)
	require.Len(t, res.Credit.Advanced, 1)
	assert.Equal(t, 1, res.Credit.Advanced[0].Progress)

	alice, bob := e.get(t, "alice"), e.get(t, "bob")
	assert.Equal(t, 1, alice.Kills)
	assert.Equal(t, 35, alice.XP)
	assert.Equal(t, 1, bob.Deaths)
	assert.Equal(t, 100, bob.Health)
	_, err = e.store.Session(e.ctx, "bob")
	assert.ErrorIs(t, err, storage.ErrNotFound)

	ground, err := e.store.Ground(e.ctx, "sub1/road")
	require.NoError(t, err)
	require.Len(t, ground, 2)
	for _, it := range ground {
		assert.False(t, it.Equipped)
		if it.Template == "paca" {
			assert.Equal(t, 29, *it.Durability)
		}
	}

	assert.Equal(t, []string{"bob"}, e.raids.forgot)
	require.Len(t, e.rec.OfKind(notify.KindKick), 1)
	assert.Equal(t, "bob", e.rec.OfKind(notify.KindKick)[0].PlayerID)
	msgs := e.rec.OfKind(notify.KindMessage)
	require.NotEmpty(t, msgs)
	assert.Equal(t, "alice killed bob.", msgs[len(msgs)-1].Message)
}

func TestAttack_ValidationRejections(t *testing.T) {
	e := newEnv(t)
	e.player(t, "alice", 100)
	e.player(t, "bob", 100)
	e.player(t, "carol", 100)
	e.player(t, "idle", 100)
	e.join(t, "alice", "sub1")
	e.join(t, "bob", "sub1")
	e.join(t, "carol", "sub2")
	e.spawn(t, "sub1/backyard")

	attack := func(req combat.Request) error {
		_, err := e.orch.Attack(e.ctx, req)
		return err
	}

	requireRejection(t, attack(combat.Request{ActorID: "idle", ChannelID: "sub1/backyard"}), game.CodeNotInRaid, false)
	requireRejection(t, attack(combat.Request{ActorID: "ghost", ChannelID: "sub1/backyard"}), game.CodeNotInRaid, false)
	requireRejection(t, attack(combat.Request{ActorID: "alice", ChannelID: "sub2/backyard"}), game.CodeWrongChannel, false)
	requireRejection(t, attack(combat.Request{ActorID: "alice", ChannelID: "lobby"}), game.CodeWrongChannel, false)
	requireRejection(t, attack(combat.Request{ActorID: "alice", ChannelID: "sub1/backyard"}), game.CodeNoWeapon, false)

	e.give(t, "alice", "glock-17", nil, true)
	requireRejection(t, attack(combat.Request{ActorID: "alice", ChannelID: "sub1/backyard"}), game.CodeNoAmmo, false)

	e.give(t, "alice", "9mm_fmj", nil, false)
	e.give(t, "alice", "9mm_fmj", nil, false)
	requireRejection(t, attack(combat.Request{ActorID: "alice", ChannelID: "sub1/road"}), game.CodeTargetNotFound, false)
	requireRejection(t, attack(combat.Request{ActorID: "alice", ChannelID: "sub1/road", TargetPlayerID: "alice"}), game.CodeSelfTarget, false)
	requireRejection(t, attack(combat.Request{ActorID: "alice", ChannelID: "sub1/road", TargetPlayerID: "carol"}), game.CodeTargetNotFound, false)
	requireRejection(t, attack(combat.Request{ActorID: "alice", ChannelID: "sub1/road", TargetPlayerID: "nobody"}), game.CodeTargetNotFound, false)
	assert.Len(t, e.backpack(t, "alice"), 3, "rejections never mutate")

	require.NoError(t, attack(combat.Request{ActorID: "alice", ChannelID: "sub1/road", TargetPlayerID: "bob", Part: damage.PartArm}))
	err := attack(combat.Request{ActorID: "alice", ChannelID: "sub1/road", TargetPlayerID: "bob"})
	requireRejection(t, err, game.CodeCooldown, false)
	assert.Contains(t, err.Error(), "3s")

	e.sched.Advance(3 * time.Second)
	require.NoError(t, attack(combat.Request{ActorID: "alice", ChannelID: "sub1/road", TargetPlayerID: "bob"}))
}

func TestAttack_TargetGoneAfterReadPassIsRaceLost(t *testing.T) {
	e := newEnv(t)
	e.player(t, "alice", 100)
	e.join(t, "alice", "sub1")
	e.give(t, "alice", "wooden_bat", model.IntPtr(3), true)
	e.spawn(t, "sub1/backyard")

	racing := &racingStore{Store: e.store, before: func() {
		require.NoError(t, e.life.Reset(e.ctx, "sub1/backyard"))
	}}
	e.orch.Store = racing

	_, err := e.orch.Attack(e.ctx, combat.Request{ActorID: "alice", ChannelID: "sub1/backyard", Part: damage.PartChest})
	requireRejection(t, err, game.CodeTargetNotFound, true)

	bp := e.backpack(t, "alice")
	require.Len(t, bp, 1)
	assert.Equal(t, 3, *bp[0].Durability, "a lost race writes nothing")
	assert.Equal(t, 100, e.get(t, "alice").Health)
}

func TestAttack_ConcurrentKillersExactlyOneWins(t *testing.T) {
	e := newEnv(t)
	for _, id := range []string{"alice", "bob"} {
		e.player(t, id, 100)
		e.join(t, id, "sub1")
		e.give(t, id, "frag_grenade", nil, true)
	}
	e.spawn(t, "sub1/backyard")

	var (
		wg    sync.WaitGroup
		mu    sync.Mutex
		kills int
		lost  int
	)
	for _, id := range []string{"alice", "bob"} {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			res, err := e.orch.Attack(e.ctx, combat.Request{ActorID: id, ChannelID: "sub1/backyard", Part: damage.PartHead})
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				r, ok := game.AsRejection(err)
				if assert.True(t, ok) {
					assert.Equal(t, game.CodeTargetNotFound, r.Code)
				}
				lost++
				return
			}
			if res.Strike.Killed {
				kills++
			}
		}(id)
	}
	wg.Wait()
	assert.Equal(t, 1, kills)
	assert.Equal(t, 1, lost)
	ground, err := e.store.Ground(e.ctx, "sub1/backyard")
	require.NoError(t, err)
	assert.Len(t, ground, 2, "loot drops once")
}

func TestAttack_NotificationFailureIsSwallowed(t *testing.T) {
	e := newEnv(t)
	e.player(t, "alice", 100)
	e.join(t, "alice", "sub1")
	e.give(t, "alice", "frag_grenade", nil, true)
	e.spawn(t, "sub1/backyard")
	e.rec.Fail(true)

	res, err := e.orch.Attack(e.ctx, combat.Request{ActorID: "alice", ChannelID: "sub1/backyard", Part: damage.PartHead})
	require.NoError(t, err)
	assert.True(t, res.Strike.Killed)
}
