package raid_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/cory-johannsen/raidbot/internal/game"
	"github.com/cory-johannsen/raidbot/internal/game/inventory"
	"github.com/cory-johannsen/raidbot/internal/game/model"
	"github.com/cory-johannsen/raidbot/internal/game/raid"
	"github.com/cory-johannsen/raidbot/internal/game/schedule"
	"github.com/cory-johannsen/raidbot/internal/notify"
	"github.com/cory-johannsen/raidbot/internal/storage"
	"github.com/cory-johannsen/raidbot/internal/storage/memory"
	"github.com/cory-johannsen/raidbot/internal/testutil"
)

var start = time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

type env struct {
	ctx   context.Context
	store *memory.Store
	sched *schedule.Manual
	rec   *notify.Recorder
	mut   *inventory.Mutator
	m     *raid.Manager
}

func newEnv(t *testing.T) *env {
	t.Helper()
	content := testutil.NewContent(t)
	e := &env{
		ctx:   context.Background(),
		store: memory.New(),
		sched: schedule.NewManual(start),
		rec:   notify.NewRecorder(),
	}
	e.mut = inventory.NewMutator(content.Items, zap.NewNop())
	e.mut.SetClock(e.sched.Now)
	e.m = raid.NewManager(raid.Deps{
		Store:     e.store,
		Locations: content.Locations,
		Items:     e.mut,
		Scheduler: e.sched,
		Notifier:  notify.NewNotifier(e.rec),
		Logger:    zap.NewNop(),
		Now:       e.sched.Now,
	})
	return e
}

func (e *env) player(t *testing.T, id string, level int) {
	t.Helper()
	require.NoError(t, e.store.CreatePlayer(e.ctx, model.Player{ID: id, Health: 100, MaxHealth: 100, Level: level}))
}

func (e *env) join(t *testing.T, id string) *model.RaidSession {
	t.Helper()
	rs, err := e.m.Join(e.ctx, id, "suburbs")
	require.NoError(t, err)
	return rs
}

func (e *env) give(t *testing.T, id, tmpl string, durability *int) model.ItemInstance {
	t.Helper()
	var it model.ItemInstance
	require.NoError(t, storage.WithTx(e.ctx, e.store, func(tx storage.Tx) error {
		var err error
		it, err = e.mut.Create(e.ctx, tx, tmpl, durability, inventory.InBackpack(id))
		return err
	}))
	return it
}

func (e *env) backpack(t *testing.T, id string) []model.ItemInstance {
	t.Helper()
	bp, err := e.store.Backpack(e.ctx, id)
	require.NoError(t, err)
	return bp
}

func (e *env) inRaid(t *testing.T, id string) bool {
	t.Helper()
	_, err := e.store.Session(e.ctx, id)
	if err == nil {
		return true
	}
	require.ErrorIs(t, err, storage.ErrNotFound)
	return false
}

func requireRejection(t *testing.T, err error, code game.Code, retryable bool) {
	t.Helper()
	require.Error(t, err)
	r, ok := game.AsRejection(err)
	require.True(t, ok, "expected a rejection, got %v", err)
	assert.Equal(t, code, r.Code)
	assert.Equal(t, retryable, r.Retryable)
}

func TestJoin_CreatesSessionAndArmsExpiry(t *testing.T) {
	e := newEnv(t)
	e.player(t, "alice", 1)

	rs := e.join(t, "alice")
	assert.Equal(t, "sub1", rs.InstanceID)
	assert.Equal(t, "suburbs", rs.LocationID)
	assert.Equal(t, start, rs.StartedAt)
	assert.Equal(t, start.Add(1800*time.Second), rs.ExpiresAt)

	due, ok := e.sched.Due(raid.ExpiryKey("alice"))
	require.True(t, ok)
	assert.Equal(t, rs.ExpiresAt, due)

	invites := e.rec.OfKind(notify.KindInvite)
	require.Len(t, invites, 1)
	assert.Equal(t, "alice", invites[0].PlayerID)
	assert.Equal(t, "sub1", invites[0].InstanceID)
}

func TestJoin_Rejections(t *testing.T) {
	e := newEnv(t)
	e.player(t, "alice", 1)
	e.join(t, "alice")

	_, err := e.m.Join(e.ctx, "alice", "suburbs")
	requireRejection(t, err, game.CodeAlreadyInRaid, false)

	e.player(t, "bob", 1)
	_, err = e.m.Join(e.ctx, "bob", "moon-base")
	requireRejection(t, err, game.CodeUnknownLocation, false)

	_, err = e.m.Join(e.ctx, "bob", "farm")
	requireRejection(t, err, game.CodeLevelTooLow, false)
	assert.False(t, e.inRaid(t, "bob"))

	e.player(t, "carol", 5)
	rs, err := e.m.Join(e.ctx, "carol", "farm")
	require.NoError(t, err)
	assert.Equal(t, "farm1", rs.InstanceID)
}

func TestJoin_UnknownPlayerIsRejected(t *testing.T) {
	e := newEnv(t)
	_, err := e.m.Join(e.ctx, "ghost", "suburbs")
	requireRejection(t, err, game.CodeNotInRaid, false)
	assert.False(t, e.sched.Pending(raid.ExpiryKey("ghost")))
	assert.Empty(t, e.rec.Events())
}

func TestJoin_FillsInstancesInOrder(t *testing.T) {
	e := newEnv(t)
	// An instance admits players while its count does not exceed the limit,
	// so each suburbs instance holds three.
	want := []string{"sub1", "sub1", "sub1", "sub2", "sub2", "sub2"}
	for i, instance := range want {
		id := fmt.Sprintf("p%d", i)
		e.player(t, id, 1)
		assert.Equal(t, instance, e.join(t, id).InstanceID, "player %s", id)
	}

	e.player(t, "late", 1)
	_, err := e.m.Join(e.ctx, "late", "suburbs")
	requireRejection(t, err, game.CodeRaidFull, false)
	assert.Len(t, e.rec.OfKind(notify.KindInvite), len(want))
}

func TestExpiry_ForfeitsBackpackAndKicks(t *testing.T) {
	e := newEnv(t)
	e.player(t, "alice", 1)
	e.join(t, "alice")
	e.give(t, "alice", "gold_watch", nil)
	e.give(t, "alice", "bandage", nil)

	e.sched.Advance(1799 * time.Second)
	assert.True(t, e.inRaid(t, "alice"))

	e.sched.Advance(time.Second)
	assert.False(t, e.inRaid(t, "alice"))
	assert.Empty(t, e.backpack(t, "alice"))

	dms := e.rec.OfKind(notify.KindDirect)
	require.Len(t, dms, 1)
	assert.Equal(t, "Raid time ran out. You lost the 2 items in your backpack.", dms[0].Message)
	kicks := e.rec.OfKind(notify.KindKick)
	require.Len(t, kicks, 1)
	assert.Equal(t, "sub1", kicks[0].InstanceID)
	assert.Equal(t, "raid time ran out", kicks[0].Message)
}

func TestExpiry_StaleSessionIsIgnored(t *testing.T) {
	e := newEnv(t)
	e.player(t, "alice", 1)
	e.give(t, "alice", "gold_watch", nil)
	rs := e.join(t, "alice")

	require.NoError(t, e.m.ExpireSession(e.ctx, "alice", uuid.New()))
	assert.True(t, e.inRaid(t, "alice"))
	assert.Len(t, e.backpack(t, "alice"), 1)

	require.NoError(t, e.m.ExpireSession(e.ctx, "alice", rs.ID))
	assert.False(t, e.inRaid(t, "alice"))
	require.NoError(t, e.m.ExpireSession(e.ctx, "alice", rs.ID))
	assert.Len(t, e.rec.OfKind(notify.KindKick), 1)
}

func TestRestore_RearmsExpiry(t *testing.T) {
	e := newEnv(t)
	e.player(t, "alice", 1)
	e.player(t, "bob", 1)
	require.NoError(t, storage.WithTx(e.ctx, e.store, func(tx storage.Tx) error {
		for _, rs := range []model.RaidSession{
			{ID: uuid.New(), PlayerID: "alice", LocationID: "suburbs", InstanceID: "sub1", StartedAt: start.Add(-time.Hour), ExpiresAt: start.Add(-time.Minute)},
			{ID: uuid.New(), PlayerID: "bob", LocationID: "suburbs", InstanceID: "sub1", StartedAt: start, ExpiresAt: start.Add(10 * time.Minute)},
		} {
			if err := tx.InsertSession(e.ctx, rs); err != nil {
				return err
			}
		}
		return nil
	}))

	n, err := e.m.Restore(e.ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	due, ok := e.sched.Due(raid.ExpiryKey("bob"))
	require.True(t, ok)
	assert.Equal(t, start.Add(10*time.Minute), due)

	e.sched.Advance(0)
	assert.False(t, e.inRaid(t, "alice"), "a past deadline expires at once")
	assert.True(t, e.inRaid(t, "bob"))
}

func TestForget_CancelsTimers(t *testing.T) {
	e := newEnv(t)
	e.player(t, "alice", 1)
	e.join(t, "alice")
	_, err := e.m.Evacuate(e.ctx, "alice", "sub1/bus-stop", raid.AutoConfirm)
	require.NoError(t, err)

	e.m.Forget("alice")
	assert.False(t, e.sched.Pending(raid.ExpiryKey("alice")))
	for _, s := range []raid.Stage{raid.StageOne, raid.StageTwo, raid.StageExtract} {
		assert.False(t, e.sched.Pending(raid.EvacKey("alice", s)), "stage %s", s)
	}
	assert.Zero(t, e.m.Evacs().Len())
}
