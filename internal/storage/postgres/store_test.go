package postgres_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cory-johannsen/raidbot/internal/config"
	"github.com/cory-johannsen/raidbot/internal/game/model"
	"github.com/cory-johannsen/raidbot/internal/storage"
	"github.com/cory-johannsen/raidbot/internal/storage/postgres"
	"github.com/cory-johannsen/raidbot/internal/testutil"
)

func newStore(t *testing.T) *postgres.Store {
	t.Helper()
	if testing.Short() {
		t.Skip("container test skipped in -short mode")
	}
	pc := testutil.NewPostgresContainer(t)
	return postgres.NewStore(pc.Pool)
}

func TestStore_Integration(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	require.NoError(t, s.CreatePlayer(ctx, model.Player{ID: "alice", Health: 100, MaxHealth: 100, Level: 1}))
	require.NoError(t, s.CreatePlayer(ctx, model.Player{ID: "bob", Health: 100, MaxHealth: 100, Level: 1}))
	assert.ErrorIs(t, s.CreatePlayer(ctx, model.Player{ID: "bob", Health: 1, MaxHealth: 1}), storage.ErrConflict)

	t.Run("items round trip with nullable columns", func(t *testing.T) {
		bat := model.ItemInstance{ID: uuid.New(), Template: "wooden_bat", Durability: model.IntPtr(3), Place: model.PlaceBackpack, OwnerID: "alice", Equipped: true}
		ammo := model.ItemInstance{ID: uuid.New(), Template: "9mm_fmj", Place: model.PlaceBackpack, OwnerID: "alice"}
		require.NoError(t, storage.WithTx(ctx, s, func(tx storage.Tx) error {
			if err := tx.InsertItem(ctx, bat); err != nil {
				return err
			}
			return tx.InsertItem(ctx, ammo)
		}))

		bp, err := s.Backpack(ctx, "alice")
		require.NoError(t, err)
		require.Len(t, bp, 2)
		assert.Equal(t, bat.ID, bp[0].ID)
		require.NotNil(t, bp[0].Durability)
		assert.Equal(t, 3, *bp[0].Durability)
		assert.True(t, bp[0].Equipped)
		assert.Nil(t, bp[1].Durability)

		moved := bp[1]
		moved.Place, moved.OwnerID, moved.ChannelID, moved.DroppedAt = model.PlaceGround, "", "i1/red-house", time.Now()
		require.NoError(t, storage.WithTx(ctx, s, func(tx storage.Tx) error { return tx.UpdateItem(ctx, moved) }))
		ground, err := s.Ground(ctx, "i1/red-house")
		require.NoError(t, err)
		require.Len(t, ground, 1)
		assert.Empty(t, ground[0].OwnerID)
	})

	t.Run("durability zero violates the schema", func(t *testing.T) {
		err := storage.WithTx(ctx, s, func(tx storage.Tx) error {
			return tx.InsertItem(ctx, model.ItemInstance{ID: uuid.New(), Template: "x", Durability: model.IntPtr(0), Place: model.PlaceBackpack, OwnerID: "bob"})
		})
		assert.Error(t, err)
	})

	t.Run("rollback discards writes and hooks", func(t *testing.T) {
		fired := false
		_ = storage.WithTx(ctx, s, func(tx storage.Tx) error {
			p, err := tx.LockPlayer(ctx, "bob")
			require.NoError(t, err)
			p.Health = 5
			require.NoError(t, tx.UpdatePlayer(ctx, p))
			tx.AfterCommit(func() { fired = true })
			return assert.AnError
		})
		assert.False(t, fired)
		p, err := s.Player(ctx, "bob")
		require.NoError(t, err)
		assert.Equal(t, 100, p.Health)
	})

	t.Run("lock players ascending", func(t *testing.T) {
		require.NoError(t, storage.WithTx(ctx, s, func(tx storage.Tx) error {
			ps, err := tx.LockPlayers(ctx, "bob", "alice")
			require.NoError(t, err)
			assert.Len(t, ps, 2)
			_, err = tx.LockPlayers(ctx, "alice", "carol")
			assert.ErrorIs(t, err, storage.ErrNotFound)
			return nil
		}))
	})

	t.Run("one npc per channel under concurrency", func(t *testing.T) {
		var wg sync.WaitGroup
		var mu sync.Mutex
		inserted := 0
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_ = storage.WithTx(ctx, s, func(tx storage.Tx) error {
					ok, err := tx.InsertNPC(ctx, model.NPC{ChannelID: "i1/apartments", TemplateID: "raider", Health: 80, SpawnedAt: time.Now()})
					if ok {
						mu.Lock()
						inserted++
						mu.Unlock()
					}
					return err
				})
			}()
		}
		wg.Wait()
		assert.Equal(t, 1, inserted)
		_, err := s.NPC(ctx, "i1/apartments")
		require.NoError(t, err)
	})

	t.Run("sessions and members", func(t *testing.T) {
		now := time.Now().UTC().Truncate(time.Millisecond)
		rs := model.RaidSession{ID: uuid.New(), PlayerID: "alice", LocationID: "suburbs", InstanceID: "i1", StartedAt: now, ExpiresAt: now.Add(time.Minute)}
		require.NoError(t, storage.WithTx(ctx, s, func(tx storage.Tx) error {
			if err := tx.LockInstance(ctx, "i1"); err != nil {
				return err
			}
			return tx.InsertSession(ctx, rs)
		}))
		err := storage.WithTx(ctx, s, func(tx storage.Tx) error {
			return tx.InsertSession(ctx, model.RaidSession{ID: uuid.New(), PlayerID: "alice", LocationID: "suburbs", InstanceID: "i1", StartedAt: now, ExpiresAt: now})
		})
		assert.ErrorIs(t, err, storage.ErrConflict)

		all, err := s.Sessions(ctx)
		require.NoError(t, err)
		require.Len(t, all, 1)
		assert.Equal(t, rs.ID, all[0].ID)

		require.NoError(t, storage.WithTx(ctx, s, func(tx storage.Tx) error {
			n, err := tx.CountMembers(ctx, "i1")
			assert.Equal(t, 1, n)
			return err
		}))
	})

	t.Run("cooldown upsert and sweep", func(t *testing.T) {
		past := time.Now().Add(-time.Minute)
		require.NoError(t, storage.WithTx(ctx, s, func(tx storage.Tx) error {
			if err := tx.SetCooldown(ctx, model.Cooldown{PlayerID: "bob", Kind: "attack", ExpiresAt: time.Now().Add(time.Hour)}); err != nil {
				return err
			}
			return tx.SetCooldown(ctx, model.Cooldown{PlayerID: "bob", Kind: "attack", ExpiresAt: past})
		}))
		n, err := s.SweepCooldowns(ctx, time.Now())
		require.NoError(t, err)
		assert.EqualValues(t, 1, n)
	})

	t.Run("blocked row lock times out as a conflict", func(t *testing.T) {
		holder, err := s.Begin(ctx)
		require.NoError(t, err)
		defer func() { _ = holder.Rollback(ctx) }()
		_, err = holder.LockPlayer(ctx, "alice")
		require.NoError(t, err)

		began := time.Now()
		err = storage.WithTx(ctx, s, func(tx storage.Tx) error {
			_, err := tx.LockPlayer(ctx, "alice")
			return err
		})
		assert.ErrorIs(t, err, storage.ErrConflict)
		assert.Less(t, time.Since(began), 10*time.Second)
	})
}

func TestSessionParams(t *testing.T) {
	params := postgres.SessionParams(config.DatabaseConfig{LockTimeout: 1500 * time.Millisecond})
	assert.Equal(t, map[string]string{"application_name": "raidbot", "lock_timeout": "1500"}, params)

	params = postgres.SessionParams(config.DatabaseConfig{})
	assert.NotContains(t, params, "lock_timeout")
}
