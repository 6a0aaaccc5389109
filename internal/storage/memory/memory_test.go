package memory_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cory-johannsen/raidbot/internal/game/model"
	"github.com/cory-johannsen/raidbot/internal/storage"
	"github.com/cory-johannsen/raidbot/internal/storage/memory"
)

func TestRollbackDiscardsWritesAndHooks(t *testing.T) {
	ctx := context.Background()
	s := memory.New()
	require.NoError(t, s.CreatePlayer(ctx, model.Player{ID: "p1", Health: 100, MaxHealth: 100}))

	fired := false
	err := storage.WithTx(ctx, s, func(tx storage.Tx) error {
		p, err := tx.LockPlayer(ctx, "p1")
		require.NoError(t, err)
		p.Health = 1
		require.NoError(t, tx.UpdatePlayer(ctx, p))
		tx.AfterCommit(func() { fired = true })
		return errors.New("boom")
	})
	require.Error(t, err)
	assert.False(t, fired)

	p, err := s.Player(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, 100, p.Health)
}

func TestCommitRunsHooksInOrder(t *testing.T) {
	ctx := context.Background()
	s := memory.New()
	var order []int
	require.NoError(t, storage.WithTx(ctx, s, func(tx storage.Tx) error {
		tx.AfterCommit(func() { order = append(order, 1) })
		tx.AfterCommit(func() { order = append(order, 2) })
		return nil
	}))
	assert.Equal(t, []int{1, 2}, order)
}

func TestItemDurabilityNeverZero(t *testing.T) {
	ctx := context.Background()
	s := memory.New()
	err := storage.WithTx(ctx, s, func(tx storage.Tx) error {
		return tx.InsertItem(ctx, model.ItemInstance{ID: uuid.New(), Template: "bat", Durability: model.IntPtr(0), Place: model.PlaceBackpack, OwnerID: "p1"})
	})
	assert.Error(t, err)
}

func TestInsertNPC_AtMostOnePerChannel(t *testing.T) {
	ctx := context.Background()
	s := memory.New()
	var wg sync.WaitGroup
	inserted := make(chan bool, 16)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = storage.WithTx(ctx, s, func(tx storage.Tx) error {
				ok, err := tx.InsertNPC(ctx, model.NPC{ChannelID: "i1/red-house", TemplateID: "walker", Health: 10})
				inserted <- ok
				return err
			})
		}()
	}
	wg.Wait()
	close(inserted)
	n := 0
	for ok := range inserted {
		if ok {
			n++
		}
	}
	assert.Equal(t, 1, n)
}

func TestBackpackInInsertionOrder(t *testing.T) {
	ctx := context.Background()
	s := memory.New()
	ids := []uuid.UUID{uuid.New(), uuid.New(), uuid.New()}
	require.NoError(t, storage.WithTx(ctx, s, func(tx storage.Tx) error {
		for _, id := range ids {
			if err := tx.InsertItem(ctx, model.ItemInstance{ID: id, Template: "bandage", Place: model.PlaceBackpack, OwnerID: "p1"}); err != nil {
				return err
			}
		}
		return nil
	}))
	bp, err := s.Backpack(ctx, "p1")
	require.NoError(t, err)
	require.Len(t, bp, 3)
	for i := range ids {
		assert.Equal(t, ids[i], bp[i].ID)
	}
}

func TestSweeps(t *testing.T) {
	ctx := context.Background()
	s := memory.New()
	now := time.Now()
	require.NoError(t, storage.WithTx(ctx, s, func(tx storage.Tx) error {
		require.NoError(t, tx.SetCooldown(ctx, model.Cooldown{PlayerID: "p1", Kind: "attack", ExpiresAt: now.Add(-time.Second)}))
		require.NoError(t, tx.SetCooldown(ctx, model.Cooldown{PlayerID: "p2", Kind: "attack", ExpiresAt: now.Add(time.Minute)}))
		require.NoError(t, tx.InsertItem(ctx, model.ItemInstance{ID: uuid.New(), Template: "old", Place: model.PlaceGround, ChannelID: "c", DroppedAt: now.Add(-30 * time.Minute)}))
		return tx.InsertItem(ctx, model.ItemInstance{ID: uuid.New(), Template: "new", Place: model.PlaceGround, ChannelID: "c", DroppedAt: now})
	}))

	n, err := s.SweepCooldowns(ctx, now)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	n, err = s.SweepGround(ctx, now.Add(-20*time.Minute))
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
	ground, err := s.Ground(ctx, "c")
	require.NoError(t, err)
	require.Len(t, ground, 1)
	assert.Equal(t, "new", ground[0].Template)
}

func TestBeginHonoursContext(t *testing.T) {
	s := memory.New()
	tx, err := s.Begin(context.Background())
	require.NoError(t, err)
	defer func() { _ = tx.Rollback(context.Background()) }()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = s.Begin(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
