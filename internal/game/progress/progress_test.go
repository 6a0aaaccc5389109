package progress_test

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cory-johannsen/raidbot/internal/game/model"
	"github.com/cory-johannsen/raidbot/internal/game/progress"
	"github.com/cory-johannsen/raidbot/internal/storage"
	"github.com/cory-johannsen/raidbot/internal/storage/memory"
)

func TestCounts(t *testing.T) {
	assert.True(t, progress.Counts(model.QuestAnyKills, progress.KillPlayer))
	assert.True(t, progress.Counts(model.QuestNPCKills, progress.KillBoss))
	assert.False(t, progress.Counts(model.QuestBossKills, progress.KillNPC))
	assert.False(t, progress.Counts(model.QuestPlayerKills, progress.KillNPC))
	assert.Equal(t, "boss", progress.KillBoss.String())
}

func TestPlayerKillXP(t *testing.T) {
	assert.Equal(t, 15, progress.PlayerKillXP(0))
	assert.Equal(t, 45, progress.PlayerKillXP(3))
}

func TestCredit_BossKill(t *testing.T) {
	ctx := context.Background()
	s := memory.New()
	require.NoError(t, s.CreatePlayer(ctx, model.Player{ID: "alice", Health: 100, MaxHealth: 100, Level: 1}))
	boss := model.Quest{ID: uuid.New(), PlayerID: "alice", Type: model.QuestBossKills, Goal: 1}
	player := model.Quest{ID: uuid.New(), PlayerID: "alice", Type: model.QuestPlayerKills, Goal: 2}
	done := model.Quest{ID: uuid.New(), PlayerID: "alice", Type: model.QuestAnyKills, Progress: 5, Goal: 5}
	for _, q := range []model.Quest{boss, player, done} {
		require.NoError(t, s.InsertQuest(ctx, q))
	}

	var out progress.Outcome
	require.NoError(t, storage.WithTx(ctx, s, func(tx storage.Tx) error {
		p, err := tx.LockPlayer(ctx, "alice")
		require.NoError(t, err)
		qs, err := tx.LockQuests(ctx, "alice")
		require.NoError(t, err)
		out, err = progress.Credit(ctx, tx, p, qs, progress.KillBoss, 120)
		return err
	}))

	p, err := s.Player(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, 120, p.XP)
	assert.Equal(t, 1, p.BossKills)
	assert.Zero(t, p.NPCKills, "a boss kill only counts as a boss kill")
	assert.Zero(t, p.Kills)
	require.Len(t, out.Advanced, 1)
	assert.Equal(t, boss.ID, out.Advanced[0].ID)
	require.Len(t, out.Completed, 1)
}

func TestDied_RestoresHealth(t *testing.T) {
	ctx := context.Background()
	s := memory.New()
	require.NoError(t, s.CreatePlayer(ctx, model.Player{ID: "bob", Health: 3, MaxHealth: 100}))
	require.NoError(t, storage.WithTx(ctx, s, func(tx storage.Tx) error {
		p, err := tx.LockPlayer(ctx, "bob")
		require.NoError(t, err)
		return progress.Died(ctx, tx, p)
	}))
	p, err := s.Player(ctx, "bob")
	require.NoError(t, err)
	assert.Equal(t, 100, p.Health)
	assert.Equal(t, 1, p.Deaths)
}
