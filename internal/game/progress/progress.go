// Package progress applies kill credit: xp, kill counters and kill-quest
// progress.
package progress

import (
	"context"
	"fmt"

	"github.com/cory-johannsen/raidbot/internal/game/model"
	"github.com/cory-johannsen/raidbot/internal/storage"
)

// Kill is what was killed.
type Kill int

const (
	KillNPC Kill = iota
	KillBoss
	KillPlayer
)

func (k Kill) String() string {
	switch k {
	case KillNPC:
		return "npc"
	case KillBoss:
		return "boss"
	case KillPlayer:
		return "player"
	}
	return fmt.Sprintf("Kill(%d)", int(k))
}

// PlayerKillXP returns the xp for killing a player carrying victimItems items.
func PlayerKillXP(victimItems int) int {
	return 15 + 10*victimItems
}

// Counts reports whether a quest of type qt advances on kill k.
func Counts(qt model.QuestType, k Kill) bool {
	switch qt {
	case model.QuestAnyKills:
		return true
	case model.QuestNPCKills:
		return k == KillNPC || k == KillBoss
	case model.QuestBossKills:
		return k == KillBoss
	case model.QuestPlayerKills:
		return k == KillPlayer
	}
	return false
}

// Outcome summarizes a Credit call.
type Outcome struct {
	XP       int
	Advanced []model.Quest
	// Completed lists quests whose goal was reached by this kill.
	Completed []model.Quest
}

// Credit awards a kill to killer: xp, the counter of the kill's kind, and one
// step of every unfinished matching quest. A boss kill raises only the boss
// counter, though it still advances npc kill quests.
//
// Precondition: killer and quests were locked by tx, before any shared row.
// Postcondition: killer is persisted with the new totals.
func Credit(ctx context.Context, tx storage.Tx, killer *model.Player, quests []model.Quest, kill Kill, xp int) (Outcome, error) {
	out := Outcome{XP: xp}
	killer.XP += xp
	switch kill {
	case KillBoss:
		killer.BossKills++
	case KillNPC:
		killer.NPCKills++
	case KillPlayer:
		killer.Kills++
	}
	if err := tx.UpdatePlayer(ctx, killer); err != nil {
		return Outcome{}, fmt.Errorf("progress: crediting %s: %w", killer.ID, err)
	}
	for _, q := range quests {
		if q.Complete() || !Counts(q.Type, kill) {
			continue
		}
		q.Progress++
		if err := tx.UpdateQuest(ctx, q); err != nil {
			return Outcome{}, fmt.Errorf("progress: advancing quest %s: %w", q.ID, err)
		}
		out.Advanced = append(out.Advanced, q)
		if q.Complete() {
			out.Completed = append(out.Completed, q)
		}
	}
	return out, nil
}

// Died records a death on victim and restores its health.
//
// Precondition: victim was locked by tx.
func Died(ctx context.Context, tx storage.Tx, victim *model.Player) error {
	victim.Deaths++
	victim.Health = victim.MaxHealth
	if err := tx.UpdatePlayer(ctx, victim); err != nil {
		return fmt.Errorf("progress: recording death of %s: %w", victim.ID, err)
	}
	return nil
}
