// Package model holds the persisted records of the game.
package model

import (
	"time"

	"github.com/google/uuid"
)

// Place is where an ItemInstance lives.
type Place string

const (
	PlaceBackpack Place = "backpack"
	PlaceStash    Place = "stash"
	PlaceGround   Place = "ground"
)

// ItemInstance is a concrete owned item.
//
// Invariant: exactly one of OwnerID (backpack, stash) or ChannelID (ground) is
// set; Durability, when present, is >= 1; Equipped implies PlaceBackpack.
type ItemInstance struct {
	ID         uuid.UUID
	Template   string
	Durability *int
	Place      Place
	OwnerID    string
	ChannelID  string
	Equipped   bool
	DroppedAt  time.Time
}

// Player is the account-scoped mutable state of a player.
type Player struct {
	ID        string
	Health    int
	MaxHealth int
	Level     int
	XP        int
	Money     int
	Kills     int
	NPCKills  int
	BossKills int
	Deaths    int
}

// NPC is the live NPC of a channel.
type NPC struct {
	ChannelID  string
	TemplateID string
	Health     int
	SpawnedAt  time.Time
}

// RaidSession binds a player to a raid instance.
type RaidSession struct {
	ID         uuid.UUID
	PlayerID   string
	LocationID string
	InstanceID string
	StartedAt  time.Time
	ExpiresAt  time.Time
}

// Cooldown gates a repeated action until ExpiresAt.
type Cooldown struct {
	PlayerID  string
	Kind      string
	ExpiresAt time.Time
}

// Active reports whether the cooldown still blocks at now.
func (c Cooldown) Active(now time.Time) bool {
	return now.Before(c.ExpiresAt)
}

// QuestType names what a kill quest counts.
type QuestType string

const (
	QuestNPCKills    QuestType = "npc_kills"
	QuestBossKills   QuestType = "boss_kills"
	QuestPlayerKills QuestType = "player_kills"
	QuestAnyKills    QuestType = "any_kills"
)

// Quest is a player's progress toward a goal.
type Quest struct {
	ID       uuid.UUID
	PlayerID string
	Type     QuestType
	Progress int
	Goal     int
}

// Complete reports whether the goal is reached.
func (q Quest) Complete() bool {
	return q.Progress >= q.Goal
}

// IntPtr returns a pointer to v.
func IntPtr(v int) *int {
	return &v
}
