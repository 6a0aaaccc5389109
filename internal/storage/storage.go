// Package storage defines the transactional store the game engine runs on.
//
// Lock order: every transaction locks player rows first (when two players are
// involved both are locked in ascending id order by one LockPlayers call), then
// per-player rows (session, cooldown, backpack, quests), then shared rows (NPC,
// ground pile, raid instance). Locks are held until Commit or Rollback.
package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/cory-johannsen/raidbot/internal/game/model"
)

var (
	// ErrNotFound is returned when a requested row does not exist.
	ErrNotFound = errors.New("storage: not found")
	// ErrConflict is returned when the store aborted a transaction because of
	// a concurrent writer (deadlock, serialization failure, unique violation).
	ErrConflict = errors.New("storage: conflict")
)

// Reader performs non-locking reads of committed state.
type Reader interface {
	Player(ctx context.Context, id string) (*model.Player, error)
	Session(ctx context.Context, playerID string) (*model.RaidSession, error)
	Sessions(ctx context.Context) ([]model.RaidSession, error)
	Backpack(ctx context.Context, playerID string) ([]model.ItemInstance, error)
	NPC(ctx context.Context, channelID string) (*model.NPC, error)
	Ground(ctx context.Context, channelID string) ([]model.ItemInstance, error)
}

// Store is the transactional store.
type Store interface {
	Reader
	// Begin opens a transaction.
	Begin(ctx context.Context) (Tx, error)
	// CreatePlayer inserts a new player; ErrConflict if the id exists.
	CreatePlayer(ctx context.Context, p model.Player) error
	// SweepCooldowns deletes cooldowns expired before now.
	SweepCooldowns(ctx context.Context, now time.Time) (int64, error)
	// SweepGround deletes ground items dropped before cutoff.
	SweepGround(ctx context.Context, cutoff time.Time) (int64, error)
	Close()
}

// Tx is an open transaction. Lock* methods read a row and hold its lock until
// the transaction ends.
type Tx interface {
	LockPlayer(ctx context.Context, id string) (*model.Player, error)
	// LockPlayers locks every listed player in ascending id order.
	LockPlayers(ctx context.Context, ids ...string) (map[string]*model.Player, error)
	LockSession(ctx context.Context, playerID string) (*model.RaidSession, error)
	LockCooldown(ctx context.Context, playerID, kind string) (*model.Cooldown, error)
	LockBackpack(ctx context.Context, playerID string) ([]model.ItemInstance, error)
	LockQuests(ctx context.Context, playerID string) ([]model.Quest, error)
	LockNPC(ctx context.Context, channelID string) (*model.NPC, error)
	// LockInstance serializes membership changes of one raid instance.
	LockInstance(ctx context.Context, instanceID string) error

	UpdatePlayer(ctx context.Context, p *model.Player) error
	SetCooldown(ctx context.Context, c model.Cooldown) error
	UpdateQuest(ctx context.Context, q model.Quest) error

	InsertItem(ctx context.Context, it model.ItemInstance) error
	UpdateItem(ctx context.Context, it model.ItemInstance) error
	DeleteItem(ctx context.Context, id uuid.UUID) error
	// DeleteBackpack deletes every backpack item of the player.
	DeleteBackpack(ctx context.Context, playerID string) (int64, error)

	// InsertNPC inserts n unless the channel already holds an NPC. It reports
	// whether the row was inserted.
	InsertNPC(ctx context.Context, n model.NPC) (bool, error)
	UpdateNPC(ctx context.Context, n model.NPC) error
	DeleteNPC(ctx context.Context, channelID string) error

	InsertSession(ctx context.Context, s model.RaidSession) error
	DeleteSession(ctx context.Context, playerID string) error
	CountMembers(ctx context.Context, instanceID string) (int, error)

	// AfterCommit registers fn to run after a successful Commit, in
	// registration order. It is discarded on Rollback.
	AfterCommit(fn func())
	Commit(ctx context.Context) error
	// Rollback aborts the transaction. It is a no-op after Commit.
	Rollback(ctx context.Context) error
}

// WithTx runs fn inside a transaction, committing when fn returns nil and
// rolling back otherwise.
//
// Postcondition: the AfterCommit hooks registered by fn have run iff the
// returned error is nil.
func WithTx(ctx context.Context, s Store, fn func(Tx) error) error {
	tx, err := s.Begin(ctx)
	if err != nil {
		return fmt.Errorf("storage: begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()
	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// Hooks collects AfterCommit callbacks. Store implementations embed it.
type Hooks struct {
	fns []func()
}

// AfterCommit appends fn.
func (h *Hooks) AfterCommit(fn func()) {
	h.fns = append(h.fns, fn)
}

// Fire runs and clears the collected callbacks.
func (h *Hooks) Fire() {
	fns := h.fns
	h.fns = nil
	for _, fn := range fns {
		fn()
	}
}

// Discard clears the collected callbacks without running them.
func (h *Hooks) Discard() {
	h.fns = nil
}
