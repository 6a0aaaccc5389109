// Package inventory applies item mutations inside an open transaction:
// durability wear, creation, consumption, and moves between backpack and
// ground.
package inventory

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/cory-johannsen/raidbot/internal/game"
	"github.com/cory-johannsen/raidbot/internal/game/dice"
	"github.com/cory-johannsen/raidbot/internal/game/item"
	"github.com/cory-johannsen/raidbot/internal/game/model"
	"github.com/cory-johannsen/raidbot/internal/storage"
)

// Placement says where a new item goes.
type Placement struct {
	Place     model.Place
	OwnerID   string
	ChannelID string
}

// InBackpack places an item in a player's backpack.
func InBackpack(playerID string) Placement {
	return Placement{Place: model.PlaceBackpack, OwnerID: playerID}
}

// OnGround places an item on a channel's ground pile.
func OnGround(channelID string) Placement {
	return Placement{Place: model.PlaceGround, ChannelID: channelID}
}

// WearResult reports the outcome of Wear.
type WearResult struct {
	Remaining int
	// Broken is set when the item reached zero durability and was deleted.
	Broken bool
}

// Mutator applies item mutations. It holds no state of its own; every call
// works through the supplied transaction.
type Mutator struct {
	items  *item.Registry
	logger *zap.Logger
	now    func() time.Time
}

// NewMutator returns a Mutator resolving templates from items.
//
// Precondition: items and logger must be non-nil.
func NewMutator(items *item.Registry, logger *zap.Logger) *Mutator {
	return &Mutator{items: items, logger: logger, now: time.Now}
}

// SetClock replaces the clock used for ground timestamps.
func (m *Mutator) SetClock(now func() time.Time) {
	m.now = now
}

// Items returns the template registry.
func (m *Mutator) Items() *item.Registry {
	return m.items
}

// Wear removes amount durability from it, deleting it when nothing remains.
// Items without tracked durability are deleted outright.
//
// Precondition: amount >= 1; it is locked by tx.
// Postcondition: durability is never persisted at or below zero.
func (m *Mutator) Wear(ctx context.Context, tx storage.Tx, it model.ItemInstance, amount int) (WearResult, error) {
	if it.Durability == nil || *it.Durability-amount <= 0 {
		if err := tx.DeleteItem(ctx, it.ID); err != nil {
			return WearResult{}, fmt.Errorf("inventory: wearing out %s: %w", it.Template, err)
		}
		m.logger.Debug("item broke",
			zap.String("item", it.ID.String()),
			zap.String("template", it.Template),
		)
		return WearResult{Broken: true}, nil
	}
	left := *it.Durability - amount
	it.Durability = model.IntPtr(left)
	if err := tx.UpdateItem(ctx, it); err != nil {
		return WearResult{}, fmt.Errorf("inventory: wearing %s: %w", it.Template, err)
	}
	return WearResult{Remaining: left}, nil
}

// Consume deletes it.
func (m *Mutator) Consume(ctx context.Context, tx storage.Tx, it model.ItemInstance) error {
	if err := tx.DeleteItem(ctx, it.ID); err != nil {
		return fmt.Errorf("inventory: consuming %s: %w", it.Template, err)
	}
	return nil
}

// Create materializes a new instance of templateName at p. A nil durability
// means full durability for templates that track it.
//
// Precondition: durability, when given, is >= 1.
// Postcondition: returns a game.ErrInvariant error for an unknown template.
func (m *Mutator) Create(ctx context.Context, tx storage.Tx, templateName string, durability *int, p Placement) (model.ItemInstance, error) {
	tmpl, ok := m.items.Get(templateName)
	if !ok {
		return model.ItemInstance{}, game.Invariantf("inventory: unknown item template %q", templateName)
	}
	if max, tracked := tmpl.MaxDurability(); tracked {
		if durability == nil {
			durability = model.IntPtr(max)
		}
	} else {
		durability = nil
	}
	it := model.ItemInstance{
		ID:         uuid.New(),
		Template:   tmpl.Name,
		Durability: durability,
		Place:      p.Place,
		OwnerID:    p.OwnerID,
		ChannelID:  p.ChannelID,
	}
	if p.Place == model.PlaceGround {
		it.DroppedAt = m.now()
	}
	if err := tx.InsertItem(ctx, it); err != nil {
		return model.ItemInstance{}, fmt.Errorf("inventory: creating %s: %w", templateName, err)
	}
	return it, nil
}

// SpillBackpack moves every backpack item of playerID to the ground of
// channelID, unequipping them.
//
// Precondition: the backpack is locked by tx.
// Postcondition: the backpack is empty; the moved items are returned.
func (m *Mutator) SpillBackpack(ctx context.Context, tx storage.Tx, backpack []model.ItemInstance, channelID string) ([]model.ItemInstance, error) {
	now := m.now()
	moved := make([]model.ItemInstance, 0, len(backpack))
	for _, it := range backpack {
		it.Place = model.PlaceGround
		it.OwnerID = ""
		it.ChannelID = channelID
		it.Equipped = false
		it.DroppedAt = now
		if err := tx.UpdateItem(ctx, it); err != nil {
			return nil, fmt.Errorf("inventory: dropping %s: %w", it.Template, err)
		}
		moved = append(moved, it)
	}
	return moved, nil
}

// Forfeit deletes every backpack item of playerID.
func (m *Mutator) Forfeit(ctx context.Context, tx storage.Tx, playerID string) (int64, error) {
	n, err := tx.DeleteBackpack(ctx, playerID)
	if err != nil {
		return 0, fmt.Errorf("inventory: forfeiting backpack of %s: %w", playerID, err)
	}
	return n, nil
}

// RandomDurability returns a partial durability uniform in
// [max(1, max/4), max].
//
// Precondition: max >= 1.
func RandomDurability(src dice.Source, max int) int {
	lo := max / 4
	if lo < 1 {
		lo = 1
	}
	return dice.Between(src, lo, max)
}
